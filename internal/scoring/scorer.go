package scoring

import (
	"fmt"
	"sort"
	"strings"

	"hireflow/internal/config"
	"hireflow/internal/events"
)

// Weights controls the contribution of each dimension to the overall
// score. They are normalized before use.
type Weights struct {
	Skills     float64
	Experience float64
	Education  float64
	Confidence float64
}

// DefaultWeights is the 40/30/20/10 policy.
var DefaultWeights = Weights{Skills: 0.4, Experience: 0.3, Education: 0.2, Confidence: 0.1}

// WeightsFromConfig converts the configured weights, falling back to
// the default policy when the sum is zero.
func WeightsFromConfig(cfg config.ScoringConfig) Weights {
	w := Weights{
		Skills:     cfg.SkillsWeight,
		Experience: cfg.ExperienceWeight,
		Education:  cfg.EducationWeight,
		Confidence: cfg.ConfidenceWeight,
	}
	if w.Skills+w.Experience+w.Education+w.Confidence <= 0 {
		return DefaultWeights
	}
	return w
}

// Result is a computed match score with its transparent sub-scores.
type Result struct {
	Score           float64
	Breakdown       events.ScoreBreakdown
	Recommendations []string
	MissingSkills   []string
	MatchedSkills   []string
}

// Score computes the deterministic weighted match between a job's
// requirements and a candidate's parsed résumé data. Every output
// value is within [0,100].
func Score(req events.JdDTO, cand events.ResumeDTO, w Weights) Result {
	matched, missing := skillOverlap(req.Skills, cand.Skills)

	skillsScore := 100.0
	if len(req.Skills) > 0 {
		skillsScore = float64(len(matched)) / float64(len(req.Skills)) * 100
	}

	expScore := 100.0
	if req.ExperienceYears > 0 {
		if cand.ExperienceYears < req.ExperienceYears {
			expScore = float64(cand.ExperienceYears) / float64(req.ExperienceYears) * 100
		}
	}

	eduScore := educationMatch(req.Education, cand.Education)
	confidence := completeness(cand)

	total := w.Skills + w.Experience + w.Education + w.Confidence
	overall := (w.Skills*skillsScore + w.Experience*expScore + w.Education*eduScore + w.Confidence*confidence) / total

	breakdown := events.ScoreBreakdown{
		SkillsMatch:     clamp(skillsScore),
		ExperienceMatch: clamp(expScore),
		EducationMatch:  clamp(eduScore),
		OverallFit:      clamp(overall),
		Confidence:      clamp(confidence),
	}

	return Result{
		Score:           breakdown.OverallFit,
		Breakdown:       breakdown,
		Recommendations: recommendations(req, cand, breakdown, missing),
		MissingSkills:   missing,
		MatchedSkills:   matched,
	}
}

func skillOverlap(required, candidate []string) (matched, missing []string) {
	have := make(map[string]struct{}, len(candidate))
	for _, s := range candidate {
		have[normalizeSkill(s)] = struct{}{}
	}
	for _, s := range required {
		key := normalizeSkill(s)
		if key == "" {
			continue
		}
		if _, ok := have[key]; ok {
			matched = append(matched, s)
		} else {
			missing = append(missing, s)
		}
	}
	sort.Strings(matched)
	sort.Strings(missing)
	return matched, missing
}

func normalizeSkill(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Degree ladder used for education comparison. Unknown degrees rank 0.
func degreeRank(degree string) int {
	d := strings.ToLower(degree)
	switch {
	case strings.Contains(d, "phd"), strings.Contains(d, "doctor"):
		return 5
	case strings.Contains(d, "master"), strings.Contains(d, "msc"), strings.Contains(d, "mba"):
		return 4
	case strings.Contains(d, "bachelor"), strings.Contains(d, "bsc"), strings.Contains(d, "degree"):
		return 3
	case strings.Contains(d, "associate"), strings.Contains(d, "diploma"):
		return 2
	case strings.Contains(d, "high school"), strings.Contains(d, "secondary"):
		return 1
	default:
		return 0
	}
}

func educationMatch(required, candidate string) float64 {
	reqRank := degreeRank(required)
	if reqRank == 0 {
		// Nothing demanded, or requirement not understood.
		return 100
	}
	candRank := degreeRank(candidate)
	switch {
	case candRank >= reqRank:
		return 100
	case candRank == reqRank-1:
		return 50
	case candRank > 0:
		return 25
	default:
		return 10
	}
}

// completeness measures how much of the candidate profile the parser
// actually recovered; sparse profiles lower the confidence sub-score.
func completeness(cand events.ResumeDTO) float64 {
	fields := 0
	present := 0
	check := func(ok bool) {
		fields++
		if ok {
			present++
		}
	}
	check(cand.Name != "")
	check(cand.Email != "")
	check(len(cand.Skills) > 0)
	check(cand.ExperienceYears > 0)
	check(cand.Education != "")
	check(len(cand.Positions) > 0)
	return float64(present) / float64(fields) * 100
}

func recommendations(req events.JdDTO, cand events.ResumeDTO, b events.ScoreBreakdown, missing []string) []string {
	var recs []string
	if len(missing) > 0 {
		recs = append(recs, fmt.Sprintf("Probe for experience with: %s", strings.Join(missing, ", ")))
	}
	if req.ExperienceYears > 0 && cand.ExperienceYears < req.ExperienceYears {
		recs = append(recs, fmt.Sprintf("Candidate has %d of %d required years of experience; verify depth of past roles",
			cand.ExperienceYears, req.ExperienceYears))
	}
	if b.EducationMatch < 100 && req.Education != "" {
		recs = append(recs, fmt.Sprintf("Required education %q not confirmed; ask about equivalent qualifications", req.Education))
	}
	if b.Confidence < 50 {
		recs = append(recs, "Parsed profile is sparse; request an updated resume before deciding")
	}
	if len(recs) == 0 {
		recs = append(recs, "Strong match on all dimensions; proceed to interview")
	}
	return recs
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
