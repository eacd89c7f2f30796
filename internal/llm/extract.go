package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"hireflow/internal/events"
)

// ErrUnprocessable marks input the model cannot produce structured
// output for. Callers must not retry it.
var ErrUnprocessable = errors.New("unprocessable input")

// ExtractJobRequirements derives structured requirements from a
// free-text job description.
func ExtractJobRequirements(ctx context.Context, gen Generator, title, jdText string) (*events.JdDTO, error) {
	jdText = strings.TrimSpace(jdText)
	if jdText == "" {
		return nil, fmt.Errorf("%w: empty job description", ErrUnprocessable)
	}

	prompt := buildJDPrompt(title, jdText)
	raw, err := gen.GenerateText(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var dto events.JdDTO
	if err := json.Unmarshal([]byte(ExtractJSON(raw)), &dto); err != nil {
		return nil, fmt.Errorf("parse jd extraction response: %w", err)
	}
	if len(dto.Skills) == 0 && dto.ExperienceYears == 0 && dto.Education == "" {
		return nil, fmt.Errorf("%w: no requirements recognized", ErrUnprocessable)
	}
	return &dto, nil
}

// ExtractResumeData derives structured candidate data from the raw
// résumé file via the vision model.
func ExtractResumeData(ctx context.Context, gen Generator, fileBytes []byte, mimeType string) (*events.ResumeDTO, error) {
	raw, err := gen.GenerateVision(ctx, resumePrompt, fileBytes, mimeType)
	if err != nil {
		return nil, err
	}

	var dto events.ResumeDTO
	if err := json.Unmarshal([]byte(ExtractJSON(raw)), &dto); err != nil {
		return nil, fmt.Errorf("parse resume extraction response: %w", err)
	}
	if dto.Name == "" && len(dto.Skills) == 0 {
		return nil, fmt.Errorf("%w: no candidate data recognized", ErrUnprocessable)
	}
	return &dto, nil
}

func buildJDPrompt(title, jdText string) string {
	var sb strings.Builder
	sb.WriteString("You are an HR analyst. Extract structured requirements from the job description below.\n\n")
	sb.WriteString(fmt.Sprintf("Title: %s\n\n", title))
	sb.WriteString("Job description:\n")
	sb.WriteString(jdText)
	sb.WriteString("\n\nReturn ONLY a JSON object with this shape:\n")
	sb.WriteString("{\n")
	sb.WriteString(`  "skills": ["<required skill>", ...],` + "\n")
	sb.WriteString(`  "experienceYears": <minimum years of experience, 0 if unspecified>,` + "\n")
	sb.WriteString(`  "experienceLevel": "<junior|mid|senior|lead, empty if unspecified>",` + "\n")
	sb.WriteString(`  "education": "<minimum degree, empty if unspecified>",` + "\n")
	sb.WriteString(`  "responsibilities": ["<main responsibility>", ...]` + "\n")
	sb.WriteString("}\n")
	return sb.String()
}

const resumePrompt = `You are an HR analyst. Extract structured candidate data from the attached resume document.

Return ONLY a JSON object with this shape:
{
  "name": "<candidate full name>",
  "email": "<email, empty if absent>",
  "phone": "<phone, empty if absent>",
  "skills": ["<skill>", ...],
  "experienceYears": <total years of professional experience>,
  "education": "<highest degree>",
  "positions": ["<job title at company>", ...],
  "summary": "<two sentence professional summary>"
}
`

// ExtractJSON strips markdown code fences the model sometimes wraps
// around its JSON output.
func ExtractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")
	return strings.TrimSpace(raw)
}
