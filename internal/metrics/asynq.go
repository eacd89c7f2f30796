package metrics

import (
	"context"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hireflow",
			Subsystem: "pipeline",
			Name:      "events_processed_total",
			Help:      "事件处理总数。",
		},
		[]string{"subject"},
	)

	eventFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hireflow",
			Subsystem: "pipeline",
			Name:      "events_failed_total",
			Help:      "事件处理失败总数（含待重试）。",
		},
		[]string{"subject"},
	)

	eventInProgress = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "hireflow",
			Subsystem: "pipeline",
			Name:      "events_in_progress",
			Help:      "当前正在处理的事件数量。",
		},
		[]string{"subject"},
	)
)

// AsynqMetricsMiddleware 记录事件消费指标，按 subject 维度拆分。
func AsynqMetricsMiddleware() asynq.MiddlewareFunc {
	return func(next asynq.Handler) asynq.Handler {
		return asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
			subject := task.Type()
			eventInProgress.WithLabelValues(subject).Inc()
			defer eventInProgress.WithLabelValues(subject).Dec()

			err := next.ProcessTask(ctx, task)
			if err != nil {
				eventFailedTotal.WithLabelValues(subject).Inc()
			}

			eventProcessedTotal.WithLabelValues(subject).Inc()

			return err
		})
	}
}
