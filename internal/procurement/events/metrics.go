package events

import (
	"context"

	"github.com/smallbiznis/bulkbuy/internal/observability/metrics"
	"github.com/smallbiznis/bulkbuy/internal/procurement/domain"
)

// MetricsPublisher counts committed lifecycle transitions.
type MetricsPublisher struct {
	metrics *metrics.Metrics
}

func NewMetricsPublisher(m *metrics.Metrics) *MetricsPublisher {
	return &MetricsPublisher{metrics: m}
}

func (p *MetricsPublisher) Publish(ctx context.Context, event domain.Event) error {
	if event.Type == domain.EventGroupTransitioned {
		p.metrics.RecordTransition(ctx, string(event.From), string(event.To))
	}
	return nil
}
