package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestFilterAttributesDropsUnboundedLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("material_category", "cement"),
		attribute.String("group_id", "123"),
		attribute.String("user_id", "u-1"),
		attribute.String("outcome", "approved"),
	)
	assert.Len(t, attrs, 2)
	for _, attr := range attrs {
		assert.NotEqual(t, attribute.Key("group_id"), attr.Key)
		assert.NotEqual(t, attribute.Key("user_id"), attr.Key)
	}
}

func TestNoopMetricsAcceptRecords(t *testing.T) {
	m := NewNoop()
	ctx := context.Background()
	m.RecordJoinRequest(ctx, "cement")
	m.RecordMemberDecision(ctx, "approved")
	m.RecordOrderLine(ctx, "cement", "add")
	m.RecordTransition(ctx, "OPEN", "COLLECTING")

	var nilMetrics *Metrics
	nilMetrics.RecordTransition(ctx, "OPEN", "CANCELLED")
}

func TestSweepMetricsCountRuns(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := ResetSweepMetricsForTest(registry)

	m.IncJobRun("deadline")
	m.IncJobRun("deadline")
	m.IncJobError("deadline")
	m.AddGroupsSwept("deadline", "cancelled", 3)
	m.ObserveJobDuration("deadline", 20*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.jobRuns.WithLabelValues("deadline")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobErrors.WithLabelValues("deadline")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.groupsSwept.WithLabelValues("deadline", "cancelled")))
}
