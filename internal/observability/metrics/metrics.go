package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes procurement domain instruments.
type Metrics struct {
	joinRequests    metric.Int64Counter
	memberDecisions metric.Int64Counter
	orderLines      metric.Int64Counter
	transitions     metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return provider.Shutdown(ctx)
			},
		})
	}

	log.Info("metrics initialized",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)
	return provider, nil
}

// New configures the domain instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "bulkbuy"
	}
	meter := provider.Meter(name)

	joinRequests, err := meter.Int64Counter("bulkbuy_join_requests_total")
	if err != nil {
		return nil, err
	}
	memberDecisions, err := meter.Int64Counter("bulkbuy_member_decisions_total")
	if err != nil {
		return nil, err
	}
	orderLines, err := meter.Int64Counter("bulkbuy_order_lines_total")
	if err != nil {
		return nil, err
	}
	transitions, err := meter.Int64Counter("bulkbuy_group_transitions_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		joinRequests:    joinRequests,
		memberDecisions: memberDecisions,
		orderLines:      orderLines,
		transitions:     transitions,
	}, nil
}

// NewNoop returns instruments backed by a no-op provider, for tests and tools.
func NewNoop() *Metrics {
	m, _ := New(Config{}, noop.NewMeterProvider())
	return m
}

func (m *Metrics) RecordJoinRequest(ctx context.Context, category string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("material_category", category))
	m.joinRequests.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordMemberDecision(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", outcome))
	m.memberDecisions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordOrderLine(ctx context.Context, category, action string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("material_category", category),
		attribute.String("action", action),
	)
	m.orderLines.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	)
	m.transitions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// Group and user identifiers are unbounded and never become labels.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"material_category": {},
	"outcome":           {},
	"action":            {},
	"from":              {},
	"to":                {},
	"route":             {},
	"status_code":       {},
	"job":               {},
}

// FilterAttributes drops any attribute whose key is not an allowed label.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		out = append(out, attr)
	}
	return out
}
