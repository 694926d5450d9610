package events

import (
	"context"
	"fmt"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/bulkbuy/internal/config"
	"github.com/smallbiznis/bulkbuy/internal/observability/metrics"
	"github.com/smallbiznis/bulkbuy/internal/procurement/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Log       *zap.Logger
	Redis     *redis.Client    `optional:"true"`
	Metrics   *metrics.Metrics `optional:"true"`

	// Extra receives in-process subscribers such as the activity trail.
	Extra []domain.Publisher `group:"procurement_publishers"`
}

// NewFromConfig builds a dispatcher that always logs and additionally
// forwards to the configured sink.
func NewFromConfig(p Params) (*Dispatcher, error) {
	publishers := []domain.Publisher{NewLogPublisher(p.Log), NewMetricsPublisher(p.Metrics)}

	switch p.Config.Events.Sink {
	case "", config.EventSinkLog:
	case config.EventSinkKafka:
		kafka, err := NewKafkaPublisher(p.Config.Kafka.Brokers, p.Config.Kafka.Topic, p.Log)
		if err != nil {
			return nil, err
		}
		p.Lifecycle.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return kafka.Close()
			},
		})
		publishers = append(publishers, kafka)
	case config.EventSinkRedis:
		if p.Redis == nil {
			return nil, fmt.Errorf("events sink %q requires REDIS_ADDR", p.Config.Events.Sink)
		}
		publishers = append(publishers, NewRedisPublisher(p.Redis, p.Config.Events.RedisChannel))
	default:
		return nil, fmt.Errorf("unknown events sink %q", p.Config.Events.Sink)
	}

	publishers = append(publishers, p.Extra...)
	return NewDispatcher(p.Log, publishers...), nil
}
