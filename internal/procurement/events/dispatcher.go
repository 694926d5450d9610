// Package events delivers committed group events to configured sinks.
package events

import (
	"context"
	"time"

	"github.com/smallbiznis/bulkbuy/internal/procurement/domain"
	"go.uber.org/zap"
)

const publishTimeout = 2 * time.Second

// Dispatcher fans events out to every publisher. Failures are logged and
// never reach the mutation that produced the event.
type Dispatcher struct {
	publishers []domain.Publisher
	log        *zap.Logger
}

func NewDispatcher(log *zap.Logger, publishers ...domain.Publisher) *Dispatcher {
	return &Dispatcher{
		publishers: publishers,
		log:        log.Named("procurement.events"),
	}
}

func (d *Dispatcher) Notify(ctx context.Context, events []domain.Event) {
	if d == nil {
		return
	}
	base := context.WithoutCancel(ctx)
	for _, event := range events {
		for _, p := range d.publishers {
			pubCtx, cancel := context.WithTimeout(base, publishTimeout)
			err := p.Publish(pubCtx, event)
			cancel()
			if err != nil {
				d.log.Warn("failed to publish group event",
					zap.String("event_type", string(event.Type)),
					zap.String("group_id", event.GroupID.String()),
					zap.Error(err),
				)
			}
		}
	}
}

// LogPublisher writes events to the structured log.
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	return &LogPublisher{log: log.Named("procurement.events.log")}
}

func (p *LogPublisher) Publish(_ context.Context, event domain.Event) error {
	fields := []zap.Field{
		zap.String("event_type", string(event.Type)),
		zap.String("group_id", event.GroupID.String()),
		zap.String("actor_id", event.ActorID),
		zap.Time("occurred_at", event.OccurredAt),
	}
	if event.MembershipID != 0 {
		fields = append(fields, zap.String("membership_id", event.MembershipID.String()), zap.String("user_id", event.UserID))
	}
	if event.Decision != "" {
		fields = append(fields, zap.String("decision", string(event.Decision)))
	}
	if event.To != "" {
		fields = append(fields, zap.String("from", string(event.From)), zap.String("to", string(event.To)))
	}
	if event.Reason != "" {
		fields = append(fields, zap.String("reason", event.Reason))
	}
	p.log.Info("group event", fields...)
	return nil
}
