package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

type EventType string

const (
	EventMembershipRequested EventType = "membership.requested"
	EventMembershipDecided   EventType = "membership.decided"
	EventMembershipRemoved   EventType = "membership.removed"
	EventGroupTransitioned   EventType = "group.transitioned"
)

// Event is emitted after a mutation commits. Delivery is best effort.
type Event struct {
	Type         EventType        `json:"type"`
	GroupID      snowflake.ID     `json:"group_id"`
	ActorID      string           `json:"actor_id,omitempty"`
	MembershipID snowflake.ID     `json:"membership_id,omitempty"`
	UserID       string           `json:"user_id,omitempty"`
	Decision     MembershipStatus `json:"decision,omitempty"`
	From         GroupStatus      `json:"from,omitempty"`
	To           GroupStatus      `json:"to,omitempty"`
	Reason       string           `json:"reason,omitempty"`
	OccurredAt   time.Time        `json:"occurred_at"`
}

// Publisher delivers committed events to an outside sink.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}
