package store

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/bulkbuy/internal/procurement/domain"
	"github.com/smallbiznis/bulkbuy/internal/procurement/statistics"
	"gorm.io/gorm"
)

// Tx is the working state of one group mutation. All writes go through it so
// the in-memory snapshot and the database stay in step until commit.
type Tx struct {
	ctx      context.Context
	db       *gorm.DB
	repo     domain.Repository
	node     *snowflake.Node
	now      time.Time
	snapshot domain.Snapshot
	events   []domain.Event
	changed  bool
	outcome  error
}

func (tx *Tx) Now() time.Time {
	return tx.now
}

// Snapshot returns the working state with statistics recomputed.
func (tx *Tx) Snapshot() domain.Snapshot {
	s := tx.snapshot
	s.Statistics = statistics.Project(s)
	return s
}

// Group returns the locked group record. Callers that modify it must call MarkChanged.
func (tx *Tx) Group() *domain.Group {
	return &tx.snapshot.Group
}

func (tx *Tx) MarkChanged() {
	tx.changed = true
}

func (tx *Tx) AddMembership(m *domain.Membership) error {
	if m.ID == 0 {
		m.ID = tx.node.Generate()
	}
	m.GroupID = tx.snapshot.Group.ID
	m.CreatedAt = tx.now
	m.UpdatedAt = tx.now
	if m.JoinedAt.IsZero() {
		m.JoinedAt = tx.now
	}
	if err := tx.repo.InsertMembership(tx.ctx, tx.db, m); err != nil {
		return err
	}
	tx.snapshot.Memberships = append(tx.snapshot.Memberships, *m)
	tx.changed = true
	return nil
}

func (tx *Tx) SaveMembership(m *domain.Membership) error {
	m.UpdatedAt = tx.now
	if err := tx.repo.UpdateMembership(tx.ctx, tx.db, m); err != nil {
		return err
	}
	for i := range tx.snapshot.Memberships {
		if tx.snapshot.Memberships[i].ID == m.ID {
			tx.snapshot.Memberships[i] = *m
		}
	}
	tx.changed = true
	return nil
}

func (tx *Tx) AddOrderLine(l *domain.OrderLine) error {
	if l.ID == 0 {
		l.ID = tx.node.Generate()
	}
	l.GroupID = tx.snapshot.Group.ID
	l.CreatedAt = tx.now
	l.UpdatedAt = tx.now
	if err := tx.repo.InsertOrderLine(tx.ctx, tx.db, l); err != nil {
		return err
	}
	tx.snapshot.OrderLines = append(tx.snapshot.OrderLines, *l)
	tx.changed = true
	return nil
}

func (tx *Tx) SaveOrderLine(l *domain.OrderLine) error {
	l.UpdatedAt = tx.now
	if err := tx.repo.UpdateOrderLine(tx.ctx, tx.db, l); err != nil {
		return err
	}
	for i := range tx.snapshot.OrderLines {
		if tx.snapshot.OrderLines[i].ID == l.ID {
			tx.snapshot.OrderLines[i] = *l
		}
	}
	tx.changed = true
	return nil
}

// Emit queues an event for delivery after commit.
func (tx *Tx) Emit(event domain.Event) {
	event.GroupID = tx.snapshot.Group.ID
	if event.OccurredAt.IsZero() {
		event.OccurredAt = tx.now
	}
	tx.events = append(tx.events, event)
}

// CommitWithError commits the mutation and then reports err to the caller.
// It is for outcomes that change state and still fail the request.
func (tx *Tx) CommitWithError(err error) {
	tx.outcome = err
}
