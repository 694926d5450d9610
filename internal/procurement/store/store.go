// Package store owns group records and runs every group mutation as one
// serialized, versioned transaction.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/bulkbuy/internal/clock"
	"github.com/smallbiznis/bulkbuy/internal/config"
	"github.com/smallbiznis/bulkbuy/internal/procurement/domain"
	"github.com/smallbiznis/bulkbuy/internal/procurement/statistics"
	"github.com/smallbiznis/bulkbuy/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const leaseKey = "bulkbuy:group-lock:%d"

// Notifier receives events after their mutation has committed.
type Notifier interface {
	Notify(ctx context.Context, events []domain.Event)
}

// MutateFunc applies one mutation. Returning an error rolls everything back.
type MutateFunc func(ctx context.Context, tx *Tx) error

type Params struct {
	fx.In

	DB       *gorm.DB
	Repo     domain.Repository
	Clock    clock.Clock
	Node     *snowflake.Node
	Config   config.Config
	Notifier Notifier
	Log      *zap.Logger
	Lease    *ratelimit.Locker `optional:"true"`
}

type Store struct {
	db       *gorm.DB
	repo     domain.Repository
	clock    clock.Clock
	node     *snowflake.Node
	notifier Notifier
	log      *zap.Logger

	locks   *keyedLocks
	lease   *ratelimit.Locker
	lockCfg config.LockConfig
}

func New(p Params) *Store {
	return &Store{
		db:       p.DB,
		repo:     p.Repo,
		clock:    p.Clock,
		node:     p.Node,
		notifier: p.Notifier,
		log:      p.Log.Named("procurement.store"),
		locks:    newKeyedLocks(),
		lease:    p.Lease,
		lockCfg:  p.Config.Lock,
	}
}

func (s *Store) NewID() snowflake.ID {
	return s.node.Generate()
}

func (s *Store) Now() time.Time {
	return s.clock.Now()
}

// Found creates a group together with its creator membership.
func (s *Store) Found(ctx context.Context, group *domain.Group, creator *domain.Membership) (domain.Snapshot, error) {
	now := s.clock.Now()
	if group.ID == 0 {
		group.ID = s.node.Generate()
	}
	if creator.ID == 0 {
		creator.ID = s.node.Generate()
	}
	group.Version = 1
	group.CreatedAt = now
	group.UpdatedAt = now
	creator.GroupID = group.ID
	creator.JoinedAt = now
	creator.CreatedAt = now
	creator.UpdatedAt = now

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.InsertGroup(ctx, tx, group); err != nil {
			return err
		}
		return s.repo.InsertMembership(ctx, tx, creator)
	})
	if err != nil {
		return domain.Snapshot{}, err
	}
	return s.Snapshot(ctx, group.ID)
}

// Mutate runs fn against the current state of one group. Mutations of the
// same group never interleave: they are serialized in process, across
// processes by a Redis lease when configured, and finally by the row lock
// and version check in the database. The returned snapshot is read after
// commit.
func (s *Store) Mutate(ctx context.Context, groupID snowflake.ID, fn MutateFunc) (domain.Snapshot, error) {
	unlock, err := s.acquire(ctx, groupID)
	if err != nil {
		return domain.Snapshot{}, err
	}

	var work *Tx
	err = s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		tx, err := s.begin(ctx, db, groupID)
		if err != nil {
			return err
		}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		if tx.changed {
			if err := s.bumpVersion(ctx, tx); err != nil {
				return err
			}
		}
		work = tx
		return nil
	})
	if err != nil {
		unlock()
		return domain.Snapshot{}, err
	}

	snapshot, err := s.Snapshot(ctx, groupID)
	unlock()

	if len(work.events) > 0 && s.notifier != nil {
		s.notifier.Notify(ctx, work.events)
	}
	if err != nil {
		return domain.Snapshot{}, err
	}
	return snapshot, work.outcome
}

func (s *Store) begin(ctx context.Context, db *gorm.DB, groupID snowflake.ID) (*Tx, error) {
	group, err := s.repo.FindGroupForUpdate(ctx, db, groupID)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, domain.ErrGroupNotFound
	}
	memberships, err := s.repo.ListMemberships(ctx, db, groupID)
	if err != nil {
		return nil, err
	}
	lines, err := s.repo.ListOrderLines(ctx, db, groupID)
	if err != nil {
		return nil, err
	}

	return &Tx{
		ctx:  ctx,
		db:   db,
		repo: s.repo,
		node: s.node,
		now:  s.clock.Now(),
		snapshot: domain.Snapshot{
			Group:       *group,
			Memberships: memberships,
			OrderLines:  lines,
		},
	}, nil
}

func (s *Store) bumpVersion(ctx context.Context, tx *Tx) error {
	group := &tx.snapshot.Group
	expected := group.Version
	group.Version = expected + 1
	group.UpdatedAt = tx.now

	ok, err := s.repo.UpdateGroupVersioned(ctx, tx.db, group, expected)
	if err != nil {
		return err
	}
	if !ok {
		s.log.Warn("group version moved during mutation",
			zap.String("group_id", group.ID.String()),
			zap.Int64("expected_version", expected),
		)
		return domain.ErrConcurrentUpdate
	}
	return nil
}

// Snapshot reads a group and its records in one transaction.
func (s *Store) Snapshot(ctx context.Context, groupID snowflake.ID) (domain.Snapshot, error) {
	var snapshot domain.Snapshot
	err := s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		group, err := s.repo.FindGroup(ctx, db, groupID)
		if err != nil {
			return err
		}
		if group == nil {
			return domain.ErrGroupNotFound
		}
		memberships, err := s.repo.ListMemberships(ctx, db, groupID)
		if err != nil {
			return err
		}
		lines, err := s.repo.ListOrderLines(ctx, db, groupID)
		if err != nil {
			return err
		}
		snapshot = domain.Snapshot{Group: *group, Memberships: memberships, OrderLines: lines}
		return nil
	})
	if err != nil {
		return domain.Snapshot{}, err
	}
	if err := checkConsistency(snapshot); err != nil {
		s.log.Error("inconsistent group snapshot",
			zap.String("group_id", groupID.String()),
			zap.Error(err),
		)
		return domain.Snapshot{}, err
	}
	snapshot.Statistics = statistics.Project(snapshot)
	return snapshot, nil
}

func checkConsistency(s domain.Snapshot) error {
	members := make(map[snowflake.ID]struct{}, len(s.Memberships))
	for _, m := range s.Memberships {
		members[m.ID] = struct{}{}
	}
	for _, l := range s.OrderLines {
		if _, ok := members[l.MembershipID]; !ok {
			return fmt.Errorf("%w: order line %s has no membership", domain.ErrSnapshotInconsistent, l.ID)
		}
	}
	return nil
}

func (s *Store) acquire(ctx context.Context, groupID snowflake.ID) (func(), error) {
	unlock, err := s.locks.lock(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if s.lease == nil {
		return unlock, nil
	}

	key := fmt.Sprintf(leaseKey, groupID)
	token, err := s.lease.Acquire(ctx, key, s.lockCfg.TTL, s.lockCfg.RetryDelay, s.lockCfg.MaxWait)
	if err != nil {
		unlock()
		if errors.Is(err, ratelimit.ErrLockTimeout) {
			return nil, domain.ErrLockUnavailable
		}
		return nil, err
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := s.lease.Release(releaseCtx, key, token); err != nil {
			s.log.Warn("failed to release group lease", zap.String("group_id", groupID.String()), zap.Error(err))
		}
		unlock()
	}, nil
}
