package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/bulkbuy/internal/clock"
	"github.com/smallbiznis/bulkbuy/internal/config"
	"github.com/smallbiznis/bulkbuy/internal/migration"
	"github.com/smallbiznis/bulkbuy/internal/procurement/domain"
	"github.com/smallbiznis/bulkbuy/internal/procurement/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type collectingNotifier struct {
	mu     sync.Mutex
	events []domain.Event
}

func (n *collectingNotifier) Notify(_ context.Context, events []domain.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, events...)
}

func (n *collectingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

func newTestStore(t *testing.T) (*Store, *gorm.DB, *collectingNotifier) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, migration.AutoMigrate(db))

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	notifier := &collectingNotifier{}

	st := New(Params{
		DB:       db,
		Repo:     repository.Provide(),
		Clock:    clock.NewFakeClock(epoch),
		Node:     node,
		Config:   config.Config{},
		Notifier: notifier,
		Log:      zap.NewNop(),
	})
	return st, db, notifier
}

func foundGroup(t *testing.T, st *Store) domain.Snapshot {
	t.Helper()
	group := &domain.Group{
		Name:               "Roofing sheets",
		Slug:               "roofing-sheets",
		Description:        "Bulk iron sheets",
		MaterialCategory:   "roofing",
		Location:           "Kisumu",
		TargetQuantity:     200,
		TargetPricePerUnit: 12,
		MinParticipants:    1,
		MaxParticipants:    4,
		OrderDeadline:      epoch.Add(72 * time.Hour),
		Status:             domain.GroupStatusOpen,
		CreatorID:          "owner",
		SupplierInfo:       datatypes.NewJSONType[*domain.SupplierInfo](nil),
	}
	creator := &domain.Membership{
		UserID: "owner",
		Role:   domain.RoleCreator,
		Status: domain.MembershipStatusApproved,
	}
	snapshot, err := st.Found(context.Background(), group, creator)
	require.NoError(t, err)
	return snapshot
}

func TestFound(t *testing.T) {
	st, _, _ := newTestStore(t)

	snapshot := foundGroup(t, st)

	assert.NotZero(t, snapshot.Group.ID)
	assert.Equal(t, int64(1), snapshot.Group.Version)
	require.Len(t, snapshot.Memberships, 1)
	assert.Equal(t, snapshot.Group.ID, snapshot.Memberships[0].GroupID)
	assert.Equal(t, 1, snapshot.Statistics.ActiveMembers)
}

func TestMutate_BumpsVersionAndNotifies(t *testing.T) {
	st, _, notifier := newTestStore(t)
	group := foundGroup(t, st)

	snapshot, err := st.Mutate(context.Background(), group.Group.ID, func(ctx context.Context, tx *Tx) error {
		if err := tx.AddMembership(&domain.Membership{UserID: "u1", Role: domain.RoleMember, Status: domain.MembershipStatusPending}); err != nil {
			return err
		}
		tx.Emit(domain.Event{Type: domain.EventMembershipRequested, UserID: "u1"})
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, int64(2), snapshot.Group.Version)
	assert.Len(t, snapshot.Memberships, 2)
	assert.Equal(t, 1, snapshot.Statistics.PendingMembers)
	require.Equal(t, 1, notifier.count())
	assert.Equal(t, group.Group.ID, notifier.events[0].GroupID)
	assert.Equal(t, epoch, notifier.events[0].OccurredAt)
}

func TestMutate_TimestampsFollowClock(t *testing.T) {
	st, db, _ := newTestStore(t)
	group := foundGroup(t, st)

	_, err := st.Mutate(context.Background(), group.Group.ID, func(ctx context.Context, tx *Tx) error {
		creator := tx.Snapshot().Memberships[0]
		creator.Message = "pooling for two sites"
		return tx.SaveMembership(&creator)
	})
	require.NoError(t, err)

	var stored domain.Group
	require.NoError(t, db.Where("id = ?", group.Group.ID).Take(&stored).Error)
	assert.Equal(t, int64(2), stored.Version)
	assert.WithinDuration(t, epoch, stored.UpdatedAt, time.Second)

	var membership domain.Membership
	require.NoError(t, db.Where("group_id = ?", group.Group.ID).Take(&membership).Error)
	assert.WithinDuration(t, epoch, membership.UpdatedAt, time.Second)
}

func TestMutate_NoChangeKeepsVersion(t *testing.T) {
	st, _, _ := newTestStore(t)
	group := foundGroup(t, st)

	snapshot, err := st.Mutate(context.Background(), group.Group.ID, func(ctx context.Context, tx *Tx) error {
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), snapshot.Group.Version)
}

func TestMutate_ErrorRollsBack(t *testing.T) {
	st, _, notifier := newTestStore(t)
	group := foundGroup(t, st)
	boom := errors.New("boom")

	_, err := st.Mutate(context.Background(), group.Group.ID, func(ctx context.Context, tx *Tx) error {
		if err := tx.AddMembership(&domain.Membership{UserID: "u1", Role: domain.RoleMember, Status: domain.MembershipStatusPending}); err != nil {
			return err
		}
		tx.Emit(domain.Event{Type: domain.EventMembershipRequested})
		return boom
	})
	assert.ErrorIs(t, err, boom)

	snapshot, err := st.Snapshot(context.Background(), group.Group.ID)
	require.NoError(t, err)
	assert.Len(t, snapshot.Memberships, 1)
	assert.Equal(t, int64(1), snapshot.Group.Version)
	assert.Zero(t, notifier.count())
}

func TestMutate_CommitWithError(t *testing.T) {
	st, _, _ := newTestStore(t)
	group := foundGroup(t, st)

	snapshot, err := st.Mutate(context.Background(), group.Group.ID, func(ctx context.Context, tx *Tx) error {
		tx.Group().Status = domain.GroupStatusCancelled
		tx.MarkChanged()
		tx.CommitWithError(domain.ErrQuorumNotMet)
		return nil
	})
	assert.ErrorIs(t, err, domain.ErrQuorumNotMet)
	assert.Equal(t, domain.GroupStatusCancelled, snapshot.Group.Status)
}

func TestMutate_DetectsConcurrentUpdate(t *testing.T) {
	st, _, _ := newTestStore(t)
	group := foundGroup(t, st)

	_, err := st.Mutate(context.Background(), group.Group.ID, func(ctx context.Context, tx *Tx) error {
		// Another writer moves the version underneath this mutation.
		if err := tx.db.Exec("UPDATE procurement_groups SET version = version + 1 WHERE id = ?", group.Group.ID).Error; err != nil {
			return err
		}
		tx.Group().Terms = "net 30"
		tx.MarkChanged()
		return nil
	})
	assert.ErrorIs(t, err, domain.ErrConcurrentUpdate)
	assert.True(t, domain.Retryable(err))

	snapshot, err := st.Snapshot(context.Background(), group.Group.ID)
	require.NoError(t, err)
	assert.Empty(t, snapshot.Group.Terms)
	assert.Equal(t, int64(1), snapshot.Group.Version)
}

func TestMutate_UnknownGroup(t *testing.T) {
	st, _, _ := newTestStore(t)

	_, err := st.Mutate(context.Background(), snowflake.ID(1), func(ctx context.Context, tx *Tx) error {
		t.Fatal("mutation must not run")
		return nil
	})
	assert.ErrorIs(t, err, domain.ErrGroupNotFound)
	assert.Zero(t, st.locks.size())
}

func TestMutate_SerializesSameGroup(t *testing.T) {
	st, _, _ := newTestStore(t)
	group := foundGroup(t, st)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := st.Mutate(context.Background(), group.Group.ID, func(ctx context.Context, tx *Tx) error {
				tx.Group().TargetQuantity++
				tx.MarkChanged()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	snapshot, err := st.Snapshot(context.Background(), group.Group.ID)
	require.NoError(t, err)
	assert.Equal(t, 208.0, snapshot.Group.TargetQuantity)
	assert.Equal(t, int64(9), snapshot.Group.Version)
	assert.Zero(t, st.locks.size())
}

func TestSnapshot_DetectsOrphanLines(t *testing.T) {
	st, db, _ := newTestStore(t)
	group := foundGroup(t, st)

	orphan := domain.OrderLine{
		ID:           snowflake.ID(77),
		GroupID:      group.Group.ID,
		MembershipID: snowflake.ID(999),
		SubmittedBy:  "ghost",
		MaterialName: "Nails",
		Quantity:     1,
		Unit:         "kg",
		Status:       domain.OrderLineStatusProposed,
		CreatedAt:    epoch,
		UpdatedAt:    epoch,
	}
	require.NoError(t, db.Create(&orphan).Error)

	_, err := st.Snapshot(context.Background(), group.Group.ID)
	assert.ErrorIs(t, err, domain.ErrSnapshotInconsistent)
	assert.Equal(t, domain.KindFatal, domain.KindOf(err))
}

func TestKeyedLocks(t *testing.T) {
	locks := newKeyedLocks()
	id := snowflake.ID(5)

	unlock, err := locks.lock(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 1, locks.size())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locks.lock(ctx, id)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, locks.size())

	other, err := locks.lock(context.Background(), snowflake.ID(6))
	require.NoError(t, err)
	other()

	unlock()
	unlock()
	assert.Zero(t, locks.size())

	again, err := locks.lock(context.Background(), id)
	require.NoError(t, err)
	again()
}
