// Package proctest wires the procurement services against an in-memory
// database for tests.
package proctest

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/smallbiznis/bulkbuy/internal/audit/domain"
	auditrepository "github.com/smallbiznis/bulkbuy/internal/audit/repository"
	auditservice "github.com/smallbiznis/bulkbuy/internal/audit/service"
	"github.com/smallbiznis/bulkbuy/internal/authorization"
	"github.com/smallbiznis/bulkbuy/internal/clock"
	"github.com/smallbiznis/bulkbuy/internal/config"
	"github.com/smallbiznis/bulkbuy/internal/migration"
	"github.com/smallbiznis/bulkbuy/internal/observability/metrics"
	"github.com/smallbiznis/bulkbuy/internal/procurement/domain"
	"github.com/smallbiznis/bulkbuy/internal/procurement/events"
	"github.com/smallbiznis/bulkbuy/internal/procurement/repository"
	"github.com/smallbiznis/bulkbuy/internal/procurement/service"
	"github.com/smallbiznis/bulkbuy/internal/procurement/store"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Epoch is the fake clock's starting time.
var Epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

const Creator = "creator-1"

type Harness struct {
	DB     *gorm.DB
	Clock  *clock.FakeClock
	Events *events.Recorder
	Repo   domain.Repository
	Store  *store.Store
	Authz  authorization.Service

	Membership domain.MembershipManager
	Ledger     domain.OrderLedger
	Lifecycle  domain.LifecycleController
	Directory  domain.Directory
	Activity   auditdomain.Service
}

func New(t testing.TB) *Harness {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// One connection keeps the in-memory database alive and shared.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, migration.AutoMigrate(db))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	enforcer, err := authorization.NewEnforcer()
	require.NoError(t, err)

	log := zap.NewNop()
	fakeClock := clock.NewFakeClock(Epoch)
	recorder := events.NewRecorder()
	repo := repository.Provide()
	authz := authorization.NewService(authorization.Params{Log: log, Enforcer: enforcer})
	m := metrics.NewNoop()
	activity := auditservice.NewService(auditservice.Params{DB: db, Log: log, GenID: node, Repo: auditrepository.Provide()})

	st := store.New(store.Params{
		DB:       db,
		Repo:     repo,
		Clock:    fakeClock,
		Node:     node,
		Config:   config.Config{},
		Notifier: events.NewDispatcher(log, recorder, events.NewMetricsPublisher(m), activity),
		Log:      log,
	})

	return &Harness{
		DB:     db,
		Clock:  fakeClock,
		Events: recorder,
		Repo:   repo,
		Store:  st,
		Authz:  authz,

		Membership: service.NewMembershipService(service.MembershipParams{Log: log, Store: st, Authz: authz, Metrics: m}),
		Ledger:     service.NewLedgerService(service.LedgerParams{DB: db, Log: log, Repo: repo, Store: st, Authz: authz, Metrics: m}),
		Lifecycle: service.NewLifecycleService(service.LifecycleParams{
			Log:     log,
			Store:   st,
			Authz:   authz,
			Catalog: config.NewStaticCatalogHolder(config.DefaultCatalog()),
		}),
		Directory: service.NewDirectoryService(service.DirectoryParams{DB: db, Log: log, Repo: repo, Store: st}),
		Activity:  activity,
	}
}

// GroupRequest returns a valid cement group request due a week after Epoch.
func GroupRequest(minParticipants, maxParticipants int) domain.CreateGroupRequest {
	return domain.CreateGroupRequest{
		CreatorID:          Creator,
		Name:               "Nairobi Cement Pool",
		Description:        "Pooling cement orders for Q2 builds",
		MaterialCategory:   "cement",
		Location:           "Nairobi, Kenya",
		TargetQuantity:     100,
		TargetPricePerUnit: 10,
		DiscountPercentage: 15,
		MinParticipants:    minParticipants,
		MaxParticipants:    maxParticipants,
		OrderDeadline:      Epoch.Add(7 * 24 * time.Hour),
	}
}

func (h *Harness) CreateGroup(t testing.TB, minParticipants, maxParticipants int) domain.Snapshot {
	t.Helper()
	snapshot, err := h.Lifecycle.CreateGroup(context.Background(), GroupRequest(minParticipants, maxParticipants))
	require.NoError(t, err)
	return snapshot
}

// Admit requests membership for userID and approves it as the creator.
func (h *Harness) Admit(t testing.TB, groupID snowflake.ID, userID string) domain.Membership {
	t.Helper()
	ctx := context.Background()

	snapshot, err := h.Membership.RequestJoin(ctx, domain.JoinRequest{GroupID: groupID, UserID: userID})
	require.NoError(t, err)
	pending, ok := snapshot.LiveMembership(userID)
	require.True(t, ok)

	snapshot, err = h.Membership.Decide(ctx, domain.DecideRequest{
		GroupID:      groupID,
		MembershipID: pending.ID,
		DeciderID:    Creator,
		Approve:      true,
	})
	require.NoError(t, err)
	approved, ok := snapshot.ApprovedMembership(userID)
	require.True(t, ok)
	return approved
}

// Order adds a plain order line for userID.
func (h *Harness) Order(t testing.TB, groupID snowflake.ID, userID string, quantity, unitPrice float64) domain.Snapshot {
	t.Helper()
	snapshot, err := h.Ledger.AddOrderLine(context.Background(), domain.AddOrderLineRequest{
		GroupID:      groupID,
		UserID:       userID,
		MaterialName: "Portland cement 42.5N",
		Quantity:     quantity,
		Unit:         "bag",
		UnitPrice:    unitPrice,
	})
	require.NoError(t, err)
	return snapshot
}
