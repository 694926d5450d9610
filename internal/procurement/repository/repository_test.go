package repository

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/bulkbuy/internal/migration"
	"github.com/smallbiznis/bulkbuy/internal/procurement/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, migration.AutoMigrate(db))
	return db
}

func membership(id snowflake.ID, status domain.MembershipStatus) *domain.Membership {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	return &domain.Membership{
		ID:        id,
		GroupID:   77,
		UserID:    "u1",
		Role:      domain.RoleMember,
		Status:    status,
		JoinedAt:  now,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestInsertMembership_OneLiveRecordPerUser(t *testing.T) {
	db := newTestDB(t)
	repo := Provide()
	ctx := context.Background()

	require.NoError(t, repo.InsertMembership(ctx, db, membership(1, domain.MembershipStatusRemoved)))
	require.NoError(t, repo.InsertMembership(ctx, db, membership(2, domain.MembershipStatusPending)))

	err := repo.InsertMembership(ctx, db, membership(3, domain.MembershipStatusApproved))
	assert.ErrorIs(t, err, domain.ErrAlreadyMember)

	members, err := repo.ListMemberships(ctx, db, 77)
	require.NoError(t, err)
	assert.Len(t, members, 2)
}

func TestFindGroup_MissingIsNil(t *testing.T) {
	db := newTestDB(t)

	group, err := Provide().FindGroupForUpdate(context.Background(), db, 404)
	require.NoError(t, err)
	assert.Nil(t, group)
}
