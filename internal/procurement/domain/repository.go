package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/bulkbuy/pkg/db/pagination"
	"gorm.io/gorm"
)

type GroupFilter struct {
	OnlyAvailable    bool
	Status           GroupStatus
	MaterialCategory string
	Location         string
	MinDiscount      float64
	CreatorID        string
}

type Repository interface {
	InsertGroup(ctx context.Context, db *gorm.DB, group *Group) error
	FindGroup(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Group, error)
	FindGroupForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Group, error)
	// UpdateGroupVersioned writes the group only when the stored version
	// still equals expected. It reports whether a row was written.
	UpdateGroupVersioned(ctx context.Context, db *gorm.DB, group *Group, expected int64) (bool, error)
	ListGroups(ctx context.Context, db *gorm.DB, filter GroupFilter, page pagination.Pagination) ([]*Group, error)
	ListGroupsForUser(ctx context.Context, db *gorm.DB, userID string, status GroupStatus, page pagination.Pagination) ([]*Group, error)
	ListDueGroups(ctx context.Context, db *gorm.DB, now time.Time, statuses []GroupStatus, afterID snowflake.ID, limit int) ([]*Group, error)
	ListOpenGroupsBefore(ctx context.Context, db *gorm.DB, now time.Time, afterID snowflake.ID, limit int) ([]*Group, error)

	InsertMembership(ctx context.Context, db *gorm.DB, membership *Membership) error
	UpdateMembership(ctx context.Context, db *gorm.DB, membership *Membership) error
	ListMemberships(ctx context.Context, db *gorm.DB, groupID snowflake.ID) ([]Membership, error)
	CountApprovedMemberships(ctx context.Context, db *gorm.DB, groupIDs []snowflake.ID) (map[snowflake.ID]int, error)

	InsertOrderLine(ctx context.Context, db *gorm.DB, line *OrderLine) error
	UpdateOrderLine(ctx context.Context, db *gorm.DB, line *OrderLine) error
	FindOrderLine(ctx context.Context, db *gorm.DB, id snowflake.ID) (*OrderLine, error)
	ListOrderLines(ctx context.Context, db *gorm.DB, groupID snowflake.ID) ([]OrderLine, error)
	ListActiveOrderLines(ctx context.Context, db *gorm.DB, groupID, afterID snowflake.ID, limit int) ([]OrderLine, error)
}
