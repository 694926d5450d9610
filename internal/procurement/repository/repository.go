package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/bulkbuy/internal/procurement/domain"
	pkgdb "github.com/smallbiznis/bulkbuy/pkg/db"
	"github.com/smallbiznis/bulkbuy/pkg/db/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertGroup(ctx context.Context, db *gorm.DB, group *domain.Group) error {
	return db.WithContext(ctx).Create(group).Error
}

func (r *repo) FindGroup(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Group, error) {
	return r.findGroup(db.WithContext(ctx), id)
}

func (r *repo) FindGroupForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Group, error) {
	stmt := db.WithContext(ctx)
	// sqlite serializes writers itself and rejects row locks.
	if stmt.Dialector.Name() != "sqlite" {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return r.findGroup(stmt, id)
}

func (r *repo) findGroup(stmt *gorm.DB, id snowflake.ID) (*domain.Group, error) {
	var group domain.Group
	err := stmt.Where("id = ?", id).Take(&group).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &group, nil
}

func (r *repo) UpdateGroupVersioned(ctx context.Context, db *gorm.DB, group *domain.Group, expected int64) (bool, error) {
	result := db.WithContext(ctx).
		Model(group).
		Where("version = ?", expected).
		Select("*").
		Omit("id", "created_at").
		Updates(group)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) ListGroups(ctx context.Context, db *gorm.DB, filter domain.GroupFilter, page pagination.Pagination) ([]*domain.Group, error) {
	stmt := db.WithContext(ctx).Model(&domain.Group{})
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.MaterialCategory != "" {
		stmt = stmt.Where("material_category = ?", filter.MaterialCategory)
	}
	if location := strings.TrimSpace(filter.Location); location != "" {
		stmt = stmt.Where("LOWER(location) LIKE ?", "%"+strings.ToLower(location)+"%")
	}
	if filter.MinDiscount > 0 {
		stmt = stmt.Where("discount_percentage >= ?", filter.MinDiscount)
	}
	if filter.CreatorID != "" {
		stmt = stmt.Where("creator_id = ?", filter.CreatorID)
	}
	if filter.OnlyAvailable {
		stmt = stmt.Where(
			"max_participants > (SELECT COUNT(*) FROM group_memberships m WHERE m.group_id = procurement_groups.id AND m.status = ?)",
			domain.MembershipStatusApproved,
		)
	}
	return r.pageGroups(stmt, page)
}

func (r *repo) ListGroupsForUser(ctx context.Context, db *gorm.DB, userID string, status domain.GroupStatus, page pagination.Pagination) ([]*domain.Group, error) {
	stmt := db.WithContext(ctx).
		Model(&domain.Group{}).
		Where(
			"id IN (SELECT m.group_id FROM group_memberships m WHERE m.user_id = ? AND m.status IN ?)",
			userID,
			[]domain.MembershipStatus{domain.MembershipStatusPending, domain.MembershipStatusApproved},
		)
	if status != "" {
		stmt = stmt.Where("status = ?", status)
	}
	return r.pageGroups(stmt, page)
}

// pageGroups returns newest groups first and fetches one extra row so the
// caller can tell whether another page exists.
func (r *repo) pageGroups(stmt *gorm.DB, page pagination.Pagination) ([]*domain.Group, error) {
	cursor, err := pagination.DecodeCursor(page.PageToken)
	if err != nil {
		return nil, err
	}
	if cursor != nil {
		id, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return nil, pagination.ErrInvalidPageToken
		}
		stmt = stmt.Where("id < ?", id)
	}

	var groups []*domain.Group
	err = stmt.Order("id desc").Limit(page.Size() + 1).Find(&groups).Error
	if err != nil {
		return nil, err
	}
	return groups, nil
}

func (r *repo) ListDueGroups(ctx context.Context, db *gorm.DB, now time.Time, statuses []domain.GroupStatus, afterID snowflake.ID, limit int) ([]*domain.Group, error) {
	var groups []*domain.Group
	err := db.WithContext(ctx).
		Where("status IN ? AND order_deadline <= ? AND id > ?", statuses, now, afterID).
		Order("id asc").
		Limit(limit).
		Find(&groups).Error
	if err != nil {
		return nil, err
	}
	return groups, nil
}

func (r *repo) ListOpenGroupsBefore(ctx context.Context, db *gorm.DB, now time.Time, afterID snowflake.ID, limit int) ([]*domain.Group, error) {
	var groups []*domain.Group
	err := db.WithContext(ctx).
		Where(
			"status = ? AND order_deadline > ? AND id > ? AND min_participants <= (SELECT COUNT(*) FROM group_memberships m WHERE m.group_id = procurement_groups.id AND m.status = ?)",
			domain.GroupStatusOpen,
			now,
			afterID,
			domain.MembershipStatusApproved,
		).
		Order("id asc").
		Limit(limit).
		Find(&groups).Error
	if err != nil {
		return nil, err
	}
	return groups, nil
}

func (r *repo) InsertMembership(ctx context.Context, db *gorm.DB, membership *domain.Membership) error {
	err := db.WithContext(ctx).Create(membership).Error
	if pkgdb.IsDuplicateKeyErr(err) {
		// ux_group_memberships_live allows one pending or approved row per user.
		return domain.ErrAlreadyMember
	}
	return err
}

func (r *repo) UpdateMembership(ctx context.Context, db *gorm.DB, membership *domain.Membership) error {
	return db.WithContext(ctx).
		Model(membership).
		Select("*").
		Omit("id", "group_id", "user_id", "created_at").
		Updates(membership).Error
}

func (r *repo) ListMemberships(ctx context.Context, db *gorm.DB, groupID snowflake.ID) ([]domain.Membership, error) {
	var memberships []domain.Membership
	err := db.WithContext(ctx).
		Where("group_id = ?", groupID).
		Order("id asc").
		Find(&memberships).Error
	if err != nil {
		return nil, err
	}
	return memberships, nil
}

func (r *repo) CountApprovedMemberships(ctx context.Context, db *gorm.DB, groupIDs []snowflake.ID) (map[snowflake.ID]int, error) {
	counts := make(map[snowflake.ID]int, len(groupIDs))
	if len(groupIDs) == 0 {
		return counts, nil
	}

	var rows []struct {
		GroupID snowflake.ID
		Total   int
	}
	err := db.WithContext(ctx).
		Model(&domain.Membership{}).
		Select("group_id, COUNT(*) AS total").
		Where("group_id IN ? AND status = ?", groupIDs, domain.MembershipStatusApproved).
		Group("group_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		counts[row.GroupID] = row.Total
	}
	return counts, nil
}

func (r *repo) InsertOrderLine(ctx context.Context, db *gorm.DB, line *domain.OrderLine) error {
	return db.WithContext(ctx).Create(line).Error
}

func (r *repo) UpdateOrderLine(ctx context.Context, db *gorm.DB, line *domain.OrderLine) error {
	return db.WithContext(ctx).
		Model(line).
		Select("*").
		Omit("id", "group_id", "membership_id", "submitted_by", "created_at").
		Updates(line).Error
}

func (r *repo) FindOrderLine(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.OrderLine, error) {
	var line domain.OrderLine
	err := db.WithContext(ctx).Where("id = ?", id).Take(&line).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &line, nil
}

func (r *repo) ListOrderLines(ctx context.Context, db *gorm.DB, groupID snowflake.ID) ([]domain.OrderLine, error) {
	var lines []domain.OrderLine
	err := db.WithContext(ctx).
		Where("group_id = ?", groupID).
		Order("id asc").
		Find(&lines).Error
	if err != nil {
		return nil, err
	}
	return lines, nil
}

func (r *repo) ListActiveOrderLines(ctx context.Context, db *gorm.DB, groupID, afterID snowflake.ID, limit int) ([]domain.OrderLine, error) {
	var lines []domain.OrderLine
	err := db.WithContext(ctx).
		Where("group_id = ? AND status <> ? AND id > ?", groupID, domain.OrderLineStatusWithdrawn, afterID).
		Order("id asc").
		Limit(limit).
		Find(&lines).Error
	if err != nil {
		return nil, err
	}
	return lines, nil
}
