package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/bulkbuy/internal/procurement/domain"
	"github.com/smallbiznis/bulkbuy/internal/procurement/store"
	"github.com/smallbiznis/bulkbuy/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type DirectoryParams struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Repo  domain.Repository
	Store *store.Store
}

type DirectoryService struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  domain.Repository
	store *store.Store
}

func NewDirectoryService(p DirectoryParams) domain.Directory {
	return &DirectoryService{
		db:    p.DB,
		log:   p.Log.Named("directory.service"),
		repo:  p.Repo,
		store: p.Store,
	}
}

func (s *DirectoryService) Get(ctx context.Context, groupID snowflake.ID, viewerID string) (domain.GroupDetail, error) {
	snapshot, err := s.store.Snapshot(ctx, groupID)
	if err != nil {
		return domain.GroupDetail{}, err
	}

	detail := domain.GroupDetail{Snapshot: snapshot}
	if viewerID = strings.TrimSpace(viewerID); viewerID != "" {
		if m, ok := snapshot.LiveMembership(viewerID); ok {
			detail.UserMembership = &m
		}
	}
	return detail, nil
}

func (s *DirectoryService) List(ctx context.Context, req domain.ListGroupsRequest) (domain.ListGroupsResponse, error) {
	if req.Status != "" && !req.Status.Valid() {
		return domain.ListGroupsResponse{}, domain.ErrInvalidStatus
	}
	filter := domain.GroupFilter{
		Status:           req.Status,
		MaterialCategory: strings.ToLower(strings.TrimSpace(req.MaterialCategory)),
		Location:         req.Location,
		MinDiscount:      req.MinDiscount,
		OnlyAvailable:    req.OnlyAvailable,
	}

	groups, err := s.repo.ListGroups(ctx, s.db, filter, req.Pagination)
	if err != nil {
		return domain.ListGroupsResponse{}, err
	}
	return s.summarize(ctx, groups, req.Pagination.Size())
}

func (s *DirectoryService) ListMine(ctx context.Context, req domain.ListMyGroupsRequest) (domain.ListGroupsResponse, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return domain.ListGroupsResponse{}, domain.ErrInvalidActor
	}
	if req.Status != "" && !req.Status.Valid() {
		return domain.ListGroupsResponse{}, domain.ErrInvalidStatus
	}

	groups, err := s.repo.ListGroupsForUser(ctx, s.db, userID, req.Status, req.Pagination)
	if err != nil {
		return domain.ListGroupsResponse{}, err
	}
	return s.summarize(ctx, groups, req.Pagination.Size())
}

func (s *DirectoryService) summarize(ctx context.Context, groups []*domain.Group, limit int) (domain.ListGroupsResponse, error) {
	groups, pageInfo := pagination.Trim(groups, limit, func(g *domain.Group) string { return g.ID.String() })

	ids := make([]snowflake.ID, 0, len(groups))
	for _, g := range groups {
		ids = append(ids, g.ID)
	}
	counts, err := s.repo.CountApprovedMemberships(ctx, s.db, ids)
	if err != nil {
		return domain.ListGroupsResponse{}, err
	}

	summaries := make([]domain.GroupSummary, 0, len(groups))
	for _, g := range groups {
		active := counts[g.ID]
		summaries = append(summaries, domain.GroupSummary{
			Group:          *g,
			ActiveMembers:  active,
			AvailableSpots: max(0, g.MaxParticipants-active),
			IsFull:         active >= g.MaxParticipants,
		})
	}

	return domain.ListGroupsResponse{
		PageInfo: pageInfo,
		Groups:   summaries,
	}, nil
}
