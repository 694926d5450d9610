package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/bulkbuy/internal/audit/domain"
	procdomain "github.com/smallbiznis/bulkbuy/internal/procurement/domain"
	"github.com/smallbiznis/bulkbuy/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

// Publish appends the event to its group's trail.
func (s *Service) Publish(ctx context.Context, event procdomain.Event) error {
	action := strings.TrimSpace(string(event.Type))
	if action == "" {
		return auditdomain.ErrInvalidAction
	}
	if event.GroupID == 0 {
		return auditdomain.ErrInvalidGroup
	}

	actorType, actorID := resolveActor(event.ActorID)

	entry := auditdomain.Entry{
		ID:        s.genID.Generate(),
		GroupID:   event.GroupID,
		ActorType: actorType,
		ActorID:   actorID,
		Action:    action,
		SubjectID: normalize(event.UserID),
		Metadata:  datatypes.JSONMap(metadata(event)),
		CreatedAt: event.OccurredAt.UTC(),
	}

	if err := s.repo.Insert(ctx, s.db, &entry); err != nil {
		s.log.Warn("failed to write group activity", zap.String("action", action), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, req auditdomain.ListActivityRequest) (auditdomain.ListActivityResponse, error) {
	if req.GroupID == 0 {
		return auditdomain.ListActivityResponse{}, auditdomain.ErrInvalidGroup
	}

	var afterID snowflake.ID
	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return auditdomain.ListActivityResponse{}, err
	}
	if cursor != nil {
		afterID, err = snowflake.ParseString(cursor.ID)
		if err != nil || afterID == 0 {
			return auditdomain.ListActivityResponse{}, pagination.ErrInvalidPageToken
		}
	}

	limit := req.Size()
	items, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{
		GroupID: req.GroupID,
		Action:  req.Action,
		AfterID: afterID,
		Limit:   limit,
	})
	if err != nil {
		return auditdomain.ListActivityResponse{}, err
	}

	items, pageInfo := pagination.Trim(items, limit, func(item *auditdomain.Entry) string {
		return item.ID.String()
	})

	entries := make([]auditdomain.Entry, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		entries = append(entries, *item)
	}

	return auditdomain.ListActivityResponse{PageInfo: pageInfo, Activity: entries}, nil
}

func resolveActor(actorID string) (auditdomain.ActorType, *string) {
	id := normalize(actorID)
	if id == nil || *id == procdomain.SystemActor {
		return auditdomain.ActorTypeSystem, id
	}
	return auditdomain.ActorTypeUser, id
}

func metadata(event procdomain.Event) map[string]any {
	payload := map[string]any{}
	if event.MembershipID != 0 {
		payload["membership_id"] = event.MembershipID.String()
	}
	if event.Decision != "" {
		payload["decision"] = string(event.Decision)
	}
	if event.To != "" {
		payload["from"] = string(event.From)
		payload["to"] = string(event.To)
	}
	if event.Reason != "" {
		payload["reason"] = event.Reason
	}
	if len(payload) == 0 {
		return nil
	}
	return payload
}

func normalize(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
