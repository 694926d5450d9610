package service

import (
	"context"
	"iter"
	"math"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/bulkbuy/internal/authorization"
	"github.com/smallbiznis/bulkbuy/internal/observability/metrics"
	"github.com/smallbiznis/bulkbuy/internal/procurement/access"
	"github.com/smallbiznis/bulkbuy/internal/procurement/domain"
	"github.com/smallbiznis/bulkbuy/internal/procurement/store"
	"github.com/smallbiznis/bulkbuy/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const listActiveBatchSize = 100

type LedgerParams struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Repo    domain.Repository
	Store   *store.Store
	Authz   authorization.Service
	Metrics *metrics.Metrics `optional:"true"`
}

type LedgerService struct {
	db      *gorm.DB
	log     *zap.Logger
	repo    domain.Repository
	store   *store.Store
	authz   authorization.Service
	metrics *metrics.Metrics
}

func NewLedgerService(p LedgerParams) domain.OrderLedger {
	return &LedgerService{
		db:      p.DB,
		log:     p.Log.Named("ledger.service"),
		repo:    p.Repo,
		store:   p.Store,
		authz:   p.Authz,
		metrics: p.Metrics,
	}
}

func (s *LedgerService) AddOrderLine(ctx context.Context, req domain.AddOrderLineRequest) (domain.Snapshot, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return domain.Snapshot{}, domain.ErrInvalidActor
	}

	snapshot, err := s.store.Mutate(ctx, req.GroupID, func(ctx context.Context, tx *store.Tx) error {
		current := tx.Snapshot()
		if !current.Group.Status.AcceptsOrders() {
			return domain.ErrGroupClosed
		}
		membership, ok := current.ApprovedMembership(userID)
		if !ok {
			return domain.ErrNotApproved
		}
		if err := access.Authorize(ctx, s.authz, string(membership.Role), authorization.ObjectOrderLine, authorization.ActionOrderLineAdd); err != nil {
			return err
		}

		line, err := newOrderLine(req)
		if err != nil {
			return err
		}
		line.MembershipID = membership.ID
		line.SubmittedBy = userID
		return tx.AddOrderLine(line)
	})
	if err != nil {
		return domain.Snapshot{}, err
	}

	s.metrics.RecordOrderLine(ctx, snapshot.Group.MaterialCategory, "added")
	return snapshot, nil
}

func newOrderLine(req domain.AddOrderLineRequest) (*domain.OrderLine, error) {
	if !finitePositive(req.Quantity) {
		return nil, domain.ErrInvalidQuantity
	}
	if !finiteNonNegative(req.UnitPrice) {
		return nil, domain.ErrInvalidPrice
	}
	material := strings.TrimSpace(req.MaterialName)
	if material == "" {
		return nil, domain.ErrInvalidMaterial
	}
	unit := strings.TrimSpace(req.Unit)
	if unit == "" {
		return nil, domain.ErrInvalidUnit
	}

	return &domain.OrderLine{
		MaterialName:   material,
		Specifications: strings.TrimSpace(req.Specifications),
		Notes:          strings.TrimSpace(req.Notes),
		Quantity:       req.Quantity,
		Unit:           unit,
		UnitPrice:      req.UnitPrice,
		TotalPrice:     domain.LineTotal(req.Quantity, req.UnitPrice),
		Status:         domain.OrderLineStatusProposed,
	}, nil
}

func finitePositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}

func finiteNonNegative(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0)
}

func (s *LedgerService) WithdrawOrderLine(ctx context.Context, req domain.OrderLineActionRequest) (domain.Snapshot, error) {
	groupID, err := s.groupOf(ctx, req.OrderLineID)
	if err != nil {
		return domain.Snapshot{}, err
	}

	withdrawn := false
	snapshot, err := s.store.Mutate(ctx, groupID, func(ctx context.Context, tx *store.Tx) error {
		current := tx.Snapshot()
		line, ok := current.OrderLine(req.OrderLineID)
		if !ok {
			return domain.ErrOrderLineNotFound
		}
		if line.Status == domain.OrderLineStatusWithdrawn {
			return nil
		}
		if !current.Group.Status.AcceptsOrders() {
			return domain.ErrGroupClosed
		}

		actorID := strings.TrimSpace(req.ActorID)
		actor, ok := current.ApprovedMembership(actorID)
		if !ok {
			return domain.ErrForbidden
		}
		if actor.ID != line.MembershipID {
			if err := access.Authorize(ctx, s.authz, string(actor.Role), authorization.ObjectOrderLine, authorization.ActionOrderLineWithdrawAny); err != nil {
				return err
			}
		}

		now := tx.Now()
		line.Status = domain.OrderLineStatusWithdrawn
		line.WithdrawnAt = &now
		line.WithdrawnBy = actorID
		if err := tx.SaveOrderLine(&line); err != nil {
			return err
		}
		withdrawn = true
		return nil
	})
	if err != nil {
		return domain.Snapshot{}, err
	}

	if withdrawn {
		s.metrics.RecordOrderLine(ctx, snapshot.Group.MaterialCategory, "withdrawn")
	}
	return snapshot, nil
}

func (s *LedgerService) ConfirmOrderLine(ctx context.Context, req domain.OrderLineActionRequest) (domain.Snapshot, error) {
	groupID, err := s.groupOf(ctx, req.OrderLineID)
	if err != nil {
		return domain.Snapshot{}, err
	}

	snapshot, err := s.store.Mutate(ctx, groupID, func(ctx context.Context, tx *store.Tx) error {
		current := tx.Snapshot()
		if _, err := access.RequireMember(ctx, s.authz, current, req.ActorID, authorization.ObjectOrderLine, authorization.ActionOrderLineConfirm); err != nil {
			return err
		}

		line, ok := current.OrderLine(req.OrderLineID)
		if !ok {
			return domain.ErrOrderLineNotFound
		}
		switch line.Status {
		case domain.OrderLineStatusConfirmed:
			return nil
		case domain.OrderLineStatusWithdrawn:
			return domain.ErrInvalidState
		}
		if !current.Group.Status.AcceptsOrders() {
			return domain.ErrGroupClosed
		}

		now := tx.Now()
		line.Status = domain.OrderLineStatusConfirmed
		line.ConfirmedAt = &now
		return tx.SaveOrderLine(&line)
	})
	if err != nil {
		return domain.Snapshot{}, err
	}

	s.metrics.RecordOrderLine(ctx, snapshot.Group.MaterialCategory, "confirmed")
	return snapshot, nil
}

func (s *LedgerService) groupOf(ctx context.Context, lineID snowflake.ID) (snowflake.ID, error) {
	if lineID == 0 {
		return 0, domain.ErrInvalidID
	}
	line, err := s.repo.FindOrderLine(ctx, s.db, lineID)
	if err != nil {
		return 0, err
	}
	if line == nil {
		return 0, domain.ErrOrderLineNotFound
	}
	return line.GroupID, nil
}

func (s *LedgerService) ListActive(ctx context.Context, groupID snowflake.ID) iter.Seq2[domain.OrderLine, error] {
	return func(yield func(domain.OrderLine, error) bool) {
		group, err := s.repo.FindGroup(ctx, s.db, groupID)
		if err != nil {
			yield(domain.OrderLine{}, err)
			return
		}
		if group == nil {
			yield(domain.OrderLine{}, domain.ErrGroupNotFound)
			return
		}

		var after snowflake.ID
		for {
			lines, err := s.repo.ListActiveOrderLines(ctx, s.db, groupID, after, listActiveBatchSize)
			if err != nil {
				yield(domain.OrderLine{}, err)
				return
			}
			for _, line := range lines {
				if !yield(line, nil) {
					return
				}
			}
			if len(lines) < listActiveBatchSize {
				return
			}
			after = lines[len(lines)-1].ID
		}
	}
}

func (s *LedgerService) ListActivePage(ctx context.Context, groupID snowflake.ID, page pagination.Pagination) ([]domain.OrderLine, pagination.PageInfo, error) {
	group, err := s.repo.FindGroup(ctx, s.db, groupID)
	if err != nil {
		return nil, pagination.PageInfo{}, err
	}
	if group == nil {
		return nil, pagination.PageInfo{}, domain.ErrGroupNotFound
	}

	cursor, err := pagination.DecodeCursor(page.PageToken)
	if err != nil {
		return nil, pagination.PageInfo{}, err
	}
	var after snowflake.ID
	if cursor != nil {
		after, err = snowflake.ParseString(cursor.ID)
		if err != nil {
			return nil, pagination.PageInfo{}, pagination.ErrInvalidPageToken
		}
	}

	limit := page.Size()
	lines, err := s.repo.ListActiveOrderLines(ctx, s.db, groupID, after, limit+1)
	if err != nil {
		return nil, pagination.PageInfo{}, err
	}
	lines, info := pagination.Trim(lines, limit, func(l domain.OrderLine) string { return l.ID.String() })
	return lines, info, nil
}
