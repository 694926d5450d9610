package service

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/bulkbuy/internal/authorization"
	"github.com/smallbiznis/bulkbuy/internal/config"
	"github.com/smallbiznis/bulkbuy/internal/procurement/access"
	"github.com/smallbiznis/bulkbuy/internal/procurement/domain"
	"github.com/smallbiznis/bulkbuy/internal/procurement/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const (
	ReasonQuorumNotMet          = "quorum_not_met"
	ReasonDeadlineWithoutQuorum = "deadline_without_quorum"
	ReasonDeadlineNotAdvanced   = "deadline_passed_while_open"
	ReasonQuorumReached         = "quorum_reached"
	ReasonDeadlineReached       = "deadline_reached"
)

type LifecycleParams struct {
	fx.In

	Log     *zap.Logger
	Store   *store.Store
	Authz   authorization.Service
	Catalog *config.CatalogHolder
}

type LifecycleService struct {
	log     *zap.Logger
	store   *store.Store
	authz   authorization.Service
	catalog *config.CatalogHolder
}

func NewLifecycleService(p LifecycleParams) domain.LifecycleController {
	return &LifecycleService{
		log:     p.Log.Named("lifecycle.service"),
		store:   p.Store,
		authz:   p.Authz,
		catalog: p.Catalog,
	}
}

func (s *LifecycleService) CreateGroup(ctx context.Context, req domain.CreateGroupRequest) (domain.Snapshot, error) {
	group, err := s.newGroup(req)
	if err != nil {
		return domain.Snapshot{}, err
	}

	creator := &domain.Membership{
		UserID: group.CreatorID,
		Role:   domain.RoleCreator,
		Status: domain.MembershipStatusApproved,
	}
	now := s.store.Now()
	creator.DecidedAt = &now
	creator.DecidedBy = group.CreatorID

	snapshot, err := s.store.Found(ctx, group, creator)
	if err != nil {
		return domain.Snapshot{}, err
	}

	s.log.Info("group created",
		zap.String("group_id", snapshot.Group.ID.String()),
		zap.String("material_category", snapshot.Group.MaterialCategory),
	)
	return snapshot, nil
}

func (s *LifecycleService) newGroup(req domain.CreateGroupRequest) (*domain.Group, error) {
	creatorID, err := domain.UserActor(req.CreatorID)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	description := strings.TrimSpace(req.Description)
	if description == "" {
		return nil, domain.ErrInvalidDescription
	}
	category := strings.ToLower(strings.TrimSpace(req.MaterialCategory))
	if category == "" || (s.catalog != nil && !s.catalog.Get().Has(category)) {
		return nil, domain.ErrInvalidCategory
	}
	location := strings.TrimSpace(req.Location)
	if location == "" {
		return nil, domain.ErrInvalidLocation
	}
	if !finitePositive(req.TargetQuantity) {
		return nil, domain.ErrInvalidTarget
	}
	if !finiteNonNegative(req.TargetPricePerUnit) {
		return nil, domain.ErrInvalidTargetPrice
	}
	if math.IsNaN(req.DiscountPercentage) || req.DiscountPercentage < 0 || req.DiscountPercentage > 100 {
		return nil, domain.ErrInvalidDiscount
	}
	if req.MinParticipants < 1 || req.MaxParticipants < req.MinParticipants {
		return nil, domain.ErrInvalidParticipants
	}

	now := s.store.Now()
	if !req.OrderDeadline.After(now) {
		return nil, domain.ErrInvalidDeadline
	}
	var delivery *time.Time
	if req.DeliveryDate != nil {
		if req.DeliveryDate.Before(req.OrderDeadline) {
			return nil, domain.ErrInvalidDeliveryDate
		}
		d := req.DeliveryDate.UTC()
		delivery = &d
	}

	var supplier *domain.SupplierInfo
	if req.SupplierInfo != nil && strings.TrimSpace(req.SupplierInfo.Name) != "" {
		info := *req.SupplierInfo
		supplier = &info
	}

	return &domain.Group{
		Name:               name,
		Slug:               slug.Make(name),
		Description:        description,
		MaterialCategory:   category,
		Location:           location,
		TargetQuantity:     req.TargetQuantity,
		TargetPricePerUnit: req.TargetPricePerUnit,
		DiscountPercentage: req.DiscountPercentage,
		MinParticipants:    req.MinParticipants,
		MaxParticipants:    req.MaxParticipants,
		OrderDeadline:      req.OrderDeadline.UTC(),
		DeliveryDate:       delivery,
		Status:             domain.GroupStatusOpen,
		CreatorID:          creatorID,
		SupplierInfo:       datatypes.NewJSONType(supplier),
		Terms:              strings.TrimSpace(req.Terms),
	}, nil
}

func (s *LifecycleService) AdvanceToCollecting(ctx context.Context, groupID snowflake.ID, actorID string) (domain.Snapshot, error) {
	return s.store.Mutate(ctx, groupID, func(ctx context.Context, tx *store.Tx) error {
		current := tx.Snapshot()
		if _, err := access.RequireMember(ctx, s.authz, current, actorID, authorization.ObjectGroup, authorization.ActionGroupAdvance); err != nil {
			return err
		}
		if current.Group.Status != domain.GroupStatusOpen {
			return domain.ErrInvalidTransition
		}
		if current.Group.DeadlinePassed(tx.Now()) {
			return domain.ErrDeadlinePassed
		}
		if !current.Statistics.QuorumReached {
			return domain.ErrQuorumNotMet
		}
		return s.transition(tx, domain.GroupStatusCollecting, actorID, "")
	})
}

// ProcessOrders locks the order. Without quorum the group is cancelled
// instead and the call still reports ErrQuorumNotMet.
func (s *LifecycleService) ProcessOrders(ctx context.Context, groupID snowflake.ID, actorID string) (domain.Snapshot, error) {
	return s.store.Mutate(ctx, groupID, func(ctx context.Context, tx *store.Tx) error {
		current := tx.Snapshot()
		if _, err := access.RequireMember(ctx, s.authz, current, actorID, authorization.ObjectGroup, authorization.ActionGroupProcess); err != nil {
			return err
		}
		if current.Group.Status != domain.GroupStatusCollecting {
			return domain.ErrInvalidTransition
		}
		if !current.Statistics.QuorumReached {
			if err := s.transition(tx, domain.GroupStatusCancelled, actorID, ReasonQuorumNotMet); err != nil {
				return err
			}
			tx.CommitWithError(domain.ErrQuorumNotMet)
			return nil
		}
		return s.transition(tx, domain.GroupStatusProcessing, actorID, "")
	})
}

func (s *LifecycleService) Cancel(ctx context.Context, groupID snowflake.ID, actorID, reason string) (domain.Snapshot, error) {
	return s.store.Mutate(ctx, groupID, func(ctx context.Context, tx *store.Tx) error {
		current := tx.Snapshot()
		if _, err := access.RequireMember(ctx, s.authz, current, actorID, authorization.ObjectGroup, authorization.ActionGroupCancel); err != nil {
			return err
		}
		if current.Group.Status == domain.GroupStatusCancelled {
			return nil
		}
		return s.transition(tx, domain.GroupStatusCancelled, actorID, strings.TrimSpace(reason))
	})
}

// Complete records fulfillment confirmed by a group moderator.
func (s *LifecycleService) Complete(ctx context.Context, groupID snowflake.ID, actorID string) (domain.Snapshot, error) {
	return s.complete(ctx, groupID, s.memberGate(actorID, authorization.ActionGroupComplete))
}

// CompleteFulfillment records fulfillment reported by the supplier-order
// collaborator. The transition is attributed to SystemActor.
func (s *LifecycleService) CompleteFulfillment(ctx context.Context, groupID snowflake.ID) (domain.Snapshot, error) {
	return s.complete(ctx, groupID, s.systemGate(authorization.ActionGroupComplete))
}

func (s *LifecycleService) complete(ctx context.Context, groupID snowflake.ID, authorize gate) (domain.Snapshot, error) {
	return s.store.Mutate(ctx, groupID, func(ctx context.Context, tx *store.Tx) error {
		current := tx.Snapshot()
		actorID, err := authorize(ctx, current)
		if err != nil {
			return err
		}
		if current.Group.Status == domain.GroupStatusCompleted {
			return nil
		}
		return s.transition(tx, domain.GroupStatusCompleted, actorID, "")
	})
}

// EvaluateDeadline applies the deadline rule on behalf of the sweep. Before
// the deadline it changes nothing.
func (s *LifecycleService) EvaluateDeadline(ctx context.Context, groupID snowflake.ID) (domain.Snapshot, error) {
	return s.evaluateDeadline(ctx, groupID, s.systemGate(authorization.ActionGroupEvaluate))
}

// EvaluateDeadlineAs applies the deadline rule on request of a group moderator.
func (s *LifecycleService) EvaluateDeadlineAs(ctx context.Context, groupID snowflake.ID, actorID string) (domain.Snapshot, error) {
	return s.evaluateDeadline(ctx, groupID, s.memberGate(actorID, authorization.ActionGroupEvaluate))
}

func (s *LifecycleService) evaluateDeadline(ctx context.Context, groupID snowflake.ID, authorize gate) (domain.Snapshot, error) {
	return s.store.Mutate(ctx, groupID, func(ctx context.Context, tx *store.Tx) error {
		current := tx.Snapshot()
		actorID, err := authorize(ctx, current)
		if err != nil {
			return err
		}
		if !current.Group.DeadlinePassed(tx.Now()) {
			return nil
		}

		switch current.Group.Status {
		case domain.GroupStatusOpen:
			reason := ReasonDeadlineWithoutQuorum
			if current.Statistics.QuorumReached {
				reason = ReasonDeadlineNotAdvanced
			}
			return s.transition(tx, domain.GroupStatusCancelled, actorID, reason)
		case domain.GroupStatusCollecting:
			if !current.Statistics.QuorumReached {
				return s.transition(tx, domain.GroupStatusCancelled, actorID, ReasonDeadlineWithoutQuorum)
			}
			return s.transition(tx, domain.GroupStatusProcessing, actorID, ReasonDeadlineReached)
		}
		return nil
	})
}

// EvaluateQuorum moves an open group to collecting once enough members are
// approved and the deadline has not passed.
func (s *LifecycleService) EvaluateQuorum(ctx context.Context, groupID snowflake.ID) (domain.Snapshot, error) {
	return s.evaluateQuorum(ctx, groupID, s.systemGate(authorization.ActionGroupEvaluate))
}

func (s *LifecycleService) EvaluateQuorumAs(ctx context.Context, groupID snowflake.ID, actorID string) (domain.Snapshot, error) {
	return s.evaluateQuorum(ctx, groupID, s.memberGate(actorID, authorization.ActionGroupEvaluate))
}

func (s *LifecycleService) evaluateQuorum(ctx context.Context, groupID snowflake.ID, authorize gate) (domain.Snapshot, error) {
	return s.store.Mutate(ctx, groupID, func(ctx context.Context, tx *store.Tx) error {
		current := tx.Snapshot()
		actorID, err := authorize(ctx, current)
		if err != nil {
			return err
		}
		if current.Group.Status != domain.GroupStatusOpen {
			return nil
		}
		if current.Group.DeadlinePassed(tx.Now()) || !current.Statistics.QuorumReached {
			return nil
		}
		return s.transition(tx, domain.GroupStatusCollecting, actorID, ReasonQuorumReached)
	})
}

// gate authorizes the caller of a lifecycle operation against the locked
// snapshot and returns the actor id recorded on the transition.
type gate func(ctx context.Context, current domain.Snapshot) (string, error)

func (s *LifecycleService) memberGate(actorID, action string) gate {
	return func(ctx context.Context, current domain.Snapshot) (string, error) {
		m, err := access.RequireMember(ctx, s.authz, current, actorID, authorization.ObjectGroup, action)
		if err != nil {
			return "", err
		}
		return m.UserID, nil
	}
}

func (s *LifecycleService) systemGate(action string) gate {
	return func(ctx context.Context, _ domain.Snapshot) (string, error) {
		if err := access.Authorize(ctx, s.authz, authorization.RoleSystem, authorization.ObjectGroup, action); err != nil {
			return "", err
		}
		return domain.SystemActor, nil
	}
}

func (s *LifecycleService) transition(tx *store.Tx, to domain.GroupStatus, actorID, reason string) error {
	group := tx.Group()
	from := group.Status
	if !isTransitionAllowed(from, to) {
		return domain.ErrInvalidTransition
	}

	now := tx.Now()
	switch to {
	case domain.GroupStatusCollecting:
		group.CollectingAt = &now
	case domain.GroupStatusProcessing:
		group.ProcessingAt = &now
	case domain.GroupStatusCompleted:
		group.CompletedAt = &now
	case domain.GroupStatusCancelled:
		group.CancelledAt = &now
		group.CancelReason = reason
	}
	group.Status = to
	tx.MarkChanged()

	tx.Emit(domain.Event{
		Type:    domain.EventGroupTransitioned,
		ActorID: actorID,
		From:    from,
		To:      to,
		Reason:  reason,
	})
	s.log.Info("group transitioned",
		zap.String("group_id", group.ID.String()),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("actor_id", actorID),
		zap.String("reason", reason),
	)
	return nil
}

func isTransitionAllowed(from, to domain.GroupStatus) bool {
	switch from {
	case domain.GroupStatusOpen:
		return to == domain.GroupStatusCollecting || to == domain.GroupStatusCancelled
	case domain.GroupStatusCollecting:
		return to == domain.GroupStatusProcessing || to == domain.GroupStatusCancelled
	case domain.GroupStatusProcessing:
		return to == domain.GroupStatusCompleted
	default:
		return false
	}
}
