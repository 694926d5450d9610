package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/bulkbuy/internal/authorization"
	"github.com/smallbiznis/bulkbuy/internal/observability/metrics"
	"github.com/smallbiznis/bulkbuy/internal/procurement/access"
	"github.com/smallbiznis/bulkbuy/internal/procurement/domain"
	"github.com/smallbiznis/bulkbuy/internal/procurement/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type MembershipParams struct {
	fx.In

	Log     *zap.Logger
	Store   *store.Store
	Authz   authorization.Service
	Metrics *metrics.Metrics `optional:"true"`
}

type MembershipService struct {
	log     *zap.Logger
	store   *store.Store
	authz   authorization.Service
	metrics *metrics.Metrics
}

func NewMembershipService(p MembershipParams) domain.MembershipManager {
	return &MembershipService{
		log:     p.Log.Named("membership.service"),
		store:   p.Store,
		authz:   p.Authz,
		metrics: p.Metrics,
	}
}

func (s *MembershipService) RequestJoin(ctx context.Context, req domain.JoinRequest) (domain.Snapshot, error) {
	userID, err := domain.UserActor(req.UserID)
	if err != nil {
		return domain.Snapshot{}, err
	}

	snapshot, err := s.store.Mutate(ctx, req.GroupID, func(ctx context.Context, tx *store.Tx) error {
		current := tx.Snapshot()
		if !current.Group.Status.AcceptsMembers() {
			return domain.ErrGroupNotJoinable
		}
		if _, ok := current.LiveMembership(userID); ok {
			return domain.ErrAlreadyMember
		}
		if current.ApprovedCount() >= current.Group.MaxParticipants {
			return domain.ErrGroupFull
		}

		membership := &domain.Membership{
			UserID:  userID,
			Role:    domain.RoleMember,
			Status:  domain.MembershipStatusPending,
			Message: strings.TrimSpace(req.Message),
		}
		if err := tx.AddMembership(membership); err != nil {
			return err
		}
		tx.Emit(domain.Event{
			Type:         domain.EventMembershipRequested,
			ActorID:      userID,
			MembershipID: membership.ID,
			UserID:       userID,
		})
		return nil
	})
	if err != nil {
		return domain.Snapshot{}, err
	}

	s.metrics.RecordJoinRequest(ctx, snapshot.Group.MaterialCategory)
	return snapshot, nil
}

func (s *MembershipService) Decide(ctx context.Context, req domain.DecideRequest) (domain.Snapshot, error) {
	snapshot, err := s.store.Mutate(ctx, req.GroupID, func(ctx context.Context, tx *store.Tx) error {
		current := tx.Snapshot()
		if _, err := access.RequireMember(ctx, s.authz, current, req.DeciderID, authorization.ObjectMembership, authorization.ActionMembershipDecide); err != nil {
			return err
		}

		target, ok := current.Membership(req.MembershipID)
		if !ok {
			return domain.ErrMembershipNotFound
		}
		if target.Status != domain.MembershipStatusPending {
			return domain.ErrInvalidState
		}

		decision := domain.MembershipStatusRejected
		if req.Approve {
			if !current.Group.Status.AcceptsMembers() {
				return domain.ErrGroupNotJoinable
			}
			if current.ApprovedCount() >= current.Group.MaxParticipants {
				return domain.ErrGroupFull
			}
			decision = domain.MembershipStatusApproved
		}

		now := tx.Now()
		target.Status = decision
		target.DecidedAt = &now
		target.DecidedBy = strings.TrimSpace(req.DeciderID)
		if err := tx.SaveMembership(&target); err != nil {
			return err
		}
		tx.Emit(domain.Event{
			Type:         domain.EventMembershipDecided,
			ActorID:      target.DecidedBy,
			MembershipID: target.ID,
			UserID:       target.UserID,
			Decision:     decision,
		})
		return nil
	})
	if err != nil {
		return domain.Snapshot{}, err
	}

	outcome := "rejected"
	if req.Approve {
		outcome = "approved"
	}
	s.metrics.RecordMemberDecision(ctx, outcome)
	return snapshot, nil
}

func (s *MembershipService) Leave(ctx context.Context, groupID snowflake.ID, userID string) (domain.Snapshot, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Snapshot{}, domain.ErrInvalidActor
	}

	return s.store.Mutate(ctx, groupID, func(ctx context.Context, tx *store.Tx) error {
		membership, ok := tx.Snapshot().LiveMembership(userID)
		if !ok {
			return domain.ErrNotMember
		}
		if membership.Role == domain.RoleCreator {
			return domain.ErrCreatorCannotLeave
		}
		return s.remove(tx, membership, userID)
	})
}

func (s *MembershipService) Remove(ctx context.Context, req domain.RemoveRequest) (domain.Snapshot, error) {
	return s.store.Mutate(ctx, req.GroupID, func(ctx context.Context, tx *store.Tx) error {
		current := tx.Snapshot()
		actor, err := access.RequireMember(ctx, s.authz, current, req.ActorID, authorization.ObjectMembership, authorization.ActionMembershipRemove)
		if err != nil {
			return err
		}

		target, ok := current.Membership(req.MembershipID)
		if !ok {
			return domain.ErrMembershipNotFound
		}
		if !target.Status.Live() {
			return domain.ErrInvalidState
		}
		if target.Role == domain.RoleCreator {
			return domain.ErrCreatorCannotLeave
		}
		if target.ID == actor.ID || target.Role.Rank() >= actor.Role.Rank() {
			return domain.ErrForbidden
		}
		return s.remove(tx, target, actor.UserID)
	})
}

// remove marks the membership removed and withdraws its lines while the
// group still accepts order changes. Lines of a processing group are frozen.
func (s *MembershipService) remove(tx *store.Tx, membership domain.Membership, actorID string) error {
	now := tx.Now()
	membership.Status = domain.MembershipStatusRemoved
	membership.RemovedAt = &now
	membership.RemovedBy = actorID
	if err := tx.SaveMembership(&membership); err != nil {
		return err
	}

	current := tx.Snapshot()
	if current.Group.Status.AcceptsOrders() {
		for _, line := range current.OrderLines {
			if line.MembershipID != membership.ID || !line.Active() {
				continue
			}
			line.Status = domain.OrderLineStatusWithdrawn
			line.WithdrawnAt = &now
			line.WithdrawnBy = actorID
			if err := tx.SaveOrderLine(&line); err != nil {
				return err
			}
		}
	}

	tx.Emit(domain.Event{
		Type:         domain.EventMembershipRemoved,
		ActorID:      actorID,
		MembershipID: membership.ID,
		UserID:       membership.UserID,
	})
	return nil
}

func (s *MembershipService) AssignRole(ctx context.Context, req domain.AssignRoleRequest) (domain.Snapshot, error) {
	if req.Role != domain.RoleAdmin && req.Role != domain.RoleMember {
		return domain.Snapshot{}, domain.ErrInvalidRole
	}

	return s.store.Mutate(ctx, req.GroupID, func(ctx context.Context, tx *store.Tx) error {
		current := tx.Snapshot()
		if _, err := access.RequireMember(ctx, s.authz, current, req.ActorID, authorization.ObjectMembership, authorization.ActionMembershipAssignRole); err != nil {
			return err
		}

		target, ok := current.Membership(req.MembershipID)
		if !ok {
			return domain.ErrMembershipNotFound
		}
		if target.Status != domain.MembershipStatusApproved {
			return domain.ErrNotApproved
		}
		if target.Role == domain.RoleCreator {
			return domain.ErrForbidden
		}
		if target.Role == req.Role {
			return nil
		}

		target.Role = req.Role
		return tx.SaveMembership(&target)
	})
}
