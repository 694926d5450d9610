package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

//go:embed model.conf
var modelText string

const (
	ObjectGroup      = "group"
	ObjectMembership = "membership"
	ObjectOrderLine  = "order_line"
)

const (
	ActionMembershipDecide     = "membership.decide"
	ActionMembershipRemove     = "membership.remove"
	ActionMembershipAssignRole = "membership.assign_role"

	ActionOrderLineAdd         = "order_line.add"
	ActionOrderLineWithdrawAny = "order_line.withdraw_any"
	ActionOrderLineConfirm     = "order_line.confirm"

	ActionGroupAdvance  = "group.advance"
	ActionGroupProcess  = "group.process"
	ActionGroupCancel   = "group.cancel"
	ActionGroupComplete = "group.complete"
	ActionGroupEvaluate = "group.evaluate"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

// NewEnforcer builds an in-memory enforcer seeded with the group role policy.
func NewEnforcer() (*casbin.SyncedEnforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, role string, object string, action string) error {
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		return ErrInvalidRole
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	allowed, err := s.enforcer.Enforce(subject(role), object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Debug("authorization denied",
			zap.String("role", role),
			zap.String("object", object),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	return nil
}

func subject(role string) string {
	return fmt.Sprintf("role:%s", role)
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Member permissions
		{"role:member", ObjectOrderLine, ActionOrderLineAdd},

		// Admin permissions
		{"role:admin", ObjectOrderLine, ActionOrderLineAdd},
		{"role:admin", ObjectOrderLine, ActionOrderLineWithdrawAny},
		{"role:admin", ObjectOrderLine, ActionOrderLineConfirm},
		{"role:admin", ObjectMembership, ActionMembershipDecide},
		{"role:admin", ObjectMembership, ActionMembershipRemove},
		{"role:admin", ObjectGroup, ActionGroupCancel},
		{"role:admin", ObjectGroup, ActionGroupEvaluate},

		// Creator permissions
		{"role:creator", ObjectOrderLine, ActionOrderLineAdd},
		{"role:creator", ObjectOrderLine, ActionOrderLineWithdrawAny},
		{"role:creator", ObjectOrderLine, ActionOrderLineConfirm},
		{"role:creator", ObjectMembership, ActionMembershipDecide},
		{"role:creator", ObjectMembership, ActionMembershipRemove},
		{"role:creator", ObjectMembership, ActionMembershipAssignRole},
		{"role:creator", ObjectGroup, ActionGroupAdvance},
		{"role:creator", ObjectGroup, ActionGroupProcess},
		{"role:creator", ObjectGroup, ActionGroupCancel},
		{"role:creator", ObjectGroup, ActionGroupComplete},
		{"role:creator", ObjectGroup, ActionGroupEvaluate},

		// System permissions (sweeps and fulfillment)
		{"role:system", ObjectGroup, ActionGroupEvaluate},
		{"role:system", ObjectGroup, ActionGroupComplete},
	}

	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
