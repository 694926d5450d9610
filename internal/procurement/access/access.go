// Package access checks group roles against the authorization policy.
package access

import (
	"context"
	"errors"
	"strings"

	"github.com/smallbiznis/bulkbuy/internal/authorization"
	"github.com/smallbiznis/bulkbuy/internal/procurement/domain"
)

// RequireMember returns the actor's approved membership in s and checks that
// its role may perform action on object.
func RequireMember(ctx context.Context, authz authorization.Service, s domain.Snapshot, actorID, object, action string) (domain.Membership, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return domain.Membership{}, domain.ErrInvalidActor
	}
	m, ok := s.ApprovedMembership(actorID)
	if !ok {
		return domain.Membership{}, domain.ErrForbidden
	}
	if err := Authorize(ctx, authz, string(m.Role), object, action); err != nil {
		return domain.Membership{}, err
	}
	return m, nil
}

// Authorize maps authorization failures onto domain errors.
func Authorize(ctx context.Context, authz authorization.Service, role, object, action string) error {
	err := authz.Authorize(ctx, role, object, action)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, authorization.ErrForbidden), errors.Is(err, authorization.ErrInvalidRole):
		return domain.ErrForbidden
	default:
		return err
	}
}
