package authorization

import (
	"context"
	"errors"
)

var (
	ErrInvalidRole   = errors.New("invalid_role")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
	ErrForbidden     = errors.New("forbidden")
)

// RoleSystem is the role of sweeps and the fulfillment collaborator.
const RoleSystem = "system"

type Service interface {
	// Authorize checks whether a group role may perform action on object.
	Authorize(ctx context.Context, role string, object string, action string) error
}
