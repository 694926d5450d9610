package domain

import "errors"

var (
	ErrInvalidName         = errors.New("invalid_name")
	ErrInvalidDescription  = errors.New("invalid_description")
	ErrInvalidCategory     = errors.New("invalid_material_category")
	ErrInvalidLocation     = errors.New("invalid_location")
	ErrInvalidTarget       = errors.New("invalid_target_quantity")
	ErrInvalidTargetPrice  = errors.New("invalid_target_price")
	ErrInvalidDiscount     = errors.New("invalid_discount_percentage")
	ErrInvalidParticipants = errors.New("invalid_participants")
	ErrInvalidDeadline     = errors.New("invalid_order_deadline")
	ErrInvalidDeliveryDate = errors.New("invalid_delivery_date")
	ErrInvalidQuantity     = errors.New("invalid_quantity")
	ErrInvalidPrice        = errors.New("invalid_price")
	ErrInvalidMaterial     = errors.New("invalid_material_name")
	ErrInvalidUnit         = errors.New("invalid_unit")
	ErrInvalidRole         = errors.New("invalid_role")
	ErrInvalidStatus       = errors.New("invalid_status")
	ErrInvalidID           = errors.New("invalid_id")
	ErrInvalidActor        = errors.New("invalid_actor")

	ErrGroupNotFound      = errors.New("group_not_found")
	ErrMembershipNotFound = errors.New("membership_not_found")
	ErrOrderLineNotFound  = errors.New("order_line_not_found")

	ErrForbidden          = errors.New("forbidden")
	ErrNotMember          = errors.New("not_member")
	ErrNotApproved        = errors.New("membership_not_approved")
	ErrCreatorCannotLeave = errors.New("creator_cannot_leave")

	ErrAlreadyMember        = errors.New("already_member")
	ErrGroupFull            = errors.New("group_full")
	ErrGroupNotJoinable     = errors.New("group_not_joinable")
	ErrGroupClosed          = errors.New("group_closed")
	ErrInvalidState         = errors.New("invalid_state")
	ErrInvalidTransition    = errors.New("invalid_transition")
	ErrQuorumNotMet         = errors.New("quorum_not_met")
	ErrDeadlinePassed       = errors.New("deadline_passed")
	ErrConcurrentUpdate     = errors.New("concurrent_update")
	ErrLockUnavailable      = errors.New("group_lock_unavailable")
	ErrSnapshotInconsistent = errors.New("snapshot_inconsistent")
)

// Kind classifies domain errors for callers that map them to transport codes.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindConflict      Kind = "conflict"
	KindAuthorization Kind = "authorization"
	KindNotFound      Kind = "not_found"
	KindFatal         Kind = "fatal"
)

var kinds = map[error]Kind{
	ErrInvalidName:         KindValidation,
	ErrInvalidDescription:  KindValidation,
	ErrInvalidCategory:     KindValidation,
	ErrInvalidLocation:     KindValidation,
	ErrInvalidTarget:       KindValidation,
	ErrInvalidTargetPrice:  KindValidation,
	ErrInvalidDiscount:     KindValidation,
	ErrInvalidParticipants: KindValidation,
	ErrInvalidDeadline:     KindValidation,
	ErrInvalidDeliveryDate: KindValidation,
	ErrInvalidQuantity:     KindValidation,
	ErrInvalidPrice:        KindValidation,
	ErrInvalidMaterial:     KindValidation,
	ErrInvalidUnit:         KindValidation,
	ErrInvalidRole:         KindValidation,
	ErrInvalidStatus:       KindValidation,
	ErrInvalidID:           KindValidation,
	ErrInvalidActor:        KindValidation,
	ErrInvalidState:        KindValidation,

	ErrGroupNotFound:      KindNotFound,
	ErrMembershipNotFound: KindNotFound,
	ErrOrderLineNotFound:  KindNotFound,

	ErrForbidden:          KindAuthorization,
	ErrNotMember:          KindAuthorization,
	ErrNotApproved:        KindAuthorization,
	ErrCreatorCannotLeave: KindAuthorization,

	ErrAlreadyMember:     KindConflict,
	ErrGroupFull:         KindConflict,
	ErrGroupNotJoinable:  KindConflict,
	ErrGroupClosed:       KindConflict,
	ErrInvalidTransition: KindConflict,
	ErrQuorumNotMet:      KindConflict,
	ErrDeadlinePassed:    KindConflict,
	ErrConcurrentUpdate:  KindConflict,
	ErrLockUnavailable:   KindConflict,

	ErrSnapshotInconsistent: KindFatal,
}

// KindOf returns the kind of the first domain error found in err's chain.
// Unknown errors are fatal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for sentinel, kind := range kinds {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindFatal
}

// Retryable reports whether the same call may succeed once the group changes.
func Retryable(err error) bool {
	return errors.Is(err, ErrConcurrentUpdate) || errors.Is(err, ErrLockUnavailable)
}

// Code returns the snake_case text of the first domain error in err's chain,
// empty when there is none.
func Code(err error) string {
	for sentinel := range kinds {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return ""
}
