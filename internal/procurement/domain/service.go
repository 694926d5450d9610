package domain

import (
	"context"
	"iter"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/bulkbuy/pkg/db/pagination"
)

// SystemActor is recorded as the actor of automatic transitions. It is
// reserved and never identifies a user.
const SystemActor = "system"

// UserActor normalizes a caller-supplied user id, rejecting the empty id and
// SystemActor.
func UserActor(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" || id == SystemActor {
		return "", ErrInvalidActor
	}
	return id, nil
}

type CreateGroupRequest struct {
	CreatorID          string
	Name               string
	Description        string
	MaterialCategory   string
	Location           string
	TargetQuantity     float64
	TargetPricePerUnit float64
	DiscountPercentage float64
	MinParticipants    int
	MaxParticipants    int
	OrderDeadline      time.Time
	DeliveryDate       *time.Time
	SupplierInfo       *SupplierInfo
	Terms              string
}

type JoinRequest struct {
	GroupID snowflake.ID
	UserID  string
	Message string
}

type DecideRequest struct {
	GroupID      snowflake.ID
	MembershipID snowflake.ID
	DeciderID    string
	Approve      bool
}

type RemoveRequest struct {
	GroupID      snowflake.ID
	MembershipID snowflake.ID
	ActorID      string
}

type AssignRoleRequest struct {
	GroupID      snowflake.ID
	MembershipID snowflake.ID
	ActorID      string
	Role         Role
}

type AddOrderLineRequest struct {
	GroupID        snowflake.ID
	UserID         string
	MaterialName   string
	Specifications string
	Quantity       float64
	Unit           string
	UnitPrice      float64
	Notes          string
}

type OrderLineActionRequest struct {
	OrderLineID snowflake.ID
	ActorID     string
}

type ListGroupsRequest struct {
	pagination.Pagination
	Status           GroupStatus
	MaterialCategory string
	Location         string
	MinDiscount      float64
	OnlyAvailable    bool
}

type ListMyGroupsRequest struct {
	pagination.Pagination
	UserID string
	Status GroupStatus
}

// GroupSummary is a directory entry with statistics derived from approved members.
type GroupSummary struct {
	Group
	ActiveMembers  int  `json:"active_members"`
	AvailableSpots int  `json:"available_spots"`
	IsFull         bool `json:"is_full"`
}

type ListGroupsResponse struct {
	pagination.PageInfo
	Groups []GroupSummary `json:"groups"`
}

// GroupDetail is a snapshot viewed by one user.
type GroupDetail struct {
	Snapshot
	UserMembership *Membership `json:"user_membership,omitempty"`
}

type MembershipManager interface {
	RequestJoin(ctx context.Context, req JoinRequest) (Snapshot, error)
	Decide(ctx context.Context, req DecideRequest) (Snapshot, error)
	Leave(ctx context.Context, groupID snowflake.ID, userID string) (Snapshot, error)
	Remove(ctx context.Context, req RemoveRequest) (Snapshot, error)
	AssignRole(ctx context.Context, req AssignRoleRequest) (Snapshot, error)
}

type OrderLedger interface {
	AddOrderLine(ctx context.Context, req AddOrderLineRequest) (Snapshot, error)
	WithdrawOrderLine(ctx context.Context, req OrderLineActionRequest) (Snapshot, error)
	ConfirmOrderLine(ctx context.Context, req OrderLineActionRequest) (Snapshot, error)
	// ListActive yields non-withdrawn lines in insertion order. Each range
	// over the returned sequence starts from the beginning.
	ListActive(ctx context.Context, groupID snowflake.ID) iter.Seq2[OrderLine, error]
	ListActivePage(ctx context.Context, groupID snowflake.ID, page pagination.Pagination) ([]OrderLine, pagination.PageInfo, error)
}

type LifecycleController interface {
	CreateGroup(ctx context.Context, req CreateGroupRequest) (Snapshot, error)
	AdvanceToCollecting(ctx context.Context, groupID snowflake.ID, actorID string) (Snapshot, error)
	ProcessOrders(ctx context.Context, groupID snowflake.ID, actorID string) (Snapshot, error)
	Cancel(ctx context.Context, groupID snowflake.ID, actorID, reason string) (Snapshot, error)
	Complete(ctx context.Context, groupID snowflake.ID, actorID string) (Snapshot, error)
	CompleteFulfillment(ctx context.Context, groupID snowflake.ID) (Snapshot, error)
	EvaluateDeadline(ctx context.Context, groupID snowflake.ID) (Snapshot, error)
	EvaluateDeadlineAs(ctx context.Context, groupID snowflake.ID, actorID string) (Snapshot, error)
	EvaluateQuorum(ctx context.Context, groupID snowflake.ID) (Snapshot, error)
	EvaluateQuorumAs(ctx context.Context, groupID snowflake.ID, actorID string) (Snapshot, error)
}

type Directory interface {
	Get(ctx context.Context, groupID snowflake.ID, viewerID string) (GroupDetail, error)
	List(ctx context.Context, req ListGroupsRequest) (ListGroupsResponse, error)
	ListMine(ctx context.Context, req ListMyGroupsRequest) (ListGroupsResponse, error)
}
