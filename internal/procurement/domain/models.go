// Package domain contains the persistence models and contracts for
// collective procurement groups.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// GroupStatus is the lifecycle state of a procurement group.
type GroupStatus string

const (
	GroupStatusOpen       GroupStatus = "OPEN"
	GroupStatusCollecting GroupStatus = "COLLECTING"
	GroupStatusProcessing GroupStatus = "PROCESSING"
	GroupStatusCompleted  GroupStatus = "COMPLETED"
	GroupStatusCancelled  GroupStatus = "CANCELLED"
)

func (s GroupStatus) Valid() bool {
	switch s {
	case GroupStatusOpen, GroupStatusCollecting, GroupStatusProcessing, GroupStatusCompleted, GroupStatusCancelled:
		return true
	}
	return false
}

// AcceptsMembers reports whether join requests and approvals are allowed.
func (s GroupStatus) AcceptsMembers() bool {
	return s == GroupStatusOpen || s == GroupStatusCollecting
}

// AcceptsOrders reports whether order lines may be added or changed.
func (s GroupStatus) AcceptsOrders() bool {
	return s == GroupStatusOpen || s == GroupStatusCollecting
}

func (s GroupStatus) Terminal() bool {
	return s == GroupStatusCompleted || s == GroupStatusCancelled
}

// Role is a member's role within one group.
type Role string

const (
	RoleCreator Role = "CREATOR"
	RoleAdmin   Role = "ADMIN"
	RoleMember  Role = "MEMBER"
)

func (r Role) Valid() bool {
	return r == RoleCreator || r == RoleAdmin || r == RoleMember
}

// Rank orders roles by authority; higher outranks lower.
func (r Role) Rank() int {
	switch r {
	case RoleCreator:
		return 3
	case RoleAdmin:
		return 2
	case RoleMember:
		return 1
	}
	return 0
}

type MembershipStatus string

const (
	MembershipStatusPending  MembershipStatus = "PENDING"
	MembershipStatusApproved MembershipStatus = "APPROVED"
	MembershipStatusRejected MembershipStatus = "REJECTED"
	MembershipStatusRemoved  MembershipStatus = "REMOVED"
)

// Live reports whether the membership still occupies the user's slot in the group.
func (s MembershipStatus) Live() bool {
	return s == MembershipStatusPending || s == MembershipStatusApproved
}

type OrderLineStatus string

const (
	OrderLineStatusProposed  OrderLineStatus = "PROPOSED"
	OrderLineStatusConfirmed OrderLineStatus = "CONFIRMED"
	OrderLineStatusWithdrawn OrderLineStatus = "WITHDRAWN"
)

// SupplierInfo is the optional supplier contact block of a group.
type SupplierInfo struct {
	Name    string `json:"name"`
	Contact string `json:"contact,omitempty"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
}

// Group is a collective procurement group pooling demand for one material category.
type Group struct {
	ID                 snowflake.ID                      `gorm:"primaryKey" json:"id"`
	Name               string                            `gorm:"type:text;not null" json:"name"`
	Slug               string                            `gorm:"type:text;not null;index" json:"slug"`
	Description        string                            `gorm:"type:text;not null" json:"description"`
	MaterialCategory   string                            `gorm:"type:text;not null;index" json:"material_category"`
	Location           string                            `gorm:"type:text;not null" json:"location"`
	TargetQuantity     float64                           `gorm:"not null" json:"target_quantity"`
	TargetPricePerUnit float64                           `gorm:"not null" json:"target_price_per_unit"`
	DiscountPercentage float64                           `gorm:"not null;default:0" json:"discount_percentage"`
	MinParticipants    int                               `gorm:"not null" json:"min_participants"`
	MaxParticipants    int                               `gorm:"not null" json:"max_participants"`
	OrderDeadline      time.Time                         `gorm:"not null;index" json:"order_deadline"`
	DeliveryDate       *time.Time                        `json:"delivery_date,omitempty"`
	Status             GroupStatus                       `gorm:"type:text;not null;index" json:"status"`
	CreatorID          string                            `gorm:"type:text;not null;index" json:"creator_id"`
	SupplierInfo       datatypes.JSONType[*SupplierInfo] `json:"supplier_info"`
	Terms              string                            `gorm:"type:text" json:"terms,omitempty"`
	Version            int64                             `gorm:"not null;default:1" json:"version"`
	CollectingAt       *time.Time                        `json:"collecting_at,omitempty"`
	ProcessingAt       *time.Time                        `json:"processing_at,omitempty"`
	CompletedAt        *time.Time                        `json:"completed_at,omitempty"`
	CancelledAt        *time.Time                        `json:"cancelled_at,omitempty"`
	CancelReason       string                            `gorm:"type:text" json:"cancel_reason,omitempty"`
	CreatedAt          time.Time                         `gorm:"not null" json:"created_at"`
	UpdatedAt          time.Time                         `gorm:"not null;autoUpdateTime:false" json:"updated_at"`
}

func (Group) TableName() string { return "procurement_groups" }

// Supplier returns the supplier contact block, nil when unset.
func (g Group) Supplier() *SupplierInfo {
	return g.SupplierInfo.Data()
}

// DeadlinePassed reports whether the order deadline is at or before now.
func (g Group) DeadlinePassed(now time.Time) bool {
	return !now.Before(g.OrderDeadline)
}

// Membership links a user to a group with a role and an admission status.
// Records are never deleted; re-joining after removal creates a new record.
type Membership struct {
	ID        snowflake.ID     `gorm:"primaryKey" json:"id"`
	GroupID   snowflake.ID     `gorm:"not null;index:idx_group_memberships_group_user" json:"group_id"`
	UserID    string           `gorm:"type:text;not null;index:idx_group_memberships_group_user" json:"user_id"`
	Role      Role             `gorm:"type:text;not null" json:"role"`
	Status    MembershipStatus `gorm:"type:text;not null" json:"status"`
	Message   string           `gorm:"type:text" json:"message,omitempty"`
	JoinedAt  time.Time        `gorm:"not null" json:"joined_at"`
	DecidedAt *time.Time       `json:"decided_at,omitempty"`
	DecidedBy string           `gorm:"type:text" json:"decided_by,omitempty"`
	RemovedAt *time.Time       `json:"removed_at,omitempty"`
	RemovedBy string           `gorm:"type:text" json:"removed_by,omitempty"`
	CreatedAt time.Time        `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time        `gorm:"not null;autoUpdateTime:false" json:"updated_at"`
}

func (Membership) TableName() string { return "group_memberships" }

// OrderLine is one member's material order within a group.
type OrderLine struct {
	ID             snowflake.ID    `gorm:"primaryKey" json:"id"`
	GroupID        snowflake.ID    `gorm:"not null;index" json:"group_id"`
	MembershipID   snowflake.ID    `gorm:"not null;index" json:"membership_id"`
	SubmittedBy    string          `gorm:"type:text;not null;index" json:"submitted_by"`
	MaterialName   string          `gorm:"type:text;not null" json:"material_name"`
	Specifications string          `gorm:"type:text" json:"specifications,omitempty"`
	Notes          string          `gorm:"type:text" json:"notes,omitempty"`
	Quantity       float64         `gorm:"not null" json:"quantity"`
	Unit           string          `gorm:"type:text;not null" json:"unit"`
	UnitPrice      float64         `gorm:"not null" json:"unit_price"`
	TotalPrice     float64         `gorm:"not null" json:"total_price"`
	Status         OrderLineStatus `gorm:"type:text;not null" json:"status"`
	ConfirmedAt    *time.Time      `json:"confirmed_at,omitempty"`
	WithdrawnAt    *time.Time      `json:"withdrawn_at,omitempty"`
	WithdrawnBy    string          `gorm:"type:text" json:"withdrawn_by,omitempty"`
	CreatedAt      time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"not null;autoUpdateTime:false" json:"updated_at"`
}

func (OrderLine) TableName() string { return "group_order_lines" }

// Active reports whether the line counts toward group totals.
func (l OrderLine) Active() bool {
	return l.Status != OrderLineStatusWithdrawn
}

// LineTotal is the only way a line total is derived.
func LineTotal(quantity, unitPrice float64) float64 {
	return quantity * unitPrice
}

// Statistics is derived from a snapshot on read and never stored.
type Statistics struct {
	TotalMembers          int     `json:"total_members"`
	ActiveMembers         int     `json:"active_members"`
	PendingMembers        int     `json:"pending_members"`
	TotalOrders           int     `json:"total_orders"`
	TotalQuantity         float64 `json:"total_quantity"`
	TotalValue            float64 `json:"total_value"`
	AverageOrderValue     float64 `json:"average_order_value"`
	CompletionPercentage  float64 `json:"completion_percentage"`
	EffectivePricePerUnit float64 `json:"effective_price_per_unit"`
	EstimatedSavings      float64 `json:"estimated_savings"`
	AvailableSpots        int     `json:"available_spots"`
	IsFull                bool    `json:"is_full"`
	QuorumReached         bool    `json:"quorum_reached"`
}

// Snapshot is the full current state of a group.
type Snapshot struct {
	Group       Group        `json:"group"`
	Memberships []Membership `json:"members"`
	OrderLines  []OrderLine  `json:"materials"`
	Statistics  Statistics   `json:"statistics"`
}

// LiveMembership returns the user's pending or approved membership, if any.
func (s Snapshot) LiveMembership(userID string) (Membership, bool) {
	for _, m := range s.Memberships {
		if m.UserID == userID && m.Status.Live() {
			return m, true
		}
	}
	return Membership{}, false
}

// ApprovedMembership returns the user's approved membership, if any.
func (s Snapshot) ApprovedMembership(userID string) (Membership, bool) {
	m, ok := s.LiveMembership(userID)
	if !ok || m.Status != MembershipStatusApproved {
		return Membership{}, false
	}
	return m, true
}

func (s Snapshot) Membership(id snowflake.ID) (Membership, bool) {
	for _, m := range s.Memberships {
		if m.ID == id {
			return m, true
		}
	}
	return Membership{}, false
}

func (s Snapshot) OrderLine(id snowflake.ID) (OrderLine, bool) {
	for _, l := range s.OrderLines {
		if l.ID == id {
			return l, true
		}
	}
	return OrderLine{}, false
}

// ActiveOrderLines returns non-withdrawn lines in insertion order.
func (s Snapshot) ActiveOrderLines() []OrderLine {
	out := make([]OrderLine, 0, len(s.OrderLines))
	for _, l := range s.OrderLines {
		if l.Active() {
			out = append(out, l)
		}
	}
	return out
}

// ApprovedCount is the number of approved members, the quorum and capacity measure.
func (s Snapshot) ApprovedCount() int {
	n := 0
	for _, m := range s.Memberships {
		if m.Status == MembershipStatusApproved {
			n++
		}
	}
	return n
}
