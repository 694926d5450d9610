package statistics

import (
	"testing"

	"github.com/smallbiznis/bulkbuy/internal/procurement/domain"
	"github.com/stretchr/testify/assert"
)

func TestProject_EmptyGroup(t *testing.T) {
	stats := Project(domain.Snapshot{
		Group: domain.Group{TargetQuantity: 100, TargetPricePerUnit: 10, MinParticipants: 3, MaxParticipants: 5},
	})

	assert.Zero(t, stats.TotalOrders)
	assert.Zero(t, stats.AverageOrderValue)
	assert.Zero(t, stats.CompletionPercentage)
	assert.Equal(t, 5, stats.AvailableSpots)
	assert.False(t, stats.IsFull)
	assert.False(t, stats.QuorumReached)
}

func TestProject_ExcludesWithdrawnAndTerminalMembers(t *testing.T) {
	snapshot := domain.Snapshot{
		Group: domain.Group{
			TargetQuantity:     100,
			TargetPricePerUnit: 10,
			DiscountPercentage: 20,
			MinParticipants:    2,
			MaxParticipants:    3,
		},
		Memberships: []domain.Membership{
			{Status: domain.MembershipStatusApproved},
			{Status: domain.MembershipStatusApproved},
			{Status: domain.MembershipStatusPending},
			{Status: domain.MembershipStatusRejected},
			{Status: domain.MembershipStatusRemoved},
		},
		OrderLines: []domain.OrderLine{
			{Quantity: 10, TotalPrice: 100, Status: domain.OrderLineStatusProposed},
			{Quantity: 15, TotalPrice: 150, Status: domain.OrderLineStatusConfirmed},
			{Quantity: 40, TotalPrice: 400, Status: domain.OrderLineStatusWithdrawn},
		},
	}

	stats := Project(snapshot)

	assert.Equal(t, 3, stats.TotalMembers)
	assert.Equal(t, 2, stats.ActiveMembers)
	assert.Equal(t, 1, stats.PendingMembers)
	assert.Equal(t, 2, stats.TotalOrders)
	assert.InDelta(t, 25, stats.TotalQuantity, 1e-9)
	assert.InDelta(t, 250, stats.TotalValue, 1e-9)
	assert.InDelta(t, 125, stats.AverageOrderValue, 1e-9)
	assert.InDelta(t, 25, stats.CompletionPercentage, 1e-9)
	assert.InDelta(t, 8, stats.EffectivePricePerUnit, 1e-9)
	assert.InDelta(t, 50, stats.EstimatedSavings, 1e-9)
	assert.Equal(t, 1, stats.AvailableSpots)
	assert.False(t, stats.IsFull)
	assert.True(t, stats.QuorumReached)
}

func TestProject_CompletionIsCapped(t *testing.T) {
	stats := Project(domain.Snapshot{
		Group: domain.Group{TargetQuantity: 10, MaxParticipants: 1},
		Memberships: []domain.Membership{
			{Status: domain.MembershipStatusApproved},
		},
		OrderLines: []domain.OrderLine{
			{Quantity: 30, TotalPrice: 30, Status: domain.OrderLineStatusProposed},
		},
	})

	assert.Equal(t, 100.0, stats.CompletionPercentage)
	assert.True(t, stats.IsFull)
	assert.Zero(t, stats.AvailableSpots)
}
