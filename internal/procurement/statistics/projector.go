// Package statistics derives group statistics from a snapshot.
package statistics

import (
	"math"

	"github.com/smallbiznis/bulkbuy/internal/procurement/domain"
)

// Project computes statistics for one snapshot. It reads nothing else, so
// the result is always consistent with the records it was given.
func Project(s domain.Snapshot) domain.Statistics {
	var stats domain.Statistics

	for _, m := range s.Memberships {
		switch m.Status {
		case domain.MembershipStatusApproved:
			stats.ActiveMembers++
			stats.TotalMembers++
		case domain.MembershipStatusPending:
			stats.PendingMembers++
			stats.TotalMembers++
		}
	}

	for _, line := range s.OrderLines {
		if !line.Active() {
			continue
		}
		stats.TotalOrders++
		stats.TotalQuantity += line.Quantity
		stats.TotalValue += line.TotalPrice
	}

	if stats.TotalOrders > 0 {
		stats.AverageOrderValue = stats.TotalValue / float64(stats.TotalOrders)
	}
	if s.Group.TargetQuantity > 0 {
		stats.CompletionPercentage = math.Min(100, stats.TotalQuantity/s.Group.TargetQuantity*100)
	}

	stats.EffectivePricePerUnit = EffectivePrice(s.Group.TargetPricePerUnit, s.Group.DiscountPercentage)
	stats.EstimatedSavings = (s.Group.TargetPricePerUnit - stats.EffectivePricePerUnit) * stats.TotalQuantity

	stats.AvailableSpots = max(0, s.Group.MaxParticipants-stats.ActiveMembers)
	stats.IsFull = stats.ActiveMembers >= s.Group.MaxParticipants
	stats.QuorumReached = stats.ActiveMembers >= s.Group.MinParticipants

	return stats
}

// EffectivePrice applies the group discount to the target unit price.
func EffectivePrice(target, discountPercentage float64) float64 {
	return target * (1 - discountPercentage/100)
}
