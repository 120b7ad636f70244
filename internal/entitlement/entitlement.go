// Package entitlement decides whether a profile may use premium features.
package entitlement

import (
	"strings"
	"time"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusCanceled Status = "canceled"
	StatusTrialing Status = "trialing"
)

// Snapshot is the subset of a profile the gate reads.
type Snapshot struct {
	Status           Status
	CurrentPeriodEnd *time.Time
	TrialEndsAt      *time.Time
}

// Evaluate reports premium access at now. An active subscription counts only
// while its period end lies in the future; a trial counts while trial_ends_at
// lies in the future, whatever the status says.
func Evaluate(s *Snapshot, now time.Time) bool {
	if s == nil {
		return false
	}
	return SubscriptionActive(*s, now) || TrialActive(*s, now)
}

func SubscriptionActive(s Snapshot, now time.Time) bool {
	return s.Status == StatusActive && s.CurrentPeriodEnd != nil && s.CurrentPeriodEnd.After(now)
}

func TrialActive(s Snapshot, now time.Time) bool {
	return s.TrialEndsAt != nil && s.TrialEndsAt.After(now)
}

// NormalizeStatus maps stored values onto the four known statuses.
// Unknown values are inactive.
func NormalizeStatus(value string) Status {
	switch Status(strings.ToLower(strings.TrimSpace(value))) {
	case StatusActive:
		return StatusActive
	case StatusCanceled:
		return StatusCanceled
	case StatusTrialing:
		return StatusTrialing
	default:
		return StatusInactive
	}
}

// MapStripeStatus converts a Stripe subscription status. Anything that is not
// explicitly paid or trialing fails closed to inactive.
func MapStripeStatus(stripeStatus string) Status {
	switch strings.ToLower(strings.TrimSpace(stripeStatus)) {
	case "active":
		return StatusActive
	case "trialing":
		return StatusTrialing
	case "canceled":
		return StatusCanceled
	default:
		// past_due, unpaid, incomplete, incomplete_expired, paused
		return StatusInactive
	}
}
