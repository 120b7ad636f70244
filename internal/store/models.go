package store

import (
	"time"

	"lexwrite/api/internal/entitlement"
)

type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

type Profile struct {
	ID                   string
	Email                string
	FullName             string
	AvatarURL            string
	SubscriptionStatus   string
	SubscriptionInterval string
	CurrentPeriodEnd     *time.Time
	TrialEndsAt          *time.Time
	StripeCustomerID     string
	SubscriptionID       string
	BillingSyncedAt      *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Snapshot projects the profile onto the fields the entitlement gate reads.
func (p Profile) Snapshot() *entitlement.Snapshot {
	return &entitlement.Snapshot{
		Status:           entitlement.NormalizeStatus(p.SubscriptionStatus),
		CurrentPeriodEnd: p.CurrentPeriodEnd,
		TrialEndsAt:      p.TrialEndsAt,
	}
}

type Document struct {
	ID        string
	UserID    string
	Title     string
	Content   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type CommitInfo struct {
	Hash      string
	Message   string
	Author    string
	CreatedAt time.Time
}

// ProfileKey selects the profile a billing event applies to.
type ProfileKey struct {
	Column string
	Value  string
}

func ByProfileID(id string) ProfileKey { return ProfileKey{Column: "id", Value: id} }
func ByCustomerID(id string) ProfileKey { return ProfileKey{Column: "stripe_customer_id", Value: id} }
func BySubscriptionID(id string) ProfileKey { return ProfileKey{Column: "subscription_id", Value: id} }

// SubscriptionUpdate is applied by the billing webhook. Empty strings and nil
// times leave the stored value untouched.
type SubscriptionUpdate struct {
	Status           entitlement.Status
	CustomerID       string
	SubscriptionID   string
	Interval         string
	CurrentPeriodEnd *time.Time
	TrialEndsAt      *time.Time
	EventAt          time.Time
}
