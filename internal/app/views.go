package app

import (
	"time"

	"lexwrite/api/internal/store"
)

// Row views use the column names the editor already reads.

func sessionView(session Session) map[string]any {
	return map[string]any{
		"accessToken":  session.Token,
		"refreshToken": session.RefreshToken,
		"expiresAt":    session.ExpiresAt.Unix(),
		"user": map[string]any{
			"id":    session.UserID,
			"email": session.Email,
			"role":  session.Role,
		},
	}
}

func appContextView(appCtx AppContext) map[string]any {
	var profile any
	if appCtx.Profile != nil {
		profile = profileView(*appCtx.Profile)
	}
	return map[string]any{
		"authenticated": true,
		"user": map[string]any{
			"id":    appCtx.Session.UserID,
			"email": appCtx.Session.Email,
			"role":  appCtx.Session.Role,
		},
		"profile":    profile,
		"hasPremium": appCtx.HasPremium,
		"features":   appCtx.Features,
	}
}

func profileView(p store.Profile) map[string]any {
	return map[string]any{
		"id":                    p.ID,
		"email":                 p.Email,
		"full_name":             nilIfEmpty(p.FullName),
		"avatar_url":            nilIfEmpty(p.AvatarURL),
		"subscription_status":   p.SubscriptionStatus,
		"subscription_interval": nilIfEmpty(p.SubscriptionInterval),
		"current_period_end":    timeOrNil(p.CurrentPeriodEnd),
		"trial_ends_at":         timeOrNil(p.TrialEndsAt),
		"stripe_customer_id":    nilIfEmpty(p.StripeCustomerID),
		"subscription_id":       nilIfEmpty(p.SubscriptionID),
		"created_at":            p.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":            p.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func documentView(doc store.Document) map[string]any {
	return map[string]any{
		"id":         doc.ID,
		"user_id":    doc.UserID,
		"title":      doc.Title,
		"content":    doc.Content,
		"created_at": doc.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at": doc.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func commitView(commit store.CommitInfo) map[string]any {
	return map[string]any{
		"hash":      commit.Hash,
		"message":   commit.Message,
		"author":    commit.Author,
		"createdAt": commit.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func nilIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func timeOrNil(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339)
}
