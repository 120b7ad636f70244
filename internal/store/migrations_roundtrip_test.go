package store

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

func TestMigrationsRoundTripPostgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("LEXWRITE_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("LEXWRITE_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}

	if err := ApplyMigrations(ctx, db); err != nil {
		t.Fatalf("apply up migrations (pass 1): %v", err)
	}
	if err := ResetMigrations(ctx, db); err != nil {
		t.Fatalf("reset migrations: %v", err)
	}
	if err := ApplyMigrations(ctx, db); err != nil {
		t.Fatalf("apply up migrations (pass 2): %v", err)
	}

	store := NewPostgresStore(db)
	profile, err := store.CreateUserWithProfile(ctx, User{
		ID:           "6f1c6c1e-8a0e-4d4b-9a55-2b0f2f9a1c11",
		Email:        "Ada@Example.com",
		PasswordHash: "hash",
	}, "Ada")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if profile.Email != "ada@example.com" || profile.SubscriptionStatus != "inactive" {
		t.Fatalf("unexpected profile: %+v", profile)
	}

	eventAt := time.Now().UTC()
	periodEnd := eventAt.Add(7 * 24 * time.Hour)
	applied, err := store.ApplySubscription(ctx, ByProfileID(profile.ID), SubscriptionUpdate{
		Status:           "active",
		CustomerID:       "cus_1",
		CurrentPeriodEnd: &periodEnd,
		EventAt:          eventAt,
	})
	if err != nil || !applied {
		t.Fatalf("apply subscription: applied=%v err=%v", applied, err)
	}

	stale, err := store.ApplySubscription(ctx, ByCustomerID("cus_1"), SubscriptionUpdate{
		Status:  "inactive",
		EventAt: eventAt.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("apply stale update: %v", err)
	}
	if stale {
		t.Fatal("stale update must not apply")
	}
}
