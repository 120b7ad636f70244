package app

import (
	"context"
	"time"

	"lexwrite/api/internal/store"
)

// PostgresSessions adapts the relational store to SessionStore.
func PostgresSessions(pg *store.PostgresStore) SessionStore {
	return postgresSessions{pg}
}

type postgresSessions struct {
	*store.PostgresStore
}

func (p postgresSessions) SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error {
	return p.PostgresStore.SaveRefreshSession(ctx, tokenHash, user.ID, expiresAt)
}
