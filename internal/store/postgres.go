package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"lexwrite/api/internal/entitlement"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrEmailTaken = errors.New("email already registered")
)

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// CreateUserWithProfile inserts the auth identity and its profile in one
// transaction. The profile starts inactive.
func (s *PostgresStore) CreateUserWithProfile(ctx context.Context, user User, fullName string) (Profile, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Profile{}, fmt.Errorf("begin signup tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash)
		VALUES ($1, LOWER($2), $3)
	`, user.ID, user.Email, user.PasswordHash); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Profile{}, ErrEmailTaken
		}
		return Profile{}, fmt.Errorf("insert user: %w", err)
	}

	row := tx.QueryRowContext(ctx, `
		INSERT INTO profiles (id, email, full_name, subscription_status)
		VALUES ($1, LOWER($2), NULLIF($3, ''), $4)
		RETURNING `+profileColumns, user.ID, user.Email, fullName, string(entitlement.StatusInactive))
	profile, err := scanProfile(row)
	if err != nil {
		return Profile{}, fmt.Errorf("insert profile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Profile{}, fmt.Errorf("commit signup tx: %w", err)
	}
	return profile, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at FROM users WHERE LOWER(email) = LOWER($1)
	`, strings.TrimSpace(email)).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user by email: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at FROM users WHERE id = $1
	`, userID).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return requireAffected(res)
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at) VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token = $1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get password reset: %w", err)
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at = NOW() WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.email, u.created_at
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`, tokenHash).Scan(&user.ID, &user.Email, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup refresh session: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

const profileColumns = `id, email, COALESCE(full_name, ''), COALESCE(avatar_url, ''), subscription_status,
	COALESCE(subscription_interval, ''), current_period_end, trial_ends_at,
	COALESCE(stripe_customer_id, ''), COALESCE(subscription_id, ''), billing_synced_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (Profile, error) {
	var p Profile
	var periodEnd, trialEnd, syncedAt sql.NullTime
	if err := row.Scan(&p.ID, &p.Email, &p.FullName, &p.AvatarURL, &p.SubscriptionStatus,
		&p.SubscriptionInterval, &periodEnd, &trialEnd,
		&p.StripeCustomerID, &p.SubscriptionID, &syncedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Profile{}, err
	}
	p.CurrentPeriodEnd = nullTime(periodEnd)
	p.TrialEndsAt = nullTime(trialEnd)
	p.BillingSyncedAt = nullTime(syncedAt)
	return p, nil
}

func (s *PostgresStore) GetProfile(ctx context.Context, userID string) (Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, userID)
	profile, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("get profile: %w", err)
	}
	return profile, nil
}

// ApplySubscription writes a billing update to the profile selected by key.
// Updates carrying an event time older than the last applied one are skipped,
// so replays are idempotent and late deliveries cannot roll state back. The
// returned bool is false when no row matched or the update was stale.
func (s *PostgresStore) ApplySubscription(ctx context.Context, key ProfileKey, update SubscriptionUpdate) (bool, error) {
	column, err := profileKeyColumn(key)
	if err != nil {
		return false, err
	}
	if strings.TrimSpace(key.Value) == "" {
		return false, fmt.Errorf("apply subscription: empty %s", column)
	}
	eventAt := update.EventAt
	if eventAt.IsZero() {
		eventAt = time.Now()
	}

	query := fmt.Sprintf(`
		UPDATE profiles SET
			subscription_status = $2,
			stripe_customer_id = COALESCE(NULLIF($3, ''), stripe_customer_id),
			subscription_id = COALESCE(NULLIF($4, ''), subscription_id),
			subscription_interval = COALESCE(NULLIF($5, ''), subscription_interval),
			current_period_end = COALESCE($6, current_period_end),
			trial_ends_at = COALESCE($7, trial_ends_at),
			billing_synced_at = $8,
			updated_at = NOW()
		WHERE %s = $1
			AND (billing_synced_at IS NULL OR billing_synced_at <= $8)
	`, column)

	res, err := s.db.ExecContext(ctx, query,
		key.Value,
		string(update.Status),
		update.CustomerID,
		update.SubscriptionID,
		update.Interval,
		nullableTime(update.CurrentPeriodEnd),
		nullableTime(update.TrialEndsAt),
		eventAt,
	)
	if err != nil {
		return false, fmt.Errorf("apply subscription: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("apply subscription rows: %w", err)
	}
	return affected > 0, nil
}

func profileKeyColumn(key ProfileKey) (string, error) {
	switch key.Column {
	case "id", "stripe_customer_id", "subscription_id":
		return key.Column, nil
	default:
		return "", fmt.Errorf("unsupported profile key %q", key.Column)
	}
}

const documentColumns = `id, user_id, title, content, created_at, updated_at`

func scanDocument(row rowScanner) (Document, error) {
	var d Document
	if err := row.Scan(&d.ID, &d.UserID, &d.Title, &d.Content, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return Document{}, err
	}
	return d, nil
}

// ListDocuments returns the owner's documents, most recently updated first.
func (s *PostgresStore) ListDocuments(ctx context.Context, userID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE user_id = $1
		ORDER BY updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		item, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, userID, documentID string) (Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+documentColumns+` FROM documents WHERE id = $1 AND user_id = $2
	`, documentID, userID)
	item, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get document: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) CreateDocument(ctx context.Context, item Document, contentText string) (Document, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO documents (id, user_id, title, content, content_text)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+documentColumns, item.ID, item.UserID, item.Title, item.Content, contentText)
	created, err := scanDocument(row)
	if err != nil {
		return Document{}, fmt.Errorf("insert document: %w", err)
	}
	return created, nil
}

// UpdateDocument saves content, and title when it is non-nil. updated_at
// never moves backwards.
func (s *PostgresStore) UpdateDocument(ctx context.Context, userID, documentID string, title *string, content, contentText string) (Document, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE documents
		SET title = COALESCE($3::text, title), content = $4, content_text = $5, updated_at = GREATEST(NOW(), updated_at)
		WHERE id = $1 AND user_id = $2
		RETURNING `+documentColumns, documentID, userID, title, content, contentText)
	updated, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("update document: %w", err)
	}
	return updated, nil
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, userID, documentID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1 AND user_id = $2`, documentID, userID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return requireAffected(res)
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func nullTime(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return *value
}
