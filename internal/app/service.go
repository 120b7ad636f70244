package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"lexwrite/api/internal/assist"
	"lexwrite/api/internal/auth"
	"lexwrite/api/internal/authpw"
	"lexwrite/api/internal/autosave"
	"lexwrite/api/internal/billing"
	"lexwrite/api/internal/config"
	"lexwrite/api/internal/entitlement"
	"lexwrite/api/internal/export"
	"lexwrite/api/internal/history"
	"lexwrite/api/internal/search"
	"lexwrite/api/internal/store"
	"lexwrite/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Email        string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	GetUserByID(context.Context, string) (store.User, error)
	GetProfile(context.Context, string) (store.Profile, error)
	ListDocuments(context.Context, string) ([]store.Document, error)
	GetDocument(context.Context, string, string) (store.Document, error)
	CreateDocument(context.Context, store.Document, string) (store.Document, error)
	UpdateDocument(context.Context, string, string, *string, string, string) (store.Document, error)
	DeleteDocument(context.Context, string, string) error
	Ping(context.Context) error
}

// SessionStore holds refresh tokens and revoked access-token ids. Postgres
// and Redis both implement it.
type SessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
}

type historyStore interface {
	Commit(documentID string, content history.Content, author, message string) (store.CommitInfo, bool, error)
	History(documentID string, limit int) ([]store.CommitInfo, error)
	GetContentByHash(documentID, hash string) (history.Content, store.CommitInfo, error)
	Remove(documentID string) error
}

type searchIndex interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexDocument(doc search.DocumentRecord)
	DeleteDocument(id string)
}

type exporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
	Publish(ctx context.Context, req export.Request, result *export.Result) (string, error)
	CanPublish() bool
	Purge(ctx context.Context, userID, documentID string) error
}

type mailer interface {
	IsConfigured() bool
	SendPasswordResetEmail(to, userName, resetURL string) error
}

type rateLimiter interface {
	Allow(ctx context.Context, key string) bool
	RetryAfter() time.Duration
}

type liveHub interface {
	ServeWS(w http.ResponseWriter, r *http.Request, documentID string, editor autosave.Editor)
	CloseDocument(documentID string)
}

// Deps are the collaborators New wires together. Everything except Store,
// Sessions and Auth is optional.
type Deps struct {
	Store    dataStore
	Sessions SessionStore
	Auth     *authpw.Service
	History  historyStore
	Search   searchIndex
	Exports  exporter
	Autosave *autosave.Debouncer
	Hub      liveHub
	Assist   *assist.Service
	Billing  *billing.Service
	Mailer   mailer
	Limiter  rateLimiter
	Logger   *zap.Logger
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions SessionStore
	authpw   *authpw.Service
	history  historyStore
	search   searchIndex
	exports  exporter
	autosave *autosave.Debouncer
	hub      liveHub
	assist   *assist.Service
	billing  *billing.Service
	mailer   mailer
	limiter  rateLimiter
	logger   *zap.Logger
	now      func() time.Time
}

func New(cfg config.Config, deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:      cfg,
		store:    deps.Store,
		sessions: deps.Sessions,
		authpw:   deps.Auth,
		history:  deps.History,
		search:   deps.Search,
		exports:  deps.Exports,
		autosave: deps.Autosave,
		hub:      deps.Hub,
		assist:   deps.Assist,
		billing:  deps.Billing,
		mailer:   deps.Mailer,
		limiter:  deps.Limiter,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *Service) SignUp(ctx context.Context, email, password, fullName string) (Session, store.Profile, error) {
	user, profile, err := s.authpw.SignUp(ctx, authpw.SignUpRequest{
		Email:    email,
		Password: password,
		FullName: fullName,
	})
	if err != nil {
		return Session{}, store.Profile{}, mapAuthError(err)
	}
	session, err := s.issueSession(ctx, user)
	if err != nil {
		return Session{}, store.Profile{}, err
	}
	return session, profile, nil
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.authpw.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, mapAuthError(err)
	}
	return s.issueSession(ctx, user)
}

// RequestPasswordReset mails a reset link when SMTP is configured. Otherwise
// the token is returned so local setups can finish the flow.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	token, err := s.authpw.RequestPasswordReset(ctx, email)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", nil
	}
	if s.mailer == nil || !s.mailer.IsConfigured() {
		return token, nil
	}
	resetURL := s.cfg.AppURL + "/reset-password?token=" + url.QueryEscape(token)
	if err := s.mailer.SendPasswordResetEmail(email, "", resetURL); err != nil {
		s.logger.Error("password reset email failed", zap.Error(err))
	}
	return "", nil
}

func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := s.authpw.ResetPassword(ctx, token, newPassword); err != nil {
		return mapAuthError(err)
	}
	return nil
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), user.ID, user.Email, jti, expiresAt)
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, fmt.Errorf("save refresh session: %w", err)
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		Email:        user.Email,
		Role:         auth.RoleAuthenticated,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.ID)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		Email:     user.Email,
		Role:      claims.Role,
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.sessions.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// AppContext is what the dashboard needs to choose editor or paywall.
type AppContext struct {
	Session    Session
	Profile    *store.Profile
	HasPremium bool
	Features   []entitlement.Feature
}

// AppContext loads the caller's profile and evaluates the gate against it.
// A missing profile is reported as not premium rather than an error.
func (s *Service) AppContext(ctx context.Context, session Session) (AppContext, error) {
	out := AppContext{Session: session}
	profile, err := s.store.GetProfile(ctx, session.UserID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return AppContext{}, err
	}
	now := s.now()
	if err == nil {
		out.Profile = &profile
		out.HasPremium = entitlement.Evaluate(profile.Snapshot(), now)
		out.Features = entitlement.Enabled(profile.Snapshot(), now)
	} else {
		out.Features = entitlement.Enabled(nil, now)
	}
	return out, nil
}

// RequireFeature re-reads the profile and applies the gate for one feature.
func (s *Service) RequireFeature(ctx context.Context, session Session, feature entitlement.Feature) error {
	if !entitlement.Premium(feature) {
		if entitlement.Allows(nil, feature, s.now()) {
			return nil
		}
		return premiumRequired(string(feature))
	}
	profile, err := s.store.GetProfile(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return premiumRequired(string(feature))
		}
		return err
	}
	if !entitlement.Allows(profile.Snapshot(), feature, s.now()) {
		return premiumRequired(string(feature))
	}
	return nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) EmailConfigured() bool {
	return s.mailer != nil && s.mailer.IsConfigured()
}

func mapAuthError(err error) error {
	switch {
	case errors.Is(err, store.ErrEmailTaken):
		return domainError(http.StatusConflict, "EMAIL_TAKEN", "Email already registered", nil)
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	case errors.Is(err, authpw.ErrMissingFields),
		errors.Is(err, authpw.ErrInvalidEmail),
		errors.Is(err, authpw.ErrWeakPassword),
		errors.Is(err, authpw.ErrInvalidResetToken),
		errors.Is(err, authpw.ErrMissingResetFields):
		return validationError(err.Error())
	default:
		return err
	}
}

func trimmedOr(value, fallback string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	return value
}
