package app

import (
	"context"
	"errors"
	"net/http"

	"lexwrite/api/internal/assist"
	"lexwrite/api/internal/billing"
	"lexwrite/api/internal/entitlement"
)

// upstreamFailure is returned by the AI and checkout routes as {error}.
type upstreamFailure struct {
	message string
	err     error
}

func (e *upstreamFailure) Error() string { return e.message }
func (e *upstreamFailure) Unwrap() error { return e.err }

func failure(err error) error {
	return &upstreamFailure{message: err.Error(), err: err}
}

func assistFeature(action assist.Action) entitlement.Feature {
	if action == assist.ActionChat {
		return entitlement.FeatureChat
	}
	return entitlement.FeatureAssist
}

// checkRate applies the per-user AI quota when a limiter is configured.
func (s *Service) checkRate(ctx context.Context, session Session) error {
	if s.limiter == nil {
		return nil
	}
	if s.limiter.Allow(ctx, "ai:"+session.UserID) {
		return nil
	}
	retry := int(s.limiter.RetryAfter().Seconds())
	return domainError(http.StatusTooManyRequests, "RATE_LIMITED", "Too many AI requests, slow down", map[string]any{
		"retryAfterSeconds": retry,
	})
}

func (s *Service) Assist(ctx context.Context, session Session, req assist.Request) (string, error) {
	if err := s.RequireFeature(ctx, session, assistFeature(req.Action)); err != nil {
		return "", err
	}
	if err := s.checkRate(ctx, session); err != nil {
		return "", err
	}
	if s.assist == nil {
		return "", failure(assist.ErrNotConfigured)
	}
	result, err := s.assist.Assist(ctx, req)
	if err != nil {
		return "", failure(err)
	}
	return result, nil
}

func (s *Service) Citation(ctx context.Context, session Session, req assist.CitationRequest) (assist.Citation, error) {
	if err := s.RequireFeature(ctx, session, entitlement.FeatureCitation); err != nil {
		return assist.Citation{}, err
	}
	if err := s.checkRate(ctx, session); err != nil {
		return assist.Citation{}, err
	}
	if s.assist == nil {
		return assist.Citation{}, failure(assist.ErrNotConfigured)
	}
	citation, err := s.assist.Citation(ctx, req)
	if err != nil {
		return assist.Citation{}, failure(err)
	}
	return citation, nil
}

// Checkout defaults the user fields to the session identity and refuses a
// checkout on behalf of another user.
func (s *Service) Checkout(ctx context.Context, session Session, req billing.CheckoutRequest, origin string) (string, error) {
	if s.billing == nil {
		return "", failure(billing.ErrNotConfigured)
	}
	if req.UserID == "" {
		req.UserID = session.UserID
	}
	if req.UserEmail == "" {
		req.UserEmail = session.Email
	}
	if req.UserID != session.UserID {
		return "", failure(errors.New("userId does not match the signed-in user"))
	}
	url, err := s.billing.CreateCheckout(ctx, req, origin)
	if err != nil {
		return "", failure(err)
	}
	return url, nil
}

func (s *Service) Plans() []billing.Plan {
	if s.billing == nil {
		return []billing.Plan{}
	}
	return s.billing.Plans()
}
