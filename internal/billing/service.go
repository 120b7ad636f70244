// Package billing creates Stripe checkout sessions and keeps profile
// subscription state in sync with Stripe webhook events.
package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	stripesession "github.com/stripe/stripe-go/v82/checkout/session"
	stripesubscription "github.com/stripe/stripe-go/v82/subscription"
	"go.uber.org/zap"

	"lexwrite/api/internal/store"
)

var (
	ErrNotConfigured  = errors.New("Missing STRIPE_SECRET_KEY environment variable")
	ErrInvalidRequest = errors.New("invalid checkout request")
)

type checkoutError struct{ msg string }

func (e *checkoutError) Error() string        { return e.msg }
func (e *checkoutError) Is(target error) bool { return target == ErrInvalidRequest }

// ProfileUpdater applies a subscription update to the profile selected by key.
// It reports false when no row matched or the update was older than the stored state.
type ProfileUpdater interface {
	ApplySubscription(ctx context.Context, key store.ProfileKey, update store.SubscriptionUpdate) (bool, error)
}

// Notifier is told about subscription changes worth an email. Optional.
type Notifier interface {
	SendSubscriptionEmail(to, status, dashboardURL string) error
}

type Config struct {
	SecretKey      string
	WebhookSecret  string
	WeeklyPriceID  string
	MonthlyPriceID string
	TrialDays      int
	AppURL         string
}

type Plan struct {
	PriceID  string `json:"priceId"`
	Interval string `json:"interval"`
}

type Service struct {
	cfg      Config
	profiles ProfileUpdater
	notifier Notifier
	logger   *zap.Logger

	createCheckoutSession func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	getSubscription       func(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
}

func NewService(cfg Config, profiles ProfileUpdater, notifier Notifier, logger *zap.Logger) *Service {
	if cfg.TrialDays <= 0 {
		cfg.TrialDays = 3
	}
	cfg.AppURL = strings.TrimRight(cfg.AppURL, "/")
	if logger == nil {
		logger = zap.NewNop()
	}
	// The clients carry the key; the package-level stripe.Key is never set.
	backend := stripe.GetBackend(stripe.APIBackend)
	key := strings.TrimSpace(cfg.SecretKey)
	sessions := &stripesession.Client{B: backend, Key: key}
	subscriptions := &stripesubscription.Client{B: backend, Key: key}
	return &Service{
		cfg:                   cfg,
		profiles:              profiles,
		notifier:              notifier,
		logger:                logger,
		createCheckoutSession: sessions.New,
		getSubscription:       subscriptions.Get,
	}
}

func (s *Service) Configured() bool {
	return strings.TrimSpace(s.cfg.SecretKey) != ""
}

// Plans lists the configured price ids, weekly first.
func (s *Service) Plans() []Plan {
	plans := make([]Plan, 0, 2)
	if s.cfg.WeeklyPriceID != "" {
		plans = append(plans, Plan{PriceID: s.cfg.WeeklyPriceID, Interval: "week"})
	}
	if s.cfg.MonthlyPriceID != "" {
		plans = append(plans, Plan{PriceID: s.cfg.MonthlyPriceID, Interval: "month"})
	}
	return plans
}

type CheckoutRequest struct {
	PriceID   string `json:"priceId"`
	UserID    string `json:"userId"`
	UserEmail string `json:"userEmail"`
}

// CreateCheckout opens a subscription checkout session and returns its URL.
// origin is where the browser comes back to; the configured app URL is used
// when it is empty.
func (s *Service) CreateCheckout(ctx context.Context, req CheckoutRequest, origin string) (string, error) {
	if !s.Configured() {
		return "", ErrNotConfigured
	}
	req.PriceID = strings.TrimSpace(req.PriceID)
	if req.PriceID == "" {
		return "", &checkoutError{msg: "Missing required field: priceId"}
	}
	if strings.TrimSpace(req.UserID) == "" {
		return "", &checkoutError{msg: "Missing required field: userId"}
	}
	if strings.TrimSpace(req.UserEmail) == "" {
		return "", &checkoutError{msg: "Missing required field: userEmail"}
	}

	origin = strings.TrimRight(strings.TrimSpace(origin), "/")
	if origin == "" {
		origin = s.cfg.AppURL
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:        stripe.String(origin + "/dashboard?success=true"),
		CancelURL:         stripe.String(origin + "/"),
		CustomerEmail:     stripe.String(req.UserEmail),
		ClientReferenceID: stripe.String(req.UserID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			TrialPeriodDays: stripe.Int64(int64(s.cfg.TrialDays)),
		},
		Metadata: map[string]string{
			"user_id": req.UserID,
		},
	}
	params.Context = ctx

	session, err := s.createCheckoutSession(params)
	if err != nil {
		s.logger.Error("checkout session creation failed",
			zap.String("user_id", req.UserID),
			zap.Error(err))
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	if session == nil || strings.TrimSpace(session.URL) == "" {
		return "", fmt.Errorf("create checkout session: empty session url")
	}
	return session.URL, nil
}

// fetchSubscription reads period end, interval and trial end from Stripe.
func (s *Service) fetchSubscription(ctx context.Context, id string) (subscriptionState, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := s.getSubscription(id, params)
	if err != nil {
		return subscriptionState{}, fmt.Errorf("fetch subscription %s: %w", id, err)
	}
	state := subscriptionState{
		Status:   string(sub.Status),
		TrialEnd: unixTime(sub.TrialEnd),
	}
	if sub.Customer != nil {
		state.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		state.PeriodEnd = unixTime(item.CurrentPeriodEnd)
		if item.Price != nil && item.Price.Recurring != nil {
			state.Interval = string(item.Price.Recurring.Interval)
		}
	}
	return state, nil
}

type subscriptionState struct {
	CustomerID string
	Status     string
	Interval   string
	PeriodEnd  *time.Time
	TrialEnd   *time.Time
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
