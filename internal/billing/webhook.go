package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"

	"lexwrite/api/internal/entitlement"
	"lexwrite/api/internal/metrics"
	"lexwrite/api/internal/store"
)

const webhookBodyLimit = 1024 * 1024 // 1 MiB

var errMissingUser = errors.New("no user id on checkout session")

type webhookErrorResponse struct {
	Error string `json:"error"`
}

type webhookReceivedResponse struct {
	Received bool `json:"received"`
}

// ServeHTTP verifies the Stripe signature and applies the event to the
// matching profile. Every failure answers 400 so Stripe retries delivery.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	eventType := "unknown"
	status := http.StatusOK
	defer func() {
		metrics.WebhookRequestsTotal.WithLabelValues(eventType, strconv.Itoa(status)).Inc()
		metrics.WebhookDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		status = http.StatusMethodNotAllowed
		writeJSON(w, status, webhookErrorResponse{Error: "method not allowed"})
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(s.cfg.WebhookSecret) == "" || strings.TrimSpace(sigHeader) == "" {
		status = http.StatusBadRequest
		writeJSON(w, status, webhookErrorResponse{Error: "Missing signature or webhook secret"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		status = http.StatusBadRequest
		writeJSON(w, status, webhookErrorResponse{Error: "failed to read request body"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, s.cfg.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		status = http.StatusBadRequest
		writeJSON(w, status, webhookErrorResponse{Error: "Webhook Error: " + err.Error()})
		return
	}
	eventType = string(event.Type)
	s.logger.Info("stripe webhook received",
		zap.String("event_id", event.ID),
		zap.String("type", eventType))

	if err := s.handleEvent(r.Context(), &event); err != nil {
		if errors.Is(err, errMissingUser) {
			s.logger.Error("stripe checkout without user id", zap.String("event_id", event.ID))
			status = http.StatusOK
			writeJSON(w, status, webhookReceivedResponse{Received: true})
			return
		}
		s.logger.Error("stripe webhook processing failed",
			zap.String("event_id", event.ID),
			zap.String("type", eventType),
			zap.Error(err))
		status = http.StatusBadRequest
		writeJSON(w, status, webhookErrorResponse{Error: "Webhook Error: " + err.Error()})
		return
	}

	writeJSON(w, status, webhookReceivedResponse{Received: true})
}

func (s *Service) handleEvent(ctx context.Context, event *stripe.Event) error {
	eventAt := time.Unix(event.Created, 0).UTC()
	if event.Created <= 0 {
		eventAt = time.Now().UTC()
	}
	if event.Data == nil {
		return fmt.Errorf("event %s has no data", event.ID)
	}

	switch event.Type {
	case "checkout.session.completed":
		var session checkoutSessionObject
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return fmt.Errorf("decode checkout.session: %w", err)
		}
		return s.handleCheckoutCompleted(ctx, session, eventAt)

	case "invoice.paid", "invoice.payment_succeeded":
		var invoice invoiceObject
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return fmt.Errorf("decode invoice: %w", err)
		}
		return s.handleInvoicePaid(ctx, invoice, eventAt)

	case "invoice.payment_failed":
		var invoice invoiceObject
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return fmt.Errorf("decode invoice: %w", err)
		}
		if invoice.Customer == "" {
			return fmt.Errorf("invoice %s has no customer", invoice.ID)
		}
		return s.apply(ctx, store.ByCustomerID(invoice.Customer), store.SubscriptionUpdate{
			Status:  entitlement.StatusInactive,
			EventAt: eventAt,
		})

	case "customer.subscription.created", "customer.subscription.updated":
		var sub subscriptionObject
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		return s.handleSubscriptionChanged(ctx, sub, eventAt)

	case "customer.subscription.deleted":
		var sub subscriptionObject
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		if sub.Customer == "" {
			return fmt.Errorf("subscription %s has no customer", sub.ID)
		}
		return s.apply(ctx, store.ByCustomerID(sub.Customer), store.SubscriptionUpdate{
			Status:  entitlement.StatusCanceled,
			EventAt: eventAt,
		})

	default:
		s.logger.Info("stripe webhook ignored (unhandled type)",
			zap.String("event_id", event.ID),
			zap.String("type", string(event.Type)))
		return nil
	}
}

func (s *Service) handleCheckoutCompleted(ctx context.Context, session checkoutSessionObject, eventAt time.Time) error {
	userID := session.userID()
	if userID == "" {
		return errMissingUser
	}

	update := store.SubscriptionUpdate{
		Status:         entitlement.StatusActive,
		CustomerID:     session.Customer,
		SubscriptionID: session.Subscription,
		EventAt:        eventAt,
	}
	if session.Subscription != "" && s.Configured() {
		state, err := s.fetchSubscription(ctx, session.Subscription)
		if err != nil {
			// Status still flips to active; the subscription events fill in the period later.
			s.logger.Warn("subscription fetch after checkout failed",
				zap.String("subscription_id", session.Subscription),
				zap.Error(err))
		} else {
			update.CurrentPeriodEnd = state.PeriodEnd
			update.Interval = state.Interval
			update.TrialEndsAt = state.TrialEnd
		}
	}

	if err := s.apply(ctx, store.ByProfileID(userID), update); err != nil {
		return err
	}
	s.notify(session.email(), string(entitlement.StatusActive))
	return nil
}

func (s *Service) handleInvoicePaid(ctx context.Context, invoice invoiceObject, eventAt time.Time) error {
	update := store.SubscriptionUpdate{
		Status:           entitlement.StatusActive,
		CustomerID:       invoice.Customer,
		SubscriptionID:   invoice.Subscription,
		CurrentPeriodEnd: unixTime(invoice.periodEnd()),
		EventAt:          eventAt,
	}
	if userID := invoice.userID(); userID != "" {
		return s.apply(ctx, store.ByProfileID(userID), update)
	}
	if invoice.Customer == "" {
		return fmt.Errorf("invoice %s has no customer", invoice.ID)
	}
	return s.apply(ctx, store.ByCustomerID(invoice.Customer), update)
}

func (s *Service) handleSubscriptionChanged(ctx context.Context, sub subscriptionObject, eventAt time.Time) error {
	update := store.SubscriptionUpdate{
		Status:           entitlement.MapStripeStatus(sub.Status),
		CustomerID:       sub.Customer,
		SubscriptionID:   sub.ID,
		Interval:         sub.interval(),
		CurrentPeriodEnd: unixTime(sub.periodEnd()),
		TrialEndsAt:      unixTime(sub.TrialEnd),
		EventAt:          eventAt,
	}
	if sub.ID != "" {
		applied, err := s.profiles.ApplySubscription(ctx, store.BySubscriptionID(sub.ID), update)
		if err != nil {
			return fmt.Errorf("apply subscription %s: %w", sub.ID, err)
		}
		if applied {
			return nil
		}
	}
	if sub.Customer == "" {
		return fmt.Errorf("subscription %s has no customer", sub.ID)
	}
	return s.apply(ctx, store.ByCustomerID(sub.Customer), update)
}

// apply writes the update. A key that matches nothing, or an event older
// than the stored state, is logged and acknowledged.
func (s *Service) apply(ctx context.Context, key store.ProfileKey, update store.SubscriptionUpdate) error {
	applied, err := s.profiles.ApplySubscription(ctx, key, update)
	if err != nil {
		return fmt.Errorf("apply %s=%s: %w", key.Column, key.Value, err)
	}
	if !applied {
		s.logger.Info("stripe webhook matched no profile or was stale",
			zap.String("key", key.Column),
			zap.String("value", key.Value),
			zap.String("status", string(update.Status)))
	}
	return nil
}

func (s *Service) notify(to, status string) {
	if s.notifier == nil || to == "" {
		return
	}
	if err := s.notifier.SendSubscriptionEmail(to, status, s.cfg.AppURL+"/dashboard"); err != nil {
		s.logger.Warn("subscription email failed", zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
