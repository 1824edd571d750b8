// Package entitlement decides whether a session may start translating.
package entitlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/subscription"

	"meeting-translation-relay/internal/models"
)

// ErrQuotaExceeded is returned by Check when the customer has no quota left.
var ErrQuotaExceeded = errors.New("quota exceeded")

// Checker reports whether quota is available for a session.
type Checker interface {
	QuotaAvailable(ctx context.Context, s *models.Session) (bool, error)
}

// Check returns ErrQuotaExceeded when c reports no quota.
func Check(ctx context.Context, c Checker, s *models.Session) error {
	ok, err := c.QuotaAvailable(ctx, s)
	if err != nil {
		return fmt.Errorf("entitlement check: %w", err)
	}
	if !ok {
		return ErrQuotaExceeded
	}
	return nil
}

// AllowAll grants every session. Used when billing is not configured.
type AllowAll struct{}

func (AllowAll) QuotaAvailable(context.Context, *models.Session) (bool, error) {
	return true, nil
}

// activeLister reports whether a customer has an active subscription.
type activeLister func(ctx context.Context, customerID string) (bool, error)

// StripeChecker grants sessions whose customer holds an active Stripe subscription.
type StripeChecker struct {
	hasActive activeLister
}

// NewStripe returns a checker backed by the Stripe subscriptions API.
func NewStripe(key string) *StripeChecker {
	client := &subscription.Client{B: stripe.GetBackend(stripe.APIBackend), Key: key}
	return &StripeChecker{hasActive: func(ctx context.Context, customerID string) (bool, error) {
		params := &stripe.SubscriptionListParams{
			Customer: stripe.String(customerID),
			Status:   stripe.String(string(stripe.SubscriptionStatusActive)),
		}
		params.Limit = stripe.Int64(1)
		params.Context = ctx

		it := client.List(params)
		found := it.Next()
		if err := it.Err(); err != nil {
			return false, err
		}
		return found, nil
	}}
}

// QuotaAvailable implements Checker. Sessions without a customer have no quota.
func (c *StripeChecker) QuotaAvailable(ctx context.Context, s *models.Session) (bool, error) {
	if s == nil || s.CustomerID == "" {
		return false, nil
	}
	ok, err := c.hasActive(ctx, s.CustomerID)
	if err != nil {
		log.Warn().Err(err).Str("sessionId", s.ID).Str("customerId", s.CustomerID).Msg("Stripe subscription lookup failed")
		return false, err
	}
	return ok, nil
}
