package core

import (
	"context"
	"strconv"
	"time"
)

// Subscription mirrors the remote platform's record binding a webhook topic
// to a callback URL for one shop. The platform owns these records; the
// reconciler only lists them and issues create or delete calls, never
// in-place updates.
type Subscription struct {
	ID                  int64     `json:"id"`
	Topic               string    `json:"topic"`
	CallbackURL         string    `json:"callbackUrl"`
	IncludeFields       []string  `json:"includeFields,omitempty"`
	MetafieldNamespaces []string  `json:"metafieldNamespaces,omitempty"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// ShortID renders the subscription id for status output.
func (s Subscription) ShortID() string {
	return strconv.FormatInt(s.ID, 10)
}

//go:generate mockgen -destination=../../mocks/mock_subscription_api.go -package=mocks . SubscriptionAPI

// SubscriptionAPI is the slice of the remote admin API the reconciler needs.
// The platform permits at most one active subscription per (topic, shop)
// pair; Create against an occupied topic fails remotely.
type SubscriptionAPI interface {
	// List returns every subscription registered for the shop.
	List(ctx context.Context) ([]Subscription, error)

	// Create registers sub's topic, callback URL, and filters, returning
	// the stored record with its platform-assigned id.
	Create(ctx context.Context, sub Subscription) (*Subscription, error)

	// Delete removes the subscription with the given id.
	Delete(ctx context.Context, id int64) error
}
