package shopify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	goshopify "github.com/bold-commerce/go-shopify/v4"

	"github.com/casthq/shophand/internal/core"
)

// SubscriptionClient implements core.SubscriptionAPI over the platform's
// REST webhook resource.
type SubscriptionClient struct {
	rest   *goshopify.Client
	shop   string
	logger *slog.Logger
}

// NewSubscriptionClient builds the subscription surface for one shop.
func NewSubscriptionClient(shop *core.ShopConfig, apiVersion string, logger *slog.Logger) (*SubscriptionClient, error) {
	if shop == nil || shop.Domain == "" {
		return nil, &core.ConfigError{Reason: "shop has no domain"}
	}
	if shop.AccessToken == "" {
		return nil, &core.ConfigError{Reason: fmt.Sprintf("shop %s has no access token", shop.Domain)}
	}

	app := goshopify.App{ApiKey: "shophand", ApiSecret: shop.WebhookSecret}
	rest, err := goshopify.NewClient(app, shop.Domain, shop.AccessToken, goshopify.WithVersion(apiVersion))
	if err != nil {
		return nil, fmt.Errorf("failed to build rest client for %s: %w", shop.Domain, err)
	}

	return &SubscriptionClient{rest: rest, shop: shop.Domain, logger: logger}, nil
}

// List returns every webhook subscription registered for the shop.
func (s *SubscriptionClient) List(ctx context.Context) ([]core.Subscription, error) {
	hooks, err := s.rest.Webhook.List(ctx, nil)
	if err != nil {
		return nil, &core.RemoteAPIError{Message: fmt.Sprintf("failed to list subscriptions for %s", s.shop), Err: err}
	}

	subs := make([]core.Subscription, len(hooks))
	for i, hook := range hooks {
		subs[i] = fromWebhook(hook)
	}
	return subs, nil
}

// Create registers the subscription and returns the stored record with its
// platform-assigned id.
func (s *SubscriptionClient) Create(ctx context.Context, sub core.Subscription) (*core.Subscription, error) {
	created, err := s.rest.Webhook.Create(ctx, goshopify.Webhook{
		Topic:               sub.Topic,
		Address:             sub.CallbackURL,
		Format:              "json",
		Fields:              sub.IncludeFields,
		MetafieldNamespaces: sub.MetafieldNamespaces,
	})
	if err != nil {
		return nil, &core.RemoteAPIError{
			Message: fmt.Sprintf("failed to create %s subscription for %s", sub.Topic, s.shop),
			Err:     err,
		}
	}

	s.logger.Info("subscription created", "shop", s.shop, "topic", sub.Topic, "id", created.Id)
	stored := fromWebhook(*created)
	return &stored, nil
}

// Delete removes the subscription with the given id.
func (s *SubscriptionClient) Delete(ctx context.Context, id int64) error {
	if err := s.rest.Webhook.Delete(ctx, uint64(id)); err != nil {
		return &core.RemoteAPIError{
			Message: fmt.Sprintf("failed to delete subscription %d for %s", id, s.shop),
			Err:     err,
		}
	}
	s.logger.Info("subscription deleted", "shop", s.shop, "id", id)
	return nil
}

func fromWebhook(hook goshopify.Webhook) core.Subscription {
	sub := core.Subscription{
		ID:                  int64(hook.Id),
		Topic:               hook.Topic,
		CallbackURL:         hook.Address,
		IncludeFields:       hook.Fields,
		MetafieldNamespaces: hook.MetafieldNamespaces,
	}
	if hook.CreatedAt != nil {
		sub.CreatedAt = *hook.CreatedAt
	}
	if hook.UpdatedAt != nil {
		sub.UpdatedAt = *hook.UpdatedAt
	}
	return sub
}

// IsAddressNotAllowed reports whether err is the platform rejecting the
// callback address itself, which means the URL is not HTTPS or not on a
// trusted domain rather than a transient failure.
func IsAddressNotAllowed(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	if !strings.Contains(msg, "address") {
		return false
	}
	return strings.Contains(msg, "not allowed") || strings.Contains(msg, "invalid")
}
