package core

// ShopConfig carries one shop's credentials: the domain the admin API lives
// under, the access token for it, the secret that signs platform webhooks,
// an optional shared secret for internal deliveries, and free-form
// third-party API keys jobs may need.
type ShopConfig struct {
	Name           string            `yaml:"name,omitempty" json:"name,omitempty"`
	Domain         string            `yaml:"domain" json:"domain"`
	AccessToken    string            `yaml:"access_token" json:"accessToken"`
	WebhookSecret  string            `yaml:"webhook_secret" json:"webhookSecret"`
	InternalSecret string            `yaml:"internal_secret,omitempty" json:"internalSecret,omitempty"`
	APIKeys        map[string]string `yaml:"api_keys,omitempty" json:"apiKeys,omitempty"`
}

// SlackWebhookURL returns the shop's failure-notification webhook, or ""
// when the shop carries no notification credentials.
func (s *ShopConfig) SlackWebhookURL() string {
	if s == nil {
		return ""
	}
	return s.APIKeys["slack_webhook_url"]
}

// ShopSource resolves shop credentials. Implementations load either a single
// flat record or the legacy list keyed by shop name.
type ShopSource interface {
	// ByDomain returns the config for the given shop domain.
	ByDomain(domain string) (*ShopConfig, error)

	// Default returns the shop used when a delivery carries no shop
	// domain, such as public web requests.
	Default() (*ShopConfig, error)

	// All returns every configured shop.
	All() []*ShopConfig
}
