package shopify

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"github.com/casthq/shophand/internal/core"
)

// VerifyWebhook checks the platform's HMAC-SHA256 signature over the raw
// request body. The header carries the digest base64-encoded.
func VerifyWebhook(body []byte, signature, secret string) error {
	if secret == "" {
		return &core.ConfigError{Reason: "shop has no webhook secret"}
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return &core.AuthError{Reason: "webhook signature mismatch"}
	}
	return nil
}

// VerifySharedSecret compares the internal shared-secret header against the
// shop's configured value in constant time.
func VerifySharedSecret(got string, shop *core.ShopConfig) error {
	if shop.InternalSecret == "" {
		return &core.ConfigError{Reason: fmt.Sprintf("shop %s has no internal secret", shop.Domain)}
	}
	if subtle.ConstantTimeCompare([]byte(got), []byte(shop.InternalSecret)) != 1 {
		return &core.AuthError{Reason: "internal secret mismatch"}
	}
	return nil
}
