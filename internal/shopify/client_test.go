package shopify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casthq/shophand/internal/core"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testShop() *core.ShopConfig {
	return &core.ShopConfig{
		Domain:      "example.myshopify.com",
		AccessToken: "shpat_test",
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(testShop(), "2025-07", testLogger(), WithEndpoint(server.URL), WithHTTPClient(server.Client()))
	require.NoError(t, err)
	return client
}

func TestClientQuerySendsTokenAndBody(t *testing.T) {
	var gotToken, gotContentType string
	var gotBody map[string]any

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Shopify-Access-Token")
		gotContentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{"data":{"shop":{"name":"Example"}}}`))
	})

	data, err := client.Query(context.Background(), `query { shop { name } }`, map[string]any{"first": 5})
	require.NoError(t, err)

	assert.Equal(t, "shpat_test", gotToken)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, `query { shop { name } }`, gotBody["query"])
	assert.Equal(t, map[string]any{"first": float64(5)}, gotBody["variables"])
	assert.JSONEq(t, `{"shop":{"name":"Example"}}`, string(data))
}

func TestClientQueryOmitsEmptyVariables(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, hasVars := body["variables"]
		assert.False(t, hasVars)
		_, _ = w.Write([]byte(`{"data":{}}`))
	})

	_, err := client.Query(context.Background(), `{ shop { name } }`, nil)
	require.NoError(t, err)
}

func TestClientQueryErrors(t *testing.T) {
	testCases := []struct {
		name     string
		response string
		status   int
		wantMsg  string
	}{
		{
			name:     "top-level graphql errors",
			response: `{"errors":[{"message":"Throttled"},{"message":"Field unknown"}]}`,
			status:   http.StatusOK,
			wantMsg:  "Throttled; Field unknown",
		},
		{
			name:     "nested user errors",
			response: `{"data":{"productUpdate":{"product":null,"userErrors":[{"field":["title"],"message":"Title can't be blank"}]}}}`,
			status:   http.StatusOK,
			wantMsg:  "Title can't be blank",
		},
		{
			name:     "deeply nested user errors",
			response: `{"data":{"bulk":{"results":[{"discountCreate":{"codeDiscountUserErrors":[{"message":"Code already exists"}]}}]}}}`,
			status:   http.StatusOK,
			wantMsg:  "Code already exists",
		},
		{
			name:     "http error status",
			response: `{"errors":"Not Found"}`,
			status:   http.StatusNotFound,
			wantMsg:  "status 404",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.response))
			})

			_, err := client.Query(context.Background(), `{ shop { name } }`, nil)
			require.Error(t, err)

			var remoteErr *core.RemoteAPIError
			require.ErrorAs(t, err, &remoteErr)
			assert.Contains(t, err.Error(), tc.wantMsg)
		})
	}
}

func TestClientQueryIgnoresEmptyUserErrorArrays(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"productUpdate":{"product":{"id":"gid://shopify/Product/1"},"userErrors":[]}}}`))
	})

	data, err := client.Query(context.Background(), `mutation { ... }`, nil)
	require.NoError(t, err)
	assert.Contains(t, string(data), "gid://shopify/Product/1")
}

func TestNewClientValidation(t *testing.T) {
	testCases := []struct {
		name    string
		shop    *core.ShopConfig
		version string
	}{
		{name: "nil shop", shop: nil, version: "2025-07"},
		{name: "missing domain", shop: &core.ShopConfig{AccessToken: "x"}, version: "2025-07"},
		{name: "missing token", shop: &core.ShopConfig{Domain: "x.myshopify.com"}, version: "2025-07"},
		{name: "missing version", shop: testShop(), version: ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewClient(tc.shop, tc.version, testLogger())
			require.Error(t, err)

			var cfgErr *core.ConfigError
			assert.ErrorAs(t, err, &cfgErr)
		})
	}
}
