package handler

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casthq/shophand/internal/blob"
	"github.com/casthq/shophand/internal/core"
)

type fakeRegistry struct {
	jobs     map[string]*core.JobDefinition
	triggers map[string]*core.TriggerDefinition
	handlers map[string]core.JobHandler
}

func (f *fakeRegistry) Resolve(identity string) (*core.JobDefinition, error) {
	job, ok := f.jobs[identity]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", identity, core.ErrJobNotFound)
	}
	return job, nil
}

func (f *fakeRegistry) ResolveTrigger(name string) (*core.TriggerDefinition, error) {
	trigger, ok := f.triggers[name]
	if !ok {
		return nil, fmt.Errorf("trigger %s: %w", name, core.ErrTriggerNotFound)
	}
	return trigger, nil
}

func (f *fakeRegistry) Handler(identity string) (core.JobHandler, error) {
	h, ok := f.handlers[identity]
	if !ok {
		return nil, &core.ConfigError{Reason: "no bound handler for job " + identity}
	}
	return h, nil
}

func (f *fakeRegistry) Jobs() []*core.JobDefinition { return nil }

type fakeShops struct {
	byDomain map[string]*core.ShopConfig
	def      *core.ShopConfig
}

func (f *fakeShops) ByDomain(domain string) (*core.ShopConfig, error) {
	if shop, ok := f.byDomain[domain]; ok {
		return shop, nil
	}
	return nil, fmt.Errorf("shop %s is not configured", domain)
}

func (f *fakeShops) Default() (*core.ShopConfig, error) {
	if f.def == nil {
		return nil, errors.New("no default shop configured")
	}
	return f.def, nil
}

func (f *fakeShops) All() []*core.ShopConfig {
	var shops []*core.ShopConfig
	for _, s := range f.byDomain {
		shops = append(shops, s)
	}
	return shops
}

type fakeLauncher struct {
	runs []*core.Run
	err  error
}

func (l *fakeLauncher) CreateRun(_ context.Context, run *core.Run) error {
	if l.err != nil {
		return l.err
	}
	l.runs = append(l.runs, run)
	return nil
}

type stubAPI struct{}

func (stubAPI) Query(context.Context, string, map[string]any) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

type gatewayFixture struct {
	registry *fakeRegistry
	shops    *fakeShops
	launcher *fakeLauncher
	blobs    *blob.MemoryStore
	gateway  *GatewayHandler
	shop     *core.ShopConfig
}

func newGatewayFixture() *gatewayFixture {
	shop := &core.ShopConfig{
		Name:           "demo",
		Domain:         "demo.myshopify.com",
		AccessToken:    "shpat_x",
		WebhookSecret:  "whsec_signing",
		InternalSecret: "internal-s3cret",
	}

	f := &gatewayFixture{
		registry: &fakeRegistry{
			jobs: map[string]*core.JobDefinition{
				"ping":         {Identity: "ping", Trigger: "web-request"},
				"order-tagger": {Identity: "order-tagger", Trigger: "orders-create"},
				"order-digest": {Identity: "order-digest", Trigger: "daily"},
			},
			triggers: map[string]*core.TriggerDefinition{
				"web-request":   {Name: "web-request", Webhook: &core.WebhookSpec{Topic: core.TopicWebRequest}},
				"orders-create": {Name: "orders-create", Webhook: &core.WebhookSpec{Topic: "orders/create"}},
				"daily":         {Name: "daily", Schedule: &core.ScheduleSpec{Cron: "0 8 * * *"}},
			},
			handlers: map[string]core.JobHandler{},
		},
		shops:    &fakeShops{byDomain: map[string]*core.ShopConfig{shop.Domain: shop}, def: shop},
		launcher: &fakeLauncher{},
		blobs:    blob.NewMemoryStore(),
		shop:     shop,
	}

	f.gateway = NewGatewayHandler(GatewayConfig{
		Registry: f.registry,
		Shops:    f.shops,
		Clients: func(*core.ShopConfig, string) (core.CommerceAPI, error) {
			return stubAPI{}, nil
		},
		Launcher:   f.launcher,
		Blobs:      f.blobs,
		Env:        map[string]string{"SENDGRID_KEY": "sg-test"},
		APIVersion: "2025-07",
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return f
}

func (f *gatewayFixture) bind(identity string, h core.JobHandlerFunc) {
	f.registry.handlers[identity] = h
}

func (f *gatewayFixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.gateway.Handle(rec, req)
	return rec
}

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func signedRequest(path string, body []byte, shop *core.ShopConfig, topic string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set(HeaderShopDomain, shop.Domain)
	req.Header.Set(HeaderTopic, topic)
	req.Header.Set(HeaderHMAC, sign(body, shop.WebhookSecret))
	return req
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var envelope map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope
}

func jsonBodyOfSize(t *testing.T, n int) []byte {
	t.Helper()
	const frame = len(`{"pad":""}`)
	require.GreaterOrEqual(t, n, frame)
	body := []byte(`{"pad":"` + strings.Repeat("a", n-frame) + `"}`)
	require.Len(t, body, n)
	return body
}

func TestGatewayPreflight(t *testing.T) {
	f := newGatewayFixture()

	t.Run("web-request jobs get cors headers", func(t *testing.T) {
		rec := f.do(httptest.NewRequest(http.MethodOptions, "/ping", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
	})

	t.Run("webhook jobs and unknown jobs are indistinguishable", func(t *testing.T) {
		known := f.do(httptest.NewRequest(http.MethodOptions, "/order-tagger", nil))
		unknown := f.do(httptest.NewRequest(http.MethodOptions, "/no-such-job", nil))

		assert.Equal(t, http.StatusMethodNotAllowed, known.Code)
		assert.Equal(t, unknown.Code, known.Code)
		assert.Equal(t, unknown.Body.String(), known.Body.String())
		assert.Empty(t, known.Header().Get("Access-Control-Allow-Origin"))
		assert.Empty(t, unknown.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestGatewayWebRequestGET(t *testing.T) {
	f := newGatewayFixture()

	var got *core.JobContext
	f.bind("ping", func(ctx context.Context, jc *core.JobContext) (*core.HandlerResult, error) {
		got = jc
		return &core.HandlerResult{Body: map[string]string{"message": "pong"}}, nil
	})

	rec := f.do(httptest.NewRequest(http.MethodGet, "/ping?name=carla&count=2", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.JSONEq(t, `{"message":"pong"}`, rec.Body.String())

	require.NotNil(t, got)
	assert.JSONEq(t, `{"name":"carla","count":"2"}`, string(got.Payload), "query parameters become the payload")
	assert.Equal(t, core.TopicWebRequest, got.Topic)
	assert.Equal(t, "demo.myshopify.com", got.Shop.Domain, "public jobs run against the default shop")
	assert.Empty(t, f.launcher.runs, "a web-request job never produces a durable run")
}

func TestGatewayWebRequestPOST(t *testing.T) {
	f := newGatewayFixture()

	var got json.RawMessage
	f.bind("ping", func(ctx context.Context, jc *core.JobContext) (*core.HandlerResult, error) {
		got = jc.Payload
		return &core.HandlerResult{
			StatusCode: http.StatusCreated,
			Headers:    map[string]string{"Content-Type": "text/plain", "X-Job": "ping"},
			Body:       []byte("created"),
		}, nil
	})

	req := httptest.NewRequest(http.MethodPost, "/ping", strings.NewReader(`{"name":"carla"}`))
	rec := f.do(req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	assert.Equal(t, "ping", rec.Header().Get("X-Job"))
	assert.Equal(t, "created", rec.Body.String())
	assert.JSONEq(t, `{"name":"carla"}`, string(got))
	assert.Empty(t, f.launcher.runs)
}

func TestGatewayWebRequestEmptyPOSTBody(t *testing.T) {
	f := newGatewayFixture()

	var got json.RawMessage
	f.bind("ping", func(ctx context.Context, jc *core.JobContext) (*core.HandlerResult, error) {
		got = jc.Payload
		return nil, nil
	})

	rec := f.do(httptest.NewRequest(http.MethodPost, "/ping", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, string(got))
}

func TestGatewayGETRejectedForNonPublicJobs(t *testing.T) {
	f := newGatewayFixture()

	rec := f.do(httptest.NewRequest(http.MethodGet, "/order-tagger", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	envelope := decodeEnvelope(t, rec)
	assert.Equal(t, false, envelope["success"])
	assert.Empty(t, f.launcher.runs)
}

func TestGatewayMethodNotAllowed(t *testing.T) {
	f := newGatewayFixture()

	rec := f.do(httptest.NewRequest(http.MethodPut, "/ping", strings.NewReader("{}")))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestGatewayWebhookCreatesRun(t *testing.T) {
	f := newGatewayFixture()

	// The addressed job is schedule-triggered; the delivered topic still
	// rides along on the run.
	body := []byte(`{"id":9001,"total_price":"42.00"}`)
	rec := f.do(signedRequest("/order-digest", body, f.shop, "orders/create"))

	require.Equal(t, http.StatusOK, rec.Code)
	envelope := decodeEnvelope(t, rec)
	assert.Equal(t, true, envelope["success"])

	workflowID, _ := envelope["workflowId"].(string)
	assert.Regexp(t, regexp.MustCompile(`^job-\d+-[a-z0-9]+$`), workflowID)

	require.Len(t, f.launcher.runs, 1)
	run := f.launcher.runs[0]
	assert.Equal(t, workflowID, run.ID)
	assert.Equal(t, "orders/create", run.Params.Topic)
	assert.Equal(t, "order-digest", run.Params.JobID)
	assert.Equal(t, "demo.myshopify.com", run.Params.ShopDomain)
	assert.Equal(t, "shpat_x", run.Params.Shop.AccessToken, "the run snapshots shop credentials")
	assert.JSONEq(t, string(body), string(run.Params.Payload))
	assert.Nil(t, run.Params.PayloadRef)
}

func TestGatewayWebhookRejectsBadSignature(t *testing.T) {
	f := newGatewayFixture()

	body := []byte(`{"id":1}`)
	req := signedRequest("/order-tagger", body, f.shop, "orders/create")
	req.Header.Set(HeaderHMAC, sign([]byte("different body"), f.shop.WebhookSecret))

	rec := f.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	envelope := decodeEnvelope(t, rec)
	assert.Equal(t, false, envelope["success"])
	assert.Contains(t, envelope["error"], "signature")
	assert.Empty(t, f.launcher.runs)
}

func TestGatewayWebhookMissingSignatureHeader(t *testing.T) {
	f := newGatewayFixture()

	req := signedRequest("/order-tagger", []byte(`{"id":1}`), f.shop, "orders/create")
	req.Header.Del(HeaderHMAC)

	rec := f.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "a missing header is a validation problem, not an auth failure")
	assert.Empty(t, f.launcher.runs)
}

func TestGatewayWebhookTopicHeaderCannotBypassAuth(t *testing.T) {
	f := newGatewayFixture()

	// Claiming the public topic on the durable path must not skip the
	// signature check.
	body := []byte(`{"id":1}`)
	req := httptest.NewRequest(http.MethodPost, "/order-tagger", bytes.NewReader(body))
	req.Header.Set(HeaderShopDomain, f.shop.Domain)
	req.Header.Set(HeaderTopic, core.TopicWebRequest)

	rec := f.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.launcher.runs)
}

func TestGatewayWebhookValidation(t *testing.T) {
	f := newGatewayFixture()

	tests := []struct {
		name    string
		mutate  func(req *http.Request)
		body    []byte
		wantErr string
	}{
		{
			name:    "missing shop domain header",
			body:    []byte(`{"id":1}`),
			mutate:  func(req *http.Request) { req.Header.Del(HeaderShopDomain) },
			wantErr: HeaderShopDomain,
		},
		{
			name:    "missing topic header",
			body:    []byte(`{"id":1}`),
			mutate:  func(req *http.Request) { req.Header.Del(HeaderTopic) },
			wantErr: HeaderTopic,
		},
		{
			name:    "empty body",
			body:    nil,
			mutate:  func(*http.Request) {},
			wantErr: "missing request body",
		},
		{
			name:    "body is not json",
			body:    []byte("id=1&total=2"),
			mutate:  func(*http.Request) {},
			wantErr: "not valid json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := signedRequest("/order-tagger", tt.body, f.shop, "orders/create")
			tt.mutate(req)

			rec := f.do(req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			envelope := decodeEnvelope(t, rec)
			assert.Contains(t, envelope["error"], tt.wantErr)
		})
	}
	assert.Empty(t, f.launcher.runs)
}

func TestGatewayInternalTopic(t *testing.T) {
	t.Run("accepts the shared secret", func(t *testing.T) {
		f := newGatewayFixture()

		body := []byte(`{"manual":true}`)
		req := httptest.NewRequest(http.MethodPost, "/order-tagger", bytes.NewReader(body))
		req.Header.Set(HeaderShopDomain, f.shop.Domain)
		req.Header.Set(HeaderTopic, core.TopicInternal)
		req.Header.Set(HeaderInternalSecret, "internal-s3cret")

		rec := f.do(req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		require.Len(t, f.launcher.runs, 1)
		assert.Equal(t, core.TopicInternal, f.launcher.runs[0].Params.Topic)
	})

	t.Run("rejects a wrong secret", func(t *testing.T) {
		f := newGatewayFixture()

		req := httptest.NewRequest(http.MethodPost, "/order-tagger", strings.NewReader(`{}`))
		req.Header.Set(HeaderShopDomain, f.shop.Domain)
		req.Header.Set(HeaderTopic, core.TopicInternal)
		req.Header.Set(HeaderInternalSecret, "guess")

		rec := f.do(req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Empty(t, f.launcher.runs)
	})

	t.Run("shop without internal secret is a config problem", func(t *testing.T) {
		f := newGatewayFixture()
		f.shop.InternalSecret = ""

		req := httptest.NewRequest(http.MethodPost, "/order-tagger", strings.NewReader(`{}`))
		req.Header.Set(HeaderShopDomain, f.shop.Domain)
		req.Header.Set(HeaderTopic, core.TopicInternal)
		req.Header.Set(HeaderInternalSecret, "anything")

		rec := f.do(req)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestGatewayPayloadOffloadBoundary(t *testing.T) {
	t.Run("at the threshold stays inline", func(t *testing.T) {
		f := newGatewayFixture()

		body := jsonBodyOfSize(t, core.PayloadThreshold)
		rec := f.do(signedRequest("/order-tagger", body, f.shop, "orders/create"))

		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, f.launcher.runs, 1)
		run := f.launcher.runs[0]
		assert.Nil(t, run.Params.PayloadRef)
		assert.Equal(t, string(body), string(run.Params.Payload))
		assert.Zero(t, f.blobs.Len())
	})

	t.Run("one byte over is offloaded", func(t *testing.T) {
		f := newGatewayFixture()

		body := jsonBodyOfSize(t, core.PayloadThreshold+1)
		rec := f.do(signedRequest("/order-tagger", body, f.shop, "orders/create"))

		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, f.launcher.runs, 1)
		run := f.launcher.runs[0]
		assert.Nil(t, run.Params.Payload, "offloaded runs carry only the reference")

		require.NotNil(t, run.Params.PayloadRef)
		assert.Equal(t, "payloads/"+run.ID, run.Params.PayloadRef.Key)
		assert.Equal(t, int64(len(body)), run.Params.PayloadRef.Size)
		assert.True(t, run.Params.PayloadRef.Large)

		stored, err := f.blobs.Get(context.Background(), run.Params.PayloadRef.Key)
		require.NoError(t, err)
		assert.Equal(t, body, stored, "the blob holds the original bytes exactly")
	})
}

func TestGatewayUnknownJob(t *testing.T) {
	f := newGatewayFixture()

	rec := f.do(signedRequest("/no-such-job", []byte(`{}`), f.shop, "orders/create"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code, "an unresolvable identity is a config error, not a validation one")

	envelope := decodeEnvelope(t, rec)
	assert.Equal(t, false, envelope["success"])
}

func TestGatewayUnknownShopDomain(t *testing.T) {
	f := newGatewayFixture()

	req := signedRequest("/order-tagger", []byte(`{}`), f.shop, "orders/create")
	req.Header.Set(HeaderShopDomain, "other.myshopify.com")

	rec := f.do(req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, f.launcher.runs)
}

func TestGatewaySyncHandlerErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{
			name:       "remote api failure",
			err:        &core.RemoteAPIError{Message: "platform request failed"},
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "typed validation",
			err:        core.Validationf("name parameter is required"),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "untyped message classified by substring",
			err:        errors.New("missing customer id"),
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newGatewayFixture()
			f.bind("ping", func(ctx context.Context, jc *core.JobContext) (*core.HandlerResult, error) {
				return nil, tt.err
			})

			rec := f.do(httptest.NewRequest(http.MethodGet, "/ping", nil))
			assert.Equal(t, tt.wantStatus, rec.Code)

			envelope := decodeEnvelope(t, rec)
			assert.Equal(t, false, envelope["success"])
			assert.Equal(t, tt.err.Error(), envelope["error"])
		})
	}
}

func TestGatewayLauncherFailure(t *testing.T) {
	f := newGatewayFixture()
	f.launcher.err = errors.New("queue unavailable")

	rec := f.do(signedRequest("/order-tagger", []byte(`{}`), f.shop, "orders/create"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGatewayMissingIdentity(t *testing.T) {
	f := newGatewayFixture()

	rec := f.do(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
