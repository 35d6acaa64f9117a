// Package handler provides the HTTP entry points for event deliveries.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/casthq/shophand/internal/core"
	"github.com/casthq/shophand/internal/durable"
	"github.com/casthq/shophand/internal/metrics"
	"github.com/casthq/shophand/internal/shopify"
)

// Header names the gateway reads off inbound deliveries.
const (
	HeaderShopDomain     = "X-Shopify-Shop-Domain"
	HeaderTopic          = "X-Shopify-Topic"
	HeaderHMAC           = "X-Shopify-Hmac-Sha256"
	HeaderInternalSecret = "X-Shophand-Secret"
)

// maxBodyBytes bounds how much of a delivery the gateway reads. Oversized
// payloads are expected (they get offloaded), but not unbounded ones.
const maxBodyBytes = 16 << 20

// GatewayConfig carries the gateway's collaborators.
type GatewayConfig struct {
	Registry core.Registry
	Shops    core.ShopSource
	Clients  core.ClientFactory
	Launcher core.Launcher
	Blobs    core.BlobStore

	// Env is handed to synchronous job handlers as their secret map.
	Env map[string]string

	// APIVersion is the deployment default for jobs that pin none.
	APIVersion string

	Logger *slog.Logger
}

// GatewayHandler receives event deliveries: it authenticates each one,
// resolves the addressed job, and either executes it synchronously or starts
// a durable run. Handling is stateless; concurrent deliveries share nothing.
type GatewayHandler struct {
	registry   core.Registry
	shops      core.ShopSource
	clients    core.ClientFactory
	launcher   core.Launcher
	blobs      core.BlobStore
	env        map[string]string
	apiVersion string
	logger     *slog.Logger
}

// NewGatewayHandler builds the gateway.
func NewGatewayHandler(cfg GatewayConfig) *GatewayHandler {
	return &GatewayHandler{
		registry:   cfg.Registry,
		shops:      cfg.Shops,
		clients:    cfg.Clients,
		launcher:   cfg.Launcher,
		blobs:      cfg.Blobs,
		env:        cfg.Env,
		apiVersion: cfg.APIVersion,
		logger:     cfg.Logger,
	}
}

// Handle processes one delivery addressed as /<job-identity>.
func (h *GatewayHandler) Handle(w http.ResponseWriter, r *http.Request) {
	identity := strings.Trim(r.URL.Path, "/")

	switch r.Method {
	case http.MethodOptions:
		h.handlePreflight(w, identity)
		return
	case http.MethodGet, http.MethodPost:
	default:
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if err := h.dispatch(w, r, identity); err != nil {
		status := core.HTTPStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("event delivery failed", "job", identity, "error", err)
		} else {
			h.logger.Warn("event delivery rejected", "job", identity, "status", status, "error", err)
		}
		metrics.EventsTotal.WithLabelValues(metrics.OutcomeRejected).Inc()
		h.writeError(w, status, err.Error())
	}
}

// handlePreflight answers OPTIONS. Only jobs reachable by browsers get CORS
// headers; everything else, unknown identities included, gets the same
// generic answer so preflights cannot probe which jobs exist.
func (h *GatewayHandler) handlePreflight(w http.ResponseWriter, identity string) {
	if job, err := h.registry.Resolve(identity); err == nil {
		if trigger, err := h.registry.ResolveTrigger(job.Trigger); err == nil && trigger.Kind() == core.KindWebRequest {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Max-Age", "86400")
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	w.WriteHeader(http.StatusMethodNotAllowed)
}

func (h *GatewayHandler) dispatch(w http.ResponseWriter, r *http.Request, identity string) error {
	if identity == "" {
		return core.Validationf("missing job identity in request path")
	}

	job, err := h.registry.Resolve(identity)
	if err != nil {
		return err
	}
	trigger, err := h.registry.ResolveTrigger(job.Trigger)
	if err != nil {
		return err
	}

	if trigger.Kind() == core.KindWebRequest {
		payload, err := webRequestPayload(r)
		if err != nil {
			return err
		}
		shop, err := h.shops.Default()
		if err != nil {
			return err
		}
		return h.runSync(r.Context(), w, shop, job, payload)
	}

	if r.Method == http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "GET is only supported for web-request jobs")
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("failed to read request body: %w", err)
	}
	if len(body) == 0 {
		return core.Validationf("missing request body")
	}
	if !json.Valid(body) {
		return core.Validationf("request body is not valid json")
	}

	shopDomain := r.Header.Get(HeaderShopDomain)
	if shopDomain == "" {
		return core.Validationf("missing %s header", HeaderShopDomain)
	}
	topic := r.Header.Get(HeaderTopic)
	if topic == "" {
		return core.Validationf("missing %s header", HeaderTopic)
	}

	shop, err := h.shops.ByDomain(shopDomain)
	if err != nil {
		return err
	}

	if err := h.authenticate(r, body, topic, shop); err != nil {
		return err
	}

	return h.launch(r.Context(), w, shop, job, body, topic)
}

// authenticate checks the delivery's credentials. Internal deliveries carry
// the shop's shared secret; everything else on this path is a platform
// webhook and must carry a valid body signature, whatever topic the header
// claims.
func (h *GatewayHandler) authenticate(r *http.Request, body []byte, topic string, shop *core.ShopConfig) error {
	if topic == core.TopicInternal {
		return shopify.VerifySharedSecret(r.Header.Get(HeaderInternalSecret), shop)
	}

	signature := r.Header.Get(HeaderHMAC)
	if signature == "" {
		return core.Validationf("missing %s header", HeaderHMAC)
	}
	return shopify.VerifyWebhook(body, signature, shop.WebhookSecret)
}

// runSync executes a web-request job inside the HTTP exchange and translates
// its result into the response. No durable run is created.
func (h *GatewayHandler) runSync(ctx context.Context, w http.ResponseWriter, shop *core.ShopConfig, job *core.JobDefinition, payload json.RawMessage) error {
	jobHandler, err := h.registry.Handler(job.Identity)
	if err != nil {
		return err
	}

	api, err := h.clients(shop, h.pinVersion(job))
	if err != nil {
		return err
	}

	jc := &core.JobContext{
		API:     api,
		Payload: payload,
		Shop:    shop,
		Job:     job,
		Env:     h.env,
		Topic:   core.TopicWebRequest,
		Steps:   durable.Passthrough{},
		Logger:  h.logger.With("job", job.Identity, "shop", shop.Domain),
	}

	result, err := jobHandler.Process(ctx, jc)
	if err != nil {
		return err
	}

	metrics.EventsTotal.WithLabelValues(metrics.OutcomeSync).Inc()
	h.logger.Info("web request served", "job", job.Identity, "shop", shop.Domain)

	w.Header().Set("Access-Control-Allow-Origin", "*")
	h.writeHandlerResult(w, result)
	return nil
}

// launch builds run parameters, offloading the payload when it exceeds the
// inline threshold, and hands the run to the execution engine.
func (h *GatewayHandler) launch(ctx context.Context, w http.ResponseWriter, shop *core.ShopConfig, job *core.JobDefinition, body []byte, topic string) error {
	runID := core.NewRunID()
	params := core.RunParams{
		ShopDomain: shop.Domain,
		JobID:      job.Identity,
		Shop:       *shop,
		Job:        *job,
		Topic:      topic,
		ReceivedAt: time.Now().UTC(),
	}

	if len(body) > core.PayloadThreshold {
		key := "payloads/" + runID
		if err := h.blobs.Put(ctx, key, body); err != nil {
			return fmt.Errorf("failed to offload payload: %w", err)
		}
		params.PayloadRef = &core.PayloadReference{Key: key, Size: int64(len(body)), Large: true}
		metrics.PayloadOffloadsTotal.Inc()
		h.logger.Info("payload offloaded", "run_id", runID, "bytes", len(body))
	} else {
		params.Payload = body
	}

	run := &core.Run{ID: runID, Params: params}
	if err := h.launcher.CreateRun(ctx, run); err != nil {
		return err
	}

	metrics.EventsTotal.WithLabelValues(metrics.OutcomeQueued).Inc()
	h.logger.Info("run created", "run_id", runID, "job", job.Identity, "shop", shop.Domain, "topic", topic)
	h.writeJSON(w, http.StatusOK, map[string]any{"success": true, "workflowId": runID})
	return nil
}

func (h *GatewayHandler) pinVersion(job *core.JobDefinition) string {
	if job.APIVersion != "" {
		return job.APIVersion
	}
	return h.apiVersion
}

// webRequestPayload builds the payload for a public job: query parameters on
// GET, the JSON body on POST. An empty POST body is an empty payload.
func webRequestPayload(r *http.Request) (json.RawMessage, error) {
	if r.Method == http.MethodGet {
		params := make(map[string]string)
		for key, values := range r.URL.Query() {
			if len(values) > 0 {
				params[key] = values[0]
			}
		}
		payload, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to encode query parameters: %w", err)
		}
		return payload, nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	if len(body) == 0 {
		return json.RawMessage(`{}`), nil
	}
	if !json.Valid(body) {
		return nil, core.Validationf("request body is not valid json")
	}
	return body, nil
}

// writeHandlerResult translates a handler's result into the response,
// defaulting to 200 and JSON. Raw byte bodies pass through; anything else is
// JSON-encoded.
func (h *GatewayHandler) writeHandlerResult(w http.ResponseWriter, result *core.HandlerResult) {
	status := http.StatusOK
	var body any
	if result != nil {
		if result.StatusCode != 0 {
			status = result.StatusCode
		}
		for k, v := range result.Headers {
			w.Header().Set(k, v)
		}
		body = result.Body
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}

	switch b := body.(type) {
	case nil:
		w.WriteHeader(status)
	case json.RawMessage:
		w.WriteHeader(status)
		_, _ = w.Write(b)
	case []byte:
		w.WriteHeader(status)
		_, _ = w.Write(b)
	default:
		buf, err := json.Marshal(body)
		if err != nil {
			h.logger.Error("failed to encode handler result", "error", err)
			h.writeError(w, http.StatusInternalServerError, "failed to encode response")
			return
		}
		w.WriteHeader(status)
		_, _ = w.Write(buf)
	}
}

func (h *GatewayHandler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]any{"success": false, "error": message})
}

func (h *GatewayHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}
