package registry

import (
	"context"
	"time"

	"github.com/casthq/shophand/internal/core"
)

// registerBuiltins binds handlers for the jobs shipped in the embedded core
// definitions. Local definitions may override the declaration; the handler
// binding survives because identities are equal.
func registerBuiltins(r *Registry) {
	// ping proves the public web-request path end to end.
	_ = r.RegisterHandler("ping", core.JobHandlerFunc(pingHandler))
}

func pingHandler(_ context.Context, jc *core.JobContext) (*core.HandlerResult, error) {
	message := "pong"
	if m, ok := jc.Job.Test["message"].(string); ok && m != "" {
		message = m
	}

	body := map[string]any{
		"message": message,
		"time":    time.Now().UTC().Format(time.RFC3339),
	}
	if jc.Shop != nil {
		body["shop"] = jc.Shop.Domain
	}
	return &core.HandlerResult{Body: body}, nil
}
