package registry

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casthq/shophand/internal/core"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeLocalDefs(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	}
	return dir
}

func TestLoadCoreDefinitions(t *testing.T) {
	r, err := Load(Options{Logger: testLogger()})
	require.NoError(t, err)

	ping, err := r.Resolve("ping")
	require.NoError(t, err)
	assert.Equal(t, core.LocationCore, ping.Location)
	assert.Equal(t, "web-request", ping.Trigger)

	ordersCreate, err := r.ResolveTrigger("orders-create")
	require.NoError(t, err)
	assert.Equal(t, "orders/create", ordersCreate.Topic())
	assert.Equal(t, core.KindWebhook, ordersCreate.Kind())

	webRequest, err := r.ResolveTrigger("web-request")
	require.NoError(t, err)
	assert.Equal(t, core.KindWebRequest, webRequest.Kind())

	daily, err := r.ResolveTrigger("daily")
	require.NoError(t, err)
	assert.Equal(t, core.KindSchedule, daily.Kind())
	assert.Equal(t, "0 8 * * *", daily.Schedule.Cron)

	manual, err := r.ResolveTrigger("manual")
	require.NoError(t, err)
	assert.Equal(t, core.KindManual, manual.Kind())
}

func TestResolveStripsLocationPrefix(t *testing.T) {
	r, err := Load(Options{Logger: testLogger()})
	require.NoError(t, err)

	for _, identity := range []string{"ping", "core/ping", "local/ping"} {
		job, err := r.Resolve(identity)
		require.NoError(t, err, "identity %q", identity)
		assert.Equal(t, "ping", job.Identity)
	}

	_, err = r.Resolve("does/not/exist")
	assert.ErrorIs(t, err, core.ErrJobNotFound)

	_, err = r.ResolveTrigger("does-not-exist")
	assert.ErrorIs(t, err, core.ErrTriggerNotFound)
}

func TestBuiltinPingHandler(t *testing.T) {
	r, err := Load(Options{Logger: testLogger()})
	require.NoError(t, err)

	handler, err := r.Handler("ping")
	require.NoError(t, err)

	job, err := r.Resolve("ping")
	require.NoError(t, err)

	result, err := handler.Process(context.Background(), &core.JobContext{
		Job:    job,
		Shop:   &core.ShopConfig{Domain: "example.myshopify.com"},
		Logger: testLogger(),
	})
	require.NoError(t, err)

	body, ok := result.Body.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "pong", body["message"])
	assert.Equal(t, "example.myshopify.com", body["shop"])
}

func TestLocalOverridesCore(t *testing.T) {
	dir := writeLocalDefs(t, map[string]string{
		"jobs/ping/config.yml": "title: Local Ping\ntrigger: web-request\ntest:\n  message: local pong\n",
		"triggers/custom.yml":  "webhook:\n  topic: carts/update\n",
	})

	r, err := Load(Options{LocalDir: dir, Logger: testLogger()})
	require.NoError(t, err)

	ping, err := r.Resolve("ping")
	require.NoError(t, err)
	assert.Equal(t, core.LocationLocal, ping.Location)
	assert.Equal(t, "Local Ping", ping.Title)
	assert.Equal(t, "local pong", ping.Test["message"])

	// The built-in handler binding survives a local declaration override.
	_, err = r.Handler("ping")
	require.NoError(t, err)

	custom, err := r.ResolveTrigger("custom")
	require.NoError(t, err)
	assert.Equal(t, core.LocationLocal, custom.Location)
	assert.Equal(t, "carts/update", custom.Topic())
}

func TestLoadLocalJob(t *testing.T) {
	dir := writeLocalDefs(t, map[string]string{
		"jobs/orders/sync/config.yml": `
title: Sync orders
trigger: orders-create
webhook:
  include_fields: [id, total_price]
  metafield_namespaces: [sync]
api_version: "2025-01"
notify_on_failure: true
`,
	})

	r, err := Load(Options{LocalDir: dir, Logger: testLogger()})
	require.NoError(t, err)

	job, err := r.Resolve("orders/sync")
	require.NoError(t, err)
	assert.Equal(t, core.LocationLocal, job.Location)
	assert.Equal(t, []string{"id", "total_price"}, job.Filters.IncludeFields)
	assert.Equal(t, []string{"sync"}, job.Filters.MetafieldNamespaces)
	assert.Equal(t, "2025-01", job.APIVersion)
	assert.True(t, job.NotifyOnFailure)

	// Declared but not compiled in: resolvable, but dispatch would fail.
	_, err = r.Handler("orders/sync")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no bound handler")
}

func TestLoadRejectsUnknownTrigger(t *testing.T) {
	dir := writeLocalDefs(t, map[string]string{
		"jobs/broken/config.yml": "title: Broken\ntrigger: nope\n",
	})

	_, err := Load(Options{LocalDir: dir, Logger: testLogger()})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrTriggerNotFound)
	assert.Contains(t, err.Error(), "unknown trigger")
}

func TestLoadRejectsInvalidCron(t *testing.T) {
	dir := writeLocalDefs(t, map[string]string{
		"triggers/sometimes.yml": "schedule:\n  cron: \"99 99 * * *\"\n",
	})

	_, err := Load(Options{LocalDir: dir, Logger: testLogger()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cron expression")
}

func TestRegisterHandlerRules(t *testing.T) {
	r, err := Load(Options{Logger: testLogger()})
	require.NoError(t, err)

	noop := core.JobHandlerFunc(func(context.Context, *core.JobContext) (*core.HandlerResult, error) {
		return nil, nil
	})

	err = r.RegisterHandler("not/declared", noop)
	assert.ErrorIs(t, err, core.ErrJobNotFound)

	r.Freeze()
	err = r.RegisterHandler("ping", noop)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "frozen")
}

func TestJobsSortedByIdentity(t *testing.T) {
	dir := writeLocalDefs(t, map[string]string{
		"jobs/zeta/config.yml":   "trigger: manual\n",
		"jobs/alpha/config.yml":  "trigger: manual\n",
		"jobs/middle/config.yml": "trigger: daily\n",
	})

	r, err := Load(Options{LocalDir: dir, Logger: testLogger()})
	require.NoError(t, err)

	var identities []string
	for _, job := range r.Jobs() {
		identities = append(identities, job.Identity)
	}
	assert.Equal(t, []string{"alpha", "middle", "ping", "zeta"}, identities)
}
