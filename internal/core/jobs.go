// Package core defines the essential interfaces and data structures that form
// the backbone of the application: job and trigger declarations, shop
// credentials, durable run parameters, and the ports through which the
// gateway, dispatcher, and reconciler talk to the outside world. These
// components are deliberately abstract, keeping implementations decoupled
// and swappable.
package core

import (
	"maps"
	"slices"
	"strings"
)

const (
	// TopicWebRequest is the distinguished topic of publicly reachable
	// jobs. Deliveries for it execute synchronously and carry no
	// platform signature.
	TopicWebRequest = "web-request"

	// TopicInternal is the topic stamped on deliveries that originate
	// from shophand's own tooling rather than the commerce platform.
	// They authenticate with the shop's internal shared secret.
	TopicInternal = "shophand/webhook"
)

// Location tags where a definition was declared. Local definitions override
// core definitions with the same identity.
type Location string

const (
	LocationLocal Location = "local"
	LocationCore  Location = "core"
)

// locationPrefixes may leak into identities embedded in callback URLs by
// older deployments. Matching must tolerate them.
var locationPrefixes = [...]string{"local/", "core/"}

// StripLocationPrefix returns the bare job identity with any leading
// storage-location prefix removed.
func StripLocationPrefix(identity string) string {
	for _, prefix := range locationPrefixes {
		if rest, ok := strings.CutPrefix(identity, prefix); ok {
			return rest
		}
	}
	return identity
}

// JobDefinition is one declared automation unit, read from the job
// directory's config file at startup. Definitions are immutable at run time.
type JobDefinition struct {
	// Identity is the job's path-style name, set from its directory
	// during loading rather than from the file itself.
	Identity string   `yaml:"-" json:"identity"`
	Location Location `yaml:"-" json:"location"`

	Title   string `yaml:"title" json:"title"`
	Trigger string `yaml:"trigger" json:"trigger"`

	// Filters narrow what the platform includes in webhook payloads for
	// this job. Only meaningful for webhook-triggered jobs.
	Filters *WebhookFilters `yaml:"webhook,omitempty" json:"webhook,omitempty"`

	// APIVersion pins the admin API version for this job's client.
	// Empty means the deployment default.
	APIVersion string `yaml:"api_version,omitempty" json:"apiVersion,omitempty"`

	// Test holds fixtures consumed by the job's test query and by
	// payload-embedded overrides during dispatch.
	Test map[string]any `yaml:"test,omitempty" json:"test,omitempty"`

	// NotifyOnFailure opts the job into best-effort failure
	// notifications, provided the shop carries notification credentials.
	NotifyOnFailure bool `yaml:"notify_on_failure,omitempty" json:"notifyOnFailure,omitempty"`
}

// Clone returns a deep copy safe for per-run mutation. Registry definitions
// are shared and immutable; anything that merges overrides works on a clone.
func (j *JobDefinition) Clone() *JobDefinition {
	if j == nil {
		return nil
	}
	out := *j
	if j.Filters != nil {
		filters := *j.Filters
		filters.IncludeFields = slices.Clone(j.Filters.IncludeFields)
		filters.MetafieldNamespaces = slices.Clone(j.Filters.MetafieldNamespaces)
		out.Filters = &filters
	}
	if j.Test != nil {
		out.Test = make(map[string]any, len(j.Test))
		maps.Copy(out.Test, j.Test)
	}
	return &out
}

// WebhookFilters mirrors the subscription-level payload filters the platform
// supports.
type WebhookFilters struct {
	IncludeFields       []string `yaml:"include_fields,omitempty" json:"includeFields,omitempty"`
	MetafieldNamespaces []string `yaml:"metafield_namespaces,omitempty" json:"metafieldNamespaces,omitempty"`
}

// TriggerDefinition names an event source class jobs can react to: a
// platform webhook topic, a schedule, the public web-request endpoint, or
// nothing (manual invocation only).
type TriggerDefinition struct {
	Name     string   `yaml:"-" json:"name"`
	Location Location `yaml:"-" json:"location"`

	Webhook  *WebhookSpec  `yaml:"webhook,omitempty" json:"webhook,omitempty"`
	Schedule *ScheduleSpec `yaml:"schedule,omitempty" json:"schedule,omitempty"`
	Test     *TriggerTest  `yaml:"test,omitempty" json:"test,omitempty"`
}

// WebhookSpec binds a trigger to a platform webhook topic.
type WebhookSpec struct {
	Topic string `yaml:"topic" json:"topic"`
}

// ScheduleSpec binds a trigger to a cron expression.
type ScheduleSpec struct {
	Cron string `yaml:"cron" json:"cron"`
}

// TriggerTest names the query used to fetch a realistic payload when a job
// is exercised from the CLI.
type TriggerTest struct {
	Query string `yaml:"query,omitempty" json:"query,omitempty"`
}

// TriggerKind classifies how deliveries for a trigger are handled.
type TriggerKind string

const (
	// KindWebhook deliveries are signed by the platform and dispatched
	// as durable runs.
	KindWebhook TriggerKind = "webhook"
	// KindWebRequest deliveries are public and execute synchronously.
	KindWebRequest TriggerKind = "web-request"
	// KindSchedule jobs fire from the deployed cron configuration.
	KindSchedule TriggerKind = "schedule"
	// KindManual jobs only run when an operator invokes them.
	KindManual TriggerKind = "manual"
)

// Kind derives the trigger's classification from which spec blocks are set.
// A nil trigger is manual.
func (t *TriggerDefinition) Kind() TriggerKind {
	switch {
	case t == nil:
		return KindManual
	case t.Webhook != nil && t.Webhook.Topic == TopicWebRequest:
		return KindWebRequest
	case t.Webhook != nil && t.Webhook.Topic != "":
		return KindWebhook
	case t.Schedule != nil && t.Schedule.Cron != "":
		return KindSchedule
	default:
		return KindManual
	}
}

// Topic returns the trigger's webhook topic, or "" when it has none.
func (t *TriggerDefinition) Topic() string {
	if t == nil || t.Webhook == nil {
		return ""
	}
	return t.Webhook.Topic
}
