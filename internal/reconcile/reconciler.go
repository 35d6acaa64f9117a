// Package reconcile converges remote webhook subscriptions toward the
// locally declared job configuration: enable creates the missing
// subscription, disable deletes matched ones, and orphan scans surface
// subscriptions no known job accounts for.
//
// Every operation is a read-then-write sequence against the remote API with
// no locking: two concurrent invocations for the same shop and topic can
// both observe state that is stale by the time the write lands. This is an
// accepted limitation. The commands are idempotent, so a race is resolved by
// re-running them.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/casthq/shophand/internal/core"
	"github.com/casthq/shophand/internal/shopify"
)

// ReconcilerConfig carries the collaborators a Reconciler needs.
type ReconcilerConfig struct {
	Registry  core.Registry
	Shops     core.ShopSource
	Subs      core.SubscriptionFactory
	PublicURL string

	// Crons is the deployed schedule; a schedule-triggered job reports
	// enabled only when its expression appears here.
	Crons []string

	Logger *slog.Logger
}

// Reconciler implements the enable, disable, status, and orphan operations.
type Reconciler struct {
	registry  core.Registry
	shops     core.ShopSource
	subs      core.SubscriptionFactory
	publicURL string
	crons     []string
	log       *slog.Logger
}

func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	return &Reconciler{
		registry:  cfg.Registry,
		shops:     cfg.Shops,
		subs:      cfg.Subs,
		publicURL: cfg.PublicURL,
		crons:     cfg.Crons,
		log:       cfg.Logger,
	}
}

// EnableOutcome classifies what an enable invocation did.
type EnableOutcome string

const (
	EnableCreated        EnableOutcome = "created"
	EnableAlreadyEnabled EnableOutcome = "already-enabled"
	EnableConflict       EnableOutcome = "conflict"
)

// EnableResult reports the outcome of one enable invocation.
type EnableResult struct {
	Outcome EnableOutcome `json:"outcome"`

	// Subscription is the created record, or the active match when the
	// job was already enabled.
	Subscription *core.Subscription `json:"subscription,omitempty"`

	// Matches holds every subscription that already delivers this job,
	// populated when Outcome is EnableAlreadyEnabled.
	Matches []core.Subscription `json:"matches,omitempty"`

	// Conflicts holds same-topic subscriptions pointing elsewhere. The
	// platform allows one subscription per topic per shop, so these must
	// be disabled before enable can create.
	Conflicts []core.Subscription `json:"conflicts,omitempty"`

	// FieldsDiffer is set when the job's configured include-fields no
	// longer match the active subscription's. The subscription is never
	// mutated in place; disable and re-enable to apply the new filters.
	FieldsDiffer bool `json:"fieldsDiffer,omitempty"`
}

// Enable ensures a subscription exists binding the job's webhook topic to
// this deployment's callback URL. It never overwrites: a same-topic
// subscription pointing at a different URL is reported as a conflict.
func (r *Reconciler) Enable(ctx context.Context, shop *core.ShopConfig, identity string) (*EnableResult, error) {
	job, topic, err := r.webhookTopic(identity)
	if err != nil {
		return nil, err
	}

	api, err := r.subs(shop)
	if err != nil {
		return nil, err
	}
	subs, err := api.List(ctx)
	if err != nil {
		return nil, err
	}

	desired := CallbackURL(r.publicURL, job.Identity)

	var matches, conflicts []core.Subscription
	for _, sub := range subs {
		if sub.Topic != topic {
			continue
		}
		embedded, ok := EmbeddedIdentity(sub.CallbackURL)
		if sameEndpoint(sub.CallbackURL, desired) && ok && MatchIdentity(embedded, job.Identity) {
			matches = append(matches, sub)
		} else {
			conflicts = append(conflicts, sub)
		}
	}

	if len(matches) > 0 {
		result := &EnableResult{
			Outcome:      EnableAlreadyEnabled,
			Subscription: &matches[0],
			Matches:      matches,
			FieldsDiffer: fieldsDiffer(job, matches[0]),
		}
		if result.FieldsDiffer {
			r.log.Warn("subscription filters drifted from job config",
				"shop", shop.Domain, "job", job.Identity, "id", matches[0].ID)
		}
		return result, nil
	}

	if len(conflicts) > 0 {
		r.log.Warn("topic already subscribed at a different URL",
			"shop", shop.Domain, "topic", topic, "job", job.Identity)
		return &EnableResult{Outcome: EnableConflict, Conflicts: conflicts}, nil
	}

	want := core.Subscription{Topic: topic, CallbackURL: desired}
	if job.Filters != nil {
		want.IncludeFields = job.Filters.IncludeFields
		want.MetafieldNamespaces = job.Filters.MetafieldNamespaces
	}

	created, err := api.Create(ctx, want)
	if err != nil {
		if shopify.IsAddressNotAllowed(err) {
			return nil, fmt.Errorf("callback %s was rejected: subscription endpoints must be HTTPS on a publicly reachable domain: %w", desired, err)
		}
		return nil, err
	}

	r.log.Info("subscription enabled",
		"shop", shop.Domain, "job", job.Identity, "topic", topic, "id", created.ID)
	return &EnableResult{Outcome: EnableCreated, Subscription: created}, nil
}

// DeleteFailure records one subscription that could not be removed.
type DeleteFailure struct {
	Subscription core.Subscription `json:"subscription"`
	Err          error             `json:"-"`
}

// MarshalJSON flattens the wrapped error to its message.
func (f DeleteFailure) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Subscription core.Subscription `json:"subscription"`
		Error        string            `json:"error"`
	}{f.Subscription, f.Err.Error()})
}

// DisableResult reports what a disable invocation removed.
type DisableResult struct {
	Deleted []core.Subscription `json:"deleted,omitempty"`
	Failed  []DeleteFailure     `json:"failed,omitempty"`

	// Hints holds same-topic subscriptions that did not match the job's
	// identity, populated only when nothing matched. They likely belong
	// to another job or an encoding this deployment no longer produces.
	Hints []core.Subscription `json:"hints,omitempty"`
}

// Disable removes every subscription whose embedded identity matches the
// job, regardless of how the callback URL was encoded. Subscriptions on the
// same topic that belong to other jobs are left untouched. One failed delete
// does not abort the rest.
func (r *Reconciler) Disable(ctx context.Context, shop *core.ShopConfig, identity string) (*DisableResult, error) {
	job, topic, err := r.webhookTopic(identity)
	if err != nil {
		return nil, err
	}

	api, err := r.subs(shop)
	if err != nil {
		return nil, err
	}
	subs, err := api.List(ctx)
	if err != nil {
		return nil, err
	}

	var targets, others []core.Subscription
	for _, sub := range subs {
		if sub.Topic != topic {
			continue
		}
		embedded, ok := EmbeddedIdentity(sub.CallbackURL)
		if ok && MatchIdentity(embedded, job.Identity) {
			targets = append(targets, sub)
		} else {
			others = append(others, sub)
		}
	}

	result := &DisableResult{}
	for _, sub := range targets {
		if err := api.Delete(ctx, sub.ID); err != nil {
			r.log.Warn("failed to delete subscription",
				"shop", shop.Domain, "id", sub.ID, "error", err)
			result.Failed = append(result.Failed, DeleteFailure{Subscription: sub, Err: err})
			continue
		}
		r.log.Info("subscription disabled",
			"shop", shop.Domain, "job", job.Identity, "topic", topic, "id", sub.ID)
		result.Deleted = append(result.Deleted, sub)
	}

	if len(targets) == 0 && len(others) > 0 {
		r.log.Warn("no subscription matched; topic has other subscribers",
			"shop", shop.Domain, "topic", topic, "job", job.Identity, "others", len(others))
		result.Hints = others
	}
	return result, nil
}

// Orphan is a remote subscription no currently known job accounts for.
type Orphan struct {
	Shop         string            `json:"shop"`
	Subscription core.Subscription `json:"subscription"`

	// Identity is the identity embedded in the callback URL, or "" when
	// none could be extracted.
	Identity string `json:"identity,omitempty"`
}

// Orphans lists the shop's subscriptions whose embedded identity matches no
// known job. Detection is read-only; orphans are reported, never deleted.
func (r *Reconciler) Orphans(ctx context.Context, shop *core.ShopConfig) ([]Orphan, error) {
	api, err := r.subs(shop)
	if err != nil {
		return nil, err
	}
	subs, err := api.List(ctx)
	if err != nil {
		return nil, err
	}

	jobs := r.registry.Jobs()
	var orphans []Orphan
	for _, sub := range subs {
		embedded, ok := EmbeddedIdentity(sub.CallbackURL)
		if ok && slices.ContainsFunc(jobs, func(job *core.JobDefinition) bool {
			return MatchIdentity(embedded, job.Identity)
		}) {
			continue
		}
		orphans = append(orphans, Orphan{Shop: shop.Domain, Subscription: sub, Identity: embedded})
	}
	return orphans, nil
}

// OrphansAll scans every configured shop concurrently and merges the
// results in shop order.
func (r *Reconciler) OrphansAll(ctx context.Context) ([]Orphan, error) {
	shops := r.shops.All()
	results := make([][]Orphan, len(shops))

	g, ctx := errgroup.WithContext(ctx)
	for i, shop := range shops {
		i, shop := i, shop // per-iteration copies for the goroutine under go <1.22
		g.Go(func() error {
			found, err := r.Orphans(ctx, shop)
			if err != nil {
				return fmt.Errorf("orphan scan for %s: %w", shop.Domain, err)
			}
			results[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []Orphan
	for _, found := range results {
		all = append(all, found...)
	}
	return all, nil
}

// StatusState is a job's display status.
type StatusState string

const (
	StatusEnabled  StatusState = "enabled"
	StatusDisabled StatusState = "disabled"
	StatusManual   StatusState = "manual"
)

// JobStatus is the read-only answer to "is this job live?".
type JobStatus struct {
	State  StatusState `json:"state"`
	Detail string      `json:"detail,omitempty"`
}

// Status determines a job's display status without mutating anything.
// Web-request jobs are enabled by virtue of being deployed; schedule jobs
// are enabled when their cron expression is part of the deployed schedule;
// jobs without a trigger are manual; webhook jobs are looked up remotely.
func (r *Reconciler) Status(ctx context.Context, shop *core.ShopConfig, identity string) (*JobStatus, error) {
	job, err := r.registry.Resolve(identity)
	if err != nil {
		return nil, err
	}
	trigger, err := r.registry.ResolveTrigger(job.Trigger)
	if err != nil {
		return nil, err
	}

	switch trigger.Kind() {
	case core.KindWebRequest:
		return &JobStatus{State: StatusEnabled, Detail: "public endpoint"}, nil

	case core.KindSchedule:
		cron := trigger.Schedule.Cron
		if slices.Contains(r.crons, cron) {
			return &JobStatus{State: StatusEnabled, Detail: cron}, nil
		}
		return &JobStatus{State: StatusDisabled, Detail: fmt.Sprintf("cron %q not deployed", cron)}, nil

	case core.KindManual:
		return &JobStatus{State: StatusManual}, nil
	}

	api, err := r.subs(shop)
	if err != nil {
		return nil, err
	}
	subs, err := api.List(ctx)
	if err != nil {
		return nil, err
	}

	topic := trigger.Topic()
	for _, sub := range subs {
		if sub.Topic != topic {
			continue
		}
		embedded, ok := EmbeddedIdentity(sub.CallbackURL)
		if ok && MatchIdentity(embedded, job.Identity) {
			return &JobStatus{State: StatusEnabled, Detail: "#" + sub.ShortID()}, nil
		}
	}
	return &JobStatus{State: StatusDisabled}, nil
}

// webhookTopic resolves a job down to its platform webhook topic, rejecting
// jobs whose trigger is not a platform webhook.
func (r *Reconciler) webhookTopic(identity string) (*core.JobDefinition, string, error) {
	job, err := r.registry.Resolve(identity)
	if err != nil {
		return nil, "", err
	}
	trigger, err := r.registry.ResolveTrigger(job.Trigger)
	if err != nil {
		return nil, "", err
	}
	if trigger.Kind() != core.KindWebhook {
		return nil, "", &core.ConfigError{
			Reason: fmt.Sprintf("job %s has no webhook topic (trigger kind %s)", identity, trigger.Kind()),
		}
	}
	return job, trigger.Topic(), nil
}

// fieldsDiffer compares the job's configured include-fields against the
// subscription's, order-insensitively.
func fieldsDiffer(job *core.JobDefinition, sub core.Subscription) bool {
	var want []string
	if job.Filters != nil {
		want = job.Filters.IncludeFields
	}
	want = slices.Clone(want)
	have := slices.Clone(sub.IncludeFields)
	slices.Sort(want)
	slices.Sort(have)
	return !slices.Equal(want, have)
}
