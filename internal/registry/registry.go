// Package registry resolves job and trigger identities to their declared
// configuration and compiled-in handlers. The registry is built once at
// process start from the embedded core definitions plus an optional local
// definitions directory, then frozen; lookups afterwards are lock-free reads
// of immutable data.
package registry

import (
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/casthq/shophand/internal/core"
)

//go:embed defs/jobs defs/triggers
var coreDefs embed.FS

// jobConfigFile is the declaration file expected in every job directory.
const jobConfigFile = "config.yml"

// Options configures registry loading.
type Options struct {
	// LocalDir is the root of local definitions, laid out as
	// <dir>/jobs/<identity>/config.yml and <dir>/triggers/<name>.yml.
	// Local definitions override core ones with the same identity.
	// Empty, or a directory that does not exist, means core-only.
	LocalDir string

	Logger *slog.Logger
}

// Registry implements core.Registry.
type Registry struct {
	jobs     map[string]*core.JobDefinition
	triggers map[string]*core.TriggerDefinition
	handlers map[string]core.JobHandler
	frozen   bool
	logger   *slog.Logger
}

// Load builds a registry from the embedded core definitions and, when
// configured, the local definitions directory. Built-in handlers are bound;
// the caller may bind more with RegisterHandler before calling Freeze.
func Load(opts Options) (*Registry, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	r := &Registry{
		jobs:     make(map[string]*core.JobDefinition),
		triggers: make(map[string]*core.TriggerDefinition),
		handlers: make(map[string]core.JobHandler),
		logger:   log,
	}

	coreTriggers, err := fs.Sub(coreDefs, "defs/triggers")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded triggers: %w", err)
	}
	if err := r.loadTriggers(coreTriggers, core.LocationCore); err != nil {
		return nil, err
	}

	coreJobs, err := fs.Sub(coreDefs, "defs/jobs")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded jobs: %w", err)
	}
	if err := r.loadJobs(coreJobs, core.LocationCore); err != nil {
		return nil, err
	}

	if opts.LocalDir != "" {
		if err := r.loadLocal(opts.LocalDir); err != nil {
			return nil, err
		}
	}

	if err := r.validate(); err != nil {
		return nil, err
	}

	registerBuiltins(r)

	log.Info("job registry loaded",
		"jobs", len(r.jobs),
		"triggers", len(r.triggers),
		"local_dir", opts.LocalDir,
	)
	return r, nil
}

func (r *Registry) loadLocal(dir string) error {
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			r.logger.Debug("local definitions directory absent, using core definitions only", "dir", dir)
			return nil
		}
		return fmt.Errorf("failed to stat local definitions dir %s: %w", dir, err)
	}

	triggersDir := filepath.Join(dir, "triggers")
	if _, err := os.Stat(triggersDir); err == nil {
		if err := r.loadTriggers(os.DirFS(triggersDir), core.LocationLocal); err != nil {
			return err
		}
	}

	jobsDir := filepath.Join(dir, "jobs")
	if _, err := os.Stat(jobsDir); err == nil {
		if err := r.loadJobs(os.DirFS(jobsDir), core.LocationLocal); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) loadTriggers(fsys fs.FS, loc core.Location) error {
	return fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || (path.Ext(p) != ".yml" && path.Ext(p) != ".yaml") {
			return nil
		}

		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return fmt.Errorf("failed to read trigger file %s: %w", p, err)
		}

		var def core.TriggerDefinition
		if err := yaml.Unmarshal(data, &def); err != nil {
			return fmt.Errorf("failed to parse trigger file %s: %w", p, err)
		}

		name := p[:len(p)-len(path.Ext(p))]
		def.Name = name
		def.Location = loc
		r.triggers[name] = &def
		return nil
	})
}

func (r *Registry) loadJobs(fsys fs.FS, loc core.Location) error {
	return fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != jobConfigFile {
			return nil
		}

		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return fmt.Errorf("failed to read job config %s: %w", p, err)
		}

		var def core.JobDefinition
		if err := yaml.Unmarshal(data, &def); err != nil {
			return fmt.Errorf("failed to parse job config %s: %w", p, err)
		}

		def.Identity = path.Dir(p)
		def.Location = loc
		if def.Trigger == "" {
			return fmt.Errorf("job %s declares no trigger", def.Identity)
		}
		r.jobs[def.Identity] = &def
		return nil
	})
}

// validate checks cross-references once both layers are loaded: every job's
// trigger must resolve and every scheduled trigger must carry a parseable
// cron expression.
func (r *Registry) validate() error {
	for name, trigger := range r.triggers {
		if trigger.Schedule != nil && trigger.Schedule.Cron != "" {
			if _, err := cron.ParseStandard(trigger.Schedule.Cron); err != nil {
				return &core.ConfigError{
					Reason: fmt.Sprintf("trigger %s has invalid cron expression %q", name, trigger.Schedule.Cron),
					Err:    err,
				}
			}
		}
	}

	for identity, job := range r.jobs {
		if _, ok := r.triggers[job.Trigger]; !ok {
			return &core.ConfigError{
				Reason: fmt.Sprintf("job %s references unknown trigger %q", identity, job.Trigger),
				Err:    core.ErrTriggerNotFound,
			}
		}
	}
	return nil
}

// RegisterHandler binds a compiled-in handler to a declared job identity.
// It must be called before Freeze.
func (r *Registry) RegisterHandler(identity string, handler core.JobHandler) error {
	if r.frozen {
		return fmt.Errorf("registry is frozen, cannot register handler for %s", identity)
	}
	identity = core.StripLocationPrefix(identity)
	if _, ok := r.jobs[identity]; !ok {
		return &core.ConfigError{
			Reason: fmt.Sprintf("cannot bind handler: job %q", identity),
			Err:    core.ErrJobNotFound,
		}
	}
	r.handlers[identity] = handler
	return nil
}

// Freeze seals the registry. Jobs declared without a bound handler stay
// resolvable but fail at dispatch time; they are reported here so operators
// see them at boot rather than on first delivery.
func (r *Registry) Freeze() *Registry {
	r.frozen = true
	for identity := range r.jobs {
		if _, ok := r.handlers[identity]; !ok {
			r.logger.Warn("job has no bound handler, deliveries for it will fail", "job", identity)
		}
	}
	return r
}

// Resolve returns the definition for a job identity. Storage-location
// prefixes are tolerated.
func (r *Registry) Resolve(identity string) (*core.JobDefinition, error) {
	job, ok := r.jobs[core.StripLocationPrefix(identity)]
	if !ok {
		return nil, &core.ConfigError{
			Reason: fmt.Sprintf("job %q", identity),
			Err:    core.ErrJobNotFound,
		}
	}
	return job, nil
}

// ResolveTrigger returns the trigger declared under name.
func (r *Registry) ResolveTrigger(name string) (*core.TriggerDefinition, error) {
	trigger, ok := r.triggers[name]
	if !ok {
		return nil, &core.ConfigError{
			Reason: fmt.Sprintf("trigger %q", name),
			Err:    core.ErrTriggerNotFound,
		}
	}
	return trigger, nil
}

// TriggerFor resolves the trigger a job is declared with.
func (r *Registry) TriggerFor(job *core.JobDefinition) (*core.TriggerDefinition, error) {
	return r.ResolveTrigger(job.Trigger)
}

// Handler returns the job's entry point.
func (r *Registry) Handler(identity string) (core.JobHandler, error) {
	bare := core.StripLocationPrefix(identity)
	if _, ok := r.jobs[bare]; !ok {
		return nil, &core.ConfigError{
			Reason: fmt.Sprintf("job %q", identity),
			Err:    core.ErrJobNotFound,
		}
	}
	handler, ok := r.handlers[bare]
	if !ok {
		return nil, &core.ConfigError{
			Reason: fmt.Sprintf("job %s has no bound handler", bare),
		}
	}
	return handler, nil
}

// Jobs returns every known definition sorted by identity.
func (r *Registry) Jobs() []*core.JobDefinition {
	out := make([]*core.JobDefinition, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

var _ core.Registry = (*Registry)(nil)
