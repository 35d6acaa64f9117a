package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PayloadThreshold is the largest payload, in serialized bytes, carried
// inline in run parameters. Anything strictly larger is offloaded to the
// blob store and the run carries only a PayloadReference.
const PayloadThreshold = 1 << 20

// PayloadReference points at offloaded payload content in the blob store.
type PayloadReference struct {
	Key   string `json:"key"`
	Size  int64  `json:"size"`
	Large bool   `json:"large"`
}

// RunParams is the full input of one durable run, captured at dispatch time.
// Exactly one of Payload and PayloadRef is set, never both. Shop and Job are
// snapshots; the dispatcher reloads the job definition fresh and only trusts
// the snapshot for credentials and identity.
type RunParams struct {
	ShopDomain string            `json:"shopDomain"`
	JobID      string            `json:"jobId"`
	Payload    json.RawMessage   `json:"payload,omitempty"`
	PayloadRef *PayloadReference `json:"payloadRef,omitempty"`
	Shop       ShopConfig        `json:"shop"`
	Job        JobDefinition     `json:"job"`
	Topic      string            `json:"topic"`
	ReceivedAt time.Time         `json:"receivedAt"`
}

// Run is one durable, asynchronous execution of a job.
type Run struct {
	ID     string    `json:"id"`
	Params RunParams `json:"params"`
}

// NewRun assigns a fresh workflow id to params.
func NewRun(params RunParams) *Run {
	return &Run{ID: NewRunID(), Params: params}
}

// Validate reports structural problems that would make the run
// unprocessable. It enforces the payload exactly-one-of rule.
func (r *Run) Validate() error {
	switch {
	case r.ID == "":
		return fmt.Errorf("run has no id")
	case r.Params.JobID == "":
		return fmt.Errorf("run %s has no job identity", r.ID)
	case r.Params.ShopDomain == "":
		return fmt.Errorf("run %s has no shop domain", r.ID)
	case r.Params.Payload != nil && r.Params.PayloadRef != nil:
		return fmt.Errorf("run %s carries both an inline payload and a reference", r.ID)
	case r.Params.Payload == nil && r.Params.PayloadRef == nil:
		return fmt.Errorf("run %s carries neither an inline payload nor a reference", r.ID)
	}
	return nil
}

// NewRunID returns a workflow id of the form job-<unix-millis>-<suffix>.
// The millisecond prefix keeps ids roughly sortable in listings.
func NewRunID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("job-%d-%s", time.Now().UnixMilli(), suffix)
}

// RunState names the phases of the dispatch state machine. States advance
// strictly in order; a handler failure detours through NotifyingFailure
// before cleanup.
type RunState string

const (
	RunCreated           RunState = "created"
	RunRetrievingPayload RunState = "retrieving-payload"
	RunLoadingConfig     RunState = "loading-config"
	RunBuildingClient    RunState = "building-client"
	RunInvoking          RunState = "invoking"
	RunNotifyingFailure  RunState = "notifying-failure"
	RunCleaningUp        RunState = "cleaning-up"
	RunCompleted         RunState = "completed"
	RunFailed            RunState = "failed"
)

// Terminal reports whether the state is one of the two end states.
func (s RunState) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// RunRecord is the journal row persisted for each run so operators can
// inspect recent activity without touching the execution engine.
type RunRecord struct {
	ID         string     `db:"id" json:"id"`
	ShopDomain string     `db:"shop_domain" json:"shopDomain"`
	JobID      string     `db:"job_id" json:"jobId"`
	Topic      string     `db:"topic" json:"topic"`
	State      string     `db:"state" json:"state"`
	Error      string     `db:"error" json:"error,omitempty"`
	StartedAt  time.Time  `db:"started_at" json:"startedAt"`
	FinishedAt *time.Time `db:"finished_at" json:"finishedAt,omitempty"`
}
