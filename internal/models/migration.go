package models

// Stage is the coarse pipeline position of a migration. It only moves forward.
type Stage string

const (
	StagePending    Stage = "pending"
	StageProcessing Stage = "processing"
	StageMigrating  Stage = "migrating"
	StageFinished   Stage = "finished"
)

// Status classifies the outcome of a migration run.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var stageRank = map[Stage]int{
	StagePending:    0,
	StageProcessing: 1,
	StageMigrating:  2,
	StageFinished:   3,
}

// Migration is the persisted record for one transfer job. It is created by the
// API layer in pending/pending and mutated exclusively by the worker while a
// run is in flight.
type Migration struct {
	ID          string            `json:"id" bson:"_id"`
	ProjectID   string            `json:"project_id" bson:"projectId"`
	Source      string            `json:"source" bson:"source"`
	Destination string            `json:"destination" bson:"destination"`
	Credentials map[string]string `json:"credentials" bson:"credentials"`
	Resources   []string          `json:"resources" bson:"resources"`

	// Optional scope to a single pre-existing resource instead of a full account.
	ResourceID   string `json:"resource_id,omitempty" bson:"resourceId,omitempty"`
	ResourceType string `json:"resource_type,omitempty" bson:"resourceType,omitempty"`

	Stage  Stage  `json:"stage" bson:"stage"`
	Status Status `json:"status" bson:"status"`

	// ResourceData and StatusCounters are JSON snapshots of the coordinator's
	// transfer cache, rewritten at every checkpoint.
	ResourceData   string   `json:"resource_data" bson:"resourceData"`
	StatusCounters string   `json:"status_counters" bson:"statusCounters"`
	Errors         []string `json:"errors" bson:"errors"`

	// Extra carries provider-specific passthrough fields the engine does not
	// interpret.
	Extra map[string]any `json:"extra,omitempty" bson:"extra,omitempty"`
}

// Empty reports whether the record carries no identity, which happens when a
// load failed before any fields were populated.
func (m *Migration) Empty() bool {
	return m == nil || m.ID == ""
}

// SetStage advances the stage. Stages are monotonic: an attempt to move
// backwards is ignored.
func (m *Migration) SetStage(s Stage) {
	if stageRank[s] >= stageRank[m.Stage] {
		m.Stage = s
	}
}

// SetStatus updates the status unless it is already terminal.
func (m *Migration) SetStatus(s Status) {
	if m.Status.Terminal() {
		return
	}
	m.Status = s
}

// Project is the slice of the platform's project record the engine needs.
type Project struct {
	ID         string         `json:"id" bson:"_id"`
	InternalID string         `json:"internal_id" bson:"internalId"`
	Name       string         `json:"name" bson:"name"`
	Extra      map[string]any `json:"extra,omitempty" bson:"extra,omitempty"`
}

// Empty reports whether the project record was not found.
func (p *Project) Empty() bool {
	return p == nil || p.ID == ""
}
