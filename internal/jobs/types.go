package jobs

import (
	"time"

	"github.com/mantonx/vodforge/internal/plan"
	"github.com/mantonx/vodforge/internal/probe"
)

// State is a job's lifecycle state. Transitions only move forward;
// completed and failed are terminal.
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// stateTransitions is the valid transition matrix.
var stateTransitions = map[State][]State{
	StatePending:    {StateProcessing, StateFailed},
	StateProcessing: {StateCompleted, StateFailed},
	StateCompleted:  {}, // Terminal state
	StateFailed:     {}, // Terminal state
}

func canTransition(from, to State) bool {
	for _, s := range stateTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// CompletedResolution is one finished rung with its artifact.
type CompletedResolution struct {
	plan.Descriptor
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
}

// Snapshot is an immutable, consistent view of a job. Readers polling
// status never observe a torn update because snapshots are built under the
// store's lock.
type Snapshot struct {
	ID            string                `json:"id"`
	SourcePath    string                `json:"source_path"`
	State         State                 `json:"state"`
	Progress      int                   `json:"progress"`
	Planned       []plan.Descriptor     `json:"planned_resolutions"`
	Completed     []CompletedResolution `json:"completed_resolutions"`
	ErrorMessage  string                `json:"error_message,omitempty"`
	Probe         *probe.Result         `json:"probe,omitempty"`
	ThumbnailPath string                `json:"thumbnail_path,omitempty"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

// record is the mutable job state. It is only touched while holding the
// store lock, and only the worker that owns the job mutates it.
type record struct {
	id            string
	sourcePath    string
	state         State
	progress      int
	planned       []plan.Descriptor
	completed     []CompletedResolution
	errorMessage  string
	probe         *probe.Result
	thumbnailPath string
	createdAt     time.Time
	updatedAt     time.Time
}

func (r *record) snapshot() Snapshot {
	snap := Snapshot{
		ID:            r.id,
		SourcePath:    r.sourcePath,
		State:         r.state,
		Progress:      r.progress,
		ErrorMessage:  r.errorMessage,
		ThumbnailPath: r.thumbnailPath,
		CreatedAt:     r.createdAt,
		UpdatedAt:     r.updatedAt,
	}
	if r.planned != nil {
		snap.Planned = make([]plan.Descriptor, len(r.planned))
		copy(snap.Planned, r.planned)
	}
	if r.completed != nil {
		snap.Completed = make([]CompletedResolution, len(r.completed))
		copy(snap.Completed, r.completed)
	}
	if r.probe != nil {
		p := *r.probe
		snap.Probe = &p
	}
	return snap
}
