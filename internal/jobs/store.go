// Package jobs tracks the status of every transcoding job. The in-memory
// store is authoritative while the process runs; a database row shadows
// each record so history survives restarts. All mutations happen under a
// single lock, so readers always see consistent snapshots, and each job is
// mutated only by the worker that currently owns it.
package jobs

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/mantonx/vodforge/internal/database"
	"github.com/mantonx/vodforge/internal/plan"
	"github.com/mantonx/vodforge/internal/probe"
)

var (
	// ErrNotFound means no job with the given id exists.
	ErrNotFound = errors.New("job not found")
	// ErrDuplicate means a job with the given id already exists.
	ErrDuplicate = errors.New("job already exists")
)

// Store holds all job records.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*record

	db  *gorm.DB
	log hclog.Logger
	now func() time.Time
}

// NewStore creates a Store backed by db. db may be nil in tests that do not
// exercise persistence.
func NewStore(db *gorm.DB, log hclog.Logger) *Store {
	return &Store{
		jobs: make(map[string]*record),
		db:   db,
		log:  log.Named("jobs"),
		now:  time.Now,
	}
}

// Create registers a new pending job.
func (s *Store) Create(id, sourcePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, id)
	}

	now := s.now().UTC()
	rec := &record{
		id:         id,
		sourcePath: sourcePath,
		state:      StatePending,
		createdAt:  now,
		updatedAt:  now,
	}
	s.jobs[id] = rec
	s.persist(rec)
	return nil
}

// MarkProcessing transitions a pending job to processing.
func (s *Store) MarkProcessing(id string) error {
	return s.mutate(id, func(rec *record) error {
		if !canTransition(rec.state, StateProcessing) {
			return fmt.Errorf("invalid state transition from %s to %s for job %s", rec.state, StateProcessing, id)
		}
		rec.state = StateProcessing
		return nil
	})
}

// SetProbe records the probe result for later metadata display.
func (s *Store) SetProbe(id string, result probe.Result) error {
	return s.mutate(id, func(rec *record) error {
		r := result
		rec.probe = &r
		return nil
	})
}

// SetPlanned fixes the target ladder for a job. It may be set once.
func (s *Store) SetPlanned(id string, rungs []plan.Descriptor) error {
	return s.mutate(id, func(rec *record) error {
		if rec.planned != nil {
			return fmt.Errorf("planned resolutions already set for job %s", id)
		}
		rec.planned = make([]plan.Descriptor, len(rungs))
		copy(rec.planned, rungs)
		return nil
	})
}

// UpdateProgress raises a processing job's progress. Progress never
// decreases and stays below 100 until the job is completed, so readers can
// rely on progress==100 meaning completed.
func (s *Store) UpdateProgress(id string, percent int) error {
	return s.mutate(id, func(rec *record) error {
		if rec.state != StateProcessing {
			return fmt.Errorf("job %s is %s, not processing", id, rec.state)
		}
		if percent > 99 {
			percent = 99
		}
		if percent > rec.progress {
			rec.progress = percent
		}
		return nil
	})
}

// MarkResolutionComplete records a finished rung and advances progress to
// round(100 * done / planned), capped below 100 until completion.
func (s *Store) MarkResolutionComplete(id string, rung plan.Descriptor, artifactPath string, sizeBytes int64) error {
	return s.mutate(id, func(rec *record) error {
		if rec.state != StateProcessing {
			return fmt.Errorf("job %s is %s, not processing", id, rec.state)
		}
		if !containsRung(rec.planned, rung) {
			return fmt.Errorf("rung %s was not planned for job %s", rung.Label, id)
		}
		for _, done := range rec.completed {
			if done.Label == rung.Label {
				return fmt.Errorf("rung %s already completed for job %s", rung.Label, id)
			}
		}

		rec.completed = append(rec.completed, CompletedResolution{
			Descriptor: rung,
			Path:       artifactPath,
			SizeBytes:  sizeBytes,
		})

		pct := int(math.Round(100 * float64(len(rec.completed)) / float64(len(rec.planned))))
		if pct > 99 {
			pct = 99
		}
		if pct > rec.progress {
			rec.progress = pct
		}

		s.persistResolution(id, rec.completed[len(rec.completed)-1])
		return nil
	})
}

// SetThumbnail records the generated thumbnail path.
func (s *Store) SetThumbnail(id, path string) error {
	return s.mutate(id, func(rec *record) error {
		rec.thumbnailPath = path
		return nil
	})
}

// MarkCompleted finalizes a job whose every planned rung has been encoded.
func (s *Store) MarkCompleted(id string) error {
	return s.mutate(id, func(rec *record) error {
		if !canTransition(rec.state, StateCompleted) {
			return fmt.Errorf("invalid state transition from %s to %s for job %s", rec.state, StateCompleted, id)
		}
		if len(rec.completed) != len(rec.planned) || rec.planned == nil {
			return fmt.Errorf("job %s has %d of %d planned resolutions; cannot complete",
				id, len(rec.completed), len(rec.planned))
		}
		rec.state = StateCompleted
		rec.progress = 100
		return nil
	})
}

// MarkFailed finalizes a job with a human-readable cause.
func (s *Store) MarkFailed(id, reason string) error {
	return s.mutate(id, func(rec *record) error {
		if !canTransition(rec.state, StateFailed) {
			return fmt.Errorf("invalid state transition from %s to %s for job %s", rec.state, StateFailed, id)
		}
		rec.state = StateFailed
		rec.errorMessage = reason
		return nil
	})
}

// Snapshot returns a consistent view of a job. Jobs not in memory (from a
// previous run) are reconstructed read-only from the database.
func (s *Store) Snapshot(id string) (Snapshot, error) {
	s.mu.RLock()
	rec, ok := s.jobs[id]
	if ok {
		snap := rec.snapshot()
		s.mu.RUnlock()
		return snap, nil
	}
	s.mu.RUnlock()

	return s.snapshotFromDB(id)
}

// List returns snapshots of all in-memory jobs, newest first.
func (s *Store) List() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Snapshot, 0, len(s.jobs))
	for _, rec := range s.jobs {
		out = append(out, rec.snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// mutate runs fn on a record under the write lock and persists the result.
func (s *Store) mutate(id string, fn func(*record) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := fn(rec); err != nil {
		return err
	}
	rec.updatedAt = s.now().UTC()
	s.persist(rec)
	return nil
}

func containsRung(planned []plan.Descriptor, rung plan.Descriptor) bool {
	for _, d := range planned {
		if d == rung {
			return true
		}
	}
	return false
}

// persist shadows the record into the database. The in-memory record stays
// authoritative; a write failure is logged and status reads continue to
// work.
func (s *Store) persist(rec *record) {
	if s.db == nil {
		return
	}

	row := database.TranscodeJob{
		ID:            rec.id,
		SourcePath:    rec.sourcePath,
		State:         string(rec.state),
		Progress:      rec.progress,
		ErrorMessage:  rec.errorMessage,
		ThumbnailPath: rec.thumbnailPath,
		CreatedAt:     rec.createdAt,
		UpdatedAt:     rec.updatedAt,
	}
	if rec.probe != nil {
		row.DurationSeconds = rec.probe.DurationSeconds
		row.Width = rec.probe.Width
		row.Height = rec.probe.Height
		row.FrameRate = rec.probe.FrameRate
		row.Codec = rec.probe.Codec
		row.BitRate = rec.probe.BitRate
	}

	if err := s.db.Save(&row).Error; err != nil {
		s.log.Warn("failed to persist job record", "job_id", rec.id, "error", err)
	}
}

func (s *Store) persistResolution(jobID string, res CompletedResolution) {
	if s.db == nil {
		return
	}

	row := database.TranscodeResolution{
		JobID:     jobID,
		Label:     res.Label,
		Width:     res.Width,
		Height:    res.Height,
		Path:      res.Path,
		SizeBytes: res.SizeBytes,
	}
	if err := s.db.Create(&row).Error; err != nil {
		s.log.Warn("failed to persist completed resolution", "job_id", jobID, "rung", res.Label, "error", err)
	}
}

func (s *Store) snapshotFromDB(id string) (Snapshot, error) {
	if s.db == nil {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	var row database.TranscodeJob
	if err := s.db.Preload("Resolutions").First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return Snapshot{}, fmt.Errorf("load job %s: %w", id, err)
	}

	snap := Snapshot{
		ID:            row.ID,
		SourcePath:    row.SourcePath,
		State:         State(row.State),
		Progress:      row.Progress,
		ErrorMessage:  row.ErrorMessage,
		ThumbnailPath: row.ThumbnailPath,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}
	if row.Width > 0 && row.Height > 0 {
		snap.Probe = &probe.Result{
			DurationSeconds: row.DurationSeconds,
			Width:           row.Width,
			Height:          row.Height,
			FrameRate:       row.FrameRate,
			Codec:           row.Codec,
			BitRate:         row.BitRate,
		}
	}
	for _, res := range row.Resolutions {
		snap.Completed = append(snap.Completed, CompletedResolution{
			Descriptor: plan.Descriptor{Label: res.Label, Width: res.Width, Height: res.Height},
			Path:       res.Path,
			SizeBytes:  res.SizeBytes,
		})
	}
	return snap, nil
}
