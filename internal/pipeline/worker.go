package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/vodforge/internal/encode"
	"github.com/mantonx/vodforge/internal/events"
	"github.com/mantonx/vodforge/internal/metrics"
	"github.com/mantonx/vodforge/internal/plan"
	"github.com/mantonx/vodforge/internal/probe"
	"github.com/mantonx/vodforge/internal/toolchain"
)

// worker pulls jobs off the queue until the pipeline is shut down.
func (p *Pipeline) worker(n int) {
	defer p.wg.Done()
	log := p.log.With("worker", n)
	log.Debug("worker started")

	for {
		select {
		case <-p.ctx.Done():
			log.Debug("worker stopping")
			return
		case it := <-p.queue:
			metrics.QueueDepth.Dec()
			metrics.ActiveWorkers.Inc()
			p.runJob(log, it)
			metrics.ActiveWorkers.Dec()
		}
	}
}

// runJob owns a single job from processing to its terminal state. Every
// exit path leaves the job either completed or failed.
func (p *Pipeline) runJob(log hclog.Logger, it item) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.JobTimeout)
	defer cancel()

	if err := p.store.MarkProcessing(it.id); err != nil {
		log.Error("cannot start job", "job_id", it.id, "error", err)
		return
	}
	p.bus.Publish(events.Event{Type: events.EventJobStarted, JobID: it.id})
	log.Info("job started", "job_id", it.id, "source", it.sourcePath)

	if err := p.process(ctx, log, it); err != nil {
		reason := err.Error()
		stage := failureStage(err)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			reason = fmt.Sprintf("job exceeded %s time limit", p.cfg.JobTimeout)
			stage = "timeout"
		}
		if err := p.store.MarkFailed(it.id, reason); err != nil {
			log.Error("cannot record job failure", "job_id", it.id, "error", err)
		}
		metrics.JobsFailedTotal.WithLabelValues(stage).Inc()
		p.bus.Publish(events.Event{Type: events.EventJobFailed, JobID: it.id, Message: reason})
		log.Error("job failed", "job_id", it.id, "stage", stage, "error", err)
		return
	}

	if err := p.store.MarkCompleted(it.id); err != nil {
		log.Error("cannot finalize job", "job_id", it.id, "error", err)
		return
	}
	metrics.JobsCompletedTotal.Inc()
	metrics.JobDurationSeconds.Observe(time.Since(start).Seconds())
	p.bus.Publish(events.Event{Type: events.EventJobCompleted, JobID: it.id, Progress: 100})
	log.Info("job completed", "job_id", it.id, "took", time.Since(start).Round(time.Millisecond))
}

// process runs the probe, plan, and encode stages.
func (p *Pipeline) process(ctx context.Context, log hclog.Logger, it item) error {
	meta, err := p.probeWithRetry(ctx, it.sourcePath)
	if err != nil {
		return err
	}
	if err := p.store.SetProbe(it.id, meta); err != nil {
		return err
	}

	rungs, err := plan.ForSource(meta.Width, meta.Height)
	if err != nil {
		return err
	}
	if err := p.store.SetPlanned(it.id, rungs); err != nil {
		return err
	}
	log.Info("resolutions planned", "job_id", it.id,
		"source", fmt.Sprintf("%dx%d", meta.Width, meta.Height), "rungs", len(rungs))

	for i, rung := range rungs {
		artifact, err := p.encodeWithRetry(ctx, it, rung, meta.DurationSeconds, func(fraction float64) {
			pct := jobProgress(i, len(rungs), fraction)
			if p.store.UpdateProgress(it.id, pct) == nil {
				p.bus.Publish(events.Event{
					Type: events.EventJobProgress, JobID: it.id, Progress: pct, Rung: rung.Label,
				})
			}
		})
		if err != nil {
			return err
		}
		if err := p.store.MarkResolutionComplete(it.id, rung, artifact.Path, artifact.SizeBytes); err != nil {
			return err
		}
		metrics.RungsEncodedTotal.WithLabelValues(rung.Label).Inc()

		snap, err := p.store.Snapshot(it.id)
		if err != nil {
			return err
		}
		p.bus.Publish(events.Event{
			Type: events.EventJobRungCompleted, JobID: it.id, Progress: snap.Progress, Rung: rung.Label,
		})
		log.Info("rung encoded", "job_id", it.id, "rung", rung.Label, "path", artifact.Path)
	}

	// Thumbnail failures never fail the job; playback works without one.
	thumbPath, err := p.executor.GenerateThumbnail(ctx, it.id, it.sourcePath, meta.DurationSeconds)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("thumbnail generation skipped", "job_id", it.id, "error", err)
		p.bus.Publish(events.Event{Type: events.EventThumbnailSkipped, JobID: it.id, Message: err.Error()})
	} else if err := p.store.SetThumbnail(it.id, thumbPath); err != nil {
		return err
	}

	return nil
}

// probeWithRetry retries only when the tool failed to spawn; a probe that
// ran and rejected the file will reject it again.
func (p *Pipeline) probeWithRetry(ctx context.Context, sourcePath string) (probe.Result, error) {
	var last error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, p.cfg.RetryBackoff*time.Duration(attempt)); err != nil {
				return probe.Result{}, last
			}
		}

		res, err := p.prober.Probe(ctx, sourcePath)
		if err == nil {
			return res, nil
		}
		last = err

		var spawn *toolchain.SpawnError
		if !errors.As(err, &spawn) {
			return probe.Result{}, err
		}
		p.log.Warn("probe spawn failed", "source", sourcePath, "attempt", attempt+1, "error", err)
	}
	return probe.Result{}, last
}

func (p *Pipeline) encodeWithRetry(ctx context.Context, it item, rung plan.Descriptor, durationSeconds float64, onProgress func(float64)) (encode.Artifact, error) {
	var last error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, p.cfg.RetryBackoff*time.Duration(attempt)); err != nil {
				return encode.Artifact{}, last
			}
		}

		artifact, err := p.executor.Encode(ctx, it.id, it.sourcePath, rung, durationSeconds, onProgress)
		if err == nil {
			return artifact, nil
		}
		last = err

		var spawn *toolchain.SpawnError
		if !errors.As(err, &spawn) {
			return encode.Artifact{}, err
		}
		p.log.Warn("encode spawn failed", "job_id", it.id, "rung", rung.Label, "attempt", attempt+1, "error", err)
	}
	return encode.Artifact{}, last
}

// jobProgress maps a fraction of the current rung onto overall job percent.
func jobProgress(rungIndex, totalRungs int, fraction float64) int {
	if totalRungs <= 0 {
		return 0
	}
	if fraction < 0 {
		fraction = 0
	} else if fraction > 1 {
		fraction = 1
	}
	return int(math.Round(100 * (float64(rungIndex) + fraction) / float64(totalRungs)))
}

// failureStage labels a failure for metrics by the stage that produced it.
func failureStage(err error) string {
	var probeErr *probe.Error
	if errors.As(err, &probeErr) {
		return "probe"
	}
	if errors.Is(err, plan.ErrInvalidSource) {
		return "plan"
	}
	var encodeErr *encode.Error
	if errors.As(err, &encodeErr) {
		return "encode"
	}
	return "other"
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
