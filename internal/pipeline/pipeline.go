// Package pipeline drives transcoding jobs from submission to completion.
// A fixed pool of workers pulls jobs off a bounded queue; each job is
// probed, planned against the resolution ladder, and encoded one rung at a
// time so a machine never runs more concurrent ffmpeg processes than it has
// workers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/mantonx/vodforge/internal/config"
	"github.com/mantonx/vodforge/internal/encode"
	"github.com/mantonx/vodforge/internal/events"
	"github.com/mantonx/vodforge/internal/jobs"
	"github.com/mantonx/vodforge/internal/metrics"
	"github.com/mantonx/vodforge/internal/probe"
	"github.com/mantonx/vodforge/internal/toolchain"
)

// ErrQueueFull means the job was rejected because the queue is at capacity.
var ErrQueueFull = errors.New("transcode queue full")

// item is one queued unit of work.
type item struct {
	id         string
	sourcePath string
}

// Pipeline owns the worker pool and the job queue.
type Pipeline struct {
	cfg      config.TranscodingConfig
	store    *jobs.Store
	prober   *probe.Prober
	executor *encode.Executor
	bus      *events.Bus
	log      hclog.Logger

	queue   chan item
	workers int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New verifies the media toolchain and prepares the pipeline. It fails fast
// when ffmpeg or ffprobe cannot be executed, so a misconfigured host is
// caught at startup rather than on the first job.
func New(ctx context.Context, cfg config.TranscodingConfig, runner toolchain.Runner, store *jobs.Store, bus *events.Bus, log hclog.Logger) (*Pipeline, error) {
	if err := toolchain.Verify(ctx, runner, cfg.FFmpegPath, cfg.FFprobePath); err != nil {
		return nil, fmt.Errorf("verify media toolchain: %w", err)
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	plog := log.Named("pipeline")
	workers := cfg.WorkerCount
	if workers <= 0 {
		workers = autoWorkerCount(plog)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		cfg:      cfg,
		store:    store,
		prober:   probe.New(runner, cfg.FFprobePath, cfg.ProbeTimeout, plog),
		executor: encode.NewExecutor(runner, cfg.FFmpegPath, cfg.OutputDir, plog),
		bus:      bus,
		log:      plog,
		queue:    make(chan item, cfg.QueueSize),
		workers:  workers,
		ctx:      runCtx,
		cancel:   cancel,
	}, nil
}

// Start launches the worker pool.
func (p *Pipeline) Start() {
	p.log.Info("starting transcode workers", "workers", p.workers, "queue_size", cap(p.queue))
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Enqueue registers a new job and hands it to the pool. An empty id gets a
// generated one; the assigned id is returned so callers can poll status.
func (p *Pipeline) Enqueue(id, sourcePath string) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}

	info, err := os.Stat(sourcePath)
	if err != nil {
		return "", fmt.Errorf("source file %s: %w", sourcePath, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("source file %s is not a regular file", sourcePath)
	}

	if err := p.store.Create(id, sourcePath); err != nil {
		return "", err
	}

	select {
	case p.queue <- item{id: id, sourcePath: sourcePath}:
	default:
		if err := p.store.MarkFailed(id, "transcode queue full"); err != nil {
			p.log.Warn("failed to mark rejected job", "job_id", id, "error", err)
		}
		return "", ErrQueueFull
	}

	metrics.QueueDepth.Inc()
	p.bus.Publish(events.Event{Type: events.EventJobQueued, JobID: id})
	p.log.Info("job queued", "job_id", id, "source", sourcePath)
	return id, nil
}

// Shutdown stops accepting work from the queue and waits for in-flight jobs
// to wind down or for ctx to expire.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.log.Info("pipeline stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pipeline shutdown: %w", ctx.Err())
	}
}

// autoWorkerCount sizes the pool from the machine. Software encodes are CPU
// bound and memory hungry, so we take half the logical cores and make sure
// each worker has roughly 2 GiB to itself.
func autoWorkerCount(log hclog.Logger) int {
	workers := 2

	if cores, err := cpu.Counts(true); err == nil && cores > 0 {
		workers = cores / 2
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		byMemory := int(vm.Total / (2 << 30))
		if byMemory > 0 && byMemory < workers {
			workers = byMemory
		}
	}

	if workers < 1 {
		workers = 1
	}
	if workers > 4 {
		workers = 4
	}
	log.Debug("auto-sized worker pool", "workers", workers)
	return workers
}
