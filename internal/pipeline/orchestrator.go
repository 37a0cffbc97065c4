package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Pruner removes cached artifacts older than maxAge.
type Pruner interface {
	Prune(maxAge time.Duration) (int, error)
}

// OrchestratorConfig sizes the job queue.
type OrchestratorConfig struct {
	WorkerCount  int
	MaxQueueSize int
	JobTTL       time.Duration
}

// Orchestrator queues extraction jobs and runs them on a worker pool.
type Orchestrator struct {
	jobs   *JobStore
	queue  chan *Job
	worker *Worker
	pruner Pruner
	log    *slog.Logger
	cfg    OrchestratorConfig

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrchestrator creates the pipeline. Call Start to begin processing.
// pruner may be nil.
func NewOrchestrator(cfg OrchestratorConfig, worker *Worker, pruner Pruner, log *slog.Logger) *Orchestrator {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 50
	}
	return &Orchestrator{
		jobs:   NewJobStore(cfg.JobTTL),
		queue:  make(chan *Job, cfg.MaxQueueSize),
		worker: worker,
		pruner: pruner,
		log:    log,
		cfg:    cfg,
	}
}

// Start launches worker goroutines.
func (o *Orchestrator) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	for range o.cfg.WorkerCount {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			for {
				select {
				case <-workerCtx.Done():
					return
				case job, ok := <-o.queue:
					if !ok {
						return
					}
					o.worker.Process(workerCtx, job)
				}
			}
		}()
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				o.cleanup()
			}
		}
	}()
}

func (o *Orchestrator) cleanup() {
	o.jobs.Cleanup()
	if o.pruner == nil {
		return
	}
	// Crops outlive their job so exported documents keep resolving.
	n, err := o.pruner.Prune(o.cfg.JobTTL * 24)
	if err != nil {
		o.log.Warn("image cache prune failed", "error", err)
		return
	}
	if n > 0 {
		o.log.Info("pruned image cache", "removed", n)
	}
}

// Stop gracefully shuts down the pipeline.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	close(o.queue)
	o.wg.Wait()
}

// Submit queues a new job for processing.
func (o *Orchestrator) Submit(job *Job) error {
	o.jobs.Put(job)
	select {
	case o.queue <- job:
		return nil
	default:
		job.AddError("queue_full")
		job.Fail(MsgUnexpectedFailed)
		return fmt.Errorf("job queue is full (%d)", o.cfg.MaxQueueSize)
	}
}

// GetJob returns a job by ID.
func (o *Orchestrator) GetJob(id string) *Job {
	return o.jobs.Get(id)
}

// QueueDepth returns current queue depth.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}

// Model returns the client the workers submit prompts through.
func (o *Orchestrator) Model() *ModelClient {
	return o.worker.deps.Model
}
