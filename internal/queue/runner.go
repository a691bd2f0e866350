package queue

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/perquire/internal/common"
	"github.com/ternarybob/perquire/internal/interfaces"
)

// JobRunner executes one claimed job to a terminal or halted state.
type JobRunner interface {
	Run(ctx context.Context, jobID string)
}

// Runner drives the engine tick: sweep dead jobs, then claim queued jobs
// into free worker slots. Each claimed job runs on its own goroutine.
type Runner struct {
	cfg      *common.Config
	storage  interfaces.StorageManager
	sweeper  *Sweeper
	executor JobRunner
	logger   arbor.ILogger

	cron     *cron.Cron
	inFlight atomic.Int64
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewRunner(cfg *common.Config, storage interfaces.StorageManager, sweeper *Sweeper, executor JobRunner, logger arbor.ILogger) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		cfg:      cfg,
		storage:  storage,
		sweeper:  sweeper,
		executor: executor,
		logger:   logger,
		cron:     cron.New(cron.WithSeconds()),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start schedules the engine tick and returns.
func (r *Runner) Start() error {
	schedule := fmt.Sprintf("@every %s", r.cfg.TickInterval())
	if _, err := r.cron.AddFunc(schedule, r.Tick); err != nil {
		return fmt.Errorf("failed to schedule engine tick: %w", err)
	}
	if _, err := r.cron.AddFunc("@every 10m", r.maintain); err != nil {
		return fmt.Errorf("failed to schedule store maintenance: %w", err)
	}
	r.cron.Start()

	r.logger.Info().
		Str("interval", r.cfg.TickInterval().String()).
		Int("max_concurrent", r.cfg.Engine.MaxConcurrent).
		Msg("Engine tick started")
	return nil
}

// Stop halts the tick and signals running executors to wind down. In-flight
// jobs stop at their next control check; their durable state survives for
// the next start.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.cancel()
	r.logger.Info().Msg("Engine tick stopped")
}

// Tick runs one sweep-then-claim cycle.
func (r *Runner) Tick() {
	r.sweeper.Sweep(r.ctx)
	r.claimLoop()
}

// maintain reclaims store space between ticks.
func (r *Runner) maintain() {
	if err := r.storage.RunGC(); err != nil {
		r.logger.Warn().Err(err).Msg("Store maintenance failed")
	}
}

// InFlight returns the number of jobs currently executing.
func (r *Runner) InFlight() int {
	return int(r.inFlight.Load())
}

// claimLoop fills every free worker slot with a queued job. Claiming is
// exclusive, so concurrent runners never start the same job twice.
func (r *Runner) claimLoop() {
	for r.inFlight.Load() < int64(r.cfg.Engine.MaxConcurrent) {
		job, err := r.storage.Jobs().ClaimNextQueued(r.ctx)
		if err != nil {
			r.logger.Warn().Err(err).Msg("Queue claim failed")
			return
		}
		if job == nil {
			return
		}

		r.inFlight.Add(1)
		r.logger.Info().
			Str("job_id", job.ID).
			Int64("in_flight", r.inFlight.Load()).
			Msg("Claimed job")

		jobID := job.ID
		common.SafeGoWithContext(r.ctx, r.logger, "job-"+jobID, func() {
			defer r.inFlight.Add(-1)
			r.executor.Run(r.ctx, jobID)
		})
	}
}
