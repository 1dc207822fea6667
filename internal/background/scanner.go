package background

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hookqueue/hookqueue/internal/broker"
	"github.com/hookqueue/hookqueue/internal/models"
)

// DueScanner republishes tasks whose due instant has passed: pending rows
// whose broker push was lost, and in_progress rows whose worker never
// recorded an outcome. Republishing is safe because acquisition is a CAS on
// (id, retry_count); stale instructions lose the race and are dropped.
type DueScanner struct {
	store      TaskStore
	queue      InstructionQueue
	interval   time.Duration
	batchLimit int
	logger     *logrus.Logger
	metrics    *Metrics
}

// NewDueScanner creates a scanner that wakes every interval and republishes
// up to batchLimit tasks per status.
func NewDueScanner(store TaskStore, queue InstructionQueue, interval time.Duration, batchLimit int, logger *logrus.Logger, metrics *Metrics) *DueScanner {
	if interval <= 0 {
		interval = 20 * time.Second
	}
	if batchLimit <= 0 {
		batchLimit = 100
	}
	return &DueScanner{
		store:      store,
		queue:      queue,
		interval:   interval,
		batchLimit: batchLimit,
		logger:     logger,
		metrics:    metrics,
	}
}

// Run blocks until ctx is cancelled, scanning once per interval.
func (s *DueScanner) Run(ctx context.Context) {
	s.logger.WithField("interval", s.interval).Info("Starting due scanner")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Due scanner stopped")
			return
		case <-ticker.C:
			s.Scan(ctx)
		}
	}
}

// Scan republishes one batch of overdue tasks and refreshes the queue
// gauges.
func (s *DueScanner) Scan(ctx context.Context) {
	now := time.Now().UTC()
	republished := 0

	for _, status := range []models.TaskStatus{models.TaskStatusPending, models.TaskStatusInProgress} {
		tasks, err := s.store.ScanDue(ctx, status, now, 0, s.batchLimit)
		if err != nil {
			s.logger.WithError(err).WithField("status", status).Warn("Due scan failed")
			continue
		}
		for _, task := range tasks {
			instruction := broker.FormatInstruction(task.ID, task.RetryCount)
			if err := s.queue.Push(ctx, instruction); err != nil {
				s.logger.WithError(err).WithField("task_id", task.ID).Warn("Failed to republish task")
				continue
			}
			republished++
		}
	}

	if republished > 0 {
		s.logger.WithField("count", republished).Info("Republished due tasks")
		if s.metrics != nil {
			s.metrics.Republished.Add(float64(republished))
		}
	}

	if s.metrics != nil {
		if depth, err := s.queue.Depth(ctx); err == nil {
			s.metrics.QueueDepth.Set(float64(depth))
		}
		if pending, err := s.store.CountPending(ctx); err == nil {
			s.metrics.PendingTasks.Set(float64(pending))
		}
	}
}
