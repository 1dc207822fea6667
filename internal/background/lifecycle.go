package background

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hookqueue/hookqueue/internal/models"
)

// Lifecycle drives task state transitions through the store's conditional
// update. Acquire claims one attempt and returns a snapshot; every later
// write for that attempt is guarded by the snapshot's retry count, so a
// superseded attempt's writes are dropped instead of applied twice.
type Lifecycle struct {
	store         TaskStore
	calc          *DueCalculator
	maxTaskErrors int
	maxTaskDelay  time.Duration
	logger        *logrus.Logger
	metrics       *Metrics
}

// NewLifecycle creates a lifecycle manager with the given retry ceilings.
func NewLifecycle(store TaskStore, calc *DueCalculator, maxTaskErrors int, maxTaskDelay time.Duration, logger *logrus.Logger, metrics *Metrics) *Lifecycle {
	return &Lifecycle{
		store:         store,
		calc:          calc,
		maxTaskErrors: maxTaskErrors,
		maxTaskDelay:  maxTaskDelay,
		logger:        logger,
		metrics:       metrics,
	}
}

// Acquire claims the attempt named by an instruction pair. The conditional
// update increments retry_count, so duplicate instructions for the same
// (id, retryCount) produce exactly one winner; everyone else gets nil.
// A nil attempt without error means the task is gone, finished, or owned by
// someone else.
func (l *Lifecycle) Acquire(ctx context.Context, id int64, expectedRetryCount int) (*Attempt, error) {
	task, err := l.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load task: %w", err)
	}
	if task == nil {
		return nil, nil
	}

	next := expectedRetryCount + 1
	due := l.calc.Due(time.Duration(task.Timeout)*time.Second, next)
	rows, err := l.store.ConditionalUpdate(ctx, id, expectedRetryCount, models.TaskUpdate{
		Status:     models.TaskStatusInProgress,
		RetryCount: &next,
		Due:        &due,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to acquire task: %w", err)
	}
	if rows == 0 {
		if l.metrics != nil {
			l.metrics.Acquisitions.WithLabelValues("lost").Inc()
		}
		return nil, nil
	}

	task.Status = models.TaskStatusInProgress
	task.RetryCount = next
	task.Due = due
	if l.metrics != nil {
		l.metrics.Acquisitions.WithLabelValues("won").Inc()
	}
	return &Attempt{lifecycle: l, task: task}, nil
}

// Attempt is the window between one acquisition and its terminal
// transition. It holds the snapshot taken at acquisition; callers must not
// reuse it after a transition.
type Attempt struct {
	lifecycle *Lifecycle
	task      *models.Task
}

// Task returns the acquisition snapshot.
func (a *Attempt) Task() *models.Task { return a.task }

// Complete marks the delivery accepted.
func (a *Attempt) Complete(ctx context.Context) (models.TaskStatus, error) {
	return a.transition(ctx, models.TaskStatusCompleted, nil)
}

// Fail marks the task permanently failed. No further attempts follow.
func (a *Attempt) Fail(ctx context.Context) (models.TaskStatus, error) {
	return a.transition(ctx, models.TaskStatusFailed, nil)
}

// Reschedule returns the task to pending with an accelerated due date. Once
// the retry count or the retry delay passes its ceiling, the reschedule
// converts into a Fail.
func (a *Attempt) Reschedule(ctx context.Context) (models.TaskStatus, error) {
	l := a.lifecycle
	rc := a.task.RetryCount
	if rc >= l.maxTaskErrors || l.calc.RetryDelay(rc) > l.maxTaskDelay {
		l.logger.WithFields(logrus.Fields{
			"task_id":     a.task.ID,
			"retry_count": rc,
		}).Warn("Retry ceiling reached, failing task")
		return a.Fail(ctx)
	}
	due := l.calc.Due(0, rc)
	return a.transition(ctx, models.TaskStatusPending, &due)
}

func (a *Attempt) transition(ctx context.Context, status models.TaskStatus, due *time.Time) (models.TaskStatus, error) {
	rows, err := a.lifecycle.store.ConditionalUpdate(ctx, a.task.ID, a.task.RetryCount, models.TaskUpdate{
		Status: status,
		Due:    due,
	})
	if err != nil {
		return a.task.Status, fmt.Errorf("failed to mark task %s: %w", status, err)
	}
	if rows == 0 {
		// A newer attempt owns the row now; this write is dropped.
		a.lifecycle.logger.WithFields(logrus.Fields{
			"task_id":     a.task.ID,
			"retry_count": a.task.RetryCount,
			"status":      status,
		}).Debug("Transition superseded")
		return a.task.Status, nil
	}
	a.task.Status = status
	if due != nil {
		a.task.Due = *due
	}
	return status, nil
}
