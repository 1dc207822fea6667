package background

import (
	"context"
	"time"

	"github.com/hookqueue/hookqueue/internal/models"
)

// TaskStore is the slice of the task repository the worker engine depends
// on. The conditional update is the only mutation path; see Lifecycle for
// how its CAS semantics serialize concurrent attempts.
type TaskStore interface {
	// GetByID returns the task, or nil without error when it does not exist.
	GetByID(ctx context.Context, id int64) (*models.Task, error)

	// ConditionalUpdate applies the update iff the row's retry_count still
	// equals expectedRetryCount and the task is not terminal. Returns the
	// number of rows written: 1 for the winner, 0 for everyone else.
	ConditionalUpdate(ctx context.Context, id int64, expectedRetryCount int, update models.TaskUpdate) (int64, error)

	// ScanDue lists tasks in the given status due before the given instant,
	// oldest first.
	ScanDue(ctx context.Context, status models.TaskStatus, before time.Time, offset, limit int) ([]*models.Task, error)

	// CountPending reports how many tasks are still waiting for delivery.
	CountPending(ctx context.Context) (int64, error)
}

// AttemptRecorder receives the audit row written after each delivery
// attempt. Implementations must tolerate being called during shutdown.
type AttemptRecorder interface {
	Record(ctx context.Context, attempt *models.DeliveryAttempt) error
}

// InstructionQueue is the broker surface the worker engine consumes.
type InstructionQueue interface {
	// Push appends an instruction to the queue.
	Push(ctx context.Context, instruction string) error

	// PopBlocking waits up to timeout for an instruction. An empty string
	// without error means the queue was empty.
	PopBlocking(ctx context.Context, timeout time.Duration) (string, error)

	// Depth returns the number of queued instructions.
	Depth(ctx context.Context) (int64, error)
}
