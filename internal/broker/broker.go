// Package broker provides the instruction channel between the enqueue
// endpoint and the worker engine. Instructions are opaque
// "<task_id>:<retry_count>" strings; ordering is best-effort FIFO and
// duplicate delivery is tolerated by the acquisition protocol.
package broker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrClosed is returned when pushing to a broker that has been shut down.
var ErrClosed = errors.New("broker is closed")

// ErrQueueFull is returned by bounded backends when the queue is at capacity.
var ErrQueueFull = errors.New("queue capacity exceeded")

// Broker is a FIFO channel of task instructions.
type Broker interface {
	// Push appends an instruction. It must not block on consumers.
	Push(ctx context.Context, instruction string) error

	// PopBlocking waits up to timeout for an instruction. It returns the
	// empty string with a nil error when the wait expires with nothing to
	// consume.
	PopBlocking(ctx context.Context, timeout time.Duration) (string, error)

	// Depth reports the number of queued instructions.
	Depth(ctx context.Context) (int64, error)

	Close() error
}

// FormatInstruction renders the wire form of a task attempt.
func FormatInstruction(taskID int64, retryCount int) string {
	return strconv.FormatInt(taskID, 10) + ":" + strconv.Itoa(retryCount)
}

// ParseInstruction splits an instruction into its task id and retry count.
// Anything that is not two non-negative base-10 integers joined by a single
// colon is rejected.
func ParseInstruction(instruction string) (int64, int, error) {
	idPart, retryPart, ok := strings.Cut(instruction, ":")
	if !ok {
		return 0, 0, fmt.Errorf("malformed instruction %q: missing separator", instruction)
	}
	taskID, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || taskID < 0 {
		return 0, 0, fmt.Errorf("malformed instruction %q: bad task id", instruction)
	}
	retryCount, err := strconv.Atoi(retryPart)
	if err != nil || retryCount < 0 {
		return 0, 0, fmt.Errorf("malformed instruction %q: bad retry count", instruction)
	}
	return taskID, retryCount, nil
}
