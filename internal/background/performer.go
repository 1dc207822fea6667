package background

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hookqueue/hookqueue/internal/broker"
	"github.com/hookqueue/hookqueue/internal/models"
)

// Performer executes one delivery attempt end to end: parse the
// instruction, acquire the task, POST its body to the webhook and map the
// HTTP outcome to a lifecycle transition.
type Performer struct {
	lifecycle *Lifecycle
	client    *http.Client
	recorder  AttemptRecorder
	logger    *logrus.Logger
	metrics   *Metrics
}

// NewPerformer creates a performer. A nil client gets a default http.Client;
// per-request deadlines come from each task's timeout, not the client. A nil
// recorder disables the attempt audit trail.
func NewPerformer(lifecycle *Lifecycle, client *http.Client, recorder AttemptRecorder, logger *logrus.Logger, metrics *Metrics) *Performer {
	if client == nil {
		client = &http.Client{}
	}
	return &Performer{
		lifecycle: lifecycle,
		client:    client,
		recorder:  recorder,
		logger:    logger,
		metrics:   metrics,
	}
}

// Perform handles a single instruction. Errors never escape the performer:
// every failure either leaves the row to be re-acquired later or records an
// explicit outcome. Cancelling ctx abandons the attempt without a terminal
// write, so the task becomes re-due once its lease expires.
func (p *Performer) Perform(ctx context.Context, instruction string) {
	id, retryCount, err := broker.ParseInstruction(instruction)
	if err != nil {
		if p.metrics != nil {
			p.metrics.MalformedInstructions.Inc()
		}
		p.logger.WithError(err).Warn("Dropping malformed instruction")
		return
	}

	log := p.logger.WithFields(logrus.Fields{
		"task_id":     id,
		"retry_count": retryCount,
	})

	attempt, err := p.lifecycle.Acquire(ctx, id, retryCount)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			log.WithError(err).Warn("Failed to acquire task")
		}
		return
	}
	if attempt == nil {
		log.Debug("Task gone, finished or owned by another worker")
		return
	}

	task := attempt.Task()
	start := time.Now()
	resp, err := p.deliver(ctx, task)
	elapsed := time.Since(start)

	if errors.Is(err, context.Canceled) {
		// Shutdown raced the POST. No terminal write: the row stays
		// in_progress and the due scanner republishes it after the lease
		// expires.
		log.Debug("Abandoning in-flight delivery")
		if p.metrics != nil {
			p.metrics.RecordDelivery("abandoned", elapsed.Seconds())
		}
		return
	}

	var status models.TaskStatus
	var terr error
	switch {
	case err != nil || resp.StatusCode >= http.StatusInternalServerError:
		// No response or 5xx: transport failure, retry later.
		status, terr = attempt.Reschedule(context.Background())
	case resp.StatusCode >= http.StatusAccepted:
		// 202..499: the endpoint answered and refused; retrying won't help.
		status, terr = attempt.Fail(context.Background())
	default:
		// 200 or 201.
		status, terr = attempt.Complete(context.Background())
	}
	if terr != nil {
		// The row stays in_progress and is rescued by the scanner.
		log.WithError(terr).Error("Failed to record delivery outcome")
		return
	}

	code := 0
	if resp != nil {
		code = resp.StatusCode
	}
	outcome := outcomeLabel(status)
	log.WithFields(logrus.Fields{
		"url":         task.URL,
		"status_code": code,
		"outcome":     outcome,
		"duration":    elapsed,
	}).Info("Delivery attempt finished")
	if p.metrics != nil {
		p.metrics.RecordDelivery(outcome, elapsed.Seconds())
	}
	p.recordAttempt(log, task, outcome, resp, err, elapsed)
}

// recordAttempt appends one audit row. The write uses a fresh context so a
// shutdown cannot truncate the trail, and failures are logged, not returned:
// auditing never blocks the lifecycle.
func (p *Performer) recordAttempt(log *logrus.Entry, task *models.Task, outcome string, resp *http.Response, deliverErr error, elapsed time.Duration) {
	if p.recorder == nil {
		return
	}

	attempt := &models.DeliveryAttempt{
		TaskID:     task.ID,
		RetryCount: task.RetryCount,
		Outcome:    outcome,
		DurationMS: elapsed.Milliseconds(),
	}
	if resp != nil {
		code := resp.StatusCode
		attempt.StatusCode = &code
	}
	if deliverErr != nil {
		msg := deliverErr.Error()
		attempt.Error = &msg
	}

	if err := p.recorder.Record(context.Background(), attempt); err != nil {
		log.WithError(err).Warn("Failed to record delivery attempt")
	}
}

// deliver POSTs the task body to its webhook with the task's per-attempt
// deadline. The response body is drained and closed; only the status code
// matters to the caller.
func (p *Performer) deliver(ctx context.Context, task *models.Task) (*http.Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(task.Timeout)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, task.URL, bytes.NewReader(task.Body))
	if err != nil {
		return nil, err
	}
	for name, value := range task.Headers {
		req.Header.Set(name, value)
	}
	req.Header.Set("Content-Type", task.ContentType())

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()                 //nolint:errcheck
	_, _ = io.Copy(io.Discard, resp.Body)   //nolint:errcheck
	return resp, nil
}

func outcomeLabel(status models.TaskStatus) string {
	switch status {
	case models.TaskStatusCompleted:
		return "completed"
	case models.TaskStatusFailed:
		return "failed"
	case models.TaskStatusPending:
		return "rescheduled"
	default:
		return string(status)
	}
}
