package models

import "time"

// TaskStatus represents the delivery state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task is waiting to be delivered.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusInProgress indicates a worker has acquired the task.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusCompleted indicates the webhook accepted the delivery.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task will not be retried again.
	TaskStatusFailed TaskStatus = "failed"
)

// IsTerminal returns true when no further transitions are allowed.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Default content negotiation values applied when the enqueue request
// carries no Content-Type header.
const (
	DefaultCharset = "utf-8"
	DefaultEnctype = "application/x-www-form-urlencoded"
)

// Task is a single webhook delivery job. The body is replayed verbatim to
// the target URL; charset and enctype only shape the outgoing Content-Type.
type Task struct {
	ID         int64             `json:"id" db:"id"`
	AppID      int64             `json:"app_id" db:"app_id"`
	URL        string            `json:"url" db:"url"`
	Body       []byte            `json:"-" db:"body"`
	Charset    string            `json:"charset" db:"charset"`
	Enctype    string            `json:"enctype" db:"enctype"`
	Headers    map[string]string `json:"-" db:"headers"`
	Timeout    int               `json:"timeout" db:"timeout"`
	Status     TaskStatus        `json:"status" db:"status"`
	RetryCount int               `json:"retry_count" db:"retry_count"`
	Due        time.Time         `json:"due" db:"due"`
	Created    time.Time         `json:"created" db:"created"`
	Modified   time.Time         `json:"modified" db:"modified"`
}

// TaskUpdate carries the fields a conditional update may change. Nil (or
// empty, for Status) fields are left untouched.
type TaskUpdate struct {
	Status     TaskStatus
	RetryCount *int
	Due        *time.Time
}

// ContentType renders the Content-Type header sent with the delivery.
func (t *Task) ContentType() string {
	charset := t.Charset
	if charset == "" {
		charset = DefaultCharset
	}
	enctype := t.Enctype
	if enctype == "" {
		enctype = DefaultEnctype
	}
	return enctype + "; charset=" + charset
}

// DeliveryAttempt is one recorded webhook delivery try. Rows are written
// best effort after each attempt; the queue itself never reads them back.
type DeliveryAttempt struct {
	ID         int64     `json:"id" db:"id"`
	TaskID     int64     `json:"task_id" db:"task_id"`
	RetryCount int       `json:"retry_count" db:"retry_count"`
	Outcome    string    `json:"outcome" db:"outcome"`
	StatusCode *int      `json:"status_code,omitempty" db:"status_code"`
	Error      *string   `json:"error,omitempty" db:"error"`
	DurationMS int64     `json:"duration_ms" db:"duration_ms"`
	Created    time.Time `json:"created" db:"created"`
}

// Application is a client of the queue. Tasks belong to the application
// whose API key enqueued them.
type Application struct {
	ID          int64      `json:"id" db:"id"`
	Name        string     `json:"name" db:"name"`
	IsActive    bool       `json:"is_active" db:"is_active"`
	IsDeleted   bool       `json:"is_deleted" db:"is_deleted"`
	Activated   *time.Time `json:"activated,omitempty" db:"activated"`
	Deactivated *time.Time `json:"deactivated,omitempty" db:"deactivated"`
	Deleted     *time.Time `json:"deleted,omitempty" db:"deleted"`
	Created     time.Time  `json:"created" db:"created"`
	Modified    time.Time  `json:"modified" db:"modified"`
}

// APIKey authenticates requests on behalf of an application. Only keys with
// is_active and not is_deleted grant access.
type APIKey struct {
	ID          int64      `json:"id" db:"id"`
	AppID       int64      `json:"app_id" db:"app_id"`
	Value       string     `json:"value" db:"value"`
	IsActive    bool       `json:"is_active" db:"is_active"`
	IsDeleted   bool       `json:"is_deleted" db:"is_deleted"`
	Activated   *time.Time `json:"activated,omitempty" db:"activated"`
	Deactivated *time.Time `json:"deactivated,omitempty" db:"deactivated"`
	Deleted     *time.Time `json:"deleted,omitempty" db:"deleted"`
	Created     time.Time  `json:"created" db:"created"`
	Modified    time.Time  `json:"modified" db:"modified"`
}
