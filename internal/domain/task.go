package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// TaskStatus is the lifecycle state of a crawl task.
type TaskStatus string

const (
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusPaused    TaskStatus = "paused"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// ParseTaskStatus validates a status name coming from user input.
func ParseTaskStatus(s string) (TaskStatus, error) {
	switch st := TaskStatus(s); st {
	case TaskStatusQueued, TaskStatusRunning, TaskStatusPaused,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return st, nil
	}
	return "", &ConfigError{Field: "status", Reason: "unknown task status " + s}
}

// FingerprintPolicy selects which keys identify an article.
type FingerprintPolicy string

const (
	FingerprintURL           FingerprintPolicy = "url"
	FingerprintURLAndContent FingerprintPolicy = "url_and_content"
)

const (
	DefaultCrawlDelay            = 2 * time.Second
	DefaultMaxRetries            = 3
	DefaultMaxConcurrentRequests = 1
)

// TaskOptions tunes a single crawl.
type TaskOptions struct {
	CrawlDelay            time.Duration     `json:"crawl_delay"`
	MaxRetries            int               `json:"max_retries"`
	MaxConcurrentRequests int               `json:"max_concurrent_requests"`
	MaxPages              int               `json:"max_pages,omitempty"` // 0 means unbounded
	FingerprintPolicy     FingerprintPolicy `json:"fingerprint_policy,omitempty"`
	UpdateOnDuplicate     bool              `json:"update_on_duplicate,omitempty"`
}

// DefaultTaskOptions returns the options used when a caller sets nothing.
func DefaultTaskOptions() TaskOptions {
	return TaskOptions{
		CrawlDelay:            DefaultCrawlDelay,
		MaxRetries:            DefaultMaxRetries,
		MaxConcurrentRequests: DefaultMaxConcurrentRequests,
		FingerprintPolicy:     FingerprintURL,
	}
}

// Normalize fills unset counters with defaults and validates the rest.
// A zero CrawlDelay is kept: it disables throttling.
func (o TaskOptions) Normalize() (TaskOptions, error) {
	if o.MaxRetries == 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.MaxConcurrentRequests == 0 {
		o.MaxConcurrentRequests = DefaultMaxConcurrentRequests
	}
	if o.FingerprintPolicy == "" {
		o.FingerprintPolicy = FingerprintURL
	}

	switch {
	case o.CrawlDelay < 0:
		return o, &ConfigError{Field: "crawl_delay", Reason: "must not be negative"}
	case o.MaxRetries < 1:
		return o, &ConfigError{Field: "max_retries", Reason: "must be at least 1"}
	case o.MaxConcurrentRequests < 1:
		return o, &ConfigError{Field: "max_concurrent_requests", Reason: "must be at least 1"}
	case o.MaxPages < 0:
		return o, &ConfigError{Field: "max_pages", Reason: "must not be negative"}
	}
	switch o.FingerprintPolicy {
	case FingerprintURL, FingerprintURLAndContent:
	default:
		return o, &ConfigError{Field: "fingerprint_policy", Reason: "unknown policy " + string(o.FingerprintPolicy)}
	}
	return o, nil
}

// Value implements the driver.Valuer interface for database serialization.
func (o TaskOptions) Value() (driver.Value, error) {
	b, err := json.Marshal(o)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (o *TaskOptions) Scan(value interface{}) error {
	if value == nil {
		*o = TaskOptions{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan TaskOptions")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, o)
}

// Task is one crawl of one account and its running counters.
type Task struct {
	ID             string      `gorm:"type:text;primaryKey" json:"id"`
	AccountName    string      `gorm:"type:text;not null;index" json:"account_name"`
	Status         TaskStatus  `gorm:"type:text;index;default:queued" json:"status"`
	Options        TaskOptions `gorm:"type:text" json:"options"`
	ProcessedCount int         `gorm:"default:0" json:"processed_count"`
	DuplicateCount int         `gorm:"default:0" json:"duplicate_count"`
	ErrorCount     int         `gorm:"default:0" json:"error_count"`
	LastError      *string     `gorm:"type:text" json:"last_error,omitempty"`
	StartedAt      *time.Time  `json:"started_at,omitempty"`
	EndedAt        *time.Time  `json:"ended_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// TableName returns the database table name for Task.
func (Task) TableName() string {
	return "crawl_tasks"
}

// Active reports whether the task holds its account slot.
func (t Task) Active() bool {
	return !t.Status.Terminal()
}

// TaskFilter narrows a task listing. Zero values match everything.
type TaskFilter struct {
	Account  string
	Statuses []TaskStatus
	Limit    int
}

// Match reports whether t passes the filter (Limit is not considered).
func (f TaskFilter) Match(t Task) bool {
	if f.Account != "" && f.Account != t.AccountName {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if s == t.Status {
			return true
		}
	}
	return false
}
