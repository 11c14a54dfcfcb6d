package domain

import "time"

// EventKind names a progress event.
type EventKind string

const (
	EventTaskStarted   EventKind = "task_started"
	EventItemProcessed EventKind = "item_processed"
	EventItemDuplicate EventKind = "item_duplicate"
	EventItemFailed    EventKind = "item_failed"
	EventTaskPaused    EventKind = "task_paused"
	EventTaskResumed   EventKind = "task_resumed"
	EventTaskCompleted EventKind = "task_completed"
	EventTaskFailed    EventKind = "task_failed"
	EventTaskCancelled EventKind = "task_cancelled"
)

// Terminal reports whether the event closes a task's stream.
func (k EventKind) Terminal() bool {
	switch k {
	case EventTaskCompleted, EventTaskFailed, EventTaskCancelled:
		return true
	}
	return false
}

// EventPayload carries the item details and a counters snapshot.
type EventPayload struct {
	Title      string `json:"title,omitempty"`
	URL        string `json:"url,omitempty"`
	Category   string `json:"category,omitempty"`
	Error      string `json:"error,omitempty"`
	Processed  int    `json:"processed"`
	Duplicates int    `json:"duplicates"`
	Errors     int    `json:"errors"`
}

// ProgressEvent is an immutable notification about a task. Sequence grows
// strictly per task: TaskStarted is 0 and the first item event is 1.
type ProgressEvent struct {
	TaskID    string       `json:"task_id"`
	Sequence  uint64       `json:"sequence"`
	Kind      EventKind    `json:"kind"`
	Payload   EventPayload `json:"payload"`
	Timestamp time.Time    `json:"timestamp"`
}
