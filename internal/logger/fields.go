package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Tracing fields. These are carried on the context logger and propagate
// through the call chain of a request or a crawl task.
const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldTaskID is the crawl task ID
	FieldTaskID = "task_id"

	// FieldAccount is the content account being crawled
	FieldAccount = "account"

	// FieldComponent is the component/module name
	FieldComponent = "component"

	// FieldURL is the page currently being handled
	FieldURL = "url"
)

// Metric fields, attached per entry and used for aggregation.
const (
	FieldDurationMs = "duration_ms"
	FieldCount      = "count"
	FieldSize       = "size"
	FieldStatus     = "status"
)
