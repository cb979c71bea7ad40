package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Tracing fields, carried in the context logger through a whole run or request.
const (
	FieldRequestID = "request_id"
	FieldRunID     = "run_id"
	FieldJob       = "job"
	FieldStage     = "stage"
	FieldWorker    = "worker"
	FieldComponent = "component"
)

// Per-event fields.
const (
	FieldItemID     = "item_id"
	FieldPayloadRef = "payload_ref"
	FieldOutcome    = "outcome"
	FieldAttempt    = "attempt"
	FieldErrorKind  = "error_kind"
)

// Metric fields, used for aggregation and alerting.
const (
	FieldDurationMs = "duration_ms"
	FieldCount      = "count"
	FieldSize       = "size"
	FieldStatus     = "status"
)
