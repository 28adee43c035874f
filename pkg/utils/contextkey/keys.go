package contextkey

// Key names a request scoped value. It doubles as the gin context key.
type Key string

const (
	TraceID      Key = "trace_id"
	RequestID    Key = "request_id"
	UserID       Key = "user_id"
	SubmissionID Key = "submission_id"
)

// String returns the key name.
func (k Key) String() string {
	return string(k)
}
