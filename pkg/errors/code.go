package errors

import "net/http"

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges:
// 10000-10999: system and infrastructure
// 12000-12999: problem catalog
// 13000-13099: submission admission
// 13100-13199: judge pipeline and verdicts
const (
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError       ErrorCode = 10100
	RecordNotFound      ErrorCode = 10101
	RecordAlreadyExists ErrorCode = 10102

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200
	CacheMiss  ErrorCode = 10201
	LockFailed ErrorCode = 10203

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	RequiredFieldEmpty ErrorCode = 10303

	// Messaging and storage (10400-10499)
	MessageQueueError ErrorCode = 10400
	StorageError      ErrorCode = 10401

	// Problem catalog (12000-12999)
	ProblemNotFound  ErrorCode = 12000
	TestCaseNotFound ErrorCode = 12100
	TestCaseInvalid  ErrorCode = 12102
	DataPackInvalid  ErrorCode = 12104

	// Submission admission (13000-13099)
	SubmissionNotFound  ErrorCode = 13000
	CodeTooLarge        ErrorCode = 13002
	UnsupportedLanguage ErrorCode = 13003
	SubmissionInFlight  ErrorCode = 13006

	// Judge pipeline (13100-13199)
	QueueFull              ErrorCode = 13100
	JudgeInternalError     ErrorCode = 13101
	CompileError           ErrorCode = 13102
	RuntimeError           ErrorCode = 13103
	TimeLimitExceeded      ErrorCode = 13104
	MemoryLimitExceeded    ErrorCode = 13105
	WrongAnswer            ErrorCode = 13106
	InvalidStateTransition ErrorCode = 13107
	SandboxUnavailable     ErrorCode = 13108
	SubmissionAbandoned    ErrorCode = 13109
)

var errorMessages = map[ErrorCode]string{
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	DatabaseError:       "Database operation failed",
	RecordNotFound:      "Record not found in database",
	RecordAlreadyExists: "Record already exists",

	CacheError: "Cache operation failed",
	CacheMiss:  "Cache miss",
	LockFailed: "Failed to acquire lock",

	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	RequiredFieldEmpty: "Required field is empty",

	MessageQueueError: "Message queue operation failed",
	StorageError:      "Object storage operation failed",

	ProblemNotFound:  "Problem not found",
	TestCaseNotFound: "Test case not found",
	TestCaseInvalid:  "Invalid test case format",
	DataPackInvalid:  "Problem data pack is invalid",

	SubmissionNotFound:  "Submission not found",
	CodeTooLarge:        "Code is too large",
	UnsupportedLanguage: "Programming language not supported",
	SubmissionInFlight:  "Submission is already being judged",

	QueueFull:              "Judge queue is full, please try again later",
	JudgeInternalError:     "Judge system error",
	CompileError:           "Compilation error",
	RuntimeError:           "Runtime error",
	TimeLimitExceeded:      "Time limit exceeded",
	MemoryLimitExceeded:    "Memory limit exceeded",
	WrongAnswer:            "Wrong answer",
	InvalidStateTransition: "Invalid submission state transition",
	SandboxUnavailable:     "Sandbox is unavailable",
	SubmissionAbandoned:    "Submission abandoned",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// IsVerdict reports whether the code labels a user-code outcome rather than a request failure.
func (c ErrorCode) IsVerdict() bool {
	return c >= CompileError && c <= WrongAnswer
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success, c.IsVerdict():
		return http.StatusOK
	case c == Unauthorized:
		return http.StatusUnauthorized
	case c == Forbidden:
		return http.StatusForbidden
	case c == NotFound, c == RecordNotFound, c == ProblemNotFound, c == TestCaseNotFound, c == SubmissionNotFound:
		return http.StatusNotFound
	case c == SubmissionInFlight, c == RecordAlreadyExists:
		return http.StatusConflict
	case c == TooManyRequests:
		return http.StatusTooManyRequests
	case c == ServiceUnavailable, c == QueueFull, c == SandboxUnavailable:
		return http.StatusServiceUnavailable
	case c == Timeout:
		return http.StatusGatewayTimeout
	case c >= 10300 && c < 10400:
		return http.StatusBadRequest
	case c == InvalidParams, c == CodeTooLarge, c == UnsupportedLanguage, c == TestCaseInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
