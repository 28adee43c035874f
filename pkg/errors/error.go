package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"runtime"
	"strings"
)

// Error pairs a stable code with a message, optional details and the
// call site it was created at.
type Error struct {
	Code    ErrorCode
	Message string
	Details map[string]any
	Err     error
	Stack   string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code.Message()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func build(code ErrorCode, msg string, cause error) *Error {
	return &Error{Code: code, Message: msg, Err: cause, Details: map[string]any{}, Stack: stack(3)}
}

func New(code ErrorCode) *Error { return build(code, code.Message(), nil) }

func Newf(code ErrorCode, format string, args ...any) *Error {
	return build(code, fmt.Sprintf(format, args...), nil)
}

// Wrap returns a new Error with code whose cause is err. An *Error found in
// err lends its message, details and stack; err itself is not modified.
func Wrap(err error, code ErrorCode) *Error {
	if err == nil {
		return nil
	}
	inner, ok := stderrors.AsType[*Error](err)
	if !ok {
		return build(code, err.Error(), err)
	}
	out := build(code, inner.Message, err)
	maps.Copy(out.Details, inner.Details)
	out.Stack = inner.Stack
	return out
}

func Wrapf(err error, code ErrorCode, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return build(code, fmt.Sprintf(format, args...), err)
}

func (e *Error) WithMessage(msg string) *Error {
	e.Message = msg
	return e
}

func (e *Error) WithMessagef(format string, args ...any) *Error {
	return e.WithMessage(fmt.Sprintf(format, args...))
}

func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

// GetError returns the outermost *Error in err's chain. Foreign errors come
// back wrapped as InternalServerError.
func GetError(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := stderrors.AsType[*Error](err); ok {
		return e
	}
	return Wrap(err, InternalServerError)
}

// GetCode is the code of GetError(err), or Success for nil.
func GetCode(err error) ErrorCode {
	if e := GetError(err); e != nil {
		return e.Code
	}
	return Success
}

// Is reports whether any *Error in err's chain carries code, not only the
// outermost one.
func Is(err error, code ErrorCode) bool {
	for ; err != nil; err = stderrors.Unwrap(err) {
		if e, ok := err.(*Error); ok && e.Code == code {
			return true
		}
	}
	return false
}

func stack(skip int) string {
	pcs := make([]uintptr, 10)
	pcs = pcs[:runtime.Callers(skip+1, pcs)]
	var b strings.Builder
	frames := runtime.CallersFrames(pcs)
	for f, more := frames.Next(); ; f, more = frames.Next() {
		if f.Function != "" && !strings.HasPrefix(f.Function, "runtime.") {
			fmt.Fprintf(&b, "\n\t%s:%d %s", f.File, f.Line, f.Function)
		}
		if !more {
			return b.String()
		}
	}
}

func ValidationError(field, reason string) *Error {
	return New(ValidationFailed).WithDetail("field", field).WithDetail("reason", reason)
}

func UnsupportedLanguageError(language string) *Error {
	return Newf(UnsupportedLanguage, "language %q is not supported", language).WithDetail("language", language)
}

// QueueFullError reports a rejected admission at the given capacity.
func QueueFullError(capacity int) *Error {
	return New(QueueFull).WithDetail("capacity", capacity)
}
