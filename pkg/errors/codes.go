package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a unique identifier for specific error conditions in wabot.
type ErrorCode int

const (
	ErrCodeUnknown        ErrorCode = 1000
	ErrCodeConfigInvalid  ErrorCode = 1001
	ErrCodeInstanceLocked ErrorCode = 1002

	// Session lifecycle
	ErrCodeSessionInit      ErrorCode = 2001
	ErrCodeTimeout          ErrorCode = 2002
	ErrCodeRetriesExhausted ErrorCode = 2003
	ErrCodeShuttingDown     ErrorCode = 2004

	// Outbound sends
	ErrCodeNotReady        ErrorCode = 3001
	ErrCodeInvalidTarget   ErrorCode = 3002
	ErrCodeDocumentMissing ErrorCode = 3003
	ErrCodeSendFailed      ErrorCode = 3004
)

// WabotError is a custom error type that provides structured error information,
// including an error code, the operation being performed, and the underlying cause.
type WabotError struct {
	// Code is the specific error code.
	Code ErrorCode
	// Msg is a human-readable description of the error.
	Msg string
	// Operation describes the action being performed when the error occurred.
	Operation string
	// Err is the underlying error that caused this error, if any.
	Err error
}

// Error returns a formatted string representation of the error.
func (e *WabotError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %s (cause: %v)", e.Code, e.Operation, e.Msg, e.Err)
	}
	return fmt.Sprintf("[%d] %s: %s", e.Code, e.Operation, e.Msg)
}

// Unwrap returns the underlying error.
func (e *WabotError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a WabotError carrying the same code.
// It lets callers match sentinels with errors.Is regardless of message or cause.
func (e *WabotError) Is(target error) bool {
	t, ok := target.(*WabotError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New creates a new WabotError with the specified code, operation, message, and underlying error.
func New(code ErrorCode, op, msg string, err error) error {
	return &WabotError{
		Code:      code,
		Msg:       msg,
		Operation: op,
		Err:       err,
	}
}

// CodeOf extracts the code of the outermost WabotError in err's chain.
// It returns ErrCodeUnknown for foreign errors and 0 for nil.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return 0
	}
	var we *WabotError
	if stderrors.As(err, &we) {
		return we.Code
	}
	return ErrCodeUnknown
}

// Sentinels for errors.Is matching.
var (
	ErrNotReady         = &WabotError{Code: ErrCodeNotReady, Operation: "Send", Msg: "whatsapp session is not ready"}
	ErrTimeout          = &WabotError{Code: ErrCodeTimeout, Operation: "Deadline", Msg: "operation timed out"}
	ErrRetriesExhausted = &WabotError{Code: ErrCodeRetriesExhausted, Operation: "Connect", Msg: "maximum connection attempts reached"}
	ErrShuttingDown     = &WabotError{Code: ErrCodeShuttingDown, Operation: "Connect", Msg: "shutdown in progress"}
	ErrInvalidTarget    = &WabotError{Code: ErrCodeInvalidTarget, Operation: "ResolveTarget", Msg: "invalid target"}
	ErrDocumentMissing  = &WabotError{Code: ErrCodeDocumentMissing, Operation: "SendDocument", Msg: "document not found"}
)

// Personal.AI order the ending
