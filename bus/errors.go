package bus

import (
	"errors"
	"fmt"
)

var (
	ErrClosed         = errors.New("event bus closed")
	ErrNilHandler     = errors.New("handler is nil")
	ErrInvalidTimeout = errors.New("timeout must be positive")

	// Matched by ReplyError.Is according to its failure type.
	ErrTimeout          = errors.New("reply timed out")
	ErrNoHandlers       = errors.New("no handlers for address")
	ErrRecipientFailure = errors.New("recipient failure")
)

// ReplyFailure classifies why a reply-expecting send did not get a reply.
type ReplyFailure int

const (
	FailureTimeout   ReplyFailure = 0
	FailureNoHandler ReplyFailure = 1
	FailureRecipient ReplyFailure = 2
)

func (f ReplyFailure) String() string {
	switch f {
	case FailureTimeout:
		return "TIMEOUT"
	case FailureNoHandler:
		return "NO_HANDLERS"
	case FailureRecipient:
		return "RECIPIENT_FAILURE"
	default:
		return fmt.Sprintf("ReplyFailure(%d)", int(f))
	}
}

// ParseReplyFailure is the inverse of ReplyFailure.String.
func ParseReplyFailure(s string) (ReplyFailure, bool) {
	switch s {
	case "TIMEOUT":
		return FailureTimeout, true
	case "NO_HANDLERS":
		return FailureNoHandler, true
	case "RECIPIENT_FAILURE":
		return FailureRecipient, true
	default:
		return 0, false
	}
}

// DefaultFailureCode is used for recipient failures raised by a returned
// error or a panic rather than by Message.Fail.
const DefaultFailureCode = -1

// ReplyError is handed to reply handlers when a reply does not arrive.
type ReplyError struct {
	Type    ReplyFailure
	Code    int
	Message string
}

func (e *ReplyError) Error() string {
	if e.Type == FailureRecipient {
		return fmt.Sprintf("%s (%d): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *ReplyError) Is(target error) bool {
	switch target {
	case ErrTimeout:
		return e.Type == FailureTimeout
	case ErrNoHandlers:
		return e.Type == FailureNoHandler
	case ErrRecipientFailure:
		return e.Type == FailureRecipient
	default:
		return false
	}
}

// Failure builds the error a handler returns to fail a request with an
// explicit code.
func Failure(code int, message string) *ReplyError {
	return &ReplyError{Type: FailureRecipient, Code: code, Message: message}
}
