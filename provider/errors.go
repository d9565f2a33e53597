package provider

import (
	"context"
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	// KindProvider covers transient avatar provider failures: network errors,
	// rate limits and 5xx responses.
	KindProvider
	KindAuth
	KindQuota
	KindInvalidInput
	KindStorageUnavailable
	KindUnsupported
	KindTranscriptionUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindProvider:
		return "provider"
	case KindAuth:
		return "auth"
	case KindQuota:
		return "quota"
	case KindInvalidInput:
		return "invalid_input"
	case KindStorageUnavailable:
		return "storage_unavailable"
	case KindUnsupported:
		return "unsupported"
	case KindTranscriptionUnavailable:
		return "transcription_unavailable"
	default:
		return "unknown"
	}
}

// Error is the only error type capability implementations return.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// KindOf classifies any error coming out of a capability call.
func KindOf(err error) Kind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return KindUnknown
}

// Message returns the human readable part of a provider error.
func Message(err error) string {
	var perr *Error
	if errors.As(err, &perr) && perr.Message != "" {
		return perr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// IsKind returns a classifier usable by the retry combinator.
func IsKind(kinds ...Kind) func(error) bool {
	return func(err error) bool {
		k := KindOf(err)
		for _, want := range kinds {
			if k == want {
				return true
			}
		}
		return false
	}
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
