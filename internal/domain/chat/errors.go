package chat

import (
	"errors"
	"fmt"
)

// Kind classifies chat failures.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindValidation
	KindGateLocked
	KindPersistence
	KindUpload
	KindDisconnected
	KindNotFound
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindGateLocked:
		return "gate_locked"
	case KindPersistence:
		return "persistence"
	case KindUpload:
		return "upload"
	case KindDisconnected:
		return "disconnected"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Error is the typed result surfaced to callers of the chat core.
// Match kinds with errors.Is against the Err* sentinels:
//
//	if errors.Is(err, chat.ErrGateLocked) { ... }
type Error struct {
	Kind Kind
	Op   string
	Err  error
	// File is set when an attachment upload succeeded but the message
	// insert did not, so the caller can retry without uploading again.
	File *FileContent
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("chat: %s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("chat: %s: %s", e.Op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("chat: %s: %v", e.Kind, e.Err)
	default:
		return "chat: " + e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

var (
	ErrValidation   = &Error{Kind: KindValidation}
	ErrGateLocked   = &Error{Kind: KindGateLocked}
	ErrPersistence  = &Error{Kind: KindPersistence}
	ErrUpload       = &Error{Kind: KindUpload}
	ErrDisconnected = &Error{Kind: KindDisconnected}
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrForbidden    = &Error{Kind: KindForbidden}
)

// NewError builds a typed error.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validationf builds a ValidationError with a formatted reason.
func Validationf(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var chatErr *Error
	if errors.As(err, &chatErr) {
		return chatErr.Kind
	}
	return KindUnknown
}

// Outcome is what a user should be told about a failure.
type Outcome string

const (
	OutcomeNone         Outcome = ""
	OutcomeRetry        Outcome = "retry"
	OutcomeNotAllowed   Outcome = "not_allowed"
	OutcomeReconnecting Outcome = "reconnecting"
	OutcomeFailed       Outcome = "failed"
)

// OutcomeOf separates "did not happen, retry" from "not allowed" from "reconnecting".
func OutcomeOf(err error) Outcome {
	if err == nil {
		return OutcomeNone
	}
	switch KindOf(err) {
	case KindPersistence, KindUpload:
		return OutcomeRetry
	case KindGateLocked, KindValidation, KindForbidden, KindNotFound:
		return OutcomeNotAllowed
	case KindDisconnected:
		return OutcomeReconnecting
	default:
		return OutcomeFailed
	}
}
