package domain

import (
	"errors"
	"fmt"
)

// Kind classifies a failed execution.
type Kind string

const (
	KindSyntax        Kind = "SyntaxError"
	KindRuntime       Kind = "RuntimeError"
	KindTimeout       Kind = "TimeoutError"
	KindSerialization Kind = "SerializationError"
	KindHost          Kind = "HostError"
)

// Valid reports whether k is one of the known failure kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindSyntax, KindRuntime, KindTimeout, KindSerialization, KindHost:
		return true
	}
	return false
}

// Error is a classified failure. It is the only error type that crosses
// component boundaries inside the execution core.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// Errorf builds an *Error of the given kind.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from err. Unclassified errors are host faults.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) && e.Kind.Valid() {
		return e.Kind
	}
	return KindHost
}

// MessageOf returns the user-facing message of err without the kind prefix.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
