package ir

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for errors.Is matching on ValidationError.
var (
	ErrOutOfOrder = errors.New("event out of order")
	ErrMalformed  = errors.New("malformed event")
)

// ValidationKind categorizes ingest rejections.
type ValidationKind uint8

const (
	KindMalformed ValidationKind = iota + 1
	KindOutOfOrder
)

func (k ValidationKind) String() string {
	switch k {
	case KindMalformed:
		return "MALFORMED"
	case KindOutOfOrder:
		return "OUT_OF_ORDER"
	default:
		return "UNKNOWN"
	}
}

// ValidationError is returned by Submit when an event is rejected.
// Rejection is local: ingestion continues with the next event.
type ValidationError struct {
	Kind   ValidationKind
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s %s", e.Kind, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// Is lets errors.Is(err, ErrOutOfOrder) and errors.Is(err, ErrMalformed) work.
func (e *ValidationError) Is(target error) bool {
	switch target {
	case ErrOutOfOrder:
		return e.Kind == KindOutOfOrder
	case ErrMalformed:
		return e.Kind == KindMalformed
	}
	return false
}

// OutOfOrder builds the rejection for an event older than the last accepted
// timestamp by more than the configured tolerance.
func OutOfOrder(ts, last, tolerance time.Duration) *ValidationError {
	return &ValidationError{
		Kind:   KindOutOfOrder,
		Field:  "timestamp",
		Reason: fmt.Sprintf("%v precedes last accepted %v beyond tolerance %v", ts, last, tolerance),
	}
}

func malformed(field, reason string) *ValidationError {
	return &ValidationError{Kind: KindMalformed, Field: field, Reason: reason}
}
