package derivative

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies pipeline failures so callers can tell a bad request from
// a thin book or a failed broadcast.
type Kind string

const (
	KindValidation Kind = "validation"
	KindLookup     Kind = "lookup"
	KindLiquidity  Kind = "liquidity"
	KindPolicy     Kind = "policy"
	KindUpstream   Kind = "upstream"
	KindBroadcast  Kind = "broadcast"
)

// Error is the error type returned by every pipeline stage.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries kind k.
func IsKind(err error, k Kind) bool {
	return KindOf(err) == k
}

func validationf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

func lookupf(format string, args ...any) error {
	return &Error{Kind: KindLookup, Msg: fmt.Sprintf(format, args...)}
}

func liquidityf(format string, args ...any) error {
	return &Error{Kind: KindLiquidity, Msg: fmt.Sprintf(format, args...)}
}

func upstream(err error, format string, args ...any) error {
	// Already classified errors pass through untouched
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: KindUpstream, Msg: fmt.Sprintf(format, args...), Err: err}
}

func broadcastErr(err error) error {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindBroadcast {
		return err
	}
	return &Error{Kind: KindBroadcast, Msg: "broadcast failed", Err: err}
}

// NewBroadcastError builds a broadcast failure carrying the chain's raw log.
// An empty log reads as "transaction rejected".
func NewBroadcastError(rawLog string, cause error) error {
	msg := strings.TrimSpace(rawLog)
	if msg == "" {
		msg = "transaction rejected"
	}
	return &Error{Kind: KindBroadcast, Msg: msg, Err: cause}
}

// NewLookupError builds a not-found error for sources outside this package.
func NewLookupError(format string, args ...any) error {
	return lookupf(format, args...)
}

// NewValidationError builds a bad-request error for callers that parse
// loose input before it reaches the pipeline.
func NewValidationError(format string, args ...any) error {
	return validationf(format, args...)
}
