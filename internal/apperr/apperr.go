// Package apperr defines the scheduling error taxonomy. Kinds are values,
// not types: callers branch with errors.Is against the sentinels below or
// read the kind with KindOf.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/timewindow"
)

type Kind string

const (
	KindInvalidFormat           Kind = "invalid_format"
	KindOverlappingAvailability Kind = "overlapping_availability"
	KindNoAvailability          Kind = "no_availability"
	KindOutsideAvailability     Kind = "outside_availability"
	KindSlotConflict            Kind = "slot_conflict"
	KindProviderNotBookable     Kind = "provider_not_bookable"
	KindPastDate                Kind = "past_date"
	KindIllegalTransition       Kind = "illegal_transition"
	KindTerminalState           Kind = "terminal_state"
	KindNotFound                Kind = "not_found"
	KindForbidden               Kind = "forbidden"
	KindStoreUnavailable        Kind = "store_unavailable"
)

var (
	ErrInvalidFormat           = &Error{Kind: KindInvalidFormat}
	ErrOverlappingAvailability = &Error{Kind: KindOverlappingAvailability}
	ErrNoAvailability          = &Error{Kind: KindNoAvailability}
	ErrOutsideAvailability     = &Error{Kind: KindOutsideAvailability}
	ErrSlotConflict            = &Error{Kind: KindSlotConflict}
	ErrProviderNotBookable     = &Error{Kind: KindProviderNotBookable}
	ErrPastDate                = &Error{Kind: KindPastDate}
	ErrIllegalTransition       = &Error{Kind: KindIllegalTransition}
	ErrTerminalState           = &Error{Kind: KindTerminalState}
	ErrNotFound                = &Error{Kind: KindNotFound}
	ErrForbidden               = &Error{Kind: KindForbidden}
	ErrStoreUnavailable        = &Error{Kind: KindStoreUnavailable}
)

// Error carries a kind plus enough context for an operator to find the
// failing call without exposing data from other tenants.
type Error struct {
	Kind       Kind
	Op         string
	TenantID   uuid.UUID
	ProviderID uuid.UUID
	Msg        string
	Err        error

	// Conflicts lists the existing bookings that collided with a candidate
	// slot. Only set for KindSlotConflict.
	Conflicts []timewindow.Window
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrSlotConflict)
// works no matter how much context the concrete error carries.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Scoped attaches tenant and provider ids for diagnostics.
func (e *Error) Scoped(tenantID, providerID uuid.UUID) *Error {
	e.TenantID = tenantID
	e.ProviderID = providerID
	return e
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Conflicts returns the colliding windows carried by a slot conflict.
func Conflicts(err error) []timewindow.Window {
	var e *Error
	if errors.As(err, &e) {
		return e.Conflicts
	}
	return nil
}

// IsBusinessRule reports whether err is a deterministic rejection that
// should be returned to the caller rather than logged as a failure.
func IsBusinessRule(err error) bool {
	switch KindOf(err) {
	case KindInvalidFormat, KindOverlappingAvailability, KindNoAvailability,
		KindOutsideAvailability, KindSlotConflict, KindProviderNotBookable,
		KindPastDate, KindIllegalTransition, KindTerminalState, KindForbidden:
		return true
	}
	return false
}

// FromStore classifies an infrastructure error. Typed errors pass through
// untouched; deadlines and everything else become StoreUnavailable.
func FromStore(op string, tenantID, providerID uuid.UUID, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != "" {
		return err
	}
	e := Wrap(KindStoreUnavailable, op, err).Scoped(tenantID, providerID)
	if errors.Is(err, context.DeadlineExceeded) {
		e.Msg = "store call timed out"
	}
	return e
}
