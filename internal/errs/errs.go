// Package errs defines the engine's error taxonomy: validation failures,
// missing references, store invariant breaches, transient infra errors
// and terminal gateway errors. Rules and the rule runtime classify
// failures by wrapping one of these sentinels with errors.Is/As rather
// than matching on message text.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a rejected inbound message: qty<=0, price<=0.
	// Policy: dead-letter, do not advance state.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks a missing reference (Order/Instrument) a rule
	// could not resolve. Policy: dead-letter, alert.
	ErrNotFound = errors.New("reference not found")

	// ErrNotUnique marks a `single` predicate match with more than one
	// row. Policy: fatal invariant breach, halt worker, alert.
	ErrNotUnique = errors.New("predicate matched more than one row")

	// ErrTransient marks a retryable store/broker/HTTP failure. Policy:
	// retry with backoff, do not commit the inbound offset.
	ErrTransient = errors.New("transient failure")

	// ErrTerminal marks a non-retryable gateway response (4xx other
	// than 408/429). Policy: dead-letter the settlement, no
	// SettlementSent, operator intervention.
	ErrTerminal = errors.New("terminal failure")
)

// Validation wraps err (or a bare message) as an ErrValidation.
func Validation(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrValidation)...)
}

// NotFound wraps as ErrNotFound.
func NotFound(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}

// NotUnique wraps as ErrNotUnique.
func NotUnique(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotUnique)...)
}

// Transient wraps an underlying error as ErrTransient.
func Transient(cause error) error {
	return fmt.Errorf("%w: %w", ErrTransient, cause)
}

// Terminal wraps an underlying error as ErrTerminal.
func Terminal(cause error) error {
	return fmt.Errorf("%w: %w", ErrTerminal, cause)
}

// IsValidation reports whether err is (or wraps) ErrValidation.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsNotFound reports whether err is (or wraps) ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsNotUnique reports whether err is (or wraps) ErrNotUnique.
func IsNotUnique(err error) bool { return errors.Is(err, ErrNotUnique) }

// IsTransient reports whether err is (or wraps) ErrTransient.
func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }

// IsTerminal reports whether err is (or wraps) ErrTerminal.
func IsTerminal(err error) bool { return errors.Is(err, ErrTerminal) }
