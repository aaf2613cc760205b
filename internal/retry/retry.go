// Package retry classifies storage and fetch failures and computes backoff
// delays for the ingestion pipeline.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"time"

	"github.com/lib/pq"
)

// Class is the outcome of classifying an operation failure.
type Class int

const (
	// Retryable failures (connectivity, timeouts, server busy) are retried
	// transparently up to the policy limits.
	Retryable Class = iota
	// Fatal failures (schema, validation, permission, authentication) are
	// surfaced immediately; retrying cannot help.
	Fatal
)

// String returns the string representation of the class.
func (c Class) String() string {
	if c == Fatal {
		return "fatal"
	}
	return "retryable"
}

// Classify maps an error onto a Class. Connection, timeout, and
// resource-pressure conditions are Retryable; constraint, syntax, and
// privilege violations are Fatal. Unknown errors default to Retryable so a
// novel transient condition never permanently drops a batch.
func Classify(err error) Class {
	if err == nil {
		return Retryable
	}

	// Context cancellation is handled by callers, but a deadline on a single
	// storage call is a timeout like any other.
	if errors.Is(err, context.DeadlineExceeded) {
		return Retryable
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Retryable
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// Class 08: connection exceptions. Class 53: insufficient resources.
		// Class 57: operator intervention (includes cannot_connect_now).
		// 40001/40P01: serialization failure and deadlock.
		switch pqErr.Code.Class() {
		case "08", "53", "57":
			return Retryable
		}
		switch pqErr.Code {
		case "40001", "40P01":
			return Retryable
		}
		// Everything else from the server (22 data, 23 integrity, 28 auth,
		// 42 syntax/undefined object) is a bug or a schema problem.
		return Fatal
	}

	return Retryable
}

// Policy computes backoff delays and decides when a Retryable failure becomes
// terminal. The zero value is not usable; construct with Default or fill all
// fields.
type Policy struct {
	// MaxAttempts bounds attempts per operation; 0 means unbounded by count.
	MaxAttempts int
	// MaxElapsed bounds total retry time per operation; 0 means unbounded.
	MaxElapsed time.Duration

	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	// Jitter is the fraction of the computed delay randomized in both
	// directions, so many scopes retrying together do not align.
	Jitter float64
}

// Default returns the policy used when configuration does not override it.
func Default() Policy {
	return Policy{
		MaxAttempts: 3,
		MaxElapsed:  2 * time.Minute,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2,
		Jitter:      0.2,
	}
}

// NextDelay returns the backoff before the given attempt number (1-based).
// Growth is exponential in Multiplier, capped at MaxDelay, with Jitter
// applied last.
func (p Policy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if max := float64(p.MaxDelay); p.MaxDelay > 0 && d > max {
		d = max
	}
	if p.Jitter > 0 {
		// Uniform in [1-jitter, 1+jitter).
		d *= 1 + p.Jitter*(2*rand.Float64()-1)
	}
	return time.Duration(d)
}

// Exhausted reports whether a Retryable failure should now be treated as
// terminal: the attempt count or the total elapsed time has hit its ceiling,
// whichever came first.
func (p Policy) Exhausted(attempt int, elapsed time.Duration) bool {
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		return true
	}
	if p.MaxElapsed > 0 && elapsed >= p.MaxElapsed {
		return true
	}
	return false
}
