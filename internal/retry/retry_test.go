package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lib/pq"
)

type fakeNetError struct{}

func (fakeNetError) Error() string   { return "connection refused" }
func (fakeNetError) Timeout() bool   { return false }
func (fakeNetError) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
		want Class
	}{
		{"deadline", context.DeadlineExceeded, Retryable},
		{"wrapped deadline", fmt.Errorf("upsert: %w", context.DeadlineExceeded), Retryable},
		{"net error", fakeNetError{}, Retryable},
		{"pq connection failure", &pq.Error{Code: "08006"}, Retryable},
		{"pq too many connections", &pq.Error{Code: "53300"}, Retryable},
		{"pq cannot connect now", &pq.Error{Code: "57P03"}, Retryable},
		{"pq deadlock", &pq.Error{Code: "40P01"}, Retryable},
		{"pq unique violation", &pq.Error{Code: "23505"}, Fatal},
		{"pq undefined table", &pq.Error{Code: "42P01"}, Fatal},
		{"pq invalid password", &pq.Error{Code: "28P01"}, Fatal},
		{"pq bad datetime", &pq.Error{Code: "22007"}, Fatal},
		{"unknown error", errors.New("something odd"), Retryable},
	} {
		if got := Classify(tc.err); got != tc.want {
			t.Errorf("%s: Classify = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestNextDelayGrowthAndCap(t *testing.T) {
	p := Policy{
		BaseDelay:  time.Second,
		MaxDelay:   10 * time.Second,
		Multiplier: 2,
	}

	for attempt, want := range map[int]time.Duration{
		1: time.Second,
		2: 2 * time.Second,
		3: 4 * time.Second,
		4: 8 * time.Second,
		5: 10 * time.Second, // capped
		9: 10 * time.Second,
	} {
		if got := p.NextDelay(attempt); got != want {
			t.Errorf("NextDelay(%d) = %v, want %v", attempt, got, want)
		}
	}
}

func TestNextDelayJitterBounds(t *testing.T) {
	p := Policy{
		BaseDelay:  time.Second,
		MaxDelay:   time.Minute,
		Multiplier: 2,
		Jitter:     0.5,
	}
	for i := 0; i < 200; i++ {
		d := p.NextDelay(3) // nominal 4s
		if d < 2*time.Second || d > 6*time.Second {
			t.Fatalf("jittered delay %v outside [2s,6s]", d)
		}
	}
}

func TestExhausted(t *testing.T) {
	p := Policy{MaxAttempts: 3, MaxElapsed: time.Minute}

	if p.Exhausted(2, time.Second) {
		t.Error("attempt 2 of 3 should not be exhausted")
	}
	if !p.Exhausted(3, time.Second) {
		t.Error("attempt 3 of 3 should be exhausted")
	}
	if !p.Exhausted(1, 2*time.Minute) {
		t.Error("elapsed past ceiling should be exhausted regardless of attempts")
	}

	unbounded := Policy{}
	if unbounded.Exhausted(100, time.Hour) {
		t.Error("zero ceilings should never exhaust")
	}
}
