// Package retry wraps mutating AWS calls with exponential backoff for
// transient provider errors. Everything else (authorization, not-found,
// malformed requests, state conflicts) fails the call immediately.
package retry

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/aws/smithy-go"
)

const (
	// ShortDelay and LongDelay are propagation waits used by cleaners
	// between dependent delete phases.
	ShortDelay = 2 * time.Second
	LongDelay  = 10 * time.Second

	DefaultMaxAttempts = 8
	DefaultBaseDelay   = 1200 * time.Millisecond
	DefaultCapDelay    = 60 * time.Second
)

var retryableCodes = map[string]struct{}{
	"Throttling":                {},
	"ThrottlingException":       {},
	"RequestLimitExceeded":      {},
	"RequestThrottled":          {},
	"RequestThrottledException": {},
	"TooManyRequestsException":  {},
	"SlowDown":                  {},
}

// Retryable reports whether err is a transient provider error worth
// backing off and retrying.
func Retryable(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}

	_, ok := retryableCodes[apiErr.ErrorCode()]

	return ok
}

// IsNotFound reports whether err means the resource is already gone.
// Cleaners treat that as success, not failure.
func IsNotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}

	code := apiErr.ErrorCode()
	switch code {
	case "NoSuchEntity", "NoSuchBucket", "NoSuchHostedZone":
		return true
	}

	return strings.Contains(code, "NotFound")
}

// ExhaustedError is returned by Do when every attempt failed with a
// retryable error.
type ExhaustedError struct {
	Description string
	Attempts    int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("max retries (%d) exceeded for %s", e.Attempts, e.Description)
}

// Policy retries an operation with exponential backoff and jitter. The
// calling goroutine blocks during backoff sleeps.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	CapDelay    time.Duration

	// overridable in tests
	sleep  func(time.Duration)
	jitter func() float64
}

func NewPolicy(maxAttempts int, baseDelay time.Duration) *Policy {
	return &Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		CapDelay:    DefaultCapDelay,
		sleep:       time.Sleep,
		jitter:      func() float64 { return 0.5 + rand.Float64() },
	}
}

func DefaultPolicy() *Policy {
	return NewPolicy(DefaultMaxAttempts, DefaultBaseDelay)
}

// WithSleep replaces the sleep function and returns the policy. Tests
// use it to make backoff and propagation waits instantaneous.
func (p *Policy) WithSleep(sleep func(time.Duration)) *Policy {
	p.sleep = sleep

	return p
}

// Do invokes op until it succeeds, fails with a non-retryable error, or
// exhausts the attempt budget. Exhaustion is reported as *ExhaustedError
// so sub-steps abort their caller.
func (p *Policy) Do(description string, op func() error) error {
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		err := op()
		if err == nil {
			return nil
		}

		if !Retryable(err) {
			return err
		}

		if attempt == p.MaxAttempts-1 {
			break
		}

		delay := p.delay(attempt)
		log.WithFields(log.Fields{
			"operation": description,
			"attempt":   attempt + 1,
			"delay":     delay.String(),
		}).Warn("throttled; backing off")

		p.sleep(delay)
	}

	return &ExhaustedError{Description: description, Attempts: p.MaxAttempts}
}

// DoBool is the Do variant for best-effort sub-steps (detach, revoke,
// disable protection): it swallows the terminal error and reports
// success as a flag, so the surrounding delete continues regardless.
func (p *Policy) DoBool(description string, op func() error) bool {
	err := p.Do(description, op)
	if err == nil {
		log.Debugf("%s succeeded", description)
		return true
	}

	log.WithError(err).Errorf("%s failed", description)

	return false
}

// Wait blocks through the policy's sleeper so propagation waits between
// delete phases stay fake-able in tests.
func (p *Policy) Wait(d time.Duration) {
	p.sleep(d)
}

func (p *Policy) delay(attempt int) time.Duration {
	d := time.Duration(float64(p.BaseDelay) * float64(uint64(1)<<uint(attempt)) * p.jitter())
	if d > p.CapDelay {
		d = p.CapDelay
	}
	return d
}
