package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/hh-autoreply/internal/logger"
)

const (
	DefaultAttempts       = 3
	DefaultAttemptTimeout = 90 * time.Second
)

type Status string

const (
	StatusOK      Status = "ok"
	StatusInvalid Status = "invalid"
	StatusFailed  Status = "failed"
)

type outcomeKind int

const (
	kindParsed outcomeKind = iota
	kindInvalid
	kindFailed
)

// Outcome is the result of one attempt: Parsed(value), Invalid(reason) or
// Failed(error).
type Outcome[T any] struct {
	kind   outcomeKind
	value  T
	reason string
	err    error
}

func Parsed[T any](v T) Outcome[T] {
	return Outcome[T]{kind: kindParsed, value: v}
}

func Invalid[T any](reason string) Outcome[T] {
	return Outcome[T]{kind: kindInvalid, reason: reason}
}

func Failed[T any](err error) Outcome[T] {
	return Outcome[T]{kind: kindFailed, err: err}
}

// Value returns the parsed value and whether the outcome is Parsed.
func (o Outcome[T]) Value() (T, bool) {
	return o.value, o.kind == kindParsed
}

func (o Outcome[T]) Status() Status {
	switch o.kind {
	case kindInvalid:
		return StatusInvalid
	case kindFailed:
		return StatusFailed
	default:
		return StatusOK
	}
}

// Err is nil for Parsed, an *InvalidError for Invalid, and the cause for Failed.
func (o Outcome[T]) Err() error {
	switch o.kind {
	case kindInvalid:
		return &InvalidError{Reason: o.reason}
	case kindFailed:
		return o.err
	default:
		return nil
	}
}

// InvalidError describes a response that parsed but was rejected.
type InvalidError struct {
	Reason string
}

func (e *InvalidError) Error() string {
	return "invalid response: " + e.Reason
}

// AgentParseError is returned once every attempt of a call failed.
type AgentParseError struct {
	Call     string
	Attempts int
	Last     error
}

func (e *AgentParseError) Error() string {
	return fmt.Sprintf("%s: no usable response after %d attempts: %v", e.Call, e.Attempts, e.Last)
}

func (e *AgentParseError) Unwrap() error {
	return e.Last
}

// Attempt is reported to the Recorder after every try.
type Attempt struct {
	Call     string
	Number   int
	Status   Status
	Err      error
	Duration time.Duration
}

type Recorder interface {
	Record(Attempt)
}

type nopRecorder struct{}

func (nopRecorder) Record(Attempt) {}

// Request describes one LLM call site.
type Request[T any] struct {
	// Name identifies the call site in logs, metrics and errors.
	Name string
	// Invoke performs the raw model call.
	Invoke func(ctx context.Context) (string, error)
	// Parse turns the raw response into a value.
	Parse func(raw string) Outcome[T]
	// Validate optionally rejects a parsed value; a non-empty reason triggers
	// another attempt.
	Validate func(T) string
}

// Caller runs requests with a bounded number of attempts, each under its
// own deadline.
type Caller struct {
	attempts       int
	attemptTimeout time.Duration
	recorder       Recorder
	logger         *zap.Logger
	now            func() time.Time
}

type CallerOption func(*Caller)

// WithAttemptTimeout bounds every single attempt. A timed out attempt counts
// as failed and is retried.
func WithAttemptTimeout(d time.Duration) CallerOption {
	return func(c *Caller) {
		if d > 0 {
			c.attemptTimeout = d
		}
	}
}

func NewCaller(attempts int, recorder Recorder, log *zap.Logger, opts ...CallerOption) *Caller {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	c := &Caller{
		attempts:       attempts,
		attemptTimeout: DefaultAttemptTimeout,
		recorder:       recorder,
		logger:         logger.OrNop(log).Named("llm"),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call runs req until it yields a valid value or attempts run out, in which
// case it returns *AgentParseError. Context cancellation stops the loop at
// once and is returned as is.
func Call[T any](ctx context.Context, c *Caller, req Request[T]) (T, error) {
	var zero T
	var last error

	for n := 1; n <= c.attempts; n++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		start := c.now()
		attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
		outcome := attempt(attemptCtx, req)
		cancel()
		took := c.now().Sub(start)

		c.recorder.Record(Attempt{
			Call:     req.Name,
			Number:   n,
			Status:   outcome.Status(),
			Err:      outcome.Err(),
			Duration: took,
		})

		if v, ok := outcome.Value(); ok {
			return v, nil
		}

		last = outcome.Err()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}

		c.logger.Debug("llm attempt rejected",
			zap.String("call", req.Name),
			zap.Int("attempt", n),
			zap.String("status", string(outcome.Status())),
			zap.Duration("took", took),
			zap.Error(last),
		)
	}

	return zero, &AgentParseError{Call: req.Name, Attempts: c.attempts, Last: last}
}

func attempt[T any](ctx context.Context, req Request[T]) Outcome[T] {
	raw, err := req.Invoke(ctx)
	if err != nil {
		return Failed[T](err)
	}

	outcome := req.Parse(raw)
	v, ok := outcome.Value()
	if !ok {
		return outcome
	}
	if req.Validate != nil {
		if reason := req.Validate(v); reason != "" {
			return Invalid[T](reason)
		}
	}
	return outcome
}

// IsAgentParseError reports whether err came from an exhausted Call.
func IsAgentParseError(err error) bool {
	var target *AgentParseError
	return errors.As(err, &target)
}
