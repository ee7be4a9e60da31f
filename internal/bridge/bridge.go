// Package bridge dispatches UI envelopes to registered action handlers and
// guarantees exactly one reply per envelope.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"smartbox/internal/action"
)

const (
	replyType = "outcome"

	defaultAsyncTimeout = 30 * time.Second
	defaultAsyncLimit   = 4
)

// PayloadValidator checks a payload against a descriptor's schema.
type PayloadValidator interface {
	Validate(ctx context.Context, schema map[string]interface{}, value map[string]interface{}) error
}

// Recorder receives dispatch measurements.
type Recorder interface {
	ObserveOutcome(action string, o action.Outcome, elapsed time.Duration)
	AsyncInFlight(delta int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveOutcome(string, action.Outcome, time.Duration) {}
func (nopRecorder) AsyncInFlight(int)                                    {}

// Bridge is safe for concurrent use; each connection runs its own Serve loop
// over a shared Bridge.
type Bridge struct {
	registry  *action.Registry
	log       *zap.Logger
	envelopes EnvelopeValidator
	payloads  PayloadValidator
	metrics   Recorder

	asyncTimeout time.Duration
	sem          *semaphore.Weighted
	wg           sync.WaitGroup
}

// Option configures a Bridge.
type Option func(*Bridge)

func WithEnvelopeValidator(v EnvelopeValidator) Option {
	return func(b *Bridge) { b.envelopes = v }
}

func WithPayloadValidator(v PayloadValidator) Option {
	return func(b *Bridge) { b.payloads = v }
}

func WithRecorder(r Recorder) Option {
	return func(b *Bridge) { b.metrics = r }
}

// WithAsyncTimeout sets the bound for async handlers that declare none.
func WithAsyncTimeout(d time.Duration) Option {
	return func(b *Bridge) { b.asyncTimeout = d }
}

// WithAsyncLimit bounds how many async handlers run at once. Further ones
// wait for a slot inside their own timeout.
func WithAsyncLimit(n int64) Option {
	return func(b *Bridge) { b.sem = semaphore.NewWeighted(n) }
}

// New creates a bridge over a sealed registry.
func New(registry *action.Registry, log *zap.Logger, opts ...Option) *Bridge {
	b := &Bridge{
		registry:     registry,
		log:          log,
		metrics:      nopRecorder{},
		asyncTimeout: defaultAsyncTimeout,
		sem:          semaphore.NewWeighted(defaultAsyncLimit),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// accepted is an envelope that passed every gate and is ready to run.
type accepted struct {
	desc action.Descriptor
	req  *action.Request
}

// admit runs the gates that need no handler: normalization, lookup,
// confirmation and payload shape. Either the returned Reply or accepted is
// meaningful, never both.
func (b *Bridge) admit(ctx context.Context, env Envelope) (*accepted, *Reply) {
	id := env.ID
	if id == "" {
		id = ulid.Make().String()
	}
	reject := func(name string, o action.Outcome) (*accepted, *Reply) {
		return nil, &Reply{ID: id, Type: replyType, Action: name, Outcome: o}
	}

	canonical, err := action.Normalize(env.Type)
	if err != nil {
		b.log.Warn("Rejected envelope with invalid action", zap.String("id", id), zap.String("type", env.Type))
		return reject(env.Type, action.Rejected(action.ReasonInvalidAction, "action identifier is empty"))
	}
	name := canonical.String()

	desc, ok := b.registry.Resolve(canonical)
	if !ok {
		b.log.Warn("Rejected unknown action",
			zap.String("id", id),
			zap.String("type", env.Type),
			zap.String("action", name),
		)
		return reject(name, action.Rejected(action.ReasonUnknownAction, fmt.Sprintf("no handler for %q", env.Type)))
	}

	if desc.RequiresConfirmation && !env.Confirmed {
		return reject(name, action.NeedsConfirmation(fmt.Sprintf("%s requires confirmation", desc.Name)))
	}

	if desc.FormData == action.CollectFullForm {
		if len(env.Data) == 0 {
			return reject(name, action.Rejected(action.ReasonIncompleteForm, "form snapshot is empty"))
		}
		if missing := missingFields(desc.FormFields, env.Data); len(missing) > 0 {
			b.log.Warn("Rejected partial form",
				zap.String("id", id),
				zap.String("action", name),
				zap.Strings("missing", missing),
			)
			return reject(name, action.Rejected(action.ReasonIncompleteForm,
				fmt.Sprintf("form snapshot is missing %d field(s): %s", len(missing), strings.Join(missing, ", "))))
		}
	}

	if desc.PayloadSchema != nil && b.payloads != nil {
		data := env.Data
		if data == nil {
			data = map[string]interface{}{}
		}
		if err := b.payloads.Validate(ctx, desc.PayloadSchema, data); err != nil {
			return reject(name, action.Rejected(action.ReasonInvalidPayload, err.Error()))
		}
	}

	return &accepted{
		desc: desc,
		req: &action.Request{
			ID:        id,
			Action:    canonical,
			Payload:   env.Data,
			Confirmed: env.Confirmed,
		},
	}, nil
}

func missingFields(want []string, data map[string]interface{}) []string {
	var missing []string
	for _, f := range want {
		if _, ok := data[f]; !ok {
			missing = append(missing, f)
		}
	}
	sort.Strings(missing)
	return missing
}

// Handle processes env to completion on the calling goroutine. Async
// handlers still get their timeout.
func (b *Bridge) Handle(ctx context.Context, env Envelope) Reply {
	start := time.Now()
	a, rejected := b.admit(ctx, env)
	if rejected != nil {
		b.metrics.ObserveOutcome(rejected.Action, rejected.Outcome, time.Since(start))
		return *rejected
	}
	return b.run(ctx, a, start)
}

// Dispatch processes env and delivers its reply through reply exactly once.
// Sync handlers run before Dispatch returns; async handlers run on their own
// goroutine so that the caller can accept the next envelope.
func (b *Bridge) Dispatch(ctx context.Context, env Envelope, reply func(Reply)) {
	deliver := once(reply)

	start := time.Now()
	a, rejected := b.admit(ctx, env)
	if rejected != nil {
		b.metrics.ObserveOutcome(rejected.Action, rejected.Outcome, time.Since(start))
		deliver(*rejected)
		return
	}

	if !a.desc.Async {
		deliver(b.run(ctx, a, start))
		return
	}

	b.wg.Add(1)
	b.metrics.AsyncInFlight(1)
	go func() {
		defer b.wg.Done()
		defer b.metrics.AsyncInFlight(-1)
		deliver(b.run(ctx, a, start))
	}()
}

// Serve is the single-consumer loop of one connection. It reads raw
// messages from in until in is closed or ctx ends, then waits for pending
// async handlers of this loop, which see a cancelled context.
func (b *Bridge) Serve(ctx context.Context, in <-chan []byte, reply func(Reply)) error {
	ctx, cancel := context.WithCancel(ctx)
	var pending sync.WaitGroup
	defer func() {
		cancel()
		pending.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-in:
			if !ok {
				return nil
			}
			env, err := Decode(ctx, raw, b.envelopes)
			if err != nil {
				b.log.Warn("Dropped malformed envelope", zap.Error(err))
				reply(Reply{Type: replyType, Outcome: action.Rejected(action.ReasonInvalidEnvelope, err.Error())})
				continue
			}

			pending.Add(1)
			var done sync.Once
			b.Dispatch(ctx, env, func(r Reply) {
				reply(r)
				done.Do(pending.Done)
			})
		}
	}
}

// Wait blocks until every async handler started through Dispatch returned.
func (b *Bridge) Wait() { b.wg.Wait() }

// run invokes the handler with the descriptor's bound and converts panics
// into internal errors.
func (b *Bridge) run(ctx context.Context, a *accepted, start time.Time) Reply {
	name := a.req.Action.String()
	timeout := a.desc.Timeout
	if timeout == 0 && a.desc.Async {
		timeout = b.asyncTimeout
	}

	var o action.Outcome
	if timeout > 0 {
		o = b.invokeWithTimeout(ctx, a, timeout)
	} else {
		o = b.invoke(ctx, a)
	}

	elapsed := time.Since(start)
	b.metrics.ObserveOutcome(name, o, elapsed)

	fields := []zap.Field{
		zap.String("id", a.req.ID),
		zap.String("action", name),
		zap.String("status", string(o.Status)),
		zap.Duration("elapsed", elapsed),
	}
	if o.Reason != "" {
		fields = append(fields, zap.String("reason", string(o.Reason)))
	}
	if o.Status == action.StatusFailed {
		b.log.Warn("Action failed", append(fields, zap.String("message", o.Message))...)
	} else {
		b.log.Debug("Action handled", fields...)
	}

	return Reply{ID: a.req.ID, Type: replyType, Action: name, Outcome: o}
}

func (b *Bridge) invoke(ctx context.Context, a *accepted) (o action.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("Handler panicked",
				zap.String("id", a.req.ID),
				zap.String("action", a.req.Action.String()),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			o = action.Failed(action.ReasonInternal, "internal error")
		}
	}()

	o = a.desc.Handler(ctx, a.req)
	if o.Status == "" {
		b.log.Error("Handler returned an empty outcome", zap.String("action", a.req.Action.String()))
		return action.Failed(action.ReasonInternal, "internal error")
	}
	return o
}

// invokeWithTimeout abandons the handler once timeout elapses. The handler's
// context is cancelled so it can release what it holds; its late result is
// discarded.
func (b *Bridge) invokeWithTimeout(ctx context.Context, a *accepted, timeout time.Duration) action.Outcome {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Only async handlers compete for probe slots.
	if a.desc.Async {
		if err := b.sem.Acquire(ctx, 1); err != nil {
			return timeoutOutcome(ctx, a)
		}
	}

	result := make(chan action.Outcome, 1)
	go func() {
		if a.desc.Async {
			defer b.sem.Release(1)
		}
		result <- b.invoke(ctx, a)
	}()

	select {
	case o := <-result:
		return o
	case <-ctx.Done():
		return timeoutOutcome(ctx, a)
	}
}

func timeoutOutcome(ctx context.Context, a *accepted) action.Outcome {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return action.Failed(action.ReasonTimeout, fmt.Sprintf("%s did not finish in time", a.desc.Name))
	}
	return action.Failed(action.ReasonUnavailable, fmt.Sprintf("%s was cancelled", a.desc.Name))
}

// once guards a reply callback so that at most one reply gets through.
func once(fn func(Reply)) func(Reply) {
	var o sync.Once
	return func(r Reply) {
		o.Do(func() { fn(r) })
	}
}
