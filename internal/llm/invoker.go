package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"smartmetal/internal/domain"
	"smartmetal/internal/jsonrepair"
	"smartmetal/internal/port"
)

// State is a step of a single invocation.
type State int

const (
	StateInvoking State = iota
	StateRepairing
	StateFallingBack
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateInvoking:
		return "invoking"
	case StateRepairing:
		return "repairing"
	case StateFallingBack:
		return "falling_back"
	case StateExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const (
	defaultRetryBaseDelay = 2 * time.Second
	defaultRetryMaxDelay  = 30 * time.Second
	snippetLen            = 300
)

// Backend is one entry of the fallback chain.
type Backend struct {
	Client port.ModelClient
	// MaxRetries is the number of transport retries after the first attempt.
	MaxRetries int
}

type backendState struct {
	Backend
	circuit *circuitState
}

// AcceptFunc inspects a repaired response. Returning an error rejects the
// response as unusable and moves on to the next backend.
type AcceptFunc func(res *jsonrepair.Result, resp *port.CompletionResponse) error

// Outcome describes a successful invocation.
type Outcome struct {
	Result    *jsonrepair.Result
	Backend   string
	Model     string
	Attempts  int
	Truncated bool
	// Transitions lists the states visited, in order.
	Transitions []State
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithLogger sets the invoker's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(inv *Invoker) {
		if logger != nil {
			inv.logger = logger
		}
	}
}

// WithRequestsPerSecond paces outgoing requests across all backends.
// Zero or negative disables pacing.
func WithRequestsPerSecond(rps float64) Option {
	return func(inv *Invoker) {
		if rps > 0 {
			inv.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		} else {
			inv.limiter = rate.NewLimiter(rate.Inf, 0)
		}
	}
}

// WithRetryDelays sets the exponential backoff bounds.
func WithRetryDelays(base, maxDelay time.Duration) Option {
	return func(inv *Invoker) {
		if base > 0 {
			inv.baseDelay = base
		}
		if maxDelay > 0 {
			inv.maxDelay = maxDelay
		}
	}
}

// Invoker sends completion requests down an ordered chain of model backends.
// It is created once per process and is safe for concurrent use; the only
// shared state is the per-backend rate-limit circuit.
type Invoker struct {
	backends  []*backendState
	limiter   *rate.Limiter
	baseDelay time.Duration
	maxDelay  time.Duration
	logger    *zap.Logger
}

// NewInvoker creates an Invoker over backends in fallback order.
func NewInvoker(backends []Backend, opts ...Option) *Invoker {
	inv := &Invoker{
		limiter:   rate.NewLimiter(rate.Inf, 0),
		baseDelay: defaultRetryBaseDelay,
		maxDelay:  defaultRetryMaxDelay,
		logger:    zap.NewNop(),
	}
	for _, b := range backends {
		if b.MaxRetries < 0 {
			b.MaxRetries = 0
		}
		inv.backends = append(inv.backends, &backendState{Backend: b, circuit: &circuitState{}})
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Backends returns the backend names in fallback order.
func (inv *Invoker) Backends() []string {
	names := make([]string, len(inv.backends))
	for i, b := range inv.backends {
		names[i] = b.Client.Name()
	}
	return names
}

// invocation is the mutable state of one Invoke call.
type invocation struct {
	idx           int
	attempt       int
	total         int
	resp          *port.CompletionResponse
	lastErr       error
	allRateLimit  bool
	earliestReset time.Time
	transitions   []State
}

func (r *invocation) to(s State) State {
	r.transitions = append(r.transitions, s)
	return s
}

func (r *invocation) noteReset(at time.Time) {
	if r.earliestReset.IsZero() || at.Before(r.earliestReset) {
		r.earliestReset = at
	}
}

// Invoke runs req through the backend chain. Transport failures are retried
// with exponential backoff on the same backend; parse failures and rejected
// responses move straight to the next backend.
func (inv *Invoker) Invoke(ctx context.Context, req port.CompletionRequest, accept AcceptFunc) (*Outcome, error) {
	if len(inv.backends) == 0 {
		return nil, domain.ErrNoModelBackends
	}

	run := &invocation{allRateLimit: true}
	state := run.to(StateInvoking)

	for {
		switch state {
		case StateInvoking:
			state = inv.invoking(ctx, run, req)

		case StateRepairing:
			b := inv.backends[run.idx]
			out, err := inv.repairing(run, accept)
			if err == nil {
				out.Transitions = run.transitions
				inv.logger.Debug("llm.Invoker: response accepted",
					zap.String("backend", b.Client.Name()),
					zap.String("stage", string(out.Result.Stage)),
					zap.Int("attempts", run.total))
				return out, nil
			}
			inv.logger.Warn("llm.Invoker: response rejected",
				zap.String("backend", b.Client.Name()), zap.Error(err))
			run.lastErr = err
			run.allRateLimit = false
			state = run.to(StateFallingBack)

		case StateFallingBack:
			if err := ctx.Err(); err != nil {
				return nil, &domain.ModelTransportError{Backend: inv.backends[run.idx].Client.Name(), Attempts: run.total, Err: err}
			}
			run.idx++
			run.attempt = 0
			if run.idx >= len(inv.backends) {
				state = run.to(StateExhausted)
				continue
			}
			inv.logger.Info("llm.Invoker: falling back",
				zap.String("backend", inv.backends[run.idx].Client.Name()))
			state = run.to(StateInvoking)

		case StateExhausted:
			return nil, inv.exhausted(run)
		}
	}
}

func (inv *Invoker) invoking(ctx context.Context, run *invocation, req port.CompletionRequest) State {
	b := inv.backends[run.idx]
	name := b.Client.Name()

	if resetAt, open := b.circuit.isOpenWithReset(time.Now()); open {
		inv.logger.Info("llm.Invoker: skipping backend, circuit open",
			zap.String("backend", name), zap.Time("until", resetAt))
		run.noteReset(resetAt)
		if run.lastErr == nil {
			secs := int(time.Until(resetAt).Seconds()) + 1
			run.lastErr = &domain.ModelTransportError{Backend: name, Err: NewRateLimitError(name, errors.New("circuit open"), secs)}
		}
		return run.to(StateFallingBack)
	}

	if err := inv.limiter.Wait(ctx); err != nil {
		run.lastErr = &domain.ModelTransportError{Backend: name, Attempts: run.total, Err: err}
		run.allRateLimit = false
		return run.to(StateFallingBack)
	}

	run.attempt++
	run.total++
	resp, err := b.Client.Complete(ctx, req)
	if err == nil {
		run.resp = resp
		return run.to(StateRepairing)
	}

	if errors.Is(err, ErrEmptyResponse) {
		run.lastErr = &domain.ModelParseError{Backend: name, Reason: "empty response", Err: err}
		run.allRateLimit = false
		return run.to(StateFallingBack)
	}

	run.lastErr = &domain.ModelTransportError{Backend: name, Attempts: run.attempt, Err: err}
	inv.logger.Warn("llm.Invoker: transport failure",
		zap.String("backend", name), zap.Int("attempt", run.attempt), zap.Error(err))

	var rlErr *RateLimitError
	if errors.As(err, &rlErr) {
		resetAt := time.Now().Add(rlErr.RetryAfter)
		if rlErr.RetryAfter > inv.maxDelay || run.attempt > b.MaxRetries {
			b.circuit.open(resetAt)
			run.noteReset(resetAt)
			return run.to(StateFallingBack)
		}
		if sleep(ctx, rlErr.RetryAfter) != nil {
			return run.to(StateFallingBack)
		}
		return run.to(StateInvoking)
	}

	run.allRateLimit = false
	if !IsRetryable(err) || run.attempt > b.MaxRetries || ctx.Err() != nil {
		return run.to(StateFallingBack)
	}
	if sleep(ctx, inv.backoff(run.attempt)) != nil {
		return run.to(StateFallingBack)
	}
	return run.to(StateInvoking)
}

func (inv *Invoker) repairing(run *invocation, accept AcceptFunc) (*Outcome, error) {
	name := inv.backends[run.idx].Client.Name()
	resp := run.resp

	res, err := jsonrepair.Repair(resp.Text)
	if err != nil {
		return nil, &domain.ModelParseError{
			Backend: name,
			Reason:  "unrecoverable response",
			Snippet: truncate(resp.Text, snippetLen),
			Err:     err,
		}
	}
	if res.Repaired() {
		inv.logger.Info("llm.Invoker: response repaired",
			zap.String("backend", name),
			zap.String("stage", string(res.Stage)),
			zap.Bool("truncated", resp.Truncated))
	}

	if accept != nil {
		if err := accept(res, resp); err != nil {
			var parseErr *domain.ModelParseError
			if errors.As(err, &parseErr) {
				if parseErr.Backend == "" {
					parseErr.Backend = name
				}
				return nil, parseErr
			}
			return nil, &domain.ModelParseError{Backend: name, Reason: "response rejected", Snippet: truncate(resp.Text, snippetLen), Err: err}
		}
	}

	return &Outcome{
		Result:    res,
		Backend:   name,
		Model:     resp.Model,
		Attempts:  run.total,
		Truncated: resp.Truncated,
	}, nil
}

func (inv *Invoker) exhausted(run *invocation) error {
	if run.allRateLimit && !run.earliestReset.IsZero() {
		retryAfter := time.Until(run.earliestReset)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		return NewRateLimitError("all", errors.New("all model backends rate limited"), int(retryAfter.Seconds()))
	}
	if run.lastErr == nil {
		return &domain.ModelTransportError{Backend: "all", Attempts: run.total, Err: errors.New("no backend attempted")}
	}
	return run.lastErr
}

// backoff returns base * 2^(attempt-1), capped at the max delay.
func (inv *Invoker) backoff(attempt int) time.Duration {
	d := inv.baseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= inv.maxDelay {
			return inv.maxDelay
		}
	}
	if d > inv.maxDelay {
		return inv.maxDelay
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
