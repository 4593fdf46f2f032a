package provision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/tradejournal/broker/metaapi"
	"github.com/rustyeddy/tradejournal/internal/observability"
	"go.uber.org/zap"
)

// Submitter performs one provisioning round.
type Submitter interface {
	Submit(ctx context.Context, req *metaapi.Request) (metaapi.Result, error)
}

// State of a provisioning sequence.
type State int

const (
	Submitting State = iota
	WaitingRetry
	Succeeded
	Failed
	TimedOut
	Errored
)

func (s State) String() string {
	switch s {
	case Submitting:
		return "submitting"
	case WaitingRetry:
		return "waiting_retry"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case TimedOut:
		return "timed_out"
	case Errored:
		return "errored"
	}
	return "unknown"
}

func (s State) terminal() bool {
	return s >= Succeeded
}

// OutcomeKind is how a sequence ended.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota + 1
	OutcomeFailure
	OutcomeTimeout
	OutcomeError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeError:
		return "error"
	}
	return "unknown"
}

// Outcome is the exit value of Run. RemoteID is set whenever any round
// reported one, including on timeout and error.
type Outcome struct {
	Kind     OutcomeKind
	RemoteID string
	RawState string
	Message  string
	Details  string
	Attempts int
}

// Attempt is the per-sequence bookkeeping. It lives on Run's stack.
type Attempt struct {
	Count     int
	Waited    time.Duration
	LastState string
	LastKind  metaapi.Kind
	RemoteID  string
}

// Observer is told once when a pending round first reveals the remote
// account id. Returning an error aborts the sequence.
type Observer func(ctx context.Context, remoteID string) error

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

const (
	DefaultMaxAttempts = 30
	DefaultDelay       = 3 * time.Second
	DefaultMaxDelay    = time.Minute
)

// Poller drives a provisioning sequence by resubmitting the same request
// until the provider reports a terminal state. A Poller holds no per-run
// state and may be shared by concurrent sequences.
type Poller struct {
	Client       Submitter
	MaxAttempts  int           // rounds, including the first
	DefaultDelay time.Duration // wait when the provider gives no Retry-After
	MaxDelay     time.Duration // cap on any wait; 0 means DefaultMaxDelay
	Deadline     time.Duration // wall-clock ceiling; 0 means none
	Sleep        Sleeper
	Logger       *zap.Logger
}

func (p *Poller) maxAttempts() int {
	if p.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return p.MaxAttempts
}

func (p *Poller) delay(res metaapi.Result) time.Duration {
	d := res.RetryAfter
	if d <= 0 {
		d = p.DefaultDelay
		if d <= 0 {
			d = DefaultDelay
		}
	}
	limit := p.MaxDelay
	if limit <= 0 {
		limit = DefaultMaxDelay
	}
	if d > limit {
		d = limit
	}
	return d
}

// Run executes one provisioning sequence for req. It always returns a
// definite Outcome; cancellation of ctx ends the sequence as an error.
func (p *Poller) Run(ctx context.Context, req *metaapi.Request, observe Observer) Outcome {
	log := p.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("transaction_id", req.Token()))
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	runCtx := ctx
	if p.Deadline > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.Deadline)
		defer cancel()
	}

	start := time.Now()
	var (
		att  Attempt
		last metaapi.Result
		out  Outcome
	)

	for state := Submitting; !state.terminal(); {
		switch state {
		case Submitting:
			att.Count++
			res, err := p.Client.Submit(runCtx, req)
			if err != nil {
				state, out = p.interrupted(ctx, runCtx, err, att)
				break
			}
			observability.ProvisioningRounds.WithLabelValues(res.Kind.String()).Inc()
			last = res
			att.LastKind = res.Kind
			att.LastState = res.RawState
			if res.RemoteID != "" {
				if att.RemoteID == "" && res.Kind == metaapi.KindPending && observe != nil {
					if err := observe(ctx, res.RemoteID); err != nil {
						att.RemoteID = res.RemoteID
						state = Errored
						out = Outcome{Kind: OutcomeError, Message: fmt.Sprintf("record broker account: %v", err)}
						break
					}
				}
				att.RemoteID = res.RemoteID
			}
			state = next(res, att.Count, p.maxAttempts())
			out = outcomeFor(state, res, att)

		case WaitingRetry:
			d := p.delay(last)
			log.Debug("provisioning pending",
				zap.Int("attempt", att.Count),
				zap.String("state", last.RawState),
				zap.Duration("wait", d))
			if err := sleep(runCtx, d); err != nil {
				state, out = p.interrupted(ctx, runCtx, err, att)
				break
			}
			att.Waited += d
			state = Submitting
		}
	}

	out.Attempts = att.Count
	if out.RemoteID == "" {
		out.RemoteID = att.RemoteID
	}
	observability.ProvisioningOutcomes.WithLabelValues(out.Kind.String()).Inc()
	observability.ProvisioningDuration.Observe(time.Since(start).Seconds())
	log.Info("provisioning finished",
		zap.Stringer("outcome", out.Kind),
		zap.Int("attempts", att.Count),
		zap.Duration("waited", att.Waited),
		zap.String("remote_id", out.RemoteID),
		zap.String("state", out.RawState))
	return out
}

// next picks the state after a round. Pending is the only retryable kind.
func next(res metaapi.Result, count, max int) State {
	switch res.Kind {
	case metaapi.KindDeployed:
		return Succeeded
	case metaapi.KindFailed:
		return Failed
	case metaapi.KindPending:
		if count >= max {
			return TimedOut
		}
		return WaitingRetry
	}
	return Errored
}

func outcomeFor(state State, res metaapi.Result, att Attempt) Outcome {
	switch state {
	case Succeeded:
		return Outcome{Kind: OutcomeSuccess, RemoteID: res.RemoteID, RawState: res.RawState}
	case Failed:
		return Outcome{Kind: OutcomeFailure, RemoteID: res.RemoteID, RawState: res.RawState, Message: res.Message}
	case TimedOut:
		return Outcome{
			Kind:     OutcomeTimeout,
			RawState: res.RawState,
			Message:  fmt.Sprintf("provisioning timed out after %d attempts", att.Count),
		}
	case Errored:
		return Outcome{Kind: OutcomeError, RawState: res.RawState, Message: res.Message, Details: res.Details}
	}
	return Outcome{}
}

// interrupted maps a transport or context error. Expiry of the poller's
// own deadline is a timeout; anything else, including caller
// cancellation, is an error.
func (p *Poller) interrupted(parent, run context.Context, err error, att Attempt) (State, Outcome) {
	if parent.Err() == nil && errors.Is(run.Err(), context.DeadlineExceeded) {
		return TimedOut, Outcome{
			Kind:     OutcomeTimeout,
			RawState: att.LastState,
			Message:  fmt.Sprintf("provisioning timed out after %s", p.Deadline),
		}
	}
	if parent.Err() != nil {
		return Errored, Outcome{Kind: OutcomeError, RawState: att.LastState, Message: fmt.Sprintf("provisioning cancelled: %v", parent.Err())}
	}
	return Errored, Outcome{Kind: OutcomeError, RawState: att.LastState, Message: err.Error()}
}
