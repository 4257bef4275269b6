// Package poll implements the response-readiness poller used by backends that
// have no push-based completion signal.
//
// After a request has been submitted, a [Poller] repeatedly invokes a [Probe]
// at a fixed interval until the probe reports completion or the timeout
// elapses. An optional liveness callback runs on its own schedule while the
// poller waits (for example to keep a chat "typing…" indicator alive).
//
// The poller never returns an error: a timeout yields a best-effort outcome and
// a probe failure yields [OutcomeProbeError] together with [Sentinel], so the
// caller can always send the user some reply.
package poll

import (
	"context"
	"sync/atomic"
	"time"
)

// Default timings.
const (
	DefaultInterval         = 500 * time.Millisecond
	DefaultLivenessInterval = 5 * time.Second
	DefaultTimeout          = 90 * time.Second
)

// Sentinel is the reply text used when a probe fails.
const Sentinel = "Server probably disconnected, try running /reset"

// Probe inspects backend-visible state. It returns done=true once the
// backend has finished producing its reply.
type Probe func(ctx context.Context) (done bool, err error)

// Outcome is the terminal state of a wait.
type Outcome int

const (
	// OutcomeReady means the probe reported completion.
	OutcomeReady Outcome = iota

	// OutcomeTimedOut means the timeout elapsed (or ctx ended) before the
	// probe reported completion. The caller should use whatever partial
	// answer is available.
	OutcomeTimedOut

	// OutcomeProbeError means the probe failed. The wait stops immediately.
	OutcomeProbeError
)

// String returns the outcome name used in logs and metric attributes.
func (o Outcome) String() string {
	switch o {
	case OutcomeReady:
		return "ready"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeProbeError:
		return "probe_error"
	default:
		return "unknown"
	}
}

// Result describes how a wait ended.
type Result struct {
	Outcome Outcome

	// Polls is the number of probe invocations.
	Polls int

	// Elapsed is the wall-clock time spent waiting.
	Elapsed time.Duration

	// Err holds the probe error for OutcomeProbeError. It is informational;
	// Wait itself never fails.
	Err error
}

// Failed reports whether the wait ended with a probe error, in which case
// [Sentinel] should be shown instead of the backend output.
func (r Result) Failed() bool { return r.Outcome == OutcomeProbeError }

// Poller waits for a probe to report completion.
// The zero value is usable and applies the default timings.
type Poller struct {
	// Interval is the pause between probe invocations.
	Interval time.Duration

	// Timeout bounds the total wait.
	Timeout time.Duration

	// LivenessInterval is the maximum gap between two Liveness calls.
	LivenessInterval time.Duration

	// Liveness is called periodically while waiting. May be nil.
	Liveness func(ctx context.Context)
}

// New returns a Poller with the default timings and the given liveness
// callback.
func New(liveness func(ctx context.Context)) *Poller {
	return &Poller{
		Interval:         DefaultInterval,
		Timeout:          DefaultTimeout,
		LivenessInterval: DefaultLivenessInterval,
		Liveness:         liveness,
	}
}

func (p *Poller) timings() (interval, timeout, liveness time.Duration) {
	interval, timeout, liveness = p.Interval, p.Timeout, p.LivenessInterval
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if liveness <= 0 {
		liveness = DefaultLivenessInterval
	}
	return interval, timeout, liveness
}

// Wait runs the probe until it reports done, fails, or the timeout elapses.
// The probe is always invoked at least once.
//
// Probe and liveness calls receive a context that ends with the wait, and
// both run off the waiting goroutine: a call that ignores its context delays
// nothing but itself. At most one liveness call is in flight at a time.
func (p *Poller) Wait(ctx context.Context, probe Probe) Result {
	interval, timeout, livenessEvery := p.timings()

	start := time.Now()
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var liveness <-chan time.Time
	var pulsing atomic.Bool
	if p.Liveness != nil {
		t := time.NewTicker(livenessEvery)
		defer t.Stop()
		liveness = t.C
	}
	pulse := func() {
		if !pulsing.CompareAndSwap(false, true) {
			return
		}
		go func() {
			defer pulsing.Store(false)
			p.Liveness(waitCtx)
		}()
	}

	type answer struct {
		done bool
		err  error
	}
	answers := make(chan answer, 1)

	var res Result
	ask := func() {
		res.Polls++
		go func() {
			done, err := probe(waitCtx)
			answers <- answer{done, err}
		}()
	}
	finish := func(o Outcome, err error) Result {
		res.Outcome, res.Err = o, err
		res.Elapsed = time.Since(start)
		return res
	}

	ask()
	var next <-chan time.Time
	for {
		select {
		case a := <-answers:
			switch {
			case a.err != nil && waitCtx.Err() != nil:
				return finish(OutcomeTimedOut, nil)
			case a.err != nil:
				return finish(OutcomeProbeError, a.err)
			case a.done:
				return finish(OutcomeReady, nil)
			}
			next = time.After(interval)
		case <-next:
			next = nil
			ask()
		case <-liveness:
			pulse()
		case <-waitCtx.Done():
			return finish(OutcomeTimedOut, nil)
		}
	}
}
