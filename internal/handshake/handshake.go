// Package handshake sequences asynchronous request/response exchanges into
// ordered stages with per-stage timeouts.
package handshake

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/crtplink/internal/logging"
)

var (
	ErrTimeout   = errors.New("handshake: timed out")
	ErrCancelled = errors.New("handshake: cancelled")
)

const DefaultTimeout = 10 * time.Second

// Signal is a one-shot rendezvous. The first Fire wins.
type Signal struct {
	name  string
	once  sync.Once
	done  chan struct{}
	err   error
	fired atomic.Bool
}

func NewSignal(name string) *Signal {
	return &Signal{name: name, done: make(chan struct{})}
}

func (s *Signal) Name() string {
	return s.name
}

// Fire releases waiters with err. It reports whether this call took effect.
func (s *Signal) Fire(err error) bool {
	took := false
	s.once.Do(func() {
		s.err = err
		s.fired.Store(true)
		close(s.done)
		took = true
	})
	if !took {
		logging.Debugf("handshake.Signal.Fire name=%q ignored repeat err=%v", s.name, err)
	}
	return took
}

func (s *Signal) Fired() bool {
	return s.fired.Load()
}

func (s *Signal) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the signal fires or ctx ends.
func (s *Signal) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Step issues one request. It must arrange for sig to fire when the
// response arrives.
type Step struct {
	Name  string
	Issue func(sig *Signal) error
}

type Stage struct {
	Name  string
	Steps []Step
	// Timeout bounds the wait for every step of the stage. Zero uses the
	// coordinator's default.
	Timeout time.Duration
}

type Coordinator struct {
	timeout time.Duration

	mu          sync.Mutex
	outstanding map[*Signal]struct{}
}

func NewCoordinator(timeout time.Duration) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Coordinator{
		timeout:     timeout,
		outstanding: make(map[*Signal]struct{}),
	}
}

// Run executes stages in order. A stage issues all its steps, then waits
// for each of them before the next stage begins.
func (c *Coordinator) Run(ctx context.Context, stages ...Stage) error {
	for _, stage := range stages {
		if err := c.runStage(ctx, stage); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) runStage(ctx context.Context, stage Stage) error {
	sigs := make([]*Signal, len(stage.Steps))
	for i, step := range stage.Steps {
		sigs[i] = NewSignal(stage.Name + "/" + step.Name)
	}
	c.track(sigs)
	defer c.untrack(sigs)

	start := time.Now()
	for i, step := range stage.Steps {
		if err := step.Issue(sigs[i]); err != nil {
			return fmt.Errorf("handshake: %s: %w", sigs[i].name, err)
		}
	}

	timeout := stage.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for _, sig := range sigs {
		err := sig.Wait(stageCtx)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return fmt.Errorf("handshake: %s: %w", sig.name, ctx.Err())
		case errors.Is(err, context.DeadlineExceeded) && !sig.Fired():
			logging.Warnf("handshake.Coordinator stage=%q step=%q timeout=%s", stage.Name, sig.name, timeout)
			return fmt.Errorf("%w: %s after %s", ErrTimeout, sig.name, timeout)
		default:
			return fmt.Errorf("handshake: %s: %w", sig.name, err)
		}
	}
	logging.Debugf("handshake.Coordinator stage=%q steps=%d took=%s", stage.Name, len(sigs), time.Since(start))
	return nil
}

// Cancel fires every outstanding signal with ErrCancelled.
func (c *Coordinator) Cancel(cause error) {
	c.mu.Lock()
	sigs := make([]*Signal, 0, len(c.outstanding))
	for sig := range c.outstanding {
		sigs = append(sigs, sig)
	}
	c.mu.Unlock()

	err := ErrCancelled
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrCancelled, cause)
	}
	for _, sig := range sigs {
		sig.Fire(err)
	}
}

func (c *Coordinator) track(sigs []*Signal) {
	c.mu.Lock()
	for _, sig := range sigs {
		c.outstanding[sig] = struct{}{}
	}
	c.mu.Unlock()
}

func (c *Coordinator) untrack(sigs []*Signal) {
	c.mu.Lock()
	for _, sig := range sigs {
		delete(c.outstanding, sig)
	}
	c.mu.Unlock()
}
