/*
Package termination holds the process-wide stop token and the one-time
hardware shutdown run when it is set.

A Signal is set at most once and never reset.  Long-running loops watch
Done(); code that issues device commands checks IsSet() or hands
Context() to the controller, which refuses to start exposures once it is
done.

Setting the signal does not stop hardware by itself.  Shutdown.Run is the
compensating action: it sets the signal, cancels any capture in flight and
turns the cooler off, exactly once however many times it is called.
*/
package termination

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/nasa-jpl/asicam/util"
)

// Signal is a set-once, multi-reader stop flag
type Signal struct {
	set    atomic.Bool
	once   sync.Once
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

// NewSignal returns a Signal that is not set
func NewSignal() *Signal {
	ctx, cancel := context.WithCancel(context.Background())
	return &Signal{done: make(chan struct{}), ctx: ctx, cancel: cancel}
}

// Set sets the signal.  It returns true only for the call that set it.
func (s *Signal) Set() bool {
	first := false
	s.once.Do(func() {
		first = true
		s.set.Store(true)
		close(s.done)
		s.cancel()
	})
	return first
}

// IsSet returns true once the signal has been set
func (s *Signal) IsSet() bool {
	return s.set.Load()
}

// Done is closed when the signal is set
func (s *Signal) Done() <-chan struct{} {
	return s.done
}

// Context is cancelled when the signal is set
func (s *Signal) Context() context.Context {
	return s.ctx
}

// Hardware is what the shutdown sequence commands
type Hardware interface {
	CancelCapture() error
	SetCooler(bool) error
}

// Shutdown is the compensating action for a set Signal
type Shutdown struct {
	sig  *Signal
	hw   Hardware
	log  *slog.Logger
	once sync.Once
	err  error
}

// NewShutdown prepares the shutdown sequence for hw
func NewShutdown(sig *Signal, hw Hardware, log *slog.Logger) *Shutdown {
	if log == nil {
		log = slog.Default()
	}
	return &Shutdown{sig: sig, hw: hw, log: log}
}

// Run sets the signal, cancels any capture in flight and turns the cooler
// off.  The sequence happens once; later calls return the first call's
// result.  Failures are logged, never fatal, and both steps always run.
func (s *Shutdown) Run() error {
	s.once.Do(func() {
		s.sig.Set()
		s.log.Info("shutting down, cancelling capture and turning cooler off")
		errs := []error{s.hw.CancelCapture(), s.hw.SetCooler(false)}
		if errs[0] != nil {
			s.log.Warn("cancelling capture during shutdown", "err", errs[0])
		}
		if errs[1] != nil {
			s.log.Warn("turning cooler off during shutdown", "err", errs[1])
		}
		s.err = util.MergeErrors(errs)
	})
	return s.err
}

// Signal returns the signal this sequence sets
func (s *Shutdown) Signal() *Signal {
	return s.sig
}
