package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"main/internal/bus"
	"main/internal/model/enum"
	"main/internal/obs"
	"main/internal/strategy"
)

// Handle is the supervisory object binding one strategy instance to its
// execution context. It owns exactly one goroutine running the decision loop.
// Cancellation is cooperative: the loop always finishes the step in flight
// before exiting.
type Handle struct {
	id    uuid.UUID
	strat strategy.Strategy
	sub   *bus.Subscription

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	mu          sync.Mutex
	liveStatus  enum.AgentStatus
	finalStatus enum.AgentStatus
	statusMsg   string
	startedAt   time.Time

	finalized atomic.Bool
}

type runOptions struct {
	config       map[string]any
	stepTimeout  time.Duration
	metrics      *obs.Metrics
	onTransition func(status enum.AgentStatus, message string)
	onExit       func(h *Handle)
}

func newHandle(id uuid.UUID, strat strategy.Strategy, sub *bus.Subscription) *Handle {
	return &Handle{
		id:         id,
		strat:      strat,
		sub:        sub,
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
		liveStatus: enum.AgentStatusStarting,
	}
}

// RequestStop signals cooperative cancellation. It never blocks and never
// interrupts a step in flight.
func (h *Handle) RequestStop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
	})
}

// Done is closed once the execution context has fully exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Snapshot returns the last-observed status without blocking on the
// execution context. Terminal statuses are only reported once the context
// has actually exited.
func (h *Handle) Snapshot() (enum.AgentStatus, string, time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.done:
		return h.finalStatus, h.statusMsg, h.startedAt
	default:
		return h.liveStatus, h.statusMsg, h.startedAt
	}
}

func (h *Handle) start(ctx context.Context, opts runOptions) {
	h.mu.Lock()
	h.startedAt = time.Now().UTC()
	h.mu.Unlock()
	go h.run(ctx, opts)
}

func (h *Handle) run(ctx context.Context, opts runOptions) {
	final, msg := h.loop(ctx, opts)

	h.mu.Lock()
	h.finalStatus = final
	h.statusMsg = msg
	h.mu.Unlock()

	close(h.done)
	if opts.onExit != nil {
		opts.onExit(h)
	}
}

func (h *Handle) loop(ctx context.Context, opts runOptions) (enum.AgentStatus, string) {
	if err := h.strat.Configure(opts.config); err != nil {
		return enum.AgentStatusError, err.Error()
	}
	if h.stopRequested() || ctx.Err() != nil {
		return enum.AgentStatusStopped, ""
	}

	h.setLive(enum.AgentStatusRunning, "")
	if opts.onTransition != nil {
		opts.onTransition(enum.AgentStatusRunning, "")
	}

	interval := h.strat.Interval()
	for {
		if h.stopRequested() || ctx.Err() != nil {
			return enum.AgentStatusStopped, ""
		}

		start := time.Now()
		outcome, err := h.step(ctx, opts.stepTimeout)
		if err != nil {
			opts.metrics.IncStepFault()
			msg := err.Error()
			if errors.Is(err, context.DeadlineExceeded) {
				msg = fmt.Sprintf("step exceeded %s timeout", opts.stepTimeout)
			}
			return enum.AgentStatusError, msg
		}
		opts.metrics.ObserveStep(outcome == strategy.StepHalt, time.Since(start))

		if outcome == strategy.StepHalt {
			return enum.AgentStatusStopped, "strategy halted"
		}
		if !h.idle(ctx, interval) {
			return enum.AgentStatusStopped, ""
		}
	}
}

// step runs one decision cycle under the per-step timeout. A fired timeout
// surfaces as an unrecoverable fault, not a silent hang.
func (h *Handle) step(ctx context.Context, timeout time.Duration) (strategy.StepOutcome, error) {
	stepCtx := ctx
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()
	return h.strat.Step(stepCtx)
}

// idle sleeps between steps while pumping bus messages to the strategy.
// Returns false when the loop should exit.
func (h *Handle) idle(ctx context.Context, interval time.Duration) bool {
	timer := time.NewTimer(interval)
	defer timer.Stop()

	var msgs <-chan bus.Message
	if h.sub != nil {
		msgs = h.sub.C()
	}
	for {
		select {
		case <-timer.C:
			return true
		case <-h.stopCh:
			return false
		case <-ctx.Done():
			return false
		case m, ok := <-msgs:
			if !ok {
				msgs = nil
				continue
			}
			h.strat.OnMessage(m)
		}
	}
}

func (h *Handle) stopRequested() bool {
	select {
	case <-h.stopCh:
		return true
	default:
		return false
	}
}

func (h *Handle) setLive(status enum.AgentStatus, msg string) {
	h.mu.Lock()
	h.liveStatus = status
	h.statusMsg = msg
	h.mu.Unlock()
}
