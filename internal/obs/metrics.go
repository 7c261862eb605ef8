package obs

import (
	"sync/atomic"
	"time"
)

// Metrics collects lightweight counters and latency stats for the engine.
type Metrics struct {
	stepsContinue uint64
	stepsHalt     uint64
	stepFaults    uint64
	agentStarts   uint64
	agentStops    uint64
	transitions   uint64

	stepLatency LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64        `json:"count"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Avg   time.Duration `json:"avg"`
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	StepsContinue uint64          `json:"steps_continue"`
	StepsHalt     uint64          `json:"steps_halt"`
	StepFaults    uint64          `json:"step_faults"`
	AgentStarts   uint64          `json:"agent_starts"`
	AgentStops    uint64          `json:"agent_stops"`
	Transitions   uint64          `json:"transitions"`
	BusDropped    uint64          `json:"bus_dropped"`
	StepLatency   LatencySnapshot `json:"step_latency"`
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// ObserveStep records one strategy step and its duration. halted marks a
// graceful, strategy-requested stop.
func (m *Metrics) ObserveStep(halted bool, d time.Duration) {
	if m == nil {
		return
	}
	if halted {
		atomic.AddUint64(&m.stepsHalt, 1)
	} else {
		atomic.AddUint64(&m.stepsContinue, 1)
	}
	m.stepLatency.Observe(d)
}

// IncStepFault counts one unrecoverable strategy fault.
func (m *Metrics) IncStepFault() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.stepFaults, 1)
}

// IncAgentStart counts one accepted start.
func (m *Metrics) IncAgentStart() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.agentStarts, 1)
}

// IncAgentStop counts one accepted stop.
func (m *Metrics) IncAgentStop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.agentStops, 1)
}

// IncTransition counts one observed status transition.
func (m *Metrics) IncTransition() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.transitions, 1)
}

// Snapshot captures the current metric values. busDropped is supplied by the
// caller since the bus owns its own counter.
func (m *Metrics) Snapshot(busDropped uint64) Snapshot {
	if m == nil {
		return Snapshot{BusDropped: busDropped}
	}
	return Snapshot{
		StepsContinue: atomic.LoadUint64(&m.stepsContinue),
		StepsHalt:     atomic.LoadUint64(&m.stepsHalt),
		StepFaults:    atomic.LoadUint64(&m.stepFaults),
		AgentStarts:   atomic.LoadUint64(&m.agentStarts),
		AgentStops:    atomic.LoadUint64(&m.agentStops),
		Transitions:   atomic.LoadUint64(&m.transitions),
		BusDropped:    busDropped,
		StepLatency:   m.stepLatency.Snapshot(),
	}
}

// Observe records one duration sample.
func (s *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	ns := uint64(d)
	atomic.AddUint64(&s.count, 1)
	atomic.AddUint64(&s.sum, ns)
	for {
		cur := atomic.LoadUint64(&s.min)
		if cur != 0 && cur <= ns {
			break
		}
		if atomic.CompareAndSwapUint64(&s.min, cur, ns) {
			break
		}
	}
	for {
		cur := atomic.LoadUint64(&s.max)
		if cur >= ns {
			break
		}
		if atomic.CompareAndSwapUint64(&s.max, cur, ns) {
			break
		}
	}
}

// Snapshot captures the current latency values.
func (s *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&s.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&s.sum)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(atomic.LoadUint64(&s.min)),
		Max:   time.Duration(atomic.LoadUint64(&s.max)),
		Avg:   time.Duration(sum / count),
	}
}
