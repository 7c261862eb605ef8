package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/exchange"
	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/obs"
	"main/internal/store"
	"main/internal/strategy"
)

var (
	ErrNotFound       = errors.New("agent not found")
	ErrAlreadyRunning = errors.New("agent already running")
	ErrNotRunning     = errors.New("agent not running")
	ErrStillRunning   = errors.New("agent still running")
)

const (
	defaultStepTimeout  = 30 * time.Second
	defaultReapInterval = 5 * time.Second
)

// Options tunes the lifecycle manager.
type Options struct {
	// StepTimeout bounds one strategy decision cycle. A fired timeout is an
	// unrecoverable fault for that agent.
	StepTimeout time.Duration
	// ReapInterval is how often exited execution contexts are reconciled.
	ReapInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.StepTimeout <= 0 {
		o.StepTimeout = defaultStepTimeout
	}
	if o.ReapInterval <= 0 {
		o.ReapInterval = defaultReapInterval
	}
	return o
}

// Manager owns every agent's lifecycle. All transitions flow through it;
// strategies never change their own lifecycle state except by exiting their
// loop. Per-agent locking keeps operations on different agents independent.
type Manager struct {
	store   store.Store
	bus     *bus.Bus
	ex      exchange.Exchange
	metrics *obs.Metrics
	opts    Options

	mu      sync.Mutex
	entries map[uuid.UUID]*entry

	runCtx context.Context
}

// entry serializes lifecycle operations for one agent ID. The manager map
// lock is only held long enough to fetch it.
type entry struct {
	mu     sync.Mutex
	handle *Handle
}

func NewManager(st store.Store, b *bus.Bus, ex exchange.Exchange, metrics *obs.Metrics, opts Options) *Manager {
	return &Manager{
		store:   st,
		bus:     b,
		ex:      ex,
		metrics: metrics,
		opts:    opts.withDefaults(),
		entries: make(map[uuid.UUID]*entry),
		runCtx:  context.Background(),
	}
}

// Run starts the reaper and binds all future execution contexts to ctx.
// Call it before Start; it returns once ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	m.mu.Lock()
	m.runCtx = ctx
	m.mu.Unlock()

	ticker := time.NewTicker(m.opts.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reap()
		}
	}
}

// Create validates identity-level input, persists the record as created, and
// returns the new agent. Strategy parameter validation is deferred to start;
// a structurally valid but numerically wrong config is creatable and fails
// at start with a diagnostic.
func (m *Manager) Create(ctx context.Context, name string, kind enum.StrategyKind, cfg map[string]any, groupID *uuid.UUID) (*model.Agent, error) {
	if name == "" {
		return nil, strategy.NewConfigError("agent name must not be empty")
	}
	if !kind.IsAvailable() {
		return nil, strategy.NewConfigError("unknown strategy kind: " + kind.String())
	}
	if cfg == nil {
		return nil, strategy.NewConfigError("strategy config must not be null")
	}
	if groupID != nil {
		if _, err := m.store.LoadGroup(ctx, *groupID); err != nil {
			return nil, err
		}
	}

	agent := &model.Agent{
		ID:      uuid.New(),
		Name:    name,
		Kind:    kind,
		Config:  cfg,
		GroupID: groupID,
		Status:  enum.AgentStatusCreated,
	}
	if err := m.store.SaveAgent(ctx, agent); err != nil {
		return nil, err
	}
	m.publishEvent(agent.ID, "created", "")
	logs.Infof("created agent %s (%s, %s)", agent.ID, name, kind)
	return agent, nil
}

// Update replaces name, config, or group of a non-running agent. The next
// start picks up the new config.
func (m *Manager) Update(ctx context.Context, id uuid.UUID, name string, cfg map[string]any, groupID *uuid.UUID) (*model.Agent, error) {
	e := m.entryFor(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	defer m.dropEmptyEntry(id, e)

	if h := e.handle; h != nil {
		select {
		case <-h.Done():
			m.reapLocked(id, e)
		default:
			return nil, ErrStillRunning
		}
	}

	rec, err := m.loadLive(ctx, id)
	if err != nil {
		return nil, err
	}
	if name != "" {
		rec.Name = name
	}
	if cfg != nil {
		rec.Config = cfg
	}
	if groupID != nil {
		if _, err := m.store.LoadGroup(ctx, *groupID); err != nil {
			return nil, err
		}
		rec.GroupID = groupID
	}
	if err := m.store.UpdateAgent(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Start spins up the execution context for id. It returns before the
// strategy is configured; configuration failures surface asynchronously as
// the error status.
func (m *Manager) Start(ctx context.Context, id uuid.UUID) error {
	e := m.entryFor(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	defer m.dropEmptyEntry(id, e)

	if h := e.handle; h != nil {
		select {
		case <-h.Done():
			m.reapLocked(id, e)
		default:
			return ErrAlreadyRunning
		}
	}

	rec, err := m.loadLive(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status.Live() {
		// Stale live status with no execution context behind it, typically
		// after an unclean shutdown. Correct the record and proceed.
		logs.Warnf("agent %s recorded %s with no execution context, recovering", id, rec.Status)
	} else if !rec.Status.CanTransition(enum.AgentStatusStarting) {
		return ErrNotFound
	}

	strat, err := strategy.New(rec.Kind, strategy.Env{
		AgentID:   id,
		AgentName: rec.Name,
		Exchange:  m.ex,
		Recorder:  m.store,
		Publisher: m.bus,
	})
	if err != nil {
		return err
	}

	m.setStatus(ctx, id, enum.AgentStatusStarting, "")

	sub := m.bus.Subscribe(bus.ChannelAnalysisSignals)
	h := newHandle(id, strat, sub)
	e.handle = h
	m.metrics.IncAgentStart()

	m.mu.Lock()
	runCtx := m.runCtx
	m.mu.Unlock()

	h.start(runCtx, runOptions{
		config:      rec.Config,
		stepTimeout: m.opts.StepTimeout,
		metrics:     m.metrics,
		onTransition: func(status enum.AgentStatus, message string) {
			m.setStatus(context.Background(), id, status, message)
		},
		onExit: func(h *Handle) {
			m.finalizeHandle(id, h)
		},
	})
	logs.Infof("started agent %s", id)
	return nil
}

// Stop requests cooperative shutdown. The step in flight always completes;
// the status flips to stopped once the loop exits.
func (m *Manager) Stop(ctx context.Context, id uuid.UUID) error {
	e := m.lookupEntry(id)
	if e == nil {
		return ErrNotRunning
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	defer m.dropEmptyEntry(id, e)

	h := e.handle
	if h == nil {
		return ErrNotRunning
	}
	select {
	case <-h.Done():
		m.reapLocked(id, e)
		return ErrNotRunning
	default:
	}

	h.setLive(enum.AgentStatusStopping, "")
	m.setStatus(ctx, id, enum.AgentStatusStopping, "")
	h.RequestStop()
	m.metrics.IncAgentStop()
	logs.Infof("stop requested for agent %s", id)
	return nil
}

// Delete tombstones a non-running agent. The ID is never reused; trades
// survive for audit.
func (m *Manager) Delete(ctx context.Context, id uuid.UUID) error {
	e := m.entryFor(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	defer m.dropEmptyEntry(id, e)

	if h := e.handle; h != nil {
		select {
		case <-h.Done():
			m.reapLocked(id, e)
		default:
			return ErrStillRunning
		}
	}

	if err := m.store.MarkDeleted(ctx, id); err != nil {
		if errors.Is(err, store.ErrAgentNotFound) {
			return ErrNotFound
		}
		return err
	}
	m.publishEvent(id, "deleted", "")
	m.metrics.IncTransition()
	logs.Infof("deleted agent %s", id)
	return nil
}

// Snapshot is the externally visible state of one agent.
type Snapshot struct {
	ID            uuid.UUID         `json:"id"`
	Name          string            `json:"name"`
	Kind          enum.StrategyKind `json:"strategy_type"`
	Status        enum.AgentStatus  `json:"status"`
	StatusMessage string            `json:"status_message,omitempty"`
	GroupID       *uuid.UUID        `json:"group_id,omitempty"`
	UptimeSeconds float64           `json:"uptime_seconds"`
}

// Status reports last-observed state without ever blocking on the execution
// context.
func (m *Manager) Status(ctx context.Context, id uuid.UUID) (*Snapshot, error) {
	rec, err := m.loadLive(ctx, id)
	if err != nil {
		return nil, err
	}
	snap := snapshotOf(rec)

	m.mu.Lock()
	e := m.entries[id]
	m.mu.Unlock()
	if e != nil {
		e.mu.Lock()
		if h := e.handle; h != nil {
			status, msg, startedAt := h.Snapshot()
			snap.Status = status
			snap.StatusMessage = msg
			if status == enum.AgentStatusRunning && !startedAt.IsZero() {
				snap.UptimeSeconds = time.Since(startedAt).Seconds()
			}
		}
		e.mu.Unlock()
	}
	return snap, nil
}

// List returns snapshots of every non-deleted agent, preferring live handle
// state over the persisted record.
func (m *Manager) List(ctx context.Context) ([]*Snapshot, error) {
	recs, err := m.store.ListAgents(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	handles := make(map[uuid.UUID]*entry, len(m.entries))
	for id, e := range m.entries {
		handles[id] = e
	}
	m.mu.Unlock()

	out := make([]*Snapshot, 0, len(recs))
	for _, rec := range recs {
		snap := snapshotOf(rec)
		if e := handles[rec.ID]; e != nil {
			e.mu.Lock()
			if h := e.handle; h != nil {
				status, msg, startedAt := h.Snapshot()
				snap.Status = status
				snap.StatusMessage = msg
				if status == enum.AgentStatusRunning && !startedAt.IsZero() {
					snap.UptimeSeconds = time.Since(startedAt).Seconds()
				}
			}
			e.mu.Unlock()
		}
		out = append(out, snap)
	}
	return out, nil
}

// Shutdown requests stop on every live agent and waits for all execution
// contexts to exit, bounded by ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	entries := make(map[uuid.UUID]*entry, len(m.entries))
	for id, e := range m.entries {
		entries[id] = e
	}
	m.mu.Unlock()

	live := make(map[uuid.UUID]*Handle, len(entries))
	for id, e := range entries {
		e.mu.Lock()
		if h := e.handle; h != nil {
			select {
			case <-h.Done():
			default:
				h.setLive(enum.AgentStatusStopping, "")
				h.RequestStop()
			}
			live[id] = h
		}
		e.mu.Unlock()
	}

	for id, h := range live {
		select {
		case <-h.Done():
			m.finalizeHandle(id, h)
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for id, e := range entries {
		e.mu.Lock()
		m.reapLocked(id, e)
		e.mu.Unlock()
	}
	logs.Info("all agents stopped")
	return nil
}

func (m *Manager) entryFor(id uuid.UUID) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		e = &entry{}
		m.entries[id] = e
	}
	return e
}

// lookupEntry fetches an entry without creating one, so requests for unknown
// IDs cannot grow the registry.
func (m *Manager) lookupEntry(id uuid.UUID) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[id]
}

// dropEmptyEntry removes the registry slot when no handle is attached.
// Caller holds e.mu, which keeps a concurrent operation from installing a
// handle on the entry being removed.
func (m *Manager) dropEmptyEntry(id uuid.UUID, e *entry) {
	if e.handle != nil {
		return
	}
	m.mu.Lock()
	if m.entries[id] == e {
		delete(m.entries, id)
	}
	m.mu.Unlock()
}

// loadLive resolves id to a non-deleted record.
func (m *Manager) loadLive(ctx context.Context, id uuid.UUID) (*model.Agent, error) {
	rec, err := m.store.LoadAgent(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrAgentNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if rec.Status == enum.AgentStatusDeleted {
		return nil, ErrNotFound
	}
	return rec, nil
}

// reap reconciles exited execution contexts with their records.
func (m *Manager) reap() {
	m.mu.Lock()
	entries := make(map[uuid.UUID]*entry, len(m.entries))
	for id, e := range m.entries {
		entries[id] = e
	}
	m.mu.Unlock()

	for id, e := range entries {
		e.mu.Lock()
		m.reapLocked(id, e)
		m.dropEmptyEntry(id, e)
		e.mu.Unlock()
	}
}

// reapLocked finalizes and clears an exited handle. Caller holds e.mu.
func (m *Manager) reapLocked(id uuid.UUID, e *entry) {
	h := e.handle
	if h == nil {
		return
	}
	select {
	case <-h.Done():
		m.finalizeHandle(id, h)
		e.handle = nil
	default:
	}
}

// finalizeHandle persists the terminal status of an exited handle exactly
// once, whether called from the exiting goroutine, the reaper, or an inline
// reconcile in Start/Stop/Delete.
func (m *Manager) finalizeHandle(id uuid.UUID, h *Handle) {
	if !h.finalized.CompareAndSwap(false, true) {
		return
	}
	h.sub.Cancel()
	status, msg, _ := h.Snapshot()
	m.setStatus(context.Background(), id, status, msg)
	if status == enum.AgentStatusError {
		logs.Errorf("agent %s failed: %s", id, msg)
	} else {
		logs.Infof("agent %s exited with status %s", id, status)
	}
}

func (m *Manager) setStatus(ctx context.Context, id uuid.UUID, status enum.AgentStatus, message string) {
	if err := m.store.UpdateStatus(ctx, id, status, message); err != nil {
		logs.Warnf("persist status %s for agent %s: %v", status, id, err)
	}
	m.metrics.IncTransition()
	m.publishEvent(id, status.String(), message)
}

func (m *Manager) publishEvent(id uuid.UUID, event, message string) {
	payload := map[string]any{
		"agent_id": id.String(),
		"event":    event,
		"ts":       time.Now().UTC().Format(time.RFC3339Nano),
	}
	if message != "" {
		payload["message"] = message
	}
	if err := m.bus.PublishJSON(bus.ChannelAgentEvents, payload); err != nil {
		logs.Warnf("publish lifecycle event for agent %s: %v", id, err)
	}
}

func snapshotOf(rec *model.Agent) *Snapshot {
	return &Snapshot{
		ID:            rec.ID,
		Name:          rec.Name,
		Kind:          rec.Kind,
		Status:        rec.Status,
		StatusMessage: rec.StatusMessage,
		GroupID:       rec.GroupID,
	}
}
