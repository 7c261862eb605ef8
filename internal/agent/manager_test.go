package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/bus"
	"main/internal/exchange/paper"
	"main/internal/model/enum"
	"main/internal/obs"
	"main/internal/store"
	"main/internal/strategy"
)

func validGridConfig() map[string]any {
	return map[string]any{
		"symbol":                "BTCUSDT",
		"lower_price":           90.0,
		"upper_price":           110.0,
		"grid_levels":           5.0,
		"order_amount_usd":      100.0,
		"loop_interval_seconds": 0.01,
	}
}

func newTestManager(t *testing.T) (*Manager, store.Store) {
	t.Helper()
	st := store.NewMemory()
	b := bus.New(64)
	t.Cleanup(b.Close)

	ex := paper.New(paper.Option{
		Seed:   7,
		Prices: map[string]float64{"BTCUSDT": 100},
	})
	mgr := NewManager(st, b, ex, obs.NewMetrics(), Options{
		StepTimeout:  5 * time.Second,
		ReapInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go mgr.Run(ctx)
	return mgr, st
}

func mustCreate(t *testing.T, mgr *Manager, cfg map[string]any) uuid.UUID {
	t.Helper()
	rec, err := mgr.Create(context.Background(), "test-agent", enum.StrategyKindGrid, cfg, nil)
	require.NoError(t, err)
	require.Equal(t, enum.AgentStatusCreated, rec.Status)
	return rec.ID
}

func waitStatus(t *testing.T, mgr *Manager, id uuid.UUID, want enum.AgentStatus) *Snapshot {
	t.Helper()
	var snap *Snapshot
	require.Eventually(t, func() bool {
		s, err := mgr.Status(context.Background(), id)
		if err != nil {
			return false
		}
		snap = s
		return s.Status == want
	}, 5*time.Second, 10*time.Millisecond, "agent never reached %s", want)
	return snap
}

func TestCreateValidation(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.Create(ctx, "", enum.StrategyKindGrid, validGridConfig(), nil)
	assert.True(t, strategy.IsConfigError(err), "empty name: %v", err)

	_, err = mgr.Create(ctx, "x", enum.StrategyKind(99), validGridConfig(), nil)
	assert.True(t, strategy.IsConfigError(err), "bad kind: %v", err)

	_, err = mgr.Create(ctx, "x", enum.StrategyKindGrid, nil, nil)
	assert.True(t, strategy.IsConfigError(err), "nil config: %v", err)

	ghost := uuid.New()
	_, err = mgr.Create(ctx, "x", enum.StrategyKindGrid, validGridConfig(), &ghost)
	assert.ErrorIs(t, err, store.ErrGroupNotFound)
}

func TestCreateAcceptsNumericallyInvalidConfig(t *testing.T) {
	mgr, _ := newTestManager(t)

	cfg := validGridConfig()
	cfg["lower_price"] = 110.0
	cfg["upper_price"] = 90.0

	// Range validation is deferred to start.
	id := mustCreate(t, mgr, cfg)
	require.NoError(t, mgr.Start(context.Background(), id))

	snap := waitStatus(t, mgr, id, enum.AgentStatusError)
	assert.Contains(t, snap.StatusMessage, "must be less than")

	// A failed agent is restartable after the config is corrected.
	_, err := mgr.Update(context.Background(), id, "", validGridConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, mgr.Start(context.Background(), id))
	waitStatus(t, mgr, id, enum.AgentStatusRunning)
	require.NoError(t, mgr.Stop(context.Background(), id))
	waitStatus(t, mgr, id, enum.AgentStatusStopped)
}

func TestStartStopLifecycle(t *testing.T) {
	mgr, st := newTestManager(t)
	ctx := context.Background()

	id := mustCreate(t, mgr, validGridConfig())
	require.NoError(t, mgr.Start(ctx, id))

	snap := waitStatus(t, mgr, id, enum.AgentStatusRunning)
	assert.Equal(t, "test-agent", snap.Name)

	assert.ErrorIs(t, mgr.Start(ctx, id), ErrAlreadyRunning)

	require.NoError(t, mgr.Stop(ctx, id))
	waitStatus(t, mgr, id, enum.AgentStatusStopped)

	// The persisted record converges with the observed status.
	require.Eventually(t, func() bool {
		rec, err := st.LoadAgent(ctx, id)
		return err == nil && rec.Status == enum.AgentStatusStopped
	}, 5*time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, mgr.Stop(ctx, id), ErrNotRunning)
}

// liveHandles counts entries whose execution context has not exited.
func liveHandles(m *Manager) int {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	n := 0
	for _, e := range entries {
		e.mu.Lock()
		if h := e.handle; h != nil {
			select {
			case <-h.Done():
			default:
				n++
			}
		}
		e.mu.Unlock()
	}
	return n
}

func TestConcurrentStartExactlyOneWins(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	id := mustCreate(t, mgr, validGridConfig())

	const racers = 8
	results := make(chan error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- mgr.Start(ctx, id)
		}()
	}
	wg.Wait()
	close(results)

	started, rejected := 0, 0
	for err := range results {
		switch {
		case err == nil:
			started++
		case errors.Is(err, ErrAlreadyRunning):
			rejected++
		default:
			t.Fatalf("unexpected start error: %v", err)
		}
	}
	assert.Equal(t, 1, started)
	assert.Equal(t, racers-1, rejected)

	waitStatus(t, mgr, id, enum.AgentStatusRunning)
	assert.Equal(t, 1, liveHandles(mgr))
	require.NoError(t, mgr.Stop(ctx, id))
	waitStatus(t, mgr, id, enum.AgentStatusStopped)
}

func TestStopThenImmediateStart(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	id := mustCreate(t, mgr, validGridConfig())
	require.NoError(t, mgr.Start(ctx, id))
	waitStatus(t, mgr, id, enum.AgentStatusRunning)

	// Start right after Stop is rejected until the prior context has fully
	// exited; once it is accepted there is exactly one live context.
	require.NoError(t, mgr.Stop(ctx, id))
	require.Eventually(t, func() bool {
		err := mgr.Start(ctx, id)
		if errors.Is(err, ErrAlreadyRunning) {
			return false
		}
		require.NoError(t, err)
		return true
	}, 5*time.Second, time.Millisecond)

	assert.LessOrEqual(t, liveHandles(mgr), 1)
	waitStatus(t, mgr, id, enum.AgentStatusRunning)
	assert.Equal(t, 1, liveHandles(mgr))

	require.NoError(t, mgr.Stop(ctx, id))
	waitStatus(t, mgr, id, enum.AgentStatusStopped)
}

func registrySize(m *Manager) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func TestUnknownIDLeavesNoRegistryEntry(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		ghost := uuid.New()
		require.ErrorIs(t, mgr.Start(ctx, ghost), ErrNotFound)
		require.ErrorIs(t, mgr.Stop(ctx, ghost), ErrNotRunning)
		require.ErrorIs(t, mgr.Delete(ctx, ghost), ErrNotFound)
		_, err := mgr.Update(ctx, ghost, "ghost", nil, nil)
		require.ErrorIs(t, err, ErrNotFound)
	}
	assert.Equal(t, 0, registrySize(mgr))
}

func TestRegistryShrinksAfterStop(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	id := mustCreate(t, mgr, validGridConfig())
	require.NoError(t, mgr.Start(ctx, id))
	waitStatus(t, mgr, id, enum.AgentStatusRunning)
	assert.Equal(t, 1, registrySize(mgr))

	require.NoError(t, mgr.Stop(ctx, id))
	waitStatus(t, mgr, id, enum.AgentStatusStopped)
	require.Eventually(t, func() bool {
		return registrySize(mgr) == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRestartAfterStop(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	id := mustCreate(t, mgr, validGridConfig())
	require.NoError(t, mgr.Start(ctx, id))
	waitStatus(t, mgr, id, enum.AgentStatusRunning)
	require.NoError(t, mgr.Stop(ctx, id))
	waitStatus(t, mgr, id, enum.AgentStatusStopped)

	require.NoError(t, mgr.Start(ctx, id))
	waitStatus(t, mgr, id, enum.AgentStatusRunning)
	require.NoError(t, mgr.Stop(ctx, id))
}

func TestDeleteRules(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	id := mustCreate(t, mgr, validGridConfig())
	require.NoError(t, mgr.Start(ctx, id))
	waitStatus(t, mgr, id, enum.AgentStatusRunning)

	assert.ErrorIs(t, mgr.Delete(ctx, id), ErrStillRunning)

	require.NoError(t, mgr.Stop(ctx, id))
	waitStatus(t, mgr, id, enum.AgentStatusStopped)
	require.NoError(t, mgr.Delete(ctx, id))

	// Deleted is terminal: the ID no longer resolves anywhere.
	_, err := mgr.Status(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, mgr.Start(ctx, id), ErrNotFound)
	assert.ErrorIs(t, mgr.Delete(ctx, id), ErrNotFound)

	snaps, err := mgr.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestUpdateRejectedWhileRunning(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	id := mustCreate(t, mgr, validGridConfig())
	require.NoError(t, mgr.Start(ctx, id))
	waitStatus(t, mgr, id, enum.AgentStatusRunning)

	_, err := mgr.Update(ctx, id, "renamed", nil, nil)
	assert.ErrorIs(t, err, ErrStillRunning)

	require.NoError(t, mgr.Stop(ctx, id))
	waitStatus(t, mgr, id, enum.AgentStatusStopped)

	rec, err := mgr.Update(ctx, id, "renamed", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "renamed", rec.Name)
}

func TestListOverlaysLiveStatus(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	running := mustCreate(t, mgr, validGridConfig())
	idle, err := mgr.Create(ctx, "idle-agent", enum.StrategyKindGrid, validGridConfig(), nil)
	require.NoError(t, err)

	require.NoError(t, mgr.Start(ctx, running))
	waitStatus(t, mgr, running, enum.AgentStatusRunning)

	snaps, err := mgr.List(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 2)

	byID := make(map[uuid.UUID]*Snapshot, len(snaps))
	for _, s := range snaps {
		byID[s.ID] = s
	}
	assert.Equal(t, enum.AgentStatusRunning, byID[running].Status)
	assert.Greater(t, byID[running].UptimeSeconds, 0.0)
	assert.Equal(t, enum.AgentStatusCreated, byID[idle.ID].Status)

	require.NoError(t, mgr.Stop(ctx, running))
}

func TestLifecycleEventsPublished(t *testing.T) {
	st := store.NewMemory()
	b := bus.New(64)
	defer b.Close()
	sub := b.Subscribe(bus.ChannelAgentEvents)

	ex := paper.New(paper.Option{Prices: map[string]float64{"BTCUSDT": 100}})
	mgr := NewManager(st, b, ex, obs.NewMetrics(), Options{ReapInterval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgr.Run(ctx)

	id := mustCreate(t, mgr, validGridConfig())
	require.NoError(t, mgr.Start(context.Background(), id))
	waitStatus(t, mgr, id, enum.AgentStatusRunning)
	require.NoError(t, mgr.Stop(context.Background(), id))
	waitStatus(t, mgr, id, enum.AgentStatusStopped)

	seen := make(map[string]bool)
	deadline := time.After(2 * time.Second)
	for !(seen["created"] && seen["starting"] && seen["running"] && seen["stopped"]) {
		select {
		case msg := <-sub.C():
			var event struct {
				Event string `json:"event"`
			}
			require.NoError(t, unmarshalEvent(msg.Payload, &event))
			seen[event.Event] = true
		case <-deadline:
			t.Fatalf("missing lifecycle events, saw %v", seen)
		}
	}
}

func TestShutdownStopsAllAgents(t *testing.T) {
	mgr, st := newTestManager(t)
	ctx := context.Background()

	ids := make([]uuid.UUID, 0, 3)
	for i := 0; i < 3; i++ {
		rec, err := mgr.Create(ctx, "fleet-agent", enum.StrategyKindGrid, validGridConfig(), nil)
		require.NoError(t, err)
		require.NoError(t, mgr.Start(ctx, rec.ID))
		ids = append(ids, rec.ID)
	}
	for _, id := range ids {
		waitStatus(t, mgr, id, enum.AgentStatusRunning)
	}

	graceCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, mgr.Shutdown(graceCtx))

	for _, id := range ids {
		rec, err := st.LoadAgent(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, enum.AgentStatusStopped, rec.Status)
	}
}

func unmarshalEvent(payload []byte, v any) error {
	return sonic.Unmarshal(payload, v)
}
