package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"main/internal/model"
	"main/internal/model/enum"
)

// Memory is an in-process Store for tests and the paper-trading setup where
// no database is configured. Deleted agents stay in the map as tombstones so
// their identifiers are never reused.
type Memory struct {
	mu     sync.RWMutex
	agents map[uuid.UUID]*model.Agent
	groups map[uuid.UUID]*model.AgentGroup
	trades []*model.Trade

	nextTradeID uint
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		agents: make(map[uuid.UUID]*model.Agent),
		groups: make(map[uuid.UUID]*model.AgentGroup),
	}
}

func (s *Memory) SaveAgent(_ context.Context, agent *model.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	cp := *agent
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	s.agents[cp.ID] = &cp
	return nil
}

func (s *Memory) LoadAgent(_ context.Context, id uuid.UUID) (*model.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agent, ok := s.agents[id]
	if !ok {
		return nil, ErrAgentNotFound
	}
	cp := *agent
	return &cp, nil
}

func (s *Memory) ListAgents(_ context.Context) ([]*model.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.Agent, 0, len(s.agents))
	for _, agent := range s.agents {
		if agent.Status == enum.AgentStatusDeleted {
			continue
		}
		cp := *agent
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Memory) ListAgentsByGroup(_ context.Context, groupID uuid.UUID) ([]*model.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.Agent, 0, 4)
	for _, agent := range s.agents {
		if agent.Status == enum.AgentStatusDeleted {
			continue
		}
		if agent.GroupID == nil || *agent.GroupID != groupID {
			continue
		}
		cp := *agent
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Memory) UpdateAgent(_ context.Context, agent *model.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.agents[agent.ID]
	if !ok || prev.Status == enum.AgentStatusDeleted {
		return ErrAgentNotFound
	}
	cp := *agent
	cp.CreatedAt = prev.CreatedAt
	cp.UpdatedAt = time.Now().UTC()
	s.agents[cp.ID] = &cp
	return nil
}

func (s *Memory) UpdateStatus(_ context.Context, id uuid.UUID, status enum.AgentStatus, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	agent, ok := s.agents[id]
	if !ok {
		return ErrAgentNotFound
	}
	agent.Status = status
	agent.StatusMessage = message
	agent.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Memory) MarkDeleted(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	agent, ok := s.agents[id]
	if !ok || agent.Status == enum.AgentStatusDeleted {
		return ErrAgentNotFound
	}
	agent.Status = enum.AgentStatusDeleted
	agent.StatusMessage = ""
	agent.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Memory) SaveGroup(_ context.Context, group *model.AgentGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *group
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.groups[cp.ID] = &cp
	return nil
}

func (s *Memory) LoadGroup(_ context.Context, id uuid.UUID) (*model.AgentGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	group, ok := s.groups[id]
	if !ok {
		return nil, ErrGroupNotFound
	}
	cp := *group
	return &cp, nil
}

func (s *Memory) ListGroups(_ context.Context) ([]*model.AgentGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.AgentGroup, 0, len(s.groups))
	for _, group := range s.groups {
		cp := *group
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// DeleteGroup removes the group and detaches its member agents. Members keep
// running; only the grouping is lost.
func (s *Memory) DeleteGroup(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[id]; !ok {
		return ErrGroupNotFound
	}
	delete(s.groups, id)
	for _, agent := range s.agents {
		if agent.GroupID != nil && *agent.GroupID == id {
			agent.GroupID = nil
			agent.UpdatedAt = time.Now().UTC()
		}
	}
	return nil
}

func (s *Memory) RecordTrade(_ context.Context, trade *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextTradeID++
	cp := *trade
	cp.ID = s.nextTradeID
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.trades = append(s.trades, &cp)
	return nil
}

func (s *Memory) ListTrades(_ context.Context, agentID uuid.UUID, limit int) ([]*model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.Trade, 0, limit)
	for i := len(s.trades) - 1; i >= 0; i-- {
		trade := s.trades[i]
		if trade.AgentID != agentID {
			continue
		}
		cp := *trade
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
