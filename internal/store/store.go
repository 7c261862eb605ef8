package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"main/internal/model"
	"main/internal/model/enum"
)

var (
	ErrAgentNotFound = errors.New("agent not found")
	ErrGroupNotFound = errors.New("group not found")
)

// Store is the persistence boundary for agent records, groups, and trades.
// Implementations must be safe for concurrent use; every running agent and
// the lifecycle manager call into the same instance.
type Store interface {
	SaveAgent(ctx context.Context, agent *model.Agent) error
	LoadAgent(ctx context.Context, id uuid.UUID) (*model.Agent, error)
	ListAgents(ctx context.Context) ([]*model.Agent, error)
	ListAgentsByGroup(ctx context.Context, groupID uuid.UUID) ([]*model.Agent, error)
	UpdateAgent(ctx context.Context, agent *model.Agent) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status enum.AgentStatus, message string) error
	MarkDeleted(ctx context.Context, id uuid.UUID) error

	SaveGroup(ctx context.Context, group *model.AgentGroup) error
	LoadGroup(ctx context.Context, id uuid.UUID) (*model.AgentGroup, error)
	ListGroups(ctx context.Context) ([]*model.AgentGroup, error)
	DeleteGroup(ctx context.Context, id uuid.UUID) error

	RecordTrade(ctx context.Context, trade *model.Trade) error
	ListTrades(ctx context.Context, agentID uuid.UUID, limit int) ([]*model.Trade, error)
}
