package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/yanun0323/errors"
	"gorm.io/gorm"

	"main/internal/model"
	"main/internal/model/enum"
	"main/pkg/conn"
)

// Postgres persists agents, groups, and trades through gorm. Tombstoned
// agents keep their row so identifiers are never reused.
type Postgres struct {
	client *conn.Client
}

var _ Store = (*Postgres)(nil)

// NewPostgres migrates the schema and returns a ready store.
func NewPostgres(client *conn.Client) (*Postgres, error) {
	if err := client.DB().AutoMigrate(
		&model.Agent{},
		&model.AgentGroup{},
		&model.Trade{},
	); err != nil {
		return nil, errors.Wrap(err, "migrate agent schema")
	}
	return &Postgres{client: client}, nil
}

func (s *Postgres) db(ctx context.Context) *gorm.DB {
	return s.client.DB().WithContext(ctx)
}

func (s *Postgres) SaveAgent(ctx context.Context, agent *model.Agent) error {
	if err := s.db(ctx).Save(agent).Error; err != nil {
		return errors.Wrap(err, "save agent").With("id", agent.ID)
	}
	return nil
}

func (s *Postgres) LoadAgent(ctx context.Context, id uuid.UUID) (*model.Agent, error) {
	var agent model.Agent
	err := s.db(ctx).First(&agent, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "load agent").With("id", id)
	}
	return &agent, nil
}

func (s *Postgres) ListAgents(ctx context.Context) ([]*model.Agent, error) {
	var agents []*model.Agent
	err := s.db(ctx).
		Where("status <> ?", enum.AgentStatusDeleted).
		Order("created_at").
		Find(&agents).Error
	if err != nil {
		return nil, errors.Wrap(err, "list agents")
	}
	return agents, nil
}

func (s *Postgres) ListAgentsByGroup(ctx context.Context, groupID uuid.UUID) ([]*model.Agent, error) {
	var agents []*model.Agent
	err := s.db(ctx).
		Where("group_id = ? AND status <> ?", groupID, enum.AgentStatusDeleted).
		Order("created_at").
		Find(&agents).Error
	if err != nil {
		return nil, errors.Wrap(err, "list agents by group").With("group_id", groupID)
	}
	return agents, nil
}

func (s *Postgres) UpdateAgent(ctx context.Context, agent *model.Agent) error {
	result := s.db(ctx).
		Model(&model.Agent{}).
		Where("id = ? AND status <> ?", agent.ID, enum.AgentStatusDeleted).
		Updates(map[string]any{
			"name":     agent.Name,
			"config":   agent.Config,
			"group_id": agent.GroupID,
		})
	if result.Error != nil {
		return errors.Wrap(result.Error, "update agent").With("id", agent.ID)
	}
	if result.RowsAffected == 0 {
		return ErrAgentNotFound
	}
	return nil
}

func (s *Postgres) UpdateStatus(ctx context.Context, id uuid.UUID, status enum.AgentStatus, message string) error {
	result := s.db(ctx).
		Model(&model.Agent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":         status,
			"status_message": message,
		})
	if result.Error != nil {
		return errors.Wrap(result.Error, "update agent status").With("id", id)
	}
	if result.RowsAffected == 0 {
		return ErrAgentNotFound
	}
	return nil
}

func (s *Postgres) MarkDeleted(ctx context.Context, id uuid.UUID) error {
	result := s.db(ctx).
		Model(&model.Agent{}).
		Where("id = ? AND status <> ?", id, enum.AgentStatusDeleted).
		Updates(map[string]any{
			"status":         enum.AgentStatusDeleted,
			"status_message": "",
		})
	if result.Error != nil {
		return errors.Wrap(result.Error, "mark agent deleted").With("id", id)
	}
	if result.RowsAffected == 0 {
		return ErrAgentNotFound
	}
	return nil
}

func (s *Postgres) SaveGroup(ctx context.Context, group *model.AgentGroup) error {
	if err := s.db(ctx).Save(group).Error; err != nil {
		return errors.Wrap(err, "save group").With("id", group.ID)
	}
	return nil
}

func (s *Postgres) LoadGroup(ctx context.Context, id uuid.UUID) (*model.AgentGroup, error) {
	var group model.AgentGroup
	err := s.db(ctx).First(&group, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrGroupNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "load group").With("id", id)
	}
	return &group, nil
}

func (s *Postgres) ListGroups(ctx context.Context) ([]*model.AgentGroup, error) {
	var groups []*model.AgentGroup
	if err := s.db(ctx).Order("created_at").Find(&groups).Error; err != nil {
		return nil, errors.Wrap(err, "list groups")
	}
	return groups, nil
}

// DeleteGroup removes the group and detaches its member agents inside one
// transaction so a crash cannot leave dangling group references.
func (s *Postgres) DeleteGroup(ctx context.Context, id uuid.UUID) error {
	return s.db(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&model.Agent{}).
			Where("group_id = ?", id).
			Update("group_id", nil).Error
		if err != nil {
			return errors.Wrap(err, "detach group agents").With("group_id", id)
		}
		result := tx.Delete(&model.AgentGroup{}, "id = ?", id)
		if result.Error != nil {
			return errors.Wrap(result.Error, "delete group").With("id", id)
		}
		if result.RowsAffected == 0 {
			return ErrGroupNotFound
		}
		return nil
	})
}

func (s *Postgres) RecordTrade(ctx context.Context, trade *model.Trade) error {
	if err := s.db(ctx).Create(trade).Error; err != nil {
		return errors.Wrap(err, "record trade").With("agent_id", trade.AgentID)
	}
	return nil
}

func (s *Postgres) ListTrades(ctx context.Context, agentID uuid.UUID, limit int) ([]*model.Trade, error) {
	query := s.db(ctx).
		Where("agent_id = ?", agentID).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var trades []*model.Trade
	if err := query.Find(&trades).Error; err != nil {
		return nil, errors.Wrap(err, "list trades").With("agent_id", agentID)
	}
	return trades, nil
}
