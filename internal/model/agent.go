package model

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"main/internal/model/enum"
)

// JSONMap stores an opaque strategy configuration payload as a JSON column.
type JSONMap map[string]any

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	raw, err := sonic.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(value any) error {
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	case nil:
		*m = nil
		return nil
	default:
		return fmt.Errorf("unsupported json column type: %T", value)
	}
	if len(raw) == 0 {
		*m = nil
		return nil
	}
	return sonic.Unmarshal(raw, m)
}

// Agent is one configured, lifecycle-managed trading strategy instance.
type Agent struct {
	ID            uuid.UUID         `gorm:"type:uuid;primaryKey"        json:"id"`
	Name          string            `gorm:"index;not null"              json:"name"`
	Kind          enum.StrategyKind `gorm:"type:text;not null"          json:"strategy_type"`
	Config        JSONMap           `gorm:"type:jsonb"                  json:"config"`
	GroupID       *uuid.UUID        `gorm:"type:uuid;index"             json:"group_id,omitempty"`
	Status        enum.AgentStatus  `gorm:"type:text;not null;index"    json:"status"`
	StatusMessage string            `gorm:"type:text"                   json:"status_message,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// AgentGroup is a pure organizational grouping of agents. No lifecycle coupling.
type AgentGroup struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name        string    `gorm:"uniqueIndex;not null" json:"name"`
	Description string    `gorm:"type:text"            json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Trade is an executed order recorded by a strategy.
type Trade struct {
	ID            uint      `gorm:"primaryKey"           json:"id"`
	AgentID       uuid.UUID `gorm:"type:uuid;index"      json:"agent_id"`
	Symbol        string    `gorm:"index"                json:"symbol"`
	OrderID       string    `gorm:"index"                json:"order_id"`
	ClientOrderID string    `json:"client_order_id,omitempty"`
	Side          string    `json:"side"`
	Price         float64   `json:"price"`
	Quantity      float64   `json:"quantity"`
	QuoteQuantity float64   `json:"quote_quantity"`
	Commission    float64   `json:"commission,omitempty"`
	PnLUSD        *float64  `json:"pnl_usd,omitempty"`
	CreatedAt     time.Time `gorm:"index"                json:"created_at"`
}
