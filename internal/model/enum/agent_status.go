package enum

import (
	"database/sql/driver"
	"fmt"
	"strconv"
)

// AgentStatus is the lifecycle state of an agent as believed by the manager.
type AgentStatus uint8

const (
	_agent_status_beg AgentStatus = iota
	AgentStatusCreated
	AgentStatusStarting
	AgentStatusRunning
	AgentStatusStopping
	AgentStatusStopped
	AgentStatusError
	AgentStatusDeleted
	_agent_status_end
)

func (s AgentStatus) IsAvailable() bool {
	return s > _agent_status_beg && s < _agent_status_end
}

func (s AgentStatus) String() string {
	switch s {
	case AgentStatusCreated:
		return "created"
	case AgentStatusStarting:
		return "starting"
	case AgentStatusRunning:
		return "running"
	case AgentStatusStopping:
		return "stopping"
	case AgentStatusStopped:
		return "stopped"
	case AgentStatusError:
		return "error"
	case AgentStatusDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

func ParseAgentStatus(s string) (AgentStatus, bool) {
	for st := _agent_status_beg + 1; st < _agent_status_end; st++ {
		if st.String() == s {
			return st, true
		}
	}
	return _agent_status_beg, false
}

// Terminal reports whether no further transition is legal.
func (s AgentStatus) Terminal() bool {
	return s == AgentStatusDeleted
}

// Live reports whether an execution context may exist for this status.
func (s AgentStatus) Live() bool {
	switch s {
	case AgentStatusStarting, AgentStatusRunning, AgentStatusStopping:
		return true
	default:
		return false
	}
}

// CanTransition reports whether s -> to is a legal lifecycle transition.
func (s AgentStatus) CanTransition(to AgentStatus) bool {
	if !s.IsAvailable() || !to.IsAvailable() {
		return false
	}
	if to == AgentStatusDeleted {
		return s != AgentStatusDeleted
	}
	switch s {
	case AgentStatusCreated, AgentStatusStopped, AgentStatusError:
		return to == AgentStatusStarting
	case AgentStatusStarting:
		return to == AgentStatusRunning || to == AgentStatusStopping ||
			to == AgentStatusStopped || to == AgentStatusError
	case AgentStatusRunning:
		return to == AgentStatusStopping || to == AgentStatusStopped || to == AgentStatusError
	case AgentStatusStopping:
		return to == AgentStatusStopped || to == AgentStatusError
	default:
		return false
	}
}

// MarshalJSON renders the status as its text form.
func (s AgentStatus) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(s.String())), nil
}

// UnmarshalJSON parses the text form.
func (s *AgentStatus) UnmarshalJSON(data []byte) error {
	raw, err := strconv.Unquote(string(data))
	if err != nil {
		return fmt.Errorf("agent status must be a string: %w", err)
	}
	parsed, ok := ParseAgentStatus(raw)
	if !ok {
		return fmt.Errorf("unknown agent status: %q", raw)
	}
	*s = parsed
	return nil
}

// Value implements driver.Valuer so the status is stored as text.
func (s AgentStatus) Value() (driver.Value, error) {
	return s.String(), nil
}

// Scan implements sql.Scanner.
func (s *AgentStatus) Scan(value any) error {
	switch v := value.(type) {
	case string:
		parsed, ok := ParseAgentStatus(v)
		if !ok {
			return fmt.Errorf("unknown agent status: %q", v)
		}
		*s = parsed
		return nil
	case []byte:
		return s.Scan(string(v))
	default:
		return fmt.Errorf("unsupported agent status type: %T", value)
	}
}
