package enum

import (
	"database/sql/driver"
	"fmt"
	"strconv"
)

// StrategyKind selects the strategy variant an agent executes.
type StrategyKind uint8

const (
	_strategy_kind_beg StrategyKind = iota
	StrategyKindGrid
	StrategyKindArbitrage
	_strategy_kind_end
)

func (k StrategyKind) IsAvailable() bool {
	return k > _strategy_kind_beg && k < _strategy_kind_end
}

func (k StrategyKind) String() string {
	switch k {
	case StrategyKindGrid:
		return "grid"
	case StrategyKindArbitrage:
		return "arbitrage"
	default:
		return "unknown"
	}
}

func ParseStrategyKind(s string) (StrategyKind, bool) {
	for k := _strategy_kind_beg + 1; k < _strategy_kind_end; k++ {
		if k.String() == s {
			return k, true
		}
	}
	return _strategy_kind_beg, false
}

// MarshalJSON renders the kind as its text form.
func (k StrategyKind) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(k.String())), nil
}

// UnmarshalJSON parses the text form.
func (k *StrategyKind) UnmarshalJSON(data []byte) error {
	s, err := strconv.Unquote(string(data))
	if err != nil {
		return fmt.Errorf("strategy kind must be a string: %w", err)
	}
	parsed, ok := ParseStrategyKind(s)
	if !ok {
		return fmt.Errorf("unknown strategy kind: %q", s)
	}
	*k = parsed
	return nil
}

// Value implements driver.Valuer so the kind is stored as text.
func (k StrategyKind) Value() (driver.Value, error) {
	return k.String(), nil
}

// Scan implements sql.Scanner.
func (k *StrategyKind) Scan(value any) error {
	switch v := value.(type) {
	case string:
		parsed, ok := ParseStrategyKind(v)
		if !ok {
			return fmt.Errorf("unknown strategy kind: %q", v)
		}
		*k = parsed
		return nil
	case []byte:
		return k.Scan(string(v))
	default:
		return fmt.Errorf("unsupported strategy kind type: %T", value)
	}
}
