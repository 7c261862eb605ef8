package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"main/internal/bus"
	"main/internal/exchange"
	"main/internal/model"
	"main/internal/model/enum"
)

// StepOutcome is the result of one decision cycle.
type StepOutcome uint8

const (
	_step_outcome_beg StepOutcome = iota
	StepContinue
	// StepHalt is a graceful, strategy-requested stop: the strategy decided
	// its objective is met.
	StepHalt
	_step_outcome_end
)

func (o StepOutcome) IsAvailable() bool {
	return o > _step_outcome_beg && o < _step_outcome_end
}

// ConfigError marks an invalid strategy configuration. Always recoverable by
// the caller correcting input; no execution context is created for it.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "invalid strategy config: " + e.Reason
}

// NewConfigError builds a ConfigError for callers outside this package that
// validate agent input before a strategy exists.
func NewConfigError(reason string) *ConfigError {
	return &ConfigError{Reason: reason}
}

func configErrorf(format string, args ...any) *ConfigError {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// IsConfigError reports whether err is a strategy configuration error.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// TradeRecorder persists executed trades.
type TradeRecorder interface {
	RecordTrade(ctx context.Context, trade *model.Trade) error
}

// Publisher publishes signals on the communication bus.
type Publisher interface {
	PublishJSON(channel string, v any) error
}

// Env carries the shared collaborators a strategy runs against.
type Env struct {
	AgentID   uuid.UUID
	AgentName string
	Exchange  exchange.Exchange
	Recorder  TradeRecorder
	Publisher Publisher
}

// Strategy is the pluggable decision logic a running agent executes each
// cycle. Configure is called exactly once before the loop starts; Step is one
// atomic decision cycle; OnMessage is observational only and must return
// quickly; it never mutates live trading parameters.
type Strategy interface {
	Configure(cfg map[string]any) error
	Step(ctx context.Context) (StepOutcome, error)
	OnMessage(msg bus.Message)
	Interval() time.Duration
}

// New constructs the strategy variant for kind. Adding a kind means adding a
// case here; the lifecycle manager stays strategy-agnostic.
func New(kind enum.StrategyKind, env Env) (Strategy, error) {
	switch kind {
	case enum.StrategyKindGrid:
		return NewGrid(env), nil
	case enum.StrategyKindArbitrage:
		return NewArbitrage(env), nil
	default:
		return nil, configErrorf("unknown strategy kind: %q", kind)
	}
}

func requireString(cfg map[string]any, key string) (string, error) {
	v, ok := cfg[key]
	if !ok {
		return "", configErrorf("missing required config key: %s", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", configErrorf("config key %s must be a non-empty string", key)
	}
	return s, nil
}

func requireFloat(cfg map[string]any, key string) (float64, error) {
	v, ok := cfg[key]
	if !ok {
		return 0, configErrorf("missing required config key: %s", key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, configErrorf("config key %s must be numeric, got %T", key, v)
	}
}

func optionalFloat(cfg map[string]any, key string, fallback float64) (float64, error) {
	if _, ok := cfg[key]; !ok {
		return fallback, nil
	}
	return requireFloat(cfg, key)
}

func intervalFromConfig(cfg map[string]any) (time.Duration, error) {
	seconds, err := optionalFloat(cfg, "loop_interval_seconds", 10)
	if err != nil {
		return 0, err
	}
	if seconds <= 0 {
		return 0, configErrorf("loop_interval_seconds must be positive")
	}
	return time.Duration(seconds * float64(time.Second)), nil
}
