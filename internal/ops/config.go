package ops

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	Server    ServerConfig    `json:"server"`
	Postgres  PostgresConfig  `json:"postgres"`
	Redis     RedisConfig     `json:"redis"`
	Engine    EngineConfig    `json:"engine"`
	Exchange  ExchangeConfig  `json:"exchange"`
	Profiling ProfilingConfig `json:"profiling"`
}

// ServerConfig describes the HTTP control plane listener.
type ServerConfig struct {
	Addr        string   `json:"addr"`
	CORSOrigins []string `json:"corsOrigins"`
}

// PostgresConfig describes the persistence backend. Disabled means the
// in-memory store is used.
type PostgresConfig struct {
	Enable   bool   `json:"enable"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"sslMode"`
}

// RedisConfig describes the external relay. Disabled means bus traffic stays
// in-process.
type RedisConfig struct {
	Enable    bool   `json:"enable"`
	URL       string `json:"url"`
	OutStream string `json:"outStream"`
	InChannel string `json:"inChannel"`
}

// EngineConfig tunes the lifecycle manager and bus.
type EngineConfig struct {
	StepTimeoutSeconds  int `json:"stepTimeoutSeconds"`
	ReapIntervalSeconds int `json:"reapIntervalSeconds"`
	BusCapacity         int `json:"busCapacity"`
}

// ExchangeConfig selects the execution venue.
type ExchangeConfig struct {
	Mode    string             `json:"mode"`
	Paper   PaperConfig        `json:"paper"`
	Binance BinanceVenueConfig `json:"binance"`
}

// PaperConfig seeds the simulated venue.
type PaperConfig struct {
	Seed   int64              `json:"seed"`
	Drift  float64            `json:"drift"`
	Prices map[string]float64 `json:"prices"`
}

// BinanceVenueConfig describes the live venue endpoints. Credentials come
// from the environment, never the file.
type BinanceVenueConfig struct {
	BaseURL string `json:"baseUrl"`
	WSURL   string `json:"wsUrl"`
	// Symbols pre-subscribes market streams so strategies read cached
	// prices instead of polling REST.
	Symbols []string `json:"symbols"`
}

// ProfilingConfig captures optional continuous profiling.
type ProfilingConfig struct {
	Enable        bool   `json:"enable"`
	ServerAddress string `json:"serverAddress"`
}

const (
	ExchangeModePaper   = "paper"
	ExchangeModeBinance = "binance"
)

const (
	defaultAddr         = ":8080"
	defaultStepTimeout  = 30 * time.Second
	defaultReapInterval = 5 * time.Second
	defaultBusCapacity  = 256
	defaultOutStream    = "agent.events"
	defaultInChannel    = "analysis.signals"
)

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Addr         string
	CORSOrigins  []string
	Postgres     PostgresConfig
	Redis        RedisConfig
	StepTimeout  time.Duration
	ReapInterval time.Duration
	BusCapacity  int
	Exchange     ExchangeSpec
	Profiling    ProfilingConfig
}

// ExchangeSpec is the resolved venue selection.
type ExchangeSpec struct {
	Mode      string
	Paper     PaperConfig
	BaseURL   string
	WSURL     string
	Symbols   []string
	APIKey    string
	APISecret string
}

// Default returns the paper-trading setup used when no config file is given.
func Default() Loaded {
	return Loaded{
		Addr:         defaultAddr,
		StepTimeout:  defaultStepTimeout,
		ReapInterval: defaultReapInterval,
		BusCapacity:  defaultBusCapacity,
		Redis: RedisConfig{
			OutStream: defaultOutStream,
			InChannel: defaultInChannel,
		},
		Exchange: ExchangeSpec{Mode: ExchangeModePaper},
	}
}

// Load reads a JSON config file and resolves it against defaults and the
// environment.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, err
	}
	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, err
	}
	return resolve(cfg)
}

func resolve(cfg FileConfig) (Loaded, error) {
	out := Default()

	if cfg.Server.Addr != "" {
		out.Addr = cfg.Server.Addr
	}
	out.CORSOrigins = cfg.Server.CORSOrigins
	if cfg.Engine.StepTimeoutSeconds < 0 || cfg.Engine.ReapIntervalSeconds < 0 || cfg.Engine.BusCapacity < 0 {
		return Loaded{}, fmt.Errorf("engine values must be >= 0")
	}
	if cfg.Engine.StepTimeoutSeconds > 0 {
		out.StepTimeout = time.Duration(cfg.Engine.StepTimeoutSeconds) * time.Second
	}
	if cfg.Engine.ReapIntervalSeconds > 0 {
		out.ReapInterval = time.Duration(cfg.Engine.ReapIntervalSeconds) * time.Second
	}
	if cfg.Engine.BusCapacity > 0 {
		out.BusCapacity = cfg.Engine.BusCapacity
	}

	out.Postgres = cfg.Postgres
	if out.Postgres.Enable && out.Postgres.Database == "" {
		return Loaded{}, fmt.Errorf("postgres database is empty")
	}
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		out.Postgres.Password = pw
	}

	if cfg.Redis.URL != "" {
		out.Redis.URL = cfg.Redis.URL
	}
	out.Redis.Enable = cfg.Redis.Enable
	if cfg.Redis.OutStream != "" {
		out.Redis.OutStream = cfg.Redis.OutStream
	}
	if cfg.Redis.InChannel != "" {
		out.Redis.InChannel = cfg.Redis.InChannel
	}
	if out.Redis.Enable && out.Redis.URL == "" {
		return Loaded{}, fmt.Errorf("redis url is empty")
	}

	ex, err := resolveExchange(cfg.Exchange)
	if err != nil {
		return Loaded{}, err
	}
	out.Exchange = ex

	out.Profiling = cfg.Profiling
	if out.Profiling.Enable && out.Profiling.ServerAddress == "" {
		return Loaded{}, fmt.Errorf("profiling server address is empty")
	}
	return out, nil
}

func resolveExchange(cfg ExchangeConfig) (ExchangeSpec, error) {
	mode := cfg.Mode
	if mode == "" {
		mode = ExchangeModePaper
	}
	switch mode {
	case ExchangeModePaper:
		return ExchangeSpec{Mode: mode, Paper: cfg.Paper}, nil
	case ExchangeModeBinance:
		spec := ExchangeSpec{
			Mode:      mode,
			BaseURL:   cfg.Binance.BaseURL,
			WSURL:     cfg.Binance.WSURL,
			Symbols:   cfg.Binance.Symbols,
			APIKey:    os.Getenv("BINANCE_API_KEY"),
			APISecret: os.Getenv("BINANCE_API_SECRET"),
		}
		if spec.APIKey == "" || spec.APISecret == "" {
			return ExchangeSpec{}, fmt.Errorf("binance credentials missing from environment")
		}
		return spec, nil
	default:
		return ExchangeSpec{}, fmt.Errorf("unknown exchange mode: %s", mode)
	}
}
