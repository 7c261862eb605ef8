package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"

	"main/internal/agent"
	"main/internal/bus"
	"main/internal/exchange"
	"main/internal/exchange/binance"
	"main/internal/exchange/paper"
	"main/internal/obs"
	"main/internal/ops"
	"main/internal/relay"
	"main/internal/server"
	"main/internal/store"
	"main/pkg/conn"
)

const shutdownGrace = 30 * time.Second

type emptyLogger struct{}

func (emptyLogger) Infof(string, ...any)  {}
func (emptyLogger) Debugf(string, ...any) {}
func (emptyLogger) Errorf(string, ...any) {}

func main() {
	configPath := flag.String("config", "", "Path to JSON config")
	flag.Parse()

	loaded, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if loaded.Profiling.Enable {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "agentd",
			ServerAddress:   loaded.Profiling.ServerAddress,
			Logger:          emptyLogger{},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	if err := run(ctx, loaded); err != nil {
		log.Fatalf("agentd failed: %v", err)
	}
}

func loadConfig(path string) (ops.Loaded, error) {
	if path == "" {
		return ops.Default(), nil
	}
	return ops.Load(path)
}

func run(ctx context.Context, cfg ops.Loaded) error {
	st, closeStore, err := buildStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	b := bus.New(cfg.BusCapacity)
	defer b.Close()

	ex, err := buildExchange(ctx, cfg)
	if err != nil {
		return err
	}

	metrics := obs.NewMetrics()
	mgr := agent.NewManager(st, b, ex, metrics, agent.Options{
		StepTimeout:  cfg.StepTimeout,
		ReapInterval: cfg.ReapInterval,
	})
	go mgr.Run(ctx)

	if cfg.Redis.Enable {
		rdb := relay.MustRedis(cfg.Redis.URL)
		defer rdb.Close()
		sink := relay.NewStreamSink(rdb, cfg.Redis.OutStream)
		rel := relay.New(b, sink, bus.ChannelAgentEvents, bus.ChannelGroupUpdates).
			WithInbound(rdb, cfg.Redis.InChannel)
		go rel.Run(ctx)
	}

	engine := server.New(mgr, st, b, metrics, cfg.CORSOrigins...)
	httpSrv := &http.Server{Addr: cfg.Addr, Handler: engine}

	errCh := make(chan error, 1)
	go func() {
		logs.Infof("control plane listening on %s", cfg.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logs.Info("shutting down")
	graceCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := httpSrv.Shutdown(graceCtx); err != nil {
		logs.Warnf("http shutdown: %v", err)
	}
	if err := mgr.Shutdown(graceCtx); err != nil {
		return err
	}

	snap := metrics.Snapshot(b.Dropped())
	logs.Infof("final counters: steps=%d halts=%d faults=%d transitions=%d bus_dropped=%d",
		snap.StepsContinue, snap.StepsHalt, snap.StepFaults, snap.Transitions, snap.BusDropped)
	return nil
}

func buildStore(cfg ops.Loaded) (store.Store, func(), error) {
	if !cfg.Postgres.Enable {
		return store.NewMemory(), func() {}, nil
	}

	client, err := conn.New(conn.Option{
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		Database: cfg.Postgres.Database,
		SSLMode:  cfg.Postgres.SSLMode,
	})
	if err != nil {
		return nil, nil, err
	}
	st, err := store.NewPostgres(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return st, func() { _ = client.Close() }, nil
}

func buildExchange(ctx context.Context, cfg ops.Loaded) (exchange.Exchange, error) {
	switch cfg.Exchange.Mode {
	case ops.ExchangeModeBinance:
		var ticker *binance.Ticker
		if len(cfg.Exchange.Symbols) > 0 {
			ticker = binance.NewTicker(ctx, cfg.Exchange.WSURL)
			if err := ticker.Start(ctx); err != nil {
				return nil, err
			}
			for _, symbol := range cfg.Exchange.Symbols {
				if err := ticker.Subscribe(ctx, symbol); err != nil {
					return nil, err
				}
			}
		}
		return binance.New(binance.Option{
			BaseURL:   cfg.Exchange.BaseURL,
			APIKey:    cfg.Exchange.APIKey,
			APISecret: cfg.Exchange.APISecret,
			Ticker:    ticker,
		}), nil
	default:
		return paper.New(paper.Option{
			Seed:   cfg.Exchange.Paper.Seed,
			Prices: cfg.Exchange.Paper.Prices,
			Drift:  cfg.Exchange.Paper.Drift,
		}), nil
	}
}
