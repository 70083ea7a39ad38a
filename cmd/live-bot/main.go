package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/minhle87/playbook-bot/internal/bridge"
	"github.com/minhle87/playbook-bot/internal/config"
	"github.com/minhle87/playbook-bot/internal/datamgr"
	"github.com/minhle87/playbook-bot/internal/engine"
	"github.com/minhle87/playbook-bot/internal/indicators"
	"github.com/minhle87/playbook-bot/internal/logger"
	"github.com/minhle87/playbook-bot/internal/monitoring"
	"github.com/minhle87/playbook-bot/internal/playbook"
	"github.com/minhle87/playbook-bot/pkg/types"
)

func main() {
	var (
		envFile     = flag.String("env", ".env", "environment file")
		playbookDir = flag.String("playbooks", "", "playbook directory (overrides PLAYBOOK_DIR)")
	)
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fatal("%v", err)
	}
	if *playbookDir != "" {
		cfg.PlaybookDir = *playbookDir
	}
	if err := cfg.ValidateLive(); err != nil {
		fatal("%v", err)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: !cfg.LogJSON})
	log.Info().Str("bridge", cfg.BridgeRequestURL).Strs("symbols", cfg.Symbols).Msg("starting live bot")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := bridge.NewClient(bridge.Config{
		RequestURL:     cfg.BridgeRequestURL,
		StreamURL:      cfg.BridgeStreamURL,
		RequestTimeout: cfg.BridgeTimeout,
	}, log)
	defer client.Close()

	health := monitoring.NewHealthChecker()
	exec := newExecutor(client, health, log)
	eng := engine.New(log, exec.onSignal, exec.onEvent, exec.onState)
	exec.engine = eng
	defer eng.Close()

	playbooks, err := loadPlaybooks(cfg.PlaybookDir)
	if err != nil {
		fatal("%v", err)
	}
	if len(playbooks) == 0 {
		fatal("no playbooks found in %s", cfg.PlaybookDir)
	}
	for _, pb := range playbooks {
		if err := eng.Load(pb); err != nil {
			fatal("load %s: %v", pb.ID, err)
		}
		exec.register(pb)
		log.Info().Str("playbook", pb.ID).Str("autonomy", string(pb.Autonomy)).
			Strs("symbols", pb.Symbols).Msg("playbook loaded")
	}

	dm := datamgr.New(datamgr.Config{
		Symbols:    cfg.Symbols,
		Timeframes: cfg.Timeframes,
		RingSize:   cfg.RingSize,
	}, client, log)
	dm.OnBarClose(func(symbol string, tf types.Timeframe, bar types.Bar) {
		eng.BarClosed(symbol, tf, provider(dm, symbol, tf, bar))
	})

	if err := client.Subscribe(ctx, cfg.Symbols); err != nil {
		fatal("subscribe: %v", err)
	}
	health.SetConnected(true)
	if err := dm.Prime(ctx); err != nil {
		fatal("prime: %v", err)
	}

	go serveMonitoring(cfg.MonitorAddr, health, log)

	stream := bridge.NewStream(cfg.BridgeStreamURL, func(tick types.Tick) {
		health.TickSeen(tick.Timestamp)
		dm.OnTick(ctx, tick)
	}, log)

	if err := stream.Run(ctx); err != nil && ctx.Err() == nil {
		fatal("stream: %v", err)
	}
	log.Info().Msg("shutting down")
}

// provider builds the evaluation input for one bar close: point-in-time
// outputs of every playbook indicator at its own timeframe.
func provider(dm *datamgr.Manager, symbol string, tf types.Timeframe, bar types.Bar) func(pb *playbook.Playbook) (engine.EvalInput, error) {
	return func(pb *playbook.Playbook) (engine.EvalInput, error) {
		ind := indicators.NewEngine()
		outputs := make(map[string]map[string]float64, len(pb.Indicators))
		for i := range pb.Indicators {
			cfg := pb.Indicators[i]
			bars := dm.Bars(symbol, cfg.Timeframe)
			if len(bars) == 0 {
				return engine.EvalInput{}, fmt.Errorf("no %s bars held for %s", cfg.Timeframe, symbol)
			}
			out, err := ind.ComputeAt(cfg, bars, len(bars)-1)
			if err != nil {
				return engine.EvalInput{}, fmt.Errorf("indicator %s: %w", cfg.ID, err)
			}
			outputs[cfg.ID] = out
		}

		price := bar.Close
		if tick, ok := dm.LastTick(symbol); ok {
			price = tick.Bid
		}
		return engine.EvalInput{
			Timeframe:  tf,
			Bar:        bar,
			Price:      price,
			Indicators: outputs,
			Time:       time.Now().UTC(),
		}, nil
	}
}

func loadPlaybooks(dir string) ([]*playbook.Playbook, error) {
	var playbooks []*playbook.Playbook
	for _, pattern := range []string{"*.yaml", "*.yml", "*.json"} {
		paths, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		for _, path := range paths {
			pb, err := playbook.Load(path)
			if err != nil {
				return nil, fmt.Errorf("load %s: %w", path, err)
			}
			playbooks = append(playbooks, pb)
		}
	}
	return playbooks, nil
}

func serveMonitoring(addr string, health *monitoring.HealthChecker, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/health", health)
	mux.Handle("/metrics", monitoring.NewMetricsHandler())
	log.Info().Str("addr", addr).Msg("monitoring endpoints up")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("monitoring server stopped")
	}
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
