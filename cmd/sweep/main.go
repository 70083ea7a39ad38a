package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/minhle87/playbook-bot/internal/backtest"
	"github.com/minhle87/playbook-bot/internal/barcache"
	"github.com/minhle87/playbook-bot/internal/logger"
	"github.com/minhle87/playbook-bot/internal/playbook"
	"github.com/minhle87/playbook-bot/pkg/reporting"
	"github.com/minhle87/playbook-bot/pkg/types"
)

// axisFlags parses repeatable -axis "indicator.param=v1,v2,v3" values.
type axisFlags []backtest.Axis

func (a *axisFlags) String() string { return fmt.Sprintf("%v", []backtest.Axis(*a)) }

func (a *axisFlags) Set(value string) error {
	key, list, ok := strings.Cut(value, "=")
	if !ok {
		return fmt.Errorf("expected indicator.param=v1,v2,..., got %q", value)
	}
	id, param, ok := strings.Cut(key, ".")
	if !ok {
		return fmt.Errorf("expected indicator.param on the left of =, got %q", key)
	}
	var values []float64
	for _, raw := range strings.Split(list, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return fmt.Errorf("axis %s: %w", key, err)
		}
		values = append(values, v)
	}
	if len(values) == 0 {
		return fmt.Errorf("axis %s has no values", key)
	}
	*a = append(*a, backtest.Axis{IndicatorID: id, Param: param, Values: values})
	return nil
}

func main() {
	var (
		playbookPath = flag.String("playbook", "", "playbook file (YAML or JSON)")
		symbol       = flag.String("symbol", "", "symbol override")
		primaryTF    = flag.String("tf", "M15", "primary replay timeframe")
		cachePath    = flag.String("cache", "", "bar cache database")
		balance      = flag.Float64("balance", 10000, "starting balance")
		spread       = flag.Float64("spread", 0, "spread in pips")
		slippage     = flag.Float64("slippage", 0, "slippage in pips")
		commission   = flag.Float64("commission", 0, "commission per lot per side")
		workers      = flag.Int("workers", runtime.NumCPU(), "parallel backtest workers")
		top          = flag.Int("top", 20, "rows in the ranking table")
		jsonPath     = flag.String("json", "", "write best run's result JSON to this path")
		logLevel     = flag.String("log-level", "warn", "log level")
	)
	var axes axisFlags
	flag.Var(&axes, "axis", `parameter axis, repeatable: -axis "rsi.period=7,14,21"`)
	flag.Parse()

	log := logger.New(logger.Config{Level: *logLevel, Pretty: true})

	if *playbookPath == "" {
		fatal("missing -playbook")
	}
	if *cachePath == "" {
		fatal("missing -cache")
	}
	pb, err := playbook.Load(*playbookPath)
	if err != nil {
		fatal("load playbook: %v", err)
	}
	sym := *symbol
	if sym == "" {
		if len(pb.Symbols) == 0 {
			fatal("playbook declares no symbols and -symbol not given")
		}
		sym = pb.Symbols[0]
	}
	tf, err := types.ParseTimeframe(*primaryTF)
	if err != nil {
		fatal("%v", err)
	}

	bars, err := loadBars(pb, sym, tf, *cachePath)
	if err != nil {
		fatal("load bars: %v", err)
	}

	cfg := backtest.Config{
		Symbol:           sym,
		Timeframe:        tf,
		SpreadPips:       *spread,
		SlippagePips:     *slippage,
		CommissionPerLot: *commission,
		StartingBalance:  *balance,
	}
	sweep := backtest.NewSweep(pb, cfg, bars, axes, log)

	// Ctrl-C cancels between run submissions; completed runs are kept.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		sweep.Cancel()
	}()

	started := time.Now()
	runs, err := sweep.Run(*workers)
	if err != nil {
		fatal("sweep: %v", err)
	}
	fmt.Printf("completed %d runs in %s\n", len(runs), time.Since(started).Round(time.Millisecond))

	reporting.WriteSweepRanking(os.Stdout, runs, *top)

	if *jsonPath != "" && len(runs) > 0 && runs[0].Result != nil {
		if err := reporting.WriteJSON(runs[0].Result, *jsonPath); err != nil {
			fatal("%v", err)
		}
		fmt.Println("wrote", *jsonPath)
	}
}

func loadBars(pb *playbook.Playbook, symbol string, primary types.Timeframe, cachePath string) (map[types.Timeframe][]types.Bar, error) {
	store, err := barcache.Open(cachePath)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	needed := map[types.Timeframe]bool{primary: true}
	for _, tf := range pb.Timeframes() {
		needed[tf] = true
	}
	out := make(map[types.Timeframe][]types.Bar, len(needed))
	for tf := range needed {
		bars, err := store.SelectLastN(context.Background(), symbol, tf, 100000)
		if err != nil {
			return nil, err
		}
		out[tf] = bars
	}
	return out, nil
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
