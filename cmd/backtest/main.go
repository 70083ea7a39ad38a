package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/minhle87/playbook-bot/internal/backtest"
	"github.com/minhle87/playbook-bot/internal/barcache"
	"github.com/minhle87/playbook-bot/internal/logger"
	"github.com/minhle87/playbook-bot/internal/marketdata"
	"github.com/minhle87/playbook-bot/internal/playbook"
	"github.com/minhle87/playbook-bot/pkg/reporting"
	"github.com/minhle87/playbook-bot/pkg/types"
)

// csvFlags collects repeatable -csv TF=path mappings.
type csvFlags map[types.Timeframe]string

func (c csvFlags) String() string { return fmt.Sprintf("%v", map[types.Timeframe]string(c)) }

func (c csvFlags) Set(value string) error {
	tfName, path, ok := strings.Cut(value, "=")
	if !ok {
		return fmt.Errorf("expected TF=path, got %q", value)
	}
	tf, err := types.ParseTimeframe(tfName)
	if err != nil {
		return err
	}
	c[tf] = path
	return nil
}

func main() {
	var (
		playbookPath = flag.String("playbook", "", "playbook file (YAML or JSON)")
		symbol       = flag.String("symbol", "", "symbol override (default: first playbook symbol)")
		primaryTF    = flag.String("tf", "M15", "primary replay timeframe")
		cachePath    = flag.String("cache", "", "bar cache database")
		fromStr      = flag.String("from", "", "start date (YYYY-MM-DD)")
		toStr        = flag.String("to", "", "end date (YYYY-MM-DD)")
		balance      = flag.Float64("balance", 10000, "starting balance")
		spread       = flag.Float64("spread", 0, "spread in pips")
		slippage     = flag.Float64("slippage", 0, "slippage in pips")
		commission   = flag.Float64("commission", 0, "commission per lot per side")
		jsonPath     = flag.String("json", "", "write full result JSON to this path")
		xlsxPath     = flag.String("xlsx", "", "write Excel report to this path")
		showTrades   = flag.Bool("trades", false, "print the trade list")
		logLevel     = flag.String("log-level", "warn", "log level")
	)
	csv := csvFlags{}
	flag.Var(csv, "csv", "bar CSV per timeframe, repeatable: -csv M15=a.csv -csv H4=b.csv")
	flag.Parse()

	log := logger.New(logger.Config{Level: *logLevel, Pretty: true})

	if *playbookPath == "" {
		fatal("missing -playbook")
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

	cfg := backtest.Config{
		Symbol:           sym,
		Timeframe:        tf,
		SpreadPips:       *spread,
		SlippagePips:     *slippage,
		CommissionPerLot: *commission,
		StartingBalance:  *balance,
	}
	if cfg.From, err = parseDate(*fromStr); err != nil {
		fatal("-from: %v", err)
	}
	if cfg.To, err = parseDate(*toStr); err != nil {
		fatal("-to: %v", err)
	}

	bars, err := loadBars(pb, sym, tf, *cachePath, csv, cfg.From, cfg.To)
	if err != nil {
		fatal("load bars: %v", err)
	}

	started := time.Now()
	res, err := backtest.New(pb, cfg, bars, log).Run()
	if err != nil {
		fatal("backtest: %v", err)
	}
	fmt.Printf("replayed %d bars in %s\n", res.BarsReplayed, time.Since(started).Round(time.Millisecond))

	reporting.WriteSummary(os.Stdout, res)
	reporting.WriteMonthlyReturns(os.Stdout, res)
	if *showTrades {
		reporting.WriteTrades(os.Stdout, res)
	}
	if *jsonPath != "" {
		if err := reporting.WriteJSON(res, *jsonPath); err != nil {
			fatal("%v", err)
		}
		fmt.Println("wrote", *jsonPath)
	}
	if *xlsxPath != "" {
		if err := reporting.WriteExcel(res, *xlsxPath); err != nil {
			fatal("%v", err)
		}
		fmt.Println("wrote", *xlsxPath)
	}
}

// loadBars collects bars for every timeframe the playbook evaluates on,
// preferring explicit CSV files over the cache.
func loadBars(pb *playbook.Playbook, symbol string, primary types.Timeframe, cachePath string, csv csvFlags, from, to time.Time) (map[types.Timeframe][]types.Bar, error) {
	needed := map[types.Timeframe]bool{primary: true}
	for _, tf := range pb.Timeframes() {
		needed[tf] = true
	}

	var store *barcache.Store
	if cachePath != "" {
		var err error
		store, err = barcache.Open(cachePath)
		if err != nil {
			return nil, err
		}
		defer store.Close()
	}

	out := make(map[types.Timeframe][]types.Bar, len(needed))
	for tf := range needed {
		if path, ok := csv[tf]; ok {
			bars, err := marketdata.LoadBarsCSV(path, symbol, tf)
			if err != nil {
				return nil, err
			}
			out[tf] = bars
			continue
		}
		if store == nil {
			return nil, fmt.Errorf("no source for %s bars: give -csv %s=path or -cache", tf, tf)
		}
		var (
			bars []types.Bar
			err  error
		)
		if !from.IsZero() || !to.IsZero() {
			lo, hi := from, to
			if lo.IsZero() {
				lo = time.Unix(0, 0)
			}
			if hi.IsZero() {
				hi = time.Now()
			}
			// pad the range start so higher timeframes have warmup history
			bars, err = store.SelectBetween(context.Background(), symbol, tf, lo.Add(-90*24*time.Hour), hi)
		} else {
			bars, err = store.SelectLastN(context.Background(), symbol, tf, 100000)
		}
		if err != nil {
			return nil, err
		}
		out[tf] = bars
	}
	return out, nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", s)
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
