package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/minhle87/playbook-bot/internal/barcache"
	"github.com/minhle87/playbook-bot/internal/config"
	"github.com/minhle87/playbook-bot/internal/logger"
	"github.com/minhle87/playbook-bot/internal/marketdata"
	"github.com/minhle87/playbook-bot/pkg/types"
)

func main() {
	var (
		source    = flag.String("source", "", "csv | tick | hst | bybit")
		file      = flag.String("file", "", "input file (csv/tick/hst)")
		symbol    = flag.String("symbol", "", "symbol name")
		tfName    = flag.String("tf", "", "timeframe (bar csv, tick aggregation, bybit)")
		cachePath = flag.String("cache", "bars.db", "bar cache database")
		fromStr   = flag.String("from", "", "bybit: start date (YYYY-MM-DD)")
		toStr     = flag.String("to", "", "bybit: end date (YYYY-MM-DD, default now)")
		envFile   = flag.String("env", ".env", "environment file for bybit credentials")
		logLevel  = flag.String("log-level", "info", "log level")
	)
	flag.Parse()

	log := logger.New(logger.Config{Level: *logLevel, Pretty: true})

	if *source == "" {
		fatal("missing -source")
	}

	store, err := barcache.Open(*cachePath)
	if err != nil {
		fatal("%v", err)
	}
	defer store.Close()

	// cancellation stops between batches; written bars remain
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var written int
	switch *source {
	case "csv":
		written, err = importBarCSV(ctx, store, *file, *symbol, *tfName)
	case "tick":
		written, err = importTicks(ctx, store, *file, *symbol, *tfName)
	case "hst":
		written, err = importHST(ctx, store, *file)
	case "bybit":
		written, err = importBybit(ctx, store, *envFile, *symbol, *tfName, *fromStr, *toStr, log)
	default:
		fatal("unknown -source %q", *source)
	}
	if err != nil {
		if ctx.Err() != nil {
			fmt.Printf("cancelled after writing %d bars\n", written)
			return
		}
		fatal("%v", err)
	}
	fmt.Printf("imported %d bars into %s\n", written, *cachePath)
}

func importBarCSV(ctx context.Context, store *barcache.Store, file, symbol, tfName string) (int, error) {
	if file == "" || symbol == "" || tfName == "" {
		return 0, fmt.Errorf("csv import needs -file, -symbol and -tf")
	}
	tf, err := types.ParseTimeframe(tfName)
	if err != nil {
		return 0, err
	}
	bars, err := marketdata.LoadBarsCSV(file, symbol, tf)
	if err != nil {
		return 0, err
	}
	if err := store.UpsertMany(ctx, bars); err != nil {
		return 0, err
	}
	return len(bars), nil
}

func importTicks(ctx context.Context, store *barcache.Store, file, symbol, tfName string) (int, error) {
	if file == "" || symbol == "" || tfName == "" {
		return 0, fmt.Errorf("tick import needs -file, -symbol and -tf")
	}
	tf, err := types.ParseTimeframe(tfName)
	if err != nil {
		return 0, err
	}
	ticks, err := marketdata.LoadTicksCSV(file, symbol)
	if err != nil {
		return 0, err
	}
	bars := marketdata.AggregateTicks(ticks, symbol, tf)
	if err := store.UpsertMany(ctx, bars); err != nil {
		return 0, err
	}
	return len(bars), nil
}

func importHST(ctx context.Context, store *barcache.Store, file string) (int, error) {
	if file == "" {
		return 0, fmt.Errorf("hst import needs -file")
	}
	hr, closer, err := marketdata.OpenHST(file)
	if err != nil {
		return 0, err
	}
	defer closer.Close()
	fmt.Printf("reading %s %s (format v%d)\n", hr.Symbol(), hr.Timeframe(), hr.Version())

	ch := make(chan types.Bar, 1024)
	errc := make(chan error, 1)
	go func() {
		defer close(ch)
		for {
			bar, err := hr.Next()
			if err == io.EOF {
				errc <- nil
				return
			}
			if err != nil {
				errc <- err
				return
			}
			select {
			case ch <- bar:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
	}()

	written, err := store.UpsertStream(ctx, ch)
	if err != nil {
		return written, err
	}
	return written, <-errc
}

func importBybit(ctx context.Context, store *barcache.Store, envFile, symbol, tfName, fromStr, toStr string, log zerolog.Logger) (int, error) {
	if symbol == "" || tfName == "" || fromStr == "" {
		return 0, fmt.Errorf("bybit import needs -symbol, -tf and -from")
	}
	tf, err := types.ParseTimeframe(tfName)
	if err != nil {
		return 0, err
	}
	from, err := time.Parse("2006-01-02", fromStr)
	if err != nil {
		return 0, fmt.Errorf("-from: %w", err)
	}
	to := time.Now().UTC()
	if toStr != "" {
		if to, err = time.Parse("2006-01-02", toStr); err != nil {
			return 0, fmt.Errorf("-to: %w", err)
		}
	}

	cfg, err := config.Load(envFile)
	if err != nil {
		return 0, err
	}
	dl := marketdata.NewBybitDownloader(marketdata.BybitConfig{
		APIKey:    cfg.BybitAPIKey,
		APISecret: cfg.BybitAPISecret,
		Category:  cfg.BybitCategory,
		Testnet:   cfg.BybitTestnet,
	}, log)

	bars, err := dl.Download(ctx, symbol, tf, from, to)
	if err != nil {
		return 0, err
	}
	if err := store.UpsertMany(ctx, bars); err != nil {
		return 0, err
	}
	return len(bars), nil
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
