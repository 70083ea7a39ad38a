package barcache

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/minhle87/playbook-bot/pkg/types"
)

// batchSize is the flush threshold for streaming upserts.
const batchSize = 10000

const schema = `
CREATE TABLE IF NOT EXISTS bars (
	symbol        TEXT    NOT NULL,
	timeframe     TEXT    NOT NULL,
	bar_time      TEXT    NOT NULL,
	bar_time_unix INTEGER NOT NULL,
	open          REAL    NOT NULL,
	high          REAL    NOT NULL,
	low           REAL    NOT NULL,
	close         REAL    NOT NULL,
	volume        REAL    NOT NULL,
	fetched_at    TEXT    NOT NULL,
	UNIQUE (symbol, timeframe, bar_time)
);
CREATE INDEX IF NOT EXISTS idx_bars_lookup ON bars (symbol, timeframe, bar_time_unix);
`

const upsertSQL = `
INSERT INTO bars (symbol, timeframe, bar_time, bar_time_unix, open, high, low, close, volume, fetched_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (symbol, timeframe, bar_time)
DO UPDATE SET open = excluded.open, high = excluded.high, low = excluded.low,
              close = excluded.close, volume = excluded.volume, fetched_at = excluded.fetched_at
`

// Store is a SQLite-backed OHLCV cache keyed on (symbol, timeframe,
// bar-open-time). Writes are serialized behind a single connection, which
// is the single-writer invariant SQLite needs.
type Store struct {
	db *sql.DB
}

// Open creates or opens the cache at path. ":memory:" gives an ephemeral
// store for tests.
func Open(path string) (*Store, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("barcache: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("barcache: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertMany writes a batch of bars in one transaction, overwriting OHLCV on
// conflict. Writing the same bar twice leaves the store identical.
func (s *Store) UpsertMany(ctx context.Context, bars []types.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("barcache: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertSQL)
	if err != nil {
		return fmt.Errorf("barcache: prepare: %w", err)
	}
	defer stmt.Close()

	fetchedAt := time.Now().UTC().Format(time.RFC3339)
	for _, b := range bars {
		barTime := b.Time.UTC().Format(time.RFC3339)
		if _, err := stmt.ExecContext(ctx, b.Symbol, string(b.Timeframe), barTime, b.Time.Unix(),
			b.Open, b.High, b.Low, b.Close, b.Volume, fetchedAt); err != nil {
			return fmt.Errorf("barcache: upsert %s %s %s: %w", b.Symbol, b.Timeframe, barTime, err)
		}
	}
	return tx.Commit()
}

// UpsertStream consumes bars from a channel, flushing in batches. Returns
// the number of bars written. Cancelling the context stops the stream
// between batches; already-written batches remain.
func (s *Store) UpsertStream(ctx context.Context, bars <-chan types.Bar) (int, error) {
	written := 0
	batch := make([]types.Bar, 0, batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.UpsertMany(ctx, batch); err != nil {
			return err
		}
		written += len(batch)
		batch = batch[:0]
		return nil
	}

	for bar := range bars {
		batch = append(batch, bar)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return written, err
			}
			if err := ctx.Err(); err != nil {
				return written, err
			}
		}
	}
	if err := flush(); err != nil {
		return written, err
	}
	return written, nil
}

// SelectLastN returns the most recent n bars, ordered oldest first.
func (s *Store) SelectLastN(ctx context.Context, symbol string, tf types.Timeframe, n int) ([]types.Bar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT bar_time_unix, open, high, low, close, volume
		FROM bars WHERE symbol = ? AND timeframe = ?
		ORDER BY bar_time_unix DESC LIMIT ?`, symbol, string(tf), n)
	if err != nil {
		return nil, fmt.Errorf("barcache: select last %d: %w", n, err)
	}
	bars, err := scanBars(rows, symbol, tf)
	if err != nil {
		return nil, err
	}
	// reverse into oldest-first order
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
	return bars, nil
}

// SelectBetween returns bars with open time in [from, to], oldest first.
func (s *Store) SelectBetween(ctx context.Context, symbol string, tf types.Timeframe, from, to time.Time) ([]types.Bar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT bar_time_unix, open, high, low, close, volume
		FROM bars WHERE symbol = ? AND timeframe = ? AND bar_time_unix BETWEEN ? AND ?
		ORDER BY bar_time_unix ASC`, symbol, string(tf), from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("barcache: select between: %w", err)
	}
	return scanBars(rows, symbol, tf)
}

// Count returns the number of cached bars for (symbol, timeframe).
func (s *Store) Count(ctx context.Context, symbol string, tf types.Timeframe) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bars WHERE symbol = ? AND timeframe = ?`,
		symbol, string(tf)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("barcache: count: %w", err)
	}
	return n, nil
}

// Symbols lists the distinct (symbol, timeframe) pairs in the cache.
func (s *Store) Symbols(ctx context.Context) (map[string][]types.Timeframe, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT symbol, timeframe FROM bars ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("barcache: symbols: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]types.Timeframe)
	for rows.Next() {
		var symbol, tf string
		if err := rows.Scan(&symbol, &tf); err != nil {
			return nil, err
		}
		out[symbol] = append(out[symbol], types.Timeframe(tf))
	}
	return out, rows.Err()
}

func scanBars(rows *sql.Rows, symbol string, tf types.Timeframe) ([]types.Bar, error) {
	defer rows.Close()
	var bars []types.Bar
	for rows.Next() {
		var unix int64
		var b types.Bar
		if err := rows.Scan(&unix, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("barcache: scan: %w", err)
		}
		b.Symbol = symbol
		b.Timeframe = tf
		b.Time = time.Unix(unix, 0).UTC()
		bars = append(bars, b)
	}
	return bars, rows.Err()
}
