package marketdata

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/minhle87/playbook-bot/pkg/types"
)

// dateFormats are tried in order when parsing bar and tick timestamps.
var dateFormats = []string{
	"2006.01.02",
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
}

var timeFormats = []string{
	"15:04:05",
	"15:04",
}

// LoadBarsCSV reads an OHLCV CSV file. Header row and delimiter (tab or
// comma) are auto-detected; field names may be wrapped in angle brackets;
// date and time may be split or combined columns.
func LoadBarsCSV(path, symbol string, tf types.Timeframe) ([]types.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open bar file %s: %w", path, err)
	}
	defer f.Close()
	return ParseBarsCSV(f, symbol, tf)
}

// ParseBarsCSV parses bar rows from a reader.
func ParseBarsCSV(r io.Reader, symbol string, tf types.Timeframe) ([]types.Bar, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var bars []types.Bar
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		fields := splitRow(raw)
		if line == 1 && isHeaderRow(fields) {
			continue
		}

		bar, err := parseBarRow(fields, symbol, tf)
		if err != nil {
			return nil, fmt.Errorf("bar csv line %d: %w", line, err)
		}
		bars = append(bars, bar)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("bar csv: %w", err)
	}
	return bars, nil
}

// splitRow splits on the auto-detected delimiter and strips angle brackets.
func splitRow(raw string) []string {
	sep := ","
	if strings.Contains(raw, "\t") {
		sep = "\t"
	}
	parts := strings.Split(raw, sep)
	for i, p := range parts {
		parts[i] = strings.Trim(strings.TrimSpace(p), "<>")
	}
	return parts
}

// isHeaderRow detects a header by the presence of date/time/open tokens.
func isHeaderRow(fields []string) bool {
	for _, f := range fields {
		switch strings.ToLower(f) {
		case "date", "time", "open", "datetime", "timestamp":
			return true
		}
	}
	return false
}

func parseBarRow(fields []string, symbol string, tf types.Timeframe) (types.Bar, error) {
	if len(fields) < 5 {
		return types.Bar{}, fmt.Errorf("too few columns (%d)", len(fields))
	}

	ts, rest, err := parseRowTime(fields)
	if err != nil {
		return types.Bar{}, err
	}
	if len(rest) < 4 {
		return types.Bar{}, fmt.Errorf("missing OHLC columns")
	}

	vals := make([]float64, 0, 5)
	for i := 0; i < len(rest) && i < 5; i++ {
		v, err := strconv.ParseFloat(rest[i], 64)
		if err != nil {
			return types.Bar{}, fmt.Errorf("bad number %q: %w", rest[i], err)
		}
		vals = append(vals, v)
	}
	bar := types.Bar{
		Symbol:    symbol,
		Timeframe: tf,
		Time:      ts,
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
	}
	if len(vals) > 4 {
		bar.Volume = vals[4]
	}
	return bar, nil
}

// parseRowTime consumes the leading timestamp column(s) and returns the
// remaining fields.
func parseRowTime(fields []string) (time.Time, []string, error) {
	// separate date and time columns
	if len(fields) >= 2 {
		if d, ok := parseDate(fields[0]); ok {
			if t, ok := parseClock(fields[1]); ok {
				return d.Add(t), fields[2:], nil
			}
			// date-only rows (daily bars)
			return d, fields[1:], nil
		}
	}
	// combined "date time" column
	if ts, ok := parseDateTime(fields[0]); ok {
		return ts, fields[1:], nil
	}
	return time.Time{}, nil, fmt.Errorf("unparseable timestamp %q", fields[0])
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func parseClock(s string) (time.Duration, bool) {
	for _, layout := range timeFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Duration(t.Hour())*time.Hour +
				time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second, true
		}
	}
	return 0, false
}

func parseDateTime(s string) (time.Time, bool) {
	for _, df := range dateFormats {
		for _, tf := range timeFormats {
			if t, err := time.Parse(df+" "+tf, s); err == nil {
				return t.UTC(), true
			}
		}
	}
	if t, ok := parseDate(s); ok {
		return t, true
	}
	return time.Time{}, false
}

// LoadTicksCSV reads a tick CSV with columns (timestamp, bid, ask[, volume])
// or (date, time, bid, ask[, volume]). Timestamps may be Unix seconds, Unix
// milliseconds, or any supported date format.
func LoadTicksCSV(path, symbol string) ([]types.Tick, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open tick file %s: %w", path, err)
	}
	defer f.Close()
	return ParseTicksCSV(f, symbol)
}

// ParseTicksCSV parses tick rows from a reader.
func ParseTicksCSV(r io.Reader, symbol string) ([]types.Tick, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var ticks []types.Tick
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		fields := splitRow(raw)
		if line == 1 && isHeaderRow(fields) {
			continue
		}
		tick, err := parseTickRow(fields, symbol)
		if err != nil {
			return nil, fmt.Errorf("tick csv line %d: %w", line, err)
		}
		ticks = append(ticks, tick)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("tick csv: %w", err)
	}
	return ticks, nil
}

func parseTickRow(fields []string, symbol string) (types.Tick, error) {
	if len(fields) < 3 {
		return types.Tick{}, fmt.Errorf("too few columns (%d)", len(fields))
	}

	var ts time.Time
	var rest []string

	// date + time split across two columns
	if d, ok := parseDate(fields[0]); ok && len(fields) >= 4 {
		if clock, ok := parseClock(fields[1]); ok {
			ts = d.Add(clock)
			rest = fields[2:]
		}
	}
	if rest == nil {
		t, err := parseTickTimestamp(fields[0])
		if err != nil {
			return types.Tick{}, err
		}
		ts = t
		rest = fields[1:]
	}

	if len(rest) < 2 {
		return types.Tick{}, fmt.Errorf("missing bid/ask columns")
	}
	bid, err := strconv.ParseFloat(rest[0], 64)
	if err != nil {
		return types.Tick{}, fmt.Errorf("bad bid %q: %w", rest[0], err)
	}
	ask, err := strconv.ParseFloat(rest[1], 64)
	if err != nil {
		return types.Tick{}, fmt.Errorf("bad ask %q: %w", rest[1], err)
	}

	return types.Tick{
		Symbol:    symbol,
		Bid:       bid,
		Ask:       ask,
		Spread:    ask - bid,
		Timestamp: ts,
	}, nil
}

// parseTickTimestamp accepts Unix seconds, Unix milliseconds, or a date
// string.
func parseTickTimestamp(s string) (time.Time, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		// millisecond stamps are 13 digits for contemporary dates
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	if ts, ok := parseDateTime(s); ok {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}
