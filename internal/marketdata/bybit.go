package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	bybit_api "github.com/bybit-exchange/bybit.go.api"
	"github.com/rs/zerolog"

	"github.com/minhle87/playbook-bot/pkg/types"
)

// bybitPageLimit is the maximum kline rows per request.
const bybitPageLimit = 1000

// bybitIntervals maps canonical timeframes to Bybit interval strings.
var bybitIntervals = map[types.Timeframe]string{
	types.TimeframeM1:  "1",
	types.TimeframeM5:  "5",
	types.TimeframeM15: "15",
	types.TimeframeM30: "30",
	types.TimeframeH1:  "60",
	types.TimeframeH4:  "240",
	types.TimeframeD1:  "D",
	types.TimeframeW1:  "W",
}

// BybitConfig configures the kline downloader. Public market data needs no
// credentials; keys are accepted for rate-limit headroom.
type BybitConfig struct {
	APIKey    string
	APISecret string
	Category  string // "spot", "linear", "inverse"
	Testnet   bool
}

// BybitDownloader fetches historical klines from the Bybit v5 market API and
// converts them to canonical bars.
type BybitDownloader struct {
	httpClient *bybit_api.Client
	category   string
	log        zerolog.Logger
}

// NewBybitDownloader creates a downloader for the configured environment.
func NewBybitDownloader(cfg BybitConfig, log zerolog.Logger) *BybitDownloader {
	baseURL := bybit_api.MAINNET
	if cfg.Testnet {
		baseURL = bybit_api.TESTNET
	}
	category := cfg.Category
	if category == "" {
		category = "linear"
	}
	return &BybitDownloader{
		httpClient: bybit_api.NewBybitHttpClient(
			cfg.APIKey,
			cfg.APISecret,
			bybit_api.WithBaseURL(baseURL),
		),
		category: category,
		log:      log.With().Str("component", "bybit_downloader").Logger(),
	}
}

// Download fetches all bars for (symbol, timeframe) in [from, to], paging
// through the API newest-first and returning the result oldest-first.
func (d *BybitDownloader) Download(ctx context.Context, symbol string, tf types.Timeframe, from, to time.Time) ([]types.Bar, error) {
	interval, ok := bybitIntervals[tf]
	if !ok {
		return nil, fmt.Errorf("bybit: no interval for timeframe %s", tf)
	}

	var bars []types.Bar
	end := to
	for {
		page, err := d.fetchPage(ctx, symbol, tf, interval, from, end)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		bars = append(bars, page...)

		oldest := page[len(page)-1].Time
		d.log.Debug().
			Str("symbol", symbol).
			Str("timeframe", string(tf)).
			Int("rows", len(page)).
			Time("oldest", oldest).
			Msg("fetched kline page")

		if !oldest.After(from) || len(page) < bybitPageLimit {
			break
		}
		end = oldest.Add(-time.Second)
	}

	// API pages are newest-first; flip and trim to the requested window.
	sort.Slice(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	out := bars[:0]
	for _, b := range bars {
		if b.Time.Before(from) || b.Time.After(to) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

// fetchPage requests one kline page, newest rows first.
func (d *BybitDownloader) fetchPage(ctx context.Context, symbol string, tf types.Timeframe, interval string, from, to time.Time) ([]types.Bar, error) {
	reqParams := map[string]interface{}{
		"category": d.category,
		"symbol":   symbol,
		"interval": interval,
		"start":    from.UnixMilli(),
		"end":      to.UnixMilli(),
		"limit":    bybitPageLimit,
	}

	result, err := d.httpClient.NewUtaBybitServiceWithParams(reqParams).GetMarketKline(ctx)
	if err != nil {
		return nil, fmt.Errorf("bybit: get klines: %w", err)
	}
	return parseKlineResponse(result, symbol, tf)
}

// parseKlineResponse converts the raw API response into bars.
func parseKlineResponse(response interface{}, symbol string, tf types.Timeframe) ([]types.Bar, error) {
	serverResp, ok := response.(*bybit_api.ServerResponse)
	if !ok {
		return nil, fmt.Errorf("bybit: invalid response type")
	}
	if serverResp.RetCode != 0 {
		return nil, fmt.Errorf("bybit: API error: %s (code: %d)", serverResp.RetMsg, serverResp.RetCode)
	}

	resultBytes, err := json.Marshal(serverResp.Result)
	if err != nil {
		return nil, fmt.Errorf("bybit: marshal result: %w", err)
	}

	var klineResult struct {
		Symbol   string     `json:"symbol"`
		Category string     `json:"category"`
		List     [][]string `json:"list"`
	}
	if err := json.Unmarshal(resultBytes, &klineResult); err != nil {
		return nil, fmt.Errorf("bybit: unmarshal kline result: %w", err)
	}

	var bars []types.Bar
	for _, item := range klineResult.List {
		if len(item) < 6 {
			continue
		}
		// row format: [startTime, open, high, low, close, volume, turnover]
		bars = append(bars, types.Bar{
			Symbol:    symbol,
			Timeframe: tf,
			Time:      time.UnixMilli(parseInt64(item[0])).UTC(),
			Open:      parseFloat64(item[1]),
			High:      parseFloat64(item[2]),
			Low:       parseFloat64(item[3]),
			Close:     parseFloat64(item[4]),
			Volume:    parseFloat64(item[5]),
		})
	}
	return bars, nil
}

func parseFloat64(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func parseInt64(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}
