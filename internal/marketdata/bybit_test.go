package marketdata

import (
	"testing"
	"time"

	bybit_api "github.com/bybit-exchange/bybit.go.api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minhle87/playbook-bot/pkg/types"
)

func TestParseKlineResponse(t *testing.T) {
	open := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	resp := &bybit_api.ServerResponse{
		RetCode: 0,
		Result: map[string]interface{}{
			"symbol":   "BTCUSDT",
			"category": "linear",
			"list": [][]string{
				{"1704153600000", "42000.5", "42100.0", "41900.0", "42050.0", "120.5", "5061025.0"},
				{"1704150000000", "41950.0", "42010.0", "41800.0", "42000.5", "98.2", "4120000.0"},
			},
		},
	}

	bars, err := parseKlineResponse(resp, "BTCUSDT", types.TimeframeH1)
	require.NoError(t, err)
	require.Len(t, bars, 2)

	assert.Equal(t, "BTCUSDT", bars[0].Symbol)
	assert.Equal(t, types.TimeframeH1, bars[0].Timeframe)
	assert.Equal(t, open, bars[0].Time)
	assert.Equal(t, 42000.5, bars[0].Open)
	assert.Equal(t, 42100.0, bars[0].High)
	assert.Equal(t, 41900.0, bars[0].Low)
	assert.Equal(t, 42050.0, bars[0].Close)
	assert.Equal(t, 120.5, bars[0].Volume)
}

func TestParseKlineResponse_APIError(t *testing.T) {
	resp := &bybit_api.ServerResponse{RetCode: 10001, RetMsg: "params error"}
	_, err := parseKlineResponse(resp, "BTCUSDT", types.TimeframeH1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "params error")
}

func TestParseKlineResponse_SkipsShortRows(t *testing.T) {
	resp := &bybit_api.ServerResponse{
		RetCode: 0,
		Result: map[string]interface{}{
			"list": [][]string{
				{"1704153600000", "1", "2"},
				{"1704153600000", "1", "2", "0.5", "1.5", "10", "15"},
			},
		},
	}
	bars, err := parseKlineResponse(resp, "BTCUSDT", types.TimeframeH1)
	require.NoError(t, err)
	assert.Len(t, bars, 1)
}

func TestBybitIntervalMapping(t *testing.T) {
	for _, tf := range types.Timeframes() {
		_, ok := bybitIntervals[tf]
		assert.True(t, ok, "missing interval for %s", tf)
	}
}
