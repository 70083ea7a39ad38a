package marketdata

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minhle87/playbook-bot/pkg/types"
)

func TestParseBarsCSV_MT4TabExport(t *testing.T) {
	data := "<DATE>\t<TIME>\t<OPEN>\t<HIGH>\t<LOW>\t<CLOSE>\t<TICKVOL>\n" +
		"2024.01.02\t00:00\t2000.5\t2001.0\t1999.5\t2000.0\t1250\n" +
		"2024.01.02\t00:15\t2000.0\t2002.0\t2000.0\t2001.5\t980\n"

	bars, err := ParseBarsCSV(strings.NewReader(data), "XAUUSD", types.TimeframeM15)
	require.NoError(t, err)
	require.Len(t, bars, 2)

	assert.Equal(t, "XAUUSD", bars[0].Symbol)
	assert.Equal(t, types.TimeframeM15, bars[0].Timeframe)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), bars[0].Time)
	assert.Equal(t, 2000.5, bars[0].Open)
	assert.Equal(t, 2001.0, bars[0].High)
	assert.Equal(t, 1999.5, bars[0].Low)
	assert.Equal(t, 2000.0, bars[0].Close)
	assert.Equal(t, 1250.0, bars[0].Volume)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 15, 0, 0, time.UTC), bars[1].Time)
}

func TestParseBarsCSV_CommaCombinedDateTime(t *testing.T) {
	data := "2024-01-02 08:30:00,1.1000,1.1010,1.0990,1.1005,300\n" +
		"2024-01-02 08:45:00,1.1005,1.1020,1.1000,1.1015,280\n"

	bars, err := ParseBarsCSV(strings.NewReader(data), "EURUSD", types.TimeframeM15)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, time.Date(2024, 1, 2, 8, 30, 0, 0, time.UTC), bars[0].Time)
	assert.Equal(t, 1.1005, bars[0].Close)
}

func TestParseBarsCSV_SlashAndUSDateFormats(t *testing.T) {
	for _, row := range []string{
		"2024/01/02,10:00,1,2,0.5,1.5,10",
		"01/02/2024,10:00,1,2,0.5,1.5,10",
	} {
		bars, err := ParseBarsCSV(strings.NewReader(row), "EURUSD", types.TimeframeH1)
		require.NoError(t, err, row)
		require.Len(t, bars, 1)
		assert.Equal(t, time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC), bars[0].Time, row)
	}
}

func TestParseBarsCSV_NoVolumeColumn(t *testing.T) {
	data := "2024.01.02,00:00,2000,2001,1999,2000.5\n"
	bars, err := ParseBarsCSV(strings.NewReader(data), "XAUUSD", types.TimeframeM15)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, 0.0, bars[0].Volume)
}

func TestParseBarsCSV_BadRowReportsLine(t *testing.T) {
	data := "date,time,open,high,low,close,volume\n" +
		"2024.01.02,00:00,2000,2001,1999,2000,10\n" +
		"2024.01.02,00:15,oops,2001,1999,2000,10\n"
	_, err := ParseBarsCSV(strings.NewReader(data), "XAUUSD", types.TimeframeM15)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 3")
}

func TestParseTicksCSV_UnixAndMillis(t *testing.T) {
	sec := time.Date(2024, 1, 2, 0, 0, 1, 0, time.UTC)
	data := "1704153601,2000.10,2000.30\n" +
		"1704153601500,2000.15,2000.35\n"

	ticks, err := ParseTicksCSV(strings.NewReader(data), "XAUUSD")
	require.NoError(t, err)
	require.Len(t, ticks, 2)

	assert.Equal(t, sec, ticks[0].Timestamp)
	assert.Equal(t, 2000.10, ticks[0].Bid)
	assert.Equal(t, 2000.30, ticks[0].Ask)
	assert.InDelta(t, 0.20, ticks[0].Spread, 1e-9)
	assert.Equal(t, sec.Add(500*time.Millisecond), ticks[1].Timestamp)
}

func TestParseTicksCSV_DateTimeColumns(t *testing.T) {
	data := "<DATE>\t<TIME>\t<BID>\t<ASK>\n" +
		"2024.01.02\t00:00:01\t1.1000\t1.1002\n"
	ticks, err := ParseTicksCSV(strings.NewReader(data), "EURUSD")
	require.NoError(t, err)
	require.Len(t, ticks, 1)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 1, 0, time.UTC), ticks[0].Timestamp)
	assert.Equal(t, 1.1000, ticks[0].Bid)
	assert.Equal(t, 1.1002, ticks[0].Ask)
}
