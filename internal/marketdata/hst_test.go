package marketdata

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minhle87/playbook-bot/pkg/types"
)

func packHSTHeader(t *testing.T, version int32, symbol string, periodMinutes int32) *bytes.Buffer {
	t.Helper()
	var hdr hstHeader
	hdr.Version = version
	copy(hdr.Symbol[:], symbol)
	hdr.Period = periodMinutes
	hdr.Digits = 5

	buf := &bytes.Buffer{}
	require.NoError(t, binary.Write(buf, binary.LittleEndian, &hdr))
	require.Equal(t, hstHeaderSize, buf.Len(), "header must be exactly 148 bytes")
	return buf
}

func TestHSTReader_Version400(t *testing.T) {
	buf := packHSTHeader(t, 400, "EURUSD", 60)

	open1 := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	// v400 stores open, low, high, close, volume after a 32-bit time
	for i, rec := range []hstRecord400{
		{Time: int32(open1.Unix()), Open: 1.10, Low: 1.09, High: 1.12, Close: 1.11, Volume: 500},
		{Time: int32(open1.Add(time.Hour).Unix()), Open: 1.11, Low: 1.10, High: 1.13, Close: 1.12, Volume: 620},
	} {
		require.NoError(t, binary.Write(buf, binary.LittleEndian, &rec), "record %d", i)
	}

	hr, err := NewHSTReader(buf)
	require.NoError(t, err)
	assert.Equal(t, "EURUSD", hr.Symbol())
	assert.Equal(t, types.TimeframeH1, hr.Timeframe())
	assert.Equal(t, 400, hr.Version())

	bars, err := hr.ReadAll()
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, open1, bars[0].Time)
	assert.Equal(t, 1.10, bars[0].Open)
	assert.Equal(t, 1.12, bars[0].High)
	assert.Equal(t, 1.09, bars[0].Low)
	assert.Equal(t, 1.11, bars[0].Close)
	assert.Equal(t, 500.0, bars[0].Volume)
	assert.Equal(t, open1.Add(time.Hour), bars[1].Time)
}

func TestHSTReader_Version401(t *testing.T) {
	buf := packHSTHeader(t, 401, "XAUUSD", 15)

	open1 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	rec := hstRecord401{
		Time: open1.Unix(), Open: 2000, High: 2002, Low: 1999, Close: 2001,
		TickVolume: 1234, Spread: 20, RealVolume: 0,
	}
	require.NoError(t, binary.Write(buf, binary.LittleEndian, &rec))

	hr, err := NewHSTReader(buf)
	require.NoError(t, err)
	assert.Equal(t, types.TimeframeM15, hr.Timeframe())
	assert.Equal(t, 401, hr.Version())

	bar, err := hr.Next()
	require.NoError(t, err)
	assert.Equal(t, open1, bar.Time)
	assert.Equal(t, 2000.0, bar.Open)
	assert.Equal(t, 2002.0, bar.High)
	assert.Equal(t, 1999.0, bar.Low)
	assert.Equal(t, 2001.0, bar.Close)
	assert.Equal(t, 1234.0, bar.Volume)

	_, err = hr.Next()
	assert.Equal(t, io.EOF, err)
}

func TestHSTReader_RejectsUnknownVersion(t *testing.T) {
	buf := packHSTHeader(t, 500, "EURUSD", 60)
	_, err := NewHSTReader(buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported version")
}

func TestHSTReader_RejectsUnknownPeriod(t *testing.T) {
	buf := packHSTHeader(t, 401, "EURUSD", 7)
	_, err := NewHSTReader(buf)
	require.Error(t, err)
}

func TestHSTReader_TruncatedRecord(t *testing.T) {
	buf := packHSTHeader(t, 401, "EURUSD", 60)
	buf.Write(make([]byte, 30)) // half a record

	hr, err := NewHSTReader(buf)
	require.NoError(t, err)
	_, err = hr.Next()
	require.Error(t, err)
	assert.NotEqual(t, io.EOF, err, "truncation is corruption, not end of data")
}
