package marketdata

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/minhle87/playbook-bot/pkg/types"
)

// hstHeaderSize is the fixed-size file header of MT-format history files.
const hstHeaderSize = 148

// hstHeader mirrors the on-disk layout, little-endian.
type hstHeader struct {
	Version   int32
	Copyright [64]byte
	Symbol    [12]byte
	Period    int32
	Digits    int32
	TimeSign  int32
	LastSync  int32
	Unused    [13]int32
}

// hstRecord400 is the 44-byte record of version 400 files. Note the
// open/low/high/close field order.
type hstRecord400 struct {
	Time   int32
	Open   float64
	Low    float64
	High   float64
	Close  float64
	Volume float64
}

// hstRecord401 is the 60-byte record of version 401 files.
type hstRecord401 struct {
	Time       int64
	Open       float64
	High       float64
	Low        float64
	Close      float64
	TickVolume int64
	Spread     int32
	RealVolume int64
}

// HSTReader decodes bars from a binary MT history file. It yields bars one
// at a time so multi-year files never need to fit in memory at once.
type HSTReader struct {
	r       io.Reader
	version int32
	symbol  string
	tf      types.Timeframe
	digits  int
}

// NewHSTReader reads and validates the file header.
func NewHSTReader(r io.Reader) (*HSTReader, error) {
	var hdr hstHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("hst: read header: %w", err)
	}
	if hdr.Version != 400 && hdr.Version != 401 {
		return nil, fmt.Errorf("hst: unsupported version %d", hdr.Version)
	}
	tf, err := types.TimeframeFromMinutes(int(hdr.Period))
	if err != nil {
		return nil, fmt.Errorf("hst: %w", err)
	}
	symbol := string(bytes.TrimRight(hdr.Symbol[:], "\x00"))
	if symbol == "" {
		return nil, fmt.Errorf("hst: empty symbol in header")
	}
	return &HSTReader{
		r:       r,
		version: hdr.Version,
		symbol:  symbol,
		tf:      tf,
		digits:  int(hdr.Digits),
	}, nil
}

// OpenHST opens a history file from disk. The caller owns the returned
// closer.
func OpenHST(path string) (*HSTReader, io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("hst: open %s: %w", path, err)
	}
	hr, err := NewHSTReader(f)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return hr, f, nil
}

// Symbol returns the symbol recorded in the header.
func (h *HSTReader) Symbol() string { return h.symbol }

// Timeframe returns the bar period recorded in the header.
func (h *HSTReader) Timeframe() types.Timeframe { return h.tf }

// Version returns the file format version, 400 or 401.
func (h *HSTReader) Version() int { return int(h.version) }

// Next returns the next bar, or io.EOF at end of file. A truncated trailing
// record is an error, not EOF.
func (h *HSTReader) Next() (types.Bar, error) {
	if h.version == 400 {
		var rec hstRecord400
		if err := binary.Read(h.r, binary.LittleEndian, &rec); err != nil {
			return types.Bar{}, wrapHSTReadErr(err)
		}
		return types.Bar{
			Symbol:    h.symbol,
			Timeframe: h.tf,
			Time:      time.Unix(int64(rec.Time), 0).UTC(),
			Open:      rec.Open,
			High:      rec.High,
			Low:       rec.Low,
			Close:     rec.Close,
			Volume:    rec.Volume,
		}, nil
	}

	var rec hstRecord401
	if err := binary.Read(h.r, binary.LittleEndian, &rec); err != nil {
		return types.Bar{}, wrapHSTReadErr(err)
	}
	return types.Bar{
		Symbol:    h.symbol,
		Timeframe: h.tf,
		Time:      time.Unix(rec.Time, 0).UTC(),
		Open:      rec.Open,
		High:      rec.High,
		Low:       rec.Low,
		Close:     rec.Close,
		Volume:    float64(rec.TickVolume),
	}, nil
}

// ReadAll drains the reader into a slice.
func (h *HSTReader) ReadAll() ([]types.Bar, error) {
	var bars []types.Bar
	for {
		bar, err := h.Next()
		if err == io.EOF {
			return bars, nil
		}
		if err != nil {
			return bars, err
		}
		bars = append(bars, bar)
	}
}

func wrapHSTReadErr(err error) error {
	if err == io.EOF {
		return io.EOF
	}
	if err == io.ErrUnexpectedEOF {
		return fmt.Errorf("hst: truncated record: %w", err)
	}
	return fmt.Errorf("hst: read record: %w", err)
}
