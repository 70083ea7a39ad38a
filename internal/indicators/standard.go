package indicators

import (
	"math"

	talib "github.com/markcheno/go-talib"

	"github.com/minhle87/playbook-bot/pkg/types"
)

// Standard oscillators and overlays, computed with go-talib. All talib
// functions used here are causal (the value at index i depends only on
// inputs [0..i]), which is what makes the point-in-time and full-series
// modes agree pointwise.

func init() {
	Register(&rsiIndicator{})
	Register(&emaIndicator{})
	Register(&smaIndicator{})
	Register(&macdIndicator{})
	Register(&stochasticIndicator{})
	Register(&bollingerIndicator{})
	Register(&atrIndicator{})
	Register(&adxIndicator{})
	Register(&cciIndicator{})
	Register(&williamsRIndicator{})
}

func closes(bars []types.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

func highsLowsCloses(bars []types.Bar) (highs, lows, closePrices []float64) {
	highs = make([]float64, len(bars))
	lows = make([]float64, len(bars))
	closePrices = make([]float64, len(bars))
	for i, b := range bars {
		highs[i] = b.High
		lows[i] = b.Low
		closePrices[i] = b.Close
	}
	return highs, lows, closePrices
}

// seriesFrom maps field name -> (talib output, first valid index). Entries
// before validFrom become NaN so warmup bars read as absent.
func seriesFrom(n int, fields map[string]struct {
	values    []float64
	validFrom int
}) Series {
	series := make(Series, len(fields))
	for name, f := range fields {
		values := make([]float64, n)
		for i := 0; i < n; i++ {
			if i < f.validFrom || i >= len(f.values) {
				values[i] = math.NaN()
			} else {
				values[i] = f.values[i]
			}
		}
		series[name] = values
	}
	return series
}

func lastOf(series Series, n int) Output {
	if n == 0 {
		return nil
	}
	return series.At(n - 1)
}

// --- RSI ---

type rsiIndicator struct{}

func (r *rsiIndicator) Name() string          { return "rsi" }
func (r *rsiIndicator) Fields() []string      { return []string{"value"} }
func (r *rsiIndicator) DefaultParams() Params { return Params{"period": 14} }
func (r *rsiIndicator) EmptyResult() Output   { return Output{"value": 50} }
func (r *rsiIndicator) Keywords() []string {
	return []string{"momentum", "oscillator", "overbought", "oversold"}
}

func (r *rsiIndicator) ComputeSeries(bars []types.Bar, params Params) (Series, error) {
	period := params.GetInt("period", 14)
	var values []float64
	if len(bars) > period {
		values = talib.Rsi(closes(bars), period)
	}
	return seriesFrom(len(bars), map[string]struct {
		values    []float64
		validFrom int
	}{
		"value": {values, period},
	}), nil
}

func (r *rsiIndicator) Compute(bars []types.Bar, params Params) (Output, error) {
	series, err := r.ComputeSeries(bars, params)
	if err != nil {
		return nil, err
	}
	return lastOf(series, len(bars)), nil
}

// --- EMA ---

type emaIndicator struct{}

func (e *emaIndicator) Name() string          { return "ema" }
func (e *emaIndicator) Fields() []string      { return []string{"value"} }
func (e *emaIndicator) DefaultParams() Params { return Params{"period": 20} }
func (e *emaIndicator) EmptyResult() Output   { return Output{"value": 0} }
func (e *emaIndicator) Keywords() []string    { return []string{"trend", "moving average", "overlay"} }

func (e *emaIndicator) ComputeSeries(bars []types.Bar, params Params) (Series, error) {
	period := params.GetInt("period", 20)
	var values []float64
	if len(bars) >= period {
		values = talib.Ema(closes(bars), period)
	}
	return seriesFrom(len(bars), map[string]struct {
		values    []float64
		validFrom int
	}{
		"value": {values, period - 1},
	}), nil
}

func (e *emaIndicator) Compute(bars []types.Bar, params Params) (Output, error) {
	series, err := e.ComputeSeries(bars, params)
	if err != nil {
		return nil, err
	}
	return lastOf(series, len(bars)), nil
}

// --- SMA ---

type smaIndicator struct{}

func (s *smaIndicator) Name() string          { return "sma" }
func (s *smaIndicator) Fields() []string      { return []string{"value"} }
func (s *smaIndicator) DefaultParams() Params { return Params{"period": 20} }
func (s *smaIndicator) EmptyResult() Output   { return Output{"value": 0} }
func (s *smaIndicator) Keywords() []string    { return []string{"trend", "moving average", "overlay"} }

func (s *smaIndicator) ComputeSeries(bars []types.Bar, params Params) (Series, error) {
	period := params.GetInt("period", 20)
	var values []float64
	if len(bars) >= period {
		values = talib.Sma(closes(bars), period)
	}
	return seriesFrom(len(bars), map[string]struct {
		values    []float64
		validFrom int
	}{
		"value": {values, period - 1},
	}), nil
}

func (s *smaIndicator) Compute(bars []types.Bar, params Params) (Output, error) {
	series, err := s.ComputeSeries(bars, params)
	if err != nil {
		return nil, err
	}
	return lastOf(series, len(bars)), nil
}

// --- MACD ---

type macdIndicator struct{}

func (m *macdIndicator) Name() string     { return "macd" }
func (m *macdIndicator) Fields() []string { return []string{"macd", "signal", "histogram"} }
func (m *macdIndicator) DefaultParams() Params {
	return Params{"fast": 12, "slow": 26, "signal": 9}
}
func (m *macdIndicator) EmptyResult() Output {
	return Output{"macd": 0, "signal": 0, "histogram": 0}
}
func (m *macdIndicator) Keywords() []string {
	return []string{"momentum", "convergence", "divergence", "crossover"}
}

func (m *macdIndicator) ComputeSeries(bars []types.Bar, params Params) (Series, error) {
	fast := params.GetInt("fast", 12)
	slow := params.GetInt("slow", 26)
	signal := params.GetInt("signal", 9)
	validFrom := slow + signal - 2
	var macdLine, signalLine, hist []float64
	if len(bars) > validFrom {
		macdLine, signalLine, hist = talib.Macd(closes(bars), fast, slow, signal)
	}
	return seriesFrom(len(bars), map[string]struct {
		values    []float64
		validFrom int
	}{
		"macd":      {macdLine, validFrom},
		"signal":    {signalLine, validFrom},
		"histogram": {hist, validFrom},
	}), nil
}

func (m *macdIndicator) Compute(bars []types.Bar, params Params) (Output, error) {
	series, err := m.ComputeSeries(bars, params)
	if err != nil {
		return nil, err
	}
	return lastOf(series, len(bars)), nil
}

// --- Stochastic ---

type stochasticIndicator struct{}

func (s *stochasticIndicator) Name() string     { return "stochastic" }
func (s *stochasticIndicator) Fields() []string { return []string{"k", "d"} }
func (s *stochasticIndicator) DefaultParams() Params {
	return Params{"k_period": 14, "d_period": 3, "slowing": 3}
}
func (s *stochasticIndicator) EmptyResult() Output { return Output{"k": 50, "d": 50} }
func (s *stochasticIndicator) Keywords() []string {
	return []string{"momentum", "oscillator", "overbought", "oversold"}
}

func (s *stochasticIndicator) ComputeSeries(bars []types.Bar, params Params) (Series, error) {
	kPeriod := params.GetInt("k_period", 14)
	dPeriod := params.GetInt("d_period", 3)
	slowing := params.GetInt("slowing", 3)
	validFrom := kPeriod + slowing + dPeriod - 3
	var slowK, slowD []float64
	if len(bars) > validFrom {
		highs, lows, closePrices := highsLowsCloses(bars)
		slowK, slowD = talib.Stoch(highs, lows, closePrices, kPeriod, slowing, talib.SMA, dPeriod, talib.SMA)
	}
	return seriesFrom(len(bars), map[string]struct {
		values    []float64
		validFrom int
	}{
		"k": {slowK, validFrom},
		"d": {slowD, validFrom},
	}), nil
}

func (s *stochasticIndicator) Compute(bars []types.Bar, params Params) (Output, error) {
	series, err := s.ComputeSeries(bars, params)
	if err != nil {
		return nil, err
	}
	return lastOf(series, len(bars)), nil
}

// --- Bollinger Bands ---

type bollingerIndicator struct{}

func (b *bollingerIndicator) Name() string     { return "bollinger" }
func (b *bollingerIndicator) Fields() []string { return []string{"upper", "middle", "lower"} }
func (b *bollingerIndicator) DefaultParams() Params {
	return Params{"period": 20, "std_dev": 2}
}
func (b *bollingerIndicator) EmptyResult() Output {
	return Output{"upper": 0, "middle": 0, "lower": 0}
}
func (b *bollingerIndicator) Keywords() []string {
	return []string{"volatility", "bands", "mean reversion", "overlay"}
}

func (b *bollingerIndicator) ComputeSeries(bars []types.Bar, params Params) (Series, error) {
	period := params.GetInt("period", 20)
	stdDev := params.Get("std_dev", 2)
	validFrom := period - 1
	var upper, middle, lower []float64
	if len(bars) >= period {
		upper, middle, lower = talib.BBands(closes(bars), period, stdDev, stdDev, talib.SMA)
	}
	return seriesFrom(len(bars), map[string]struct {
		values    []float64
		validFrom int
	}{
		"upper":  {upper, validFrom},
		"middle": {middle, validFrom},
		"lower":  {lower, validFrom},
	}), nil
}

func (b *bollingerIndicator) Compute(bars []types.Bar, params Params) (Output, error) {
	series, err := b.ComputeSeries(bars, params)
	if err != nil {
		return nil, err
	}
	return lastOf(series, len(bars)), nil
}

// --- ATR ---

type atrIndicator struct{}

func (a *atrIndicator) Name() string          { return "atr" }
func (a *atrIndicator) Fields() []string      { return []string{"value"} }
func (a *atrIndicator) DefaultParams() Params { return Params{"period": 14} }
func (a *atrIndicator) EmptyResult() Output   { return Output{"value": 0} }
func (a *atrIndicator) Keywords() []string    { return []string{"volatility", "range", "true range"} }

func (a *atrIndicator) ComputeSeries(bars []types.Bar, params Params) (Series, error) {
	period := params.GetInt("period", 14)
	var values []float64
	if len(bars) > period {
		highs, lows, closePrices := highsLowsCloses(bars)
		values = talib.Atr(highs, lows, closePrices, period)
	}
	return seriesFrom(len(bars), map[string]struct {
		values    []float64
		validFrom int
	}{
		"value": {values, period},
	}), nil
}

func (a *atrIndicator) Compute(bars []types.Bar, params Params) (Output, error) {
	series, err := a.ComputeSeries(bars, params)
	if err != nil {
		return nil, err
	}
	return lastOf(series, len(bars)), nil
}

// --- ADX (+DI / -DI) ---

type adxIndicator struct{}

func (a *adxIndicator) Name() string          { return "adx" }
func (a *adxIndicator) Fields() []string      { return []string{"adx", "plus_di", "minus_di"} }
func (a *adxIndicator) DefaultParams() Params { return Params{"period": 14} }
func (a *adxIndicator) EmptyResult() Output {
	return Output{"adx": 0, "plus_di": 0, "minus_di": 0}
}
func (a *adxIndicator) Keywords() []string {
	return []string{"trend", "strength", "directional movement"}
}

func (a *adxIndicator) ComputeSeries(bars []types.Bar, params Params) (Series, error) {
	period := params.GetInt("period", 14)
	var adx, plusDI, minusDI []float64
	if len(bars) >= 2*period {
		highs, lows, closePrices := highsLowsCloses(bars)
		adx = talib.Adx(highs, lows, closePrices, period)
		plusDI = talib.PlusDI(highs, lows, closePrices, period)
		minusDI = talib.MinusDI(highs, lows, closePrices, period)
	}
	return seriesFrom(len(bars), map[string]struct {
		values    []float64
		validFrom int
	}{
		"adx":      {adx, 2*period - 1},
		"plus_di":  {plusDI, period},
		"minus_di": {minusDI, period},
	}), nil
}

func (a *adxIndicator) Compute(bars []types.Bar, params Params) (Output, error) {
	series, err := a.ComputeSeries(bars, params)
	if err != nil {
		return nil, err
	}
	return lastOf(series, len(bars)), nil
}

// --- CCI ---

type cciIndicator struct{}

func (c *cciIndicator) Name() string          { return "cci" }
func (c *cciIndicator) Fields() []string      { return []string{"value"} }
func (c *cciIndicator) DefaultParams() Params { return Params{"period": 20} }
func (c *cciIndicator) EmptyResult() Output   { return Output{"value": 0} }
func (c *cciIndicator) Keywords() []string    { return []string{"momentum", "channel", "commodity"} }

func (c *cciIndicator) ComputeSeries(bars []types.Bar, params Params) (Series, error) {
	period := params.GetInt("period", 20)
	var values []float64
	if len(bars) >= period {
		highs, lows, closePrices := highsLowsCloses(bars)
		values = talib.Cci(highs, lows, closePrices, period)
	}
	return seriesFrom(len(bars), map[string]struct {
		values    []float64
		validFrom int
	}{
		"value": {values, period - 1},
	}), nil
}

func (c *cciIndicator) Compute(bars []types.Bar, params Params) (Output, error) {
	series, err := c.ComputeSeries(bars, params)
	if err != nil {
		return nil, err
	}
	return lastOf(series, len(bars)), nil
}

// --- Williams %R ---

type williamsRIndicator struct{}

func (w *williamsRIndicator) Name() string          { return "williams_r" }
func (w *williamsRIndicator) Fields() []string      { return []string{"value"} }
func (w *williamsRIndicator) DefaultParams() Params { return Params{"period": 14} }
func (w *williamsRIndicator) EmptyResult() Output   { return Output{"value": -50} }
func (w *williamsRIndicator) Keywords() []string {
	return []string{"momentum", "oscillator", "overbought", "oversold"}
}

func (w *williamsRIndicator) ComputeSeries(bars []types.Bar, params Params) (Series, error) {
	period := params.GetInt("period", 14)
	var values []float64
	if len(bars) >= period {
		highs, lows, closePrices := highsLowsCloses(bars)
		values = talib.WillR(highs, lows, closePrices, period)
	}
	return seriesFrom(len(bars), map[string]struct {
		values    []float64
		validFrom int
	}{
		"value": {values, period - 1},
	}), nil
}

func (w *williamsRIndicator) Compute(bars []types.Bar, params Params) (Output, error) {
	series, err := w.ComputeSeries(bars, params)
	if err != nil {
		return nil, err
	}
	return lastOf(series, len(bars)), nil
}
