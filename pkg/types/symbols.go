package types

import "strings"

// SymbolSpec holds the pip geometry of a tradable symbol: the smallest
// meaningful price increment and the account-currency value of one pip for a
// one-lot position. The table is deliberately tabulated rather than derived
// from tick size so that P&L math stays stable across brokers.
type SymbolSpec struct {
	PipSize     float64
	PipValue    float64 // dollars per pip per 1.0 lot
	Description string
}

var symbolSpecs = map[string]SymbolSpec{
	"XAUUSD": {PipSize: 0.10, PipValue: 10.0, Description: "gold"},
	"XAGUSD": {PipSize: 0.01, PipValue: 50.0, Description: "silver"},
	"BTCUSD": {PipSize: 1.00, PipValue: 1.0, Description: "bitcoin"},
	"ETHUSD": {PipSize: 0.10, PipValue: 1.0, Description: "ether"},
}

var defaultForex = SymbolSpec{PipSize: 0.0001, PipValue: 10.0, Description: "forex"}
var jpyPair = SymbolSpec{PipSize: 0.01, PipValue: 9.1, Description: "jpy pair"}

// Spec returns the pip geometry for a symbol. Unknown symbols fall back to
// the standard forex contract; JPY quote currencies get the JPY pip size.
func Spec(symbol string) SymbolSpec {
	key := normalizeSymbol(symbol)
	if spec, ok := symbolSpecs[key]; ok {
		return spec
	}
	if strings.HasSuffix(key, "JPY") {
		return jpyPair
	}
	return defaultForex
}

// PriceToPips converts a price distance on a symbol to pips.
func PriceToPips(symbol string, distance float64) float64 {
	spec := Spec(symbol)
	if spec.PipSize == 0 {
		return 0
	}
	return distance / spec.PipSize
}

// PipsToPrice converts a pip count on a symbol to a price distance.
func PipsToPrice(symbol string, pips float64) float64 {
	return pips * Spec(symbol).PipSize
}

// PnL converts a signed price distance into account-currency profit for the
// given lot size: pip distance x dollars-per-pip x lot.
func PnL(symbol string, priceDistance, lot float64) float64 {
	spec := Spec(symbol)
	if spec.PipSize == 0 {
		return 0
	}
	return priceDistance / spec.PipSize * spec.PipValue * lot
}

// normalizeSymbol strips common broker suffixes ("EURUSD.m", "GBPUSD-pro")
// and upper-cases the base name.
func normalizeSymbol(symbol string) string {
	s := strings.ToUpper(symbol)
	for _, sep := range []string{".", "-", "_"} {
		if idx := strings.Index(s, sep); idx > 0 {
			s = s[:idx]
		}
	}
	return s
}
