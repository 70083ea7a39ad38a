package expr

// Context is the read-only name environment an expression evaluates against.
// All values are plain scalars; indicator fields missing from the maps (for
// example during warmup) resolve as errors, which condition evaluation turns
// into a false rule.
type Context struct {
	// Price is the current mid price, resolved by the `_price` root.
	Price float64

	// Indicators maps indicator id -> output field -> value (`ind.` root).
	Indicators map[string]map[string]float64

	// Previous holds the prior bar's indicator outputs (`prev.` root).
	Previous map[string]map[string]float64

	// Vars holds playbook variables as numerics; booleans are 0/1
	// (`var.` root).
	Vars map[string]float64

	// Trade holds the open-trade snapshot: open_price, sl, tp, lot, pnl
	// (`trade.` root). Nil when no trade is open.
	Trade map[string]float64

	// Risk holds the playbook risk limits: max_lot, max_daily_trades,
	// max_drawdown_pct, max_open_positions (`risk.` root).
	Risk map[string]float64
}

// tradeFields and riskFields whitelist the second segment of their roots.
var tradeFields = map[string]bool{
	"open_price": true, "sl": true, "tp": true, "lot": true, "pnl": true,
}

var riskFields = map[string]bool{
	"max_lot": true, "max_daily_trades": true, "max_drawdown_pct": true, "max_open_positions": true,
}
