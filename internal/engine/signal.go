package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/minhle87/playbook-bot/internal/expr"
	"github.com/minhle87/playbook-bot/pkg/types"
)

// Signal is an emitted trading decision. Emission is asynchronous to
// state-machine advancement; the executor (or backtester) acts on it.
type Signal struct {
	ID         string            `json:"id"`
	PlaybookID string            `json:"playbook_id"`
	Phase      string            `json:"phase"`
	Symbol     string            `json:"symbol"`
	Direction  types.Direction   `json:"direction"`
	Price      float64           `json:"price"`
	Lot        float64           `json:"lot,omitempty"`
	SL         float64           `json:"sl,omitempty"`
	TP         float64           `json:"tp,omitempty"`
	Conditions []expr.RuleResult `json:"conditions,omitempty"`
	Reasoning  string            `json:"reasoning,omitempty"`
	Time       time.Time         `json:"time"`
}

func newSignalID() string {
	return uuid.New().String()
}

// MgmtKind enumerates position-management event kinds.
type MgmtKind string

const (
	MgmtModifySL     MgmtKind = "modify_sl"
	MgmtModifyTP     MgmtKind = "modify_tp"
	MgmtTrailSL      MgmtKind = "trail_sl"
	MgmtPartialClose MgmtKind = "partial_close"
)

// ManagementEvent is one position-management effect for the executor to
// apply to the open position.
type ManagementEvent struct {
	Rule    string   `json:"rule"`
	Kind    MgmtKind `json:"kind"`
	SL      float64  `json:"sl,omitempty"`
	TP      float64  `json:"tp,omitempty"`
	Percent float64  `json:"percent,omitempty"`
}
