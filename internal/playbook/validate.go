package playbook

import (
	"fmt"

	"github.com/minhle87/playbook-bot/internal/expr"
	"github.com/minhle87/playbook-bot/internal/indicators"
	"github.com/minhle87/playbook-bot/pkg/types"
)

// Validate checks the playbook for configuration errors: unknown indicators,
// bad timeframes, unresolved phase references, malformed conditions, invalid
// expressions. Phases reference each other by name, so this is also where
// the whole reference graph is resolved.
func (p *Playbook) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("playbook id is required")
	}
	if len(p.Symbols) == 0 {
		return fmt.Errorf("playbook %s: at least one symbol is required", p.ID)
	}
	if len(p.Phases) == 0 {
		return fmt.Errorf("playbook %s: at least one phase is required", p.ID)
	}

	phaseNames := make(map[string]bool, len(p.Phases))
	for _, ph := range p.Phases {
		if ph.Name == "" {
			return fmt.Errorf("playbook %s: phase with empty name", p.ID)
		}
		if phaseNames[ph.Name] {
			return fmt.Errorf("playbook %s: duplicate phase %q", p.ID, ph.Name)
		}
		phaseNames[ph.Name] = true
	}
	if !phaseNames[p.InitialPhase] {
		return fmt.Errorf("playbook %s: initial phase %q not defined", p.ID, p.InitialPhase)
	}

	indicatorIDs := make(map[string]bool, len(p.Indicators))
	for _, cfg := range p.Indicators {
		if cfg.ID == "" {
			return fmt.Errorf("playbook %s: indicator with empty id", p.ID)
		}
		if indicatorIDs[cfg.ID] {
			return fmt.Errorf("playbook %s: duplicate indicator id %q", p.ID, cfg.ID)
		}
		indicatorIDs[cfg.ID] = true
		if _, err := indicators.Lookup(cfg.Name); err != nil {
			return fmt.Errorf("playbook %s: indicator %q: %w", p.ID, cfg.ID, err)
		}
		if !cfg.Timeframe.Valid() {
			return fmt.Errorf("playbook %s: indicator %q: bad timeframe %q", p.ID, cfg.ID, cfg.Timeframe)
		}
	}

	varNames := make(map[string]bool, len(p.Variables))
	for _, v := range p.Variables {
		if v.Name == "" {
			return fmt.Errorf("playbook %s: variable with empty name", p.ID)
		}
		if varNames[v.Name] {
			return fmt.Errorf("playbook %s: duplicate variable %q", p.ID, v.Name)
		}
		varNames[v.Name] = true
		switch v.Type {
		case VarFloat, VarInt, VarBool, VarString:
		default:
			return fmt.Errorf("playbook %s: variable %q: unknown type %q", p.ID, v.Name, v.Type)
		}
	}

	for i := range p.Phases {
		if err := p.validatePhase(&p.Phases[i], phaseNames); err != nil {
			return err
		}
	}
	return nil
}

func (p *Playbook) validatePhase(ph *Phase, phaseNames map[string]bool) error {
	where := fmt.Sprintf("playbook %s phase %q", p.ID, ph.Name)

	if len(ph.EvaluateOn) == 0 {
		return fmt.Errorf("%s: evaluate_on is required", where)
	}
	for _, tf := range ph.EvaluateOn {
		if !tf.Valid() {
			return fmt.Errorf("%s: bad evaluate_on timeframe %q", where, tf)
		}
	}

	if ph.Timeout != nil {
		if !ph.Timeout.Timeframe.Valid() {
			return fmt.Errorf("%s: timeout has bad timeframe %q", where, ph.Timeout.Timeframe)
		}
		if ph.Timeout.Bars <= 0 {
			return fmt.Errorf("%s: timeout bars must be positive", where)
		}
		if !phaseNames[ph.Timeout.Target] {
			return fmt.Errorf("%s: timeout target %q not defined", where, ph.Timeout.Target)
		}
	}

	if ph.OnTradeClosed != "" && !phaseNames[ph.OnTradeClosed] {
		return fmt.Errorf("%s: on_trade_closed target %q not defined", where, ph.OnTradeClosed)
	}

	for ti, tr := range ph.Transitions {
		twhere := fmt.Sprintf("%s transition %d", where, ti)
		if !phaseNames[tr.Target] {
			return fmt.Errorf("%s: target %q not defined", twhere, tr.Target)
		}
		if err := validateCondition(&tr.Condition, twhere); err != nil {
			return err
		}
		for ai, act := range tr.Actions {
			if err := validateAction(&act, p, fmt.Sprintf("%s action %d", twhere, ai)); err != nil {
				return err
			}
		}
	}

	for ri, rule := range ph.Rules {
		rwhere := fmt.Sprintf("%s rule %q", where, rule.Name)
		if rule.Name == "" {
			rwhere = fmt.Sprintf("%s rule %d", where, ri)
		}
		if err := validateCondition(&rule.When, rwhere); err != nil {
			return err
		}
		effects := 0
		for _, e := range []string{rule.ModifySL, rule.ModifyTP, rule.TrailSL} {
			if e != "" {
				effects++
				if err := expr.Validate(e); err != nil {
					return fmt.Errorf("%s: %w", rwhere, err)
				}
			}
		}
		if rule.PartialClosePct != 0 {
			effects++
			if rule.PartialClosePct < 0 || rule.PartialClosePct > 100 {
				return fmt.Errorf("%s: partial_close_pct must be in (0, 100]", rwhere)
			}
		}
		if effects != 1 {
			return fmt.Errorf("%s: exactly one of modify_sl, modify_tp, trail_sl, partial_close_pct is required", rwhere)
		}
	}
	return nil
}

func validateCondition(cond *expr.Condition, where string) error {
	switch cond.Kind {
	case "AND", "OR", "and", "or":
	default:
		return fmt.Errorf("%s: condition kind must be AND or OR, got %q", where, cond.Kind)
	}
	for i, rule := range cond.Rules {
		if !expr.ValidOp(rule.Op) {
			return fmt.Errorf("%s rule %d: unknown operator %q", where, i, rule.Op)
		}
		if err := expr.Validate(rule.Left); err != nil {
			return fmt.Errorf("%s rule %d left: %w", where, i, err)
		}
		if err := expr.Validate(rule.Right); err != nil {
			return fmt.Errorf("%s rule %d right: %w", where, i, err)
		}
	}
	return nil
}

func validateAction(act *Action, p *Playbook, where string) error {
	switch act.Type {
	case ActionSetVar:
		if act.Var == "" {
			return fmt.Errorf("%s: set_var needs a variable name", where)
		}
		found := false
		for _, v := range p.Variables {
			if v.Name == act.Var {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%s: set_var references undeclared variable %q", where, act.Var)
		}
		if err := expr.Validate(act.Value); err != nil {
			return fmt.Errorf("%s: set_var value: %w", where, err)
		}
	case ActionOpenTrade:
		if act.Direction != types.DirectionLong && act.Direction != types.DirectionShort {
			return fmt.Errorf("%s: open_trade direction must be LONG or SHORT, got %q", where, act.Direction)
		}
		for name, e := range map[string]string{"lot": act.Lot, "sl": act.SL, "tp": act.TP} {
			if e == "" {
				continue
			}
			if err := expr.Validate(e); err != nil {
				return fmt.Errorf("%s: open_trade %s: %w", where, name, err)
			}
		}
	case ActionCloseTrade:
	case ActionLog:
		if act.Message == "" {
			return fmt.Errorf("%s: log action needs a message", where)
		}
	default:
		return fmt.Errorf("%s: unknown action type %q", where, act.Type)
	}
	return nil
}
