package expr

import "strings"

// Condition is a flat boolean tree: a list of rules reduced with AND or OR.
type Condition struct {
	Kind  string `json:"kind" yaml:"kind"` // "AND" or "OR"
	Rules []Rule `json:"rules" yaml:"rules"`
}

// Rule compares two expressions with one of the six comparison operators.
type Rule struct {
	Left        string `json:"left" yaml:"left"`
	Op          string `json:"op" yaml:"op"`
	Right       string `json:"right" yaml:"right"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// RuleResult records one rule's evaluation, so a transition can attribute
// which rules fired it.
type RuleResult struct {
	Description string  `json:"description"`
	LeftExpr    string  `json:"left_expr"`
	LeftVal     float64 `json:"left_val"`
	Op          string  `json:"op"`
	RightExpr   string  `json:"right_expr"`
	RightVal    float64 `json:"right_val"`
	Passed      bool    `json:"passed"`
}

// EvaluateCondition reduces the rule list with the condition's junction. An
// empty rule list is false. A rule whose expression fails to evaluate is
// false.
func EvaluateCondition(cond *Condition, ctx *Context) bool {
	ok, _ := EvaluateConditionDetailed(cond, ctx)
	return ok
}

// EvaluateConditionDetailed evaluates the condition and additionally returns
// the per-rule results. All rules are evaluated even once the junction's
// outcome is decided, so the caller always gets a complete attribution.
func EvaluateConditionDetailed(cond *Condition, ctx *Context) (bool, []RuleResult) {
	if cond == nil || len(cond.Rules) == 0 {
		return false, nil
	}

	isOr := strings.EqualFold(cond.Kind, "OR")
	results := make([]RuleResult, 0, len(cond.Rules))
	passedAll := true
	passedAny := false

	for _, rule := range cond.Rules {
		res := evaluateRule(rule, ctx)
		results = append(results, res)
		if res.Passed {
			passedAny = true
		} else {
			passedAll = false
		}
	}

	if isOr {
		return passedAny, results
	}
	return passedAll, results
}

func evaluateRule(rule Rule, ctx *Context) RuleResult {
	res := RuleResult{
		Description: rule.Description,
		LeftExpr:    rule.Left,
		Op:          rule.Op,
		RightExpr:   rule.Right,
	}

	left, err := Evaluate(rule.Left, ctx)
	if err != nil {
		return res
	}
	res.LeftVal = left

	right, err := Evaluate(rule.Right, ctx)
	if err != nil {
		return res
	}
	res.RightVal = right

	passed, err := Compare(left, rule.Op, right)
	if err != nil {
		return res
	}
	res.Passed = passed
	return res
}
