package expr

// node is a parsed expression tree. Evaluation is a pure fold over the
// context; nodes carry no state.
type node interface {
	isNode()
}

type numberNode struct {
	value float64
}

// nameNode is a dotted name: parts holds the segments, e.g.
// ["ind", "rsi_m15", "value"] or ["_price"].
type nameNode struct {
	parts []string
}

type unaryNode struct {
	op      string // "+" or "-"
	operand node
}

type binaryNode struct {
	op          string // + - * / % **
	left, right node
}

// compareNode is a comparison between two arithmetic expressions. It appears
// at the top of an expression or as the first argument of iff().
type compareNode struct {
	op          string // < > <= >= == !=
	left, right node
}

type callNode struct {
	name string
	args []node
}

func (numberNode) isNode()  {}
func (nameNode) isNode()    {}
func (unaryNode) isNode()   {}
func (binaryNode) isNode()  {}
func (compareNode) isNode() {}
func (callNode) isNode()    {}
