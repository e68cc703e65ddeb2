package filter

// Operator is a comparison or logical operator in a filter expression.
type Operator string

const (
	OpEqual          Operator = "=="
	OpNotEqual       Operator = "!="
	OpGreaterThan    Operator = ">"
	OpLessThan       Operator = "<"
	OpGreaterOrEqual Operator = ">="
	OpLessOrEqual    Operator = "<="
	OpContains       Operator = "contains"
	OpAnd            Operator = "&&"
	OpOr             Operator = "||"
)

// Context supplies the named values an expression can reference.
type Context map[string]interface{}

// Expression is one node of a parsed filter.
type Expression interface {
	Evaluate(ctx Context) (interface{}, error)
}

// Binary applies an operator to two subexpressions.
type Binary struct {
	Left  Expression
	Op    Operator
	Right Expression
}

// Literal is a constant: string, number, boolean, or null.
type Literal struct {
	Value interface{}
}

// Ident resolves a top-level context value. Unknown names evaluate to
// null rather than failing, so filters stay total over sparse events.
type Ident struct {
	Name string
}

// Field resolves a nested lookup such as payload.text.
type Field struct {
	Object Expression
	Name   string
}
