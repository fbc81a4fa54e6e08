package query

import (
	"fmt"
	"strings"
)

// Op is a comparison operator of the query description.
type Op int

const (
	// OpContainsFold matches when the upper-cased value contains Value.
	OpContainsFold Op = iota
	// OpHasPrefix matches when the string form of the value starts with Value.
	OpHasPrefix
	// OpEqualFold matches when the upper-cased string form equals Value.
	OpEqualFold
	// OpIsNull matches absent values.
	OpIsNull
	// OpEqual matches values equal to Value after normalization.
	OpEqual
)

func (o Op) String() string {
	switch o {
	case OpContainsFold:
		return "containsfold"
	case OpHasPrefix:
		return "hasprefix"
	case OpEqualFold:
		return "equalfold"
	case OpIsNull:
		return "isnull"
	case OpEqual:
		return "eq"
	default:
		return fmt.Sprintf("Op(%d)", int(o))
	}
}

// Expr is a node of a filter expression.
type Expr interface {
	fmt.Stringer
	isExpr()
}

// Compare tests the value at Path.
type Compare struct {
	Path  string
	Op    Op
	Value interface{}
}

// And matches when every child matches.
type And []Expr

// Or matches when any child matches.
type Or []Expr

// Raw is a store specific SQL condition. Stores that cannot evaluate SQL
// reject it.
type Raw struct {
	SQL  string
	Args []interface{}
}

func (Compare) isExpr() {}
func (And) isExpr()     {}
func (Or) isExpr()      {}
func (Raw) isExpr()     {}

func (c Compare) String() string {
	if c.Op == OpIsNull {
		return fmt.Sprintf("%s %s", c.Path, c.Op)
	}
	return fmt.Sprintf("%s %s %q", c.Path, c.Op, fmt.Sprint(c.Value))
}

func (a And) String() string { return join(a, " AND ") }
func (o Or) String() string  { return join(o, " OR ") }
func (r Raw) String() string { return fmt.Sprintf("raw(%s)", r.SQL) }

func join(exprs []Expr, sep string) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = e.String()
	}
	return "(" + strings.Join(parts, sep) + ")"
}

// and collapses single element conjunctions.
func and(exprs []Expr) Expr {
	switch len(exprs) {
	case 0:
		return nil
	case 1:
		return exprs[0]
	default:
		return And(exprs)
	}
}

func or(exprs []Expr) Expr {
	switch len(exprs) {
	case 0:
		return nil
	case 1:
		return exprs[0]
	default:
		return Or(exprs)
	}
}
