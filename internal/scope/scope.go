// Package scope holds raw SQL conditions that a query transform can add to a
// search, such as tenant restrictions.
package scope

import "fmt"

// QueryScope is a SQL condition with bound arguments.
type QueryScope struct {
	// Condition uses ? placeholders, e.g. "tenant_id = ?".
	Condition string
	Args      []interface{}
}

// Where creates a scope from a condition and its arguments.
func Where(condition string, args ...interface{}) QueryScope {
	return QueryScope{Condition: condition, Args: args}
}

// IsZero reports whether s carries no condition.
func (s QueryScope) IsZero() bool {
	return s.Condition == ""
}

func (s QueryScope) String() string {
	if len(s.Args) == 0 {
		return s.Condition
	}
	return fmt.Sprintf("%s %v", s.Condition, s.Args)
}
