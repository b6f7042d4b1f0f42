// Package searchfilter models metadata constraints for similarity search and
// converts them into the shapes vector store backends expect.
package searchfilter

import (
	"fmt"
	"strings"

	"github.com/sweetpotato0/esg-rag/rag/document"
)

// Operator is a comparison applied to a single metadata field.
type Operator string

const (
	// OperatorEqual matches a single scalar.
	OperatorEqual Operator = "eq"
	// OperatorIn matches membership in a set of scalars.
	OperatorIn Operator = "in"
)

// Condition constrains one metadata field.
type Condition struct {
	Field    string
	Operator Operator
	// Value is set for OperatorEqual.
	Value document.Value
	// Values is set for OperatorIn, in insertion order.
	Values []document.Value
}

// Equal creates an equality condition.
func Equal(field string, value any) Condition {
	return Condition{Field: field, Operator: OperatorEqual, Value: document.Of(value)}
}

// In creates a set-membership condition.
func In(field string, values ...any) Condition {
	vs := make([]document.Value, 0, len(values))
	for _, v := range values {
		vs = append(vs, document.Of(v))
	}
	return Condition{Field: field, Operator: OperatorIn, Values: vs}
}

// Match reports whether md satisfies c. A missing field never matches.
func (c Condition) Match(md document.Metadata) bool {
	got, ok := md[c.Field]
	if !ok || got.IsNull() {
		return false
	}
	switch c.Operator {
	case OperatorEqual:
		return got.Equal(c.Value)
	case OperatorIn:
		for _, v := range c.Values {
			if got.Equal(v) {
				return true
			}
		}
	}
	return false
}

// Scalars returns the constraint's values as native Go scalars.
func (c Condition) Scalars() []any {
	if c.Operator == OperatorEqual {
		return []any{c.Value.Any()}
	}
	out := make([]any, 0, len(c.Values))
	for _, v := range c.Values {
		out = append(out, v.Any())
	}
	return out
}

func (c Condition) where() map[string]any {
	if c.Operator == OperatorIn {
		return map[string]any{c.Field: map[string]any{"$in": c.Scalars()}}
	}
	return map[string]any{c.Field: c.Value.Any()}
}

func (c Condition) String() string {
	if c.Operator == OperatorIn {
		parts := make([]string, 0, len(c.Values))
		for _, v := range c.Values {
			parts = append(parts, v.String())
		}
		return fmt.Sprintf("%s in [%s]", c.Field, strings.Join(parts, ","))
	}
	return fmt.Sprintf("%s=%s", c.Field, c.Value.String())
}

// Filter is an immutable conjunction of conditions keyed by field. Setting a
// field that is already present replaces it in place, so key order reflects
// first insertion. The zero value is the empty filter.
type Filter struct {
	conds []Condition
}

// New builds a filter from conditions; later conditions win on a shared field.
func New(conds ...Condition) Filter {
	var f Filter
	for _, c := range conds {
		f = f.With(c)
	}
	return f
}

// With returns a copy of f with c set, replacing any condition on c.Field.
func (f Filter) With(c Condition) Filter {
	out := make([]Condition, len(f.conds), len(f.conds)+1)
	copy(out, f.conds)
	for i := range out {
		if out[i].Field == c.Field {
			out[i] = c
			return Filter{conds: out}
		}
	}
	return Filter{conds: append(out, c)}
}

// Pin narrows field to a single value, replacing any existing constraint.
func (f Filter) Pin(field string, value any) Filter {
	return f.With(Equal(field, value))
}

// Without returns a copy of f with field removed.
func (f Filter) Without(field string) Filter {
	out := make([]Condition, 0, len(f.conds))
	for _, c := range f.conds {
		if c.Field != field {
			out = append(out, c)
		}
	}
	return Filter{conds: out}
}

// And combines filters. Fields of later filters override earlier ones.
func (f Filter) And(others ...Filter) Filter {
	out := f
	for _, o := range others {
		for _, c := range o.conds {
			out = out.With(c)
		}
	}
	return out
}

// Get returns the condition on field.
func (f Filter) Get(field string) (Condition, bool) {
	for _, c := range f.conds {
		if c.Field == field {
			return c, true
		}
	}
	return Condition{}, false
}

// Conditions returns a copy of the conditions in key order.
func (f Filter) Conditions() []Condition {
	out := make([]Condition, len(f.conds))
	copy(out, f.conds)
	return out
}

// Empty reports whether f places no constraint.
func (f Filter) Empty() bool { return len(f.conds) == 0 }

// Len returns the number of constrained fields.
func (f Filter) Len() int { return len(f.conds) }

// Match reports whether md satisfies every condition of f.
func (f Filter) Match(md document.Metadata) bool {
	for _, c := range f.conds {
		if !c.Match(md) {
			return false
		}
	}
	return true
}

// Where renders f in the Chroma-style where clause: nil when empty, the bare
// condition for a single field, and {"$and": [...]} otherwise.
func (f Filter) Where() map[string]any {
	switch len(f.conds) {
	case 0:
		return nil
	case 1:
		return f.conds[0].where()
	}
	clauses := make([]any, 0, len(f.conds))
	for _, c := range f.conds {
		clauses = append(clauses, c.where())
	}
	return map[string]any{"$and": clauses}
}

func (f Filter) String() string {
	if f.Empty() {
		return "{}"
	}
	parts := make([]string, 0, len(f.conds))
	for _, c := range f.conds {
		parts = append(parts, c.String())
	}
	return "{" + strings.Join(parts, " AND ") + "}"
}
