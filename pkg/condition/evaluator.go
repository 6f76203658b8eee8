package condition

import (
	"fmt"
	"strconv"
	"strings"
)

type Operator string

const (
	OperatorEquals      Operator = "equals"
	OperatorNotEquals   Operator = "not_equals"
	OperatorContains    Operator = "contains"
	OperatorGreaterThan Operator = "greater_than"
	OperatorLessThan    Operator = "less_than"
	OperatorIsSet       Operator = "is_set"
	OperatorIsNotSet    Operator = "is_not_set"
	OperatorInList      Operator = "in_list"
	OperatorHasTag      Operator = "has_tag"
	OperatorNotHasTag   Operator = "not_has_tag"
)

// ValidOperator reports whether op is part of the closed operator set.
func ValidOperator(op Operator) bool {
	switch op {
	case OperatorEquals, OperatorNotEquals, OperatorContains,
		OperatorGreaterThan, OperatorLessThan, OperatorIsSet,
		OperatorIsNotSet, OperatorInList, OperatorHasTag, OperatorNotHasTag:
		return true
	}
	return false
}

type Logic string

const (
	LogicAll Logic = "all"
	LogicAny Logic = "any"
)

// Clause is a single comparison test against a context field.
type Clause struct {
	Field    string      `json:"field" bson:"field"`
	Operator Operator    `json:"operator" bson:"operator"`
	Value    interface{} `json:"value" bson:"value"`
}

// Lookup resolves subscriber-side data. Implementations must be snapshots so
// evaluation stays pure.
type Lookup interface {
	// Attribute resolves a subscriber attribute or custom field.
	Attribute(field string) (interface{}, bool)
	// HasTag reports whether the subscriber carries the tag.
	HasTag(tag string) bool
}

// Context is the evaluation input: event payload first, then subscriber data.
type Context struct {
	Payload map[string]interface{}
	Lookup  Lookup
}

// Resolve returns the value for a field, payload first, then subscriber lookup.
func (c *Context) Resolve(field string) (interface{}, bool) {
	if c == nil {
		return nil, false
	}
	if c.Payload != nil {
		if v, ok := c.Payload[field]; ok {
			return v, true
		}
	}
	if c.Lookup != nil {
		return c.Lookup.Attribute(field)
	}
	return nil, false
}

// Evaluate runs a flat clause list under the given combinator logic.
// ALL short-circuits on the first false clause, ANY on the first true one.
// An empty clause list is vacuously true.
func Evaluate(clauses []Clause, logic Logic, ctx *Context) bool {
	if len(clauses) == 0 {
		return true
	}

	if logic == LogicAny {
		for _, cl := range clauses {
			if EvaluateClause(cl, ctx) {
				return true
			}
		}
		return false
	}

	// Default to ALL semantics
	for _, cl := range clauses {
		if !EvaluateClause(cl, ctx) {
			return false
		}
	}
	return true
}

// EvaluateClause evaluates one leaf clause. A missing field makes is_set
// false and every other operator false; it never errors.
func EvaluateClause(cl Clause, ctx *Context) bool {
	switch cl.Operator {
	case OperatorHasTag, OperatorNotHasTag:
		if ctx == nil || ctx.Lookup == nil {
			return false
		}
		tag := fmt.Sprintf("%v", cl.Value)
		if tag == "" && cl.Field != "" {
			tag = cl.Field
		}
		has := ctx.Lookup.HasTag(tag)
		if cl.Operator == OperatorHasTag {
			return has
		}
		return !has
	}

	val, exists := ctx.Resolve(cl.Field)

	switch cl.Operator {
	case OperatorIsSet:
		return exists && val != nil
	case OperatorIsNotSet:
		return !exists || val == nil
	}

	if !exists || val == nil {
		return false
	}

	switch cl.Operator {
	case OperatorEquals:
		return fmt.Sprintf("%v", val) == fmt.Sprintf("%v", cl.Value)
	case OperatorNotEquals:
		return fmt.Sprintf("%v", val) != fmt.Sprintf("%v", cl.Value)
	case OperatorContains:
		return strings.Contains(fmt.Sprintf("%v", val), fmt.Sprintf("%v", cl.Value))
	case OperatorGreaterThan:
		a, aok := toFloat(val)
		b, bok := toFloat(cl.Value)
		return aok && bok && a > b
	case OperatorLessThan:
		a, aok := toFloat(val)
		b, bok := toFloat(cl.Value)
		return aok && bok && a < b
	case OperatorInList:
		return inList(val, cl.Value)
	default:
		return false
	}
}

// Node is the tree form used by funnel branch predicates: either a leaf
// clause or a combinator over children.
type Node struct {
	Logic    Logic   `json:"logic,omitempty" bson:"logic,omitempty"`
	Children []Node  `json:"children,omitempty" bson:"children,omitempty"`
	Clause   *Clause `json:"clause,omitempty" bson:"clause,omitempty"`
}

// EvaluateNode walks a condition tree with the same short-circuit rules as
// Evaluate. A nil or empty node is vacuously true.
func EvaluateNode(n *Node, ctx *Context) bool {
	if n == nil {
		return true
	}
	if n.Clause != nil {
		return EvaluateClause(*n.Clause, ctx)
	}
	if len(n.Children) == 0 {
		return true
	}

	if n.Logic == LogicAny {
		for i := range n.Children {
			if EvaluateNode(&n.Children[i], ctx) {
				return true
			}
		}
		return false
	}

	for i := range n.Children {
		if !EvaluateNode(&n.Children[i], ctx) {
			return false
		}
	}
	return true
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func inList(val, list interface{}) bool {
	target := fmt.Sprintf("%v", val)
	switch items := list.(type) {
	case []interface{}:
		for _, it := range items {
			if fmt.Sprintf("%v", it) == target {
				return true
			}
		}
	case []string:
		for _, it := range items {
			if it == target {
				return true
			}
		}
	}
	return false
}
