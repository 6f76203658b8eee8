package condition

import "testing"

type fakeLookup struct {
	attrs map[string]interface{}
	tags  map[string]bool
}

func (f *fakeLookup) Attribute(field string) (interface{}, bool) {
	v, ok := f.attrs[field]
	return v, ok
}

func (f *fakeLookup) HasTag(tag string) bool {
	return f.tags[tag]
}

func TestEvaluateClause(t *testing.T) {
	ctx := &Context{
		Payload: map[string]interface{}{
			"country": "US",
			"visits":  float64(12),
			"empty":   nil,
		},
		Lookup: &fakeLookup{
			attrs: map[string]interface{}{
				"plan":  "pro",
				"score": 40,
			},
			tags: map[string]bool{"vip": true},
		},
	}

	tests := []struct {
		name   string
		clause Clause
		want   bool
	}{
		{"equals match", Clause{Field: "country", Operator: OperatorEquals, Value: "US"}, true},
		{"equals mismatch", Clause{Field: "country", Operator: OperatorEquals, Value: "DE"}, false},
		{"equals numeric string", Clause{Field: "visits", Operator: OperatorEquals, Value: "12"}, true},
		{"not_equals", Clause{Field: "country", Operator: OperatorNotEquals, Value: "DE"}, true},
		{"contains", Clause{Field: "plan", Operator: OperatorContains, Value: "pr"}, true},
		{"greater_than true", Clause{Field: "visits", Operator: OperatorGreaterThan, Value: 10}, true},
		{"greater_than false", Clause{Field: "visits", Operator: OperatorGreaterThan, Value: 20}, false},
		{"less_than from lookup", Clause{Field: "score", Operator: OperatorLessThan, Value: 50}, true},
		{"is_set present", Clause{Field: "country", Operator: OperatorIsSet}, true},
		{"is_set nil value", Clause{Field: "empty", Operator: OperatorIsSet}, false},
		{"is_not_set missing", Clause{Field: "missing", Operator: OperatorIsNotSet}, true},
		{"in_list", Clause{Field: "country", Operator: OperatorInList, Value: []interface{}{"US", "CA"}}, true},
		{"in_list miss", Clause{Field: "country", Operator: OperatorInList, Value: []interface{}{"DE"}}, false},
		{"has_tag", Clause{Operator: OperatorHasTag, Value: "vip"}, true},
		{"has_tag via field", Clause{Field: "vip", Operator: OperatorHasTag, Value: ""}, true},
		{"not_has_tag", Clause{Operator: OperatorNotHasTag, Value: "churned"}, true},
		{"missing field never matches", Clause{Field: "missing", Operator: OperatorEquals, Value: "x"}, false},
		{"missing field greater_than", Clause{Field: "missing", Operator: OperatorGreaterThan, Value: 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EvaluateClause(tt.clause, ctx); got != tt.want {
				t.Errorf("EvaluateClause() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluateLogic(t *testing.T) {
	ctx := &Context{Payload: map[string]interface{}{"a": "1", "b": "2"}}

	pass := Clause{Field: "a", Operator: OperatorEquals, Value: "1"}
	fail := Clause{Field: "b", Operator: OperatorEquals, Value: "x"}

	tests := []struct {
		name    string
		clauses []Clause
		logic   Logic
		want    bool
	}{
		{"empty is true", nil, LogicAll, true},
		{"all pass", []Clause{pass, pass}, LogicAll, true},
		{"all with one failure", []Clause{pass, fail}, LogicAll, false},
		{"any with one pass", []Clause{fail, pass}, LogicAny, true},
		{"any all fail", []Clause{fail, fail}, LogicAny, false},
		{"unknown logic defaults to all", []Clause{pass, fail}, Logic("weird"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(tt.clauses, tt.logic, ctx); got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluatePayloadShadowsLookup(t *testing.T) {
	ctx := &Context{
		Payload: map[string]interface{}{"plan": "free"},
		Lookup:  &fakeLookup{attrs: map[string]interface{}{"plan": "pro"}},
	}

	cl := Clause{Field: "plan", Operator: OperatorEquals, Value: "free"}
	if !EvaluateClause(cl, ctx) {
		t.Error("payload value should win over lookup value")
	}
}

func TestEvaluateNode(t *testing.T) {
	ctx := &Context{Payload: map[string]interface{}{"country": "US", "visits": 5}}

	tree := &Node{
		Logic: LogicAll,
		Children: []Node{
			{Clause: &Clause{Field: "country", Operator: OperatorEquals, Value: "US"}},
			{
				Logic: LogicAny,
				Children: []Node{
					{Clause: &Clause{Field: "visits", Operator: OperatorGreaterThan, Value: 10}},
					{Clause: &Clause{Field: "visits", Operator: OperatorLessThan, Value: 8}},
				},
			},
		},
	}

	if !EvaluateNode(tree, ctx) {
		t.Error("nested tree should evaluate true")
	}

	if !EvaluateNode(nil, ctx) {
		t.Error("nil node should be vacuously true")
	}
	if !EvaluateNode(&Node{}, ctx) {
		t.Error("empty node should be vacuously true")
	}
}
