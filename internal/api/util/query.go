package util

import (
	"fmt"
	"strings"
)

type QueryOperator string

const (
	OpEq        QueryOperator = "eq"
	OpNe        QueryOperator = "ne"
	OpGt        QueryOperator = "gt"
	OpGte       QueryOperator = "gte"
	OpLt        QueryOperator = "lt"
	OpLte       QueryOperator = "lte"
	OpIn        QueryOperator = "in"
	OpNin       QueryOperator = "nin"
	OpIsNull    QueryOperator = "isnull"
	OpIsNotNull QueryOperator = "isnotnull"
)

var operators = map[string]QueryOperator{
	"eq": OpEq, "ne": OpNe,
	"gt": OpGt, "gte": OpGte,
	"lt": OpLt, "lte": OpLte,
	"in": OpIn, "nin": OpNin,
	"isnull": OpIsNull, "isnotnull": OpIsNotNull,
}

// QueryFilter is one condition on a column. Value holds the converted
// column value (string, int64, bool or time.Time), a slice of those for
// in and nin, and nil for the null checks.
type QueryFilter struct {
	Field    string
	Operator QueryOperator
	Value    interface{}
}

// Eq builds an equality condition on an already typed value.
func Eq(field string, value interface{}) QueryFilter {
	return QueryFilter{Field: field, Operator: OpEq, Value: value}
}

type OrderDirection string

const (
	OrderAsc  OrderDirection = "asc"
	OrderDesc OrderDirection = "desc"
)

type OrderClause struct {
	Field     string
	Direction OrderDirection
}

// ParseQuery reads a query parameter of comma separated conditions:
//
//	field|value            equality
//	field|isnull           null check (also isnotnull)
//	field|operator|value   explicit operator
//
// The value of in and nin is itself a comma separated list and so runs to
// the end of the string. Every field must be in the schema and every value
// must convert to its field's kind.
func (s Schema) ParseQuery(raw string) ([]QueryFilter, error) {
	var filters []QueryFilter
	rest := strings.TrimSpace(raw)
	for rest != "" {
		var cond string
		cond, rest = nextCondition(rest)
		if cond == "" {
			continue
		}
		f, err := s.parseCondition(cond)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	return filters, nil
}

// nextCondition splits off the first condition. A list operator swallows
// the remainder of the string.
func nextCondition(raw string) (string, string) {
	parts := strings.SplitN(raw, "|", 3)
	if len(parts) == 3 {
		switch QueryOperator(strings.ToLower(parts[1])) {
		case OpIn, OpNin:
			return raw, ""
		}
	}
	cond, rest, _ := strings.Cut(raw, ",")
	return strings.TrimSpace(cond), strings.TrimSpace(rest)
}

func (s Schema) parseCondition(cond string) (QueryFilter, error) {
	parts := strings.Split(cond, "|")
	field := parts[0]
	kind, ok := s.Query[field]
	if !ok {
		return QueryFilter{}, fmt.Errorf("invalid query field: %s (valid fields: %s)", field, s.queryNames())
	}

	var (
		op  QueryOperator
		raw string
	)
	switch len(parts) {
	case 2:
		switch QueryOperator(strings.ToLower(parts[1])) {
		case OpIsNull, OpIsNotNull:
			return QueryFilter{Field: field, Operator: QueryOperator(strings.ToLower(parts[1]))}, nil
		}
		op, raw = OpEq, parts[1]
	case 3:
		op, ok = operators[strings.ToLower(parts[1])]
		if !ok {
			return QueryFilter{}, fmt.Errorf("invalid operator: %s", parts[1])
		}
		raw = parts[2]
	default:
		return QueryFilter{}, fmt.Errorf("invalid query format: %s (expected field|value or field|operator|value)", cond)
	}

	if !kind.allows(op) {
		return QueryFilter{}, fmt.Errorf("operator %s is not supported on %s field %s", op, kind, field)
	}

	if op == OpIn || op == OpNin {
		var values []interface{}
		for _, item := range strings.Split(raw, ",") {
			item = strings.TrimSpace(item)
			if item == "" {
				continue
			}
			v, err := convert(kind, field, item)
			if err != nil {
				return QueryFilter{}, err
			}
			values = append(values, v)
		}
		if len(values) == 0 {
			return QueryFilter{}, fmt.Errorf("%s %s needs at least one value", field, op)
		}
		return QueryFilter{Field: field, Operator: op, Value: values}, nil
	}

	v, err := convert(kind, field, raw)
	if err != nil {
		return QueryFilter{}, err
	}
	return QueryFilter{Field: field, Operator: op, Value: v}, nil
}

// ParseOrder reads comma separated field|direction pairs.
func (s Schema) ParseOrder(raw string) ([]OrderClause, error) {
	var orders []OrderClause
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		field, dir, ok := strings.Cut(pair, "|")
		if !ok {
			return nil, fmt.Errorf("invalid order format: %s (expected field|direction)", pair)
		}
		if !s.orderable(field) {
			return nil, fmt.Errorf("invalid order field: %s (valid fields: %s)", field, strings.Join(s.Order, ", "))
		}
		direction := OrderDirection(strings.ToLower(dir))
		if direction != OrderAsc && direction != OrderDesc {
			return nil, fmt.Errorf("invalid order direction: %s (expected asc or desc)", dir)
		}
		orders = append(orders, OrderClause{Field: field, Direction: direction})
	}
	return orders, nil
}
