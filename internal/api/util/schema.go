package util

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// FieldKind is the column type a query value is converted to.
type FieldKind int

const (
	KindString FieldKind = iota
	KindInt
	KindBool
	KindTime
)

func (k FieldKind) String() string {
	switch k {
	case KindInt:
		return "integer"
	case KindBool:
		return "boolean"
	case KindTime:
		return "datetime"
	default:
		return "string"
	}
}

// Accepted datetime layouts, most specific first. Values without a zone
// are read as UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Schema lists the fields a list endpoint may be queried and ordered by.
type Schema struct {
	Query map[string]FieldKind
	Order []string
}

func (s Schema) queryNames() string {
	names := make([]string, 0, len(s.Query))
	for name := range s.Query {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func (s Schema) orderable(field string) bool {
	for _, f := range s.Order {
		if f == field {
			return true
		}
	}
	return false
}

// convert turns a raw query value into the Go type of its column.
func convert(kind FieldKind, field, raw string) (interface{}, error) {
	switch kind {
	case KindInt:
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s expects an integer, got %q", field, raw)
		}
		return v, nil
	case KindBool:
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("%s expects a boolean, got %q", field, raw)
		}
		return v, nil
	case KindTime:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				return t.UTC(), nil
			}
		}
		return nil, fmt.Errorf("%s expects a datetime, got %q", field, raw)
	default:
		return raw, nil
	}
}

// allows reports whether op makes sense for a column of this kind.
func (k FieldKind) allows(op QueryOperator) bool {
	if k != KindBool {
		return true
	}
	switch op {
	case OpEq, OpNe, OpIsNull, OpIsNotNull:
		return true
	}
	return false
}
