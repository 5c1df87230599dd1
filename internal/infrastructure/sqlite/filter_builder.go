package sqlite

import (
	"fmt"
	"strings"
	"time"

	"github.com/martijn/snapkeep/internal/api/util"
)

// sqlTimeLayout is a prefix of the layout the driver writes with
// _time_format=sqlite. Stored values are UTC, so comparing against this
// prefix as text orders correctly.
const sqlTimeLayout = "2006-01-02 15:04:05"

var comparisons = map[util.QueryOperator]string{
	util.OpEq:  "=",
	util.OpNe:  "!=",
	util.OpGt:  ">",
	util.OpGte: ">=",
	util.OpLt:  "<",
	util.OpLte: "<=",
}

// bindValue turns a typed filter value into a driver argument.
func bindValue(v interface{}) interface{} {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(sqlTimeLayout)
	case bool:
		if t {
			return 1
		}
		return 0
	default:
		return v
	}
}

// filterClause renders one condition. Field names have been checked
// against a schema before they reach here.
func filterClause(f util.QueryFilter) (string, []interface{}) {
	if cmp, ok := comparisons[f.Operator]; ok {
		return fmt.Sprintf("%s %s ?", f.Field, cmp), []interface{}{bindValue(f.Value)}
	}

	switch f.Operator {
	case util.OpIsNull:
		return f.Field + " IS NULL", nil
	case util.OpIsNotNull:
		return f.Field + " IS NOT NULL", nil
	case util.OpIn, util.OpNin:
		values, _ := f.Value.([]interface{})
		if len(values) == 0 {
			return "", nil
		}
		args := make([]interface{}, len(values))
		for i, v := range values {
			args[i] = bindValue(v)
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
		not := ""
		if f.Operator == util.OpNin {
			not = "NOT "
		}
		return fmt.Sprintf("%s %sIN (%s)", f.Field, not, placeholders), args
	}
	return "", nil
}

// ApplyFilters appends each condition to a query that already has a WHERE.
func ApplyFilters(query string, args []interface{}, filters []util.QueryFilter) (string, []interface{}) {
	for _, f := range filters {
		clause, filterArgs := filterClause(f)
		if clause == "" {
			continue
		}
		query += " AND " + clause
		args = append(args, filterArgs...)
	}
	return query, args
}

func ApplyOrdering(query string, orders []util.OrderClause, defaultOrder string) string {
	if len(orders) == 0 {
		return query + " ORDER BY " + defaultOrder
	}
	clauses := make([]string, len(orders))
	for i, o := range orders {
		clauses[i] = o.Field + " " + strings.ToUpper(string(o.Direction))
	}
	return query + " ORDER BY " + strings.Join(clauses, ", ")
}

func ApplyPagination(query string, args []interface{}, filter util.ListFilter) (string, []interface{}) {
	if filter.PerPage <= 0 {
		return query, args
	}
	query += " LIMIT ? OFFSET ?"
	return query, append(args, filter.PerPage, filter.Offset())
}
