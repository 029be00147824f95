package sqlite

import (
	"fmt"
	"strings"
)

// Where builds a WHERE clause from equality conditions.
type Where struct {
	keys []string
	vals []interface{}
}

func NewWhere() *Where {
	return &Where{
		keys: make([]string, 0),
		vals: make([]interface{}, 0),
	}
}

// Add adds `k = v` condition.
func (w *Where) Add(k string, v interface{}) {
	w.keys = append(w.keys, k)
	w.vals = append(w.vals, v)
}

// AddIfNotEmpty adds `k = v` condition only when v isn't empty.
// Empty filter fields mean "match everything".
func (w *Where) AddIfNotEmpty(k string, v string) {
	if v == "" {
		return
	}
	w.Add(k, v)
}

// Stmt returns the clause with a leading space, or an empty string
// when there is no condition.
func (w *Where) Stmt() string {
	if len(w.keys) == 0 {
		return ""
	}
	conds := make([]string, len(w.keys))
	for i, k := range w.keys {
		conds[i] = fmt.Sprintf("%v = ?", k)
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

func (w *Where) Vals() []interface{} {
	return w.vals
}
