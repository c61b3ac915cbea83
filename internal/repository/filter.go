package repository

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// where collects AND-ed conditions with Postgres positional arguments. Every
// list query starts from the tenant column so rows never cross tenants.
type where struct {
	conds []string
	args  []interface{}
}

func tenantScoped(column, tenantID string) *where {
	w := &where{}
	w.add(column+" = ?", tenantID)
	return w
}

// add appends cond bound to arg. Each ? in cond refers to the same argument.
func (w *where) add(cond string, arg interface{}) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(w.args))))
}

// eq adds column = value unless value is empty.
func (w *where) eq(column, value string) {
	if value != "" {
		w.add(column+" = ?", value)
	}
}

// contains adds a case-insensitive substring match over columns.
func (w *where) contains(term string, columns ...string) {
	if term == "" || len(columns) == 0 {
		return
	}
	parts := make([]string, len(columns))
	for i, col := range columns {
		parts[i] = "LOWER(" + col + ") LIKE ?"
	}
	w.add("("+strings.Join(parts, " OR ")+")", "%"+strings.ToLower(term)+"%")
}

func (w *where) String() string {
	return "WHERE " + strings.Join(w.conds, " AND ")
}

// ordering whitelists sortable keys so request input never reaches SQL.
type ordering struct {
	columns      map[string]string
	defaultKey   string
	defaultOrder string
	tiebreak     string
}

func (o ordering) clause(key, order string) string {
	col, ok := o.columns[key]
	if !ok {
		col = o.columns[o.defaultKey]
	}
	dir := strings.ToUpper(order)
	if dir != "ASC" && dir != "DESC" {
		dir = o.defaultOrder
	}
	out := "ORDER BY " + col + " " + dir
	if o.tiebreak != "" {
		out += ", " + o.tiebreak
	}
	return out
}

// pageClause clamps page and size and renders LIMIT/OFFSET.
func pageClause(page, size int) string {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > maxPageSize {
		size = defaultPageSize
	}
	return fmt.Sprintf("LIMIT %d OFFSET %d", size, (page-1)*size)
}
