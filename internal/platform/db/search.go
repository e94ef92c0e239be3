package db

import (
	"fmt"
	"strings"
)

// SearchQuery assembles a filtered, paged SELECT with numbered placeholders.
// Column and table names are trusted; only values become arguments.
type SearchQuery struct {
	table   string
	cols    string
	where   []string
	args    []interface{}
	orderBy string
}

func NewSearchQuery(table, cols string) *SearchQuery {
	return &SearchQuery{table: table, cols: cols}
}

// Idx returns the placeholder number the next argument will take.
func (q *SearchQuery) Idx() int { return len(q.args) + 1 }

// Add appends a raw clause. Its placeholders must start at Idx().
func (q *SearchQuery) Add(clause string, args ...interface{}) {
	q.where = append(q.where, clause)
	q.args = append(q.args, args...)
}

func (q *SearchQuery) AddEqual(column string, value interface{}) {
	q.Add(fmt.Sprintf("%s = $%d", column, q.Idx()), value)
}

// AddContains matches value anywhere in column, ignoring case. LIKE
// wildcards in value are matched literally.
func (q *SearchQuery) AddContains(column, value string) {
	q.Add(fmt.Sprintf("%s ILIKE $%d", column, q.Idx()), "%"+escapeLike(value)+"%")
}

// AddAnyContains matches value in any of columns, reusing one argument.
func (q *SearchQuery) AddAnyContains(value string, columns ...string) {
	idx := q.Idx()
	parts := make([]string, len(columns))
	for i, c := range columns {
		parts[i] = fmt.Sprintf("%s ILIKE $%d", c, idx)
	}
	q.Add("("+strings.Join(parts, " OR ")+")", "%"+escapeLike(value)+"%")
}

func (q *SearchQuery) OrderBy(orderBy string) {
	q.orderBy = orderBy
}

func (q *SearchQuery) whereSQL() string {
	if len(q.where) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(q.where, " AND ")
}

func (q *SearchQuery) CountSQL() string {
	return "SELECT COUNT(*) FROM " + q.table + q.whereSQL()
}

func (q *SearchQuery) CountArgs() []interface{} {
	return q.args
}

func (q *SearchQuery) DataSQL() string {
	sql := "SELECT " + q.cols + " FROM " + q.table + q.whereSQL()
	if q.orderBy != "" {
		sql += " ORDER BY " + q.orderBy
	}
	return sql + fmt.Sprintf(" LIMIT $%d OFFSET $%d", q.Idx(), q.Idx()+1)
}

func (q *SearchQuery) DataArgs(limit, offset int) []interface{} {
	out := make([]interface{}, 0, len(q.args)+2)
	out = append(out, q.args...)
	return append(out, limit, offset)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
