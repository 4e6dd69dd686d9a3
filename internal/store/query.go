package store

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// buildWhere turns the whitelisted subset of a filter map into a WHERE
// clause with positional args. Keys are iterated in sorted order so the
// generated SQL is deterministic.
func buildWhere(filter map[string]any, allowed map[string]string) (string, []any) {
	if len(filter) == 0 {
		return "", nil
	}

	keys := make([]string, 0, len(filter))
	for k := range filter {
		if _, ok := allowed[k]; ok {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return "", nil
	}
	sort.Strings(keys)

	var conds []string
	var args []any
	for _, k := range keys {
		args = append(args, filter[k])
		// Slice values become membership tests.
		if reflect.ValueOf(filter[k]).Kind() == reflect.Slice {
			conds = append(conds, fmt.Sprintf("%s = ANY($%d)", allowed[k], len(args)))
		} else {
			conds = append(conds, fmt.Sprintf("%s = $%d", allowed[k], len(args)))
		}
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// orderAndPage appends ORDER BY / LIMIT / OFFSET for a normalized query.
// The sort column comes from a whitelist; argOffset is the number of
// args already bound by the WHERE clause.
func orderAndPage(q Query, sortable map[string]string, argOffset int) string {
	col, ok := sortable[strings.TrimPrefix(q.SortBy, "-")]
	if !ok {
		col = "created_at"
	}
	dir := "ASC"
	if strings.HasPrefix(q.SortBy, "-") {
		dir = "DESC"
	}
	return fmt.Sprintf(" ORDER BY %s %s LIMIT $%d OFFSET $%d", col, dir, argOffset+1, argOffset+2)
}
