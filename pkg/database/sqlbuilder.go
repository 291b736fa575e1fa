package database

import (
	"fmt"
	"strings"

	"github.com/huandu/go-sqlbuilder"
)

// Excluded references the row proposed for insertion inside ON CONFLICT clauses.
func Excluded(column string) string {
	return fmt.Sprintf("EXCLUDED.%s", column)
}

// OnConflictUpdate renders an ON CONFLICT ... DO UPDATE suffix that copies the
// listed columns from the proposed row. An optional predicate narrows the
// conflict target for partial unique indexes.
func OnConflictUpdate(conflict []string, where string, columns ...string) string {
	sets := make([]string, 0, len(columns))
	for _, col := range columns {
		sets = append(sets, fmt.Sprintf("%s = %s", col, Excluded(col)))
	}

	target := "(" + strings.Join(conflict, ", ") + ")"
	if where != "" {
		target += " WHERE " + where
	}
	return fmt.Sprintf(" ON CONFLICT %s DO UPDATE SET %s", target, strings.Join(sets, ", "))
}

// OnConflictDoNothing is the insert-if-absent suffix.
func OnConflictDoNothing() string {
	return " ON CONFLICT DO NOTHING"
}

func NewInsertBuilder() *sqlbuilder.InsertBuilder {
	return sqlbuilder.PostgreSQL.NewInsertBuilder()
}

func NewSelectBuilder() *sqlbuilder.SelectBuilder {
	return sqlbuilder.PostgreSQL.NewSelectBuilder()
}

func NewUpdateBuilder() *sqlbuilder.UpdateBuilder {
	return sqlbuilder.PostgreSQL.NewUpdateBuilder()
}
