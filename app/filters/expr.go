// Package filters maps segment filter fields to SQL sub-predicates
package filters

import (
	"strings"
	"time"

	"github.com/amirphl/company-segments/models"
)

// Dialect selects dialect specific SQL for a translation
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Expr is a SQL boolean fragment with gorm style ? placeholders
type Expr struct {
	SQL  string
	Args []any
}

// IsZero reports whether the expression is empty
func (e Expr) IsZero() bool {
	return e.SQL == ""
}

// And joins non-empty expressions with AND
func And(exprs ...Expr) Expr {
	return join(" AND ", exprs)
}

// Or joins non-empty expressions with OR
func Or(exprs ...Expr) Expr {
	return join(" OR ", exprs)
}

// Not negates the expression
func Not(e Expr) Expr {
	return Expr{SQL: "NOT (" + e.SQL + ")", Args: e.Args}
}

func join(sep string, exprs []Expr) Expr {
	parts := make([]string, 0, len(exprs))
	var args []any
	for _, e := range exprs {
		if e.IsZero() {
			continue
		}
		parts = append(parts, "("+e.SQL+")")
		args = append(args, e.Args...)
	}
	switch len(parts) {
	case 0:
		return Expr{}
	case 1:
		return Expr{SQL: strings.TrimSuffix(strings.TrimPrefix(parts[0], "("), ")"), Args: args}
	}
	return Expr{SQL: strings.Join(parts, sep), Args: args}
}

// TranslateContext carries everything a translator needs besides the node
type TranslateContext struct {
	Alias   string
	Field   FieldDefinition
	Dialect Dialect
	Now     time.Time
}

// Target returns the SQL expression the node is compared against
func (tc TranslateContext) Target() string {
	if tc.Field.Expression != "" {
		return strings.ReplaceAll(tc.Field.Expression, "{alias}", tc.Alias)
	}
	column := tc.Field.Column
	if column == "" {
		column = tc.Field.Field
	}
	if tc.Alias == "" {
		return column
	}
	return tc.Alias + "." + column
}

// Translator turns a filter node into a sub-predicate. handled is false when the
// translator does not know the node and the next translator should be tried.
type Translator interface {
	Translate(tc TranslateContext, node models.FilterNode) (expr Expr, handled bool, err error)
}

// TranslatorFunc adapts a function to Translator
type TranslatorFunc func(tc TranslateContext, node models.FilterNode) (Expr, bool, error)

func (f TranslatorFunc) Translate(tc TranslateContext, node models.FilterNode) (Expr, bool, error) {
	return f(tc, node)
}
