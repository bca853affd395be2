package filters

import (
	"errors"
	"testing"
	"time"

	"github.com/amirphl/company-segments/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func translate(t *testing.T, r *Registry, dialect Dialect, node models.FilterNode) (Expr, error) {
	t.Helper()
	def, ok := r.Lookup(node.Object, node.Field)
	require.True(t, ok, "field %s not registered", node.Field)
	tc := TranslateContext{
		Alias:   "c",
		Field:   def,
		Dialect: dialect,
		Now:     time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC),
	}
	return TranslateBuiltin(tc, node)
}

func TestTranslateBuiltin(t *testing.T) {
	r := NewCompanyRegistry()
	day := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		node    models.FilterNode
		dialect Dialect
		sql     string
		args    []any
	}{
		{
			name: "text equality",
			node: models.FilterNode{Field: "companyname", Object: models.FilterObjectCompany, Operator: models.OpEq, Value: models.ScalarValue("Acme")},
			sql:  "c.companyname = ?",
			args: []any{"Acme"},
		},
		{
			name: "text inequality matches null",
			node: models.FilterNode{Field: "companycity", Object: models.FilterObjectCompany, Operator: models.OpNeq, Value: models.ScalarValue("Paris")},
			sql:  "(c.companycity <> ?) OR (c.companycity IS NULL)",
			args: []any{"Paris"},
		},
		{
			name: "like wraps bare value",
			node: models.FilterNode{Field: "companyname", Object: models.FilterObjectCompany, Operator: models.OpLike, Value: models.ScalarValue("corp")},
			sql:  "c.companyname LIKE ?",
			args: []any{"%corp%"},
		},
		{
			name: "starts with escapes metacharacters",
			node: models.FilterNode{Field: "companyname", Object: models.FilterObjectCompany, Operator: models.OpStartsWith, Value: models.ScalarValue("50%_")},
			sql:  `c.companyname LIKE ? ESCAPE '\'`,
			args: []any{`50\%\_%`},
		},
		{
			name: "number range",
			node: models.FilterNode{Field: "companyrevenue", Object: models.FilterObjectCompany, Operator: models.OpGte, Value: models.ScalarValue("100000")},
			sql:  "c.companyrevenue >= ?",
			args: []any{float64(100000)},
		},
		{
			name: "number in",
			node: models.FilterNode{Field: "companynumber_of_employees", Object: models.FilterObjectCompany, Operator: models.OpIn, Value: models.ListValue("5", "10")},
			sql:  "c.companynumber_of_employees IN ?",
			args: []any{[]float64{5, 10}},
		},
		{
			name: "boolean",
			node: models.FilterNode{Field: "is_published", Object: models.FilterObjectCompany, Operator: models.OpEq, Value: models.ScalarValue("1")},
			sql:  "c.is_published = ?",
			args: []any{true},
		},
		{
			name: "date equality covers the day",
			node: models.FilterNode{Field: "date_added", Object: models.FilterObjectCompany, Operator: models.OpEq, Value: models.ScalarValue("today")},
			sql:  "c.date_added >= ? AND c.date_added < ?",
			args: []any{day, day.AddDate(0, 0, 1)},
		},
		{
			name: "date after a day starts the next day",
			node: models.FilterNode{Field: "date_added", Object: models.FilterObjectCompany, Operator: models.OpGt, Value: models.ScalarValue("2024-05-01")},
			sql:  "c.date_added >= ?",
			args: []any{time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)},
		},
		{
			name: "date bound with placeholder compares text",
			node: models.FilterNode{Field: "date_added", Object: models.FilterObjectCompany, Operator: models.OpGt, Value: models.ScalarValue("{today}")},
			sql:  "CAST(c.date_added AS TEXT) > ?",
			args: []any{"{today}"},
		},
		{
			name: "date range with wildcard compares text",
			node: models.FilterNode{Field: "date_added", Object: models.FilterObjectCompany, Operator: models.OpBetween, Value: models.ListValue("2024-05%", "2024-06-01")},
			sql:  "CAST(c.date_added AS TEXT) >= ? AND CAST(c.date_added AS TEXT) <= ?",
			args: []any{"2024-05%", "2024-06-01"},
		},
		{
			name: "date pattern compares text",
			node: models.FilterNode{Field: "date_added", Object: models.FilterObjectCompany, Operator: models.OpStartsWith, Value: models.ScalarValue("2024-05")},
			sql:  `CAST(c.date_added AS TEXT) LIKE ? ESCAPE '\'`,
			args: []any{"2024-05%"},
		},
		{
			name: "empty text",
			node: models.FilterNode{Field: "companyemail", Object: models.FilterObjectCompany, Operator: models.OpEmpty},
			sql:  "c.companyemail IS NULL OR c.companyemail = ''",
		},
		{
			name:    "postgres regexp",
			node:    models.FilterNode{Field: "companyname", Object: models.FilterObjectCompany, Operator: models.OpRegexp, Value: models.ScalarValue("^Ac")},
			dialect: DialectPostgres,
			sql:     "c.companyname ~ ?",
			args:    []any{"^Ac"},
		},
		{
			name: "synthesized attribute",
			node: models.FilterNode{Field: "segment_count", Object: models.FilterObjectCompany, Operator: models.OpGt, Value: models.ScalarValue("0")},
			sql: "(SELECT COUNT(*) FROM company_segment_members sc " +
				"WHERE sc.company_id = c.id AND sc.manually_removed = false) > ?",
			args: []any{float64(0)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dialect := tt.dialect
			if dialect == "" {
				dialect = DialectSQLite
			}
			expr, err := translate(t, r, dialect, tt.node)
			require.NoError(t, err)
			assert.Equal(t, tt.sql, expr.SQL)
			assert.Equal(t, tt.args, expr.Args)
		})
	}
}

func TestDatePlaceholdersThatValidateAlsoTranslate(t *testing.T) {
	r := NewCompanyRegistry()
	ops := []models.FilterOperator{models.OpEq, models.OpNeq, models.OpGt, models.OpGte, models.OpLt, models.OpLte}

	for _, op := range ops {
		for _, v := range []string{"{today}", "2024-%"} {
			node := models.FilterNode{Field: "date_added", Object: models.FilterObjectCompany, Operator: op, Value: models.ScalarValue(v), Glue: models.FilterGlueAnd}
			require.NoError(t, models.FilterList{node}.Validate(r), "%s %s", op, v)
			_, err := translate(t, r, DialectSQLite, node)
			assert.NoError(t, err, "%s %s", op, v)
		}
	}

	between := models.FilterNode{Field: "date_added", Object: models.FilterObjectCompany, Operator: models.OpBetween, Value: models.ListValue("{from}", "{to}"), Glue: models.FilterGlueAnd}
	require.NoError(t, models.FilterList{between}.Validate(r))
	_, err := translate(t, r, DialectSQLite, between)
	assert.NoError(t, err)
}

func TestTranslateBuiltinUnsupported(t *testing.T) {
	r := NewCompanyRegistry()

	_, err := translate(t, r, DialectSQLite, models.FilterNode{
		Field: "companyname", Object: models.FilterObjectCompany, Operator: models.OpGt, Value: models.ScalarValue("a"),
	})
	assert.True(t, errors.Is(err, ErrUnsupported))

	_, err = translate(t, r, DialectSQLite, models.FilterNode{
		Field: "companyname", Object: models.FilterObjectCompany, Operator: models.OpRegexp, Value: models.ScalarValue("a"),
	})
	assert.True(t, errors.Is(err, ErrUnsupported))
}

func TestRegistry(t *testing.T) {
	r := NewCompanyRegistry()

	ft, ops, ok := r.LookupField(models.FilterObjectCompany, "companyrevenue")
	require.True(t, ok)
	assert.Equal(t, models.FieldTypeNumber, ft)
	assert.Contains(t, ops, models.OpBetween)

	_, _, ok = r.LookupField(models.FilterObjectCompany, "missing")
	assert.False(t, ok)

	err := r.Register(FieldDefinition{Object: models.FilterObjectCompany, Field: "companyname", Type: models.FieldTypeText})
	assert.Error(t, err)

	err = r.Register(FieldDefinition{Object: models.FilterObjectCompany, Field: models.SegmentReferenceField, Type: models.FieldTypeSegment})
	assert.Error(t, err)

	err = r.Register(FieldDefinition{Object: "lead", Field: "score", Type: models.FieldTypeNumber})
	require.NoError(t, err)
	_, ok = r.Lookup("lead", "score")
	assert.True(t, ok)

	fields := r.Fields()
	assert.Equal(t, models.FilterObjectCompany, fields[0].Object)
}

func TestExprJoin(t *testing.T) {
	a := Expr{SQL: "a = ?", Args: []any{1}}
	b := Expr{SQL: "b = ?", Args: []any{2}}

	assert.Equal(t, "(a = ?) AND (b = ?)", And(a, b).SQL)
	assert.Equal(t, []any{1, 2}, Or(a, b).Args)
	assert.Equal(t, "a = ?", And(a, Expr{}).SQL)
	assert.True(t, Or().IsZero())
	assert.Equal(t, "NOT (a = ?)", Not(a).SQL)
}
