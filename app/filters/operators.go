package filters

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/company-segments/models"
)

// ErrUnsupported is returned when no translator exists for a field type and operator
var ErrUnsupported = errors.New("unsupported filter operator")

// OperatorFunc translates one operator for one field type
type OperatorFunc func(tc TranslateContext, node models.FilterNode) (Expr, error)

type operatorKey struct {
	fieldType models.FieldType
	operator  models.FilterOperator
}

var (
	textOperators = []models.FilterOperator{
		models.OpEq, models.OpNeq, models.OpEmpty, models.OpNotEmpty,
		models.OpLike, models.OpNotLike, models.OpRegexp, models.OpNotRegexp,
		models.OpStartsWith, models.OpEndsWith, models.OpContains,
		models.OpIn, models.OpNotIn,
	}
	numberOperators = []models.FilterOperator{
		models.OpEq, models.OpNeq, models.OpGt, models.OpGte, models.OpLt, models.OpLte,
		models.OpBetween, models.OpEmpty, models.OpNotEmpty, models.OpIn, models.OpNotIn,
	}
	booleanOperators = []models.FilterOperator{models.OpEq, models.OpNeq}
	dateOperators    = []models.FilterOperator{
		models.OpEq, models.OpNeq, models.OpGt, models.OpGte, models.OpLt, models.OpLte,
		models.OpBetween, models.OpEmpty, models.OpNotEmpty,
		models.OpLike, models.OpNotLike, models.OpRegexp, models.OpNotRegexp,
		models.OpStartsWith, models.OpEndsWith, models.OpContains,
	}
	selectOperators = []models.FilterOperator{
		models.OpEq, models.OpNeq, models.OpIn, models.OpNotIn, models.OpEmpty, models.OpNotEmpty,
	}
	segmentOperators = []models.FilterOperator{
		models.OpIn, models.OpNotIn, models.OpExists, models.OpNotExists,
	}
)

// DefaultOperators returns the operators allowed for a field type
func DefaultOperators(fieldType models.FieldType) []models.FilterOperator {
	switch fieldType {
	case models.FieldTypeText:
		return textOperators
	case models.FieldTypeNumber:
		return numberOperators
	case models.FieldTypeBoolean:
		return booleanOperators
	case models.FieldTypeDate, models.FieldTypeDateTime:
		return dateOperators
	case models.FieldTypeSelect:
		return selectOperators
	case models.FieldTypeSegment:
		return segmentOperators
	default:
		return nil
	}
}

var builtinOperators = map[operatorKey]OperatorFunc{}

func register(fieldTypes []models.FieldType, op models.FilterOperator, fn OperatorFunc) {
	for _, ft := range fieldTypes {
		builtinOperators[operatorKey{ft, op}] = fn
	}
}

func init() {
	text := []models.FieldType{models.FieldTypeText, models.FieldTypeSelect}
	number := []models.FieldType{models.FieldTypeNumber}
	boolean := []models.FieldType{models.FieldTypeBoolean}
	dates := []models.FieldType{models.FieldTypeDate, models.FieldTypeDateTime}

	register(text, models.OpEq, textCompare("="))
	register(text, models.OpNeq, nullable(textCompare("<>")))
	register(text, models.OpIn, textIn(false))
	register(text, models.OpNotIn, textIn(true))
	register(text, models.OpEmpty, textEmpty(false))
	register(text, models.OpNotEmpty, textEmpty(true))
	register(text, models.OpLike, patternLike(false))
	register(text, models.OpNotLike, patternLike(true))
	register(text, models.OpStartsWith, patternAffix("", "%"))
	register(text, models.OpEndsWith, patternAffix("%", ""))
	register(text, models.OpContains, patternAffix("%", "%"))
	register(text, models.OpRegexp, patternRegexp(false))
	register(text, models.OpNotRegexp, patternRegexp(true))

	register(number, models.OpEq, numberCompare("="))
	register(number, models.OpNeq, nullable(numberCompare("<>")))
	register(number, models.OpGt, numberCompare(">"))
	register(number, models.OpGte, numberCompare(">="))
	register(number, models.OpLt, numberCompare("<"))
	register(number, models.OpLte, numberCompare("<="))
	register(number, models.OpBetween, numberBetween)
	register(number, models.OpIn, numberIn(false))
	register(number, models.OpNotIn, numberIn(true))
	register(number, models.OpEmpty, isNull(false))
	register(number, models.OpNotEmpty, isNull(true))

	register(boolean, models.OpEq, booleanCompare(false))
	register(boolean, models.OpNeq, booleanCompare(true))

	register(dates, models.OpEq, dateEq(false))
	register(dates, models.OpNeq, dateEq(true))
	register(dates, models.OpGt, dateCompare(models.OpGt))
	register(dates, models.OpGte, dateCompare(models.OpGte))
	register(dates, models.OpLt, dateCompare(models.OpLt))
	register(dates, models.OpLte, dateCompare(models.OpLte))
	register(dates, models.OpBetween, dateBetween)
	register(dates, models.OpEmpty, isNull(false))
	register(dates, models.OpNotEmpty, isNull(true))
	register(dates, models.OpLike, onText(patternLike(false)))
	register(dates, models.OpNotLike, onText(patternLike(true)))
	register(dates, models.OpStartsWith, onText(patternAffix("", "%")))
	register(dates, models.OpEndsWith, onText(patternAffix("%", "")))
	register(dates, models.OpContains, onText(patternAffix("%", "%")))
	register(dates, models.OpRegexp, onText(patternRegexp(false)))
	register(dates, models.OpNotRegexp, onText(patternRegexp(true)))
}

// TranslateBuiltin applies the built-in translator for the node's field type and operator
func TranslateBuiltin(tc TranslateContext, node models.FilterNode) (Expr, error) {
	fn, ok := builtinOperators[operatorKey{tc.Field.Type, node.Operator}]
	if !ok {
		return Expr{}, fmt.Errorf("%w: %s on %s field %q", ErrUnsupported, node.Operator, tc.Field.Type, node.Field)
	}
	return fn(tc, node)
}

// nullable makes a negative comparison also match rows where the target is NULL
func nullable(fn OperatorFunc) OperatorFunc {
	return func(tc TranslateContext, node models.FilterNode) (Expr, error) {
		e, err := fn(tc, node)
		if err != nil {
			return Expr{}, err
		}
		return Or(e, Expr{SQL: tc.Target() + " IS NULL"}), nil
	}
}

// onText compares the target's text rendering
func onText(fn OperatorFunc) OperatorFunc {
	return func(tc TranslateContext, node models.FilterNode) (Expr, error) {
		target := tc.Target()
		tc.Field.Expression = "CAST(" + target + " AS TEXT)"
		return fn(tc, node)
	}
}

func textCompare(op string) OperatorFunc {
	return func(tc TranslateContext, node models.FilterNode) (Expr, error) {
		return Expr{SQL: fmt.Sprintf("%s %s ?", tc.Target(), op), Args: []any{node.Value.First()}}, nil
	}
}

func textBetween(tc TranslateContext, node models.FilterNode) (Expr, error) {
	target := tc.Target()
	return Expr{SQL: fmt.Sprintf("%s >= ? AND %s <= ?", target, target), Args: []any{node.Value.Items[0], node.Value.Items[1]}}, nil
}

func textIn(negate bool) OperatorFunc {
	return func(tc TranslateContext, node models.FilterNode) (Expr, error) {
		values := append([]string(nil), node.Value.Items...)
		if negate {
			return Or(Expr{SQL: tc.Target() + " NOT IN ?", Args: []any{values}}, Expr{SQL: tc.Target() + " IS NULL"}), nil
		}
		return Expr{SQL: tc.Target() + " IN ?", Args: []any{values}}, nil
	}
}

func textEmpty(negate bool) OperatorFunc {
	return func(tc TranslateContext, node models.FilterNode) (Expr, error) {
		t := tc.Target()
		if negate {
			return Expr{SQL: fmt.Sprintf("%s IS NOT NULL AND %s <> ''", t, t)}, nil
		}
		return Expr{SQL: fmt.Sprintf("%s IS NULL OR %s = ''", t, t)}, nil
	}
}

func isNull(negate bool) OperatorFunc {
	return func(tc TranslateContext, node models.FilterNode) (Expr, error) {
		if negate {
			return Expr{SQL: tc.Target() + " IS NOT NULL"}, nil
		}
		return Expr{SQL: tc.Target() + " IS NULL"}, nil
	}
}

func patternLike(negate bool) OperatorFunc {
	return func(tc TranslateContext, node models.FilterNode) (Expr, error) {
		v := node.Value.First()
		if !strings.Contains(v, "%") {
			v = "%" + v + "%"
		}
		if negate {
			return Or(Expr{SQL: tc.Target() + " NOT LIKE ?", Args: []any{v}}, Expr{SQL: tc.Target() + " IS NULL"}), nil
		}
		return Expr{SQL: tc.Target() + " LIKE ?", Args: []any{v}}, nil
	}
}

func patternAffix(prefix, suffix string) OperatorFunc {
	return func(tc TranslateContext, node models.FilterNode) (Expr, error) {
		v := prefix + EscapeLike(node.Value.First()) + suffix
		return Expr{SQL: tc.Target() + ` LIKE ? ESCAPE '\'`, Args: []any{v}}, nil
	}
}

func patternRegexp(negate bool) OperatorFunc {
	return func(tc TranslateContext, node models.FilterNode) (Expr, error) {
		if tc.Dialect != DialectPostgres {
			return Expr{}, fmt.Errorf("%w: %s is not available on %s", ErrUnsupported, node.Operator, tc.Dialect)
		}
		if negate {
			return Or(Expr{SQL: tc.Target() + " !~ ?", Args: []any{node.Value.First()}}, Expr{SQL: tc.Target() + " IS NULL"}), nil
		}
		return Expr{SQL: tc.Target() + " ~ ?", Args: []any{node.Value.First()}}, nil
	}
}

// EscapeLike escapes LIKE metacharacters using backslash
func EscapeLike(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(v)
}

func parseNumbers(node models.FilterNode) ([]float64, error) {
	out := make([]float64, 0, len(node.Value.Items))
	for _, item := range node.Value.Items {
		f, err := strconv.ParseFloat(strings.TrimSpace(item), 64)
		if err != nil {
			return nil, fmt.Errorf("filter %q: %q is not a number", node.Field, item)
		}
		out = append(out, f)
	}
	return out, nil
}

func numberCompare(op string) OperatorFunc {
	return func(tc TranslateContext, node models.FilterNode) (Expr, error) {
		nums, err := parseNumbers(node)
		if err != nil {
			return Expr{}, err
		}
		if len(nums) == 0 {
			return Expr{}, fmt.Errorf("filter %q: value is required", node.Field)
		}
		return Expr{SQL: fmt.Sprintf("%s %s ?", tc.Target(), op), Args: []any{nums[0]}}, nil
	}
}

func numberBetween(tc TranslateContext, node models.FilterNode) (Expr, error) {
	nums, err := parseNumbers(node)
	if err != nil {
		return Expr{}, err
	}
	if len(nums) != 2 {
		return Expr{}, fmt.Errorf("filter %q: between requires two values", node.Field)
	}
	return Expr{SQL: tc.Target() + " BETWEEN ? AND ?", Args: []any{nums[0], nums[1]}}, nil
}

func numberIn(negate bool) OperatorFunc {
	return func(tc TranslateContext, node models.FilterNode) (Expr, error) {
		nums, err := parseNumbers(node)
		if err != nil {
			return Expr{}, err
		}
		if negate {
			return Or(Expr{SQL: tc.Target() + " NOT IN ?", Args: []any{nums}}, Expr{SQL: tc.Target() + " IS NULL"}), nil
		}
		return Expr{SQL: tc.Target() + " IN ?", Args: []any{nums}}, nil
	}
}

func booleanCompare(negate bool) OperatorFunc {
	return func(tc TranslateContext, node models.FilterNode) (Expr, error) {
		b, err := models.ParseFilterBool(node.Value.First())
		if err != nil {
			return Expr{}, fmt.Errorf("filter %q: %w", node.Field, err)
		}
		if negate {
			return Or(Expr{SQL: tc.Target() + " <> ?", Args: []any{b}}, Expr{SQL: tc.Target() + " IS NULL"}), nil
		}
		return Expr{SQL: tc.Target() + " = ?", Args: []any{b}}, nil
	}
}

func parseDate(tc TranslateContext, node models.FilterNode, v string) (time.Time, bool, error) {
	t, dateOnly, err := models.ParseFilterDate(v, tc.Now)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("filter %q: %w", node.Field, err)
	}
	return t, dateOnly, nil
}

func dateEq(negate bool) OperatorFunc {
	return func(tc TranslateContext, node models.FilterNode) (Expr, error) {
		v := node.Value.First()
		if models.HasValuePlaceholder(v) {
			op := textCompare("=")
			if strings.Contains(v, "%") {
				op = patternLike(false)
			}
			if negate {
				op = nullable(textCompare("<>"))
			}
			return onText(op)(tc, node)
		}

		t, dateOnly, err := parseDate(tc, node, v)
		if err != nil {
			return Expr{}, err
		}
		target := tc.Target()
		if !dateOnly {
			if negate {
				return Or(Expr{SQL: target + " <> ?", Args: []any{t}}, Expr{SQL: target + " IS NULL"}), nil
			}
			return Expr{SQL: target + " = ?", Args: []any{t}}, nil
		}

		next := t.AddDate(0, 0, 1)
		if negate {
			return Expr{SQL: fmt.Sprintf("%s < ? OR %s >= ? OR %s IS NULL", target, target, target), Args: []any{t, next}}, nil
		}
		return Expr{SQL: fmt.Sprintf("%s >= ? AND %s < ?", target, target), Args: []any{t, next}}, nil
	}
}

// dateCompare widens date-only bounds to whole days: "> 2024-01-02" starts on the 3rd.
func dateCompare(op models.FilterOperator) OperatorFunc {
	return func(tc TranslateContext, node models.FilterNode) (Expr, error) {
		if models.HasValuePlaceholder(node.Value.First()) {
			return onText(textCompare(dateCompareSQL[op]))(tc, node)
		}
		t, dateOnly, err := parseDate(tc, node, node.Value.First())
		if err != nil {
			return Expr{}, err
		}
		target := tc.Target()

		switch op {
		case models.OpGt:
			if dateOnly {
				return Expr{SQL: target + " >= ?", Args: []any{t.AddDate(0, 0, 1)}}, nil
			}
			return Expr{SQL: target + " > ?", Args: []any{t}}, nil
		case models.OpGte:
			return Expr{SQL: target + " >= ?", Args: []any{t}}, nil
		case models.OpLt:
			return Expr{SQL: target + " < ?", Args: []any{t}}, nil
		default:
			if dateOnly {
				return Expr{SQL: target + " < ?", Args: []any{t.AddDate(0, 0, 1)}}, nil
			}
			return Expr{SQL: target + " <= ?", Args: []any{t}}, nil
		}
	}
}

var dateCompareSQL = map[models.FilterOperator]string{
	models.OpGt:  ">",
	models.OpGte: ">=",
	models.OpLt:  "<",
	models.OpLte: "<=",
}

// placeholder bounds compare as text
func dateBetween(tc TranslateContext, node models.FilterNode) (Expr, error) {
	if len(node.Value.Items) != 2 {
		return Expr{}, fmt.Errorf("filter %q: between requires two values", node.Field)
	}
	if models.HasValuePlaceholder(node.Value.Items[0]) || models.HasValuePlaceholder(node.Value.Items[1]) {
		return onText(textBetween)(tc, node)
	}
	from, _, err := parseDate(tc, node, node.Value.Items[0])
	if err != nil {
		return Expr{}, err
	}
	to, toDateOnly, err := parseDate(tc, node, node.Value.Items[1])
	if err != nil {
		return Expr{}, err
	}
	target := tc.Target()
	if toDateOnly {
		return Expr{SQL: fmt.Sprintf("%s >= ? AND %s < ?", target, target), Args: []any{from, to.AddDate(0, 0, 1)}}, nil
	}
	return Expr{SQL: fmt.Sprintf("%s >= ? AND %s <= ?", target, target), Args: []any{from, to}}, nil
}
