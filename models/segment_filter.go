package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidFilter is matched by every InvalidFilterError via errors.Is
var ErrInvalidFilter = errors.New("invalid segment filter")

// SegmentReferenceField is the reserved field name of a "member of segment" filter
const SegmentReferenceField = "company_segments"

// FilterObject names the entity a filter field belongs to
type FilterObject string

const (
	FilterObjectCompany FilterObject = "company"
	FilterObjectSegment FilterObject = "segment"
)

// FilterGlue joins a filter node to the previous one
type FilterGlue string

const (
	FilterGlueAnd FilterGlue = "and"
	FilterGlueOr  FilterGlue = "or"
)

// FieldType is the declared type of a filterable field
type FieldType string

const (
	FieldTypeText     FieldType = "text"
	FieldTypeNumber   FieldType = "number"
	FieldTypeBoolean  FieldType = "boolean"
	FieldTypeDate     FieldType = "date"
	FieldTypeDateTime FieldType = "datetime"
	FieldTypeSelect   FieldType = "select"
	FieldTypeSegment  FieldType = "segment"
)

// FilterOperator is the comparison applied by a filter node
type FilterOperator string

const (
	OpEq         FilterOperator = "eq"
	OpNeq        FilterOperator = "neq"
	OpGt         FilterOperator = "gt"
	OpGte        FilterOperator = "gte"
	OpLt         FilterOperator = "lt"
	OpLte        FilterOperator = "lte"
	OpBetween    FilterOperator = "between"
	OpEmpty      FilterOperator = "empty"
	OpNotEmpty   FilterOperator = "notEmpty"
	OpLike       FilterOperator = "like"
	OpNotLike    FilterOperator = "notLike"
	OpRegexp     FilterOperator = "regexp"
	OpNotRegexp  FilterOperator = "notRegexp"
	OpStartsWith FilterOperator = "startsWith"
	OpEndsWith   FilterOperator = "endsWith"
	OpContains   FilterOperator = "contains"
	OpIn         FilterOperator = "in"
	OpNotIn      FilterOperator = "notIn"
	OpExists     FilterOperator = "exists"
	OpNotExists  FilterOperator = "notExists"
)

// IsPattern reports whether the operator matches text patterns rather than typed values
func (o FilterOperator) IsPattern() bool {
	switch o {
	case OpLike, OpNotLike, OpRegexp, OpNotRegexp, OpStartsWith, OpEndsWith, OpContains:
		return true
	default:
		return false
	}
}

// IsInclusive reports whether a segment-reference operator selects members
func (o FilterOperator) IsInclusive() bool {
	return o == OpIn || o == OpExists
}

// TakesNoValue reports whether the operator ignores the node value
func (o FilterOperator) TakesNoValue() bool {
	return o == OpEmpty || o == OpNotEmpty
}

// FieldTypeLookup resolves the declared type and allowed operators of a field
type FieldTypeLookup interface {
	LookupField(object FilterObject, field string) (FieldType, []FilterOperator, bool)
}

// FilterValue holds a scalar or list filter value, normalized to strings
type FilterValue struct {
	Items []string
	List  bool
}

// ScalarValue builds a single-valued FilterValue
func ScalarValue(v string) FilterValue {
	return FilterValue{Items: []string{v}}
}

// ListValue builds a list FilterValue
func ListValue(v ...string) FilterValue {
	return FilterValue{Items: v, List: true}
}

// First returns the first item or an empty string
func (v FilterValue) First() string {
	if len(v.Items) == 0 {
		return ""
	}
	return v.Items[0]
}

// IsEmpty reports whether the value carries no items
func (v FilterValue) IsEmpty() bool {
	return len(v.Items) == 0
}

func (v FilterValue) MarshalJSON() ([]byte, error) {
	if v.List {
		items := v.Items
		if items == nil {
			items = []string{}
		}
		return json.Marshal(items)
	}
	if len(v.Items) == 0 {
		return []byte("null"), nil
	}
	return json.Marshal(v.Items[0])
}

func (v *FilterValue) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch t := raw.(type) {
	case nil:
		*v = FilterValue{}
	case []any:
		items := make([]string, 0, len(t))
		for _, item := range t {
			s, err := stringifyJSONScalar(item)
			if err != nil {
				return err
			}
			items = append(items, s)
		}
		*v = FilterValue{Items: items, List: true}
	default:
		s, err := stringifyJSONScalar(t)
		if err != nil {
			return err
		}
		*v = FilterValue{Items: []string{s}}
	}
	return nil
}

func stringifyJSONScalar(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(t), nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("unsupported filter value of type %T", v)
	}
}

// FilterNode is one criterion of a segment filter tree
type FilterNode struct {
	Field    string         `json:"field"`
	Object   FilterObject   `json:"object"`
	Operator FilterOperator `json:"operator"`
	Value    FilterValue    `json:"filter"`
	Glue     FilterGlue     `json:"glue"`
}

// IsSegmentReference reports whether the node selects by membership in other segments
func (n FilterNode) IsSegmentReference() bool {
	return n.Field == SegmentReferenceField
}

// SegmentIDs parses the referenced segment ids of a segment-reference node
func (n FilterNode) SegmentIDs() ([]uint, error) {
	ids := make([]uint, 0, len(n.Value.Items))
	for _, item := range n.Value.Items {
		id, err := strconv.ParseUint(strings.TrimSpace(item), 10, 64)
		if err != nil || id == 0 {
			return nil, fmt.Errorf("segment reference %q is not a positive id", item)
		}
		ids = append(ids, uint(id))
	}
	return ids, nil
}

// FilterList is the ordered filter tree of a segment, stored as JSON
type FilterList []FilterNode

// Value implements the driver.Valuer interface for FilterList
func (l FilterList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for FilterList
func (l *FilterList) Scan(value any) error {
	if value == nil {
		*l = FilterList{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into FilterList", value)
	}

	return json.Unmarshal(bytes, l)
}

// GlueAt returns the effective glue of node i. The first node always joins with AND,
// whatever was stored.
func (l FilterList) GlueAt(i int) FilterGlue {
	if i == 0 || l[i].Glue != FilterGlueOr {
		return FilterGlueAnd
	}
	return FilterGlueOr
}

// ReferencedSegmentIDs returns the distinct segment ids referenced by the list, in order
func (l FilterList) ReferencedSegmentIDs() ([]uint, error) {
	var out []uint
	for i, node := range l {
		if !node.IsSegmentReference() {
			continue
		}
		ids, err := node.SegmentIDs()
		if err != nil {
			return nil, &InvalidFilterError{Index: i, Field: node.Field, Operator: node.Operator, Reason: err.Error()}
		}
		for _, id := range ids {
			if !slices.Contains(out, id) {
				out = append(out, id)
			}
		}
	}
	return out, nil
}

// Validate checks every node against the declared field types
func (l FilterList) Validate(types FieldTypeLookup) error {
	for i, node := range l {
		if err := validateNode(i, node, types); err != nil {
			return err
		}
	}
	return nil
}

func validateNode(i int, node FilterNode, types FieldTypeLookup) error {
	fail := func(format string, args ...any) error {
		return &InvalidFilterError{Index: i, Field: node.Field, Operator: node.Operator, Reason: fmt.Sprintf(format, args...)}
	}

	if node.Field == "" {
		return fail("field is required")
	}
	if node.Glue != "" && node.Glue != FilterGlueAnd && node.Glue != FilterGlueOr {
		return fail("unknown glue %q", node.Glue)
	}

	if node.IsSegmentReference() {
		switch node.Operator {
		case OpIn, OpNotIn, OpExists, OpNotExists:
		default:
			return fail("operator not allowed for segment membership")
		}
		if node.Value.IsEmpty() {
			return fail("at least one segment is required")
		}
		if _, err := node.SegmentIDs(); err != nil {
			return fail("%s", err.Error())
		}
		return nil
	}

	fieldType, allowed, ok := types.LookupField(node.Object, node.Field)
	if !ok {
		return fail("unknown field")
	}
	if !slices.Contains(allowed, node.Operator) {
		return fail("operator not allowed for %s field", fieldType)
	}

	switch {
	case node.Operator.TakesNoValue():
		return nil
	case node.Operator == OpBetween:
		if len(node.Value.Items) != 2 {
			return fail("between requires exactly two values")
		}
	case node.Operator == OpIn || node.Operator == OpNotIn:
		if node.Value.IsEmpty() {
			return fail("at least one value is required")
		}
	default:
		if node.Value.IsEmpty() {
			return fail("value is required")
		}
	}

	if node.Operator.IsPattern() {
		return nil
	}

	for _, item := range node.Value.Items {
		switch fieldType {
		case FieldTypeDate, FieldTypeDateTime:
			if HasValuePlaceholder(item) {
				continue
			}
			if _, _, err := ParseFilterDate(item, time.Time{}); err != nil {
				return fail("%s", err.Error())
			}
		case FieldTypeNumber:
			if _, err := strconv.ParseFloat(strings.TrimSpace(item), 64); err != nil {
				return fail("%q is not a number", item)
			}
		case FieldTypeBoolean:
			if _, err := ParseFilterBool(item); err != nil {
				return fail("%s", err.Error())
			}
		}
	}
	return nil
}

// InvalidFilterError reports a malformed filter node
type InvalidFilterError struct {
	SegmentID uint
	Index     int
	Field     string
	Operator  FilterOperator
	Reason    string
}

func (e *InvalidFilterError) Error() string {
	if e.SegmentID != 0 {
		return fmt.Sprintf("segment %d: invalid filter #%d (%s %s): %s", e.SegmentID, e.Index, e.Field, e.Operator, e.Reason)
	}
	return fmt.Sprintf("invalid filter #%d (%s %s): %s", e.Index, e.Field, e.Operator, e.Reason)
}

func (e *InvalidFilterError) Is(target error) bool {
	return target == ErrInvalidFilter
}

// FilterDateFormats are tried in order when parsing date filter values
var FilterDateFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"02.01.2006",
	"Jan 2, 2006",
	"2 January 2006",
}

var placeholderPattern = regexp.MustCompile(`\{[^{}]+\}`)

// HasValuePlaceholder reports whether a value holds a wildcard or a {token} placeholder
func HasValuePlaceholder(v string) bool {
	return strings.Contains(v, "%") || placeholderPattern.MatchString(v)
}

// ParseFilterDate parses a date filter value. Relative keywords resolve against now.
// dateOnly is true when the value carries no time of day.
func ParseFilterDate(value string, now time.Time) (t time.Time, dateOnly bool, err error) {
	v := strings.TrimSpace(value)
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	switch strings.ToLower(v) {
	case "now":
		return now.UTC(), false, nil
	case "today":
		return day, true, nil
	case "yesterday":
		return day.AddDate(0, 0, -1), true, nil
	case "tomorrow":
		return day.AddDate(0, 0, 1), true, nil
	}

	for _, layout := range FilterDateFormats {
		parsed, perr := time.Parse(layout, v)
		if perr != nil {
			continue
		}
		return parsed.UTC(), !strings.Contains(layout, "15"), nil
	}
	return time.Time{}, false, fmt.Errorf("%q is not a recognized date", value)
}

// ParseFilterBool parses boolean filter values, accepting 1/0 and yes/no
func ParseFilterBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "y":
		return true, nil
	case "0", "false", "no", "n":
		return false, nil
	default:
		return false, fmt.Errorf("%q is not a boolean", value)
	}
}
