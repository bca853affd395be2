package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLookup map[string]FieldType

func (s stubLookup) LookupField(object FilterObject, field string) (FieldType, []FilterOperator, bool) {
	ft, ok := s[field]
	if !ok {
		return "", nil, false
	}
	switch ft {
	case FieldTypeNumber:
		return ft, []FilterOperator{OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpBetween, OpIn, OpNotIn, OpEmpty, OpNotEmpty}, true
	case FieldTypeDate, FieldTypeDateTime:
		return ft, []FilterOperator{OpEq, OpGt, OpLt, OpBetween, OpLike, OpEmpty}, true
	case FieldTypeBoolean:
		return ft, []FilterOperator{OpEq, OpNeq}, true
	default:
		return ft, []FilterOperator{OpEq, OpNeq, OpLike, OpContains, OpIn, OpNotIn, OpEmpty, OpNotEmpty}, true
	}
}

var testLookup = stubLookup{
	"companyname":    FieldTypeText,
	"companyrevenue": FieldTypeNumber,
	"date_added":     FieldTypeDateTime,
	"is_published":   FieldTypeBoolean,
}

func TestFilterListValidate(t *testing.T) {
	tests := []struct {
		name        string
		nodes       FilterList
		expectError bool
	}{
		{
			name:  "valid text equality",
			nodes: FilterList{{Field: "companyname", Object: FilterObjectCompany, Operator: OpEq, Value: ScalarValue("Acme")}},
		},
		{
			name:        "unknown field",
			nodes:       FilterList{{Field: "nope", Object: FilterObjectCompany, Operator: OpEq, Value: ScalarValue("x")}},
			expectError: true,
		},
		{
			name:        "operator not allowed for type",
			nodes:       FilterList{{Field: "is_published", Object: FilterObjectCompany, Operator: OpGt, Value: ScalarValue("1")}},
			expectError: true,
		},
		{
			name:        "unparseable date",
			nodes:       FilterList{{Field: "date_added", Object: FilterObjectCompany, Operator: OpGt, Value: ScalarValue("not a date")}},
			expectError: true,
		},
		{
			name:  "date pattern operator skips parsing",
			nodes: FilterList{{Field: "date_added", Object: FilterObjectCompany, Operator: OpLike, Value: ScalarValue("2024-__")}},
		},
		{
			name:  "date wildcard placeholder skips parsing",
			nodes: FilterList{{Field: "date_added", Object: FilterObjectCompany, Operator: OpEq, Value: ScalarValue("{lead.created}")}},
		},
		{
			name:  "relative date",
			nodes: FilterList{{Field: "date_added", Object: FilterObjectCompany, Operator: OpGt, Value: ScalarValue("yesterday")}},
		},
		{
			name:        "between needs two values",
			nodes:       FilterList{{Field: "companyrevenue", Object: FilterObjectCompany, Operator: OpBetween, Value: ListValue("1")}},
			expectError: true,
		},
		{
			name:        "number value must parse",
			nodes:       FilterList{{Field: "companyrevenue", Object: FilterObjectCompany, Operator: OpGte, Value: ScalarValue("lots")}},
			expectError: true,
		},
		{
			name:  "empty takes no value",
			nodes: FilterList{{Field: "companyrevenue", Object: FilterObjectCompany, Operator: OpEmpty}},
		},
		{
			name:  "segment reference",
			nodes: FilterList{{Field: SegmentReferenceField, Object: FilterObjectSegment, Operator: OpIn, Value: ListValue("3", "4")}},
		},
		{
			name:        "segment reference with bad id",
			nodes:       FilterList{{Field: SegmentReferenceField, Object: FilterObjectSegment, Operator: OpIn, Value: ListValue("x")}},
			expectError: true,
		},
		{
			name:        "segment reference with text operator",
			nodes:       FilterList{{Field: SegmentReferenceField, Object: FilterObjectSegment, Operator: OpLike, Value: ListValue("3")}},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.nodes.Validate(testLookup)
			if tt.expectError {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidFilter))
				var ife *InvalidFilterError
				assert.True(t, errors.As(err, &ife))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFilterListGlueAt(t *testing.T) {
	nodes := FilterList{
		{Field: "a", Glue: FilterGlueOr},
		{Field: "b", Glue: FilterGlueOr},
		{Field: "c"},
	}

	assert.Equal(t, FilterGlueAnd, nodes.GlueAt(0))
	assert.Equal(t, FilterGlueOr, nodes.GlueAt(1))
	assert.Equal(t, FilterGlueAnd, nodes.GlueAt(2))
}

func TestFilterListJSON(t *testing.T) {
	raw := `[{"field":"companyrevenue","object":"company","operator":"gte","filter":100000,"glue":"and"},
		{"field":"company_segments","object":"segment","operator":"in","filter":[2,"5"],"glue":"or"}]`

	var nodes FilterList
	require.NoError(t, nodes.Scan([]byte(raw)))
	require.Len(t, nodes, 2)

	assert.Equal(t, []string{"100000"}, nodes[0].Value.Items)
	assert.False(t, nodes[0].Value.List)
	assert.Equal(t, []string{"2", "5"}, nodes[1].Value.Items)

	ids, err := nodes.ReferencedSegmentIDs()
	require.NoError(t, err)
	assert.Equal(t, []uint{2, 5}, ids)

	v, err := nodes.Value()
	require.NoError(t, err)
	var back []map[string]any
	require.NoError(t, json.Unmarshal([]byte(v.(string)), &back))
	assert.Equal(t, "100000", back[0]["filter"])
	assert.Len(t, back[1]["filter"], 2)
}

func TestParseFilterDate(t *testing.T) {
	now := time.Date(2024, 3, 15, 13, 45, 0, 0, time.UTC)

	got, dateOnly, err := ParseFilterDate("yesterday", now)
	require.NoError(t, err)
	assert.True(t, dateOnly)
	assert.Equal(t, time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC), got)

	got, dateOnly, err = ParseFilterDate("2024-01-02 10:11:12", now)
	require.NoError(t, err)
	assert.False(t, dateOnly)
	assert.Equal(t, 10, got.Hour())

	got, dateOnly, err = ParseFilterDate("2024-01-02", now)
	require.NoError(t, err)
	assert.True(t, dateOnly)
	assert.Equal(t, time.January, got.Month())

	_, _, err = ParseFilterDate("02/30/2024x", now)
	assert.Error(t, err)
}

func TestBatchLimiter(t *testing.T) {
	maxItems := 5
	l := BatchLimiter{BatchSize: 3, MaxItems: &maxItems}
	assert.True(t, l.Bounded())
	assert.False(t, BatchLimiter{BatchSize: 3}.Bounded())
	assert.Equal(t, 3, l.PageSize(0))
	assert.Equal(t, 2, l.PageSize(3))
	assert.Equal(t, 0, l.PageSize(5))

	next := l.After(41)
	require.NotNil(t, next.MinID)
	assert.Equal(t, int64(42), *next.MinID)
	assert.Nil(t, l.MinID)
}

func TestSegmentMemberOverrides(t *testing.T) {
	m := &SegmentMember{}
	assert.True(t, m.IsComputed())

	m.MarkManuallyAdded()
	assert.True(t, m.ManuallyAdded)
	assert.False(t, m.ManuallyRemoved)

	m.MarkManuallyRemoved()
	assert.False(t, m.ManuallyAdded)
	assert.True(t, m.ManuallyRemoved)
}
