package businessflow

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestExportMembersExcel(t *testing.T) {
	env := newFlowEnv(t)
	ctx := context.Background()

	cs, err := env.fixtures.CreateCompanies("acme", 5)
	require.NoError(t, err)
	s, err := env.fixtures.CreateSegment("export-me", true)
	require.NoError(t, err)
	require.NoError(t, env.fixtures.CreateMember(s.ID, cs[0].ID, true, false))
	require.NoError(t, env.fixtures.CreateMember(s.ID, cs[1].ID, false, false))
	require.NoError(t, env.fixtures.CreateMember(s.ID, cs[2].ID, false, true))
	require.NoError(t, env.fixtures.CreateMember(s.ID, cs[3].ID, false, false))

	flow := NewSegmentExportFlow(env.segmentRepo, env.memberRepo)
	name, data, err := flow.ExportMembersExcel(ctx, ExportRequest{Alias: "export-me", PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, "segment_export-me_members.xlsx", name)

	xl, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer xl.Close()

	rows, err := xl.GetRows("export-me")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "company_id", rows[0][0])
	assert.Equal(t, strconv.FormatInt(cs[0].ID, 10), rows[1][0])
	assert.Equal(t, "true", rows[1][6])
	assert.Equal(t, strconv.FormatInt(cs[3].ID, 10), rows[3][0])

	summary, err := xl.GetRows("Export Summary")
	require.NoError(t, err)
	require.Len(t, summary, 4)
	assert.Equal(t, []string{"segment_id", strconv.FormatUint(uint64(s.ID), 10)}, summary[0])
	assert.Equal(t, []string{"members", "3"}, summary[2])
	assert.Equal(t, []string{"exported", "3"}, summary[3])
}

func TestExportRequestValidation(t *testing.T) {
	env := newFlowEnv(t)
	flow := NewSegmentExportFlow(env.segmentRepo, env.memberRepo)

	_, _, err := flow.ExportMembersExcel(context.Background(), ExportRequest{})
	assert.True(t, errors.Is(err, ErrInvalidSegmentID))

	_, _, err = flow.ExportMembersExcel(context.Background(), ExportRequest{Alias: "Not A Slug!"})
	assert.True(t, errors.Is(err, ErrInvalidAlias))

	_, _, err = flow.ExportMembersExcel(context.Background(), ExportRequest{SegmentID: 77})
	assert.True(t, IsSegmentNotFound(err))
}
