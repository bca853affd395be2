package businessflow

import (
	"context"
	"errors"
	"testing"

	"github.com/amirphl/company-segments/app/events"
	"github.com/amirphl/company-segments/models"
	testutil "github.com/amirphl/company-segments/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManualAddThenRemove(t *testing.T) {
	env := newFlowEnv(t)
	ctx := context.Background()

	cs, err := env.fixtures.CreateCompanies("acme", 4)
	require.NoError(t, err)
	s, err := env.fixtures.CreateSegment("manual", true)
	require.NoError(t, err)
	ids := companyIDs(cs[:3])

	change, err := env.membershipFlow().AddCompanies(ctx, s.ID, ids)
	require.NoError(t, err)
	assert.Equal(t, ids, change.Added)
	assert.Equal(t, ids, env.active(t, s.ID))

	// a rebuild of a filterless segment keeps manual members
	_, err = env.rebuildFlow().Rebuild(ctx, RebuildOptions{SegmentID: s.ID, BatchSize: 10})
	require.NoError(t, err)
	assert.Equal(t, ids, env.active(t, s.ID))

	change, err = env.membershipFlow().RemoveCompanies(ctx, s.ID, ids)
	require.NoError(t, err)
	assert.Equal(t, ids, change.Removed)
	assert.Empty(t, env.active(t, s.ID))
}

func TestManualOverridesBeatThePredicate(t *testing.T) {
	env := newFlowEnv(t)
	ctx := context.Background()

	rich, err := env.fixtures.CreateCompany("rich", testutil.WithRevenue(500000))
	require.NoError(t, err)
	poor, err := env.fixtures.CreateCompany("poor", testutil.WithRevenue(1))
	require.NoError(t, err)
	s, err := env.fixtures.CreateSegment("big", true, testutil.RevenueAtLeast("100000"))
	require.NoError(t, err)

	_, err = env.membershipFlow().UpdateMembership(ctx, UpdateMembershipRequest{
		SegmentID: s.ID,
		Add:       []int64{poor.ID},
		Remove:    []int64{rich.ID},
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = env.rebuildFlow().Rebuild(ctx, RebuildOptions{SegmentID: s.ID, BatchSize: 10})
		require.NoError(t, err)
		assert.Equal(t, []int64{poor.ID}, env.active(t, s.ID))
	}
}

func TestUpdateMembershipRemoveWins(t *testing.T) {
	env := newFlowEnv(t)
	ctx := context.Background()

	cs, err := env.fixtures.CreateCompanies("acme", 2)
	require.NoError(t, err)
	s, err := env.fixtures.CreateSegment("both", true)
	require.NoError(t, err)

	var seen []events.ChangeEvent
	env.dispatcher.Add(events.ObserverFunc(func(_ context.Context, ev events.ChangeEvent) error {
		seen = append(seen, ev)
		return nil
	}))

	change, err := env.membershipFlow().UpdateMembership(ctx, UpdateMembershipRequest{
		SegmentID: s.ID,
		Add:       []int64{cs[0].ID, cs[1].ID, 424242},
		Remove:    []int64{cs[1].ID},
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{cs[0].ID}, change.Added)
	assert.Equal(t, []int64{cs[1].ID}, change.Removed)
	assert.Equal(t, []int64{424242}, change.Unknown)
	assert.Equal(t, []int64{cs[0].ID}, env.active(t, s.ID))

	removed := true
	rows, err := env.memberRepo.ByFilter(ctx, models.SegmentMemberFilter{SegmentID: &s.ID, ManuallyRemoved: &removed}, "", 0, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, cs[1].ID, rows[0].CompanyID)
	assert.False(t, rows[0].ManuallyAdded)

	require.Len(t, seen, 2)
	assert.Equal(t, events.SourceManual, seen[0].Source)
	assert.Equal(t, events.KindRemoved, seen[1].Kind)
}

func TestUpdateMembershipValidation(t *testing.T) {
	env := newFlowEnv(t)
	ctx := context.Background()
	s, err := env.fixtures.CreateSegment("v", true)
	require.NoError(t, err)

	tests := []struct {
		name string
		req  UpdateMembershipRequest
		want error
	}{
		{name: "missing segment id", req: UpdateMembershipRequest{Add: []int64{1}}, want: ErrInvalidSegmentID},
		{name: "non positive company id", req: UpdateMembershipRequest{SegmentID: s.ID, Add: []int64{1, 0}}, want: ErrInvalidCompanyIDs},
		{name: "negative removal", req: UpdateMembershipRequest{SegmentID: s.ID, Remove: []int64{-3}}, want: ErrInvalidCompanyIDs},
		{name: "nothing to do", req: UpdateMembershipRequest{SegmentID: s.ID}, want: ErrNothingToUpdate},
		{name: "unknown segment", req: UpdateMembershipRequest{SegmentID: 9999, Add: []int64{1}}, want: ErrSegmentNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.membershipFlow().UpdateMembership(ctx, tt.req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want))
		})
	}
}
