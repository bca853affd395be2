package businessflow

import (
	"context"
	"errors"
	"testing"

	"github.com/amirphl/company-segments/app/events"
	"github.com/amirphl/company-segments/app/locks"
	"github.com/amirphl/company-segments/models"
	testutil "github.com/amirphl/company-segments/testing"
	"github.com/amirphl/company-segments/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebuildRejectsInvalidOptions(t *testing.T) {
	env := newFlowEnv(t)
	_, err := env.fixtures.CreateCompanies("acme", 3, testutil.WithRevenue(200000))
	require.NoError(t, err)
	s, err := env.fixtures.CreateSegment("big", true, testutil.RevenueAtLeast("100000"))
	require.NoError(t, err)

	tests := []struct {
		name string
		opts RebuildOptions
		want error
	}{
		{name: "zero batch size", opts: RebuildOptions{BatchSize: 0}, want: ErrInvalidBatchSize},
		{name: "negative batch size", opts: RebuildOptions{BatchSize: -5}, want: ErrInvalidBatchSize},
		{name: "zero max items", opts: RebuildOptions{BatchSize: 10, MaxItems: utils.ToPtr(0)}, want: ErrInvalidMaxItems},
		{name: "negative max items", opts: RebuildOptions{BatchSize: 10, MaxItems: utils.ToPtr(-1)}, want: ErrInvalidMaxItems},
		{name: "zero excluded id", opts: RebuildOptions{BatchSize: 10, ExcludeIDs: []uint{s.ID, 0}}, want: ErrInvalidExcludeID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := env.rebuildFlow().Rebuild(context.Background(), tt.opts)
			require.Error(t, err)
			assert.Nil(t, report)
			assert.True(t, errors.Is(err, tt.want))
			assert.True(t, IsValidationError(err))
		})
	}

	assert.Empty(t, env.active(t, s.ID))
	assert.Nil(t, env.reload(t, s.ID).LastBuiltAt)
}

func TestRebuildBoundedThenFullRun(t *testing.T) {
	env := newFlowEnv(t)
	cs, err := env.fixtures.CreateCompanies("acme", 5, testutil.WithRevenue(200000))
	require.NoError(t, err)
	s, err := env.fixtures.CreateSegment("big", true, testutil.RevenueAtLeast("100000"))
	require.NoError(t, err)

	flow := env.rebuildFlow()
	report, err := flow.Rebuild(context.Background(), RebuildOptions{SegmentID: s.ID, BatchSize: 300, MaxItems: utils.ToPtr(1)})
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, OutcomePartial, report.Outcomes[0].Status)
	assert.Equal(t, int64(1), report.Outcomes[0].Changed())
	assert.Equal(t, []int64{cs[0].ID}, env.active(t, s.ID))

	partial := env.reload(t, s.ID)
	assert.Nil(t, partial.LastBuiltAt)
	assert.Nil(t, partial.LastBuiltTime)

	report, err = flow.Rebuild(context.Background(), RebuildOptions{SegmentID: s.ID, BatchSize: 2})
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, OutcomeRebuilt, report.Outcomes[0].Status)
	assert.Equal(t, int64(4), report.Outcomes[0].Added)
	assert.Equal(t, companyIDs(cs), env.active(t, s.ID))

	full := env.reload(t, s.ID)
	assert.NotNil(t, full.LastBuiltAt)
	assert.NotNil(t, full.LastBuiltTime)

	// nothing changed since, so the next run is a no-op
	report, err = flow.Rebuild(context.Background(), RebuildOptions{SegmentID: s.ID, BatchSize: 2})
	require.NoError(t, err)
	assert.Zero(t, report.Changed())
}

func TestRebuildMaxItemsCountsRemovals(t *testing.T) {
	env := newFlowEnv(t)
	cs, err := env.fixtures.CreateCompanies("acme", 3, testutil.WithRevenue(10))
	require.NoError(t, err)
	s, err := env.fixtures.CreateSegment("big", true, testutil.RevenueAtLeast("100000"))
	require.NoError(t, err)
	for _, c := range cs {
		require.NoError(t, env.fixtures.CreateMember(s.ID, c.ID, false, false))
	}

	report, err := env.rebuildFlow().Rebuild(context.Background(), RebuildOptions{SegmentID: s.ID, BatchSize: 1, MaxItems: utils.ToPtr(2)})
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.Outcomes[0].Removed)
	assert.Equal(t, []int64{cs[2].ID}, env.active(t, s.ID))
}

func TestRebuildAllIsolatesFailures(t *testing.T) {
	env := newFlowEnv(t)
	_, err := env.fixtures.CreateCompanies("acme", 2, testutil.WithRevenue(200000))
	require.NoError(t, err)

	good, err := env.fixtures.CreateSegment("good", true, testutil.RevenueAtLeast("100000"))
	require.NoError(t, err)
	loop, err := env.fixtures.CreateSegment("loop", true)
	require.NoError(t, err)
	loop.Filters = models.FilterList{testutil.MemberOf(models.OpIn, loop.ID)}
	require.NoError(t, env.segmentRepo.Update(context.Background(), loop))
	hidden, err := env.fixtures.CreateSegment("hidden", false, testutil.RevenueAtLeast("1"))
	require.NoError(t, err)
	excluded, err := env.fixtures.CreateSegment("excluded", true, testutil.RevenueAtLeast("1"))
	require.NoError(t, err)
	after, err := env.fixtures.CreateSegment("after", true, testutil.RevenueAtLeast("1"))
	require.NoError(t, err)

	report, err := env.rebuildFlow().Rebuild(context.Background(), RebuildOptions{BatchSize: 300, ExcludeIDs: []uint{excluded.ID}})
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 3)

	assert.Equal(t, good.ID, report.Outcomes[0].SegmentID)
	assert.Equal(t, OutcomeRebuilt, report.Outcomes[0].Status)
	assert.Equal(t, int64(2), report.Outcomes[0].Added)

	assert.Equal(t, loop.ID, report.Outcomes[1].SegmentID)
	assert.Equal(t, OutcomeFailed, report.Outcomes[1].Status)
	assert.Equal(t, "circular_reference", report.Outcomes[1].ErrorKind)
	assert.Zero(t, report.Outcomes[1].Changed())

	assert.Equal(t, after.ID, report.Outcomes[2].SegmentID)
	assert.Equal(t, OutcomeRebuilt, report.Outcomes[2].Status)
	assert.Equal(t, 1, report.Failed())

	assert.Empty(t, env.active(t, hidden.ID))
	assert.Empty(t, env.active(t, excluded.ID))
	assert.Nil(t, env.reload(t, loop.ID).LastBuiltAt)
}

func TestRebuildSingleSegment(t *testing.T) {
	env := newFlowEnv(t)
	_, err := env.fixtures.CreateCompany("acme", testutil.WithRevenue(5))
	require.NoError(t, err)

	t.Run("missing segment is terminal", func(t *testing.T) {
		_, err := env.rebuildFlow().Rebuild(context.Background(), RebuildOptions{SegmentID: 999, BatchSize: 10})
		assert.True(t, IsSegmentNotFound(err))
	})

	t.Run("unpublished segment is skipped", func(t *testing.T) {
		s, err := env.fixtures.CreateSegment("draft", false, testutil.RevenueAtLeast("1"))
		require.NoError(t, err)
		report, err := env.rebuildFlow().Rebuild(context.Background(), RebuildOptions{SegmentID: s.ID, BatchSize: 10})
		require.NoError(t, err)
		assert.Equal(t, OutcomeSkipped, report.Outcomes[0].Status)
		assert.Empty(t, env.active(t, s.ID))
	})

	t.Run("locked segment fails", func(t *testing.T) {
		s, err := env.fixtures.CreateSegment("busy", true, testutil.RevenueAtLeast("1"))
		require.NoError(t, err)
		lease, err := env.locker.Acquire(context.Background(), s.ID)
		require.NoError(t, err)
		defer lease.Release(context.Background())

		report, err := env.rebuildFlow().Rebuild(context.Background(), RebuildOptions{SegmentID: s.ID, BatchSize: 10})
		require.NoError(t, err)
		assert.Equal(t, OutcomeFailed, report.Outcomes[0].Status)
		assert.True(t, IsSegmentLocked(report.Outcomes[0].Err))
	})
}

func TestRebuildStopsAtBatchBoundary(t *testing.T) {
	env := newFlowEnv(t)
	_, err := env.fixtures.CreateCompanies("acme", 5, testutil.WithRevenue(200000))
	require.NoError(t, err)
	s, err := env.fixtures.CreateSegment("big", true, testutil.RevenueAtLeast("100000"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.dispatcher.Add(events.ObserverFunc(func(context.Context, events.ChangeEvent) error {
		cancel()
		return nil
	}))

	report, err := env.rebuildFlow().Rebuild(ctx, RebuildOptions{SegmentID: s.ID, BatchSize: 2})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.True(t, report.Interrupted)
	assert.Equal(t, OutcomeInterrupted, report.Outcomes[0].Status)
	assert.Equal(t, int64(2), report.Outcomes[0].Added)

	assert.Len(t, env.active(t, s.ID), 2)
	assert.Nil(t, env.reload(t, s.ID).LastBuiltAt)
}

func TestRebuildWithWriteRate(t *testing.T) {
	env := newFlowEnv(t)
	_, err := env.fixtures.CreateCompanies("acme", 3, testutil.WithRevenue(200000))
	require.NoError(t, err)
	s, err := env.fixtures.CreateSegment("big", true, testutil.RevenueAtLeast("100000"))
	require.NoError(t, err)

	report, err := env.rebuildFlow(WithWriteRate(1000)).Rebuild(context.Background(), RebuildOptions{SegmentID: s.ID, BatchSize: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(3), report.Changed())
}

func TestRebuildAllRunsReferencedSegmentsFirst(t *testing.T) {
	env := newFlowEnv(t)
	ctx := context.Background()

	company, err := env.fixtures.CreateCompany("grower", testutil.WithRevenue(50))
	require.NoError(t, err)

	// the dependent gets the lower id so id order alone would run it first
	dependent, err := env.fixtures.CreateSegment("dependent", true)
	require.NoError(t, err)
	big, err := env.fixtures.CreateSegment("big", true, testutil.RevenueAtLeast("100000"))
	require.NoError(t, err)
	require.NoError(t, env.fixtures.SetFilters(dependent, testutil.MemberOf(models.OpIn, big.ID)))
	require.Less(t, dependent.ID, big.ID)

	flow := env.rebuildFlow()
	rebuildAll := func() *RebuildReport {
		report, err := flow.Rebuild(ctx, RebuildOptions{BatchSize: 300})
		require.NoError(t, err)
		require.Len(t, report.Outcomes, 2)
		assert.Equal(t, big.ID, report.Outcomes[0].SegmentID)
		assert.Equal(t, dependent.ID, report.Outcomes[1].SegmentID)
		assert.Zero(t, report.Failed())
		return report
	}

	rebuildAll()
	assert.Empty(t, env.active(t, big.ID))
	assert.Empty(t, env.active(t, dependent.ID))

	require.NoError(t, env.fixtures.SetRevenue(company, 200000))
	report := rebuildAll()
	assert.Equal(t, int64(1), report.Outcomes[1].Added)
	assert.Equal(t, []int64{company.ID}, env.active(t, big.ID))
	assert.Equal(t, []int64{company.ID}, env.active(t, dependent.ID))

	require.NoError(t, env.fixtures.SetRevenue(company, 50))
	report = rebuildAll()
	assert.Equal(t, int64(1), report.Outcomes[1].Removed)
	assert.Empty(t, env.active(t, big.ID))
	assert.Empty(t, env.active(t, dependent.ID))
}

func TestRebuildAllOrdersChainsAndKeepsBrokenSegmentsIsolated(t *testing.T) {
	env := newFlowEnv(t)
	_, err := env.fixtures.CreateCompanies("acme", 2, testutil.WithRevenue(200000))
	require.NoError(t, err)

	top, err := env.fixtures.CreateSegment("top", true)
	require.NoError(t, err)
	broken, err := env.fixtures.CreateSegment("broken", true, testutil.MemberOf(models.OpIn, 9999))
	require.NoError(t, err)
	middle, err := env.fixtures.CreateSegment("middle", true)
	require.NoError(t, err)
	base, err := env.fixtures.CreateSegment("base", true, testutil.RevenueAtLeast("100000"))
	require.NoError(t, err)
	require.NoError(t, env.fixtures.SetFilters(top, testutil.MemberOf(models.OpIn, middle.ID)))
	require.NoError(t, env.fixtures.SetFilters(middle, testutil.MemberOf(models.OpIn, base.ID)))

	report, err := env.rebuildFlow().Rebuild(context.Background(), RebuildOptions{BatchSize: 300})
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 4)

	order := make([]uint, 0, 4)
	for _, o := range report.Outcomes {
		order = append(order, o.SegmentID)
	}
	assert.Equal(t, []uint{base.ID, middle.ID, top.ID, broken.ID}, order)

	assert.Equal(t, OutcomeFailed, report.Outcomes[3].Status)
	assert.Equal(t, "dependent_not_found", report.Outcomes[3].ErrorKind)
	assert.Equal(t, 1, report.Failed())
	assert.Len(t, env.active(t, top.ID), 2)
}

// expiringLocker loses a segment lock right before the given refresh
type expiringLocker struct {
	*locks.MemoryLocker
	loseAt   int
	refreshes int
}

type expiringLease struct {
	locks.Lease
	owner     *expiringLocker
	segmentID uint
}

func (l *expiringLocker) Acquire(ctx context.Context, segmentID uint) (locks.Lease, error) {
	lease, err := l.MemoryLocker.Acquire(ctx, segmentID)
	if err != nil {
		return nil, err
	}
	return &expiringLease{Lease: lease, owner: l, segmentID: segmentID}, nil
}

func (e *expiringLease) Refresh(ctx context.Context) error {
	e.owner.refreshes++
	if e.owner.refreshes == e.owner.loseAt {
		e.owner.Expire(e.segmentID)
	}
	return e.Lease.Refresh(ctx)
}

func TestRebuildStopsWhenLockIsLost(t *testing.T) {
	env := newFlowEnv(t)
	cs, err := env.fixtures.CreateCompanies("acme", 3, testutil.WithRevenue(200000))
	require.NoError(t, err)
	s, err := env.fixtures.CreateSegment("big", true, testutil.RevenueAtLeast("100000"))
	require.NoError(t, err)

	locker := &expiringLocker{MemoryLocker: locks.NewMemoryLocker(), loseAt: 2}
	flow := NewSegmentRebuildFlow(env.segmentRepo, env.reconciler, locker, nil)

	report, err := flow.Rebuild(context.Background(), RebuildOptions{SegmentID: s.ID, BatchSize: 1})
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)

	outcome := report.Outcomes[0]
	assert.Equal(t, OutcomeFailed, outcome.Status)
	assert.Equal(t, "locked", outcome.ErrorKind)
	assert.ErrorIs(t, outcome.Err, locks.ErrLockLost)
	assert.Equal(t, int64(1), outcome.Added)
	assert.Equal(t, 2, locker.refreshes)

	assert.Equal(t, []int64{cs[0].ID}, env.active(t, s.ID))
	assert.Nil(t, env.reload(t, s.ID).LastBuiltAt)
}
