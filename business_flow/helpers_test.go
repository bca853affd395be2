package businessflow

import (
	"context"
	"testing"

	"github.com/amirphl/company-segments/app/events"
	"github.com/amirphl/company-segments/app/filters"
	"github.com/amirphl/company-segments/app/locks"
	"github.com/amirphl/company-segments/app/segments"
	"github.com/amirphl/company-segments/models"
	"github.com/amirphl/company-segments/repository"
	testutil "github.com/amirphl/company-segments/testing"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type flowEnv struct {
	db          *gorm.DB
	fixtures    *testutil.TestFixtures
	segmentRepo repository.SegmentRepository
	companyRepo repository.CompanyRepository
	memberRepo  repository.SegmentMemberRepository
	dispatcher  *events.Dispatcher
	locker      *locks.MemoryLocker
	reconciler  *segments.MembershipReconciler
}

func newFlowEnv(t *testing.T) *flowEnv {
	t.Helper()
	db, err := testutil.NewSQLiteDB()
	require.NoError(t, err)
	t.Cleanup(func() { testutil.CloseDB(db) })

	env := &flowEnv{
		db:          db,
		fixtures:    testutil.NewTestFixtures(db),
		segmentRepo: repository.NewSegmentRepository(db),
		companyRepo: repository.NewCompanyRepository(db),
		memberRepo:  repository.NewSegmentMemberRepository(db),
		dispatcher:  events.NewDispatcher(nil),
		locker:      locks.NewMemoryLocker(),
	}
	compiler := segments.NewPredicateCompiler(env.segmentRepo, filters.NewCompanyRegistry(), filters.DialectSQLite)
	env.reconciler = segments.NewMembershipReconciler(db, env.memberRepo, compiler, env.dispatcher, nil)
	return env
}

func (e *flowEnv) rebuildFlow(opts ...RebuildFlowOption) SegmentRebuildFlow {
	return NewSegmentRebuildFlow(e.segmentRepo, e.reconciler, e.locker, nil, opts...)
}

func (e *flowEnv) membershipFlow() SegmentMembershipFlow {
	return NewSegmentMembershipFlow(e.db, e.segmentRepo, e.companyRepo, e.memberRepo, e.dispatcher, nil)
}

func (e *flowEnv) active(t *testing.T, segmentID uint) []int64 {
	t.Helper()
	ids, err := e.memberRepo.ActiveCompanyIDs(context.Background(), segmentID)
	require.NoError(t, err)
	return ids
}

func (e *flowEnv) reload(t *testing.T, segmentID uint) *models.Segment {
	t.Helper()
	seg, err := e.segmentRepo.ByID(context.Background(), segmentID)
	require.NoError(t, err)
	require.NotNil(t, seg)
	return seg
}

func companyIDs(cs []*models.Company) []int64 {
	out := make([]int64, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.ID)
	}
	return out
}
