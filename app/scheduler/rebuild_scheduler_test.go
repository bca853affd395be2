package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	businessflow "github.com/amirphl/company-segments/business_flow"
	"github.com/amirphl/company-segments/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFlow struct {
	mu    sync.Mutex
	calls []businessflow.RebuildOptions
	err   error
	ran   chan struct{}
}

func (f *fakeFlow) Rebuild(_ context.Context, opts businessflow.RebuildOptions) (*businessflow.RebuildReport, error) {
	f.mu.Lock()
	f.calls = append(f.calls, opts)
	f.mu.Unlock()
	select {
	case f.ran <- struct{}{}:
	default:
	}
	if f.err != nil {
		return nil, f.err
	}
	return &businessflow.RebuildReport{RunID: "run"}, nil
}

func TestRebuildSchedulerRunsFullRebuilds(t *testing.T) {
	flow := &fakeFlow{ran: make(chan struct{}, 1)}
	s := NewRebuildScheduler(flow, businessflow.RebuildOptions{
		SegmentID:  4,
		BatchSize:  50,
		MaxItems:   utils.ToPtr(10),
		ExcludeIDs: []uint{9},
	}, time.Hour, nil)

	stop := s.Start(context.Background())
	select {
	case <-flow.ran:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not run")
	}
	stop()

	flow.mu.Lock()
	defer flow.mu.Unlock()
	require.Len(t, flow.calls, 1)
	assert.Zero(t, flow.calls[0].SegmentID)
	assert.Nil(t, flow.calls[0].MaxItems)
	assert.Equal(t, 50, flow.calls[0].BatchSize)
	assert.Equal(t, []uint{9}, flow.calls[0].ExcludeIDs)
	assert.Equal(t, "run", s.LastReport().RunID)
	assert.False(t, s.Running())
}

func TestRebuildSchedulerKeepsGoingAfterFailure(t *testing.T) {
	flow := &fakeFlow{err: errors.New("database is down")}
	s := NewRebuildScheduler(flow, businessflow.RebuildOptions{BatchSize: 10}, time.Hour, nil)

	s.runOnce(context.Background())
	s.runOnce(context.Background())

	assert.Len(t, flow.calls, 2)
	assert.Nil(t, s.LastReport())
}
