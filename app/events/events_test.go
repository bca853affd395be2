package events

import (
	"context"
	"errors"
	"testing"

	"github.com/amirphl/company-segments/app/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherNotify(t *testing.T) {
	var order []string
	first := ObserverFunc(func(_ context.Context, ev ChangeEvent) error {
		order = append(order, "first:"+string(ev.Kind))
		return nil
	})
	failing := ObserverFunc(func(_ context.Context, ev ChangeEvent) error {
		order = append(order, "failing")
		return errors.New("downstream unavailable")
	})
	last := ObserverFunc(func(_ context.Context, ev ChangeEvent) error {
		order = append(order, "last")
		return nil
	})

	d := NewDispatcher(logger.Nop(), first, failing, last)
	require.Equal(t, 3, d.Len())

	err := d.Notify(context.Background(),
		ChangeEvent{Kind: KindAdded, SegmentID: 1, CompanyIDs: []int64{1, 2}},
		ChangeEvent{Kind: KindRemoved, SegmentID: 1},
	)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "downstream unavailable")
	assert.Equal(t, []string{"first:membership.added", "failing", "last"}, order)
}

func TestDispatcherNoObservers(t *testing.T) {
	d := NewDispatcher(nil)
	assert.NoError(t, d.Notify(context.Background(), ChangeEvent{Kind: KindAdded, CompanyIDs: []int64{1}}))
}
