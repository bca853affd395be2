package events

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisPublisher(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	rc := redis.NewClient(opts)
	defer rc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	channel := "segments_test:" + uuid.NewString()
	sub := rc.Subscribe(ctx, channel)
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	d := NewDispatcher(nil, NewRedisPublisher(rc, channel))
	require.NoError(t, d.Notify(ctx, ChangeEvent{
		Kind:       KindAdded,
		SegmentID:  3,
		CompanyIDs: []int64{10, 11},
		Source:     SourceManual,
	}))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var got ChangeEvent
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, KindAdded, got.Kind)
	assert.Equal(t, uint(3), got.SegmentID)
	assert.Equal(t, []int64{10, 11}, got.CompanyIDs)
}
