package metrics

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisRecorder(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	r := NewRedisRecorder(rdb)
	ctx := context.Background()

	r.Inc(ctx, Submitted)
	r.Inc(ctx, Submitted)
	r.Inc(ctx, StatusCounter("ACTIVE"))

	snap, err := r.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"submitted": 2, "status:ACTIVE": 1}, snap)

	last, err := r.Last(ctx)
	require.NoError(t, err)
	assert.Equal(t, "status:ACTIVE", last["metric"])
	assert.NotEmpty(t, last["time"])
}

func TestNop(t *testing.T) {
	var r Recorder = Nop{}
	r.Inc(context.Background(), Polled)
	snap, err := r.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap)
}
