package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type jobView struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client), mr
}

func TestSetAndGet(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	want := jobView{JobID: "job_1", Status: "completed"}
	require.NoError(t, c.Set(ctx, "job-view:user_1:job_1", want, time.Minute))

	var got jobView
	require.NoError(t, c.Get(ctx, "job-view:user_1:job_1", &got))
	assert.Equal(t, want, got)
}

func TestGetMiss(t *testing.T) {
	c, _ := newTestCache(t)

	var got jobView
	err := c.Get(context.Background(), "missing", &got)
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Empty(t, got.JobID)
}

func TestDelete(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "key", jobView{JobID: "job_1"}, time.Minute))
	assert.True(t, mr.Exists("key"))

	require.NoError(t, c.Delete(ctx, "key"))
	assert.False(t, mr.Exists("key"))

	var got jobView
	assert.ErrorIs(t, c.Get(ctx, "key", &got), ErrCacheMiss)

	assert.NoError(t, c.Delete(ctx, "never-set"))
}
