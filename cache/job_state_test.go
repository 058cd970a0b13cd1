package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"craftworker/model"
)

func TestJobStateKey(t *testing.T) {
	assert.Equal(t, "job:3f6c1a2e-8b4d-4c1e-9a7f-2d5e6b8c9a01", JobStateKey("3f6c1a2e-8b4d-4c1e-9a7f-2d5e6b8c9a01"))
}

func TestSnapshotFromHash(t *testing.T) {
	snap := snapshotFromHash("j1", map[string]string{
		"state":     "merging",
		"name":      "ep1",
		"fileCount": "3",
		"craftId":   "c1",
		"updatedAt": "2024-05-01T10:00:00Z",
	})

	assert.Equal(t, model.StateMerging, snap.State)
	assert.Equal(t, "ep1", snap.Name)
	assert.Equal(t, 3, snap.FileCount)
	assert.Equal(t, "c1", snap.CraftID)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), snap.UpdatedAt)

	assert.True(t, snapshotFromHash("j1", map[string]string{"updatedAt": "yesterday"}).UpdatedAt.IsZero())
}

// Runs against a live server when REDIS_TEST_ADDR is set.
func TestRedisJobStateRoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	ctx := context.Background()
	require.NoError(t, CheckRedis(ctx, client))

	store := NewRedisJobState(client)
	snap := model.JobSnapshot{JobID: "it-job", Name: "ep1", State: model.StateUploading, UpdatedAt: time.Now()}
	require.NoError(t, store.Record(ctx, snap))
	defer client.Del(ctx, JobStateKey("it-job"))

	got, ok, err := store.Load(ctx, "it-job")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.StateUploading, got.State)

	ttl, err := client.TTL(ctx, JobStateKey("it-job")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Hour)
}
