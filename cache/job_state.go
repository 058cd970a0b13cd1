package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"craftworker/model"
)

// JobStateTTL is how long a job snapshot stays readable after its last update.
const JobStateTTL = 24 * time.Hour

// JobStateKey is the hash holding the snapshot of jobID.
func JobStateKey(jobID string) string {
	return "job:" + jobID
}

// RedisJobState mirrors job snapshots into Redis hashes so other instances can read them.
type RedisJobState struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisJobState creates a recorder writing through client.
func NewRedisJobState(client *redis.Client) *RedisJobState {
	return &RedisJobState{client: client, ttl: JobStateTTL}
}

// Record stores snap under its job key and refreshes the expiry.
func (s *RedisJobState) Record(ctx context.Context, snap model.JobSnapshot) error {
	key := JobStateKey(snap.JobID)
	fields := map[string]interface{}{
		"state":     string(snap.State),
		"name":      snap.Name,
		"errorName": snap.ErrorName,
		"craftId":   snap.CraftID,
		"fileCount": snap.FileCount,
		"startedAt": snap.StartedAt.UTC().Format(time.RFC3339Nano),
		"updatedAt": snap.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record job state %s: %w", snap.JobID, err)
	}
	return nil
}

// Load reads the snapshot of jobID. ok is false when none is stored.
func (s *RedisJobState) Load(ctx context.Context, jobID string) (snap model.JobSnapshot, ok bool, err error) {
	values, err := s.client.HGetAll(ctx, JobStateKey(jobID)).Result()
	if err != nil {
		return model.JobSnapshot{}, false, fmt.Errorf("load job state %s: %w", jobID, err)
	}
	if len(values) == 0 {
		return model.JobSnapshot{}, false, nil
	}
	return snapshotFromHash(jobID, values), true, nil
}

func snapshotFromHash(jobID string, values map[string]string) model.JobSnapshot {
	snap := model.JobSnapshot{
		JobID:     jobID,
		Name:      values["name"],
		State:     model.JobState(values["state"]),
		ErrorName: values["errorName"],
		CraftID:   values["craftId"],
	}
	if n, err := strconv.Atoi(values["fileCount"]); err == nil {
		snap.FileCount = n
	}
	if t, err := time.Parse(time.RFC3339Nano, values["startedAt"]); err == nil {
		snap.StartedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, values["updatedAt"]); err == nil {
		snap.UpdatedAt = t
	}
	return snap
}
