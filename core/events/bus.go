// Package events fans job progress out over Redis and routes kill requests to the worker holding the job.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"craftworker/core/transcode"
	"craftworker/logger"
	"craftworker/model"
)

const (
	progressPrefix = "job-progress-"
	killPrefix     = "kill-job-"
)

// ProgressEvent names the progress event of jobID.
func ProgressEvent(jobID string) string { return progressPrefix + jobID }

// KillEvent names the kill event of jobID.
func KillEvent(jobID string) string { return killPrefix + jobID }

// KillTarget parses a kill event name back into its job id.
func KillTarget(event string) (string, bool) {
	if !strings.HasPrefix(event, killPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(event, killPrefix)
	return id, id != ""
}

// Killer cancels a running job.
type Killer interface {
	Kill(jobID string) bool
}

// ProgressPayload is the body of a progress event.
type ProgressPayload struct {
	Percent float64 `json:"percent"`
}

// Bus publishes job events. A nil Redis client keeps everything in-process.
type Bus struct {
	client *redis.Client
	killer Killer
	log    *zap.Logger
}

// NewBus creates a Bus delivering kills to killer.
func NewBus(client *redis.Client, killer Killer) *Bus {
	return &Bus{client: client, killer: killer, log: logger.Named("events")}
}

// Distributed reports whether events leave the process.
func (b *Bus) Distributed() bool {
	return b.client != nil
}

// PublishProgress publishes p on the job's progress channel.
func (b *Bus) PublishProgress(ctx context.Context, p model.Progress) error {
	if b.client == nil {
		return nil
	}
	body, err := json.Marshal(ProgressPayload{Percent: p.Percent})
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, ProgressEvent(p.JobID), body).Err(); err != nil {
		return fmt.Errorf("publish progress: %w", err)
	}
	return nil
}

// RequestKill asks the worker holding jobID to cancel it. It reports whether anyone received the request.
func (b *Bus) RequestKill(ctx context.Context, jobID string) (bool, error) {
	if b.client == nil {
		return b.killer.Kill(jobID), nil
	}
	n, err := b.client.Publish(ctx, KillEvent(jobID), jobID).Result()
	if err != nil {
		b.log.Warn("Kill publish failed, trying locally", logger.JobID(jobID), logger.ErrorField(err))
		return b.killer.Kill(jobID), nil
	}
	return n > 0, nil
}

// Sink wraps next so every progress event is also published on the bus.
func (b *Bus) Sink(ctx context.Context, next transcode.ProgressSink) transcode.ProgressSink {
	return transcode.SinkFunc(func(p model.Progress) {
		next.SendProgress(p)
		if err := b.PublishProgress(ctx, p); err != nil {
			b.log.Debug("Progress not published", logger.JobID(p.JobID), logger.ErrorField(err))
		}
	})
}

// Run listens for kill events until ctx is done. It returns at once when the bus is local.
func (b *Bus) Run(ctx context.Context) error {
	if b.client == nil {
		return nil
	}
	sub := b.client.PSubscribe(ctx, killPrefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to kill events: %w", err)
	}
	b.log.Info("Listening for kill events")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.handleKill(msg.Channel)
		}
	}
}

func (b *Bus) handleKill(channel string) {
	jobID, ok := KillTarget(channel)
	if !ok {
		return
	}
	if b.killer.Kill(jobID) {
		b.log.Info("Killed job on request", logger.JobID(jobID))
	}
}
