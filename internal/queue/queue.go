// Package queue is the durable render work queue on redis. Jobs move from a
// pending list to a processing list on receive; a per-job lock key with a
// TTL acts as the visibility lease. Messages are only removed after the
// supervisor reports success, so failed attempts are redelivered by the
// reaper once their lease expires, and jobs that keep failing end up on a
// dead-letter list after a bounded number of deliveries.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/clipforge/clipforge/internal/common/entities"
)

// Delivery is one received message: the decoded job, the raw payload used
// as the receipt handle, and how many times the job has been handed out.
type Delivery struct {
	Job           entities.RenderJob
	ReceiptHandle string
	DeliveryCount int64
}

// Depth is a point-in-time view of queue occupancy.
type Depth struct {
	Waiting    int64 `json:"waiting"`
	InProgress int64 `json:"inProgress"`
}

type Queue struct {
	rdb           *redis.Client
	prefix        string
	visibility    time.Duration
	maxDeliveries int64
	logger        zerolog.Logger
}

func New(rdb *redis.Client, prefix string, visibility time.Duration, maxDeliveries int, logger zerolog.Logger) *Queue {
	return &Queue{
		rdb:           rdb,
		prefix:        prefix,
		visibility:    visibility,
		maxDeliveries: int64(maxDeliveries),
		logger:        logger.With().Str("component", "queue").Logger(),
	}
}

func (q *Queue) pendingKey() string    { return q.prefix + ":pending" }
func (q *Queue) processingKey() string { return q.prefix + ":processing" }
func (q *Queue) deadKey() string       { return q.prefix + ":dead" }
func (q *Queue) deliveriesKey() string { return q.prefix + ":deliveries" }
func (q *Queue) lockKey(id string) string {
	return q.prefix + ":lock:" + id
}

// Enqueue pushes a job onto the pending list.
func (q *Queue) Enqueue(ctx context.Context, job entities.RenderJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.rdb.RPush(ctx, q.pendingKey(), data).Err()
}

// Receive moves up to max jobs from pending to processing, blocking up to
// wait for the first one. Each delivery takes a visibility lease and bumps
// the job's delivery counter; jobs over the delivery limit are diverted to
// the dead-letter list instead of being returned.
func (q *Queue) Receive(ctx context.Context, max int, wait time.Duration) ([]Delivery, error) {
	var out []Delivery
	for len(out) < max {
		blockFor := wait
		if len(out) > 0 {
			// Only block for the first message of a batch.
			blockFor = time.Millisecond
		}
		raw, err := q.rdb.BRPopLPush(ctx, q.pendingKey(), q.processingKey(), blockFor).Result()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return out, err
		}

		var job entities.RenderJob
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			q.logger.Error().Err(err).Msg("dropping undecodable message")
			q.rdb.LRem(ctx, q.processingKey(), 1, raw)
			continue
		}

		count, err := q.rdb.HIncrBy(ctx, q.deliveriesKey(), job.ID, 1).Result()
		if err != nil {
			return out, err
		}
		if count > q.maxDeliveries {
			q.deadLetter(ctx, raw, job.ID, count)
			continue
		}

		// The lock doubles as an idempotency lease: a second worker seeing
		// the same job id while the lease is held backs off.
		ok, err := q.rdb.SetNX(ctx, q.lockKey(job.ID), raw, q.visibility).Result()
		if err != nil {
			return out, err
		}
		if !ok {
			q.logger.Warn().Str("job_id", job.ID).Msg("job already leased, skipping duplicate delivery")
			q.rdb.LRem(ctx, q.processingKey(), 1, raw)
			q.rdb.HIncrBy(ctx, q.deliveriesKey(), job.ID, -1)
			continue
		}

		out = append(out, Delivery{Job: job, ReceiptHandle: raw, DeliveryCount: count})
	}
	return out, nil
}

// Delete acknowledges a delivery after successful processing, removing the
// message, its lease and its delivery counter.
func (q *Queue) Delete(ctx context.Context, d Delivery) error {
	pipe := q.rdb.Pipeline()
	pipe.LRem(ctx, q.processingKey(), 1, d.ReceiptHandle)
	pipe.Del(ctx, q.lockKey(d.Job.ID))
	pipe.HDel(ctx, q.deliveriesKey(), d.Job.ID)
	_, err := pipe.Exec(ctx)
	return err
}

// Depth reports pending and in-flight message counts.
func (q *Queue) Depth(ctx context.Context) (Depth, error) {
	pipe := q.rdb.Pipeline()
	waiting := pipe.LLen(ctx, q.pendingKey())
	inProgress := pipe.LLen(ctx, q.processingKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return Depth{}, err
	}
	return Depth{Waiting: waiting.Val(), InProgress: inProgress.Val()}, nil
}

// Reap scans the processing list for jobs whose visibility lease expired
// (worker crashed or the encode overran) and requeues them, or dead-letters
// them once their delivery count is exhausted.
func (q *Queue) Reap(ctx context.Context) error {
	entries, err := q.rdb.LRange(ctx, q.processingKey(), 0, -1).Result()
	if err != nil {
		return err
	}
	for _, raw := range entries {
		var job entities.RenderJob
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			q.rdb.LRem(ctx, q.processingKey(), 1, raw)
			continue
		}
		held, err := q.rdb.Exists(ctx, q.lockKey(job.ID)).Result()
		if err != nil {
			return err
		}
		if held > 0 {
			continue
		}
		count, _ := q.rdb.HGet(ctx, q.deliveriesKey(), job.ID).Int64()
		if count >= q.maxDeliveries {
			q.deadLetter(ctx, raw, job.ID, count)
			continue
		}
		q.logger.Info().Str("job_id", job.ID).Int64("deliveries", count).Msg("lease expired, requeueing job")
		pipe := q.rdb.Pipeline()
		pipe.LRem(ctx, q.processingKey(), 1, raw)
		pipe.LPush(ctx, q.pendingKey(), raw)
		if _, err := pipe.Exec(ctx); err != nil {
			q.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to requeue job")
		}
	}
	return nil
}

func (q *Queue) deadLetter(ctx context.Context, raw, jobID string, count int64) {
	q.logger.Warn().Str("job_id", jobID).Int64("deliveries", count).Msg("delivery limit reached, dead-lettering job")
	pipe := q.rdb.Pipeline()
	pipe.LRem(ctx, q.processingKey(), 1, raw)
	pipe.RPush(ctx, q.deadKey(), raw)
	pipe.HDel(ctx, q.deliveriesKey(), jobID)
	pipe.Del(ctx, q.lockKey(jobID))
	if _, err := pipe.Exec(ctx); err != nil {
		q.logger.Error().Err(err).Str("job_id", jobID).Msg("failed to dead-letter job")
	}
}

// StartReaper runs Reap on an interval until ctx is cancelled.
func (q *Queue) StartReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.Reap(ctx); err != nil {
				q.logger.Error().Err(err).Msg("reaper pass failed")
			}
		}
	}
}
