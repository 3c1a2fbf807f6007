package queue

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"loreanchor/internal/util"
)

// Handler processes one scan job. The queue delivers each job once: a
// handler error is logged and the job is acknowledged anyway, because scans
// follow a single-attempt-with-timeout contract and degrade the work to safe
// on their own.
type Handler func(ctx context.Context, workID string) error

// RedisScanQueue is a Redis Streams queue of pending scan jobs.
type RedisScanQueue struct {
	client    *redis.Client
	stream    string
	group     string
	consumer  string
	block     time.Duration
	claimIdle time.Duration
	maxLen    int64
}

// Config holds queue construction options. Zero values get sane defaults.
type Config struct {
	Addr      string
	Password  string
	Stream    string
	Group     string
	Consumer  string
	Block     time.Duration
	ClaimIdle time.Duration
	MaxLen    int64
}

// NewRedisScanQueue connects to Redis and ensures the consumer group exists.
func NewRedisScanQueue(cfg Config) (*RedisScanQueue, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = "patrol:scan:jobs"
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "scanners"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = util.NewID()
	}
	block := cfg.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	claimIdle := cfg.ClaimIdle
	if claimIdle <= 0 {
		claimIdle = time.Minute
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	q := &RedisScanQueue{
		client:    redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		stream:    stream,
		group:     group,
		consumer:  consumer,
		block:     block,
		claimIdle: claimIdle,
		maxLen:    maxLen,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.ensureGroup(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *RedisScanQueue) ensureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// Enqueue appends a scan job for the given work.
func (q *RedisScanQueue) Enqueue(ctx context.Context, workID string) error {
	workID = strings.TrimSpace(workID)
	if workID == "" {
		return errors.New("work id required")
	}
	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{
			"workId":     workID,
			"enqueuedAt": time.Now().UTC().Format(time.RFC3339Nano),
		},
	}).Err()
}

// Consume blocks reading jobs until ctx is done. Stale entries left pending
// by a dead consumer are claimed and handled once before new reads.
func (q *RedisScanQueue) Consume(ctx context.Context, handler Handler) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		q.claimStale(ctx, handler)

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: q.consumer,
			Streams:  []string{q.stream, ">"},
			Count:    10,
			Block:    q.block,
		}).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			slog.Error("scan queue read failed", "err", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.handleMessage(ctx, handler, msg)
			}
		}
	}
}

func (q *RedisScanQueue) claimStale(ctx context.Context, handler Handler) {
	msgs, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: q.consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    10,
	}).Result()
	if err != nil && err != redis.Nil {
		if !errors.Is(err, context.Canceled) {
			slog.Warn("scan queue claim failed", "err", err)
		}
		return
	}
	for _, msg := range msgs {
		q.handleMessage(ctx, handler, msg)
	}
}

func (q *RedisScanQueue) handleMessage(ctx context.Context, handler Handler, msg redis.XMessage) {
	workID, _ := msg.Values["workId"].(string)
	if workID != "" {
		if err := handler(ctx, workID); err != nil {
			slog.Error("scan job failed", "workId", workID, "err", err)
		}
	}
	if err := q.client.XAck(ctx, q.stream, q.group, msg.ID).Err(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("scan queue ack failed", "id", msg.ID, "err", err)
	}
}

// Close releases the Redis connection.
func (q *RedisScanQueue) Close() error {
	return q.client.Close()
}
