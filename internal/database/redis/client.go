// Package redis caches the current and valid jobs so stratum front-ends can
// serve mining.notify without waiting for the next Kafka message.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bardlex/multipool/internal/jobmanager"
	"github.com/bardlex/multipool/internal/messaging"
	"github.com/bardlex/multipool/internal/stratum"
	"github.com/bardlex/multipool/pkg/errors"
)

// DefaultJobTTL bounds how long a valid-job set survives without updates.
const DefaultJobTTL = 10 * time.Minute

// Client wraps Redis operations for the job cache
type Client struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// Config holds Redis connection configuration
type Config struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Coin namespaces the keys so several pools can share one instance.
	Coin   string
	JobTTL time.Duration
}

// NewClient creates a new Redis client and checks connectivity
func NewClient(cfg *Config) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeNetwork, "redis_connect", "failed to ping Redis").
			WithContext("addr", cfg.Addr)
	}

	return newClient(rdb, cfg.Coin, cfg.JobTTL), nil
}

func newClient(rdb *redis.Client, coin string, ttl time.Duration) *Client {
	if ttl <= 0 {
		ttl = DefaultJobTTL
	}
	return &Client{rdb: rdb, prefix: "pool:" + coin + ":", ttl: ttl}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health checks Redis connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) currentKey() string { return c.prefix + "current_job" }
func (c *Client) jobsKey() string { return c.prefix + "jobs" }
func (c *Client) notifyKey() string { return c.prefix + "notify" }

// StoreJob records job as current, caches its encoded mining.notify line
// and adds it to the valid set. With replace set the valid set is cleared
// first in the same transaction.
func (c *Client) StoreJob(ctx context.Context, job messaging.JobMessage, replace bool) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job data: %w", err)
	}
	notify, err := stratum.MarshalMessage(stratum.Notify(job.Params))
	if err != nil {
		return fmt.Errorf("failed to encode notify: %w", err)
	}

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if replace {
			pipe.Del(ctx, c.jobsKey())
		}
		pipe.HSet(ctx, c.jobsKey(), job.JobID, string(data))
		pipe.Expire(ctx, c.jobsKey(), c.ttl)
		pipe.Set(ctx, c.currentKey(), string(data), c.ttl)
		pipe.Set(ctx, c.notifyKey(), string(notify), c.ttl)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeNetwork, "redis_store_job", "failed to store job").
			WithContext("job_id", job.JobID)
	}
	return nil
}

// CurrentJob returns the most recent job
func (c *Client) CurrentJob(ctx context.Context) (*messaging.JobMessage, error) {
	data, err := c.rdb.Get(ctx, c.currentKey()).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("no current job")
		}
		return nil, fmt.Errorf("failed to get current job: %w", err)
	}
	return decodeJob(data)
}

// CurrentNotify returns the encoded mining.notify line of the current job
func (c *Client) CurrentNotify(ctx context.Context) ([]byte, error) {
	data, err := c.rdb.Get(ctx, c.notifyKey()).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("no current job")
		}
		return nil, fmt.Errorf("failed to get notify: %w", err)
	}
	return data, nil
}

// Job returns a job from the valid set
func (c *Client) Job(ctx context.Context, jobID string) (*messaging.JobMessage, error) {
	data, err := c.rdb.HGet(ctx, c.jobsKey(), jobID).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("job %s not found", jobID)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return decodeJob(data)
}

// ValidJobIDs lists the ids in the valid set
func (c *Client) ValidJobIDs(ctx context.Context) ([]string, error) {
	ids, err := c.rdb.HKeys(ctx, c.jobsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return ids, nil
}

// CountShare increments the worker's accepted or rejected counter for the
// current hour.
func (c *Client) CountShare(ctx context.Context, worker string, accepted bool, at time.Time) (int64, error) {
	status := "rejected"
	if accepted {
		status = "accepted"
	}
	key := fmt.Sprintf("%sshares:%s:%s:%d", c.prefix, status, worker, at.Unix()/3600)

	pipe := c.rdb.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, 2*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to increment counter: %w", err)
	}
	return incr.Val(), nil
}

func decodeJob(data string) (*messaging.JobMessage, error) {
	var job messaging.JobMessage
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job data: %w", err)
	}
	return &job, nil
}

// JobCache is a jobmanager.Sink that mirrors jobs into Redis and counts
// shares per worker.
type JobCache struct {
	client          *Client
	algorithm       string
	extraNonce2Size int
}

// NewJobCache returns a sink writing to c.
func NewJobCache(c *Client, algorithm string, extraNonce2Size int) *JobCache {
	return &JobCache{client: c, algorithm: algorithm, extraNonce2Size: extraNonce2Size}
}

// HandleEvent implements jobmanager.Sink.
func (j *JobCache) HandleEvent(ctx context.Context, e jobmanager.Event) error {
	switch ev := e.(type) {
	case jobmanager.NewBlock:
		return j.client.StoreJob(ctx, messaging.NewJobMessage(ev.Job, j.algorithm, j.extraNonce2Size, true, time.Now()), true)
	case jobmanager.UpdatedBlock:
		msg := messaging.NewJobMessage(ev.Job, j.algorithm, j.extraNonce2Size, !ev.SameHeight, time.Now())
		return j.client.StoreJob(ctx, msg, false)
	case jobmanager.ShareResult:
		_, err := j.client.CountShare(ctx, ev.Share.Worker, ev.Share.Accepted(), ev.Share.Time)
		return err
	}
	return nil
}
