// Package influx writes share and block telemetry to InfluxDB.
package influx

import (
	"context"
	"fmt"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/bardlex/multipool/internal/jobmanager"
	"github.com/bardlex/multipool/pkg/errors"
)

// pointWriter is the subset of api.WriteAPI the client uses.
type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// Client wraps InfluxDB operations for time-series metrics
type Client struct {
	client   influxdb2.Client
	writer   pointWriter
	queryAPI api.QueryAPI
	bucket   string
	coin     string
}

// Config holds InfluxDB connection configuration
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
	// Coin is attached to every point as the "coin" tag.
	Coin string
}

// NewClient creates a new InfluxDB client
func NewClient(cfg *Config) (*Client, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := &Client{
		client:   client,
		writer:   client.WriteAPI(cfg.Org, cfg.Bucket),
		queryAPI: client.QueryAPI(cfg.Org),
		bucket:   cfg.Bucket,
		coin:     cfg.Coin,
	}
	if err := c.Health(ctx); err != nil {
		client.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeNetwork, "influx_connect", "failed to reach InfluxDB").
			WithContext("url", cfg.URL)
	}
	return c, nil
}

// Close flushes pending points and closes the connection
func (c *Client) Close() {
	c.writer.Flush()
	if c.client != nil {
		c.client.Close()
	}
}

// Flush forces a write of all pending points
func (c *Client) Flush() {
	c.writer.Flush()
}

// Health checks InfluxDB connectivity
func (c *Client) Health(ctx context.Context) error {
	health, err := c.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("failed to check health: %w", err)
	}

	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return fmt.Errorf("health check failed: %s", msg)
	}

	return nil
}

// WriteShare writes one processed share.
func (c *Client) WriteShare(share jobmanager.Share) {
	tags := map[string]string{
		"coin":     c.coin,
		"worker":   share.Worker,
		"accepted": strconv.FormatBool(share.Accepted()),
	}
	if !share.Accepted() {
		tags["error_code"] = strconv.Itoa(share.ErrorCode)
	}

	fields := map[string]interface{}{
		"difficulty": share.Difficulty,
		"share_diff": share.ShareDiff,
		"block_diff": share.BlockDiff,
		"height":     share.Height,
		"count":      1,
	}

	c.writer.WritePoint(write.NewPoint("shares", tags, fields, share.Time))
}

// WriteBlock writes a block candidate found by worker.
func (c *Client) WriteBlock(block jobmanager.BlockCandidate, share jobmanager.Share) {
	tags := map[string]string{
		"coin":   c.coin,
		"worker": share.Worker,
		"hash":   block.Hash,
	}

	fields := map[string]interface{}{
		"height":     block.Height,
		"difficulty": share.BlockDiff,
		"share_diff": share.ShareDiff,
		"reward":     share.BlockReward,
		"count":      1,
	}

	c.writer.WritePoint(write.NewPoint("blocks", tags, fields, share.Time))
}

// WriteJob writes a job broadcast.
func (c *Client) WriteJob(jobID string, height int64, difficulty float64, clean bool, at time.Time) {
	tags := map[string]string{
		"coin":  c.coin,
		"clean": strconv.FormatBool(clean),
	}

	fields := map[string]interface{}{
		"job_id":     jobID,
		"height":     height,
		"difficulty": difficulty,
	}

	c.writer.WritePoint(write.NewPoint("jobs", tags, fields, at))
}

// HandleEvent implements jobmanager.Sink. Writes are buffered by the
// client library and never fail here.
func (c *Client) HandleEvent(_ context.Context, e jobmanager.Event) error {
	switch ev := e.(type) {
	case jobmanager.NewBlock:
		c.WriteJob(ev.Job.ID(), ev.Job.Height(), ev.Job.Difficulty(), true, time.Now())
	case jobmanager.UpdatedBlock:
		c.WriteJob(ev.Job.ID(), ev.Job.Height(), ev.Job.Difficulty(), !ev.SameHeight, time.Now())
	case jobmanager.ShareResult:
		c.WriteShare(ev.Share)
		if ev.Block != nil {
			c.WriteBlock(*ev.Block, ev.Share)
		}
	}
	return nil
}

// ShareStats represents aggregated share statistics
type ShareStats struct {
	TotalShares    int64   `json:"total_shares"`
	AcceptedShares int64   `json:"accepted_shares"`
	RejectedShares int64   `json:"rejected_shares"`
	AcceptedPct    float64 `json:"accepted_pct"`
}

// GetShareStats sums a worker's accepted and rejected shares over duration.
func (c *Client) GetShareStats(ctx context.Context, worker string, duration time.Duration) (*ShareStats, error) {
	query := fmt.Sprintf(`
		from(bucket: "%s")
		|> range(start: -%s)
		|> filter(fn: (r) => r._measurement == "shares")
		|> filter(fn: (r) => r.coin == %q and r.worker == %q)
		|> filter(fn: (r) => r._field == "count")
		|> group(columns: ["accepted"])
		|> sum()
	`, c.bucket, duration.String(), c.coin, worker)

	result, err := c.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query share stats: %w", err)
	}
	defer func() { _ = result.Close() }()

	stats := &ShareStats{}
	for result.Next() {
		record := result.Record()
		count, ok := record.Value().(int64)
		if !ok {
			continue
		}
		if record.ValueByKey("accepted") == "true" {
			stats.AcceptedShares = count
		} else {
			stats.RejectedShares = count
		}
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("error reading query result: %w", result.Err())
	}

	stats.TotalShares = stats.AcceptedShares + stats.RejectedShares
	if stats.TotalShares > 0 {
		stats.AcceptedPct = float64(stats.AcceptedShares) / float64(stats.TotalShares) * 100
	}
	return stats, nil
}
