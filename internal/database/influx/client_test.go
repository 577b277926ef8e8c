package influx

import (
	"context"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/bardlex/multipool/internal/jobmanager"
)

type recordingWriter struct {
	points  []*write.Point
	flushes int
}

func (w *recordingWriter) WritePoint(p *write.Point) { w.points = append(w.points, p) }
func (w *recordingWriter) Flush() { w.flushes++ }

func tagValue(p *write.Point, key string) (string, bool) {
	for _, t := range p.TagList() {
		if t.Key == key {
			return t.Value, true
		}
	}
	return "", false
}

func fieldValue(p *write.Point, key string) (interface{}, bool) {
	for _, f := range p.FieldList() {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

func TestHandleEventShares(t *testing.T) {
	w := &recordingWriter{}
	c := &Client{writer: w, coin: "btc"}
	at := time.Unix(1700000000, 0)

	accepted := jobmanager.ShareResult{
		Share: jobmanager.Share{Worker: "w1", Difficulty: 8, ShareDiff: 9.5, BlockDiff: 100, Height: 10, Time: at},
		Block: &jobmanager.BlockCandidate{Height: 10, Hash: "00ab"},
	}
	rejected := jobmanager.ShareResult{
		Share: jobmanager.Share{Worker: "w2", Difficulty: 8, ErrorCode: 23, Error: "low difficulty share", Time: at},
	}
	for _, e := range []jobmanager.Event{accepted, rejected} {
		if err := c.HandleEvent(context.Background(), e); err != nil {
			t.Fatal(err)
		}
	}

	if len(w.points) != 3 {
		t.Fatalf("got %d points, want 3", len(w.points))
	}

	tests := []struct {
		point       int
		measurement string
		tags        map[string]string
		absent      []string
	}{
		{0, "shares", map[string]string{"coin": "btc", "worker": "w1", "accepted": "true"}, []string{"error_code"}},
		{1, "blocks", map[string]string{"hash": "00ab", "worker": "w1"}, nil},
		{2, "shares", map[string]string{"worker": "w2", "accepted": "false", "error_code": "23"}, nil},
	}
	for _, tt := range tests {
		p := w.points[tt.point]
		if p.Name() != tt.measurement {
			t.Errorf("point %d measurement = %q, want %q", tt.point, p.Name(), tt.measurement)
		}
		if !p.Time().Equal(at) {
			t.Errorf("point %d time = %v, want %v", tt.point, p.Time(), at)
		}
		for k, want := range tt.tags {
			if got, _ := tagValue(p, k); got != want {
				t.Errorf("point %d tag %s = %q, want %q", tt.point, k, got, want)
			}
		}
		for _, k := range tt.absent {
			if _, ok := tagValue(p, k); ok {
				t.Errorf("point %d has unexpected tag %s", tt.point, k)
			}
		}
	}

	if v, _ := fieldValue(w.points[0], "share_diff"); v != 9.5 {
		t.Errorf("share_diff field = %v, want 9.5", v)
	}
}

func TestWriteJob(t *testing.T) {
	w := &recordingWriter{}
	c := &Client{writer: w, coin: "zec"}

	c.WriteJob("1f", 42, 3, false, time.Unix(0, 0))
	c.Close()

	if len(w.points) != 1 || w.points[0].Name() != "jobs" {
		t.Fatalf("points = %v", w.points)
	}
	if got, _ := tagValue(w.points[0], "clean"); got != "false" {
		t.Errorf("clean tag = %q", got)
	}
	if v, _ := fieldValue(w.points[0], "job_id"); v != "1f" {
		t.Errorf("job_id = %v", v)
	}
	if w.flushes != 1 {
		t.Errorf("Close() flushed %d times, want 1", w.flushes)
	}
}

func TestNewClientUnreachable(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	if _, err := NewClient(&Config{URL: "http://127.0.0.1:1", Org: "o", Bucket: "b"}); err == nil {
		t.Error("NewClient() to closed port succeeded")
	}
}
