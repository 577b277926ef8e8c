package redis

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/redis/go-redis/v9"

	"github.com/bardlex/multipool/internal/algo"
	"github.com/bardlex/multipool/internal/jobmanager"
	"github.com/bardlex/multipool/internal/messaging"
)

// memStore answers commands from memory through a go-redis hook, so no
// server is contacted.
type memStore struct {
	mu      sync.Mutex
	strs    map[string]string
	hashes  map[string]map[string]string
	counter map[string]int64
	ttl     map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		strs:    map[string]string{},
		hashes:  map[string]map[string]string{},
		counter: map[string]int64{},
		ttl:     map[string]bool{},
	}
}

func (m *memStore) DialHook(next redis.DialHook) redis.DialHook { return next }

func (m *memStore) ProcessHook(redis.ProcessHook) redis.ProcessHook {
	return func(_ context.Context, cmd redis.Cmder) error {
		m.apply(cmd)
		return cmd.Err()
	}
}

func (m *memStore) ProcessPipelineHook(redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(_ context.Context, cmds []redis.Cmder) error {
		for _, cmd := range cmds {
			m.apply(cmd)
		}
		return nil
	}
}

func (m *memStore) apply(cmd redis.Cmder) {
	m.mu.Lock()
	defer m.mu.Unlock()

	args := cmd.Args()
	arg := func(i int) string { return fmt.Sprint(args[i]) }
	switch strings.ToLower(cmd.Name()) {
	case "del":
		delete(m.strs, arg(1))
		delete(m.hashes, arg(1))
		cmd.(*redis.IntCmd).SetVal(1)
	case "set":
		m.strs[arg(1)] = arg(2)
		cmd.(*redis.StatusCmd).SetVal("OK")
	case "get":
		if v, ok := m.strs[arg(1)]; ok {
			cmd.(*redis.StringCmd).SetVal(v)
		} else {
			cmd.SetErr(redis.Nil)
		}
	case "hset":
		h := m.hashes[arg(1)]
		if h == nil {
			h = map[string]string{}
			m.hashes[arg(1)] = h
		}
		h[arg(2)] = arg(3)
		cmd.(*redis.IntCmd).SetVal(1)
	case "hget":
		if v, ok := m.hashes[arg(1)][arg(2)]; ok {
			cmd.(*redis.StringCmd).SetVal(v)
		} else {
			cmd.SetErr(redis.Nil)
		}
	case "hkeys":
		var keys []string
		for k := range m.hashes[arg(1)] {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		cmd.(*redis.StringSliceCmd).SetVal(keys)
	case "incr":
		m.counter[arg(1)]++
		cmd.(*redis.IntCmd).SetVal(m.counter[arg(1)])
	case "expire":
		m.ttl[arg(1)] = true
		cmd.(*redis.BoolCmd).SetVal(true)
	}
}

func newTestClient(t *testing.T) (*Client, *memStore) {
	t.Helper()
	store := newMemStore()
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	rdb.AddHook(store)
	t.Cleanup(func() { _ = rdb.Close() })
	return newClient(rdb, "btc", 0), store
}

func TestStoreJob(t *testing.T) {
	c, store := newTestClient(t)
	ctx := context.Background()

	if _, err := c.CurrentJob(ctx); err == nil {
		t.Fatal("CurrentJob() on empty cache succeeded")
	}

	for _, step := range []struct {
		id      string
		replace bool
		want    []string
	}{
		{"1", true, []string{"1"}},
		{"2", false, []string{"1", "2"}},
		{"3", true, []string{"3"}},
	} {
		if err := c.StoreJob(ctx, messaging.JobMessage{JobID: step.id, BlockHeight: 10}, step.replace); err != nil {
			t.Fatalf("StoreJob(%s) error = %v", step.id, err)
		}
		ids, err := c.ValidJobIDs(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if !slices.Equal(ids, step.want) {
			t.Errorf("after job %s valid ids = %v, want %v", step.id, ids, step.want)
		}
		cur, err := c.CurrentJob(ctx)
		if err != nil || cur.JobID != step.id {
			t.Errorf("current job = %+v, %v", cur, err)
		}
	}

	if _, err := c.Job(ctx, "1"); err == nil {
		t.Error("replaced job still cached")
	}
	if job, err := c.Job(ctx, "3"); err != nil || job.BlockHeight != 10 {
		t.Errorf("Job(3) = %+v, %v", job, err)
	}
	if notify, err := c.CurrentNotify(ctx); err != nil || string(notify) != `{"id":null,"method":"mining.notify"}` {
		t.Errorf("CurrentNotify() = %s, %v", notify, err)
	}
	if !store.ttl["pool:btc:jobs"] {
		t.Error("job set has no expiry")
	}
}

func TestCountShare(t *testing.T) {
	c, _ := newTestClient(t)
	at := time.Unix(7200, 0)

	for i := int64(1); i <= 3; i++ {
		n, err := c.CountShare(context.Background(), "w1", true, at)
		if err != nil || n != i {
			t.Fatalf("CountShare() = %d, %v; want %d", n, err, i)
		}
	}
	if n, _ := c.CountShare(context.Background(), "w1", false, at); n != 1 {
		t.Errorf("rejected counter = %d, want 1", n)
	}
}

type fakeJob struct{ id string }

func (j fakeJob) ID() string { return j.id }
func (fakeJob) Family() algo.Family { return algo.FamilyAccountDAG }
func (fakeJob) Target() *uint256.Int { return uint256.NewInt(1) }
func (fakeJob) Difficulty() float64 { return 1 }
func (fakeJob) Height() int64 { return 5 }
func (fakeJob) Identity() string { return "x" }
func (fakeJob) SubmissionCount() int { return 0 }
func (j fakeJob) Params(bool) []any { return []any{j.id} }

func TestJobCache(t *testing.T) {
	c, store := newTestClient(t)
	cache := NewJobCache(c, "ethash", 0)
	ctx := context.Background()

	events := []jobmanager.Event{
		jobmanager.NewBlock{Job: fakeJob{"a"}},
		jobmanager.UpdatedBlock{Job: fakeJob{"b"}, SameHeight: false},
		jobmanager.ShareResult{Share: jobmanager.Share{Worker: "w", Time: time.Unix(0, 0)}},
	}
	for _, e := range events {
		if err := cache.HandleEvent(ctx, e); err != nil {
			t.Fatalf("HandleEvent(%T) error = %v", e, err)
		}
	}

	ids, _ := c.ValidJobIDs(ctx)
	if !slices.Equal(ids, []string{"a", "b"}) {
		t.Errorf("valid ids = %v, want [a b]", ids)
	}
	cur, err := c.CurrentJob(ctx)
	if err != nil || cur.JobID != "b" || cur.Algorithm != "ethash" || !cur.CleanJobs {
		t.Errorf("current = %+v, %v", cur, err)
	}
	if notify, _ := c.CurrentNotify(ctx); string(notify) != `{"id":null,"method":"mining.notify","params":["b"]}` {
		t.Errorf("notify = %s", notify)
	}
	if store.counter["pool:btc:shares:accepted:w:0"] != 1 {
		t.Errorf("counters = %v", store.counter)
	}
}

func TestNewClientUnreachable(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	_, err := NewClient(&Config{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond})
	if err == nil {
		t.Error("NewClient() to closed port succeeded")
	}
}
