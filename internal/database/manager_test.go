package database

import (
	"context"
	"testing"
	"time"

	"github.com/bardlex/multipool/internal/database/redis"
)

func TestManagerWithoutStores(t *testing.T) {
	m, err := NewManager(&Config{})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	if sinks := m.Sinks("sha256", 4); len(sinks) != 0 {
		t.Errorf("Sinks() = %d sinks, want none", len(sinks))
	}
	if err := m.Health(context.Background()); err != nil {
		t.Errorf("Health() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.StartPeriodicTasks(ctx)
	cancel()

	if err := m.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestNewManagerUnreachableRedis(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	_, err := NewManager(&Config{Redis: &redis.Config{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond}})
	if err == nil {
		t.Error("NewManager() with unreachable Redis succeeded")
	}
}
