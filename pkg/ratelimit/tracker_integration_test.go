//go:build integration

package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a client
func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	t.Cleanup(func() {
		client.Close()
		redisContainer.Terminate(ctx)
	})

	return client
}

func TestTracker_Integration_SharedState(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()

	// Two trackers stand in for two client processes.
	a := NewTracker(client, quietLogger())
	b := NewTracker(client, quietLogger())

	if err := a.UpdateFromHeaders(ctx, 200, quotaHeaders(1, 60)); err != nil {
		t.Fatalf("UpdateFromHeaders() error = %v", err)
	}

	allowed, err := b.ShouldAllowRequest(ctx)
	if err != nil {
		t.Fatalf("ShouldAllowRequest() error = %v", err)
	}
	if allowed {
		t.Error("second tracker must see the exhausted window")
	}
}

func TestTracker_Integration_WindowReset(t *testing.T) {
	client := setupRedis(t)
	tracker := NewTracker(client, quietLogger())
	ctx := context.Background()

	if err := tracker.UpdateFromHeaders(ctx, 200, quotaHeaders(0, 1)); err != nil {
		t.Fatalf("UpdateFromHeaders() error = %v", err)
	}
	if allowed, _ := tracker.ShouldAllowRequest(ctx); allowed {
		t.Fatal("expected the exhausted window to block")
	}

	time.Sleep(1500 * time.Millisecond)

	allowed, err := tracker.ShouldAllowRequest(ctx)
	if err != nil {
		t.Fatalf("ShouldAllowRequest() error = %v", err)
	}
	if !allowed {
		t.Error("request must be allowed once the window reset")
	}
}

func TestTracker_Integration_ConcurrentUpdates(t *testing.T) {
	client := setupRedis(t)
	tracker := NewTracker(client, quietLogger())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(remaining int) {
			defer wg.Done()
			if err := tracker.UpdateFromHeaders(ctx, 200, quotaHeaders(remaining, 60)); err != nil {
				t.Errorf("UpdateFromHeaders() error = %v", err)
			}
		}(50 + i)
	}
	wg.Wait()

	state, err := tracker.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.Remaining < 50 || state.Remaining >= 70 {
		t.Errorf("Remaining = %d, want one of the written values", state.Remaining)
	}
	if !state.IsHealthy {
		t.Error("state should be healthy")
	}
}
