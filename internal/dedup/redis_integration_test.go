//go:build integration

package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor: wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate redis container: %v", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisWindow(t *testing.T) {
	ctx := context.Background()
	w := NewRedisWindow(setupRedis(t), "")

	if err := w.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}

	seen, err := w.Seen(ctx, "ev-1/wf-1")
	if err != nil || seen {
		t.Fatalf("Seen() before Mark = %v, %v", seen, err)
	}
	if err := w.Mark(ctx, "ev-1/wf-1", time.Minute); err != nil {
		t.Fatalf("Mark() error = %v", err)
	}
	if seen, _ := w.Seen(ctx, "ev-1/wf-1"); !seen {
		t.Error("Seen() after Mark should return true")
	}

	// Короткий TTL истекает
	if err := w.Mark(ctx, "ev-2/wf-1", time.Second); err != nil {
		t.Fatalf("Mark() error = %v", err)
	}
	time.Sleep(1500 * time.Millisecond)
	if seen, _ := w.Seen(ctx, "ev-2/wf-1"); seen {
		t.Error("Seen() after TTL should return false")
	}
}
