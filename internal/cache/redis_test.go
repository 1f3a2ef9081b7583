package cache

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"crashgame/internal/game"
)

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		defaultVal string
		envValue   string
		want       string
	}{
		{
			name:       "Environment variable exists",
			key:        "TEST_KEY_EXISTS",
			defaultVal: "default",
			envValue:   "custom_value",
			want:       "custom_value",
		},
		{
			name:       "Environment variable does not exist",
			key:        "TEST_KEY_NOT_EXISTS",
			defaultVal: "default_value",
			envValue:   "",
			want:       "default_value",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}

			got := getEnv(tt.key, tt.defaultVal)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsInt(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		defaultVal int
		envValue   string
		want       int
	}{
		{
			name:       "Valid integer",
			key:        "TEST_INT_VALID",
			defaultVal: 0,
			envValue:   "42",
			want:       42,
		},
		{
			name:       "Invalid integer",
			key:        "TEST_INT_INVALID",
			defaultVal: 10,
			envValue:   "not_a_number",
			want:       10,
		},
		{
			name:       "Empty value",
			key:        "TEST_INT_EMPTY",
			defaultVal: 5,
			envValue:   "",
			want:       5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}

			got := getEnvAsInt(tt.key, tt.defaultVal)
			if got != tt.want {
				t.Errorf("getEnvAsInt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNew_NotConfigured(t *testing.T) {
	saved := redisAddr
	redisAddr = ""
	defer func() { redisAddr = saved }()

	if svc := New(); svc != nil {
		t.Fatal("New() without REDIS_URL should return nil")
	}
}

func TestNew_Unreachable(t *testing.T) {
	saved := redisAddr
	redisAddr = "127.0.0.1:1"
	defer func() { redisAddr = saved }()

	if svc := New(); svc != nil {
		t.Fatal("New() against a closed port should return nil")
	}
}

func TestService_Interface(t *testing.T) {
	var _ Service = (*service)(nil)
}

// startRedis runs a throwaway Redis for one test, skipping when Docker is absent.
func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	if os.Getenv("SKIP_INTEGRATION") != "" {
		t.Skip("SKIP_INTEGRATION set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}
	t.Cleanup(func() { container.Terminate(context.Background()) })

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { client.Close() })
	return client
}

type countingChecker struct {
	enabled atomic.Bool
	calls   atomic.Int64
	err     error
}

func (c *countingChecker) CrashEnabled(ctx context.Context) (bool, error) {
	c.calls.Add(1)
	if c.err != nil {
		return false, c.err
	}
	return c.enabled.Load(), nil
}

func TestEnabledCache(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()

	source := &countingChecker{}
	source.enabled.Store(true)
	cache := NewEnabledCache(client, source, time.Minute)

	for i := 0; i < 3; i++ {
		enabled, err := cache.CrashEnabled(ctx)
		if err != nil || !enabled {
			t.Fatalf("CrashEnabled() = %v, %v", enabled, err)
		}
	}
	if source.calls.Load() != 1 {
		t.Errorf("source calls = %d, want 1", source.calls.Load())
	}

	source.enabled.Store(false)
	if enabled, _ := cache.CrashEnabled(ctx); !enabled {
		t.Error("cached flag should survive until invalidated")
	}
	if err := cache.Invalidate(ctx); err != nil {
		t.Fatal(err)
	}
	if enabled, _ := cache.CrashEnabled(ctx); enabled {
		t.Error("CrashEnabled() after Invalidate should read the source")
	}
}

func TestEnabledCache_SourceErrorNotCached(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()

	source := &countingChecker{err: errors.New("catalog down")}
	cache := NewEnabledCache(client, source, time.Minute)

	if _, err := cache.CrashEnabled(ctx); err == nil {
		t.Fatal("expected source error")
	}
	if n, _ := client.Exists(ctx, ENABLED_KEY).Result(); n != 0 {
		t.Error("a failed lookup must not be cached")
	}
}

func TestRelay_PublishesHubEvents(t *testing.T) {
	client := startRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := game.NewHub()
	go hub.Run(ctx)

	pubsub := client.Subscribe(ctx, EVENTS_CHANNEL)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	go NewRelay(client, hub).Run(ctx)
	for hub.GetClientCount() == 0 {
		time.Sleep(time.Millisecond)
	}

	hub.Broadcast(game.Event{
		Type: game.EVENT_GAME_DISABLED,
		Data: game.GameDisabledMessage{Message: "paused"},
	})

	select {
	case msg := <-pubsub.Channel():
		var ev struct {
			Type string                   `json:"type"`
			Data game.GameDisabledMessage `json:"data"`
		}
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			t.Fatalf("payload: %v", err)
		}
		if ev.Type != game.EVENT_GAME_DISABLED || ev.Data.Message != "paused" {
			t.Errorf("relayed %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no event relayed")
	}
}
