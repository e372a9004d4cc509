package consumer

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/linnemanlabs/shuntwatch/internal/risk"
	"github.com/linnemanlabs/shuntwatch/internal/risk/memstore"
)

func TestConsumer_EndToEnd(t *testing.T) {
	addr := os.Getenv("SHUNTWATCH_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SHUNTWATCH_TEST_REDIS_ADDR not set, skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("redis ping: %v", err)
	}

	stream := fmt.Sprintf("test-checkins-%d", time.Now().UnixNano())
	t.Cleanup(func() { client.Del(context.Background(), stream) })

	store := memstore.New()
	svc := risk.NewService(store, nil, risk.ServiceHooks{}, nil)

	c := New(client, svc, nil, Config{
		Stream:   stream,
		Group:    "triage",
		Consumer: "test-1",
	})

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(runCtx)
	}()

	err := client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{
			"data": `{"record":{"patientId":"p-stream","date":"2026-03-01","fever":true}}`,
		},
	}).Err()
	if err != nil {
		t.Fatalf("XAdd: %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		st, ok, _ := store.GetState(ctx, "p-stream")
		if ok {
			if st.Level != risk.LevelRed {
				t.Errorf("Level = %q, want red", st.Level)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for risk state")
		}
		time.Sleep(50 * time.Millisecond)
	}

	stop()
	<-done

	// The processed message must be acked.
	pending, err := client.XPending(ctx, stream, "triage").Result()
	if err != nil {
		t.Fatalf("XPending: %v", err)
	}
	if pending.Count != 0 {
		t.Errorf("pending = %d, want 0", pending.Count)
	}
}
