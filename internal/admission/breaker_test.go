package admission

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

// setupBreaker はminiredisに接続したBreakerを返します。
func setupBreaker(t *testing.T, threshold int, window time.Duration, failOpen bool) (*miniredis.Miniredis, *Breaker) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	logger := log.New(io.Discard, "", 0)
	return mr, NewBreaker(rdb, threshold, window, failOpen, logger)
}

func TestCheckAndIncrementThreshold(t *testing.T) {
	_, breaker := setupBreaker(t, 10, time.Minute, true)
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		d, err := breaker.CheckAndIncrement(ctx, "cust-1", "hash-a")
		if err != nil {
			t.Fatalf("CheckAndIncrement returned error on call %d: %v", i, err)
		}
		if d.Blocked {
			t.Fatalf("call %d should be allowed", i)
		}
		if d.Count != int64(i) {
			t.Fatalf("call %d: count = %d, want %d", i, d.Count, i)
		}
	}

	d, err := breaker.CheckAndIncrement(ctx, "cust-1", "hash-a")
	if err != nil {
		t.Fatalf("CheckAndIncrement returned error on call 11: %v", err)
	}
	if !d.Blocked {
		t.Fatal("11th identical submission should be blocked")
	}
	if d.Count != 11 {
		t.Fatalf("count = %d, want 11", d.Count)
	}
}

func TestCheckAndIncrementIsolatesKeys(t *testing.T) {
	_, breaker := setupBreaker(t, 1, time.Minute, true)
	ctx := context.Background()

	if d, _ := breaker.CheckAndIncrement(ctx, "cust-1", "hash-a"); d.Blocked {
		t.Fatal("first submission should be allowed")
	}
	// 別ハッシュ・別呼び出し元のカウンターには影響しない
	if d, _ := breaker.CheckAndIncrement(ctx, "cust-1", "hash-b"); d.Blocked {
		t.Fatal("different payload hash should not share the counter")
	}
	if d, _ := breaker.CheckAndIncrement(ctx, "cust-2", "hash-a"); d.Blocked {
		t.Fatal("different caller should not share the counter")
	}
	if d, _ := breaker.CheckAndIncrement(ctx, "cust-1", "hash-a"); !d.Blocked {
		t.Fatal("second identical submission should be blocked at threshold 1")
	}
}

func TestCheckAndIncrementWindowReset(t *testing.T) {
	mr, breaker := setupBreaker(t, 2, 30*time.Second, true)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := breaker.CheckAndIncrement(ctx, "cust-1", "hash-a"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	// ウィンドウ経過でカウンターは消え、新しいサイクルが始まる
	mr.FastForward(31 * time.Second)

	d, err := breaker.CheckAndIncrement(ctx, "cust-1", "hash-a")
	if err != nil {
		t.Fatalf("unexpected error after window reset: %v", err)
	}
	if d.Blocked {
		t.Fatal("submission after window elapse should be allowed")
	}
	if d.Count != 1 {
		t.Fatalf("count after reset = %d, want 1", d.Count)
	}
}

func TestCheckAndIncrementOverridePerCall(t *testing.T) {
	_, breaker := setupBreaker(t, 10, time.Minute, true)
	ctx := context.Background()

	if d, _ := breaker.CheckAndIncrementN(ctx, "cust-1", "hash-a", 1, time.Minute); d.Blocked {
		t.Fatal("first submission should be allowed")
	}
	if d, _ := breaker.CheckAndIncrementN(ctx, "cust-1", "hash-a", 1, time.Minute); !d.Blocked {
		t.Fatal("override threshold=1 should block the second submission")
	}
}

func TestStoreDownFailOpen(t *testing.T) {
	mr, breaker := setupBreaker(t, 10, time.Minute, true)
	mr.Close()

	d, err := breaker.CheckAndIncrement(context.Background(), "cust-1", "hash-a")
	if err != nil {
		t.Fatalf("store outage should not surface as error: %v", err)
	}
	if !d.StoreDown {
		t.Fatal("expected StoreDown decision")
	}
	if d.Blocked {
		t.Fatal("fail-open policy should allow the request")
	}
}

func TestStoreDownFailClosed(t *testing.T) {
	mr, breaker := setupBreaker(t, 10, time.Minute, false)
	mr.Close()

	d, err := breaker.CheckAndIncrement(context.Background(), "cust-1", "hash-a")
	if err != nil {
		t.Fatalf("store outage should not surface as error: %v", err)
	}
	if !d.StoreDown || !d.Blocked {
		t.Fatalf("fail-closed policy should block, got %+v", d)
	}
}

func TestCheckAndIncrementValidation(t *testing.T) {
	_, breaker := setupBreaker(t, 10, time.Minute, true)
	if _, err := breaker.CheckAndIncrement(context.Background(), "", "hash"); err == nil {
		t.Fatal("expected error for empty callerID")
	}
	if _, err := breaker.CheckAndIncrement(context.Background(), "cust-1", ""); err == nil {
		t.Fatal("expected error for empty payloadHash")
	}
}
