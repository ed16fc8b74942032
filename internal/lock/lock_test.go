package lock

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/diewo77/go-brokerage/internal/models"
	"github.com/redis/go-redis/v9"
)

func TestContractKey(t *testing.T) {
	if got := ContractKey(models.ContractKindRental, 42); got != "contract:RENTAL:42" {
		t.Fatalf("ContractKey() = %q", got)
	}
}

func TestLocal_SerializesSameKey(t *testing.T) {
	l := NewLocal()
	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "contract:DEPOSIT:1")
			if err != nil {
				t.Errorf("Lock: %v", err)
				return
			}
			n := inside.Add(1)
			if n > maxInside.Load() {
				maxInside.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()
	if maxInside.Load() != 1 {
		t.Fatalf("expected exclusive access, saw %d holders", maxInside.Load())
	}
	if len(l.locks) != 0 {
		t.Fatalf("lock table should be empty, has %d entries", len(l.locks))
	}
}

func TestLocal_ContextCancel(t *testing.T) {
	l := NewLocal()
	unlock, _ := l.Lock(context.Background(), "k")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "k"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	unlock()
	unlock()
	other, err := l.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	other()
}

// brokenRedis grants every lock and fails every script call.
type brokenRedis struct {
	redis.Scripter
}

func (brokenRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	return redis.NewBoolResult(true, nil)
}

func (brokenRedis) EvalSha(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	return redis.NewCmdResult(nil, errors.New("connection reset"))
}

func (brokenRedis) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	return redis.NewCmdResult(nil, errors.New("connection reset"))
}

func TestRedis_LogsFailedRelease(t *testing.T) {
	var buf bytes.Buffer
	r := NewRedis(brokenRedis{})
	r.Logger = slog.New(slog.NewTextHandler(&buf, nil))

	unlock, err := r.Lock(context.Background(), "contract:RENTAL:7")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	unlock()
	out := buf.String()
	if !strings.Contains(out, "release lock failed") || !strings.Contains(out, "contract:RENTAL:7") || !strings.Contains(out, "connection reset") {
		t.Fatalf("expected the failed release to be logged, got %q", out)
	}
}
