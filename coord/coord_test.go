package coord

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/web3guy0/windowbot/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryLeaseMutualExclusion(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLeaser()

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := l.TryAcquire(ctx, "trade_lock", NewOwner(), time.Minute)
			if err != nil {
				t.Errorf("TryAcquire: %v", err)
				return
			}
			if ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	if n := winners.Load(); n != 1 {
		t.Fatalf("%d goroutines acquired the lease, want exactly 1", n)
	}
}

func TestMemoryLeaseExpiry(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	l := NewMemoryLeaserWithClock(clock.Now)

	if ok, _ := l.TryAcquire(ctx, "trade_lock", "a", 10*time.Second); !ok {
		t.Fatal("first acquire should succeed")
	}
	clock.Advance(9 * time.Second)
	if ok, _ := l.TryAcquire(ctx, "trade_lock", "b", 10*time.Second); ok {
		t.Fatal("live lease must block a second owner")
	}
	clock.Advance(2 * time.Second)
	if ok, _ := l.TryAcquire(ctx, "trade_lock", "b", 10*time.Second); !ok {
		t.Fatal("expired lease should be re-acquirable")
	}
	if owner, ok := l.Holder("trade_lock"); !ok || owner != "b" {
		t.Errorf("holder = %q, %v", owner, ok)
	}
}

func TestMemoryLeaseReleaseOnlyByOwner(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLeaser()

	if ok, _ := l.TryAcquire(ctx, "trade_lock", "a", time.Minute); !ok {
		t.Fatal("acquire failed")
	}
	if released, _ := l.Release(ctx, "trade_lock", "b"); released {
		t.Fatal("non-owner released the lease")
	}
	if _, ok := l.Holder("trade_lock"); !ok {
		t.Fatal("lease gone after non-owner release")
	}
	if released, _ := l.Release(ctx, "trade_lock", "a"); !released {
		t.Fatal("owner could not release")
	}
	if ok, _ := l.TryAcquire(ctx, "trade_lock", "b", time.Minute); !ok {
		t.Fatal("released lease should be free")
	}
}

func TestMemoryLeaseRejectsBadArguments(t *testing.T) {
	l := NewMemoryLeaser()
	if _, err := l.TryAcquire(context.Background(), "", "a", time.Second); err != ErrInvalidLease {
		t.Errorf("empty resource: err = %v", err)
	}
	if _, err := l.TryAcquire(context.Background(), "r", "a", 0); err != ErrInvalidLease {
		t.Errorf("zero ttl: err = %v", err)
	}
}

func TestGuard(t *testing.T) {
	var g Guard
	if !g.TryEnter() {
		t.Fatal("fresh guard should be free")
	}
	if g.TryEnter() {
		t.Fatal("guard allowed a second attempt in flight")
	}
	if !g.Busy() {
		t.Error("Busy should report the held guard")
	}
	g.Leave()
	if !g.TryEnter() {
		t.Fatal("guard not free after Leave")
	}
}

func TestRedisKeys(t *testing.T) {
	m := NewRedisMirror(nil, "")
	window := time.Unix(1767225600, 0)

	if got := m.positionsKey(); got != "btc_bot:positions" {
		t.Errorf("positions key = %q", got)
	}
	if got := m.betsKey(window, types.Exit); got != "btc_bot:bets:1767225600:EXIT" {
		t.Errorf("bets key = %q", got)
	}
	l := NewRedisLeaser(nil, "fleet:")
	if got := l.key("trade_lock"); got != "fleet:trade_lock" {
		t.Errorf("lease key = %q", got)
	}
}

type blockingMirror struct {
	NopMirror
	release chan struct{}
	mu      sync.Mutex
	ids     []string
}

func (m *blockingMirror) PutPosition(ctx context.Context, pos types.Position) error {
	<-m.release
	m.mu.Lock()
	m.ids = append(m.ids, pos.ID)
	m.mu.Unlock()
	return nil
}

func TestAsyncMirrorNeverBlocksCaller(t *testing.T) {
	slow := &blockingMirror{release: make(chan struct{})}
	a := NewAsyncMirror(slow, 2)
	ctx := context.Background()

	start := time.Now()
	for _, id := range []string{"p1", "p2", "p3"} {
		if err := a.PutPosition(ctx, types.Position{ID: id}); err != nil {
			t.Fatalf("PutPosition: %v", err)
		}
	}
	if d := time.Since(start); d > time.Second {
		t.Fatalf("enqueue took %s", d)
	}
	if a.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1 with a queue of 2", a.Dropped())
	}

	close(slow.release)
	runCtx, cancel := context.WithCancel(context.Background())
	cancel()
	a.Run(runCtx)

	slow.mu.Lock()
	defer slow.mu.Unlock()
	if len(slow.ids) != 2 || slow.ids[0] != "p1" || slow.ids[1] != "p2" {
		t.Errorf("applied = %v, want [p1 p2] in order", slow.ids)
	}
}
