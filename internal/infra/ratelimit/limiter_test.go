package ratelimit_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"telegram-sentinel/internal/infra/ratelimit"
)

// fakeClock — управляемый источник времени для детерминированных тестов.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestConsumeAllowsUpToMaxThenBlocks(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	lim := ratelimit.New(ratelimit.WithNow(clock.Now))
	policy := ratelimit.Policy{Window: time.Minute, Max: 3, Cooldown: 30 * time.Second}

	for i := 0; i < 3; i++ {
		if d := lim.ConsumeWith("op", "actor", policy); !d.Allowed {
			t.Fatalf("consume #%d must be allowed, got %#v", i+1, d)
		}
	}

	d := lim.ConsumeWith("op", "actor", policy)
	if d.Allowed {
		t.Fatal("consume over max must be denied")
	}
	if d.RetryAfter != 30*time.Second {
		t.Errorf("RetryAfter = %v, want 30s", d.RetryAfter)
	}

	clock.Advance(10 * time.Second)
	d = lim.ConsumeWith("op", "actor", policy)
	if d.Allowed {
		t.Fatal("consume during cooldown must be denied")
	}
	if d.RetryAfter != 20*time.Second {
		t.Errorf("RetryAfter = %v, want 20s", d.RetryAfter)
	}
}

func TestWindowResetsAfterExpiry(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	lim := ratelimit.New(ratelimit.WithNow(clock.Now))
	policy := ratelimit.Policy{Window: time.Minute, Max: 3, Cooldown: 30 * time.Second}

	for i := 0; i < 2; i++ {
		if d := lim.ConsumeWith("op", "actor", policy); !d.Allowed {
			t.Fatalf("warm-up consume #%d denied: %#v", i+1, d)
		}
	}

	clock.Advance(61 * time.Second)
	for i := 0; i < 3; i++ {
		if d := lim.ConsumeWith("op", "actor", policy); !d.Allowed {
			t.Fatalf("fresh window consume #%d denied: %#v", i+1, d)
		}
	}
	if d := lim.ConsumeWith("op", "actor", policy); d.Allowed {
		t.Fatal("fresh window must enforce max again")
	}
}

func TestBlockedEntryRecoversViaFreshWindow(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	lim := ratelimit.New(ratelimit.WithNow(clock.Now))
	policy := ratelimit.Policy{Window: time.Minute, Max: 2, Cooldown: 30 * time.Second}

	lim.ConsumeWith("op", "actor", policy)
	lim.ConsumeWith("op", "actor", policy)
	if d := lim.ConsumeWith("op", "actor", policy); d.Allowed {
		t.Fatal("third consume must trip the block")
	}

	// Блокировка истекла, но окно ещё активно и счётчик на максимуме:
	// лимитер должен заблокировать повторно.
	clock.Advance(31 * time.Second)
	if d := lim.ConsumeWith("op", "actor", policy); d.Allowed {
		t.Fatal("consume inside the exhausted window must re-block")
	}

	clock.Advance(30 * time.Second)
	if d := lim.ConsumeWith("op", "actor", policy); !d.Allowed {
		t.Fatalf("consume after window expiry must be allowed: %#v", d)
	}
}

func TestActionsAndActorsAreIsolated(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	lim := ratelimit.New(ratelimit.WithNow(clock.Now))
	policy := ratelimit.Policy{Window: time.Minute, Max: 1, Cooldown: 30 * time.Second}

	if d := lim.ConsumeWith("op-a", "alice", policy); !d.Allowed {
		t.Fatalf("first consume denied: %#v", d)
	}
	if d := lim.ConsumeWith("op-a", "alice", policy); d.Allowed {
		t.Fatal("budget for op-a/alice must be exhausted")
	}
	if d := lim.ConsumeWith("op-b", "alice", policy); !d.Allowed {
		t.Fatal("another action must not share the budget")
	}
	if d := lim.ConsumeWith("op-a", "bob", policy); !d.Allowed {
		t.Fatal("another actor must not share the budget")
	}
}

func TestPolicyTable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		action string
		want   ratelimit.Policy
	}{
		{ratelimit.ActionLogin, ratelimit.Policy{Window: 10 * time.Minute, Max: 10, Cooldown: 5 * time.Minute, Message: "too many login attempts, try again later"}},
		{ratelimit.ActionSessionRequestCode, ratelimit.Policy{Window: 10 * time.Minute, Max: 2, Cooldown: 15 * time.Minute, Message: "too many verification code requests"}},
		{ratelimit.ActionChatSync, ratelimit.Policy{Window: 2 * time.Minute, Max: 2, Cooldown: 90 * time.Second, Message: "too many chat sync requests"}},
		{ratelimit.ActionMessages, ratelimit.Policy{Window: time.Minute, Max: 180, Cooldown: 10 * time.Second, Message: "too many requests"}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.action, func(t *testing.T) {
			t.Parallel()
			if got := ratelimit.PolicyFor(tc.action); got != tc.want {
				t.Errorf("PolicyFor(%q) = %#v, want %#v", tc.action, got, tc.want)
			}
		})
	}

	def := ratelimit.PolicyFor("never-heard-of-it")
	if def.Max <= 0 || def.Window <= 0 {
		t.Errorf("unknown action must get a sane default policy, got %#v", def)
	}
}

func TestActorKey(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name                          string
		username, sessionID, remoteIP string
		want                          string
	}{
		{"authenticated", "admin", "sess-1", "10.0.0.1", "admin|sess-1|10.0.0.1"},
		{"anonymous", "", "", "10.0.0.1", "anonymous"},
		{"session only", "", "sess-2", "10.0.0.2", "|sess-2|10.0.0.2"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := ratelimit.ActorKey(tc.username, tc.sessionID, tc.remoteIP)
			if got != tc.want {
				t.Errorf("ActorKey = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestLoginLockout(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	lim := ratelimit.New(ratelimit.WithNow(clock.Now))

	for i := 0; i < 10; i++ {
		if d := lim.Consume(ratelimit.ActionLogin, ratelimit.AnonymousActor); !d.Allowed {
			t.Fatalf("login attempt #%d denied early: %#v", i+1, d)
		}
	}
	d := lim.Consume(ratelimit.ActionLogin, ratelimit.AnonymousActor)
	if d.Allowed {
		t.Fatal("11th login attempt must be denied")
	}
	if d.RetryAfter < 5*time.Minute {
		t.Errorf("RetryAfter = %v, want at least 5m", d.RetryAfter)
	}
}

func TestSweepRemovesStaleEntries(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	lim := ratelimit.New(ratelimit.WithNow(clock.Now))
	policy := ratelimit.Policy{Window: time.Minute, Max: 5, Cooldown: 30 * time.Second}

	for _, actor := range []string{"a", "b", "c"} {
		lim.ConsumeWith("op", actor, policy)
	}
	if got := lim.Size(); got != 3 {
		t.Fatalf("Size = %d, want 3", got)
	}

	if removed := lim.Sweep(); removed != 0 {
		t.Fatalf("live entries must survive the sweep, removed %d", removed)
	}

	clock.Advance(2 * time.Minute)
	if removed := lim.Sweep(); removed != 3 {
		t.Fatalf("Sweep removed %d entries, want 3", removed)
	}
	if got := lim.Size(); got != 0 {
		t.Errorf("Size after sweep = %d, want 0", got)
	}
}

func TestSweepKeepsActiveBlocks(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	lim := ratelimit.New(ratelimit.WithNow(clock.Now))
	policy := ratelimit.Policy{Window: time.Minute, Max: 1, Cooldown: 10 * time.Minute}

	lim.ConsumeWith("op", "actor", policy)
	lim.ConsumeWith("op", "actor", policy) // включает блокировку

	clock.Advance(2 * time.Minute)
	if removed := lim.Sweep(); removed != 0 {
		t.Fatalf("blocked entry must survive the sweep, removed %d", removed)
	}

	clock.Advance(9 * time.Minute)
	if removed := lim.Sweep(); removed != 1 {
		t.Fatalf("expired block must be swept, removed %d", removed)
	}
}

func TestConsumeConcurrent(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	lim := ratelimit.New(ratelimit.WithNow(clock.Now))
	policy := ratelimit.Policy{Window: time.Minute, Max: 50, Cooldown: 30 * time.Second}

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 100; i++ {
		wg.Go(func() {
			if d := lim.ConsumeWith("op", "actor", policy); d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		})
	}
	wg.Wait()

	if allowed != 50 {
		t.Errorf("allowed = %d, want exactly 50", allowed)
	}
}

func TestStartStopIdempotent(t *testing.T) {
	t.Parallel()

	lim := ratelimit.New()
	ctx := context.Background()
	lim.Start(ctx)
	lim.Start(ctx)
	lim.Stop()
	lim.Stop()
}
