package calls

import (
	"context"
	"sync"
	"testing"
	"time"
)

func newTestSweeper(t *testing.T) (*Sweeper, *Manager, *MemoryStore, *capturePublisher, *fakeClock) {
	t.Helper()
	m, store, pub, clock := newTestManager(t)
	w := NewSweeper(store, m, SweeperConfig{
		RingTimeout:    2 * time.Minute,
		ConnectTimeout: 5 * time.Minute,
	})
	w.clock = clock.Now
	return w, m, store, pub, clock
}

func TestSweep_MarksStaleRingingMissed(t *testing.T) {
	w, m, store, pub, clock := newTestSweeper(t)
	ctx := context.Background()

	s, err := m.Initiate(ctx, "alice", "bob", KindVoice)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if _, err := m.UpdateStatus(ctx, s.CallID, "bob", "ringing"); err != nil {
		t.Fatalf("ringing: %v", err)
	}

	// One second past the ring timeout.
	clock.Advance(2*time.Minute + time.Second)
	stats := w.RunOnce(ctx)
	if stats.Missed != 1 || stats.Errors != 0 {
		t.Fatalf("stats %+v, want 1 missed", stats)
	}

	cur, _ := store.Get(ctx, s.CallID)
	if cur.State != StateMissed {
		t.Fatalf("state %s, want missed", cur.State)
	}
	if cur.EndReason != "timeout" || cur.EndedAt == nil {
		t.Fatalf("unexpected terminal fields: %+v", cur)
	}
	if cur.DurationSeconds != 0 {
		t.Fatalf("missed call has duration %d", cur.DurationSeconds)
	}
	if got := pub.byType(EventCallTimeout); len(got) != 1 {
		t.Fatalf("expected 1 call_timeout event, got %d", len(got))
	}

	// Participants are released by the same transition.
	if _, err := m.Initiate(ctx, "alice", "carol", KindVoice); err != nil {
		t.Fatalf("alice should be free after timeout: %v", err)
	}
}

func TestSweep_IgnoresFreshSessions(t *testing.T) {
	w, m, store, _, clock := newTestSweeper(t)
	ctx := context.Background()

	s, _ := m.Initiate(ctx, "alice", "bob", KindVoice)

	// Just inside the ring timeout.
	clock.Advance(2*time.Minute - time.Second)
	stats := w.RunOnce(ctx)
	if stats.Scanned != 0 || stats.Missed != 0 {
		t.Fatalf("stats %+v, want untouched", stats)
	}

	cur, _ := store.Get(ctx, s.CallID)
	if cur.State != StateInitiated {
		t.Fatalf("state %s, want initiated", cur.State)
	}
}

func TestSweep_FailsStuckConnecting(t *testing.T) {
	w, m, store, pub, clock := newTestSweeper(t)
	ctx := context.Background()

	s, _ := m.Initiate(ctx, "alice", "bob", KindVideo)
	if _, err := m.Accept(ctx, s.CallID, "bob"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	clock.Advance(5*time.Minute + time.Second)
	stats := w.RunOnce(ctx)
	if stats.Failed != 1 || stats.Errors != 0 {
		t.Fatalf("stats %+v, want 1 failed", stats)
	}

	cur, _ := store.Get(ctx, s.CallID)
	if cur.State != StateFailed {
		t.Fatalf("state %s, want failed", cur.State)
	}
	if cur.EndReason != "connect_timeout" {
		t.Fatalf("end reason %q, want connect_timeout", cur.EndReason)
	}
	// The call connected at accept time, so the derived duration covers
	// the whole stuck-in-connecting span.
	want := int(cur.EndedAt.Sub(*cur.ConnectedAt) / time.Second)
	if cur.DurationSeconds != want || want != 301 {
		t.Fatalf("duration %d, want %d", cur.DurationSeconds, want)
	}
	if got := pub.byType(EventCallFailed); len(got) != 1 {
		t.Fatalf("expected 1 call_failed event, got %d", len(got))
	}
}

func TestSweep_LateAcceptGetsFullConnectTimeout(t *testing.T) {
	w, m, store, _, clock := newTestSweeper(t)
	ctx := context.Background()

	// Accepted one second before the ring deadline.
	s, _ := m.Initiate(ctx, "alice", "bob", KindVoice)
	clock.Advance(2*time.Minute - time.Second)
	if _, err := m.Accept(ctx, s.CallID, "bob"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	// Well past created_at + ConnectTimeout, but the connecting age is
	// only 3m1s; the session must survive.
	clock.Advance(3*time.Minute + time.Second)
	if stats := w.RunOnce(ctx); stats.Failed != 0 {
		t.Fatalf("late-accepted call failed early: %+v", stats)
	}
	cur, _ := store.Get(ctx, s.CallID)
	if cur.State != StateConnecting {
		t.Fatalf("state %s, want connecting", cur.State)
	}

	// One second past connected_at + ConnectTimeout it is reclaimed.
	clock.Advance(2 * time.Minute)
	if stats := w.RunOnce(ctx); stats.Failed != 1 {
		t.Fatalf("stats %+v, want 1 failed", stats)
	}
	cur, _ = store.Get(ctx, s.CallID)
	if cur.State != StateFailed {
		t.Fatalf("state %s, want failed", cur.State)
	}
}

func TestSweep_SkipsActiveCalls(t *testing.T) {
	w, m, store, _, clock := newTestSweeper(t)
	ctx := context.Background()

	s, _ := m.Initiate(ctx, "alice", "bob", KindVoice)
	if _, err := m.Accept(ctx, s.CallID, "bob"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := m.UpdateStatus(ctx, s.CallID, "bob", "active"); err != nil {
		t.Fatalf("mark active: %v", err)
	}

	// Long calls are fine; the sweeper never touches ACTIVE.
	clock.Advance(3 * time.Hour)
	stats := w.RunOnce(ctx)
	if stats.Missed != 0 || stats.Failed != 0 {
		t.Fatalf("stats %+v, active call swept", stats)
	}

	cur, _ := store.Get(ctx, s.CallID)
	if cur.State != StateActive {
		t.Fatalf("state %s, want active", cur.State)
	}
}

func TestSweep_ConcurrentPassesReclaimOnce(t *testing.T) {
	w, m, store, pub, clock := newTestSweeper(t)
	ctx := context.Background()

	second := NewSweeper(store, m, SweeperConfig{
		RingTimeout:    2 * time.Minute,
		ConnectTimeout: 5 * time.Minute,
	})
	second.clock = clock.Now

	s, _ := m.Initiate(ctx, "alice", "bob", KindVoice)
	clock.Advance(2*time.Minute + time.Second)

	var wg sync.WaitGroup
	stats := make([]SweepStats, 2)
	for i, sw := range []*Sweeper{w, second} {
		wg.Add(1)
		go func(i int, sw *Sweeper) {
			defer wg.Done()
			stats[i] = sw.RunOnce(ctx)
		}(i, sw)
	}
	wg.Wait()

	if total := stats[0].Missed + stats[1].Missed; total != 1 {
		t.Fatalf("reclaimed %d times across passes, want 1", total)
	}
	if stats[0].Errors+stats[1].Errors != 0 {
		t.Fatalf("sweep errors: %+v %+v", stats[0], stats[1])
	}
	if got := pub.byType(EventCallTimeout); len(got) != 1 {
		t.Fatalf("expected exactly 1 call_timeout event, got %d", len(got))
	}

	cur, _ := store.Get(ctx, s.CallID)
	if cur.State != StateMissed {
		t.Fatalf("state %s, want missed", cur.State)
	}
}

func TestSweep_RepeatedPassIsNoOp(t *testing.T) {
	w, m, store, _, clock := newTestSweeper(t)
	ctx := context.Background()

	s, _ := m.Initiate(ctx, "alice", "bob", KindVoice)
	clock.Advance(3 * time.Minute)

	if stats := w.RunOnce(ctx); stats.Missed != 1 {
		t.Fatalf("first pass stats %+v", stats)
	}
	first, _ := store.Get(ctx, s.CallID)

	clock.Advance(10 * time.Minute)
	if stats := w.RunOnce(ctx); stats.Missed != 0 {
		t.Fatalf("second pass reclaimed again: %+v", stats)
	}
	cur, _ := store.Get(ctx, s.CallID)
	if !cur.EndedAt.Equal(*first.EndedAt) {
		t.Fatalf("terminal record mutated by repeat sweep")
	}
}
