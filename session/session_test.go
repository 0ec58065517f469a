package session

import (
	"testing"
	"time"
)

type mockAborter struct {
	aborted bool
	source  byte
	reason  byte
}

func (m *mockAborter) Abort(source, reason byte) error {
	m.aborted = true
	m.source = source
	m.reason = reason
	return nil
}

func TestRegistry_RegisterLookupUnregister(t *testing.T) {
	r := NewRegistry()
	ctx := NewContext("sess-1", "SCU", "127.0.0.1:1234", &mockAborter{})

	r.Register(ctx)
	if r.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", r.Count())
	}

	got, ok := r.Lookup("sess-1")
	if !ok || got != ctx {
		t.Fatalf("Lookup() = %v, %v, want %v, true", got, ok, ctx)
	}

	r.Unregister("sess-1")
	if r.Count() != 0 {
		t.Errorf("Count() after Unregister = %d, want 0", r.Count())
	}
	if _, ok := r.Lookup("sess-1"); ok {
		t.Error("Lookup() should fail after Unregister")
	}
}

func TestRegistry_LookupMissing(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Lookup("missing"); ok {
		t.Error("Lookup() of missing session should return ok=false")
	}
}

func TestContext_TouchResetsIdleClock(t *testing.T) {
	ctx := NewContext("sess-1", "SCU", "", &mockAborter{})
	ctx.lastActivity = time.Now().Add(-time.Hour)

	if ctx.IdleSince() < time.Hour {
		t.Fatal("expected session to appear idle before Touch")
	}

	ctx.Touch()
	if ctx.IdleSince() > time.Second {
		t.Errorf("IdleSince() after Touch = %v, want near 0", ctx.IdleSince())
	}
}

func TestRegistry_SweepIdle_AbortsAndUnregisters(t *testing.T) {
	r := NewRegistry()

	idleTransport := &mockAborter{}
	idleCtx := NewContext("idle", "SCU", "", idleTransport)
	idleCtx.lastActivity = time.Now().Add(-time.Hour)
	r.Register(idleCtx)

	activeTransport := &mockAborter{}
	activeCtx := NewContext("active", "SCU", "", activeTransport)
	r.Register(activeCtx)

	aborted := r.SweepIdle(time.Minute)

	if len(aborted) != 1 || aborted[0] != "idle" {
		t.Errorf("SweepIdle returned %v, want [idle]", aborted)
	}
	if !idleTransport.aborted {
		t.Error("idle session's transport should have been aborted")
	}
	if activeTransport.aborted {
		t.Error("active session's transport should not have been aborted")
	}
	if r.Count() != 1 {
		t.Errorf("Count() after sweep = %d, want 1", r.Count())
	}
	if _, ok := r.Lookup("idle"); ok {
		t.Error("idle session should be unregistered after sweep")
	}
	if _, ok := r.Lookup("active"); !ok {
		t.Error("active session should remain registered after sweep")
	}
}

func TestRegistry_SweepIdle_NoStaleSessions(t *testing.T) {
	r := NewRegistry()
	r.Register(NewContext("active", "SCU", "", &mockAborter{}))

	aborted := r.SweepIdle(time.Minute)
	if len(aborted) != 0 {
		t.Errorf("SweepIdle returned %v, want empty", aborted)
	}
	if r.Count() != 1 {
		t.Errorf("Count() = %d, want 1", r.Count())
	}
}

func TestRegistry_StartStopSweep(t *testing.T) {
	r := NewRegistry()
	transport := &mockAborter{}
	ctx := NewContext("idle", "SCU", "", transport)
	ctx.lastActivity = time.Now().Add(-time.Hour)
	r.Register(ctx)

	r.StartSweep(10*time.Millisecond, time.Minute)
	defer r.Stop()

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if r.Count() == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if r.Count() != 0 {
		t.Errorf("background sweep did not remove idle session; Count() = %d", r.Count())
	}
	if !transport.aborted {
		t.Error("background sweep should have aborted the idle session's transport")
	}
}
