package connwatch

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/santosobot/santoso/internal/events"
)

func fastBackoff() BackoffConfig {
	return BackoffConfig{
		InitialDelay: time.Millisecond,
		MaxDelay:     4 * time.Millisecond,
		Multiplier:   2,
		PollInterval: 5 * time.Millisecond,
		ProbeTimeout: 100 * time.Millisecond,
	}
}

func quietManager(bus *events.Bus) *Manager {
	return NewManager(slog.New(slog.DiscardHandler), bus)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestBackoffNext(t *testing.T) {
	b := BackoffConfig{InitialDelay: time.Second, MaxDelay: 5 * time.Second, Multiplier: 2}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	var d time.Duration
	for i, w := range want {
		d = b.next(d)
		if d != w {
			t.Errorf("step %d: delay = %v, want %v", i, d, w)
		}
	}
}

func TestBackoffJitterBounds(t *testing.T) {
	b := BackoffConfig{Jitter: 0.1}
	for range 100 {
		d := b.jittered(time.Second)
		if d < 900*time.Millisecond || d > 1100*time.Millisecond {
			t.Fatalf("jittered delay %v outside ±10%%", d)
		}
	}
	if got := (BackoffConfig{}).jittered(time.Second); got != time.Second {
		t.Errorf("zero jitter changed delay to %v", got)
	}
}

func TestWatcher_ReadyOnFirstProbe(t *testing.T) {
	var ready atomic.Int32
	m := quietManager(nil)
	defer m.Stop()

	w := m.Watch(t.Context(), Config{
		Name:    "llm",
		Probe:   func(context.Context) error { return nil },
		Backoff: fastBackoff(),
		OnReady: func() { ready.Add(1) },
	})

	ctx, cancel := context.WithTimeout(t.Context(), time.Second)
	defer cancel()
	if err := w.WaitReady(ctx); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
	if !w.Ready() || w.Err() != nil {
		t.Errorf("Ready=%v Err=%v", w.Ready(), w.Err())
	}

	// Repeated successful polls are not transitions.
	time.Sleep(30 * time.Millisecond)
	if n := ready.Load(); n != 1 {
		t.Errorf("OnReady called %d times, want 1", n)
	}
}

func TestWatcher_RecoversAfterFailures(t *testing.T) {
	var calls atomic.Int32
	probe := func(context.Context) error {
		if calls.Add(1) < 4 {
			return errors.New("connection refused")
		}
		return nil
	}

	var downs atomic.Int32
	m := quietManager(nil)
	defer m.Stop()
	w := m.Watch(t.Context(), Config{
		Name:    "llm",
		Probe:   probe,
		Backoff: fastBackoff(),
		OnDown:  func(error) { downs.Add(1) },
	})

	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	if err := w.WaitReady(ctx); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
	if calls.Load() < 4 {
		t.Errorf("probe called %d times, want at least 4", calls.Load())
	}
	// Down is reported once for the initial failing streak.
	if n := downs.Load(); n != 1 {
		t.Errorf("OnDown called %d times, want 1", n)
	}
	if st := w.Status(); st.Failures != 0 || st.LastError != "" {
		t.Errorf("status after recovery = %+v", st)
	}
}

func TestWatcher_DetectsOutage(t *testing.T) {
	var failing atomic.Bool
	bus := events.New()
	sub := bus.Subscribe(16)
	defer sub.Close()

	m := quietManager(bus)
	defer m.Stop()
	w := m.Watch(t.Context(), Config{
		Name: "broker",
		Probe: func(context.Context) error {
			if failing.Load() {
				return errors.New("down")
			}
			return nil
		},
		Backoff: fastBackoff(),
	})

	waitFor(t, w.Ready)
	failing.Store(true)
	waitFor(t, func() bool { return !w.Ready() })

	st := w.Status()
	if st.LastError != "down" || st.Failures == 0 {
		t.Errorf("status = %+v", st)
	}

	var kinds []string
	timeout := time.After(time.Second)
	for len(kinds) < 2 {
		select {
		case e := <-sub.C:
			if e.Data["service"] != "broker" {
				t.Errorf("event service = %v", e.Data["service"])
			}
			kinds = append(kinds, e.Kind)
		case <-timeout:
			t.Fatalf("got events %v, want ready then down", kinds)
		}
	}
	if kinds[0] != events.KindServiceReady || kinds[1] != events.KindServiceDown {
		t.Errorf("event kinds = %v", kinds)
	}
}

func TestWatcher_ProbeTimeout(t *testing.T) {
	m := quietManager(nil)
	defer m.Stop()

	cfg := fastBackoff()
	cfg.ProbeTimeout = 5 * time.Millisecond
	w := m.Watch(t.Context(), Config{
		Name: "slow",
		Probe: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
		Backoff: cfg,
	})

	waitFor(t, func() bool { return w.Err() != nil })
	if !errors.Is(w.Err(), context.DeadlineExceeded) {
		t.Errorf("Err = %v, want deadline exceeded", w.Err())
	}
}

func TestWatcher_StopEndsLoop(t *testing.T) {
	var calls atomic.Int32
	m := quietManager(nil)
	w := m.Watch(t.Context(), Config{
		Name:    "x",
		Probe:   func(context.Context) error { calls.Add(1); return nil },
		Backoff: fastBackoff(),
	})
	waitFor(t, w.Ready)
	w.Stop()

	n := calls.Load()
	time.Sleep(20 * time.Millisecond)
	if calls.Load() != n {
		t.Error("probe kept running after Stop")
	}
}

func TestManager_ReplaceAndStatuses(t *testing.T) {
	m := quietManager(nil)
	defer m.Stop()

	first := m.Watch(t.Context(), Config{Name: "b", Probe: func(context.Context) error { return nil }, Backoff: fastBackoff()})
	m.Watch(t.Context(), Config{Name: "a", Probe: func(context.Context) error { return errors.New("no") }, Backoff: fastBackoff()})
	second := m.Watch(t.Context(), Config{Name: "b", Probe: func(context.Context) error { return nil }, Backoff: fastBackoff()})

	if m.Get("b") != second || first == second {
		t.Fatal("second Watch did not replace the first")
	}
	select {
	case <-first.done:
	default:
		t.Error("replaced watcher still running")
	}

	waitFor(t, func() bool { return m.Get("a").Err() != nil && m.Get("b").Ready() })
	st := m.Statuses()
	if len(st) != 2 || st[0].Name != "a" || st[1].Name != "b" {
		t.Fatalf("Statuses = %+v", st)
	}
	if st[0].Ready || !st[1].Ready {
		t.Errorf("ready flags = %v, %v", st[0].Ready, st[1].Ready)
	}
	if m.Get("missing") != nil {
		t.Error("Get(missing) should be nil")
	}
}

func TestOnce(t *testing.T) {
	st := Once(t.Context(), "llm", time.Second, func(context.Context) error { return errors.New("401") })
	if st.Ready || st.LastError != "401" || st.Name != "llm" {
		t.Errorf("Once = %+v", st)
	}
	st = Once(t.Context(), "llm", time.Second, func(context.Context) error { return nil })
	if !st.Ready {
		t.Errorf("Once = %+v", st)
	}
}
