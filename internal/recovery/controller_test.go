package recovery

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"assetd/internal/events"
	"assetd/internal/fault"
	"assetd/pkg/types"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

type countingReacquirer struct {
	calls atomic.Int32
	ok    atomic.Bool
}

func (r *countingReacquirer) Reacquire(context.Context) error {
	r.calls.Add(1)
	if r.ok.Load() {
		return nil
	}
	return errors.New("still lost")
}

func newTestController(re Reacquirer) (*Controller, *clock.Mock, *events.MemoryPublisher) {
	mock := clock.NewMock()
	pub := events.NewMemoryPublisher()
	c := New("canvas", Options{
		Config:     DefaultConfig(),
		Clock:      mock,
		Reacquirer: re,
		Publisher:  pub,
	})
	return c, mock, pub
}

func TestController_ExhaustsAttemptsThenDegrades(t *testing.T) {
	re := &countingReacquirer{}
	c, mock, pub := newTestController(re)
	defer c.Close()

	c.ContextLost()
	st := c.Status()
	if st.State != "recovering" || !st.IsRecovering || st.CurrentAttempt != 1 || st.ContextLossCount != 1 {
		t.Fatalf("after loss: %+v", st)
	}

	delays := []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}
	for i, d := range delays {
		mock.Add(d - time.Millisecond)
		if got := re.calls.Load(); got != int32(i) {
			t.Fatalf("attempt %d fired early: calls=%d", i+1, got)
		}
		mock.Add(time.Millisecond)
		n := int32(i + 1)
		waitFor(t, func() bool { return re.calls.Load() == n })
		if i < len(delays)-1 {
			waitFor(t, func() bool { return c.Status().CurrentAttempt == i+2 })
		}
	}
	waitFor(t, func() bool { return c.State() == StateDegraded })

	st = c.Status()
	if !st.ShouldFallback || st.IsRecovering || st.State != "degraded" {
		t.Fatalf("degraded status: %+v", st)
	}
	if !fault.IsContextLossExhausted(c.Err()) {
		t.Fatalf("expected ContextLossExhausted, got %v", c.Err())
	}

	mock.Add(time.Hour)
	time.Sleep(10 * time.Millisecond)
	if got := re.calls.Load(); got != 3 {
		t.Fatalf("automatic attempt after degraded: calls=%d", got)
	}
	if len(pub.Named(events.FallbackTriggered)) != 1 {
		t.Fatalf("expected one fallback-triggered event")
	}

	// further losses are counted but never restart the cycle
	c.ContextLost()
	mock.Add(time.Hour)
	time.Sleep(10 * time.Millisecond)
	if re.calls.Load() != 3 || c.State() != StateDegraded {
		t.Fatalf("degraded surface restarted recovery")
	}
}

func TestController_RecoversOnRestoreSignal(t *testing.T) {
	c, mock, pub := newTestController(nil)
	defer c.Close()

	c.ContextLost()
	mock.Add(500 * time.Millisecond)
	waitFor(t, func() bool { return c.Status().CurrentAttempt == 2 })

	c.ContextRestored()
	mock.Add(time.Second)
	waitFor(t, func() bool { return c.State() == StateStable })

	st := c.Status()
	if st.IsRecovering || st.CurrentAttempt != 0 || st.ShouldFallback || st.ContextLossCount != 1 {
		t.Fatalf("restored status: %+v", st)
	}
	if c.Err() != nil {
		t.Fatalf("stable surface reports %v", c.Err())
	}
	if len(pub.Named(events.ContextRestored)) != 1 {
		t.Fatalf("expected context-restored event")
	}
}

func TestController_StaleRestoreSignalIgnored(t *testing.T) {
	c, mock, _ := newTestController(nil)
	defer c.Close()

	c.ContextRestored()
	c.ContextLost()
	mock.Add(500 * time.Millisecond)
	waitFor(t, func() bool { return c.Status().CurrentAttempt == 2 })
	if c.State() != StateRecovering {
		t.Fatalf("restore from before the loss satisfied the attempt")
	}
}

func TestController_RiskDrivenDowngrade(t *testing.T) {
	c, _, pub := newTestController(&countingReacquirer{})
	defer c.Close()

	if c.QualityLevel() != types.QualityHigh {
		t.Fatalf("initial level %s", c.QualityLevel())
	}
	c.ContextLost()
	if st := c.Status(); st.RiskLevel != "medium" || st.QualityLevel != "medium" {
		t.Fatalf("after 1 loss: %+v", st)
	}
	c.ContextLost()
	if st := c.Status(); st.RiskLevel != "medium" || st.QualityLevel != "low" {
		t.Fatalf("after 2 losses: %+v", st)
	}
	c.ContextLost()
	if st := c.Status(); st.RiskLevel != "high" || st.QualityLevel != "low" || st.CurrentAttempt != 1 {
		t.Fatalf("after 3 losses: %+v", st)
	}
	if n := len(pub.Named(events.QualityChanged)); n != 2 {
		t.Fatalf("quality-changed events=%d", n)
	}
}

func TestController_ResetDiagnosticsKeepsCycle(t *testing.T) {
	c, _, _ := newTestController(&countingReacquirer{})
	defer c.Close()

	c.ContextLost()
	c.ContextLost()
	c.ResetDiagnostics()
	st := c.Status()
	if st.ContextLossCount != 0 || st.RiskLevel != "low" {
		t.Fatalf("diagnostics not cleared: %+v", st)
	}
	if st.State != "recovering" || !st.IsRecovering || st.CurrentAttempt != 1 {
		t.Fatalf("cycle interrupted: %+v", st)
	}
}

func TestController_ResetLeavesDegraded(t *testing.T) {
	re := &countingReacquirer{}
	mock := clock.NewMock()
	c := New("canvas", Options{Config: Config{MaxAttempts: 1, InitialQuality: types.QualityUltra}, Clock: mock, Reacquirer: re})
	defer c.Close()

	c.ContextLost()
	mock.Add(DefaultInitialBackoff)
	waitFor(t, func() bool { return c.State() == StateDegraded })

	c.Reset()
	st := c.Status()
	if st.State != "stable" || st.ShouldFallback || st.ContextLossCount != 0 || st.QualityLevel != "ultra" {
		t.Fatalf("after reset: %+v", st)
	}

	// a new loss starts a fresh cycle with the initial delay
	re.ok.Store(true)
	c.ContextLost()
	mock.Add(DefaultInitialBackoff)
	waitFor(t, func() bool { return c.State() == StateStable && re.calls.Load() == 2 })
}

func TestController_ZeroConfigUsesDefaults(t *testing.T) {
	c := New("canvas", Options{Clock: clock.NewMock()})
	defer c.Close()
	if got := c.QualityLevel(); got != types.QualityHigh {
		t.Fatalf("initial level %s, want high", got)
	}
	if c.Config() != DefaultConfig() {
		t.Fatalf("config=%+v", c.Config())
	}

	r := NewRegistry(Options{Clock: clock.NewMock()})
	defer r.Close()
	s, _ := r.Initialize("other")
	if st := s.Status(); st.QualityLevel != "high" {
		t.Fatalf("registry surface starts at %s", st.QualityLevel)
	}

	// an explicit partial config keeps its low starting level
	low := New("low", Options{Config: Config{MaxAttempts: 2}, Clock: clock.NewMock()})
	defer low.Close()
	if got := low.QualityLevel(); got != types.QualityLow {
		t.Fatalf("partial config level %s", got)
	}
}

func TestController_ResetCancelsPendingAttempt(t *testing.T) {
	re := &countingReacquirer{}
	c, mock, _ := newTestController(re)
	defer c.Close()

	c.ContextLost()
	c.Reset()
	mock.Add(time.Minute)
	time.Sleep(10 * time.Millisecond)
	if re.calls.Load() != 0 {
		t.Fatalf("attempt ran after reset")
	}
}

func TestController_SetQualityLevelClamps(t *testing.T) {
	c, _, _ := newTestController(nil)
	defer c.Close()

	if got := c.SetQualityLevel(types.Quality(42)); got != types.QualityUltra {
		t.Fatalf("clamp high: %s", got)
	}
	if got := c.SetQualityLevel(types.Quality(-3)); got != types.QualityLow {
		t.Fatalf("clamp low: %s", got)
	}
	if s := c.QualitySettings(); s.Level != "low" || s.ShadowsEnabled {
		t.Fatalf("settings=%+v", s)
	}
}

func TestQualitySettings_PureAndMonotonic(t *testing.T) {
	prev := QualitySettings(types.QualityLow)
	if QualitySettings(types.QualityLow) != prev {
		t.Fatalf("not deterministic")
	}
	for _, q := range types.Qualities[1:] {
		s := QualitySettings(q)
		if s.PixelRatio < prev.PixelRatio || s.MaxTextureSize <= prev.MaxTextureSize || s.MaxLights <= prev.MaxLights {
			t.Fatalf("%s settings %+v not above %+v", q, s, prev)
		}
		prev = s
	}
}

func TestConfig_Schedule(t *testing.T) {
	got := DefaultConfig().Schedule(6)
	want := []time.Duration{
		500 * time.Millisecond, time.Second, 2 * time.Second,
		4 * time.Second, 8 * time.Second, 8 * time.Second,
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("schedule=%v want %v", got, want)
		}
	}
	cfg := Config{RiskMediumAt: 4, RiskHighAt: 2}.withDefaults()
	if cfg.RiskHighAt <= cfg.RiskMediumAt {
		t.Fatalf("thresholds not ordered: %+v", cfg)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(Options{Clock: clock.NewMock()})
	defer r.Close()

	a, created := r.Initialize("a")
	if !created {
		t.Fatalf("expected new controller")
	}
	again, created := r.Initialize("a")
	if created || again != a {
		t.Fatalf("initialize should be idempotent")
	}
	r.Initialize("b")
	if ids := r.IDs(); len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("ids=%v", ids)
	}
	if !r.Remove("a") || r.Remove("a") {
		t.Fatalf("remove semantics")
	}
	if _, ok := r.Get("a"); ok {
		t.Fatalf("removed controller still registered")
	}
	b, _ := r.Get("b")
	b.ContextLost()
	if st, _ := r.Get("b"); st.Status().ContextLossCount != 1 {
		t.Fatalf("registry returned a different controller")
	}
}
