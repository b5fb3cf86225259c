// Package recovery tracks the health of rendering surfaces. A Controller
// owns one surface's diagnostics and drives the
// stable -> lost -> recovering -> (stable | degraded) state machine with
// bounded, backed-off reacquisition attempts.
package recovery

import (
	"context"
	"errors"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"assetd/internal/events"
	"assetd/internal/fault"
	"assetd/pkg/types"
)

// State is the closed set of surface states.
type State int

const (
	StateStable State = iota
	StateLost
	StateRecovering
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateLost:
		return "lost"
	case StateRecovering:
		return "recovering"
	case StateDegraded:
		return "degraded"
	default:
		return "stable"
	}
}

// Risk grades how unstable a surface has been.
type Risk int

const (
	RiskLow Risk = iota
	RiskMedium
	RiskHigh
)

func (r Risk) String() string {
	switch r {
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	default:
		return "low"
	}
}

// Reacquirer tries to get a usable rendering context back.
type Reacquirer interface {
	Reacquire(ctx context.Context) error
}

// ReacquirerFunc adapts a function to Reacquirer.
type ReacquirerFunc func(ctx context.Context) error

func (f ReacquirerFunc) Reacquire(ctx context.Context) error { return f(ctx) }

// ErrNotRestored is returned by SignalReacquirer when no restore was signalled.
var ErrNotRestored = errors.New("context not restored")

// SignalReacquirer succeeds once per restore signal received since the last
// attempt. It models surfaces that report restoration from the outside.
type SignalReacquirer struct {
	ch chan struct{}
}

func NewSignalReacquirer() *SignalReacquirer {
	return &SignalReacquirer{ch: make(chan struct{}, 1)}
}

// Signal records a restore. Repeated signals before an attempt collapse.
func (s *SignalReacquirer) Signal() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// drain discards a restore signalled before the current loss.
func (s *SignalReacquirer) drain() {
	select {
	case <-s.ch:
	default:
	}
}

func (s *SignalReacquirer) Reacquire(ctx context.Context) error {
	select {
	case <-s.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrNotRestored
	}
}

// Options wires a Controller. Zero values pick defaults.
type Options struct {
	Config     Config
	Clock      clock.Clock
	Reacquirer Reacquirer
	Publisher  events.Publisher
	Logger     *zerolog.Logger
}

// Controller owns the diagnostics of one rendering surface. All methods are
// safe for concurrent use; readers get snapshots.
type Controller struct {
	id     string
	cfg    Config
	clock  clock.Clock
	re     Reacquirer
	signal *SignalReacquirer
	pub    events.Publisher
	log    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	state          State
	lossCount      int
	risk           Risk
	attempt        int
	quality        types.Quality
	shouldFallback bool
	bo             *backoff.ExponentialBackOff
	timer          *clock.Timer
	// epoch invalidates attempts scheduled before a Reset or Close.
	epoch  uint64
	closed bool
}

// New creates the diagnostics for surface id in the stable state.
func New(id string, opts Options) *Controller {
	cfg := opts.Config.withDefaults()
	c := &Controller{
		id:      id,
		cfg:     cfg,
		clock:   opts.Clock,
		re:      opts.Reacquirer,
		pub:     events.OrNop(opts.Publisher),
		log:     zerolog.Nop(),
		quality: cfg.InitialQuality,
		bo:      cfg.newBackOff(),
	}
	if c.clock == nil {
		c.clock = clock.New()
	}
	if c.re == nil {
		c.signal = NewSignalReacquirer()
		c.re = c.signal
	} else if s, ok := c.re.(*SignalReacquirer); ok {
		c.signal = s
	}
	if opts.Logger != nil {
		c.log = opts.Logger.With().Str("surface", id).Logger()
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c
}

// ID returns the surface id.
func (c *Controller) ID() string { return c.id }

// Config returns the effective configuration.
func (c *Controller) Config() Config { return c.cfg }

// ContextLost records a loss signal from the surface. It bumps the loss
// count, regrades risk, applies the risk-driven quality downgrade and, unless
// a cycle is already running or the surface is degraded, schedules the first
// reacquisition attempt.
func (c *Controller) ContextLost() {
	var evs []events.Event
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.lossCount++
	c.risk = c.riskFor(c.lossCount)
	contextLossesTotal.Inc()
	evs = append(evs, c.event(events.ContextLost, map[string]any{
		"count": c.lossCount, "risk": c.risk.String(), "state": c.state.String(),
	}))
	if q := c.downgradeFor(c.risk); q != c.quality {
		evs = append(evs, c.setQualityLocked(q, "risk"))
	}
	switch c.state {
	case StateStable:
		c.state = StateLost
		c.log.Warn().Int("count", c.lossCount).Str("risk", c.risk.String()).Msg("recovery event=context_lost")
		c.bo.Reset()
		if c.signal != nil {
			c.signal.drain()
		}
		evs = append(evs, c.scheduleLocked())
	default:
		c.log.Warn().Int("count", c.lossCount).Str("state", c.state.String()).Msg("recovery event=context_lost_again")
	}
	c.mu.Unlock()
	c.publish(evs)
}

// ContextRestored reports that the surface regained its context. With the
// default SignalReacquirer the next scheduled attempt succeeds.
func (c *Controller) ContextRestored() {
	if c.signal != nil {
		c.signal.Signal()
	}
	c.log.Info().Msg("recovery event=restore_signalled")
}

// scheduleLocked moves Lost or Recovering into Recovering with the next
// attempt armed on the clock.
func (c *Controller) scheduleLocked() events.Event {
	c.state = StateRecovering
	c.attempt++
	delay := c.bo.NextBackOff()
	epoch, attempt := c.epoch, c.attempt
	c.timer = c.clock.AfterFunc(delay, func() { c.runAttempt(epoch, attempt) })
	c.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("recovery event=attempt_scheduled")
	return c.event(events.RecoveryAttempt, map[string]any{
		"attempt": attempt, "phase": "scheduled", "delay_ms": delay.Milliseconds(),
	})
}

func (c *Controller) runAttempt(epoch uint64, attempt int) {
	c.mu.Lock()
	if c.epoch != epoch || c.state != StateRecovering || c.attempt != attempt {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.AttemptTimeout)
	err := c.re.Reacquire(ctx)
	cancel()

	var evs []events.Event
	c.mu.Lock()
	if c.epoch != epoch || c.state != StateRecovering {
		c.mu.Unlock()
		return
	}
	switch {
	case err == nil:
		attemptsTotal.WithLabelValues("ok").Inc()
		c.state = StateStable
		c.attempt = 0
		c.timer = nil
		c.bo.Reset()
		c.log.Info().Int("attempt", attempt).Msg("recovery event=restored")
		evs = append(evs, c.event(events.ContextRestored, map[string]any{"attempt": attempt}))
	case attempt >= c.cfg.MaxAttempts:
		attemptsTotal.WithLabelValues("failed").Inc()
		c.state = StateDegraded
		c.shouldFallback = true
		c.timer = nil
		degradedSurfaces.Inc()
		c.log.Error().Int("attempts", attempt).Err(err).Msg("recovery event=degraded")
		evs = append(evs,
			c.event(events.RecoveryAttempt, map[string]any{"attempt": attempt, "phase": "failed", "error": err.Error()}),
			c.event(events.FallbackTriggered, map[string]any{"reason": string(fault.ContextLossExhausted), "attempts": attempt}),
		)
	default:
		attemptsTotal.WithLabelValues("failed").Inc()
		c.log.Warn().Int("attempt", attempt).Err(err).Msg("recovery event=attempt_failed")
		evs = append(evs,
			c.event(events.RecoveryAttempt, map[string]any{"attempt": attempt, "phase": "failed", "error": err.Error()}),
			c.scheduleLocked(),
		)
	}
	c.mu.Unlock()
	c.publish(evs)
}

// SetQualityLevel applies level clamped to low..ultra and returns the
// applied level.
func (c *Controller) SetQualityLevel(level types.Quality) types.Quality {
	c.mu.Lock()
	level = level.Clamp()
	if level == c.quality {
		c.mu.Unlock()
		return level
	}
	ev := c.setQualityLocked(level, "override")
	c.mu.Unlock()
	c.publish([]events.Event{ev})
	return level
}

func (c *Controller) setQualityLocked(level types.Quality, reason string) events.Event {
	from := c.quality
	c.quality = level
	c.log.Info().Str("from", from.String()).Str("to", level.String()).Str("reason", reason).Msg("recovery event=quality_changed")
	return c.event(events.QualityChanged, map[string]any{"from": from.String(), "to": level.String(), "reason": reason})
}

// QualityLevel returns the current level.
func (c *Controller) QualityLevel() types.Quality {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quality
}

// QualitySettings returns the renderer parameters for the current level.
func (c *Controller) QualitySettings() types.QualitySettings {
	return QualitySettings(c.QualityLevel())
}

// ResetDiagnostics clears the loss count and risk. A running recovery cycle
// is left alone.
func (c *Controller) ResetDiagnostics() {
	c.mu.Lock()
	c.lossCount = 0
	c.risk = RiskLow
	c.mu.Unlock()
	c.log.Info().Msg("recovery event=diagnostics_reset")
}

// Reset is the explicit full reset: any state, Degraded included, returns to
// Stable with fresh diagnostics and the initial quality level. Pending
// attempts are discarded.
func (c *Controller) Reset() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.stopLocked()
	if c.state == StateDegraded {
		degradedSurfaces.Dec()
	}
	c.state = StateStable
	c.lossCount = 0
	c.risk = RiskLow
	c.attempt = 0
	c.shouldFallback = false
	c.quality = c.cfg.InitialQuality
	c.bo.Reset()
	ev := c.event(events.ContextRestored, map[string]any{"reason": "reset"})
	c.mu.Unlock()
	c.log.Info().Msg("recovery event=reset")
	c.publish([]events.Event{ev})
}

// Close stops pending attempts. The controller ignores further signals.
func (c *Controller) Close() {
	c.mu.Lock()
	c.stopLocked()
	if c.state == StateDegraded && !c.closed {
		degradedSurfaces.Dec()
	}
	c.closed = true
	c.mu.Unlock()
	c.cancel()
}

func (c *Controller) stopLocked() {
	c.epoch++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns a snapshot of the diagnostics.
func (c *Controller) Status() types.RecoveryStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return types.RecoveryStatus{
		SurfaceID:        c.id,
		State:            c.state.String(),
		ContextLossCount: c.lossCount,
		RiskLevel:        c.risk.String(),
		IsRecovering:     c.state == StateRecovering,
		CurrentAttempt:   c.attempt,
		QualityLevel:     c.quality.String(),
		ShouldFallback:   c.shouldFallback,
	}
}

// Err reports ContextLossExhausted while the surface is degraded.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateDegraded {
		return nil
	}
	return fault.Newf(fault.ContextLossExhausted, "", "surface %s: %d recovery attempts failed", c.id, c.attempt)
}

// riskFor grades a loss count against the configured thresholds.
func (c *Controller) riskFor(count int) Risk {
	switch {
	case count >= c.cfg.RiskHighAt:
		return RiskHigh
	case count >= c.cfg.RiskMediumAt:
		return RiskMedium
	default:
		return RiskLow
	}
}

// downgradeFor returns the level after a loss at risk r: medium steps one
// tier down, high drops to low.
func (c *Controller) downgradeFor(r Risk) types.Quality {
	switch r {
	case RiskHigh:
		return types.QualityLow
	case RiskMedium:
		return (c.quality - 1).Clamp()
	default:
		return c.quality
	}
}

func (c *Controller) event(name string, fields map[string]any) events.Event {
	e := events.New(name, "", fields)
	e.Session = c.id
	e.Time = c.clock.Now()
	return e
}

func (c *Controller) publish(evs []events.Event) {
	for _, e := range evs {
		c.pub.Publish(e)
	}
}

