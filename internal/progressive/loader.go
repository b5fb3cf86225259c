// Package progressive walks a model up through its quality tiers, loading
// each tier's variant through the preload cache and substituting fallback
// variants when a tier fails.
package progressive

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"assetd/internal/events"
	"assetd/internal/fault"
	"assetd/internal/manifest"
	"assetd/internal/preload"
	"assetd/pkg/types"
)

// Cache is the subset of the preloader the loader drives.
type Cache interface {
	PreloadModel(ctx context.Context, d types.ModelDescriptor) (preload.Record, error)
	ValidateFallbackChain(id string) ([]types.ModelDescriptor, error)
	Manifest() *manifest.Store
}

// Config wires a Loader.
type Config struct {
	Cache     Cache
	Publisher events.Publisher
	Logger    *zerolog.Logger
}

// Loader runs progressive loads. It holds no per-load state and is safe for
// concurrent use.
type Loader struct {
	cache Cache
	pub   events.Publisher
	log   zerolog.Logger
}

// New constructs a Loader.
func New(cfg Config) *Loader {
	l := &Loader{cache: cfg.Cache, pub: events.OrNop(cfg.Publisher), log: zerolog.Nop()}
	if cfg.Logger != nil {
		l.log = *cfg.Logger
	}
	return l
}

// TierOutcome records what happened at one requested tier.
type TierOutcome struct {
	Quality types.Quality
	// ModelID is the descriptor that ended up serving the tier; empty when
	// nothing did.
	ModelID string
	// Substitute is true when ModelID came from the tier variant's fallback
	// chain rather than the variant itself.
	Substitute bool
	Err        error
}

// Result is the terminal outcome of LoadProgressively.
type Result struct {
	Session string
	// Model is the last descriptor that loaded successfully.
	Model types.ModelDescriptor
	// Quality is the requested tier Model served.
	Quality types.Quality
	Loaded  bool
	Tiers   []TierOutcome
}

// LoadProgressively loads the variants of id from tier from up to tier to.
// onQualityChange is called with each tier, in ascending order, before that
// tier's load starts. A failed tier is substituted by the next loadable entry
// of its fallback chain; the call fails only when no tier loaded anything,
// carrying the last concrete error.
//
// Once ctx ends no further tier starts, and neither onQualityChange nor the
// event publisher sees anything more. A fetch already issued still completes
// into the cache. The partial Result is returned with ctx.Err().
func (l *Loader) LoadProgressively(ctx context.Context, id string, from, to types.Quality, onQualityChange func(types.Quality)) (Result, error) {
	res := Result{Session: uuid.NewString()}
	if !from.Valid() || !to.Valid() || from > to {
		return res, fault.Newf(fault.InvalidRange, id, "invalid quality range %s..%s", from, to)
	}
	if l.cache == nil {
		return res, errors.New("progressive: no cache configured")
	}
	pub := sessionPublisher(res.Session, events.Guard(ctx, l.pub))
	notify := guardCallback(ctx, onQualityChange)
	log := l.log.With().Str("session", res.Session).Str("model", id).Logger()
	tiers := types.QualityRange(from, to)

	var lastErr error
	for i, tier := range tiers {
		if err := ctx.Err(); err != nil {
			log.Debug().Str("tier", tier.String()).Msg("progressive event=canceled")
			return res, err
		}
		notify(tier)
		pub.Publish(events.New(events.LoadProgress, id, map[string]any{
			"quality": tier.String(), "step": i + 1, "steps": len(tiers),
		}))

		out, d, err := l.loadTier(ctx, pub, log, id, tier)
		if ctxErr := ctx.Err(); ctxErr != nil && (err == nil || errors.Is(err, ctxErr)) {
			if err == nil {
				res.record(out, d)
			}
			return res, ctxErr
		}
		res.Tiers = append(res.Tiers, out)
		if err != nil {
			tiersTotal.WithLabelValues("failed").Inc()
			lastErr = err
			continue
		}
		if out.Substitute {
			tiersTotal.WithLabelValues("substituted").Inc()
		} else {
			tiersTotal.WithLabelValues("loaded").Inc()
		}
		res.Model, res.Quality, res.Loaded = d, tier, true
	}
	if !res.Loaded {
		log.Warn().Err(lastErr).Msg("progressive event=exhausted")
		return res, lastErr
	}
	log.Info().Str("served", res.Model.ID).Str("quality", res.Quality.String()).Msg("progressive event=done")
	return res, nil
}

func (r *Result) record(out TierOutcome, d types.ModelDescriptor) {
	r.Tiers = append(r.Tiers, out)
	r.Model, r.Quality, r.Loaded = d, out.Quality, true
}

// loadTier loads the variant for tier, walking its fallback chain on failure.
func (l *Loader) loadTier(ctx context.Context, pub events.Publisher, log zerolog.Logger, id string, tier types.Quality) (TierOutcome, types.ModelDescriptor, error) {
	out := TierOutcome{Quality: tier}
	variant, err := ResolveVariant(l.cache.Manifest().Get(), id, tier)
	if err != nil {
		out.Err = err
		log.Debug().Str("tier", tier.String()).Err(err).Msg("progressive event=no_variant")
		return out, types.ModelDescriptor{}, err
	}
	if _, err = l.cache.PreloadModel(ctx, variant); err == nil {
		out.ModelID = variant.ID
		return out, variant, nil
	}
	if ctx.Err() != nil {
		out.Err = err
		return out, types.ModelDescriptor{}, err
	}
	lastErr := err
	log.Info().Str("tier", tier.String()).Str("variant", variant.ID).Err(err).Msg("progressive event=tier_failed")

	chain, cerr := l.cache.ValidateFallbackChain(variant.ID)
	if cerr != nil {
		out.Err = cerr
		return out, types.ModelDescriptor{}, cerr
	}
	prev := variant.ID
	for _, cand := range chain[1:] {
		if ctx.Err() != nil {
			out.Err = ctx.Err()
			return out, types.ModelDescriptor{}, ctx.Err()
		}
		substitutionsTotal.Inc()
		pub.Publish(events.New(events.FallbackTriggered, cand.ID, map[string]any{
			"from": prev, "quality": tier.String(), "reason": string(fault.KindOf(lastErr)),
		}))
		if _, err := l.cache.PreloadModel(ctx, cand); err != nil {
			lastErr = err
			prev = cand.ID
			if ctx.Err() != nil {
				out.Err = err
				return out, types.ModelDescriptor{}, err
			}
			continue
		}
		out.ModelID, out.Substitute = cand.ID, true
		log.Info().Str("tier", tier.String()).Str("substitute", cand.ID).Msg("progressive event=substituted")
		return out, cand, nil
	}
	out.Err = lastErr
	return out, types.ModelDescriptor{}, lastErr
}

// ResolveVariant picks the descriptor serving tier for the logical model id:
// "<id>-<tier>" when present, else id itself when its quality is tier.
func ResolveVariant(s *manifest.Snapshot, id string, tier types.Quality) (types.ModelDescriptor, error) {
	if d, ok := s.Lookup(id + "-" + tier.String()); ok {
		return d, nil
	}
	if d, ok := s.Lookup(id); ok && d.Quality == tier {
		return d, nil
	}
	return types.ModelDescriptor{}, fault.Newf(fault.BrokenChain, id, "no %s variant", tier)
}

// guardCallback forwards to cb only while ctx is live, checked at each call.
func guardCallback(ctx context.Context, cb func(types.Quality)) func(types.Quality) {
	return func(q types.Quality) {
		if cb == nil || ctx.Err() != nil {
			return
		}
		cb(q)
	}
}

func sessionPublisher(session string, p events.Publisher) events.Publisher {
	return events.PublisherFunc(func(e events.Event) {
		e.Session = session
		p.Publish(e)
	})
}
