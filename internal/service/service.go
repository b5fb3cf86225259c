// Package service composes the manifest store, preload cache, progressive
// loader, surface registry and event bus into the object the HTTP layer and
// the CLI drive.
package service

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"assetd/internal/events"
	"assetd/internal/fault"
	"assetd/internal/manifest"
	"assetd/internal/preload"
	"assetd/internal/progressive"
	"assetd/internal/recovery"
	"assetd/pkg/types"
)

// ErrNotLoaded is returned by Asset for a known model without cached bytes.
var ErrNotLoaded = errors.New("model not loaded")

// Config wires a Service. Manifest and Fetcher are required.
type Config struct {
	Manifest     *manifest.Store
	Fetcher      preload.Fetcher
	BudgetMB     int
	FetchTimeout time.Duration
	WarmParallel int
	Recovery     recovery.Config
	Clock        clock.Clock
	Logger       *zerolog.Logger
}

// Service owns one instance of every component. Construct with New.
type Service struct {
	store    *manifest.Store
	cache    *preload.Preloader
	loader   *progressive.Loader
	surfaces *recovery.Registry
	bus      *events.Bus
	pub      events.Publisher
	log      zerolog.Logger
	ready    atomic.Bool
}

func New(cfg Config) *Service {
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}
	store := cfg.Manifest
	if store == nil {
		store = manifest.NewStore(nil)
	}
	bus := events.NewBus()
	pub := events.Multi{bus, events.LogPublisher(log)}
	cache := preload.New(preload.Config{
		Manifest:     store,
		Fetcher:      cfg.Fetcher,
		BudgetMB:     cfg.BudgetMB,
		FetchTimeout: cfg.FetchTimeout,
		WarmParallel: cfg.WarmParallel,
		Logger:       &log,
		Publisher:    pub,
		Clock:        cfg.Clock,
	})
	return &Service{
		store:  store,
		cache:  cache,
		loader: progressive.New(progressive.Config{Cache: cache, Publisher: pub, Logger: &log}),
		surfaces: recovery.NewRegistry(recovery.Options{
			Config:    cfg.Recovery,
			Clock:     cfg.Clock,
			Publisher: pub,
			Logger:    &log,
		}),
		bus: bus,
		pub: pub,
		log: log,
	}
}

// Preloader exposes the cache for the CLI and tests.
func (s *Service) Preloader() *preload.Preloader { return s.cache }

// Warm preloads ids and marks the service ready whatever the outcome.
// Failures are logged and returned.
func (s *Service) Warm(ctx context.Context, ids []string) map[string]error {
	defer s.ready.Store(true)
	if len(ids) == 0 {
		return nil
	}
	start := time.Now()
	errs := s.cache.PreloadAll(ctx, ids)
	for id, err := range errs {
		s.log.Warn().Str("model", id).Err(err).Msg("service event=warm_failed")
	}
	s.log.Info().Int("models", len(ids)).Int("failed", len(errs)).Dur("dur", time.Since(start)).Msg("service event=warmed")
	return errs
}

func (s *Service) Ready() bool { return s.ready.Load() }

// SetReady overrides readiness; used when no warm-up runs.
func (s *Service) SetReady(v bool) { s.ready.Store(v) }

// ManifestReloaded is the watcher callback: it announces a new snapshot.
func (s *Service) ManifestReloaded(snap *manifest.Snapshot) {
	s.pub.Publish(events.New(events.ManifestUpdated, "", map[string]any{
		"version": snap.Version(), "models": snap.Len(),
	}))
}

// ExportManifest writes the current manifest as JSON.
func (s *Service) ExportManifest(w io.Writer) error { return s.store.Get().Export(w) }

func (s *Service) Stats() types.PreloadStats { return s.cache.Stats() }

// Records lists every cache entry with the memory in use.
func (s *Service) Records() types.RecordsResponse {
	recs := s.cache.Records()
	out := types.RecordsResponse{Records: make([]types.RecordStatus, 0, len(recs)), UsedMB: s.cache.UsedMB(), Displayed: s.cache.Displayed()}
	for _, r := range recs {
		out.Records = append(out.Records, r.Wire())
	}
	return out
}

func (s *Service) FallbackChain(id string) ([]types.ModelDescriptor, error) {
	return s.cache.ValidateFallbackChain(id)
}

func (s *Service) Preload(ctx context.Context, id string) (types.RecordStatus, error) {
	rec, err := s.cache.PreloadByID(ctx, id)
	if err != nil {
		return rec.Wire(), err
	}
	return rec.Wire(), nil
}

// Asset returns the cached bytes of id with its descriptor.
func (s *Service) Asset(id string) ([]byte, types.ModelDescriptor, error) {
	d, ok := s.store.Lookup(id)
	if !ok {
		return nil, types.ModelDescriptor{}, fault.New(fault.BrokenChain, id, "model not in manifest")
	}
	b, ok := s.cache.Bytes(id)
	if !ok {
		return nil, d, ErrNotLoaded
	}
	return b, d, nil
}

// SetDisplayed marks id as the model the renderer shows.
func (s *Service) SetDisplayed(id string) error {
	if _, ok := s.store.Lookup(id); !ok {
		return fault.New(fault.BrokenChain, id, "model not in manifest")
	}
	s.cache.SetDisplayed(id)
	return nil
}

func (s *Service) LoadProgressively(ctx context.Context, id string, from, to types.Quality, onQualityChange func(types.Quality)) (progressive.Result, error) {
	return s.loader.LoadProgressively(ctx, id, from, to, onQualityChange)
}

func (s *Service) Subscribe(ctx context.Context, buffer int) <-chan events.Event {
	return s.bus.Subscribe(ctx, buffer)
}

func (s *Service) InitSurface(id string) (*recovery.Controller, bool) {
	return s.surfaces.Initialize(id)
}

func (s *Service) Surface(id string) (*recovery.Controller, bool) { return s.surfaces.Get(id) }

func (s *Service) SurfaceIDs() []string { return s.surfaces.IDs() }

func (s *Service) RemoveSurface(id string) bool { return s.surfaces.Remove(id) }

// Close stops recovery timers and drops the cache.
func (s *Service) Close() error {
	s.surfaces.Close()
	return s.cache.Close()
}
