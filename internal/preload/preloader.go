// Package preload is the content-addressed asset cache. A Preloader fetches
// GLB/GLTF payloads, verifies them, deduplicates concurrent fetches of one
// model and keeps the summed memory estimate under a budget.
package preload

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"assetd/internal/events"
	"assetd/internal/fault"
	"assetd/internal/manifest"
	"assetd/pkg/types"
)

// ErrClosed is returned by operations on a closed Preloader.
var ErrClosed = errors.New("preloader closed")

// Preloader owns the preload records. Callers only ever see copies.
type Preloader struct {
	mu        sync.Mutex
	records   map[string]*entry
	flight    singleflight.Group
	displayed string
	gen       uint64
	closed    bool

	manifest     *manifest.Store
	fetcher      Fetcher
	budgetMB     int
	fetchTimeout time.Duration
	warmParallel int
	pub          events.Publisher
	clock        clock.Clock
	log          zerolog.Logger
}

// Manifest returns the store the preloader reads descriptors from.
func (p *Preloader) Manifest() *manifest.Store { return p.manifest }

// maxRejoins bounds how often a caller re-issues a load after joining a
// flight that served a different revision of its descriptor.
const maxRejoins = 2

// PreloadModel makes d available in the cache. A fresh Loaded entry returns
// immediately; a fetch already in flight for d.ID is joined rather than
// repeated. A joined fetch that loaded another checksum or version of d is
// re-issued for d. The fetch itself is detached from ctx: if ctx ends first
// the caller gets ctx.Err() while the fetch still completes and populates
// the cache.
func (p *Preloader) PreloadModel(ctx context.Context, d types.ModelDescriptor) (Record, error) {
	if d.ID == "" {
		return Record{}, errors.New("preload: empty model id")
	}
	detached := context.WithoutCancel(ctx)
	for attempt := 0; ; attempt++ {
		if rec, ok, err := p.cached(d); err != nil {
			return Record{}, err
		} else if ok {
			return rec, nil
		}
		ch := p.flight.DoChan(d.ID, func() (any, error) {
			return p.load(detached, d)
		})
		select {
		case <-ctx.Done():
			return Record{}, ctx.Err()
		case res := <-ch:
			rec, _ := res.Val.(Record)
			if res.Err == nil && !rec.matches(d) && attempt < maxRejoins {
				p.log.Debug().Str("model", d.ID).Str("version", d.Version).Msg("preload event=rejoin")
				continue
			}
			return rec, res.Err
		}
	}
}

// PreloadByID resolves id in the current manifest and preloads it.
func (p *Preloader) PreloadByID(ctx context.Context, id string) (Record, error) {
	d, ok := p.manifest.Lookup(id)
	if !ok {
		return Record{}, fault.New(fault.BrokenChain, id, "model not in manifest")
	}
	return p.PreloadModel(ctx, d)
}

// PreloadAll warms ids concurrently, at most WarmParallel at a time, and
// returns the failures keyed by id.
func (p *Preloader) PreloadAll(ctx context.Context, ids []string) map[string]error {
	var (
		mu   sync.Mutex
		errs = make(map[string]error)
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.warmParallel)
	for _, id := range ids {
		g.Go(func() error {
			if _, err := p.PreloadByID(gctx, id); err != nil {
				mu.Lock()
				errs[id] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

// cached returns the entry for d when it is Loaded and fresh.
func (p *Preloader) cached(d types.ModelDescriptor) (Record, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return Record{}, false, ErrClosed
	}
	e := p.records[d.ID]
	if e == nil || e.rec.Status != StatusLoaded || e.stale(d, p.clock.Now()) {
		return Record{}, false, nil
	}
	cacheHitsTotal.Inc()
	rec := e.rec
	rec.Source = SourceCache
	return rec, true, nil
}

func (p *Preloader) load(ctx context.Context, d types.ModelDescriptor) (Record, error) {
	// Another flight may have populated the entry after our fast-path check.
	if rec, ok, err := p.cached(d); err != nil {
		return Record{}, err
	} else if ok {
		return rec, nil
	}

	p.mu.Lock()
	gen := p.gen
	e := p.records[d.ID]
	if e == nil {
		e = &entry{}
		p.records[d.ID] = e
	}
	e.rec = Record{ModelID: d.ID, Status: StatusLoading, UpdatedAt: p.clock.Now(), MemoryMB: d.MemoryUsageMB}
	e.data = nil
	e.verified = false
	victims, over := p.evictLocked(d.ID, d.MemoryUsageMB)
	cachedMB.Set(float64(p.usedLocked("")))
	p.mu.Unlock()

	for _, v := range victims {
		evictionsTotal.Inc()
		p.log.Info().Str("model", v.ModelID).Int("mb", v.MemoryMB).Str("for", d.ID).Msg("preload event=evict")
		p.pub.Publish(events.New(events.Eviction, v.ModelID, map[string]any{"mb": v.MemoryMB, "for": d.ID}))
	}
	if over {
		p.log.Warn().Str("model", d.ID).Int("budget_mb", p.budgetMB).Msg("preload event=budget_exceeded")
		p.pub.Publish(events.New(events.BudgetExceeded, d.ID, map[string]any{"budget_mb": p.budgetMB}))
	}

	p.log.Debug().Str("model", d.ID).Str("path", d.Path).Msg("preload event=fetch_start")
	p.pub.Publish(events.New(events.LoadStart, d.ID, map[string]any{"path": d.Path, "quality": d.Quality.String()}))

	start := time.Now()
	data, err := p.fetch(ctx, d)
	fetchDuration.Observe(time.Since(start).Seconds())
	return p.commit(gen, e, d, data, err, time.Since(start))
}

// fetch runs one attempt bounded by the per-attempt timeout and validates
// the payload. It never retries.
func (p *Preloader) fetch(ctx context.Context, d types.ModelDescriptor) ([]byte, error) {
	if p.fetcher == nil {
		return nil, fault.New(fault.NetworkError, d.ID, "no fetcher configured")
	}
	fctx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
	defer cancel()
	data, err := p.fetcher.Fetch(fctx, d.Path)
	if err != nil {
		if errors.Is(fctx.Err(), context.DeadlineExceeded) && fault.KindOf(err) != fault.Timeout {
			return nil, fault.Wrap(fault.Timeout, d.ID, err)
		}
		return nil, withModel(d.ID, classifyTransport(err))
	}
	if ferr := checkFormat(d.Path, data); ferr != nil {
		return nil, fault.Wrap(fault.UnsupportedFormat, d.ID, ferr)
	}
	if d.Checksum != "" {
		got, ok, cerr := verifyChecksum(d.Checksum, data)
		if cerr != nil {
			return nil, fault.Wrap(fault.ChecksumMismatch, d.ID, cerr)
		}
		if !ok {
			return nil, fault.Newf(fault.ChecksumMismatch, d.ID, "expected %s, got %s", d.Checksum, got)
		}
	}
	return data, nil
}

func (p *Preloader) commit(gen uint64, e *entry, d types.ModelDescriptor, data []byte, err error, dur time.Duration) (Record, error) {
	p.mu.Lock()
	now := p.clock.Now()
	var rec Record
	if err != nil {
		rec = Record{ModelID: d.ID, Status: StatusFailed, UpdatedAt: now, ErrKind: fault.KindOf(err), Err: err.Error()}
	} else {
		rec = Record{
			ModelID:   d.ID,
			Status:    StatusLoaded,
			SizeBytes: int64(len(data)),
			Source:    SourceNetwork,
			UpdatedAt: now,
			LoadedAt:  now,
			Checksum:  d.Checksum,
			Version:   d.Version,
			MemoryMB:  d.MemoryUsageMB,
		}
	}
	// A Reset while the fetch ran detaches this outcome from the cache.
	if p.gen == gen && p.records[d.ID] == e {
		e.rec = rec
		if err == nil {
			e.data = data
			e.verified = d.Checksum != ""
			if d.CachingHeaders != nil {
				h := *d.CachingHeaders
				e.headers = &h
			} else {
				e.headers = nil
			}
		}
	}
	cachedMB.Set(float64(p.usedLocked("")))
	p.mu.Unlock()

	if err != nil {
		kind := string(rec.ErrKind)
		if kind == "" {
			kind = "unknown"
		}
		fetchesTotal.WithLabelValues(kind).Inc()
		p.log.Warn().Str("model", d.ID).Str("kind", kind).Err(err).Msg("preload event=fetch_failed")
		p.pub.Publish(events.New(events.LoadError, d.ID, map[string]any{"kind": kind, "error": err.Error()}))
		return rec, err
	}
	fetchesTotal.WithLabelValues("ok").Inc()
	p.log.Info().Str("model", d.ID).Int("bytes", len(data)).Dur("dur", dur).Msg("preload event=loaded")
	p.pub.Publish(events.New(events.LoadComplete, d.ID, map[string]any{"bytes": len(data), "dur_ms": int(dur / time.Millisecond)}))
	return rec, nil
}

// evictLocked drops Loaded entries oldest-loaded-first until required MB,
// plus what is loaded or in flight, fits the budget. The displayed model, its immediate fallback target, keep and
// anything not Loaded are never evicted. over reports that the budget is
// still exceeded afterwards.
func (p *Preloader) evictLocked(keep string, required int) (victims []Record, over bool) {
	if p.budgetMB <= 0 {
		return nil, false
	}
	protected := p.protectedLocked()
	used := p.reservedLocked(keep)
	for used+required > p.budgetMB {
		var victim *entry
		for id, e := range p.records {
			if id == keep || protected[id] || e.rec.Status != StatusLoaded {
				continue
			}
			if victim == nil || e.rec.LoadedAt.Before(victim.rec.LoadedAt) ||
				(e.rec.LoadedAt.Equal(victim.rec.LoadedAt) && id < victim.rec.ModelID) {
				victim = e
			}
		}
		if victim == nil {
			return victims, true
		}
		delete(p.records, victim.rec.ModelID)
		used -= victim.rec.MemoryMB
		victims = append(victims, victim.rec)
	}
	return victims, false
}

func (p *Preloader) protectedLocked() map[string]bool {
	out := make(map[string]bool, 2)
	if p.displayed == "" {
		return out
	}
	out[p.displayed] = true
	if d, ok := p.manifest.Lookup(p.displayed); ok && d.FallbackModelID != "" {
		out[d.FallbackModelID] = true
	}
	return out
}

// reservedLocked sums the memory estimate of Loaded and Loading entries,
// skipping except. Fetches in flight hold their share of the budget.
func (p *Preloader) reservedLocked(except string) int {
	used := 0
	for id, e := range p.records {
		if id != except && (e.rec.Status == StatusLoaded || e.rec.Status == StatusLoading) {
			used += e.rec.MemoryMB
		}
	}
	return used
}

// usedLocked sums the memory estimate of Loaded entries, skipping except.
func (p *Preloader) usedLocked(except string) int {
	used := 0
	for id, e := range p.records {
		if id != except && e.rec.Status == StatusLoaded {
			used += e.rec.MemoryMB
		}
	}
	return used
}

// SetDisplayed records which model the renderer currently shows. It and its
// immediate fallback target are exempt from eviction.
func (p *Preloader) SetDisplayed(id string) {
	p.mu.Lock()
	prev := p.displayed
	p.displayed = id
	p.mu.Unlock()
	if prev == id {
		return
	}
	p.log.Info().Str("model", id).Str("from", prev).Msg("preload event=model_switch")
	p.pub.Publish(events.New(events.ModelSwitch, id, map[string]any{"from": prev}))
}

// Displayed returns the model id last passed to SetDisplayed.
func (p *Preloader) Displayed() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.displayed
}

// ValidateFallbackChain walks the fallback references of id in the current
// manifest. It never touches the cache.
func (p *Preloader) ValidateFallbackChain(id string) ([]types.ModelDescriptor, error) {
	return p.manifest.Get().FallbackChain(id)
}

// Stats computes the preload statistics at call time.
func (p *Preloader) Stats() types.PreloadStats {
	snap := p.manifest.Get()
	st := types.PreloadStats{TotalModels: snap.Len(), ManifestVersion: snap.Version()}
	if ts := snap.LastUpdated(); !ts.IsZero() {
		st.LastUpdated = ts.Format(time.RFC3339)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, d := range snap.Descriptors() {
		e := p.records[d.ID]
		if e == nil || e.rec.Status != StatusLoaded {
			continue
		}
		st.PreloadedModels++
		if e.verified {
			st.ChecksumsCached++
		}
		if !e.headers.IsZero() {
			st.CachingHeadersCached++
		}
	}
	return st
}

// Record returns the record for id. Unknown ids report NotLoaded and false.
func (p *Preloader) Record(id string) (Record, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e := p.records[id]; e != nil {
		return e.rec, true
	}
	return Record{ModelID: id, Status: StatusNotLoaded}, false
}

// Records returns all records sorted by model id.
func (p *Preloader) Records() []Record {
	p.mu.Lock()
	out := make([]Record, 0, len(p.records))
	for _, e := range p.records {
		out = append(out, e.rec)
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ModelID < out[j].ModelID })
	return out
}

// Bytes returns a copy of the cached payload for a Loaded id.
func (p *Preloader) Bytes(id string) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e := p.records[id]
	if e == nil || e.rec.Status != StatusLoaded {
		return nil, false
	}
	return bytes.Clone(e.data), true
}

// UsedMB returns the summed memory estimate of Loaded entries.
func (p *Preloader) UsedMB() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.usedLocked("")
}

// Reset drops every record. Fetches still in flight complete for their
// waiters but do not repopulate the cache.
func (p *Preloader) Reset() {
	p.mu.Lock()
	p.gen++
	for id := range p.records {
		p.flight.Forget(id)
	}
	p.records = make(map[string]*entry)
	p.displayed = ""
	p.mu.Unlock()
	cachedMB.Set(0)
}

// Close resets the cache and rejects further preloads.
func (p *Preloader) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.Reset()
	return nil
}

// withModel stamps id onto a taxonomy error that has none.
func withModel(id string, err error) error {
	var fe *fault.Error
	if errors.As(err, &fe) && fe.ModelID == "" {
		c := *fe
		c.ModelID = id
		return &c
	}
	return err
}
