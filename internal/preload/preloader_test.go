package preload

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"assetd/internal/events"
	"assetd/internal/fault"
	"assetd/pkg/types"
)

func TestPreloadModel_DeduplicatesConcurrentCalls(t *testing.T) {
	fx := newFixture(t, 0, types.ModelDescriptor{ID: "a", Path: "a.glb", MemoryUsageMB: 5})
	fx.f.gate = make(chan struct{})
	d := fx.desc(t, "a")

	const n = 8
	var wg sync.WaitGroup
	recs := make([]Record, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			recs[i], errs[i] = fx.p.PreloadModel(testCtx(t), d)
		}(i)
	}
	waitFor(t, func() bool { return fx.f.count("a.glb") == 1 })
	// let the remaining callers attach to the in-flight fetch
	time.Sleep(20 * time.Millisecond)
	if rec, _ := fx.p.Record("a"); rec.Status != StatusLoading {
		t.Fatalf("expected loading while gated, got %s", rec.Status)
	}
	close(fx.f.gate)
	wg.Wait()

	if got := fx.f.count("a.glb"); got != 1 {
		t.Fatalf("expected exactly one fetch, got %d", got)
	}
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if recs[i].Status != StatusLoaded || recs[i].SizeBytes != recs[0].SizeBytes || recs[i].LoadedAt != recs[0].LoadedAt {
			t.Fatalf("caller %d saw %+v, caller 0 saw %+v", i, recs[i], recs[0])
		}
	}
}

func TestPreloadModel_CacheHitSkipsFetch(t *testing.T) {
	fx := newFixture(t, 0, types.ModelDescriptor{ID: "a", Path: "a.glb"})
	d := fx.desc(t, "a")
	first, err := fx.p.PreloadModel(testCtx(t), d)
	if err != nil || first.Source != SourceNetwork {
		t.Fatalf("first=%+v err=%v", first, err)
	}
	second, err := fx.p.PreloadModel(testCtx(t), d)
	if err != nil || second.Source != SourceCache {
		t.Fatalf("second=%+v err=%v", second, err)
	}
	if fx.f.count("a.glb") != 1 {
		t.Fatalf("fetches=%d", fx.f.count("a.glb"))
	}
	if rec, _ := fx.p.Record("a"); rec.Source != SourceNetwork {
		t.Fatalf("cache hit rewrote stored source: %s", rec.Source)
	}
	b, ok := fx.p.Bytes("a")
	if !ok || string(b[glbHeaderSize:]) != "a" {
		t.Fatalf("bytes=%q ok=%v", b, ok)
	}
	b[0] = 'X'
	if again, _ := fx.p.Bytes("a"); again[0] == 'X' {
		t.Fatalf("Bytes exposed internal payload")
	}
}

func TestPreloadModel_ChecksumMismatch(t *testing.T) {
	fx := newFixture(t, 0, types.ModelDescriptor{ID: "a", Path: "a.glb", Checksum: "abc123"})
	before := fx.p.Stats().ChecksumsCached
	_, err := fx.p.PreloadModel(testCtx(t), fx.desc(t, "a"))
	if !fault.IsChecksumMismatch(err) {
		t.Fatalf("expected ChecksumMismatch, got %v", err)
	}
	rec, _ := fx.p.Record("a")
	if rec.Status != StatusFailed || rec.ErrKind != fault.ChecksumMismatch {
		t.Fatalf("record=%+v", rec)
	}
	st := fx.p.Stats()
	if st.ChecksumsCached != before || st.PreloadedModels != 0 {
		t.Fatalf("stats changed on mismatch: %+v", st)
	}
	if _, ok := fx.p.Bytes("a"); ok {
		t.Fatalf("failed record must not expose bytes")
	}
	if len(fx.pub.Named(events.LoadError)) != 1 {
		t.Fatalf("expected one load-error event")
	}
}

func TestPreloadModel_ChecksumAlgorithms(t *testing.T) {
	payload := glb("x")
	fx := newFixture(t, 0,
		types.ModelDescriptor{ID: "s", Path: "s.glb", Checksum: Digest(AlgoSHA256, payload)},
		types.ModelDescriptor{ID: "p", Path: "p.glb", Checksum: "SHA256:" + Digest(AlgoSHA256, payload)},
		types.ModelDescriptor{ID: "b", Path: "b.glb", Checksum: "blake3:" + Digest(AlgoBLAKE3, payload)},
		types.ModelDescriptor{ID: "u", Path: "u.glb", Checksum: "md5:abc"},
	)
	for _, id := range []string{"s", "p", "b", "u"} {
		fx.f.set(id+".glb", payload)
	}
	for _, id := range []string{"s", "p", "b"} {
		if _, err := fx.p.PreloadByID(testCtx(t), id); err != nil {
			t.Fatalf("%s: %v", id, err)
		}
	}
	if _, err := fx.p.PreloadByID(testCtx(t), "u"); !fault.IsChecksumMismatch(err) {
		t.Fatalf("unknown algorithm should fail verification, got %v", err)
	}
	if st := fx.p.Stats(); st.ChecksumsCached != 3 || st.PreloadedModels != 3 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestPreloadModel_UnsupportedFormat(t *testing.T) {
	fx := newFixture(t, 0,
		types.ModelDescriptor{ID: "obj", Path: "m.obj"},
		types.ModelDescriptor{ID: "bad", Path: "bad.glb"},
		types.ModelDescriptor{ID: "short", Path: "short.glb"},
		types.ModelDescriptor{ID: "gltf", Path: "ok.gltf?v=2"},
		types.ModelDescriptor{ID: "nogltf", Path: "no.gltf"},
	)
	fx.f.set("bad.glb", []byte("PK\x03\x04not a glb at all"))
	fx.f.set("short.glb", []byte("glTF"))
	fx.f.set("ok.gltf?v=2", []byte(`{"asset":{"version":"2.0"},"scenes":[]}`))
	fx.f.set("no.gltf", []byte(`{"scenes":[]}`))
	for _, id := range []string{"obj", "bad", "short", "nogltf"} {
		if _, err := fx.p.PreloadByID(testCtx(t), id); !fault.IsUnsupportedFormat(err) {
			t.Fatalf("%s: expected UnsupportedFormat, got %v", id, err)
		}
	}
	if _, err := fx.p.PreloadByID(testCtx(t), "gltf"); err != nil {
		t.Fatalf("gltf: %v", err)
	}
}

func TestPreloadModel_NetworkErrorAndTimeout(t *testing.T) {
	fx := newFixture(t, 0,
		types.ModelDescriptor{ID: "down", Path: "down.glb"},
		types.ModelDescriptor{ID: "slow", Path: "slow.glb"},
	)
	fx.f.fail("down.glb", errors.New("connection reset"))
	_, err := fx.p.PreloadByID(testCtx(t), "down")
	if !fault.IsNetworkError(err) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
	var fe *fault.Error
	if !errors.As(err, &fe) || fe.ModelID != "down" {
		t.Fatalf("expected model id on error: %v", err)
	}

	fx.p.fetchTimeout = 20 * time.Millisecond
	fx.f.gate = make(chan struct{})
	defer close(fx.f.gate)
	_, err = fx.p.PreloadByID(testCtx(t), "slow")
	if !fault.IsTimeout(err) {
		t.Fatalf("expected Timeout, got %v", err)
	}
}

func TestPreloadModel_NoSelfRetry(t *testing.T) {
	fx := newFixture(t, 0, types.ModelDescriptor{ID: "down", Path: "down.glb"})
	fx.f.fail("down.glb", errors.New("boom"))
	_, _ = fx.p.PreloadByID(testCtx(t), "down")
	if fx.f.count("down.glb") != 1 {
		t.Fatalf("preload retried on its own: %d fetches", fx.f.count("down.glb"))
	}
	// an explicit new call is a new attempt
	fx.f.fail("down.glb", nil)
	if _, err := fx.p.PreloadByID(testCtx(t), "down"); err != nil {
		t.Fatalf("second attempt: %v", err)
	}
}

func TestPreloadByID_Missing(t *testing.T) {
	fx := newFixture(t, 0)
	if _, err := fx.p.PreloadByID(testCtx(t), "ghost"); !fault.IsBrokenChain(err) {
		t.Fatalf("expected BrokenChain, got %v", err)
	}
}

func TestPreloadModel_CallerCancelDoesNotCancelFetch(t *testing.T) {
	fx := newFixture(t, 0, types.ModelDescriptor{ID: "a", Path: "a.glb"})
	fx.f.gate = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := fx.p.PreloadModel(ctx, fx.desc(t, "a"))
		done <- err
	}()
	waitFor(t, func() bool { return fx.f.count("a.glb") == 1 })
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("caller did not return after cancel")
	}
	close(fx.f.gate)
	waitFor(t, func() bool { r, _ := fx.p.Record("a"); return r.Status == StatusLoaded })
}

func TestPreloadModel_StaleVersionRefetches(t *testing.T) {
	fx := newFixture(t, 0, types.ModelDescriptor{ID: "a", Path: "a.glb", Version: "1"})
	if _, err := fx.p.PreloadByID(testCtx(t), "a"); err != nil {
		t.Fatalf("preload: %v", err)
	}
	d := fx.desc(t, "a")
	d.Version = "2"
	rec, err := fx.p.PreloadModel(testCtx(t), d)
	if err != nil || rec.Source != SourceNetwork || rec.Version != "2" {
		t.Fatalf("rec=%+v err=%v", rec, err)
	}
	if fx.f.count("a.glb") != 2 {
		t.Fatalf("expected refetch, fetches=%d", fx.f.count("a.glb"))
	}
}

func TestPreloadModel_MaxAgeExpiry(t *testing.T) {
	fx := newFixture(t, 0,
		types.ModelDescriptor{ID: "a", Path: "a.glb", CachingHeaders: &types.CachingHeaders{CacheControl: "public, max-age=60"}},
		types.ModelDescriptor{ID: "n", Path: "n.glb", CachingHeaders: &types.CachingHeaders{CacheControl: "no-cache"}},
	)
	ctx := testCtx(t)
	for i := 0; i < 2; i++ {
		if _, err := fx.p.PreloadByID(ctx, "a"); err != nil {
			t.Fatalf("preload: %v", err)
		}
	}
	if fx.f.count("a.glb") != 1 {
		t.Fatalf("fresh entry refetched")
	}
	fx.clock.Add(61 * time.Second)
	if _, err := fx.p.PreloadByID(ctx, "a"); err != nil {
		t.Fatalf("preload: %v", err)
	}
	if fx.f.count("a.glb") != 2 {
		t.Fatalf("expired entry not refetched")
	}
	for i := 0; i < 2; i++ {
		_, _ = fx.p.PreloadByID(ctx, "n")
	}
	if fx.f.count("n.glb") != 2 {
		t.Fatalf("no-cache entry served from cache")
	}
	if st := fx.p.Stats(); st.CachingHeadersCached != 2 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestExpiry_ExpiresHeader(t *testing.T) {
	loaded := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	at, never, ok := expiry(&types.CachingHeaders{Expires: "Tue, 02 Jan 2024 00:00:00 GMT"}, loaded)
	if !ok || never || !at.Equal(loaded.Add(24*time.Hour)) {
		t.Fatalf("at=%v never=%v ok=%v", at, never, ok)
	}
	if _, _, ok := expiry(&types.CachingHeaders{ETag: "x"}, loaded); ok {
		t.Fatalf("etag alone carries no time bound")
	}
}

func TestEviction_KeepsDisplayedAndFallback(t *testing.T) {
	fx := newFixture(t, 35,
		types.ModelDescriptor{ID: "a", Path: "a.glb", MemoryUsageMB: 10, FallbackModelID: "b"},
		types.ModelDescriptor{ID: "b", Path: "b.glb", MemoryUsageMB: 10},
		types.ModelDescriptor{ID: "c", Path: "c.glb", MemoryUsageMB: 10},
		types.ModelDescriptor{ID: "d", Path: "d.glb", MemoryUsageMB: 15},
	)
	ctx := testCtx(t)
	// b is loaded first so it is the oldest; only the displayed-fallback rule protects it
	for _, id := range []string{"b", "c", "a"} {
		if _, err := fx.p.PreloadByID(ctx, id); err != nil {
			t.Fatalf("%s: %v", id, err)
		}
		fx.clock.Add(time.Second)
	}
	fx.p.SetDisplayed("a")
	if _, err := fx.p.PreloadByID(ctx, "d"); err != nil {
		t.Fatalf("d: %v", err)
	}
	for id, want := range map[string]bool{"a": true, "b": true, "c": false, "d": true} {
		_, ok := fx.p.Record(id)
		if ok != want {
			t.Fatalf("%s present=%v want %v", id, ok, want)
		}
	}
	if used := fx.p.UsedMB(); used != 35 {
		t.Fatalf("used=%d", used)
	}
	if ev := fx.pub.Named(events.Eviction); len(ev) != 1 || ev[0].ModelID != "c" {
		t.Fatalf("eviction events=%+v", ev)
	}
	if sw := fx.pub.Named(events.ModelSwitch); len(sw) != 1 || sw[0].ModelID != "a" {
		t.Fatalf("model-switch events=%+v", sw)
	}
}

func TestEviction_OverBudgetProceeds(t *testing.T) {
	fx := newFixture(t, 10,
		types.ModelDescriptor{ID: "a", Path: "a.glb", MemoryUsageMB: 8},
		types.ModelDescriptor{ID: "b", Path: "b.glb", MemoryUsageMB: 8},
	)
	ctx := testCtx(t)
	if _, err := fx.p.PreloadByID(ctx, "a"); err != nil {
		t.Fatalf("a: %v", err)
	}
	fx.p.SetDisplayed("a")
	if _, err := fx.p.PreloadByID(ctx, "b"); err != nil {
		t.Fatalf("b: %v", err)
	}
	if _, ok := fx.p.Record("a"); !ok {
		t.Fatalf("displayed model evicted")
	}
	if len(fx.pub.Named(events.BudgetExceeded)) != 1 {
		t.Fatalf("expected budget-exceeded event")
	}
}

// preloadConcurrently starts one PreloadByID per id behind the fetch gate,
// waits until every fetch is issued, then opens the gate.
func preloadConcurrently(t *testing.T, fx *fixture, ids ...string) {
	t.Helper()
	fx.f.gate = make(chan struct{})
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := fx.p.PreloadByID(testCtx(t), id); err != nil {
				t.Errorf("%s: %v", id, err)
			}
		}(id)
	}
	waitFor(t, func() bool { return fx.f.total.Load() == int64(len(ids)) })
	close(fx.f.gate)
	wg.Wait()
}

func TestEviction_CountsInFlightFetches(t *testing.T) {
	fx := newFixture(t, 12,
		types.ModelDescriptor{ID: "a", Path: "a.glb", MemoryUsageMB: 6},
		types.ModelDescriptor{ID: "b", Path: "b.glb", MemoryUsageMB: 6},
		types.ModelDescriptor{ID: "c", Path: "c.glb", MemoryUsageMB: 6},
	)
	if _, err := fx.p.PreloadByID(testCtx(t), "c"); err != nil {
		t.Fatalf("c: %v", err)
	}
	fx.f.total.Store(0)
	preloadConcurrently(t, fx, "a", "b")

	if used := fx.p.UsedMB(); used > 12 {
		t.Fatalf("used=%d over budget 12", used)
	}
	if _, ok := fx.p.Record("c"); ok {
		t.Fatalf("oldest entry should make room for the second in-flight fetch")
	}
	if ev := fx.pub.Named(events.Eviction); len(ev) != 1 || ev[0].ModelID != "c" {
		t.Fatalf("eviction events=%+v", ev)
	}
	if n := len(fx.pub.Named(events.BudgetExceeded)); n != 0 {
		t.Fatalf("budget-exceeded events=%d", n)
	}
}

func TestEviction_InFlightOverBudgetSignals(t *testing.T) {
	fx := newFixture(t, 10,
		types.ModelDescriptor{ID: "a", Path: "a.glb", MemoryUsageMB: 6},
		types.ModelDescriptor{ID: "b", Path: "b.glb", MemoryUsageMB: 6},
	)
	preloadConcurrently(t, fx, "a", "b")

	if used := fx.p.UsedMB(); used != 12 {
		t.Fatalf("used=%d", used)
	}
	if n := len(fx.pub.Named(events.BudgetExceeded)); n != 1 {
		t.Fatalf("budget-exceeded events=%d, want 1", n)
	}
}

func TestPreloadModel_JoinedFlightForOtherVersionReissues(t *testing.T) {
	fx := newFixture(t, 0, types.ModelDescriptor{ID: "a", Path: "a.glb", Version: "1"})
	fx.f.gate = make(chan struct{})
	v1 := fx.desc(t, "a")
	v2 := v1
	v2.Version = "2"

	first := make(chan Record, 1)
	go func() {
		rec, _ := fx.p.PreloadModel(testCtx(t), v1)
		first <- rec
	}()
	waitFor(t, func() bool { return fx.f.count("a.glb") == 1 })

	second := make(chan Record, 1)
	errs := make(chan error, 1)
	go func() {
		rec, err := fx.p.PreloadModel(testCtx(t), v2)
		second <- rec
		errs <- err
	}()
	// let the v2 caller join the gated v1 flight
	time.Sleep(20 * time.Millisecond)
	close(fx.f.gate)

	if rec := <-first; rec.Version != "1" {
		t.Fatalf("v1 caller got %+v", rec)
	}
	rec := <-second
	if err := <-errs; err != nil {
		t.Fatalf("v2: %v", err)
	}
	if rec.Version != "2" || rec.Status != StatusLoaded {
		t.Fatalf("v2 caller got %+v", rec)
	}
	if got := fx.f.count("a.glb"); got != 2 {
		t.Fatalf("fetches=%d, want 2", got)
	}
}

func TestStats_ReflectsCurrentState(t *testing.T) {
	var models []types.ModelDescriptor
	for _, id := range []string{"m1", "m2", "m3", "m4", "m5"} {
		models = append(models, types.ModelDescriptor{ID: id, Path: id + ".glb"})
	}
	fx := newFixture(t, 0, models...)
	ctx := testCtx(t)
	for k, id := range []string{"m1", "m2", "m3"} {
		if _, err := fx.p.PreloadByID(ctx, id); err != nil {
			t.Fatalf("%s: %v", id, err)
		}
		st := fx.p.Stats()
		if st.PreloadedModels != k+1 || st.TotalModels != 5 {
			t.Fatalf("after %d preloads: %+v", k+1, st)
		}
	}
	st := fx.p.Stats()
	if st.ManifestVersion != "v1" || st.LastUpdated != "2024-06-01T00:00:00Z" {
		t.Fatalf("stats=%+v", st)
	}
}

func TestValidateFallbackChain_NoCacheMutation(t *testing.T) {
	fx := newFixture(t, 0,
		types.ModelDescriptor{ID: "A", Path: "a.glb", FallbackModelID: "B"},
		types.ModelDescriptor{ID: "B", Path: "b.glb", FallbackModelID: "A"},
	)
	if _, err := fx.p.ValidateFallbackChain("A"); !fault.IsCycleDetected(err) {
		t.Fatalf("expected CycleDetected, got %v", err)
	}
	if len(fx.p.Records()) != 0 || fx.f.total.Load() != 0 {
		t.Fatalf("chain validation touched the cache")
	}
}

func TestPreloadAll_CollectsFailures(t *testing.T) {
	fx := newFixture(t, 0,
		types.ModelDescriptor{ID: "a", Path: "a.glb"},
		types.ModelDescriptor{ID: "b", Path: "b.glb"},
		types.ModelDescriptor{ID: "c", Path: "c.glb"},
	)
	fx.f.fail("b.glb", errors.New("boom"))
	errs := fx.p.PreloadAll(testCtx(t), []string{"a", "b", "c", "ghost"})
	if len(errs) != 2 || errs["b"] == nil || errs["ghost"] == nil {
		t.Fatalf("errs=%v", errs)
	}
	if st := fx.p.Stats(); st.PreloadedModels != 2 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestResetAndClose(t *testing.T) {
	fx := newFixture(t, 0, types.ModelDescriptor{ID: "a", Path: "a.glb"})
	if _, err := fx.p.PreloadByID(testCtx(t), "a"); err != nil {
		t.Fatalf("preload: %v", err)
	}
	fx.p.Reset()
	if len(fx.p.Records()) != 0 || fx.p.Stats().PreloadedModels != 0 {
		t.Fatalf("reset left records")
	}
	if err := fx.p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := fx.p.PreloadByID(testCtx(t), "a"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestRecordWire(t *testing.T) {
	r := Record{ModelID: "a", Status: StatusFailed, ErrKind: fault.Timeout, UpdatedAt: time.Unix(100, 0)}
	w := r.Wire()
	if w.Status != "failed" || w.ErrorKind != "Timeout" || w.UpdatedUnix != 100 {
		t.Fatalf("wire=%+v", w)
	}
	if StatusNotLoaded.String() != "not_loaded" {
		t.Fatalf("status string")
	}
}
