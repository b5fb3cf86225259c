package preload

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"assetd/internal/events"
	"assetd/internal/manifest"
	"assetd/pkg/types"
)

// glb returns a valid GLB payload with body appended after the header.
func glb(body string) []byte {
	out := GLBHeader(uint32(glbHeaderSize + len(body)))
	return append(out, body...)
}

// fakeFetcher serves canned payloads by path and counts calls.
type fakeFetcher struct {
	mu    sync.Mutex
	data  map[string][]byte
	errs  map[string]error
	calls map[string]int
	total atomic.Int64
	gate  chan struct{} // when non-nil, Fetch blocks until closed
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{data: map[string][]byte{}, errs: map[string]error{}, calls: map[string]int{}}
}

func (f *fakeFetcher) set(path string, b []byte) { f.mu.Lock(); f.data[path] = b; f.mu.Unlock() }
func (f *fakeFetcher) fail(path string, err error) {
	f.mu.Lock()
	f.errs[path] = err
	f.mu.Unlock()
}

func (f *fakeFetcher) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

func (f *fakeFetcher) Fetch(ctx context.Context, path string) ([]byte, error) {
	f.total.Add(1)
	f.mu.Lock()
	f.calls[path]++
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[path]; err != nil {
		return nil, err
	}
	b, ok := f.data[path]
	if !ok {
		return nil, errors.New("not found: " + path)
	}
	return b, nil
}

type fixture struct {
	p     *Preloader
	f     *fakeFetcher
	store *manifest.Store
	clock *clock.Mock
	pub   *events.MemoryPublisher
}

func newFixture(t *testing.T, budgetMB int, models ...types.ModelDescriptor) *fixture {
	t.Helper()
	snap, err := manifest.New("v1", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), models)
	if err != nil {
		t.Fatalf("manifest: %v", err)
	}
	fx := &fixture{
		f:     newFakeFetcher(),
		store: manifest.NewStore(snap),
		clock: clock.NewMock(),
		pub:   events.NewMemoryPublisher(),
	}
	fx.p = New(Config{
		Manifest:     fx.store,
		Fetcher:      fx.f,
		BudgetMB:     budgetMB,
		FetchTimeout: 2 * time.Second,
		Publisher:    fx.pub,
		Clock:        fx.clock,
	})
	for _, m := range models {
		fx.f.set(m.Path, glb(m.ID))
	}
	return fx
}

func (fx *fixture) desc(t *testing.T, id string) types.ModelDescriptor {
	t.Helper()
	d, ok := fx.store.Lookup(id)
	if !ok {
		t.Fatalf("no descriptor %q", id)
	}
	return d
}

// testCtx returns a context with a short timeout, canceled on test cleanup.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return c
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(2 * time.Millisecond)
	}
}
