package preload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"assetd/internal/common/fsutil"
	"assetd/internal/fault"
)

// Fetcher retrieves the raw bytes of an asset path. Implementations must
// honour ctx; the preloader applies the per-attempt timeout.
type Fetcher interface {
	Fetch(ctx context.Context, assetPath string) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, assetPath string) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, p string) ([]byte, error) { return f(ctx, p) }

// defaultMaxAssetBytes caps a single asset download.
const defaultMaxAssetBytes int64 = 512 << 20

// HTTPFetcher downloads assets relative to BaseURL. Absolute URLs in the
// descriptor path are used as-is.
type HTTPFetcher struct {
	BaseURL  string
	Client   *http.Client
	MaxBytes int64
}

func (f *HTTPFetcher) resolve(assetPath string) (string, error) {
	if u, err := url.Parse(assetPath); err == nil && u.IsAbs() {
		return u.String(), nil
	}
	if f.BaseURL == "" {
		return "", fmt.Errorf("relative asset path %q without base url", assetPath)
	}
	return url.JoinPath(f.BaseURL, assetPath)
}

func (f *HTTPFetcher) Fetch(ctx context.Context, assetPath string) ([]byte, error) {
	target, err := f.resolve(assetPath)
	if err != nil {
		return nil, fault.Wrap(fault.NetworkError, "", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fault.Wrap(fault.NetworkError, "", err)
	}
	req.Header.Set("Accept", "model/gltf-binary, model/gltf+json, application/octet-stream")
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusUnsupportedMediaType:
		return nil, fault.Newf(fault.UnsupportedFormat, "", "origin refused media type (%d)", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fault.Newf(fault.NetworkError, "", "GET %s: status %d", target, resp.StatusCode)
	}
	limit := f.MaxBytes
	if limit <= 0 {
		limit = defaultMaxAssetBytes
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, classifyTransport(err)
	}
	if int64(len(b)) > limit {
		return nil, fault.Newf(fault.NetworkError, "", "asset exceeds %d bytes", limit)
	}
	return b, nil
}

// FileFetcher reads assets from a local directory. Paths cannot escape Root.
type FileFetcher struct {
	Root string
}

func (f *FileFetcher) Fetch(ctx context.Context, assetPath string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, classifyTransport(err)
	}
	p, err := fsutil.JoinUnder(f.Root, assetPath)
	if err != nil {
		return nil, fault.Wrap(fault.NetworkError, "", err)
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, fault.Wrap(fault.NetworkError, "", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, classifyTransport(err)
	}
	return b, nil
}

// classifyTransport maps a raw fetch error onto the taxonomy.
func classifyTransport(err error) error {
	if err == nil {
		return nil
	}
	if fault.KindOf(err) != "" {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fault.Wrap(fault.Timeout, "", err)
	}
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) && ne.Timeout() {
		return fault.Wrap(fault.Timeout, "", err)
	}
	return fault.Wrap(fault.NetworkError, "", err)
}
