package preload

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"assetd/pkg/types"
)

// expiry derives when a payload loaded at loadedAt stops being fresh.
// never is true when the headers forbid reuse; ok is false when the headers
// carry no time bound at all.
func expiry(h *types.CachingHeaders, loadedAt time.Time) (at time.Time, never bool, ok bool) {
	if h.IsZero() {
		return time.Time{}, false, false
	}
	for _, dir := range strings.Split(h.CacheControl, ",") {
		dir = strings.ToLower(strings.TrimSpace(dir))
		switch {
		case dir == "no-store" || dir == "no-cache":
			return time.Time{}, true, true
		case strings.HasPrefix(dir, "max-age="):
			secs, err := strconv.Atoi(strings.Trim(strings.TrimPrefix(dir, "max-age="), `"`))
			if err != nil || secs < 0 {
				continue
			}
			return loadedAt.Add(time.Duration(secs) * time.Second), false, true
		}
	}
	if h.Expires != "" {
		if t, err := http.ParseTime(h.Expires); err == nil {
			return t, false, true
		}
		if t, err := time.Parse(time.RFC3339, h.Expires); err == nil {
			return t, false, true
		}
	}
	return time.Time{}, false, false
}

// stale reports whether a Loaded entry must be refetched for descriptor d.
func (e *entry) stale(d types.ModelDescriptor, now time.Time) bool {
	if !e.rec.matches(d) {
		return true
	}
	at, never, ok := expiry(e.headers, e.rec.LoadedAt)
	if !ok {
		return false
	}
	if never {
		return true
	}
	return !now.Before(at)
}
