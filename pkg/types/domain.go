package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Quality is an ordered rendering fidelity tier: low < medium < high < ultra.
type Quality int

const (
	QualityLow Quality = iota
	QualityMedium
	QualityHigh
	QualityUltra
)

// Qualities lists every tier in ascending order.
var Qualities = []Quality{QualityLow, QualityMedium, QualityHigh, QualityUltra}

var qualityNames = [...]string{"low", "medium", "high", "ultra"}

func (q Quality) String() string {
	if !q.Valid() {
		return fmt.Sprintf("quality(%d)", int(q))
	}
	return qualityNames[q]
}

// Valid reports whether q is one of the four known tiers.
func (q Quality) Valid() bool { return q >= QualityLow && q <= QualityUltra }

// Less reports whether q is a lower tier than o.
func (q Quality) Less(o Quality) bool { return q < o }

// Clamp forces q into the valid tier range.
func (q Quality) Clamp() Quality {
	if q < QualityLow {
		return QualityLow
	}
	if q > QualityUltra {
		return QualityUltra
	}
	return q
}

// ParseQuality parses a case-insensitive tier name.
func ParseQuality(s string) (Quality, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return QualityLow, nil
	case "medium":
		return QualityMedium, nil
	case "high":
		return QualityHigh, nil
	case "ultra":
		return QualityUltra, nil
	}
	return 0, fmt.Errorf("unknown quality %q", s)
}

// QualityRange returns the tiers from..to inclusive in ascending order.
// It returns nil when from > to.
func QualityRange(from, to Quality) []Quality {
	if from > to {
		return nil
	}
	out := make([]Quality, 0, int(to-from)+1)
	for q := from; q <= to; q++ {
		out = append(out, q)
	}
	return out
}

func (q Quality) MarshalText() ([]byte, error) {
	if !q.Valid() {
		return nil, fmt.Errorf("invalid quality %d", int(q))
	}
	return []byte(q.String()), nil
}

func (q *Quality) UnmarshalText(b []byte) error {
	v, err := ParseQuality(string(b))
	if err != nil {
		return err
	}
	*q = v
	return nil
}

// CachingHeaders carries HTTP-style freshness hints for a model asset.
type CachingHeaders struct {
	// Cache-Control directives; max-age, no-cache and no-store are honoured.
	// example: public, max-age=86400
	CacheControl string `json:"cacheControl,omitempty" yaml:"cacheControl,omitempty" toml:"cacheControl,omitempty" example:"public, max-age=86400"`
	// Absolute expiry (RFC1123 or RFC3339).
	Expires string `json:"expires,omitempty" yaml:"expires,omitempty" toml:"expires,omitempty"`
	// Entity tag of the published asset.
	// example: "v3-9f2c"
	ETag string `json:"etag,omitempty" yaml:"etag,omitempty" toml:"etag,omitempty"`
	// Last-Modified of the published asset.
	LastModified string `json:"lastModified,omitempty" yaml:"lastModified,omitempty" toml:"lastModified,omitempty"`
}

// IsZero reports whether no header is set.
func (c *CachingHeaders) IsZero() bool {
	return c == nil || (c.CacheControl == "" && c.Expires == "" && c.ETag == "" && c.LastModified == "")
}

// ModelDescriptor describes one loadable model variant.
type ModelDescriptor struct {
	// Unique identifier.
	// example: avatar-high
	ID string `json:"id" yaml:"id" toml:"id" example:"avatar-high"`
	// Human-friendly name.
	// example: Avatar (high)
	DisplayName string `json:"displayName" yaml:"displayName" toml:"displayName" example:"Avatar (high)"`
	// Asset path relative to the asset origin.
	// example: models/avatar-high.glb
	Path string `json:"path" yaml:"path" toml:"path" example:"models/avatar-high.glb"`
	// Quality tier of this variant.
	// example: high
	Quality Quality `json:"quality" yaml:"quality" toml:"quality" swaggertype:"string" example:"high"`
	// Approximate memory footprint in MB once loaded.
	// example: 48
	MemoryUsageMB int `json:"memoryUsageMB" yaml:"memoryUsageMB" toml:"memoryUsageMB" example:"48"`
	// Optional content checksum (hex sha256, or sha256:/blake3: prefixed).
	Checksum string `json:"checksum,omitempty" yaml:"checksum,omitempty" toml:"checksum,omitempty"`
	// Optional version tag.
	// example: 3
	Version string `json:"version,omitempty" yaml:"version,omitempty" toml:"version,omitempty" example:"3"`
	// Optional freshness hints.
	CachingHeaders *CachingHeaders `json:"cachingHeaders,omitempty" yaml:"cachingHeaders,omitempty" toml:"cachingHeaders,omitempty"`
	// Optional id of the descriptor to try when this one cannot be loaded.
	// example: avatar-medium
	FallbackModelID string `json:"fallbackModelId,omitempty" yaml:"fallbackModelId,omitempty" toml:"fallbackModelId,omitempty" example:"avatar-medium"`
}

// Clone returns a deep copy of d.
func (d ModelDescriptor) Clone() ModelDescriptor {
	if d.CachingHeaders != nil {
		h := *d.CachingHeaders
		d.CachingHeaders = &h
	}
	return d
}

// ManifestDocument is the durable JSON form of a manifest.
type ManifestDocument struct {
	// example: 2024.06.1
	Version string `json:"version" yaml:"version" toml:"version" example:"2024.06.1"`
	// RFC3339 timestamp of the last publish.
	// example: 2024-06-01T12:00:00Z
	LastUpdated string            `json:"lastUpdated" yaml:"lastUpdated" toml:"lastUpdated" example:"2024-06-01T12:00:00Z"`
	Models      []ModelDescriptor `json:"models" yaml:"models" toml:"models"`
}

// String renders d as compact JSON; handy in logs.
func (d ManifestDocument) String() string {
	b, err := json.Marshal(d)
	if err != nil {
		return "<invalid manifest>"
	}
	return string(b)
}
