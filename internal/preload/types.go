package preload

import (
	"time"

	"assetd/internal/fault"
	"assetd/pkg/types"
)

// Status is the closed set of preload record states.
type Status int

const (
	StatusNotLoaded Status = iota
	StatusLoading
	StatusLoaded
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusLoaded:
		return "loaded"
	case StatusFailed:
		return "failed"
	default:
		return "not_loaded"
	}
}

// Source tells where a Loaded outcome came from.
type Source string

const (
	SourceNetwork Source = "network"
	SourceCache   Source = "cache"
)

// Record is a read-only snapshot of one cache entry.
type Record struct {
	ModelID   string
	Status    Status
	SizeBytes int64
	Source    Source
	UpdatedAt time.Time
	// LoadedAt is the time the payload was populated; zero unless Loaded.
	LoadedAt time.Time
	// Checksum and Version are the descriptor values captured at populate time.
	Checksum string
	Version  string
	MemoryMB int
	ErrKind  fault.Kind
	Err      string
}

// matches reports whether r was populated from the same revision as d.
func (r Record) matches(d types.ModelDescriptor) bool {
	return r.Checksum == d.Checksum && r.Version == d.Version
}

// Wire converts the record to its API form.
func (r Record) Wire() types.RecordStatus {
	out := types.RecordStatus{
		ModelID:   r.ModelID,
		Status:    r.Status.String(),
		SizeBytes: r.SizeBytes,
		Source:    string(r.Source),
		ErrorKind: string(r.ErrKind),
	}
	if !r.UpdatedAt.IsZero() {
		out.UpdatedUnix = r.UpdatedAt.Unix()
	}
	return out
}

// entry is the mutable cache slot owned by the Preloader.
type entry struct {
	rec      Record
	data     []byte
	headers  *types.CachingHeaders
	verified bool
}
