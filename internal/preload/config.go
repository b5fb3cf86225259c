package preload

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"assetd/internal/events"
	"assetd/internal/manifest"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultFetchTimeout = 30 * time.Second
	defaultWarmParallel = 4
)

// Config encapsulates all tunables for Preloader construction.
type Config struct {
	Manifest *manifest.Store
	Fetcher  Fetcher
	// BudgetMB caps the summed memory estimate of loaded entries (0 = unlimited).
	BudgetMB int
	// FetchTimeout bounds one fetch attempt.
	FetchTimeout time.Duration
	// WarmParallel bounds concurrent fetches in PreloadAll.
	WarmParallel int
	Logger       *zerolog.Logger
	Publisher    events.Publisher
	Clock        clock.Clock
}

// New constructs a Preloader from Config.
func New(cfg Config) *Preloader {
	p := &Preloader{
		manifest:     cfg.Manifest,
		fetcher:      cfg.Fetcher,
		budgetMB:     cfg.BudgetMB,
		fetchTimeout: cfg.FetchTimeout,
		warmParallel: cfg.WarmParallel,
		pub:          events.OrNop(cfg.Publisher),
		clock:        cfg.Clock,
		records:      make(map[string]*entry),
	}
	if p.manifest == nil {
		p.manifest = manifest.NewStore(nil)
	}
	if p.fetchTimeout <= 0 {
		p.fetchTimeout = defaultFetchTimeout
	}
	if p.warmParallel <= 0 {
		p.warmParallel = defaultWarmParallel
	}
	if p.clock == nil {
		p.clock = clock.New()
	}
	if cfg.Logger != nil {
		p.log = *cfg.Logger
	} else {
		p.log = zerolog.Nop()
	}
	return p
}
