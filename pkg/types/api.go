package types

// PreloadStats is returned by GET /stats.
type PreloadStats struct {
	// Number of descriptors in the manifest.
	// example: 12
	TotalModels int `json:"totalModels" example:"12"`
	// Number of manifest models currently loaded in the cache.
	// example: 4
	PreloadedModels int `json:"preloadedModels" example:"4"`
	// Manifest version.
	// example: 2024.06.1
	ManifestVersion string `json:"manifestVersion" example:"2024.06.1"`
	// RFC3339 timestamp of the manifest.
	// example: 2024-06-01T12:00:00Z
	LastUpdated string `json:"lastUpdated" example:"2024-06-01T12:00:00Z"`
	// Loaded models whose bytes were verified against a checksum.
	// example: 3
	ChecksumsCached int `json:"checksumsCached" example:"3"`
	// Loaded models carrying caching metadata.
	// example: 2
	CachingHeadersCached int `json:"cachingHeadersCached" example:"2"`
}

// RecordStatus summarizes one preload cache entry.
type RecordStatus struct {
	// example: avatar-high
	ModelID string `json:"model_id" example:"avatar-high"`
	// One of not_loaded, loading, loaded, failed.
	// example: loaded
	Status string `json:"status" example:"loaded"`
	// Loaded payload size in bytes.
	// example: 5242880
	SizeBytes int64 `json:"size_bytes" example:"5242880"`
	// Where the last outcome came from: network or cache.
	// example: network
	Source string `json:"source,omitempty" example:"network"`
	// Unix seconds of the last transition.
	// example: 1700000000
	UpdatedUnix int64 `json:"updated_unix" example:"1700000000"`
	// Error kind of the last failure, if any.
	// example: ChecksumMismatch
	ErrorKind string `json:"error_kind,omitempty" example:"ChecksumMismatch"`
}

// PreloadResponse is returned by POST /models/{id}/preload.
type PreloadResponse struct {
	Record RecordStatus `json:"record"`
}

// RecordsResponse is returned by GET /records.
type RecordsResponse struct {
	Records []RecordStatus `json:"records"`
	// Summed memory estimate of loaded entries.
	// example: 14
	UsedMB int `json:"used_mb" example:"14"`
	// Model the renderer currently shows, if any.
	// example: avatar-high
	Displayed string `json:"displayed,omitempty" example:"avatar-high"`
}

// SurfacesResponse is returned by GET /surfaces.
type SurfacesResponse struct {
	Surfaces []string `json:"surfaces"`
}

// ChainResponse is returned by GET /models/{id}/chain.
type ChainResponse struct {
	Chain []ModelDescriptor `json:"chain"`
}

// DisplayedRequest is accepted by PUT /displayed.
type DisplayedRequest struct {
	// example: avatar-high
	ID string `json:"id" example:"avatar-high"`
}

// ProgressiveRequest is accepted by POST /progressive.
type ProgressiveRequest struct {
	// Logical model identifier.
	// example: avatar
	ID string `json:"id" example:"avatar"`
	// example: low
	From string `json:"from" example:"low"`
	// example: ultra
	To string `json:"to" example:"ultra"`
}

// ProgressiveLine is one NDJSON line of the /progressive stream.
type ProgressiveLine struct {
	// quality, done or error.
	Type    string `json:"type"`
	Quality string `json:"quality,omitempty"`
	ModelID string `json:"model_id,omitempty"`
	Error   string `json:"error,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

// QualityRequest is accepted by PUT /surfaces/{sid}/quality.
type QualityRequest struct {
	// example: medium
	Level string `json:"level" example:"medium"`
}

// QualitySettings are the renderer parameters derived from a quality level.
type QualitySettings struct {
	Level            string  `json:"level" example:"high"`
	PixelRatio       float64 `json:"pixelRatio" example:"1.5"`
	Antialias        bool    `json:"antialias" example:"true"`
	ShadowsEnabled   bool    `json:"shadowsEnabled" example:"true"`
	ShadowMapSize    int     `json:"shadowMapSize" example:"2048"`
	MaxTextureSize   int     `json:"maxTextureSize" example:"2048"`
	MaxLights        int     `json:"maxLights" example:"4"`
	PostProcessing   bool    `json:"postProcessing" example:"false"`
	AnisotropicLevel int     `json:"anisotropicLevel" example:"4"`
}

// RecoveryStatus is the observable diagnostics of one rendering surface.
type RecoveryStatus struct {
	// example: main-canvas
	SurfaceID string `json:"surface_id" example:"main-canvas"`
	// One of stable, lost, recovering, degraded.
	// example: stable
	State string `json:"state" example:"stable"`
	// example: 1
	ContextLossCount int `json:"contextLossCount" example:"1"`
	// One of low, medium, high.
	// example: medium
	RiskLevel string `json:"riskLevel" example:"medium"`
	// example: false
	IsRecovering bool `json:"isRecovering" example:"false"`
	// example: 0
	CurrentAttempt int `json:"currentAttempt" example:"0"`
	// example: high
	QualityLevel string `json:"qualityLevel" example:"high"`
	// Renderer should switch to the non-3D baseline.
	// example: false
	ShouldFallback bool `json:"shouldFallback" example:"false"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: model not found: avatar
	Error string `json:"error" example:"model not found: avatar"`
	// Taxonomy kind, when the error carries one.
	// example: BrokenChain
	Kind string `json:"kind,omitempty" example:"BrokenChain"`
	// HTTP status code.
	// example: 404
	Code int `json:"code" example:"404"`
}
