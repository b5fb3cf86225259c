package httpapi

import "time"

// maxBodyBytes controls the maximum allowed request body size for JSON endpoints.
var maxBodyBytes int64 = 1 << 20

// SetMaxBodyBytes allows configuring the maximum request body size.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = 1 << 20
		return
	}
	maxBodyBytes = n
}

// progressiveTimeout bounds a whole /progressive stream. Zero means the
// request lives until the client or the server goes away.
var progressiveTimeout time.Duration

// SetProgressiveTimeout sets the /progressive deadline (0 disables).
func SetProgressiveTimeout(d time.Duration) {
	if d < 0 {
		d = 0
	}
	progressiveTimeout = d
}

// eventBuffer is the per-subscriber buffer of /events streams.
var eventBuffer = 64

// SetEventBuffer sets the /events subscriber buffer; values below 1 reset it.
func SetEventBuffer(n int) {
	if n < 1 {
		n = 64
	}
	eventBuffer = n
}

// CORS configuration (opt-in). If disabled, no CORS middleware is added.
var (
	corsEnabled        bool
	corsAllowedOrigins []string
	corsAllowedMethods []string
	corsAllowedHeaders []string
)

// SetCORSOptions configures CORS behavior for the HTTP server.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	corsEnabled = enabled
	corsAllowedOrigins = append([]string(nil), origins...)
	corsAllowedMethods = append([]string(nil), methods...)
	corsAllowedHeaders = append([]string(nil), headers...)
}
