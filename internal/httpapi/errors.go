package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"assetd/internal/fault"
	"assetd/internal/service"
	"assetd/pkg/types"
)

// statusFor maps a taxonomy kind to its HTTP status.
func statusFor(err error) int {
	switch fault.KindOf(err) {
	case fault.BrokenChain:
		return http.StatusNotFound
	case fault.CycleDetected:
		return http.StatusConflict
	case fault.UnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case fault.ChecksumMismatch, fault.InvalidRange:
		return http.StatusUnprocessableEntity
	case fault.NetworkError:
		return http.StatusBadGateway
	case fault.Timeout:
		return http.StatusGatewayTimeout
	case fault.ContextLossExhausted:
		return http.StatusServiceUnavailable
	}
	switch {
	case errors.Is(err, service.ErrNotLoaded):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// writeError writes err with the status its kind maps to.
func writeError(w http.ResponseWriter, err error) int {
	status := statusFor(err)
	writeJSONError(w, status, err.Error(), string(fault.KindOf(err)))
	return status
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg, kind string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Kind: kind, Code: status})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && zlog != nil {
		zlog.Debug().Err(err).Msg("http event=encode_failed")
	}
}
