package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/onnwee/sound-tender/audio"
	"github.com/onnwee/sound-tender/backup"
	"github.com/onnwee/sound-tender/commands"
	"github.com/onnwee/sound-tender/currency"
	"github.com/onnwee/sound-tender/store"
	"github.com/onnwee/sound-tender/telemetry"
)

const maxBodyBytes = 1 << 20

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	deps Deps
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid JSON body: %v", err)})
		return false
	}
	return true
}

// errorStatus maps domain errors onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, commands.ErrNotFound),
		errors.Is(err, currency.ErrUnknownUser),
		errors.Is(err, store.ErrNotExist),
		errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, commands.ErrValidation),
		errors.Is(err, backup.ErrInvalidName),
		errors.Is(err, currency.ErrInvalidAmount),
		errors.Is(err, currency.ErrInvalidRank):
		return http.StatusBadRequest
	case errors.Is(err, currency.ErrUserExists),
		errors.Is(err, currency.ErrInsufficientFunds),
		errors.Is(err, audio.ErrBusy):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status >= 500 {
		telemetry.LoggerWithCorr(r.Context()).Error("admin request failed",
			slog.String("component", "http"), slog.String("path", r.URL.Path), slog.Any("err", err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func unavailable(w http.ResponseWriter, what string) {
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": what + " not available"})
}
