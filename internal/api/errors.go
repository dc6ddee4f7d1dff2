package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/coinarena/ledger-engine/internal/model"
)

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrValidation),
		errors.Is(err, model.ErrInsufficientFunds),
		errors.Is(err, model.ErrInsufficientHoldings),
		errors.Is(err, model.ErrNoPosition),
		errors.Is(err, model.ErrQuoteUnavailable):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrDuplicate):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeErr classifies err and writes it. Unclassified errors are logged and
// answered with a generic message. Oracle failures may wrap transport
// errors, so only the sentinel text is returned for them.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	switch {
	case status == http.StatusInternalServerError:
		internalError(w, r, err)
	case errors.Is(err, model.ErrQuoteUnavailable):
		slog.Warn("quote unavailable",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"err", err,
		)
		writeError(w, model.ErrQuoteUnavailable.Error(), status)
	default:
		writeError(w, err.Error(), status)
	}
}

// writeCallerErr is writeErr for the authenticated caller's own records. A
// token whose account has no wallet is a provisioning fault, not a 404.
func writeCallerErr(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, model.ErrNotFound) {
		internalError(w, r, err)
		return
	}
	writeErr(w, r, err)
}

func internalError(w http.ResponseWriter, r *http.Request, err error) {
	slog.Error("request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", middleware.GetReqID(r.Context()),
		"err", err,
	)
	writeError(w, "internal server error", http.StatusInternalServerError)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
