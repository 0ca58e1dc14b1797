package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/coreflow360/core/internal/domain"
)

const maxRequestBodySize = 1 << 20 // 1 MB

// readJSON decodes a JSON request body with a size limit.
func readJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "", "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "", "invalid request body")
		}
		return v, false
	}
	return v, true
}

// urlParam is a short alias for chi.URLParam.
func urlParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// requireField writes a 400 error and returns false when value is empty.
func requireField(w http.ResponseWriter, value, fieldName string) bool {
	if value == "" {
		writeError(w, http.StatusBadRequest, "", fieldName+" is required")
		return false
	}
	return true
}

type errorResponse struct {
	Error             string `json:"error"`
	Code              string `json:"code,omitempty"`
	RecommendedBundle string `json:"recommended_bundle,omitempty"`
	Metric            string `json:"metric,omitempty"`
	Current           *int64 `json:"current,omitempty"`
	Ceiling           *int64 `json:"ceiling,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}

// writeDomainError maps domain errors to HTTP responses. Every typed error
// carries a stable machine-readable code so clients can branch without
// parsing messages.
func writeDomainError(w http.ResponseWriter, err error) {
	var (
		unknownCap  *domain.UnknownCapabilityError
		notEntitled *domain.NotEntitledError
		quota       *domain.QuotaExceededError
		unavailable *domain.BackendUnavailableError
		callErr     *domain.BackendCallError
		badQuote    *domain.QuoteInvalidError
	)

	switch {
	case errors.As(err, &unknownCap):
		writeError(w, http.StatusNotFound, unknownCap.Code(), unknownCap.Error())
	case errors.As(err, &notEntitled):
		writeJSON(w, http.StatusForbidden, errorResponse{
			Error:             notEntitled.Error(),
			Code:              notEntitled.Code(),
			RecommendedBundle: notEntitled.RecommendedBundle,
		})
	case errors.As(err, &quota):
		writeJSON(w, http.StatusTooManyRequests, errorResponse{
			Error:   quota.Error(),
			Code:    quota.Code(),
			Metric:  quota.Metric,
			Current: &quota.Current,
			Ceiling: &quota.Ceiling,
		})
	case errors.As(err, &unavailable):
		w.Header().Set("Retry-After", strconv.Itoa(int(unavailable.RetryAfter.Seconds())))
		writeError(w, http.StatusServiceUnavailable, unavailable.Code(), unavailable.Error())
	case errors.As(err, &callErr):
		writeError(w, http.StatusBadGateway, callErr.Code(), callErr.Error())
	case errors.As(err, &badQuote):
		writeError(w, http.StatusBadRequest, badQuote.Code(), badQuote.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "", "not found")
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, "", "resource was modified by another request")
	default:
		writeInternalError(w, err)
	}
}

// writeInternalError logs the actual error server-side and returns a generic message to the client.
func writeInternalError(w http.ResponseWriter, err error) {
	slog.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "", "internal server error")
}
