// Package handler exposes the billing services over HTTP.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/matthewbaird/rentals/internal/apperr"
	"github.com/matthewbaird/rentals/internal/types"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// writeJSON marshals v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("writeJSON encode error")
	}
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
		"code":  code,
	})
}

// decodeJSON decodes the request body into v. An empty body leaves v as is.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	defer r.Body.Close()
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// statusFor maps a domain error code to its HTTP status.
func statusFor(code apperr.Code) int {
	switch code {
	case apperr.CodeValidation, apperr.CodeInvalidCode, apperr.CodeCodeExpired, apperr.CodeNotRequired:
		return http.StatusBadRequest
	case apperr.CodeForbidden:
		return http.StatusForbidden
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeConflict, apperr.CodeInvalidState:
		return http.StatusConflict
	case apperr.CodeExpired:
		return http.StatusGone
	case apperr.CodeExternalGateway:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// domainErrorToHTTP writes err as a JSON error. Errors outside the domain
// taxonomy are logged and reported as a generic 500.
func domainErrorToHTTP(w http.ResponseWriter, r *http.Request, err error) {
	code := apperr.CodeOf(err)
	status := statusFor(code)
	if status == http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("internal error")
		writeError(w, status, "INTERNAL_ERROR", "internal server error")
		return
	}
	writeError(w, status, string(code), apperr.MessageOf(err))
}

// parsePeriod reads the optional "period" query parameter. A missing
// parameter yields the zero period, meaning the current one.
func parsePeriod(w http.ResponseWriter, r *http.Request) (types.Period, bool) {
	raw := r.URL.Query().Get("period")
	if raw == "" {
		return types.Period{}, true
	}
	p, err := types.ParsePeriod(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, string(apperr.CodeValidation), err.Error())
		return types.Period{}, false
	}
	return p, true
}

// parseLimit reads the optional "limit" query parameter, clamped to max.
func parseLimit(r *http.Request, def, max int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
