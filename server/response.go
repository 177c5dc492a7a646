package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/tally/errors"
	"github.com/teranos/tally/pulse/async"
)

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		return errors.Wrap(err, "failed to encode JSON")
	}
	return nil
}

// writeRawJSON writes an already encoded JSON body
func writeRawJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// writeWrappedError maps err onto an HTTP status and writes it. An
// insufficient-data outcome is informational and answered with 200.
func writeWrappedError(w http.ResponseWriter, log *zap.SugaredLogger, err error, context string) {
	status := statusFor(err)
	if status == http.StatusOK {
		writeJSON(w, http.StatusOK, InfoResponse{Message: err.Error()})
		return
	}

	if status >= http.StatusInternalServerError {
		log.Errorw(context, "error", err, "status", status)
	} else {
		log.Debugw(context, "error", err, "status", status)
	}
	writeJSON(w, status, ErrorResponse{
		Error: err.Error(),
		Code:  string(async.ClassifyError("", err).Code),
		Hints: errors.GetAllHints(err),
	})
}

// statusFor picks the HTTP status for an error class
func statusFor(err error) int {
	switch {
	case errors.IsInsufficientData(err):
		return http.StatusOK
	case errors.IsMalformedInput(err), errors.IsInvalidRequestError(err):
		return http.StatusBadRequest
	case errors.Is(err, errors.ErrUpstreamRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, errors.ErrUpstreamUnavailable),
		errors.Is(err, async.ErrQueueFull),
		errors.Is(err, async.ErrRunnerStopped):
		return http.StatusServiceUnavailable
	case errors.IsNotFoundError(err):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// readJSON decodes an optional JSON request body. An empty body leaves v
// untouched.
func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return err
	}
	return nil
}

// requireMethod checks if the request method matches the expected method
func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}

// parseIntQueryParam reads an integer query parameter, clamped to
// [min, max]. Missing or unparsable values give defaultValue.
func parseIntQueryParam(r *http.Request, name string, defaultValue, min, max int) int {
	valueStr := r.URL.Query().Get(name)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	if value < min {
		return min
	}
	if value > max {
		return max
	}

	return value
}

// parseStrictIntParam reads an integer query parameter, rejecting values
// that do not parse or fall outside [min, max].
func parseStrictIntParam(r *http.Request, name string, min, max int) (int, error) {
	valueStr := r.URL.Query().Get(name)
	if valueStr == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil || value < min || value > max {
		return 0, errors.NewInvalidRequestError("%s must be an integer in [%d, %d], got %q", name, min, max, valueStr)
	}
	return value, nil
}

// parseBoolQueryParam reports whether a query flag is set to a true value
func parseBoolQueryParam(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(r.URL.Query().Get(name)))
	return err == nil && v
}

// shortID truncates an ID to 8 characters for logging
func shortID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}
