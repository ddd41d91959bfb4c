package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 64 << 10

// decodeJSON reads a single JSON object into dst and writes a 400 on
// failure. It reports whether the handler may continue.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(r.Context(), w, newError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		case errors.Is(err, io.EOF):
			writeError(r.Context(), w, newError("invalid_request", "request body is required", http.StatusBadRequest))
		default:
			writeError(r.Context(), w, newError("invalid_request", "malformed JSON body", http.StatusBadRequest))
		}
		return false
	}
	return true
}

// idParam parses a positive integer path parameter, writing a 400 when it
// is not one.
func idParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(chi.URLParam(r, name)), 10, 64)
	if err != nil || id <= 0 {
		writeError(r.Context(), w, newError("invalid_request", name+" must be a positive integer", http.StatusBadRequest))
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, name string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(name))
	return n
}
