package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/roach88/tessera/internal/addr"
	"github.com/roach88/tessera/internal/world"
)

// Error codes in error responses.
const (
	codeBadJSON    = "BAD_JSON"
	codeBadRequest = "BAD_REQUEST"
	codeNotFound   = "NOT_FOUND"
	codeTooLarge   = "TOO_LARGE"
	codeInternal   = "INTERNAL"
)

// maxBody bounds request bodies.
const maxBody = 8 << 20

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	EventID string `json:"event_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": errorBody{Code: code, Message: message}})
}

// writeStoreError maps the error taxonomy onto HTTP statuses: validation
// and canonicalization failures are the caller's to fix, a missing tile or
// object is a 404, anything else is ours.
func writeStoreError(w http.ResponseWriter, err error) {
	var ve *world.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": errorBody{
			Code:    string(ve.Code),
			Message: ve.Message,
			Field:   ve.Field,
			EventID: ve.EventID,
		}})
	case addr.IsCanonicalizationError(err):
		writeError(w, http.StatusBadRequest, "canonicalization", err.Error())
	case world.IsNotFound(err):
		writeError(w, http.StatusNotFound, codeNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, codeInternal, err.Error())
	}
}

// readValue reads a strict JSON body. An empty body reads as an empty
// object.
func readValue(w http.ResponseWriter, r *http.Request) (addr.Object, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, codeTooLarge, err.Error())
			return nil, false
		}
		writeError(w, http.StatusBadRequest, codeBadJSON, err.Error())
		return nil, false
	}
	if len(data) == 0 {
		return addr.Object{}, true
	}
	v, err := addr.ParseJSON(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadJSON, err.Error())
		return nil, false
	}
	obj, ok := v.(addr.Object)
	if !ok {
		writeError(w, http.StatusBadRequest, codeBadJSON, "body must be a JSON object")
		return nil, false
	}
	return obj, true
}
