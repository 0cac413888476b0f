package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/EmbeddedMhawar/Readimad/internal/readimad/identity"
	"github.com/EmbeddedMhawar/Readimad/internal/readimad/ledger"
	"github.com/EmbeddedMhawar/Readimad/internal/readimad/service"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// respond encodes v in the request's wire format.
func respond(w http.ResponseWriter, r *http.Request, status int, v any) {
	if !isProtobuf(r) {
		writeJSON(w, status, v)
		return
	}
	msg, err := structFrom(v)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal_error", Message: "response encoding failed"})
		return
	}
	writeProto(w, status, msg)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	respond(w, r, status, errorResponse{Error: code, Message: message})
}

// decode reads the body into v as JSON or a protobuf Struct. Unknown fields
// are rejected on both paths. It writes the error response itself and
// reports whether the handler should continue.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	var err error
	if isProtobuf(r) {
		err = readStruct(r, v)
	} else {
		err = decodeJSON(r.Body, v)
	}
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, r, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
		return false
	}
	writeError(w, r, http.StatusBadRequest, "bad_body", "invalid request body")
	return false
}

func decodeJSON(body io.Reader, v any) error {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// fail maps a service error to its HTTP status and error code.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidSerial):
		writeError(w, r, http.StatusBadRequest, "invalid_serial", err.Error())
	case errors.Is(err, service.ErrEmptyBatch):
		writeError(w, r, http.StatusBadRequest, "empty_batch", err.Error())
	case errors.Is(err, service.ErrBatchTooLarge):
		writeError(w, r, http.StatusBadRequest, "batch_too_large", err.Error())
	case errors.Is(err, ledger.ErrNotAuthentic):
		writeError(w, r, http.StatusConflict, "not_authentic", "serial is not registered as authentic")
	case errors.Is(err, ledger.ErrAlreadyRedeemed):
		writeError(w, r, http.StatusConflict, "already_redeemed", "serial has already been redeemed")
	case errors.Is(err, ledger.ErrBackingStoreUnavailable):
		s.logger.Printf("%s error: %v", op, err)
		writeError(w, r, http.StatusServiceUnavailable, "backing_store_unavailable", "ledger unavailable, retry later")
	default:
		s.logger.Printf("%s error: %v", op, err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "unexpected server error")
	}
}

func keyFor(serial string) string {
	if serial == "" {
		return ""
	}
	return identity.Hash(serial).Hex()
}
