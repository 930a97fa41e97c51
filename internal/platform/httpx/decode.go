package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// DefaultMaxBodyBytes bounds JSON request bodies.
const DefaultMaxBodyBytes int64 = 1 << 20

// DecodeJSON reads a single JSON document from r into dst. Failures are returned as
// ready-to-write Errors (400 invalid_json, 413 payload_too_large).
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any, limit int64) error {
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	body := http.MaxBytesReader(w, r.Body, limit)
	defer body.Close()
	return DecodeJSONBytes(body, dst)
}

// DecodeJSONBytes decodes one JSON document from reader, e.g. a multipart form field.
func DecodeJSONBytes(reader io.Reader, dst any) error {
	decoder := json.NewDecoder(reader)
	if err := decoder.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return NewError("payload_too_large", fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit), http.StatusRequestEntityTooLarge)
		case errors.Is(err, io.EOF):
			return NewError("invalid_json", "request body is empty", http.StatusBadRequest)
		default:
			return NewError("invalid_json", "request body must be valid JSON", http.StatusBadRequest)
		}
	}
	if decoder.More() {
		return NewError("invalid_json", "request body must contain a single JSON document", http.StatusBadRequest)
	}
	return nil
}
