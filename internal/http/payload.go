package httpx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/adenalhardan/punchcard-backend/internal/domain"
)

// decodeBody reads a JSON object body, keeping numbers as json.Number.
func decodeBody(w http.ResponseWriter, req *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid JSON body", domain.ErrInvalidInput)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after JSON body", domain.ErrInvalidInput)
	}
	return nil
}

// decodeEmbedded decodes a member that clients send either inline or as a JSON-encoded string.
func decodeEmbedded(raw json.RawMessage, name string, dst any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return fmt.Errorf("%w: %s is required", domain.ErrInvalidInput, name)
	}
	if raw[0] == '"' {
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return fmt.Errorf("%w: %s is not valid JSON", domain.ErrInvalidInput, name)
		}
		raw = []byte(encoded)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %s must be a JSON array", domain.ErrInvalidInput, name)
	}
	if _, err := dec.Token(); err != io.EOF {
		return fmt.Errorf("%w: %s has trailing data", domain.ErrInvalidInput, name)
	}
	return nil
}
