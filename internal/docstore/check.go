package docstore

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/nexus-dashboard/nexus/internal/apperr"
)

// Checker validates a full document body before it is stored at path. Each
// module supplies one so raw writes keep the same invariants as its service.
type Checker func(path Path, raw json.RawMessage) error

// InvalidDocument reports a body that breaks a module's rules.
func InvalidDocument(format string, args ...any) error {
	return apperr.New(apperr.ErrInvalidInput, "invalid_document", fmt.Sprintf(format, args...))
}

// DecodeStrict unmarshals raw into v, rejecting unknown fields.
func DecodeStrict(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return InvalidDocument("malformed document: %v", err)
	}
	return nil
}
