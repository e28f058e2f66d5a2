// Package docstore is the per-user document store behind every dashboard
// module. Documents are JSON values addressed by Path and carry a version
// that every write increments; writes may require an expected version so
// concurrent sessions cannot silently overwrite each other.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nexus-dashboard/nexus/internal/apperr"
)

// Errors
var (
	ErrNotFound        = apperr.New(apperr.ErrNotFound, "not_found", "document not found")
	ErrVersionConflict = apperr.New(apperr.ErrConflict, "version_conflict", "document version conflict")
	ErrInvalidPath     = apperr.New(apperr.ErrInvalidInput, "invalid_path", "invalid document path")
)

// Version expectations accepted by writes.
const (
	// AnyVersion skips the optimistic concurrency check.
	AnyVersion int64 = -1
	// MustNotExist makes a write fail if the document already exists.
	MustNotExist int64 = 0
)

// Op identifies a write operation.
type Op string

const (
	OpSet    Op = "set"
	OpMerge  Op = "merge"
	OpDelete Op = "delete"
)

// Document is one stored JSON value.
type Document struct {
	Path      string          `json:"path"`
	Version   int64           `json:"version"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Decode unmarshals the document body into v.
func (d *Document) Decode(v any) error {
	if len(d.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(d.Data, v); err != nil {
		return fmt.Errorf("failed to decode document %s: %w", d.Path, err)
	}
	return nil
}

// Write is one element of an atomic Batch.
type Write struct {
	Path            Path
	Op              Op
	Data            any
	ExpectedVersion int64
}

// Change describes a committed write, as delivered to live subscribers.
type Change struct {
	Path    string          `json:"path"`
	Op      Op              `json:"op"`
	Version int64           `json:"version"`
	Data    json.RawMessage `json:"data,omitempty"`
	At      time.Time       `json:"at"`
}

// MutateFunc receives the current body (nil when the document does not exist)
// and returns the replacement body.
type MutateFunc func(current json.RawMessage) (any, error)

// Store is implemented by the Postgres and in-memory backends.
type Store interface {
	Get(ctx context.Context, path Path) (*Document, error)
	// List returns the item documents of a collection ordered by creation time.
	List(ctx context.Context, collection Path) ([]*Document, error)
	// Set replaces the whole document.
	Set(ctx context.Context, path Path, data any, expectedVersion int64) (*Document, error)
	// Merge overwrites the given top-level keys, creating the document if needed.
	Merge(ctx context.Context, path Path, fields map[string]any, expectedVersion int64) (*Document, error)
	// Update runs fn under a row lock: a server-side read-modify-write.
	Update(ctx context.Context, path Path, fn MutateFunc) (*Document, error)
	Delete(ctx context.Context, path Path, expectedVersion int64) error
	// DeletePrefix removes every document whose path starts with prefix.
	DeletePrefix(ctx context.Context, prefix string) (int64, error)
	// Batch applies all writes or none.
	Batch(ctx context.Context, writes []Write) ([]*Document, error)
	// Sweep deletes item documents of the named module collection, across all
	// users, that were last written before the cutoff.
	Sweep(ctx context.Context, module, collection string, before time.Time) (int64, error)
}

// Load decodes the document at path into a T. A missing document yields the
// zero T and version 0.
func Load[T any](ctx context.Context, s Store, path Path) (T, int64, error) {
	var out T
	doc, err := s.Get(ctx, path)
	if errors.Is(err, ErrNotFound) {
		return out, 0, nil
	}
	if err != nil {
		return out, 0, err
	}
	if err := doc.Decode(&out); err != nil {
		return out, 0, err
	}
	return out, doc.Version, nil
}

// UpdateInto is Update with typed decoding: fn edits the current value in place.
func UpdateInto[T any](ctx context.Context, s Store, path Path, fn func(*T) error) (T, *Document, error) {
	var result T
	doc, err := s.Update(ctx, path, func(current json.RawMessage) (any, error) {
		var value T
		if len(current) > 0 {
			if err := json.Unmarshal(current, &value); err != nil {
				return nil, fmt.Errorf("failed to decode %s: %w", path, err)
			}
		}
		if err := fn(&value); err != nil {
			return nil, err
		}
		result = value
		return value, nil
	})
	return result, doc, err
}

// ListInto decodes every item of a collection, passing the item id along.
func ListInto[T any](ctx context.Context, s Store, collection Path, withID func(id string, v *T)) ([]T, error) {
	docs, err := s.List(ctx, collection)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		var v T
		if err := doc.Decode(&v); err != nil {
			return nil, err
		}
		if withID != nil {
			p, err := Parse(doc.Path)
			if err != nil {
				return nil, err
			}
			withID(p.ItemID, &v)
		}
		out = append(out, v)
	}
	return out, nil
}

func checkVersion(path string, current *Document, expected int64) error {
	if expected == AnyVersion {
		return nil
	}
	var have int64
	if current != nil {
		have = current.Version
	}
	if have != expected {
		return fmt.Errorf("%w: %s at version %d, expected %d", ErrVersionConflict, path, have, expected)
	}
	return nil
}

func encode(data any) (json.RawMessage, error) {
	if raw, ok := data.(json.RawMessage); ok {
		return raw, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return raw, nil
}

// MergeFields overlays fields on the top-level keys of current. It is the
// body a Merge would store.
func MergeFields(current json.RawMessage, fields map[string]any) (json.RawMessage, error) {
	obj := map[string]json.RawMessage{}
	if len(current) > 0 {
		if err := json.Unmarshal(current, &obj); err != nil {
			return nil, fmt.Errorf("failed to merge into non-object document: %w", err)
		}
	}
	for k, v := range fields {
		raw, err := encode(v)
		if err != nil {
			return nil, err
		}
		obj[k] = raw
	}
	return encode(obj)
}
