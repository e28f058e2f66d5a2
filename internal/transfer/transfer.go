// Package transfer exports a module's data as a downloadable JSON backup and
// imports such files back, atomically.
package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nexus-dashboard/nexus/internal/apperr"
	"github.com/nexus-dashboard/nexus/internal/archive"
	"github.com/nexus-dashboard/nexus/internal/docstore"
	"github.com/nexus-dashboard/nexus/internal/modules"
)

// Errors
var (
	ErrUnknownModule      = apperr.New(apperr.ErrNotFound, "module_not_found", "module not found")
	ErrNotTransferable    = apperr.New(apperr.ErrNotFound, "module_not_found", "module has no import/export support")
	ErrArchiveUnavailable = apperr.New(apperr.ErrUnprocessable, "archive_unavailable", "export archiving is not configured")
)

// Module is implemented by every domain service whose data can be backed up.
type Module interface {
	Export(ctx context.Context, uid string) (any, error)
	ImportWrites(ctx context.Context, uid string, raw json.RawMessage) ([]docstore.Write, error)
}

// Archiver stores a copy of an export and returns a download link.
type Archiver interface {
	Put(ctx context.Context, key string, body []byte) (string, error)
}

// Service coordinates exports and imports across modules.
type Service struct {
	registry *modules.Registry
	store    docstore.Store
	modules  map[string]Module
	archiver Archiver
	now      func() time.Time
}

// NewService creates a transfer service. archiver may be nil.
func NewService(registry *modules.Registry, store docstore.Store, mods map[string]Module, archiver Archiver) *Service {
	return &Service{registry: registry, store: store, modules: mods, archiver: archiver, now: time.Now}
}

// File is a rendered backup.
type File struct {
	Name string
	Body []byte
}

// Filename names a backup of module taken at t.
func Filename(module string, t time.Time) string {
	return fmt.Sprintf("%s_backup_%s.json", module, t.Format("20060102-150405"))
}

func (s *Service) module(id string) (Module, error) {
	if _, ok := s.registry.Get(id); !ok {
		return nil, ErrUnknownModule
	}
	m, ok := s.modules[id]
	if !ok {
		return nil, ErrNotTransferable
	}
	return m, nil
}

// Export renders every record uid owns in module.
func (s *Service) Export(ctx context.Context, uid, module string) (*File, error) {
	m, err := s.module(module)
	if err != nil {
		return nil, err
	}
	data, err := m.Export(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("failed to export %s: %w", module, err)
	}
	body, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s backup: %w", module, err)
	}
	return &File{Name: Filename(module, s.now()), Body: body}, nil
}

// Archive exports module and stores the file, returning its download link.
func (s *Service) Archive(ctx context.Context, uid, module string) (*File, string, error) {
	if s.archiver == nil {
		return nil, "", ErrArchiveUnavailable
	}
	f, err := s.Export(ctx, uid, module)
	if err != nil {
		return nil, "", err
	}
	url, err := s.archiver.Put(ctx, archive.Key(uid, f.Name), f.Body)
	if err != nil {
		return nil, "", err
	}
	return f, url, nil
}

// Import validates raw against the module's schema, builds every write and
// applies them in one batch. Nothing is written unless all records are valid.
func (s *Service) Import(ctx context.Context, uid, module string, raw []byte) (int, error) {
	m, err := s.module(module)
	if err != nil {
		return 0, err
	}
	if err := s.registry.ValidateImport(module, raw); err != nil {
		return 0, err
	}
	writes, err := m.ImportWrites(ctx, uid, raw)
	if err != nil {
		return 0, err
	}
	if len(writes) == 0 {
		return 0, nil
	}
	if _, err := s.store.Batch(ctx, writes); err != nil {
		return 0, fmt.Errorf("failed to apply %s import: %w", module, err)
	}
	return len(writes), nil
}
