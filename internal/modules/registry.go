package modules

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"

	"github.com/kaptinlin/jsonschema"
	"github.com/nexus-dashboard/nexus/internal/apperr"
)

// Registry holds the known modules in memory, indexed by id, together with
// their compiled import schemas.
type Registry struct {
	fsys    fs.FS
	modules map[string]*Manifest
	schemas map[string]*jsonschema.Schema
}

// NewRegistry creates an empty registry whose schema files are read from fsys.
func NewRegistry(fsys fs.FS) *Registry {
	return &Registry{
		fsys:    fsys,
		modules: make(map[string]*Manifest),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a module and compiles its import schema, if any.
func (r *Registry) Register(m *Manifest) error {
	if _, exists := r.modules[m.ID]; exists {
		return fmt.Errorf("module already registered: %s", m.ID)
	}
	if m.ImportSchema != "" {
		data, err := fs.ReadFile(r.fsys, joinDir(m.dir, m.ImportSchema))
		if err != nil {
			return fmt.Errorf("failed to read import schema of %s: %w", m.ID, err)
		}
		schema, err := jsonschema.NewCompiler().Compile(data)
		if err != nil {
			return fmt.Errorf("failed to compile import schema of %s: %w", m.ID, err)
		}
		r.schemas[m.ID] = schema
	}
	r.modules[m.ID] = m
	return nil
}

// Get looks a module up by id.
func (r *Registry) Get(id string) (*Manifest, bool) {
	m, ok := r.modules[id]
	return m, ok
}

// List returns every module sorted by id.
func (r *Registry) List() []*Manifest {
	out := make([]*Manifest, 0, len(r.modules))
	for _, m := range r.modules {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Allowed filters the registry down to the ids in allowList, in registry order.
// Unknown ids are ignored.
func (r *Registry) Allowed(allowList []string) []*Manifest {
	allowed := make(map[string]bool, len(allowList))
	for _, id := range allowList {
		allowed[id] = true
	}
	out := []*Manifest{}
	for _, m := range r.List() {
		if allowed[m.ID] {
			out = append(out, m)
		}
	}
	return out
}

// DefaultEnabled returns the ids of modules granted to new accounts.
func (r *Registry) DefaultEnabled() []string {
	var ids []string
	for _, m := range r.List() {
		if m.DefaultEnabled {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

// Count returns the number of registered modules.
func (r *Registry) Count() int {
	return len(r.modules)
}

// ValidateImport checks a backup file against the module's import schema.
// Modules without a schema accept any JSON object.
func (r *Registry) ValidateImport(id string, raw json.RawMessage) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return invalidImport("backup is not valid JSON: %v", err)
	}
	if _, ok := doc.(map[string]any); !ok {
		return invalidImport("backup must be a JSON object")
	}
	schema, ok := r.schemas[id]
	if !ok {
		return nil
	}

	result := schema.Validate(doc)
	if result.IsValid() {
		return nil
	}
	var messages []string
	for field, evalErr := range result.Errors {
		messages = append(messages, fmt.Sprintf("%s: %s", field, evalErr.Error()))
	}
	sort.Strings(messages)
	return invalidImport("backup does not match the %s format: %s", id, strings.Join(messages, "; "))
}

// Load discovers the modules in fsys and registers them. Duplicate ids are
// logged and skipped.
func Load(fsys fs.FS, logger *slog.Logger) (*Registry, error) {
	found, err := Discover(fsys, logger)
	if err != nil {
		return nil, err
	}
	registry := NewRegistry(fsys)
	for _, m := range found {
		if err := registry.Register(m); err != nil {
			logger.Warn("skipping module", "module", m.ID, "error", err)
		}
	}
	return registry, nil
}

// LoadBundled loads the modules shipped with the binary.
func LoadBundled(logger *slog.Logger) (*Registry, error) {
	sub, err := fs.Sub(Bundled, "manifests")
	if err != nil {
		return nil, err
	}
	return Load(sub, logger)
}

func joinDir(dir, name string) string {
	if dir == "." || dir == "" {
		return name
	}
	return dir + "/" + name
}

func invalidImport(format string, args ...any) error {
	return apperr.New(apperr.ErrInvalidInput, "invalid_import", fmt.Sprintf(format, args...))
}
