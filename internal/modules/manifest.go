package modules

import (
	"bytes"
	"fmt"
	"io/fs"
	"path"

	"gopkg.in/yaml.v3"
)

// Manifest is the parsed module.yaml of one dashboard module.
// All modules must provide id, name and version; other fields are optional.
type Manifest struct {
	ID             string `yaml:"id" json:"id"`
	Name           string `yaml:"name" json:"name"`
	Path           string `yaml:"path" json:"path"`
	Icon           string `yaml:"icon" json:"icon"`
	Description    string `yaml:"description" json:"description"`
	Color          string `yaml:"color" json:"color"`
	Version        string `yaml:"version" json:"version"`
	DefaultEnabled bool   `yaml:"default_enabled" json:"-"`
	ImportSchema   string `yaml:"import_schema" json:"-"`

	// dir is the manifest's directory inside the module filesystem; the
	// import schema path is resolved against it.
	dir string
}

// LoadManifest reads and parses a module.yaml with strict validation.
// Unknown YAML keys are rejected and required fields are checked.
func LoadManifest(fsys fs.FS, name string) (*Manifest, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("failed to read module manifest: %w", err)
	}

	var m Manifest
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to parse module manifest: %w", err)
	}

	switch {
	case m.ID == "":
		return nil, fmt.Errorf("module manifest missing required field: id")
	case m.Name == "":
		return nil, fmt.Errorf("module manifest missing required field: name")
	case m.Version == "":
		return nil, fmt.Errorf("module manifest missing required field: version")
	}
	if m.Path == "" {
		m.Path = "/" + m.ID
	}
	m.dir = path.Dir(name)
	return &m, nil
}
