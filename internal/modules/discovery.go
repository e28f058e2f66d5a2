package modules

import (
	"embed"
	"io/fs"
	"log/slog"
	"path"
)

// Bundled holds the manifests and import schemas shipped with the binary.
//
//go:embed manifests
var Bundled embed.FS

// Discover scans the root of fsys for module directories containing a
// module.yaml. Invalid manifests are logged and skipped so one broken module
// does not hide the others.
func Discover(fsys fs.FS, logger *slog.Logger) ([]*Manifest, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}

	var found []*Manifest
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := path.Join(entry.Name(), "module.yaml")
		if _, err := fs.Stat(fsys, name); err != nil {
			continue
		}
		m, err := LoadManifest(fsys, name)
		if err != nil {
			logger.Warn("skipping invalid module", "dir", entry.Name(), "error", err)
			continue
		}
		found = append(found, m)
	}
	return found, nil
}
