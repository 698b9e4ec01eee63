package templates

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FSStore reads templates from <dir>/<name>.yml.
type FSStore struct {
	dir string
}

// NewFSStore creates a store rooted at dir.
func NewFSStore(dir string) *FSStore {
	return &FSStore{dir: dir}
}

// Load reads and decodes the named template.
func (s *FSStore) Load(_ context.Context, name string) (map[string]any, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	path := filepath.Join(s.dir, name+".yml")
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, path)
		}
		return nil, fmt.Errorf("read template %s: %w", path, err)
	}
	doc, err := Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}
