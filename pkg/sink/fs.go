package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FSSink writes one <id>.xml file per identifier under a directory.
type FSSink struct {
	dir string
}

// NewFSSink creates the target directory if it does not exist.
func NewFSSink(dir string) (*FSSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sink directory: %w", err)
	}
	return &FSSink{dir: dir}, nil
}

// Store writes the document, overwriting any previous version. Identifiers
// come from upstream responses, so an id naming a path outside the sink
// directory is rejected rather than written.
func (s *FSSink) Store(_ context.Context, id string, content []byte) error {
	if strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("identifier %q contains a path separator", id)
	}
	path := filepath.Join(s.dir, id+".xml")
	if filepath.Dir(path) != filepath.Clean(s.dir) {
		return fmt.Errorf("identifier %q resolves outside the sink directory", id)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Name implements Sink.
func (s *FSSink) Name() string { return "fs" }
