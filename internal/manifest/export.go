package manifest

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"assetd/internal/common/fsutil"
)

// Export writes the snapshot as indented JSON.
func (s *Snapshot) Export(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.Document()); err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return nil
}

// ExportFile writes the snapshot to path via a temp file and rename, so a
// concurrent reader (or the watcher) never sees a truncated document.
func (s *Snapshot) ExportFile(path string) error {
	p, err := fsutil.ExpandHome(path)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".manifest-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := s.Export(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p)
}
