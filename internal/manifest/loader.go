package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"assetd/internal/common/fsutil"
	"assetd/pkg/types"
)

// LoadFile reads a manifest document based on its extension.
// Supports: .json, .yaml/.yml, .toml
func LoadFile(path string) (*Snapshot, error) {
	if path == "" {
		return nil, fmt.Errorf("empty manifest path")
	}
	p, err := fsutil.ExpandHome(path)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	return Parse(b, filepath.Ext(p))
}

// Parse decodes a manifest document in the format named by ext.
func Parse(b []byte, ext string) (*Snapshot, error) {
	var doc types.ManifestDocument
	switch ext = strings.ToLower(ext); ext {
	case ".json":
		if err := json.Unmarshal(b, &doc); err != nil {
			return nil, fmt.Errorf("decode manifest: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &doc); err != nil {
			return nil, fmt.Errorf("decode manifest: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, &doc); err != nil {
			return nil, fmt.Errorf("decode manifest: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported manifest extension: %s", ext)
	}
	for i, m := range doc.Models {
		if strings.TrimSpace(m.Path) == "" {
			return nil, fmt.Errorf("model %d (%q): empty path", i, m.ID)
		}
	}
	return FromDocument(doc)
}
