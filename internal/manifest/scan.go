package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"assetd/internal/common/fsutil"
	"assetd/pkg/types"
)

// ScanDir builds a manifest from the *.glb / *.gltf files in dir.
// A file named <base>-<tier>.<ext> becomes descriptor <base>-<tier> with that
// quality; other files get medium. Variants of one base are chained so each
// tier falls back to the next lower one. Memory is estimated from file size.
func ScanDir(dir, version string) (*Snapshot, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	if !fsutil.DirExists(abs) {
		return nil, fmt.Errorf("asset dir %s: not a directory", abs)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []types.ModelDescriptor
	groups := make(map[string][]int)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".glb" && ext != ".gltf" {
			continue
		}
		id := strings.TrimSuffix(name, filepath.Ext(name))
		group, q := splitTier(id)
		fi, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", name, err)
		}
		models = append(models, types.ModelDescriptor{
			ID:            id,
			DisplayName:   id,
			Path:          name,
			Quality:       q,
			MemoryUsageMB: estimateMB(fi.Size()),
		})
		groups[group] = append(groups[group], len(models)-1)
	}
	for _, idx := range groups {
		sort.Slice(idx, func(i, j int) bool { return models[idx[i]].Quality < models[idx[j]].Quality })
		for i := 1; i < len(idx); i++ {
			models[idx[i]].FallbackModelID = models[idx[i-1]].ID
		}
	}
	return New(version, time.Now(), models)
}

func splitTier(id string) (string, types.Quality) {
	i := strings.LastIndexByte(id, '-')
	if i <= 0 {
		return id, types.QualityMedium
	}
	q, err := types.ParseQuality(id[i+1:])
	if err != nil {
		return id, types.QualityMedium
	}
	return id[:i], q
}

// estimateMB rounds a file size up to whole MB, minimum 1 so an unknown size
// never bypasses budget checks.
func estimateMB(size int64) int {
	mb := int((size + (1<<20 - 1)) / (1 << 20))
	if mb <= 0 {
		mb = 1
	}
	return mb
}
