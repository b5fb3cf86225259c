package manifest

import (
	"strings"

	"assetd/internal/fault"
	"assetd/pkg/types"
)

// FallbackChain walks fallback references starting at id and returns the
// descriptors from id to the terminal one (no further fallback). The terminal
// descriptor is the last 3D option before the renderer's non-3D baseline.
func (s *Snapshot) FallbackChain(id string) ([]types.ModelDescriptor, error) {
	seen := make(map[string]bool)
	var chain []types.ModelDescriptor
	var path []string
	cur := id
	for cur != "" {
		if seen[cur] {
			path = append(path, cur)
			return nil, fault.Newf(fault.CycleDetected, id, "fallback cycle %s", strings.Join(path, " -> "))
		}
		seen[cur] = true
		path = append(path, cur)
		d, ok := s.models[cur]
		if !ok {
			if cur == id {
				return nil, fault.Newf(fault.BrokenChain, id, "model not in manifest")
			}
			return nil, fault.Newf(fault.BrokenChain, id, "fallback target %q not in manifest (via %s)", cur, strings.Join(path[:len(path)-1], " -> "))
		}
		chain = append(chain, d.Clone())
		cur = d.FallbackModelID
	}
	return chain, nil
}

// ValidateChains checks every descriptor's chain and returns the first error
// per broken id, keyed by id.
func (s *Snapshot) ValidateChains() map[string]error {
	out := make(map[string]error)
	for id := range s.models {
		if _, err := s.FallbackChain(id); err != nil {
			out[id] = err
		}
	}
	return out
}
