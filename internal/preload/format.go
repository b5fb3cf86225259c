package preload

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path"
	"strings"
)

const (
	glbMagic      = 0x46546C67 // "glTF" little-endian
	glbVersion    = 2
	glbHeaderSize = 12
)

// checkFormat rejects payloads that are not GLB or GLTF, judged by the path
// extension and a header sniff. It does not decode meshes.
func checkFormat(assetPath string, data []byte) error {
	ext := strings.ToLower(path.Ext(stripQuery(assetPath)))
	switch ext {
	case ".glb":
		if len(data) < glbHeaderSize {
			return fmt.Errorf("glb too short: %d bytes", len(data))
		}
		if m := binary.LittleEndian.Uint32(data[0:4]); m != glbMagic {
			return fmt.Errorf("bad glb magic 0x%08x", m)
		}
		if v := binary.LittleEndian.Uint32(data[4:8]); v != glbVersion {
			return fmt.Errorf("unsupported glb version %d", v)
		}
		if n := binary.LittleEndian.Uint32(data[8:12]); int64(n) > int64(len(data)) || n < glbHeaderSize {
			return fmt.Errorf("glb length %d does not match payload %d", n, len(data))
		}
		return nil
	case ".gltf":
		var doc struct {
			Asset json.RawMessage `json:"asset"`
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("gltf is not a json object: %w", err)
		}
		if len(doc.Asset) == 0 {
			return fmt.Errorf("gltf has no asset member")
		}
		return nil
	default:
		return fmt.Errorf("unsupported extension %q", ext)
	}
}

func stripQuery(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		return p[:i]
	}
	return p
}

// GLBHeader builds a minimal valid GLB header for a payload of total length n.
// Useful for fixtures and fake origins.
func GLBHeader(n uint32) []byte {
	b := make([]byte, glbHeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], glbMagic)
	binary.LittleEndian.PutUint32(b[4:8], glbVersion)
	binary.LittleEndian.PutUint32(b[8:12], n)
	return b
}
