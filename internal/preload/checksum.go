package preload

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

// Supported checksum algorithms. A bare hex checksum means sha256.
const (
	AlgoSHA256 = "sha256"
	AlgoBLAKE3 = "blake3"
)

// splitChecksum returns the algorithm and lower-cased hex digest of a
// descriptor checksum.
func splitChecksum(sum string) (algo, digest string, err error) {
	sum = strings.TrimSpace(sum)
	algo = AlgoSHA256
	if i := strings.IndexByte(sum, ':'); i >= 0 {
		algo = strings.ToLower(sum[:i])
		sum = sum[i+1:]
	}
	switch algo {
	case AlgoSHA256, AlgoBLAKE3:
	default:
		return "", "", fmt.Errorf("unknown checksum algorithm %q", algo)
	}
	return algo, strings.ToLower(sum), nil
}

// Digest hashes data with algo and returns lower-case hex.
func Digest(algo string, data []byte) string {
	switch algo {
	case AlgoBLAKE3:
		h := blake3.Sum256(data)
		return hex.EncodeToString(h[:])
	default:
		h := sha256.Sum256(data)
		return hex.EncodeToString(h[:])
	}
}

// verifyChecksum compares data against want. It returns the computed digest
// so mismatches can report both sides.
func verifyChecksum(want string, data []byte) (got string, ok bool, err error) {
	algo, digest, err := splitChecksum(want)
	if err != nil {
		return "", false, err
	}
	got = Digest(algo, data)
	return got, got == digest, nil
}
