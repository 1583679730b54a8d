package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

// Algorithm names the 256-bit hash used for reference ids.
type Algorithm string

const (
	SHA256     Algorithm = "sha256"
	SHA3_256   Algorithm = "sha3-256"
	BLAKE2b256 Algorithm = "blake2b-256"
)

// ParseAlgorithm accepts an algorithm name case-insensitively. Empty means SHA256.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(name))) {
	case "", SHA256:
		return SHA256, nil
	case SHA3_256:
		return SHA3_256, nil
	case BLAKE2b256:
		return BLAKE2b256, nil
	default:
		return "", fmt.Errorf("unsupported digest algorithm %q", name)
	}
}

func (a Algorithm) newHash() (hash.Hash, error) {
	switch a {
	case SHA256, "":
		return sha256.New(), nil
	case SHA3_256:
		return sha3.New256(), nil
	case BLAKE2b256:
		return blake2b.New256(nil)
	default:
		return nil, fmt.Errorf("unsupported digest algorithm %q", string(a))
	}
}

// ComputeReference derives a reference id from the canonical payload and the
// entry timestamp: hex(digest(payload || RFC3339Nano(timestamp))).
func ComputeReference(alg Algorithm, canonical []byte, timestamp time.Time) (string, error) {
	h, err := alg.newHash()
	if err != nil {
		return "", err
	}
	h.Write(canonical)
	h.Write([]byte(timestamp.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(h.Sum(nil)), nil
}
