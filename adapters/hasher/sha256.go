package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"

	"github.com/satriahrh/cocoa-fruit/primeworks/domain"
)

// blockValues is how many sequence values are encoded per write.
const blockValues = 512

// New returns a domain.Hasher backed by SHA-256.
func New() domain.Hasher { return sha256Hasher{} }

type sha256Hasher struct{}

func (sha256Hasher) Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (sha256Hasher) HashSequence(values []int) string {
	h := sha256.New()
	writeSequence(h, values)
	return hex.EncodeToString(h.Sum(nil))
}

func (sha256Hasher) Algorithm() string { return "sha256" }

func writeSequence(h hash.Hash, values []int) {
	buf := make([]byte, 0, 8*blockValues)
	for len(values) > 0 {
		n := min(len(values), blockValues)
		buf = domain.AppendSequence(buf[:0], values[:n])
		h.Write(buf)
		values = values[n:]
	}
}
