package domain

import "encoding/binary"

// Hasher is the core port for any hashing strategy.
type Hasher interface {
	// Hash returns the lowercase hex digest of data.
	Hash(data []byte) string
	// HashSequence digests values as laid out by AppendSequence without
	// materialising the whole encoding.
	HashSequence(values []int) string
	// Algorithm names the digest, e.g. "sha256".
	Algorithm() string
}

// AppendSequence appends values to dst as consecutive big-endian uint64
// values. It is the layout of every result digest.
func AppendSequence(dst []byte, values []int) []byte {
	for _, v := range values {
		dst = binary.BigEndian.AppendUint64(dst, uint64(v))
	}
	return dst
}
