package domain

import "context"

// PrimeGenerator produces every prime up to an inclusive bound.
type PrimeGenerator interface {
	// Generate returns the ascending primes <= req.Bound. Cancelling ctx stops
	// the computation at the next chunk boundary with ErrCancelled.
	Generate(ctx context.Context, req PrimeRequest) ([]int, error)

	// Validate runs the argument checks Generate would run, without allocating.
	Validate(req PrimeRequest) error
}

type PrimeRequest struct {
	Bound int
	// ChunkSize is the number of cursor positions sieved between two
	// suspension points. Zero selects the generator's default.
	ChunkSize int
	// OnChunk, when set, is called after every chunk.
	OnChunk func(ChunkProgress)
}

// ChunkProgress describes the sieve after a chunk has been processed.
type ChunkProgress struct {
	Bound  int `json:"bound"`
	Chunk  int `json:"chunk"`
	Cursor int `json:"cursor"`
}
