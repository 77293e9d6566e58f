// Package sieve implements domain.PrimeGenerator with a chunked Sieve of
// Eratosthenes. Work is split into chunks of cursor positions; between two
// chunks the engine checks for cancellation and yields to the scheduler, so a
// large bound never monopolises the goroutine that runs it.
package sieve

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"github.com/satriahrh/cocoa-fruit/primeworks/domain"
)

const (
	DefaultMaxBound  = 1_000_000
	DefaultChunkSize = 4096

	// HardMaxBound caps MaxBound so that m+p never overflows while marking,
	// on 32-bit platforms as well.
	HardMaxBound = min(1<<32, math.MaxInt/2)
)

// Config holds engine limits.
type Config struct {
	MaxBound         int    // inclusive; 0 = DefaultMaxBound
	DefaultChunkSize int    // used when a request carries no chunk size; 0 = DefaultChunkSize
	Yield            func() // suspension point between chunks; nil = runtime.Gosched
}

// Engine generates primes. It holds no per-call state and is safe for
// concurrent use.
type Engine struct {
	cfg Config
}

// New creates a new Engine.
func New(c Config) *Engine {
	if c.MaxBound <= 0 {
		c.MaxBound = DefaultMaxBound
	}
	if c.MaxBound > HardMaxBound {
		c.MaxBound = HardMaxBound
	}
	if c.DefaultChunkSize <= 0 {
		c.DefaultChunkSize = DefaultChunkSize
	}
	if c.Yield == nil {
		c.Yield = runtime.Gosched
	}
	return &Engine{cfg: c}
}

// MaxBound returns the largest accepted bound.
func (e *Engine) MaxBound() int { return e.cfg.MaxBound }

func (e *Engine) Validate(req domain.PrimeRequest) error {
	if req.Bound < 0 {
		return fmt.Errorf("%w: bound %d is negative", domain.ErrInvalidArgument, req.Bound)
	}
	if req.Bound > e.cfg.MaxBound {
		return fmt.Errorf("%w: bound %d exceeds maximum %d", domain.ErrInvalidArgument, req.Bound, e.cfg.MaxBound)
	}
	if req.ChunkSize < 0 {
		return fmt.Errorf("%w: chunk size must be at least 1, got %d", domain.ErrInvalidArgument, req.ChunkSize)
	}
	return nil
}

func (e *Engine) Generate(ctx context.Context, req domain.PrimeRequest) ([]int, error) {
	if err := e.Validate(req); err != nil {
		return nil, err
	}
	n := req.Bound
	if n < 2 {
		return []int{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, cancelled(ctx)
	}

	chunk := req.ChunkSize
	if chunk == 0 {
		chunk = e.cfg.DefaultChunkSize
	}

	composite := allocate(n)

	// cursor <= n/cursor is cursor*cursor <= n without the multiplication.
	cursor, chunks := 2, 0
	for cursor <= n/cursor {
		for end := cursor + min(chunk, n); cursor < end && cursor <= n/cursor; cursor++ {
			if composite[cursor] {
				continue
			}
			for m := cursor * cursor; m <= n; m += cursor {
				composite[m] = true
			}
		}
		chunks++

		if req.OnChunk != nil {
			req.OnChunk(domain.ChunkProgress{Bound: n, Chunk: chunks, Cursor: cursor})
		}
		if ctx.Err() != nil {
			return nil, cancelled(ctx)
		}
		if cursor <= n/cursor {
			e.cfg.Yield()
		}
	}

	return collect(composite), nil
}

// allocate returns the marker array for 0..n with 0 and 1 marked composite.
// Running out of memory here is fatal to the process; callers bound the
// total through admission (see usecase.PrimeService).
func allocate(n int) []bool {
	composite := make([]bool, n+1)
	composite[0], composite[1] = true, true
	return composite
}

func collect(composite []bool) []int {
	primes := make([]int, 0, estimate(len(composite)-1))
	for i, c := range composite {
		if !c {
			primes = append(primes, i)
		}
	}
	return primes
}

// estimate approximates pi(n) as a capacity hint for collect.
func estimate(n int) int {
	if n < 64 {
		return 18
	}
	bits := 0
	for v := n; v > 0; v >>= 1 {
		bits++
	}
	// n/ln(n) * 1.3, with ln(n) ~ 0.69*bits.
	return int(float64(n) / (0.69 * float64(bits)) * 1.3)
}

func cancelled(ctx context.Context) error {
	return fmt.Errorf("%w: %w", domain.ErrCancelled, context.Cause(ctx))
}
