// Package parallel provides the bounded fan-out used by the CPU kernels.
package parallel

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Config controls parallel execution behavior.
type Config struct {
	Enabled      bool // Whether parallel execution is enabled.
	NumWorkers   int  // Number of worker goroutines to use.
	MinChunkSize int  // Minimum items per goroutine to avoid overhead.
}

// DefaultConfig returns sensible defaults based on CPU count.
func DefaultConfig() Config {
	return WithWorkers(runtime.NumCPU())
}

// WithWorkers returns a config using n workers. n <= 1 disables parallelism.
func WithWorkers(n int) Config {
	return Config{
		Enabled:      n > 1,
		NumWorkers:   max(n, 1),
		MinChunkSize: 1,
	}
}

// For executes f(i) for i in [0, n) with optional parallelism.
//
// Work is split into contiguous chunks, one goroutine per chunk, bounded by
// cfg.NumWorkers. The first error returned by f cancels ctx for the
// remaining chunks and is returned. Falls back to sequential execution if
// parallelism is disabled or n is too small.
func For(ctx context.Context, n int, cfg Config, f func(ctx context.Context, i int) error) error {
	if !cfg.Enabled || n <= cfg.MinChunkSize || cfg.NumWorkers <= 1 {
		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := f(ctx, i); err != nil {
				return err
			}
		}
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.NumWorkers)
	chunkSize := max((n+cfg.NumWorkers-1)/cfg.NumWorkers, cfg.MinChunkSize)

	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := f(ctx, i); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}
