package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Config holds batch fetcher configuration
type Config struct {
	// MaxPerRequest is the largest number of IDs sent in one upstream call
	MaxPerRequest int

	// MaxConcurrency is the maximum number of chunks fetched in parallel
	MaxConcurrency int

	// Timeout per chunk fetch (0 = rely on the caller's context)
	Timeout time.Duration
}

// DefaultConfig returns the Steam Web API limits
func DefaultConfig() Config {
	return Config{
		MaxPerRequest:  100,
		MaxConcurrency: 4,
	}
}

// ChunkFunc fetches one chunk of IDs and returns the values found, keyed by ID.
// IDs the upstream does not know are simply absent from the map.
type ChunkFunc[V any] func(ctx context.Context, ids []string) (map[string]V, error)

// ChunkError reports a failed chunk.
type ChunkError struct {
	Index int
	IDs   []string
	Err   error
}

// Error implements the error interface.
func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d (%d ids): %v", e.Index, len(e.IDs), e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ChunkError) Unwrap() error {
	return e.Err
}

// Fetcher fetches values for many IDs in chunks
type Fetcher[V any] struct {
	fetch  ChunkFunc[V]
	config Config
}

// NewFetcher creates a new batch fetcher
func NewFetcher[V any](fetch ChunkFunc[V], config Config) *Fetcher[V] {
	if fetch == nil {
		panic("chunk func cannot be nil")
	}
	defaults := DefaultConfig()
	if config.MaxPerRequest <= 0 {
		config.MaxPerRequest = defaults.MaxPerRequest
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = defaults.MaxConcurrency
	}
	return &Fetcher[V]{
		fetch:  fetch,
		config: config,
	}
}

// FetchAll fetches ids chunk by chunk and merges the results.
// When some chunks fail, the values of the successful chunks are returned
// together with the joined chunk errors.
func (f *Fetcher[V]) FetchAll(ctx context.Context, ids []string) (map[string]V, error) {
	results := make(map[string]V, len(ids))
	if len(ids) == 0 {
		return results, nil
	}

	chunks := Chunk(ids, f.config.MaxPerRequest)

	// Single chunk optimization
	if len(chunks) == 1 {
		values, err := f.fetchChunk(ctx, chunks[0])
		if err != nil {
			return results, &ChunkError{Index: 0, IDs: chunks[0], Err: err}
		}
		for id, v := range values {
			results[id] = v
		}
		return results, nil
	}

	start := time.Now()
	log.Debug().
		Int("ids", len(ids)).
		Int("chunks", len(chunks)).
		Msg("Starting chunked fetch")

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(f.config.MaxConcurrency)

	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				mu.Lock()
				errs = append(errs, &ChunkError{Index: i, IDs: chunk, Err: err})
				mu.Unlock()
				return nil
			}

			values, err := f.fetchChunk(ctx, chunk)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Warn().
					Err(err).
					Int("chunk", i).
					Int("ids", len(chunk)).
					Msg("Chunk fetch failed")
				errs = append(errs, &ChunkError{Index: i, IDs: chunk, Err: err})
				return nil
			}
			for id, v := range values {
				results[id] = v
			}
			return nil
		})
	}
	_ = g.Wait()

	log.Debug().
		Int("ids", len(ids)).
		Int("found", len(results)).
		Int("failed_chunks", len(errs)).
		Dur("duration", time.Since(start)).
		Msg("Chunked fetch complete")

	if len(errs) > 0 {
		return results, errors.Join(errs...)
	}
	return results, nil
}

func (f *Fetcher[V]) fetchChunk(ctx context.Context, ids []string) (map[string]V, error) {
	if f.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.config.Timeout)
		defer cancel()
	}
	return f.fetch(ctx, ids)
}

// Chunk splits ids into consecutive slices of at most size elements.
func Chunk(ids []string, size int) [][]string {
	if size <= 0 {
		size = len(ids)
	}
	chunks := make([][]string, 0, (len(ids)+size-1)/max(size, 1))
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}
