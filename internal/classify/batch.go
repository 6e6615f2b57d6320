package classify

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// BatchConcurrency bounds how many provider calls a batch keeps in flight, to
// respect provider rate limits.
const BatchConcurrency = 5

// BatchResult collects per-item outcomes of a batch run. One item failing
// never aborts the rest.
type BatchResult struct {
	Succeeded int
	Failed    int
	Errors    map[uuid.UUID]error
}

// Batch fans the engine out over many items with bounded concurrency.
func Batch(ctx context.Context, engine *Engine, itemIDs []uuid.UUID, concurrency int) BatchResult {
	if concurrency <= 0 {
		concurrency = BatchConcurrency
	}
	result := BatchResult{Errors: map[uuid.UUID]error{}}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, id := range itemIDs {
		id := id
		g.Go(func() error {
			_, err := engine.Classify(gctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed++
				result.Errors[id] = err
			} else {
				result.Succeeded++
			}
			return nil
		})
	}
	// Goroutines always return nil; Wait only synchronizes.
	_ = g.Wait()
	return result
}
