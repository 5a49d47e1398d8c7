package bpt

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Result is the outcome of one lookup in a batch
type Result struct {
	Key   []byte
	Value []byte
	Found bool
}

// FindAll looks up keys concurrently on one index, running at most
// concurrency lookups at a time (unbounded when concurrency <= 0).
// Results are returned in the order of keys. The first error cancels the
// remaining lookups; a missing key is not an error.
func FindAll(ctx context.Context, idx *Index, keys [][]byte, valSize, concurrency int) ([]Result, error) {
	if err := idx.checkValSize(valSize); err != nil {
		return nil, err
	}

	results := make([]Result, len(keys))

	g, ctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}

	for i, key := range keys {
		i, key := i, key // per-iteration copies (go directive is 1.21)
		g.Go(func() error {
			val, found, err := idx.FindContext(ctx, key, valSize)
			if err != nil {
				return fmt.Errorf("lookup of %q: %w", key, err)
			}
			results[i] = Result{Key: key, Value: val, Found: found}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
