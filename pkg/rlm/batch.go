package rlm

import (
	"context"

	"github.com/sourcegraph/conc/pool"
)

// BatchResult pairs one query with its pipeline outcome.
type BatchResult struct {
	Query  string
	Result *QueryResult
	Err    error
}

// ProcessBatch runs the pipeline over independent queries on a bounded worker
// pool. Each query still flows through its own strictly sequential pipeline;
// only queries run concurrently. Results keep input order.
func (e *Engine) ProcessBatch(ctx context.Context, queries []string) []BatchResult {
	results := make([]BatchResult, len(queries))

	p := pool.New().WithMaxGoroutines(e.cfg.BatchSize)
	for i, query := range queries {
		p.Go(func() {
			result, err := e.ProcessQuery(ctx, query)
			results[i] = BatchResult{Query: query, Result: result, Err: err}
		})
	}
	p.Wait()

	return results
}
