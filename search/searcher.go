// Package search runs the web queries of a plan's search steps. Two
// implementations exist: a SearxNG-backed searcher for real deployments and
// a simulated one for demos and tests, with injectable latency and failures
// so retry behavior can be exercised without a network.
package search

import (
	"context"

	"github.com/casualjim/delver/research"
)

// Searcher executes a single search query and returns raw, unranked results.
// Deduplication and ranking happen downstream in the filter step.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]research.SearchResult, error)
}
