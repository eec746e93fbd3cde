package search

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"strings"
	"sync/atomic"
	"time"

	"github.com/casualjim/delver/research"
	"github.com/fogfish/opts"
)

var _ Searcher = (*simulated)(nil)

// simulated fabricates search results deterministically from the query, so
// the same query always yields the same results. Latency and periodic
// failures are injectable for demos of the retry path.
type simulated struct {
	latency   time.Duration
	failEvery int
	source    string
	calls     atomic.Int64
}

var (
	Latency = opts.ForName[simulated, time.Duration]("latency")
	// FailEvery makes every Nth call fail with a transient error. Zero
	// disables failure injection.
	FailEvery = opts.ForName[simulated, int]("failEvery")
	Source    = opts.ForName[simulated, string]("source")
)

// Simulated creates a searcher that fabricates results without a network.
func Simulated(options ...opts.Option[simulated]) Searcher {
	s := &simulated{source: "simulated"}
	if err := opts.Apply(s, options); err != nil {
		panic(err)
	}
	return s
}

func (s *simulated) Search(ctx context.Context, query string, maxResults int) ([]research.SearchResult, error) {
	call := s.calls.Add(1)
	if s.failEvery > 0 && call%int64(s.failEvery) == 0 {
		return nil, fmt.Errorf("simulated search outage for %q", query)
	}

	if s.latency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.latency):
		}
	}

	if maxResults <= 0 {
		maxResults = 5
	}

	rng := rand.New(rand.NewPCG(seed(query), 0))
	slug := slugify(query)
	results := make([]research.SearchResult, 0, maxResults)
	for i := 0; i < maxResults; i++ {
		results = append(results, research.SearchResult{
			URL:     fmt.Sprintf("https://example.org/%s/article-%d", slug, i+1),
			Title:   fmt.Sprintf("%s (part %d)", query, i+1),
			Snippet: fmt.Sprintf("An overview of %s covering aspect %d of the topic in detail.", query, i+1),
			Score:   rng.Float64(),
			Source:  s.source,
		})
	}
	// Fabricate a duplicate so downstream deduplication has work to do.
	if len(results) > 3 {
		dup := results[0]
		dup.Score = rng.Float64()
		results[3] = dup
	}
	return results, nil
}

func seed(query string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(query))
	return h.Sum64()
}

func slugify(query string) string {
	fields := strings.Fields(strings.ToLower(query))
	if len(fields) > 4 {
		fields = fields[:4]
	}
	return strings.Join(fields, "-")
}
