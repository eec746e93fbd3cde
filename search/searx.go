package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/casualjim/delver/research"
	json "github.com/goccy/go-json"
)

var _ Searcher = (*searx)(nil)

// searx queries a SearxNG instance over its JSON API. Any instance with
// format=json enabled works, self-hosted or public.
type searx struct {
	base   string
	client *http.Client
}

// Searx creates a searcher backed by the SearxNG instance at baseURL.
func Searx(baseURL string) (Searcher, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("searx base url is required")
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid searx base url: %w", err)
	}
	return &searx{
		base:   strings.TrimSuffix(base.String(), "/"),
		client: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type searxResponse struct {
	Results []struct {
		URL     string  `json:"url"`
		Title   string  `json:"title"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
		Engine  string  `json:"engine"`
	} `json:"results"`
}

func (s *searx) Search(ctx context.Context, query string, maxResults int) ([]research.SearchResult, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("searx request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("searx returned status %d", resp.StatusCode)
	}

	var body searxResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode searx response: %w", err)
	}

	results := make([]research.SearchResult, 0, len(body.Results))
	for _, r := range body.Results {
		if maxResults > 0 && len(results) >= maxResults {
			break
		}
		results = append(results, research.SearchResult{
			URL:     r.URL,
			Title:   r.Title,
			Snippet: r.Content,
			Score:   r.Score,
			Source:  r.Engine,
		})
	}
	return results, nil
}
