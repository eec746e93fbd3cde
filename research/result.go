package research

// SearchResult is one candidate document returned by a search provider.
// Score is the provider's relevance estimate, higher is better.
type SearchResult struct {
	URL     string  `json:"url"`
	Title   string  `json:"title"`
	Snippet string  `json:"snippet,omitempty"`
	Score   float64 `json:"score"`
	Source  string  `json:"source,omitempty"`
}
