// Package filter deduplicates and ranks the raw output of search steps.
package filter

import (
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"slices"
	"strings"

	"github.com/casualjim/delver/research"
)

// snippetPrefixLen is how much of a snippet participates in content
// deduplication. Two results whose snippets share this prefix are treated
// as the same content even when their URLs differ.
const snippetPrefixLen = 100

// Apply removes duplicate results, ranks the remainder by score and keeps at
// most topK of them. A result is a duplicate when its canonical URL was seen
// before, or when the hash of its snippet prefix was. The two key spaces are
// independent: a URL match never suppresses a later hash-only match and vice
// versa. The first occurrence always wins, and the sort is stable so equal
// scores keep their arrival order.
func Apply(results []research.SearchResult, topK int) []research.SearchResult {
	seenURLs := make(map[string]bool, len(results))
	seenHashes := make(map[string]bool, len(results))

	unique := make([]research.SearchResult, 0, len(results))
	for _, r := range results {
		key := CanonicalURL(r.URL)
		if seenURLs[key] {
			continue
		}

		hash := snippetHash(r.Snippet)
		if hash != "" && seenHashes[hash] {
			continue
		}

		seenURLs[key] = true
		if hash != "" {
			seenHashes[hash] = true
		}
		unique = append(unique, r)
	}

	slices.SortStableFunc(unique, func(a, b research.SearchResult) int {
		return cmp.Compare(b.Score, a.Score)
	})

	if topK > 0 && len(unique) > topK {
		unique = unique[:topK]
	}
	return unique
}

// CanonicalURL normalizes a URL for deduplication: scheme and host are
// lowercased, default ports and fragments are dropped, and a trailing slash
// on the path is removed. Unparsable URLs dedup on their raw string.
func CanonicalURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.TrimSpace(raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	switch {
	case u.Scheme == "http" && strings.HasSuffix(u.Host, ":80"):
		u.Host = strings.TrimSuffix(u.Host, ":80")
	case u.Scheme == "https" && strings.HasSuffix(u.Host, ":443"):
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	} else {
		u.Path = ""
	}

	return u.String()
}

func snippetHash(snippet string) string {
	trimmed := strings.TrimSpace(snippet)
	if trimmed == "" {
		return ""
	}
	runes := []rune(trimmed)
	if len(runes) > snippetPrefixLen {
		runes = runes[:snippetPrefixLen]
	}
	sum := sha256.Sum256([]byte(string(runes)))
	return hex.EncodeToString(sum[:])
}
