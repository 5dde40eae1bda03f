// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/pdiddy/deep-research/internal/acquire"
	"github.com/pdiddy/deep-research/pkg/types"
)

// recencyBoost is the largest score bonus for a paper published today.
const recencyBoost = 0.2

// deduplicate merges results that refer to the same document. Two results
// match when any of their normalized identifiers, acquisition references,
// or normalized titles agree. The merged entry is the one with the higher
// relevance score, with empty fields filled from the other.
func deduplicate(results []types.SearchResult) []types.SearchResult {
	seen := make(map[string]int)
	var deduped []types.SearchResult

	for _, r := range results {
		keys := matchKeys(r)
		if len(keys) == 0 {
			continue
		}

		idx := -1
		for _, k := range keys {
			if i, ok := seen[k]; ok {
				idx = i
				break
			}
		}
		if idx < 0 {
			idx = len(deduped)
			deduped = append(deduped, r)
		} else {
			deduped[idx] = merge(deduped[idx], r)
		}
		for _, k := range matchKeys(deduped[idx]) {
			seen[k] = idx
		}
		for _, k := range keys {
			seen[k] = idx
		}
	}

	// A merge can move an entry onto another entry's acquisition reference;
	// fold those together so identities stay unique.
	byID := make(map[string]int, len(deduped))
	out := deduped[:0:0]
	for _, r := range deduped {
		id := normalizedID(r)
		if i, ok := byID[id]; ok {
			out[i] = merge(out[i], r)
			continue
		}
		byID[id] = len(out)
		out = append(out, r)
	}
	return out
}

// matchKeys returns every key a result can be matched by.
func matchKeys(r types.SearchResult) []string {
	var keys []string
	if k, err := acquire.Normalize(r.Identifier); err == nil {
		keys = append(keys, k)
	}
	if k, err := acquire.Normalize(r.PreferredAcquisitionID); err == nil && !containsString(keys, k) {
		keys = append(keys, k)
	}
	if t := normalizeTitle(r.Title); t != "" {
		keys = append(keys, "title:"+t)
	}
	return keys
}

// merge keeps the higher-scored result and fills its empty fields from the
// other one.
func merge(a, b types.SearchResult) types.SearchResult {
	dst, src := a, b
	if b.RelevanceScore > a.RelevanceScore {
		dst, src = b, a
	}
	if dst.Identifier == "" {
		dst.Identifier = src.Identifier
	}
	if dst.Title == "" {
		dst.Title = src.Title
	}
	if len(dst.Authors) == 0 {
		dst.Authors = src.Authors
	}
	if dst.Abstract == "" {
		dst.Abstract = src.Abstract
	}
	if dst.Date.IsZero() {
		dst.Date = src.Date
	}
	// arXiv copies are always retrievable, so they win for acquisition.
	if dst.PreferredAcquisitionID == "" || isArxiv(src.PreferredAcquisitionID) && !isArxiv(dst.PreferredAcquisitionID) {
		dst.PreferredAcquisitionID = src.PreferredAcquisitionID
	}
	dst.Source = joinSources(dst.Source, src.Source)
	return dst
}

func isArxiv(ref string) bool {
	t, _ := acquire.Classify(ref)
	return t == acquire.TypeArxiv
}

func joinSources(a, b string) string {
	parts := strings.Split(a, ",")
	for _, s := range strings.Split(b, ",") {
		if s != "" && !containsString(parts, s) {
			parts = append(parts, s)
		}
	}
	return strings.Trim(strings.Join(parts, ","), ",")
}

func containsString(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}

// normalizeTitle returns a lowercased, punctuation-stripped version of the title.
func normalizeTitle(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// dropAvoided removes results whose title or abstract mentions an avoided term.
func dropAvoided(results []types.SearchResult, avoid []string) []types.SearchResult {
	if len(avoid) == 0 {
		return results
	}
	out := results[:0:0]
	for _, r := range results {
		text := strings.ToLower(r.Title + " " + r.Abstract)
		keep := true
		for _, a := range avoid {
			if a = strings.ToLower(strings.TrimSpace(a)); a != "" && strings.Contains(text, a) {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, r)
		}
	}
	return out
}

// rank scores results by relevance plus a recency boost and returns the top
// n. Ties are broken by normalized identifier so ranking is deterministic.
func rank(results []types.SearchResult, now time.Time, window time.Duration, n int) []types.SearchResult {
	ranked := make([]types.SearchResult, len(results))
	copy(ranked, results)
	if window > 0 {
		applyRecencyBias(ranked, now, window)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].RelevanceScore != ranked[j].RelevanceScore {
			return ranked[i].RelevanceScore > ranked[j].RelevanceScore
		}
		return normalizedID(ranked[i]) < normalizedID(ranked[j])
	})
	if n > 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// applyRecencyBias boosts scores for papers published within the window.
func applyRecencyBias(results []types.SearchResult, now time.Time, window time.Duration) {
	for i := range results {
		if results[i].Date.IsZero() {
			continue
		}
		age := now.Sub(results[i].Date)
		if age >= 0 && age <= window {
			boost := recencyBoost * (1.0 - float64(age)/float64(window))
			results[i].RelevanceScore = math.Min(1.0, results[i].RelevanceScore+boost)
		}
	}
}

// normalizedID is the paper identity: the cache key of the acquisition
// reference, else of the identifier, else the normalized title.
func normalizedID(r types.SearchResult) string {
	if k, err := acquire.Normalize(r.PreferredAcquisitionID); err == nil {
		return k
	}
	if k, err := acquire.Normalize(r.Identifier); err == nil {
		return k
	}
	return "title:" + normalizeTitle(r.Title)
}

func toPapers(results []types.SearchResult) []types.Paper {
	papers := make([]types.Paper, 0, len(results))
	for _, r := range results {
		ref := r.PreferredAcquisitionID
		if ref == "" {
			ref = r.Identifier
		}
		papers = append(papers, types.Paper{
			NormalizedID:   normalizedID(r),
			Title:          r.Title,
			Authors:        r.Authors,
			Abstract:       r.Abstract,
			Date:           r.Date,
			SourceDatabase: r.Source,
			RelevanceScore: r.RelevanceScore,
			SourceRef:      ref,
			Status:         types.PaperFound,
		})
	}
	return papers
}
