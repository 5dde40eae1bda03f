// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/pdiddy/deep-research/pkg/types"
)

// FormatTable writes ranked results as a human-readable table to w.
func FormatTable(results []types.SearchResult, w io.Writer) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No results found.")
		return
	}

	fmt.Fprintf(w, "%-4s  %-60s  %-20s  %-4s  %-6s  %s\n",
		"Rank", "Title", "Authors", "Year", "Score", "Source")
	fmt.Fprintln(w, strings.Repeat("-", 110))

	for i, r := range results {
		year := ""
		if !r.Date.IsZero() {
			year = fmt.Sprintf("%d", r.Date.Year())
		}
		fmt.Fprintf(w, "%-4d  %-60s  %-20s  %-4s  %-6.2f  %s\n",
			i+1, truncate(r.Title, 60), formatAuthors(r.Authors), year, r.RelevanceScore, r.Source)
	}
	fmt.Fprintf(w, "\n%d results\n", len(results))
}

// FormatDiscovery writes a discovery outcome: the attempted queries followed
// by the selected papers.
func FormatDiscovery(d types.Discovery, w io.Writer) {
	fmt.Fprintf(w, "Sub-topic %s: %d candidates, %d refinements", d.SubTopicID, d.CandidateCount, d.Refinements)
	if !d.WithinBounds {
		fmt.Fprint(w, " (outside bounds)")
	}
	fmt.Fprintln(w)
	for i, q := range d.AttemptedQueries {
		fmt.Fprintf(w, "  query %d: %s\n", i+1, q)
	}
	for _, e := range d.BackendErrors {
		fmt.Fprintf(w, "  warning: %s\n", e)
	}
	if d.Empty {
		fmt.Fprintln(w, "No papers found.")
		return
	}

	fmt.Fprintln(w)
	for i, p := range d.Papers {
		year := ""
		if !p.Date.IsZero() {
			year = fmt.Sprintf("%d", p.Date.Year())
		}
		fmt.Fprintf(w, "%-4d  %-60s  %-20s  %-4s  %-6.2f  %s\n",
			i+1, truncate(p.Title, 60), formatAuthors(p.Authors), year, p.RelevanceScore, p.NormalizedID)
	}
}

// FormatJSON writes v as indented JSON to w.
func FormatJSON(v any, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatAuthors(authors []string) string {
	switch len(authors) {
	case 0:
		return ""
	case 1:
		return truncate(authors[0], 20)
	default:
		return truncate(authors[0], 14) + " et al."
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
