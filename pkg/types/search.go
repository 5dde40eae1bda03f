// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the deep-research pipeline:
// sessions and phases, research plans, papers and cache entries, analyses,
// critique verdicts, reports, and configuration.
package types

import "time"

// SearchResult represents a candidate paper returned by one discovery source.
// Each result carries an identifier, metadata, source, relevance score, and a
// preferred acquisition identifier.
type SearchResult struct {
	// Identifier is the canonical ID from the source (arXiv ID, DOI, PMID, or URL).
	Identifier string `json:"identifier" yaml:"identifier"`

	// Title is the paper title as returned by the source.
	Title string `json:"title" yaml:"title"`

	// Authors lists the paper authors in source order.
	Authors []string `json:"authors" yaml:"authors"`

	// Abstract is the paper abstract or summary.
	Abstract string `json:"abstract" yaml:"abstract"`

	// Date is the publication or preprint date.
	Date time.Time `json:"date" yaml:"date"`

	// Source identifies which backend found this result (e.g. "arxiv", "pubmed").
	Source string `json:"source" yaml:"source"`

	// RelevanceScore is a value between 0.0 and 1.0 indicating relevance to the query.
	RelevanceScore float64 `json:"relevance_score" yaml:"relevance_score"`

	// PreferredAcquisitionID is the source reference the document cache should
	// fetch: arXiv ID if available, then DOI, then PMID, then URL.
	PreferredAcquisitionID string `json:"preferred_acquisition_id" yaml:"preferred_acquisition_id"`
}

// Discovery is the outcome of searching for one sub-topic. Empty is an
// explicit result: Papers is empty and AttemptedQueries records every query
// string that was issued.
type Discovery struct {
	// SubTopicID names the sub-topic this discovery belongs to.
	SubTopicID string `json:"sub_topic_id" yaml:"sub_topic_id"`

	// Papers holds the ranked, deduplicated selection (at most TopN).
	Papers []Paper `json:"papers" yaml:"papers"`

	// AttemptedQueries lists every query string issued, in order.
	AttemptedQueries []string `json:"attempted_queries" yaml:"attempted_queries"`

	// Refinements counts query re-issues after the initial attempt.
	Refinements int `json:"refinements" yaml:"refinements"`

	// CandidateCount is the deduplicated candidate count of the accepted attempt.
	CandidateCount int `json:"candidate_count" yaml:"candidate_count"`

	// WithinBounds reports whether the accepted attempt fell inside the
	// configured candidate bounds.
	WithinBounds bool `json:"within_bounds" yaml:"within_bounds"`

	// Empty reports that no candidates were found after all refinements.
	Empty bool `json:"empty" yaml:"empty"`

	// BackendErrors lists per-backend failures that did not abort the search.
	BackendErrors []string `json:"backend_errors,omitempty" yaml:"backend_errors,omitempty"`
}
