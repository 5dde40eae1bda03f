// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// PaperStatus tracks a paper through document acquisition.
type PaperStatus string

const (
	PaperFound       PaperStatus = "found"
	PaperProcessing  PaperStatus = "processing"
	PaperAvailable   PaperStatus = "available"
	PaperUnavailable PaperStatus = "unavailable"
)

// Paper is a discovered source document scoped to one session. Papers are
// never deleted; a paper whose content cannot be obtained is marked
// unavailable with a reason.
type Paper struct {
	// NormalizedID is the dedup identity, equal to the cache key of SourceRef.
	NormalizedID string `json:"normalized_id" yaml:"normalized_id"`

	// Title is the paper title.
	Title string `json:"title" yaml:"title"`

	// Authors lists the paper authors in source order.
	Authors []string `json:"authors" yaml:"authors"`

	// Abstract is the paper abstract.
	Abstract string `json:"abstract" yaml:"abstract"`

	// Date is the publication or preprint date.
	Date time.Time `json:"date" yaml:"date"`

	// SourceDatabase lists the discovery sources that returned the paper.
	SourceDatabase string `json:"source_database" yaml:"source_database"`

	// RelevanceScore is the ranked relevance in [0, 1].
	RelevanceScore float64 `json:"relevance_score" yaml:"relevance_score"`

	// SourceRef is the reference handed to the document cache.
	SourceRef string `json:"source_ref" yaml:"source_ref"`

	// CacheKey is set once the document cache has processed the paper.
	CacheKey string `json:"cache_key,omitempty" yaml:"cache_key,omitempty"`

	// Status is mutated only by the document cache.
	Status PaperStatus `json:"status" yaml:"status"`

	// UnavailableReason explains why the content could not be obtained.
	UnavailableReason string `json:"unavailable_reason,omitempty" yaml:"unavailable_reason,omitempty"`
}

// Available reports whether the paper's content is in the cache.
func (p Paper) Available() bool { return p.Status == PaperAvailable }

// CacheState is the lifecycle of a document cache entry.
type CacheState string

const (
	CachePending CacheState = "pending"
	CacheReady   CacheState = "ready"
	CacheFailed  CacheState = "failed"
)

// CacheEntry is a process-wide extracted document keyed by normalized source
// reference. Ready content is immutable.
type CacheEntry struct {
	Key       string     `json:"key" yaml:"key"`
	SourceRef string     `json:"source_ref" yaml:"source_ref"`
	Content   string     `json:"content,omitempty" yaml:"content,omitempty"`
	State     CacheState `json:"state" yaml:"state"`
	Error     string     `json:"error,omitempty" yaml:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" yaml:"updated_at"`
}
