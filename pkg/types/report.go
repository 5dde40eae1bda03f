// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// Report section names in template order.
const (
	SectionExecutiveSummary = "Executive Summary"
	SectionIntroduction     = "Introduction"
	SectionMainFindings     = "Main Findings"
	SectionSynthesis        = "Cross-Study Synthesis"
	SectionResearchGaps     = "Research Gaps"
	SectionConclusion       = "Conclusion"
	SectionLimitations      = "Limitations"
)

// DefaultSections is the report template used when none is configured.
var DefaultSections = []string{
	SectionExecutiveSummary,
	SectionIntroduction,
	SectionMainFindings,
	SectionSynthesis,
	SectionResearchGaps,
	SectionConclusion,
}

// ReportSection is one named section of the final report.
type ReportSection struct {
	Name    string `json:"name" yaml:"name"`
	Content string `json:"content" yaml:"content"`
}

// ReportMetadata accompanies the final report.
type ReportMetadata struct {
	SessionID             string    `json:"session_id" yaml:"session_id"`
	Query                 string    `json:"query" yaml:"query"`
	RevisionCount         int       `json:"revision_count" yaml:"revision_count"`
	MaxRevisions          int       `json:"max_revisions" yaml:"max_revisions"`
	SubTopicsAttempted    []string  `json:"sub_topics_attempted" yaml:"sub_topics_attempted"`
	InsufficientSubTopics []string  `json:"insufficient_sub_topics,omitempty" yaml:"insufficient_sub_topics,omitempty"`
	ForcedApproval        bool      `json:"forced_approval" yaml:"forced_approval"`
	FinalVerdict          Verdict   `json:"final_verdict,omitempty" yaml:"final_verdict,omitempty"`
	QualityScore          float64   `json:"quality_score" yaml:"quality_score"`
	PapersAvailable       int       `json:"papers_available" yaml:"papers_available"`
	PapersUnavailable     int       `json:"papers_unavailable" yaml:"papers_unavailable"`
	Limitations           []string  `json:"limitations,omitempty" yaml:"limitations,omitempty"`
	GeneratedAt           time.Time `json:"generated_at" yaml:"generated_at"`
}

// Report is the finalized artifact: sections in template order plus metadata.
// References lists the available papers the analyses drew on, in plan order.
type Report struct {
	Title      string          `json:"title" yaml:"title"`
	Query      string          `json:"query" yaml:"query"`
	Sections   []ReportSection `json:"sections" yaml:"sections"`
	References []Paper         `json:"references,omitempty" yaml:"references,omitempty"`
	Metadata   ReportMetadata  `json:"metadata" yaml:"metadata"`
}

// Section returns the named section and whether it exists.
func (r Report) Section(name string) (ReportSection, bool) {
	for _, s := range r.Sections {
		if s.Name == name {
			return s, true
		}
	}
	return ReportSection{}, false
}
