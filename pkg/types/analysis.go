// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// Finding is what one paper contributes to a sub-topic.
type Finding struct {
	Summary   string   `json:"summary" yaml:"summary"`
	KeyPoints []string `json:"key_points,omitempty" yaml:"key_points,omitempty"`
}

// Analysis is the analyzing stage's output for one sub-topic. EvidenceAbsent
// marks an analysis produced without any available documents.
type Analysis struct {
	SubTopicID          string             `json:"sub_topic_id" yaml:"sub_topic_id"`
	PerPaperFindings    map[string]Finding `json:"per_paper_findings" yaml:"per_paper_findings"`
	CrossPaperSynthesis string             `json:"cross_paper_synthesis" yaml:"cross_paper_synthesis"`
	EvidenceAbsent      bool               `json:"evidence_absent" yaml:"evidence_absent"`

	// Cycle is the revision count at the time the analysis was written.
	Cycle int `json:"cycle" yaml:"cycle"`
}

// Verdict is the critic's decision.
type Verdict string

const (
	VerdictApproved     Verdict = "approved"
	VerdictRevise       Verdict = "revise"
	VerdictInsufficient Verdict = "insufficient"
)

// RevisionKind names the work a revision action requests.
type RevisionKind string

const (
	ActionSearchMore RevisionKind = "search_more"
	ActionReAnalyze  RevisionKind = "re_analyze"
)

// RevisionAction targets one sub-topic for revision.
type RevisionAction struct {
	SubTopicID string       `json:"sub_topic_id" yaml:"sub_topic_id"`
	Action     RevisionKind `json:"action" yaml:"action"`
	Reason     string       `json:"reason,omitempty" yaml:"reason,omitempty"`

	// Query is an optional replacement search query for search_more.
	Query string `json:"query,omitempty" yaml:"query,omitempty"`

	// Focus is optional additional focus for re_analyze.
	Focus string `json:"focus,omitempty" yaml:"focus,omitempty"`
}

// CritiqueVerdict is the critiquing stage's output.
type CritiqueVerdict struct {
	Verdict           Verdict          `json:"verdict" yaml:"verdict"`
	QualityScore      float64          `json:"quality_score" yaml:"quality_score"`
	RequiredRevisions []RevisionAction `json:"required_revisions,omitempty" yaml:"required_revisions,omitempty"`
	Assessment        string           `json:"assessment,omitempty" yaml:"assessment,omitempty"`
}

// RevisionPlan records the scoped work a revision cycle performs.
type RevisionPlan struct {
	Cycle      int              `json:"cycle" yaml:"cycle"`
	SearchMore []RevisionAction `json:"search_more,omitempty" yaml:"search_more,omitempty"`
	ReAnalyze  []RevisionAction `json:"re_analyze,omitempty" yaml:"re_analyze,omitempty"`
}
