// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// Phase is a state of the research workflow.
type Phase string

const (
	PhasePlanning   Phase = "planning"
	PhaseSearching  Phase = "searching"
	PhaseAnalyzing  Phase = "analyzing"
	PhaseCritiquing Phase = "critiquing"
	PhaseRevising   Phase = "revising"
	PhaseReporting  Phase = "reporting"
	PhaseFinalizing Phase = "finalizing"
	PhaseDone       Phase = "done"
	PhaseFailed     Phase = "failed"
)

// Terminal reports whether no further transitions are possible from p.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

// Session is one research run. Only the orchestrator mutates it.
type Session struct {
	ID            string    `json:"id" yaml:"id"`
	Query         string    `json:"query" yaml:"query"`
	Phase         Phase     `json:"phase" yaml:"phase"`
	RevisionCount int       `json:"revision_count" yaml:"revision_count"`
	CreatedAt     time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" yaml:"updated_at"`

	// FailedPhase records the phase that was active when the session failed.
	FailedPhase Phase `json:"failed_phase,omitempty" yaml:"failed_phase,omitempty"`

	// Error is the failure cause for a failed session.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`

	// Resume records the phase a restored session continues from. It is
	// empty for sessions that have not been checkpointed mid-run.
	Resume Phase `json:"resume,omitempty" yaml:"resume,omitempty"`
}

// SearchGuidance narrows how a sub-topic should be searched.
type SearchGuidance struct {
	FocusOn     []string `json:"focus_on,omitempty" yaml:"focus_on,omitempty"`
	MustInclude []string `json:"must_include,omitempty" yaml:"must_include,omitempty"`
	Avoid       []string `json:"avoid,omitempty" yaml:"avoid,omitempty"`
}

// SubTopic is one unit of research produced by planning. It is immutable
// after planning writes it.
type SubTopic struct {
	ID                string         `json:"id" yaml:"id"`
	Description       string         `json:"description" yaml:"description"`
	Priority          int            `json:"priority" yaml:"priority"`
	SuggestedKeywords []string       `json:"suggested_keywords" yaml:"suggested_keywords"`
	SuccessCriterion  string         `json:"success_criterion" yaml:"success_criterion"`
	SearchGuidance    SearchGuidance `json:"search_guidance" yaml:"search_guidance"`
}

// ResearchPlan is the planning stage's output.
type ResearchPlan struct {
	Approach  string     `json:"approach" yaml:"approach"`
	SubTopics []SubTopic `json:"sub_topics" yaml:"sub_topics"`
}
