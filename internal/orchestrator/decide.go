// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package orchestrator

import "github.com/pdiddy/deep-research/pkg/types"

// Transition reasons.
const (
	reasonPlanReady        = "plan ready"
	reasonSearchComplete   = "discovery complete"
	reasonAnalysisComplete = "analyses complete"
	reasonApproved         = "approved"
	reasonInsufficient     = "critic reported insufficient coverage"
	reasonLimitReached     = "revision limit reached"
	reasonNoTargets        = "no actionable revisions"
	reasonRevise           = "revision requested"
	reasonResearch         = "re-searching sub-topics"
	reasonReanalyze        = "re-analyzing sub-topics"
	reasonLastRevision     = "last allowed revision complete"
	reasonSectionsWritten  = "all sections written"
	reasonFinalized        = "report assembled"
)

// decide maps a critique verdict to the next phase. known holds the plan's
// sub-topic ids. The result never leads to another revision once
// revisionCount has reached maxRevisions.
func decide(v types.CritiqueVerdict, revisionCount, maxRevisions int, known map[string]bool) (types.Phase, string) {
	switch v.Verdict {
	case types.VerdictApproved:
		return types.PhaseReporting, reasonApproved
	case types.VerdictRevise:
		if revisionCount >= maxRevisions {
			return types.PhaseReporting, reasonLimitReached
		}
		if len(actionable(v.RequiredRevisions, known)) == 0 {
			return types.PhaseReporting, reasonNoTargets
		}
		return types.PhaseRevising, reasonRevise
	default:
		return types.PhaseReporting, reasonInsufficient
	}
}

// afterAnalysis picks the phase that follows an analysis pass. A revision
// pass that used the last allowed revision goes straight to reporting: no
// critique could change the outcome.
func afterAnalysis(revisionCount, maxRevisions int) (types.Phase, string) {
	if revisionCount > 0 && revisionCount >= maxRevisions {
		return types.PhaseReporting, reasonLastRevision
	}
	return types.PhaseCritiquing, reasonAnalysisComplete
}

// actionable keeps revisions that target a known sub-topic, dropping
// repeats of the same sub-topic and action.
func actionable(revs []types.RevisionAction, known map[string]bool) []types.RevisionAction {
	type k struct {
		id     string
		action types.RevisionKind
	}
	seen := make(map[k]bool)
	var out []types.RevisionAction
	for _, r := range revs {
		key := k{r.SubTopicID, r.Action}
		if !known[r.SubTopicID] || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}

// planRevision splits actionable revisions into the re-search and
// re-analysis scopes for one cycle. A sub-topic that is re-searched is not
// listed again for re-analysis; it is re-analyzed with its new papers and
// keeps any requested focus.
func planRevision(v types.CritiqueVerdict, cycle int, known map[string]bool) types.RevisionPlan {
	plan := types.RevisionPlan{Cycle: cycle}
	searched := make(map[string]int)
	revs := actionable(v.RequiredRevisions, known)
	for _, r := range revs {
		if r.Action == types.ActionSearchMore {
			searched[r.SubTopicID] = len(plan.SearchMore)
			plan.SearchMore = append(plan.SearchMore, r)
		}
	}
	for _, r := range revs {
		if r.Action != types.ActionReAnalyze {
			continue
		}
		if i, ok := searched[r.SubTopicID]; ok {
			if plan.SearchMore[i].Focus == "" {
				plan.SearchMore[i].Focus = r.Focus
			}
			continue
		}
		plan.ReAnalyze = append(plan.ReAnalyze, r)
	}
	return plan
}
