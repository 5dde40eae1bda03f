// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package orchestrator

import (
	"fmt"
	"strings"

	"github.com/pdiddy/deep-research/internal/session"
	"github.com/pdiddy/deep-research/pkg/types"
)

// notePhases lists the phases whose notes feed the limitations, in order.
var notePhases = []types.Phase{
	types.PhasePlanning,
	types.PhaseSearching,
	types.PhaseAnalyzing,
	types.PhaseCritiquing,
	types.PhaseRevising,
	types.PhaseReporting,
}

// assessment is the session's coverage as seen by the closing phases.
type assessment struct {
	subTopics    []types.SubTopic
	analyses     map[string]types.Analysis
	verdict      types.CritiqueVerdict
	hasVerdict   bool
	forced       bool
	insufficient []string
	limitations  []string
	references   []types.Paper
	available    int
	unavailable  int
}

func (a *assessment) analysisList() []types.Analysis {
	var out []types.Analysis
	for _, st := range a.subTopics {
		if an, ok := a.analyses[st.ID]; ok {
			out = append(out, an)
		}
	}
	return out
}

func (a *assessment) markInsufficient(id string) {
	for _, x := range a.insufficient {
		if x == id {
			return
		}
	}
	a.insufficient = append(a.insufficient, id)
}

// assess derives limitations and insufficient sub-topics from session state.
// Everything is computed in plan order so identical state yields identical
// output.
func (o *Orchestrator) assess(sess types.Session) (*assessment, error) {
	sts, err := o.subTopics(sess.ID)
	if err != nil {
		return nil, err
	}
	a := &assessment{subTopics: sts, analyses: make(map[string]types.Analysis)}

	for _, st := range sts {
		var an types.Analysis
		ok, err := o.store.Get(sess.ID, session.KeyAnalyses+st.ID, &an)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		a.analyses[st.ID] = an
		if an.EvidenceAbsent {
			a.markInsufficient(st.ID)
			a.limitations = append(a.limitations,
				fmt.Sprintf("Sub-topic %s (%s): no source documents were available; evidence is absent.", st.ID, st.Description))
		}
	}

	seen := make(map[string]bool)
	var missing []string
	for _, st := range sts {
		var papers []types.Paper
		if _, err := o.store.Get(sess.ID, session.KeyPapers+st.ID, &papers); err != nil {
			return nil, err
		}
		for _, p := range papers {
			if seen[p.NormalizedID] {
				continue
			}
			seen[p.NormalizedID] = true
			if p.Available() {
				a.available++
				a.references = append(a.references, p)
			} else {
				a.unavailable++
				missing = append(missing, paperLabel(p))
			}
		}
	}
	if a.unavailable > 0 {
		a.limitations = append(a.limitations, fmt.Sprintf("%d of %d selected papers could not be retrieved: %s.",
			a.unavailable, a.available+a.unavailable, strings.Join(missing, "; ")))
	}

	a.hasVerdict, err = o.store.Get(sess.ID, session.KeyCritiqueVerdict, &a.verdict)
	if err != nil {
		return nil, err
	}
	if a.hasVerdict && a.verdict.Verdict != types.VerdictApproved {
		a.forced = true
		known := knownIDs(sts)
		var targets []string
		for _, r := range actionable(a.verdict.RequiredRevisions, known) {
			a.markInsufficient(r.SubTopicID)
			if !containsID(targets, r.SubTopicID) {
				targets = append(targets, r.SubTopicID)
			}
		}
		a.limitations = append(a.limitations, verdictLimitation(a.verdict, targets, sess.RevisionCount, o.cfg.MaxRevisions))
	}

	for _, p := range notePhases {
		var notes []string
		if _, err := o.store.Get(sess.ID, session.NotesKey(p), &notes); err != nil {
			return nil, err
		}
		a.limitations = append(a.limitations, notes...)
	}
	return a, nil
}

func verdictLimitation(v types.CritiqueVerdict, targets []string, revisions, maxRevisions int) string {
	switch {
	case v.Verdict == types.VerdictRevise && len(targets) > 0 && revisions >= maxRevisions:
		return fmt.Sprintf("Coverage is insufficient: the critic still requested revision of %s after %d of %d allowed revisions (quality score %.2f).",
			strings.Join(targets, ", "), revisions, maxRevisions, v.QualityScore)
	case v.Verdict == types.VerdictRevise:
		return fmt.Sprintf("Coverage is insufficient: the critic requested revision without naming an actionable sub-topic (quality score %.2f).", v.QualityScore)
	default:
		return fmt.Sprintf("Coverage is insufficient: the critic judged the evidence insufficient (quality score %.2f).", v.QualityScore)
	}
}

// assemble builds the final report with sections in template order,
// followed by the limitations.
func (o *Orchestrator) assemble(sess types.Session) (types.Report, error) {
	a, err := o.assess(sess)
	if err != nil {
		return types.Report{}, err
	}

	report := types.Report{Title: sess.Query, Query: sess.Query, References: a.references}
	for _, name := range o.cfg.Sections {
		var sec types.ReportSection
		ok, err := o.store.Get(sess.ID, session.KeySections+name, &sec)
		if err != nil {
			return types.Report{}, err
		}
		if !ok {
			return types.Report{}, fmt.Errorf("section %q was never written", name)
		}
		report.Sections = append(report.Sections, types.ReportSection{Name: name, Content: sec.Content})
	}
	if len(a.limitations) > 0 && !containsID(o.cfg.Sections, types.SectionLimitations) {
		var b strings.Builder
		for _, l := range a.limitations {
			fmt.Fprintf(&b, "- %s\n", l)
		}
		report.Sections = append(report.Sections, types.ReportSection{
			Name:    types.SectionLimitations,
			Content: strings.TrimRight(b.String(), "\n"),
		})
	}

	ids := make([]string, 0, len(a.subTopics))
	for _, st := range a.subTopics {
		ids = append(ids, st.ID)
	}
	report.Metadata = types.ReportMetadata{
		SessionID:             sess.ID,
		Query:                 sess.Query,
		RevisionCount:         sess.RevisionCount,
		MaxRevisions:          o.cfg.MaxRevisions,
		SubTopicsAttempted:    ids,
		InsufficientSubTopics: a.insufficient,
		ForcedApproval:        a.forced,
		FinalVerdict:          a.verdict.Verdict,
		QualityScore:          a.verdict.QualityScore,
		PapersAvailable:       a.available,
		PapersUnavailable:     a.unavailable,
		Limitations:           a.limitations,
		GeneratedAt:           o.now().UTC(),
	}
	return report, nil
}

func containsID(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
