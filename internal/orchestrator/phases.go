// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/deep-research/internal/session"
	"github.com/pdiddy/deep-research/internal/stage"
	"github.com/pdiddy/deep-research/pkg/types"
)

func (o *Orchestrator) plan(ctx context.Context, sess types.Session) (types.Phase, string, error) {
	plan, out, err := o.stages.Plan(ctx, stage.PlanInput{Query: sess.Query})
	if err != nil {
		return "", "", fmt.Errorf("planning: %w", err)
	}
	if len(plan.SubTopics) == 0 {
		plan = stage.FallbackPlan(sess.Query)
	}
	if err := o.store.Set(sess.ID, types.PhasePlanning, session.KeyPlan, plan); err != nil {
		return "", "", err
	}
	if err := o.store.Set(sess.ID, types.PhasePlanning, session.KeySubTopics, plan.SubTopics); err != nil {
		return "", "", err
	}
	if out.Fallback {
		if err := o.addNotes(sess.ID, types.PhasePlanning,
			fmt.Sprintf("Planning output was unusable (%s); the query was researched as a single sub-topic.", out.LastError)); err != nil {
			return "", "", err
		}
	}
	return types.PhaseSearching, reasonPlanReady, nil
}

// searchPhase discovers papers for every in-scope sub-topic and acquires
// their documents. In a revision pass only the sub-topics named for
// search_more are in scope, searched with the critic's query first.
func (o *Orchestrator) searchPhase(ctx context.Context, sess types.Session) (types.Phase, string, error) {
	sts, err := o.subTopics(sess.ID)
	if err != nil {
		return "", "", err
	}
	scope := sts
	queries := make(map[string]string)
	if sess.RevisionCount > 0 {
		rp, err := o.revisionPlan(sess.ID)
		if err != nil {
			return "", "", err
		}
		ids := make(map[string]bool)
		for _, r := range rp.SearchMore {
			ids[r.SubTopicID] = true
			if r.Query != "" {
				queries[r.SubTopicID] = r.Query
			}
		}
		scope = filterSubTopics(sts, ids)
	}

	var notes []string
	found := make(map[string][]types.Paper, len(scope))
	traces := make(map[string][]types.Discovery, len(scope))
	for _, st := range scope {
		q := st
		if extra, ok := queries[st.ID]; ok {
			q.SuggestedKeywords = append([]string{extra}, st.SuggestedKeywords...)
		}
		d, err := o.search.Discover(ctx, q)
		if err != nil {
			if ctx.Err() != nil {
				return "", "", ctx.Err()
			}
			notes = append(notes, fmt.Sprintf("Discovery for sub-topic %s failed: %v.", st.ID, err))
			d = types.Discovery{SubTopicID: st.ID, Empty: true}
		}
		for _, e := range d.BackendErrors {
			notes = append(notes, fmt.Sprintf("Sub-topic %s: search source error: %s.", st.ID, e))
		}
		if d.Empty && len(d.AttemptedQueries) > 0 {
			notes = append(notes, fmt.Sprintf("Sub-topic %s: no papers found; queries tried: %s.", st.ID, strings.Join(d.AttemptedQueries, "; ")))
		}

		var prior []types.Paper
		if _, err := o.store.Get(sess.ID, session.KeyPapers+st.ID, &prior); err != nil {
			return "", "", err
		}
		found[st.ID] = mergePapers(prior, d.Papers)

		var trace []types.Discovery
		if _, err := o.store.Get(sess.ID, session.KeySearchTrace+st.ID, &trace); err != nil {
			return "", "", err
		}
		d.Papers = nil
		traces[st.ID] = append(trace, d)
	}

	if err := o.acquireAll(ctx, scope, found); err != nil {
		return "", "", fmt.Errorf("acquiring documents: %w", err)
	}

	for _, st := range scope {
		if err := o.store.Set(sess.ID, types.PhaseSearching, session.KeyPapers+st.ID, found[st.ID]); err != nil {
			return "", "", err
		}
		if err := o.store.Set(sess.ID, types.PhaseSearching, session.KeySearchTrace+st.ID, traces[st.ID]); err != nil {
			return "", "", err
		}
	}
	if err := o.addNotes(sess.ID, types.PhaseSearching, notes...); err != nil {
		return "", "", err
	}
	return types.PhaseAnalyzing, reasonSearchComplete, nil
}

// acquireAll runs the document cache for every paper that has not been
// processed yet, bounded by MaxConcurrentAcquisitions. All acquisitions
// join before it returns.
func (o *Orchestrator) acquireAll(ctx context.Context, scope []types.SubTopic, found map[string][]types.Paper) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.MaxConcurrentAcquisitions)
	for _, st := range scope {
		papers := found[st.ID]
		for i := range papers {
			p := &papers[i]
			if p.Status == types.PaperAvailable || p.Status == types.PaperUnavailable {
				continue
			}
			g.Go(func() error {
				_, err := o.docs.AcquirePaper(gctx, p)
				return err
			})
		}
	}
	return g.Wait()
}

// analyze writes an analysis for every in-scope sub-topic. In a revision
// pass the scope is the sub-topics named in the revision plan.
func (o *Orchestrator) analyze(ctx context.Context, sess types.Session) (types.Phase, string, error) {
	sts, err := o.subTopics(sess.ID)
	if err != nil {
		return "", "", err
	}
	scope := sts
	focus := make(map[string]string)
	if sess.RevisionCount > 0 {
		rp, err := o.revisionPlan(sess.ID)
		if err != nil {
			return "", "", err
		}
		ids := make(map[string]bool)
		for _, r := range append(append([]types.RevisionAction(nil), rp.SearchMore...), rp.ReAnalyze...) {
			ids[r.SubTopicID] = true
			if r.Focus != "" {
				focus[r.SubTopicID] = r.Focus
			}
		}
		scope = filterSubTopics(sts, ids)
	}

	var notes []string
	for _, st := range scope {
		var papers []types.Paper
		if _, err := o.store.Get(sess.ID, session.KeyPapers+st.ID, &papers); err != nil {
			return "", "", err
		}
		docs, unavailable, err := o.documents(ctx, papers)
		if err != nil {
			return "", "", err
		}

		a, out, err := o.stages.Analyze(ctx, stage.AnalyzeInput{
			Query:       sess.Query,
			SubTopic:    st,
			Documents:   docs,
			Unavailable: unavailable,
			Focus:       focus[st.ID],
		})
		if err != nil {
			return "", "", fmt.Errorf("analyzing sub-topic %s: %w", st.ID, err)
		}
		a.SubTopicID = st.ID
		a.Cycle = sess.RevisionCount
		if out.Fallback {
			notes = append(notes, fmt.Sprintf("Analysis output for sub-topic %s was unusable (%s); a placeholder analysis was used.", st.ID, out.LastError))
		}
		if err := o.store.Set(sess.ID, types.PhaseAnalyzing, session.KeyAnalyses+st.ID, a); err != nil {
			return "", "", err
		}
	}
	if err := o.addNotes(sess.ID, types.PhaseAnalyzing, notes...); err != nil {
		return "", "", err
	}

	next, reason := afterAnalysis(sess.RevisionCount, o.cfg.MaxRevisions)
	return next, reason, nil
}

// documents loads the content of available papers from the cache and lists
// the papers without content.
func (o *Orchestrator) documents(ctx context.Context, papers []types.Paper) ([]stage.Document, []string, error) {
	var docs []stage.Document
	var unavailable []string
	for _, p := range papers {
		if !p.Available() {
			unavailable = append(unavailable, paperLabel(p))
			continue
		}
		ref := p.CacheKey
		if ref == "" {
			ref = p.SourceRef
		}
		entry, err := o.docs.Acquire(ctx, ref)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			o.logger.Warn("cached document unreadable", zap.String("paper", p.NormalizedID), zap.Error(err))
			unavailable = append(unavailable, paperLabel(p))
			continue
		}
		doc := stage.Document{
			ID:      p.NormalizedID,
			Title:   p.Title,
			Authors: p.Authors,
			Content: truncateUTF8(entry.Content, o.cfg.MaxDocumentChars),
		}
		if !p.Date.IsZero() {
			doc.Year = p.Date.Year()
		}
		docs = append(docs, doc)
	}
	return docs, unavailable, nil
}

func (o *Orchestrator) critique(ctx context.Context, sess types.Session) (types.Phase, string, error) {
	sts, err := o.subTopics(sess.ID)
	if err != nil {
		return "", "", err
	}
	analyses, err := o.analyses(sess.ID, sts)
	if err != nil {
		return "", "", err
	}

	v, out, err := o.stages.Critique(ctx, stage.CritiqueInput{
		Query:         sess.Query,
		SubTopics:     sts,
		Analyses:      analyses,
		RevisionCount: sess.RevisionCount,
		MaxRevisions:  o.cfg.MaxRevisions,
	})
	if err != nil {
		return "", "", fmt.Errorf("critiquing: %w", err)
	}

	var history []types.CritiqueVerdict
	if _, err := o.store.Get(sess.ID, session.KeyCritiqueHistory, &history); err != nil {
		return "", "", err
	}
	history = append(history, v)
	if err := o.store.Set(sess.ID, types.PhaseCritiquing, session.KeyCritiqueHistory, history); err != nil {
		return "", "", err
	}
	if err := o.store.Set(sess.ID, types.PhaseCritiquing, session.KeyCritiqueVerdict, v); err != nil {
		return "", "", err
	}
	if out.Fallback {
		if err := o.addNotes(sess.ID, types.PhaseCritiquing,
			fmt.Sprintf("Critique output was unusable (%s); coverage was treated as insufficient.", out.LastError)); err != nil {
			return "", "", err
		}
	}

	next, reason := decide(v, sess.RevisionCount, o.cfg.MaxRevisions, knownIDs(sts))
	return next, reason, nil
}

// revise records the revision plan for the next cycle and increments the
// revision count.
func (o *Orchestrator) revise(_ context.Context, sess types.Session) (types.Phase, string, error) {
	if sess.RevisionCount >= o.cfg.MaxRevisions {
		return types.PhaseReporting, reasonLimitReached, nil
	}
	sts, err := o.subTopics(sess.ID)
	if err != nil {
		return "", "", err
	}
	var v types.CritiqueVerdict
	if _, err := o.store.Get(sess.ID, session.KeyCritiqueVerdict, &v); err != nil {
		return "", "", err
	}

	rp := planRevision(v, sess.RevisionCount+1, knownIDs(sts))
	if len(rp.SearchMore)+len(rp.ReAnalyze) == 0 {
		return types.PhaseReporting, reasonNoTargets, nil
	}
	if err := o.store.Set(sess.ID, types.PhaseRevising, session.KeyRevisionPlan, rp); err != nil {
		return "", "", err
	}
	if _, err := o.store.UpdateSession(sess.ID, func(s *types.Session) { s.RevisionCount = rp.Cycle }); err != nil {
		return "", "", err
	}
	if len(rp.SearchMore) > 0 {
		return types.PhaseSearching, reasonResearch, nil
	}
	return types.PhaseAnalyzing, reasonReanalyze, nil
}

// writeSections asks for every template section that has not been written.
func (o *Orchestrator) writeSections(ctx context.Context, sess types.Session) (types.Phase, string, error) {
	a, err := o.assess(sess)
	if err != nil {
		return "", "", err
	}
	var plan types.ResearchPlan
	if _, err := o.store.Get(sess.ID, session.KeyPlan, &plan); err != nil {
		return "", "", err
	}

	var notes []string
	for _, name := range o.cfg.Sections {
		key := session.KeySections + name
		var existing types.ReportSection
		ok, err := o.store.Get(sess.ID, key, &existing)
		if err != nil {
			return "", "", err
		}
		if ok {
			continue
		}

		sec, out, err := o.stages.WriteSection(ctx, stage.SectionInput{
			Query:       sess.Query,
			Section:     name,
			Approach:    plan.Approach,
			SubTopics:   a.subTopics,
			Analyses:    a.analysisList(),
			Assessment:  a.verdict.Assessment,
			Limitations: a.limitations,
		})
		if err != nil {
			return "", "", fmt.Errorf("writing section %q: %w", name, err)
		}
		sec.Name = name
		if out.Fallback {
			notes = append(notes, fmt.Sprintf("The %s section could not be generated (%s); a placeholder was used.", name, out.LastError))
		}
		if err := o.store.Set(sess.ID, types.PhaseReporting, key, sec); err != nil {
			return "", "", err
		}
	}
	if err := o.addNotes(sess.ID, types.PhaseReporting, notes...); err != nil {
		return "", "", err
	}

	keys, err := o.store.Keys(sess.ID, session.KeySections)
	if err != nil {
		return "", "", err
	}
	have := make(map[string]bool, len(keys))
	for _, k := range keys {
		have[strings.TrimPrefix(k, session.KeySections)] = true
	}
	for _, name := range o.cfg.Sections {
		if !have[name] {
			return "", "", fmt.Errorf("section %q missing after reporting", name)
		}
	}
	return types.PhaseFinalizing, reasonSectionsWritten, nil
}

func (o *Orchestrator) finalize(_ context.Context, sess types.Session) (types.Phase, string, error) {
	report, err := o.assemble(sess)
	if err != nil {
		return "", "", err
	}
	if err := o.store.Set(sess.ID, types.PhaseFinalizing, session.KeyReport, report); err != nil {
		return "", "", err
	}
	return types.PhaseDone, reasonFinalized, nil
}

func (o *Orchestrator) subTopics(id string) ([]types.SubTopic, error) {
	var sts []types.SubTopic
	ok, err := o.store.Get(id, session.KeySubTopics, &sts)
	if err != nil {
		return nil, err
	}
	if !ok || len(sts) == 0 {
		return nil, fmt.Errorf("session %s has no sub-topics", id)
	}
	return sts, nil
}

func (o *Orchestrator) revisionPlan(id string) (types.RevisionPlan, error) {
	var rp types.RevisionPlan
	ok, err := o.store.Get(id, session.KeyRevisionPlan, &rp)
	if err != nil {
		return rp, err
	}
	if !ok {
		return rp, fmt.Errorf("session %s has no revision plan", id)
	}
	return rp, nil
}

func (o *Orchestrator) analyses(id string, sts []types.SubTopic) ([]types.Analysis, error) {
	var out []types.Analysis
	for _, st := range sts {
		var a types.Analysis
		ok, err := o.store.Get(id, session.KeyAnalyses+st.ID, &a)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, a)
		}
	}
	return out, nil
}

// addNotes appends degradation notes for phase p.
func (o *Orchestrator) addNotes(id string, p types.Phase, notes ...string) error {
	if len(notes) == 0 {
		return nil
	}
	var existing []string
	if _, err := o.store.Get(id, session.NotesKey(p), &existing); err != nil {
		return err
	}
	return o.store.Set(id, p, session.NotesKey(p), append(existing, notes...))
}

// mergePapers appends newly found papers to the prior selection. Prior
// papers keep their status.
func mergePapers(prior, fresh []types.Paper) []types.Paper {
	seen := make(map[string]bool, len(prior))
	out := append([]types.Paper(nil), prior...)
	for _, p := range prior {
		seen[p.NormalizedID] = true
	}
	for _, p := range fresh {
		if seen[p.NormalizedID] {
			continue
		}
		seen[p.NormalizedID] = true
		out = append(out, p)
	}
	return out
}

func filterSubTopics(sts []types.SubTopic, ids map[string]bool) []types.SubTopic {
	var out []types.SubTopic
	for _, st := range sts {
		if ids[st.ID] {
			out = append(out, st)
		}
	}
	return out
}

func knownIDs(sts []types.SubTopic) map[string]bool {
	known := make(map[string]bool, len(sts))
	for _, st := range sts {
		known[st.ID] = true
	}
	return known
}

func paperLabel(p types.Paper) string {
	label := p.Title
	if label == "" {
		label = p.NormalizedID
	}
	if p.UnavailableReason != "" {
		label += " (" + p.UnavailableReason + ")"
	}
	return label
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
