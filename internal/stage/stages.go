// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package stage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/pdiddy/deep-research/pkg/types"
)

const maxSubTopics = 5

// actionAliases maps alternative action spellings to revision kinds.
var actionAliases = map[string]types.RevisionKind{
	"search_more":        types.ActionSearchMore,
	"search_more_papers": types.ActionSearchMore,
	"re_analyze":         types.ActionReAnalyze,
	"reanalyze":          types.ActionReAnalyze,
}

// PlanInput is the planning stage payload.
type PlanInput struct {
	Query string `json:"query"`
}

// Document is one paper's extracted content handed to analysis.
type Document struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Authors []string `json:"authors,omitempty"`
	Year    int      `json:"year,omitempty"`
	Content string   `json:"content"`
}

// AnalyzeInput is the analysis stage payload for one sub-topic.
type AnalyzeInput struct {
	Query       string         `json:"query"`
	SubTopic    types.SubTopic `json:"sub_topic"`
	Documents   []Document     `json:"documents"`
	Unavailable []string       `json:"unavailable,omitempty"`

	// Focus carries the critic's additional focus for a re-analysis.
	Focus string `json:"focus,omitempty"`
}

// CritiqueInput is the critique stage payload.
type CritiqueInput struct {
	Query         string           `json:"query"`
	SubTopics     []types.SubTopic `json:"sub_topics"`
	Analyses      []types.Analysis `json:"analyses"`
	RevisionCount int              `json:"revision_count"`
	MaxRevisions  int              `json:"max_revisions"`
}

// SectionInput is the report-section stage payload.
type SectionInput struct {
	Query       string           `json:"query"`
	Section     string           `json:"section"`
	Approach    string           `json:"approach,omitempty"`
	SubTopics   []types.SubTopic `json:"sub_topics"`
	Analyses    []types.Analysis `json:"analyses"`
	Assessment  string           `json:"assessment,omitempty"`
	Limitations []string         `json:"limitations,omitempty"`
}

// Plan asks the collaborator to split the query into sub-topics. The
// fallback is a single sub-topic equal to the query.
func (inv *Invoker) Plan(ctx context.Context, in PlanInput) (types.ResearchPlan, Outcome, error) {
	plan, out, err := invoke(ctx, inv, KindPlan, in, func(p *types.ResearchPlan) error {
		return normalizePlan(p, inv.logger)
	})
	if err != nil {
		return types.ResearchPlan{}, out, err
	}
	if out.Fallback {
		plan = FallbackPlan(in.Query)
	}
	return plan, out, nil
}

// FallbackPlan is the single sub-topic plan used when planning output is unusable.
func FallbackPlan(query string) types.ResearchPlan {
	return types.ResearchPlan{
		Approach: "focused_deep_dive",
		SubTopics: []types.SubTopic{{
			ID:                "st-1",
			Description:       query,
			Priority:          1,
			SuggestedKeywords: []string{query},
			SuccessCriterion:  "relevant papers found for the query",
		}},
	}
}

func normalizePlan(p *types.ResearchPlan, logger *zap.Logger) error {
	if len(p.SubTopics) == 0 {
		return errors.New("plan has no sub_topics")
	}
	if len(p.SubTopics) > maxSubTopics {
		logger.Info("truncating plan", zap.Int("sub_topics", len(p.SubTopics)))
		p.SubTopics = p.SubTopics[:maxSubTopics]
	}
	seen := make(map[string]bool, len(p.SubTopics))
	for i := range p.SubTopics {
		st := &p.SubTopics[i]
		st.Description = strings.TrimSpace(st.Description)
		if st.Description == "" {
			return fmt.Errorf("sub_topics[%d]: empty description", i)
		}
		st.ID = strings.TrimSpace(st.ID)
		if st.ID == "" {
			st.ID = fmt.Sprintf("st-%d", i+1)
		}
		if seen[st.ID] {
			return fmt.Errorf("sub_topics[%d]: duplicate id %q", i, st.ID)
		}
		seen[st.ID] = true
		if st.Priority <= 0 {
			st.Priority = i + 1
		}
		st.SuggestedKeywords = trimAll(st.SuggestedKeywords)
	}
	return nil
}

type analyzeResponse struct {
	PerPaperFindings    map[string]types.Finding `json:"per_paper_findings"`
	CrossPaperSynthesis string                   `json:"cross_paper_synthesis"`
}

// Analyze asks the collaborator for findings on one sub-topic. Findings for
// papers that were not supplied are discarded. With no documents the call is
// skipped and an evidence-absent analysis is returned.
func (inv *Invoker) Analyze(ctx context.Context, in AnalyzeInput) (types.Analysis, Outcome, error) {
	if len(in.Documents) == 0 {
		return EmptyAnalysis(in.SubTopic.ID), Outcome{}, nil
	}

	known := make(map[string]bool, len(in.Documents))
	for _, d := range in.Documents {
		known[d.ID] = true
	}

	resp, out, err := invoke(ctx, inv, KindAnalyze, in, func(r *analyzeResponse) error {
		r.CrossPaperSynthesis = strings.TrimSpace(r.CrossPaperSynthesis)
		if r.CrossPaperSynthesis == "" {
			return errors.New("cross_paper_synthesis is empty")
		}
		for id := range r.PerPaperFindings {
			if !known[id] {
				inv.logger.Debug("dropping finding for unknown paper", zap.String("paper", id))
				delete(r.PerPaperFindings, id)
			}
		}
		return nil
	})
	if err != nil {
		return types.Analysis{}, out, err
	}
	if out.Fallback {
		return FallbackAnalysis(in.SubTopic.ID), out, nil
	}
	if resp.PerPaperFindings == nil {
		resp.PerPaperFindings = map[string]types.Finding{}
	}
	return types.Analysis{
		SubTopicID:          in.SubTopic.ID,
		PerPaperFindings:    resp.PerPaperFindings,
		CrossPaperSynthesis: resp.CrossPaperSynthesis,
	}, out, nil
}

// EmptyAnalysis records that no evidence was available for a sub-topic.
func EmptyAnalysis(subTopicID string) types.Analysis {
	return types.Analysis{
		SubTopicID:          subTopicID,
		PerPaperFindings:    map[string]types.Finding{},
		CrossPaperSynthesis: "No source documents were available for this sub-topic; evidence is absent.",
		EvidenceAbsent:      true,
	}
}

// FallbackAnalysis is used when analysis output is unusable.
func FallbackAnalysis(subTopicID string) types.Analysis {
	return types.Analysis{
		SubTopicID:          subTopicID,
		PerPaperFindings:    map[string]types.Finding{},
		CrossPaperSynthesis: "Automated analysis was unavailable for this sub-topic.",
	}
}

type critiqueResponse struct {
	Verdict           string  `json:"verdict"`
	QualityScore      float64 `json:"quality_score"`
	RequiredRevisions []struct {
		SubTopicID string `json:"sub_topic_id"`
		Target     string `json:"target"`
		Action     string `json:"action"`
		Reason     string `json:"reason"`
		Query      string `json:"query"`
		Focus      string `json:"focus"`
	} `json:"required_revisions"`
	Assessment string `json:"assessment"`
}

// Critique asks the collaborator to judge the analyses. The fallback verdict
// is insufficient with score zero and no revisions.
func (inv *Invoker) Critique(ctx context.Context, in CritiqueInput) (types.CritiqueVerdict, Outcome, error) {
	var verdict types.CritiqueVerdict
	_, out, err := invoke(ctx, inv, KindCritique, in, func(r *critiqueResponse) error {
		v, err := toVerdict(r)
		if err != nil {
			return err
		}
		verdict = v
		return nil
	})
	if err != nil {
		return types.CritiqueVerdict{}, out, err
	}
	if out.Fallback {
		return FallbackVerdict(), out, nil
	}
	return verdict, out, nil
}

// FallbackVerdict is used when critique output is unusable.
func FallbackVerdict() types.CritiqueVerdict {
	return types.CritiqueVerdict{
		Verdict:    types.VerdictInsufficient,
		Assessment: "Automated critique was unavailable.",
	}
}

func toVerdict(r *critiqueResponse) (types.CritiqueVerdict, error) {
	v := types.CritiqueVerdict{
		Verdict:      types.Verdict(strings.ToLower(strings.TrimSpace(r.Verdict))),
		QualityScore: r.QualityScore,
		Assessment:   strings.TrimSpace(r.Assessment),
	}
	switch v.Verdict {
	case types.VerdictApproved, types.VerdictRevise, types.VerdictInsufficient:
	default:
		return v, fmt.Errorf("unknown verdict %q", r.Verdict)
	}
	if v.QualityScore < 0 || v.QualityScore > 1 {
		return v, fmt.Errorf("quality_score %f out of range [0,1]", v.QualityScore)
	}
	for i, rr := range r.RequiredRevisions {
		kind, ok := actionAliases[strings.ToLower(strings.TrimSpace(rr.Action))]
		if !ok {
			return v, fmt.Errorf("required_revisions[%d]: unknown action %q", i, rr.Action)
		}
		id := strings.TrimSpace(rr.SubTopicID)
		if id == "" {
			id = strings.TrimSpace(rr.Target)
		}
		if id == "" {
			return v, fmt.Errorf("required_revisions[%d]: missing sub_topic_id", i)
		}
		v.RequiredRevisions = append(v.RequiredRevisions, types.RevisionAction{
			SubTopicID: id,
			Action:     kind,
			Reason:     strings.TrimSpace(rr.Reason),
			Query:      strings.TrimSpace(rr.Query),
			Focus:      strings.TrimSpace(rr.Focus),
		})
	}
	return v, nil
}

type sectionResponse struct {
	Content string `json:"content"`
}

// WriteSection asks the collaborator for one report section. The fallback is
// a placeholder paragraph.
func (inv *Invoker) WriteSection(ctx context.Context, in SectionInput) (types.ReportSection, Outcome, error) {
	resp, out, err := invoke(ctx, inv, KindSection, in, func(r *sectionResponse) error {
		r.Content = strings.TrimSpace(r.Content)
		if r.Content == "" {
			return errors.New("content is empty")
		}
		return nil
	})
	if err != nil {
		return types.ReportSection{}, out, err
	}
	if out.Fallback {
		return FallbackSection(in.Section), out, nil
	}
	return types.ReportSection{Name: in.Section, Content: resp.Content}, out, nil
}

// FallbackSection is used when section output is unusable.
func FallbackSection(name string) types.ReportSection {
	return types.ReportSection{
		Name:    name,
		Content: fmt.Sprintf("The %s section could not be generated automatically.", strings.ToLower(name)),
	}
}

func trimAll(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
