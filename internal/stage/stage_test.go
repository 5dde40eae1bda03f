// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package stage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/deep-research/pkg/types"
)

func init() {
	backoffBase = time.Millisecond
}

// scripted answers each call with the next step. A step with a non-nil err
// simulates a transient failure.
type scripted struct {
	mu       sync.Mutex
	steps    []step
	requests []Request
}

type step struct {
	text string
	err  error
}

func (s *scripted) Complete(_ context.Context, req Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.steps) == 0 {
		return "", errors.New("script exhausted")
	}
	st := s.steps[0]
	if len(s.steps) > 1 {
		s.steps = s.steps[1:]
	}
	return st.text, st.err
}

func reply(texts ...string) *scripted {
	s := &scripted{}
	for _, t := range texts {
		s.steps = append(s.steps, step{text: t})
	}
	return s
}

func newInvoker(c Collaborator) *Invoker {
	return New(c, types.StageConfig{Timeout: time.Second})
}

const validPlan = "```json\n" + `{"approach": "comparative_analysis", "sub_topics": [
  {"description": "Positional encodings for long context", "suggested_keywords": ["rope", " ", "alibi"]},
  {"id": "kv", "description": "KV cache compression", "priority": 2}]}` + "\n```"

func TestPlanParsesFencedJSON(t *testing.T) {
	inv := newInvoker(reply(validPlan))

	plan, out, err := inv.Plan(context.Background(), PlanInput{Query: "long context transformers"})
	require.NoError(t, err)
	assert.Equal(t, Outcome{Calls: 1}, out)
	assert.Equal(t, "comparative_analysis", plan.Approach)
	require.Len(t, plan.SubTopics, 2)
	assert.Equal(t, "st-1", plan.SubTopics[0].ID)
	assert.Equal(t, 1, plan.SubTopics[0].Priority)
	assert.Equal(t, []string{"rope", "alibi"}, plan.SubTopics[0].SuggestedKeywords)
	assert.Equal(t, "kv", plan.SubTopics[1].ID)
	assert.Equal(t, 2, plan.SubTopics[1].Priority)
}

func TestPlanFallsBackAfterTwoMalformedResponses(t *testing.T) {
	collab := reply("I think the sub-topics are...", `{"sub_topics": []}`)
	inv := newInvoker(collab)

	plan, out, err := inv.Plan(context.Background(), PlanInput{Query: "quantum error correction"})
	require.NoError(t, err)
	assert.True(t, out.Fallback)
	assert.Equal(t, 2, out.Calls)
	assert.Equal(t, 2, out.Malformed)
	assert.Contains(t, out.LastError, "no sub_topics")
	assert.Equal(t, FallbackPlan("quantum error correction"), plan)
	require.Len(t, plan.SubTopics, 1)
	assert.Equal(t, "quantum error correction", plan.SubTopics[0].Description)

	require.Len(t, collab.requests, 2)
	assert.Empty(t, collab.requests[0].CorrectionHint)
	assert.Equal(t, 1, collab.requests[0].Attempt)
	assert.Contains(t, collab.requests[1].CorrectionHint, "no JSON object")
	assert.Equal(t, 2, collab.requests[1].Attempt)
	assert.JSONEq(t, `{"query": "quantum error correction"}`, string(collab.requests[1].Input))
}

func TestMalformedThenValid(t *testing.T) {
	inv := newInvoker(reply(`{"content": ""}`, `{"content": "Transformers dominate."}`))

	sec, out, err := inv.WriteSection(context.Background(), SectionInput{Section: types.SectionConclusion})
	require.NoError(t, err)
	assert.Equal(t, Outcome{Calls: 2, Malformed: 1, LastError: "content is empty"}, out)
	assert.Equal(t, types.ReportSection{Name: types.SectionConclusion, Content: "Transformers dominate."}, sec)
}

func TestTransientFailuresAreRetried(t *testing.T) {
	collab := &scripted{steps: []step{
		{err: errors.New("HTTP 503")},
		{err: errors.New("HTTP 503")},
		{text: `{"content": "ok"}`},
	}}
	inv := newInvoker(collab)

	_, out, err := inv.WriteSection(context.Background(), SectionInput{Section: "Introduction"})
	require.NoError(t, err)
	assert.Equal(t, 3, out.Calls)
	assert.False(t, out.Fallback)
}

func TestTransientExhaustionIsFatal(t *testing.T) {
	collab := &scripted{steps: []step{{err: errors.New("connection reset")}}}
	inv := newInvoker(collab)

	_, out, err := inv.Plan(context.Background(), PlanInput{Query: "q"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCollaboratorUnavailable)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, 3, out.Calls)
	assert.False(t, out.Fallback)
}

func TestMaxAttemptsConfigurable(t *testing.T) {
	collab := &scripted{steps: []step{{err: errors.New("boom")}}}
	inv := New(collab, types.StageConfig{AIConfig: types.AIConfig{MaxAttempts: 5}, Timeout: time.Second})

	_, out, err := inv.Plan(context.Background(), PlanInput{Query: "q"})
	assert.ErrorIs(t, err, ErrCollaboratorUnavailable)
	assert.Equal(t, 5, out.Calls)
}

type hanging struct{}

func (hanging) Complete(ctx context.Context, _ Request) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestPerCallTimeoutIsTransient(t *testing.T) {
	inv := New(hanging{}, types.StageConfig{Timeout: 10 * time.Millisecond})

	_, out, err := inv.Critique(context.Background(), CritiqueInput{Query: "q"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCollaboratorUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 3, out.Calls)
}

func TestCancelledContextStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	collab := reply(`{"content": "x"}`)
	inv := newInvoker(collab)

	_, out, err := inv.WriteSection(ctx, SectionInput{Section: "Introduction"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrCollaboratorUnavailable)
	assert.Equal(t, 0, out.Calls)
	assert.Empty(t, collab.requests)
}

func TestAnalyze(t *testing.T) {
	st := types.SubTopic{ID: "st-1", Description: "rope"}
	docs := []Document{{ID: "arxiv:2104.09864", Title: "RoFormer", Content: "rotary embeddings"}}

	t.Run("no documents skips the call", func(t *testing.T) {
		collab := reply(`{}`)
		a, out, err := newInvoker(collab).Analyze(context.Background(), AnalyzeInput{SubTopic: st})
		require.NoError(t, err)
		assert.Equal(t, 0, out.Calls)
		assert.True(t, a.EvidenceAbsent)
		assert.Equal(t, "st-1", a.SubTopicID)
		assert.Empty(t, collab.requests)
	})

	t.Run("unknown paper findings are dropped", func(t *testing.T) {
		collab := reply(`{"per_paper_findings": {
			"arxiv:2104.09864": {"summary": "introduces RoPE", "key_points": ["relative positions"]},
			"arxiv:9999.99999": {"summary": "hallucinated"}},
			"cross_paper_synthesis": " RoPE generalizes. "}`)
		a, out, err := newInvoker(collab).Analyze(context.Background(), AnalyzeInput{SubTopic: st, Documents: docs})
		require.NoError(t, err)
		assert.Equal(t, 1, out.Calls)
		assert.Equal(t, "st-1", a.SubTopicID)
		assert.Equal(t, "RoPE generalizes.", a.CrossPaperSynthesis)
		assert.Equal(t, map[string]types.Finding{
			"arxiv:2104.09864": {Summary: "introduces RoPE", KeyPoints: []string{"relative positions"}},
		}, a.PerPaperFindings)
	})

	t.Run("empty synthesis falls back", func(t *testing.T) {
		collab := reply(`{"per_paper_findings": {}, "cross_paper_synthesis": ""}`)
		a, out, err := newInvoker(collab).Analyze(context.Background(), AnalyzeInput{SubTopic: st, Documents: docs})
		require.NoError(t, err)
		assert.True(t, out.Fallback)
		assert.Equal(t, FallbackAnalysis("st-1"), a)
		assert.False(t, a.EvidenceAbsent)
	})
}

func TestCritique(t *testing.T) {
	tests := []struct {
		name     string
		texts    []string
		want     types.CritiqueVerdict
		fallback bool
	}{
		{
			name:  "approved",
			texts: []string{`{"verdict": "approved", "quality_score": 0.82, "assessment": "good"}`},
			want:  types.CritiqueVerdict{Verdict: types.VerdictApproved, QualityScore: 0.82, Assessment: "good"},
		},
		{
			name: "revise with aliases",
			texts: []string{`{"verdict": "REVISE", "quality_score": 0.5, "required_revisions": [
				{"target": "st-2", "action": "search_more_papers", "reason": "thin", "query": "kv cache quantization"},
				{"sub_topic_id": "st-1", "action": "re_analyze", "focus": "benchmarks"}]}`},
			want: types.CritiqueVerdict{
				Verdict:      types.VerdictRevise,
				QualityScore: 0.5,
				RequiredRevisions: []types.RevisionAction{
					{SubTopicID: "st-2", Action: types.ActionSearchMore, Reason: "thin", Query: "kv cache quantization"},
					{SubTopicID: "st-1", Action: types.ActionReAnalyze, Focus: "benchmarks"},
				},
			},
		},
		{
			name: "invalid twice falls back",
			texts: []string{
				`{"verdict": "maybe", "quality_score": 0.5}`,
				`{"verdict": "approved", "quality_score": 7}`,
			},
			want:     FallbackVerdict(),
			fallback: true,
		},
		{
			name:     "unknown action is malformed",
			texts:    []string{`{"verdict": "revise", "quality_score": 0.4, "required_revisions": [{"sub_topic_id": "st-1", "action": "rewrite"}]}`},
			want:     FallbackVerdict(),
			fallback: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, out, err := newInvoker(reply(tt.texts...)).Critique(context.Background(), CritiqueInput{Query: "q"})
			require.NoError(t, err)
			assert.Equal(t, tt.fallback, out.Fallback)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestFallbackVerdictIsInsufficient(t *testing.T) {
	v := FallbackVerdict()
	assert.Equal(t, types.VerdictInsufficient, v.Verdict)
	assert.Zero(t, v.QualityScore)
	assert.Empty(t, v.RequiredRevisions)
}

func TestWriteSectionFallback(t *testing.T) {
	sec, out, err := newInvoker(reply("nope")).WriteSection(context.Background(), SectionInput{Section: types.SectionResearchGaps})
	require.NoError(t, err)
	assert.True(t, out.Fallback)
	assert.Equal(t, types.SectionResearchGaps, sec.Name)
	assert.Contains(t, sec.Content, "research gaps section could not be generated")
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: `{"a": 1}`, want: `{"a": 1}`},
		{in: "```json\n{\"a\": {\"b\": 2}}\n```", want: `{"a": {"b": 2}}`},
		{in: "Here you go: {\"a\": 1} hope it helps", want: `{"a": 1}`},
		{in: "no object", wantErr: true},
		{in: "} backwards {", wantErr: true},
	}
	for _, tt := range tests {
		got, err := extractJSON(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, errNoJSON, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestRenderPrompt(t *testing.T) {
	system, user, err := RenderPrompt(Request{
		Kind:           KindCritique,
		Input:          []byte(`{"query":"q"}`),
		CorrectionHint: "unknown verdict",
	})
	require.NoError(t, err)
	assert.Contains(t, system, `"verdict": "approved | revise | insufficient"`)
	assert.Contains(t, user, "Your previous response could not be used: unknown verdict")
	assert.Contains(t, user, `{"query":"q"}`)

	_, user, err = RenderPrompt(Request{Kind: KindPlan, Input: []byte(`{}`)})
	require.NoError(t, err)
	assert.NotContains(t, user, "previous response")

	_, _, err = RenderPrompt(Request{Kind: "summarize"})
	assert.Error(t, err)
}
