// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package stage

import (
	"bytes"
	"fmt"
	"text/template"
)

// systemPrompts holds the instructions sent with each request kind. Each one
// fixes the JSON schema the invoker validates against.
var systemPrompts = map[Kind]string{
	KindPlan: `You are a research planner. Break the research query in the input into 1 to 3 focused sub-topics (never more than 5).

Respond with a JSON object:
{"approach": "focused_deep_dive | comparative_analysis | comprehensive_survey",
 "sub_topics": [{"id": "st-1", "description": "1-2 sentences on what to investigate", "priority": 1,
   "suggested_keywords": ["3-5 search keywords"], "success_criterion": "measurable target for paper quantity and quality",
   "search_guidance": {"focus_on": ["aspects to emphasize"], "must_include": ["terms papers must contain"], "avoid": ["out of scope terms"]}}]}

Priorities run from 1 (highest) to 3. Do not include any text outside the JSON object.`,

	KindAnalyze: `You are a research analyst. The input holds one sub-topic and the extracted text of the papers found for it. Read every document and report what each contributes, then synthesize across them. Use only the documents supplied; if "focus" is set, give it particular attention.

Respond with a JSON object:
{"per_paper_findings": {"<document id>": {"summary": "what this paper shows", "key_points": ["point"]}},
 "cross_paper_synthesis": "agreements, contradictions and open questions across the papers"}

Keys of per_paper_findings must be document ids from the input. Do not include any text outside the JSON object.`,

	KindCritique: `You are a research critic. Judge whether the analyses in the input answer the query: completeness, accuracy, balance, depth and currency.

Respond with a JSON object:
{"verdict": "approved | revise | insufficient", "quality_score": 0.0,
 "required_revisions": [{"sub_topic_id": "st-1", "action": "search_more | re_analyze", "reason": "why",
   "query": "for search_more: what to search for", "focus": "for re_analyze: what to focus on"}],
 "assessment": "brief summary of research quality"}

Approve when quality_score is at least 0.75 and every sub-topic is adequately covered. Use revise with specific revisions when more work on named sub-topics would fix the gaps. Use insufficient when the gaps cannot be fixed by more searching or analysis. Do not include any text outside the JSON object.`,

	KindSection: `You are a research report writer. Write the report section named in "section" from the sub-topics and analyses in the input, in Markdown prose without a top-level heading. Cite papers by their ids in square brackets. Mention the listed limitations where they affect the conclusions.

Respond with a JSON object: {"content": "the section text"}. Do not include any text outside the JSON object.`,
}

var userPromptTmpl = template.Must(template.New("user").Parse(`{{if .CorrectionHint}}Your previous response could not be used: {{.CorrectionHint}}

{{end}}Input:
{{printf "%s" .Input}}
`))

// RenderPrompt returns the system instruction and user message for req.
func RenderPrompt(req Request) (system, user string, err error) {
	system, ok := systemPrompts[req.Kind]
	if !ok {
		return "", "", fmt.Errorf("no prompt for stage kind %q", req.Kind)
	}
	var buf bytes.Buffer
	if err := userPromptTmpl.Execute(&buf, req); err != nil {
		return "", "", fmt.Errorf("rendering %s prompt: %w", req.Kind, err)
	}
	return system, buf.String(), nil
}
