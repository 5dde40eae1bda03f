package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/deep-research/internal/report"
	"github.com/pdiddy/deep-research/internal/search"
	"github.com/pdiddy/deep-research/pkg/types"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// With every search backend disabled the session still completes: each
// sub-topic is reported as evidence-absent.
func TestRunWithFixturesOffline(t *testing.T) {
	dir := t.TempDir()
	fixtures := filepath.Join(dir, "fixtures.yaml")
	writeFile(t, fixtures, `plan:
  - '{"approach": "focused_deep_dive", "sub_topics": [{"id": "st-1", "description": "rotary position embeddings"}]}'
critique:
  - '{"verdict": "approved", "quality_score": 0.8, "assessment": "ok"}'
report_section:
  - '{"content": "Body."}'
`)
	reports := filepath.Join(dir, "reports")
	cfgPath := filepath.Join(dir, "deep-research.yaml")
	writeFile(t, cfgPath, `search:
  enable_arxiv: false
  enable_semantic_scholar: false
  enable_openalex: false
  enable_pubmed: false
cache:
  db_path: `+filepath.Join(dir, "state", "test.db")+`
orchestrator:
  output_dir: `+reports+`
`)

	out, err := execute(t, "run", "--config", cfgPath, "--fixtures", fixtures, "how", "does", "rope", "work")
	require.NoError(t, err)
	assert.Contains(t, out, "planning   -> searching")
	assert.Contains(t, out, "-> done")
	assert.Contains(t, out, "Coverage:  insufficient for st-1")
	assert.NotContains(t, out, "Verdict:")

	entries, err := os.ReadDir(reports)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	sessionDir := filepath.Join(reports, entries[0].Name())

	md, err := report.LoadMetadata(sessionDir)
	require.NoError(t, err)
	assert.Equal(t, "how does rope work", md.Query)
	assert.Equal(t, []string{"st-1"}, md.InsufficientSubTopics)
	assert.FileExists(t, filepath.Join(sessionDir, "report.md"))
	assert.FileExists(t, filepath.Join(sessionDir, "references.bib"))

	out, err = execute(t, "report", "check", sessionDir)
	require.NoError(t, err)
	assert.Contains(t, out, "Session:    "+entries[0].Name())
	assert.Contains(t, out, "Coverage:   insufficient for st-1")
	assert.Contains(t, out, "Citations:  ok")

	out, err = execute(t, "session", "list", "--config", cfgPath, "--json")
	require.NoError(t, err)
	var sessions []types.Session
	require.NoError(t, json.Unmarshal([]byte(out), &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, types.PhaseDone, sessions[0].Phase)
	assert.Equal(t, entries[0].Name(), sessions[0].ID)
}

func TestReportCheckMissingCitation(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sess")
	_, err := report.Write(dir, types.Report{
		Title: "RoPE",
		Query: "rope",
		Sections: []types.ReportSection{
			{Name: types.SectionIntroduction, Content: "Rotary embeddings [arxiv:9999.00001] extend context."},
		},
		Metadata: types.ReportMetadata{SessionID: "sess", Query: "rope", MaxRevisions: 2},
	})
	require.NoError(t, err)

	out, err := execute(t, "report", "check", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "arxiv:9999.00001")
	assert.Contains(t, out, "References: 0")
}

func TestSearchFromTrace(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "deep-research.yaml")
	writeFile(t, cfgPath, `search:
  enable_arxiv: false
  enable_semantic_scholar: false
  enable_openalex: false
  enable_pubmed: false
`)
	tracePath := filepath.Join(dir, "trace.yaml")
	require.NoError(t, search.WriteTraceFile(tracePath, search.TraceFile{
		SubTopic:  types.SubTopic{ID: "st-7", Description: "rotary position embeddings"},
		Discovery: types.Discovery{SubTopicID: "st-7", CandidateCount: 12, Refinements: 1},
	}))

	var stderr bytes.Buffer
	rootCmd.SetOut(io.Discard)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs([]string{"search", "--config", cfgPath, "--from-trace", tracePath})
	err := rootCmd.Execute()

	// The replay reaches discovery, which has no sources enabled here.
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no search backends configured")
	assert.Contains(t, stderr.String(), "Replaying st-7: previously 12 candidates, 0 papers after 1 refinement(s)")

	_, err = execute(t, "search", "--config", cfgPath, "--from-trace", filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading trace file")
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "deep-research dev\n", out)
}

func TestDecodeConfigDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	cfg, err := decodeConfig(v)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Search.LowerBound)
	assert.Equal(t, 50, cfg.Search.UpperBound)
	assert.Equal(t, types.StageGemini, cfg.Stage.Backend)
	assert.Equal(t, 2, cfg.Orchestrator.MaxRevisions)
	assert.Equal(t, defaultUserAgent, cfg.Cache.UserAgent)
	assert.True(t, cfg.Search.EnablePubMed)
	assert.Equal(t, 2*time.Minute, cfg.Cache.FetchTimeout)
	assert.Equal(t, 3, cfg.Stage.MaxAttempts)
}

func TestDecodeConfigEnv(t *testing.T) {
	t.Setenv("DEEP_RESEARCH_SEARCH_TOP_N", "3")
	t.Setenv("DEEP_RESEARCH_STAGE_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "from-gemini-env")
	t.Setenv("DEEP_RESEARCH_ORCHESTRATOR_OUTPUT_DIR", "out")
	t.Setenv("DEEP_RESEARCH_ORCHESTRATOR_MAX_REVISIONS", "0")
	t.Setenv("DEEP_RESEARCH_SEARCH_MAX_REFINEMENTS", "0")
	t.Setenv("DEEP_RESEARCH_STAGE_MAX_ATTEMPTS", "4")

	v := viper.New()
	setDefaults(v)
	bindEnv(v)
	cfg, err := decodeConfig(v)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Search.TopN)
	assert.Equal(t, "from-gemini-env", cfg.Stage.APIKey)
	assert.Equal(t, "out", cfg.Orchestrator.OutputDir)
	assert.Zero(t, cfg.Orchestrator.MaxRevisions)
	assert.Zero(t, cfg.Search.MaxRefinements)
	assert.Equal(t, 4, cfg.Stage.MaxAttempts)
}

func TestQueryFromFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		flags   map[string]string
		want    search.Query
		wantErr string
	}{
		{
			name: "question only",
			args: []string{"long", "context"},
			want: search.Query{FreeText: "long context"},
		},
		{
			name:  "keywords split and trimmed",
			flags: map[string]string{"keywords": " rope, ,kv cache "},
			want:  search.Query{Keywords: []string{"rope", "kv cache"}},
		},
		{
			name:  "date range",
			flags: map[string]string{"author": "Su", "from": "2023-01-01", "to": "2024-06-30"},
			want: search.Query{
				Author:   "Su",
				DateFrom: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
				DateTo:   time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC),
			},
		},
		{
			name:    "bad date",
			args:    []string{"rope"},
			flags:   map[string]string{"from": "01/02/2023"},
			wantErr: "--from: want YYYY-MM-DD",
		},
		{
			name:    "empty",
			wantErr: "provide a research question",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := &cobra.Command{}
			for _, f := range []string{"author", "keywords", "from", "to"} {
				cmd.Flags().String(f, "", "")
			}
			for k, v := range tt.flags {
				require.NoError(t, cmd.Flags().Set(k, v))
			}
			got, err := queryFromFlags(cmd, tt.args)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
