package types

import "time"

// HTTPConfig holds shared HTTP settings used by components that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "deep-research/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent"`
}

// SearchConfig holds settings for the search aggregator.
type SearchConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	// MaxResults is the per-backend result limit for one query (default 25).
	MaxResults int `json:"max_results" yaml:"max_results" mapstructure:"max_results"`

	// LowerBound is the minimum acceptable candidate count (default 5).
	LowerBound int `json:"lower_bound" yaml:"lower_bound" mapstructure:"lower_bound"`

	// UpperBound is the maximum acceptable candidate count (default 50).
	UpperBound int `json:"upper_bound" yaml:"upper_bound" mapstructure:"upper_bound"`

	// MaxRefinements caps query re-issues per sub-topic (default 5 via
	// configuration). Zero disables refinement.
	MaxRefinements int `json:"max_refinements" yaml:"max_refinements" mapstructure:"max_refinements"`

	// TopN is the number of ranked papers selected per sub-topic (default 8).
	TopN int `json:"top_n" yaml:"top_n" mapstructure:"top_n"`

	// QueryTimeout bounds one backend query including its retries (default 30s).
	QueryTimeout time.Duration `json:"query_timeout" yaml:"query_timeout" mapstructure:"query_timeout"`

	// RecencyBiasWindow is the time window for boosting recent papers (default 2 years).
	RecencyBiasWindow time.Duration `json:"recency_bias_window" yaml:"recency_bias_window" mapstructure:"recency_bias_window"`

	// EnableArxiv controls whether the arXiv backend is used.
	EnableArxiv bool `json:"enable_arxiv" yaml:"enable_arxiv" mapstructure:"enable_arxiv"`

	// EnableSemanticScholar controls whether the Semantic Scholar backend is used.
	EnableSemanticScholar bool `json:"enable_semantic_scholar" yaml:"enable_semantic_scholar" mapstructure:"enable_semantic_scholar"`

	// EnableOpenAlex controls whether the OpenAlex backend is used.
	EnableOpenAlex bool `json:"enable_openalex" yaml:"enable_openalex" mapstructure:"enable_openalex"`

	// EnablePubMed controls whether the PubMed backend is used.
	EnablePubMed bool `json:"enable_pubmed" yaml:"enable_pubmed" mapstructure:"enable_pubmed"`

	// SemanticScholarAPIKey is an optional API key for higher rate limits.
	SemanticScholarAPIKey string `json:"semantic_scholar_api_key,omitempty" yaml:"semantic_scholar_api_key,omitempty" mapstructure:"semantic_scholar_api_key"`

	// OpenAlexEmail is sent as mailto for polite pool access.
	OpenAlexEmail string `json:"openalex_email,omitempty" yaml:"openalex_email,omitempty" mapstructure:"openalex_email"`

	// NCBIAPIKey is an optional E-utilities key.
	NCBIAPIKey string `json:"ncbi_api_key,omitempty" yaml:"ncbi_api_key,omitempty" mapstructure:"ncbi_api_key"`
}

// ConverterKind identifies the document-to-text conversion tool.
type ConverterKind string

const (
	ConverterPDFText    ConverterKind = "pdftext"
	ConverterMarkitdown ConverterKind = "markitdown"
)

// CacheConfig holds settings for the document cache and its fetcher.
type CacheConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	// DBPath is the SQLite file backing the cache and session checkpoints.
	DBPath string `json:"db_path" yaml:"db_path" mapstructure:"db_path"`

	// WorkDir holds temporary downloads during extraction.
	WorkDir string `json:"work_dir" yaml:"work_dir" mapstructure:"work_dir"`

	// FetchTimeout bounds one fetch-and-extract (default 2m).
	FetchTimeout time.Duration `json:"fetch_timeout" yaml:"fetch_timeout" mapstructure:"fetch_timeout"`

	// MaxContentBytes truncates extracted text (default 200000).
	MaxContentBytes int `json:"max_content_bytes" yaml:"max_content_bytes" mapstructure:"max_content_bytes"`

	// Converter selects the extraction tool: pdftext or markitdown.
	Converter ConverterKind `json:"converter" yaml:"converter" mapstructure:"converter"`

	// OpenAlexEmail is sent as mailto when resolving open-access copies.
	OpenAlexEmail string `json:"openalex_email,omitempty" yaml:"openalex_email,omitempty" mapstructure:"openalex_email"`

	// SemanticScholarAPIKey is used when resolving Semantic Scholar ids.
	SemanticScholarAPIKey string `json:"semantic_scholar_api_key,omitempty" yaml:"semantic_scholar_api_key,omitempty" mapstructure:"semantic_scholar_api_key"`

	// NCBIAPIKey is an optional E-utilities key used for PubMed abstracts.
	NCBIAPIKey string `json:"ncbi_api_key,omitempty" yaml:"ncbi_api_key,omitempty" mapstructure:"ncbi_api_key"`
}

// AIConfig holds shared settings for components that call a Generative AI API.
type AIConfig struct {
	// Model is the AI model identifier (e.g. "gemini-2.5-flash").
	Model string `json:"model" yaml:"model" mapstructure:"model"`

	// APIKey is the authentication key for the AI API.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`

	// MaxAttempts is the total number of calls made for one request when
	// the collaborator fails transiently, the first call included (default 3).
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts" mapstructure:"max_attempts"`
}

// StageBackend selects the reasoning collaborator.
type StageBackend string

const (
	StageGemini  StageBackend = "gemini"
	StageFixture StageBackend = "fixture"
)

// StageConfig holds settings for the stage invoker.
type StageConfig struct {
	AIConfig `yaml:",inline" mapstructure:",squash"`

	// Backend selects the collaborator: gemini or fixture.
	Backend StageBackend `json:"backend" yaml:"backend" mapstructure:"backend"`

	// Timeout bounds a single collaborator call (default 90s).
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// FixturesPath is the YAML file of canned responses for the fixture backend.
	FixturesPath string `json:"fixtures_path,omitempty" yaml:"fixtures_path,omitempty" mapstructure:"fixtures_path"`
}

// OrchestratorConfig holds settings for the workflow orchestrator.
type OrchestratorConfig struct {
	// MaxRevisions bounds critique-driven revision cycles (default 2 via
	// configuration). Zero disables revisions.
	MaxRevisions int `json:"max_revisions" yaml:"max_revisions" mapstructure:"max_revisions"`

	// MaxConcurrentAcquisitions bounds concurrent document cache calls (default 4).
	MaxConcurrentAcquisitions int `json:"max_concurrent_acquisitions" yaml:"max_concurrent_acquisitions" mapstructure:"max_concurrent_acquisitions"`

	// MaxDocumentChars truncates each document handed to analysis (default 12000).
	MaxDocumentChars int `json:"max_document_chars" yaml:"max_document_chars" mapstructure:"max_document_chars"`

	// Sections overrides the report template.
	Sections []string `json:"sections,omitempty" yaml:"sections,omitempty" mapstructure:"sections"`

	// OutputDir is where finalized reports are written.
	OutputDir string `json:"output_dir" yaml:"output_dir" mapstructure:"output_dir"`
}

// PipelineConfig groups all component configurations.
type PipelineConfig struct {
	Search       SearchConfig       `json:"search" yaml:"search" mapstructure:"search"`
	Cache        CacheConfig        `json:"cache" yaml:"cache" mapstructure:"cache"`
	Stage        StageConfig        `json:"stage" yaml:"stage" mapstructure:"stage"`
	Orchestrator OrchestratorConfig `json:"orchestrator" yaml:"orchestrator" mapstructure:"orchestrator"`
}
