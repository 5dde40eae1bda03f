package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pdiddy/deep-research/internal/secrets"
	"github.com/pdiddy/deep-research/pkg/types"
)

const defaultUserAgent = "deep-research/0.1"

// setDefaults registers every configuration key so that environment
// variables and Unmarshal see it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("search.timeout", 30*time.Second)
	v.SetDefault("search.user_agent", defaultUserAgent)
	v.SetDefault("search.max_results", 25)
	v.SetDefault("search.lower_bound", 5)
	v.SetDefault("search.upper_bound", 50)
	v.SetDefault("search.max_refinements", 5)
	v.SetDefault("search.top_n", 8)
	v.SetDefault("search.query_timeout", 30*time.Second)
	v.SetDefault("search.recency_bias_window", 2*365*24*time.Hour)
	v.SetDefault("search.enable_arxiv", true)
	v.SetDefault("search.enable_semantic_scholar", true)
	v.SetDefault("search.enable_openalex", true)
	v.SetDefault("search.enable_pubmed", true)
	v.SetDefault("search.semantic_scholar_api_key", "")
	v.SetDefault("search.openalex_email", "")
	v.SetDefault("search.ncbi_api_key", "")

	v.SetDefault("cache.timeout", 60*time.Second)
	v.SetDefault("cache.user_agent", defaultUserAgent)
	v.SetDefault("cache.db_path", "state/deep-research.db")
	v.SetDefault("cache.work_dir", "state/downloads")
	v.SetDefault("cache.fetch_timeout", 2*time.Minute)
	v.SetDefault("cache.max_content_bytes", 200000)
	v.SetDefault("cache.converter", string(types.ConverterPDFText))

	v.SetDefault("stage.backend", string(types.StageGemini))
	v.SetDefault("stage.model", "gemini-2.5-flash")
	v.SetDefault("stage.api_key", "")
	v.SetDefault("stage.max_attempts", 3)
	v.SetDefault("stage.timeout", 90*time.Second)
	v.SetDefault("stage.fixtures_path", "")

	v.SetDefault("orchestrator.max_revisions", 2)
	v.SetDefault("orchestrator.max_concurrent_acquisitions", 4)
	v.SetDefault("orchestrator.max_document_chars", 12000)
	v.SetDefault("orchestrator.output_dir", "reports")
}

// bindEnv maps DEEP_RESEARCH_SECTION_KEY variables onto section.key.
// GEMINI_API_KEY is accepted for the stage key.
func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("DEEP_RESEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("stage.api_key", "DEEP_RESEARCH_STAGE_API_KEY", "GEMINI_API_KEY")
}

func loadConfig() (types.PipelineConfig, error) {
	return decodeConfig(viper.GetViper())
}

// decodeConfig decodes the merged configuration and fills credentials from
// .secrets/ where the configuration left them empty. The cache shares the
// search user agent unless it has its own.
func decodeConfig(v *viper.Viper) (types.PipelineConfig, error) {
	var cfg types.PipelineConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("parsing configuration: %w", err)
	}
	secrets.Apply(loadedSecrets, &cfg)
	if cfg.Cache.UserAgent == "" {
		cfg.Cache.UserAgent = cfg.Search.UserAgent
	}
	return cfg, nil
}
