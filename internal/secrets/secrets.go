// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets loads API keys and credentials from a directory of plain-text files.
// Each file in the directory represents one secret: the filename is the key name and the
// file contents (trimmed) are the value.
//
// Recognized key files: gemini-api-key, semantic-scholar-api-key, openalex-email, ncbi-api-key.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pdiddy/deep-research/pkg/types"
)

// Recognized secret file names.
const (
	GeminiAPIKey          = "gemini-api-key"
	SemanticScholarAPIKey = "semantic-scholar-api-key"
	OpenAlexEmail         = "openalex-email"
	NCBIAPIKey            = "ncbi-api-key"
)

// Load reads all files in dir and returns a map of filename to trimmed contents.
// A missing directory or missing files are not errors; Load returns an empty map.
// Unreadable files produce a warning on stderr but do not abort.
func Load(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}

	secrets := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not read secret %s: %v\n", name, err)
			continue
		}

		value := strings.TrimSpace(string(data))
		if value != "" {
			secrets[name] = value
		}
	}

	return secrets, nil
}

// Apply fills empty credential fields of cfg from s. Values already set by
// flags, environment or the config file win.
func Apply(s map[string]string, cfg *types.PipelineConfig) {
	fill := func(dst *string, key string) {
		if *dst == "" {
			*dst = s[key]
		}
	}
	fill(&cfg.Stage.APIKey, GeminiAPIKey)
	fill(&cfg.Search.SemanticScholarAPIKey, SemanticScholarAPIKey)
	fill(&cfg.Search.OpenAlexEmail, OpenAlexEmail)
	fill(&cfg.Search.NCBIAPIKey, NCBIAPIKey)
	fill(&cfg.Cache.SemanticScholarAPIKey, SemanticScholarAPIKey)
	fill(&cfg.Cache.OpenAlexEmail, OpenAlexEmail)
	fill(&cfg.Cache.NCBIAPIKey, NCBIAPIKey)
}

// Names returns the loaded secret names, sorted. Values are never listed.
func Names(s map[string]string) []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
