// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package report writes a finalized research report to disk and checks it.
// A report directory holds report.md with YAML front matter, one numbered
// NN-slug.md file per section, metadata.yaml, and the references in CSL-YAML
// and BibTeX.
package report

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/deep-research/pkg/types"
)

const (
	reportFile     = "report.md"
	metadataFile   = "metadata.yaml"
	referencesFile = "references.yaml"
	bibFile        = "references.bib"
)

// sectionFilePattern matches numbered section files: NN-slug.md.
var sectionFilePattern = regexp.MustCompile(`^\d{2}-.+\.md$`)

// citationPattern matches inline citations: [arxiv:2401.00001] or
// [arxiv:2401.00001; doi:10.1145/1].
var citationPattern = regexp.MustCompile(`\[([^\[\]]+)\]`)

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// frontMatter is the YAML header of report.md. Pandoc reads title, date and
// bibliography from it.
type frontMatter struct {
	Title          string        `yaml:"title"`
	Query          string        `yaml:"query"`
	SessionID      string        `yaml:"session_id"`
	Date           string        `yaml:"date"`
	Bibliography   string        `yaml:"bibliography"`
	RevisionCount  int           `yaml:"revision_count"`
	ForcedApproval bool          `yaml:"forced_approval"`
	FinalVerdict   types.Verdict `yaml:"final_verdict,omitempty"`
}

// Write renders r into dir, creating it if needed, and returns the path of
// report.md. Existing files with the same names are overwritten.
func Write(dir string, r types.Report) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating report directory: %w", err)
	}

	md, err := Render(r)
	if err != nil {
		return "", err
	}
	reportPath := filepath.Join(dir, reportFile)
	if err := os.WriteFile(reportPath, []byte(md), 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", reportFile, err)
	}

	for i, s := range r.Sections {
		name := SectionFileName(i, s.Name)
		body := fmt.Sprintf("## %s\n\n%s\n", s.Name, strings.TrimSpace(s.Content))
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			return "", fmt.Errorf("writing %s: %w", name, err)
		}
	}

	meta, err := yaml.Marshal(r.Metadata)
	if err != nil {
		return "", fmt.Errorf("encoding metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, metadataFile), meta, 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", metadataFile, err)
	}

	var refs bytes.Buffer
	if err := FormatCSL(r.References, &refs); err != nil {
		return "", fmt.Errorf("encoding references: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, referencesFile), refs.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", referencesFile, err)
	}
	if err := os.WriteFile(filepath.Join(dir, bibFile), []byte(GenerateBibTeX(r.References)), 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", bibFile, err)
	}
	return reportPath, nil
}

// Render returns the report as a single Markdown document.
func Render(r types.Report) (string, error) {
	fm := frontMatter{
		Title:          r.Title,
		Query:          r.Query,
		SessionID:      r.Metadata.SessionID,
		Bibliography:   referencesFile,
		RevisionCount:  r.Metadata.RevisionCount,
		ForcedApproval: r.Metadata.ForcedApproval,
		FinalVerdict:   r.Metadata.FinalVerdict,
	}
	if !r.Metadata.GeneratedAt.IsZero() {
		fm.Date = r.Metadata.GeneratedAt.UTC().Format(time.DateOnly)
	}
	header, err := yaml.Marshal(fm)
	if err != nil {
		return "", fmt.Errorf("encoding front matter: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "---\n%s---\n\n# %s\n", header, r.Title)
	for _, s := range r.Sections {
		fmt.Fprintf(&b, "\n## %s\n\n%s\n", s.Name, strings.TrimSpace(s.Content))
	}
	if len(r.References) > 0 {
		b.WriteString("\n## References\n\n")
		for _, p := range r.References {
			fmt.Fprintf(&b, "- [%s] %s\n", p.NormalizedID, reference(p))
		}
	}
	return b.String(), nil
}

// reference formats a paper as "Authors (Year). Title."
func reference(p types.Paper) string {
	var b strings.Builder
	switch len(p.Authors) {
	case 0:
	case 1, 2:
		b.WriteString(strings.Join(p.Authors, " and "))
	default:
		b.WriteString(p.Authors[0] + " et al.")
	}
	if !p.Date.IsZero() {
		fmt.Fprintf(&b, " (%d)", p.Date.Year())
	}
	if b.Len() > 0 {
		b.WriteString(". ")
	}
	b.WriteString(strings.TrimSuffix(p.Title, "."))
	b.WriteString(".")
	return b.String()
}

// SectionFileName returns the numbered file name for the i-th section.
func SectionFileName(i int, name string) string {
	slug := strings.Trim(slugPattern.ReplaceAllString(strings.ToLower(name), "-"), "-")
	if slug == "" {
		slug = "section"
	}
	return fmt.Sprintf("%02d-%s.md", i+1, slug)
}

// SectionFiles returns the ordered list of numbered section file paths
// (NN-*.md) in a report directory.
func SectionFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading report directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if sectionFilePattern.MatchString(e.Name()) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// LoadMetadata reads metadata.yaml from a report directory.
func LoadMetadata(dir string) (*types.ReportMetadata, error) {
	data, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		return nil, fmt.Errorf("reading metadata: %w", err)
	}
	var md types.ReportMetadata
	if err := yaml.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("parsing metadata: %w", err)
	}
	return &md, nil
}

// LoadReferences reads references.yaml from a report directory.
func LoadReferences(dir string) ([]CSLItem, error) {
	data, err := os.ReadFile(filepath.Join(dir, referencesFile))
	if err != nil {
		return nil, fmt.Errorf("reading references: %w", err)
	}
	var items []CSLItem
	if err := yaml.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parsing references: %w", err)
	}
	return items, nil
}

// ValidateCitations scans section files for inline citation keys and returns
// the keys that have no entry in references.yaml, sorted.
func ValidateCitations(dir string) ([]string, error) {
	refs, err := LoadReferences(dir)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(refs))
	for _, r := range refs {
		known[r.ID] = true
	}

	files, err := SectionFiles(dir)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", filepath.Base(f), err)
		}
		for _, key := range extractCitationKeys(string(data)) {
			if !known[key] {
				seen[key] = true
			}
		}
	}

	missing := make([]string, 0, len(seen))
	for key := range seen {
		missing = append(missing, key)
	}
	sort.Strings(missing)
	return missing, nil
}

// extractCitationKeys finds all citation keys in text, including each key
// of a multi-citation.
func extractCitationKeys(text string) []string {
	var keys []string
	for _, m := range citationPattern.FindAllStringSubmatch(text, -1) {
		for _, p := range strings.Split(m[1], ";") {
			key := strings.TrimSpace(p)
			if isCitationKey(key) {
				keys = append(keys, key)
			}
		}
	}
	return keys
}

// isCitationKey reports whether s looks like a normalized paper id
// ("scheme:identifier"). It rejects Markdown link text and other bracket
// content.
func isCitationKey(s string) bool {
	scheme, id, ok := strings.Cut(s, ":")
	if !ok || scheme == "" || id == "" {
		return false
	}
	for _, c := range scheme {
		if !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9') {
			return false
		}
	}
	hasDigit := false
	for _, c := range id {
		switch {
		case c >= '0' && c <= '9':
			hasDigit = true
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case strings.ContainsRune("-_./()", c):
		default:
			return false
		}
	}
	return hasDigit
}
