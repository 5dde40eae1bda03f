// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package report

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/deep-research/pkg/types"
)

// CSLItem represents a bibliographic entry in CSL (Citation Style Language)
// format. The field names and structure follow the CSL-YAML schema so that
// output is consumable by Pandoc and reference managers.
type CSLItem struct {
	ID       string    `yaml:"id"`
	Type     string    `yaml:"type"`
	Title    string    `yaml:"title"`
	Author   []CSLName `yaml:"author,omitempty"`
	Abstract string    `yaml:"abstract,omitempty"`
	Issued   *CSLDate  `yaml:"issued,omitempty"`
	DOI      string    `yaml:"DOI,omitempty"`
	PMID     string    `yaml:"PMID,omitempty"`
	URL      string    `yaml:"URL,omitempty"`
	Source   string    `yaml:"source,omitempty"`
}

// CSLName represents a person's name in CSL format.
type CSLName struct {
	Family  string `yaml:"family,omitempty"`
	Given   string `yaml:"given,omitempty"`
	Literal string `yaml:"literal,omitempty"`
}

// CSLDate represents a date in CSL format using date-parts.
type CSLDate struct {
	DateParts [][]int `yaml:"date-parts"`
}

var bibKeyPattern = regexp.MustCompile(`[^A-Za-z0-9:._-]+`)

// FormatCSL writes papers as a CSL-YAML list to w.
func FormatCSL(papers []types.Paper, w io.Writer) error {
	items := make([]CSLItem, len(papers))
	for i, p := range papers {
		items[i] = toCSLItem(p)
	}
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(items)
}

// toCSLItem converts a Paper to a CSLItem keyed by its normalized id.
func toCSLItem(p types.Paper) CSLItem {
	item := CSLItem{
		ID:       p.NormalizedID,
		Type:     "article",
		Title:    p.Title,
		Abstract: p.Abstract,
		Source:   p.SourceDatabase,
	}

	for _, a := range p.Authors {
		item.Author = append(item.Author, parseAuthorName(a))
	}

	if !p.Date.IsZero() {
		item.Issued = &CSLDate{
			DateParts: [][]int{{p.Date.Year(), int(p.Date.Month()), p.Date.Day()}},
		}
	}

	scheme, id, _ := strings.Cut(p.NormalizedID, ":")
	switch scheme {
	case "arxiv":
		item.URL = "https://arxiv.org/abs/" + id
	case "doi":
		item.Type = "article-journal"
		item.DOI = id
	case "pmid":
		item.Type = "article-journal"
		item.PMID = id
	case "url":
		item.Type = "webpage"
		item.URL = id
	}
	return item
}

// parseAuthorName splits a full name string into CSL family/given parts.
// It splits on the last space: everything before is given, the last token
// is family. Single-token names use the literal field.
func parseAuthorName(name string) CSLName {
	name = strings.TrimSpace(name)
	if name == "" {
		return CSLName{}
	}
	idx := strings.LastIndex(name, " ")
	if idx < 0 {
		return CSLName{Literal: name}
	}
	return CSLName{
		Given:  name[:idx],
		Family: name[idx+1:],
	}
}

// GenerateBibTeX produces BibTeX entries for papers. arXiv preprints become
// @misc entries with eprint fields; everything else is an @article.
func GenerateBibTeX(papers []types.Paper) string {
	var b strings.Builder
	for _, p := range papers {
		scheme, id, _ := strings.Cut(p.NormalizedID, ":")
		kind := "article"
		if scheme == "arxiv" {
			kind = "misc"
		}
		fmt.Fprintf(&b, "@%s{%s,\n", kind, bibKey(p.NormalizedID))
		fmt.Fprintf(&b, "  title = {%s},\n", p.Title)
		if len(p.Authors) > 0 {
			fmt.Fprintf(&b, "  author = {%s},\n", strings.Join(p.Authors, " and "))
		}
		if !p.Date.IsZero() {
			fmt.Fprintf(&b, "  year = {%d},\n", p.Date.Year())
		}
		switch scheme {
		case "arxiv":
			fmt.Fprintf(&b, "  eprint = {%s},\n", id)
			fmt.Fprintf(&b, "  archivePrefix = {arXiv},\n")
		case "doi":
			fmt.Fprintf(&b, "  doi = {%s},\n", id)
		case "url":
			fmt.Fprintf(&b, "  url = {%s},\n", id)
		}
		fmt.Fprintf(&b, "}\n\n")
	}
	return b.String()
}

func bibKey(id string) string {
	return bibKeyPattern.ReplaceAllString(id, "_")
}
