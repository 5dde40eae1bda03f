// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/pdiddy/deep-research/pkg/types"
)

func TestToCSLItem(t *testing.T) {
	tests := []struct {
		name     string
		paper    types.Paper
		wantType string
		check    func(t *testing.T, item CSLItem)
	}{
		{
			name:     "arxiv preprint",
			paper:    types.Paper{NormalizedID: "arxiv:2104.09864", Title: "RoFormer"},
			wantType: "article",
			check: func(t *testing.T, item CSLItem) {
				if item.URL != "https://arxiv.org/abs/2104.09864" {
					t.Errorf("URL = %q", item.URL)
				}
			},
		},
		{
			name:     "doi",
			paper:    types.Paper{NormalizedID: "doi:10.1145/3600006.3613165", Title: "vLLM"},
			wantType: "article-journal",
			check: func(t *testing.T, item CSLItem) {
				if item.DOI != "10.1145/3600006.3613165" {
					t.Errorf("DOI = %q", item.DOI)
				}
			},
		},
		{
			name:     "pubmed",
			paper:    types.Paper{NormalizedID: "pmid:31452104", Title: "Clinical study"},
			wantType: "article-journal",
			check: func(t *testing.T, item CSLItem) {
				if item.PMID != "31452104" {
					t.Errorf("PMID = %q", item.PMID)
				}
			},
		},
		{
			name:     "web page",
			paper:    types.Paper{NormalizedID: "url:https://example.org/paper.pdf", Title: "Tech report"},
			wantType: "webpage",
			check: func(t *testing.T, item CSLItem) {
				if item.URL != "https://example.org/paper.pdf" {
					t.Errorf("URL = %q", item.URL)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := toCSLItem(tt.paper)
			if item.ID != tt.paper.NormalizedID {
				t.Errorf("ID = %q, want %q", item.ID, tt.paper.NormalizedID)
			}
			if item.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", item.Type, tt.wantType)
			}
			tt.check(t, item)
		})
	}
}

func TestToCSLItemAuthorsAndDate(t *testing.T) {
	item := toCSLItem(types.Paper{
		NormalizedID: "arxiv:1706.03762",
		Title:        "Attention Is All You Need",
		Authors:      []string{"Ashish Vaswani", "Noam Shazeer", "Plato"},
		Date:         time.Date(2017, 6, 12, 0, 0, 0, 0, time.UTC),
	})

	if len(item.Author) != 3 {
		t.Fatalf("len(Author) = %d, want 3", len(item.Author))
	}
	if item.Author[0].Family != "Vaswani" || item.Author[0].Given != "Ashish" {
		t.Errorf("Author[0] = %+v", item.Author[0])
	}
	if item.Author[2].Literal != "Plato" {
		t.Errorf("Author[2] = %+v, want literal", item.Author[2])
	}
	if item.Issued == nil || item.Issued.DateParts[0][0] != 2017 || item.Issued.DateParts[0][1] != 6 {
		t.Errorf("Issued = %+v", item.Issued)
	}
}

func TestFormatCSL(t *testing.T) {
	papers := []types.Paper{
		{NormalizedID: "arxiv:1706.03762", Title: "Attention Is All You Need", Authors: []string{"Ashish Vaswani"}},
		{NormalizedID: "doi:10.1145/3600006.3613165", Title: "vLLM"},
	}

	var buf bytes.Buffer
	if err := FormatCSL(papers, &buf); err != nil {
		t.Fatalf("FormatCSL: %v", err)
	}
	s := buf.String()
	for _, want := range []string{"id: arxiv:1706.03762", "type: article-journal", "DOI: 10.1145/3600006.3613165", "family: Vaswani"} {
		if !strings.Contains(s, want) {
			t.Errorf("CSL output missing %q:\n%s", want, s)
		}
	}
}

func TestGenerateBibTeX(t *testing.T) {
	papers := []types.Paper{
		{
			NormalizedID: "arxiv:2104.09864",
			Title:        "RoFormer",
			Authors:      []string{"Jianlin Su", "Yu Lu"},
			Date:         time.Date(2021, 4, 20, 0, 0, 0, 0, time.UTC),
		},
		{NormalizedID: "doi:10.1145/3600006.3613165", Title: "vLLM"},
		{NormalizedID: "url:https://example.org/a b", Title: "Report"},
	}

	bib := GenerateBibTeX(papers)
	for _, want := range []string{
		"@misc{arxiv:2104.09864,",
		"author = {Jianlin Su and Yu Lu}",
		"year = {2021}",
		"eprint = {2104.09864}",
		"@article{doi:10.1145_3600006.3613165,",
		"doi = {10.1145/3600006.3613165}",
		"@article{url:https:_example.org_a_b,",
	} {
		if !strings.Contains(bib, want) {
			t.Errorf("BibTeX missing %q:\n%s", want, bib)
		}
	}
}

func TestParseAuthorName(t *testing.T) {
	tests := []struct {
		in   string
		want CSLName
	}{
		{"Ada Lovelace", CSLName{Given: "Ada", Family: "Lovelace"}},
		{"John von Neumann", CSLName{Given: "John von", Family: "Neumann"}},
		{"Plato", CSLName{Literal: "Plato"}},
		{"  ", CSLName{}},
	}
	for _, tt := range tests {
		if got := parseAuthorName(tt.in); got != tt.want {
			t.Errorf("parseAuthorName(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}
