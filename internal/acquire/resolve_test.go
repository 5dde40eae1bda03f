// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package acquire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantType IdentifierType
		wantNorm string
	}{
		{"arxiv bare", "2301.07041", TypeArxiv, "2301.07041"},
		{"arxiv prefixed", "arXiv:2301.07041", TypeArxiv, "2301.07041"},
		{"arxiv versioned", "2301.07041v2", TypeArxiv, "2301.07041"},
		{"arxiv five digit", "2301.12345", TypeArxiv, "2301.12345"},
		{"arxiv legacy", "hep-th/9901001v1", TypeArxiv, "hep-th/9901001"},
		{"arxiv abs url", "https://arxiv.org/abs/2301.07041v3", TypeArxiv, "2301.07041"},
		{"arxiv pdf url", "http://www.arxiv.org/pdf/2301.07041.pdf", TypeArxiv, "2301.07041"},
		{"doi simple", "10.1145/1234567.1234568", TypeDOI, "10.1145/1234567.1234568"},
		{"doi lowercased", "10.1038/S41586-024-07487-W", TypeDOI, "10.1038/s41586-024-07487-w"},
		{"doi prefixed", "doi:10.1145/ABC", TypeDOI, "10.1145/abc"},
		{"doi url", "https://dx.doi.org/10.1145/ABC", TypeDOI, "10.1145/abc"},
		{"pmid prefixed", "PMID: 12345678", TypePubMed, "12345678"},
		{"pmid url", "https://pubmed.ncbi.nlm.nih.gov/0012345/", TypePubMed, "12345"},
		{"pmid legacy url", "https://www.ncbi.nlm.nih.gov/pubmed/777", TypePubMed, "777"},
		{"s2 hex", "649DEF34F8BE52C8B66281AF98AE884C09AEF38B", TypeSemantic, "649def34f8be52c8b66281af98ae884c09aef38b"},
		{"s2 prefixed", "s2:CorpusId:1234", TypeSemantic, "CorpusId:1234"},
		{"url https", "https://example.com/paper.pdf", TypeURL, "https://example.com/paper.pdf"},
		{"unknown bare word", "not-an-id", TypeUnknown, "not-an-id"},
		{"unknown bare digits", "12345", TypeUnknown, "12345"},
		{"unknown pmid zero", "pmid:0", TypeUnknown, "pmid:0"},
		{"unknown empty", "", TypeUnknown, ""},
		{"unknown ftp", "ftp://example.com/x", TypeUnknown, "ftp://example.com/x"},
		{"whitespace trimmed", "  2301.07041  ", TypeArxiv, "2301.07041"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotType, gotNorm := Classify(tt.input)
			assert.Equal(t, tt.wantType, gotType)
			assert.Equal(t, tt.wantNorm, gotNorm)
		})
	}
}

func TestNormalizeURLCanonicalization(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"strips tracking params", "https://example.com/a?utm_source=x&id=7&fbclid=abc", "url:https://example.com/a?id=7"},
		{"sorts query", "https://example.com/a?b=2&a=1", "url:https://example.com/a?a=1&b=2"},
		{"drops fragment", "https://example.com/a#section-2", "url:https://example.com/a"},
		{"lowercases host and drops www", "https://WWW.Example.COM/Paper", "url:https://example.com/Paper"},
		{"drops default port", "https://example.com:443/a", "url:https://example.com/a"},
		{"keeps other port", "http://example.com:8080/a", "url:http://example.com:8080/a"},
		{"drops trailing slash", "https://example.com/a/", "url:https://example.com/a"},
		{"root path", "https://example.com/", "url:https://example.com"},
		{"drops user info", "https://user:pw@example.com/a", "url:https://example.com/a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeSameDocumentSameKey(t *testing.T) {
	refs := []string{
		"2301.07041",
		"arXiv:2301.07041v2",
		"https://arxiv.org/abs/2301.07041?utm_medium=email",
		"https://arxiv.org/pdf/2301.07041v1.pdf",
	}
	for _, r := range refs {
		key, err := Normalize(r)
		require.NoError(t, err)
		assert.Equal(t, "arxiv:2301.07041", key, r)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"2301.07041v2",
		"hep-th/9901001",
		"10.1038/S41586-024-07487-W",
		"pmid:00042",
		"649def34f8be52c8b66281af98ae884c09aef38b",
		"https://Example.com/x/?utm_campaign=a&q=deep%20learning#top",
		"https://example.com/path%2Fwith%2Fescapes?z=1&a=2",
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			once, err := Normalize(in)
			require.NoError(t, err)
			twice, err := Normalize(once)
			require.NoError(t, err)
			assert.Equal(t, once, twice)
		})
	}
}

func TestNormalizeUnknown(t *testing.T) {
	_, err := Normalize("definitely not a reference")
	assert.ErrorIs(t, err, ErrUnknownSource)
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "arxiv-2301.07041", Slug("arxiv:2301.07041"))
	assert.Equal(t, "doi-10.1145-abc", Slug("doi:10.1145/abc"))

	long := Slug("url:https://example.com/a-very-long-path/that/keeps/going/and/going/and/going/forever/and/ever")
	assert.LessOrEqual(t, len(long), 80)
}

func TestPDFURL(t *testing.T) {
	assert.Equal(t, "https://arxiv.org/pdf/2301.07041", PDFURL(TypeArxiv, "2301.07041"))
	assert.Equal(t, "https://doi.org/10.1145/abc", PDFURL(TypeDOI, "10.1145/abc"))
	assert.Equal(t, "https://example.com/p.pdf", PDFURL(TypeURL, "https://example.com/p.pdf"))
	assert.Empty(t, PDFURL(TypePubMed, "123"))
}
