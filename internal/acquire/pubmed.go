// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package acquire

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/pdiddy/deep-research/internal/httputil"
)

// pubmedFetchBase is the E-utilities efetch endpoint. Declared as a var so
// tests can substitute an httptest server.
var pubmedFetchBase = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils/efetch.fcgi"

// maxAbstractBytes bounds an efetch abstract response.
const maxAbstractBytes = 1 << 20

// fetchPubMedAbstract returns the plain-text citation and abstract for a
// PMID. Full text is rarely open, so the abstract is the document content.
func (f *Fetcher) fetchPubMedAbstract(ctx context.Context, pmid string) (string, error) {
	params := url.Values{
		"db":      {"pubmed"},
		"id":      {pmid},
		"rettype": {"abstract"},
		"retmode": {"text"},
	}
	if f.cfg.NCBIAPIKey != "" {
		params.Set("api_key", f.cfg.NCBIAPIKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pubmedFetchBase+"?"+params.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)

	resp, err := httputil.DoWithRetry(ctx, f.client, req, 0)
	if err != nil {
		return "", fmt.Errorf("PubMed efetch request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("PubMed efetch returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAbstractBytes))
	if err != nil {
		return "", fmt.Errorf("reading PubMed abstract: %w", err)
	}
	return string(data), nil
}
