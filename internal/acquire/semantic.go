// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package acquire

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/pdiddy/deep-research/internal/httputil"
)

// semanticPaperBase is the Semantic Scholar paper lookup endpoint. Declared
// as a var so tests can substitute an httptest server.
var semanticPaperBase = "https://api.semanticscholar.org/graph/v1/paper/"

type semanticPaper struct {
	ExternalIDs struct {
		ArXiv string `json:"ArXiv"`
		DOI   string `json:"DOI"`
	} `json:"externalIds"`
	OpenAccessPDF *struct {
		URL string `json:"url"`
	} `json:"openAccessPdf"`
}

// resolveSemantic maps a Semantic Scholar paper id to a better-known
// reference: its arXiv ID, then its open-access PDF, then its DOI.
func (f *Fetcher) resolveSemantic(ctx context.Context, paperID string) (IdentifierType, string, error) {
	params := url.Values{"fields": {"externalIds,openAccessPdf"}}
	reqURL := semanticPaperBase + url.PathEscape(paperID) + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return TypeUnknown, "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	if f.cfg.SemanticScholarAPIKey != "" {
		req.Header.Set("x-api-key", f.cfg.SemanticScholarAPIKey)
	}

	resp, err := httputil.DoWithRetry(ctx, f.client, req, 0)
	if err != nil {
		return TypeUnknown, "", fmt.Errorf("Semantic Scholar API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return TypeUnknown, "", fmt.Errorf("Semantic Scholar API returned HTTP %d", resp.StatusCode)
	}

	var p semanticPaper
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return TypeUnknown, "", fmt.Errorf("parsing Semantic Scholar response: %w", err)
	}

	switch {
	case p.ExternalIDs.ArXiv != "":
		if id := arxivID(p.ExternalIDs.ArXiv); id != "" {
			return TypeArxiv, id, nil
		}
	case p.OpenAccessPDF != nil && p.OpenAccessPDF.URL != "":
		return TypeURL, p.OpenAccessPDF.URL, nil
	case p.ExternalIDs.DOI != "":
		return TypeDOI, p.ExternalIDs.DOI, nil
	}
	return TypeUnknown, "", fmt.Errorf("Semantic Scholar paper %s has no retrievable copy", paperID)
}
