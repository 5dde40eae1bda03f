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

// openAlexAPIBase is the OpenAlex works endpoint. Declared as a var so tests
// can substitute an httptest server.
var openAlexAPIBase = "https://api.openalex.org/works/"

// openAlexResponse captures the fields we need from an OpenAlex work record.
type openAlexResponse struct {
	BestOALocation *openAlexLocation `json:"best_oa_location"`
}

type openAlexLocation struct {
	PDFURL     string `json:"pdf_url"`
	LandingURL string `json:"landing_page_url"`
}

// resolveOpenAlex queries OpenAlex for a DOI and returns the open-access PDF
// URL if one exists. It returns an empty string when the work has no
// open-access PDF.
func (f *Fetcher) resolveOpenAlex(ctx context.Context, doi string) (string, error) {
	apiURL := openAlexAPIBase + "https://doi.org/" + doi
	if f.cfg.OpenAlexEmail != "" {
		apiURL += "?mailto=" + url.QueryEscape(f.cfg.OpenAlexEmail)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating OpenAlex request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)

	resp, err := httputil.DoWithRetry(ctx, f.client, req, 0)
	if err != nil {
		return "", fmt.Errorf("OpenAlex API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("OpenAlex API returned HTTP %d", resp.StatusCode)
	}

	var oa openAlexResponse
	if err := json.NewDecoder(resp.Body).Decode(&oa); err != nil {
		return "", fmt.Errorf("parsing OpenAlex response: %w", err)
	}

	if oa.BestOALocation == nil {
		return "", nil
	}
	return oa.BestOALocation.PDFURL, nil
}
