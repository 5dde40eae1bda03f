// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pdiddy/deep-research/internal/httputil"
	"github.com/pdiddy/deep-research/pkg/types"
)

// E-utilities endpoints. Declared as vars so tests can substitute an
// httptest server.
var (
	pubmedSearchBase  = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils/esearch.fcgi"
	pubmedSummaryBase = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils/esummary.fcgi"
)

// PubMedBackend queries PubMed through NCBI E-utilities: esearch for the
// ranked PMIDs, then esummary for their metadata.
type PubMedBackend struct {
	Client    *http.Client
	UserAgent string
	APIKey    string
}

// Name returns the backend identifier.
func (b *PubMedBackend) Name() string { return "pubmed" }

// Search queries PubMed and returns results in relevance order.
func (b *PubMedBackend) Search(ctx context.Context, query Query, limit int) ([]types.SearchResult, error) {
	term := buildPubMedTerm(query)
	if term == "" {
		return nil, fmt.Errorf("empty PubMed query")
	}
	if limit <= 0 {
		limit = defaultMaxResults
	}

	params := url.Values{
		"db":      {"pubmed"},
		"term":    {term},
		"retmax":  {strconv.Itoa(limit)},
		"retmode": {"json"},
		"sort":    {"relevance"},
	}
	if !query.DateFrom.IsZero() || !query.DateTo.IsZero() {
		params.Set("datetype", "pdat")
		params.Set("mindate", "1800/01/01")
		params.Set("maxdate", "3000/12/31")
		if !query.DateFrom.IsZero() {
			params.Set("mindate", query.DateFrom.Format("2006/01/02"))
		}
		if !query.DateTo.IsZero() {
			params.Set("maxdate", query.DateTo.Format("2006/01/02"))
		}
	}

	var sr pubmedSearchResponse
	if err := b.getJSON(ctx, pubmedSearchBase, params, &sr); err != nil {
		return nil, fmt.Errorf("PubMed esearch: %w", err)
	}
	ids := sr.Result.IDList
	if len(ids) == 0 {
		return nil, nil
	}

	var sum pubmedSummaryResponse
	sumParams := url.Values{
		"db":      {"pubmed"},
		"id":      {strings.Join(ids, ",")},
		"retmode": {"json"},
	}
	if err := b.getJSON(ctx, pubmedSummaryBase, sumParams, &sum); err != nil {
		return nil, fmt.Errorf("PubMed esummary: %w", err)
	}

	var results []types.SearchResult
	for i, id := range ids {
		raw, ok := sum.Result[id]
		if !ok {
			continue
		}
		var doc pubmedDocSum
		if err := json.Unmarshal(raw, &doc); err != nil {
			continue
		}

		r := types.SearchResult{
			Identifier:             "pmid:" + id,
			Title:                  strings.TrimSuffix(strings.TrimSpace(doc.Title), "."),
			Source:                 "pubmed",
			PreferredAcquisitionID: "pmid:" + id,
			RelevanceScore:         positionScore(i, len(ids)),
			Date:                   parsePubMedDate(doc.SortPubDate, doc.PubDate),
		}
		for _, a := range doc.Authors {
			r.Authors = append(r.Authors, a.Name)
		}
		for _, aid := range doc.ArticleIDs {
			if aid.IDType == "doi" && aid.Value != "" {
				r.PreferredAcquisitionID = aid.Value
			}
		}
		results = append(results, r)
	}
	return results, nil
}

func (b *PubMedBackend) getJSON(ctx context.Context, base string, params url.Values, out any) error {
	if b.APIKey != "" {
		params.Set("api_key", b.APIKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", b.UserAgent)

	resp, err := httputil.DoWithRetry(ctx, b.Client, req, 0)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

// buildPubMedTerm joins the query fields with AND, quoting phrases and
// tagging the author field.
func buildPubMedTerm(q Query) string {
	var parts []string
	if q.FreeText != "" {
		parts = append(parts, q.FreeText)
	}
	for _, kw := range q.Keywords {
		if strings.ContainsAny(kw, " \t") {
			kw = `"` + kw + `"`
		}
		parts = append(parts, kw)
	}
	if q.Author != "" {
		parts = append(parts, q.Author+"[Author]")
	}
	return strings.Join(parts, " AND ")
}

// parsePubMedDate reads esummary dates: sortpubdate ("2023/01/05 00:00")
// first, then pubdate ("2023 Jan 5", "2023 Jan", "2023").
func parsePubMedDate(sortDate, pubDate string) time.Time {
	if t, err := time.Parse("2006/01/02 15:04", sortDate); err == nil {
		return t
	}
	for _, layout := range []string{"2006 Jan 2", "2006 Jan", "2006"} {
		if t, err := time.Parse(layout, pubDate); err == nil {
			return t
		}
	}
	return time.Time{}
}

// E-utilities JSON structures.
type pubmedSearchResponse struct {
	Result struct {
		Count  string   `json:"count"`
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

// pubmedSummaryResponse keys documents by PMID next to a "uids" list, so
// entries are decoded individually.
type pubmedSummaryResponse struct {
	Result map[string]json.RawMessage `json:"result"`
}

type pubmedDocSum struct {
	UID         string `json:"uid"`
	Title       string `json:"title"`
	PubDate     string `json:"pubdate"`
	SortPubDate string `json:"sortpubdate"`
	Authors     []struct {
		Name string `json:"name"`
	} `json:"authors"`
	ArticleIDs []struct {
		IDType string `json:"idtype"`
		Value  string `json:"value"`
	} `json:"articleids"`
}
