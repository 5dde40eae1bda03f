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

// semanticAPIBase is the Semantic Scholar paper search endpoint. Declared
// as a var so tests can substitute an httptest server.
var semanticAPIBase = "https://api.semanticscholar.org/graph/v1/paper/search"

const semanticFields = "title,abstract,authors,externalIds,year,publicationDate,openAccessPdf"

// SemanticScholarBackend queries the Semantic Scholar API.
type SemanticScholarBackend struct {
	Client    *http.Client
	UserAgent string
	APIKey    string
}

// Name returns the backend identifier.
func (b *SemanticScholarBackend) Name() string { return "semantic_scholar" }

// Search queries the Semantic Scholar API and returns results.
func (b *SemanticScholarBackend) Search(ctx context.Context, query Query, limit int) ([]types.SearchResult, error) {
	q := joinQueryText(query)
	if q == "" {
		return nil, fmt.Errorf("empty Semantic Scholar query")
	}
	if limit <= 0 {
		limit = defaultMaxResults
	}

	params := url.Values{
		"query":  {q},
		"limit":  {strconv.Itoa(min(limit, 100))},
		"fields": {semanticFields},
	}
	if yearRange := buildYearRange(query.DateFrom, query.DateTo); yearRange != "" {
		params.Set("year", yearRange)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, semanticAPIBase+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", b.UserAgent)
	if b.APIKey != "" {
		req.Header.Set("x-api-key", b.APIKey)
	}

	resp, err := httputil.DoWithRetry(ctx, b.Client, req, 0)
	if err != nil {
		return nil, fmt.Errorf("Semantic Scholar API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Semantic Scholar API returned HTTP %d", resp.StatusCode)
	}

	var sr semanticResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("parsing Semantic Scholar response: %w", err)
	}

	total := len(sr.Data)
	var results []types.SearchResult
	for i, paper := range sr.Data {
		r := types.SearchResult{
			Title:          paper.Title,
			Abstract:       paper.Abstract,
			Source:         "semantic_scholar",
			RelevanceScore: positionScore(i, total),
		}
		for _, a := range paper.Authors {
			r.Authors = append(r.Authors, a.Name)
		}

		if paper.PublicationDate != "" {
			if t, parseErr := time.Parse(dateFmt, paper.PublicationDate); parseErr == nil {
				r.Date = t
			}
		} else if paper.Year > 0 {
			r.Date = time.Date(paper.Year, 1, 1, 0, 0, 0, 0, time.UTC)
		}

		// Identifier: arXiv ID, then DOI, then the Semantic Scholar id.
		// Acquisition also considers the open-access PDF before the DOI.
		switch {
		case paper.ExternalIDs.ArXiv != "":
			r.Identifier = paper.ExternalIDs.ArXiv
			r.PreferredAcquisitionID = paper.ExternalIDs.ArXiv
		case paper.ExternalIDs.DOI != "":
			r.Identifier = paper.ExternalIDs.DOI
			r.PreferredAcquisitionID = paper.ExternalIDs.DOI
		default:
			r.Identifier = paper.PaperID
			r.PreferredAcquisitionID = paper.PaperID
		}
		if paper.ExternalIDs.ArXiv == "" && paper.OpenAccessPDF != nil && paper.OpenAccessPDF.URL != "" {
			r.PreferredAcquisitionID = paper.OpenAccessPDF.URL
		}

		results = append(results, r)
	}
	return results, nil
}

// joinQueryText combines query fields into a single free-text string.
func joinQueryText(q Query) string {
	var parts []string
	if q.FreeText != "" {
		parts = append(parts, q.FreeText)
	}
	if q.Author != "" {
		parts = append(parts, q.Author)
	}
	parts = append(parts, q.Keywords...)
	return strings.Join(parts, " ")
}

// buildYearRange returns a Semantic Scholar year filter string (e.g. "2020-2023").
func buildYearRange(from, to time.Time) string {
	switch {
	case !from.IsZero() && !to.IsZero():
		return fmt.Sprintf("%d-%d", from.Year(), to.Year())
	case !from.IsZero():
		return fmt.Sprintf("%d-", from.Year())
	case !to.IsZero():
		return fmt.Sprintf("-%d", to.Year())
	default:
		return ""
	}
}

// Semantic Scholar API JSON structures.
type semanticResponse struct {
	Total  int             `json:"total"`
	Offset int             `json:"offset"`
	Data   []semanticPaper `json:"data"`
}

type semanticPaper struct {
	PaperID         string              `json:"paperId"`
	Title           string              `json:"title"`
	Abstract        string              `json:"abstract"`
	Year            int                 `json:"year"`
	PublicationDate string              `json:"publicationDate"`
	Authors         []semanticAuthor    `json:"authors"`
	ExternalIDs     semanticExternalIDs `json:"externalIds"`
	OpenAccessPDF   *struct {
		URL string `json:"url"`
	} `json:"openAccessPdf"`
}

type semanticAuthor struct {
	AuthorID string `json:"authorId"`
	Name     string `json:"name"`
}

type semanticExternalIDs struct {
	DOI      string `json:"DOI"`
	ArXiv    string `json:"ArXiv"`
	PubMed   string `json:"PubMed"`
	CorpusID int    `json:"CorpusId"`
}
