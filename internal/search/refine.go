// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"strings"
	"time"
	"unicode"

	"github.com/pdiddy/deep-research/pkg/types"
)

const (
	// initialKeywords is how many suggested keywords the first query uses.
	initialKeywords = 2

	// maxDescriptionWords caps the content words taken from a description.
	maxDescriptionWords = 6

	// defaultRecencyWindow is the date filter span when none is configured.
	defaultRecencyWindow = 2 * 365 * 24 * time.Hour

	// minDateSpan stops date tightening.
	minDateSpan = 90 * 24 * time.Hour
)

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "how": true, "in": true,
	"into": true, "is": true, "its": true, "of": true, "on": true, "or": true,
	"that": true, "the": true, "their": true, "this": true, "to": true,
	"what": true, "which": true, "with": true, "does": true, "do": true,
	"can": true, "between": true, "about": true, "role": true,
}

// queryState is one point in the refinement space.
type queryState struct {
	terms []string
	free  string
	since time.Time
}

func (s queryState) query() Query {
	return Query{FreeText: s.free, Keywords: s.terms, DateFrom: s.since}
}

func (s queryState) key() string { return s.query().String() }

func (s queryState) with(terms []string) queryState {
	s.terms = terms
	return s
}

// refiner produces narrower or broader query variants for a sub-topic. It
// never returns a variant it has already produced.
type refiner struct {
	keywords    []string
	mustInclude []string
	description []string
	now         time.Time
	window      time.Duration

	cur   queryState
	tried map[string]bool
}

func newRefiner(st types.SubTopic, now time.Time, window time.Duration) *refiner {
	if window <= 0 {
		window = defaultRecencyWindow
	}
	return &refiner{
		keywords:    cleanTerms(st.SuggestedKeywords),
		mustInclude: cleanTerms(st.SearchGuidance.MustInclude),
		description: descriptionWords(st.Description),
		now:         now,
		window:      window,
		tried:       make(map[string]bool),
	}
}

// initial returns the first query: the leading suggested keywords, or the
// description's content words when there are none.
func (r *refiner) initial() Query {
	if len(r.keywords) > 0 {
		n := min(initialKeywords, len(r.keywords))
		r.cur = queryState{terms: append([]string(nil), r.keywords[:n]...)}
	} else {
		r.cur = queryState{free: strings.Join(r.description, " ")}
	}
	r.tried[r.cur.key()] = true
	return r.cur.query()
}

// narrow adds, in order of preference, a must-include term, an unused
// suggested keyword, a recency date filter, or a tighter date filter.
func (r *refiner) narrow() (Query, bool) {
	var cands []queryState
	for _, m := range r.mustInclude {
		if !containsFold(r.cur.terms, m) {
			cands = append(cands, r.cur.with(appendTerm(r.cur.terms, m)))
		}
	}
	for _, k := range r.keywords {
		if !containsFold(r.cur.terms, k) {
			cands = append(cands, r.cur.with(appendTerm(r.cur.terms, k)))
		}
	}
	if r.cur.since.IsZero() {
		s := r.cur
		s.since = r.now.Add(-r.window).Truncate(24 * time.Hour)
		cands = append(cands, s)
	} else if span := r.now.Sub(r.cur.since) / 2; span >= minDateSpan {
		s := r.cur
		s.since = r.now.Add(-span).Truncate(24 * time.Hour)
		cands = append(cands, s)
	}
	return r.pick(cands)
}

// broaden drops the date filter, then the last term, then falls back to the
// description words, then the most general keyword, then each remaining
// keyword or must-include term on its own.
func (r *refiner) broaden() (Query, bool) {
	var cands []queryState
	if !r.cur.since.IsZero() {
		s := r.cur
		s.since = time.Time{}
		cands = append(cands, s)
	}
	if len(r.cur.terms) > 1 {
		cands = append(cands, r.cur.with(append([]string(nil), r.cur.terms[:len(r.cur.terms)-1]...)))
	}
	if len(r.description) > 0 {
		cands = append(cands, queryState{free: strings.Join(r.description, " ")})
	}
	if g := mostGeneral(r.keywords); g != "" {
		cands = append(cands, queryState{terms: []string{g}})
	}
	for _, k := range r.keywords {
		cands = append(cands, queryState{terms: []string{k}})
	}
	for _, m := range r.mustInclude {
		cands = append(cands, queryState{terms: []string{m}})
	}
	return r.pick(cands)
}

func (r *refiner) pick(cands []queryState) (Query, bool) {
	for _, c := range cands {
		k := c.key()
		if k == "" || r.tried[k] {
			continue
		}
		r.tried[k] = true
		r.cur = c
		return c.query(), true
	}
	return Query{}, false
}

func appendTerm(terms []string, t string) []string {
	out := make([]string, 0, len(terms)+1)
	out = append(out, terms...)
	return append(out, t)
}

func containsFold(terms []string, t string) bool {
	for _, x := range terms {
		if strings.EqualFold(x, t) {
			return true
		}
	}
	return false
}

// cleanTerms trims terms and drops empties and case-insensitive repeats.
func cleanTerms(in []string) []string {
	var out []string
	for _, t := range in {
		t = strings.Join(strings.Fields(t), " ")
		if t == "" || containsFold(out, t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// descriptionWords extracts lowercase content words from a description.
func descriptionWords(desc string) []string {
	var out []string
	for _, w := range strings.FieldsFunc(strings.ToLower(desc), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	}) {
		w = strings.Trim(w, "-")
		if len(w) < 3 || stopWords[w] || containsFold(out, w) {
			continue
		}
		out = append(out, w)
		if len(out) == maxDescriptionWords {
			break
		}
	}
	return out
}

// mostGeneral returns the keyword with the fewest words, then the shortest.
func mostGeneral(keywords []string) string {
	best := ""
	for _, k := range keywords {
		if best == "" {
			best = k
			continue
		}
		kw, bw := len(strings.Fields(k)), len(strings.Fields(best))
		if kw < bw || kw == bw && len(k) < len(best) {
			best = k
		}
	}
	return best
}
