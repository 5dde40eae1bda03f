// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package acquire

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ErrUnknownSource is returned for references that match no known scheme.
var ErrUnknownSource = errors.New("unrecognized source reference")

// IdentifierType classifies a source reference.
type IdentifierType int

const (
	TypeUnknown IdentifierType = iota
	TypeArxiv
	TypeDOI
	TypePubMed
	TypeSemantic
	TypeURL
)

func (t IdentifierType) String() string {
	switch t {
	case TypeArxiv:
		return "arxiv"
	case TypeDOI:
		return "doi"
	case TypePubMed:
		return "pmid"
	case TypeSemantic:
		return "s2"
	case TypeURL:
		return "url"
	default:
		return "unknown"
	}
}

// Base URLs for identifier resolution. Declared as vars so tests can
// substitute httptest servers.
var (
	arxivPDFBase = "https://arxiv.org/pdf/"
	doiBase      = "https://doi.org/"
)

var (
	// arxivPattern matches new-style IDs with an optional version: "2301.07041v2".
	arxivPattern = regexp.MustCompile(`^(\d{4}\.\d{4,5})(?:v\d+)?$`)

	// arxivLegacyPattern matches old-style IDs: "hep-th/9901001v1", "math.GT/0309136".
	arxivLegacyPattern = regexp.MustCompile(`^([a-z\-]+(?:\.[A-Z]{2})?/\d{7})(?:v\d+)?$`)

	// doiPattern matches DOIs: "10.1145/1234567.1234568".
	doiPattern = regexp.MustCompile(`^10\.\d{4,9}/\S+$`)

	pmidPattern = regexp.MustCompile(`^0*[1-9]\d{0,8}$`)

	// s2Pattern matches Semantic Scholar paper ids (40 hex characters).
	s2Pattern = regexp.MustCompile(`^[0-9a-fA-F]{40}$`)
)

// trackingParams are query parameters that never change the addressed document.
var trackingParams = map[string]bool{
	"fbclid":  true,
	"gclid":   true,
	"dclid":   true,
	"msclkid": true,
	"mc_cid":  true,
	"mc_eid":  true,
	"_ga":     true,
	"_gl":     true,
	"igshid":  true,
	"ref":     true,
	"ref_src": true,
	"spm":     true,
}

// Classify determines the identifier type of ref and returns its normalized
// form without the scheme prefix. Scheme prefixes ("arxiv:", "doi:", "pmid:",
// "s2:", "url:") are accepted case-insensitively, so classifying a
// normalized key yields the same result.
func Classify(ref string) (IdentifierType, string) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return TypeUnknown, ""
	}

	if scheme, rest, ok := strings.Cut(ref, ":"); ok {
		rest = strings.TrimSpace(rest)
		switch strings.ToLower(scheme) {
		case "arxiv":
			if id := arxivID(rest); id != "" {
				return TypeArxiv, id
			}
			return TypeUnknown, ref
		case "doi":
			if doiPattern.MatchString(rest) {
				return TypeDOI, strings.ToLower(rest)
			}
			return TypeUnknown, ref
		case "pmid":
			if pmidPattern.MatchString(rest) {
				return TypePubMed, strings.TrimLeft(rest, "0")
			}
			return TypeUnknown, ref
		case "s2":
			if s2Pattern.MatchString(rest) {
				return TypeSemantic, strings.ToLower(rest)
			}
			if rest != "" && !strings.ContainsAny(rest, " /") {
				return TypeSemantic, rest
			}
			return TypeUnknown, ref
		case "url":
			return classifyURL(rest)
		case "http", "https":
			return classifyURL(ref)
		}
	}

	if id := arxivID(ref); id != "" {
		return TypeArxiv, id
	}
	if doiPattern.MatchString(ref) {
		return TypeDOI, strings.ToLower(ref)
	}
	if s2Pattern.MatchString(ref) {
		return TypeSemantic, strings.ToLower(ref)
	}
	return TypeUnknown, ref
}

// Normalize returns the cache key for ref: "<type>:<normalized>". Two
// references to the same document normalize to the same key, and
// Normalize(Normalize(x)) == Normalize(x).
func Normalize(ref string) (string, error) {
	idType, norm := Classify(ref)
	if idType == TypeUnknown {
		return "", fmt.Errorf("%w: %q", ErrUnknownSource, ref)
	}
	return idType.String() + ":" + norm, nil
}

func arxivID(s string) string {
	if m := arxivPattern.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	if m := arxivLegacyPattern.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return ""
}

// classifyURL maps well-known publisher and index URLs to their identifier
// scheme and canonicalizes everything else.
func classifyURL(raw string) (IdentifierType, string) {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return TypeUnknown, raw
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	path := strings.Trim(u.Path, "/")

	switch host {
	case "arxiv.org", "export.arxiv.org":
		for _, p := range []string{"abs/", "pdf/"} {
			if rest, ok := strings.CutPrefix(path, p); ok {
				if id := arxivID(strings.TrimSuffix(rest, ".pdf")); id != "" {
					return TypeArxiv, id
				}
			}
		}
	case "doi.org", "dx.doi.org":
		if doiPattern.MatchString(path) {
			return TypeDOI, strings.ToLower(path)
		}
	case "pubmed.ncbi.nlm.nih.gov":
		if pmidPattern.MatchString(path) {
			return TypePubMed, strings.TrimLeft(path, "0")
		}
	case "ncbi.nlm.nih.gov":
		if rest, ok := strings.CutPrefix(path, "pubmed/"); ok && pmidPattern.MatchString(rest) {
			return TypePubMed, strings.TrimLeft(rest, "0")
		}
	case "semanticscholar.org", "api.semanticscholar.org":
		segs := strings.Split(path, "/")
		if last := segs[len(segs)-1]; s2Pattern.MatchString(last) {
			return TypeSemantic, strings.ToLower(last)
		}
	}

	return TypeURL, canonicalURL(u)
}

// canonicalURL lowercases scheme and host, drops "www.", default ports,
// user info, fragments, tracking parameters, and trailing slashes, and
// sorts the remaining query parameters.
func canonicalURL(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if port := u.Port(); port != "" && !(scheme == "http" && port == "80") && !(scheme == "https" && port == "443") {
		host += ":" + port
	}

	q := u.Query()
	for k := range q {
		if trackingParams[strings.ToLower(k)] || strings.HasPrefix(strings.ToLower(k), "utm_") {
			q.Del(k)
		}
	}

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(host)
	b.WriteString(strings.TrimRight(u.EscapedPath(), "/"))
	if enc := q.Encode(); enc != "" {
		b.WriteByte('?')
		b.WriteString(enc)
	}
	return b.String()
}

// Slug returns a filesystem-safe filename stem for a cache key.
func Slug(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	s := b.String()
	if len(s) > 80 {
		h := sha256.Sum256([]byte(key))
		s = fmt.Sprintf("%s-%x", s[:60], h[:6])
	}
	return s
}

// PDFURL returns the download URL for arXiv, DOI, and direct URL references.
// DOIs resolve through doi.org; the HTTP client follows the redirect.
func PDFURL(idType IdentifierType, normalized string) string {
	switch idType {
	case TypeArxiv:
		return arxivPDFBase + normalized
	case TypeDOI:
		return doiBase + normalized
	case TypeURL:
		return normalized
	default:
		return ""
	}
}
