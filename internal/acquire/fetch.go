// Package acquire resolves source references to retrievable documents and
// extracts their text. It normalizes references into cache keys and serves
// as the document cache's fetch-and-extract tool.
package acquire

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/pdiddy/deep-research/internal/convert"
	"github.com/pdiddy/deep-research/internal/httputil"
	"github.com/pdiddy/deep-research/pkg/types"
)

// maxDownloadBytes bounds a single document download.
const maxDownloadBytes = 64 << 20

// ErrUnsupportedContent is returned for responses that are neither PDF,
// HTML, nor plain text.
var ErrUnsupportedContent = errors.New("unsupported content type")

// Fetcher downloads a document for a source reference and converts it to
// text. It is safe for concurrent use.
type Fetcher struct {
	client    *http.Client
	converter convert.Converter
	cfg       types.CacheConfig
	logger    *zap.Logger
}

// NewFetcher creates a Fetcher. A nil logger disables logging.
func NewFetcher(client *http.Client, converter convert.Converter, cfg types.CacheConfig, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{client: client, converter: converter, cfg: cfg, logger: logger}
}

// Extract resolves sourceRef, downloads the document, and returns its
// cleaned text. arXiv references download the arXiv PDF; DOIs try the
// OpenAlex open-access copy before doi.org; Semantic Scholar ids resolve
// through the paper API; PubMed ids return the abstract text.
func (f *Fetcher) Extract(ctx context.Context, sourceRef string) (string, error) {
	idType, norm := Classify(sourceRef)
	if idType == TypeUnknown {
		return "", fmt.Errorf("%w: %q", ErrUnknownSource, sourceRef)
	}

	if idType == TypeSemantic {
		t, ref, err := f.resolveSemantic(ctx, norm)
		if err != nil {
			return "", err
		}
		f.logger.Debug("resolved semantic scholar id", zap.String("id", norm), zap.String("ref", ref))
		idType, norm = t, ref
	}

	var text string
	switch idType {
	case TypePubMed:
		abstract, err := f.fetchPubMedAbstract(ctx, norm)
		if err != nil {
			return "", err
		}
		text = abstract
	default:
		docURL := PDFURL(idType, norm)
		if idType == TypeDOI {
			oa, err := f.resolveOpenAlex(ctx, norm)
			switch {
			case err != nil:
				f.logger.Debug("openalex lookup failed", zap.String("doi", norm), zap.Error(err))
			case oa != "":
				docURL = oa
			}
		}
		if docURL == "" {
			return "", fmt.Errorf("cannot resolve a document URL for %q", sourceRef)
		}

		var err error
		text, err = f.download(ctx, docURL, idType.String()+":"+norm)
		if err != nil {
			return "", err
		}
	}

	text = convert.Clean(text, f.cfg.MaxContentBytes)
	if err := convert.Validate(text); err != nil {
		return "", fmt.Errorf("%s: %w", sourceRef, err)
	}
	return text, nil
}

// download fetches docURL and converts the body to text according to its
// content type. PDFs are staged in a temporary file for the converter.
func (f *Fetcher) download(ctx context.Context, docURL, key string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, docURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "application/pdf, text/html;q=0.8, text/plain;q=0.5")

	resp, err := httputil.DoWithRetry(ctx, f.client, req, 0)
	if err != nil {
		return "", fmt.Errorf("HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d from %s", resp.StatusCode, docURL)
	}

	body := bufio.NewReader(io.LimitReader(resp.Body, maxDownloadBytes))
	head, _ := body.Peek(5)
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))

	switch {
	case bytes.HasPrefix(head, []byte("%PDF-")) || mediaType == "application/pdf":
		return f.convertPDF(ctx, body, key)
	case mediaType == "text/html" || mediaType == "application/xhtml+xml":
		return convert.HTMLText(body)
	case strings.HasPrefix(mediaType, "text/"):
		data, err := io.ReadAll(body)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", docURL, err)
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("%w %q from %s", ErrUnsupportedContent, mediaType, docURL)
	}
}

func (f *Fetcher) convertPDF(ctx context.Context, body io.Reader, key string) (string, error) {
	if f.cfg.WorkDir != "" {
		if err := os.MkdirAll(f.cfg.WorkDir, 0o755); err != nil {
			return "", fmt.Errorf("creating work directory %s: %w", f.cfg.WorkDir, err)
		}
	}

	tmpFile, err := os.CreateTemp(f.cfg.WorkDir, ".fetch-"+Slug(key)+"-*.pdf")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	_, copyErr := io.Copy(tmpFile, body)
	closeErr := tmpFile.Close()
	if copyErr != nil {
		return "", fmt.Errorf("writing download: %w", copyErr)
	}
	if closeErr != nil {
		return "", fmt.Errorf("closing temp file: %w", closeErr)
	}

	return f.converter.Convert(ctx, tmpPath)
}
