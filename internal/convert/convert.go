// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package convert turns fetched documents into plain text for analysis.
// PDF conversion is pluggable: an in-process text extractor or the
// markitdown container image.
package convert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pdiddy/deep-research/internal/container"
	"github.com/pdiddy/deep-research/pkg/types"
)

// ErrNoText is returned when a document yields no extractable text.
var ErrNoText = errors.New("no extractable text")

// ErrLowQuality is returned when extracted text is too short or too sparse
// in letters and digits to count as a document.
var ErrLowQuality = errors.New("extracted text below quality threshold")

// MinTextChars is the shortest extraction accepted as a document. At least
// 30% of that many characters must be letters or digits.
const MinTextChars = 50

// Converter transforms a PDF file into text. Different backends
// (pdftext, markitdown) implement this interface.
type Converter interface {
	// Convert reads a PDF at pdfPath and returns its text content.
	Convert(ctx context.Context, pdfPath string) (string, error)
}

// New returns the converter selected by kind. The markitdown converter
// needs a working container runtime; detect is called only for it.
func New(kind types.ConverterKind, detect func() (container.Runtime, error)) (Converter, error) {
	switch kind {
	case "", types.ConverterPDFText:
		return PDFTextConverter{}, nil
	case types.ConverterMarkitdown:
		rt, err := detect()
		if err != nil {
			return nil, err
		}
		return NewMarkitdownConverter(rt)
	default:
		return nil, fmt.Errorf("unknown converter %q (want pdftext or markitdown)", kind)
	}
}

// Clean drops NUL and other non-printing control characters, collapses runs
// of blank lines, and truncates to maxBytes on a rune boundary. A maxBytes of
// zero disables truncation.
func Clean(text string, maxBytes int) string {
	var b strings.Builder
	b.Grow(len(text))
	blank := 0
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(stripControls(line))
		if line == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	out := strings.TrimSpace(b.String())

	if maxBytes > 0 && len(out) > maxBytes {
		cut := maxBytes
		for cut > 0 && !utf8.RuneStart(out[cut]) {
			cut--
		}
		out = out[:cut]
	}
	return out
}

// Validate checks cleaned text against the quality threshold.
func Validate(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrNoText
	}
	if n := utf8.RuneCountInString(text); n < MinTextChars {
		return fmt.Errorf("%w: %d characters, want at least %d", ErrLowQuality, n, MinTextChars)
	}
	alnum := 0
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			alnum++
		}
	}
	if alnum*10 < MinTextChars*3 {
		return fmt.Errorf("%w: %d letters or digits", ErrLowQuality, alnum)
	}
	return nil
}

func stripControls(s string) string {
	if !strings.ContainsFunc(s, isControl) {
		return s
	}
	return strings.Map(func(r rune) rune {
		if isControl(r) {
			return -1
		}
		return r
	}, s)
}

func isControl(r rune) bool {
	return r < 0x20 && r != '\t' && r != '\n' || r == utf8.RuneError || r == 0x7f
}
