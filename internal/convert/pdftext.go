// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package convert

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFTextConverter extracts the plain text layer of a PDF in process.
type PDFTextConverter struct{}

// Convert implements Converter. The context is checked before the read
// starts; the pdf reader itself is not interruptible.
func (PDFTextConverter) Convert(ctx context.Context, pdfPath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f, r, err := pdf.Open(pdfPath)
	if err != nil {
		return "", fmt.Errorf("opening PDF %s: %w", pdfPath, err)
	}
	defer f.Close()

	reader, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting text from %s: %w", pdfPath, err)
	}

	var buf strings.Builder
	if _, err := io.Copy(&buf, reader); err != nil {
		return "", fmt.Errorf("reading text from %s: %w", pdfPath, err)
	}

	text := strings.TrimSpace(buf.String())
	if text == "" {
		return "", fmt.Errorf("%s: %w", pdfPath, ErrNoText)
	}
	return text, nil
}
