// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package convert

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/pdiddy/deep-research/internal/container"
)

const imageMarkitdown = "markitdown:latest"

// MarkitdownConverter converts PDFs by piping them through the markitdown
// container image on an injected container.Runtime (docker or podman).
type MarkitdownConverter struct {
	runtime container.Runtime
}

// NewMarkitdownConverter verifies that the markitdown image exists locally
// before returning.
func NewMarkitdownConverter(rt container.Runtime) (*MarkitdownConverter, error) {
	if err := rt.ImageExists(imageMarkitdown); err != nil {
		return nil, fmt.Errorf("markitdown image not available in %s: %w", rt.Name(), err)
	}
	return &MarkitdownConverter{runtime: rt}, nil
}

// Convert pipes the PDF at pdfPath through the container and returns the
// Markdown it prints. The container is killed when ctx ends.
func (m *MarkitdownConverter) Convert(ctx context.Context, pdfPath string) (string, error) {
	f, err := os.Open(pdfPath)
	if err != nil {
		return "", fmt.Errorf("opening PDF %s: %w", pdfPath, err)
	}
	defer f.Close()

	var out bytes.Buffer
	if err := m.runtime.Run(ctx, imageMarkitdown, f, &out); err != nil {
		return "", fmt.Errorf("converting %s with markitdown: %w", pdfPath, err)
	}

	if len(bytes.TrimSpace(out.Bytes())) == 0 {
		return "", fmt.Errorf("markitdown output for %s: %w", pdfPath, ErrNoText)
	}
	return out.String(), nil
}
