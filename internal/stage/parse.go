// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package stage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var errNoJSON = errors.New("no JSON object in response")

// decode extracts the JSON object from text and unmarshals it into v.
// Markdown code fences and prose around the object are tolerated.
func decode(text string, v any) error {
	obj, err := extractJSON(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(obj), v); err != nil {
		return fmt.Errorf("parsing response JSON: %w", err)
	}
	return nil
}

// extractJSON returns the outermost {...} span of text.
func extractJSON(text string) (string, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return "", errNoJSON
	}
	return text[start : end+1], nil
}
