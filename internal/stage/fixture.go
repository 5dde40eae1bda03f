// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package stage

import (
	"context"
	"fmt"
	"os"
	"sync"

	"go.yaml.in/yaml/v3"
)

// FixtureCollaborator replays canned responses per request kind. Responses
// for a kind are consumed in order and the last one repeats, so a run against
// the same fixtures is reproducible offline.
type FixtureCollaborator struct {
	mu        sync.Mutex
	responses map[Kind][]string
	calls     map[Kind]int
}

// NewFixtureCollaborator creates a collaborator from in-memory responses.
func NewFixtureCollaborator(responses map[Kind][]string) *FixtureCollaborator {
	return &FixtureCollaborator{
		responses: responses,
		calls:     make(map[Kind]int),
	}
}

// LoadFixtures reads a YAML file mapping request kinds to response lists:
//
//	plan:
//	  - '{"approach": "focused_deep_dive", "sub_topics": [...]}'
//	critique:
//	  - '{"verdict": "revise", ...}'
//	  - '{"verdict": "approved", ...}'
func LoadFixtures(path string) (*FixtureCollaborator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixtures: %w", err)
	}
	var responses map[Kind][]string
	if err := yaml.Unmarshal(data, &responses); err != nil {
		return nil, fmt.Errorf("parsing fixtures %s: %w", path, err)
	}
	return NewFixtureCollaborator(responses), nil
}

// Complete returns the next canned response for the request kind.
func (f *FixtureCollaborator) Complete(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	list := f.responses[req.Kind]
	if len(list) == 0 {
		return "", fmt.Errorf("no fixture for stage kind %q", req.Kind)
	}
	i := f.calls[req.Kind]
	f.calls[req.Kind]++
	if i >= len(list) {
		i = len(list) - 1
	}
	return list[i], nil
}

// Calls returns how many requests of kind have been answered.
func (f *FixtureCollaborator) Calls(kind Kind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[kind]
}
