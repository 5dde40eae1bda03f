// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"fmt"
	"os"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/deep-research/pkg/types"
)

const dateFmt = "2006-01-02"

// TraceFile is the on-disk record of one discovery: the sub-topic searched,
// the bounds in force, every query attempted, and the papers selected. It
// lets a researcher audit how the query was refined without re-querying
// the APIs.
type TraceFile struct {
	SubTopic  types.SubTopic  `yaml:"sub_topic"`
	Config    TraceConfig     `yaml:"config"`
	Discovery types.Discovery `yaml:"discovery"`
	Timestamp time.Time       `yaml:"timestamp"`
}

// TraceConfig stores the settings that shaped the discovery.
type TraceConfig struct {
	MaxResults     int      `yaml:"max_results"`
	LowerBound     int      `yaml:"lower_bound"`
	UpperBound     int      `yaml:"upper_bound"`
	MaxRefinements int      `yaml:"max_refinements"`
	TopN           int      `yaml:"top_n"`
	Backends       []string `yaml:"backends"`
}

// NewTrace builds the trace record for a discovery run by a.
func (a *Aggregator) NewTrace(st types.SubTopic, d types.Discovery) TraceFile {
	tf := TraceFile{
		SubTopic:  st,
		Discovery: d,
		Timestamp: a.now().UTC(),
		Config: TraceConfig{
			MaxResults:     a.cfg.MaxResults,
			LowerBound:     a.cfg.LowerBound,
			UpperBound:     a.cfg.UpperBound,
			MaxRefinements: a.cfg.MaxRefinements,
			TopN:           a.cfg.TopN,
		},
	}
	for _, b := range a.backends {
		tf.Config.Backends = append(tf.Config.Backends, b.Name())
	}
	return tf
}

// WriteTraceFile saves a trace to a YAML file.
func WriteTraceFile(path string, tf TraceFile) error {
	data, err := yaml.Marshal(&tf)
	if err != nil {
		return fmt.Errorf("marshaling trace file: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadTraceFile loads a previously saved trace file from disk.
func ReadTraceFile(path string) (*TraceFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading trace file: %w", err)
	}
	var tf TraceFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parsing trace file: %w", err)
	}
	return &tf, nil
}
