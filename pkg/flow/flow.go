// Package flow handles parsing and representation of UI interaction flows.
package flow

import "fmt"

// DefaultFlowIndex is used for output paths when a flow has no index.
const DefaultFlowIndex = 1

// Flow is an ordered script of steps plus flow-level options.
type Flow struct {
	SourcePath string // Path to the source file, empty for programmatic flows
	Config     Config // Flow options
	Steps      []Step // Steps to execute, in order
}

// Config holds flow-level options.
type Config struct {
	Name      string   `yaml:"name"`
	Tags      []string `yaml:"tags"`
	FlowIndex int      `yaml:"flowIndex"` // Identity for output paths

	// Output gates; each enables a side-effecting artifact write.
	OutputToFile       bool `yaml:"outputToFile"`       // Page HTML dumps
	OutputScreenshot   bool `yaml:"outputScreenshot"`   // Final screenshot
	OutputResultToFile bool `yaml:"outputResultToFile"` // result.json and logs
	Tracing            bool `yaml:"tracing"`            // Per-flow trace file
}

// Index returns the flow index, defaulting to DefaultFlowIndex.
func (f *Flow) Index() int {
	if f.Config.FlowIndex <= 0 {
		return DefaultFlowIndex
	}
	return f.Config.FlowIndex
}

// AssignIndexes numbers the flows of one batch so each owns a distinct
// flow-N output directory. Explicit indexes are kept and must be unique;
// flows without one get the lowest free indexes, in order.
func AssignIndexes(flows []*Flow) error {
	owner := make(map[int]*Flow, len(flows))
	for _, f := range flows {
		n := f.Config.FlowIndex
		if n <= 0 {
			continue
		}
		if prev, ok := owner[n]; ok {
			return fmt.Errorf("flowIndex %d is used by both %s and %s", n, prev.DisplayName(), f.DisplayName())
		}
		owner[n] = f
	}

	next := 1
	for _, f := range flows {
		if f.Config.FlowIndex > 0 {
			continue
		}
		for owner[next] != nil {
			next++
		}
		f.Config.FlowIndex = next
		owner[next] = f
	}
	return nil
}

// DisplayName returns the configured name, the source path, or a generic
// label for programmatic flows.
func (f *Flow) DisplayName() string {
	switch {
	case f.Config.Name != "":
		return f.Config.Name
	case f.SourcePath != "":
		return f.SourcePath
	default:
		return "flow"
	}
}

// ShouldIncludeFlow checks a flow's tags against include/exclude filters.
func ShouldIncludeFlow(flow *Flow, includeTags, excludeTags []string) bool {
	if len(includeTags) > 0 {
		hasTag := false
		for _, tag := range flow.Config.Tags {
			for _, include := range includeTags {
				if tag == include {
					hasTag = true
					break
				}
			}
		}
		if !hasTag {
			return false
		}
	}

	for _, tag := range flow.Config.Tags {
		for _, exclude := range excludeTags {
			if tag == exclude {
				return false
			}
		}
	}

	return true
}
