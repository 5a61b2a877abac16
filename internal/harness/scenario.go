// Package harness runs declarative scenarios against a full engine:
// each scenario is a YAML file describing a sequence of store
// operations and the assertions that must hold afterward. Scenario
// traces are compared against golden files for regression coverage.
package harness

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines one end-to-end store exercise.
type Scenario struct {
	// Name uniquely identifies the scenario; it names the golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description,omitempty"`

	// Steps run in order against a fresh in-memory engine.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one store operation. Op selects the operation; the other
// fields supply its arguments.
type Step struct {
	Op string `yaml:"op"`

	Graph  string `yaml:"graph,omitempty"`
	Node   string `yaml:"node,omitempty"`
	Orig   string `yaml:"orig,omitempty"`
	Dest   string `yaml:"dest,omitempty"`
	Idx    int64  `yaml:"idx,omitempty"`
	Stat   string `yaml:"stat,omitempty"`
	Value  any    `yaml:"value,omitempty"`
	Branch string `yaml:"branch,omitempty"`
	Turn   int64  `yaml:"turn,omitempty"`
}

// Step operations.
const (
	OpAddGraph     = "add_graph"
	OpAddNode      = "add_node"
	OpRemoveNode   = "remove_node"
	OpAddEdge      = "add_edge"
	OpRemoveEdge   = "remove_edge"
	OpMirrorEdge   = "mirror_edge"
	OpSetGraphStat = "set_graph_stat"
	OpSetNodeStat  = "set_node_stat"
	OpSetEdgeStat  = "set_edge_stat"
	OpDelNodeStat  = "del_node_stat"
	OpNextTurn     = "next_turn"
	OpSetTurn      = "set_turn"
	OpFork         = "fork"
	OpBeginPlan    = "begin_plan"
	OpCommitPlan   = "commit_plan"
	OpAbortPlan    = "abort_plan"
	OpSnapshot     = "snapshot"
	OpFlush        = "flush"
)

// Assertion validates one fact about the final state.
type Assertion struct {
	// Type is one of: graph_stat, node_stat, edge_stat, node_exists,
	// edge_exists.
	Type string `yaml:"type"`

	Graph string `yaml:"graph,omitempty"`
	Node  string `yaml:"node,omitempty"`
	Orig  string `yaml:"orig,omitempty"`
	Dest  string `yaml:"dest,omitempty"`
	Idx   int64  `yaml:"idx,omitempty"`
	Stat  string `yaml:"stat,omitempty"`

	// Equals is the expected value for stat assertions.
	Equals any `yaml:"equals,omitempty"`
	// Absent expects the stat to read as deleted or never set.
	Absent bool `yaml:"absent,omitempty"`
	// Exists is the expected answer for existence assertions.
	Exists bool `yaml:"exists,omitempty"`
}

// LoadScenario reads and validates a scenario YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing scenario %s: %w", path, err)
	}
	if s.Name == "" {
		return nil, fmt.Errorf("scenario %s: missing name", path)
	}
	if len(s.Steps) == 0 {
		return nil, fmt.Errorf("scenario %s: no steps", path)
	}
	for i, st := range s.Steps {
		if st.Op == "" {
			return nil, fmt.Errorf("scenario %s: step %d missing op", path, i)
		}
	}
	return &s, nil
}
