// Package seed loads CUE world-seed files and applies them to an
// engine. A seed is declarative initial state: graphs, their nodes and
// edges, and the stats on each. The embedded schema validates shape
// before anything touches the store.
package seed

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/TacticalMetaphysics/eidetic/internal/engine"
	"github.com/TacticalMetaphysics/eidetic/internal/graph"
	"github.com/TacticalMetaphysics/eidetic/internal/value"
)

//go:embed schema.cue
var schemaSource string

// Error is a seed loading or validation failure.
type Error struct {
	Path    string
	Message string
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("seed %s: %s", e.Path, e.Message)
	}
	return "seed: " + e.Message
}

// EdgeSeed is one declared edge.
type EdgeSeed struct {
	Orig   string         `json:"orig"`
	Dest   string         `json:"dest"`
	Idx    int64          `json:"idx"`
	Mirror bool           `json:"mirror"`
	Stats  map[string]any `json:"stats"`
}

// GraphSeed is one declared graph.
type GraphSeed struct {
	Stats map[string]any            `json:"stats"`
	Nodes map[string]map[string]any `json:"nodes"`
	Edges []EdgeSeed                `json:"edges"`
}

// Seed is a full parsed world seed.
type Seed struct {
	Graphs map[string]GraphSeed `json:"graphs"`
}

// Load parses and validates the CUE seed at dir (a directory of .cue
// files, or a single file).
func Load(dir string) (*Seed, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, &Error{Path: dir, Message: err.Error()}
	}
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, &Error{Message: fmt.Sprintf("internal schema: %v", err)}
	}

	var val cue.Value
	if info.IsDir() {
		instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
		if len(instances) == 0 {
			return nil, &Error{Path: dir, Message: "no CUE instances"}
		}
		if instances[0].Err != nil {
			return nil, &Error{Path: dir, Message: instances[0].Err.Error()}
		}
		val = ctx.BuildInstance(instances[0])
	} else {
		src, err := os.ReadFile(dir)
		if err != nil {
			return nil, &Error{Path: dir, Message: err.Error()}
		}
		val = ctx.CompileBytes(src, cue.Filename(filepath.Base(dir)))
	}
	if err := val.Err(); err != nil {
		return nil, &Error{Path: dir, Message: err.Error()}
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, &Error{Path: dir, Message: err.Error()}
	}

	var s Seed
	if err := unified.Decode(&s); err != nil {
		return nil, &Error{Path: dir, Message: fmt.Sprintf("decoding: %v", err)}
	}
	return &s, nil
}

// Apply writes the seed into the engine at its cursor. Graphs are
// created if missing; everything lands in deterministic order so two
// applications of the same seed produce identical logs.
func Apply(e *engine.Engine, s *Seed) error {
	for _, g := range sortedKeys(s.Graphs) {
		gs := s.Graphs[g]
		if !e.HasGraph(g) {
			if err := e.AddGraph(g); err != nil {
				return err
			}
		}
		for _, stat := range sortedKeys(gs.Stats) {
			v, ok := value.FromAny(gs.Stats[stat])
			if !ok {
				return &Error{Message: fmt.Sprintf("graph %s stat %s: unrepresentable value", g, stat)}
			}
			if err := e.SetGraphStat(g, stat, v); err != nil {
				return err
			}
		}
		for _, node := range sortedKeys(gs.Nodes) {
			if err := e.AddNode(g, node); err != nil {
				return err
			}
			stats := gs.Nodes[node]
			for _, stat := range sortedKeys(stats) {
				v, ok := value.FromAny(stats[stat])
				if !ok {
					return &Error{Message: fmt.Sprintf("node %s.%s stat %s: unrepresentable value", g, node, stat)}
				}
				if err := e.SetNodeStat(g, node, stat, v); err != nil {
					return err
				}
			}
		}
		for _, es := range gs.Edges {
			ref := graph.EdgeRef{Orig: es.Orig, Dest: es.Dest, Idx: es.Idx}
			if es.Mirror {
				if err := e.MirrorEdge(g, ref); err != nil {
					return err
				}
			} else if err := e.AddEdge(g, ref); err != nil {
				return err
			}
			for _, stat := range sortedKeys(es.Stats) {
				v, ok := value.FromAny(es.Stats[stat])
				if !ok {
					return &Error{Message: fmt.Sprintf("edge %s/%s stat %s: unrepresentable value", g, ref, stat)}
				}
				if err := e.SetEdgeStat(g, ref, stat, v); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
