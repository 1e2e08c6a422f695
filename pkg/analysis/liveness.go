package analysis

import "lumenc/pkg/cfg"

// LivenessContext holds the live-in/live-out sets computed for one
// function by the standard backward dataflow fixed point: LiveOut(n) =
// union of LiveIn(successors), LiveIn(n) = Uses(n) ∪ (LiveOut(n) -
// Defs(n)). The free-point placer (pkg/placer) consumes these sets to
// find each variable's last use.
type LivenessContext struct {
	LiveIn  map[int]map[string]bool
	LiveOut map[int]map[string]bool
}

func NewLivenessContext() *LivenessContext {
	return &LivenessContext{
		LiveIn:  make(map[int]map[string]bool),
		LiveOut: make(map[int]map[string]bool),
	}
}

// Analyze runs the fixed point over f's nodes until no LiveIn set
// changes. f.Nodes must already have Defs/Uses populated (BuildFunc
// fills these in as it lowers each statement).
func (ctx *LivenessContext) Analyze(f *cfg.Func) {
	for id := range f.Nodes {
		ctx.LiveIn[id] = map[string]bool{}
		ctx.LiveOut[id] = map[string]bool{}
	}

	changed := true
	for changed {
		changed = false
		for id, node := range f.Nodes {
			out := map[string]bool{}
			for _, succ := range f.Successors(id) {
				for v := range ctx.LiveIn[succ] {
					out[v] = true
				}
			}
			if node.Term.Kind == cfg.Return && node.Term.HasResult {
				out[node.Term.ResultVar] = true
			}

			in := map[string]bool{}
			for v := range node.Uses {
				in[v] = true
			}
			for v := range out {
				if !node.Defs[v] {
					in[v] = true
				}
			}

			if !setEqual(ctx.LiveOut[id], out) {
				ctx.LiveOut[id] = out
				changed = true
			}
			if !setEqual(ctx.LiveIn[id], in) {
				ctx.LiveIn[id] = in
				changed = true
			}
		}
	}
}

// LastUsesIn returns, for node id, the variables defined or used in
// that node which are not live-out of it — i.e. the node is their last
// use, and the placer should free them here (in LIFO order over the
// node's statement list).
func (ctx *LivenessContext) LastUsesIn(f *cfg.Func, id int) []string {
	node := f.Nodes[id]
	if node == nil {
		return nil
	}
	out := ctx.LiveOut[id]
	var dying []string
	seen := map[string]bool{}
	// Walk statements in reverse (LIFO) order; a def not live-out and
	// not already queued dies at this point.
	for i := len(node.Stmts) - 1; i >= 0; i-- {
		stmt := node.Stmts[i]
		if stmt.DestVar == "" {
			continue
		}
		if out[stmt.DestVar] {
			continue
		}
		if seen[stmt.DestVar] {
			continue
		}
		seen[stmt.DestVar] = true
		dying = append(dying, stmt.DestVar)
	}
	return dying
}

func setEqual(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}
