// Package query implements the Query Engine: symbol resolution,
// reference/caller/inheritance/dependency traversals, and content search.
// Every traversal is a bounded, cycle-safe BFS; fuzzy symbol matching uses
// github.com/xrash/smetrics's Jaro-Winkler scorer.
package query

import (
	"sort"
	"strings"
	"time"

	"github.com/xrash/smetrics"

	"github.com/polygraph/engine/internal/content"
	"github.com/polygraph/engine/internal/model"
	"github.com/polygraph/engine/internal/store"
	"github.com/polygraph/engine/internal/xerrors"
)

const (
	fuzzyThreshold      = 0.8
	maxFuzzySuggestions = 5

	traceCallersDefaultDepth = 8
	traceCallersHardCap      = 32

	// Cooperative deadlines; bounded traversals check between levels and
	// content search checks once around the index call.
	traversalTimeout     = 5 * time.Second
	contentSearchTimeout = 2 * time.Second
)

// Engine answers structural queries over a Graph Store and Content Index.
type Engine struct {
	store   *store.Store
	content *content.Index

	// traversalMaxDepth is the default depth and hard cap of TraceInheritance
	// and AnalyzeTransitiveDependencies; TraceCallers uses its own fixed
	// default and cap, and symbol resolution ignores it.
	traversalMaxDepth int
}

// New returns an Engine backed by st and idx, enforcing traversalMaxDepth on
// TraceInheritance and AnalyzeTransitiveDependencies (0 uses the default of
// 32).
func New(st *store.Store, idx *content.Index, traversalMaxDepth int) *Engine {
	if traversalMaxDepth <= 0 {
		traversalMaxDepth = 32
	}
	return &Engine{store: st, content: idx, traversalMaxDepth: traversalMaxDepth}
}

// ResolveContext carries optional disambiguation hints.
type ResolveContext struct {
	FileHint  string
	ScopeHint string
}

// ResolveSymbol implements the three-stage strategy: exact match,
// then Jaro-Winkler fuzzy match (score >= 0.8), then trailing-segment
// partial match. Multiple candidates are disambiguated by ctx hints, then by
// highest incoming-edge count, then by lexicographic NodeId.
func (e *Engine) ResolveSymbol(name string, ctx ResolveContext) (model.NodeID, error) {
	if exact := e.store.LookupSymbol(name); len(exact) > 0 {
		return e.disambiguate(exact, ctx), nil
	}

	allNames := e.store.AllSymbolNames()

	type scored struct {
		name  string
		score float64
	}
	var fuzzy []scored
	for _, candidate := range allNames {
		score := smetrics.JaroWinkler(strings.ToLower(name), strings.ToLower(candidate), 0.7, 4)
		if score >= fuzzyThreshold {
			fuzzy = append(fuzzy, scored{name: candidate, score: score})
		}
	}
	if len(fuzzy) > 0 {
		sort.Slice(fuzzy, func(i, j int) bool { return fuzzy[i].score > fuzzy[j].score })
		var ids []model.NodeID
		for _, ids2 := range e.store.LookupSymbol(fuzzy[0].name) {
			ids = append(ids, ids2)
		}
		return e.disambiguate(ids, ctx), nil
	}

	var partial []string
	for _, candidate := range allNames {
		if strings.HasSuffix(candidate, "."+name) || candidate == name {
			partial = append(partial, candidate)
		}
	}
	if len(partial) > 0 {
		sort.Strings(partial)
		var ids []model.NodeID
		for _, p := range partial {
			ids = append(ids, e.store.LookupSymbol(p)...)
		}
		return e.disambiguate(ids, ctx), nil
	}

	suggestions := topFuzzySuggestions(name, allNames)
	return "", xerrors.SymbolNotFound(name, suggestions)
}

func topFuzzySuggestions(name string, allNames []string) []string {
	type scored struct {
		name  string
		score float64
	}
	var all []scored
	for _, candidate := range allNames {
		all = append(all, scored{candidate, smetrics.JaroWinkler(strings.ToLower(name), strings.ToLower(candidate), 0.7, 4)})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].score > all[j].score })
	out := make([]string, 0, maxFuzzySuggestions)
	for i := 0; i < len(all) && i < maxFuzzySuggestions; i++ {
		out = append(out, all[i].name)
	}
	return out
}

func (e *Engine) disambiguate(candidates []model.NodeID, ctx ResolveContext) model.NodeID {
	if len(candidates) == 1 {
		return candidates[0]
	}
	if ctx.FileHint != "" {
		for _, id := range candidates {
			if n, ok := e.store.GetNode(id); ok && n.File == ctx.FileHint {
				return id
			}
		}
	}
	best := candidates[0]
	bestIncoming := len(e.store.EdgesTo(best))
	for _, id := range candidates[1:] {
		incoming := len(e.store.EdgesTo(id))
		if incoming > bestIncoming || (incoming == bestIncoming && id < best) {
			best = id
			bestIncoming = incoming
		}
	}
	return best
}

// FindReferences returns every node with an outgoing References/Calls/
// Reads/Writes edge targeting id, deduplicated, NodeId-ordered.
func (e *Engine) FindReferences(id model.NodeID) []model.NodeID {
	seen := map[model.NodeID]bool{}
	var out []model.NodeID
	for _, edge := range e.store.EdgesTo(id) {
		switch edge.Kind {
		case model.EdgeKindReferences, model.EdgeKindCalls, model.EdgeKindReads, model.EdgeKindWrites:
			if !seen[edge.Source] {
				seen[edge.Source] = true
				out = append(out, edge.Source)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// TraceLevel is one level of a bounded-BFS tree result.
type TraceLevel struct {
	Depth int
	Nodes []model.NodeID
}

// TraceCallers performs a bounded BFS over reverse Call edges. A negative
// maxDepth means the caller left it unset and selects the default of 8;
// zero is honored literally and returns only the input node. Values above
// the hard cap of 32 fail with BoundExceeded.
func (e *Engine) TraceCallers(id model.NodeID, maxDepth int) ([]TraceLevel, error) {
	if maxDepth < 0 {
		maxDepth = traceCallersDefaultDepth
	}
	if maxDepth > traceCallersHardCap {
		return nil, xerrors.BoundExceeded("trace_callers", maxDepth, traceCallersHardCap)
	}
	return e.bfs("trace_callers", id, maxDepth, func(n model.NodeID) []model.NodeID {
		var next []model.NodeID
		for _, edge := range e.store.EdgesTo(n) {
			if edge.Kind == model.EdgeKindCalls {
				next = append(next, edge.Source)
			}
		}
		return next
	})
}

// InheritanceDirection selects which edges trace_inheritance follows.
type InheritanceDirection string

const (
	DirectionUp   InheritanceDirection = "up"
	DirectionDown InheritanceDirection = "down"
	DirectionBoth InheritanceDirection = "both"
)

// TraceInheritance performs a bounded, cycle-safe traversal over Inherits/
// Implements edges in the requested direction. A negative maxDepth selects
// the configured default; zero returns only the input node.
func (e *Engine) TraceInheritance(id model.NodeID, direction InheritanceDirection, maxDepth int) ([]TraceLevel, error) {
	if maxDepth < 0 {
		maxDepth = e.traversalMaxDepth
	}
	if maxDepth > e.traversalMaxDepth {
		return nil, xerrors.BoundExceeded("trace_inheritance", maxDepth, e.traversalMaxDepth)
	}
	return e.bfs("trace_inheritance", id, maxDepth, func(n model.NodeID) []model.NodeID {
		var next []model.NodeID
		if direction == DirectionUp || direction == DirectionBoth {
			for _, edge := range e.store.EdgesFrom(n) {
				if edge.Kind == model.EdgeKindInherits || edge.Kind == model.EdgeKindImplements {
					next = append(next, edge.Target)
				}
			}
		}
		if direction == DirectionDown || direction == DirectionBoth {
			for _, edge := range e.store.EdgesTo(n) {
				if edge.Kind == model.EdgeKindInherits || edge.Kind == model.EdgeKindImplements {
					next = append(next, edge.Source)
				}
			}
		}
		return next
	})
}

// AnalyzeTransitiveDependencies performs a bounded BFS over Import edges
// from a module/file node, returning the dependency closure as a set. A
// negative maxDepth selects the configured default; zero returns only the
// input node.
func (e *Engine) AnalyzeTransitiveDependencies(moduleID model.NodeID, maxDepth int) ([]model.NodeID, error) {
	if maxDepth < 0 {
		maxDepth = e.traversalMaxDepth
	}
	if maxDepth > e.traversalMaxDepth {
		return nil, xerrors.BoundExceeded("analyze_transitive_dependencies", maxDepth, e.traversalMaxDepth)
	}
	levels, err := e.bfs("analyze_transitive_dependencies", moduleID, maxDepth, func(n model.NodeID) []model.NodeID {
		var next []model.NodeID
		for _, edge := range e.store.EdgesFrom(n) {
			if edge.Kind == model.EdgeKindImports {
				next = append(next, edge.Target)
			}
		}
		return next
	})
	if err != nil {
		return nil, err
	}
	seen := map[model.NodeID]bool{}
	var out []model.NodeID
	for _, lvl := range levels {
		for _, n := range lvl.Nodes {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// bfs is the shared bounded, cycle-safe, depth-leveled BFS every traversal
// operation builds on. depth 0 returns {input} only. The deadline is checked
// between levels, never mid-level; a timed-out traversal returns only the
// Timeout error, with no partial levels.
func (e *Engine) bfs(op string, start model.NodeID, maxDepth int, neighbors func(model.NodeID) []model.NodeID) ([]TraceLevel, error) {
	began := time.Now()
	visited := map[model.NodeID]bool{start: true}
	levels := []TraceLevel{{Depth: 0, Nodes: []model.NodeID{start}}}
	frontier := []model.NodeID{start}

	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		if elapsed := time.Since(began); elapsed > traversalTimeout {
			return nil, xerrors.Timeout(op, elapsed.Milliseconds())
		}
		var next []model.NodeID
		for _, n := range frontier {
			for _, candidate := range neighbors(n) {
				if !visited[candidate] {
					visited[candidate] = true
					next = append(next, candidate)
				}
			}
		}
		if len(next) == 0 {
			break
		}
		sort.Slice(next, func(i, j int) bool { return next[i] < next[j] })
		levels = append(levels, TraceLevel{Depth: depth, Nodes: next})
		frontier = next
	}
	return levels, nil
}

// SearchResult annotates a content.Chunk with its containing Module NodeId,
// when the file is present in the Graph Store.
type SearchResult struct {
	Chunk            content.Chunk
	ContainingModule model.NodeID
}

// SearchContent delegates to the Content Index and joins results with
// by_file to annotate the containing Module NodeId.
func (e *Engine) SearchContent(q string, filters content.SearchFilters) ([]SearchResult, error) {
	began := time.Now()
	chunks, err := e.content.Search(q, filters)
	if err != nil {
		return nil, xerrors.InvalidParams(err.Error())
	}
	if elapsed := time.Since(began); elapsed > contentSearchTimeout {
		return nil, xerrors.Timeout("search_content", elapsed.Milliseconds())
	}
	out := make([]SearchResult, 0, len(chunks))
	for _, c := range chunks {
		var moduleID model.NodeID
		for _, n := range e.store.NodesInFile(c.Path) {
			if n.Kind == model.NodeKindModule {
				moduleID = n.ID
				break
			}
		}
		out = append(out, SearchResult{Chunk: c, ContainingModule: moduleID})
	}
	return out, nil
}
