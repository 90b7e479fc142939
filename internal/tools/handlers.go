package tools

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/polygraph/engine/internal/content"
	"github.com/polygraph/engine/internal/model"
	"github.com/polygraph/engine/internal/query"
	"github.com/polygraph/engine/internal/xerrors"
)

// RepositoryStats answers repository_stats: counts by NodeKind, by
// language, and file/chunk counts.
func (s *Service) RepositoryStats(_ context.Context, _ *mcp.CallToolRequest, _ RepositoryStatsInput) (*mcp.CallToolResult, RepositoryStatsOutput, error) {
	stats := s.store.Stats()
	chunkCount, _ := s.content.Stats()

	byKind := make(map[string]int, len(stats.ByKind))
	byLanguage := make(map[string]int)
	for kind, count := range stats.ByKind {
		byKind[string(kind)] = count
		for _, n := range s.store.NodesOfKind(kind) {
			byLanguage[string(n.Language)]++
		}
	}

	return nil, RepositoryStatsOutput{
		NodeCount:  stats.NodeCount,
		EdgeCount:  stats.EdgeCount,
		FileCount:  stats.FileCount,
		ChunkCount: chunkCount,
		ByKind:     byKind,
		ByLanguage: byLanguage,
	}, nil
}

// ExplainSymbol answers explain_symbol: the resolved Node plus its
// immediate neighborhood, incoming and outgoing edges grouped by EdgeKind
//.
func (s *Service) ExplainSymbol(_ context.Context, _ *mcp.CallToolRequest, in ExplainSymbolInput) (*mcp.CallToolResult, ExplainSymbolOutput, error) {
	n, err := s.resolveTarget(in.symbol(), in.file())
	if err != nil {
		return nil, ExplainSymbolOutput{Error: toolError(err)}, nil
	}

	incoming := make(map[string][]NodeSummary)
	for _, e := range s.store.EdgesTo(n.ID) {
		if src, ok := s.store.GetNode(e.Source); ok {
			incoming[string(e.Kind)] = append(incoming[string(e.Kind)], summarize(src))
		}
	}
	outgoing := make(map[string][]NodeSummary)
	for _, e := range s.store.EdgesFrom(n.ID) {
		if tgt, ok := s.store.GetNode(e.Target); ok {
			outgoing[string(e.Kind)] = append(outgoing[string(e.Kind)], summarize(tgt))
		}
	}

	summary := summarize(n)
	return nil, ExplainSymbolOutput{Node: &summary, Incoming: incoming, Outgoing: outgoing}, nil
}

// SearchSymbols answers search_symbols: substring match over symbol names,
// optionally filtered by kind and file_glob. Cached per
// per_tool_ttl_seconds["search_symbols"].
func (s *Service) SearchSymbols(_ context.Context, _ *mcp.CallToolRequest, in SearchSymbolsInput) (*mcp.CallToolResult, SearchSymbolsOutput, error) {
	if in.Query == "" {
		return nil, SearchSymbolsOutput{Error: toolError(xerrors.InvalidParams("query is required"))}, nil
	}
	limit := in.Limit
	if limit <= 0 {
		limit = 20
	}
	if in.FileGlob != "" && strings.Contains(in.FileGlob, "..") {
		return nil, SearchSymbolsOutput{Error: toolError(xerrors.InvalidParams("file_glob traverses outside the repository root: " + in.FileGlob))}, nil
	}

	key := fmt.Sprintf("%s|%s|%s|%d", in.Query, in.Kind, in.FileGlob, limit)
	out, err := cached(s, "search_symbols", key, func() (SearchSymbolsOutput, error) {
		return s.searchSymbols(in.Query, in.Kind, in.FileGlob, limit)
	})
	if err != nil {
		return nil, SearchSymbolsOutput{Error: toolError(err)}, nil
	}
	return nil, out, nil
}

func (s *Service) searchSymbols(substr, kind, fileGlob string, limit int) (SearchSymbolsOutput, error) {
	lowerQuery := strings.ToLower(substr)
	seen := map[model.NodeID]bool{}
	var matches []NodeSummary

	names := s.store.AllSymbolNames()
	sort.Strings(names)
	for _, name := range names {
		if !strings.Contains(strings.ToLower(name), lowerQuery) {
			continue
		}
		for _, id := range s.store.LookupSymbol(name) {
			if seen[id] {
				continue
			}
			seen[id] = true
			n, ok := s.store.GetNode(id)
			if !ok {
				continue
			}
			if kind != "" && string(n.Kind) != kind {
				continue
			}
			if fileGlob != "" {
				matched, err := filepath.Match(fileGlob, n.File)
				if err != nil || !matched {
					continue
				}
			}
			matches = append(matches, summarize(n))
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })

	total := len(matches)
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return SearchSymbolsOutput{Symbols: matches, Total: total}, nil
}

// FindReferences answers find_references: every reference site for the
// resolved target.
func (s *Service) FindReferences(_ context.Context, _ *mcp.CallToolRequest, in FindReferencesInput) (*mcp.CallToolResult, FindReferencesOutput, error) {
	n, err := s.resolveTarget(in.symbol(), in.file())
	if err != nil {
		return nil, FindReferencesOutput{Error: toolError(err)}, nil
	}
	summaries := s.summariesFor(s.engine.FindReferences(n.ID))
	if in.Limit > 0 && len(summaries) > in.Limit {
		summaries = summaries[:in.Limit]
	}
	target := summarize(n)
	return nil, FindReferencesOutput{Target: &target, References: summaries}, nil
}

func (s *Service) levelsOut(levels []query.TraceLevel) []TraceLevelOutput {
	out := make([]TraceLevelOutput, 0, len(levels))
	for _, lvl := range levels {
		out = append(out, TraceLevelOutput{Depth: lvl.Depth, Nodes: s.summariesFor(lvl.Nodes)})
	}
	return out
}

// TraceCallers answers trace_callers: a bounded BFS tree over reverse Call
// edges.
func (s *Service) TraceCallers(_ context.Context, _ *mcp.CallToolRequest, in TraceCallersInput) (*mcp.CallToolResult, TraceCallersOutput, error) {
	n, err := s.resolveTarget(in.symbol(), in.file())
	if err != nil {
		return nil, TraceCallersOutput{Error: toolError(err)}, nil
	}
	levels, err := s.engine.TraceCallers(n.ID, depthOrUnset(in.MaxDepth))
	if err != nil {
		return nil, TraceCallersOutput{Error: toolError(err)}, nil
	}
	target := summarize(n)
	return nil, TraceCallersOutput{Target: &target, Levels: s.levelsOut(levels)}, nil
}

// TraceInheritance answers trace_inheritance: a bounded, cycle-safe
// traversal over Inherits/Implements edges in the requested direction
//. Cached per per_tool_ttl_seconds["trace_inheritance"].
func (s *Service) TraceInheritance(_ context.Context, _ *mcp.CallToolRequest, in TraceInheritanceInput) (*mcp.CallToolResult, TraceInheritanceOutput, error) {
	n, err := s.resolveTarget(in.symbol(), in.file())
	if err != nil {
		return nil, TraceInheritanceOutput{Error: toolError(err)}, nil
	}
	direction := query.InheritanceDirection(in.Direction)
	if direction == "" {
		direction = query.DirectionBoth
	}

	maxDepth := depthOrUnset(in.MaxDepth)
	key := fmt.Sprintf("%s|%s|%d", n.ID, direction, maxDepth)
	levels, err := cached(s, "trace_inheritance", key, func() ([]query.TraceLevel, error) {
		return s.engine.TraceInheritance(n.ID, direction, maxDepth)
	})
	if err != nil {
		return nil, TraceInheritanceOutput{Error: toolError(err)}, nil
	}
	target := summarize(n)
	return nil, TraceInheritanceOutput{Target: &target, Levels: s.levelsOut(levels)}, nil
}

// AnalyzeTransitiveDependencies answers analyze_transitive_dependencies: a
// bounded BFS over Import edges.
func (s *Service) AnalyzeTransitiveDependencies(_ context.Context, _ *mcp.CallToolRequest, in AnalyzeTransitiveDependenciesInput) (*mcp.CallToolResult, AnalyzeTransitiveDependenciesOutput, error) {
	n, err := s.resolveTarget(in.symbol(), in.file())
	if err != nil {
		return nil, AnalyzeTransitiveDependenciesOutput{Error: toolError(err)}, nil
	}
	deps, err := s.engine.AnalyzeTransitiveDependencies(n.ID, depthOrUnset(in.MaxDepth))
	if err != nil {
		return nil, AnalyzeTransitiveDependenciesOutput{Error: toolError(err)}, nil
	}
	target := summarize(n)
	return nil, AnalyzeTransitiveDependenciesOutput{Target: &target, Dependencies: s.summariesFor(deps)}, nil
}

// AssessImpact answers assess_impact: the blast radius of modifying
// changed_files, via the Update Pipeline's dependency-propagation BFS, with
// a simple affected/total risk score.
func (s *Service) AssessImpact(_ context.Context, _ *mcp.CallToolRequest, in AssessImpactInput) (*mcp.CallToolResult, AssessImpactOutput, error) {
	if len(in.ChangedFiles) == 0 {
		return nil, AssessImpactOutput{Error: toolError(xerrors.InvalidParams("changed_files is required"))}, nil
	}

	affected := make(map[string]bool, len(in.ChangedFiles))
	boundExceeded := false
	for _, f := range in.ChangedFiles {
		affected[f] = true
		result := s.pipeline.Dependents(f, in.MaxDepth)
		for _, d := range result.Dependents {
			affected[d] = true
		}
		if result.BoundExceeded {
			boundExceeded = true
		}
	}

	out := make([]string, 0, len(affected))
	for f := range affected {
		out = append(out, f)
	}
	sort.Strings(out)

	risk := 0.0
	if total := s.store.Stats().FileCount; total > 0 {
		risk = float64(len(out)) / float64(total)
	}

	return nil, AssessImpactOutput{Affected: out, RiskScore: risk, BoundExceeded: boundExceeded}, nil
}

// SearchContent answers search_content: delegates to the Content Index,
// joined with by_file to annotate the containing Module NodeId.
func (s *Service) SearchContent(_ context.Context, _ *mcp.CallToolRequest, in SearchContentInput) (*mcp.CallToolResult, SearchContentOutput, error) {
	if in.Query == "" {
		return nil, SearchContentOutput{Error: toolError(xerrors.InvalidParams("query is required"))}, nil
	}
	results, err := s.engine.SearchContent(in.Query, content.SearchFilters{PathGlob: in.FileGlob, ContentType: in.ContentType})
	if err != nil {
		return nil, SearchContentOutput{Error: toolError(err)}, nil
	}

	out := make([]ContentHitOutput, 0, len(results))
	for _, r := range results {
		out = append(out, ContentHitOutput{
			Path:             r.Chunk.Path,
			StartByte:        r.Chunk.StartByte,
			EndByte:          r.Chunk.EndByte,
			Text:             r.Chunk.Text,
			ContentType:      r.Chunk.ContentType,
			ContainingModule: r.ContainingModule,
		})
	}
	total := len(out)
	if in.Limit > 0 && len(out) > in.Limit {
		out = out[:in.Limit]
	}
	return nil, SearchContentOutput{Results: out, Total: total}, nil
}

// DetectPatterns answers detect_patterns: at scope=repository, import
// clusters computed by internal/cluster; file/module scope currently
// returns an empty pattern list, which is valid under the tool's open
// result schema.
func (s *Service) DetectPatterns(_ context.Context, _ *mcp.CallToolRequest, in DetectPatternsInput) (*mcp.CallToolResult, DetectPatternsOutput, error) {
	switch in.Scope {
	case "repository", "":
		return nil, DetectPatternsOutput{Patterns: s.clusterPatterns()}, nil
	case "file", "module":
		if in.Target == "" {
			return nil, DetectPatternsOutput{Error: toolError(xerrors.InvalidParams("target is required when scope is " + in.Scope))}, nil
		}
		return nil, DetectPatternsOutput{Patterns: []PatternRecord{}}, nil
	default:
		return nil, DetectPatternsOutput{Error: toolError(xerrors.InvalidParams("scope must be file, module, or repository"))}, nil
	}
}

// ListTools answers list_tools: the tool registry.
func (s *Service) ListTools(_ context.Context, _ *mcp.CallToolRequest, _ ListToolsInput) (*mcp.CallToolResult, ListToolsOutput, error) {
	return nil, ListToolsOutput{Tools: s.registry}, nil
}
