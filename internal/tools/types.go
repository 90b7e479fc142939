// Package tools implements the MCP tool-handler surface: the total,
// boundary-facing operations (repository_stats, explain_symbol,
// search_symbols, find_references, trace_callers, trace_inheritance,
// analyze_transitive_dependencies, search_content, detect_patterns,
// assess_impact, list_tools) that wrap internal/query, internal/store,
// internal/content and internal/cluster behind parameter-name aliasing
// and the structured-error-result contract.
package tools

import "github.com/polygraph/engine/internal/model"

// ToolError is the structured error result every handler returns in place
// of a transport-level failure.
type ToolError struct {
	Kind        string   `json:"kind"`
	Message     string   `json:"message"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// NodeSummary is the {NodeId, name, kind, file, span} projection the // search_symbols result names explicitly; every other tool that surfaces
// nodes reuses it for consistency.
type NodeSummary struct {
	ID       model.NodeID   `json:"id"`
	Kind     model.NodeKind `json:"kind"`
	Name     string         `json:"name"`
	Language model.Language `json:"language,omitempty"`
	File     string         `json:"file"`
	Span     model.Span     `json:"span"`
}

func summarize(n model.Node) NodeSummary {
	return NodeSummary{ID: n.ID, Kind: n.Kind, Name: n.Name, Language: n.Language, File: n.File, Span: n.Span}
}

// RepositoryStatsInput takes no parameters.
type RepositoryStatsInput struct{}

// RepositoryStatsOutput reports counts by NodeKind, by language, and
// file/chunk counts.
type RepositoryStatsOutput struct {
	NodeCount  int            `json:"nodeCount"`
	EdgeCount  int            `json:"edgeCount"`
	FileCount  int            `json:"fileCount"`
	ChunkCount int            `json:"chunkCount"`
	ByKind     map[string]int `json:"byKind"`
	ByLanguage map[string]int `json:"byLanguage"`
	Error      *ToolError     `json:"error,omitempty"`
}

// ExplainSymbolInput resolves symbol|node_id|identifier, optionally
// narrowed by file|file_path|path.
type ExplainSymbolInput struct {
	Symbol     string `json:"symbol,omitempty" jsonschema:"symbol name or NodeId to explain"`
	NodeID     string `json:"node_id,omitempty" jsonschema:"alias of symbol"`
	Identifier string `json:"identifier,omitempty" jsonschema:"alias of symbol"`
	File       string `json:"file,omitempty" jsonschema:"disambiguating file path hint"`
	FilePath   string `json:"file_path,omitempty" jsonschema:"alias of file"`
	Path       string `json:"path,omitempty" jsonschema:"alias of file"`
}

func (in ExplainSymbolInput) symbol() string { return firstNonEmpty(in.Symbol, in.NodeID, in.Identifier) }
func (in ExplainSymbolInput) file() string   { return firstNonEmpty(in.File, in.FilePath, in.Path) }

// ExplainSymbolOutput is the resolved Node plus its immediate neighborhood,
// incoming and outgoing edges grouped by EdgeKind.
type ExplainSymbolOutput struct {
	Node     *NodeSummary             `json:"node,omitempty"`
	Incoming map[string][]NodeSummary `json:"incoming,omitempty"`
	Outgoing map[string][]NodeSummary `json:"outgoing,omitempty"`
	Error    *ToolError               `json:"error,omitempty"`
}

// SearchSymbolsInput substring-matches symbol names, optionally filtered by
// kind and file_glob.
type SearchSymbolsInput struct {
	Query    string `json:"query" jsonschema:"substring to match against symbol names"`
	Kind     string `json:"kind,omitempty" jsonschema:"filter by NodeKind (function, class, method, ...)"`
	FileGlob string `json:"file_glob,omitempty" jsonschema:"filter results to files matching this glob"`
	Limit    int    `json:"limit,omitempty" jsonschema:"maximum number of results (default 20)"`
}

// SearchSymbolsOutput is the {NodeId, name, kind, file, span} list // names.
type SearchSymbolsOutput struct {
	Symbols []NodeSummary `json:"symbols"`
	Total   int           `json:"total"`
	Error   *ToolError    `json:"error,omitempty"`
}

// FindReferencesInput resolves symbol|node_id|identifier and returns every
// reference site.
type FindReferencesInput struct {
	Symbol     string `json:"symbol,omitempty"`
	NodeID     string `json:"node_id,omitempty"`
	Identifier string `json:"identifier,omitempty"`
	File       string `json:"file,omitempty"`
	FilePath   string `json:"file_path,omitempty"`
	Path       string `json:"path,omitempty"`
	Limit      int    `json:"limit,omitempty" jsonschema:"maximum number of results"`
}

func (in FindReferencesInput) symbol() string { return firstNonEmpty(in.Symbol, in.NodeID, in.Identifier) }
func (in FindReferencesInput) file() string   { return firstNonEmpty(in.File, in.FilePath, in.Path) }

// FindReferencesOutput lists every reference site for the resolved target.
type FindReferencesOutput struct {
	Target     *NodeSummary  `json:"target,omitempty"`
	References []NodeSummary `json:"references"`
	Error      *ToolError    `json:"error,omitempty"`
}

// TraceCallersInput resolves symbol|node_id|identifier and bounds the
// reverse-call BFS by max_depth (default 8, hard cap 32). MaxDepth is a
// pointer so an explicit 0, which returns only the input node, stays
// distinguishable from an omitted field.
type TraceCallersInput struct {
	Symbol     string `json:"symbol,omitempty"`
	NodeID     string `json:"node_id,omitempty"`
	Identifier string `json:"identifier,omitempty"`
	File       string `json:"file,omitempty"`
	FilePath   string `json:"file_path,omitempty"`
	Path       string `json:"path,omitempty"`
	MaxDepth   *int   `json:"max_depth,omitempty"`
}

func (in TraceCallersInput) symbol() string { return firstNonEmpty(in.Symbol, in.NodeID, in.Identifier) }
func (in TraceCallersInput) file() string   { return firstNonEmpty(in.File, in.FilePath, in.Path) }

// TraceLevelOutput is one depth level of a bounded-BFS tree result.
type TraceLevelOutput struct {
	Depth int           `json:"depth"`
	Nodes []NodeSummary `json:"nodes"`
}

// TraceCallersOutput is the reverse-call tree rooted at Target.
type TraceCallersOutput struct {
	Target *NodeSummary       `json:"target,omitempty"`
	Levels []TraceLevelOutput `json:"levels"`
	Error  *ToolError         `json:"error,omitempty"`
}

// TraceInheritanceInput additionally takes direction (up, down, both;
// default both).
type TraceInheritanceInput struct {
	Symbol     string `json:"symbol,omitempty"`
	NodeID     string `json:"node_id,omitempty"`
	Identifier string `json:"identifier,omitempty"`
	File       string `json:"file,omitempty"`
	FilePath   string `json:"file_path,omitempty"`
	Path       string `json:"path,omitempty"`
	Direction  string `json:"direction,omitempty" jsonschema:"up, down, or both (default both)"`
	MaxDepth   *int   `json:"max_depth,omitempty"`
}

func (in TraceInheritanceInput) symbol() string {
	return firstNonEmpty(in.Symbol, in.NodeID, in.Identifier)
}
func (in TraceInheritanceInput) file() string { return firstNonEmpty(in.File, in.FilePath, in.Path) }

// TraceInheritanceOutput is the Inherits/Implements tree rooted at Target.
type TraceInheritanceOutput struct {
	Target *NodeSummary       `json:"target,omitempty"`
	Levels []TraceLevelOutput `json:"levels"`
	Error  *ToolError         `json:"error,omitempty"`
}

// AnalyzeTransitiveDependenciesInput resolves module|node_id|identifier and
// bounds the Import-edge BFS by max_depth (omitted means the configured
// default; 0 returns only the input module).
type AnalyzeTransitiveDependenciesInput struct {
	Module     string `json:"module,omitempty"`
	NodeID     string `json:"node_id,omitempty"`
	Identifier string `json:"identifier,omitempty"`
	File       string `json:"file,omitempty"`
	FilePath   string `json:"file_path,omitempty"`
	Path       string `json:"path,omitempty"`
	MaxDepth   *int   `json:"max_depth,omitempty"`
}

func (in AnalyzeTransitiveDependenciesInput) symbol() string {
	return firstNonEmpty(in.Module, in.NodeID, in.Identifier)
}
func (in AnalyzeTransitiveDependenciesInput) file() string {
	return firstNonEmpty(in.File, in.FilePath, in.Path)
}

// AnalyzeTransitiveDependenciesOutput is the dependency closure set.
type AnalyzeTransitiveDependenciesOutput struct {
	Target       *NodeSummary  `json:"target,omitempty"`
	Dependencies []NodeSummary `json:"dependencies"`
	Error        *ToolError    `json:"error,omitempty"`
}

// AssessImpactInput names a set of files about to be modified.
type AssessImpactInput struct {
	ChangedFiles []string `json:"changed_files" jsonschema:"file paths that will be modified"`
	MaxDepth     int      `json:"max_depth,omitempty"`
}

// AssessImpactOutput is the transitive dependent closure of ChangedFiles
// plus a simple risk score (affected file count over total indexed files).
type AssessImpactOutput struct {
	Affected      []string   `json:"affected"`
	RiskScore     float64    `json:"risk_score"`
	BoundExceeded bool       `json:"bound_exceeded"`
	Error         *ToolError `json:"error,omitempty"`
}

// SearchContentInput delegates to the Content Index, optionally filtered by
// file_glob and content_type and capped by limit.
type SearchContentInput struct {
	Query       string `json:"query"`
	FileGlob    string `json:"file_glob,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Limit       int    `json:"limit,omitempty"`
}

// ContentHitOutput is a single content chunk annotated with its containing
// Module NodeId, when known.
type ContentHitOutput struct {
	Path             string       `json:"path"`
	StartByte        int          `json:"start_byte"`
	EndByte          int          `json:"end_byte"`
	Text             string       `json:"text"`
	ContentType      string       `json:"content_type"`
	ContainingModule model.NodeID `json:"containing_module,omitempty"`
}

// SearchContentOutput lists every matching chunk.
type SearchContentOutput struct {
	Results []ContentHitOutput `json:"results"`
	Total   int                `json:"total"`
	Error   *ToolError         `json:"error,omitempty"`
}

// DetectPatternsInput scopes a pattern sweep to a file, a module, or the
// whole repository.
type DetectPatternsInput struct {
	Scope  string `json:"scope" jsonschema:"file, module, or repository"`
	Target string `json:"target,omitempty" jsonschema:"file or module path, required unless scope is repository"`
}

// PatternRecord is one open-schema detect_patterns result entry.
type PatternRecord struct {
	Kind    string   `json:"kind"`
	Name    string   `json:"name"`
	Score   float64  `json:"score,omitempty"`
	Members []string `json:"members,omitempty"`
}

// DetectPatternsOutput lists every pattern record discovered at Scope.
type DetectPatternsOutput struct {
	Patterns []PatternRecord `json:"patterns"`
	Error    *ToolError      `json:"error,omitempty"`
}

// ListToolsInput takes no parameters.
type ListToolsInput struct{}

// ToolDescriptor is one entry in the tool registry list_tools returns.
type ToolDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ListToolsOutput is the full tool registry.
type ListToolsOutput struct {
	Tools []ToolDescriptor `json:"tools"`
}

// depthOrUnset maps an absent max_depth to the engine's "use the default"
// sentinel while letting an explicit 0 through untouched.
func depthOrUnset(p *int) int {
	if p == nil {
		return -1
	}
	return *p
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
