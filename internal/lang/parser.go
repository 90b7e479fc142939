// Package lang implements the per-language adapters: incremental
// tree-sitter parsing plus an AST-to-(nodes,edges) mapper producing the
// universal graph primitives from internal/model.
package lang

import (
	"path/filepath"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/polygraph/engine/internal/model"
)

// ParseContext is the input to a single adapter Parse call.
type ParseContext struct {
	RepositoryID string
	FilePath     string
	Content      []byte
	Language     model.Language
	PreviousTree *tree_sitter.Tree // non-nil enables incremental reuse
}

// ParseResult is what an adapter emits for a single file: the tree-sitter
// tree (retained so a later incremental reparse can reuse unchanged
// subtrees), the extracted Contains-forest nodes/edges, and any
// cross-reference edges (Calls/Imports/Inherits/Implements) still pending
// resolution against a raw specifier.
type ParseResult struct {
	Tree    *tree_sitter.Tree
	Nodes   []model.Node
	Edges   []model.Edge
	Pending []PendingEdge
}

// Close releases the tree-sitter tree. Callers that keep a ParseResult
// around as a later call's PreviousTree must not call Close until they are
// done reusing it.
func (r *ParseResult) Close() {
	if r != nil && r.Tree != nil {
		r.Tree.Close()
	}
}

// Adapter is the capability set every language implementation satisfies:
// parse_file, extract_nodes_edges (folded into Parse), and
// detect_language_from_path.
type Adapter interface {
	// Parse extracts a ParseResult from a single file. It is total: any
	// input content yields a result, with syntactically broken files
	// producing a best-effort partial tree and a `parse_error` diagnostic
	// on the Module node rather than a propagated error.
	Parse(ctx ParseContext) (*ParseResult, error)

	// SupportedLanguages lists the languages this adapter handles.
	SupportedLanguages() []model.Language

	// Close releases adapter-held resources (tree-sitter grammars).
	Close() error
}

// extToLanguage is the closed extension-to-language map behind
// DetectLanguage. Unknown extensions are filtered at scan time; callers
// here simply get ("", false) misses.
var extToLanguage = map[string]model.Language{
	".go":  model.LangGo,
	".py":  model.LangPython,
	".rs":  model.LangRust,
	".ts":  model.LangTypeScript,
	".tsx": model.LangTypeScript,
	".js":  model.LangJavaScript,
	".jsx": model.LangJavaScript,
}

// DetectLanguage maps a file path's extension to a Language using the
// closed extension table. The second return is false for unknown
// extensions.
func DetectLanguage(path string) (model.Language, bool) {
	lang, ok := extToLanguage[filepath.Ext(path)]
	return lang, ok
}
