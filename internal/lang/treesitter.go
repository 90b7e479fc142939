package lang

import (
	"bytes"
	"fmt"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_go "github.com/tree-sitter/tree-sitter-go/bindings/go"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"
	tree_sitter_rust "github.com/tree-sitter/tree-sitter-rust/bindings/go"
	tree_sitter_typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"

	"github.com/polygraph/engine/internal/model"
)

// walkFunc is the per-language AST-to-(nodes,edges) mapper signature shared
// by walkGo, walkPython, walkTypeScript and walkRust.
type walkFunc func(b *builder, node *tree_sitter.Node)

// TreeSitterAdapter implements Adapter for Go, Python, TypeScript and Rust
// using tree-sitter grammars. A single instance holds one
// *tree_sitter.Language per supported language; individual Parse calls each
// get their own *tree_sitter.Parser so concurrent Parse calls from separate
// goroutines do not share parser state.
type TreeSitterAdapter struct {
	languages map[model.Language]*tree_sitter.Language
	walkers   map[model.Language]walkFunc
}

// NewTreeSitterAdapter registers the Go, Python, Rust and TypeScript/TSX
// grammars. TSX source is routed to the same TypeScript grammar/walker pair,
// and JavaScript rides the TypeScript grammar too (a superset of the JS it
// needs to read); the distinction only matters for DetectLanguage's
// extension table and the Language tag on emitted nodes.
func NewTreeSitterAdapter() *TreeSitterAdapter {
	ts := tree_sitter.NewLanguage(tree_sitter_typescript.LanguageTypescript())
	return &TreeSitterAdapter{
		languages: map[model.Language]*tree_sitter.Language{
			model.LangGo:         tree_sitter.NewLanguage(tree_sitter_go.Language()),
			model.LangPython:     tree_sitter.NewLanguage(tree_sitter_python.Language()),
			model.LangRust:       tree_sitter.NewLanguage(tree_sitter_rust.Language()),
			model.LangTypeScript: ts,
			model.LangJavaScript: ts,
		},
		walkers: map[model.Language]walkFunc{
			model.LangGo:         walkGo,
			model.LangPython:     walkPython,
			model.LangRust:       walkRust,
			model.LangTypeScript: walkTypeScript,
			model.LangJavaScript: walkTypeScript,
		},
	}
}

// Parse is total: a grammar-level parse failure never bubbles up
// as an error. Instead the returned Module node carries parse_error /
// parse_error_message attributes and whatever partial subtree tree-sitter's
// error-recovery managed to produce is still walked for nodes/edges, since
// tree-sitter always returns a (possibly ERROR-containing) tree rather than
// failing outright.
func (a *TreeSitterAdapter) Parse(ctx ParseContext) (*ParseResult, error) {
	tsLang, ok := a.languages[ctx.Language]
	if !ok {
		return nil, fmt.Errorf("unsupported language: %s", ctx.Language)
	}
	walk := a.walkers[ctx.Language]

	parser := tree_sitter.NewParser()
	defer parser.Close()
	if err := parser.SetLanguage(tsLang); err != nil {
		return nil, fmt.Errorf("set language %s: %w", ctx.Language, err)
	}

	tree := parser.Parse(ctx.Content, ctx.PreviousTree)
	if tree == nil {
		return nil, fmt.Errorf("tree-sitter returned nil tree for %s", ctx.FilePath)
	}

	root := tree.RootNode()
	b := newBuilder(ctx.RepositoryID, ctx.FilePath, ctx.Language, ctx.Content)

	moduleAttrs := map[string]string{
		"loc": itoa(uint32(countLOC(ctx.Content))),
	}
	if root.HasError() {
		moduleAttrs["parse_error"] = "true"
		moduleAttrs["parse_error_message"] = firstErrorNodeDescription(root)
	}
	moduleID := b.push(model.NodeKindModule, ctx.FilePath, span(root), moduleAttrs)
	b.enter(moduleID)
	walk(b, root)
	b.leave()

	return &ParseResult{Tree: tree, Nodes: b.nodes, Edges: b.edges, Pending: b.pending}, nil
}

// SupportedLanguages returns the registered languages.
func (a *TreeSitterAdapter) SupportedLanguages() []model.Language {
	return []model.Language{model.LangGo, model.LangPython, model.LangRust, model.LangTypeScript, model.LangJavaScript}
}

// Close is a no-op: tree_sitter.Language values are immutable grammar
// handles with no per-instance resources to release, and parsers are
// already closed per Parse call.
func (a *TreeSitterAdapter) Close() error { return nil }

// firstErrorNodeDescription walks the tree looking for the first ERROR or
// missing node and renders a short "line:col: kind" description for the
// Module node's parse_error_message attribute.
func firstErrorNodeDescription(root *tree_sitter.Node) string {
	var walk func(n *tree_sitter.Node) string
	walk = func(n *tree_sitter.Node) string {
		if n == nil {
			return ""
		}
		if n.IsError() || n.IsMissing() {
			pos := n.StartPosition()
			return fmt.Sprintf("%d:%d: unexpected %s", pos.Row+1, pos.Column+1, n.Kind())
		}
		for i := uint(0); i < n.ChildCount(); i++ {
			if desc := walk(n.Child(i)); desc != "" {
				return desc
			}
		}
		return ""
	}
	if desc := walk(root); desc != "" {
		return desc
	}
	return "syntax error"
}

func countLOC(source []byte) int {
	if len(source) == 0 {
		return 0
	}
	return bytes.Count(source, []byte{'\n'}) + 1
}
