package lang

import (
	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/polygraph/engine/internal/model"
)

// PendingEdge is a non-Contains edge whose target is still a raw specifier
// (an import path, a callee name, a base-class/interface name) rather than a
// resolved NodeID. The graph store requires every committed edge's
// endpoints to already exist, so these are resolved by the update pipeline
// against the Resolver and the bySymbol index *after* the structural
// Contains-forest has been committed via ReplaceFile, instead of being
// handed to the store with a dangling target.
type PendingEdge struct {
	Source     model.NodeID
	TargetSpec string
	Kind       model.EdgeKind
	Metadata   map[string]string
}

// builder accumulates nodes and edges during a single-file AST walk. It
// tracks the current Contains-forest parent on a stack so every emitted
// node gets exactly one parent Contains edge.
type builder struct {
	repoID   string
	file     string
	language model.Language
	source   []byte

	nodes   []model.Node
	edges   []model.Edge // Contains edges only; both endpoints always exist
	pending []PendingEdge
	stack   []model.NodeID
}

func newBuilder(repoID, file string, language model.Language, source []byte) *builder {
	return &builder{repoID: repoID, file: file, language: language, source: source}
}

// span converts a tree-sitter node's position into a model.Span.
func span(n *tree_sitter.Node) model.Span {
	start, end := n.StartPosition(), n.EndPosition()
	return model.Span{
		StartByte: uint32(n.StartByte()),
		EndByte:   uint32(n.EndByte()),
		StartLine: uint32(start.Row) + 1,
		StartCol:  uint32(start.Column) + 1,
		EndLine:   uint32(end.Row) + 1,
		EndCol:    uint32(end.Column) + 1,
	}
}

// push computes a NodeID, appends the node, wires a Contains edge from the
// current top-of-stack parent (if any), and returns the new NodeID.
func (b *builder) push(kind model.NodeKind, name string, sp model.Span, attrs map[string]string) model.NodeID {
	id := model.ComputeNodeID(b.repoID, b.file, kind, name, sp)
	b.nodes = append(b.nodes, model.Node{
		ID:           id,
		RepositoryID: b.repoID,
		Kind:         kind,
		Name:         name,
		Language:     b.language,
		File:         b.file,
		Span:         sp,
		Attributes:   attrs,
	})
	if len(b.stack) > 0 {
		b.edges = append(b.edges, model.Edge{
			Source: b.stack[len(b.stack)-1],
			Target: id,
			Kind:   model.EdgeKindContains,
		})
	}
	return id
}

// enter pushes id as the new Contains-forest parent for nested constructs.
func (b *builder) enter(id model.NodeID) { b.stack = append(b.stack, id) }

// leave pops the current Contains-forest parent.
func (b *builder) leave() { b.stack = b.stack[:len(b.stack)-1] }

// parent returns the current top-of-stack parent, or "" if at module scope.
func (b *builder) parent() model.NodeID {
	if len(b.stack) == 0 {
		return ""
	}
	return b.stack[len(b.stack)-1]
}

// edge records a non-Contains edge (Calls, Imports, Inherits, Implements) as
// pending: its target is a raw specifier/name (an import path, a callee, a
// base-class name) that the Update Pipeline resolves against the Resolver or
// the Graph Store's by_symbol index right after this file's nodes are
// committed; a specifier that does not resolve at that point is dropped.
func (b *builder) edge(source model.NodeID, targetSpec string, kind model.EdgeKind, meta map[string]string) {
	b.pending = append(b.pending, PendingEdge{
		Source:     source,
		TargetSpec: targetSpec,
		Kind:       kind,
		Metadata:   meta,
	})
}

func text(n *tree_sitter.Node, source []byte) string {
	if n == nil {
		return ""
	}
	return n.Utf8Text(source)
}

// spanMeta renders a node's line range as "start-end" for edge metadata
// (e.g. a Calls edge's call-site span, independent of the Call node's own
// Span field).
func spanMeta(n *tree_sitter.Node) string {
	sp := span(n)
	return itoa(sp.StartLine) + "-" + itoa(sp.EndLine)
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
