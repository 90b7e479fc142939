// Package model defines the universal graph primitives shared by every
// language adapter, the graph store, and the persistence layer: node and
// edge kinds, spans, content-addressed node identifiers, and the
// serializable snapshot representation.
package model

// NodeKind classifies a node in the code graph.
type NodeKind string

const (
	NodeKindModule    NodeKind = "module"
	NodeKindClass     NodeKind = "class"
	NodeKindFunction  NodeKind = "function"
	NodeKindMethod    NodeKind = "method"
	NodeKindVariable  NodeKind = "variable"
	NodeKindParameter NodeKind = "parameter"
	NodeKindImport    NodeKind = "import"
	NodeKindCall      NodeKind = "call"
	NodeKindReference NodeKind = "reference"
	NodeKindLiteral   NodeKind = "literal"
	NodeKindTypeRef   NodeKind = "type_ref"
	NodeKindDecorator NodeKind = "decorator"
	NodeKindOther     NodeKind = "other"
)

// EdgeKind classifies a directed relationship between two nodes.
type EdgeKind string

const (
	EdgeKindCalls      EdgeKind = "calls"
	EdgeKindImports    EdgeKind = "imports"
	EdgeKindInherits   EdgeKind = "inherits"
	EdgeKindImplements EdgeKind = "implements"
	EdgeKindReferences EdgeKind = "references"
	EdgeKindReads      EdgeKind = "reads"
	EdgeKindWrites     EdgeKind = "writes"
	EdgeKindContains   EdgeKind = "contains"
	EdgeKindDataFlow   EdgeKind = "data_flow"
	EdgeKindControls   EdgeKind = "controls"
)

// Language is a closed tag identifying a supported source language.
type Language string

const (
	LangPython     Language = "python"
	LangJavaScript Language = "javascript"
	LangTypeScript Language = "typescript"
	LangJava       Language = "java"
	LangRust       Language = "rust"
	LangGo         Language = "go"
)

// Span locates a node or edge within its file, in both byte offsets and
// line/column coordinates. Lines and columns are 1-based; bytes are 0-based.
type Span struct {
	StartByte uint32 `json:"startByte"`
	EndByte   uint32 `json:"endByte"`
	StartLine uint32 `json:"startLine"`
	StartCol  uint32 `json:"startCol"`
	EndLine   uint32 `json:"endLine"`
	EndCol    uint32 `json:"endCol"`
}

// Node is a semantic program element recovered by a language adapter.
type Node struct {
	ID           NodeID            `json:"id"`
	RepositoryID string            `json:"repositoryId"`
	Kind         NodeKind          `json:"kind"`
	Name         string            `json:"name"`
	Language     Language          `json:"language"`
	File         string            `json:"file"`
	Span         Span              `json:"span"`
	Attributes   map[string]string `json:"attributes,omitempty"`
}

// Edge is a directed, typed relationship between two NodeIds.
type Edge struct {
	Source   NodeID            `json:"source"`
	Target   NodeID            `json:"target"`
	Kind     EdgeKind          `json:"kind"`
	Metadata map[string]string `json:"metadata,omitempty"`
}
