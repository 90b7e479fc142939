package model

import "sort"

// SerializableNode is the on-disk representation of a Node. It mirrors Node
// field-for-field; the distinct type keeps the wire format decoupled from
// in-memory representation changes.
type SerializableNode struct {
	ID           NodeID            `json:"id"`
	RepositoryID string            `json:"repositoryId"`
	Kind         NodeKind          `json:"kind"`
	Name         string            `json:"name"`
	Language     Language          `json:"language"`
	File         string            `json:"file"`
	Span         Span              `json:"span"`
	Attributes   map[string]string `json:"attributes,omitempty"`
}

// SerializableEdge is the on-disk representation of an Edge.
type SerializableEdge struct {
	Source   NodeID            `json:"source"`
	Target   NodeID            `json:"target"`
	Kind     EdgeKind          `json:"kind"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// SerializableGraph is the canonical, ordered snapshot format used both for
// persistence (one JSON document per repository) and for round-trip tests.
// Ordering is part of the contract: nodes sorted by NodeID ascending, edges
// sorted by (source, kind, target), so that two independently-produced
// snapshots of an identical graph are byte-identical.
type SerializableGraph struct {
	RepoID   string             `json:"repo_id"`
	Nodes    []SerializableNode `json:"nodes"`
	Edges    []SerializableEdge `json:"edges"`
	Metadata map[string]string  `json:"metadata,omitempty"`
}

// NodeToSerializable converts a Node to its wire representation.
func NodeToSerializable(n Node) SerializableNode {
	return SerializableNode{
		ID:           n.ID,
		RepositoryID: n.RepositoryID,
		Kind:         n.Kind,
		Name:         n.Name,
		Language:     n.Language,
		File:         n.File,
		Span:         n.Span,
		Attributes:   n.Attributes,
	}
}

// NodeFromSerializable converts a wire node back into its in-memory form.
func NodeFromSerializable(n SerializableNode) Node {
	return Node{
		ID:           n.ID,
		RepositoryID: n.RepositoryID,
		Kind:         n.Kind,
		Name:         n.Name,
		Language:     n.Language,
		File:         n.File,
		Span:         n.Span,
		Attributes:   n.Attributes,
	}
}

// EdgeToSerializable converts an Edge to its wire representation.
func EdgeToSerializable(e Edge) SerializableEdge {
	return SerializableEdge{Source: e.Source, Target: e.Target, Kind: e.Kind, Metadata: e.Metadata}
}

// EdgeFromSerializable converts a wire edge back into its in-memory form.
func EdgeFromSerializable(e SerializableEdge) Edge {
	return Edge{Source: e.Source, Target: e.Target, Kind: e.Kind, Metadata: e.Metadata}
}

// NewSerializableGraph builds a canonically-ordered snapshot from arbitrary
// node/edge slices. Callers never need to sort themselves.
func NewSerializableGraph(repoID string, nodes []Node, edges []Edge, metadata map[string]string) SerializableGraph {
	sn := make([]SerializableNode, len(nodes))
	for i, n := range nodes {
		sn[i] = NodeToSerializable(n)
	}
	se := make([]SerializableEdge, len(edges))
	for i, e := range edges {
		se[i] = EdgeToSerializable(e)
	}
	g := SerializableGraph{RepoID: repoID, Nodes: sn, Edges: se, Metadata: metadata}
	g.Sort()
	return g
}

// Sort orders Nodes by NodeID ascending and Edges by (source, kind,
// target), the canonical order, so snapshot equality holds across hosts and
// across independent builds of the same graph.
func (g *SerializableGraph) Sort() {
	sort.Slice(g.Nodes, func(i, j int) bool { return g.Nodes[i].ID < g.Nodes[j].ID })
	sort.Slice(g.Edges, func(i, j int) bool {
		a, b := g.Edges[i], g.Edges[j]
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Target < b.Target
	})
}
