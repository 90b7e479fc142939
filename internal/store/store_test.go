package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polygraph/engine/internal/model"
	"github.com/polygraph/engine/internal/xerrors"
)

// mkNode builds a minimal node for a file; the line parameter keeps spans
// (and therefore NodeIDs) distinct.
func mkNode(file, name string, kind model.NodeKind, line uint32) model.Node {
	span := model.Span{StartLine: line, EndLine: line, StartCol: 1, EndCol: 2, StartByte: line * 10, EndByte: line*10 + 5}
	return model.Node{
		ID:           model.ComputeNodeID("repo", file, kind, name, span),
		RepositoryID: "repo",
		Kind:         kind,
		Name:         name,
		Language:     model.LangGo,
		File:         file,
		Span:         span,
	}
}

func TestAddNodeAndIndexes(t *testing.T) {
	s := New()
	mod := mkNode("a.go", "a.go", model.NodeKindModule, 1)
	fn := mkNode("a.go", "Foo", model.NodeKindFunction, 2)
	s.AddNode(mod)
	s.AddNode(fn)

	got, ok := s.GetNode(fn.ID)
	require.True(t, ok)
	assert.Equal(t, fn, got)

	inFile := s.NodesInFile("a.go")
	assert.Len(t, inFile, 2)

	byKind := s.NodesOfKind(model.NodeKindFunction)
	require.Len(t, byKind, 1)
	assert.Equal(t, fn.ID, byKind[0].ID)

	ids := s.LookupSymbol("Foo")
	require.Len(t, ids, 1)
	assert.Equal(t, fn.ID, ids[0])
}

func TestLookupSymbol_NodeIDOrder(t *testing.T) {
	s := New()
	a := mkNode("a.go", "Foo", model.NodeKindFunction, 1)
	b := mkNode("b.go", "Foo", model.NodeKindFunction, 1)
	s.AddNode(a)
	s.AddNode(b)

	ids := s.LookupSymbol("Foo")
	require.Len(t, ids, 2)
	assert.Less(t, string(ids[0]), string(ids[1]))
}

func TestAddEdge_MissingEndpoint(t *testing.T) {
	s := New()
	a := mkNode("a.go", "Foo", model.NodeKindFunction, 1)
	s.AddNode(a)

	err := s.AddEdge(model.Edge{Source: a.ID, Target: "nope", Kind: model.EdgeKindCalls})
	require.Error(t, err)
	var de *xerrors.DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, xerrors.KindAddEdgeFailed, de.ErrKind)
}

func TestEdges_InsertionOrderPreserved(t *testing.T) {
	s := New()
	mod := mkNode("a.go", "a.go", model.NodeKindModule, 1)
	f1 := mkNode("a.go", "One", model.NodeKindFunction, 2)
	f2 := mkNode("a.go", "Two", model.NodeKindFunction, 3)
	for _, n := range []model.Node{mod, f1, f2} {
		s.AddNode(n)
	}
	require.NoError(t, s.AddEdge(model.Edge{Source: mod.ID, Target: f1.ID, Kind: model.EdgeKindContains}))
	require.NoError(t, s.AddEdge(model.Edge{Source: mod.ID, Target: f2.ID, Kind: model.EdgeKindContains}))

	out := s.EdgesFrom(mod.ID)
	require.Len(t, out, 2)
	assert.Equal(t, f1.ID, out[0].Target)
	assert.Equal(t, f2.ID, out[1].Target)
}

func TestRemoveFile_CascadesEdgesBothDirections(t *testing.T) {
	s := New()
	aMod := mkNode("a.go", "a.go", model.NodeKindModule, 1)
	aFn := mkNode("a.go", "Caller", model.NodeKindFunction, 2)
	bMod := mkNode("b.go", "b.go", model.NodeKindModule, 1)
	bFn := mkNode("b.go", "Callee", model.NodeKindFunction, 2)
	for _, n := range []model.Node{aMod, aFn, bMod, bFn} {
		s.AddNode(n)
	}
	require.NoError(t, s.AddEdge(model.Edge{Source: aFn.ID, Target: bFn.ID, Kind: model.EdgeKindCalls}))
	require.NoError(t, s.AddEdge(model.Edge{Source: bFn.ID, Target: aFn.ID, Kind: model.EdgeKindReferences}))

	s.RemoveFile("b.go")

	assert.Empty(t, s.NodesInFile("b.go"))
	assert.Empty(t, s.LookupSymbol("Callee"))
	// No edge may survive with a removed endpoint, in either direction.
	assert.Empty(t, s.EdgesFrom(aFn.ID), "outgoing edge to removed node must be gone")
	assert.Empty(t, s.EdgesTo(aFn.ID), "incoming edge from removed node must be gone")

	// The surviving file is untouched.
	_, ok := s.GetNode(aFn.ID)
	assert.True(t, ok)
}

func TestRemoveNode_NoDanglingEdges(t *testing.T) {
	s := New()
	a := mkNode("a.go", "Caller", model.NodeKindFunction, 1)
	b := mkNode("b.go", "Callee", model.NodeKindFunction, 1)
	c := mkNode("c.go", "Other", model.NodeKindFunction, 1)
	for _, n := range []model.Node{a, b, c} {
		s.AddNode(n)
	}
	require.NoError(t, s.AddEdge(model.Edge{Source: a.ID, Target: b.ID, Kind: model.EdgeKindCalls}))
	require.NoError(t, s.AddEdge(model.Edge{Source: b.ID, Target: c.ID, Kind: model.EdgeKindCalls}))

	s.RemoveNode(b.ID)

	_, ok := s.GetNode(b.ID)
	assert.False(t, ok)
	assert.Empty(t, s.EdgesFrom(a.ID))
	assert.Empty(t, s.EdgesTo(c.ID))
	assert.Empty(t, s.LookupSymbol("Callee"))
	assert.Empty(t, s.NodesInFile("b.go"))
}

func TestReplaceFile_SwapsNodeSet(t *testing.T) {
	s := New()
	mod := mkNode("a.go", "a.go", model.NodeKindModule, 1)
	oldFn := mkNode("a.go", "Old", model.NodeKindFunction, 2)
	require.NoError(t, s.ReplaceFile("a.go", []model.Node{mod, oldFn}, []model.Edge{
		{Source: mod.ID, Target: oldFn.ID, Kind: model.EdgeKindContains},
	}))

	newFn := mkNode("a.go", "New", model.NodeKindFunction, 2)
	require.NoError(t, s.ReplaceFile("a.go", []model.Node{mod, newFn}, []model.Edge{
		{Source: mod.ID, Target: newFn.ID, Kind: model.EdgeKindContains},
	}))

	assert.Empty(t, s.LookupSymbol("Old"))
	require.Len(t, s.LookupSymbol("New"), 1)
	assert.Len(t, s.NodesInFile("a.go"), 2)
}

func TestReplaceFile_FailureRestoresPriorState(t *testing.T) {
	s := New()
	mod := mkNode("a.go", "a.go", model.NodeKindModule, 1)
	fn := mkNode("a.go", "Keep", model.NodeKindFunction, 2)
	require.NoError(t, s.ReplaceFile("a.go", []model.Node{mod, fn}, []model.Edge{
		{Source: mod.ID, Target: fn.ID, Kind: model.EdgeKindContains},
	}))

	bad := mkNode("a.go", "Bad", model.NodeKindFunction, 3)
	err := s.ReplaceFile("a.go", []model.Node{bad}, []model.Edge{
		{Source: bad.ID, Target: "missing-target", Kind: model.EdgeKindCalls},
	})
	require.Error(t, err)
	var de *xerrors.DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, xerrors.KindReplaceFileFailed, de.ErrKind)

	// Prior state intact: Keep present, Bad absent, Contains edge restored.
	assert.Len(t, s.LookupSymbol("Keep"), 1)
	assert.Empty(t, s.LookupSymbol("Bad"))
	require.Len(t, s.EdgesFrom(mod.ID), 1)
	assert.Equal(t, fn.ID, s.EdgesFrom(mod.ID)[0].Target)
}

func TestReplaceFile_PreservesCrossFileEdgesOnFailure(t *testing.T) {
	s := New()
	aMod := mkNode("a.go", "a.go", model.NodeKindModule, 1)
	aFn := mkNode("a.go", "Caller", model.NodeKindFunction, 2)
	bMod := mkNode("b.go", "b.go", model.NodeKindModule, 1)
	bFn := mkNode("b.go", "Callee", model.NodeKindFunction, 2)
	require.NoError(t, s.ReplaceFile("a.go", []model.Node{aMod, aFn}, nil))
	require.NoError(t, s.ReplaceFile("b.go", []model.Node{bMod, bFn}, nil))
	require.NoError(t, s.AddEdge(model.Edge{Source: aFn.ID, Target: bFn.ID, Kind: model.EdgeKindCalls}))

	bad := mkNode("b.go", "Bad", model.NodeKindFunction, 3)
	err := s.ReplaceFile("b.go", []model.Node{bad}, []model.Edge{
		{Source: bad.ID, Target: "missing", Kind: model.EdgeKindCalls},
	})
	require.Error(t, err)

	// The cross-file Calls edge into b.go survives the aborted commit.
	edges := s.EdgesTo(bFn.ID)
	require.Len(t, edges, 1)
	assert.Equal(t, aFn.ID, edges[0].Source)
	require.Len(t, s.EdgesFrom(aFn.ID), 1)
}

func TestStats(t *testing.T) {
	s := New()
	mod := mkNode("a.go", "a.go", model.NodeKindModule, 1)
	fn := mkNode("a.go", "Foo", model.NodeKindFunction, 2)
	s.AddNode(mod)
	s.AddNode(fn)
	require.NoError(t, s.AddEdge(model.Edge{Source: mod.ID, Target: fn.ID, Kind: model.EdgeKindContains}))

	stats := s.Stats()
	assert.Equal(t, 2, stats.NodeCount)
	assert.Equal(t, 1, stats.EdgeCount)
	assert.Equal(t, 1, stats.FileCount)
	assert.Equal(t, 1, stats.ByKind[model.NodeKindModule])
	assert.Equal(t, 1, stats.ByKind[model.NodeKindFunction])
}

func TestAllSymbolNames_Sorted(t *testing.T) {
	s := New()
	s.AddNode(mkNode("a.go", "zeta", model.NodeKindFunction, 1))
	s.AddNode(mkNode("a.go", "alpha", model.NodeKindFunction, 2))

	assert.Equal(t, []string{"alpha", "zeta"}, s.AllSymbolNames())
}
