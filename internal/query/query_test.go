package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polygraph/engine/internal/content"
	"github.com/polygraph/engine/internal/model"
	"github.com/polygraph/engine/internal/store"
	"github.com/polygraph/engine/internal/xerrors"
)

func mkNode(file, name string, kind model.NodeKind, line uint32) model.Node {
	span := model.Span{StartLine: line, EndLine: line, StartCol: 1, EndCol: 2, StartByte: line * 10, EndByte: line*10 + 5}
	return model.Node{
		ID:           model.ComputeNodeID("repo", file, kind, name, span),
		RepositoryID: "repo",
		Kind:         kind,
		Name:         name,
		Language:     model.LangPython,
		File:         file,
		Span:         span,
	}
}

func testEngine(t *testing.T) (*Engine, *store.Store, *content.Index) {
	t.Helper()
	st := store.New()
	idx := content.New()
	return New(st, idx, 0), st, idx
}

func addEdge(t *testing.T, st *store.Store, src, dst model.NodeID, kind model.EdgeKind) {
	t.Helper()
	require.NoError(t, st.AddEdge(model.Edge{Source: src, Target: dst, Kind: kind}))
}

func TestResolveSymbol_Exact(t *testing.T) {
	e, st, _ := testEngine(t)
	n := mkNode("a.py", "authenticate", model.NodeKindFunction, 1)
	st.AddNode(n)

	id, err := e.ResolveSymbol("authenticate", ResolveContext{})
	require.NoError(t, err)
	assert.Equal(t, n.ID, id)
}

func TestResolveSymbol_Fuzzy(t *testing.T) {
	e, st, _ := testEngine(t)
	n := mkNode("a.py", "authenticate", model.NodeKindFunction, 1)
	st.AddNode(n)

	id, err := e.ResolveSymbol("authentcate", ResolveContext{})
	require.NoError(t, err)
	assert.Equal(t, n.ID, id, "a near-miss should fuzzy-match")
}

func TestResolveSymbol_TrailingSegment(t *testing.T) {
	e, st, _ := testEngine(t)
	n := mkNode("a.py", "UserManager.authenticate", model.NodeKindMethod, 1)
	st.AddNode(n)
	// A distractor so the trailing-segment stage has to pick correctly.
	st.AddNode(mkNode("a.py", "UserManager.logout", model.NodeKindMethod, 2))

	id, err := e.ResolveSymbol("authenticate", ResolveContext{})
	require.NoError(t, err)
	assert.Equal(t, n.ID, id)
}

func TestResolveSymbol_FileHintDisambiguates(t *testing.T) {
	e, st, _ := testEngine(t)
	a := mkNode("a.py", "handler", model.NodeKindFunction, 1)
	b := mkNode("b.py", "handler", model.NodeKindFunction, 1)
	st.AddNode(a)
	st.AddNode(b)

	id, err := e.ResolveSymbol("handler", ResolveContext{FileHint: "b.py"})
	require.NoError(t, err)
	assert.Equal(t, b.ID, id)
}

func TestResolveSymbol_IncomingEdgeCountBreaksTies(t *testing.T) {
	e, st, _ := testEngine(t)
	a := mkNode("a.py", "handler", model.NodeKindFunction, 1)
	b := mkNode("b.py", "handler", model.NodeKindFunction, 1)
	caller := mkNode("c.py", "main", model.NodeKindFunction, 1)
	st.AddNode(a)
	st.AddNode(b)
	st.AddNode(caller)
	addEdge(t, st, caller.ID, b.ID, model.EdgeKindCalls)

	id, err := e.ResolveSymbol("handler", ResolveContext{})
	require.NoError(t, err)
	assert.Equal(t, b.ID, id, "the more-referenced candidate wins")
}

func TestResolveSymbol_NotFoundWithSuggestions(t *testing.T) {
	e, st, _ := testEngine(t)
	st.AddNode(mkNode("a.py", "authenticate", model.NodeKindFunction, 1))

	_, err := e.ResolveSymbol("zzzzz", ResolveContext{})
	require.Error(t, err)
	var de *xerrors.DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, xerrors.KindSymbolNotFound, de.ErrKind)
	assert.NotEmpty(t, de.Suggestions)
	assert.LessOrEqual(t, len(de.Suggestions), 5)
}

func TestFindReferences(t *testing.T) {
	e, st, _ := testEngine(t)
	target := mkNode("b.py", "bar", model.NodeKindFunction, 1)
	caller := mkNode("a.py", "foo", model.NodeKindFunction, 1)
	reader := mkNode("c.py", "baz", model.NodeKindFunction, 1)
	container := mkNode("b.py", "b.py", model.NodeKindModule, 2)
	for _, n := range []model.Node{target, caller, reader, container} {
		st.AddNode(n)
	}
	addEdge(t, st, caller.ID, target.ID, model.EdgeKindCalls)
	addEdge(t, st, reader.ID, target.ID, model.EdgeKindReads)
	// Contains edges are structural, not references.
	addEdge(t, st, container.ID, target.ID, model.EdgeKindContains)

	refs := e.FindReferences(target.ID)
	assert.ElementsMatch(t, []model.NodeID{caller.ID, reader.ID}, refs)
	for i := 1; i < len(refs); i++ {
		assert.Less(t, string(refs[i-1]), string(refs[i]), "NodeID order")
	}
}

func TestTraceCallers(t *testing.T) {
	e, st, _ := testEngine(t)
	bar := mkNode("b.py", "bar", model.NodeKindFunction, 1)
	foo := mkNode("a.py", "foo", model.NodeKindFunction, 1)
	main := mkNode("m.py", "main", model.NodeKindFunction, 1)
	for _, n := range []model.Node{bar, foo, main} {
		st.AddNode(n)
	}
	addEdge(t, st, foo.ID, bar.ID, model.EdgeKindCalls)
	addEdge(t, st, main.ID, foo.ID, model.EdgeKindCalls)

	levels, err := e.TraceCallers(bar.ID, 2)
	require.NoError(t, err)
	require.Len(t, levels, 3)
	assert.Equal(t, []model.NodeID{bar.ID}, levels[0].Nodes)
	assert.Equal(t, []model.NodeID{foo.ID}, levels[1].Nodes)
	assert.Equal(t, []model.NodeID{main.ID}, levels[2].Nodes)
}

func TestTraceCallers_DepthZeroReturnsInput(t *testing.T) {
	e, st, _ := testEngine(t)
	bar := mkNode("b.py", "bar", model.NodeKindFunction, 1)
	foo := mkNode("a.py", "foo", model.NodeKindFunction, 1)
	st.AddNode(bar)
	st.AddNode(foo)
	addEdge(t, st, foo.ID, bar.ID, model.EdgeKindCalls)

	// An explicit depth of 0 yields exactly {input}, even though a caller
	// exists one level away.
	levels, err := e.TraceCallers(bar.ID, 0)
	require.NoError(t, err)
	require.Len(t, levels, 1)
	assert.Equal(t, []model.NodeID{bar.ID}, levels[0].Nodes)
}

func TestTraceCallers_NegativeDepthUsesDefault(t *testing.T) {
	e, st, _ := testEngine(t)
	bar := mkNode("b.py", "bar", model.NodeKindFunction, 1)
	foo := mkNode("a.py", "foo", model.NodeKindFunction, 1)
	st.AddNode(bar)
	st.AddNode(foo)
	addEdge(t, st, foo.ID, bar.ID, model.EdgeKindCalls)

	levels, err := e.TraceCallers(bar.ID, -1)
	require.NoError(t, err)
	require.Len(t, levels, 2)
	assert.Equal(t, []model.NodeID{foo.ID}, levels[1].Nodes)
}

func TestTraceInheritance_DepthZeroReturnsInput(t *testing.T) {
	e, st, _ := testEngine(t)
	base := mkNode("base.py", "Base", model.NodeKindClass, 1)
	derived := mkNode("derived.py", "Derived", model.NodeKindClass, 1)
	st.AddNode(base)
	st.AddNode(derived)
	addEdge(t, st, derived.ID, base.ID, model.EdgeKindInherits)

	levels, err := e.TraceInheritance(derived.ID, DirectionUp, 0)
	require.NoError(t, err)
	require.Len(t, levels, 1)
	assert.Equal(t, []model.NodeID{derived.ID}, levels[0].Nodes)
}

func TestAnalyzeTransitiveDependencies_DepthZeroReturnsInput(t *testing.T) {
	e, st, _ := testEngine(t)
	a := mkNode("a.py", "a.py", model.NodeKindModule, 1)
	b := mkNode("b.py", "b.py", model.NodeKindModule, 1)
	st.AddNode(a)
	st.AddNode(b)
	addEdge(t, st, a.ID, b.ID, model.EdgeKindImports)

	deps, err := e.AnalyzeTransitiveDependencies(a.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, []model.NodeID{a.ID}, deps)
}

func TestTraceCallers_HardCap(t *testing.T) {
	e, st, _ := testEngine(t)
	n := mkNode("a.py", "f", model.NodeKindFunction, 1)
	st.AddNode(n)

	_, err := e.TraceCallers(n.ID, 33)
	require.Error(t, err)
	var de *xerrors.DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, xerrors.KindBoundExceeded, de.ErrKind)
}

func TestTraceInheritance_CycleSafe(t *testing.T) {
	e, st, _ := testEngine(t)
	x := mkNode("x.java", "X", model.NodeKindClass, 1)
	y := mkNode("y.java", "Y", model.NodeKindClass, 1)
	st.AddNode(x)
	st.AddNode(y)
	// Accidental mutual inheritance; the traversal must still terminate.
	addEdge(t, st, x.ID, y.ID, model.EdgeKindInherits)
	addEdge(t, st, y.ID, x.ID, model.EdgeKindInherits)

	levels, err := e.TraceInheritance(x.ID, DirectionUp, 10)
	require.NoError(t, err)

	seen := map[model.NodeID]int{}
	for _, lvl := range levels {
		for _, id := range lvl.Nodes {
			seen[id]++
		}
	}
	assert.Equal(t, map[model.NodeID]int{x.ID: 1, y.ID: 1}, seen,
		"each node visited exactly once despite the cycle")
}

func TestTraceInheritance_Directions(t *testing.T) {
	e, st, _ := testEngine(t)
	base := mkNode("base.py", "Base", model.NodeKindClass, 1)
	derived := mkNode("derived.py", "Derived", model.NodeKindClass, 1)
	st.AddNode(base)
	st.AddNode(derived)
	addEdge(t, st, derived.ID, base.ID, model.EdgeKindInherits)

	up, err := e.TraceInheritance(derived.ID, DirectionUp, 5)
	require.NoError(t, err)
	require.Len(t, up, 2)
	assert.Equal(t, []model.NodeID{base.ID}, up[1].Nodes)

	down, err := e.TraceInheritance(base.ID, DirectionDown, 5)
	require.NoError(t, err)
	require.Len(t, down, 2)
	assert.Equal(t, []model.NodeID{derived.ID}, down[1].Nodes)

	// A leaf traced upward with no parents yields only itself.
	solo, err := e.TraceInheritance(base.ID, DirectionUp, 1)
	require.NoError(t, err)
	require.Len(t, solo, 1)
	assert.Equal(t, []model.NodeID{base.ID}, solo[0].Nodes)
}

func TestAnalyzeTransitiveDependencies(t *testing.T) {
	e, st, _ := testEngine(t)
	a := mkNode("a.py", "a.py", model.NodeKindModule, 1)
	b := mkNode("b.py", "b.py", model.NodeKindModule, 1)
	c := mkNode("c.py", "c.py", model.NodeKindModule, 1)
	for _, n := range []model.Node{a, b, c} {
		st.AddNode(n)
	}
	addEdge(t, st, a.ID, b.ID, model.EdgeKindImports)
	addEdge(t, st, b.ID, c.ID, model.EdgeKindImports)

	deps, err := e.AnalyzeTransitiveDependencies(a.ID, 5)
	require.NoError(t, err)
	assert.ElementsMatch(t, []model.NodeID{a.ID, b.ID, c.ID}, deps)

	shallow, err := e.AnalyzeTransitiveDependencies(a.ID, 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []model.NodeID{a.ID, b.ID}, shallow,
		"depth 1 must not reach the transitive dependency")
}

func TestSearchContent_AnnotatesModule(t *testing.T) {
	e, st, idx := testEngine(t)
	mod := mkNode("q.py", "q.py", model.NodeKindModule, 1)
	st.AddNode(mod)
	idx.IndexFile("q.py", []byte("the quick brown fox"), "text/x-python")

	results, err := e.SearchContent("quick fox", content.SearchFilters{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, mod.ID, results[0].ContainingModule)
}

func TestSearchContent_InvalidGlob(t *testing.T) {
	e, _, idx := testEngine(t)
	idx.IndexFile("a.py", []byte("x"), "text/x-python")

	_, err := e.SearchContent("x", content.SearchFilters{PathGlob: "../../etc/*"})
	require.Error(t, err)
	var de *xerrors.DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, xerrors.KindInvalidParams, de.ErrKind)
}
