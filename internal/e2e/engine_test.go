package e2e

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polygraph/engine/internal/config"
	"github.com/polygraph/engine/internal/content"
	"github.com/polygraph/engine/internal/lang"
	"github.com/polygraph/engine/internal/model"
	"github.com/polygraph/engine/internal/pipeline"
	"github.com/polygraph/engine/internal/query"
	"github.com/polygraph/engine/internal/scan"
	"github.com/polygraph/engine/internal/storage"
	"github.com/polygraph/engine/internal/store"
	"github.com/polygraph/engine/internal/tools"
)

// engine bundles everything a fully-indexed repository exposes.
type engine struct {
	root     string
	repoID   string
	store    *store.Store
	index    *content.Index
	pipeline *pipeline.Pipeline
	query    *query.Engine
	service  *tools.Service
}

// indexRepo writes the file tree to a temp root, scans it, and runs every
// discovered file through the update pipeline, the same sequence the daemon
// performs at startup.
func indexRepo(t *testing.T, files map[string]string) *engine {
	t.Helper()
	root := t.TempDir()
	for rel, src := range files {
		full := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(src), 0o644))
	}

	repoID := model.ComputeRepositoryID(root)
	st := store.New()
	idx := content.New()
	adapter := lang.NewTreeSitterAdapter()
	t.Cleanup(func() { adapter.Close() })

	scanner := scan.New(root, scan.Config{DependencyMode: scan.DependencyExclude})
	discovered, err := scanner.Scan(context.Background(), nil)
	require.NoError(t, err)

	known := make([]string, len(discovered))
	for i, f := range discovered {
		known[i] = f.Path
	}
	resolver := lang.NewResolver(root, known)
	pl := pipeline.New(repoID, root, st, idx, adapter, resolver)

	// Modules land before dependents' cross-references resolve; a second
	// pass over importers would tighten accuracy, but within one directory
	// lexical order already puts b.py before the z.py that imports it.
	for _, f := range discovered {
		data, err := os.ReadFile(filepath.Join(root, f.Path))
		require.NoError(t, err)
		require.NoError(t, pl.Apply(pipeline.Change{Path: f.Path, Kind: pipeline.Added}, data).Err)
	}

	eng := query.New(st, idx, 32)
	svc := tools.New(repoID, st, eng, idx, pl, storage.NewCache(1<<20), config.Default())
	return &engine{root: root, repoID: repoID, store: st, index: idx, pipeline: pl, query: eng, service: svc}
}

func (e *engine) mustResolve(t *testing.T, name string) model.Node {
	t.Helper()
	id, err := e.query.ResolveSymbol(name, query.ResolveContext{})
	require.NoError(t, err, "resolving %s", name)
	n, ok := e.store.GetNode(id)
	require.True(t, ok)
	return n
}

func TestPythonClassAndMethod(t *testing.T) {
	e := indexRepo(t, map[string]string{
		"m.py": "class A:\n    def f(self): pass\n",
	})

	class := e.mustResolve(t, "A")
	assert.Equal(t, model.NodeKindClass, class.Kind)

	// Methods are indexed under their bare name, so "f" resolves by exact
	// match to the method; no resolution stage matches a qualified "A.f"
	// against the owning class.
	method := e.mustResolve(t, "f")
	assert.Equal(t, model.NodeKindMethod, method.Kind)

	// Inheritance of a standalone class is just the class itself.
	levels, err := e.query.TraceInheritance(class.ID, query.DirectionBoth, 1)
	require.NoError(t, err)
	require.Len(t, levels, 1)
	assert.Equal(t, []model.NodeID{class.ID}, levels[0].Nodes)
}

func TestCrossFileCallAndIncrementalEdit(t *testing.T) {
	e := indexRepo(t, map[string]string{
		"b.py": "def bar(): pass\n",
		"z.py": "from b import bar\n\ndef foo(): bar()\n",
	})

	bar := e.mustResolve(t, "bar")
	refs := e.query.FindReferences(bar.ID)
	require.NotEmpty(t, refs, "the call site in z.py must reference bar")

	callers, err := e.query.TraceCallers(bar.ID, 2)
	require.NoError(t, err)
	require.Greater(t, len(callers), 1)

	// Edit z.py so the call disappears; bar's NodeID must survive.
	idBefore := bar.ID
	result := e.pipeline.Apply(pipeline.Change{Path: "z.py", Kind: pipeline.Modified},
		[]byte("def foo(): pass\n"))
	require.NoError(t, result.Err)

	assert.Empty(t, e.query.FindReferences(idBefore))
	assert.Equal(t, idBefore, e.mustResolve(t, "bar").ID)
}

func TestCycleSafeInheritance(t *testing.T) {
	// Accidental mutual inheritance; traversal must terminate with {X, Y}.
	e := indexRepo(t, map[string]string{
		"x.py": "from y import Y\n\nclass X(Y): pass\n",
		"y.py": "from x import X\n\nclass Y(X): pass\n",
	})

	x := e.mustResolve(t, "X")
	levels, err := e.query.TraceInheritance(x.ID, query.DirectionUp, 10)
	require.NoError(t, err)

	visits := map[string]int{}
	for _, lvl := range levels {
		for _, id := range lvl.Nodes {
			n, _ := e.store.GetNode(id)
			visits[n.Name]++
		}
	}
	assert.LessOrEqual(t, len(visits), 2)
	for name, count := range visits {
		assert.Equal(t, 1, count, "%s visited more than once", name)
	}
}

func TestContentSearchScenario(t *testing.T) {
	e := indexRepo(t, map[string]string{
		"q.py": "# the quick brown fox\n",
	})

	hits, err := e.query.SearchContent("Quick FOX", content.SearchFilters{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "q.py", hits[0].Chunk.Path)

	empty, err := e.query.SearchContent("slow", content.SearchFilters{})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSandboxRejection(t *testing.T) {
	e := indexRepo(t, map[string]string{"a.py": "x = 1\n"})

	_, out, err := e.service.SearchContent(context.Background(), nil,
		tools.SearchContentInput{Query: "x", FileGlob: "../../etc/*"})
	require.NoError(t, err)
	require.NotNil(t, out.Error)
	assert.Equal(t, "INVALID_PARAMS", out.Error.Kind)
	assert.Contains(t, out.Error.Message, "repository root")
}

func TestSnapshotRestoreRebuildsIndexes(t *testing.T) {
	e := indexRepo(t, map[string]string{
		"b.py": "def bar(): pass\n",
		"z.py": "from b import bar\n\ndef foo(): bar()\n",
	})

	storageRoot := t.TempDir()
	manager := storage.NewManager(
		storage.NewFileGraphStorage(storageRoot),
		storage.NewMemAnalysisStorage(),
		storage.NewCache(1<<20),
	)
	require.NoError(t, manager.Snapshot(e.repoID, e.store, nil))

	restored := store.New()
	ok, err := manager.Restore(e.repoID, restored)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, e.store.Stats(), restored.Stats())
	assert.Equal(t, e.store.AllSymbolNames(), restored.AllSymbolNames())
	for _, name := range e.store.AllSymbolNames() {
		assert.Equal(t, e.store.LookupSymbol(name), restored.LookupSymbol(name))
	}
}

func TestGoFixtureProject(t *testing.T) {
	modelSrc, err := os.ReadFile("../../testdata/fixtures/go_project/model.go")
	require.NoError(t, err)
	serviceSrc, err := os.ReadFile("../../testdata/fixtures/go_project/service.go")
	require.NoError(t, err)

	e := indexRepo(t, map[string]string{
		"project/model.go":   string(modelSrc),
		"project/service.go": string(serviceSrc),
	})

	svc := e.mustResolve(t, "UserService")
	assert.Equal(t, model.NodeKindClass, svc.Kind)

	getUser := e.mustResolve(t, "GetUser")
	assert.Equal(t, model.NodeKindMethod, getUser.Kind)

	_, stats, err := e.service.RepositoryStats(context.Background(), nil, tools.RepositoryStatsInput{})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.FileCount)
	assert.Positive(t, stats.ByKind["method"])
	assert.Positive(t, stats.ByLanguage["go"])
}
