package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polygraph/engine/internal/model"
)

func sampleGraph(repoID string) model.SerializableGraph {
	spanA := model.Span{StartByte: 0, EndByte: 10, StartLine: 1, StartCol: 1, EndLine: 1, EndCol: 11}
	spanB := model.Span{StartByte: 12, EndByte: 30, StartLine: 2, StartCol: 1, EndLine: 3, EndCol: 2}
	nodes := []model.Node{
		{
			ID:           model.ComputeNodeID(repoID, "a.go", model.NodeKindModule, "a.go", spanA),
			RepositoryID: repoID, Kind: model.NodeKindModule, Name: "a.go",
			Language: model.LangGo, File: "a.go", Span: spanA,
			Attributes: map[string]string{"loc": "3"},
		},
		{
			ID:           model.ComputeNodeID(repoID, "a.go", model.NodeKindFunction, "Foo", spanB),
			RepositoryID: repoID, Kind: model.NodeKindFunction, Name: "Foo",
			Language: model.LangGo, File: "a.go", Span: spanB,
		},
	}
	edges := []model.Edge{{Source: nodes[0].ID, Target: nodes[1].ID, Kind: model.EdgeKindContains}}
	return model.NewSerializableGraph(repoID, nodes, edges, map[string]string{"v": "1"})
}

func TestMemGraphStorage_RoundTrip(t *testing.T) {
	s := NewMemGraphStorage()
	g := sampleGraph("r1")

	require.NoError(t, s.StoreGraph("r1", &g))

	exists, err := s.GraphExists("r1")
	require.NoError(t, err)
	assert.True(t, exists)

	back, ok, err := s.LoadGraph("r1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, &g, back)

	_, ok, err = s.LoadGraph("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileGraphStorage_RoundTrip(t *testing.T) {
	root := t.TempDir()
	s := NewFileGraphStorage(root)
	g := sampleGraph("r1")

	require.NoError(t, s.StoreGraph("r1", &g))

	// One JSON document per repository under <root>/graphs/.
	_, err := os.Stat(filepath.Join(root, "graphs", "r1.json"))
	require.NoError(t, err)

	back, ok, err := s.LoadGraph("r1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, g.Nodes, back.Nodes)
	assert.Equal(t, g.Edges, back.Edges)
	assert.Equal(t, g.Metadata, back.Metadata)
}

func TestFileGraphStorage_WriteIsByteStable(t *testing.T) {
	root := t.TempDir()
	s := NewFileGraphStorage(root)
	g1 := sampleGraph("r1")
	g2 := sampleGraph("r1")

	require.NoError(t, s.StoreGraph("r1", &g1))
	first, err := os.ReadFile(filepath.Join(root, "graphs", "r1.json"))
	require.NoError(t, err)

	require.NoError(t, s.StoreGraph("r1", &g2))
	second, err := os.ReadFile(filepath.Join(root, "graphs", "r1.json"))
	require.NoError(t, err)

	assert.Equal(t, first, second, "identical graphs must serialize byte-identically")
}

func TestFileGraphStorage_DeleteNodes(t *testing.T) {
	root := t.TempDir()
	s := NewFileGraphStorage(root)
	g := sampleGraph("r1")
	require.NoError(t, s.StoreGraph("r1", &g))

	require.NoError(t, s.DeleteNodes("r1", []model.NodeID{g.Nodes[0].ID}))

	back, ok, err := s.LoadGraph("r1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, back.Nodes, 1)
	assert.NotEqual(t, g.Nodes[0].ID, back.Nodes[0].ID)
}

func TestGraphStorage_UpdateNodesAndEdges(t *testing.T) {
	backends := map[string]func(t *testing.T) GraphStorage{
		"mem":  func(t *testing.T) GraphStorage { return NewMemGraphStorage() },
		"file": func(t *testing.T) GraphStorage { return NewFileGraphStorage(t.TempDir()) },
	}
	for name, mk := range backends {
		t.Run(name, func(t *testing.T) {
			s := mk(t)
			g := sampleGraph("r1")
			require.NoError(t, s.StoreGraph("r1", &g))

			// Overwrite an existing node's attributes and add a new one.
			updated := g.Nodes[0]
			updated.Attributes = map[string]string{"loc": "99"}
			extraSpan := model.Span{StartByte: 40, EndByte: 50, StartLine: 5, StartCol: 1, EndLine: 5, EndCol: 11}
			extra := model.SerializableNode{
				ID:           model.ComputeNodeID("r1", "a.go", model.NodeKindVariable, "count", extraSpan),
				RepositoryID: "r1", Kind: model.NodeKindVariable, Name: "count",
				Language: model.LangGo, File: "a.go", Span: extraSpan,
			}
			require.NoError(t, s.UpdateNodes("r1", []model.SerializableNode{updated, extra}))

			back, ok, err := s.LoadGraph("r1")
			require.NoError(t, err)
			require.True(t, ok)
			require.Len(t, back.Nodes, 3)
			for _, n := range back.Nodes {
				if n.ID == updated.ID {
					assert.Equal(t, "99", n.Attributes["loc"])
				}
			}

			// Upserting an edge for an existing triple replaces its metadata.
			e := g.Edges[0]
			e.Metadata = map[string]string{"note": "revised"}
			require.NoError(t, s.UpdateEdges("r1", []model.SerializableEdge{e}))

			back, _, err = s.LoadGraph("r1")
			require.NoError(t, err)
			require.Len(t, back.Edges, 1)
			assert.Equal(t, "revised", back.Edges[0].Metadata["note"])

			// Deleting a node drops its incident edges too.
			require.NoError(t, s.DeleteNodes("r1", []model.NodeID{g.Nodes[0].ID}))
			back, _, err = s.LoadGraph("r1")
			require.NoError(t, err)
			require.Len(t, back.Nodes, 2)
			assert.Empty(t, back.Edges)
		})
	}
}

func TestMemAnalysisStorage(t *testing.T) {
	s := NewMemAnalysisStorage()
	require.NoError(t, s.StoreAnalysis("r1", "complexity", []byte(`{"score":3}`)))

	payload, ok, err := s.LoadAnalysis("r1", "complexity")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"score":3}`, string(payload))

	_, ok, err = s.LoadAnalysis("r1", "other")
	require.NoError(t, err)
	assert.False(t, ok)
}

// withFakeClock pins nowFunc to a controllable instant for TTL tests.
func withFakeClock(t *testing.T) func(d time.Duration) {
	t.Helper()
	now := time.Unix(1_700_000_000, 0)
	orig := nowFunc
	nowFunc = func() time.Time { return now }
	t.Cleanup(func() { nowFunc = orig })
	return func(d time.Duration) { now = now.Add(d) }
}

func TestCache_TTLExpiry(t *testing.T) {
	advance := withFakeClock(t)
	c := NewCache(1 << 20)

	c.Put("k", []byte("value"), 10*time.Second)

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("value"), got)

	advance(11 * time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok, "an expired entry must never be returned")

	stats := c.Stats()
	assert.Zero(t, stats.Entries, "lazy expiry also removes the entry")
}

func TestCache_ZeroTTLNeverExpires(t *testing.T) {
	advance := withFakeClock(t)
	c := NewCache(1 << 20)

	c.Put("k", []byte("v"), 0)
	advance(1000 * time.Hour)
	_, ok := c.Get("k")
	assert.True(t, ok)
}

func TestCache_LRUEvictionUnderBytePressure(t *testing.T) {
	c := NewCache(10)

	c.Put("a", []byte("aaaa"), 0) // 4 bytes
	c.Put("b", []byte("bbbb"), 0) // 8 bytes total
	_, _ = c.Get("a")             // touch a so b is the LRU victim
	c.Put("c", []byte("cccc"), 0) // needs eviction

	_, okA := c.Get("a")
	_, okB := c.Get("b")
	_, okC := c.Get("c")
	assert.True(t, okA)
	assert.False(t, okB, "least-recently-used entry is evicted first")
	assert.True(t, okC)

	stats := c.Stats()
	assert.LessOrEqual(t, stats.CurBytes, stats.MaxBytes)
}

func TestCache_ExpiredEvictedBeforeLRU(t *testing.T) {
	advance := withFakeClock(t)
	c := NewCache(10)

	c.Put("expired", []byte("xxxx"), time.Second)
	c.Put("fresh", []byte("yyyy"), 0)
	advance(2 * time.Second)

	c.Put("new", []byte("zzzz"), 0)

	_, okFresh := c.Get("fresh")
	_, okNew := c.Get("new")
	assert.True(t, okFresh, "the sweep should have reclaimed the expired entry instead")
	assert.True(t, okNew)
}

func TestCache_OverwriteSameKey(t *testing.T) {
	c := NewCache(1 << 10)
	c.Put("k", []byte("old"), 0)
	c.Put("k", []byte("newer"), 0)

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("newer"), got)
	assert.Equal(t, int64(len("newer")), c.Stats().CurBytes)
}

func TestCache_InvalidateAndStats(t *testing.T) {
	c := NewCache(1 << 10)
	c.Put("k", []byte("v"), 0)
	_, _ = c.Get("k")
	_, _ = c.Get("missing")

	c.Invalidate("k")
	_, ok := c.Get("k")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(2), stats.Misses)
	assert.Zero(t, stats.CurBytes)
}
