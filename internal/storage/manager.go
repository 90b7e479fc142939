package storage

import (
	"github.com/polygraph/engine/internal/model"
	"github.com/polygraph/engine/internal/store"
)

// Manager is the sole coordinator of persistence. It snapshots a live graph
// store into a GraphStorage backend and restores one back into a fresh
// store, rechecking edge-endpoint integrity on the way in.
type Manager struct {
	graphStorage GraphStorage
	analysis     AnalysisStorage
	cache        CacheStorage
}

// NewManager wires the three persistence interfaces together.
func NewManager(graphStorage GraphStorage, analysis AnalysisStorage, cache CacheStorage) *Manager {
	return &Manager{graphStorage: graphStorage, analysis: analysis, cache: cache}
}

type edgeKey struct {
	source model.NodeID
	target model.NodeID
	kind   model.EdgeKind
}

// Snapshot serializes st's current node/edge set and hands it to the
// configured GraphStorage backend. Store read paths each take the store's
// lock for their own critical section, so a concurrent ReplaceFile either
// fully precedes or fully follows each read.
func (m *Manager) Snapshot(repoID string, st *store.Store, metadata map[string]string) error {
	var nodes []model.Node
	var edges []model.Edge
	seen := map[edgeKey]bool{}

	for _, kind := range []model.NodeKind{
		model.NodeKindModule, model.NodeKindClass, model.NodeKindFunction,
		model.NodeKindMethod, model.NodeKindVariable, model.NodeKindParameter,
		model.NodeKindImport, model.NodeKindCall, model.NodeKindReference,
		model.NodeKindLiteral, model.NodeKindTypeRef, model.NodeKindDecorator,
		model.NodeKindOther,
	} {
		for _, n := range st.NodesOfKind(kind) {
			nodes = append(nodes, n)
			for _, e := range st.EdgesFrom(n.ID) {
				k := edgeKey{source: e.Source, target: e.Target, kind: e.Kind}
				if !seen[k] {
					seen[k] = true
					edges = append(edges, e)
				}
			}
		}
	}

	g := model.NewSerializableGraph(repoID, nodes, edges, metadata)
	return m.graphStorage.StoreGraph(repoID, &g)
}

// Restore loads a previously-stored snapshot into a fresh graph store. Nodes
// land first, one ReplaceFile per source file, then every edge is re-added
// so cross-file edges never race a not-yet-restored target file.
func (m *Manager) Restore(repoID string, dest *store.Store) (bool, error) {
	g, ok, err := m.graphStorage.LoadGraph(repoID)
	if err != nil || !ok {
		return ok, err
	}

	byFile := map[string][]model.Node{}
	for _, sn := range g.Nodes {
		n := model.NodeFromSerializable(sn)
		byFile[n.File] = append(byFile[n.File], n)
	}
	for file, nodes := range byFile {
		if err := dest.ReplaceFile(file, nodes, nil); err != nil {
			return true, err
		}
	}
	for _, se := range g.Edges {
		if err := dest.AddEdge(model.EdgeFromSerializable(se)); err != nil {
			return true, err
		}
	}
	return true, nil
}

// Cache exposes the configured CacheStorage for query-result caching.
func (m *Manager) Cache() CacheStorage { return m.cache }

// Analysis exposes the configured AnalysisStorage.
func (m *Manager) Analysis() AnalysisStorage { return m.analysis }
