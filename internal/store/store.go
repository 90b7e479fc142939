// Package store implements the concurrent graph store: the authoritative
// in-memory home for every node and edge emitted by a language adapter, with
// byFile/bySymbol/byKind secondary indexes, per-file write leases and an
// atomic ReplaceFile commit.
package store

import (
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring"

	"github.com/polygraph/engine/internal/model"
	"github.com/polygraph/engine/internal/xerrors"
)

// Store holds the node/edge sets and their secondary indexes.
type Store struct {
	mu sync.RWMutex

	nodes     map[model.NodeID]model.Node
	edgesFrom map[model.NodeID][]model.Edge
	edgesTo   map[model.NodeID][]model.Edge

	// byFile indexes every NodeID that belongs to a file, as a roaring
	// bitmap over intID so replace_file/remove_file cascade in O(k) where k
	// is the file's own node count, not O(N) over the whole graph.
	byFile map[string]*roaring.Bitmap
	// bySymbol indexes NodeIDs by bare symbol name for the query engine's
	// exact-match stage; ordering within a name is by NodeID ascending for
	// deterministic disambiguation tiebreaks.
	bySymbol map[string][]model.NodeID
	byKind   map[model.NodeKind]*roaring.Bitmap

	nodeIntID   map[model.NodeID]uint32
	intToNodeID []model.NodeID

	// fileLeases serializes concurrent replace_file calls against the same
	// path so two racing reparses of one file cannot interleave.
	fileLeases map[string]*sync.Mutex
	leasesMu   sync.Mutex
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		nodes:      make(map[model.NodeID]model.Node),
		edgesFrom:  make(map[model.NodeID][]model.Edge),
		edgesTo:    make(map[model.NodeID][]model.Edge),
		byFile:     make(map[string]*roaring.Bitmap),
		bySymbol:   make(map[string][]model.NodeID),
		byKind:     make(map[model.NodeKind]*roaring.Bitmap),
		nodeIntID:  make(map[model.NodeID]uint32),
		fileLeases: make(map[string]*sync.Mutex),
	}
}

func (s *Store) leaseFor(path string) *sync.Mutex {
	s.leasesMu.Lock()
	defer s.leasesMu.Unlock()
	l, ok := s.fileLeases[path]
	if !ok {
		l = &sync.Mutex{}
		s.fileLeases[path] = l
	}
	return l
}

// intIDFor returns (creating if necessary) the bitmap-stable uint32 ID for a
// NodeID. Must be called with s.mu held for writing.
func (s *Store) intIDFor(id model.NodeID) uint32 {
	if v, ok := s.nodeIntID[id]; ok {
		return v
	}
	v := uint32(len(s.intToNodeID))
	s.nodeIntID[id] = v
	s.intToNodeID = append(s.intToNodeID, id)
	return v
}

// AddNode inserts or overwrites a node and maintains byFile/bySymbol/byKind.
func (s *Store) AddNode(n model.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addNodeLocked(n)
}

func (s *Store) addNodeLocked(n model.Node) {
	s.nodes[n.ID] = n

	intID := s.intIDFor(n.ID)

	bm, ok := s.byFile[n.File]
	if !ok {
		bm = roaring.New()
		s.byFile[n.File] = bm
	}
	bm.Add(intID)

	kbm, ok := s.byKind[n.Kind]
	if !ok {
		kbm = roaring.New()
		s.byKind[n.Kind] = kbm
	}
	kbm.Add(intID)

	if n.Name != "" {
		s.bySymbol[n.Name] = insertSorted(s.bySymbol[n.Name], n.ID)
	}
}

func insertSorted(ids []model.NodeID, id model.NodeID) []model.NodeID {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	i := sort.Search(len(ids), func(i int) bool { return ids[i] >= id })
	ids = append(ids, "")
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	return ids
}

// AddEdge appends an edge, rejecting it with AddEdgeFailed if either
// endpoint is unknown to the store. Callers must add nodes before wiring
// edges between them within one file's commit.
func (s *Store) AddEdge(e model.Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addEdgeLocked(e)
}

func (s *Store) addEdgeLocked(e model.Edge) error {
	if _, ok := s.nodes[e.Source]; !ok {
		return xerrors.AddEdgeFailed(string(e.Source), string(e.Target))
	}
	if _, ok := s.nodes[e.Target]; !ok {
		return xerrors.AddEdgeFailed(string(e.Source), string(e.Target))
	}
	s.edgesFrom[e.Source] = append(s.edgesFrom[e.Source], e)
	s.edgesTo[e.Target] = append(s.edgesTo[e.Target], e)
	return nil
}

// GetNode returns a node by ID.
func (s *Store) GetNode(id model.NodeID) (model.Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	return n, ok
}

// EdgesFrom returns every outgoing edge from a node, in insertion order.
func (s *Store) EdgesFrom(id model.NodeID) []model.Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Edge(nil), s.edgesFrom[id]...)
}

// EdgesTo returns every incoming edge to a node, in insertion order.
func (s *Store) EdgesTo(id model.NodeID) []model.Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Edge(nil), s.edgesTo[id]...)
}

// NodesInFile returns every node belonging to a file, NodeID-ascending.
func (s *Store) NodesInFile(path string) []model.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nodesInFileLocked(path)
}

// NodesOfKind returns every node of a given kind.
func (s *Store) NodesOfKind(kind model.NodeKind) []model.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bm, ok := s.byKind[kind]
	if !ok {
		return nil
	}
	out := make([]model.Node, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		out = append(out, s.nodes[s.intToNodeID[it.Next()]])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LookupSymbol returns every node whose Name matches exactly, NodeID-ascending.
func (s *Store) LookupSymbol(name string) []model.NodeID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.NodeID(nil), s.bySymbol[name]...)
}

// AllSymbolNames returns every distinct symbol name in the store, for the
// Query Engine's fuzzy-match candidate generation.
func (s *Store) AllSymbolNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.bySymbol))
	for name := range s.bySymbol {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RemoveFile deletes every node belonging to path and every edge touching
// one of those nodes, using the byFile bitmap for O(k) cascade instead of an
// O(N) scan over the whole store.
func (s *Store) RemoveFile(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeFileLocked(path)
}

// RemoveNode deletes a single node and cascades every incident edge off the
// surviving endpoints' sequences.
func (s *Store) RemoveNode(id model.NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[id]
	if !ok {
		return
	}
	doomed := map[model.NodeID]bool{id: true}
	for _, e := range s.edgesFrom[id] {
		if e.Target != id {
			s.edgesTo[e.Target] = dropEdges(s.edgesTo[e.Target], doomed)
			if len(s.edgesTo[e.Target]) == 0 {
				delete(s.edgesTo, e.Target)
			}
		}
	}
	for _, e := range s.edgesTo[id] {
		if e.Source != id {
			s.edgesFrom[e.Source] = dropEdgesByTarget(s.edgesFrom[e.Source], doomed)
			if len(s.edgesFrom[e.Source]) == 0 {
				delete(s.edgesFrom, e.Source)
			}
		}
	}

	if bm, ok := s.byFile[n.File]; ok {
		bm.Remove(s.nodeIntID[id])
		if bm.IsEmpty() {
			delete(s.byFile, n.File)
		}
	}
	if kbm, ok := s.byKind[n.Kind]; ok {
		kbm.Remove(s.nodeIntID[id])
	}
	if names := s.bySymbol[n.Name]; len(names) > 0 {
		s.bySymbol[n.Name] = removeID(names, id)
		if len(s.bySymbol[n.Name]) == 0 {
			delete(s.bySymbol, n.Name)
		}
	}
	delete(s.nodes, id)
	delete(s.edgesFrom, id)
	delete(s.edgesTo, id)
}

func (s *Store) removeFileLocked(path string) {
	bm, ok := s.byFile[path]
	if !ok {
		return
	}
	doomed := make(map[model.NodeID]bool, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		doomed[s.intToNodeID[it.Next()]] = true
	}

	// Detach cross-file edges touching a doomed node from the surviving
	// side's sequence, so no edge is left with a removed endpoint.
	for id := range doomed {
		for _, e := range s.edgesFrom[id] {
			if !doomed[e.Target] {
				s.edgesTo[e.Target] = dropEdges(s.edgesTo[e.Target], doomed)
				if len(s.edgesTo[e.Target]) == 0 {
					delete(s.edgesTo, e.Target)
				}
			}
		}
		for _, e := range s.edgesTo[id] {
			if !doomed[e.Source] {
				s.edgesFrom[e.Source] = dropEdgesByTarget(s.edgesFrom[e.Source], doomed)
				if len(s.edgesFrom[e.Source]) == 0 {
					delete(s.edgesFrom, e.Source)
				}
			}
		}
	}

	for id := range doomed {
		n := s.nodes[id]
		if kbm, ok := s.byKind[n.Kind]; ok {
			kbm.Remove(s.nodeIntID[id])
		}
		if names := s.bySymbol[n.Name]; len(names) > 0 {
			s.bySymbol[n.Name] = removeID(names, id)
			if len(s.bySymbol[n.Name]) == 0 {
				delete(s.bySymbol, n.Name)
			}
		}
		delete(s.nodes, id)
		delete(s.edgesFrom, id)
		delete(s.edgesTo, id)
	}
	delete(s.byFile, path)
}

func dropEdges(edges []model.Edge, doomedSources map[model.NodeID]bool) []model.Edge {
	out := edges[:0]
	for _, e := range edges {
		if !doomedSources[e.Source] {
			out = append(out, e)
		}
	}
	return out
}

func dropEdgesByTarget(edges []model.Edge, doomedTargets map[model.NodeID]bool) []model.Edge {
	out := edges[:0]
	for _, e := range edges {
		if !doomedTargets[e.Target] {
			out = append(out, e)
		}
	}
	return out
}

func removeID(ids []model.NodeID, target model.NodeID) []model.NodeID {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// ReplaceFile atomically swaps a file's nodes/edges for a new set produced
// by a reparse. On failure (an edge whose endpoint is missing from both the
// new batch and the rest of the store) the prior state is restored and
// ReplaceFileFailed is returned.
func (s *Store) ReplaceFile(path string, nodes []model.Node, edges []model.Edge) error {
	lease := s.leaseFor(path)
	lease.Lock()
	defer lease.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.snapshotFileLocked(path)

	s.removeFileLocked(path)
	for _, n := range nodes {
		s.addNodeLocked(n)
	}
	for _, e := range edges {
		if err := s.addEdgeLocked(e); err != nil {
			s.restoreFileLocked(path, snapshot)
			return xerrors.ReplaceFileFailed(path, err.Error())
		}
	}
	return nil
}

type fileSnapshot struct {
	nodes []model.Node
	// edges holds every edge incident to the file's nodes: the file's own
	// outgoing edges in insertion order, then incoming edges whose source
	// lives in another file.
	edges []model.Edge
}

func (s *Store) snapshotFileLocked(path string) fileSnapshot {
	snap := fileSnapshot{nodes: s.nodesInFileLocked(path)}
	inFile := make(map[model.NodeID]bool, len(snap.nodes))
	for _, n := range snap.nodes {
		inFile[n.ID] = true
	}
	for _, n := range snap.nodes {
		snap.edges = append(snap.edges, s.edgesFrom[n.ID]...)
	}
	for _, n := range snap.nodes {
		for _, e := range s.edgesTo[n.ID] {
			if !inFile[e.Source] {
				snap.edges = append(snap.edges, e)
			}
		}
	}
	return snap
}

func (s *Store) restoreFileLocked(path string, snap fileSnapshot) {
	s.removeFileLocked(path)
	for _, n := range snap.nodes {
		s.addNodeLocked(n)
	}
	for _, e := range snap.edges {
		_ = s.addEdgeLocked(e)
	}
}

func (s *Store) nodesInFileLocked(path string) []model.Node {
	bm, ok := s.byFile[path]
	if !ok {
		return nil
	}
	out := make([]model.Node, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		out = append(out, s.nodes[s.intToNodeID[it.Next()]])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats summarizes the current store population.
type Stats struct {
	NodeCount int
	EdgeCount int
	FileCount int
	ByKind    map[model.NodeKind]int
}

// Stats summarizes node, edge and file counts plus per-kind totals.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	edgeCount := 0
	for _, edges := range s.edgesFrom {
		edgeCount += len(edges)
	}
	byKind := make(map[model.NodeKind]int, len(s.byKind))
	for kind, bm := range s.byKind {
		byKind[kind] = int(bm.GetCardinality())
	}
	return Stats{
		NodeCount: len(s.nodes),
		EdgeCount: edgeCount,
		FileCount: len(s.byFile),
		ByKind:    byKind,
	}
}
