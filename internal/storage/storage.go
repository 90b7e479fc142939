// Package storage provides the persistence layer: pluggable
// GraphStorage/AnalysisStorage/CacheStorage interfaces, in-memory,
// file-backed JSON and KuzuDB graph snapshot backends, and an LRU+TTL cache
// wrapping hashicorp/golang-lru/v2.
package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/polygraph/engine/internal/model"
	"github.com/polygraph/engine/internal/xerrors"
)

// GraphStorage persists SerializableGraph snapshots. UpdateNodes and
// UpdateEdges upsert into an existing snapshot without rewriting the whole
// graph; DeleteNodes removes nodes and their incident edges.
type GraphStorage interface {
	StoreGraph(repoID string, g *model.SerializableGraph) error
	LoadGraph(repoID string) (*model.SerializableGraph, bool, error)
	GraphExists(repoID string) (bool, error)
	UpdateNodes(repoID string, nodes []model.SerializableNode) error
	UpdateEdges(repoID string, edges []model.SerializableEdge) error
	DeleteNodes(repoID string, ids []model.NodeID) error
}

// upsertNodes merges nodes into g by NodeID and restores canonical order.
func upsertNodes(g *model.SerializableGraph, nodes []model.SerializableNode) {
	byID := make(map[model.NodeID]int, len(g.Nodes))
	for i, n := range g.Nodes {
		byID[n.ID] = i
	}
	for _, n := range nodes {
		if i, ok := byID[n.ID]; ok {
			g.Nodes[i] = n
		} else {
			byID[n.ID] = len(g.Nodes)
			g.Nodes = append(g.Nodes, n)
		}
	}
	g.Sort()
}

// upsertEdges merges edges into g by (source, kind, target) and restores
// canonical order.
func upsertEdges(g *model.SerializableGraph, edges []model.SerializableEdge) {
	type key struct {
		source model.NodeID
		target model.NodeID
		kind   model.EdgeKind
	}
	byKey := make(map[key]int, len(g.Edges))
	for i, e := range g.Edges {
		byKey[key{e.Source, e.Target, e.Kind}] = i
	}
	for _, e := range edges {
		k := key{e.Source, e.Target, e.Kind}
		if i, ok := byKey[k]; ok {
			g.Edges[i] = e
		} else {
			byKey[k] = len(g.Edges)
			g.Edges = append(g.Edges, e)
		}
	}
	g.Sort()
}

// dropNodes removes the named nodes and every edge touching one of them.
func dropNodes(g *model.SerializableGraph, ids []model.NodeID) {
	doomed := make(map[model.NodeID]bool, len(ids))
	for _, id := range ids {
		doomed[id] = true
	}
	nodes := g.Nodes[:0]
	for _, n := range g.Nodes {
		if !doomed[n.ID] {
			nodes = append(nodes, n)
		}
	}
	g.Nodes = nodes
	edges := g.Edges[:0]
	for _, e := range g.Edges {
		if !doomed[e.Source] && !doomed[e.Target] {
			edges = append(edges, e)
		}
	}
	g.Edges = edges
}

// AnalysisStorage persists opaque analysis-result payloads keyed by kind.
type AnalysisStorage interface {
	StoreAnalysis(repoID, kind string, payload []byte) error
	LoadAnalysis(repoID, kind string) ([]byte, bool, error)
}

// CacheStorage is a byte-value cache with per-entry TTL.
type CacheStorage interface {
	Get(key string) ([]byte, bool)
	Put(key string, value []byte, ttl time.Duration)
	Invalidate(key string)
	Stats() CacheStats
}

// --- In-memory GraphStorage ---

// MemGraphStorage stores one snapshot per repo_id in memory, guarded by a
// per-repo mutex so a snapshot write cannot interleave with another
// snapshot write of the same repository.
type MemGraphStorage struct {
	mu      sync.RWMutex
	repoMus map[string]*sync.Mutex
	graphs  map[string]*model.SerializableGraph
}

// NewMemGraphStorage returns an empty in-memory GraphStorage.
func NewMemGraphStorage() *MemGraphStorage {
	return &MemGraphStorage{
		repoMus: make(map[string]*sync.Mutex),
		graphs:  make(map[string]*model.SerializableGraph),
	}
}

func (m *MemGraphStorage) lockFor(repoID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.repoMus[repoID]
	if !ok {
		l = &sync.Mutex{}
		m.repoMus[repoID] = l
	}
	return l
}

func (m *MemGraphStorage) StoreGraph(repoID string, g *model.SerializableGraph) error {
	lock := m.lockFor(repoID)
	lock.Lock()
	defer lock.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.graphs[repoID] = g
	return nil
}

func (m *MemGraphStorage) LoadGraph(repoID string) (*model.SerializableGraph, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.graphs[repoID]
	return g, ok, nil
}

func (m *MemGraphStorage) GraphExists(repoID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.graphs[repoID]
	return ok, nil
}

func (m *MemGraphStorage) UpdateNodes(repoID string, nodes []model.SerializableNode) error {
	lock := m.lockFor(repoID)
	lock.Lock()
	defer lock.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.graphs[repoID]; ok {
		upsertNodes(g, nodes)
	}
	return nil
}

func (m *MemGraphStorage) UpdateEdges(repoID string, edges []model.SerializableEdge) error {
	lock := m.lockFor(repoID)
	lock.Lock()
	defer lock.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.graphs[repoID]; ok {
		upsertEdges(g, edges)
	}
	return nil
}

func (m *MemGraphStorage) DeleteNodes(repoID string, ids []model.NodeID) error {
	lock := m.lockFor(repoID)
	lock.Lock()
	defer lock.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.graphs[repoID]; ok {
		dropNodes(g, ids)
	}
	return nil
}

// --- File-backed JSON GraphStorage ---

// FileGraphStorage writes one JSON document per repository under
// <root>/graphs/<repo_id>.json, using a write-to-temp-then-rename sequence
// for atomicity.
type FileGraphStorage struct {
	root    string
	repoMus sync.Map // repoID -> *sync.Mutex
}

// NewFileGraphStorage returns a FileGraphStorage rooted at root.
func NewFileGraphStorage(root string) *FileGraphStorage {
	return &FileGraphStorage{root: root}
}

func (f *FileGraphStorage) lockFor(repoID string) *sync.Mutex {
	v, _ := f.repoMus.LoadOrStore(repoID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (f *FileGraphStorage) path(repoID string) string {
	return filepath.Join(f.root, "graphs", repoID+".json")
}

func (f *FileGraphStorage) StoreGraph(repoID string, g *model.SerializableGraph) error {
	lock := f.lockFor(repoID)
	lock.Lock()
	defer lock.Unlock()

	g.Sort()
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return xerrors.PersistenceError("store_graph", err)
	}

	path := f.path(repoID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return xerrors.PersistenceError("store_graph", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*.json")
	if err != nil {
		return xerrors.PersistenceError("store_graph", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return xerrors.PersistenceError("store_graph", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return xerrors.PersistenceError("store_graph", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return xerrors.PersistenceError("store_graph", err)
	}
	return nil
}

func (f *FileGraphStorage) LoadGraph(repoID string) (*model.SerializableGraph, bool, error) {
	lock := f.lockFor(repoID)
	lock.Lock()
	defer lock.Unlock()

	data, err := os.ReadFile(f.path(repoID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, xerrors.PersistenceError("load_graph", err)
	}
	var g model.SerializableGraph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, false, xerrors.PersistenceError("load_graph", err)
	}
	return &g, true, nil
}

func (f *FileGraphStorage) GraphExists(repoID string) (bool, error) {
	_, err := os.Stat(f.path(repoID))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, xerrors.PersistenceError("graph_exists", err)
}

func (f *FileGraphStorage) UpdateNodes(repoID string, nodes []model.SerializableNode) error {
	return f.rewrite(repoID, func(g *model.SerializableGraph) { upsertNodes(g, nodes) })
}

func (f *FileGraphStorage) UpdateEdges(repoID string, edges []model.SerializableEdge) error {
	return f.rewrite(repoID, func(g *model.SerializableGraph) { upsertEdges(g, edges) })
}

func (f *FileGraphStorage) DeleteNodes(repoID string, ids []model.NodeID) error {
	return f.rewrite(repoID, func(g *model.SerializableGraph) { dropNodes(g, ids) })
}

// rewrite loads the repository's document, applies mutate, and writes it
// back atomically. A missing document is a no-op.
func (f *FileGraphStorage) rewrite(repoID string, mutate func(*model.SerializableGraph)) error {
	g, ok, err := f.LoadGraph(repoID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	mutate(g)
	return f.StoreGraph(repoID, g)
}

// --- In-memory AnalysisStorage ---

// MemAnalysisStorage stores opaque analysis payloads keyed by (repoID, kind).
type MemAnalysisStorage struct {
	mu      sync.RWMutex
	payload map[string][]byte
}

// NewMemAnalysisStorage returns an empty AnalysisStorage.
func NewMemAnalysisStorage() *MemAnalysisStorage {
	return &MemAnalysisStorage{payload: make(map[string][]byte)}
}

func analysisKey(repoID, kind string) string { return repoID + "\x00" + kind }

func (m *MemAnalysisStorage) StoreAnalysis(repoID, kind string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payload[analysisKey(repoID, kind)] = payload
	return nil
}

func (m *MemAnalysisStorage) LoadAnalysis(repoID, kind string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.payload[analysisKey(repoID, kind)]
	return v, ok, nil
}

// --- LRU+TTL CacheStorage ---

type cacheEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// Cache wraps hashicorp/golang-lru/v2 with explicit per-entry TTL metadata:
// the underlying library has no TTL concept of its own, so expiry is
// layered on top, checked lazily on Get and proactively before each
// eviction sweep. A Get never returns a value past its TTL.
type Cache struct {
	mu       sync.Mutex
	lru      *lru.Cache[string, cacheEntry]
	maxBytes int64
	curBytes int64
	sizes    map[string]int64
	hits     int64
	misses   int64
}

// CacheStats summarizes cache health for observability/tooling.
type CacheStats struct {
	Entries  int
	Hits     int64
	Misses   int64
	CurBytes int64
	MaxBytes int64
}

// NewCache returns a Cache with an unbounded entry count but a maxBytes
// value-size budget, evicting expired entries first and then
// least-recently-used ones until the new entry fits.
func NewCache(maxBytes int64) *Cache {
	c := &Cache{maxBytes: maxBytes, sizes: make(map[string]int64)}
	// A very large capacity: byte-budget eviction is enforced by Put, not
	// by the LRU's own entry-count limit.
	l, _ := lru.New[string, cacheEntry](1 << 20)
	c.lru = l
	return c
}

func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.lru.Get(key)
	if !ok {
		c.misses++
		return nil, false
	}
	if !entry.expiresAt.IsZero() && nowFunc().After(entry.expiresAt) {
		c.removeLocked(key)
		c.misses++
		return nil, false
	}
	c.hits++
	return entry.value, true
}

func (c *Cache) Put(key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sweepExpiredLocked()

	needed := int64(len(value))
	if _, ok := c.sizes[key]; ok {
		c.removeLocked(key)
	}
	for c.curBytes+needed > c.maxBytes {
		if !c.evictOneLocked() {
			break
		}
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = nowFunc().Add(ttl)
	}
	c.lru.Add(key, cacheEntry{value: value, expiresAt: expiresAt})
	c.sizes[key] = needed
	c.curBytes += needed
}

func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(key)
}

func (c *Cache) removeLocked(key string) {
	if sz, ok := c.sizes[key]; ok {
		c.curBytes -= sz
		delete(c.sizes, key)
	}
	c.lru.Remove(key)
}

// evictOneLocked evicts the least-recently-used entry, returning false if
// the cache is already empty.
func (c *Cache) evictOneLocked() bool {
	keys := c.lru.Keys()
	if len(keys) == 0 {
		return false
	}
	c.removeLocked(keys[0])
	return true
}

// sweepExpiredLocked proactively removes every entry whose TTL has passed.
func (c *Cache) sweepExpiredLocked() {
	now := nowFunc()
	for _, key := range c.lru.Keys() {
		entry, ok := c.lru.Peek(key)
		if ok && !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
			c.removeLocked(key)
		}
	}
}

func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Entries:  c.lru.Len(),
		Hits:     c.hits,
		Misses:   c.misses,
		CurBytes: c.curBytes,
		MaxBytes: c.maxBytes,
	}
}

// nowFunc is a seam so tests can fake TTL expiry without sleeping.
var nowFunc = time.Now
