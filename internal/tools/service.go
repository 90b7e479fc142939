package tools

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/polygraph/engine/internal/cluster"
	"github.com/polygraph/engine/internal/config"
	"github.com/polygraph/engine/internal/content"
	"github.com/polygraph/engine/internal/model"
	"github.com/polygraph/engine/internal/pipeline"
	"github.com/polygraph/engine/internal/query"
	"github.com/polygraph/engine/internal/storage"
	"github.com/polygraph/engine/internal/store"
	"github.com/polygraph/engine/internal/xerrors"
)

// Service holds the engine components every tool handler calls into, plus
// the configured per-tool cache TTLs.
type Service struct {
	repoID   string
	store    *store.Store
	engine   *query.Engine
	content  *content.Index
	pipeline *pipeline.Pipeline
	cache    storage.CacheStorage

	defaultTTL time.Duration
	perToolTTL map[string]time.Duration

	registry []ToolDescriptor
}

// New builds a Service. cache may be nil, in which case every handler
// computes its result directly with no caching layer.
func New(repoID string, st *store.Store, eng *query.Engine, idx *content.Index, pl *pipeline.Pipeline, cache storage.CacheStorage, cfg config.Config) *Service {
	perToolTTL := make(map[string]time.Duration, len(cfg.PerToolTTLSeconds))
	for tool, seconds := range cfg.PerToolTTLSeconds {
		perToolTTL[tool] = time.Duration(seconds) * time.Second
	}
	return &Service{
		repoID:     repoID,
		store:      st,
		engine:     eng,
		content:    idx,
		pipeline:   pl,
		cache:      cache,
		defaultTTL: time.Duration(cfg.DefaultCacheTTLSeconds) * time.Second,
		perToolTTL: perToolTTL,
	}
}

// SetRegistry records the tool descriptors list_tools returns; server.go
// calls this once after registering every tool with the MCP server.
func (s *Service) SetRegistry(tools []ToolDescriptor) { s.registry = tools }

func (s *Service) ttlFor(tool string) time.Duration {
	if d, ok := s.perToolTTL[tool]; ok {
		return d
	}
	return s.defaultTTL
}

// cached runs compute and caches its JSON-encoded result under tool+key,
// reusing a prior hit within its TTL window.
// Errors are never cached, so a transient failure does not poison the cache
// for the TTL window.
func cached[T any](s *Service, tool, key string, compute func() (T, error)) (T, error) {
	var zero T
	if s.cache == nil {
		return compute()
	}
	cacheKey := s.repoID + "\x00" + tool + "\x00" + key
	if raw, ok := s.cache.Get(cacheKey); ok {
		var out T
		if err := json.Unmarshal(raw, &out); err == nil {
			return out, nil
		}
	}
	out, err := compute()
	if err != nil {
		return zero, err
	}
	if raw, err := json.Marshal(out); err == nil {
		s.cache.Put(cacheKey, raw, s.ttlFor(tool))
	}
	return out, nil
}

// toolError converts an engine-level error into the structured result the
// boundary contract requires.
func toolError(err error) *ToolError {
	if err == nil {
		return nil
	}
	var de *xerrors.DomainError
	if errors.As(err, &de) {
		return &ToolError{Kind: string(de.ErrKind), Message: de.Message, Suggestions: de.Suggestions}
	}
	return &ToolError{Kind: string(xerrors.KindInternal), Message: err.Error()}
}

// resolveTarget resolves a symbol|node_id|identifier boundary value to a
// Node: first as a literal NodeId already present in the Graph Store, then
// through the Query Engine's three-stage resolve_symbol.
func (s *Service) resolveTarget(identifier, fileHint string) (model.Node, error) {
	if identifier == "" {
		return model.Node{}, xerrors.InvalidParams("symbol, node_id, or identifier is required")
	}
	if n, ok := s.store.GetNode(model.NodeID(identifier)); ok {
		return n, nil
	}
	id, err := s.engine.ResolveSymbol(identifier, query.ResolveContext{FileHint: fileHint})
	if err != nil {
		return model.Node{}, err
	}
	n, ok := s.store.GetNode(id)
	if !ok {
		return model.Node{}, xerrors.SymbolNotFound(identifier, nil)
	}
	return n, nil
}

func (s *Service) summariesFor(ids []model.NodeID) []NodeSummary {
	out := make([]NodeSummary, 0, len(ids))
	for _, id := range ids {
		if n, ok := s.store.GetNode(id); ok {
			out = append(out, summarize(n))
		}
	}
	return out
}

// clusterPatterns adapts internal/cluster's connected-component clusters to
// detect_patterns's open-schema pattern records.
func (s *Service) clusterPatterns() []PatternRecord {
	clusters := cluster.Compute(s.store)
	out := make([]PatternRecord, 0, len(clusters))
	for _, c := range clusters {
		out = append(out, PatternRecord{Kind: "import_cluster", Name: c.Name, Score: c.CohesionScore, Members: c.Members})
	}
	return out
}
