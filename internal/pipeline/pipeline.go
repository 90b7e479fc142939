// Package pipeline turns file-system changes into graph deltas: hash-based
// change detection, incremental re-parse via internal/lang, per-file
// ReplaceFile application to the graph store and content index, and bounded
// dependency-fan-out propagation.
package pipeline

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/cespare/xxhash/v2"

	"github.com/polygraph/engine/internal/content"
	"github.com/polygraph/engine/internal/lang"
	"github.com/polygraph/engine/internal/logging"
	"github.com/polygraph/engine/internal/model"
	"github.com/polygraph/engine/internal/store"
	"github.com/polygraph/engine/internal/xerrors"
)

// ChangeKind classifies a single file-change event.
type ChangeKind string

const (
	Added    ChangeKind = "Added"
	Modified ChangeKind = "Modified"
	Deleted  ChangeKind = "Deleted"
)

// Change is a single file-change event driving the pipeline.
type Change struct {
	Path string
	Kind ChangeKind
}

// MaxPropagationDepth bounds dependency-propagation fan-out; exceeding it
// terminates the traversal rather than continuing.
const MaxPropagationDepth = 64

// fileState is what the pipeline remembers per file between applications.
type fileState struct {
	contentHash uint64
	tree        *tree_sitter.Tree
}

// Pipeline owns the per-file hash/tree bookkeeping and wires adapter output
// into the Graph Store and Content Index.
type Pipeline struct {
	repoID   string
	repoRoot string

	store    *store.Store
	content  *content.Index
	adapter  *lang.TreeSitterAdapter
	resolver *lang.Resolver

	mu     sync.Mutex
	states map[string]*fileState

	// dependsOn is a best-effort path->paths map derived from resolved
	// Imports edges, used for dependency-propagation fan-out.
	dependsOn map[string]map[string]bool
}

// New builds a Pipeline. resolver should be rebuilt (lang.NewResolver) from
// the scanner's discovered-file set before the pipeline's first Apply call.
func New(repoID, repoRoot string, st *store.Store, idx *content.Index, adapter *lang.TreeSitterAdapter, resolver *lang.Resolver) *Pipeline {
	return &Pipeline{
		repoID:    repoID,
		repoRoot:  repoRoot,
		store:     st,
		content:   idx,
		adapter:   adapter,
		resolver:  resolver,
		states:    make(map[string]*fileState),
		dependsOn: make(map[string]map[string]bool),
	}
}

// ApplyResult reports a single change event's outcome.
type ApplyResult struct {
	Path          string
	Skipped       bool // content hash unchanged
	BoundExceeded bool
	Err           error
}

// Apply processes one change event, idempotently: a second Apply with the
// same content hash for an Added/Modified path is a no-op.
func (p *Pipeline) Apply(change Change, newContent []byte) ApplyResult {
	switch change.Kind {
	case Deleted:
		return p.applyDelete(change.Path)
	default:
		return p.applyUpsert(change.Path, newContent)
	}
}

func (p *Pipeline) applyUpsert(path string, newContent []byte) ApplyResult {
	hash := xxhash.Sum64(newContent)

	p.mu.Lock()
	state, existed := p.states[path]
	if existed && state.contentHash == hash {
		p.mu.Unlock()
		return ApplyResult{Path: path, Skipped: true}
	}
	var prevTree *tree_sitter.Tree
	if existed {
		prevTree = state.tree
	}
	p.mu.Unlock()

	language, ok := lang.DetectLanguage(path)
	if !ok {
		return ApplyResult{Path: path, Err: fmt.Errorf("unsupported language for %s", path)}
	}

	result, err := p.adapter.Parse(lang.ParseContext{
		RepositoryID: p.repoID,
		FilePath:     path,
		Content:      newContent,
		Language:     language,
		PreviousTree: prevTree,
	})
	if err != nil {
		return ApplyResult{Path: path, Err: xerrors.ParseFailure(path, err.Error())}
	}

	// Commit the structural Contains-forest first: every Contains edge's
	// endpoints are both in this batch, so ReplaceFile can never reject it
	// on AddEdgeFailed grounds.
	if err := p.store.ReplaceFile(path, result.Nodes, result.Edges); err != nil {
		logging.Default().Error("replace_file failed", "path", path, "err", err)
		return ApplyResult{Path: path, Err: err}
	}
	logging.Default().Debug("file committed", "path", path, "nodes", len(result.Nodes), "edges", len(result.Edges))

	p.content.IndexFile(path, newContent, contentTypeFor(path))

	deps := p.resolvePending(path, language, result.Pending)

	p.mu.Lock()
	if prevTree != nil && prevTree != result.Tree {
		prevTree.Close()
	}
	p.states[path] = &fileState{contentHash: hash, tree: result.Tree}
	p.dependsOn[path] = deps
	p.mu.Unlock()

	return ApplyResult{Path: path}
}

// resolvePending completes every cross-reference edge a parse produced once
// the structural commit above has made this file's own nodes visible:
// Imports specifiers resolve through the Resolver to a target file, then to
// that file's Module NodeID; Calls/Inherits/Implements specifiers resolve by
// exact name through the bySymbol index. Unresolvable specifiers are dropped
// silently; cross-file resolution is best-effort. Resolved edges are added
// with store.AddEdge directly (not another ReplaceFile) since they do not
// redefine this file's own node set.
func (p *Pipeline) resolvePending(path string, language model.Language, pending []lang.PendingEdge) map[string]bool {
	deps := make(map[string]bool)
	srcModule, haveModule := p.moduleNodeID(path)
	for _, pe := range pending {
		source := pe.Source
		// An `impl Trait for Type` block has no node of its own; its edge is
		// addressed by the implementing type's name instead.
		if typeName, ok := strings.CutPrefix(string(pe.Source), "impl:"); ok {
			resolved, ok := p.definitionFor(typeName)
			if !ok {
				continue
			}
			source = resolved
		}
		switch pe.Kind {
		case model.EdgeKindImports:
			if p.resolver == nil || !haveModule {
				continue
			}
			target, ok := p.resolver.ResolveImportPath(pe.TargetSpec, path, language)
			if !ok {
				continue
			}
			moduleID, ok := p.moduleNodeID(target)
			if !ok {
				continue
			}
			deps[target] = true
			// Module-to-module, so import-graph traversals and clustering
			// can walk EdgesFrom on Module nodes directly; the statement's
			// own Import node stays in the Contains forest.
			meta := pe.Metadata
			if meta == nil {
				meta = map[string]string{}
			}
			meta["specifier"] = pe.TargetSpec
			_ = p.store.AddEdge(model.Edge{Source: srcModule, Target: moduleID, Kind: pe.Kind, Metadata: meta})
		default: // Calls, Inherits, Implements
			target, ok := p.definitionFor(pe.TargetSpec)
			if !ok {
				continue
			}
			_ = p.store.AddEdge(model.Edge{Source: source, Target: target, Kind: pe.Kind, Metadata: pe.Metadata})
		}
	}
	return deps
}

// definitionFor resolves a bare name to a definition node, skipping the
// Call/Reference/Import sites that share the name in the bySymbol index.
// Candidates are NodeID-ordered, so ties break deterministically.
func (p *Pipeline) definitionFor(name string) (model.NodeID, bool) {
	for _, id := range p.store.LookupSymbol(name) {
		n, ok := p.store.GetNode(id)
		if !ok {
			continue
		}
		switch n.Kind {
		case model.NodeKindFunction, model.NodeKindMethod, model.NodeKindClass,
			model.NodeKindVariable, model.NodeKindModule, model.NodeKindTypeRef:
			return id, true
		}
	}
	return "", false
}

// moduleNodeID returns the Module NodeID rooting path, if path has already
// been parsed into the Graph Store.
func (p *Pipeline) moduleNodeID(path string) (model.NodeID, bool) {
	for _, n := range p.store.NodesInFile(path) {
		if n.Kind == model.NodeKindModule {
			return n.ID, true
		}
	}
	return "", false
}

func (p *Pipeline) applyDelete(path string) ApplyResult {
	p.store.RemoveFile(path)
	p.content.RemoveFile(path)

	p.mu.Lock()
	if state, ok := p.states[path]; ok && state.tree != nil {
		state.tree.Close()
	}
	delete(p.states, path)
	delete(p.dependsOn, path)
	p.mu.Unlock()

	return ApplyResult{Path: path}
}

// PropagationResult reports the outcome of a dependency-propagation sweep.
type PropagationResult struct {
	Dependents    []string
	BoundExceeded bool
}

// Dependents returns every file, transitively, whose Imports edges resolve
// to path (i.e. would need re-parsing for cross-file edge accuracy),
// bounded by maxDepth (default and hard cap MaxPropagationDepth) with an
// explicit visited set.
func (p *Pipeline) Dependents(path string, maxDepth int) PropagationResult {
	if maxDepth <= 0 || maxDepth > MaxPropagationDepth {
		maxDepth = MaxPropagationDepth
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	visited := map[string]bool{path: true}
	frontier := []string{path}
	var out []string
	boundExceeded := false

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for candidate, deps := range p.dependsOn {
			if visited[candidate] {
				continue
			}
			for _, f := range frontier {
				if deps[f] {
					next = append(next, candidate)
					break
				}
			}
		}
		for _, n := range next {
			if !visited[n] {
				visited[n] = true
				out = append(out, n)
			}
		}
		frontier = next
		if depth == maxDepth-1 && len(frontier) > 0 {
			boundExceeded = true
		}
	}

	return PropagationResult{Dependents: out, BoundExceeded: boundExceeded}
}

func contentTypeFor(path string) string {
	switch filepath.Ext(path) {
	case ".go":
		return "text/x-go"
	case ".py":
		return "text/x-python"
	case ".rs":
		return "text/x-rust"
	case ".ts", ".tsx":
		return "text/x-typescript"
	case ".js", ".jsx":
		return "text/x-javascript"
	default:
		return "text/plain"
	}
}
