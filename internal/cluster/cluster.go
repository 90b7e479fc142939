// Package cluster groups files into import clusters: connected components
// over resolved Imports edges between Module nodes, scored by
// internal/external edge cohesion. It backs the "import_cluster" records
// detect_patterns returns at scope=repository.
package cluster

import (
	"sort"
	"strings"

	"github.com/polygraph/engine/internal/model"
	"github.com/polygraph/engine/internal/store"
)

// FileCluster is a connected component of files bound together by imports.
type FileCluster struct {
	Name          string
	CohesionScore float64
	Members       []string
}

// Compute finds connected components in the file-to-file graph induced by
// resolved Imports edges between Module nodes, via BFS over an adjacency
// list built in a single O(E) pass. Singleton components (no import
// relationship to any other file) are not returned as clusters.
func Compute(st *store.Store) []FileCluster {
	modules := st.NodesOfKind(model.NodeKindModule)
	if len(modules) == 0 {
		return nil
	}

	fileOf := make(map[model.NodeID]string, len(modules))
	allFiles := make(map[string]bool, len(modules))
	for _, m := range modules {
		fileOf[m.ID] = m.File
		allFiles[m.File] = true
	}

	adj := make(map[string]map[string]bool, len(modules))
	for _, m := range modules {
		adj[m.File] = make(map[string]bool)
	}
	for _, m := range modules {
		for _, e := range st.EdgesFrom(m.ID) {
			if e.Kind != model.EdgeKindImports {
				continue
			}
			target, ok := fileOf[e.Target]
			if !ok {
				continue
			}
			adj[m.File][target] = true
			adj[target][m.File] = true
		}
	}

	visited := make(map[string]bool, len(modules))
	var clusters []FileCluster
	files := make([]string, 0, len(modules))
	for _, m := range modules {
		files = append(files, m.File)
	}
	sort.Strings(files)

	for _, f := range files {
		if visited[f] {
			continue
		}
		component := bfsComponent(f, adj, visited)
		if len(component) < 2 {
			continue
		}
		sort.Strings(component)
		clusters = append(clusters, FileCluster{
			Name:          longestCommonPrefix(component),
			CohesionScore: cohesion(component, adj, allFiles),
			Members:       component,
		})
	}
	return clusters
}

func bfsComponent(start string, adj map[string]map[string]bool, visited map[string]bool) []string {
	var component []string
	queue := []string{start}
	visited[start] = true
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		component = append(component, node)
		for neighbor := range adj[node] {
			if !visited[neighbor] {
				visited[neighbor] = true
				queue = append(queue, neighbor)
			}
		}
	}
	return component
}

// cohesion is internal_edges / (internal_edges + external_edges): the share
// of a component's edges that stay within the component.
func cohesion(component []string, adj map[string]map[string]bool, allFiles map[string]bool) float64 {
	members := make(map[string]bool, len(component))
	for _, m := range component {
		members[m] = true
	}
	var internal, external int
	for _, m := range component {
		for neighbor := range adj[m] {
			switch {
			case members[neighbor]:
				if m < neighbor {
					internal++
				}
			case allFiles[neighbor]:
				external++
			}
		}
	}
	total := internal + external
	if total == 0 {
		return 0
	}
	return float64(internal) / float64(total)
}

// longestCommonPrefix names a cluster by its members' shared directory
// prefix, falling back to the empty string if the members share no
// directory.
func longestCommonPrefix(paths []string) string {
	if len(paths) == 0 {
		return ""
	}
	prefix := paths[0]
	for _, p := range paths[1:] {
		for !strings.HasPrefix(p, prefix) {
			trimmed := strings.TrimRight(prefix, "/")
			idx := strings.LastIndex(trimmed, "/")
			if idx < 0 {
				return ""
			}
			prefix = trimmed[:idx+1]
			if prefix == "/" || prefix == "" {
				return prefix
			}
		}
	}
	if !strings.HasSuffix(prefix, "/") {
		if idx := strings.LastIndex(prefix, "/"); idx >= 0 {
			prefix = prefix[:idx+1]
		} else {
			return ""
		}
	}
	return prefix
}
