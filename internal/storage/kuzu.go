//go:build cgo

package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	kuzu "github.com/kuzudb/go-kuzu"

	"github.com/polygraph/engine/internal/model"
	"github.com/polygraph/engine/internal/xerrors"
)

// KuzuGraphStorage persists graph snapshots in a KuzuDB instance instead of
// flat JSON documents, so a downstream consumer can run Cypher over the
// node/edge sets directly. It requires CGO because the go-kuzu driver wraps
// KuzuDB's C library.
type KuzuGraphStorage struct {
	db   *kuzu.Database
	conn *kuzu.Connection

	repoMus sync.Map // repoID -> *sync.Mutex
}

var _ GraphStorage = (*KuzuGraphStorage)(nil)

// NewKuzuGraphStorage opens an in-memory KuzuDB instance.
func NewKuzuGraphStorage() (*KuzuGraphStorage, error) {
	return openKuzu(":memory:")
}

// NewKuzuFileGraphStorage opens (or creates) a file-based KuzuDB at dbPath,
// giving snapshots durability across sessions.
func NewKuzuFileGraphStorage(dbPath string) (*KuzuGraphStorage, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, xerrors.PersistenceError("open_kuzu", err)
	}
	return openKuzu(dbPath)
}

func openKuzu(path string) (*KuzuGraphStorage, error) {
	cfg := kuzu.DefaultSystemConfig()
	db, err := kuzu.OpenDatabase(path, cfg)
	if err != nil {
		return nil, xerrors.PersistenceError("open_kuzu", err)
	}
	conn, err := kuzu.OpenConnection(db)
	if err != nil {
		db.Close()
		return nil, xerrors.PersistenceError("open_kuzu", err)
	}
	s := &KuzuGraphStorage{db: db, conn: conn}
	if err := s.initSchema(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the KuzuDB connection and database.
func (s *KuzuGraphStorage) Close() error {
	if s.conn != nil {
		s.conn.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
	return nil
}

func (s *KuzuGraphStorage) lockFor(repoID string) *sync.Mutex {
	v, _ := s.repoMus.LoadOrStore(repoID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// ddlStatements defines the Cypher DDL executed once per database open.
// Order matters: node tables must precede relationship tables. Snapshot
// metadata and open-ended attribute maps travel as JSON strings; KuzuDB has
// no native map column.
var ddlStatements = []string{
	`CREATE NODE TABLE IF NOT EXISTS GraphNode(
		pk STRING,
		repo_id STRING,
		id STRING,
		kind STRING,
		name STRING,
		language STRING,
		file STRING,
		start_byte INT64,
		end_byte INT64,
		start_line INT64,
		start_col INT64,
		end_line INT64,
		end_col INT64,
		attributes STRING,
		PRIMARY KEY(pk)
	)`,
	`CREATE NODE TABLE IF NOT EXISTS GraphMeta(
		repo_id STRING,
		metadata STRING,
		PRIMARY KEY(repo_id)
	)`,
	`CREATE REL TABLE IF NOT EXISTS RELATES(FROM GraphNode TO GraphNode, kind STRING, metadata STRING)`,
}

func (s *KuzuGraphStorage) initSchema() error {
	for _, stmt := range ddlStatements {
		res, err := s.conn.Query(stmt)
		if err != nil {
			return xerrors.PersistenceError("init_schema", err)
		}
		res.Close()
	}
	return nil
}

func nodePK(repoID string, id model.NodeID) string {
	return repoID + "\x00" + string(id)
}

// StoreGraph replaces the repository's snapshot wholesale: delete any prior
// rows for repo_id, then insert every node, every edge, and the metadata
// document.
func (s *KuzuGraphStorage) StoreGraph(repoID string, g *model.SerializableGraph) error {
	lock := s.lockFor(repoID)
	lock.Lock()
	defer lock.Unlock()

	g.Sort()

	if err := s.exec(`MATCH (n:GraphNode {repo_id: $repo}) DETACH DELETE n`, map[string]any{"repo": repoID}); err != nil {
		return err
	}
	if err := s.exec(`MATCH (m:GraphMeta {repo_id: $repo}) DELETE m`, map[string]any{"repo": repoID}); err != nil {
		return err
	}

	for _, n := range g.Nodes {
		attrs, err := json.Marshal(n.Attributes)
		if err != nil {
			return xerrors.PersistenceError("store_graph", err)
		}
		err = s.exec(`CREATE (n:GraphNode {
			pk: $pk, repo_id: $repo, id: $id, kind: $kind, name: $name,
			language: $language, file: $file,
			start_byte: $sb, end_byte: $eb,
			start_line: $sl, start_col: $sc, end_line: $el, end_col: $ec,
			attributes: $attrs
		})`, map[string]any{
			"pk": nodePK(repoID, n.ID), "repo": repoID, "id": string(n.ID),
			"kind": string(n.Kind), "name": n.Name,
			"language": string(n.Language), "file": n.File,
			"sb": int64(n.Span.StartByte), "eb": int64(n.Span.EndByte),
			"sl": int64(n.Span.StartLine), "sc": int64(n.Span.StartCol),
			"el": int64(n.Span.EndLine), "ec": int64(n.Span.EndCol),
			"attrs": string(attrs),
		})
		if err != nil {
			return err
		}
	}

	for _, e := range g.Edges {
		meta, err := json.Marshal(e.Metadata)
		if err != nil {
			return xerrors.PersistenceError("store_graph", err)
		}
		err = s.exec(`MATCH (a:GraphNode {pk: $src}), (b:GraphNode {pk: $dst})
			CREATE (a)-[:RELATES {kind: $kind, metadata: $meta}]->(b)`,
			map[string]any{
				"src": nodePK(repoID, e.Source), "dst": nodePK(repoID, e.Target),
				"kind": string(e.Kind), "meta": string(meta),
			})
		if err != nil {
			return err
		}
	}

	metaDoc, err := json.Marshal(g.Metadata)
	if err != nil {
		return xerrors.PersistenceError("store_graph", err)
	}
	return s.exec(`CREATE (m:GraphMeta {repo_id: $repo, metadata: $meta})`,
		map[string]any{"repo": repoID, "meta": string(metaDoc)})
}

// LoadGraph rebuilds a canonically-ordered SerializableGraph from the
// repository's rows.
func (s *KuzuGraphStorage) LoadGraph(repoID string) (*model.SerializableGraph, bool, error) {
	lock := s.lockFor(repoID)
	lock.Lock()
	defer lock.Unlock()

	nodeRows, err := s.query(`MATCH (n:GraphNode {repo_id: $repo})
		RETURN n.id, n.kind, n.name, n.language, n.file,
		       n.start_byte, n.end_byte, n.start_line, n.start_col, n.end_line, n.end_col,
		       n.attributes`, map[string]any{"repo": repoID})
	if err != nil {
		return nil, false, err
	}
	if len(nodeRows) == 0 {
		return nil, false, nil
	}

	g := &model.SerializableGraph{RepoID: repoID}
	for _, r := range nodeRows {
		var attrs map[string]string
		if raw := toString(r[11]); raw != "" && raw != "null" {
			if err := json.Unmarshal([]byte(raw), &attrs); err != nil {
				return nil, false, xerrors.PersistenceError("load_graph", err)
			}
		}
		g.Nodes = append(g.Nodes, model.SerializableNode{
			ID:           model.NodeID(toString(r[0])),
			RepositoryID: repoID,
			Kind:         model.NodeKind(toString(r[1])),
			Name:         toString(r[2]),
			Language:     model.Language(toString(r[3])),
			File:         toString(r[4]),
			Span: model.Span{
				StartByte: uint32(toInt(r[5])), EndByte: uint32(toInt(r[6])),
				StartLine: uint32(toInt(r[7])), StartCol: uint32(toInt(r[8])),
				EndLine: uint32(toInt(r[9])), EndCol: uint32(toInt(r[10])),
			},
			Attributes: attrs,
		})
	}

	edgeRows, err := s.query(`MATCH (a:GraphNode {repo_id: $repo})-[r:RELATES]->(b:GraphNode)
		RETURN a.id, b.id, r.kind, r.metadata`, map[string]any{"repo": repoID})
	if err != nil {
		return nil, false, err
	}
	for _, r := range edgeRows {
		var meta map[string]string
		if raw := toString(r[3]); raw != "" && raw != "null" {
			if err := json.Unmarshal([]byte(raw), &meta); err != nil {
				return nil, false, xerrors.PersistenceError("load_graph", err)
			}
		}
		g.Edges = append(g.Edges, model.SerializableEdge{
			Source:   model.NodeID(toString(r[0])),
			Target:   model.NodeID(toString(r[1])),
			Kind:     model.EdgeKind(toString(r[2])),
			Metadata: meta,
		})
	}

	metaRows, err := s.query(`MATCH (m:GraphMeta {repo_id: $repo}) RETURN m.metadata`,
		map[string]any{"repo": repoID})
	if err != nil {
		return nil, false, err
	}
	if len(metaRows) > 0 {
		if raw := toString(metaRows[0][0]); raw != "" && raw != "null" {
			if err := json.Unmarshal([]byte(raw), &g.Metadata); err != nil {
				return nil, false, xerrors.PersistenceError("load_graph", err)
			}
		}
	}

	g.Sort()
	return g, true, nil
}

// GraphExists reports whether any node rows exist for repo_id.
func (s *KuzuGraphStorage) GraphExists(repoID string) (bool, error) {
	rows, err := s.query(`MATCH (n:GraphNode {repo_id: $repo}) RETURN count(n)`,
		map[string]any{"repo": repoID})
	if err != nil {
		return false, err
	}
	return len(rows) > 0 && toInt(rows[0][0]) > 0, nil
}

// UpdateNodes upserts node rows: existing rows are overwritten in place
// (keeping their incident RELATES rows), new ones are created.
func (s *KuzuGraphStorage) UpdateNodes(repoID string, nodes []model.SerializableNode) error {
	lock := s.lockFor(repoID)
	lock.Lock()
	defer lock.Unlock()

	for _, n := range nodes {
		attrs, err := json.Marshal(n.Attributes)
		if err != nil {
			return xerrors.PersistenceError("update_nodes", err)
		}
		pk := nodePK(repoID, n.ID)
		rows, err := s.query(`MATCH (n:GraphNode {pk: $pk}) RETURN count(n)`, map[string]any{"pk": pk})
		if err != nil {
			return err
		}
		params := map[string]any{
			"pk": pk, "repo": repoID, "id": string(n.ID),
			"kind": string(n.Kind), "name": n.Name,
			"language": string(n.Language), "file": n.File,
			"sb": int64(n.Span.StartByte), "eb": int64(n.Span.EndByte),
			"sl": int64(n.Span.StartLine), "sc": int64(n.Span.StartCol),
			"el": int64(n.Span.EndLine), "ec": int64(n.Span.EndCol),
			"attrs": string(attrs),
		}
		if len(rows) > 0 && toInt(rows[0][0]) > 0 {
			err = s.exec(`MATCH (n:GraphNode {pk: $pk}) SET
				n.repo_id = $repo, n.id = $id, n.kind = $kind, n.name = $name,
				n.language = $language, n.file = $file,
				n.start_byte = $sb, n.end_byte = $eb,
				n.start_line = $sl, n.start_col = $sc, n.end_line = $el, n.end_col = $ec,
				n.attributes = $attrs`, params)
		} else {
			err = s.exec(`CREATE (n:GraphNode {
				pk: $pk, repo_id: $repo, id: $id, kind: $kind, name: $name,
				language: $language, file: $file,
				start_byte: $sb, end_byte: $eb,
				start_line: $sl, start_col: $sc, end_line: $el, end_col: $ec,
				attributes: $attrs
			})`, params)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// UpdateEdges upserts RELATES rows keyed by (source, kind, target): any
// existing row for the triple is replaced so metadata updates do not
// accumulate duplicates.
func (s *KuzuGraphStorage) UpdateEdges(repoID string, edges []model.SerializableEdge) error {
	lock := s.lockFor(repoID)
	lock.Lock()
	defer lock.Unlock()

	for _, e := range edges {
		meta, err := json.Marshal(e.Metadata)
		if err != nil {
			return xerrors.PersistenceError("update_edges", err)
		}
		params := map[string]any{
			"src": nodePK(repoID, e.Source), "dst": nodePK(repoID, e.Target),
			"kind": string(e.Kind), "meta": string(meta),
		}
		err = s.exec(`MATCH (a:GraphNode {pk: $src})-[r:RELATES {kind: $kind}]->(b:GraphNode {pk: $dst})
			DELETE r`, params)
		if err != nil {
			return err
		}
		err = s.exec(`MATCH (a:GraphNode {pk: $src}), (b:GraphNode {pk: $dst})
			CREATE (a)-[:RELATES {kind: $kind, metadata: $meta}]->(b)`, params)
		if err != nil {
			return err
		}
	}
	return nil
}

// DeleteNodes removes the named nodes and their incident edges.
func (s *KuzuGraphStorage) DeleteNodes(repoID string, ids []model.NodeID) error {
	lock := s.lockFor(repoID)
	lock.Lock()
	defer lock.Unlock()

	for _, id := range ids {
		err := s.exec(`MATCH (n:GraphNode {pk: $pk}) DETACH DELETE n`,
			map[string]any{"pk": nodePK(repoID, id)})
		if err != nil {
			return err
		}
	}
	return nil
}

// exec runs a parameterized Cypher statement that produces no result rows.
func (s *KuzuGraphStorage) exec(cypher string, params map[string]any) error {
	stmt, err := s.conn.Prepare(cypher)
	if err != nil {
		return xerrors.PersistenceError("kuzu_prepare", err)
	}
	defer stmt.Close()

	res, err := s.conn.Execute(stmt, params)
	if err != nil {
		return xerrors.PersistenceError("kuzu_execute", err)
	}
	res.Close()
	return nil
}

// query runs a parameterized Cypher statement and collects all result rows,
// each a []any in column order.
func (s *KuzuGraphStorage) query(cypher string, params map[string]any) ([][]any, error) {
	var res *kuzu.QueryResult
	var err error

	if len(params) == 0 {
		res, err = s.conn.Query(cypher)
	} else {
		var stmt *kuzu.PreparedStatement
		stmt, err = s.conn.Prepare(cypher)
		if err != nil {
			return nil, xerrors.PersistenceError("kuzu_prepare", err)
		}
		defer stmt.Close()
		res, err = s.conn.Execute(stmt, params)
	}
	if err != nil {
		return nil, xerrors.PersistenceError("kuzu_query", err)
	}
	defer res.Close()

	var rows [][]any
	for res.HasNext() {
		tuple, err := res.Next()
		if err != nil {
			return nil, xerrors.PersistenceError("kuzu_next", err)
		}
		vals, err := tuple.GetAsSlice()
		if err != nil {
			return nil, xerrors.PersistenceError("kuzu_row", err)
		}
		rows = append(rows, vals)
	}
	return rows, nil
}

// KuzuDB returns typed Go values (int64, float64, bool, string); these
// coerce any -> concrete type without panicking on surprises.

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func toInt(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case int32:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
