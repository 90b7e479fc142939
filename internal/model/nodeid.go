package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// NodeID is a stable, content-addressed identifier for a graph node. It is
// a function of (repository_id, file, kind, name, span): two parses of the
// same source in the same repository always yield the same NodeID for an
// unchanged construct, and any span change necessarily changes it.
type NodeID string

// ComputeNodeID derives a NodeID deterministically from its inputs. The
// hash is SHA-256: fixed-width and collision-resistant within a repository.
func ComputeNodeID(repositoryID, file string, kind NodeKind, name string, span Span) NodeID {
	h := sha256.New()
	h.Write([]byte(repositoryID))
	h.Write([]byte{0})
	h.Write([]byte(file))
	h.Write([]byte{0})
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(name))
	h.Write([]byte{0})
	h.Write([]byte(spanKey(span)))
	return NodeID(hex.EncodeToString(h.Sum(nil)))
}

func spanKey(s Span) string {
	var b strings.Builder
	b.WriteString(strconv.FormatUint(uint64(s.StartByte), 10))
	b.WriteByte(':')
	b.WriteString(strconv.FormatUint(uint64(s.EndByte), 10))
	b.WriteByte(':')
	b.WriteString(strconv.FormatUint(uint64(s.StartLine), 10))
	b.WriteByte(':')
	b.WriteString(strconv.FormatUint(uint64(s.StartCol), 10))
	b.WriteByte(':')
	b.WriteString(strconv.FormatUint(uint64(s.EndLine), 10))
	b.WriteByte(':')
	b.WriteString(strconv.FormatUint(uint64(s.EndCol), 10))
	return b.String()
}

// ComputeRepositoryID derives a stable repository identifier: always the
// content hash of the canonical root path, never an ad-hoc string.
func ComputeRepositoryID(canonicalRootPath string) string {
	sum := sha256.Sum256([]byte(canonicalRootPath))
	return hex.EncodeToString(sum[:])
}
