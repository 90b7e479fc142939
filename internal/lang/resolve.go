package lang

import (
	"encoding/json"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/polygraph/engine/internal/model"
)

// Resolver rewrites the raw import specifiers a language adapter pushes as
// Imports-edge targets into repo-relative file paths that match the
// scanner's DiscoveredFile.Path values. Calls, Inherits and Implements
// edges are left as raw names: those resolve against the bySymbol index,
// since the callee or base class may live in any file.
//
// Every language strategy reduces to the same two steps: turn the specifier
// into an ordered list of candidate repo-relative paths, then take the
// first candidate the scanner actually discovered. Only Go short-circuits
// that shape (its unit of import is a directory, not a file).
type Resolver struct {
	root     string
	files    map[string]bool
	byDir    map[string][]string // dir -> sorted repo-relative files
	goModule string
	packages map[string]*npmPackage
}

// npmPackage is one workspace package: its directory, its resolved "."
// entry file, and any subpath exports that resolved to known files.
type npmPackage struct {
	dir     string
	entry   string
	subpath map[string]string
}

// NewResolver builds a Resolver from the repository root and the set of
// repo-relative file paths an initial scan discovered. go.mod and npm
// workspace package.json files are read once here; resolution itself never
// touches the filesystem.
func NewResolver(repoRoot string, knownFiles []string) *Resolver {
	r := &Resolver{
		root:     repoRoot,
		files:    make(map[string]bool, len(knownFiles)),
		byDir:    make(map[string][]string),
		packages: make(map[string]*npmPackage),
	}
	for _, f := range knownFiles {
		f = path.Clean(filepath.ToSlash(f))
		r.files[f] = true
		dir := path.Dir(f)
		r.byDir[dir] = append(r.byDir[dir], f)
	}
	for _, files := range r.byDir {
		sort.Strings(files)
	}
	if data, err := os.ReadFile(filepath.Join(repoRoot, "go.mod")); err == nil {
		r.goModule = moduleDirective(data)
	}
	r.indexNPMWorkspaces()
	return r
}

// ResolveImportPath maps one raw specifier, as written in sourceFile (that
// file's repo-relative path, needed for relative forms: TS "./x", Python
// ".pkg", Rust "self::"/"super::"), to the repo-relative path of the file
// it names. The update pipeline then looks up that file's Module NodeID to
// complete an Imports PendingEdge; an unresolvable specifier is dropped
// rather than left pointing at a dangling target.
func (r *Resolver) ResolveImportPath(spec, sourceFile string, lang model.Language) (string, bool) {
	switch lang {
	case model.LangTypeScript, model.LangJavaScript:
		return r.firstKnown(r.scriptCandidates(spec, sourceFile))
	case model.LangGo:
		return r.goPackageFile(spec)
	case model.LangPython:
		return r.firstKnown(pythonCandidates(spec, sourceFile))
	case model.LangRust:
		return r.firstKnown(rustCandidates(spec, sourceFile))
	default:
		return "", false
	}
}

// firstKnown returns the first candidate present in the scanned file set.
func (r *Resolver) firstKnown(candidates []string) (string, bool) {
	for _, c := range candidates {
		if r.files[path.Clean(c)] {
			return path.Clean(c), true
		}
	}
	return "", false
}

// scriptFileCandidates expands a bare module path the way a bundler would:
// the path itself, then per-extension, then as a directory with an index
// file.
func scriptFileCandidates(base string) []string {
	out := []string{base}
	for _, ext := range []string{".ts", ".tsx", ".js", ".jsx"} {
		out = append(out, base+ext)
	}
	for _, idx := range []string{"index.ts", "index.tsx", "index.js"} {
		out = append(out, path.Join(base, idx))
	}
	return out
}

func (r *Resolver) scriptCandidates(spec, sourceFile string) []string {
	if strings.HasPrefix(spec, ".") {
		return scriptFileCandidates(path.Join(path.Dir(sourceFile), spec))
	}

	pkgName, sub := splitPackageSpec(spec)
	pkg := r.packages[pkgName]
	if pkg == nil {
		return nil
	}
	if sub == "" {
		if pkg.entry == "" {
			return nil
		}
		return []string{pkg.entry}
	}
	if hit, ok := pkg.subpath["./"+sub]; ok {
		return []string{hit}
	}
	return scriptFileCandidates(path.Join(pkg.dir, sub))
}

// splitPackageSpec divides a bare specifier into package name and subpath,
// keeping "@scope/name" together as the package name.
func splitPackageSpec(spec string) (pkg, sub string) {
	parts := strings.Split(spec, "/")
	nameLen := 1
	if strings.HasPrefix(spec, "@") {
		if len(parts) < 2 {
			return "", ""
		}
		nameLen = 2
	}
	return strings.Join(parts[:nameLen], "/"), strings.Join(parts[nameLen:], "/")
}

// goPackageFile maps a module-path import to the lexically-first non-test
// .go file of the named package directory. Imports outside this module do
// not resolve.
func (r *Resolver) goPackageFile(spec string) (string, bool) {
	if r.goModule == "" {
		return "", false
	}
	rel, ok := strings.CutPrefix(spec, r.goModule)
	if !ok || (rel != "" && !strings.HasPrefix(rel, "/")) {
		return "", false
	}
	dir := strings.TrimPrefix(rel, "/")
	if dir == "" {
		dir = "."
	}
	for _, f := range r.byDir[dir] {
		if strings.HasSuffix(f, ".go") && !strings.HasSuffix(f, "_test.go") {
			return f, true
		}
	}
	return "", false
}

// pythonCandidates handles relative imports only: each leading dot past the
// first climbs one package level, the remainder maps dotted segments to a
// module file or a package __init__.py. Absolute imports stay unresolved;
// sys.path semantics are out of reach of a static file set.
func pythonCandidates(spec, sourceFile string) []string {
	trimmed := strings.TrimLeft(spec, ".")
	dots := len(spec) - len(trimmed)
	if dots == 0 {
		return nil
	}
	dir := path.Dir(sourceFile)
	for climb := 1; climb < dots; climb++ {
		dir = path.Dir(dir)
	}
	if trimmed == "" {
		return []string{path.Join(dir, "__init__.py")}
	}
	target := path.Join(dir, strings.ReplaceAll(trimmed, ".", "/"))
	return []string{target + ".py", path.Join(target, "__init__.py")}
}

// rustCandidates anchors a use-path at the directory its leading keyword
// names, then tries the remainder as a module file or a mod.rs directory.
// Grouped imports (`use a::{b, c}`) resolve to their common stem; external
// crates stay unresolved.
func rustCandidates(spec, sourceFile string) []string {
	if group := strings.Index(spec, "::{"); group >= 0 {
		spec = spec[:group]
	}
	head, rest, _ := strings.Cut(spec, "::")

	var baseDirs []string
	switch head {
	case "crate":
		if src := nearestSrcDir(sourceFile); src != "" {
			baseDirs = []string{src}
		} else {
			baseDirs = []string{"src", "."}
		}
	case "self":
		baseDirs = []string{path.Dir(sourceFile)}
	case "super":
		baseDirs = []string{path.Dir(path.Dir(sourceFile))}
	default:
		return nil
	}

	modPath := strings.ReplaceAll(rest, "::", "/")
	var out []string
	for _, dir := range baseDirs {
		target := path.Join(dir, modPath)
		out = append(out, target+".rs", path.Join(target, "mod.rs"))
	}
	return out
}

// nearestSrcDir walks up from a file to its closest "src" ancestor, the
// crate root for `crate::` paths; "" when the file lives outside one.
func nearestSrcDir(sourceFile string) string {
	for dir := path.Dir(sourceFile); dir != "." && dir != "/"; dir = path.Dir(dir) {
		if path.Base(dir) == "src" {
			return dir
		}
	}
	return ""
}

// moduleDirective extracts the module path from go.mod contents.
func moduleDirective(gomod []byte) string {
	for _, line := range strings.Split(string(gomod), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[0] == "module" {
			return fields[1]
		}
	}
	return ""
}

// indexNPMWorkspaces reads the root package.json's workspaces globs and
// indexes every member package by name.
func (r *Resolver) indexNPMWorkspaces() {
	data, err := os.ReadFile(filepath.Join(r.root, "package.json"))
	if err != nil {
		return
	}
	var rootPkg struct {
		Workspaces json.RawMessage `json:"workspaces"`
	}
	if err := json.Unmarshal(data, &rootPkg); err != nil {
		return
	}
	for _, pattern := range workspaceGlobs(rootPkg.Workspaces) {
		matches, err := filepath.Glob(filepath.Join(r.root, pattern))
		if err != nil {
			continue
		}
		for _, dir := range matches {
			if info, err := os.Stat(dir); err == nil && info.IsDir() {
				r.indexPackage(dir)
			}
		}
	}
}

// workspaceGlobs accepts both workspace layouts: a plain pattern array or
// the yarn-style {"packages": [...]} object.
func workspaceGlobs(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var plain []string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return plain
	}
	var wrapped struct {
		Packages []string `json:"packages"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil {
		return wrapped.Packages
	}
	return nil
}

// indexPackage registers one workspace package, resolving its entry file
// from exports, then main, then conventional index locations.
func (r *Resolver) indexPackage(absDir string) {
	data, err := os.ReadFile(filepath.Join(absDir, "package.json"))
	if err != nil {
		return
	}
	var meta struct {
		Name    string          `json:"name"`
		Main    string          `json:"main"`
		Exports json.RawMessage `json:"exports"`
	}
	if err := json.Unmarshal(data, &meta); err != nil || meta.Name == "" {
		return
	}
	rel, err := filepath.Rel(r.root, absDir)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	pkg := &npmPackage{dir: rel, subpath: make(map[string]string)}
	for key, target := range flattenExports(meta.Exports) {
		hit, ok := r.firstKnown(scriptFileCandidates(path.Join(rel, target)))
		if !ok {
			continue
		}
		if key == "." {
			pkg.entry = hit
		} else {
			pkg.subpath[key] = hit
		}
	}
	if pkg.entry == "" && meta.Main != "" {
		pkg.entry, _ = r.firstKnown(scriptFileCandidates(path.Join(rel, meta.Main)))
	}
	if pkg.entry == "" {
		pkg.entry, _ = r.firstKnown(append(
			scriptFileCandidates(path.Join(rel, "src", "index")),
			scriptFileCandidates(path.Join(rel, "index"))...))
	}
	r.packages[meta.Name] = pkg
}

// flattenExports normalizes a package.json exports field to a map of
// subpath key ("." or "./x") to relative target, collapsing conditional
// values through conditionTarget.
func flattenExports(raw json.RawMessage) map[string]string {
	out := make(map[string]string)
	if len(raw) == 0 {
		return out
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		out["."] = single
		return out
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return out
	}
	for key, val := range obj {
		if !strings.HasPrefix(key, ".") {
			continue
		}
		if target := conditionTarget(val); target != "" {
			out[key] = target
		}
	}
	return out
}

// conditionTarget collapses a conditional exports value to a concrete
// target, preferring import over default over require.
func conditionTarget(raw json.RawMessage) string {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	for _, cond := range []string{"import", "default", "require"} {
		if v, ok := obj[cond]; ok {
			if target := conditionTarget(v); target != "" {
				return target
			}
		}
	}
	return ""
}
