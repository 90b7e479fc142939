// Package scan implements the repository scanner: dependency-mode aware
// filesystem discovery producing DiscoveredFile records in parallel batches,
// reported through a progress observer.
package scan

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/cespare/xxhash/v2"

	"github.com/polygraph/engine/internal/lang"
	"github.com/polygraph/engine/internal/model"
	"github.com/polygraph/engine/internal/xerrors"
)

// DependencyMode controls how third-party dependency directories are
// treated during discovery.
type DependencyMode string

const (
	DependencyExclude    DependencyMode = "Exclude"
	DependencySmart      DependencyMode = "Smart"
	DependencyIncludeAll DependencyMode = "IncludeAll"
)

var dependencyDirNames = map[string]bool{
	"node_modules": true, "venv": true, ".venv": true, ".tox": true,
	"vendor": true, "target": true,
}

var vcsDirNames = map[string]bool{
	".git": true, ".hg": true, ".svn": true,
}

// DefaultSmartExcludedSubdirs lists the directory names Smart mode skips
// inside a dependency directory.
var DefaultSmartExcludedSubdirs = []string{
	"test", "tests", "__pycache__", ".pytest_cache", "docs", "examples",
	"benchmarks", "build", "dist", "coverage",
}

// Config parameterizes a single scan.
type Config struct {
	DependencyMode       DependencyMode
	MaxFileBytes         int64
	SmartDepthLimit      int
	SmartExcludedSubdirs []string
	Parallelism          int
}

// DefaultConfig returns the documented scanning defaults.
func DefaultConfig() Config {
	return Config{
		DependencyMode:       DependencySmart,
		MaxFileBytes:         10 << 20,
		SmartDepthLimit:      3,
		SmartExcludedSubdirs: DefaultSmartExcludedSubdirs,
		Parallelism:          0, // 0 means "use runtime.NumCPU()" at call time
	}
}

// DiscoveredFile is a single indexable file found by a scan.
type DiscoveredFile struct {
	Path        string
	Size        int64
	Language    model.Language
	ContentHash uint64
}

// Progress is reported to an observer as the scan advances.
type Progress struct {
	ProcessedCount int
	TotalEstimate  int
	LastError      error
}

// Observer receives progress updates; nil is a valid no-op observer.
type Observer func(Progress)

// Scanner discovers indexable files under a repository root.
type Scanner struct {
	root string
	cfg  Config
}

// New returns a Scanner rooted at root with cfg (zero-value fields are
// replaced by DefaultConfig's values).
func New(root string, cfg Config) *Scanner {
	d := DefaultConfig()
	if cfg.DependencyMode == "" {
		cfg.DependencyMode = d.DependencyMode
	}
	if cfg.MaxFileBytes == 0 {
		cfg.MaxFileBytes = d.MaxFileBytes
	}
	if cfg.SmartDepthLimit == 0 {
		cfg.SmartDepthLimit = d.SmartDepthLimit
	}
	if len(cfg.SmartExcludedSubdirs) == 0 {
		cfg.SmartExcludedSubdirs = d.SmartExcludedSubdirs
	}
	return &Scanner{root: root, cfg: cfg}
}

type walkEntry struct {
	path       string
	inDepDepth int // 0 = not inside a dependency dir
}

// Scan walks the repository root, honoring dependency-mode policy, and
// returns every discovered file. Candidates are stat'd and content-hashed
// concurrently via an errgroup; per-path I/O errors are reported to obs and
// skipped, never fatal.
func (s *Scanner) Scan(ctx context.Context, obs Observer) ([]DiscoveredFile, error) {
	if err := rejectTraversal(s.root); err != nil {
		return nil, err
	}

	var candidates []walkEntry
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			report(obs, len(candidates), 0, err)
			return nil
		}
		if path == s.root {
			return nil
		}
		rel, relErr := filepath.Rel(s.root, path)
		if relErr != nil {
			return nil
		}
		name := d.Name()

		if d.IsDir() {
			if vcsDirNames[name] {
				return filepath.SkipDir
			}
			if _, include := s.dirPolicy(rel, name); !include {
				return filepath.SkipDir
			}
			return nil
		}

		depDepth := s.dependencyDepthOf(rel)
		if !s.fileAllowed(rel, depDepth) {
			return nil
		}

		candidates = append(candidates, walkEntry{path: path, inDepDepth: depDepth})
		return nil
	})
	if err != nil {
		return nil, xerrors.ScanError(s.root, err)
	}

	total := len(candidates)
	results := make([]DiscoveredFile, total)
	parallelism := s.cfg.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	var processed atomic.Int64

	for i, entry := range candidates {
		i, entry := i, entry
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			df, ferr := s.statAndHash(entry)
			if ferr != nil {
				report(obs, int(processed.Load()), total, ferr)
				return nil
			}
			results[i] = df
			report(obs, int(processed.Add(1)), total, nil)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, xerrors.Cancelled("scan")
	}

	out := make([]DiscoveredFile, 0, total)
	for _, r := range results {
		if r.Path != "" {
			out = append(out, r)
		}
	}
	return out, nil
}

func report(obs Observer, processed, total int, err error) {
	if obs == nil {
		return
	}
	obs(Progress{ProcessedCount: processed, TotalEstimate: total, LastError: err})
}

// dirPolicy decides whether to descend into a directory, and returns the
// dependency-nesting depth if it is (or is nested within) a dependency dir.
func (s *Scanner) dirPolicy(rel, name string) (depth int, include bool) {
	if !dependencyDirNames[name] && !s.insideDependency(rel) {
		return 0, true
	}
	switch s.cfg.DependencyMode {
	case DependencyExclude:
		return 0, false
	case DependencyIncludeAll:
		return s.dependencyDepthOf(rel), true
	default: // Smart
		depth := s.dependencyDepthOf(rel)
		if depth > s.cfg.SmartDepthLimit {
			return depth, false
		}
		for _, comp := range strings.Split(rel, string(filepath.Separator)) {
			for _, excluded := range s.cfg.SmartExcludedSubdirs {
				if comp == excluded {
					return depth, false
				}
			}
		}
		return depth, true
	}
}

func (s *Scanner) insideDependency(rel string) bool {
	return s.dependencyDepthOf(rel) > 0
}

// dependencyDepthOf returns how many path components rel is nested below
// (and including) the nearest dependency directory ancestor, or 0 if rel is
// not under one.
func (s *Scanner) dependencyDepthOf(rel string) int {
	comps := strings.Split(rel, string(filepath.Separator))
	depStart := -1
	for i, c := range comps {
		if dependencyDirNames[c] {
			depStart = i
			break
		}
	}
	if depStart == -1 {
		return 0
	}
	return len(comps) - depStart
}

func (s *Scanner) fileAllowed(rel string, depDepth int) bool {
	if _, ok := lang.DetectLanguage(rel); !ok {
		return false
	}
	if depDepth == 0 {
		return true
	}
	switch s.cfg.DependencyMode {
	case DependencyExclude:
		return false
	case DependencyIncludeAll:
		return true
	default: // Smart
		return depDepth <= s.cfg.SmartDepthLimit
	}
}

func (s *Scanner) statAndHash(entry walkEntry) (DiscoveredFile, error) {
	info, err := os.Stat(entry.path)
	if err != nil {
		return DiscoveredFile{}, xerrors.ScanError(entry.path, err)
	}

	cap := s.cfg.MaxFileBytes
	if entry.inDepDepth > 0 && s.cfg.DependencyMode == DependencySmart {
		cap *= 2
	}
	if info.Size() > cap {
		return DiscoveredFile{}, xerrors.ScanError(entry.path, errTooLarge(info.Size(), cap))
	}

	content, err := os.ReadFile(entry.path)
	if err != nil {
		return DiscoveredFile{}, xerrors.ScanError(entry.path, err)
	}

	rel, err := filepath.Rel(s.root, entry.path)
	if err != nil {
		rel = entry.path
	}
	language, _ := lang.DetectLanguage(rel)

	return DiscoveredFile{
		Path:        rel,
		Size:        info.Size(),
		Language:    language,
		ContentHash: xxhash.Sum64(content),
	}, nil
}

type tooLargeErr struct {
	size, cap int64
}

func (e tooLargeErr) Error() string {
	return "file exceeds max_file_bytes"
}

func errTooLarge(size, cap int64) error { return tooLargeErr{size: size, cap: cap} }

// rejectTraversal guards against a repository root (or, by the same helper,
// any caller-supplied path) that escapes its intended boundary via "..".
func rejectTraversal(path string) error {
	if strings.Contains(path, "..") {
		return xerrors.InvalidParams("path traverses outside the repository root: " + path)
	}
	return nil
}
