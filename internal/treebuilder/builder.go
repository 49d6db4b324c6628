package treebuilder

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"strings"
)

const (
	// DefaultMaxFileSize is the cutoff above which files are skipped, not
	// hashed.
	DefaultMaxFileSize = 1 << 20 // 1 MiB

	// DefaultBatchSize is how many files the scanner processes between
	// yields to the scheduler.
	DefaultBatchSize = 200
)

// DefaultExtensions is the source-file allowlist applied when the config
// leaves Extensions empty.
var DefaultExtensions = []string{
	".go", ".ts", ".tsx", ".js", ".jsx", ".py", ".rs", ".java", ".kt",
	".c", ".h", ".cc", ".cpp", ".hpp", ".cs", ".rb", ".php", ".swift",
	".md", ".proto", ".sql", ".sh", ".yaml", ".yml", ".toml", ".json",
}

// Config controls which files the builder includes in a tree.
type Config struct {
	Extensions      []string // Extension allowlist (default: DefaultExtensions)
	ExcludePatterns []string // Name, substring or suffix patterns
	MaxFileSize     int64    // Skip files larger than this (default: DefaultMaxFileSize)
	BatchSize       int      // Files processed between yields (default: DefaultBatchSize)
}

// Builder scans a workspace's filesystem to construct and update change
// trees.
type Builder struct {
	workspacePath string
	extensions    map[string]bool
	exclude       []pattern
	maxFileSize   int64
	batchSize     int
}

// New creates a Builder rooted at workspacePath.
func New(workspacePath string, config Config) *Builder {
	if config.MaxFileSize <= 0 {
		config.MaxFileSize = DefaultMaxFileSize
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}

	exts := config.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	extSet := make(map[string]bool, len(exts))
	for _, ext := range exts {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		extSet[strings.ToLower(ext)] = true
	}

	return &Builder{
		workspacePath: workspacePath,
		extensions:    extSet,
		exclude:       normalizePatterns(config.ExcludePatterns),
		maxFileSize:   config.MaxFileSize,
		batchSize:     config.BatchSize,
	}
}

// WorkspacePath returns the workspace root the builder scans.
func (b *Builder) WorkspacePath() string {
	return b.workspacePath
}

// patternKind selects the matching rule for an exclude pattern.
type patternKind int

const (
	patternName      patternKind = iota // matches any path segment exactly
	patternSuffix                       // "*.min.js" matches a base-name suffix
	patternSubstring                    // contains "/": matches anywhere in the path
)

type pattern struct {
	text string
	kind patternKind
}

// normalizePatterns converts raw exclude strings into classified patterns.
// Empty entries are dropped.
func normalizePatterns(raw []string) []pattern {
	patterns := make([]pattern, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
		if p == "" {
			continue
		}
		switch {
		case strings.HasPrefix(p, "*."):
			patterns = append(patterns, pattern{text: p[1:], kind: patternSuffix})
		case strings.Contains(strings.Trim(p, "/"), "/"):
			patterns = append(patterns, pattern{text: strings.Trim(p, "/"), kind: patternSubstring})
		default:
			patterns = append(patterns, pattern{text: strings.Trim(p, "/"), kind: patternName})
		}
	}
	return patterns
}

// excluded reports whether a normalized relative path matches any exclude
// pattern.
func (b *Builder) excluded(relPath string) bool {
	base := relPath
	if i := strings.LastIndexByte(relPath, '/'); i >= 0 {
		base = relPath[i+1:]
	}

	for _, p := range b.exclude {
		switch p.kind {
		case patternName:
			for _, seg := range strings.Split(relPath, "/") {
				if seg == p.text {
					return true
				}
			}
		case patternSuffix:
			if strings.HasSuffix(base, p.text) {
				return true
			}
		case patternSubstring:
			if strings.Contains(relPath, p.text) {
				return true
			}
		}
	}
	return false
}

// includeDir reports whether a directory should be descended into. Hidden
// directories are always skipped.
func (b *Builder) includeDir(relPath, name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	return !b.excluded(relPath)
}

// includeFile applies the extension allowlist, exclude patterns and size
// cutoff.
func (b *Builder) includeFile(relPath string, size int64) bool {
	if size > b.maxFileSize {
		return false
	}
	return b.IncludesPath(relPath)
}

// IncludesPath reports whether a file at the workspace-relative path could be
// eligible, ignoring the size cutoff. Watchers use this to filter events
// before the file has been statted.
func (b *Builder) IncludesPath(relPath string) bool {
	relPath = strings.Trim(relPath, "/")
	dot := strings.LastIndexByte(relPath, '.')
	if dot < 0 {
		return false
	}
	if !b.extensions[strings.ToLower(relPath[dot:])] {
		return false
	}
	return !b.excluded(relPath)
}

// IncludesDir reports whether the builder would descend into the directory at
// the workspace-relative path.
func (b *Builder) IncludesDir(relPath string) bool {
	relPath = strings.Trim(relPath, "/")
	name := relPath
	if i := strings.LastIndexByte(relPath, '/'); i >= 0 {
		name = relPath[i+1:]
	}
	return b.includeDir(relPath, name)
}

// Excluded reports whether the workspace-relative path matches an exclude
// pattern.
func (b *Builder) Excluded(relPath string) bool {
	return b.excluded(strings.Trim(relPath, "/"))
}

// hashFile computes the streaming hex SHA-256 of a file's content.
func hashFile(absPath string) (string, error) {
	f, err := os.Open(absPath)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
