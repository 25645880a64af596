package indexer

import (
	"path"
	"strings"
)

// DefaultExtensions are the file extensions indexed when none are configured
var DefaultExtensions = []string{
	".go", ".md", ".txt", ".py", ".js", ".ts", ".tsx", ".jsx", ".java", ".kt",
	".rs", ".c", ".h", ".cc", ".cpp", ".hpp", ".cs", ".rb", ".php", ".swift",
	".scala", ".sh", ".sql", ".proto", ".yaml", ".yml", ".toml", ".json",
}

// defaultSkipDirs are directory names never descended into
var defaultSkipDirs = []string{"vendor", "node_modules", "testdata"}

// Policy decides which paths are indexable. Paths are slash separated and
// relative to the project root.
type Policy struct {
	extensions map[string]struct{}
	skipDirs   map[string]struct{}
}

// NewPolicy builds a policy from a list of extensions such as ".go" or "md".
// An empty list selects DefaultExtensions.
func NewPolicy(extensions []string) Policy {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	p := Policy{
		extensions: make(map[string]struct{}, len(extensions)),
		skipDirs:   make(map[string]struct{}, len(defaultSkipDirs)),
	}
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		p.extensions[ext] = struct{}{}
	}
	for _, d := range defaultSkipDirs {
		p.skipDirs[d] = struct{}{}
	}
	return p
}

// SkipDir reports whether a directory with this base name is excluded
func (p Policy) SkipDir(name string) bool {
	if name == "." || name == "" {
		return false
	}
	if strings.HasPrefix(name, ".") {
		return true
	}
	_, skip := p.skipDirs[name]
	return skip
}

// Indexable reports whether the file at rel should be indexed
func (p Policy) Indexable(rel string) bool {
	if rel == "" || rel == "." || strings.HasPrefix(rel, "../") || rel == ".." {
		return false
	}
	dir, file := path.Split(rel)
	if strings.HasPrefix(file, ".") {
		return false
	}
	for _, seg := range strings.Split(strings.Trim(dir, "/"), "/") {
		if p.SkipDir(seg) {
			return false
		}
	}
	_, ok := p.extensions[strings.ToLower(path.Ext(file))]
	return ok
}
