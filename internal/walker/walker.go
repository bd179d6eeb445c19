// Package walker enumerates indexable files under a root directory,
// applying allow-list/deny-list filtering rules.
package walker

import (
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// MaxFileSize is the maximum file size, in bytes, eligible for indexing.
const MaxFileSize = 1 << 20 // 1 MiB

// allowedExtensions is the fixed allow-list of source/text extensions.
var allowedExtensions = map[string]bool{
	".py": true, ".js": true, ".ts": true, ".jsx": true, ".tsx": true,
	".java": true, ".cpp": true, ".c": true, ".h": true, ".cs": true,
	".php": true, ".rb": true, ".go": true, ".rs": true, ".swift": true,
	".kt": true, ".scala": true, ".clj": true, ".hs": true, ".ml": true,
	".elm": true, ".dart": true, ".r": true, ".m": true, ".mm": true,
	".sh": true, ".bash": true, ".zsh": true, ".fish": true, ".ps1": true,
	".bat": true, ".cmd": true, ".html": true, ".htm": true, ".xml": true,
	".css": true, ".scss": true, ".sass": true, ".less": true, ".astro": true,
	".vue": true, ".svelte": true, ".mjs": true, ".cjs": true, ".sql": true,
	".yaml": true, ".yml": true, ".json": true, ".toml": true, ".ini": true,
	".cfg": true, ".md": true, ".rst": true, ".txt": true, ".tex": true,
	".org": true,
}

// lockfileDenyList is the fixed set of lockfile basenames.
var lockfileDenyList = map[string]bool{
	"package-lock.json": true,
	"yarn.lock":         true,
	"pnpm-lock.yaml":    true,
	"composer.lock":     true,
	"Cargo.lock":        true,
	"poetry.lock":       true,
	"Pipfile.lock":      true,
	"go.sum":            true,
}

// hiddenPathAllowList are dotfiles permitted despite the hidden-path rule.
// A file must still pass the extension allow-list, which none of these
// names do, so they are not returned by Walk.
var hiddenPathAllowList = map[string]bool{
	".gitignore":     true,
	".env.example":   true,
	".editorconfig":  true,
	".nvmrc":         true,
}

// directoryDenyList is matched against any path component, not just the
// leaf directory.
var directoryDenyList = map[string]bool{
	"node_modules": true, "__pycache__": true, ".git": true,
	"build": true, "dist": true, ".venv": true, "venv": true,
	".env": true, "target": true, ".gradle": true, ".idea": true,
	".vscode": true, ".vs": true, "bin": true, "obj": true,
	"logs": true, "tmp": true, "temp": true, "coverage": true,
	".nyc_output": true, ".pytest_cache": true, "__tests__": true,
	"test-results": true, "dist-ssr": true, ".astro": true,
}

// File describes one included file, relative to the walked root.
type File struct {
	Path    string
	Size    int64
	ModTime int64 // Unix seconds
}

// Options configures a Walk, layering user excludes on top of the
// built-in allow/deny lists. Extra excludes only narrow the result set.
type Options struct {
	ExtraExclude []string
}

// Walk enumerates indexable files under root, applying the extension
// allow-list, lockfile/directory deny-lists, hidden-path rule, size limit,
// and root .gitignore. Unreadable entries are logged at debug level and
// skipped rather than aborting the walk.
func Walk(root string, opts Options) ([]File, error) {
	gitignore := loadGitignore(root)

	var files []File
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			slog.Debug("walk_skip_unreadable", slog.String("path", p), slog.String("error", err.Error()))
			return nil
		}

		rel, relErr := filepath.Rel(root, p)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if inDirectoryDenyList(rel) {
				return filepath.SkipDir
			}
			return nil
		}

		if !shouldInclude(rel, opts.ExtraExclude, gitignore) {
			return nil
		}

		info, statErr := d.Info()
		if statErr != nil {
			slog.Debug("walk_skip_stat_failed", slog.String("path", rel), slog.String("error", statErr.Error()))
			return nil
		}
		if info.Size() > MaxFileSize {
			return nil
		}

		files = append(files, File{
			Path:    rel,
			Size:    info.Size(),
			ModTime: info.ModTime().Unix(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return files, nil
}

func shouldInclude(relPath string, extraExclude []string, gi *gitignoreMatcher) bool {
	base := path.Base(relPath)

	if lockfileDenyList[base] {
		return false
	}

	for _, component := range strings.Split(relPath, "/") {
		if strings.HasPrefix(component, ".") && !hiddenPathAllowList[component] {
			return false
		}
		if directoryDenyList[component] {
			return false
		}
	}

	ext := strings.ToLower(filepath.Ext(base))
	if !allowedExtensions[ext] {
		return false
	}

	for _, pattern := range extraExclude {
		if matched, _ := path.Match(pattern, relPath); matched {
			return false
		}
		if matched, _ := path.Match(pattern, base); matched {
			return false
		}
	}

	if gi != nil && gi.Match(relPath) {
		return false
	}

	return true
}

func inDirectoryDenyList(relPath string) bool {
	for _, component := range strings.Split(relPath, "/") {
		if directoryDenyList[component] {
			return true
		}
	}
	return false
}

// LoadFileContent reads a file as UTF-8. Returns ok=false on any read or
// decode failure, so the caller can skip the file.
func LoadFileContent(root, relPath string) (content string, ok bool) {
	data, err := os.ReadFile(filepath.Join(root, relPath))
	if err != nil {
		return "", false
	}
	if !utf8.Valid(data) {
		return "", false
	}
	return string(data), true
}
