package walker

import (
	"bufio"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// gitignoreMatcher implements root-only, non-negating .gitignore
// semantics. Nested .gitignore files and negation patterns are
// unsupported.
type gitignoreMatcher struct {
	dirPatterns  []string // directory patterns (trailing "/" stripped)
	filePatterns []string
}

// loadGitignore parses the root .gitignore, if present. Returns nil if
// there is none.
func loadGitignore(root string) *gitignoreMatcher {
	f, err := os.Open(filepath.Join(root, ".gitignore"))
	if err != nil {
		return nil
	}
	defer f.Close()

	m := &gitignoreMatcher{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasSuffix(line, "/") {
			m.dirPatterns = append(m.dirPatterns, strings.TrimSuffix(line, "/"))
		} else {
			m.filePatterns = append(m.filePatterns, line)
		}
	}

	return m
}

// Match reports whether relPath is excluded by the loaded patterns.
func (m *gitignoreMatcher) Match(relPath string) bool {
	base := path.Base(relPath)

	for _, pattern := range m.dirPatterns {
		for _, component := range strings.Split(relPath, "/") {
			if matched, _ := path.Match(pattern, component); matched {
				return true
			}
		}
	}

	for _, pattern := range m.filePatterns {
		if matched, _ := path.Match(pattern, relPath); matched {
			return true
		}
		if matched, _ := path.Match(pattern, base); matched {
			return true
		}
	}

	return false
}
