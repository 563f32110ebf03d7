// Package validate sanitizes and validates client-supplied values:
// repository paths, agent and task names, and project slugs.
package validate

import (
	"fmt"
	"path"
	"strings"
)

// RepoPath normalizes a repo-relative file path: forward slashes, no
// trailing slash, "./" collapsed, ".." resolved only within the
// project root. Paths are compared as exact strings after
// normalization; prefix containment grants nothing.
//
// Rejected forms: empty paths, absolute paths, paths escaping the
// root, and paths containing control characters.
func RepoPath(value string) (string, error) {
	var b strings.Builder
	for _, r := range value {
		if r < 0x20 || r == 0x7F {
			return "", fmt.Errorf("path must not contain control characters")
		}
		if r == '\\' {
			r = '/'
		}
		b.WriteRune(r)
	}
	s := strings.TrimSpace(b.String())
	if s == "" {
		return "", fmt.Errorf("path must not be empty")
	}
	if strings.HasPrefix(s, "/") {
		return "", fmt.Errorf("path must be repo-relative")
	}

	cleaned := path.Clean(s)
	if cleaned == "." {
		return "", fmt.Errorf("path must name a file")
	}
	// Clean resolves ".." lexically; anything left escapes the root.
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("path escapes project root")
	}
	return cleaned, nil
}
