package validate

import (
	"fmt"
	"regexp"
	"strings"
)

// SanitizeName sanitizes and validates a name/title string.
// Forbidden characters (control characters, " and \) are silently stripped.
// Returns the sanitized name or an error if the result is empty or exceeds 64 characters.
func SanitizeName(name string) (string, error) {
	var b strings.Builder
	for _, r := range name {
		if r >= 0x20 && r != 0x7F && r != '"' && r != '\\' {
			b.WriteRune(r)
		}
	}
	sanitized := strings.TrimSpace(b.String())
	if sanitized == "" {
		return "", fmt.Errorf("name must not be empty")
	}
	if len(sanitized) > 64 {
		return "", fmt.Errorf("name must be at most 64 characters")
	}
	return sanitized, nil
}

var slugPattern = regexp.MustCompile(`^[a-z0-9._-]+$`)

// ProjectID validates a project identifier. Projects are stable slugs
// derived from the repository path by clients; the hub treats them as
// opaque but constrains the character set because the id names a
// directory under the data dir.
func ProjectID(value string) (string, error) {
	slug := strings.ToLower(strings.TrimSpace(value))
	if slug == "" {
		return "", fmt.Errorf("project id must not be empty")
	}
	if len(slug) > 128 {
		return "", fmt.Errorf("project id must be at most 128 characters")
	}
	if !slugPattern.MatchString(slug) {
		return "", fmt.Errorf("project id must contain only letters, numbers, dots, hyphens, and underscores")
	}
	if strings.HasPrefix(slug, ".") || strings.HasPrefix(slug, "-") {
		return "", fmt.Errorf("project id must not start with %q", slug[:1])
	}
	if strings.Contains(slug, "..") {
		return "", fmt.Errorf("project id must not contain '..'")
	}
	return slug, nil
}
