package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepoPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"src/main.go", "src/main.go"},
		{"./src/main.go", "src/main.go"},
		{"a/b/../c.go", "a/c.go"},
		{`pkg\parser\lex.go`, "pkg/parser/lex.go"},
		{"dir/", "dir"},
		{"  spaced.go  ", "spaced.go"},
	}
	for _, tt := range tests {
		got, err := RepoPath(tt.in)
		require.NoError(t, err, "path %q", tt.in)
		assert.Equal(t, tt.want, got, "path %q", tt.in)
	}

	bad := []string{
		"", "   ", "/etc/passwd", "..", "../up.go", "a/../../b.go", ".",
		"evil\x00.go", "tab\t.go",
	}
	for _, in := range bad {
		_, err := RepoPath(in)
		assert.Error(t, err, "path %q", in)
	}
}

func TestSanitizeName(t *testing.T) {
	got, err := SanitizeName(`  fix "login" bug\now  `)
	require.NoError(t, err)
	assert.Equal(t, "fix login bugnow", got)

	_, err = SanitizeName(`"\"`)
	assert.Error(t, err, "nothing survives stripping")

	_, err = SanitizeName(strings.Repeat("x", 65))
	assert.Error(t, err)

	got, err = SanitizeName(strings.Repeat("x", 64))
	require.NoError(t, err)
	assert.Len(t, got, 64)
}

func TestProjectID(t *testing.T) {
	got, err := ProjectID("  My-Repo.v2  ")
	require.NoError(t, err)
	assert.Equal(t, "my-repo.v2", got, "ids are lowercased")

	for _, in := range []string{"", "has space", "sl/ash", ".hidden", "-dash", "a..b", strings.Repeat("p", 129)} {
		_, err := ProjectID(in)
		assert.Error(t, err, "id %q", in)
	}
}
