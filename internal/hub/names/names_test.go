package names

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func never(string) bool { return false }

func TestPickIsDeterministic(t *testing.T) {
	a := Pick("agent-f3k9", never)
	b := Pick("agent-f3k9", never)
	assert.Equal(t, a, b, "the same id always maps to the same name")
	assert.NotEmpty(t, a)
}

func TestPickSuffixesOnCollision(t *testing.T) {
	base := Pick("agent-one", never)

	taken := map[string]bool{base: true}
	second := Pick("agent-one", func(c string) bool { return taken[c] })
	assert.Equal(t, base+"-2", second)

	taken[second] = true
	third := Pick("agent-one", func(c string) bool { return taken[c] })
	assert.Equal(t, base+"-3", third)
}
