package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheck(t *testing.T) {
	c := New("s3cret")
	assert.True(t, c.Check("s3cret"))
	assert.False(t, c.Check("S3CRET"))
	assert.False(t, c.Check(""))
	assert.False(t, New("").Check(""), "an unset secret matches nothing")
}

func TestCheckRequest(t *testing.T) {
	c := New("s3cret")

	r := httptest.NewRequest("GET", "/ws", nil)
	assert.False(t, c.CheckRequest(r), "no header")

	r.Header.Set("Authorization", "Bearer s3cret")
	assert.True(t, c.CheckRequest(r))

	r.Header.Set("Authorization", "Bearer  s3cret ")
	assert.True(t, c.CheckRequest(r), "surrounding whitespace is trimmed")

	r.Header.Set("Authorization", "Basic s3cret")
	assert.False(t, c.CheckRequest(r), "only bearer tokens are accepted")
}
