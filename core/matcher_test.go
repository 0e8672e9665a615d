package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubstringMatcher(t *testing.T) {
	m := NewSubstringMatcher()
	text := "login failed: bad password for admin"

	assert.True(t, m.Contains(text, "FAIL"))
	assert.False(t, m.Contains(text, ""))
	assert.False(t, m.Contains(text, "denied"))

	kw, ok := m.FirstMatch(text, []string{"denied", "bad password", "fail"})
	assert.True(t, ok)
	assert.Equal(t, "bad password", kw)

	_, ok = m.FirstMatch(text, []string{"virus"})
	assert.False(t, ok)

	assert.Equal(t, []string{"fail", "password"}, m.AllMatches(text, []string{"fail", "secret", "password"}))
	assert.Nil(t, m.AllMatches(text, nil))
}
