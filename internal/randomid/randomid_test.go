package randomid_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hson89/the-overwatch/internal/randomid"
)

func TestNewLength(t *testing.T) {
	assert.Len(t, randomid.New(16), 16)
	assert.Len(t, randomid.New(1), 1)
}

func TestNewCharset(t *testing.T) {
	id := randomid.New(256)
	for _, c := range id {
		isLower := c >= 'a' && c <= 'z'
		isDigit := c >= '0' && c <= '9'
		assert.True(t, isLower || isDigit, "unexpected character %q", c)
	}
}

func TestNewUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := randomid.New(16)
		assert.False(t, seen[id])
		seen[id] = true
	}
}
