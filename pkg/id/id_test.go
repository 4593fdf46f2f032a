package id

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

var hexToken = regexp.MustCompile(`^[0-9a-f]{32}$`)

func TestTransactionFormat(t *testing.T) {
	for i := 0; i < 100; i++ {
		tok := Transaction()
		assert.Len(t, tok, TransactionLen)
		assert.Regexp(t, hexToken, tok)
	}
}

func TestTransactionUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		tok := Transaction()
		assert.False(t, seen[tok], "duplicate token %s", tok)
		seen[tok] = true
	}
}

func TestNewMonotonic(t *testing.T) {
	prev := New()
	for i := 0; i < 100; i++ {
		next := New()
		assert.Len(t, next, 26)
		assert.Greater(t, next, prev)
		prev = next
	}
}
