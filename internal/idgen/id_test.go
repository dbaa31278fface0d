package idgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewSpanIDUnique(t *testing.T) {
	a := NewSpanID()
	b := NewSpanID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
