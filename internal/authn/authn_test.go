package authn

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoOpAcceptsNonEmptyToken(t *testing.T) {
	a := NoOp()
	assert.True(t, a.Authenticate("abc"))
	assert.False(t, a.Authenticate(""))
}
