package gwerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWrapsParent(t *testing.T) {
	parent := errors.New("dial tcp: connection refused")
	e := New(ErrUpstreamFailure, parent)
	require.NotNil(t, e)
	assert.Contains(t, e.Error(), "upstream request failed")
	assert.True(t, e.HasParent())
}

func TestNewWithoutParent(t *testing.T) {
	e := New(ErrConfigInvalid)
	require.NotNil(t, e)
	assert.Contains(t, e.Error(), "configuration rejected")
	assert.False(t, e.HasParent())
}
