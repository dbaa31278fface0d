package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type blockAPI struct{}

func (blockAPI) OnRequest(path string, header map[string][]string) Verdict {
	if path == "/api/admin" {
		return Stop
	}
	return Continue
}

func (blockAPI) OnResponse(status int, header map[string]string) Verdict {
	return Continue
}

func TestFilterChainStopsOnMatch(t *testing.T) {
	var f Filter = blockAPI{}
	assert.Equal(t, Stop, f.OnRequest("/api/admin", nil))
	assert.Equal(t, Continue, f.OnRequest("/api/users", nil))
	assert.Equal(t, Continue, f.OnResponse(200, nil))
}
