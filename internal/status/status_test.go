package status

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotOverallHealthy(t *testing.T) {
	a := New()
	a.Register(NewCheckFunc("lb", func() Health { return Healthy }))
	a.Register(NewCheckFunc("reload", func() Health { return Healthy }))

	rep := a.Snapshot()
	assert.Equal(t, Healthy, rep.Overall)
	assert.Len(t, rep.Components, 2)
}

func TestSnapshotWorstWins(t *testing.T) {
	a := New()
	a.Register(NewCheckFunc("lb", func() Health { return Degraded }))
	a.Register(NewCheckFunc("ratelimit", func() Health { return Unhealthy }))

	rep := a.Snapshot()
	assert.Equal(t, Unhealthy, rep.Overall)
}

func TestServeHTTPStatusCode(t *testing.T) {
	a := New()
	a.Register(NewCheckFunc("lb", func() Health { return Unhealthy }))

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var rep struct {
		Overall string `json:"overall"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	assert.Equal(t, "unhealthy", rep.Overall)
}

func mustMarshalHealth(h Health) []byte {
	b, _ := json.Marshal(h)
	var s string
	_ = json.Unmarshal(b, &s)
	return []byte(s)
}
