package gwlog

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryLogEmitsJSON(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)
	SetLevel(DebugLevel)

	NewEntry(InfoLevel, "listener started").Field("addr", "0.0.0.0:8443").Log()

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "listener started", line["msg"])
	assert.Equal(t, "0.0.0.0:8443", line["addr"])
}

func TestEntryErrorAddNilIsNoop(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)

	e := NewEntry(ErrorLevel, "failed").ErrorAdd(nil)
	e.Log()
	assert.Contains(t, buf.String(), "failed")
}
