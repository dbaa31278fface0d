package h2engine

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"
)

func TestNewConnectionInitialWindows(t *testing.T) {
	c := NewConnection(&bytes.Buffer{})
	assert.EqualValues(t, InitialWindowSize, c.connWindow)
	assert.EqualValues(t, InitialWindowSize, c.peerConnWindow)
}

func TestSendDataRefusedAtZeroWindow(t *testing.T) {
	c := NewConnection(&bytes.Buffer{})
	c.streams[1] = &Stream{ID: 1, State: StreamOpen, Window: 0}

	err := c.SendData(1, []byte("x"), false)
	require.Error(t, err)
}

func TestHandleSettingsAdjustsStreamWindows(t *testing.T) {
	buf := &bytes.Buffer{}
	c := NewConnection(buf)
	c.streams[1] = &Stream{ID: 1, State: StreamOpen, Window: InitialWindowSize}

	fr := http2.NewFramer(buf, buf)
	require.NoError(t, fr.WriteSettings(http2.Setting{ID: http2.SettingInitialWindowSize, Val: 0}))
	f, err := fr.ReadFrame()
	require.NoError(t, err)

	require.NoError(t, c.handleSettings(f.(*http2.SettingsFrame)))
	assert.EqualValues(t, 0, c.streams[1].Window)
}
