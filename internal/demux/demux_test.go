package demux

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/blitzgw/gateway/internal/conntable"
)

func TestClassifyALPNh2(t *testing.T) {
	d, ok := Classify(nil, "h2")
	assert.True(t, ok)
	assert.Equal(t, conntable.ProtoHTTP2, d.Proto)
}

func TestClassifyPreface(t *testing.T) {
	d, ok := Classify([]byte(Preface), "")
	assert.True(t, ok)
	assert.Equal(t, conntable.ProtoHTTP2, d.Proto)
}

func TestClassifyPartialPreface(t *testing.T) {
	_, ok := Classify([]byte("PRI * HTTP/2"), "")
	assert.False(t, ok)
}

func TestClassifyH2CUpgrade(t *testing.T) {
	req := "GET / HTTP/1.1\r\nHost: x\r\nUpgrade: h2c\r\nHTTP2-Settings: AAMAAABkAARAAAAAAAIAAAAA\r\nConnection: Upgrade, HTTP2-Settings\r\n\r\n"
	d, ok := Classify([]byte(req), "")
	assert.True(t, ok)
	assert.Equal(t, conntable.ProtoHTTP1, d.Proto)
	assert.True(t, d.H2CUpgrade)
}

func TestClassifyPlainHTTP1(t *testing.T) {
	req := "GET /hello HTTP/1.1\r\nHost: x\r\n\r\n"
	d, ok := Classify([]byte(req), "")
	assert.True(t, ok)
	assert.Equal(t, conntable.ProtoHTTP1, d.Proto)
	assert.False(t, d.H2CUpgrade)
}
