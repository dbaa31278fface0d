package gwconfig

import (
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func viperFromTOML(t *testing.T, toml string) *viper.Viper {
	t.Helper()
	v := viper.New()
	v.SetConfigType("toml")
	require.NoError(t, v.ReadConfig(strings.NewReader(toml)))
	return v
}

func TestLoadOriginMode(t *testing.T) {
	v := viperFromTOML(t, `
mode = "origin"
[[listeners]]
name = "main"
addr = "0.0.0.0:8443"
tls = false
`)
	got, err := Load(v)
	require.NoError(t, err)
	cfg := got.(*Config)
	assert.Equal(t, ModeOrigin, cfg.Mode)
	assert.Len(t, cfg.Listeners, 1)
	assert.Equal(t, 100000, cfg.MaxConns)
}

func TestLoadLoadBalancerRequiresBackends(t *testing.T) {
	v := viperFromTOML(t, `
mode = "loadbalancer"
[[listeners]]
name = "main"
addr = "0.0.0.0:8443"
`)
	_, err := Load(v)
	assert.Error(t, err)
}

func TestLoadRejectsBadMode(t *testing.T) {
	v := viperFromTOML(t, `
mode = "bogus"
[[listeners]]
name = "main"
addr = "0.0.0.0:8443"
`)
	_, err := Load(v)
	assert.Error(t, err)
}

func TestLoadTLSListenerRequiresCertFiles(t *testing.T) {
	v := viperFromTOML(t, `
mode = "origin"
[[listeners]]
name = "main"
addr = "0.0.0.0:8443"
tls = true
`)
	_, err := Load(v)
	assert.Error(t, err)
}
