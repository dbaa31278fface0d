package reload

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriggerAndPollRunsSwap(t *testing.T) {
	v := viper.New()
	v.SetConfigType("toml")
	require.NoError(t, v.ReadConfig(strings.NewReader("mode = \"origin\"")))

	var swapped bool
	m, err := New(v, func(v *viper.Viper) (interface{}, error) {
		return v.GetString("mode"), nil
	}, func(newCfg interface{}) error {
		swapped = true
		return nil
	})
	require.NoError(t, err)
	defer m.Close()

	m.Trigger()
	assert.Eventually(t, func() bool { m.Poll(); return swapped }, time.Second, time.Millisecond)
}

func TestConcurrentReloadGuard(t *testing.T) {
	v := viper.New()
	v.SetConfigType("toml")
	require.NoError(t, v.ReadConfig(strings.NewReader("mode = \"origin\"")))

	m, err := New(v, func(v *viper.Viper) (interface{}, error) {
		return nil, nil
	}, func(interface{}) error { return nil })
	require.NoError(t, err)
	defer m.Close()

	m.inFlight = true
	m.Trigger()
	assert.False(t, m.Poll())
}
