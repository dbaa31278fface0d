package h3engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenStoreTicketRoundTrip(t *testing.T) {
	ts, err := NewTokenStore(4)
	require.NoError(t, err)

	ts.PutTicket("psk-1", SessionTicket{PSKIdentity: "psk-1", Created: time.Now(), MaxEarlyData: 1 << 14})

	got, ok := ts.Ticket("psk-1")
	require.True(t, ok)
	assert.Equal(t, "psk-1", got.PSKIdentity)
}

func TestTokenStoreAddressToken(t *testing.T) {
	ts, err := NewTokenStore(4)
	require.NoError(t, err)

	assert.False(t, ts.ValidAddressToken("1.2.3.4:0"))
	ts.PutAddressToken("1.2.3.4:0", AddressToken{ClientAddr: "1.2.3.4:0", Created: time.Now()})
	assert.True(t, ts.ValidAddressToken("1.2.3.4:0"))
}

func TestTokenStoreEviction(t *testing.T) {
	ts, err := NewTokenStore(1)
	require.NoError(t, err)

	ts.PutTicket("a", SessionTicket{PSKIdentity: "a"})
	ts.PutTicket("b", SessionTicket{PSKIdentity: "b"})

	_, ok := ts.Ticket("a")
	assert.False(t, ok)
	_, ok = ts.Ticket("b")
	assert.True(t, ok)
}
