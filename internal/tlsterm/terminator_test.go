package tlsterm

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blitzgw/gateway/certificates"
)

func selfSignedTLSConfig(t *testing.T) certificates.TLSConfig {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	tc := certificates.New()
	require.NoError(t, tc.AddCertificatePairString(string(keyPEM), string(certPEM)))
	return tc
}

// pumpSession bridges a real net.Conn carrying TLS ciphertext to a Session
// driven purely through Feed/Pump/Drain, standing in for the completion
// loop that would otherwise own the socket.
func pumpSession(conn net.Conn, s *Session, stop <-chan struct{}) {
	buf := make([]byte, 4096)
	for {
		select {
		case <-stop:
			return
		default:
		}
		n, err := conn.Read(buf)
		if n > 0 {
			s.Feed(buf[:n])
			_, _ = s.Pump()
			if out := s.Drain(); len(out) > 0 {
				_, _ = conn.Write(out)
			}
		}
		if err != nil {
			return
		}
	}
}

func TestSessionCompletesHandshakeAgainstRealClient(t *testing.T) {
	tc := selfSignedTLSConfig(t)
	srv := NewSession(tc, "")
	assert.Equal(t, Handshaking, srv.State())

	clientRaw, serverRaw := net.Pipe()
	defer clientRaw.Close()
	defer serverRaw.Close()

	stop := make(chan struct{})
	defer close(stop)
	go pumpSession(serverRaw, srv, stop)

	clientDone := make(chan error, 1)
	go func() {
		c := tls.Client(clientRaw, &tls.Config{InsecureSkipVerify: true, ServerName: "localhost"})
		clientDone <- c.Handshake()
	}()

	select {
	case err := <-clientDone:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("client handshake did not complete")
	}

	assert.Eventually(t, func() bool {
		return srv.State() == Connected
	}, time.Second, time.Millisecond)
}

func TestLooksLikeTLS(t *testing.T) {
	assert.True(t, LooksLikeTLS(0x16))
	assert.False(t, LooksLikeTLS(0x47)) // 'G' of "GET "
}
