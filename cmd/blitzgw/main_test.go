package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blitzgw/gateway/internal/gwconfig"
)

// genSelfSigned writes a self-signed ECDSA cert/key PEM pair under dir and
// returns their paths, for exercising buildTLSConfig's certificates.New
// wiring without a real CA.
func genSelfSigned(t *testing.T, dir string) (certFile, keyFile string) {
	t.Helper()

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	require.NoError(t, err)

	tmpl := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "blitzgw-test"},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	require.NoError(t, err)

	keyDER, err := x509.MarshalECPrivateKey(priv)
	require.NoError(t, err)

	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")

	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return certFile, keyFile
}

func TestBuildTLSConfigLoadsCertificatePair(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := genSelfSigned(t, dir)

	tc, err := buildTLSConfig(gwconfig.ListenerConfig{CertFile: certFile, KeyFile: keyFile})
	require.NoError(t, err)

	cfg := tc.TLS("")
	require.NotNil(t, cfg)
	assert.NotEmpty(t, cfg.Certificates)
}

func TestBuildTLSConfigAppliesCipherCurveVersionAndClientAuth(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := genSelfSigned(t, dir)
	caFile, _ := genSelfSigned(t, t.TempDir())

	lc := gwconfig.ListenerConfig{
		CertFile:     certFile,
		KeyFile:      keyFile,
		CipherSuites: []string{"ECDHE-RSA-AES-128-GCM-SHA256"},
		Curves:       []string{"X25519"},
		MinVersion:   "1.2",
		MaxVersion:   "1.3",
		ClientAuth:   "require",
		ClientCAFile: caFile,
		RootCAFile:   caFile,
	}

	tc, err := buildTLSConfig(lc)
	require.NoError(t, err)

	cfg := tc.TLS("")
	require.NotNil(t, cfg)
	assert.Equal(t, uint16(0x0303), cfg.MinVersion) // tls.VersionTLS12
	assert.Equal(t, uint16(0x0304), cfg.MaxVersion) // tls.VersionTLS13
	assert.NotEmpty(t, cfg.CipherSuites)
	assert.NotEmpty(t, cfg.CurvePreferences)
	assert.Equal(t, 2, int(cfg.ClientAuth)) // tls.RequireAnyClientCert
	assert.NotNil(t, cfg.ClientCAs)
}

func TestBuildTLSConfigRejectsMissingCertificate(t *testing.T) {
	_, err := buildTLSConfig(gwconfig.ListenerConfig{CertFile: "/nonexistent/cert.pem", KeyFile: "/nonexistent/key.pem"})
	assert.Error(t, err)
}
