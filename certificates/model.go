/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

package certificates

import (
	"crypto/tls"
	"crypto/x509"
	"io"
	"sync"

	tlsaut "github.com/blitzgw/gateway/certificates/auth"
	tlscas "github.com/blitzgw/gateway/certificates/ca"
	tlscpr "github.com/blitzgw/gateway/certificates/cipher"
	tlscrt "github.com/blitzgw/gateway/certificates/certs"
	tlscrv "github.com/blitzgw/gateway/certificates/curves"
	tlsvrs "github.com/blitzgw/gateway/certificates/tlsversion"
)

// config is the concrete TLSConfig. Every Add/Set/Get method lives in its
// own file (cert.go, rootca.go, authClient.go, curves.go); this file holds
// the struct itself plus the members with no more specific home: ciphers,
// versions, randomness, cloning, and the final *tls.Config assembly.
type config struct {
	mu sync.RWMutex

	rand                  io.Reader
	cert                  []tlscrt.Cert
	cipherList            []tlscpr.Cipher
	curveList             []tlscrv.Curves
	caRoot                []tlscas.Cert
	clientAuth            tlsaut.ClientAuth
	clientCA              []tlscas.Cert
	tlsMinVersion         tlsvrs.Version
	tlsMaxVersion         tlsvrs.Version
	dynSizingDisabled     bool
	ticketSessionDisabled bool
}

func (c *config) RegisterRand(rand io.Reader) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rand = rand
}

func (c *config) SetVersionMin(v tlsvrs.Version) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tlsMinVersion = v
}

func (c *config) GetVersionMin() tlsvrs.Version {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tlsMinVersion
}

func (c *config) SetVersionMax(v tlsvrs.Version) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tlsMaxVersion = v
}

func (c *config) GetVersionMax() tlsvrs.Version {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tlsMaxVersion
}

func (c *config) SetCipherList(ci []tlscpr.Cipher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cipherList = make([]tlscpr.Cipher, 0)
	c.addCiphers(ci...)
}

func (c *config) AddCiphers(ci ...tlscpr.Cipher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addCiphers(ci...)
}

func (c *config) addCiphers(ci ...tlscpr.Cipher) {
	c.cipherList = append(c.cipherList, ci...)
}

func (c *config) GetCiphers() []tlscpr.Cipher {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var res = make([]tlscpr.Cipher, 0)
	for _, i := range c.cipherList {
		if tlscpr.Check(i.Uint16()) {
			res = append(res, i)
		}
	}
	return res
}

func (c *config) SetDynamicSizingDisabled(flag bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dynSizingDisabled = flag
}

func (c *config) SetSessionTicketDisabled(flag bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticketSessionDisabled = flag
}

// TLS builds a *tls.Config for the given SNI server name. Certificates are
// handed to crypto/tls as-is: with more than one entry, crypto/tls itself
// matches on ClientHello.ServerName against each certificate's parsed
// leaf, so no explicit SNI map is needed here.
func (c *config) TLS(serverName string) *tls.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	/* #nosec */
	cnf := &tls.Config{
		InsecureSkipVerify: false,
		Rand:               c.rand,
	}

	if serverName != "" {
		cnf.ServerName = serverName
	}

	if c.ticketSessionDisabled {
		cnf.SessionTicketsDisabled = true
	}

	if c.dynSizingDisabled {
		cnf.DynamicRecordSizingDisabled = true
	}

	if c.tlsMinVersion != tlsvrs.VersionUnknown {
		cnf.MinVersion = c.tlsMinVersion.TLS()
	}

	if c.tlsMaxVersion != tlsvrs.VersionUnknown {
		cnf.MaxVersion = c.tlsMaxVersion.TLS()
	}

	if len(c.cipherList) > 0 {
		for _, ci := range c.cipherList {
			cnf.CipherSuites = append(cnf.CipherSuites, ci.TLS())
		}
	}

	if len(c.curveList) > 0 {
		for _, cv := range c.curveList {
			cnf.CurvePreferences = append(cnf.CurvePreferences, cv.TLS())
		}
	}

	if len(c.caRoot) > 0 {
		pool := x509PoolFrom(c.caRoot)
		cnf.RootCAs = pool
	}

	if len(c.cert) > 0 {
		for _, crt := range c.cert {
			cnf.Certificates = append(cnf.Certificates, crt.TLS())
		}
	}

	if c.clientAuth != tlsaut.NoClientCert {
		cnf.ClientAuth = c.clientAuth.TLS()
		if len(c.clientCA) > 0 {
			cnf.ClientCAs = x509PoolFrom(c.clientCA)
		}
	}

	return cnf
}

// TlsConfig is the teacher's original (mixed-case) spelling of TLS, kept so
// that existing callers compiled against either name keep working.
func (c *config) TlsConfig(serverName string) *tls.Config {
	return c.TLS(serverName)
}

func (c *config) Clone() TLSConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return &config{
		rand:                  c.rand,
		cert:                  append(make([]tlscrt.Cert, 0), c.cert...),
		cipherList:            append(make([]tlscpr.Cipher, 0), c.cipherList...),
		curveList:             append(make([]tlscrv.Curves, 0), c.curveList...),
		caRoot:                append(make([]tlscas.Cert, 0), c.caRoot...),
		clientAuth:            c.clientAuth,
		clientCA:              append(make([]tlscas.Cert, 0), c.clientCA...),
		tlsMinVersion:         c.tlsMinVersion,
		tlsMaxVersion:         c.tlsMaxVersion,
		dynSizingDisabled:     c.dynSizingDisabled,
		ticketSessionDisabled: c.ticketSessionDisabled,
	}
}

// Config snapshots the current state into the exported, serializable
// Config struct, the counterpart consumed by Config.NewFrom when chaining
// onto a default configuration.
func (c *config) Config() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cfg := &Config{
		CurveList:            append(make([]tlscrv.Curves, 0), c.curveList...),
		CipherList:           append(make([]tlscpr.Cipher, 0), c.cipherList...),
		RootCA:               append(make([]tlscas.Cert, 0), c.caRoot...),
		ClientCA:             append(make([]tlscas.Cert, 0), c.clientCA...),
		VersionMin:           c.tlsMinVersion,
		VersionMax:           c.tlsMaxVersion,
		AuthClient:           c.clientAuth,
		DynamicSizingDisable: c.dynSizingDisabled,
		SessionTicketDisable: c.ticketSessionDisabled,
	}

	for _, crt := range c.cert {
		cfg.Certs = append(cfg.Certs, crt.Model())
	}

	return cfg
}

func x509PoolFrom(certs []tlscas.Cert) *x509.CertPool {
	pool := x509.NewCertPool()
	for _, ca := range certs {
		ca.AppendPool(pool)
	}
	return pool
}
