// Command blitzgw is the gateway's entrypoint: CLI flag parsing, TOML/viper
// configuration loading, and mode dispatch are external-collaborator
// concerns per spec.md §1, so this file stays a thin composition root that
// wires the already-built core packages together rather than containing
// protocol logic itself.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"

	"github.com/blitzgw/gateway/certificates"
	tlsaut "github.com/blitzgw/gateway/certificates/auth"
	tlscpr "github.com/blitzgw/gateway/certificates/cipher"
	tlscrv "github.com/blitzgw/gateway/certificates/curves"
	tlsvrs "github.com/blitzgw/gateway/certificates/tlsversion"
	"github.com/blitzgw/gateway/internal/authn"
	"github.com/blitzgw/gateway/internal/gwconfig"
	"github.com/blitzgw/gateway/internal/gwlog"
	"github.com/blitzgw/gateway/internal/gwserver"
	"github.com/blitzgw/gateway/internal/h1engine"
	"github.com/blitzgw/gateway/internal/metrics"
	"github.com/blitzgw/gateway/internal/ratelimit"
	"github.com/blitzgw/gateway/internal/status"
)

// cliFlags mirrors spec.md §6's CLI surface: mode is the one positional
// argument, the rest are named flags consumed by whichever mode needs them.
type cliFlags struct {
	port    int
	cert    string
	key     string
	config  string
	lb      string
	capture bool
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: blitzgw <quic|echo|http> [flags]")
		os.Exit(2)
	}

	mode := os.Args[1]
	fs := flag.NewFlagSet(mode, flag.ExitOnError)
	f := cliFlags{}
	fs.IntVar(&f.port, "port", 8080, "listening port")
	fs.StringVar(&f.cert, "cert", "", "TLS certificate PEM file")
	fs.StringVar(&f.key, "key", "", "TLS private key PEM file")
	fs.StringVar(&f.config, "config", "", "TOML configuration file (origin/load-balancer mode)")
	fs.StringVar(&f.lb, "lb", "", "load-balancer backend list, comma-separated name=host:port[:weight]")
	fs.BoolVar(&f.capture, "capture", false, "emit per-connection QUIC captures under captures/")
	_ = fs.Parse(os.Args[2:])

	gwlog.SetLevel(gwlog.InfoLevel)

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 2)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		gwlog.NewEntry(gwlog.InfoLevel, "shutdown requested").Log()
		cancel()
	}()

	var err error
	switch mode {
	case "echo":
		err = runEcho(ctx, f)
	case "http":
		err = runHTTP(ctx, f)
	case "quic":
		err = runQUIC(ctx, f)
	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q: want quic, echo, or http\n", mode)
		os.Exit(2)
	}

	if err != nil {
		gwlog.NewEntry(gwlog.ErrorLevel, "blitzgw exited with error").ErrorAdd(err).Log()
		os.Exit(1)
	}
}

// buildTLSConfig loads a certificate/key pair into the kept certificates
// package, the single source every TLS-capable mode draws its
// certificates.TLSConfig from. Cipher suite, curve, TLS version,
// client-auth mode, and CA pool selection all flow from lc's optional
// fields straight into the corresponding certificates.TLSConfig setters.
func buildTLSConfig(lc gwconfig.ListenerConfig) (certificates.TLSConfig, error) {
	tc := certificates.New()
	if err := tc.AddCertificatePairFile(lc.KeyFile, lc.CertFile); err != nil {
		return nil, fmt.Errorf("load certificate pair: %w", err)
	}

	if len(lc.CipherSuites) > 0 {
		ciphers := make([]tlscpr.Cipher, 0, len(lc.CipherSuites))
		for _, name := range lc.CipherSuites {
			ciphers = append(ciphers, tlscpr.Parse(name))
		}
		tc.SetCipherList(ciphers)
	}

	if len(lc.Curves) > 0 {
		curves := make([]tlscrv.Curves, 0, len(lc.Curves))
		for _, name := range lc.Curves {
			curves = append(curves, tlscrv.Parse(name))
		}
		tc.SetCurveList(curves)
	}

	if lc.MinVersion != "" {
		tc.SetVersionMin(tlsvrs.Parse(lc.MinVersion))
	}
	if lc.MaxVersion != "" {
		tc.SetVersionMax(tlsvrs.Parse(lc.MaxVersion))
	}

	if lc.ClientAuth != "" {
		tc.SetClientAuth(tlsaut.Parse(lc.ClientAuth))
	}
	if lc.ClientCAFile != "" {
		if err := tc.AddClientCAFile(lc.ClientCAFile); err != nil {
			return nil, fmt.Errorf("load client CA: %w", err)
		}
	}
	if lc.RootCAFile != "" {
		if err := tc.AddRootCAFile(lc.RootCAFile); err != nil {
			return nil, fmt.Errorf("load root CA: %w", err)
		}
	}

	return tc, nil
}

// loadConfig resolves a gwconfig.Config either from a TOML file (origin or
// load-balancer mode, per spec.md §6) or, absent one, from the flags alone
// so `blitzgw http --port 8080` works standalone for a quick smoke test.
func loadConfig(f cliFlags) (*gwconfig.Config, *viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("toml")

	if f.config != "" {
		v.SetConfigFile(f.config)
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("read config %s: %w", f.config, err)
		}
	} else {
		v.Set("listeners", []map[string]interface{}{{
			"name":      "default",
			"addr":      fmt.Sprintf(":%d", f.port),
			"tls":       f.cert != "" && f.key != "",
			"cert_file": f.cert,
			"key_file":  f.key,
		}})

		if f.lb != "" {
			v.Set("mode", "loadbalancer")
			v.Set("backends", parseBackendFlag(f.lb))
		} else {
			v.Set("mode", "origin")
		}
	}

	raw, err := gwconfig.Load(v)
	if err != nil {
		return nil, nil, err
	}
	return raw.(*gwconfig.Config), v, nil
}

// parseBackendFlag turns --lb's "name=host:port[:weight]" entries into the
// map shape gwconfig.Load unmarshals into []BackendConfig.
func parseBackendFlag(spec string) []map[string]interface{} {
	var backends []map[string]interface{}
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		nameAddr := strings.SplitN(entry, "=", 2)
		if len(nameAddr) != 2 {
			continue
		}
		weight := 1
		addr := nameAddr[1]
		if parts := strings.Split(addr, ":"); len(parts) == 3 {
			if w, err := strconv.Atoi(parts[2]); err == nil {
				weight = w
			}
			addr = parts[0] + ":" + parts[1]
		}
		backends = append(backends, map[string]interface{}{
			"name":   nameAddr[0],
			"addr":   addr,
			"weight": weight,
		})
	}
	return backends
}

// buildMetricsAndStatus wires the out-of-core Prometheus exposition and
// health aggregate view onto their own debug listener, per SPEC_FULL.md §4.12.
// gwconfig.Config has no metrics settings: the listener is started on every
// call and listens on the port passed in (serve.go passes the gateway's own
// port plus 1000).
func buildMetricsAndStatus(port int) (metrics.Sink, *status.Aggregator) {
	sink := metrics.NewPromSink()
	agg := status.New()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(sink.Registry(), promhttp.HandlerOpts{}))
	mux.Handle("/healthz", agg)

	go func() {
		addr := fmt.Sprintf(":%d", port)
		gwlog.NewEntry(gwlog.InfoLevel, "serving metrics/health").Field("addr", addr).Log()
		if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
			gwlog.NewEntry(gwlog.ErrorLevel, "metrics listener failed").ErrorAdd(err).Log()
		}
	}()

	return sink, agg
}

func newLimiter(cfg gwconfig.RateLimitConfig) *ratelimit.Limiter {
	return ratelimit.New(cfg.GlobalRPS, cfg.PerIPRPS, cfg.BurstMultiplier, cfg.InactivityWindow, ratelimit.NoKernelOffload())
}

func defaultRouter() *h1engine.Router {
	return h1engine.NewRouter(authn.NoOp())
}

// gwserverHandler adapts an h1engine.Router onto http.Handler for the
// ambient net/http + HTTP/2 listener path (internal/gwserver), used for TLS
// termination and origin-mode serving when the full evloop reactor isn't
// needed for a quick standalone run.
type gwserverHandler struct {
	rt   *h1engine.Router
	sink metrics.Sink
}

func (h gwserverHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	req := &h1engine.Request{
		Method: r.Method,
		Path:   r.URL.Path,
		Proto:  r.Proto,
		Header: map[string][]string{},
	}
	for k, v := range r.Header {
		req.Header[strings.ToLower(k)] = v
	}

	resp := h.rt.Route(req)

	for k, v := range resp.Header {
		w.Header().Set(k, v)
	}
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)

	h.sink.IncRequests("h1", fmt.Sprintf("%d", resp.Status))
	h.sink.ObserveLatency("h1", time.Since(start).Seconds())
}

func newServerPool() *gwserver.Pool {
	return gwserver.New()
}
