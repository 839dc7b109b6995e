package exporter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xtxerr/perfkit/config"
	"github.com/xtxerr/perfkit/internal/cli"
	"github.com/xtxerr/perfkit/internal/counter"
	"github.com/xtxerr/perfkit/internal/errors"
	"github.com/xtxerr/perfkit/internal/logging"
	"github.com/xtxerr/perfkit/internal/validation"
)

// maxOutput bounds the reply body of one /cli request.
const maxOutput = 4 << 20

// Config holds exporter configuration.
type Config struct {
	// Counters is the registry exported on /metrics (required).
	Counters *counter.Registry

	// Commands serves /cli. Nil disables the endpoint.
	Commands *cli.Registry

	// Listen is the address to listen on (e.g., "127.0.0.1:9180").
	Listen string

	// Namespace prefixes metric names.
	Namespace string

	// DrainTimeout bounds graceful shutdown.
	DrainTimeout time.Duration

	// RuntimeMetrics adds Go runtime and process collectors.
	RuntimeMetrics bool
}

// Server serves /metrics and /cli.
type Server struct {
	cfg      Config
	gatherer *prometheus.Registry
	handler  http.Handler
	log      *slog.Logger

	cliRequests *prometheus.CounterVec

	mu    sync.Mutex
	addr  net.Addr
	ready chan struct{}
}

// New creates a server. It panics if cfg.Counters is nil.
func New(cfg Config) *Server {
	if cfg.Counters == nil {
		panic("exporter: nil counter registry")
	}
	if cfg.Listen == "" {
		cfg.Listen = config.DefaultExporterListen
	}
	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultExporterNamespace
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = config.DefaultDrainTimeout
	}

	s := &Server{
		cfg:      cfg,
		gatherer: prometheus.NewRegistry(),
		log:      logging.Component("exporter"),
		ready:    make(chan struct{}),
		cliRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: validation.MetricName(cfg.Namespace, "cli_requests_total"),
				Help: "CLI requests served over HTTP, by reply status.",
			},
			[]string{"status"},
		),
	}

	s.gatherer.MustRegister(NewCollector(cfg.Counters, cfg.Namespace), s.cliRequests)
	if cfg.RuntimeMetrics {
		s.gatherer.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{
		ErrorLog: slog.NewLogLogger(s.log.Handler(), slog.LevelError),
	}))
	if cfg.Commands != nil {
		mux.HandleFunc("/cli", s.serveCLI)
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "ok\n")
	})
	s.handler = mux
	return s
}

// Handler returns the HTTP handler, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Gatherer returns the Prometheus registry behind /metrics.
func (s *Server) Gatherer() prometheus.Gatherer {
	return s.gatherer
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound address, or nil before Ready.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Run listens and serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()
	close(s.ready)

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.log.Info("listening", "address", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.DrainTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// serveCLI runs ?cmd=<command line>. The reply is plain text unless
// ?format=json is given. Commands that are not read-only need a
// same-origin POST, and commands may refuse to run remotely.
func (s *Server) serveCLI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	line := r.FormValue("cmd")
	ctx := cli.WithRemote(logging.ContextWithRemote(r.Context(), r.RemoteAddr))

	var out limitedBuffer
	out.limit = maxOutput
	var err error
	if strings.TrimSpace(line) == "" {
		err = fmt.Errorf("missing cmd parameter: %w", errors.ErrInvalidArgs)
	} else {
		var (
			cmd  cli.Command
			args []string
		)
		cmd, args, err = s.cfg.Commands.Resolve(line)
		if err == nil {
			err = authorize(r, cmd)
		}
		if err == nil {
			err = s.cfg.Commands.Run(ctx, &out, cmd.Name, args)
		}
	}

	reply := cli.NewReply(out.String(), err)
	s.cliRequests.WithLabelValues(reply.Status).Inc()
	logging.WithContext(ctx).Debug("cli request", "cmd", line, "status", reply.Status)

	status := httpStatus(reply.Code)
	if r.FormValue("format") == "json" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(reply)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	io.WriteString(w, reply.String())
}

// authorize lets read-only commands run from GET. Everything else needs a
// POST that a browser did not send on behalf of another site.
func authorize(r *http.Request, cmd cli.Command) error {
	if cmd.ReadOnly {
		return nil
	}
	if r.Method != http.MethodPost {
		return fmt.Errorf("%s changes state and needs POST: %w", cmd.Name, errors.ErrPermissionDenied)
	}
	if crossOrigin(r) {
		return fmt.Errorf("%s: cross-origin request: %w", cmd.Name, errors.ErrPermissionDenied)
	}
	return nil
}

func crossOrigin(r *http.Request) bool {
	switch r.Header.Get("Sec-Fetch-Site") {
	case "", "same-origin", "none":
	default:
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return false
	}
	u, err := url.Parse(origin)
	return err != nil || u.Host != r.Host
}

func httpStatus(code int32) int {
	switch code {
	case errors.CodeOK:
		return http.StatusOK
	case errors.CodeInvalidRequest, errors.CodeInvalidHandle, errors.CodeUnsupported:
		return http.StatusBadRequest
	case errors.CodeNotFound:
		return http.StatusNotFound
	case errors.CodeAlreadyExists:
		return http.StatusConflict
	case errors.CodeResourceExhausted:
		return http.StatusServiceUnavailable
	case errors.CodePermissionDenied:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// limitedBuffer drops writes beyond limit.
type limitedBuffer struct {
	strings.Builder
	limit     int
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.Len(); len(p) > room {
		b.truncated = true
		if room > 0 {
			b.Builder.Write(p[:room])
		}
		return len(p), nil
	}
	return b.Builder.Write(p)
}

func (b *limitedBuffer) String() string {
	if b.truncated {
		return b.Builder.String() + "\n... output truncated\n"
	}
	return b.Builder.String()
}
