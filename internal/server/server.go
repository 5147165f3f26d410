package server

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/fetchd/fetchd/internal/credentials"
	"github.com/fetchd/fetchd/internal/download"
	"github.com/fetchd/fetchd/internal/observability"
	"github.com/fetchd/fetchd/internal/protocol/frame"
	"github.com/fetchd/fetchd/internal/protocol/session"
)

// Config is the immutable startup configuration of the download service.
type Config struct {
	ListenAddr string
	NodeID     string
	// Tool is the external downloader binary, resolved on PATH.
	Tool string
	// MaxConcurrentCalls bounds simultaneous calls per connection.
	MaxConcurrentCalls int
	// AdmissionPerSecond rate-limits call starts; 0 disables the limiter.
	AdmissionPerSecond float64
	AdminListenAddr    string
	CORSOrigins        []string
	Session            session.Config
}

// DefaultConfig returns the shipped service defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:         ":8082",
		NodeID:             "fetchd.local",
		Tool:               "yt-dlp",
		MaxConcurrentCalls: 1000,
		AdmissionPerSecond: 0,
		AdminListenAddr:    "",
		Session:            session.DefaultConfig(),
	}
}

// Service accepts mutually-authenticated connections and runs the
// synthesize→execute→verify pipeline for each call.
type Service struct {
	cfg     Config
	log     zerolog.Logger
	exec    *download.Executor
	limiter *rate.Limiter
	// slots caps in-flight calls across all connections.
	slots chan struct{}

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}

	clientCount atomic.Int64
	ready       atomic.Bool
	started     time.Time
}

// NewService builds a service from cfg; zero-valued knobs fall back to
// defaults.
func NewService(cfg Config, logger zerolog.Logger) *Service {
	def := DefaultConfig()
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = def.ListenAddr
	}
	if strings.TrimSpace(cfg.NodeID) == "" {
		cfg.NodeID = def.NodeID
	}
	if strings.TrimSpace(cfg.Tool) == "" {
		cfg.Tool = def.Tool
	}
	if cfg.MaxConcurrentCalls <= 0 {
		cfg.MaxConcurrentCalls = def.MaxConcurrentCalls
	}
	cfg.Session = cfg.Session.WithDefaults()

	svc := &Service{
		cfg:     cfg,
		log:     logger.With().Str("node", cfg.NodeID).Logger(),
		exec:    download.NewExecutor(cfg.Tool, logger),
		slots:   make(chan struct{}, cfg.MaxConcurrentCalls),
		conns:   make(map[net.Conn]struct{}),
		started: time.Now(),
	}
	if cfg.AdmissionPerSecond > 0 {
		svc.limiter = rate.NewLimiter(rate.Limit(cfg.AdmissionPerSecond), int(cfg.AdmissionPerSecond)+1)
	}
	return svc
}

// Run blocks serving until SIGINT/SIGTERM. When TLS is enabled with no
// credential files configured, the packaged material is materialized for
// the process lifetime and removed on every exit path.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if s.cfg.Session.TLS.Enabled && strings.TrimSpace(s.cfg.Session.TLS.CertFile) == "" {
		paths, cleanup, err := credentials.MaterializeServer()
		if err != nil {
			return err
		}
		defer cleanup()
		s.cfg.Session.TLS.CertFile = paths.CertFile
		s.cfg.Session.TLS.KeyFile = paths.KeyFile
		if strings.TrimSpace(s.cfg.Session.TLS.CAFile) == "" {
			s.cfg.Session.TLS.CAFile = paths.CAFile
		}
		s.log.Info().Msg("packaged credentials materialized")
	}

	if err := s.cfg.Session.ValidateServerTransport(); err != nil {
		return err
	}

	ln, err := s.Listen()
	if err != nil {
		return err
	}
	s.log.Info().Str("addr", ln.Addr().String()).Str("tool", s.cfg.Tool).Msg("listening")

	adminErr := make(chan error, 1)
	if addr := strings.TrimSpace(s.cfg.AdminListenAddr); addr != "" {
		go func() {
			adminErr <- s.serveAdmin(ctx, addr)
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.Serve(ctx, ln)
	}()

	select {
	case err := <-serveErr:
		return err
	case err := <-adminErr:
		if err != nil {
			return err
		}
		return <-serveErr
	}
}

// Listen opens the TCP or TLS listener per transport policy. Malformed
// credential material fails here, before any RPC traffic is accepted.
func (s *Service) Listen() (net.Listener, error) {
	if err := s.cfg.Session.ValidateServerTransport(); err != nil {
		return nil, err
	}
	if !s.cfg.Session.TLS.Enabled {
		return net.Listen("tcp", s.cfg.ListenAddr)
	}
	tlsCfg, err := s.serverTLSConfig()
	if err != nil {
		return nil, err
	}
	return tls.Listen("tcp", s.cfg.ListenAddr, tlsCfg)
}

// Serve runs the accept loop on an existing listener until ctx ends.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	s.ready.Store(true)
	defer s.ready.Store(false)
	go func() {
		<-ctx.Done()
		s.closeAllConns()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.trackConn(conn)
		go s.handleConn(ctx, conn)
	}
}

// Ready reports whether the accept loop is live.
func (s *Service) Ready() bool { return s.ready.Load() }

// handleConn reads request frames and answers each on its own worker so
// one long download never blocks unrelated calls on the same connection.
func (s *Service) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	defer s.untrackConn(conn)
	remote := conn.RemoteAddr().String()
	active := s.clientCount.Add(1)
	s.log.Info().Str("remote", remote).Int64("active_clients", active).Msg("client connected")
	defer func() {
		remaining := s.clientCount.Add(-1)
		s.log.Info().Str("remote", remote).Int64("active_clients", remaining).Msg("client disconnected")
	}()

	if err := s.completeHandshake(conn); err != nil {
		s.log.Warn().Str("remote", remote).Err(err).Msg("transport handshake failed")
		return
	}

	var writeMu sync.Mutex
	var wg sync.WaitGroup
	defer wg.Wait()
	reader := bufio.NewReader(conn)

	for {
		fr, err := session.ReadFrame(reader, frame.DefaultLimits())
		if err != nil {
			if !errors.Is(err, frame.ErrShortHeader) {
				s.log.Warn().Str("remote", remote).Err(err).Msg("read frame failed")
			}
			return
		}

		select {
		case s.slots <- struct{}{}:
		case <-ctx.Done():
			return
		}

		wg.Add(1)
		go func(fr frame.Frame) {
			defer wg.Done()
			defer func() { <-s.slots }()
			payload := s.handleFrame(ctx, fr)
			if payload == nil {
				return
			}
			writeMu.Lock()
			defer writeMu.Unlock()
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.Session.WriteTimeout))
			if _, err := conn.Write(payload); err != nil {
				s.log.Warn().Str("remote", remote).Err(err).Msg("write response failed")
			}
		}(fr)
	}
}

// completeHandshake forces the TLS handshake up front so trust-chain
// failures surface before any frame is parsed.
func (s *Service) completeHandshake(conn net.Conn) error {
	if !s.cfg.Session.TLS.Enabled {
		return nil
	}
	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		return fmt.Errorf("server: expected tls connection")
	}
	_ = tlsConn.SetDeadline(time.Now().Add(s.cfg.Session.HandshakeTimeout))
	if err := tlsConn.Handshake(); err != nil {
		return err
	}
	if s.cfg.Session.TLS.Mutual {
		state := tlsConn.ConnectionState()
		if len(state.PeerCertificates) == 0 {
			return session.ErrMTLSRequired
		}
		peer := strings.TrimSpace(state.PeerCertificates[0].Subject.CommonName)
		s.log.Debug().Str("peer", peer).Msg("client authenticated")
	}
	return tlsConn.SetDeadline(time.Time{})
}

// serverTLSConfig builds listener credentials; mutual auth wires the
// client CA pool and demands verified client certificates.
func (s *Service) serverTLSConfig() (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(s.cfg.Session.TLS.CertFile, s.cfg.Session.TLS.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("server: load key pair: %w", err)
	}
	cfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.NoClientCert,
	}
	if s.cfg.Session.TLS.Mutual {
		caPEM, err := os.ReadFile(s.cfg.Session.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("server: read client ca bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("server: parse client ca bundle: %s", s.cfg.Session.TLS.CAFile)
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg, nil
}

func (s *Service) serveAdmin(ctx context.Context, addr string) error {
	router := observability.AdminRouter(s.cfg.NodeID, s.started, s.Ready, s.cfg.CORSOrigins)
	srv := &http.Server{Addr: addr, Handler: router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.log.Info().Str("addr", addr).Msg("admin endpoint listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Service) trackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Service) untrackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	delete(s.conns, conn)
}

func (s *Service) closeAllConns() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
		delete(s.conns, conn)
	}
}
