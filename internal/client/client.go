// Package client dials a fetchd node and issues download calls over the
// framed transport. One client owns one connection; calls are serialized
// on it.
package client

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"math/rand"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fetchd/fetchd/internal/credentials"
	"github.com/fetchd/fetchd/internal/protocol/frame"
	"github.com/fetchd/fetchd/internal/protocol/schema"
	"github.com/fetchd/fetchd/internal/protocol/session"
)

// DefaultDialAttempts bounds the connect retry loop.
const DefaultDialAttempts = 5

// Config carries everything needed to reach a node.
type Config struct {
	Addr string
	// DialAttempts caps connect retries; 0 means DefaultDialAttempts.
	DialAttempts int
	Session      session.Config
}

// Client is a connected download client.
type Client struct {
	cfg    Config
	log    zerolog.Logger
	conn   net.Conn
	reader *bufio.Reader

	mu      sync.Mutex
	nextID  uint64
	cleanup func()
}

// Dial validates transport policy, connects with exponential backoff and
// completes the TLS handshake. When TLS is on with no CA bundle
// configured, the packaged credential material is materialized and
// removed again on Close.
func Dial(ctx context.Context, cfg Config, logger zerolog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, fmt.Errorf("client: address required")
	}
	if cfg.DialAttempts <= 0 {
		cfg.DialAttempts = DefaultDialAttempts
	}
	cfg.Session = cfg.Session.WithDefaults()

	var cleanup func()
	if cfg.Session.TLS.Enabled && strings.TrimSpace(cfg.Session.TLS.CAFile) == "" && !cfg.Session.TLS.InsecureSkipVerify {
		paths, done, err := credentials.MaterializeClient()
		if err != nil {
			return nil, err
		}
		cleanup = done
		cfg.Session.TLS.CAFile = paths.CAFile
		if cfg.Session.TLS.Mutual && strings.TrimSpace(cfg.Session.TLS.CertFile) == "" {
			cfg.Session.TLS.CertFile = paths.CertFile
			cfg.Session.TLS.KeyFile = paths.KeyFile
		}
	}

	if err := cfg.Session.ValidateClientTransport(); err != nil {
		if cleanup != nil {
			cleanup()
		}
		return nil, err
	}

	conn, err := dialWithBackoff(ctx, cfg, logger)
	if err != nil {
		if cleanup != nil {
			cleanup()
		}
		return nil, err
	}

	return &Client{
		cfg:     cfg,
		log:     logger.With().Str("addr", cfg.Addr).Logger(),
		conn:    conn,
		reader:  bufio.NewReader(conn),
		cleanup: cleanup,
	}, nil
}

// Close tears the connection down and removes any materialized
// credential files.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cleanup != nil {
		defer c.cleanup()
		c.cleanup = nil
	}
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Execute sends one download request and blocks for its response. A
// missing RequestID is filled with a fresh UUID, and a missing TimeoutMS
// is derived from the ctx deadline so the node terminates the tool when
// the caller gives up instead of letting it run on.
func (c *Client) Execute(ctx context.Context, req session.DownloadRequest) (session.DownloadResponse, error) {
	if strings.TrimSpace(req.RequestID) == "" {
		req.RequestID = uuid.NewString()
	}
	if req.TimeoutMS == 0 {
		if d, ok := ctx.Deadline(); ok {
			if remaining := time.Until(d); remaining > 0 {
				req.TimeoutMS = uint64(remaining.Milliseconds())
				if req.TimeoutMS == 0 {
					req.TimeoutMS = 1
				}
			}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return session.DownloadResponse{}, fmt.Errorf("client: connection closed")
	}

	c.nextID++
	messageID := c.nextID
	payload, err := session.EncodeRequestFrame(messageID, req)
	if err != nil {
		return session.DownloadResponse{}, err
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.Session.WriteTimeout))
	if _, err := c.conn.Write(payload); err != nil {
		return session.DownloadResponse{}, fmt.Errorf("client: write request: %w", err)
	}

	deadline := time.Now().Add(c.cfg.Session.RequestTimeout + c.cfg.Session.ReadTimeout)
	if d, ok := ctx.Deadline(); ok {
		// The node answers with the timeout status at the caller
		// deadline; leave transport slack for that reply to arrive.
		deadline = d.Add(c.cfg.Session.ReadTimeout)
	}
	_ = c.conn.SetReadDeadline(deadline)

	for {
		fr, err := session.ReadFrame(c.reader, frame.DefaultLimits())
		if err != nil {
			return session.DownloadResponse{}, fmt.Errorf("client: read response: %w", err)
		}
		if fr.Header.MessageID != messageID {
			c.log.Warn().Uint64("message_id", fr.Header.MessageID).Msg("discarding unmatched response")
			continue
		}
		if fr.Header.MessageType == schema.MsgError {
			status, message, err := session.DecodeErrorFrame(fr)
			if err != nil {
				return session.DownloadResponse{}, err
			}
			return session.DownloadResponse{}, fmt.Errorf("client: node rejected request: status=%d: %s", status, message)
		}
		resp, err := session.DecodeResponseFrame(fr)
		if err != nil {
			return session.DownloadResponse{}, err
		}
		return resp, nil
	}
}

func dialWithBackoff(ctx context.Context, cfg Config, logger zerolog.Logger) (net.Conn, error) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var lastErr error
	for attempt := 1; attempt <= cfg.DialAttempts; attempt++ {
		conn, err := dialOnce(ctx, cfg)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if attempt == cfg.DialAttempts {
			break
		}
		delay := session.NextBackoffDelay(cfg.Session.Backoff, attempt, rng)
		logger.Warn().Str("addr", cfg.Addr).Int("attempt", attempt).
			Dur("retry_in", delay).Err(err).Msg("connect failed")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("client: connect %s: %w", cfg.Addr, lastErr)
}

func dialOnce(ctx context.Context, cfg Config) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: cfg.Session.ConnectTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", cfg.Addr)
	if err != nil {
		return nil, err
	}
	if !cfg.Session.TLS.Enabled {
		return raw, nil
	}

	tlsCfg, err := clientTLSConfig(cfg)
	if err != nil {
		raw.Close()
		return nil, err
	}
	conn := tls.Client(raw, tlsCfg)
	hsCtx, cancel := context.WithTimeout(ctx, cfg.Session.HandshakeTimeout)
	defer cancel()
	if err := conn.HandshakeContext(hsCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("client: tls handshake: %w", err)
	}
	return conn, nil
}

func clientTLSConfig(cfg Config) (*tls.Config, error) {
	tlsCfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.Session.TLS.InsecureSkipVerify,
	}

	serverName := strings.TrimSpace(cfg.Session.TLS.ServerName)
	if serverName == "" {
		host, _, err := net.SplitHostPort(cfg.Addr)
		if err != nil {
			host = cfg.Addr
		}
		serverName = host
	}
	tlsCfg.ServerName = serverName

	if caFile := strings.TrimSpace(cfg.Session.TLS.CAFile); caFile != "" {
		caPEM, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("client: read ca bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("client: parse ca bundle: %s", caFile)
		}
		tlsCfg.RootCAs = pool
	}

	if cfg.Session.TLS.Mutual {
		cert, err := tls.LoadX509KeyPair(cfg.Session.TLS.CertFile, cfg.Session.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("client: load key pair: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}
