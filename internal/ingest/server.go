// Package ingest implements the aggregator's record intake: a mutual-TLS
// HTTPS endpoint that authenticates stations, validates record payloads and
// publishes accepted records onto the inbound channel drained by the
// supervisor. Handlers run in parallel; series mutation stays single-writer
// behind the channel.
package ingest

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"

	"sensornet/internal/model"
)

const (
	// DefaultAddr is the listen address of the ingest endpoint.
	DefaultAddr = ":64918"

	// DefaultTimeout bounds each request's socket operations.
	DefaultTimeout = 60 * time.Second
)

// Envelope is one accepted record with its routing key.
type Envelope struct {
	Group  string
	Name   string
	Record model.Record
}

// Config configures the ingest server.
type Config struct {
	Addr string

	// CertFile/KeyFile are the server pair. ClientCAFile is the CA bundle
	// client certificates must chain to; when set, connections without a
	// valid client certificate are refused during the handshake.
	CertFile     string
	KeyFile      string
	ClientCAFile string

	// TokenFile holds the legacy static tokens, one per line. TOTPSecret
	// enables the RFC 6238 variant instead; either one makes the "_token"
	// payload field mandatory.
	TokenFile  string
	TOTPSecret string

	// Validate rejects records for unknown series before dispatch.
	Validate func(group, name string) error

	InboxSize int
}

// Server terminates TLS and feeds the inbound channel.
type Server struct {
	cfg    Config
	srv    *http.Server
	inbox  chan Envelope
	tokens map[string]bool

	// Metrics hooks (optional, set before Start)
	OnAccepted func()
	OnRejected func()
}

// New creates a server. Token and certificate material is loaded once at
// startup.
func New(cfg Config) (*Server, error) {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 1024
	}
	s := &Server{
		cfg:   cfg,
		inbox: make(chan Envelope, cfg.InboxSize),
	}
	if cfg.TokenFile != "" {
		data, err := os.ReadFile(cfg.TokenFile)
		if err != nil {
			return nil, fmt.Errorf("ingest: read token file: %w", err)
		}
		s.tokens = make(map[string]bool)
		for _, line := range strings.Split(string(data), "\n") {
			if t := strings.TrimSpace(line); t != "" {
				s.tokens[t] = true
			}
		}
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handlePost)
	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  DefaultTimeout,
		WriteTimeout: DefaultTimeout,
	}
	return s, nil
}

// Handler exposes the request handler for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Inbox is the channel of accepted records, drained by the supervisor.
func (s *Server) Inbox() <-chan Envelope { return s.inbox }

// Start begins serving in a background goroutine. TLS is mandatory outside
// tests: the server presents CertFile and, when ClientCAFile is set,
// requires client certificates chained to the bundle.
func (s *Server) Start() error {
	if s.cfg.CertFile == "" {
		return errors.New("ingest: server certificate required")
	}
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if s.cfg.ClientCAFile != "" {
		pem, err := os.ReadFile(s.cfg.ClientCAFile)
		if err != nil {
			return fmt.Errorf("ingest: read client CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return fmt.Errorf("ingest: no certificate in %s", s.cfg.ClientCAFile)
		}
		tlsCfg.ClientCAs = pool
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	s.srv.TLSConfig = tlsCfg

	go func() {
		err := s.srv.ListenAndServeTLS(s.cfg.CertFile, s.cfg.KeyFile)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[ingest] server error: %v", err)
		}
	}()
	log.Printf("[ingest] listening on %s", s.cfg.Addr)
	return nil
}

// Shutdown stops accepting connections and waits for in-flight handlers.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Printf("[ingest] shutdown")
	return s.srv.Shutdown(ctx)
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.reject(w, http.StatusBadRequest, "bad method")
		return
	}
	if ct := r.Header.Get("Content-Type"); ct != "application/json" {
		s.reject(w, http.StatusBadRequest, "bad content type")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		s.reject(w, http.StatusBadRequest, "bad body")
		return
	}
	var p model.Payload
	if err := json.Unmarshal(body, &p); err != nil {
		log.Printf("[ingest] bad payload from %s: %v", r.RemoteAddr, err)
		s.reject(w, http.StatusBadRequest, "bad json")
		return
	}
	if s.tokens != nil || s.cfg.TOTPSecret != "" {
		if p.Token == "" {
			s.reject(w, http.StatusUnauthorized, "missing api token")
			return
		}
		if !s.tokenValid(p.Token) {
			log.Printf("[ingest] invalid token from %s", r.RemoteAddr)
			s.reject(w, http.StatusUnauthorized, "invalid api token")
			return
		}
	}
	if s.cfg.Validate != nil {
		if err := s.cfg.Validate(p.Group, p.Name); err != nil {
			log.Printf("[ingest] dispatch refused for %s/%s: %v", p.Group, p.Name, err)
			s.reject(w, http.StatusBadRequest, "bad parameters")
			return
		}
	}
	// The token is stripped here; series code never sees it.
	s.inbox <- Envelope{Group: p.Group, Name: p.Name, Record: p.Record()}
	if s.OnAccepted != nil {
		s.OnAccepted()
	}
	w.WriteHeader(http.StatusCreated)
	io.WriteString(w, "value received")
}

func (s *Server) tokenValid(token string) bool {
	if s.tokens != nil && s.tokens[token] {
		return true
	}
	if s.cfg.TOTPSecret != "" && totp.Validate(token, s.cfg.TOTPSecret) {
		return true
	}
	return false
}

func (s *Server) reject(w http.ResponseWriter, status int, reason string) {
	if s.OnRejected != nil {
		s.OnRejected()
	}
	http.Error(w, reason, status)
}
