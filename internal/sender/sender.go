// Package sender implements the station-side buffered telemetry transport:
// a durable FIFO outbox on disk and a single flusher goroutine that drains
// it over mutual TLS to the aggregator. Every reading handed to Send is
// delivered at least once, across process restarts.
package sender

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"sensornet/internal/model"
)

const (
	// DefaultInterval is the pause before each drain attempt. It doubles as
	// the coarse rate limit that batches transient bursts; there is no
	// exponential backoff.
	DefaultInterval = 10 * time.Second

	// DefaultTimeout bounds every socket operation of a drain.
	DefaultTimeout = 60 * time.Second
)

// Config configures a Sender.
type Config struct {
	// URL of the aggregator ingest endpoint, e.g. "https://host:64918/".
	URL string

	// ServerCert pins the aggregator certificate (PEM file). ClientCert and
	// ClientKey are the station's mutual-TLS pair. Leave all three empty to
	// use the default transport (tests).
	ServerCert string
	ClientCert string
	ClientKey  string

	// Token is attached as the legacy "_token" field when non-empty.
	Token string

	// BufferPath is the outbox file, default "buffer".
	BufferPath string

	Interval time.Duration
	Timeout  time.Duration

	// RetryRejected keeps entries the server rejects with a non-201 status
	// instead of consuming them. The default consumes and logs the drop to
	// avoid poison-message livelock.
	RetryRejected bool
}

// Sender is the durable buffered transport. Shared state between Send (the
// sampling goroutine) and the flusher is guarded by one mutex plus a
// condition variable signalling "outbox non-empty".
type Sender struct {
	cfg    Config
	client *http.Client

	mu       sync.Mutex
	cond     *sync.Cond
	outbox   []model.Payload
	shutdown bool

	done chan struct{}

	// Metrics hooks (optional, set before Start)
	OnSent     func(count int)
	OnPostpone func()
	OnDropped  func()
	OnQueued   func(depth int)
}

// New creates a sender. The TLS client verifies the server against the
// pinned certificate and presents the station certificate.
func New(cfg Config) (*Sender, error) {
	if cfg.URL == "" {
		return nil, errors.New("sender: url required")
	}
	if cfg.BufferPath == "" {
		cfg.BufferPath = "buffer"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	client := &http.Client{Timeout: cfg.Timeout}
	if cfg.ServerCert != "" {
		pem, err := os.ReadFile(cfg.ServerCert)
		if err != nil {
			return nil, fmt.Errorf("sender: read server cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("sender: no certificate in %s", cfg.ServerCert)
		}
		pair, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("sender: load client pair: %w", err)
		}
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{
				RootCAs:      pool,
				Certificates: []tls.Certificate{pair},
				MinVersion:   tls.VersionTLS12,
			},
		}
	}

	s := &Sender{
		cfg:    cfg,
		client: client,
		done:   make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	return s, nil
}

// Start loads the persisted outbox and launches the flusher goroutine.
func (s *Sender) Start() error {
	outbox, err := loadOutbox(s.cfg.BufferPath)
	if err != nil {
		return fmt.Errorf("sender: load outbox: %w", err)
	}
	s.mu.Lock()
	s.outbox = outbox
	s.mu.Unlock()
	if len(outbox) > 0 {
		log.Printf("[sender] resuming with %d buffered entries", len(outbox))
	}
	go s.flusher()
	return nil
}

// Stop requests shutdown, waits for the flusher's final drain attempt and
// persists whatever is left.
func (s *Sender) Stop() {
	log.Printf("[sender] wait for empty buffer")
	s.mu.Lock()
	s.shutdown = true
	s.cond.Broadcast()
	s.mu.Unlock()
	<-s.done

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := persistOutbox(s.cfg.BufferPath, s.outbox); err != nil {
		log.Printf("[sender] persist on stop: %v", err)
	}
}

// Send queues one reading. Non-blocking apart from the outbox mutex; it
// never fails unless the process dies before the next persist.
func (s *Sender) Send(p model.Payload) {
	s.mu.Lock()
	s.outbox = append(s.outbox, p)
	depth := len(s.outbox)
	s.cond.Signal()
	s.mu.Unlock()
	if s.OnQueued != nil {
		s.OnQueued(depth)
	}
}

// Pending returns the outbox depth.
func (s *Sender) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outbox)
}

// flusher waits for a non-empty outbox, rate-limits with the fixed
// interval, then drains and persists under the mutex. A transport failure
// postpones the remainder until the next round.
func (s *Sender) flusher() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.outbox) == 0 && !s.shutdown {
			s.cond.Wait()
		}
		if s.shutdown && len(s.outbox) == 0 {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		time.Sleep(s.cfg.Interval)

		s.mu.Lock()
		s.drainLocked()
		if err := persistOutbox(s.cfg.BufferPath, s.outbox); err != nil {
			log.Printf("[sender] persist: %v", err)
		}
		stop := s.shutdown
		s.mu.Unlock()

		if stop {
			// Final drain has been attempted; leftovers are persisted by Stop.
			return
		}
	}
}

// drainLocked posts queued entries in FIFO order. Entries the server
// rejects with a non-201 status are consumed (unless RetryRejected) so a
// poison message cannot stall the queue; transport-level errors abort the
// drain at the current position.
func (s *Sender) drainLocked() {
	start := time.Now()
	count := 0
	dropped := 0
	for _, item := range s.outbox {
		status, err := s.post(item)
		if err != nil {
			log.Printf("[sender] postpone send: %v", err)
			if s.OnPostpone != nil {
				s.OnPostpone()
			}
			break
		}
		if status != http.StatusCreated {
			if s.cfg.RetryRejected {
				log.Printf("[sender] server rejected %s/%s with %d, keeping entry",
					item.Group, item.Name, status)
				break
			}
			log.Printf("[sender] unable to send %s/%s: status %d",
				item.Group, item.Name, status)
			dropped++
			if s.OnDropped != nil {
				s.OnDropped()
			}
		}
		count++
	}
	s.outbox = s.outbox[count:]
	if count > 0 {
		log.Printf("[sender] sent %d entries (%d rejected) in %.1fs",
			count-dropped, dropped, time.Since(start).Seconds())
		if s.OnSent != nil {
			s.OnSent(count - dropped)
		}
	}
}

// post sends one entry. The returned error is transport-level only; HTTP
// status codes are the caller's business.
func (s *Sender) post(p model.Payload) (int, error) {
	if s.cfg.Token != "" {
		p.Token = s.cfg.Token
	}
	body, err := p.MarshalJSON()
	if err != nil {
		return 0, fmt.Errorf("marshal: %w", err)
	}
	req, err := http.NewRequest(http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/plain")
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}
