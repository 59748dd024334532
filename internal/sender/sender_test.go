package sender

import (
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"sensornet/internal/model"
)

func payload(name string, ts int64, v float64) model.Payload {
	return model.Payload{Group: "g", Name: name, Timestamp: ts, Value: model.Number(v)}
}

// collectServer records received payloads and answers with the given status.
type collectServer struct {
	mu       sync.Mutex
	received []model.Payload
	status   int
}

func (c *collectServer) handler(w http.ResponseWriter, r *http.Request) {
	var p model.Payload
	if err := p.UnmarshalJSON(readBody(r)); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	c.mu.Lock()
	c.received = append(c.received, p)
	status := c.status
	c.mu.Unlock()
	w.WriteHeader(status)
}

func readBody(r *http.Request) []byte {
	buf, _ := io.ReadAll(r.Body)
	return buf
}

func (c *collectServer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.received)
}

func newTestSender(t *testing.T, url string, retryRejected bool) *Sender {
	t.Helper()
	s, err := New(Config{
		URL:           url,
		BufferPath:    filepath.Join(t.TempDir(), "buffer"),
		Interval:      10 * time.Millisecond,
		Timeout:       time.Second,
		RetryRejected: retryRejected,
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSender_DeliversFIFO(t *testing.T) {
	srv := &collectServer{status: http.StatusCreated}
	ts := httptest.NewServer(http.HandlerFunc(srv.handler))
	defer ts.Close()

	s := newTestSender(t, ts.URL, false)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	s.Send(payload("A", 1000, 21.0))
	s.Send(payload("A", 1010, 21.5))
	s.Send(payload("B", 1000, 1.0))

	waitFor(t, "delivery", func() bool { return srv.count() == 3 })
	s.Stop()

	if srv.received[0].Timestamp != 1000 || srv.received[0].Name != "A" ||
		srv.received[1].Timestamp != 1010 || srv.received[2].Name != "B" {
		t.Errorf("order violated: %+v", srv.received)
	}
	if s.Pending() != 0 {
		t.Errorf("outbox not drained: %d", s.Pending())
	}
}

func TestSender_PostponesOnTransportFailure(t *testing.T) {
	srv := &collectServer{status: http.StatusCreated}
	ts := httptest.NewServer(http.HandlerFunc(srv.handler))
	url := ts.URL
	ts.Close() // server unreachable

	s := newTestSender(t, url, false)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	postponed := make(chan struct{}, 16)
	s.OnPostpone = func() {
		select {
		case postponed <- struct{}{}:
		default:
		}
	}
	s.Send(payload("A", 1000, 21.0))

	<-postponed
	if s.Pending() != 1 {
		t.Fatalf("entry must remain queued, pending=%d", s.Pending())
	}
	s.Stop()

	// Entry survives the shutdown persist with identical content.
	restarted := newTestSender(t, url, false)
	outbox, err := loadOutbox(s.cfg.BufferPath)
	if err != nil {
		t.Fatal(err)
	}
	_ = restarted
	if len(outbox) != 1 || outbox[0] != payload("A", 1000, 21.0) {
		t.Fatalf("persisted outbox: %+v", outbox)
	}
}

func TestSender_RejectedEntryConsumed(t *testing.T) {
	srv := &collectServer{status: http.StatusBadRequest}
	ts := httptest.NewServer(http.HandlerFunc(srv.handler))
	defer ts.Close()

	s := newTestSender(t, ts.URL, false)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	dropped := make(chan struct{}, 1)
	s.OnDropped = func() {
		select {
		case dropped <- struct{}{}:
		default:
		}
	}
	s.Send(payload("A", 1000, 21.0))

	<-dropped
	waitFor(t, "drain", func() bool { return s.Pending() == 0 })
	s.Stop()
}

func TestSender_RetryRejectedKeepsEntry(t *testing.T) {
	srv := &collectServer{status: http.StatusBadRequest}
	ts := httptest.NewServer(http.HandlerFunc(srv.handler))
	defer ts.Close()

	s := newTestSender(t, ts.URL, true)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	s.Send(payload("A", 1000, 21.0))

	waitFor(t, "attempt", func() bool { return srv.count() >= 1 })
	if s.Pending() != 1 {
		t.Errorf("rejected entry must stay queued with RetryRejected, pending=%d", s.Pending())
	}
	s.Stop()
}

func TestOutbox_RestartRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buffer")
	want := []model.Payload{
		payload("A", 1000, 21.0),
		payload("B", 1001, 1.5),
		{Group: "g", Name: "S", Timestamp: 1002, Value: model.Bool(true)},
	}
	if err := persistOutbox(path, want); err != nil {
		t.Fatal(err)
	}
	got, err := loadOutbox(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d entries, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestOutbox_MissingFileIsEmpty(t *testing.T) {
	got, err := loadOutbox(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty outbox, got %v", got)
	}
}

func TestSender_ResumesPersistedOutboxOnStart(t *testing.T) {
	srv := &collectServer{status: http.StatusCreated}
	ts := httptest.NewServer(http.HandlerFunc(srv.handler))
	defer ts.Close()

	path := filepath.Join(t.TempDir(), "buffer")
	if err := persistOutbox(path, []model.Payload{payload("A", 1000, 21.0)}); err != nil {
		t.Fatal(err)
	}

	s, err := New(Config{URL: ts.URL, BufferPath: path,
		Interval: 10 * time.Millisecond, Timeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	// A persisted entry must be delivered without a new Send.
	s.Send(payload("A", 1010, 22.0))
	waitFor(t, "delivery of persisted entry", func() bool { return srv.count() == 2 })
	s.Stop()

	if srv.received[0].Timestamp != 1000 {
		t.Errorf("persisted entry must go first: %+v", srv.received)
	}
}
