package ingest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"

	"sensornet/internal/model"
)

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	s, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func post(h http.Handler, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestServer_AcceptsValidRecord(t *testing.T) {
	s := newTestServer(t, Config{})
	body := `{"group":"heating","name":"boiler","timestamp":1000,"value":21.5}`
	w := post(s.Handler(), "application/json", body)

	if w.Code != http.StatusCreated {
		t.Fatalf("status %d, body %q", w.Code, w.Body.String())
	}
	select {
	case e := <-s.Inbox():
		if e.Group != "heating" || e.Name != "boiler" {
			t.Errorf("routing: %+v", e)
		}
		if e.Record.Timestamp.Unix() != 1000 || e.Record.Value != model.Number(21.5) {
			t.Errorf("record: %+v", e.Record)
		}
	default:
		t.Fatal("nothing dispatched")
	}
}

func TestServer_AcceptsSwitchValue(t *testing.T) {
	s := newTestServer(t, Config{})
	w := post(s.Handler(), "application/json",
		`{"group":"heating","name":"burner","timestamp":1000,"value":true}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status %d", w.Code)
	}
	e := <-s.Inbox()
	if e.Record.Value != model.Bool(true) {
		t.Errorf("value: %+v", e.Record.Value)
	}
}

func TestServer_RejectsBadContentType(t *testing.T) {
	s := newTestServer(t, Config{})
	w := post(s.Handler(), "text/plain",
		`{"group":"g","name":"n","timestamp":1000,"value":1}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", w.Code)
	}
}

func TestServer_RejectsMalformedPayloads(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"garbage", "not json"},
		{"missing timestamp", `{"group":"g","name":"n","value":1}`},
		{"missing name", `{"group":"g","timestamp":1000,"value":1}`},
		{"string value", `{"group":"g","name":"n","timestamp":1000,"value":"hot"}`},
		{"null value", `{"group":"g","name":"n","timestamp":1000,"value":null}`},
	}
	s := newTestServer(t, Config{})
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := post(s.Handler(), "application/json", tc.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status %d, want 400", w.Code)
			}
		})
	}
	select {
	case e := <-s.Inbox():
		t.Errorf("rejected payload dispatched: %+v", e)
	default:
	}
}

func TestServer_StaticTokens(t *testing.T) {
	dir := t.TempDir()
	tokenFile := filepath.Join(dir, "tokens")
	if err := os.WriteFile(tokenFile, []byte("secret-a\nsecret-b\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	s := newTestServer(t, Config{TokenFile: tokenFile})

	record := func(token string) string {
		return fmt.Sprintf(
			`{"group":"g","name":"n","timestamp":1000,"value":1,"_token":%q}`, token)
	}
	if w := post(s.Handler(), "application/json", record("secret-b")); w.Code != http.StatusCreated {
		t.Errorf("valid token: status %d", w.Code)
	}
	if w := post(s.Handler(), "application/json", record("wrong")); w.Code != http.StatusUnauthorized {
		t.Errorf("invalid token: status %d", w.Code)
	}
	w := post(s.Handler(), "application/json",
		`{"group":"g","name":"n","timestamp":1001,"value":1}`)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("missing token: status %d", w.Code)
	}
}

func TestServer_TOTPToken(t *testing.T) {
	const secret = "JBSWY3DPEHPK3PXP"
	s := newTestServer(t, Config{TOTPSecret: secret})

	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	body := fmt.Sprintf(
		`{"group":"g","name":"n","timestamp":1000,"value":1,"_token":%q}`, code)
	if w := post(s.Handler(), "application/json", body); w.Code != http.StatusCreated {
		t.Errorf("valid code: status %d", w.Code)
	}
	stale := fmt.Sprintf(
		`{"group":"g","name":"n","timestamp":1001,"value":1,"_token":%q}`, "000000")
	if w := post(s.Handler(), "application/json", stale); w.Code != http.StatusUnauthorized {
		t.Errorf("bad code: status %d", w.Code)
	}
}

func TestServer_ValidateHookRefusesUnknownSeries(t *testing.T) {
	s := newTestServer(t, Config{
		Validate: func(group, name string) error {
			if group != "heating" {
				return fmt.Errorf("unknown group %q", group)
			}
			return nil
		},
	})
	w := post(s.Handler(), "application/json",
		`{"group":"garden","name":"n","timestamp":1000,"value":1}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status %d, want 400", w.Code)
	}
	w = post(s.Handler(), "application/json",
		`{"group":"heating","name":"n","timestamp":1000,"value":1}`)
	if w.Code != http.StatusCreated {
		t.Errorf("status %d, want 201", w.Code)
	}
}

func TestServer_RejectionHookCounts(t *testing.T) {
	s := newTestServer(t, Config{})
	rejected := 0
	s.OnRejected = func() { rejected++ }
	post(s.Handler(), "application/json", "not json")
	post(s.Handler(), "text/plain", "x")
	if rejected != 2 {
		t.Errorf("rejected hook fired %d times, want 2", rejected)
	}
}
