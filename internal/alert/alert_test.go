package alert

import (
	"bytes"
	"context"
	"log"
	"strings"
	"testing"
	"time"

	"sensornet/internal/notification"
)

// recordNotifier captures every alert it is asked to deliver.
type recordNotifier struct {
	alerts []notification.Alert
}

func (r *recordNotifier) Send(ctx context.Context, a notification.Alert) error {
	r.alerts = append(r.alerts, a)
	return nil
}

func newTestAlerter() (*Alerter, *recordNotifier, *time.Time) {
	sink := &recordNotifier{}
	a := New(sink)
	clock := time.Unix(1_700_000_000, 0)
	a.now = func() time.Time { return clock }
	return a, sink, &clock
}

func TestAlerter_BatchesQueuedMessages(t *testing.T) {
	a, sink, _ := newTestAlerter()
	a.Queue(`Messpunkt "Kessel" liefert keine Daten. (#1)`, KindFailure)
	a.Queue("Temperatur Bad: 5.0 °C unter 15.0 °C.", KindValue)

	if err := a.SendAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(sink.alerts) != 1 {
		t.Fatalf("got %d notifications, want 1 batch", len(sink.alerts))
	}
	got := sink.alerts[0]
	if got.Title != "Warnung" || got.Level != notification.AlertWarning {
		t.Errorf("title/level: %q/%q", got.Title, got.Level)
	}
	if !strings.Contains(got.Message, "Kessel") || !strings.Contains(got.Message, "Bad") {
		t.Errorf("message: %q", got.Message)
	}
	if a.Pending() != 0 {
		t.Errorf("queue not cleared: %d", a.Pending())
	}
}

func TestAlerter_SendAllWithoutMessagesIsNoop(t *testing.T) {
	a, sink, _ := newTestAlerter()
	if err := a.SendAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(sink.alerts) != 0 {
		t.Errorf("unexpected notification: %+v", sink.alerts)
	}
}

func TestAlerter_SuppressesRepeatWithinPause(t *testing.T) {
	a, sink, clock := newTestAlerter()
	const msg = "Temperatur Bad: 5.0 °C unter 15.0 °C."

	a.Queue(msg, KindValue)
	a.SendAll(context.Background())

	// Fires again an hour later: still paused.
	*clock = clock.Add(time.Hour)
	a.Queue(msg, KindValue)
	if a.Pending() != 0 {
		t.Fatalf("repeat within pause must be suppressed, pending=%d", a.Pending())
	}
	a.SendAll(context.Background())
	if len(sink.alerts) != 1 {
		t.Fatalf("got %d notifications, want 1", len(sink.alerts))
	}

	// After the 24h pause the same text goes out again.
	*clock = clock.Add(PauseValue)
	a.Queue(msg, KindValue)
	a.SendAll(context.Background())
	if len(sink.alerts) != 2 {
		t.Errorf("got %d notifications, want 2 after pause expiry", len(sink.alerts))
	}
}

func TestAlerter_FailurePauseIsLonger(t *testing.T) {
	a, sink, clock := newTestAlerter()
	const msg = `Messpunkt "Kessel" liefert keine Daten. (#1)`

	a.Queue(msg, KindFailure)
	a.SendAll(context.Background())

	// Two days later the value pause would have lapsed; the failure pause
	// has not.
	*clock = clock.Add(48 * time.Hour)
	a.Queue(msg, KindFailure)
	if a.Pending() != 0 {
		t.Fatal("failure repeat within 30 days must be suppressed")
	}

	*clock = clock.Add(PauseFailure)
	a.Queue(msg, KindFailure)
	a.SendAll(context.Background())
	if len(sink.alerts) != 2 {
		t.Errorf("got %d notifications, want 2", len(sink.alerts))
	}
}

func TestAlerter_DifferentMessagesNotSuppressed(t *testing.T) {
	a, _, _ := newTestAlerter()
	a.Queue("Temperatur Bad: 5.0 °C unter 15.0 °C.", KindValue)
	a.Queue("Temperatur Bad: 4.5 °C unter 15.0 °C.", KindValue)
	if a.Pending() != 2 {
		t.Errorf("distinct texts must both queue, pending=%d", a.Pending())
	}
}

func TestAlerter_QueueHooks(t *testing.T) {
	a, _, _ := newTestAlerter()
	queued, suppressed := 0, 0
	a.OnQueued = func() { queued++ }
	a.OnSuppressed = func() { suppressed++ }

	a.Queue("x", KindValue)
	a.Queue("x", KindValue)
	if queued != 1 || suppressed != 1 {
		t.Errorf("hooks: queued=%d suppressed=%d", queued, suppressed)
	}
}

func TestAlerter_QueueLogsBothPaths(t *testing.T) {
	a, _, _ := newTestAlerter()
	var buf bytes.Buffer
	old := log.Writer()
	log.SetOutput(&buf)
	defer log.SetOutput(old)

	const msg = "Temperatur Bad: 5.0 °C unter 15.0 °C."
	a.Queue(msg, KindValue)
	a.Queue(msg, KindValue)

	out := buf.String()
	if strings.Count(out, msg) != 2 {
		t.Errorf("both queue and suppress must log the message:\n%s", out)
	}
	if !strings.Contains(out, "suppressed") {
		t.Errorf("suppressed repeat not visible in log:\n%s", out)
	}
}

func TestAlerter_CrashReport(t *testing.T) {
	a, sink, _ := newTestAlerter()
	if err := a.Crash(context.Background(), context.DeadlineExceeded); err != nil {
		t.Fatal(err)
	}
	if len(sink.alerts) != 1 {
		t.Fatalf("got %d notifications", len(sink.alerts))
	}
	got := sink.alerts[0]
	if got.Title != "Programmabsturz" || got.Level != notification.AlertCritical {
		t.Errorf("title/level: %q/%q", got.Title, got.Level)
	}
	if !strings.Contains(got.Message, "deadline") {
		t.Errorf("message misses cause: %q", got.Message)
	}
}

func TestAlerter_ExpireDropsLapsedPauses(t *testing.T) {
	a, _, clock := newTestAlerter()
	a.Queue("a", KindValue)
	a.Queue("b", KindFailure)
	a.SendAll(context.Background())

	*clock = clock.Add(PauseValue + time.Minute)
	a.Expire()
	if len(a.pause) != 1 {
		t.Errorf("pause entries after expire: %d, want 1", len(a.pause))
	}
}
