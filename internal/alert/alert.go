// Package alert batches pipeline warnings and rate-limits them per message,
// so a sensor that stays broken for days produces one mail, not one per
// evaluation tick.
package alert

import (
	"context"
	"fmt"
	"hash/fnv"
	"log"
	"runtime/debug"
	"strings"
	"time"

	"sensornet/internal/notification"
)

const (
	// PauseValue suppresses repeats of a threshold warning.
	PauseValue = 24 * time.Hour

	// PauseFailure suppresses repeats of a no-data warning. Outages tend to
	// need hardware attention, so nagging daily helps nobody.
	PauseFailure = 30 * 24 * time.Hour
)

// Kind selects the suppression window for a queued message.
type Kind int

const (
	// KindValue marks a measurement outside its configured range.
	KindValue Kind = iota
	// KindFailure marks a series that stopped delivering data.
	KindFailure
)

func (k Kind) pause() time.Duration {
	if k == KindFailure {
		return PauseFailure
	}
	return PauseValue
}

// Alerter collects warnings during an evaluation tick and sends them as one
// batched notification. Repeats of the same message text are suppressed
// until their pause expires. Not goroutine-safe; it lives on the supervisor
// loop.
type Alerter struct {
	notifier notification.Notifier
	now      func() time.Time

	pause  map[uint64]time.Time
	queued []string

	// Metrics hooks (optional)
	OnQueued     func()
	OnSuppressed func()
}

// New creates an alerter delivering through the given notifier.
func New(n notification.Notifier) *Alerter {
	return &Alerter{
		notifier: n,
		now:      time.Now,
		pause:    make(map[uint64]time.Time),
	}
}

func messageKey(msg string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(msg))
	return h.Sum64()
}

// Queue adds a warning for the next SendAll unless an identical message is
// still inside its pause window. Queuing starts the window immediately, so
// a warning that keeps firing does not reset its own suppression.
func (a *Alerter) Queue(message string, kind Kind) {
	key := messageKey(message)
	if until, ok := a.pause[key]; ok && a.now().Before(until) {
		log.Printf("[alert] suppressed until %s: %s",
			until.Format(time.RFC3339), message)
		if a.OnSuppressed != nil {
			a.OnSuppressed()
		}
		return
	}
	log.Printf("[alert] %s", message)
	a.pause[key] = a.now().Add(kind.pause())
	a.queued = append(a.queued, message)
	if a.OnQueued != nil {
		a.OnQueued()
	}
}

// Pending returns the number of messages waiting for SendAll.
func (a *Alerter) Pending() int { return len(a.queued) }

// SendAll delivers the queued messages as one warning notification and
// clears the queue. No-op when nothing is queued.
func (a *Alerter) SendAll(ctx context.Context) error {
	if len(a.queued) == 0 {
		return nil
	}
	msg := strings.Join(a.queued, "\n")
	a.queued = a.queued[:0]
	log.Printf("[alert] sending warning with %d message(s)", strings.Count(msg, "\n")+1)
	return a.notifier.Send(ctx, notification.Alert{
		Level:   notification.AlertWarning,
		Title:   "Warnung",
		Message: msg,
	})
}

// Crash delivers a crash report immediately, bypassing queue and pauses.
// The stack trace of the calling goroutine is attached.
func (a *Alerter) Crash(ctx context.Context, cause error) error {
	msg := fmt.Sprintf("%v\n\n%s", cause, debug.Stack())
	return a.notifier.Send(ctx, notification.Alert{
		Level:   notification.AlertCritical,
		Title:   "Programmabsturz",
		Message: msg,
	})
}

// Expire drops pause entries that already lapsed, keeping the map from
// growing over months of uptime.
func (a *Alerter) Expire() {
	now := a.now()
	for key, until := range a.pause {
		if now.After(until) {
			delete(a.pause, key)
		}
	}
}
