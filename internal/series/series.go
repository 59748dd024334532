// Package series implements the per-sensor time-series store of the
// aggregator: an ordered, bounded record window with equal-value run
// compression, append-only CSV persistence, online daily summaries and the
// derived views (current value, day window, warnings, failure state).
package series

import (
	"errors"
	"fmt"
	"time"

	"sensornet/internal/deque"
	"sensornet/internal/model"
)

// Defaults for the retention and freshness policy.
const (
	DefaultAllowedDowntime = 30 * time.Minute
	DefaultRecordDays      = 7
	DefaultSummaryDays     = 183
)

// ErrOlderThanPrevious is returned when a record does not advance the series.
// Callers log and drop; repeated delivery of the same record is idempotent
// through this rule.
var ErrOlderThanPrevious = errors.New("record not newer than previous")

// ErrKindMismatch is returned when a record's value type does not match the
// series type.
var ErrKindMismatch = errors.New("value kind does not match series")

// Config describes one series. Name is the unique key; Low/High apply to
// temperature series only.
type Config struct {
	Name       string
	Group      string
	Kind       model.Kind
	Interval   time.Duration // nominal sampling period
	FailNotify bool          // absence of data raises alerts
	Low, High  float64       // temperature warning thresholds

	DataDir         string
	Timezone        *time.Location // local timezone for daily summaries
	AllowedDowntime time.Duration
	RecordDays      int
	SummaryDays     int

	// AssumeOnDuringDowntime keeps an on-segment open across a silent gap
	// longer than AllowedDowntime (assume last-known state). The default
	// closes the segment at the last confirmed timestamp, so data loss
	// never inflates uptime.
	AssumeOnDuringDowntime bool

	// OnCompact is called for every record removed by run compression.
	// Optional.
	OnCompact func()

	// Now is the clock; defaults to time.Now. Injected for tests.
	Now func() time.Time
}

// Summary is one daily summary entry: min/max for temperature series,
// uptime hours for switch series. Date is local midnight.
type Summary struct {
	Date  time.Time
	Min   float64
	Max   float64
	Hours float64
}

// Series owns its in-memory window and CSV partitions exclusively; all
// mutations come from the single supervisor goroutine.
type Series struct {
	cfg     Config
	records *deque.Deque
	summary []Summary

	// temperature accumulator
	curDate time.Time
	today   []float64

	// switch accumulator
	swDate time.Time

	failStatus  bool
	failCounter int

	now func() time.Time
}

// New creates a series and rebuilds its state by replaying the CSV
// partitions of the previous and current UTC year.
func New(cfg Config) (*Series, error) {
	if cfg.Name == "" {
		return nil, errors.New("series: name required")
	}
	if cfg.Timezone == nil {
		cfg.Timezone = time.UTC
	}
	if cfg.AllowedDowntime <= 0 {
		cfg.AllowedDowntime = DefaultAllowedDowntime
	}
	if cfg.RecordDays <= 0 {
		cfg.RecordDays = DefaultRecordDays
	}
	if cfg.SummaryDays <= 0 {
		cfg.SummaryDays = DefaultSummaryDays
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Series{
		cfg:     cfg,
		records: deque.New(1024),
		now:     cfg.Now,
	}
	if cfg.DataDir != "" {
		year := s.now().UTC().Year()
		s.replay(year - 1)
		s.replay(year)
	}
	s.evict()
	return s, nil
}

func (s *Series) Name() string            { return s.cfg.Name }
func (s *Series) Group() string           { return s.cfg.Group }
func (s *Series) Kind() model.Kind        { return s.cfg.Kind }
func (s *Series) Interval() time.Duration { return s.cfg.Interval }

// Save appends a record with invariant checks, persists it to the CSV
// partition, updates the summary accumulator and evicts expired entries.
func (s *Series) Save(r model.Record) error {
	if err := s.append(r); err != nil {
		return err
	}
	if s.cfg.DataDir != "" {
		if err := s.persist(r); err != nil {
			return fmt.Errorf("persist %s: %w", s.cfg.Name, err)
		}
	}
	s.summarize(r)
	s.evict()
	return nil
}

// append enforces strictly increasing timestamps and the run-compression
// rule: the middle of three consecutive equal values is deleted while the
// span of the triple is below AllowedDowntime, keeping flat-run endpoints.
func (s *Series) append(r model.Record) error {
	if r.Value.Kind != s.cfg.Kind {
		return fmt.Errorf("%w: %s got %s", ErrKindMismatch, s.cfg.Kind, r.Value.Kind)
	}
	if last, ok := s.records.Back(); ok && !r.Timestamp.After(last.Timestamp) {
		return fmt.Errorf("%w: %s previous %d, new %d", ErrOlderThanPrevious,
			s.cfg.Name, last.Timestamp.Unix(), r.Timestamp.Unix())
	}
	s.records.PushBack(r)
	if n := s.records.Len(); n >= 3 {
		a := s.records.At(n - 3)
		b := s.records.At(n - 2)
		c := s.records.At(n - 1)
		if a.Value == b.Value && b.Value == c.Value &&
			c.Timestamp.Sub(a.Timestamp) < s.cfg.AllowedDowntime {
			s.records.PopBack()
			s.records.PopBack()
			s.records.PushBack(c)
			if s.cfg.OnCompact != nil {
				s.cfg.OnCompact()
			}
		}
	}
	return nil
}

// evict drops records older than RecordDays and summaries older than
// SummaryDays.
func (s *Series) evict() {
	now := s.now()
	recLimit := now.Add(-time.Duration(s.cfg.RecordDays) * 24 * time.Hour)
	for {
		front, ok := s.records.Front()
		if !ok || !front.Timestamp.Before(recLimit) {
			break
		}
		s.records.PopFront()
	}
	sumLimit := s.localDate(now.Add(-time.Duration(s.cfg.SummaryDays) * 24 * time.Hour))
	for len(s.summary) > 0 && s.summary[0].Date.Before(sumLimit) {
		s.summary = s.summary[1:]
	}
}

// Current returns the latest record iff it passes the freshness gate:
// now - last.timestamp <= AllowedDowntime (inclusive).
func (s *Series) Current() (model.Record, bool) {
	last, ok := s.records.Back()
	if !ok || s.now().Sub(last.Timestamp) > s.cfg.AllowedDowntime {
		return model.Record{}, false
	}
	return last, true
}

// Day returns the records of the last 24 hours, oldest first.
func (s *Series) Day() []model.Record {
	min := s.now().Add(-24 * time.Hour)
	start := s.records.Len()
	for start > 0 && !s.records.At(start-1).Timestamp.Before(min) {
		start--
	}
	out := make([]model.Record, 0, s.records.Len()-start)
	for i := start; i < s.records.Len(); i++ {
		out = append(out, s.records.At(i))
	}
	return out
}

// Records returns the full retained window, oldest first.
func (s *Series) Records() []model.Record {
	return s.records.Snapshot()
}

// Len returns the number of retained records.
func (s *Series) Len() int { return s.records.Len() }

// Summaries returns the daily summaries, oldest first.
func (s *Series) Summaries() []Summary {
	out := make([]Summary, len(s.summary))
	copy(out, s.summary)
	return out
}

// Error reports the "no data" condition. The failure counter increases once
// per outage, not per tick.
func (s *Series) Error() (string, bool) {
	if !s.cfg.FailNotify {
		return "", false
	}
	if _, ok := s.Current(); ok {
		s.failStatus = false
		return "", false
	}
	if !s.failStatus {
		s.failStatus = true
		s.failCounter++
	}
	return fmt.Sprintf("Messpunkt %q liefert keine Daten. (#%d)",
		s.cfg.Name, s.failCounter), true
}

// Warning reports the out-of-range condition for temperature series.
func (s *Series) Warning() (string, bool) {
	if s.cfg.Kind != model.KindTemperature {
		return "", false
	}
	current, ok := s.Current()
	if !ok {
		return "", false
	}
	if current.Value.Temp < s.cfg.Low {
		return fmt.Sprintf("Messpunkt %q unter %g °C.", s.cfg.Name, s.cfg.Low), true
	}
	if current.Value.Temp > s.cfg.High {
		return fmt.Sprintf("Messpunkt %q über %g °C.", s.cfg.Name, s.cfg.High), true
	}
	return "", false
}

// summarize dispatches the daily accumulator on the series kind. A record
// exactly on local midnight belongs to the new day.
func (s *Series) summarize(r model.Record) {
	switch s.cfg.Kind {
	case model.KindTemperature:
		s.summarizeTemperature(r)
	case model.KindSwitch:
		s.summarizeSwitch(r)
	}
}

// localDate returns local midnight of the day containing t.
func (s *Series) localDate(t time.Time) time.Time {
	lt := t.In(s.cfg.Timezone)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, s.cfg.Timezone)
}
