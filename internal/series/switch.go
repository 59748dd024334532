package series

import (
	"time"

	"sensornet/internal/model"
)

// Segment is a contiguous on-interval of a switch series.
type Segment struct {
	Start, End time.Time
}

// Duration returns the segment length.
func (g Segment) Duration() time.Duration { return g.End.Sub(g.Start) }

// Segments derives the on-intervals from a record snapshot. With assumeOff,
// a gap longer than allowedDowntime inside an on-run closes the segment at
// the last confirmed-true timestamp, so data loss never inflates uptime.
// Without it, the segment stays open until an off record arrives.
func Segments(records []model.Record, allowedDowntime time.Duration, assumeOff bool) []Segment {
	var segs []Segment
	expect := true
	var start, running time.Time
	for _, r := range records {
		ts := r.Timestamp
		if !expect && assumeOff && ts.Sub(running) > allowedDowntime {
			expect = true
			segs = append(segs, Segment{Start: start, End: running})
		}
		if r.Value.On {
			running = ts
		}
		if expect != r.Value.On {
			continue
		}
		if expect {
			expect = false
			start = ts
		} else {
			expect = true
			segs = append(segs, Segment{Start: start, End: ts})
		}
	}
	if !expect {
		segs = append(segs, Segment{Start: start, End: running})
	}
	return segs
}

// Uptime sums the segment durations.
func Uptime(segments []Segment) time.Duration {
	var total time.Duration
	for _, g := range segments {
		total += g.Duration()
	}
	return total
}

// Segments derives the on-intervals of the retained window under the
// configured downtime rule.
func (s *Series) Segments(records []model.Record) []Segment {
	return Segments(records, s.cfg.AllowedDowntime, !s.cfg.AssumeOnDuringDowntime)
}

// summarizeSwitch emits one uptime entry per finished local day: the total
// length of on-segments intersected with that day.
func (s *Series) summarizeSwitch(r model.Record) {
	date := s.localDate(r.Timestamp)
	if s.swDate.IsZero() {
		s.swDate = date
		return
	}
	if !date.After(s.swDate) {
		return
	}
	lower := s.swDate
	upper := lower.AddDate(0, 0, 1)
	var total time.Duration
	for _, g := range s.Segments(s.Records()) {
		if !g.End.After(lower) || !g.Start.Before(upper) {
			continue
		}
		start, end := g.Start, g.End
		if start.Before(lower) {
			start = lower
		}
		if end.After(upper) {
			end = upper
		}
		total += end.Sub(start)
	}
	s.summary = append(s.summary, Summary{Date: s.swDate, Hours: total.Hours()})
	s.swDate = date
}
