package series

import (
	"fmt"

	"sensornet/internal/model"
	"sensornet/internal/timeutil"
)

// Text renders the user-visible snapshot lines of the series. The first
// line is the headline, the rest are detail items; the presentation layer
// wraps them in markup.
func (s *Series) Text() []string {
	var lines []string
	switch s.cfg.Kind {
	case model.KindTemperature:
		lines = s.temperatureText()
	case model.KindSwitch:
		lines = s.switchText()
	}
	lines = append(lines, fmt.Sprintf("Aktualisierung alle %s",
		timeutil.FormatDuration(s.cfg.Interval)))
	return lines
}

func (s *Series) formatTemperature(r model.Record, ok bool) string {
	if !ok {
		return "Keine Daten empfangen"
	}
	text := fmt.Sprintf("%.1f °C %s", r.Value.Temp,
		timeutil.FormatTimestamp(r.Timestamp, s.now(), s.cfg.Timezone))
	if r.Value.Temp < s.cfg.Low || r.Value.Temp > s.cfg.High {
		return fmt.Sprintf("<mark>%s</mark>", text)
	}
	return text
}

func (s *Series) formatSwitch(r model.Record, ok bool) string {
	if !ok {
		return "Keine Daten empfangen"
	}
	state := "Aus"
	if r.Value.On {
		state = "Ein"
	}
	return fmt.Sprintf("%s %s", state,
		timeutil.FormatTimestamp(r.Timestamp, s.now(), s.cfg.Timezone))
}

func (s *Series) temperatureText() []string {
	current, ok := s.Current()
	lines := []string{
		fmt.Sprintf("%s: %s", s.cfg.Name, s.formatTemperature(current, ok)),
	}
	if min, max, ok := MinMax(s.Day()); ok {
		lines = append(lines, fmt.Sprintf("Letzte 24 Stunden: ▼ %s / ▲ %s",
			s.formatTemperature(min, true), s.formatTemperature(max, true)))
	}
	if min, max, ok := MinMax(s.Records()); ok {
		lines = append(lines, fmt.Sprintf("Letzte 7 Tage: ▼ %s / ▲ %s",
			s.formatTemperature(min, true), s.formatTemperature(max, true)))
	}
	lines = append(lines, fmt.Sprintf(
		"Warnbereich unter %.0f °C und über %.0f °C", s.cfg.Low, s.cfg.High))
	return lines
}

func (s *Series) switchText() []string {
	var lastOn, lastOff model.Record
	var haveOn, haveOff bool
	records := s.Records()
	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		if r.Value.On {
			if !haveOn {
				lastOn, haveOn = r, true
			}
		} else if !haveOff {
			lastOff, haveOff = r, true
		}
		if haveOn && haveOff {
			break
		}
	}
	current, ok := s.Current()
	lines := []string{
		fmt.Sprintf("%s: %s", s.cfg.Name, s.formatSwitch(current, ok)),
	}
	if haveOn && (!ok || !current.Value.On) {
		lines = append(lines, fmt.Sprintf("Zuletzt %s", s.formatSwitch(lastOn, true)))
	}
	if haveOff && (!ok || current.Value.On) {
		lines = append(lines, fmt.Sprintf("Zuletzt %s", s.formatSwitch(lastOff, true)))
	}
	lines = append(lines, fmt.Sprintf("Letzte 24 Stunden: Einschaltdauer %s",
		timeutil.FormatDuration(Uptime(s.Segments(s.Day())))))
	lines = append(lines, fmt.Sprintf("Letzte 7 Tage: Einschaltdauer %s",
		timeutil.FormatDuration(Uptime(s.Segments(s.Records())))))
	return lines
}
