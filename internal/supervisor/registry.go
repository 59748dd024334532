// Package supervisor runs the two periodic loops of the system: the
// aggregator tick (drain inbox, save records, classify, publish snapshots,
// flush alerts) and the station tick (sample sensors, queue readings).
package supervisor

import (
	"fmt"

	"sensornet/config"
	"sensornet/internal/model"
	"sensornet/internal/series"
)

// Registry holds every configured series, grouped for presentation. Groups
// and series keep the descriptor order.
type Registry struct {
	groups []string
	order  map[string][]*series.Series
	byKey  map[string]*series.Series // "group/name"
}

// NewRegistry builds the series set from the device descriptor. The base
// config supplies DataDir, Timezone and retention overrides; per-series
// fields come from each device.
func NewRegistry(devices []config.Device, base series.Config) (*Registry, error) {
	r := &Registry{
		order: make(map[string][]*series.Series),
		byKey: make(map[string]*series.Series),
	}
	add := func(spec *config.SeriesSpec, kind model.Kind, dev config.Device) error {
		if spec == nil {
			return nil
		}
		cfg := base
		cfg.Name = spec.Name
		cfg.Group = spec.Group
		cfg.Kind = kind
		cfg.Interval = dev.Input.IntervalDuration()
		cfg.FailNotify = spec.FailNotify
		cfg.Low = spec.Low
		cfg.High = spec.High
		s, err := series.New(cfg)
		if err != nil {
			return fmt.Errorf("series %s: %w", spec.Name, err)
		}
		key := spec.Group + "/" + spec.Name
		if _, dup := r.byKey[key]; dup {
			return fmt.Errorf("series %s: duplicate", key)
		}
		if _, seen := r.order[spec.Group]; !seen {
			r.groups = append(r.groups, spec.Group)
		}
		r.order[spec.Group] = append(r.order[spec.Group], s)
		r.byKey[key] = s
		return nil
	}
	for _, dev := range devices {
		if err := add(dev.Output.Temperature, model.KindTemperature, dev); err != nil {
			return nil, err
		}
		if err := add(dev.Output.Switch, model.KindSwitch, dev); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Lookup returns the series for a routing key.
func (r *Registry) Lookup(group, name string) (*series.Series, bool) {
	s, ok := r.byKey[group+"/"+name]
	return s, ok
}

// Validate is the ingest-side check for unknown routing keys.
func (r *Registry) Validate(group, name string) error {
	if _, ok := r.Lookup(group, name); !ok {
		return fmt.Errorf("unknown series %s/%s", group, name)
	}
	return nil
}

// Groups returns the group names in descriptor order.
func (r *Registry) Groups() []string { return r.groups }

// Series returns the series of one group in descriptor order.
func (r *Registry) Series(group string) []*series.Series { return r.order[group] }

// All returns every series.
func (r *Registry) All() []*series.Series {
	var out []*series.Series
	for _, g := range r.groups {
		out = append(out, r.order[g]...)
	}
	return out
}
