package supervisor

import (
	"context"
	"fmt"
	"log"
	"time"

	"sensornet/config"
	"sensornet/internal/model"
	"sensornet/internal/reader"
)

// sampler binds one device to its driver. A thermosolar device yields two
// readings per capture; the others yield one.
type sampler struct {
	dev    config.Device
	single reader.Reader
	thermo *reader.Thermosolar
}

func newSampler(dev config.Device, workDir string) (*sampler, error) {
	s := &sampler{dev: dev}
	switch dev.Input.Type {
	case "ds18b20", "w1":
		s.single = reader.W1Temp{File: dev.Input.File}
	case "mdeg_celsius", "mdeg":
		s.single = reader.MilliDeg{File: dev.Input.File}
	case "thermosolar":
		s.thermo = &reader.Thermosolar{Device: dev.Input.File, WorkDir: workDir}
	default:
		return nil, fmt.Errorf("station: unknown sensor type %q", dev.Input.Type)
	}
	return s, nil
}

// sample reads the device and returns the payloads to queue.
func (s *sampler) sample(now time.Time) ([]model.Payload, error) {
	ts := now.Unix()
	if s.thermo != nil {
		temp, pump, err := s.thermo.Read()
		if err != nil {
			return nil, err
		}
		var out []model.Payload
		if spec := s.dev.Output.Temperature; spec != nil {
			out = append(out, model.Payload{Group: spec.Group, Name: spec.Name,
				Timestamp: ts, Value: temp})
		}
		if spec := s.dev.Output.Switch; spec != nil {
			out = append(out, model.Payload{Group: spec.Group, Name: spec.Name,
				Timestamp: ts, Value: pump})
		}
		return out, nil
	}
	v, err := s.single.Read()
	if err != nil {
		return nil, err
	}
	spec := s.dev.Output.Temperature
	if spec == nil {
		return nil, fmt.Errorf("station: device %s has no temperature output", s.dev.Input.File)
	}
	return []model.Payload{{Group: spec.Group, Name: spec.Name,
		Timestamp: ts, Value: v}}, nil
}

// StationConfig wires the sampling loop.
type StationConfig struct {
	// Devices are the descriptor entries of this station only.
	Devices []config.Device

	// WorkDir is the scratch directory for camera captures.
	WorkDir string

	// Send queues one reading for delivery.
	Send func(model.Payload)

	Interval time.Duration

	// OnFailure is called with the device file when a read fails. Optional.
	OnFailure func(device string)

	Now func() time.Time
}

// Station samples all local sensors on a fixed cadence and hands readings
// to the buffered sender. A failing sensor is logged and skipped; the
// aggregator's freshness gate turns persistent silence into an alert.
type Station struct {
	cfg      StationConfig
	samplers []*sampler
	now      func() time.Time
}

// NewStation creates the sampling loop.
func NewStation(cfg StationConfig) (*Station, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	st := &Station{cfg: cfg, now: cfg.Now}
	for _, dev := range cfg.Devices {
		s, err := newSampler(dev, cfg.WorkDir)
		if err != nil {
			return nil, err
		}
		st.samplers = append(st.samplers, s)
	}
	return st, nil
}

// Run samples immediately, then on every interval tick, until ctx is
// cancelled.
func (st *Station) Run(ctx context.Context) {
	log.Printf("[station] sampling %d device(s) every %s",
		len(st.samplers), st.cfg.Interval)
	st.Sample()
	ticker := time.NewTicker(st.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Printf("[station] sampling stopped")
			return
		case <-ticker.C:
			st.Sample()
		}
	}
}

// Sample reads every device once.
func (st *Station) Sample() {
	now := st.now()
	for _, s := range st.samplers {
		payloads, err := s.sample(now)
		if err != nil {
			log.Printf("[station] sensor failure: %v", err)
			if st.cfg.OnFailure != nil {
				st.cfg.OnFailure(s.dev.Input.File)
			}
			continue
		}
		for _, p := range payloads {
			st.cfg.Send(p)
		}
	}
}
