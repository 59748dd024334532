package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Device describes one physical sensor in sensor.json: where a station reads
// it (input) and which series its readings feed (output). A device can feed
// a temperature series, a switch series, or both (the thermosolar camera
// yields collector temperature and pump state from one capture).
type Device struct {
	Input  Input  `json:"input"`
	Output Output `json:"output"`
}

// Input is the station-side half of a device. Type is one of "ds18b20",
// "mdeg_celsius" or "thermosolar"; the short forms "w1" and "mdeg" are
// accepted as aliases for the first two.
type Input struct {
	Station  int    `json:"station"`
	Type     string `json:"type"`
	File     string `json:"file"` // sysfs path or camera device
	Interval int    `json:"interval"` // expected reporting interval, seconds
}

// IntervalDuration returns the reporting interval as a duration.
func (in Input) IntervalDuration() time.Duration {
	return time.Duration(in.Interval) * time.Second
}

// Output maps a device to its series.
type Output struct {
	Temperature *SeriesSpec `json:"temperature"`
	Switch      *SeriesSpec `json:"switch"`
}

// SeriesSpec configures one output series of a device.
type SeriesSpec struct {
	Name       string  `json:"name"`
	Group      string  `json:"group"`
	Low        float64 `json:"low"`
	High       float64 `json:"high"`
	FailNotify bool    `json:"fail-notify"`
}

// LoadDevices reads and validates the device descriptor.
func LoadDevices(path string) ([]Device, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	var devices []Device
	if err := json.Unmarshal(data, &devices); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	for i, d := range devices {
		switch d.Input.Type {
		case "ds18b20", "w1", "mdeg_celsius", "mdeg", "thermosolar":
		default:
			return nil, fmt.Errorf("config: device %d: unknown sensor type %q", i, d.Input.Type)
		}
		if d.Input.Interval <= 0 {
			return nil, fmt.Errorf("config: device %d: interval must be positive", i)
		}
		if d.Output.Temperature == nil && d.Output.Switch == nil {
			return nil, fmt.Errorf("config: device %d: no output series", i)
		}
		for _, spec := range []*SeriesSpec{d.Output.Temperature, d.Output.Switch} {
			if spec != nil && (spec.Name == "" || spec.Group == "") {
				return nil, fmt.Errorf("config: device %d: output needs name and group", i)
			}
		}
	}
	return devices, nil
}
