// Package reader contains the sensor drivers a station samples from. Each
// reader turns one hardware source into a typed value; failures are returned
// to the sampling loop, which logs them and carries on.
package reader

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"sensornet/internal/model"
)

// Reader reads one sensor value.
type Reader interface {
	Read() (model.Value, error)
}

// W1Temp reads a DS18B20 1-Wire thermometer through the kernel's sysfs
// interface, e.g. /sys/bus/w1/devices/28-*/w1_slave. The first line carries
// the CRC verdict, the second the temperature in millidegrees after "t=".
type W1Temp struct {
	File string
}

func (w W1Temp) Read() (model.Value, error) {
	data, err := os.ReadFile(w.File)
	if err != nil {
		return model.Value{}, fmt.Errorf("w1: %w", err)
	}
	lines := strings.SplitN(string(data), "\n", 3)
	if len(lines) < 2 || !strings.HasSuffix(strings.TrimSpace(lines[0]), "YES") {
		return model.Value{}, fmt.Errorf("w1: sensor says no")
	}
	_, raw, ok := strings.Cut(lines[1], "t=")
	if !ok {
		return model.Value{}, fmt.Errorf("w1: no temperature in %q", lines[1])
	}
	mdeg, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return model.Value{}, fmt.Errorf("w1: %w", err)
	}
	return model.Number(float64(mdeg) / 1e3), nil
}

// MilliDeg reads a file holding a bare millidegree integer, the format
// some HVAC controllers export.
type MilliDeg struct {
	File string
}

func (m MilliDeg) Read() (model.Value, error) {
	data, err := os.ReadFile(m.File)
	if err != nil {
		return model.Value{}, fmt.Errorf("mdeg: %w", err)
	}
	mdeg, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return model.Value{}, fmt.Errorf("mdeg: %w", err)
	}
	return model.Number(float64(mdeg) / 1e3), nil
}
