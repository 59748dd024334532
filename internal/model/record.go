// Package model defines the core data types of the sensor pipeline:
// measurement values, records and the JSON wire payload exchanged between
// station agents and the aggregator.
package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind distinguishes the two value types a series can carry.
type Kind int

const (
	KindTemperature Kind = iota
	KindSwitch
)

func (k Kind) String() string {
	switch k {
	case KindTemperature:
		return "temperature"
	case KindSwitch:
		return "switch"
	default:
		return "unknown"
	}
}

// Value is a tagged scalar: either a temperature in °C or a switch state.
// The zero value is the number 0. Values are comparable with ==.
type Value struct {
	Kind Kind
	Temp float64 // valid when Kind == KindTemperature
	On   bool    // valid when Kind == KindSwitch
}

// Number returns a temperature value.
func Number(v float64) Value { return Value{Kind: KindTemperature, Temp: v} }

// Bool returns a switch value.
func Bool(on bool) Value { return Value{Kind: KindSwitch, On: on} }

// Encode renders the value in the CSV on-disk form: a decimal number, or the
// literal tokens "True"/"False" for switch states. Whole numbers keep a
// trailing ".0" so historic files stay byte-compatible.
func (v Value) Encode() string {
	if v.Kind == KindSwitch {
		if v.On {
			return "True"
		}
		return "False"
	}
	s := strconv.FormatFloat(v.Temp, 'f', -1, 64)
	if !strings.ContainsAny(s, ".") {
		s += ".0"
	}
	return s
}

func (v Value) String() string { return v.Encode() }

// ParseValue is the universal parser for persisted values: the tokens
// "True"/"False" are switch states, anything else must parse as a number.
func ParseValue(s string) (Value, error) {
	switch s {
	case "True":
		return Bool(true), nil
	case "False":
		return Bool(false), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Value{}, fmt.Errorf("parse value %q: %w", s, err)
	}
	return Number(f), nil
}

// Record is one observation: a UTC timestamp with second resolution and a
// value. Records are immutable and ordered by timestamp.
type Record struct {
	Timestamp time.Time
	Value     Value
}

// NewRecord builds a record, truncating the timestamp to second resolution
// in UTC.
func NewRecord(ts time.Time, v Value) Record {
	return Record{Timestamp: ts.UTC().Truncate(time.Second), Value: v}
}

// ErrBadPayload is returned when an ingest payload fails validation.
var ErrBadPayload = errors.New("bad payload")
