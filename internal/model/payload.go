package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Payload is the JSON object POSTed by a station agent for one reading.
// Timestamp is UTC Unix seconds; Value is a JSON number or boolean. Token
// carries the optional legacy "_token" field and is stripped before dispatch.
type Payload struct {
	Group     string
	Name      string
	Timestamp int64
	Value     Value
	Token     string
}

type wirePayload struct {
	Group     string          `json:"group"`
	Name      string          `json:"name"`
	Timestamp *int64          `json:"timestamp"`
	Value     json.RawMessage `json:"value"`
	Token     string          `json:"_token,omitempty"`
}

// MarshalJSON renders the payload with the value as a bare number or bool.
func (p Payload) MarshalJSON() ([]byte, error) {
	var raw json.RawMessage
	var err error
	if p.Value.Kind == KindSwitch {
		raw, err = json.Marshal(p.Value.On)
	} else {
		raw, err = json.Marshal(p.Value.Temp)
	}
	if err != nil {
		return nil, err
	}
	ts := p.Timestamp
	return json.Marshal(wirePayload{
		Group:     p.Group,
		Name:      p.Name,
		Timestamp: &ts,
		Value:     raw,
		Token:     p.Token,
	})
}

// UnmarshalJSON validates fail-closed: all required fields must be present
// and the value must be a number or a boolean.
func (p *Payload) UnmarshalJSON(data []byte) error {
	var w wirePayload
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Group == "" || w.Name == "" || w.Timestamp == nil || len(w.Value) == 0 {
		return fmt.Errorf("%w: missing required field", ErrBadPayload)
	}
	var b bool
	if err := json.Unmarshal(w.Value, &b); err == nil {
		p.Value = Bool(b)
	} else {
		var f float64
		if err := json.Unmarshal(w.Value, &f); err != nil {
			return fmt.Errorf("%w: value must be number or bool", ErrBadPayload)
		}
		p.Value = Number(f)
	}
	p.Group = w.Group
	p.Name = w.Name
	p.Timestamp = *w.Timestamp
	p.Token = w.Token
	return nil
}

// Record converts the payload timestamp into a Record.
func (p Payload) Record() Record {
	return NewRecord(time.Unix(p.Timestamp, 0), p.Value)
}
