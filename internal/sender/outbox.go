package sender

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"sensornet/internal/model"
)

// The outbox is persisted as JSON Lines, one payload per line, so crash
// recovery does not depend on any in-memory representation. Writes go to a
// temp file which is renamed over the target, making each persist atomic.

func persistOutbox(path string, outbox []model.Payload) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, p := range outbox {
		if err := enc.Encode(p); err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func loadOutbox(path string) ([]model.Payload, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var outbox []model.Payload
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var p model.Payload
		if err := json.Unmarshal(scanner.Bytes(), &p); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		outbox = append(outbox, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return outbox, nil
}
