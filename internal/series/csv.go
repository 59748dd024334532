package series

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"sensornet/internal/model"
)

// csvPath returns the year-partitioned CSV file of a series,
// data/<name>_<year>.csv. Partitioning uses the UTC year.
func csvPath(dataDir, name string, year int) string {
	return filepath.Join(dataDir, fmt.Sprintf("%s_%d.csv", name, year))
}

// persist appends one "<unix_seconds>,<value>" line to the partition of the
// record's year. The file is append-only; lines are written in arrival order.
func (s *Series) persist(r model.Record) error {
	path := csvPath(s.cfg.DataDir, s.cfg.Name, r.Timestamp.UTC().Year())
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write([]string{
		strconv.FormatInt(r.Timestamp.Unix(), 10),
		r.Value.Encode(),
	}); err != nil {
		f.Close()
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// replay rebuilds the in-memory window and summaries from one CSV partition.
// Out-of-order lines in historic files are skipped, not fatal.
func (s *Series) replay(year int) {
	path := csvPath(s.cfg.DataDir, s.cfg.Name, year)
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()
	reader := csv.NewReader(f)
	reader.FieldsPerRecord = 2
	rows, err := reader.ReadAll()
	if err != nil {
		log.Printf("[series] %s: unreadable partition %s: %v", s.cfg.Name, path, err)
		return
	}
	for _, row := range rows {
		sec, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			log.Printf("[series] %s: bad timestamp %q in %s", s.cfg.Name, row[0], path)
			continue
		}
		value, err := model.ParseValue(row[1])
		if err != nil {
			log.Printf("[series] %s: bad value %q in %s", s.cfg.Name, row[1], path)
			continue
		}
		r := model.NewRecord(time.Unix(sec, 0), value)
		if err := s.append(r); err != nil {
			continue
		}
		s.summarize(r)
	}
}
