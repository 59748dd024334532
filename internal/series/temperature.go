package series

import (
	"sensornet/internal/model"
)

// MinMax scans records for the minimum and maximum. On equal values the
// later record wins the minimum and the earlier record keeps the maximum.
func MinMax(records []model.Record) (min, max model.Record, ok bool) {
	for i, r := range records {
		if i == 0 {
			min, max, ok = r, r, true
			continue
		}
		if r.Value.Temp <= min.Value.Temp {
			min = r
		}
		if r.Value.Temp > max.Value.Temp {
			max = r
		}
	}
	return min, max, ok
}

// summarizeTemperature rolls the previous day's accumulator into the
// summary deque when a record of a later local day arrives.
func (s *Series) summarizeTemperature(r model.Record) {
	date := s.localDate(r.Timestamp)
	if date.After(s.curDate) {
		if len(s.today) > 0 {
			min, max := s.today[0], s.today[0]
			for _, v := range s.today[1:] {
				if v < min {
					min = v
				}
				if v > max {
					max = v
				}
			}
			s.summary = append(s.summary, Summary{Date: s.curDate, Min: min, Max: max})
		}
		s.curDate = date
		s.today = s.today[:0]
	}
	s.today = append(s.today, r.Value.Temp)
}
