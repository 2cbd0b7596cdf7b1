package uplink

// Values are read and modified atomically, but not consistently.

import (
	"expvar"
	"fmt"
)

type Stat struct {
	Attempts     expvar.Int
	Timeouts     expvar.Int
	Acknowledged expvar.Int
	Exhausted    expvar.Int
	Faults       expvar.Int
	Canceled     expvar.Int
	SampleErrors expvar.Int
}

func (s *Stat) Register(o *Outcome) {
	switch o.Status {
	case StatusAcknowledged:
		s.Acknowledged.Add(1)
	case StatusExhausted:
		s.Exhausted.Add(1)
	case StatusFault:
		s.Faults.Add(1)
	case StatusCanceled:
		s.Canceled.Add(1)
	}
}

// Delivered is share of finished deliveries that got acknowledged.
func (s *Stat) Delivered() float64 {
	ack := s.Acknowledged.Value()
	total := ack + s.Exhausted.Value() + s.Faults.Value()
	if total == 0 {
		return 0
	}
	return float64(ack) / float64(total)
}

// String is JSON, so Stat may be published with expvar.Publish.
func (s *Stat) String() string {
	return fmt.Sprintf(`{"attempts":%d,"timeouts":%d,"acknowledged":%d,"exhausted":%d,"faults":%d,"canceled":%d,"sample_errors":%d}`,
		s.Attempts.Value(), s.Timeouts.Value(), s.Acknowledged.Value(), s.Exhausted.Value(),
		s.Faults.Value(), s.Canceled.Value(), s.SampleErrors.Value())
}
