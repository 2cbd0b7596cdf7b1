package uplink

import (
	"fmt"
	"time"

	"github.com/temoto/uplink/log2"
	"github.com/temoto/uplink/sensor"
)

// Report describes one finished cycle.
type Report struct {
	Seq       uint32
	At        time.Time
	Reading   sensor.Reading
	Payload   []byte
	Outcome   Outcome
	SampleErr error
	Link      LinkSnapshot
}

func (r *Report) String() string {
	if r.SampleErr != nil {
		return fmt.Sprintf("seq=%d sample error: %v", r.Seq, r.SampleErr)
	}
	n := len(r.Outcome.Attempts)
	switch r.Outcome.Status {
	case StatusAcknowledged:
		return fmt.Sprintf("seq=%d payload=%q ack rssi=%.1f attempts=%d", r.Seq, r.Payload, r.Outcome.RSSI, n)
	case StatusExhausted:
		return fmt.Sprintf("seq=%d payload=%q ack=missing attempts=%d", r.Seq, r.Payload, n)
	case StatusFault:
		return fmt.Sprintf("seq=%d payload=%q fault attempts=%d err=%v", r.Seq, r.Payload, n, r.Outcome.Err)
	}
	return fmt.Sprintf("seq=%d payload=%q %s attempts=%d", r.Seq, r.Payload, r.Outcome.Status.String(), n)
}

// Failed means transport fault or sensor error.
func (r *Report) Failed() bool {
	return r.SampleErr != nil || r.Outcome.Status == StatusFault
}

// Reporter receives cycle reports. Must not block for long, cycle timing depends on it.
type Reporter interface {
	Report(r *Report)
}

type ReporterFunc func(r *Report)

func (f ReporterFunc) Report(r *Report) { f(r) }

type MultiReporter []Reporter

func (m MultiReporter) Report(r *Report) {
	for _, x := range m {
		if x != nil {
			x.Report(r)
		}
	}
}

// LogReporter writes one line per cycle.
// Failed cycles go at error level but skip error hook, journal reports them itself.
type LogReporter struct{ Log *log2.Log }

func (l LogReporter) Report(r *Report) {
	if r.Failed() {
		l.Log.Logf(log2.LError, "error: %s", r.String())
	} else {
		l.Log.Info(r.String())
	}
}
