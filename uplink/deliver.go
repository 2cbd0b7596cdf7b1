// Package uplink sends sensor telemetry over unreliable packet radio:
// each cycle samples, encodes, and delivers one message with bounded
// retransmission, carrying link quality (RSSI of last acknowledgment)
// in the next message.
package uplink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/uplink/log2"
	"github.com/temoto/uplink/radio"
)

var ErrBusy = errors.New("delivery already in progress")

// Transport performs single transmission and waits for acknowledgment.
// Must return error satisfying errors.IsTimeout when no ack arrived within timeout.
// Any other error is fault of transport itself.
type Transport interface {
	SendWithAck(ctx context.Context, payload []byte, timeout time.Duration) (radio.AckInfo, error)
}

type AttemptOutcome uint8

const (
	AttemptPending AttemptOutcome = iota
	AttemptAcknowledged
	AttemptTimedOut
	AttemptFault
	AttemptCanceled
)

func (a AttemptOutcome) String() string {
	switch a {
	case AttemptPending:
		return "pending"
	case AttemptAcknowledged:
		return "ack"
	case AttemptTimedOut:
		return "timeout"
	case AttemptFault:
		return "fault"
	case AttemptCanceled:
		return "canceled"
	}
	return fmt.Sprintf("AttemptOutcome(%d)", uint8(a))
}

// Attempt is one transmission of message payload.
type Attempt struct {
	Number  uint64 // 1-based
	SentAt  time.Time
	Outcome AttemptOutcome
	RSSI    float64 // valid for AttemptAcknowledged
}

type Status uint8

const (
	StatusAcknowledged Status = iota + 1
	// All attempts timed out. Transient, next cycle proceeds normally.
	StatusExhausted
	// Transport error, retries stopped.
	StatusFault
	StatusCanceled
)

func (s Status) String() string {
	switch s {
	case StatusAcknowledged:
		return "acknowledged"
	case StatusExhausted:
		return "exhausted"
	case StatusFault:
		return "fault"
	case StatusCanceled:
		return "canceled"
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

type Outcome struct {
	Status   Status
	RSSI     float64 // valid for StatusAcknowledged
	Attempts []Attempt
	Err      error // StatusFault and StatusCanceled
}

func (o *Outcome) Acknowledged() bool { return o.Status == StatusAcknowledged }

// Controller turns single-shot Transport into bounded reliable delivery.
type Controller struct {
	Log  *log2.Log
	Stat *Stat

	tx  Transport
	mu  sync.Mutex
	now func() time.Time
}

func NewController(tx Transport, log *log2.Log) *Controller {
	return &Controller{Log: log, Stat: &Stat{}, tx: tx, now: time.Now}
}

// Deliver sends identical payload up to maxRetries+1 times, back to back,
// each time waiting ackTimeout for acknowledgment. Returns on first ack.
// Concurrent calls are rejected with ErrBusy fault, cycles never overlap.
func (self *Controller) Deliver(ctx context.Context, payload []byte, maxRetries uint32, ackTimeout time.Duration) Outcome {
	if !self.mu.TryLock() {
		return Outcome{Status: StatusFault, Err: ErrBusy}
	}
	defer self.mu.Unlock()

	payload = append([]byte(nil), payload...)
	// uint64 so maxRetries=MaxUint32 still means MaxUint32+1 attempts, not 0
	total := uint64(maxRetries) + 1
	o := Outcome{Attempts: make([]Attempt, 0, attemptsCap(total))}
	for n := uint64(1); n <= total; n++ {
		if err := ctx.Err(); err != nil {
			o.Status, o.Err = StatusCanceled, err
			break
		}
		a := Attempt{Number: n, SentAt: self.now(), Outcome: AttemptPending}
		self.Stat.Attempts.Add(1)
		ack, err := self.tx.SendWithAck(ctx, payload, ackTimeout)
		switch {
		case err == nil:
			a.Outcome, a.RSSI = AttemptAcknowledged, ack.RSSI
			o.Status, o.RSSI = StatusAcknowledged, ack.RSSI
			self.Log.Debugf("uplink attempt=%d/%d ack rssi=%.1f", n, total, ack.RSSI)
		case ctx.Err() != nil:
			a.Outcome = AttemptCanceled
			o.Status, o.Err = StatusCanceled, ctx.Err()
		case errors.IsTimeout(err):
			a.Outcome = AttemptTimedOut
			self.Stat.Timeouts.Add(1)
			self.Log.Debugf("uplink attempt=%d/%d no ack", n, total)
		default:
			a.Outcome = AttemptFault
			o.Status, o.Err = StatusFault, errors.Annotatef(err, "uplink attempt=%d", n)
		}
		o.Attempts = append(o.Attempts, a)
		if o.Status != 0 {
			break
		}
	}
	if o.Status == 0 {
		o.Status = StatusExhausted
	}
	self.Stat.Register(&o)
	return o
}

func attemptsCap(total uint64) int {
	const max = 16
	if total > max {
		return max
	}
	return int(total)
}
