package uplink

import (
	"fmt"
	"sync"
	"time"

	"github.com/temoto/uplink/sensor"
)

const lossWindow = 32

// LinkState is link quality memory carried between cycles.
// Sequence starts at 1 and advances once per cycle regardless of outcome.
// Last RSSI is absent until first acknowledgment and only replaced by newer ones.
// One instance per emitter, owned by its Scheduler.
type LinkState struct {
	mu       sync.Mutex
	seq      uint32
	lastRSSI float64
	hasRSSI  bool
	lastAck  time.Time

	consecutiveFailures int
	lastAttempts        int

	// ring of recent cycle results, true = lost
	window    [lossWindow]bool
	windowLen int
	windowPos int
}

func NewLinkState() *LinkState { return &LinkState{seq: 1} }

func (self *LinkState) Sequence() uint32 {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.seq
}

func (self *LinkState) LastRSSI() (float64, bool) {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.lastRSSI, self.hasRSSI
}

// Message binds current sequence and last RSSI to reading.
func (self *LinkState) Message(r sensor.Reading) Message {
	self.mu.Lock()
	defer self.mu.Unlock()
	return Message{Seq: self.seq, RSSI: self.lastRSSI, HasRSSI: self.hasRSSI, Reading: r}
}

// Apply records delivery outcome of current cycle. Canceled outcomes are not counted.
func (self *LinkState) Apply(o *Outcome, now time.Time) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if o.Status == StatusCanceled {
		return
	}
	self.lastAttempts = len(o.Attempts)
	lost := o.Status != StatusAcknowledged
	if lost {
		self.consecutiveFailures++
	} else {
		self.consecutiveFailures = 0
		self.lastRSSI = o.RSSI
		self.hasRSSI = true
		self.lastAck = now
	}
	self.window[self.windowPos] = lost
	self.windowPos = (self.windowPos + 1) % lossWindow
	if self.windowLen < lossWindow {
		self.windowLen++
	}
}

// Advance moves to next cycle.
func (self *LinkState) Advance() {
	self.mu.Lock()
	self.seq++
	self.mu.Unlock()
}

type LinkSnapshot struct {
	Sequence            uint32
	LastRSSI            float64
	HasRSSI             bool
	LastAck             time.Time
	ConsecutiveFailures int
	LastAttempts        int
	// Fraction of lost cycles among recent ones, 0 when none recorded.
	LossRatio float64
}

func (self *LinkState) Snapshot() LinkSnapshot {
	self.mu.Lock()
	defer self.mu.Unlock()
	s := LinkSnapshot{
		Sequence:            self.seq,
		LastRSSI:            self.lastRSSI,
		HasRSSI:             self.hasRSSI,
		LastAck:             self.lastAck,
		ConsecutiveFailures: self.consecutiveFailures,
		LastAttempts:        self.lastAttempts,
	}
	if self.windowLen > 0 {
		lost := 0
		for i := 0; i < self.windowLen; i++ {
			if self.window[i] {
				lost++
			}
		}
		s.LossRatio = float64(lost) / float64(self.windowLen)
	}
	return s
}

func (s LinkSnapshot) String() string {
	rssi := "none"
	if s.HasRSSI {
		rssi = fmt.Sprintf("%.1f", s.LastRSSI)
	}
	return fmt.Sprintf("seq=%d rssi=%s loss=%.2f failures=%d", s.Sequence, rssi, s.LossRatio, s.ConsecutiveFailures)
}
