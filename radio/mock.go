package radio

import (
	"context"
	"sync"
	"time"

	"github.com/juju/errors"
)

const memQueueLen = 16

// MemoryMedium is in-process Medium for tests and bench runs.
// Frames transmitted by one side of a pair are received by the other.
type MemoryMedium struct {
	// RSSI reported for every frame received by this side.
	RSSI float64
	// Drop returns true to lose transmitted frame.
	Drop func(frame []byte) bool
	// TxError is returned by Transmit when set.
	TxError error

	mu     sync.Mutex
	in     chan []byte
	peer   *MemoryMedium
	closed chan struct{}
	once   sync.Once
	sent   [][]byte
}

var _ Medium = &MemoryMedium{}

func NewMemoryPair(rssiA, rssiB float64) (*MemoryMedium, *MemoryMedium) {
	a := &MemoryMedium{RSSI: rssiA, in: make(chan []byte, memQueueLen), closed: make(chan struct{})}
	b := &MemoryMedium{RSSI: rssiB, in: make(chan []byte, memQueueLen), closed: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

func (self *MemoryMedium) Transmit(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	self.mu.Lock()
	txErr, drop := self.TxError, self.Drop
	self.sent = append(self.sent, append([]byte(nil), frame...))
	self.mu.Unlock()
	if txErr != nil {
		return txErr
	}
	if drop != nil && drop(frame) {
		return nil
	}
	select {
	case self.peer.in <- append([]byte(nil), frame...):
	default:
		// receiver queue overflow is loss on air
	}
	return nil
}

func (self *MemoryMedium) Receive(ctx context.Context, timeout time.Duration) ([]byte, float64, error) {
	var tch <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		tch = t.C
	}
	select {
	case b := <-self.in:
		return b, self.RSSI, nil
	case <-tch:
		return nil, 0, ErrReceiveTimeout
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	case <-self.closed:
		return nil, 0, errors.New("medium closed")
	}
}

func (self *MemoryMedium) Close() error {
	self.once.Do(func() { close(self.closed) })
	return nil
}

// Sent returns copies of all frames passed to Transmit.
func (self *MemoryMedium) Sent() [][]byte {
	self.mu.Lock()
	defer self.mu.Unlock()
	return append([][]byte(nil), self.sent...)
}

func (self *MemoryMedium) SetTxError(err error) {
	self.mu.Lock()
	self.TxError = err
	self.mu.Unlock()
}

func (self *MemoryMedium) SetDrop(f func([]byte) bool) {
	self.mu.Lock()
	self.Drop = f
	self.mu.Unlock()
}
