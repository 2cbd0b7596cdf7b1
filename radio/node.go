package radio

import (
	"context"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/uplink/log2"
)

var (
	ErrAckTimeout     = errors.Timeoutf("ack")
	ErrReceiveTimeout = errors.Timeoutf("receive")

	errSkip = errors.New("skip")
)

// Medium moves raw frames over the air.
// Receive returns ErrReceiveTimeout when nothing arrived within timeout (0 = no deadline).
type Medium interface {
	Transmit(ctx context.Context, frame []byte) error
	Receive(ctx context.Context, timeout time.Duration) (frame []byte, rssi float64, err error)
	Close() error
}

type AckInfo struct {
	// Signal strength of received acknowledgment, dBm.
	RSSI float64
}

// Node is an addressed endpoint on a Medium.
// Not safe for concurrent use, callers serialize exchanges.
type Node struct {
	Log  *log2.Log
	Addr byte
	Dest byte

	m        Medium
	ids      idAllocator
	mu       sync.Mutex
	lastRSSI float64
}

func NewNode(m Medium, addr, dest byte, log *log2.Log) *Node {
	return &Node{Log: log, Addr: addr, Dest: dest, m: m}
}

func (self *Node) Medium() Medium { return self.m }
func (self *Node) Close() error   { return self.m.Close() }

// LastRSSI of any received frame.
func (self *Node) LastRSSI() float64 {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.lastRSSI
}

func (self *Node) Send(ctx context.Context, p Packet) error {
	b, err := p.Marshal()
	if err != nil {
		return errors.Trace(err)
	}
	self.Log.Debugf("radio tx %s", p.String())
	return errors.Annotate(self.m.Transmit(ctx, b), "radio transmit")
}

// SendWithAck performs exactly one transmission of payload to Dest
// and waits up to timeout for matching acknowledgment.
// Returns ErrAckTimeout when none arrived, other errors are faults.
func (self *Node) SendWithAck(ctx context.Context, payload []byte, timeout time.Duration) (AckInfo, error) {
	p := Packet{To: self.Dest, From: self.Addr, ID: self.ids.next(payload), Payload: payload}
	if err := self.Send(ctx, p); err != nil {
		return AckInfo{}, err
	}
	if p.To == Broadcast {
		return AckInfo{}, nil
	}

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return AckInfo{}, ErrAckTimeout
		}
		in, err := self.receive(ctx, remaining)
		if err == errSkip {
			continue
		}
		if errors.IsTimeout(err) {
			return AckInfo{}, ErrAckTimeout
		}
		if err != nil {
			return AckInfo{}, errors.Annotate(err, "radio wait ack")
		}
		if in.IsAck() && in.ID == p.ID && in.From == p.To && in.To == self.Addr {
			self.Log.Debugf("radio ack id=%d rssi=%.1f", in.ID, in.RSSI)
			return AckInfo{RSSI: in.RSSI}, nil
		}
		self.Log.Debugf("radio wait ack id=%d ignore %s", p.ID, in.String())
	}
}

// Receive returns next data packet addressed to this node or broadcast.
// Acknowledgments and foreign packets are skipped.
func (self *Node) Receive(ctx context.Context, timeout time.Duration) (Packet, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		wait := time.Duration(0)
		if !deadline.IsZero() {
			wait = time.Until(deadline)
			if wait <= 0 {
				return Packet{}, ErrReceiveTimeout
			}
		}
		p, err := self.receive(ctx, wait)
		if err == errSkip {
			continue
		}
		if err != nil {
			return Packet{}, err
		}
		if p.IsAck() || (p.To != self.Addr && p.To != Broadcast) {
			self.Log.Debugf("radio rx ignore %s", p.String())
			continue
		}
		return p, nil
	}
}

// Ack answers received packet p. Broadcast packets are never acknowledged.
func (self *Node) Ack(ctx context.Context, p *Packet) error {
	if p.To == Broadcast {
		return nil
	}
	return self.Send(ctx, AckFor(p, self.Addr))
}

// Returns errSkip for malformed frame, caller recalculates deadline.
func (self *Node) receive(ctx context.Context, timeout time.Duration) (Packet, error) {
	b, rssi, err := self.m.Receive(ctx, timeout)
	if err != nil {
		if errors.IsTimeout(err) {
			return Packet{}, ErrReceiveTimeout
		}
		return Packet{}, errors.Annotate(err, "radio receive")
	}
	var p Packet
	if err = p.Parse(b); err != nil {
		self.Log.Debugf("radio rx drop invalid frame: %v", err)
		return Packet{}, errSkip
	}
	p.RSSI = rssi
	self.mu.Lock()
	self.lastRSSI = rssi
	self.mu.Unlock()
	return p, nil
}
