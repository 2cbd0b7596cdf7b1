// Package radio models addressed packets of a point-to-point packet radio
// and the acknowledged exchange on top of them.
//
// Header layout follows RadioHead, so emitters interoperate with
// RFM69 stacks that use the same convention:
//
//	[to][from][id][flags][payload...]
//
// Length byte, preamble, sync word, CRC and encryption are concerns of
// the Medium (chip FIFO or simulated link).
package radio

import (
	"fmt"

	"github.com/juju/errors"
)

const (
	HeaderLen = 4
	// RFM69 FIFO is 66 bytes: length byte, header and AES block padding leave 60 for payload.
	MaxPayload = 60
	MaxFrame   = HeaderLen + MaxPayload

	Broadcast byte = 0xff
	FlagAck   byte = 0x80
)

var ackPayload = []byte("!")

type Packet struct {
	To      byte
	From    byte
	ID      byte
	Flags   byte
	Payload []byte

	// Receiver side only, signal strength in dBm measured during reception.
	RSSI float64
}

func (self *Packet) IsAck() bool { return self.Flags&FlagAck != 0 }

func (self *Packet) String() string {
	ack := ""
	if self.IsAck() {
		ack = " ack"
	}
	return fmt.Sprintf("to=%d from=%d id=%d%s len=%d", self.To, self.From, self.ID, ack, len(self.Payload))
}

func (self *Packet) Marshal() ([]byte, error) {
	if len(self.Payload) > MaxPayload {
		return nil, errors.NotValidf("payload length=%d > max=%d", len(self.Payload), MaxPayload)
	}
	b := make([]byte, HeaderLen+len(self.Payload))
	b[0] = self.To
	b[1] = self.From
	b[2] = self.ID
	b[3] = self.Flags
	copy(b[HeaderLen:], self.Payload)
	return b, nil
}

// Overwrites packet state. Payload is copied.
func (self *Packet) Parse(b []byte) error {
	if len(b) < HeaderLen {
		return errors.NotValidf("frame=%x length=%d < header=%d", b, len(b), HeaderLen)
	}
	if len(b) > MaxFrame {
		return errors.NotValidf("frame length=%d > max=%d", len(b), MaxFrame)
	}
	self.To = b[0]
	self.From = b[1]
	self.ID = b[2]
	self.Flags = b[3]
	self.Payload = append([]byte(nil), b[HeaderLen:]...)
	return nil
}

// AckFor builds acknowledgment answering p, sent from node `from`.
func AckFor(p *Packet, from byte) Packet {
	return Packet{
		To:      p.From,
		From:    from,
		ID:      p.ID,
		Flags:   FlagAck,
		Payload: ackPayload,
	}
}

// idAllocator keeps header id stable while the same payload is retransmitted,
// so the receiver may recognize duplicates.
type idAllocator struct {
	last    []byte
	id      byte
	started bool
}

func (self *idAllocator) next(payload []byte) byte {
	if self.started && string(payload) == string(self.last) {
		return self.id
	}
	self.started = true
	self.id++
	self.last = append(self.last[:0], payload...)
	return self.id
}
