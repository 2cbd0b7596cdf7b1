package rfm69

import (
	"sync"
	"testing"

	"github.com/temoto/uplink/log2"
	"github.com/temoto/uplink/radio"
)

type regWrite struct {
	addr  byte
	value byte
}

// fakeChip emulates RFM69 register file behind SPI.
// Entering TX moves FIFO frame to sent, entering RX loads next inbox frame.
type fakeChip struct {
	mu      sync.Mutex
	reg     [0x80]byte
	fifo    []byte
	sent    [][]byte
	inbox   [][]byte
	writes  []regWrite
	rssiRaw byte
	txStuck bool
	autoAck bool // answer every transmitted data packet
}

func newFakeChip() *fakeChip {
	c := &fakeChip{rssiRaw: 120}
	c.reg[RegVersion] = chipVersion
	return c
}

func (c *fakeChip) Tx(send, recv []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	addr := send[0] &^ writeBit
	write := send[0]&writeBit != 0
	for i := 1; i < len(send); i++ {
		a := addr
		if addr != RegFifo {
			a = addr + byte(i-1)
		}
		if write {
			c.write(a, send[i])
		} else {
			recv[i] = c.read(a)
		}
	}
	return nil
}

func (c *fakeChip) write(a, v byte) {
	if a == RegFifo {
		c.fifo = append(c.fifo, v)
		return
	}
	c.reg[a] = v
	c.writes = append(c.writes, regWrite{a, v})
	if a != RegOpMode {
		return
	}
	switch v {
	case ModeStandby, ModeSleep:
		c.reg[RegIrqFlags2] &^= irq2PacketSent | irq2PayloadReady
	case ModeTx:
		if c.txStuck || len(c.fifo) == 0 {
			return
		}
		n := int(c.fifo[0])
		frame := append([]byte(nil), c.fifo[1:1+n]...)
		c.fifo = c.fifo[1+n:]
		c.sent = append(c.sent, frame)
		c.reg[RegIrqFlags2] |= irq2PacketSent
		if c.autoAck {
			var p radio.Packet
			if p.Parse(frame) == nil && !p.IsAck() {
				ack := radio.AckFor(&p, p.To)
				b, _ := ack.Marshal()
				c.inbox = append(c.inbox, b)
			}
		}
	case ModeRx:
		c.loadRx()
	}
}

func (c *fakeChip) loadRx() {
	if len(c.inbox) == 0 {
		return
	}
	f := c.inbox[0]
	c.inbox = c.inbox[1:]
	c.fifo = append([]byte{byte(len(f))}, f...)
	c.reg[RegRssiValue] = c.rssiRaw
	c.reg[RegIrqFlags2] |= irq2PayloadReady
}

func (c *fakeChip) read(a byte) byte {
	switch a {
	case RegFifo:
		if len(c.fifo) == 0 {
			return 0
		}
		b := c.fifo[0]
		c.fifo = c.fifo[1:]
		return b
	case RegIrqFlags1:
		return irq1ModeReady
	}
	return c.reg[a]
}

// deliver puts frame on air, loads it at once when chip listens.
func (c *fakeChip) deliver(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inbox = append(c.inbox, frame)
	if c.reg[RegOpMode] == ModeRx && c.reg[RegIrqFlags2]&irq2PayloadReady == 0 {
		c.loadRx()
	}
}

func (c *fakeChip) get(a byte) byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reg[a]
}

func (c *fakeChip) getSent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

// index of first write of value to addr, -1 if none
func (c *fakeChip) writeIndex(addr, value byte) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, w := range c.writes {
		if w.addr == addr && w.value == value {
			return i
		}
	}
	return -1
}

func testConfig(hw *hardware) Config {
	return Config{
		FrequencyMHz: 433.1,
		TxPower:      20,
		Key:          []byte("0123456789abcdef"),
		NodeID:       120,
		IrqPin:       -1,
		ResetPin:     -1,
		testhw:       hw,
	}
}

func testDevice(t testing.TB, chip *fakeChip) *Device {
	d, err := Open(testConfig(&hardware{spiTx: chip.Tx}), log2.NewTest(t, log2.LDebug))
	if err != nil {
		t.Fatalf("Open err=%v", err)
	}
	return d
}
