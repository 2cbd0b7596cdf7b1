// Package simlink emulates RFM69 packet radio over UDP, for bench runs without hardware.
// Datagram: [len][AES-128-ECB(frame, zero padded to 16)][crc8 of preceding bytes].
// Frames are lost with configured probability, RSSI is base level with small jitter.
package simlink

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/uplink/crc"
	"github.com/temoto/uplink/helpers"
	"github.com/temoto/uplink/log2"
	"github.com/temoto/uplink/radio"
)

const (
	maxDatagram = 1 + 80 + 1
	rssiJitter  = 2.0
	queueLen    = 16
)

type Options struct {
	Loss float64 // 0..1 probability to lose transmitted frame
	RSSI float64 // dBm reported for received frames
	Rand *rand.Rand
}

type received struct {
	frame []byte
	rssi  float64
}

type Link struct {
	Log *log2.Log

	alive *alive.Alive
	conn  *net.UDPConn
	peer  *net.UDPAddr
	block cipher.Block
	opt   Options
	rmu   sync.Mutex
	in    chan received
}

var _ radio.Medium = &Link{}

// Dial listens on local UDP address and sends to peer.
func Dial(listen, peer string, key []byte, opt Options, log *log2.Log) (*Link, error) {
	laddr, err := net.ResolveUDPAddr("udp", listen)
	if err != nil {
		return nil, errors.Annotatef(err, "simlink listen=%s", listen)
	}
	paddr, err := net.ResolveUDPAddr("udp", peer)
	if err != nil {
		return nil, errors.Annotatef(err, "simlink peer=%s", peer)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, errors.Annotatef(err, "simlink listen=%s", listen)
	}
	l, err := New(conn, paddr, key, opt, log)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return l, nil
}

// New takes ownership of conn.
func New(conn *net.UDPConn, peer *net.UDPAddr, key []byte, opt Options, log *log2.Log) (*Link, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Annotate(err, "simlink key")
	}
	if opt.Rand == nil {
		opt.Rand = helpers.RandUnix()
	}
	self := &Link{
		Log:   log,
		alive: alive.NewAlive(),
		conn:  conn,
		peer:  peer,
		block: block,
		opt:   opt,
		in:    make(chan received, queueLen),
	}
	self.alive.Add(1)
	go self.reader()
	log.Debugf("simlink local=%s peer=%s loss=%.2f", conn.LocalAddr(), peer, opt.Loss)
	return self, nil
}

func (self *Link) LocalAddr() *net.UDPAddr { return self.conn.LocalAddr().(*net.UDPAddr) }

func (self *Link) Transmit(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !self.alive.IsRunning() {
		return errors.New("simlink closed")
	}
	if len(frame) > radio.MaxFrame {
		return errors.NotValidf("frame length=%d > max=%d", len(frame), radio.MaxFrame)
	}
	if self.chance(self.opt.Loss) {
		self.Log.Debugf("simlink tx lost len=%d", len(frame))
		return nil
	}
	b := self.seal(frame)
	if _, err := self.conn.WriteToUDP(b, self.peer); err != nil {
		return errors.Annotatef(err, "simlink write peer=%s", self.peer)
	}
	return nil
}

func (self *Link) Receive(ctx context.Context, timeout time.Duration) ([]byte, float64, error) {
	var tch <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		tch = t.C
	}
	select {
	case r := <-self.in:
		return r.frame, r.rssi, nil
	case <-tch:
		return nil, 0, radio.ErrReceiveTimeout
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	case <-self.alive.StopChan():
		return nil, 0, errors.New("simlink closed")
	}
}

func (self *Link) Close() error {
	self.alive.Stop()
	err := self.conn.Close()
	self.alive.Wait()
	return errors.Trace(err)
}

func (self *Link) reader() {
	defer self.alive.Done()
	buf := make([]byte, maxDatagram+1)
	for {
		n, from, err := self.conn.ReadFromUDP(buf)
		if err != nil {
			if !self.alive.IsRunning() {
				return
			}
			self.Log.Errorf("simlink read: %v", err)
			continue
		}
		frame, err := self.open(buf[:n])
		if err != nil {
			self.Log.Debugf("simlink rx drop from=%s: %v", from, err)
			continue
		}
		r := received{frame: frame, rssi: self.rssi()}
		select {
		case self.in <- r:
		default:
			self.Log.Debugf("simlink rx overflow, frame lost")
		}
	}
}

func (self *Link) seal(frame []byte) []byte {
	bs := self.block.BlockSize()
	padded := (len(frame) + bs - 1) / bs * bs
	if padded == 0 {
		padded = bs
	}
	b := make([]byte, 1+padded+1)
	b[0] = byte(len(frame))
	body := b[1 : 1+padded]
	copy(body, frame)
	for i := 0; i < padded; i += bs {
		self.block.Encrypt(body[i:i+bs], body[i:i+bs])
	}
	b[len(b)-1] = crc.CRC8_p93_n(0, b[:len(b)-1])
	return b
}

func (self *Link) open(b []byte) ([]byte, error) {
	bs := self.block.BlockSize()
	if len(b) < 1+bs+1 || (len(b)-2)%bs != 0 {
		return nil, errors.NotValidf("datagram length=%d", len(b))
	}
	crcIn := b[len(b)-1]
	if local := crc.CRC8_p93_n(0, b[:len(b)-1]); crcIn != local {
		return nil, errors.NotValidf("datagram crc=%02x actual=%02x", crcIn, local)
	}
	length := int(b[0])
	body := append([]byte(nil), b[1:len(b)-1]...)
	if length > len(body) {
		return nil, errors.NotValidf("datagram claims length=%d > body=%d", length, len(body))
	}
	for i := 0; i < len(body); i += bs {
		self.block.Decrypt(body[i:i+bs], body[i:i+bs])
	}
	return body[:length], nil
}

func (self *Link) chance(p float64) bool {
	if p <= 0 {
		return false
	}
	self.rmu.Lock()
	defer self.rmu.Unlock()
	return self.opt.Rand.Float64() < p
}

func (self *Link) rssi() float64 {
	self.rmu.Lock()
	defer self.rmu.Unlock()
	return self.opt.RSSI + (self.opt.Rand.Float64()*2-1)*rssiJitter
}
