// Package basestation receives telemetry packets, acknowledges them,
// drops retransmissions and forwards decoded messages.
//
// Output lines (for ground station display):
//
//	Received:  136  -91.0  18.45  995.85  58.93  300.045200
//	RSSI_PACKET: -89.5 dBm
package basestation

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/uplink/helpers"
	"github.com/temoto/uplink/log2"
	"github.com/temoto/uplink/radio"
	"github.com/temoto/uplink/tele"
	"github.com/temoto/uplink/uplink"
)

const (
	DefaultIdleTimeout = time.Minute
	publishQueue       = 32
)

// Receiver is base station side of radio, implemented by *radio.Node.
type Receiver interface {
	Receive(ctx context.Context, timeout time.Duration) (radio.Packet, error)
	Ack(ctx context.Context, p *radio.Packet) error
}

// Delivery is result of handling one received packet.
type Delivery struct {
	Packet    radio.Packet
	Message   uplink.Message
	At        time.Time
	Duplicate bool
	// Sequence numbers skipped since previous message of this node.
	Missed uint32
	// Payload decode error, packet was still acknowledged.
	Err error
}

func (d *Delivery) String() string {
	switch {
	case d.Err != nil:
		return fmt.Sprintf("node=%d id=%d invalid: %v", d.Packet.From, d.Packet.ID, d.Err)
	case d.Duplicate:
		return fmt.Sprintf("node=%d seq=%d duplicate", d.Packet.From, d.Message.Seq)
	}
	return fmt.Sprintf("node=%d seq=%d missed=%d rssi=%.1f %s",
		d.Packet.From, d.Message.Seq, d.Missed, d.Packet.RSSI, d.Message.Reading.String())
}

type Station struct {
	Log       *log2.Log
	Out       io.Writer // display lines, nil disables
	Metrics   *Metrics
	StationID string
	// Receive deadline used only to log idle periods.
	IdleTimeout time.Duration

	rx      Receiver
	pub     tele.Publisher
	alive   *alive.Alive
	queue   chan tele.Telemetry
	outmu   sync.Mutex
	lastSeq map[byte]uint32
	now     func() time.Time
	backoff helpers.Backoff // receive fault delay
}

func New(rx Receiver, pub tele.Publisher, stationID string, log *log2.Log) *Station {
	if pub == nil {
		pub = tele.NewNoop()
	}
	return &Station{
		Log:         log,
		StationID:   stationID,
		IdleTimeout: DefaultIdleTimeout,
		rx:          rx,
		pub:         pub,
		alive:       alive.NewAlive(),
		queue:       make(chan tele.Telemetry, publishQueue),
		lastSeq:     make(map[byte]uint32),
		now:         time.Now,
		backoff:     helpers.Backoff{Min: 100 * time.Millisecond, Max: 5 * time.Second, K: 2},
	}
}

// Handle acknowledges p, decodes payload, detects duplicates and sequence gaps,
// prints display lines and queues telemetry for publishing.
// Not safe for concurrent use.
func (self *Station) Handle(ctx context.Context, p *radio.Packet) Delivery {
	d := Delivery{Packet: *p, At: self.now()}
	// sender retransmits until acked, so ack comes first whatever payload is
	if err := self.rx.Ack(ctx, p); err != nil {
		self.Log.Errorf("base ack node=%d id=%d err=%v", p.From, p.ID, err)
		if self.Metrics != nil {
			self.Metrics.AckErrors.Inc()
		}
	}

	m, err := uplink.Decode(p.Payload)
	if err != nil {
		d.Err = errors.Annotatef(err, "node=%d", p.From)
		self.Log.Debugf("base %s", d.String())
		if self.Metrics != nil {
			self.Metrics.Invalid.Inc()
		}
		return d
	}
	d.Message = m
	node := strconv.Itoa(int(p.From))

	last, seen := self.lastSeq[p.From]
	switch {
	case seen && m.Seq == last:
		d.Duplicate = true
		self.Log.Debugf("base %s", d.String())
		if self.Metrics != nil {
			self.Metrics.Duplicates.WithLabelValues(node).Inc()
		}
		return d
	case seen && m.Seq > last+1:
		d.Missed = m.Seq - last - 1
	case seen && m.Seq < last:
		self.Log.Infof("base node=%d sequence restarted %d -> %d", p.From, last, m.Seq)
	}
	self.lastSeq[p.From] = m.Seq

	self.display(p)
	self.Log.Debugf("base %s", d.String())
	if self.Metrics != nil {
		self.Metrics.Received.WithLabelValues(node).Inc()
		self.Metrics.Missed.WithLabelValues(node).Add(float64(d.Missed))
		self.Metrics.PacketRSSI.WithLabelValues(node).Set(p.RSSI)
		self.Metrics.RSSIHistogram.Observe(p.RSSI)
		self.Metrics.Sequence.WithLabelValues(node).Set(float64(m.Seq))
		if m.HasRSSI {
			self.Metrics.UplinkRSSI.WithLabelValues(node).Set(m.RSSI)
		}
	}

	t := tele.FromMessage(self.StationID, p.From, &d.Message, p.RSSI, d.At)
	select {
	case self.queue <- t:
	default:
		self.Log.Errorf("base publish queue full, drop node=%d seq=%d", p.From, m.Seq)
		if self.Metrics != nil {
			self.Metrics.PublishDrops.Inc()
		}
	}
	return d
}

// Step waits for one packet up to timeout (0 = forever) and handles it.
func (self *Station) Step(ctx context.Context, timeout time.Duration) (Delivery, error) {
	p, err := self.rx.Receive(ctx, timeout)
	if err != nil {
		return Delivery{}, err
	}
	return self.Handle(ctx, &p), nil
}

// Run receives until ctx is done. Radio faults are logged and retried with backoff.
func (self *Station) Run(ctx context.Context) error {
	if !self.alive.Add(1) {
		return errors.New("base station already stopped")
	}
	go self.publishLoop(ctx)
	defer func() {
		self.alive.Stop()
		self.alive.Wait()
	}()

	self.Log.Infof("base station=%s start", self.StationID)
	for ctx.Err() == nil {
		_, err := self.Step(ctx, self.IdleTimeout)
		fault := false
		switch {
		case err == nil:
		case ctx.Err() != nil:
		case errors.IsTimeout(err):
			self.Log.Debugf("base idle %v", self.IdleTimeout)
		default:
			fault = true
		}
		// idle timeout is healthy radio, only faults grow the delay
		if wait := self.backoff.DelayAfter(!fault); fault {
			self.Log.Errorf("base receive err=%v retry in %v", err, wait)
			helpers.SleepContext(ctx, wait)
		}
	}
	self.Log.Infof("base station=%s stop", self.StationID)
	return nil
}

// Flushes remaining queue after Stop.
func (self *Station) publishLoop(ctx context.Context) {
	defer self.alive.Done()
	stopch := self.alive.StopChan()
	for {
		select {
		case t := <-self.queue:
			self.publish(ctx, &t)
		case <-stopch:
			for {
				select {
				case t := <-self.queue:
					self.publish(context.Background(), &t)
				default:
					return
				}
			}
		}
	}
}

func (self *Station) publish(ctx context.Context, t *tele.Telemetry) {
	if err := self.pub.Publish(ctx, t); err != nil {
		self.Log.Errorf("base publish node=%d seq=%d err=%v", t.NodeID, t.Sequence, err)
		if self.Metrics != nil {
			self.Metrics.PublishErrors.Inc()
		}
	}
}

func (self *Station) display(p *radio.Packet) {
	if self.Out == nil {
		return
	}
	self.outmu.Lock()
	defer self.outmu.Unlock()
	_, err := fmt.Fprintf(self.Out, "Received: %s\nRSSI_PACKET: %.1f dBm\n", p.Payload, p.RSSI)
	if err != nil {
		self.Log.Errorf("base display err=%v", err)
	}
}
