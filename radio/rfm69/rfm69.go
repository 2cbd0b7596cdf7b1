// Package rfm69 drives HopeRF RFM69HCW packet radio over SPI.
// Modem settings are compatible with RadioHead/Adafruit RFM69 libraries:
// 250kbps FSK, sync word 2D D4, variable length packets with CRC and optional AES.
// DIO0 is mapped to PacketSent/PayloadReady and read as gpio event when IrqPin is set.
package rfm69

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	gpio "github.com/temoto/gpio-cdev-go"
	"github.com/temoto/uplink/config"
	"github.com/temoto/uplink/log2"
	"github.com/temoto/uplink/radio"
	"periph.io/x/periph/conn/physic"
)

const (
	DefaultSpiSpeed = 1 * physic.MegaHertz
	TxTimeout       = 2 * time.Second

	modeReadyTimeout = 100 * time.Millisecond
	pollInterval     = time.Millisecond
	irqSlice         = 50 * time.Millisecond
)

var ErrClosed = errors.New("rfm69 closed")

type Config struct {
	SpiBus       string
	SpiSpeedHz   int
	IrqPinChip   string
	IrqPin       int // <0 disables, flags are polled
	ResetPin     int // <0 disables
	FrequencyMHz float64
	TxPower      int
	Key          []byte // 16 bytes enables AES, nil disables
	NodeID       byte

	testhw *hardware
}

// ConfigFrom converts radio section of application config.
func ConfigFrom(rc *config.RadioConfig) (Config, error) {
	key, err := rc.Key()
	if err != nil {
		return Config{}, errors.Trace(err)
	}
	c := Config{
		SpiBus:       rc.SpiBus,
		SpiSpeedHz:   rc.SpiSpeedHz,
		IrqPinChip:   rc.IrqPinChip,
		IrqPin:       rc.IrqPin,
		ResetPin:     -1,
		FrequencyMHz: rc.FrequencyMHz,
		TxPower:      rc.Power(),
		Key:          key,
		NodeID:       byte(rc.NodeID),
	}
	if rc.ResetPin != nil {
		c.ResetPin = *rc.ResetPin
	}
	return c, nil
}

type Device struct {
	Log *log2.Log

	alive     *alive.Alive
	hw        hardware
	mu        sync.Mutex
	mode      byte
	highPower bool
	closed    bool
	txTimeout time.Duration
}

var _ radio.Medium = &Device{}

// Open acquires SPI and GPIO, resets and configures the chip.
func Open(c Config, log *log2.Log) (*Device, error) {
	d := &Device{Log: log, alive: alive.NewAlive(), txTimeout: TxTimeout}
	if err := d.hw.open(&c); err != nil {
		_ = d.hw.Close()
		return nil, errors.Annotate(err, "rfm69 open")
	}
	if err := d.Configure(c); err != nil {
		_ = d.hw.Close()
		return nil, errors.Annotate(err, "rfm69 configure")
	}
	return d, nil
}

// Configure resets chip (when reset line is available), checks version
// and writes modem, frequency, power, address and encryption settings.
func (self *Device) Configure(c Config) error {
	self.mu.Lock()
	defer self.mu.Unlock()

	if self.hw.rset != nil {
		if err := self.reset(); err != nil {
			return errors.Annotate(err, "reset")
		}
	}
	v, err := self.readReg(RegVersion)
	if err != nil {
		return errors.Annotate(err, "read version")
	}
	if v != chipVersion {
		return errors.NotFoundf("rfm69 chip version=%02x expected=%02x", v, chipVersion)
	}
	if err = self.setMode(ModeStandby); err != nil {
		return errors.Trace(err)
	}
	for _, kv := range baseConfig {
		if err = self.writeReg(kv[0], kv[1:]...); err != nil {
			return errors.Annotatef(err, "write reg=%02x", kv[0])
		}
	}
	if err = self.writeReg(RegNodeAdrs, c.NodeID); err != nil {
		return errors.Trace(err)
	}
	if err = self.setFrequency(c.FrequencyMHz); err != nil {
		return errors.Trace(err)
	}
	if err = self.setTxPower(c.TxPower); err != nil {
		return errors.Trace(err)
	}
	if err = self.setKey(c.Key); err != nil {
		return errors.Trace(err)
	}
	self.Log.Debugf("rfm69 configured freq=%.3fMHz power=%ddBm node=%d aes=%t",
		c.FrequencyMHz, c.TxPower, c.NodeID, c.Key != nil)
	return nil
}

func (self *Device) Close() error {
	self.alive.Stop()
	self.alive.Wait()
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.closed {
		return nil
	}
	self.closed = true
	if self.hw.spiTx != nil {
		_ = self.setMode(ModeSleep)
	}
	return self.hw.Close()
}

// Transmit sends one frame (without length byte) and waits for PacketSent.
func (self *Device) Transmit(ctx context.Context, frame []byte) error {
	if len(frame) == 0 || len(frame) > radio.MaxFrame {
		return errors.NotValidf("rfm69 frame length=%d", len(frame))
	}
	if !self.alive.Add(1) {
		return ErrClosed
	}
	defer self.alive.Done()
	self.mu.Lock()
	defer self.mu.Unlock()

	if err := self.setMode(ModeStandby); err != nil {
		return errors.Trace(err)
	}
	if err := self.writeReg(RegDioMapping1, dioMapTx); err != nil {
		return errors.Trace(err)
	}
	buf := make([]byte, 0, 1+len(frame))
	buf = append(buf, byte(len(frame)))
	buf = append(buf, frame...)
	if err := self.writeReg(RegFifo, buf...); err != nil {
		return errors.Annotate(err, "write fifo")
	}
	if err := self.setHighPowerRegs(self.highPower); err != nil {
		return errors.Trace(err)
	}
	if err := self.setMode(ModeTx); err != nil {
		return errors.Trace(err)
	}
	errWait := self.waitFlag(ctx, irq2PacketSent, self.txTimeout)
	errs := []error{
		self.setMode(ModeStandby),
		self.setHighPowerRegs(false),
	}
	if errors.IsTimeout(errWait) {
		// radio.Node treats timeout as missing ack, this is hardware fault
		return errors.Errorf("rfm69 transmit: PacketSent not set within %v", self.txTimeout)
	}
	if errWait != nil {
		return errWait
	}
	for _, e := range errs {
		if e != nil {
			return errors.Annotate(e, "rfm69 after transmit")
		}
	}
	return nil
}

// Receive waits for PayloadReady up to timeout (0 = no deadline).
func (self *Device) Receive(ctx context.Context, timeout time.Duration) ([]byte, float64, error) {
	if !self.alive.Add(1) {
		return nil, 0, ErrClosed
	}
	defer self.alive.Done()
	self.mu.Lock()
	defer self.mu.Unlock()

	if err := self.writeReg(RegDioMapping1, dioMapRx); err != nil {
		return nil, 0, errors.Trace(err)
	}
	if err := self.setMode(ModeRx); err != nil {
		return nil, 0, errors.Trace(err)
	}
	if err := self.waitFlag(ctx, irq2PayloadReady, timeout); err != nil {
		_ = self.setMode(ModeStandby)
		return nil, 0, err
	}
	rawRSSI, err := self.readReg(RegRssiValue)
	if err != nil {
		return nil, 0, errors.Trace(err)
	}
	rssi := -float64(rawRSSI) / 2
	if err = self.setMode(ModeStandby); err != nil {
		return nil, 0, errors.Trace(err)
	}
	n, err := self.readReg(RegFifo)
	if err != nil {
		return nil, 0, errors.Annotate(err, "read fifo length")
	}
	if n == 0 || int(n) > fifoSize-1 {
		return nil, rssi, errors.NotValidf("rfm69 fifo length=%d", n)
	}
	frame, err := self.readRegs(RegFifo, int(n))
	if err != nil {
		return nil, 0, errors.Annotate(err, "read fifo")
	}
	return frame, rssi, nil
}

// RSSI reads instant signal strength, dBm.
func (self *Device) RSSI() (float64, error) {
	if !self.alive.Add(1) {
		return 0, ErrClosed
	}
	defer self.alive.Done()
	self.mu.Lock()
	defer self.mu.Unlock()
	v, err := self.readReg(RegRssiValue)
	return -float64(v) / 2, errors.Trace(err)
}

func (self *Device) String() string {
	return fmt.Sprintf("rfm69 mode=%02x high_power=%t", self.mode, self.highPower)
}

func (self *Device) reset() error {
	self.hw.rset(1)
	if err := self.hw.reset.Flush(); err != nil {
		return errors.Trace(err)
	}
	time.Sleep(100 * time.Microsecond)
	self.hw.rset(0)
	if err := self.hw.reset.Flush(); err != nil {
		return errors.Trace(err)
	}
	time.Sleep(5 * time.Millisecond)
	return nil
}

func (self *Device) setMode(mode byte) error {
	if err := self.writeReg(RegOpMode, mode); err != nil {
		return errors.Annotatef(err, "set mode=%02x", mode)
	}
	// ModeReady is not signalled in sleep
	if mode != ModeSleep {
		deadline := time.Now().Add(modeReadyTimeout)
		for {
			flags, err := self.readReg(RegIrqFlags1)
			if err != nil {
				return errors.Trace(err)
			}
			if flags&irq1ModeReady != 0 {
				break
			}
			if time.Now().After(deadline) {
				return errors.Errorf("rfm69 mode=%02x not ready within %v", mode, modeReadyTimeout)
			}
			time.Sleep(pollInterval)
		}
	}
	self.mode = mode
	return nil
}

func (self *Device) setFrequency(mhz float64) error {
	if mhz < 290 || mhz > 1020 {
		return errors.NotValidf("frequency=%.3fMHz", mhz)
	}
	frf := FrequencyRegister(mhz)
	return errors.Annotate(
		self.writeReg(RegFrfMsb, byte(frf>>16), byte(frf>>8), byte(frf)),
		"set frequency")
}

func (self *Device) setTxPower(dbm int) error {
	pa, high, err := PaLevel(dbm)
	if err != nil {
		return errors.Trace(err)
	}
	self.highPower = high
	return errors.Annotate(self.writeReg(RegPaLevel, pa), "set tx power")
}

func (self *Device) setKey(key []byte) error {
	cfg2 := byte(packetConfig2AutoRestart)
	if key != nil {
		if len(key) != config.EncryptionKeySize {
			return errors.NotValidf("aes key length=%d", len(key))
		}
		if err := self.writeReg(RegAesKey1, key...); err != nil {
			return errors.Annotate(err, "write aes key")
		}
		cfg2 |= packetConfig2Aes
	}
	return errors.Annotate(self.writeReg(RegPacketConfig2, cfg2), "set aes")
}

// High power settings are only safe while transmitting.
func (self *Device) setHighPowerRegs(on bool) error {
	p1, p2, ocp := byte(testPa1n), byte(testPa2n), byte(ocpOn)
	if on {
		p1, p2, ocp = testPa1h, testPa2h, ocpOff
	}
	if err := self.writeReg(RegTestPa1, p1); err != nil {
		return errors.Trace(err)
	}
	if err := self.writeReg(RegTestPa2, p2); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(self.writeReg(RegOcp, ocp))
}

// waitFlag returns nil when RegIrqFlags2 has any bit of mask,
// radio.ErrReceiveTimeout after timeout (0 = no deadline) or ctx error.
func (self *Device) waitFlag(ctx context.Context, mask byte, timeout time.Duration) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		flags, err := self.readReg(RegIrqFlags2)
		if err != nil {
			return errors.Annotate(err, "read irq flags")
		}
		if flags&mask != 0 {
			return nil
		}
		if err = ctx.Err(); err != nil {
			return err
		}
		select {
		case <-self.alive.StopChan():
			return ErrClosed
		default:
		}

		slice := pollInterval
		if self.hw.irq != nil {
			slice = irqSlice
		}
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return radio.ErrReceiveTimeout
			}
			if remaining < slice {
				slice = remaining
			}
		}
		if self.hw.irq != nil {
			if _, err = self.hw.irq.Wait(slice); err != nil && !gpio.IsTimeout(err) && !errors.IsTimeout(err) {
				return errors.Annotate(err, "irq wait")
			}
		} else {
			time.Sleep(slice)
		}
	}
}

func (self *Device) readReg(addr byte) (byte, error) {
	b, err := self.readRegs(addr, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (self *Device) readRegs(addr byte, n int) ([]byte, error) {
	send := make([]byte, 1+n)
	recv := make([]byte, 1+n)
	send[0] = addr &^ writeBit
	if err := self.hw.spiTx(send, recv); err != nil {
		return nil, errors.Annotatef(err, "spi read reg=%02x", addr)
	}
	return recv[1:], nil
}

func (self *Device) writeReg(addr byte, values ...byte) error {
	send := make([]byte, 1+len(values))
	send[0] = addr | writeBit
	copy(send[1:], values)
	recv := make([]byte, len(send))
	return errors.Annotatef(self.hw.spiTx(send, recv), "spi write reg=%02x", addr)
}

// FrequencyRegister converts carrier frequency to 24 bit Frf value.
func FrequencyRegister(mhz float64) uint32 {
	return uint32(math.Round(mhz * 1e6 / fstep))
}

// PaLevel returns RegPaLevel value and whether high power test registers
// must be enabled during transmit. RFM69HCW only has PA1 and PA2 wired.
func PaLevel(dbm int) (byte, bool, error) {
	switch {
	case dbm >= -2 && dbm <= 13:
		return byte(paLevelPA1 | (dbm + 18)), false, nil
	case dbm >= 14 && dbm <= 17:
		return byte(paLevelPA1 | paLevelPA2 | (dbm + 14)), false, nil
	case dbm >= 18 && dbm <= 20:
		return byte(paLevelPA1 | paLevelPA2 | (dbm + 11)), true, nil
	}
	return 0, false, errors.NotValidf("tx power=%ddBm (range -2..20)", dbm)
}
