package rfm69

import (
	"io"

	"github.com/juju/errors"
	gpio "github.com/temoto/gpio-cdev-go"
	"github.com/temoto/uplink/helpers"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/conn/spi"
	"periph.io/x/periph/conn/spi/spireg"
	"periph.io/x/periph/host"
)

const consumer = "uplink-rfm69"

type hardware struct {
	spiTx SpiTxFunc        // used
	irq   gpio.Eventer     // used, nil means poll flags over SPI
	reset gpio.Lineser     // optional
	rset  gpio.LineSetFunc // reset line setter

	spiPort  spi.PortCloser // only for resource cleanup
	gpioChip gpio.Chiper    // only for resource cleanup
}
type SpiTxFunc func(send, recv []byte) error

// Converts bus names and pin numbers to useful hardware talking functions.
func (h *hardware) open(c *Config) error {
	if c.testhw != nil {
		*h = *c.testhw
		return nil
	}

	var err error
	if _, err = host.Init(); err != nil {
		return errors.Annotate(err, "periph/init")
	}

	h.spiPort, err = spireg.Open(c.SpiBus)
	if err != nil {
		return errors.Annotatef(err, "SPI Open bus=%s", c.SpiBus)
	}
	speed := physic.Frequency(c.SpiSpeedHz) * physic.Hertz
	if speed == 0 {
		speed = DefaultSpiSpeed
	}
	var spiConn spi.Conn
	spiConn, err = h.spiPort.Connect(speed, spi.Mode0, 8)
	if err != nil {
		return errors.Annotate(err, "SPI Connect")
	}
	h.spiTx = spiConn.Tx

	if c.IrqPin < 0 && c.ResetPin < 0 {
		return nil
	}
	h.gpioChip, err = gpio.Open(c.IrqPinChip, consumer)
	if err != nil {
		return errors.Annotatef(err, "gpio open chip=%s", c.IrqPinChip)
	}
	if c.IrqPin >= 0 {
		h.irq, err = h.gpioChip.GetLineEvent(uint32(c.IrqPin), 0,
			gpio.GPIOEVENT_REQUEST_RISING_EDGE, consumer)
		if err != nil {
			return errors.Annotatef(err, "gpio.GetLineEvent irq pin=%d", c.IrqPin)
		}
	}
	if c.ResetPin >= 0 {
		h.reset, err = h.gpioChip.OpenLines(gpio.GPIOHANDLE_REQUEST_OUTPUT, consumer, uint32(c.ResetPin))
		if err != nil {
			return errors.Annotatef(err, "gpio.OpenLines reset pin=%d", c.ResetPin)
		}
		h.rset = h.reset.SetFunc(uint32(c.ResetPin))
	}
	return nil
}

func (h *hardware) Close() error {
	closers := make([]io.Closer, 0, 4)
	if h.spiPort != nil {
		closers = append(closers, h.spiPort)
	}
	if h.irq != nil {
		closers = append(closers, h.irq)
	}
	if h.reset != nil {
		closers = append(closers, h.reset)
	}
	if h.gpioChip != nil {
		closers = append(closers, h.gpioChip)
	}
	errs := make([]error, len(closers))
	for i, c := range closers {
		errs[i] = c.Close()
	}
	return helpers.FoldErrors(errs)
}
