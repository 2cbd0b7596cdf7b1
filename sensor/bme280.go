package sensor

import (
	"context"
	"sync"

	"github.com/juju/errors"
	"periph.io/x/periph/conn/i2c"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/devices/bmxx80"
	"periph.io/x/periph/host"
)

type senser interface {
	Sense(e *physic.Env) error
	Halt() error
}

// BME280 reads Bosch BME280 over I2C.
type BME280 struct {
	baseline float64
	mu       sync.Mutex
	dev      senser
	bus      i2c.BusCloser
}

// OpenBME280 with empty busName opens first available I2C bus.
func OpenBME280(busName string, addr uint16, baselineHPa float64) (*BME280, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Annotate(err, "periph host.Init")
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, errors.Annotatef(err, "i2creg.Open bus=%s", busName)
	}
	dev, err := bmxx80.NewI2C(bus, addr, &bmxx80.DefaultOpts)
	if err != nil {
		_ = bus.Close()
		return nil, errors.Annotatef(err, "bmxx80.NewI2C addr=%#02x", addr)
	}
	return &BME280{baseline: baselineHPa, dev: dev, bus: bus}, nil
}

func (self *BME280) Sample(ctx context.Context) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}
	var env physic.Env
	self.mu.Lock()
	err := self.dev.Sense(&env)
	self.mu.Unlock()
	if err != nil {
		return Reading{}, errors.Annotate(err, "bme280 sense")
	}
	return fromEnv(&env, self.baseline), nil
}

func (self *BME280) Close() error {
	self.mu.Lock()
	defer self.mu.Unlock()
	err := self.dev.Halt()
	if self.bus != nil {
		if e := self.bus.Close(); err == nil {
			err = e
		}
	}
	return errors.Trace(err)
}

func fromEnv(env *physic.Env, baselineHPa float64) Reading {
	pressure := float64(env.Pressure) / float64(100*physic.Pascal)
	return Reading{
		Temperature: float64(env.Temperature-physic.ZeroCelsius) / float64(physic.Celsius),
		Pressure:    pressure,
		Humidity:    float64(env.Humidity) / float64(physic.PercentRH),
		Altitude:    Altitude(baselineHPa, pressure),
	}
}
