// Package sensor provides environment readings: temperature, pressure, humidity
// and altitude estimated from pressure.
package sensor

import (
	"context"
	"fmt"

	"github.com/juju/errors"
	"github.com/temoto/uplink/config"
	"github.com/temoto/uplink/log2"
)

// Barometric altitude approximation: 8.3 m per hPa near sea level.
const MetersPerHPa = 8.3

// Reading is immutable snapshot of one sensor sample.
// Temperature in °C, Pressure in hPa, Humidity in %, Altitude in meters.
type Reading struct {
	Temperature float64
	Pressure    float64
	Humidity    float64
	Altitude    float64
}

func (r Reading) String() string {
	return fmt.Sprintf("temp=%.2fC pressure=%.2fhPa humidity=%.2f%% altitude=%.2fm",
		r.Temperature, r.Pressure, r.Humidity, r.Altitude)
}

// Altitude relative to baseline pressure level.
func Altitude(baselineHPa, pressureHPa float64) float64 {
	return (baselineHPa - pressureHPa) * MetersPerHPa
}

type Sampler interface {
	Sample(ctx context.Context) (Reading, error)
}

// SamplerCloser is Sampler with hardware to release.
type SamplerCloser interface {
	Sampler
	Close() error
}

// Static always returns the same reading.
type Static struct{ Reading Reading }

func (s Static) Sample(ctx context.Context) (Reading, error) {
	return s.Reading, ctx.Err()
}
func (Static) Close() error { return nil }

// SamplerFunc adapts function to Sampler.
type SamplerFunc func(ctx context.Context) (Reading, error)

func (f SamplerFunc) Sample(ctx context.Context) (Reading, error) { return f(ctx) }

func New(c *config.SensorConfig, log *log2.Log) (SamplerCloser, error) {
	switch c.Driver {
	case config.SensorDriverBME280:
		s, err := OpenBME280(c.I2CBus, uint16(c.Address), c.BaselineHPa)
		if err != nil {
			return nil, errors.Annotate(err, "sensor bme280")
		}
		log.Infof("sensor bme280 bus=%q addr=%#02x", c.I2CBus, c.Address)
		return s, nil
	case config.SensorDriverSynthetic:
		log.Infof("sensor synthetic baseline=%.2f", c.BaselineHPa)
		return NewSynthetic(c.BaselineHPa, nil), nil
	}
	return nil, errors.NotSupportedf("sensor.driver=%s", c.Driver)
}
