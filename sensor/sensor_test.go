package sensor

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/uplink/config"
	"github.com/temoto/uplink/log2"
	"periph.io/x/periph/conn/physic"
)

func TestAltitude(t *testing.T) {
	t.Parallel()
	assert.InDelta(t, 156.04, Altitude(1032.0, 1013.2), 1e-9)
	assert.InDelta(t, 0, Altitude(1013.25, 1013.25), 1e-12)
	assert.InDelta(t, -83, Altitude(1000, 1010), 1e-9)
}

type fakeSenser struct {
	env    physic.Env
	err    error
	halted bool
}

func (f *fakeSenser) Sense(e *physic.Env) error {
	*e = f.env
	return f.err
}
func (f *fakeSenser) Halt() error { f.halted = true; return nil }

func TestBME280Convert(t *testing.T) {
	t.Parallel()
	f := &fakeSenser{env: physic.Env{
		Temperature: physic.ZeroCelsius + 23*physic.Celsius + 500*physic.MilliCelsius,
		Pressure:    101325 * physic.Pascal,
		Humidity:    45 * physic.PercentRH,
	}}
	s := &BME280{baseline: 1032.0, dev: f}
	r, err := s.Sample(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 23.5, r.Temperature, 1e-9)
	assert.InDelta(t, 1013.25, r.Pressure, 1e-9)
	assert.InDelta(t, 45, r.Humidity, 1e-9)
	assert.InDelta(t, (1032.0-1013.25)*8.3, r.Altitude, 1e-9)

	f.err = fmt.Errorf("i2c nack")
	_, err = s.Sample(context.Background())
	assert.Contains(t, err.Error(), "i2c nack")

	require.NoError(t, s.Close())
	assert.True(t, f.halted)
}

func TestSynthetic(t *testing.T) {
	t.Parallel()
	s := NewSynthetic(1032, rand.New(rand.NewSource(1)))
	ctx := context.Background()
	for i := 0; i < 1000; i++ {
		r, err := s.Sample(ctx)
		require.NoError(t, err)
		assert.True(t, r.Humidity >= 0 && r.Humidity <= 100)
		assert.True(t, r.Pressure >= 300 && r.Pressure <= 1100)
		assert.InDelta(t, Altitude(1032, r.Pressure), r.Altitude, 1e-9)
	}
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err := s.Sample(cctx)
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	s, err := New(&config.SensorConfig{Driver: config.SensorDriverSynthetic, BaselineHPa: 1000}, log)
	require.NoError(t, err)
	_, err = s.Sample(context.Background())
	assert.NoError(t, err)
	assert.NoError(t, s.Close())

	_, err = New(&config.SensorConfig{Driver: "dht22"}, log)
	assert.True(t, errors.IsNotSupported(err))
}

func TestStatic(t *testing.T) {
	t.Parallel()
	want := Reading{Temperature: 23.5, Pressure: 1013.25, Humidity: 45, Altitude: -9.375}
	r, err := Static{Reading: want}.Sample(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, r)
	assert.Equal(t, "temp=23.50C pressure=1013.25hPa humidity=45.00% altitude=-9.38m", r.String())
}
