package sensor

import (
	"context"
	"math/rand"
	"sync"

	"github.com/temoto/uplink/helpers"
)

// Synthetic produces slowly drifting plausible readings, for runs without hardware.
type Synthetic struct {
	baseline float64
	mu       sync.Mutex
	rnd      *rand.Rand
	last     Reading
}

// NewSynthetic with nil rnd seeds from clock.
func NewSynthetic(baselineHPa float64, rnd *rand.Rand) *Synthetic {
	if rnd == nil {
		rnd = helpers.RandUnix()
	}
	p := baselineHPa - 20
	return &Synthetic{
		baseline: baselineHPa,
		rnd:      rnd,
		last:     Reading{Temperature: 21, Pressure: p, Humidity: 45, Altitude: Altitude(baselineHPa, p)},
	}
}

func (self *Synthetic) Sample(ctx context.Context) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}
	self.mu.Lock()
	defer self.mu.Unlock()
	r := self.last
	r.Temperature = clamp(r.Temperature+self.step(0.2), -40, 85)
	r.Pressure = clamp(r.Pressure+self.step(0.5), 300, 1100)
	r.Humidity = clamp(r.Humidity+self.step(1), 0, 100)
	r.Altitude = Altitude(self.baseline, r.Pressure)
	self.last = r
	return r, nil
}

func (*Synthetic) Close() error { return nil }

func (self *Synthetic) step(max float64) float64 { return (self.rnd.Float64()*2 - 1) * max }

func clamp(x, min, max float64) float64 {
	if x < min {
		return min
	}
	if x > max {
		return max
	}
	return x
}
