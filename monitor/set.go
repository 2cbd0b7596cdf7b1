package monitor

import (
	"sync/atomic"
)

// SeriesDef describes one series of the default ground station layout.
type SeriesDef struct {
	Field     Field
	Name      string
	YRange    Bounds
	Autoscale bool
	Smoothing float64
}

// DefaultLayout lists series in control protocol index order.
var DefaultLayout = []SeriesDef{
	{FieldMsg, "Msg #", Bounds{0, 1000}, true, 0.35},
	{FieldRSSI, "RSSI ACK (dBm)", Bounds{-120, 0}, true, 0.5},
	{FieldTemperature, "TEMP (°C)", Bounds{-10, 25}, false, 0.5},
	{FieldPressure, "PRESSURE (hPa)", Bounds{800, 1500}, true, 1},
	{FieldHumidity, "HUMIDITY (%)", Bounds{0, 100}, false, 0.5},
	{FieldAltitude, "ALTITUDE (m)", Bounds{0, 5000}, false, 0.5},
	{FieldPacketRSSI, "RSSI PACKET (dBm)", Bounds{-120, 0}, true, 0.5},
}

// Set is the ordered collection of series fed from one line stream.
type Set struct {
	Series []*Series

	byField map[Field]*Series
	lines   uint64
}

func NewSet(layout []SeriesDef, window, maxHistory int) *Set {
	self := &Set{
		Series:  make([]*Series, 0, len(layout)),
		byField: make(map[Field]*Series, len(layout)),
	}
	for _, def := range layout {
		s := NewSeries(def.Name, SeriesConfig{Window: window, MaxHistory: maxHistory, YRange: def.YRange}, def.Autoscale, def.Smoothing)
		self.Series = append(self.Series, s)
		self.byField[def.Field] = s
	}
	return self
}

// Get returns series by control protocol index.
func (self *Set) Get(idx int) (*Series, bool) {
	if idx < 0 || idx >= len(self.Series) {
		return nil, false
	}
	return self.Series[idx], true
}

func (self *Set) Field(f Field) *Series { return self.byField[f] }

// Apply adds each present value to its series, fields without series are ignored.
func (self *Set) Apply(v Values) {
	for f, y := range v {
		if s := self.byField[f]; s != nil {
			s.Add(y)
		}
	}
	atomic.AddUint64(&self.lines, 1)
}

// Lines counts applied lines.
func (self *Set) Lines() uint64 { return atomic.LoadUint64(&self.lines) }
