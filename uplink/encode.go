package uplink

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/juju/errors"
	"github.com/temoto/uplink/sensor"
)

// Field bounds keep the longest possible line at radio.MaxPayload bytes:
// " 4294967295  -999.9  -999.9  -9999.99  -999.99  -9999.999999"
const (
	limitRSSI        = 999.9
	limitTemperature = 999.9
	limitPressure    = 9999.99
	limitHumidity    = 999.99
	limitAltitude    = 9999.999999
)

// Message is one telemetry line as sent over the air.
// RSSI is signal strength of the acknowledgment received in previous cycle,
// so every message reports link quality with one cycle lag.
type Message struct {
	Seq     uint32
	RSSI    float64
	HasRSSI bool
	Reading sensor.Reading
}

func (m Message) Encode() []byte { return Encode(m.Seq, m.RSSI, m.HasRSSI, m.Reading) }

// Encode renders " seq  rssi  temp  pressure  humidity  altitude".
// Absent rssi is rendered as 0.0. Out of range and NaN values are saturated,
// so result always fits into single radio packet.
func Encode(seq uint32, rssi float64, hasRSSI bool, r sensor.Reading) []byte {
	if !hasRSSI {
		rssi = 0
	}
	b := make([]byte, 0, 64)
	b = append(b, ' ')
	b = strconv.AppendUint(b, uint64(seq), 10)
	b = appendField(b, saturate(rssi, limitRSSI), 1)
	b = appendField(b, saturate(r.Temperature, limitTemperature), 1)
	b = appendField(b, saturate(r.Pressure, limitPressure), 2)
	b = appendField(b, saturate(r.Humidity, limitHumidity), 2)
	b = appendField(b, saturate(r.Altitude, limitAltitude), 6)
	return b
}

func appendField(b []byte, x float64, prec int) []byte {
	b = append(b, ' ', ' ')
	return strconv.AppendFloat(b, x, 'f', prec, 64)
}

func saturate(x, limit float64) float64 {
	switch {
	case math.IsNaN(x):
		return 0
	case x > limit:
		return limit
	case x < -limit:
		return -limit
	}
	return x
}

// Decode parses line produced by Encode. Whitespace between fields is not significant.
// RSSI of exactly 0 is treated as absent.
func Decode(b []byte) (Message, error) {
	fields := strings.Fields(string(b))
	if len(fields) != 6 {
		return Message{}, errors.NotValidf("telemetry line=%q fields=%d expected=6", b, len(fields))
	}
	seq, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return Message{}, errors.NotValidf("telemetry line=%q seq", b)
	}
	var fs [5]float64
	for i := range fs {
		if fs[i], err = strconv.ParseFloat(fields[i+1], 64); err != nil {
			return Message{}, errors.NotValidf("telemetry line=%q field=%d", b, i+2)
		}
	}
	return Message{
		Seq:     uint32(seq),
		RSSI:    fs[0],
		HasRSSI: fs[0] != 0,
		Reading: sensor.Reading{
			Temperature: fs[1],
			Pressure:    fs[2],
			Humidity:    fs[3],
			Altitude:    fs[4],
		},
	}, nil
}

func (m Message) String() string {
	return fmt.Sprintf("seq=%d rssi=%.1f %s", m.Seq, m.RSSI, m.Reading.String())
}
