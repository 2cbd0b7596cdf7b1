package uplink

import (
	"math"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/uplink/radio"
	"github.com/temoto/uplink/sensor"
)

var testReading = sensor.Reading{Temperature: 23.5, Pressure: 1013.25, Humidity: 45.0, Altitude: -9.375}

func TestEncode(t *testing.T) {
	t.Parallel()

	type Case struct {
		name    string
		seq     uint32
		rssi    float64
		hasRSSI bool
		reading sensor.Reading
		expect  string
	}
	cases := []Case{
		{"example", 5, -42.3, true, testReading, " 5  -42.3  23.5  1013.25  45.00  -9.375000"},
		{"no-rssi", 1, 0, false, testReading, " 1  0.0  23.5  1013.25  45.00  -9.375000"},
		{"no-rssi-ignores-value", 1, -50, false, testReading, " 1  0.0  23.5  1013.25  45.00  -9.375000"},
		{"zero", 0, 0, true, sensor.Reading{}, " 0  0.0  0.0  0.00  0.00  0.000000"},
		{"nan", 2, math.NaN(), true, sensor.Reading{Temperature: math.NaN(), Altitude: math.Inf(-1)},
			" 2  0.0  0.0  0.00  0.00  -9999.999999"},
		{"saturate", math.MaxUint32, -1e6, true,
			sensor.Reading{Temperature: -1e6, Pressure: -1e9, Humidity: -1e9, Altitude: -1e9},
			" 4294967295  -999.9  -999.9  -9999.99  -999.99  -9999.999999"},
		{"saturate-positive", 7, 1e6, true,
			sensor.Reading{Temperature: math.Inf(1), Pressure: 1e9, Humidity: 1e9, Altitude: 1e9},
			" 7  999.9  999.9  9999.99  999.99  9999.999999"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			b := Encode(c.seq, c.rssi, c.hasRSSI, c.reading)
			assert.Equal(t, c.expect, string(b))
			assert.True(t, len(b) <= radio.MaxPayload, "len=%d", len(b))
		})
	}
}

func TestEncodeWorstCaseFits(t *testing.T) {
	t.Parallel()
	b := Encode(math.MaxUint32, -1e6, true, sensor.Reading{Temperature: -1e6, Pressure: -1e9, Humidity: -1e9, Altitude: -1e9})
	assert.Equal(t, radio.MaxPayload, len(b))
}

func TestEncodeDeterministic(t *testing.T) {
	t.Parallel()
	m := Message{Seq: 9, RSSI: -71.5, HasRSSI: true, Reading: testReading}
	assert.Equal(t, m.Encode(), m.Encode())
	assert.Equal(t, Encode(9, -71.5, true, testReading), m.Encode())
}

func TestDecode(t *testing.T) {
	t.Parallel()
	m, err := Decode([]byte(" 5  -42.3  23.5  1013.25  45.00  -9.375000"))
	require.NoError(t, err)
	assert.Equal(t, uint32(5), m.Seq)
	assert.True(t, m.HasRSSI)
	assert.Equal(t, -42.3, m.RSSI)
	assert.Equal(t, testReading, m.Reading)

	m, err = Decode([]byte(" 1  0.0  23.5  1013.25  45.00  -9.375000"))
	require.NoError(t, err)
	assert.False(t, m.HasRSSI)

	for _, bad := range []string{"", " 1  2", " x  0.0  1  2  3  4", " 1  0.0  1  2  3  z", " -1  0.0  1  2  3  4"} {
		_, err = Decode([]byte(bad))
		assert.True(t, errors.IsNotValid(err), "input=%q err=%v", bad, err)
	}
}

func TestDecodeEncodeStable(t *testing.T) {
	t.Parallel()
	line := Encode(123, -88.5, true, sensor.Reading{Temperature: -5.5, Pressure: 995.5, Humidity: 81.25, Altitude: 303.05})
	m, err := Decode(line)
	require.NoError(t, err)
	assert.Equal(t, string(line), string(m.Encode()))
}
