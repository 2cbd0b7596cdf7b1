package tele

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/uplink/sensor"
	"github.com/temoto/uplink/uplink"
)

func TestFromMessage(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	type Case struct {
		name   string
		msg    uplink.Message
		expect string
	}
	reading := sensor.Reading{Temperature: 21.5, Pressure: 1013.25, Humidity: 40, Altitude: 155.6}
	cases := []Case{
		{"first", uplink.Message{Seq: 1, Reading: reading},
			`{"station_id":"st1","node_id":120,"timestamp":"2024-05-01T11:00:00Z","sequence":1,"temperature_c":21.5,"humidity_pct":40,"pressure_hpa":1013.25,"altitude_m":155.6,"packet_rssi_dbm":-89.5}`},
		{"rssi", uplink.Message{Seq: 7, RSSI: -42.5, HasRSSI: true, Reading: reading},
			`{"station_id":"st1","node_id":120,"timestamp":"2024-05-01T11:00:00Z","sequence":7,"temperature_c":21.5,"humidity_pct":40,"pressure_hpa":1013.25,"altitude_m":155.6,"uplink_rssi_dbm":-42.5,"packet_rssi_dbm":-89.5}`},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			tm := FromMessage("st1", 120, &c.msg, -89.5, at)
			b, err := tm.Marshal()
			require.NoError(t, err)
			assert.JSONEq(t, c.expect, string(b))

			var back Telemetry
			require.NoError(t, json.Unmarshal(b, &back))
			assert.Equal(t, c.msg.Seq, back.Sequence)
		})
	}
}

func TestNoop(t *testing.T) {
	t.Parallel()
	p := NewNoop()
	assert.NoError(t, p.Publish(context.Background(), &Telemetry{}))
	assert.NoError(t, p.Close())
}
