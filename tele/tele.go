// Package tele forwards telemetry received by base station to MQTT broker as JSON.
package tele

import (
	"context"
	"encoding/json"
	"time"

	"github.com/temoto/uplink/uplink"
)

// Telemetry is one decoded node message with base station context.
// Pointer fields are omitted when unknown.
type Telemetry struct {
	StationID   string    `json:"station_id"`
	NodeID      int       `json:"node_id"`
	Timestamp   time.Time `json:"timestamp"`
	Sequence    uint32    `json:"sequence"`
	Temperature *float64  `json:"temperature_c,omitempty"`
	Humidity    *float64  `json:"humidity_pct,omitempty"`
	Pressure    *float64  `json:"pressure_hpa,omitempty"`
	Altitude    *float64  `json:"altitude_m,omitempty"`
	// Node side RSSI of previous acknowledgment.
	UplinkRSSI *float64 `json:"uplink_rssi_dbm,omitempty"`
	// Base station side RSSI of this packet.
	PacketRSSI float64 `json:"packet_rssi_dbm"`
}

func FromMessage(station string, node byte, m *uplink.Message, packetRSSI float64, at time.Time) Telemetry {
	r := m.Reading
	t := Telemetry{
		StationID:   station,
		NodeID:      int(node),
		Timestamp:   at.UTC(),
		Sequence:    m.Seq,
		Temperature: &r.Temperature,
		Humidity:    &r.Humidity,
		Pressure:    &r.Pressure,
		Altitude:    &r.Altitude,
		PacketRSSI:  packetRSSI,
	}
	if m.HasRSSI {
		rssi := m.RSSI
		t.UplinkRSSI = &rssi
	}
	return t
}

func (t *Telemetry) Marshal() ([]byte, error) { return json.Marshal(t) }

// Publisher delivers telemetry somewhere, errors are not fatal for caller.
type Publisher interface {
	Publish(ctx context.Context, t *Telemetry) error
	Close() error
}

type noop struct{}

func (noop) Publish(context.Context, *Telemetry) error { return nil }
func (noop) Close() error                               { return nil }

// NewNoop returns Publisher for disabled telemetry.
func NewNoop() Publisher { return noop{} }

// PublisherFunc adapts function, handy in tests.
type PublisherFunc func(ctx context.Context, t *Telemetry) error

func (f PublisherFunc) Publish(ctx context.Context, t *Telemetry) error { return f(ctx, t) }
func (f PublisherFunc) Close() error                                    { return nil }
