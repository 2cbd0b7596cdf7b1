// Package monitor is the ground station view of base station output:
// it parses display lines into per-field series with sliding windows,
// view bounds that follow the data, and a line based TCP control protocol.
package monitor

import (
	"bufio"
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/juju/errors"
)

type Field int

const (
	FieldMsg Field = iota
	FieldRSSI
	FieldTemperature
	FieldPressure
	FieldHumidity
	FieldAltitude
	FieldPacketRSSI
	FieldCount
)

func (f Field) String() string {
	switch f {
	case FieldMsg:
		return "msg"
	case FieldRSSI:
		return "rssi"
	case FieldTemperature:
		return "temperature"
	case FieldPressure:
		return "pressure"
	case FieldHumidity:
		return "humidity"
	case FieldAltitude:
		return "altitude"
	case FieldPacketRSSI:
		return "packet_rssi"
	}
	return "Field(" + strconv.Itoa(int(f)) + ")"
}

// Values holds fields found in one line. Missing or unparsable fields are absent.
type Values map[Field]float64

const (
	prefixReceived   = "Received: "
	prefixPacketRSSI = "RSSI_PACKET:"
)

// ParseLine extracts fields from base station display lines:
//
//	Received:  136  -91.0  18.45  995.85  58.93  300.045200
//	RSSI_PACKET: -89.5 dBm
//
// Each field is parsed on its own, one bad number does not discard the rest.
// Received line with less than 6 values yields nothing.
func ParseLine(line string) Values {
	v := make(Values)
	for _, l := range strings.Split(line, "\n") {
		l = strings.TrimSpace(l)
		switch {
		case strings.HasPrefix(l, prefixReceived):
			parts := strings.Fields(l)
			if len(parts) < 7 {
				continue
			}
			if n, err := strconv.ParseUint(parts[1], 10, 64); err == nil {
				v[FieldMsg] = float64(n)
			}
			for i, f := range []Field{FieldRSSI, FieldTemperature, FieldPressure, FieldHumidity, FieldAltitude} {
				if x, err := strconv.ParseFloat(parts[2+i], 64); err == nil {
					v[f] = x
				}
			}

		case strings.HasPrefix(l, prefixPacketRSSI):
			parts := strings.Fields(l)
			if len(parts) < 2 {
				continue
			}
			if x, err := strconv.ParseFloat(parts[1], 64); err == nil {
				v[FieldPacketRSSI] = x
			}
		}
	}
	return v
}

// Feed reads lines from r until EOF or ctx is done and pushes parsed values into set.
// Returns number of lines that carried at least one value.
func Feed(ctx context.Context, r io.Reader, set *Set) (int, error) {
	scanner := bufio.NewScanner(r)
	n := 0
	for ctx.Err() == nil && scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if v := ParseLine(line); len(v) != 0 {
			set.Apply(v)
			n++
		}
	}
	if err := scanner.Err(); err != nil {
		return n, errors.Annotate(err, "monitor read")
	}
	return n, ctx.Err()
}
