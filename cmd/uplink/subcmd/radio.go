package subcmd

import (
	"github.com/juju/errors"
	"github.com/temoto/uplink/config"
	"github.com/temoto/uplink/helpers"
	"github.com/temoto/uplink/log2"
	"github.com/temoto/uplink/radio"
	"github.com/temoto/uplink/radio/rfm69"
	"github.com/temoto/uplink/radio/simlink"
)

// Emitter and base station share one radio section.
// Emitter address is node_id, base station address is destination_id,
// simulated link swaps listen and peer for base station.
type Role uint8

const (
	RoleEmitter Role = iota
	RoleBase
)

func (r Role) String() string {
	if r == RoleBase {
		return "base"
	}
	return "emitter"
}

func OpenMedium(c *config.RadioConfig, role Role, log *log2.Log) (radio.Medium, error) {
	key, err := c.Key()
	if err != nil {
		return nil, errors.Trace(err)
	}
	switch c.Driver {
	case config.RadioDriverSim:
		listen, peer := c.Sim.Listen, c.Sim.Peer
		if role == RoleBase {
			listen, peer = peer, listen
		}
		opt := simlink.Options{Loss: c.Sim.Loss, RSSI: c.Sim.RSSI, Rand: helpers.RandUnix()}
		l, err := simlink.Dial(listen, peer, key, opt, log)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return l, nil

	case config.RadioDriverRFM69:
		rc, err := rfm69.ConfigFrom(c)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if role == RoleBase {
			rc.NodeID = byte(c.DestinationID)
		}
		d, err := rfm69.Open(rc, log)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return d, nil
	}
	return nil, errors.NotSupportedf("radio.driver=%s", c.Driver)
}

func NodeAddress(c *config.RadioConfig, role Role) (addr, dest byte) {
	if role == RoleBase {
		return byte(c.DestinationID), radio.Broadcast
	}
	return byte(c.NodeID), byte(c.DestinationID)
}

func OpenNode(c *config.RadioConfig, role Role, log *log2.Log) (*radio.Node, error) {
	rlog := log
	if c.LogDebug {
		rlog = log.Clone(log2.LDebug)
	}
	m, err := OpenMedium(c, role, rlog)
	if err != nil {
		return nil, errors.Annotatef(err, "radio open role=%s", role)
	}
	addr, dest := NodeAddress(c, role)
	rlog.Infof("radio driver=%s role=%s addr=%d dest=%d", c.Driver, role, addr, dest)
	return radio.NewNode(m, addr, dest, rlog), nil
}
