package subcmd

import (
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/uplink/config"
	"github.com/temoto/uplink/log2"
	"github.com/temoto/uplink/radio"
)

func TestParse(t *testing.T) {
	t.Parallel()
	mods := []Mod{{Name: "emit"}, {Name: "base"}}

	m, err := Parse("base", mods)
	require.NoError(t, err)
	assert.Equal(t, "base", m.Name)

	_, err = Parse("", mods)
	assert.EqualError(t, err, "empty command, expected one of: emit, base")
	_, err = Parse("fly", mods)
	assert.EqualError(t, err, "unknown command='fly', expected one of: emit, base")
}

func testRadioConfig() *config.RadioConfig {
	c := &config.Config{}
	c.Radio.Driver = config.RadioDriverSim
	c.Radio.EncryptionKey = "000102030405060708090a0b0c0d0e0f"
	c.Radio.Sim.Listen = "127.0.0.1:0"
	c.Radio.Sim.Peer = "127.0.0.1:9"
	c.SetDefaults()
	return &c.Radio
}

func TestNodeAddress(t *testing.T) {
	t.Parallel()
	c := testRadioConfig()

	addr, dest := NodeAddress(c, RoleEmitter)
	assert.Equal(t, byte(config.DefaultNodeID), addr)
	assert.Equal(t, byte(config.DefaultDestinationID), dest)
	addr, dest = NodeAddress(c, RoleBase)
	assert.Equal(t, byte(config.DefaultDestinationID), addr)
	assert.Equal(t, byte(radio.Broadcast), dest)
}

func TestOpenNodeSim(t *testing.T) {
	t.Parallel()
	c := testRadioConfig()
	n, err := OpenNode(c, RoleEmitter, log2.NewTest(t, log2.LDebug))
	require.NoError(t, err)
	assert.Equal(t, byte(config.DefaultNodeID), n.Addr)
	assert.NoError(t, n.Close())
}

func TestOpenMediumErrors(t *testing.T) {
	t.Parallel()
	c := testRadioConfig()
	c.Driver = "carrier-pigeon"
	_, err := OpenMedium(c, RoleEmitter, nil)
	assert.True(t, errors.IsNotSupported(err))

	c = testRadioConfig()
	c.EncryptionKey = ""
	_, err = OpenMedium(c, RoleEmitter, nil)
	assert.True(t, errors.IsNotValid(errors.Cause(err)))
}
