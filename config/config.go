// Package config reads HCL configuration of emitter and base station.
// Several sources may be given, later ones override earlier values.
// Each source may include more files:
//
//	include "local.hcl" { optional = true }
package config

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	"github.com/temoto/uplink/helpers"
	"github.com/temoto/uplink/log2"
)

const (
	DefaultFrequencyMHz    = 433.1
	DefaultTxPower         = 20
	DefaultNodeID          = 120
	DefaultDestinationID   = 100
	DefaultSpiSpeedHz      = 1000000
	DefaultIrqPinChip      = "/dev/gpiochip0"
	DefaultIrqPin          = 25
	DefaultSimListen       = "127.0.0.1:9120"
	DefaultSimPeer         = "127.0.0.1:9100"
	DefaultSimRSSI         = -60.0
	DefaultSensorAddress   = 0x76
	DefaultBaselineHPa     = 1032.0
	DefaultRetries         = 2
	RetriesLimit           = 255
	DefaultAckTimeout      = 1 * time.Second
	DefaultPause           = 100 * time.Millisecond
	DefaultFaultCooldown   = 1 * time.Second
	DefaultJournalDir      = "logs_files"
	DefaultMqttBroker      = "tcp://localhost:1883"
	DefaultTopicPrefix     = "uplink"
	DefaultMqttTimeout     = 5 * time.Second
	DefaultMonitorSource   = "-"
	DefaultMonitorBaud     = 115200
	DefaultMonitorControl  = "127.0.0.1:4000"
	DefaultMonitorWindow   = 50
	DefaultMonitorHistory  = 1000
	DefaultMonitorFrame    = 100 * time.Millisecond
	EncryptionKeySize      = 16
	RadioDriverRFM69       = "rfm69"
	RadioDriverSim         = "sim"
	SensorDriverBME280     = "bme280"
	SensorDriverSynthetic  = "synthetic"
	FaultPolicyCooldown    = "cooldown"
	FaultPolicyStop        = "stop"
	broadcastAddress       = 255
	txPowerMin, txPowerMax = -2, 20
)

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []Source `hcl:"include"`

	Radio   RadioConfig   `hcl:"radio"`
	Sensor  SensorConfig  `hcl:"sensor"`
	Uplink  UplinkConfig  `hcl:"uplink"`
	Journal JournalConfig `hcl:"journal"`
	Tele    TeleConfig    `hcl:"tele"`
	Monitor MonitorConfig `hcl:"monitor"`
	Metrics struct {
		Listen string `hcl:"listen"`
	} `hcl:"metrics"`
	LogDebug bool `hcl:"log_debug"`

	_copy_guard sync.Mutex //nolint:unused
}

type Source struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

type RadioConfig struct { //nolint:maligned
	Driver        string  `hcl:"driver"`
	FrequencyMHz  float64 `hcl:"frequency_mhz"`
	TxPower       *int    `hcl:"tx_power"`
	EncryptionKey string  `hcl:"encryption_key"`
	NodeID        int     `hcl:"node_id"`
	DestinationID int     `hcl:"destination_id"`
	SpiBus        string  `hcl:"spi_bus"`
	SpiSpeedHz    int     `hcl:"spi_speed"`
	IrqPinChip    string  `hcl:"irq_pin_chip"`
	IrqPin        int     `hcl:"irq_pin"`
	ResetPin      *int    `hcl:"reset_pin"`
	LogDebug      bool    `hcl:"log_debug"`
	Sim           struct {
		Listen string  `hcl:"listen"`
		Peer   string  `hcl:"peer"`
		Loss   float64 `hcl:"loss"`
		RSSI   float64 `hcl:"rssi"`
	} `hcl:"sim"`
}

type SensorConfig struct {
	Driver      string  `hcl:"driver"`
	I2CBus      string  `hcl:"i2c_bus"`
	Address     int     `hcl:"address"`
	BaselineHPa float64 `hcl:"baseline_hpa"`
}

type UplinkConfig struct {
	Retries         *int   `hcl:"retries"`
	AckTimeoutMs    int    `hcl:"ack_timeout_ms"`
	PauseMs         *int   `hcl:"pause_ms"`
	FaultPolicy     string `hcl:"fault_policy"`
	FaultCooldownMs *int   `hcl:"fault_cooldown_ms"`
}

type JournalConfig struct {
	Enable bool   `hcl:"enable"`
	Dir    string `hcl:"dir"`
}

type TeleConfig struct {
	Enable         bool   `hcl:"enable"`
	MqttBroker     string `hcl:"mqtt_broker"`
	ClientID       string `hcl:"client_id"`
	TopicPrefix    string `hcl:"topic_prefix"`
	Username       string `hcl:"username"`
	Password       string `hcl:"password"`
	Qos            int    `hcl:"qos"`
	TimeoutSec     int    `hcl:"timeout_sec"`
	LogDebug       bool   `hcl:"log_debug"`
	ConnectRetries int    `hcl:"connect_retries"`
}

// MonitorConfig is the ground station view of base station output.
// Source "-" reads stdin, a device path reads serial port.
type MonitorConfig struct {
	Source        string `hcl:"source"`
	Baud          int    `hcl:"baud"`
	ControlListen string `hcl:"control_listen"` // "off" disables
	Window        int    `hcl:"window"`
	History       int    `hcl:"history"`
	FrameMs       int    `hcl:"frame_ms"`
	Headless      bool   `hcl:"headless"`
}

func (m *MonitorConfig) Frame() time.Duration {
	return helpers.IntMillisecondDefault(m.FrameMs, DefaultMonitorFrame)
}

func (r *RadioConfig) Power() int {
	if r.TxPower == nil {
		return DefaultTxPower
	}
	return *r.TxPower
}

// Key decodes hex encryption key.
func (r *RadioConfig) Key() ([]byte, error) {
	if r.EncryptionKey == "" {
		return nil, errors.NotValidf("radio.encryption_key is required")
	}
	k, err := helpers.ParseHexKey(r.EncryptionKey, EncryptionKeySize)
	return k, errors.Annotate(err, "radio.encryption_key")
}

// MaxRetries is clamped to 0..RetriesLimit, Validate reports values outside.
func (u *UplinkConfig) MaxRetries() uint32 {
	switch {
	case u.Retries == nil:
		return DefaultRetries
	case *u.Retries < 0:
		return 0
	case *u.Retries > RetriesLimit:
		return RetriesLimit
	}
	return uint32(*u.Retries)
}
func (u *UplinkConfig) AckTimeout() time.Duration {
	return helpers.IntMillisecondDefault(u.AckTimeoutMs, DefaultAckTimeout)
}

// Pause and FaultCooldown honor explicit 0: back to back cycles, immediate retry after fault.
func (u *UplinkConfig) Pause() time.Duration {
	return msDefault(u.PauseMs, DefaultPause)
}
func (u *UplinkConfig) FaultCooldown() time.Duration {
	return msDefault(u.FaultCooldownMs, DefaultFaultCooldown)
}

func msDefault(x *int, def time.Duration) time.Duration {
	if x == nil {
		return def
	}
	return time.Duration(*x) * time.Millisecond
}

func (t *TeleConfig) Timeout() time.Duration {
	return helpers.IntSecondDefault(t.TimeoutSec, DefaultMqttTimeout)
}

// SetDefaults fills zero fields, except those where zero is meaningful
// (retries, tx power, pause, fault cooldown) which use pointers and accessor methods.
func (c *Config) SetDefaults() {
	r := &c.Radio
	if r.Driver == "" {
		r.Driver = RadioDriverRFM69
	}
	if r.FrequencyMHz == 0 {
		r.FrequencyMHz = DefaultFrequencyMHz
	}
	if r.NodeID == 0 {
		r.NodeID = DefaultNodeID
	}
	if r.DestinationID == 0 {
		r.DestinationID = DefaultDestinationID
	}
	if r.SpiSpeedHz == 0 {
		r.SpiSpeedHz = DefaultSpiSpeedHz
	}
	if r.IrqPinChip == "" {
		r.IrqPinChip = DefaultIrqPinChip
	}
	if r.IrqPin == 0 {
		r.IrqPin = DefaultIrqPin
	}
	if r.Sim.Listen == "" {
		r.Sim.Listen = DefaultSimListen
	}
	if r.Sim.Peer == "" {
		r.Sim.Peer = DefaultSimPeer
	}
	if r.Sim.RSSI == 0 {
		r.Sim.RSSI = DefaultSimRSSI
	}

	s := &c.Sensor
	if s.Driver == "" {
		s.Driver = SensorDriverBME280
	}
	if s.Address == 0 {
		s.Address = DefaultSensorAddress
	}
	if s.BaselineHPa == 0 {
		s.BaselineHPa = DefaultBaselineHPa
	}

	if c.Uplink.FaultPolicy == "" {
		c.Uplink.FaultPolicy = FaultPolicyCooldown
	}
	if c.Journal.Dir == "" {
		c.Journal.Dir = DefaultJournalDir
	}
	if c.Tele.MqttBroker == "" {
		c.Tele.MqttBroker = DefaultMqttBroker
	}
	if c.Tele.TopicPrefix == "" {
		c.Tele.TopicPrefix = DefaultTopicPrefix
	}

	m := &c.Monitor
	if m.Source == "" {
		m.Source = DefaultMonitorSource
	}
	if m.Baud == 0 {
		m.Baud = DefaultMonitorBaud
	}
	if m.ControlListen == "" {
		m.ControlListen = DefaultMonitorControl
	}
	if m.Window == 0 {
		m.Window = DefaultMonitorWindow
	}
	if m.History == 0 {
		m.History = DefaultMonitorHistory
	}
}

func (c *Config) Validate() error {
	errs := make([]error, 0, 4)
	r := &c.Radio
	switch r.Driver {
	case RadioDriverRFM69, RadioDriverSim:
	default:
		errs = append(errs, errors.NotValidf("radio.driver=%q", r.Driver))
	}
	if r.FrequencyMHz < 290 || r.FrequencyMHz > 1020 {
		errs = append(errs, errors.NotValidf("radio.frequency_mhz=%v", r.FrequencyMHz))
	}
	if p := r.Power(); p < txPowerMin || p > txPowerMax {
		errs = append(errs, errors.NotValidf("radio.tx_power=%d range=%d..%d", p, txPowerMin, txPowerMax))
	}
	if _, err := r.Key(); err != nil {
		errs = append(errs, err)
	}
	if r.NodeID < 1 || r.NodeID >= broadcastAddress {
		errs = append(errs, errors.NotValidf("radio.node_id=%d", r.NodeID))
	}
	if r.DestinationID < 1 || r.DestinationID > broadcastAddress {
		errs = append(errs, errors.NotValidf("radio.destination_id=%d", r.DestinationID))
	}
	if r.NodeID == r.DestinationID {
		errs = append(errs, errors.NotValidf("radio.node_id equals destination_id=%d", r.NodeID))
	}
	if r.Sim.Loss < 0 || r.Sim.Loss > 1 {
		errs = append(errs, errors.NotValidf("radio.sim.loss=%v", r.Sim.Loss))
	}

	switch c.Sensor.Driver {
	case SensorDriverBME280, SensorDriverSynthetic:
	default:
		errs = append(errs, errors.NotValidf("sensor.driver=%q", c.Sensor.Driver))
	}

	u := &c.Uplink
	if u.Retries != nil && (*u.Retries < 0 || *u.Retries > RetriesLimit) {
		errs = append(errs, errors.NotValidf("uplink.retries=%d range=0..%d", *u.Retries, RetriesLimit))
	}
	if u.AckTimeoutMs < 0 || negative(u.PauseMs) || negative(u.FaultCooldownMs) {
		errs = append(errs, errors.NotValidf("uplink durations must not be negative"))
	}
	switch strings.ToLower(u.FaultPolicy) {
	case FaultPolicyCooldown, FaultPolicyStop:
	default:
		errs = append(errs, errors.NotValidf("uplink.fault_policy=%q", u.FaultPolicy))
	}

	if c.Tele.Qos < 0 || c.Tele.Qos > 2 {
		errs = append(errs, errors.NotValidf("tele.qos=%d", c.Tele.Qos))
	}

	m := &c.Monitor
	if m.Baud < 0 {
		errs = append(errs, errors.NotValidf("monitor.baud=%d", m.Baud))
	}
	if m.Window < 2 {
		errs = append(errs, errors.NotValidf("monitor.window=%d min=2", m.Window))
	}
	if m.History < m.Window {
		errs = append(errs, errors.NotValidf("monitor.history=%d less than window=%d", m.History, m.Window))
	}
	if m.FrameMs < 0 {
		errs = append(errs, errors.NotValidf("monitor.frame_ms=%d", m.FrameMs))
	}
	return helpers.FoldErrors(errs)
}

func (c *Config) read(log *log2.Log, fs FullReader, source Source, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		*errs = append(*errs, errors.Errorf("config duplicate source=%s", source.Name))
		return
	}
	log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	c.includeSeen[source.Name] = struct{}{}
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			err = errors.NotFoundf("config required name=%s path=%s", source.Name, norm)
			*errs = append(*errs, err)
		}
		return
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	if err = hcl.Unmarshal(bs, c); err != nil {
		err = errors.Annotatef(err, "config unmarshal source=%s", source.Name)
		*errs = append(*errs, err)
		return
	}

	var includes []Source
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		includeNorm := fs.Normalize(include.Name)
		if _, ok := c.includeSeen[includeNorm]; ok {
			err = errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name)
			*errs = append(*errs, err)
			continue
		}
		c.read(log, fs, include, errs)
	}
}

// ReadConfig reads all sources in order, applies defaults and validates.
func ReadConfig(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		return nil, errors.Errorf("code error ReadConfig() without names")
	}

	if osfs, ok := fs.(*OsFullReader); ok {
		dir, name := filepath.Split(names[0])
		osfs.SetBase(dir)
		names[0] = name
	}
	c := &Config{
		includeSeen: make(map[string]struct{}),
	}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, Source{Name: name}, &errs)
	}
	if err := helpers.FoldErrors(errs); err != nil {
		return nil, err
	}
	c.SetDefaults()
	return c, c.Validate()
}

func MustReadConfig(log *log2.Log, fs FullReader, names ...string) *Config {
	c, err := ReadConfig(log, fs, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}

func negative(x *int) bool { return x != nil && *x < 0 }
