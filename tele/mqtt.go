package tele

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/temoto/uplink/config"
	"github.com/temoto/uplink/helpers"
	"github.com/temoto/uplink/log2"
)

const (
	connectPoll   = 200 * time.Millisecond
	clientPrefix  = "uplink-base-"
	payloadOnline = `{"online":true}`
	payloadGone   = `{"online":false}`
)

var ErrStopped = errors.New("mqtt publisher stopped")

var setLoggerOnce sync.Once

// SetLogger routes paho internal messages into log. Paho loggers are globals,
// only first call has effect.
func SetLogger(log *log2.Log, debug bool) {
	setLoggerOnce.Do(func() {
		mqttLog := log.Clone(log2.LDebug)
		mqtt.CRITICAL = mqttLog
		mqtt.ERROR = mqttLog
		mqtt.WARN = mqttLog
		if debug {
			mqtt.DEBUG = mqttLog
		}
	})
}

// MqttPublisher publishes to "<prefix>/<station>/telemetry",
// station online status is retained at "<prefix>/<station>/status" with last will.
type MqttPublisher struct {
	Log  *log2.Log
	Stat Stat

	client      mqtt.Client
	clientID    string
	qos         byte
	timeout     time.Duration
	retries     int
	topicTele   string
	topicStatus string
	stopOnce    sync.Once
	stopCh      chan struct{}
}

var _ Publisher = &MqttPublisher{}

// ClientID returns configured id or random one.
func ClientID(c *config.TeleConfig) string {
	if c.ClientID != "" {
		return c.ClientID
	}
	return clientPrefix + uuid.New().String()
}

func NewMqtt(c *config.TeleConfig, station string, log *log2.Log) (*MqttPublisher, error) {
	if c.MqttBroker == "" {
		return nil, errors.NotValidf("tele.mqtt_broker empty")
	}
	if station == "" || strings.ContainsAny(station, "/+#") {
		return nil, errors.NotValidf("tele station id=%q", station)
	}
	p := &MqttPublisher{
		Log:      log,
		clientID: ClientID(c),
		qos:      byte(c.Qos),
		timeout:  c.Timeout(),
		retries:  c.ConnectRetries,
		stopCh:   make(chan struct{}),
	}
	prefix := strings.TrimSuffix(c.TopicPrefix, "/")
	p.topicTele = fmt.Sprintf("%s/%s/telemetry", prefix, station)
	p.topicStatus = fmt.Sprintf("%s/%s/status", prefix, station)

	opt := mqtt.NewClientOptions().
		AddBroker(c.MqttBroker).
		SetClientID(p.clientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectTimeout(p.timeout).
		SetWriteTimeout(p.timeout).
		SetPingTimeout(p.timeout).
		SetKeepAlive(30*time.Second).
		SetMaxReconnectInterval(time.Minute).
		SetOrderMatters(false).
		SetWill(p.topicStatus, payloadGone, 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			p.Stat.Lost.Add(1)
			p.Log.Errorf("tele: mqtt connection lost: %v", err)
		})
	if c.Username != "" {
		opt.SetUsername(c.Username).SetPassword(c.Password)
	}
	// unlimited retries are left to paho
	if p.retries == 0 {
		opt.SetConnectRetry(true).SetConnectRetryInterval(time.Second)
	}
	p.client = mqtt.NewClient(opt)
	return p, nil
}

func (p *MqttPublisher) ClientID() string { return p.clientID }
func (p *MqttPublisher) Topic() string    { return p.topicTele }

func (p *MqttPublisher) onConnect(c mqtt.Client) {
	p.Stat.Connects.Add(1)
	p.Log.Infof("tele: mqtt connected client=%s", p.clientID)
	// status publish must not block paho connection goroutine
	go func() {
		t := c.Publish(p.topicStatus, 1, true, payloadOnline)
		if err := p.tokenWait(t, "publish status"); err != nil {
			p.Log.Error(err)
		}
	}()
}

// Connect waits for initial connection, respects ctx and Close.
// With tele.connect_retries=N gives up after N+1 failed attempts.
func (p *MqttPublisher) Connect(ctx context.Context) error {
	if p.client.IsConnected() {
		return nil
	}
	backoff := helpers.Backoff{Min: time.Second, Max: 30 * time.Second, K: 2}
	for attempt := 1; ; attempt++ {
		t := p.client.Connect()
		for !t.WaitTimeout(connectPoll) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-p.stopCh:
				return ErrStopped
			default:
			}
		}
		err := t.Error()
		if err == nil {
			return nil
		}
		err = errors.Annotatef(err, "mqtt connect attempt=%d", attempt)
		if p.retries == 0 || attempt > p.retries {
			return err
		}
		p.Log.Error(err)
		backoff.Failure()
		select {
		case <-time.After(backoff.Current()):
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stopCh:
			return ErrStopped
		}
	}
}

func (p *MqttPublisher) Publish(ctx context.Context, t *Telemetry) error {
	select {
	case <-p.stopCh:
		return ErrStopped
	default:
	}
	if !p.client.IsConnectionOpen() {
		p.Stat.Errors.Add(1)
		return errors.Errorf("tele: mqtt not connected")
	}
	b, err := t.Marshal()
	if err != nil {
		p.Stat.Errors.Add(1)
		return errors.Annotate(err, "tele marshal")
	}
	tok := p.client.Publish(p.topicTele, p.qos, false, b)
	if err = p.tokenWait(tok, "publish telemetry"); err != nil {
		p.Stat.Errors.Add(1)
		return err
	}
	p.Stat.Published.Add(1)
	p.Log.Debugf("tele: published topic=%s seq=%d", p.topicTele, t.Sequence)
	return nil
}

// Close publishes offline status and disconnects. Idempotent.
func (p *MqttPublisher) Close() error {
	var err error
	p.stopOnce.Do(func() {
		close(p.stopCh)
		if p.client.IsConnectionOpen() {
			t := p.client.Publish(p.topicStatus, 1, true, payloadGone)
			err = p.tokenWait(t, "publish status")
		}
		p.client.Disconnect(uint(p.timeout / time.Millisecond))
	})
	return err
}

func (p *MqttPublisher) tokenWait(t mqtt.Token, tag string) error {
	if !t.WaitTimeout(p.timeout) {
		return errors.Timeoutf("tele: mqtt %s", tag)
	}
	return errors.Annotatef(t.Error(), "tele: mqtt %s", tag)
}
