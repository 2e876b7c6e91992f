// Package mqtt mirrors the process images of a DP master onto an MQTT
// broker. Inputs are published after every scheduler pass; outputs are
// taken from subscribed topics.
package mqtt

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"avaneesh/profibus-go/pkg/internal/logger"
	"avaneesh/profibus-go/pkg/master"
)

var (
	ErrNotStarted     = errors.New("bridge is not started")
	ErrAlreadyStarted = errors.New("bridge is already started")
	ErrConnectTimeout = errors.New("timeout connecting to broker")
)

// Config holds bridge configuration
type Config struct {
	Broker         string        // Broker URL, e.g. tcp://localhost:1883
	ClientID       string        // MQTT client identifier
	TopicPrefix    string        // Prepended to every topic
	QoS            byte          // QoS of published inputs and output subscription
	Retain         bool          // Publish inputs as retained messages
	ConnectTimeout time.Duration // Broker connect timeout
}

// DefaultConfig returns default bridge configuration
func DefaultConfig() Config {
	return Config{
		Broker:         "tcp://localhost:1883",
		ClientID:       "profibus-dpm",
		TopicPrefix:    "profibus",
		QoS:            0,
		ConnectTimeout: 5 * time.Second,
	}
}

// Client is the part of paho.Client the bridge uses
type Client interface {
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	Unsubscribe(topics ...string) paho.Token
}

// Master is the part of master.Master the bridge uses
type Master interface {
	Slave(addr uint8) *master.SlaveDesc
	OnTick(h master.TickHandler)
}

// Bridge connects a master to a broker
type Bridge struct {
	config Config
	client Client
	master Master
	logger logger.Logger

	mu        sync.Mutex
	started   bool
	hooked    bool
	connected bool // the connect made by Start has been reported
}

// ClientOptionsFromURL creates client options from a broker URL. The URL
// path, if any, overrides the topic prefix; the client-id query parameter
// overrides the client id.
func ClientOptionsFromURL(config Config) (*paho.ClientOptions, Config, error) {
	u, err := url.Parse(config.Broker)
	if err != nil {
		return nil, config, fmt.Errorf("invalid broker URL %q: %w", config.Broker, err)
	}
	scheme := u.Scheme
	if scheme == "" || scheme == "mqtt" {
		scheme = "tcp"
	}

	if prefix := strings.Trim(u.Path, "/"); prefix != "" {
		config.TopicPrefix = prefix
	}
	if id := u.Query().Get("client-id"); id != "" {
		config.ClientID = id
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(scheme + "://" + u.Host).
		SetClientID(config.ClientID).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetConnectTimeout(config.ConnectTimeout)
	if u.User != nil {
		opts.SetUsername(u.User.Username())
		if pwd, ok := u.User.Password(); ok {
			opts.SetPassword(pwd)
		}
	}
	return opts, config, nil
}

// New creates a bridge with a paho client built from config
func New(config Config, m Master, log logger.Logger) (*Bridge, error) {
	config = config.withDefaults()
	opts, config, err := ClientOptionsFromURL(config)
	if err != nil {
		return nil, err
	}
	b := &Bridge{config: config, master: m, logger: logger.OrNoOp(log)}
	opts.SetOnConnectHandler(b.onConnect)
	opts.SetConnectionLostHandler(b.onConnectionLost)
	b.client = paho.NewClient(opts)
	return b, nil
}

// NewWithClient creates a bridge on top of an existing client
func NewWithClient(config Config, client Client, m Master, log logger.Logger) *Bridge {
	return &Bridge{config: config.withDefaults(), client: client, master: m, logger: logger.OrNoOp(log)}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Broker == "" {
		c.Broker = d.Broker
	}
	if c.ClientID == "" {
		c.ClientID = d.ClientID
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	return c
}

// InputsTopic returns the topic the inputs of addr are published on
func (b *Bridge) InputsTopic(addr uint8) string {
	return b.topic(fmt.Sprintf("slave/%d/inputs", addr))
}

// OutputsTopic returns the topic the outputs of addr are read from
func (b *Bridge) OutputsTopic(addr uint8) string {
	return b.topic(fmt.Sprintf("slave/%d/outputs", addr))
}

func (b *Bridge) topic(suffix string) string {
	if b.config.TopicPrefix == "" {
		return suffix
	}
	return strings.TrimSuffix(b.config.TopicPrefix, "/") + "/" + suffix
}

// Start connects to the broker, subscribes the output topics and hooks
// the input publisher into the scheduler
func (b *Bridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return ErrAlreadyStarted
	}

	b.connected = false
	token := b.client.Connect()
	if !token.WaitTimeout(b.config.ConnectTimeout) {
		return ErrConnectTimeout
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connecting to %s failed: %w", b.config.Broker, err)
	}
	if err := b.subscribe(); err != nil {
		b.client.Disconnect(250)
		return err
	}

	if !b.hooked {
		b.master.OnTick(b.publishInputs)
		b.hooked = true
	}
	b.started = true
	b.logger.Info("MQTT bridge: connected to %s, prefix %q", b.config.Broker, b.config.TopicPrefix)
	return nil
}

func (b *Bridge) subscribe() error {
	filter := b.topic("slave/+/outputs")
	token := b.client.Subscribe(filter, b.config.QoS, b.onOutputs)
	if !token.WaitTimeout(b.config.ConnectTimeout) {
		return fmt.Errorf("timeout subscribing %s", filter)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribing %s failed: %w", filter, err)
	}
	return nil
}

// Stop unsubscribes and disconnects. The tick hook stays registered but
// publishes nothing until the bridge is started again.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return ErrNotStarted
	}
	b.started = false

	token := b.client.Unsubscribe(b.topic("slave/+/outputs"))
	token.WaitTimeout(b.config.ConnectTimeout)
	b.client.Disconnect(250)
	b.logger.Info("MQTT bridge: disconnected from %s", b.config.Broker)
	return token.Error()
}

func (b *Bridge) isStarted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.started
}

// publishInputs runs on the scheduler goroutine after every pass.
// Publishing does not wait for the broker.
func (b *Bridge) publishInputs(slaves []*master.SlaveDesc) {
	if !b.isStarted() {
		return
	}
	for _, s := range slaves {
		in, valid := s.Inputs()
		if !valid {
			in = []byte{}
		}
		b.client.Publish(b.InputsTopic(s.SlaveAddr), b.config.QoS, b.config.Retain, in)
	}
}

func (b *Bridge) onOutputs(_ paho.Client, msg paho.Message) {
	if err := b.applyOutputs(msg.Topic(), msg.Payload()); err != nil {
		b.logger.Warn("MQTT bridge: %v", err)
	}
}

// applyOutputs stores payload as the output image of the slave named in
// topic
func (b *Bridge) applyOutputs(topic string, payload []byte) error {
	addr, err := b.slaveAddrFromTopic(topic)
	if err != nil {
		return err
	}
	s := b.master.Slave(addr)
	if s == nil {
		return fmt.Errorf("outputs for unknown slave %d", addr)
	}
	if err := s.SetOutputs(payload); err != nil {
		return err
	}
	b.logger.Debug("MQTT bridge: slave %d outputs % X", addr, payload)
	return nil
}

func (b *Bridge) slaveAddrFromTopic(topic string) (uint8, error) {
	rest := topic
	if b.config.TopicPrefix != "" {
		prefix := strings.TrimSuffix(b.config.TopicPrefix, "/") + "/"
		if !strings.HasPrefix(topic, prefix) {
			return 0, fmt.Errorf("topic %q outside prefix %q", topic, b.config.TopicPrefix)
		}
		rest = topic[len(prefix):]
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[0] != "slave" || parts[2] != "outputs" {
		return 0, fmt.Errorf("unexpected topic %q", topic)
	}
	addr, err := strconv.ParseUint(parts[1], 10, 7)
	if err != nil {
		return 0, fmt.Errorf("invalid slave address in topic %q: %w", topic, err)
	}
	return uint8(addr), nil
}

// onConnect runs for the connect made by Start and for every automatic
// reconnect. Start subscribes by itself, so only reconnects subscribe here.
func (b *Bridge) onConnect(paho.Client) {
	b.logger.Info("MQTT bridge: connection established")
	b.mu.Lock()
	reconnect := b.connected
	b.connected = true
	started := b.started
	b.mu.Unlock()
	if !started || !reconnect {
		return
	}
	// Clean sessions drop subscriptions on reconnect
	if err := b.subscribe(); err != nil {
		b.logger.Error("MQTT bridge: %v", err)
	}
}

func (b *Bridge) onConnectionLost(_ paho.Client, err error) {
	b.logger.Warn("MQTT bridge: connection lost: %v", err)
}
