package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/ericogr/adc-sampler/pkg/config"
	"github.com/ericogr/adc-sampler/pkg/output"
	"github.com/ericogr/adc-sampler/pkg/regs"
	"github.com/ericogr/adc-sampler/pkg/sensor"
)

const (
	// defaults
	DefaultServer      = "tcp://localhost:1883"
	DefaultClientID    = "adc-sampler"
	perChannelTopicFmt = "adc/channel/%d"
	disconnectQuiesce  = 250
	// discovery payload keys/values
	keyName                = "name"
	keyStateTopic          = "state_topic"
	keyCommandTopic        = "command_topic"
	keyUnitOfMeasurement   = "unit_of_measurement"
	keyDeviceClass         = "device_class"
	keyStateClass          = "state_class"
	keyValueTemplate       = "value_template"
	keyJSONAttributesTopic = "json_attributes_topic"
	keyUniqueID            = "unique_id"
	unitMillivolts         = "mV"
	deviceClassVoltage     = "voltage"
	stateClassMeasurement  = "measurement"
	valueTemplateMV        = "{{ value_json.millivolts }}"
)

var errNotConnected = errors.New("mqtt client not connected")

// statePayload is published once per channel for every new snapshot.
type statePayload struct {
	Channel    int    `json:"channel"`
	Millivolts int32  `json:"millivolts"`
	Seq        uint32 `json:"seq"`
	UptimeMs   int64  `json:"uptime_ms"`
}

type MQTTOutput struct {
	client   mqtt.Client
	cfg      config.MQTTConfig
	injector sensor.Injector
	logger   *slog.Logger
}

// NewMQTT connects to the broker and publishes discovery if configured. When
// inj is non-nil and a command topic is set, per-channel command topics are
// (re)subscribed on every connect and forward values to inj.
func NewMQTT(cfg config.MQTTConfig, inj sensor.Injector, logger *slog.Logger) (output.Output, error) {
	if cfg.Server == "" {
		cfg.Server = DefaultServer
	}
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID + "-" + uuid.NewString()[:8]
	}
	m := newMQTTOutput(nil, cfg, inj, logger)

	opts := mqtt.NewClientOptions().AddBroker(cfg.Server).SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		m.logger.Info("mqtt connected", "server", cfg.Server, "client_id", cfg.ClientID)
		m.subscribeCommands(c)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		m.logger.Warn("mqtt connection lost", "error", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	m.client = client
	m.publishDiscovery()
	return m, nil
}

func newMQTTOutput(client mqtt.Client, cfg config.MQTTConfig, inj sensor.Injector, logger *slog.Logger) *MQTTOutput {
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTTOutput{
		client:   client,
		cfg:      cfg,
		injector: inj,
		logger:   logger.With("component", "mqtt"),
	}
}

func (m *MQTTOutput) Publish(snap regs.Snapshot) error {
	for ch, mv := range snap.Channels {
		b, err := json.Marshal(statePayload{
			Channel:    ch,
			Millivolts: mv,
			Seq:        snap.Sequence,
			UptimeMs:   snap.LastUpdateMs,
		})
		if err != nil {
			return err
		}
		token := m.client.Publish(formatStateTopic(m.cfg.StateTopic, ch), 0, false, b)
		token.Wait()
		if token.Error() != nil {
			return token.Error()
		}
	}
	return nil
}

func (m *MQTTOutput) Close() error {
	if m.client != nil {
		m.client.Disconnect(disconnectQuiesce)
	}
	return nil
}

// PublishRaw sends payload to topic; discovery entries go out retained.
func (m *MQTTOutput) PublishRaw(topic string, payload []byte, retained bool) error {
	if m.client == nil {
		return errNotConnected
	}
	token := m.client.Publish(topic, 0, retained, payload)
	token.Wait()
	return token.Error()
}

func (m *MQTTOutput) publishRetainedJSON(topic string, payload map[string]interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return m.PublishRaw(topic, b, true)
}

// publishDiscovery sends retained Home Assistant discovery entries, one per
// channel when the discovery topic has a %d formatter.
func (m *MQTTOutput) publishDiscovery() {
	if m.cfg.DiscoveryTopic == "" {
		return
	}
	if !strings.Contains(m.cfg.DiscoveryTopic, "%d") {
		payload := baseDiscoveryPayload(discoveryName(m.cfg, -1), formatStateTopic(m.cfg.StateTopic, 0), discoveryUniqueID(m.cfg, -1))
		if err := m.publishRetainedJSON(m.cfg.DiscoveryTopic, payload); err != nil {
			m.logger.Error("mqtt discovery publish error", "error", err)
		}
		return
	}
	for ch := 0; ch < regs.NumChannels; ch++ {
		payload := baseDiscoveryPayload(discoveryName(m.cfg, ch), formatStateTopic(m.cfg.StateTopic, ch), discoveryUniqueID(m.cfg, ch))
		if m.injector != nil && m.cfg.CommandTopic != "" {
			payload[keyCommandTopic] = fmt.Sprintf(m.cfg.CommandTopic, ch)
		}
		if err := m.publishRetainedJSON(fmt.Sprintf(m.cfg.DiscoveryTopic, ch), payload); err != nil {
			m.logger.Error("mqtt discovery publish error", "channel", ch, "error", err)
		}
	}
}

func (m *MQTTOutput) subscribeCommands(c mqtt.Client) {
	if m.injector == nil || m.cfg.CommandTopic == "" {
		return
	}
	for ch := 0; ch < regs.NumChannels; ch++ {
		topic := fmt.Sprintf(m.cfg.CommandTopic, ch)
		token := c.Subscribe(topic, 0, m.commandHandler(ch))
		if token.Wait() && token.Error() != nil {
			m.logger.Error("mqtt subscribe error", "topic", topic, "error", token.Error())
		}
	}
}

// commandHandler accepts a decimal millivolt value, or a JSON object with a
// millivolts field, and injects it on channel ch.
func (m *MQTTOutput) commandHandler(ch int) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		mv, err := parseCommand(msg.Payload())
		if err != nil {
			m.logger.Warn("mqtt command ignored", "topic", msg.Topic(), "error", err)
			return
		}
		if _, err := m.injector.Inject(ch, mv); err != nil {
			m.logger.Warn("mqtt command rejected", "topic", msg.Topic(), "error", err)
		}
	}
}

func parseCommand(payload []byte) (int32, error) {
	s := strings.TrimSpace(string(payload))
	if strings.HasPrefix(s, "{") {
		var body struct {
			Millivolts *int32 `json:"millivolts"`
		}
		if err := json.Unmarshal([]byte(s), &body); err != nil {
			return 0, err
		}
		if body.Millivolts == nil {
			return 0, fmt.Errorf("missing millivolts")
		}
		return *body.Millivolts, nil
	}
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return int32(v), nil
}

// helper: format a state topic for a channel using an optional formatter
func formatStateTopic(base string, ch int) string {
	if base != "" {
		if strings.Contains(base, "%d") {
			return fmt.Sprintf(base, ch)
		}
		return base
	}
	return fmt.Sprintf(perChannelTopicFmt, ch)
}

// helper: build a human-friendly discovery name; ch < 0 means no channel suffix
func discoveryName(cfg config.MQTTConfig, ch int) string {
	name := cfg.DiscoveryName
	if name == "" {
		name = fmt.Sprintf("ADC %s", cfg.ClientID)
	}
	if ch >= 0 {
		name = fmt.Sprintf("%s ch%d", name, ch)
	}
	return name
}

func discoveryUniqueID(cfg config.MQTTConfig, ch int) string {
	uid := cfg.DiscoveryUniqueID
	if uid == "" {
		uid = cfg.ClientID
	}
	if uid != "" && ch >= 0 {
		uid = fmt.Sprintf("%s_%d", uid, ch)
	}
	return uid
}

func baseDiscoveryPayload(name, stateTopic, uniqueID string) map[string]interface{} {
	payload := map[string]interface{}{
		keyName:                name,
		keyStateTopic:          stateTopic,
		keyUnitOfMeasurement:   unitMillivolts,
		keyDeviceClass:         deviceClassVoltage,
		keyStateClass:          stateClassMeasurement,
		keyValueTemplate:       valueTemplateMV,
		keyJSONAttributesTopic: stateTopic,
	}
	if uniqueID != "" {
		payload[keyUniqueID] = uniqueID
	}
	return payload
}
