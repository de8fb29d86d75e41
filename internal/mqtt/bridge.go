// Package mqtt bridges mesh state to an MQTT broker with Home Assistant
// autodiscovery.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"casambi-go/internal/client"
	"casambi-go/internal/logging"
	"casambi-go/internal/protocol"
	"casambi-go/internal/registry"
	"casambi-go/internal/switches"
)

// Defaults for bridge configuration.
const (
	defaultClientID    = "casambi-go"
	defaultTopicPrefix = "casambi"

	commandTimeout = 10 * time.Second
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	ClientID    string
	TopicPrefix string
}

// Bridge publishes unit state and switch events to MQTT with Home
// Assistant autodiscovery, and turns command topic traffic into mesh
// operations.
type Bridge struct {
	mqtt   pahomqtt.Client
	casa   *client.Client
	prefix string

	unsubState  func()
	unsubSwitch func()
}

// NewBridge creates and connects a bridge.
func NewBridge(casa *client.Client, cfg Config) (*Bridge, error) {
	if cfg.ClientID == "" {
		cfg.ClientID = defaultClientID
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = defaultTopicPrefix
	}

	b := &Bridge{casa: casa, prefix: cfg.TopicPrefix}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(cfg.TopicPrefix+"/bridge/state", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			logging.Info("MQTT connected", zap.String("broker", cfg.Broker))
			b.publish(b.prefix+"/bridge/state", []byte("online"), true)
			b.publishAllDiscovery()
			b.subscribeCommands()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			logging.Warn("MQTT connection lost", zap.Error(err))
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	mqttClient := pahomqtt.NewClient(opts)
	token := mqttClient.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	b.mqtt = mqttClient
	return b, nil
}

// Start subscribes to mesh events and begins publishing.
func (b *Bridge) Start() {
	b.unsubState = b.casa.Registry().Subscribe(b.handleUnit)
	b.unsubSwitch = b.casa.SubscribeSwitchEvents(b.handleSwitch)
	logging.Info("MQTT bridge started", zap.String("prefix", b.prefix))
}

// Stop publishes offline state, unsubscribes and disconnects.
func (b *Bridge) Stop() {
	if b.unsubState != nil {
		b.unsubState()
	}
	if b.unsubSwitch != nil {
		b.unsubSwitch()
	}
	b.publish(b.prefix+"/bridge/state", []byte("offline"), true)
	b.mqtt.Disconnect(1000)
	logging.Info("MQTT bridge stopped")
}

func (b *Bridge) handleUnit(u registry.Unit) {
	payload, err := json.Marshal(statePayload(u))
	if err != nil {
		return
	}
	b.publish(stateTopic(b.prefix, u.ID), payload, true)
	b.publish(availabilityTopic(b.prefix, u.ID), []byte(availabilityPayload(u)), true)
}

func (b *Bridge) handleSwitch(ev switches.Event) {
	b.publish(switchTopic(b.prefix, ev), []byte(strings.ToLower(ev.Edge.String())), false)
}

func (b *Bridge) publishAllDiscovery() {
	for _, u := range b.casa.Registry().Units() {
		payload, err := json.Marshal(discoveryPayload(b.prefix, u))
		if err != nil {
			continue
		}
		b.publish(discoveryTopic(u.ID), payload, true)
	}
}

func (b *Bridge) subscribeCommands() {
	topic := b.prefix + "/+/set"
	b.mqtt.Subscribe(topic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		unitID, ok := unitFromCommandTopic(b.prefix, msg.Topic())
		if !ok {
			logging.Warn("Command on unparseable topic", zap.String("topic", msg.Topic()))
			return
		}
		b.handleCommand(unitID, msg.Payload())
	})
}

func (b *Bridge) handleCommand(unitID uint8, payload []byte) {
	cmd, err := parseCommand(payload)
	if err != nil {
		logging.Warn("Invalid command payload",
			zap.Uint8("unit", unitID),
			zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	target := protocol.UnitTarget(unitID)
	switch {
	case cmd.Brightness != nil:
		level := *cmd.Brightness
		if level > 100 {
			level = 100
		}
		err = b.casa.SetLevel(ctx, target, level)
	case cmd.State == "ON":
		err = b.casa.TurnOn(ctx, target)
	case cmd.State == "OFF":
		err = b.casa.TurnOff(ctx, target)
	}
	if err != nil {
		logging.Warn("Command failed", zap.Uint8("unit", unitID), zap.Error(err))
	}
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.mqtt.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			logging.Warn("MQTT publish timeout", zap.String("topic", topic))
		} else if err := token.Error(); err != nil {
			logging.Warn("MQTT publish error", zap.String("topic", topic), zap.Error(err))
		}
	}()
}

// command is the JSON body accepted on a unit's set topic.
type command struct {
	State      string `json:"state,omitempty"`
	Brightness *uint8 `json:"brightness,omitempty"`
}

func parseCommand(payload []byte) (command, error) {
	var cmd command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return command{}, err
	}
	cmd.State = strings.ToUpper(cmd.State)
	if cmd.State != "" && cmd.State != "ON" && cmd.State != "OFF" {
		return command{}, fmt.Errorf("unknown state %q", cmd.State)
	}
	return cmd, nil
}

func stateTopic(prefix string, unitID uint8) string {
	return fmt.Sprintf("%s/%d/state", prefix, unitID)
}

func availabilityTopic(prefix string, unitID uint8) string {
	return fmt.Sprintf("%s/%d/availability", prefix, unitID)
}

func switchTopic(prefix string, ev switches.Event) string {
	return fmt.Sprintf("%s/switch/%d/button_%d", prefix, ev.Unit, ev.Button)
}

func discoveryTopic(unitID uint8) string {
	return fmt.Sprintf("homeassistant/light/casambi_%d/config", unitID)
}

// unitFromCommandTopic extracts the unit id from "<prefix>/<id>/set".
func unitFromCommandTopic(prefix, topic string) (uint8, bool) {
	rest, ok := strings.CutPrefix(topic, prefix+"/")
	if !ok {
		return 0, false
	}
	idStr, ok := strings.CutSuffix(rest, "/set")
	if !ok || strings.Contains(idStr, "/") {
		return 0, false
	}
	var id int
	if _, err := fmt.Sscanf(idStr, "%d", &id); err != nil || id < 0 || id > 255 {
		return 0, false
	}
	return uint8(id), true
}

func statePayload(u registry.Unit) map[string]any {
	state := "OFF"
	if u.On {
		state = "ON"
	}
	return map[string]any{
		"state":      state,
		"brightness": u.Level,
	}
}

func availabilityPayload(u registry.Unit) string {
	if u.Online {
		return "online"
	}
	return "offline"
}

// discoveryPayload builds the Home Assistant JSON-schema light config for
// one unit.
func discoveryPayload(prefix string, u registry.Unit) map[string]any {
	name := u.Name
	if name == "" {
		name = fmt.Sprintf("Unit %d", u.ID)
	}

	payload := map[string]any{
		"schema":             "json",
		"name":               name,
		"unique_id":          fmt.Sprintf("casambi_%d", u.ID),
		"state_topic":        stateTopic(prefix, u.ID),
		"command_topic":      fmt.Sprintf("%s/%d/set", prefix, u.ID),
		"availability_topic": availabilityTopic(prefix, u.ID),
	}
	if u.Capabilities&registry.CapDimmable != 0 {
		payload["brightness"] = true
		payload["brightness_scale"] = 100
	}
	if u.Capabilities&registry.CapColor != 0 {
		payload["supported_color_modes"] = []string{"hs"}
	}
	return payload
}
