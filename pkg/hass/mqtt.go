package hass

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/levenlabs/go-lflag"

	"github.com/jameshartig/gridplan/pkg/log"
)

const publishTimeout = 5 * time.Second

// MQTTClient implements Client over a Home Assistant MQTT statestream.
// Entity states and attributes arrive as retained messages on
// <statestream-topic>/<domain>/<object_id>/{state,<attribute>} and are cached
// locally, so reads never touch the network. Mode changes are published as
// service-call payloads to a proxy topic that an automation on the HA side
// executes.
type MQTTClient struct {
	client mqtt.Client

	broker       string
	clientID     string
	username     string
	password     string
	streamTopic  string
	serviceTopic string

	mu      sync.RWMutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	value      string
	attributes map[string]any
}

// Configured sets up the MQTT client.
// It registers flags for configuration; Init must be called after lflag.Configure.
func Configured() *MQTTClient {
	broker := lflag.RequiredString("mqtt-broker", "MQTT broker address (host:port)")
	clientID := lflag.String("mqtt-client-id", "gridplan", "MQTT client ID")
	username := lflag.String("mqtt-username", "", "MQTT username")
	password := lflag.String("mqtt-password", "", "MQTT password")
	streamTopic := lflag.String("mqtt-statestream-topic", "homeassistant/statestream", "base topic of the HA statestream")
	serviceTopic := lflag.String("mqtt-service-topic", "homeassistant/service_call", "topic the HA service-call automation listens on")

	c := &MQTTClient{
		entries: make(map[string]*cacheEntry),
	}

	lflag.Do(func() {
		c.broker = *broker
		c.clientID = *clientID
		c.username = *username
		c.password = *password
		c.streamTopic = strings.TrimSuffix(*streamTopic, "/")
		c.serviceTopic = *serviceTopic
	})

	return c
}

// Init connects to the broker and subscribes to the statestream.
// This must be called before using the client methods.
func (c *MQTTClient) Init(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", c.broker))
	opts.SetClientID(c.clientID)
	opts.SetUsername(c.username)
	opts.SetPassword(c.password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Ctx(ctx).WarnContext(ctx, "mqtt connection lost", slog.Any("error", err))
	})
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		topic := c.streamTopic + "/#"
		token := client.Subscribe(topic, 0, c.handleMessage)
		if token.Wait() && token.Error() != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to subscribe to statestream",
				slog.String("topic", topic), slog.Any("error", token.Error()))
			return
		}
		log.Ctx(ctx).InfoContext(ctx, "subscribed to statestream", slog.String("topic", topic))
	})

	c.client = mqtt.NewClient(opts)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to mqtt broker %s: %w", c.broker, token.Error())
	}
	return nil
}

// Close disconnects from the broker.
func (c *MQTTClient) Close() error {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
	}
	return nil
}

// handleMessage caches one statestream message. Topics look like
// <base>/<domain>/<object_id>/state for the value and
// <base>/<domain>/<object_id>/<attribute> for everything else.
func (c *MQTTClient) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	rest := strings.TrimPrefix(msg.Topic(), c.streamTopic+"/")
	parts := strings.Split(rest, "/")
	if len(parts) != 3 {
		return
	}
	entityID := parts[0] + "." + parts[1]
	leaf := parts[2]
	payload := string(msg.Payload())

	// HA publishes these when a sensor drops out; keep the last good value.
	if payload == "unavailable" || payload == "unknown" || payload == "None" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[entityID]
	if !ok {
		entry = &cacheEntry{attributes: make(map[string]any)}
		c.entries[entityID] = entry
	}
	if leaf == "state" {
		entry.value = strings.Trim(payload, `"`)
		return
	}
	var attr any
	if err := json.Unmarshal(msg.Payload(), &attr); err != nil {
		// statestream publishes plain strings unquoted
		attr = payload
	}
	entry.attributes[leaf] = attr
}

// GetState implements StateReader.
func (c *MQTTClient) GetState(entityID string) (State, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[entityID]
	if !ok {
		return State{}, false
	}
	attrs := make(map[string]any, len(entry.attributes))
	for k, v := range entry.attributes {
		attrs[k] = v
	}
	return State{Value: entry.value, Attributes: attrs}, true
}

// SetMode implements ModeSetter by publishing a select_option service call.
func (c *MQTTClient) SetMode(ctx context.Context, entityID, mode string) error {
	domain := "select"
	if i := strings.IndexByte(entityID, '.'); i > 0 {
		domain = entityID[:i]
	}
	payload, err := json.Marshal(map[string]any{
		"domain":    domain,
		"service":   "select_option",
		"entity_id": entityID,
		"data": map[string]string{
			"option": mode,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal service call: %w", err)
	}

	token := c.client.Publish(c.serviceTopic, 1, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("timed out publishing mode change for %s", entityID)
	}
	if token.Error() != nil {
		return fmt.Errorf("failed to publish mode change for %s: %w", entityID, token.Error())
	}
	log.Ctx(ctx).DebugContext(ctx, "published mode change",
		slog.String("entityID", entityID), slog.String("mode", mode))
	return nil
}

func parseFloat(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
