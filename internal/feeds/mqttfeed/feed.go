// Package mqttfeed subscribes to ambulance telemetry and traffic topics and
// forwards them into the engine.
package mqttfeed

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"ambulance-cloud/internal/dispatch/application"
	"ambulance-cloud/internal/dispatch/application/events"
	"ambulance-cloud/internal/geo"
	"ambulance-cloud/internal/triage"
)

// Config holds broker and topic settings.
type Config struct {
	BrokerURL     string
	ClientID      string
	Username      string
	Password      string
	LocationTopic string // e.g. "ambulance/+/location"
	VitalsTopic   string // e.g. "ambulance/+/vitals"
	TrafficTopic  string // e.g. "traffic/updates"
}

func (c Config) withDefaults() Config {
	if c.ClientID == "" {
		c.ClientID = "ambulance-cloud-feed"
	}
	if c.LocationTopic == "" {
		c.LocationTopic = "ambulance/+/location"
	}
	if c.VitalsTopic == "" {
		c.VitalsTopic = "ambulance/+/vitals"
	}
	if c.TrafficTopic == "" {
		c.TrafficTopic = "traffic/updates"
	}
	return c
}

// Feed bridges MQTT telemetry into engine events.
type Feed struct {
	client mqtt.Client
	engine *application.Engine
	logger *log.Logger
	cfg    Config
}

// NewFeed connects to the broker. Call Subscribe to attach the topic
// handlers.
func NewFeed(cfg Config, engine *application.Engine, logger *log.Logger) (*Feed, error) {
	if engine == nil {
		return nil, errors.New("mqtt feed: nil engine")
	}
	if cfg.BrokerURL == "" {
		return nil, errors.New("mqtt feed: empty broker url")
	}
	if logger == nil {
		logger = log.Default()
	}
	cfg = cfg.withDefaults()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		logger.Printf("mqtt feed: connected to %s", cfg.BrokerURL)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Printf("mqtt feed: connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt feed: connect: %w", token.Error())
	}

	return &Feed{client: client, engine: engine, logger: logger, cfg: cfg}, nil
}

// Subscribe attaches the topic handlers.
func (f *Feed) Subscribe() error {
	subs := []struct {
		topic   string
		handler mqtt.MessageHandler
	}{
		{f.cfg.LocationTopic, f.handleLocation},
		{f.cfg.VitalsTopic, f.handleVitals},
		{f.cfg.TrafficTopic, f.handleTraffic},
	}
	for _, sub := range subs {
		token := f.client.Subscribe(sub.topic, 1, sub.handler)
		if token.Wait() && token.Error() != nil {
			return fmt.Errorf("mqtt feed: subscribe %s: %w", sub.topic, token.Error())
		}
		f.logger.Printf("mqtt feed: subscribed to %s", sub.topic)
	}
	return nil
}

// Close disconnects from the broker.
func (f *Feed) Close() {
	if f == nil || f.client == nil {
		return
	}
	f.client.Disconnect(250)
}

type locationPayload struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
	At  string  `json:"at,omitempty"`
}

// handleLocation processes position reports (ambulance/{unit}/location).
func (f *Feed) handleLocation(_ mqtt.Client, msg mqtt.Message) {
	var payload locationPayload
	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		f.logger.Printf("mqtt feed: malformed location on %s: %v", msg.Topic(), err)
		return
	}
	unitID := unitFromTopic(msg.Topic())
	if unitID == "" {
		f.logger.Printf("mqtt feed: no unit id in topic %s", msg.Topic())
		return
	}
	f.submit(events.LocationUpdate{
		AmbulanceID: unitID,
		Location:    geo.Point{Lat: payload.Lat, Lon: payload.Lon},
		At:          parseAt(payload.At),
	}, msg.Topic())
}

type vitalsPayload struct {
	EmergencyID string            `json:"emergency_id"`
	Vitals      triage.VitalSigns `json:"vitals"`
}

// handleVitals processes monitor snapshots (ambulance/{unit}/vitals).
func (f *Feed) handleVitals(_ mqtt.Client, msg mqtt.Message) {
	var payload vitalsPayload
	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		f.logger.Printf("mqtt feed: malformed vitals on %s: %v", msg.Topic(), err)
		return
	}
	if payload.EmergencyID == "" {
		f.logger.Printf("mqtt feed: vitals without emergency id on %s", msg.Topic())
		return
	}
	if err := payload.Vitals.Validate(); err != nil {
		f.logger.Printf("mqtt feed: vitals rejected: %v", err)
		return
	}
	f.submit(events.VitalsUpdate{EmergencyID: payload.EmergencyID, Vitals: payload.Vitals}, msg.Topic())
}

// handleTraffic processes congestion and incident updates (traffic/updates).
func (f *Feed) handleTraffic(_ mqtt.Client, msg mqtt.Message) {
	var update events.TrafficUpdate
	if err := json.Unmarshal(msg.Payload(), &update); err != nil {
		f.logger.Printf("mqtt feed: malformed traffic update: %v", err)
		return
	}
	f.submit(update, msg.Topic())
}

func (f *Feed) submit(evt events.Event, topic string) {
	if err := f.engine.Submit(evt); err != nil {
		// Telemetry is periodic; a dropped frame is replaced by the next.
		f.logger.Printf("mqtt feed: submit from %s: %v", topic, err)
	}
}

// unitFromTopic extracts the unit id from patterns like
// ambulance/A-12/location.
func unitFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 2 {
		return parts[1]
	}
	return ""
}

// parseAt reads an RFC3339 stamp; a missing or malformed stamp leaves the
// zero time so the engine clock applies.
func parseAt(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	at, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return at
}
