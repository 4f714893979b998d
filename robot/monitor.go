package robot

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// Activity is one message from the robot's MQTT topics.
type Activity struct {
	Topic   string `json:"-"`
	Action  string `json:"action,omitempty"`
	Event   string `json:"event,omitempty"`
	Value   string `json:"value,omitempty"`
	RobotID string `json:"robot_id,omitempty"`
	Text    string `json:"text,omitempty"`
	Type    string `json:"type,omitempty"`
}

// Summary is a one-line description for logs and the console.
func (a Activity) Summary() string {
	switch {
	case a.Action != "":
		return "action " + a.Action
	case a.Event != "":
		return strings.TrimSpace("event " + a.Event + " " + a.Value)
	case a.Text != "":
		return a.Text
	}
	return a.Type
}

// MonitorConfig configures a Monitor.
type MonitorConfig struct {
	// Broker is host:port or a full tcp:// URL.
	Broker   string
	Username string
	Password string
	Topics   []string
}

// Monitor follows the robot's MQTT topics and reports activity for the
// selected robot.
type Monitor struct {
	cfg     MonitorConfig
	robotID func() string
	handler func(Activity)

	mu     sync.Mutex
	client paho.Client
}

// NewMonitor creates a Monitor. robotID returns the robot currently
// selected; messages addressed to any other robot are dropped.
func NewMonitor(cfg MonitorConfig, robotID func() string, handler func(Activity)) *Monitor {
	return &Monitor{cfg: cfg, robotID: robotID, handler: handler}
}

// Start connects to the broker and subscribes. The client keeps
// reconnecting in the background and resubscribes after each reconnect.
func (m *Monitor) Start() error {
	if m.cfg.Broker == "" {
		return errors.New("mqtt broker not configured")
	}

	broker := m.cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID("voicelink-" + uuid.NewString()[:8]).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetConnectTimeout(5 * time.Second).
		SetMaxReconnectInterval(10 * time.Second)
	if m.cfg.Username != "" {
		opts.SetUsername(m.cfg.Username)
		if m.cfg.Password != "" {
			opts.SetPassword(m.cfg.Password)
		}
	}

	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		slog.Warn("mqtt connection lost", "error", err)
	})
	opts.SetOnConnectHandler(func(c paho.Client) {
		slog.Info("mqtt connected", "broker", broker)
		for _, topic := range m.cfg.Topics {
			token := c.Subscribe(topic, 0, m.onMessage)
			if token.Wait() && token.Error() != nil {
				slog.Warn("mqtt subscribe failed", "topic", topic, "error", token.Error())
			}
		}
	})

	client := paho.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect mqtt %s: %w", broker, token.Error())
	}

	m.mu.Lock()
	m.client = client
	m.mu.Unlock()
	return nil
}

// Stop disconnects from the broker.
func (m *Monitor) Stop() {
	m.mu.Lock()
	client := m.client
	m.client = nil
	m.mu.Unlock()

	if client != nil {
		client.Disconnect(250)
		slog.Info("mqtt disconnected")
	}
}

func (m *Monitor) onMessage(_ paho.Client, msg paho.Message) {
	a, ok := m.decode(msg.Topic(), msg.Payload())
	if !ok {
		return
	}
	m.handler(a)
}

func (m *Monitor) decode(topic string, payload []byte) (Activity, bool) {
	var a Activity
	var typeErr *json.UnmarshalTypeError
	if err := json.Unmarshal(payload, &a); err != nil && !errors.As(err, &typeErr) {
		text := strings.TrimSpace(string(payload))
		if text == "" {
			return Activity{}, false
		}
		a = Activity{Text: text}
	}
	a.Topic = topic

	if a.RobotID != "" && m.robotID != nil {
		if want := m.robotID(); want != "" && want != a.RobotID {
			slog.Debug("mqtt message for another robot", "robot_id", a.RobotID, "selected", want)
			return Activity{}, false
		}
	}
	return a, true
}
