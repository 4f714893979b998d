// Package config handles application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

const (
	appName        = "voicelink"
	configFileName = "config.yaml"

	// DefaultHost is used when neither the config file nor the environment
	// names a backend.
	DefaultHost = "localhost:8000"
)

// Environment variables consulted by Load. The REACT_APP_ names are shared
// with the browser build so one .env serves both clients.
const (
	EnvWSHost     = "REACT_APP_WS_HOST"
	EnvAPIBase    = "REACT_APP_API_BASE"
	EnvOpenAIKey  = "OPENAI_API_KEY"
	EnvMQTTBroker = "VOICELINK_MQTT_BROKER"
)

// Config represents the application configuration.
type Config struct {
	Server     Server     `yaml:"server"`
	Reconnect  Reconnect  `yaml:"reconnect"`
	Voice      Voice      `yaml:"voice"`
	Recognizer Recognizer `yaml:"recognizer"`
	Microphone Command    `yaml:"microphone"`
	Playback   Command    `yaml:"playback"`
	MQTT       MQTT       `yaml:"mqtt"`
	Metrics    Metrics    `yaml:"metrics"`
	User       User       `yaml:"user"`

	// DataDir holds the preference store. Defaults to the config directory.
	DataDir string `yaml:"data_dir,omitempty"`

	path string
}

// Server locates the voice-assistant backend.
type Server struct {
	// WSHost is host[:port] of the WebSocket endpoint.
	WSHost string `yaml:"ws_host"`
	// APIBase is the HTTP base URL, e.g. http://localhost:8000.
	APIBase string `yaml:"api_base"`
	// Secure selects wss:// for the socket.
	Secure bool `yaml:"secure"`
	// DialTimeout bounds a single connection attempt.
	DialTimeout time.Duration `yaml:"dial_timeout"`
	// AckTimeout bounds the wait for a robot selection acknowledgement.
	AckTimeout time.Duration `yaml:"ack_timeout"`
}

// Reconnect is the automatic reconnection policy.
type Reconnect struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
}

// Voice tunes the capture loop.
type Voice struct {
	Threshold       float64       `yaml:"threshold"`
	SilenceHold     time.Duration `yaml:"silence_hold"`
	SilenceDebounce time.Duration `yaml:"silence_debounce"`
	MaxRecording    time.Duration `yaml:"max_recording"`
	MaxCycles       int           `yaml:"max_cycles"`
	Grace           time.Duration `yaml:"grace"`
	FlushTimeout    time.Duration `yaml:"flush_timeout"`
	SampleInterval  time.Duration `yaml:"sample_interval"`
	Window          int           `yaml:"window"`
	SampleRate      int           `yaml:"sample_rate"`
	Language        string        `yaml:"language"`
}

// Recognizer selects and configures speech-to-text.
type Recognizer struct {
	Provider string        `yaml:"provider"`
	APIKey   string        `yaml:"api_key,omitempty"`
	BaseURL  string        `yaml:"base_url,omitempty"`
	Model    string        `yaml:"model"`
	Chunk    time.Duration `yaml:"chunk"`
}

// Command is an external program used for audio I/O. An empty Args picks a
// platform default.
type Command struct {
	Args []string `yaml:"args,omitempty"`
}

// MQTT configures the optional robot activity monitor.
type MQTT struct {
	Broker   string   `yaml:"broker,omitempty"`
	Username string   `yaml:"username,omitempty"`
	Password string   `yaml:"password,omitempty"`
	Topics   []string `yaml:"topics"`
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	Addr string `yaml:"addr,omitempty"`
}

// User holds per-user defaults.
type User struct {
	Name    string `yaml:"name,omitempty"`
	RobotID string `yaml:"robot_id,omitempty"`
}

// Load loads configuration from the default config file.
// Returns default config if file doesn't exist.
func Load() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, fmt.Errorf("get config path: %w", err)
	}
	return LoadFile(path)
}

// LoadFile loads configuration from path, applying defaults and environment
// overrides.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	cfg.path = path

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Save persists the configuration to disk.
func (c *Config) Save() error {
	path := c.path
	if path == "" {
		var err error
		if path, err = configPath(); err != nil {
			return fmt.Errorf("get config path: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Path returns the file the config was loaded from.
func (c *Config) Path() string {
	return c.path
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: Server{
			WSHost:      DefaultHost,
			APIBase:     "http://" + DefaultHost,
			DialTimeout: 10 * time.Second,
			AckTimeout:  5 * time.Second,
		},
		Reconnect: Reconnect{
			MaxAttempts: 5,
			BaseDelay:   time.Second,
		},
		Voice: Voice{
			Threshold:       0.02,
			SilenceHold:     300 * time.Millisecond,
			SilenceDebounce: 800 * time.Millisecond,
			MaxRecording:    15 * time.Second,
			MaxCycles:       5,
			Grace:           100 * time.Millisecond,
			FlushTimeout:    10 * time.Second,
			SampleInterval:  16 * time.Millisecond,
			Window:          256,
			SampleRate:      16000,
			Language:        "en-US",
		},
		Recognizer: Recognizer{
			Provider: "whisper",
			Model:    "whisper-1",
			Chunk:    2 * time.Second,
		},
		MQTT: MQTT{
			Topics: []string{"robot/events", "robot/reply"},
		},
	}
}

// WebSocketURL returns the backend socket endpoint.
func (c *Config) WebSocketURL() string {
	scheme := "ws"
	if c.Server.Secure {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s/ws", scheme, c.Server.WSHost)
}

// APIBase returns the HTTP base URL without a trailing slash.
func (c *Config) APIBase() string {
	return strings.TrimRight(c.Server.APIBase, "/")
}

// DataPath returns the directory for the preference store.
func (c *Config) DataPath() (string, error) {
	if c.DataDir != "" {
		return c.DataDir, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("get user config dir: %w", err)
	}
	return filepath.Join(dir, appName, "prefs"), nil
}

// Validate checks the configuration for values the client cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.WSHost == "" {
		errs = append(errs, errors.New("server.ws_host required"))
	}
	if strings.Contains(c.Server.WSHost, "://") {
		errs = append(errs, errors.New("server.ws_host must be host[:port], not a URL"))
	}
	if c.Reconnect.MaxAttempts < 0 {
		errs = append(errs, errors.New("reconnect.max_attempts must not be negative"))
	}
	if c.Voice.Threshold <= 0 || c.Voice.Threshold >= 1 {
		errs = append(errs, fmt.Errorf("voice.threshold %v out of range (0,1)", c.Voice.Threshold))
	}
	if c.Voice.Window <= 0 {
		errs = append(errs, errors.New("voice.window must be positive"))
	}
	if _, err := language.Parse(c.Voice.Language); err != nil {
		errs = append(errs, fmt.Errorf("voice.language: %w", err))
	}
	switch c.Recognizer.Provider {
	case "whisper", "none":
	default:
		errs = append(errs, fmt.Errorf("recognizer.provider %q unknown", c.Recognizer.Provider))
	}

	return errors.Join(errs...)
}

// RecognitionLanguage returns the ISO 639-1 base of the voice language,
// e.g. "zh" for "zh-TW".
func (c *Config) RecognitionLanguage() string {
	tag, err := language.Parse(c.Voice.Language)
	if err != nil {
		return ""
	}
	base, _ := tag.Base()
	return base.String()
}

// Helper functions

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvWSHost); v != "" {
		c.Server.WSHost = v
	}
	if v := os.Getenv(EnvAPIBase); v != "" {
		c.Server.APIBase = v
		if strings.HasPrefix(v, "https://") {
			c.Server.Secure = true
		}
	}
	if v := os.Getenv(EnvOpenAIKey); v != "" && c.Recognizer.APIKey == "" {
		c.Recognizer.APIKey = v
	}
	if v := os.Getenv(EnvMQTTBroker); v != "" {
		c.MQTT.Broker = v
	}
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.Server.WSHost == "" {
		c.Server.WSHost = d.Server.WSHost
	}
	if c.Server.APIBase == "" {
		c.Server.APIBase = d.Server.APIBase
	}
	if c.Server.DialTimeout == 0 {
		c.Server.DialTimeout = d.Server.DialTimeout
	}
	if c.Server.AckTimeout == 0 {
		c.Server.AckTimeout = d.Server.AckTimeout
	}
	if c.Reconnect.BaseDelay == 0 {
		c.Reconnect.BaseDelay = d.Reconnect.BaseDelay
	}
	if c.Voice.SampleRate == 0 {
		c.Voice.SampleRate = d.Voice.SampleRate
	}
	if c.Voice.FlushTimeout == 0 {
		c.Voice.FlushTimeout = d.Voice.FlushTimeout
	}
	if c.Voice.SampleInterval == 0 {
		c.Voice.SampleInterval = d.Voice.SampleInterval
	}
	if c.Voice.Language == "" {
		c.Voice.Language = d.Voice.Language
	}
	if c.Recognizer.Provider == "" {
		c.Recognizer.Provider = d.Recognizer.Provider
	}
	if c.Recognizer.Model == "" {
		c.Recognizer.Model = d.Recognizer.Model
	}
	if c.Recognizer.Chunk == 0 {
		c.Recognizer.Chunk = d.Recognizer.Chunk
	}
}

func configPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("get user config dir: %w", err)
	}
	return filepath.Join(dir, appName, configFileName), nil
}
