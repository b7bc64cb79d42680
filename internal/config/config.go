package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"maze-relay-go/internal/calibration"
)

type AppConfig struct {
	Relay       RelayConfig        `yaml:"relay"`
	Viewer      ViewerConfig       `yaml:"viewer"`
	Calibration calibration.Params `yaml:"calibration"`
}

type RelayConfig struct {
	Port            int           `yaml:"port"`
	ProducerPath    string        `yaml:"producer_path"`
	ProducerAliases []string      `yaml:"producer_aliases"`
	ConsumerPath    string        `yaml:"consumer_path"`
	WriteWait       time.Duration `yaml:"write_wait"`
	PongWait        time.Duration `yaml:"pong_wait"`
	ReadLimit       int64         `yaml:"read_limit"`
	ConsumerBuffer  int           `yaml:"consumer_buffer"`
	ReplayMaze      bool          `yaml:"replay_maze"`
	Debug           bool          `yaml:"debug"`
	SimRate         float64       `yaml:"sim_rate"`
	Endpoint        string        `yaml:"endpoint"`
	IngestLogEvery  int           `yaml:"ingest_log_every"`
	IngestFallback  bool          `yaml:"ingest_fallback"`
	SourceRetry     time.Duration `yaml:"source_retry"`
	RawLogEnabled   bool          `yaml:"raw_log"`
	RawLogDir       string        `yaml:"raw_log_dir"`
	MQTT            MQTTConfig    `yaml:"mqtt"`
}

type MQTTConfig struct {
	Broker         string        `yaml:"broker"`
	Topic          string        `yaml:"topic"`
	ClientID       string        `yaml:"client_id"`
	QoS            byte          `yaml:"qos"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
	Buffer         int           `yaml:"buffer"`
}

type ViewerConfig struct {
	RelayURL       string        `yaml:"relay_url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	FrameRate      float64       `yaml:"frame_rate"`
	LogicalWidth   int           `yaml:"logical_width"`
	LogicalHeight  int           `yaml:"logical_height"`
	CanvasWidth    int           `yaml:"canvas_width"`
	CanvasHeight   int           `yaml:"canvas_height"`
	HTTPPort       int           `yaml:"http_port"`
	NoticeDuration time.Duration `yaml:"notice_duration"`
	MotionDuration time.Duration `yaml:"motion_duration"`
	Backend        string        `yaml:"backend"`
	// StatusInterval polls the relay's /status endpoint; zero disables it.
	StatusInterval time.Duration `yaml:"status_interval"`
}

func Default() AppConfig {
	return AppConfig{
		Relay: RelayConfig{
			Port:            3000,
			ProducerPath:    "/producer",
			ProducerAliases: []string{"/jetson"},
			ConsumerPath:    "/ws",
			WriteWait:       10 * time.Second,
			PongWait:        60 * time.Second,
			ReadLimit:       8 << 20,
			ConsumerBuffer:  64,
			ReplayMaze:      true,
			SimRate:         10,
			IngestLogEvery:  100,
			IngestFallback:  true,
			SourceRetry:     5 * time.Second,
			RawLogDir:       "rawlog",
			MQTT: MQTTConfig{
				Topic:          "maze/relay",
				ClientID:       "maze-relay",
				PublishTimeout: 2 * time.Second,
				Buffer:         256,
			},
		},
		Viewer: ViewerConfig{
			RelayURL:       "ws://localhost:3000/ws",
			ReconnectDelay: 5 * time.Second,
			FrameRate:      30,
			LogicalWidth:   1280,
			LogicalHeight:  720,
			CanvasWidth:    1280,
			CanvasHeight:   720,
			HTTPPort:       8090,
			NoticeDuration: 5 * time.Second,
			MotionDuration: 500 * time.Millisecond,
			Backend:        "auto",
			StatusInterval: 2 * time.Second,
		},
		Calibration: calibration.DefaultParams(),
	}
}

// PingEvery is the keepalive ping interval derived from the pong deadline.
func (r RelayConfig) PingEvery() time.Duration {
	return (r.PongWait * 9) / 10
}

// ProducerPaths returns the primary producer path followed by its aliases.
func (r RelayConfig) ProducerPaths() []string {
	return append([]string{r.ProducerPath}, r.ProducerAliases...)
}

// Scale is the display scale from logical units to canvas pixels.
func (v ViewerConfig) Scale() (float64, float64) {
	return float64(v.CanvasWidth) / float64(v.LogicalWidth), float64(v.CanvasHeight) / float64(v.LogicalHeight)
}

// Load reads a YAML file on top of the defaults.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c AppConfig) Validate() error {
	r := c.Relay
	if r.Port < 1 || r.Port > 65535 {
		return fmt.Errorf("relay.port must be in 1..65535, got %d", r.Port)
	}
	seen := map[string]bool{}
	for _, p := range append(r.ProducerPaths(), r.ConsumerPath) {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("websocket path %q must start with /", p)
		}
		if seen[p] {
			return fmt.Errorf("websocket path %q is used twice", p)
		}
		seen[p] = true
	}
	if r.WriteWait <= 0 || r.PongWait <= 0 {
		return fmt.Errorf("relay.write_wait and relay.pong_wait must be > 0")
	}
	if r.ReadLimit <= 0 {
		return fmt.Errorf("relay.read_limit must be > 0")
	}
	if r.ConsumerBuffer < 1 {
		return fmt.Errorf("relay.consumer_buffer must be >= 1")
	}
	if r.SimRate <= 0 {
		return fmt.Errorf("relay.sim_rate must be > 0")
	}
	if r.MQTT.QoS > 2 {
		return fmt.Errorf("relay.mqtt.qos must be 0, 1 or 2")
	}

	v := c.Viewer
	if v.RelayURL == "" {
		return fmt.Errorf("viewer.relay_url is required")
	}
	if v.ReconnectDelay <= 0 {
		return fmt.Errorf("viewer.reconnect_delay must be > 0")
	}
	if v.FrameRate <= 0 {
		return fmt.Errorf("viewer.frame_rate must be > 0")
	}
	if v.LogicalWidth < 1 || v.LogicalHeight < 1 || v.CanvasWidth < 1 || v.CanvasHeight < 1 {
		return fmt.Errorf("viewer sizes must be positive")
	}
	if v.HTTPPort < 0 || v.HTTPPort > 65535 {
		return fmt.Errorf("viewer.http_port must be in 0..65535, got %d", v.HTTPPort)
	}
	if v.StatusInterval < 0 {
		return fmt.Errorf("viewer.status_interval must be >= 0")
	}
	switch v.Backend {
	case "auto", "native", "opencv":
	default:
		return fmt.Errorf("viewer.backend must be auto, native or opencv, got %q", v.Backend)
	}
	return c.Calibration.Validate()
}
