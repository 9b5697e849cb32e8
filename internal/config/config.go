// Package config loads car configuration from file, environment and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultPort              = 5042
	defaultFrameRate         = 30
	defaultFrameSize         = 224
	defaultTelemetryInterval = time.Second / 60
	defaultPollInterval      = time.Second / 60
	defaultFPSWindow         = 20
	defaultPWMPeriod         = 20 * time.Millisecond
	defaultPWMUnit           = 10 * time.Microsecond
)

// Steering and throttle are normalized to this range.
const (
	MinSteering = -1.0
	MaxSteering = 1.0
	MinThrottle = -1.0
	MaxThrottle = 1.0
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Camera   CameraConfig   `mapstructure:"camera" yaml:"camera"`
	Actuator ActuatorConfig `mapstructure:"actuator" yaml:"actuator"`
	Capture  CaptureConfig  `mapstructure:"capture" yaml:"capture"`
	Stream   StreamConfig   `mapstructure:"stream" yaml:"stream"`
	Vision   VisionConfig   `mapstructure:"vision" yaml:"vision"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
}

type ServerConfig struct {
	Host              string        `mapstructure:"host" yaml:"host"`
	Port              int           `mapstructure:"port" yaml:"port"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	// TelemetryInterval paces the per-client send direction, independent of the camera.
	TelemetryInterval time.Duration `mapstructure:"telemetry_interval" yaml:"telemetry_interval"`
	WriteWait         time.Duration `mapstructure:"write_wait" yaml:"write_wait"`
	PongWait          time.Duration `mapstructure:"pong_wait" yaml:"pong_wait"`
	ReadLimit         int64         `mapstructure:"read_limit" yaml:"read_limit"`
	OutboxSize        int           `mapstructure:"outbox_size" yaml:"outbox_size"`
}

type CameraConfig struct {
	Driver    string `mapstructure:"driver" yaml:"driver"` // mock, zmq
	Width     int    `mapstructure:"width" yaml:"width"`
	Height    int    `mapstructure:"height" yaml:"height"`
	FrameRate int    `mapstructure:"framerate" yaml:"framerate"`
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
	LogEvery  int    `mapstructure:"log_every" yaml:"log_every"`
}

type ActuatorConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"` // mock, sysfs
	// Degraded swallows actuator write faults and reports them on /health instead.
	Degraded bool             `mapstructure:"degraded" yaml:"degraded"`
	Period   time.Duration    `mapstructure:"period" yaml:"period"`
	Unit     time.Duration    `mapstructure:"unit" yaml:"unit"`
	Steering PWMChannelConfig `mapstructure:"steering" yaml:"steering"`
	Throttle PWMChannelConfig `mapstructure:"throttle" yaml:"throttle"`
}

// PWMChannelConfig maps a normalized value v to a pulse of Neutral+Span*v units.
type PWMChannelConfig struct {
	Path    string  `mapstructure:"path" yaml:"path"`
	Neutral float64 `mapstructure:"neutral" yaml:"neutral"`
	Span    float64 `mapstructure:"span" yaml:"span"`
}

type CaptureConfig struct {
	DefaultDir   string        `mapstructure:"default_dir" yaml:"default_dir"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	Extension    string        `mapstructure:"extension" yaml:"extension"`
	Journal      bool          `mapstructure:"journal" yaml:"journal"`
	CatalogPath  string        `mapstructure:"catalog_path" yaml:"catalog_path"`
}

type StreamConfig struct {
	FPSWindow    int           `mapstructure:"fps_window" yaml:"fps_window"`
	PullInterval time.Duration `mapstructure:"pull_interval" yaml:"pull_interval"`
}

type VisionConfig struct {
	CropTop        int     `mapstructure:"crop_top" yaml:"crop_top"`
	BlurKernel     int     `mapstructure:"blur_kernel" yaml:"blur_kernel"`
	CannyLow       float64 `mapstructure:"canny_low" yaml:"canny_low"`
	CannyHigh      float64 `mapstructure:"canny_high" yaml:"canny_high"`
	HoughThreshold int     `mapstructure:"hough_threshold" yaml:"hough_threshold"`
	MinLineLength  int     `mapstructure:"min_line_length" yaml:"min_line_length"`
	MaxLineGap     int     `mapstructure:"max_line_gap" yaml:"max_line_gap"`
	MaxLineAngle   float64 `mapstructure:"max_line_angle" yaml:"max_line_angle"`
	MaxSteerAngle  float64 `mapstructure:"max_steer_angle" yaml:"max_steer_angle"`
	Fallback       string  `mapstructure:"fallback" yaml:"fallback"` // neutral, last
	Annotate       bool    `mapstructure:"annotate" yaml:"annotate"`
	Rate           float64 `mapstructure:"rate" yaml:"rate"`
	JPEGQuality    int     `mapstructure:"jpeg_quality" yaml:"jpeg_quality"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format     string `mapstructure:"format" yaml:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source" yaml:"add_source"`
	TimeFormat string `mapstructure:"time_format" yaml:"time_format"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

// Load reads configuration from file and CAR_ prefixed environment variables.
// A missing config file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("car")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/car")
	}
	v.SetEnvPrefix("CAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}
	return FromViper(v)
}

// FromViper decodes and validates an already populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration produced by defaults alone.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultPort)
	v.SetDefault("server.read_header_timeout", 5*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.telemetry_interval", defaultTelemetryInterval)
	v.SetDefault("server.write_wait", 10*time.Second)
	v.SetDefault("server.pong_wait", 60*time.Second)
	v.SetDefault("server.read_limit", 4<<20)
	v.SetDefault("server.outbox_size", 8)

	v.SetDefault("camera.driver", "mock")
	v.SetDefault("camera.width", defaultFrameSize)
	v.SetDefault("camera.height", defaultFrameSize)
	v.SetDefault("camera.framerate", defaultFrameRate)
	v.SetDefault("camera.endpoint", "tcp://localhost:31001")
	v.SetDefault("camera.log_every", 100)

	v.SetDefault("actuator.driver", "mock")
	v.SetDefault("actuator.degraded", false)
	v.SetDefault("actuator.period", defaultPWMPeriod)
	v.SetDefault("actuator.unit", defaultPWMUnit)
	v.SetDefault("actuator.steering.path", "/sys/class/pwm/pwmchip0/pwm1")
	v.SetDefault("actuator.steering.neutral", 135)
	v.SetDefault("actuator.steering.span", 30)
	v.SetDefault("actuator.throttle.path", "/sys/class/pwm/pwmchip0/pwm0")
	v.SetDefault("actuator.throttle.neutral", 90)
	v.SetDefault("actuator.throttle.span", 30)

	v.SetDefault("capture.default_dir", "out")
	v.SetDefault("capture.poll_interval", defaultPollInterval)
	v.SetDefault("capture.extension", "jpg")
	v.SetDefault("capture.journal", true)
	v.SetDefault("capture.catalog_path", "")

	v.SetDefault("stream.fps_window", defaultFPSWindow)
	v.SetDefault("stream.pull_interval", time.Second/60)

	v.SetDefault("vision.crop_top", 122)
	v.SetDefault("vision.blur_kernel", 5)
	v.SetDefault("vision.canny_low", 50)
	v.SetDefault("vision.canny_high", 150)
	v.SetDefault("vision.hough_threshold", 60)
	v.SetDefault("vision.min_line_length", 70)
	v.SetDefault("vision.max_line_gap", 10)
	v.SetDefault("vision.max_line_angle", 60)
	v.SetDefault("vision.max_steer_angle", 30)
	v.SetDefault("vision.fallback", "last")
	v.SetDefault("vision.annotate", true)
	v.SetDefault("vision.rate", 0.2)
	v.SetDefault("vision.jpeg_quality", 75)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 20)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 14)
}

func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}
	if c.Server.TelemetryInterval <= 0 {
		return fmt.Errorf("server.telemetry_interval must be positive")
	}
	if c.Server.OutboxSize < 1 {
		return fmt.Errorf("server.outbox_size must be at least 1")
	}

	switch c.Camera.Driver {
	case "mock":
	case "zmq":
		if c.Camera.Endpoint == "" {
			return fmt.Errorf("camera.endpoint is required for the zmq driver")
		}
	default:
		return fmt.Errorf("camera.driver must be one of: mock, zmq")
	}
	if c.Camera.Width < 1 || c.Camera.Height < 1 {
		return fmt.Errorf("camera.width and camera.height must be positive")
	}
	if c.Camera.FrameRate < 1 {
		return fmt.Errorf("camera.framerate must be at least 1")
	}

	switch c.Actuator.Driver {
	case "mock", "sysfs":
	default:
		return fmt.Errorf("actuator.driver must be one of: mock, sysfs")
	}

	if c.Capture.PollInterval <= 0 {
		return fmt.Errorf("capture.poll_interval must be positive")
	}
	if strings.TrimSpace(c.Capture.Extension) == "" {
		return fmt.Errorf("capture.extension is required")
	}
	if c.Stream.FPSWindow < 1 {
		return fmt.Errorf("stream.fps_window must be at least 1")
	}

	if c.Vision.BlurKernel < 1 || c.Vision.BlurKernel%2 == 0 {
		return fmt.Errorf("vision.blur_kernel must be a positive odd number")
	}
	if c.Vision.CannyLow > c.Vision.CannyHigh {
		return fmt.Errorf("vision.canny_low must not exceed vision.canny_high")
	}
	if c.Vision.MaxSteerAngle <= 0 {
		return fmt.Errorf("vision.max_steer_angle must be positive")
	}
	if c.Vision.Fallback != "neutral" && c.Vision.Fallback != "last" {
		return fmt.Errorf("vision.fallback must be one of: neutral, last")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("logging.format must be one of: json, text")
	}
	return nil
}

// Address returns the listen address in host:port form.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
