// Package config holds all agent configuration: signaling endpoint, ICE
// servers, capture constraint defaults and the timing constants used by the
// reconnection policy, statistics aggregator and recorder.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Signal struct {
		URL          string        `yaml:"url"`
		PingInterval time.Duration `yaml:"ping_interval"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"signal"`

	ICE struct {
		Servers []string `yaml:"servers"`
	} `yaml:"ice"`

	Media struct {
		Video struct {
			IdealWidth     int     `yaml:"ideal_width"`
			IdealHeight    int     `yaml:"ideal_height"`
			MaxWidth       int     `yaml:"max_width"`
			MaxHeight      int     `yaml:"max_height"`
			IdealFrameRate float64 `yaml:"ideal_frame_rate"`
			MaxFrameRate   float64 `yaml:"max_frame_rate"`
		} `yaml:"video"`
		Audio struct {
			SampleRate       int  `yaml:"sample_rate"`
			ChannelCount     int  `yaml:"channel_count"`
			EchoCancellation bool `yaml:"echo_cancellation"`
			NoiseSuppression bool `yaml:"noise_suppression"`
			AutoGainControl  bool `yaml:"auto_gain_control"`
		} `yaml:"audio"`
	} `yaml:"media"`

	Reconnect struct {
		MaxAttempts int           `yaml:"max_attempts"`
		BaseDelay   time.Duration `yaml:"base_delay"`
		MaxDelay    time.Duration `yaml:"max_delay"`
	} `yaml:"reconnect"`

	Stats struct {
		PollInterval      time.Duration `yaml:"poll_interval"`
		PrometheusEnabled bool          `yaml:"prometheus_enabled"`
	} `yaml:"stats"`

	Recorder struct {
		SliceDuration time.Duration `yaml:"slice_duration"`
	} `yaml:"recorder"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// DefaultConfig returns configuration with the documented defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Signal.URL = "ws://localhost:7000/ws"
	cfg.Signal.PingInterval = 30 * time.Second
	cfg.Signal.WriteTimeout = 10 * time.Second

	cfg.ICE.Servers = []string{"stun:stun.l.google.com:19302"}

	cfg.Media.Video.IdealWidth = 1280
	cfg.Media.Video.IdealHeight = 720
	cfg.Media.Video.MaxWidth = 1920
	cfg.Media.Video.MaxHeight = 1080
	cfg.Media.Video.IdealFrameRate = 30
	cfg.Media.Video.MaxFrameRate = 60

	cfg.Media.Audio.SampleRate = 44100
	cfg.Media.Audio.ChannelCount = 1
	cfg.Media.Audio.EchoCancellation = true
	cfg.Media.Audio.NoiseSuppression = true
	cfg.Media.Audio.AutoGainControl = true

	cfg.Reconnect.MaxAttempts = 5
	cfg.Reconnect.BaseDelay = time.Second
	cfg.Reconnect.MaxDelay = 30 * time.Second

	cfg.Stats.PollInterval = 5 * time.Second
	cfg.Stats.PrometheusEnabled = false

	cfg.Recorder.SliceDuration = time.Second

	cfg.Logging.Level = "info"

	return cfg
}

// Load reads configuration from a YAML file, applies defaults and env
// overrides. A missing file falls back to defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Signal.URL == "" {
		return fmt.Errorf("signal.url must not be empty")
	}
	if c.Media.Video.IdealWidth <= 0 || c.Media.Video.IdealHeight <= 0 {
		return fmt.Errorf("media.video ideal dimensions must be > 0")
	}
	if c.Media.Video.MaxWidth < c.Media.Video.IdealWidth || c.Media.Video.MaxHeight < c.Media.Video.IdealHeight {
		return fmt.Errorf("media.video max dimensions must be >= ideal dimensions")
	}
	if c.Media.Video.IdealFrameRate <= 0 || c.Media.Video.MaxFrameRate < c.Media.Video.IdealFrameRate {
		return fmt.Errorf("media.video frame rates out of range")
	}
	if c.Media.Audio.SampleRate <= 0 {
		return fmt.Errorf("media.audio.sample_rate must be > 0")
	}
	if c.Reconnect.MaxAttempts <= 0 {
		return fmt.Errorf("reconnect.max_attempts must be > 0")
	}
	if c.Reconnect.BaseDelay <= 0 || c.Reconnect.MaxDelay < c.Reconnect.BaseDelay {
		return fmt.Errorf("reconnect delays out of range")
	}
	if c.Stats.PollInterval <= 0 {
		return fmt.Errorf("stats.poll_interval must be > 0")
	}
	if c.Recorder.SliceDuration <= 0 {
		return fmt.Errorf("recorder.slice_duration must be > 0")
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if url := os.Getenv("CLASSMEDIA_SIGNAL_URL"); url != "" {
		c.Signal.URL = url
	}
	if level := os.Getenv("CLASSMEDIA_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}
