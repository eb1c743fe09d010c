package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"vidrelay/internal/core/domain"
	"vidrelay/pkg/tracing"
	"vidrelay/pkg/validation"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Pipeline struct {
		EnableTransform bool    `yaml:"enable_transform"`
		InputFPS        float64 `yaml:"input_fps"`
		OutputFPS       float64 `yaml:"output_fps"`
		VideoSize       string  `yaml:"video_size"`
		PixelFormat     string  `yaml:"pixel_format"`
		Codec           string  `yaml:"codec"`
		Bitrate         int     `yaml:"bitrate"`
	} `yaml:"pipeline"`

	Transform struct {
		Stages []string `yaml:"stages"`
	} `yaml:"transform"`

	Queue struct {
		MaxFrames int `yaml:"max_frames"` // 0 keeps every frame
	} `yaml:"queue"`

	Source struct {
		TransientThreshold   int           `yaml:"transient_threshold"`
		TransientBackoff     time.Duration `yaml:"transient_backoff"`
		ReconnectInterval    time.Duration `yaml:"reconnect_interval"`
		StartupRetryInterval time.Duration `yaml:"startup_retry_interval"`
		ReadinessTimeout     time.Duration `yaml:"readiness_timeout"`
		MaxReadinessTimeouts int           `yaml:"max_readiness_timeouts"`
		BufferCount          int           `yaml:"buffer_count"`
		ReadTimeout          time.Duration `yaml:"read_timeout"`
	} `yaml:"source"`

	Publisher struct {
		ReconnectInterval    time.Duration `yaml:"reconnect_interval"`
		MTU                  int           `yaml:"mtu"`
		PayloadType          int           `yaml:"payload_type"`
		SenderReportInterval time.Duration `yaml:"sender_report_interval"`
	} `yaml:"publisher"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		File   string `yaml:"file"`
	} `yaml:"logging"`

	Monitoring struct {
		Enabled         bool          `yaml:"enabled"`
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		StallThreshold  time.Duration `yaml:"stall_threshold"`

		RateLimiting struct {
			Enabled           bool    `yaml:"enabled"`
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent HTTP requests
		} `yaml:"rate_limiting"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Pipeline
	if err := validation.ValidateFrameRate(c.Pipeline.InputFPS); err != nil {
		return fmt.Errorf("pipeline.input_fps: %w", err)
	}
	if err := validation.ValidateFrameRate(c.Pipeline.OutputFPS); err != nil {
		return fmt.Errorf("pipeline.output_fps: %w", err)
	}
	if _, _, err := ParseVideoSize(c.Pipeline.VideoSize); err != nil {
		return fmt.Errorf("pipeline.video_size: %w", err)
	}
	if _, err := domain.ParsePixelFormat(c.Pipeline.PixelFormat); err != nil {
		return fmt.Errorf("pipeline.pixel_format: %w", err)
	}
	if err := validation.ValidateNonEmptyString(c.Pipeline.Codec, "pipeline.codec"); err != nil {
		return err
	}
	if err := validation.ValidateBitrate(c.Pipeline.Bitrate); err != nil {
		return fmt.Errorf("pipeline.bitrate: %w", err)
	}
	for _, stage := range c.Transform.Stages {
		if err := validation.ValidateStage(stage); err != nil {
			return fmt.Errorf("transform.stages: %w", err)
		}
	}

	// Queue
	if c.Queue.MaxFrames < 0 {
		return fmt.Errorf("queue.max_frames must be >= 0")
	}

	// Source
	if c.Source.TransientThreshold <= 0 {
		return fmt.Errorf("source.transient_threshold must be > 0")
	}
	if c.Source.TransientBackoff <= 0 {
		return fmt.Errorf("source.transient_backoff must be > 0")
	}
	if c.Source.ReconnectInterval <= 0 {
		return fmt.Errorf("source.reconnect_interval must be > 0")
	}
	if c.Source.StartupRetryInterval <= 0 {
		return fmt.Errorf("source.startup_retry_interval must be > 0")
	}
	if c.Source.ReadinessTimeout <= 0 {
		return fmt.Errorf("source.readiness_timeout must be > 0")
	}
	if c.Source.MaxReadinessTimeouts <= 0 {
		return fmt.Errorf("source.max_readiness_timeouts must be > 0")
	}
	if c.Source.BufferCount < 2 {
		return fmt.Errorf("source.buffer_count must be >= 2")
	}
	if c.Source.ReadTimeout < 0 {
		return fmt.Errorf("source.read_timeout must be >= 0")
	}

	// Publisher
	if c.Publisher.ReconnectInterval <= 0 {
		return fmt.Errorf("publisher.reconnect_interval must be > 0")
	}
	if c.Publisher.MTU < 64 || c.Publisher.MTU > 65535 {
		return fmt.Errorf("publisher.mtu must be between 64 and 65535")
	}
	if c.Publisher.PayloadType < 96 || c.Publisher.PayloadType > 127 {
		return fmt.Errorf("publisher.payload_type must be a dynamic type (96-127)")
	}
	if c.Publisher.SenderReportInterval < 0 {
		return fmt.Errorf("publisher.sender_report_interval must be >= 0")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be json or console")
	}

	// Monitoring
	if c.Monitoring.Enabled {
		if c.Monitoring.Address == "" {
			return fmt.Errorf("monitoring.address must not be empty when monitoring.enabled=true")
		}
		if c.Monitoring.ShutdownTimeout <= 0 {
			return fmt.Errorf("monitoring.shutdown_timeout must be > 0")
		}
		if c.Monitoring.StallThreshold <= 0 {
			return fmt.Errorf("monitoring.stall_threshold must be > 0")
		}
	}
	if c.Monitoring.RateLimiting.Enabled {
		if c.Monitoring.RateLimiting.RequestsPerSecond <= 0 {
			return fmt.Errorf("monitoring.rate_limiting.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.Monitoring.RateLimiting.Burst <= 0 {
			return fmt.Errorf("monitoring.rate_limiting.burst must be > 0 when rate limiting is enabled")
		}
		if c.Monitoring.RateLimiting.MaxConcurrent < 0 {
			return fmt.Errorf("monitoring.rate_limiting.max_concurrent must be >= 0 when rate limiting is enabled")
		}
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}
	p := domain.DefaultPipelineConfig()

	cfg.Pipeline.EnableTransform = p.EnableTransform
	cfg.Pipeline.InputFPS = p.InputFPS
	cfg.Pipeline.OutputFPS = p.OutputFPS
	cfg.Pipeline.VideoSize = fmt.Sprintf("%dx%d", p.Width, p.Height)
	cfg.Pipeline.PixelFormat = string(p.PixelFormat)
	cfg.Pipeline.Codec = p.Codec
	cfg.Pipeline.Bitrate = p.Bitrate

	cfg.Transform.Stages = p.Stages
	cfg.Queue.MaxFrames = 64

	cfg.Source.TransientThreshold = p.TransientThreshold
	cfg.Source.TransientBackoff = p.TransientBackoff
	cfg.Source.ReconnectInterval = p.ReconnectInterval
	cfg.Source.StartupRetryInterval = p.StartupRetryInterval
	cfg.Source.ReadinessTimeout = p.ReadinessTimeout
	cfg.Source.MaxReadinessTimeouts = p.MaxReadinessTimeouts
	cfg.Source.BufferCount = p.DeviceBuffers
	cfg.Source.ReadTimeout = p.ReadTimeout

	cfg.Publisher.ReconnectInterval = p.PublishReconnectInterval
	cfg.Publisher.MTU = p.MTU
	cfg.Publisher.PayloadType = int(p.PayloadType)
	cfg.Publisher.SenderReportInterval = p.SenderReportInterval

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.File = "streamer.log"

	cfg.Monitoring.Enabled = false
	cfg.Monitoring.Address = ":9090"
	cfg.Monitoring.ReadTimeout = 10 * time.Second
	cfg.Monitoring.WriteTimeout = 10 * time.Second
	cfg.Monitoring.ShutdownTimeout = 5 * time.Second
	cfg.Monitoring.StallThreshold = 5 * time.Second

	// Rate limiting defaults (disabled by default)
	cfg.Monitoring.RateLimiting.Enabled = false
	cfg.Monitoring.RateLimiting.RequestsPerSecond = 20
	cfg.Monitoring.RateLimiting.Burst = 40
	cfg.Monitoring.RateLimiting.MaxConcurrent = 0

	t := tracing.DefaultConfig()
	cfg.Tracing.Enabled = t.Enabled
	cfg.Tracing.ServiceName = t.ServiceName
	cfg.Tracing.JaegerURL = t.JaegerURL
	cfg.Tracing.Environment = t.Environment
	cfg.Tracing.SampleRate = t.SampleRate

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if level := os.Getenv("VIDRELAY_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if format := os.Getenv("VIDRELAY_LOG_FORMAT"); format != "" {
		c.Logging.Format = format
	}
	if codec := os.Getenv("VIDRELAY_CODEC"); codec != "" {
		c.Pipeline.Codec = codec
	}
	if size := os.Getenv("VIDRELAY_VIDEO_SIZE"); size != "" {
		c.Pipeline.VideoSize = size
	}
	if v := os.Getenv("VIDRELAY_ENABLE_TRANSFORM"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Pipeline.EnableTransform = b
		}
	}
	if addr := os.Getenv("VIDRELAY_MONITORING_ADDRESS"); addr != "" {
		c.Monitoring.Enabled = true
		c.Monitoring.Address = addr
	}
	if url := os.Getenv("VIDRELAY_JAEGER_URL"); url != "" {
		c.Tracing.Enabled = true
		c.Tracing.JaegerURL = url
	}
}

// ParseVideoSize parses "WIDTHxHEIGHT".
func ParseVideoSize(s string) (width, height int, err error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return 0, 0, fmt.Errorf("%q is not WIDTHxHEIGHT", s)
	}
	if width, err = strconv.Atoi(w); err != nil || width <= 0 {
		return 0, 0, fmt.Errorf("%q: bad width", s)
	}
	if height, err = strconv.Atoi(h); err != nil || height <= 0 {
		return 0, 0, fmt.Errorf("%q: bad height", s)
	}
	return width, height, nil
}

// Snapshot builds the immutable pipeline configuration for one source and
// sink.
func (c *Config) Snapshot(source, sink string) (domain.PipelineConfig, error) {
	if err := c.Validate(); err != nil {
		return domain.PipelineConfig{}, err
	}
	if err := validation.ValidateSourceLocator(source); err != nil {
		return domain.PipelineConfig{}, err
	}
	if err := validation.ValidateSinkLocator(sink); err != nil {
		return domain.PipelineConfig{}, err
	}

	width, height, _ := ParseVideoSize(c.Pipeline.VideoSize)
	format, _ := domain.ParsePixelFormat(c.Pipeline.PixelFormat)

	p := domain.DefaultPipelineConfig()
	p.SourceURL = source
	p.SinkURL = sink
	p.EnableTransform = c.Pipeline.EnableTransform
	p.Stages = append([]string(nil), c.Transform.Stages...)
	p.InputFPS = c.Pipeline.InputFPS
	p.OutputFPS = c.Pipeline.OutputFPS
	p.Width = width
	p.Height = height
	p.PixelFormat = format
	p.Codec = strings.ToLower(c.Pipeline.Codec)
	p.Bitrate = c.Pipeline.Bitrate
	p.MaxQueuedFrames = c.Queue.MaxFrames
	p.TransientThreshold = c.Source.TransientThreshold
	p.TransientBackoff = c.Source.TransientBackoff
	p.ReconnectInterval = c.Source.ReconnectInterval
	p.StartupRetryInterval = c.Source.StartupRetryInterval
	p.ReadTimeout = c.Source.ReadTimeout
	p.ReadinessTimeout = c.Source.ReadinessTimeout
	p.MaxReadinessTimeouts = c.Source.MaxReadinessTimeouts
	p.DeviceBuffers = c.Source.BufferCount
	p.PublishReconnectInterval = c.Publisher.ReconnectInterval
	p.MTU = c.Publisher.MTU
	p.PayloadType = uint8(c.Publisher.PayloadType)
	p.SenderReportInterval = c.Publisher.SenderReportInterval
	return p, nil
}

// TracingConfig converts the tracing section for tracing.Init.
func (c *Config) TracingConfig() tracing.Config {
	return tracing.Config{
		Enabled:     c.Tracing.Enabled,
		ServiceName: c.Tracing.ServiceName,
		JaegerURL:   c.Tracing.JaegerURL,
		Environment: c.Tracing.Environment,
		SampleRate:  c.Tracing.SampleRate,
	}
}
