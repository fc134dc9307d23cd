package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"edgecast/pkg/models"
)

// EnvPrefix prefixes every environment variable, e.g. EDGECAST_RELAY_URL
const EnvPrefix = "EDGECAST"

// Config holds all application configuration
type Config struct {
	// HTTP Server
	HTTPAddr string

	// Relay
	Transport         string // "websocket" or "memory"
	RelayURL          string
	Owner             string
	StreamName        string
	PublishAPIKey     string
	SubscribeAPIKey   string
	PublishSelector   string // Selected at startup when set
	SubscribeSelector string // Selected at startup when set
	ReconnectDelay    time.Duration
	MaxPayloadBytes   int
	MaxImagePixels    int // Largest received frame, by declared size
	SendBuffer        int
	ReceiveBuffer     int

	// Video
	FrameWidth      int
	FrameHeight     int
	CanvasWidth     int
	CanvasHeight    int
	RefreshRate     float64
	OverlayColor    models.RGB
	RenderReprocess bool
	DecodeWorkers   int
	VideoDevice     int // -1 selects the synthetic test card

	// Background subtraction
	BackgroundSubtraction bool
	BGHistory             int
	BGVarThreshold        float64
	BGDetectShadows       bool

	// Audio
	AudioEnabled       bool
	AudioChunkDuration time.Duration
	AudioSampleRate    int
	AudioChannels      int

	// Logging
	LogLevel  string
	LogFormat string // "text" or "json"
}

// defaults for every key
var defaults = map[string]any{
	"http_addr":              ":8080",
	"transport":              "websocket",
	"relay_url":              "wss://localhost:8443",
	"owner":                  "0x5dbef432d012c8d20993214f2c3765e9cf83d180",
	"stream_name":            "avatarchat",
	"publish_api_key":        "",
	"subscribe_api_key":      "",
	"publish_selector":       "",
	"subscribe_selector":     "",
	"reconnect_delay":        5 * time.Second,
	"max_payload_bytes":      4 << 20,
	"max_image_pixels":       3840 * 2160,
	"send_buffer":            4,
	"receive_buffer":         8,
	"frame_width":            640,
	"frame_height":           480,
	"canvas_width":           640,
	"canvas_height":          480,
	"refresh_rate":           60.0,
	"overlay_color":          models.DefaultOverlay.String(),
	"render_reprocess":       false,
	"decode_workers":         2,
	"video_device":           -1,
	"background_subtraction": false,
	"bg_history":             500,
	"bg_var_threshold":       16.0,
	"bg_detect_shadows":      true,
	"audio_enabled":          true,
	"audio_chunk_duration":   5 * time.Second,
	"audio_sample_rate":      48000,
	"audio_channels":         1,
	"log_level":              "info",
	"log_format":             "text",
}

// New returns a viper instance with defaults and environment binding. When
// path is not empty the file must exist and is read.
func New(path string) (*viper.Viper, error) {
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	// Environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	return v, nil
}

// BindFlags lets command line flags named like keys (with dashes) override
// every other source
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if _, known := defaults[key]; !known {
			return
		}
		if bindErr := v.BindPFlag(key, f); bindErr != nil && err == nil {
			err = fmt.Errorf("failed to bind flag %s: %w", f.Name, bindErr)
		}
	})
	return err
}

// Load resolves the configuration from v and validates it
func Load(v *viper.Viper) (*Config, error) {
	overlay, err := models.ParseRGB(v.GetString("overlay_color"))
	if err != nil {
		return nil, fmt.Errorf("overlay_color: %w", err)
	}

	cfg := &Config{
		HTTPAddr:              v.GetString("http_addr"),
		Transport:             strings.ToLower(v.GetString("transport")),
		RelayURL:              v.GetString("relay_url"),
		Owner:                 v.GetString("owner"),
		StreamName:            v.GetString("stream_name"),
		PublishAPIKey:         v.GetString("publish_api_key"),
		SubscribeAPIKey:       v.GetString("subscribe_api_key"),
		PublishSelector:       v.GetString("publish_selector"),
		SubscribeSelector:     v.GetString("subscribe_selector"),
		ReconnectDelay:        v.GetDuration("reconnect_delay"),
		MaxPayloadBytes:       v.GetInt("max_payload_bytes"),
		MaxImagePixels:        v.GetInt("max_image_pixels"),
		SendBuffer:            v.GetInt("send_buffer"),
		ReceiveBuffer:         v.GetInt("receive_buffer"),
		FrameWidth:            v.GetInt("frame_width"),
		FrameHeight:           v.GetInt("frame_height"),
		CanvasWidth:           v.GetInt("canvas_width"),
		CanvasHeight:          v.GetInt("canvas_height"),
		RefreshRate:           v.GetFloat64("refresh_rate"),
		OverlayColor:          overlay,
		RenderReprocess:       v.GetBool("render_reprocess"),
		DecodeWorkers:         v.GetInt("decode_workers"),
		VideoDevice:           v.GetInt("video_device"),
		BackgroundSubtraction: v.GetBool("background_subtraction"),
		BGHistory:             v.GetInt("bg_history"),
		BGVarThreshold:        v.GetFloat64("bg_var_threshold"),
		BGDetectShadows:       v.GetBool("bg_detect_shadows"),
		AudioEnabled:          v.GetBool("audio_enabled"),
		AudioChunkDuration:    v.GetDuration("audio_chunk_duration"),
		AudioSampleRate:       v.GetInt("audio_sample_rate"),
		AudioChannels:         v.GetInt("audio_channels"),
		LogLevel:              v.GetString("log_level"),
		LogFormat:             strings.ToLower(v.GetString("log_format")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside the pipeline
func (c *Config) Validate() error {
	switch c.Transport {
	case "websocket", "memory":
	default:
		return fmt.Errorf("transport must be websocket or memory, got %q", c.Transport)
	}
	if c.FrameWidth <= 0 || c.FrameHeight <= 0 {
		return fmt.Errorf("frame size must be positive, got %dx%d", c.FrameWidth, c.FrameHeight)
	}
	if c.CanvasWidth <= 0 || c.CanvasHeight <= 0 {
		return fmt.Errorf("canvas size must be positive, got %dx%d", c.CanvasWidth, c.CanvasHeight)
	}
	if c.RefreshRate <= 0 {
		return fmt.Errorf("refresh_rate must be positive, got %v", c.RefreshRate)
	}
	if c.ReconnectDelay <= 0 || c.AudioChunkDuration <= 0 {
		return fmt.Errorf("reconnect_delay and audio_chunk_duration must be positive")
	}
	if c.AudioEnabled && (c.AudioSampleRate <= 0 || c.AudioChannels <= 0) {
		return fmt.Errorf("invalid audio format %d Hz x %d channels", c.AudioSampleRate, c.AudioChannels)
	}
	if c.MaxPayloadBytes <= 0 || c.MaxImagePixels <= 0 {
		return fmt.Errorf("max_payload_bytes and max_image_pixels must be positive")
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	return nil
}

// AudioFormat returns the configured PCM format
func (c *Config) AudioFormat() models.AudioFormat {
	return models.AudioFormat{SampleRate: c.AudioSampleRate, Channels: c.AudioChannels}
}
