// Package config provides configuration management for go-portal
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/golang/geo/r3"
	"github.com/spf13/viper"

	"github.com/teslashibe/go-portal/internal/capture"
	"github.com/teslashibe/go-portal/internal/frustum"
	"github.com/teslashibe/go-portal/internal/portal"
	"github.com/teslashibe/go-portal/internal/pose"
	"github.com/teslashibe/go-portal/internal/rig"
	"github.com/teslashibe/go-portal/internal/scene"
)

// EnvPrefix prefixes environment overrides, e.g. GOPORTAL_SERVER_PORT
const EnvPrefix = "GOPORTAL"

// Config is the root configuration structure
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Display    DisplayConfig    `mapstructure:"display"`
	Capture    CaptureConfig    `mapstructure:"capture"`
	Pose       PoseConfig       `mapstructure:"pose"`
	Rig        RigConfig        `mapstructure:"rig"`
	Projection ProjectionConfig `mapstructure:"projection"`
	Asset      AssetConfig      `mapstructure:"asset"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
	StreamHz        int           `mapstructure:"stream_hz"`
}

// DisplayConfig configures the window or headless loop
type DisplayConfig struct {
	Headless     bool   `mapstructure:"headless"`
	Title        string `mapstructure:"title"`
	Width        int    `mapstructure:"width"`
	Height       int    `mapstructure:"height"`
	RefreshHz    int    `mapstructure:"refresh_hz"`
	HUD          bool   `mapstructure:"hud"`
	Profile      string `mapstructure:"profile"` // auto, desktop, touch
	Render       bool   `mapstructure:"render"`  // Headless offscreen rendering
	FrameQuality int    `mapstructure:"frame_quality"`
}

// CaptureConfig configures the camera
type CaptureConfig struct {
	Kind          string        `mapstructure:"kind"` // webcam, snapshot, webrtc, mock
	Device        int           `mapstructure:"device"`
	Width         int           `mapstructure:"width"`
	Height        int           `mapstructure:"height"`
	Framerate     int           `mapstructure:"framerate"`
	Quality       int           `mapstructure:"quality"`
	SnapshotURL   string        `mapstructure:"snapshot_url"`
	SignallingURL string        `mapstructure:"signalling_url"`
	Producer      string        `mapstructure:"producer"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// PoseConfig configures face tracking
type PoseConfig struct {
	Enabled              bool          `mapstructure:"enabled"`
	Estimator            string        `mapstructure:"estimator"` // yunet, remote, mock
	ModelPath            string        `mapstructure:"model_path"`
	ScoreThreshold       float64       `mapstructure:"score_threshold"`
	NMSThreshold         float64       `mapstructure:"nms_threshold"`
	TopK                 int           `mapstructure:"top_k"`
	RemoteURL            string        `mapstructure:"remote_url"`
	RequestTimeout       time.Duration `mapstructure:"request_timeout"`
	ConfidenceGate       float64       `mapstructure:"confidence_gate"`
	MaxConsecutiveErrors int           `mapstructure:"max_consecutive_errors"`
	ShutdownTimeout      time.Duration `mapstructure:"shutdown_timeout"`
	MockPeriod           time.Duration `mapstructure:"mock_period"`
}

// Vec3 is a point in scene units
type Vec3 struct {
	X float64 `mapstructure:"x"`
	Y float64 `mapstructure:"y"`
	Z float64 `mapstructure:"z"`
}

// Vector converts to an r3 vector
func (v Vec3) Vector() r3.Vector { return r3.Vector{X: v.X, Y: v.Y, Z: v.Z} }

// RigConfig configures the orbit rig
type RigConfig struct {
	Target          Vec3    `mapstructure:"target"`
	Position        Vec3    `mapstructure:"position"`
	MinDistance     float64 `mapstructure:"min_distance"`
	MaxDistance     float64 `mapstructure:"max_distance"`
	MinAzimuth      float64 `mapstructure:"min_azimuth"`
	MaxAzimuth      float64 `mapstructure:"max_azimuth"`
	RotateSpeed     float64 `mapstructure:"rotate_speed"`
	FaceAzimuthSpan float64 `mapstructure:"face_azimuth_span"`
	FacePolarSpan   float64 `mapstructure:"face_polar_span"`
	FaceYReference  float64 `mapstructure:"face_y_reference"`
}

// ProjectionConfig configures the clip planes and viewport fit
type ProjectionConfig struct {
	Near float64 `mapstructure:"near"`
	Far  float64 `mapstructure:"far"`
	Fit  string  `mapstructure:"fit"` // stretch, contain
}

// AssetConfig configures the 3D asset
type AssetConfig struct {
	Source   string        `mapstructure:"source"` // builtin, file path or URL
	Lots     int           `mapstructure:"lots"`
	MaxBytes int64         `mapstructure:"max_bytes"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// LoggingConfig configures logging
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// Default returns the default configuration
func Default() *Config {
	r := rig.DefaultConfig()
	c := capture.DefaultConfig()

	return &Config{
		Server: ServerConfig{
			Enabled:         true,
			Port:            9000,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			GracefulTimeout: 5 * time.Second,
			StreamHz:        10,
		},
		Display: DisplayConfig{
			Title:        "go-portal",
			Width:        1280,
			Height:       720,
			RefreshHz:    60,
			HUD:          true,
			Profile:      string(portal.ProfileAuto),
			Render:       true,
			FrameQuality: 80,
		},
		Capture: CaptureConfig{
			Kind:          string(c.Kind),
			Device:        c.Device,
			Width:         c.Width,
			Height:        c.Height,
			Framerate:     c.Framerate,
			Quality:       c.Quality,
			SnapshotURL:   c.SnapshotURL,
			SignallingURL: c.SignallingURL,
			Producer:      c.Producer,
			Timeout:       c.Timeout,
		},
		Pose: PoseConfig{
			Enabled:              true,
			Estimator:            "yunet",
			ModelPath:            "models/face_detection_yunet_2023mar.onnx",
			ScoreThreshold:       0.5,
			NMSThreshold:         0.3,
			TopK:                 50,
			RemoteURL:            "ws://localhost:8090/ws/pose",
			RequestTimeout:       2 * time.Second,
			ConfidenceGate:       0.7,
			MaxConsecutiveErrors: 5,
			ShutdownTimeout:      2 * time.Second,
			MockPeriod:           8 * time.Second,
		},
		Rig: RigConfig{
			Target:          Vec3{X: r.Target.X, Y: r.Target.Y, Z: r.Target.Z},
			Position:        Vec3{X: r.Position.X, Y: r.Position.Y, Z: r.Position.Z},
			MinDistance:     r.MinDistance,
			MaxDistance:     r.MaxDistance,
			MinAzimuth:      r.MinAzimuth,
			MaxAzimuth:      r.MaxAzimuth,
			RotateSpeed:     r.RotateSpeed,
			FaceAzimuthSpan: r.FaceAzimuthSpan,
			FacePolarSpan:   r.FacePolarSpan,
			FaceYReference:  r.FaceYReference,
		},
		Projection: ProjectionConfig{
			Near: 1,
			Far:  5000,
			Fit:  string(frustum.FitStretch),
		},
		Asset: AssetConfig{
			Source:   "builtin",
			Lots:     6,
			MaxBytes: 64 << 20,
			Timeout:  15 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from file and environment. A missing file falls
// back to defaults; a malformed one is an error.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()

	// Server defaults
	v.SetDefault("server.enabled", d.Server.Enabled)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.graceful_timeout", d.Server.GracefulTimeout)
	v.SetDefault("server.stream_hz", d.Server.StreamHz)

	// Display defaults
	v.SetDefault("display.headless", d.Display.Headless)
	v.SetDefault("display.title", d.Display.Title)
	v.SetDefault("display.width", d.Display.Width)
	v.SetDefault("display.height", d.Display.Height)
	v.SetDefault("display.refresh_hz", d.Display.RefreshHz)
	v.SetDefault("display.hud", d.Display.HUD)
	v.SetDefault("display.profile", d.Display.Profile)
	v.SetDefault("display.render", d.Display.Render)
	v.SetDefault("display.frame_quality", d.Display.FrameQuality)

	// Capture defaults
	v.SetDefault("capture.kind", d.Capture.Kind)
	v.SetDefault("capture.device", d.Capture.Device)
	v.SetDefault("capture.width", d.Capture.Width)
	v.SetDefault("capture.height", d.Capture.Height)
	v.SetDefault("capture.framerate", d.Capture.Framerate)
	v.SetDefault("capture.quality", d.Capture.Quality)
	v.SetDefault("capture.snapshot_url", d.Capture.SnapshotURL)
	v.SetDefault("capture.signalling_url", d.Capture.SignallingURL)
	v.SetDefault("capture.producer", d.Capture.Producer)
	v.SetDefault("capture.timeout", d.Capture.Timeout)

	// Pose defaults
	v.SetDefault("pose.enabled", d.Pose.Enabled)
	v.SetDefault("pose.estimator", d.Pose.Estimator)
	v.SetDefault("pose.model_path", d.Pose.ModelPath)
	v.SetDefault("pose.score_threshold", d.Pose.ScoreThreshold)
	v.SetDefault("pose.nms_threshold", d.Pose.NMSThreshold)
	v.SetDefault("pose.top_k", d.Pose.TopK)
	v.SetDefault("pose.remote_url", d.Pose.RemoteURL)
	v.SetDefault("pose.request_timeout", d.Pose.RequestTimeout)
	v.SetDefault("pose.confidence_gate", d.Pose.ConfidenceGate)
	v.SetDefault("pose.max_consecutive_errors", d.Pose.MaxConsecutiveErrors)
	v.SetDefault("pose.shutdown_timeout", d.Pose.ShutdownTimeout)
	v.SetDefault("pose.mock_period", d.Pose.MockPeriod)

	// Rig defaults
	v.SetDefault("rig.target.x", d.Rig.Target.X)
	v.SetDefault("rig.target.y", d.Rig.Target.Y)
	v.SetDefault("rig.target.z", d.Rig.Target.Z)
	v.SetDefault("rig.position.x", d.Rig.Position.X)
	v.SetDefault("rig.position.y", d.Rig.Position.Y)
	v.SetDefault("rig.position.z", d.Rig.Position.Z)
	v.SetDefault("rig.min_distance", d.Rig.MinDistance)
	v.SetDefault("rig.max_distance", d.Rig.MaxDistance)
	v.SetDefault("rig.min_azimuth", d.Rig.MinAzimuth)
	v.SetDefault("rig.max_azimuth", d.Rig.MaxAzimuth)
	v.SetDefault("rig.rotate_speed", d.Rig.RotateSpeed)
	v.SetDefault("rig.face_azimuth_span", d.Rig.FaceAzimuthSpan)
	v.SetDefault("rig.face_polar_span", d.Rig.FacePolarSpan)
	v.SetDefault("rig.face_y_reference", d.Rig.FaceYReference)

	// Projection defaults
	v.SetDefault("projection.near", d.Projection.Near)
	v.SetDefault("projection.far", d.Projection.Far)
	v.SetDefault("projection.fit", d.Projection.Fit)

	// Asset defaults
	v.SetDefault("asset.source", d.Asset.Source)
	v.SetDefault("asset.lots", d.Asset.Lots)
	v.SetDefault("asset.max_bytes", d.Asset.MaxBytes)
	v.SetDefault("asset.timeout", d.Asset.Timeout)

	// Logging defaults
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Enabled && (c.Server.Port < 1 || c.Server.Port > 65535) {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.StreamHz < 1 || c.Server.StreamHz > 60 {
		return fmt.Errorf("stream_hz must be between 1 and 60, got %d", c.Server.StreamHz)
	}

	if c.Display.Width <= 0 || c.Display.Height <= 0 {
		return fmt.Errorf("display size must be positive, got %dx%d", c.Display.Width, c.Display.Height)
	}
	if c.Display.RefreshHz < 1 || c.Display.RefreshHz > 240 {
		return fmt.Errorf("refresh_hz must be between 1 and 240, got %d", c.Display.RefreshHz)
	}
	if _, err := portal.ParseProfile(c.Display.Profile); err != nil {
		return err
	}

	switch capture.Kind(c.Capture.Kind) {
	case capture.KindWebcam, capture.KindSnapshot, capture.KindWebRTC, capture.KindMock:
	default:
		return fmt.Errorf("unknown capture kind %q", c.Capture.Kind)
	}

	switch c.Pose.Estimator {
	case "yunet", "remote", "mock":
	default:
		return fmt.Errorf("unknown pose estimator %q", c.Pose.Estimator)
	}
	if c.Pose.ConfidenceGate < 0 || c.Pose.ConfidenceGate >= 1 {
		return fmt.Errorf("confidence_gate must be in [0, 1), got %f", c.Pose.ConfidenceGate)
	}

	if c.Rig.MinDistance <= 0 || c.Rig.MaxDistance < c.Rig.MinDistance {
		return fmt.Errorf("rig distance range [%f, %f] is invalid", c.Rig.MinDistance, c.Rig.MaxDistance)
	}
	if c.Rig.MinAzimuth > c.Rig.MaxAzimuth {
		return fmt.Errorf("rig azimuth range [%f, %f] is invalid", c.Rig.MinAzimuth, c.Rig.MaxAzimuth)
	}
	if c.Rig.FaceYReference <= 0 {
		return fmt.Errorf("face_y_reference must be positive, got %f", c.Rig.FaceYReference)
	}

	if c.Projection.Near <= 0 || c.Projection.Far <= c.Projection.Near {
		return fmt.Errorf("projection clip planes near=%f far=%f are invalid", c.Projection.Near, c.Projection.Far)
	}
	switch frustum.FitMode(c.Projection.Fit) {
	case frustum.FitStretch, frustum.FitContain:
	default:
		return fmt.Errorf("unknown projection fit %q", c.Projection.Fit)
	}

	return nil
}

// CaptureSource converts to the capture package configuration
func (c *Config) CaptureSource() capture.Config {
	return capture.Config{
		Kind:          capture.Kind(c.Capture.Kind),
		Device:        c.Capture.Device,
		Width:         c.Capture.Width,
		Height:        c.Capture.Height,
		Framerate:     c.Capture.Framerate,
		Quality:       c.Capture.Quality,
		SnapshotURL:   c.Capture.SnapshotURL,
		SignallingURL: c.Capture.SignallingURL,
		Producer:      c.Capture.Producer,
		Timeout:       c.Capture.Timeout,
	}
}

// RigController converts to the rig package configuration. Polar limits
// stay at the poles.
func (c *Config) RigController() rig.Config {
	r := rig.DefaultConfig()
	r.Target = c.Rig.Target.Vector()
	r.Position = c.Rig.Position.Vector()
	r.MinDistance = c.Rig.MinDistance
	r.MaxDistance = c.Rig.MaxDistance
	r.MinAzimuth = c.Rig.MinAzimuth
	r.MaxAzimuth = c.Rig.MaxAzimuth
	r.RotateSpeed = c.Rig.RotateSpeed
	r.FaceAzimuthSpan = c.Rig.FaceAzimuthSpan
	r.FacePolarSpan = c.Rig.FacePolarSpan
	r.FaceYReference = c.Rig.FaceYReference
	return r
}

// Portal converts to the application configuration for a resolved profile
func (c *Config) Portal(profile portal.Profile) portal.Config {
	return portal.Config{
		Profile:    profile,
		Width:      c.Display.Width,
		Height:     c.Display.Height,
		Near:       c.Projection.Near,
		Far:        c.Projection.Far,
		Fit:        frustum.FitMode(c.Projection.Fit),
		VideoWidth: float64(c.Capture.Width),
		Gate:       c.Pose.ConfidenceGate,
		QueueSize:  portal.DefaultConfig().QueueSize,
		Rig:        c.RigController(),
	}
}

// PoseSource converts to the pose source configuration
func (c *Config) PoseSource() pose.Config {
	return pose.Config{
		MaxConsecutiveErrors: c.Pose.MaxConsecutiveErrors,
		ShutdownTimeout:      c.Pose.ShutdownTimeout,
	}
}

// YuNet converts to the local estimator configuration. The detector input
// matches the capture resolution.
func (c *Config) YuNet() pose.YuNetConfig {
	return pose.YuNetConfig{
		ModelPath:      c.Pose.ModelPath,
		InputWidth:     c.Capture.Width,
		InputHeight:    c.Capture.Height,
		ScoreThreshold: c.Pose.ScoreThreshold,
		NMSThreshold:   c.Pose.NMSThreshold,
		TopK:           c.Pose.TopK,
	}
}

// Remote converts to the pose service client configuration
func (c *Config) Remote() pose.RemoteConfig {
	r := pose.DefaultRemoteConfig()
	r.URL = c.Pose.RemoteURL
	r.RequestTimeout = c.Pose.RequestTimeout
	return r
}

// AssetLoader converts to the scene asset configuration
func (c *Config) AssetLoader() scene.AssetConfig {
	return scene.AssetConfig{
		Source:   c.Asset.Source,
		Lots:     c.Asset.Lots,
		MaxBytes: c.Asset.MaxBytes,
		Timeout:  c.Asset.Timeout,
	}
}

// Loop converts to the headless loop configuration
func (c *Config) Loop() portal.LoopConfig {
	return portal.LoopConfig{
		Interval: time.Second / time.Duration(c.Display.RefreshHz),
		Render:   c.Display.Render,
		Quality:  c.Display.FrameQuality,
	}
}
