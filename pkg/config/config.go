package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config represents the complete application configuration.
// Configuration is loaded from a JSON file and may be overridden by environment variables.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Alpaca   AlpacaConfig   `json:"alpaca"`
	Guider   GuiderConfig   `json:"guider"`
	Observer ObserverConfig `json:"observer"`
	Capture  CaptureConfig  `json:"capture"`
	Logging  LoggingConfig  `json:"logging"`
	MQTT     MQTTConfig     `json:"mqtt"`
	InfluxDB InfluxDBConfig `json:"influxdb"`
	Auth     AuthConfig     `json:"auth"`
}

// ServerConfig contains HTTP control-surface configuration.
type ServerConfig struct {
	// Enabled starts the REST/WebSocket control surface alongside the sequencer
	Enabled bool `json:"enabled"`

	// Port is the HTTP server port (default: 8080)
	Port string `json:"port"`

	// Host is the server bind address (default: "0.0.0.0")
	Host string `json:"host"`

	// AllowedOrigins is the CORS origin list for browser clients
	AllowedOrigins []string `json:"allowed_origins"`
}

// DatabaseConfig contains capture-history database settings.
type DatabaseConfig struct {
	// Enabled turns on recording of captured frames
	Enabled bool `json:"enabled"`

	// Driver is the database driver: "postgres" or "sqlite3"
	Driver string `json:"driver"`

	// Path is the SQLite database file (sqlite3 driver only)
	Path string `json:"path"`

	// Host is the database server hostname
	Host string `json:"host"`

	// Port is the database server port
	Port int `json:"port"`

	// Database is the database name
	Database string `json:"database"`

	// Username for database authentication
	Username string `json:"username"`

	// Password for database authentication (should be loaded from environment)
	Password string `json:"password"`

	// SSLMode for PostgreSQL connections (disable, require, verify-ca, verify-full)
	SSLMode string `json:"ssl_mode"`

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int `json:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int `json:"max_idle_conns"`
}

// AlpacaConfig contains ASCOM Alpaca device server settings.
// A negative device number means the device role is not bound.
type AlpacaConfig struct {
	// BaseURL is the Alpaca server address (e.g., "http://192.168.1.100:11111")
	BaseURL string `json:"base_url"`

	CameraDeviceNumber          int `json:"camera_device_number"`
	FilterWheelDeviceNumber     int `json:"filter_wheel_device_number"`
	TelescopeDeviceNumber       int `json:"telescope_device_number"`
	DomeDeviceNumber            int `json:"dome_device_number"`
	CoverCalibratorDeviceNumber int `json:"cover_calibrator_device_number"`
	FocuserDeviceNumber         int `json:"focuser_device_number"`
	RotatorDeviceNumber         int `json:"rotator_device_number"`

	// PollIntervalMillis is how often pending device operations are polled
	PollIntervalMillis int `json:"poll_interval_millis"`

	// RequestsPerSecond caps the request rate against the Alpaca server (0 = unlimited)
	RequestsPerSecond float64 `json:"requests_per_second"`

	// MaxRetries is the number of transport-level retries for failed HTTP calls
	MaxRetries int `json:"max_retries"`

	// TimeoutSeconds is the per-request HTTP timeout
	TimeoutSeconds int `json:"timeout_seconds"`

	// CalibratorBrightness is the light box brightness used for flats (0 = device maximum)
	CalibratorBrightness int `json:"calibrator_brightness"`

	// TemperatureTolerance is the allowed delta in °C before a setpoint counts as reached
	TemperatureTolerance float64 `json:"temperature_tolerance"`

	// OperationTimeoutSeconds bounds a polled operation such as a slew or cover move
	OperationTimeoutSeconds int `json:"operation_timeout_seconds"`

	// Autofocus sweep: exposure per sample, focuser steps between samples and
	// samples taken on each side of the start position
	FocusExposureSeconds float64 `json:"focus_exposure_seconds"`
	FocusStepSize        int     `json:"focus_step_size"`
	FocusSamplesPerSide  int     `json:"focus_samples_per_side"`
}

// GuiderConfig contains PHD2 guiding server settings.
type GuiderConfig struct {
	// Enabled binds the PHD2 guider adapter
	Enabled bool `json:"enabled"`

	// Host is the PHD2 event server host
	Host string `json:"host"`

	// Port is the PHD2 event server port (default 4400)
	Port int `json:"port"`

	// DitherPixels is the dither amplitude in guide camera pixels
	DitherPixels float64 `json:"dither_pixels"`

	// SettlePixels is the settle tolerance in pixels
	SettlePixels float64 `json:"settle_pixels"`

	// SettleTimeSeconds is how long the guider must stay within tolerance
	SettleTimeSeconds int `json:"settle_time_seconds"`

	// SettleTimeoutSeconds bounds a settle operation on the PHD2 side
	SettleTimeoutSeconds int `json:"settle_timeout_seconds"`
}

// ObserverConfig contains the observer's identity and geographic location.
type ObserverConfig struct {
	// Name is the observer name written into image metadata
	Name string `json:"name"`

	// Latitude in decimal degrees (-90 to +90)
	Latitude float64 `json:"latitude"`

	// Longitude in decimal degrees (-180 to +180)
	Longitude float64 `json:"longitude"`

	// Elevation in meters above sea level
	Elevation float64 `json:"elevation"`
}

// CaptureConfig contains sequencer policy settings.
type CaptureConfig struct {
	// OutputDirectory is the default destination when a job has no directory
	OutputDirectory string `json:"output_directory"`

	// TargetName prefixes generated file names
	TargetName string `json:"target_name"`

	// IgnoreHistory restarts file numbering at 1 regardless of existing files
	IgnoreHistory bool `json:"ignore_history"`

	GuideDeviation  GuideDeviationConfig  `json:"guide_deviation"`
	InSequenceFocus InSequenceFocusConfig `json:"in_sequence_focus"`
	MeridianFlip    MeridianFlipConfig    `json:"meridian_flip"`
	Dither          DitherConfig          `json:"dither"`

	// ExposureRetries is how many times a failed exposure is retried before the job errors
	ExposureRetries int `json:"exposure_retries"`

	// DownloadTimeoutSeconds is added to the exposure duration for the exposure watchdog
	DownloadTimeoutSeconds int `json:"download_timeout_seconds"`

	// FrameOverheadSeconds is the per-frame overhead used for remaining-time estimates
	FrameOverheadSeconds float64 `json:"frame_overhead_seconds"`

	// FlatMaxTrials bounds ADU convergence for flat calibration
	FlatMaxTrials int `json:"flat_max_trials"`

	// SuspendGuideOnDownload pauses the guider while each image is read out
	SuspendGuideOnDownload bool `json:"suspend_guide_on_download"`

	// FilterFocusOffsets are focuser steps per filter name, relative to the filter focused on
	FilterFocusOffsets map[string]int `json:"filter_focus_offsets,omitempty"`

	// PostCaptureScript runs after every stored frame unless a job sets its own
	PostCaptureScript string `json:"post_capture_script,omitempty"`

	// ScriptTimeoutSeconds bounds a post-capture script run
	ScriptTimeoutSeconds int `json:"script_timeout_seconds"`
}

// GuideDeviationConfig controls suspension of capture on poor guiding.
type GuideDeviationConfig struct {
	Enabled bool `json:"enabled"`

	// MaxArcsec is the total RA/DEC deviation limit in arc-seconds
	MaxArcsec float64 `json:"max_arcsec"`

	// SettleSeconds is the debounce window applied before suspending or resuming
	SettleSeconds float64 `json:"settle_seconds"`
}

// InSequenceFocusConfig controls autofocus requests between frames.
type InSequenceFocusConfig struct {
	Enabled bool `json:"enabled"`

	// HFRLimit triggers autofocus once a reported HFR exceeds it (0 = use first measured HFR)
	HFRLimit float64 `json:"hfr_limit"`

	// EveryNFrames forces autofocus after N frames (0 = disabled)
	EveryNFrames int `json:"every_n_frames"`

	// EveryNMinutes forces autofocus after N minutes of capture (0 = disabled)
	EveryNMinutes int `json:"every_n_minutes"`
}

// MeridianFlipConfig controls automatic meridian flips.
type MeridianFlipConfig struct {
	Enabled bool `json:"enabled"`

	// HourAngle is the trigger in hours past the meridian
	HourAngle float64 `json:"hour_angle"`

	// CheckIntervalSeconds is how often the mount hour angle is polled
	CheckIntervalSeconds int `json:"check_interval_seconds"`

	// StageTimeoutSeconds bounds each flip stage (flip, slew, align, guide)
	StageTimeoutSeconds int `json:"stage_timeout_seconds"`

	// Realign re-solves and re-centers after the flip when an aligner is bound
	Realign bool `json:"realign"`
}

// DitherConfig controls dithering between frames.
type DitherConfig struct {
	Enabled bool `json:"enabled"`

	// EveryNFrames requests a dither after N light frames
	EveryNFrames int `json:"every_n_frames"`

	// TimeoutSeconds bounds the wait for a settled dither
	TimeoutSeconds int `json:"timeout_seconds"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error
	Level string `json:"level"`

	// Format is "json" or "text"
	Format string `json:"format"`

	// Output is "stdout" or "stderr"
	Output string `json:"output"`
}

// MQTTConfig contains broker settings for status publishing.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	Broker      string `json:"broker"`
	ClientID    string `json:"client_id"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	TopicPrefix string `json:"topic_prefix"`
	QoS         int    `json:"qos"`
}

// InfluxDBConfig contains metric export settings.
type InfluxDBConfig struct {
	Enabled       bool   `json:"enabled"`
	URL           string `json:"url"`
	Token         string `json:"token"`
	Org           string `json:"org"`
	Bucket        string `json:"bucket"`
	BatchSize     int    `json:"batch_size"`
	FlushInterval int    `json:"flush_interval"`
}

// AuthConfig contains operator authentication for the control surface.
type AuthConfig struct {
	// JWTSecret signs session tokens (should be loaded from environment)
	JWTSecret string `json:"jwt_secret"`

	// TokenHours is the session lifetime
	TokenHours int `json:"token_hours"`

	// AdminUser is the operator login name
	AdminUser string `json:"admin_user"`

	// AdminPasswordHash is a bcrypt hash of the operator password
	AdminPasswordHash string `json:"admin_password_hash"`
}

// Load reads configuration from a JSON file.
// If the file doesn't exist, returns a default configuration.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvironmentOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Start from defaults so omitted sections keep sensible values
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvironmentOverrides()

	if err := cfg.Capture.Validate(); err != nil {
		return nil, fmt.Errorf("invalid capture configuration: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to a JSON file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Enabled:        true,
			Port:           "8080",
			Host:           "0.0.0.0",
			AllowedOrigins: []string{"*"},
		},
		Database: DatabaseConfig{
			Enabled:      false,
			Driver:       "sqlite3",
			Path:         "skycapture.db",
			Host:         "localhost",
			Port:         5432,
			Database:     "skycapture",
			Username:     "skycapture",
			SSLMode:      "disable",
			MaxOpenConns: 10,
			MaxIdleConns: 2,
		},
		Alpaca: AlpacaConfig{
			BaseURL:                     "http://localhost:11111",
			CameraDeviceNumber:          0,
			FilterWheelDeviceNumber:     0,
			TelescopeDeviceNumber:       0,
			DomeDeviceNumber:            -1,
			CoverCalibratorDeviceNumber: -1,
			FocuserDeviceNumber:         -1,
			RotatorDeviceNumber:         -1,
			PollIntervalMillis:          500,
			RequestsPerSecond:           20,
			MaxRetries:                  2,
			TimeoutSeconds:              30,
			TemperatureTolerance:        0.5,
			OperationTimeoutSeconds:     600,
			FocusExposureSeconds:        3,
			FocusStepSize:               100,
			FocusSamplesPerSide:         4,
		},
		Guider: GuiderConfig{
			Enabled:              false,
			Host:                 "localhost",
			Port:                 4400,
			DitherPixels:         3.0,
			SettlePixels:         1.5,
			SettleTimeSeconds:    10,
			SettleTimeoutSeconds: 60,
		},
		Observer: ObserverConfig{
			Name: "Observer",
		},
		Capture: CaptureConfig{
			OutputDirectory: "captures",
			GuideDeviation: GuideDeviationConfig{
				Enabled:       false,
				MaxArcsec:     2.0,
				SettleSeconds: 10,
			},
			InSequenceFocus: InSequenceFocusConfig{
				Enabled:  false,
				HFRLimit: 0,
			},
			MeridianFlip: MeridianFlipConfig{
				Enabled:              false,
				HourAngle:            0.1,
				CheckIntervalSeconds: 60,
				StageTimeoutSeconds:  300,
				Realign:              true,
			},
			Dither: DitherConfig{
				Enabled:        false,
				EveryNFrames:   1,
				TimeoutSeconds: 60,
			},
			ExposureRetries:        3,
			DownloadTimeoutSeconds: 120,
			FrameOverheadSeconds:   0,
			FlatMaxTrials:          10,
			ScriptTimeoutSeconds:   300,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		MQTT: MQTTConfig{
			Enabled:     false,
			Broker:      "tcp://localhost:1883",
			ClientID:    "skycapture",
			TopicPrefix: "skycapture",
			QoS:         1,
		},
		InfluxDB: InfluxDBConfig{
			Enabled:       false,
			URL:           "http://localhost:8086",
			Org:           "observatory",
			Bucket:        "skycapture",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Auth: AuthConfig{
			TokenHours: 24,
			AdminUser:  "admin",
		},
	}
}

// Validate checks capture policy values for impossible settings.
func (c *CaptureConfig) Validate() error {
	if c.ExposureRetries < 0 {
		return fmt.Errorf("exposure_retries must be >= 0, got %d", c.ExposureRetries)
	}
	if c.GuideDeviation.SettleSeconds < 0 {
		return fmt.Errorf("guide_deviation.settle_seconds must be >= 0")
	}
	if c.GuideDeviation.Enabled && c.GuideDeviation.MaxArcsec <= 0 {
		return fmt.Errorf("guide_deviation.max_arcsec must be > 0 when enabled")
	}
	if c.MeridianFlip.StageTimeoutSeconds < 0 || c.MeridianFlip.CheckIntervalSeconds < 0 {
		return fmt.Errorf("meridian_flip timers must be >= 0")
	}
	if c.InSequenceFocus.HFRLimit < 0 {
		return fmt.Errorf("in_sequence_focus.hfr_limit must be >= 0")
	}
	if c.FlatMaxTrials < 0 {
		return fmt.Errorf("flat_max_trials must be >= 0")
	}
	if c.ScriptTimeoutSeconds < 0 {
		return fmt.Errorf("script_timeout_seconds must be >= 0")
	}
	return nil
}

// OperationTimeout returns the limit for a polled device operation.
func (a AlpacaConfig) OperationTimeout() time.Duration {
	if a.OperationTimeoutSeconds <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(a.OperationTimeoutSeconds) * time.Second
}

// PollInterval returns the Alpaca polling interval as a duration.
func (a AlpacaConfig) PollInterval() time.Duration {
	if a.PollIntervalMillis <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(a.PollIntervalMillis) * time.Millisecond
}

// DSN returns the driver-specific data source name.
func (d DatabaseConfig) DSN() string {
	if d.Driver == "sqlite3" {
		return fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on", d.Path)
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.Username, d.Password, d.Database, d.SSLMode,
	)
}

// applyEnvironmentOverrides applies environment variable overrides to the config.
// This allows secrets to be kept out of config files.
func (c *Config) applyEnvironmentOverrides() {
	if port := os.Getenv("SKYCAPTURE_PORT"); port != "" {
		c.Server.Port = port
	}
	if alpacaURL := os.Getenv("SKYCAPTURE_ALPACA_URL"); alpacaURL != "" {
		c.Alpaca.BaseURL = alpacaURL
	}
	if dbPassword := os.Getenv("SKYCAPTURE_DB_PASSWORD"); dbPassword != "" {
		c.Database.Password = dbPassword
	}
	if mqttPassword := os.Getenv("SKYCAPTURE_MQTT_PASSWORD"); mqttPassword != "" {
		c.MQTT.Password = mqttPassword
	}
	if token := os.Getenv("SKYCAPTURE_INFLUXDB_TOKEN"); token != "" {
		c.InfluxDB.Token = token
	}
	if secret := os.Getenv("SKYCAPTURE_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if hash := os.Getenv("SKYCAPTURE_ADMIN_PASSWORD_HASH"); hash != "" {
		c.Auth.AdminPasswordHash = hash
	}
}
