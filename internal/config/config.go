package config

// Codec names accepted by transport.codec.
const (
	CodecClone = "clone"
	CodecJSON  = "json"
)

// Log format names accepted by log.format.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Config is the top-level structure of a statesync runtime configuration file.
type Config struct {
	SchemaVersion string            `yaml:"schemaVersion"`
	Name          string            `yaml:"name,omitempty"`
	Log           LogConfig         `yaml:"log,omitempty"`
	Transport     TransportConfig   `yaml:"transport,omitempty"`
	Diagnostics   DiagnosticsConfig `yaml:"diagnostics,omitempty"`
	Client        ClientConfig      `yaml:"client,omitempty"`
	Metrics       MetricsConfig     `yaml:"metrics,omitempty"`

	// FilePath records where the configuration was loaded from. It is not
	// parsed from the YAML.
	FilePath string `yaml:"-"`
}

type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// TransportConfig controls the in-process message ports created by the spawner.
type TransportConfig struct {
	// Codec is "clone" (structured clone) or "json".
	Codec string `yaml:"codec,omitempty"`
	// MailboxWarnDepth logs a warning every time a mailbox backlog reaches a
	// multiple of this value. Zero disables the warning.
	MailboxWarnDepth int `yaml:"mailbox_warn_depth,omitempty"`
}

type DiagnosticsConfig struct {
	BufferSize int `yaml:"buffer_size,omitempty"`
}

type ClientConfig struct {
	SpawnRetry RetryConfig `yaml:"spawn_retry,omitempty"`
}

// RetryConfig defines the retry behavior used when a worker fails to spawn.
// Durations use time.ParseDuration syntax.
type RetryConfig struct {
	Attempts      int     `yaml:"attempts,omitempty"`
	Delay         string  `yaml:"delay,omitempty"`
	MaxDelay      string  `yaml:"max_delay,omitempty"`
	BackoffFactor float64 `yaml:"backoff_factor,omitempty"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Listen  string `yaml:"listen,omitempty"`
}

// Default returns the configuration used when no file is given. Values
// loaded from a file are decoded on top of it.
func Default() *Config {
	return &Config{
		SchemaVersion: "v1.0.0",
		Name:          "statesync",
		Log: LogConfig{
			Level:  "info",
			Format: LogFormatText,
		},
		Transport: TransportConfig{
			Codec:            CodecClone,
			MailboxWarnDepth: 1024,
		},
		Diagnostics: DiagnosticsConfig{
			BufferSize: 256,
		},
		Client: ClientConfig{
			SpawnRetry: RetryConfig{
				Attempts:      3,
				Delay:         "100ms",
				MaxDelay:      "2s",
				BackoffFactor: 2.0,
			},
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  ":9090",
		},
	}
}
