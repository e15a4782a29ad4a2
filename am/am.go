package am

import "time"

// Config represents the ytmp3 configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Server    ServerConfig    `mapstructure:"server"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Janitor   JanitorConfig   `mapstructure:"janitor"`
	Watch     WatchConfig     `mapstructure:"watch"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	Extractor ExtractorConfig `mapstructure:"extractor"`
	Chat      ChatConfig      `mapstructure:"chat"`
}

// DatabaseConfig configures the SQLite database backing the record store and queue
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DispatchConfig configures admission
type DispatchConfig struct {
	MaxDuration time.Duration `mapstructure:"max_duration"` // Longest resource accepted (default: 10m)
	CallTimeout time.Duration `mapstructure:"call_timeout"` // Bound on each collaborator call (default: 15s)
}

// WorkerConfig configures the queue consumers
type WorkerConfig struct {
	Workers           int           `mapstructure:"workers"`            // Number of concurrent workers (default: 1)
	PollInterval      time.Duration `mapstructure:"poll_interval"`      // Delay between empty receives (default: 1s)
	BatchSize         int           `mapstructure:"batch_size"`         // Messages claimed per receive (default: 1)
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"` // Claim duration before redelivery (default: 15m)
	CoolDown          time.Duration `mapstructure:"cool_down"`          // FAILED job blocks resubmission this long (default: 1m)
	CallTimeout       time.Duration `mapstructure:"call_timeout"`       // Bound on extraction + upload per message (default: 15m)
	WorkDir           string        `mapstructure:"work_dir"`           // Scratch directory (empty = OS temp)
}

// JanitorConfig configures retention sweeps
type JanitorConfig struct {
	Interval  time.Duration `mapstructure:"interval"`   // Sweep period (default: 10m)
	Retention time.Duration `mapstructure:"retention"`  // Age after which jobs are reclaimed (default: 2h)
	BatchSize int           `mapstructure:"batch_size"` // Max deletes per batch (default: 1000)
	ScanLimit int           `mapstructure:"scan_limit"` // Max rows examined per sweep (default: 1000)
}

// WatchConfig configures the status multiplexer
type WatchConfig struct {
	Interval time.Duration `mapstructure:"interval"` // Poll period (default: 5s)
}

// ArtifactsConfig configures artifact storage
type ArtifactsConfig struct {
	Backend   string   `mapstructure:"backend"`   // fs or s3
	Dir       string   `mapstructure:"dir"`       // fs backend root
	BaseURL   string   `mapstructure:"base_url"`  // fs backend public prefix
	Extension string   `mapstructure:"extension"` // Artifact file extension (default: mp3)
	S3        S3Config `mapstructure:"s3"`
}

// S3Config configures the S3 artifact backend
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"` // Optional S3-compatible endpoint
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// ExtractorConfig configures the yt-dlp extractor
type ExtractorConfig struct {
	Binary       string  `mapstructure:"binary"`
	AudioFormat  string  `mapstructure:"audio_format"`
	AudioQuality string  `mapstructure:"audio_quality"`
	ProbeRate    float64 `mapstructure:"probe_rate"`   // Probes per second (0 = unlimited)
	ProbeBurst   int     `mapstructure:"probe_burst"`  // Burst allowance for probes
	Args         string  `mapstructure:"args"`         // Extra yt-dlp arguments, shell-quoted
	URLTemplate  string  `mapstructure:"url_template"` // %s is replaced by the key
}

// ChatConfig configures the chat front end
type ChatConfig struct {
	Prefix       string        `mapstructure:"prefix"`
	APIURL       string        `mapstructure:"api_url"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Token        string        `mapstructure:"token"`
}

// Server port constants
const (
	DefaultServerPort = 8877
)

// Artifact backends
const (
	BackendFS = "fs"
	BackendS3 = "s3"
)

// File system constants
const (
	DefaultDirPermissions  = 0755 // Standard directory permissions (rwxr-xr-x)
	DefaultFilePermissions = 0644 // Standard file permissions (rw-r--r--)
)
