package am

import (
	"fmt"

	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "ytmp3.db")

	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.allowed_origins", []string{
		"http://localhost",
		"https://localhost",
		"http://127.0.0.1",
		"https://127.0.0.1",
	})

	v.SetDefault("dispatch.max_duration", "10m")
	v.SetDefault("dispatch.call_timeout", "15s")

	v.SetDefault("worker.workers", 1)
	v.SetDefault("worker.poll_interval", "1s")
	v.SetDefault("worker.batch_size", 1)
	v.SetDefault("worker.visibility_timeout", "15m")
	v.SetDefault("worker.cool_down", "1m")
	v.SetDefault("worker.call_timeout", "15m")
	v.SetDefault("worker.work_dir", "")

	v.SetDefault("janitor.interval", "10m")
	v.SetDefault("janitor.retention", "2h")
	v.SetDefault("janitor.batch_size", 1000) // largest batch the original blob store accepted
	v.SetDefault("janitor.scan_limit", 1000)

	v.SetDefault("watch.interval", "5s")

	v.SetDefault("artifacts.backend", BackendFS)
	v.SetDefault("artifacts.dir", "artifacts")
	v.SetDefault("artifacts.base_url", "")
	v.SetDefault("artifacts.extension", "mp3")
	v.SetDefault("artifacts.s3.region", "us-east-1")

	v.SetDefault("extractor.binary", "yt-dlp")
	v.SetDefault("extractor.audio_format", "mp3")
	v.SetDefault("extractor.audio_quality", "192")
	v.SetDefault("extractor.probe_rate", 2.0)
	v.SetDefault("extractor.probe_burst", 4)
	v.SetDefault("extractor.args", "")
	v.SetDefault("extractor.url_template", "https://www.youtube.com/watch?v=%s")

	v.SetDefault("chat.prefix", "!")
	v.SetDefault("chat.api_url", fmt.Sprintf("http://localhost:%d", DefaultServerPort))
	v.SetDefault("chat.poll_interval", "5s")
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("database.path", "YTMP3_DATABASE_PATH")

	// S3 credentials and bucket
	v.BindEnv("artifacts.s3.bucket", "YTMP3_S3_BUCKET", "BUCKET_NAME")
	v.BindEnv("artifacts.s3.region", "YTMP3_S3_REGION", "AWS_REGION")
	v.BindEnv("artifacts.s3.access_key_id", "YTMP3_S3_ACCESS_KEY_ID")
	v.BindEnv("artifacts.s3.secret_access_key", "YTMP3_S3_SECRET_ACCESS_KEY")

	// Chat front end
	v.BindEnv("chat.token", "YTMP3_CHAT_TOKEN")
	v.BindEnv("chat.api_url", "YTMP3_CHAT_API_URL", "API_URL")
}

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return "ytmp3.db"
	}
	return c.Database.Path
}

// GetServerAllowedOrigins returns the allowed CORS origins
func (c *Config) GetServerAllowedOrigins() []string {
	if len(c.Server.AllowedOrigins) == 0 {
		return []string{
			"http://localhost",
			"https://localhost",
			"http://127.0.0.1",
			"https://127.0.0.1",
		}
	}
	return c.Server.AllowedOrigins
}

// GetExtension returns the artifact file extension (default: mp3)
func (c *Config) GetExtension() string {
	if c.Artifacts.Extension == "" {
		return "mp3"
	}
	return c.Artifacts.Extension
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Database: %s, Artifacts: %s, Worker: {Workers: %d}, Janitor: {Retention: %s}}",
		c.Database.Path, c.Artifacts.Backend, c.Worker.Workers, c.Janitor.Retention)
}
