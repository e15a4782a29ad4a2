package am

import (
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/teranos/ytmp3/errors"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return errors.Newf("server.port must be between 0 and 65535, got %d", c.Server.Port)
	}

	if c.Dispatch.MaxDuration <= 0 {
		return errors.Newf("dispatch.max_duration must be > 0, got %s", c.Dispatch.MaxDuration)
	}
	if c.Dispatch.CallTimeout <= 0 {
		return errors.Newf("dispatch.call_timeout must be > 0, got %s", c.Dispatch.CallTimeout)
	}

	// Workers: 0 = no background workers, negative = invalid
	if c.Worker.Workers < 0 {
		return errors.Newf("worker.workers must be >= 0, got %d", c.Worker.Workers)
	}
	if c.Worker.BatchSize <= 0 {
		return errors.Newf("worker.batch_size must be > 0, got %d", c.Worker.BatchSize)
	}
	if c.Worker.VisibilityTimeout <= 0 {
		return errors.Newf("worker.visibility_timeout must be > 0, got %s", c.Worker.VisibilityTimeout)
	}
	if c.Worker.CoolDown < 0 {
		return errors.Newf("worker.cool_down must be >= 0, got %s", c.Worker.CoolDown)
	}
	if c.Worker.CallTimeout > 0 && c.Worker.CallTimeout > c.Worker.VisibilityTimeout {
		return errors.WithHint(
			errors.Newf("worker.call_timeout (%s) exceeds worker.visibility_timeout (%s)", c.Worker.CallTimeout, c.Worker.VisibilityTimeout),
			"messages would be redelivered while still being processed",
		)
	}

	if c.Janitor.Retention <= 0 {
		return errors.Newf("janitor.retention must be > 0, got %s", c.Janitor.Retention)
	}
	if c.Janitor.Retention <= c.Worker.CoolDown {
		return errors.Newf("janitor.retention (%s) must exceed worker.cool_down (%s)", c.Janitor.Retention, c.Worker.CoolDown)
	}
	if c.Janitor.BatchSize <= 0 || c.Janitor.BatchSize > 1000 {
		return errors.Newf("janitor.batch_size must be between 1 and 1000, got %d", c.Janitor.BatchSize)
	}
	if c.Janitor.ScanLimit < 0 {
		return errors.Newf("janitor.scan_limit must be >= 0, got %d", c.Janitor.ScanLimit)
	}

	if c.Watch.Interval <= 0 {
		return errors.Newf("watch.interval must be > 0, got %s", c.Watch.Interval)
	}

	switch c.Artifacts.Backend {
	case BackendFS:
		if c.Artifacts.Dir == "" {
			return errors.New("artifacts.dir cannot be empty for the fs backend")
		}
	case BackendS3:
		if c.Artifacts.S3.Bucket == "" {
			return errors.New("artifacts.s3.bucket cannot be empty for the s3 backend")
		}
		if c.Artifacts.S3.Region == "" {
			return errors.New("artifacts.s3.region cannot be empty for the s3 backend")
		}
	default:
		return errors.Newf("artifacts.backend must be %q or %q, got %q", BackendFS, BackendS3, c.Artifacts.Backend)
	}

	if c.Extractor.Binary == "" {
		return errors.New("extractor.binary cannot be empty")
	}
	if c.Extractor.ProbeRate < 0 {
		return errors.Newf("extractor.probe_rate must be >= 0, got %f", c.Extractor.ProbeRate)
	}
	if _, err := shellquote.Split(c.Extractor.Args); err != nil {
		return errors.Wrap(err, "extractor.args is not valid shell quoting")
	}
	if !strings.Contains(c.Extractor.URLTemplate, "%s") {
		return errors.Newf("extractor.url_template must contain %%s, got %q", c.Extractor.URLTemplate)
	}

	return nil
}
