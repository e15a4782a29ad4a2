// Package extract drives the yt-dlp binary to probe and download audio.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/teranos/ytmp3/am"
	"github.com/teranos/ytmp3/errors"
	"github.com/teranos/ytmp3/logger"
	"github.com/teranos/ytmp3/pulse/async"
)

// DefaultURLTemplate turns a video id into a watch URL.
const DefaultURLTemplate = "https://www.youtube.com/watch?v=%s"

// YTDLP runs yt-dlp as a subprocess per call.
type YTDLP struct {
	binary       string
	audioFormat  string
	audioQuality string
	extraArgs    []string
	urlTemplate  string
	logger       *zap.SugaredLogger
}

var _ async.Extractor = (*YTDLP)(nil)

// New creates an extractor from configuration
func New(cfg am.ExtractorConfig, log *zap.SugaredLogger) (*YTDLP, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	extra, err := shellquote.Split(cfg.Args)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse extractor args %q", cfg.Args)
	}
	y := &YTDLP{
		binary:       cfg.Binary,
		audioFormat:  cfg.AudioFormat,
		audioQuality: cfg.AudioQuality,
		extraArgs:    extra,
		urlTemplate:  cfg.URLTemplate,
		logger:       log.Named("extract"),
	}
	if y.binary == "" {
		y.binary = "yt-dlp"
	}
	if y.audioFormat == "" {
		y.audioFormat = "mp3"
	}
	if y.audioQuality == "" {
		y.audioQuality = "192"
	}
	if y.urlTemplate == "" {
		y.urlTemplate = DefaultURLTemplate
	}
	return y, nil
}

// URL returns the resource URL for key
func (y *YTDLP) URL(key string) string {
	return fmt.Sprintf(y.urlTemplate, key)
}

// probeInfo is the slice of yt-dlp's JSON dump we read.
type probeInfo struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Duration *float64 `json:"duration"`
	IsLive   bool     `json:"is_live"`
}

// Probe fetches metadata without downloading. A resource without a
// duration yields zero Metadata.Duration.
func (y *YTDLP) Probe(ctx context.Context, key string) (*async.Metadata, error) {
	args := append([]string{"--dump-single-json", "--skip-download", "--no-playlist", "--no-warnings"}, y.extraArgs...)
	args = append(args, "--", y.URL(key))

	out, err := y.run(ctx, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "probe %s", key)
	}
	return parseProbe(out)
}

func parseProbe(out []byte) (*async.Metadata, error) {
	var info probeInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return nil, errors.Wrap(err, "failed to parse yt-dlp metadata")
	}
	meta := &async.Metadata{ID: info.ID, Title: info.Title}
	// Live streams report no meaningful duration
	if info.Duration != nil && !info.IsLive && *info.Duration > 0 {
		meta.Duration = time.Duration(*info.Duration * float64(time.Second))
	}
	return meta, nil
}

// Extract downloads key as audio into dir and returns the file path.
func (y *YTDLP) Extract(ctx context.Context, key string, dir string) (string, error) {
	args := []string{
		"-x",
		"--audio-format", y.audioFormat,
		"--audio-quality", y.audioQuality,
		"--no-playlist",
		"--no-progress",
		"-o", filepath.Join(dir, key+".%(ext)s"),
	}
	args = append(args, y.extraArgs...)
	args = append(args, "--", y.URL(key))

	start := time.Now()
	if _, err := y.run(ctx, args...); err != nil {
		return "", errors.Wrapf(err, "extract %s", key)
	}

	path, err := findOutput(dir, key, y.audioFormat)
	if err != nil {
		return "", err
	}
	y.logger.Debugw("Extracted audio", logger.FieldKey, key, "path", path,
		logger.FieldDurationMS, time.Since(start).Milliseconds())
	return path, nil
}

// findOutput locates the converted file, preferring the requested format.
func findOutput(dir, key, format string) (string, error) {
	want := filepath.Join(dir, key+"."+format)
	if _, err := os.Stat(want); err == nil {
		return want, nil
	}
	matches, err := filepath.Glob(filepath.Join(dir, key+".*"))
	if err != nil {
		return "", errors.Wrap(err, "failed to list extraction output")
	}
	for _, m := range matches {
		if !strings.HasSuffix(m, ".part") && !strings.HasSuffix(m, ".ytdl") {
			return m, nil
		}
	}
	return "", errors.Newf("yt-dlp produced no output for %s in %s", key, dir)
}

// Version returns the installed yt-dlp version, e.g. "2025.10.22".
func (y *YTDLP) Version(ctx context.Context) (string, error) {
	out, err := y.run(ctx, "--version")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// run executes the binary and returns stdout. Failures carry the last
// stderr line, which is where yt-dlp reports the reason.
func (y *YTDLP) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, y.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrapf(ctx.Err(), "%s interrupted", filepath.Base(y.binary))
		}
		msg := lastLine(stderr.String())
		if msg == "" {
			return nil, errors.Wrapf(err, "%s failed", filepath.Base(y.binary))
		}
		return nil, errors.WithDetailf(errors.Newf("%s", msg), "%s: %v", filepath.Base(y.binary), err)
	}
	return stdout.Bytes(), nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
