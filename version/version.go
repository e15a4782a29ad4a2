// Package version reports how the ytmp3 binary was built.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

// Build information, set at build time via ldflags:
//
//	-X github.com/teranos/ytmp3/version.Version=v1.2.0
//
// Untagged builds fall back to the VCS stamp go build embeds.
var (
	CommitHash = "dev"
	BuildTime  = "unknown"
	Version    = "dev"
)

// Info describes the running binary
type Info struct {
	CommitHash string `json:"commit_hash"`
	BuildTime  string `json:"build_time"`
	Version    string `json:"version"`
	Modified   bool   `json:"modified,omitempty"`
	GoVersion  string `json:"go_version"`
	Platform   string `json:"platform"`
	Extractor  string `json:"extractor,omitempty"` // yt-dlp version, filled in by callers that probe it
}

var (
	stampOnce sync.Once
	stamps    map[string]string
)

func vcsStamps() map[string]string {
	stampOnce.Do(func() {
		stamps = make(map[string]string)
		bi, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		for _, s := range bi.Settings {
			stamps[s.Key] = s.Value
		}
	})
	return stamps
}

// Get returns the current version information
func Get() Info {
	info := Info{
		CommitHash: CommitHash,
		BuildTime:  BuildTime,
		Version:    Version,
		GoVersion:  runtime.Version(),
		Platform:   fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
	vcs := vcsStamps()
	if info.CommitHash == "dev" && vcs["vcs.revision"] != "" {
		info.CommitHash = vcs["vcs.revision"]
		info.Modified = vcs["vcs.modified"] == "true"
	}
	if info.BuildTime == "unknown" && vcs["vcs.time"] != "" {
		info.BuildTime = vcs["vcs.time"]
	}
	return info
}

// String returns a human-readable version string
func (i Info) String() string {
	commit := i.Short()
	if i.Modified {
		commit += "+modified"
	}
	s := fmt.Sprintf("ytmp3 %s (commit %s, built %s)", i.Version, commit, i.BuildTime)
	if i.Extractor != "" {
		s += ", yt-dlp " + i.Extractor
	}
	return s
}

// Short returns a short version string with just the commit hash
func (i Info) Short() string {
	if len(i.CommitHash) >= 7 {
		return i.CommitHash[:7]
	}
	return i.CommitHash
}

// UserAgent is what API clients send, e.g. "ytmp3/v1.2.0 (linux/amd64)".
func (i Info) UserAgent() string {
	return fmt.Sprintf("ytmp3/%s (%s)", i.Version, i.Platform)
}
