package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/teranos/ytmp3/am"
	"github.com/teranos/ytmp3/extract"
	"github.com/teranos/ytmp3/version"
)

const extractorVersionTimeout = 5 * time.Second

// VersionCmd represents the version command
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show ytmp3 version information",
	Long: `Display version, build time, commit hash, and platform information for the ytmp3 binary,
along with the version of the configured yt-dlp.`,
	Run: func(cmd *cobra.Command, args []string) {
		jsonOutput, _ := cmd.Flags().GetBool("json")
		out := cmd.OutOrStdout()

		info := version.Get()
		info.Extractor = extractorVersion(cmd.Context())

		if jsonOutput {
			output, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Error formatting JSON: %v\n", err)
				return
			}
			fmt.Fprintln(out, string(output))
		} else {
			fmt.Fprintln(out, info.String())
			fmt.Fprintf(out, "Platform: %s\n", info.Platform)
			fmt.Fprintf(out, "Go: %s\n", info.GoVersion)
		}
	},
}

// extractorVersion asks the configured yt-dlp for its version. A missing
// binary or unreadable config yields "" rather than failing the command.
func extractorVersion(ctx context.Context) string {
	if ctx == nil {
		ctx = context.Background()
	}
	ecfg := am.ExtractorConfig{}
	if cfg, err := am.Load(); err == nil {
		ecfg = cfg.Extractor
	}
	y, err := extract.New(ecfg, nil)
	if err != nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, extractorVersionTimeout)
	defer cancel()
	v, err := y.Version(ctx)
	if err != nil {
		return ""
	}
	return v
}

func init() {
	VersionCmd.Flags().BoolP("json", "j", false, "Output version info as JSON")
}
