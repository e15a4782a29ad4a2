package commands

import (
	"context"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/ytmp3/am"
	"github.com/teranos/ytmp3/chat"
	"github.com/teranos/ytmp3/client"
	"github.com/teranos/ytmp3/errors"
	"github.com/teranos/ytmp3/logger"
	"github.com/teranos/ytmp3/pulse/async"
	"github.com/teranos/ytmp3/pulse/watch"
	"github.com/teranos/ytmp3/sym"
)

var apiURL string

// SubmitCmd submits a video through the API
var SubmitCmd = &cobra.Command{
	Use:   "submit <youtube-url|videoId>",
	Short: sym.Dispatch + " Submit a video for extraction",
	Long: sym.Dispatch + ` submit - Submit a video through the API.

Submitting the same video again returns the existing job rather than
starting another extraction.

Examples:
  ytmp3 submit https://youtu.be/dQw4w9WgXcQ
  ytmp3 submit dQw4w9WgXcQ --wait`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

// StatusCmd shows a job
var StatusCmd = &cobra.Command{
	Use:   "status <youtube-url|videoId>",
	Short: sym.Watch + " Show or follow a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

// ChatCmd runs the chat front end against stdin
var ChatCmd = &cobra.Command{
	Use:         "chat",
	Short:       sym.Chat + " Run the chat front end on stdin",
	Annotations: serviceAnnotations,
	Long: sym.Chat + ` chat - Read chat commands from stdin, one per line.

  !mp3 <youtube url>

Each line is its own requester; requests for the same video share one
status poll and every requester gets the result.`,
	RunE: runChat,
}

var (
	submitWait   bool
	statusFollow bool
)

func init() {
	for _, c := range []*cobra.Command{SubmitCmd, StatusCmd, ChatCmd} {
		c.Flags().StringVar(&apiURL, "api", "", "API base URL (default: chat.api_url)")
	}
	SubmitCmd.Flags().BoolVarP(&submitWait, "wait", "w", false, "Wait until the job settles")
	StatusCmd.Flags().BoolVarP(&statusFollow, "follow", "f", false, "Wait until the job settles")
}

func newClient() (*client.Client, *am.Config, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to load config")
	}
	base := apiURL
	if base == "" {
		base = cfg.Chat.APIURL
	}
	c, err := client.New(base, 0, logger.Logger)
	if err != nil {
		return nil, nil, err
	}
	return c, cfg, nil
}

// keyArg accepts a YouTube URL or a bare id
func keyArg(arg string) (string, error) {
	if id := chat.ExtractVideoID(arg); id != "" {
		return id, nil
	}
	if err := async.ValidateKey(arg); err != nil {
		return "", errors.WithHint(err, "pass a YouTube URL or a video id")
	}
	return arg, nil
}

func runSubmit(cmd *cobra.Command, args []string) error {
	key, err := keyArg(args[0])
	if err != nil {
		return err
	}
	c, _, err := newClient()
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	job, err := c.Submit(ctx, key)
	if err != nil {
		return describeAPIError(err)
	}
	printJob(job)

	if submitWait && !job.IsTerminal() {
		return follow(ctx, c, key)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	key, err := keyArg(args[0])
	if err != nil {
		return err
	}
	c, _, err := newClient()
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	job, err := c.GetJob(ctx, key)
	if err != nil {
		return describeAPIError(err)
	}
	printJob(job)

	if statusFollow && !job.IsTerminal() {
		return follow(ctx, c, key)
	}
	return nil
}

func follow(ctx context.Context, c *client.Client, key string) error {
	spinner, _ := pterm.DefaultSpinner.Start("Waiting for " + key)
	job, err := c.Watch(ctx, key)
	if err != nil {
		spinner.Fail(err.Error())
		return describeAPIError(err)
	}
	spinner.Stop()
	printJob(job)
	if job.Status == async.JobStatusFailed {
		return errors.Newf("job %s failed", key)
	}
	return nil
}

func printJob(job *async.Job) {
	switch job.Status {
	case async.JobStatusComplete:
		pterm.Success.Printf("%s COMPLETE %s\n", job.Key, job.ArtifactRef)
	case async.JobStatusFailed:
		until := ""
		if job.ExpiresAt != nil {
			until = " (retry after " + job.ExpiresAt.Local().Format(time.Kitchen) + ")"
		}
		pterm.Error.Printf("%s FAILED: %s%s\n", job.Key, job.Error, until)
	default:
		pterm.Info.Printf("%s %s since %s\n", job.Key, job.Status, job.UpdatedAt.Local().Format(time.RFC3339))
	}
}

func describeAPIError(err error) error {
	if ae, ok := client.AsAPIError(err); ok && ae.Reason != "" {
		return errors.Newf("%s: %s", ae.Message, ae.Reason)
	}
	if client.IsServerError(err) {
		return errors.WithHint(err, "is \"ytmp3 serve\" running? set --api or chat.api_url")
	}
	return err
}

func runChat(cmd *cobra.Command, args []string) error {
	c, cfg, err := newClient()
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	mux := watch.New(ctx, c, watch.Config{Interval: cfg.Chat.PollInterval}, logger.Logger)
	mux.Start()

	bot := chat.NewBot(cfg.Chat.Prefix, c, mux, chat.NewConsoleReplier(cmd.OutOrStdout()), logger.Logger)
	pterm.Info.Printf("%s Type %smp3 <youtube url>, Ctrl+D to finish\n", sym.Chat, cfg.Chat.Prefix)

	runErr := chat.RunConsole(ctx, bot, cmd.InOrStdin())

	// Let outstanding requests settle unless interrupted
	if runErr == nil && len(mux.Keys()) > 0 {
		pterm.Info.Printf("Waiting for %d pending video(s)...\n", len(mux.Keys()))
		for len(mux.Keys()) > 0 && ctx.Err() == nil {
			select {
			case <-ctx.Done():
			case <-time.After(cfg.Chat.PollInterval):
			}
		}
	}
	mux.Stop()
	bot.Wait()
	return runErr
}

func parseDurationFlag(name, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return 0, errors.WithHintf(errors.Newf("invalid --%s %q", name, value), "use a positive duration such as 30m or 2h")
	}
	return d, nil
}
