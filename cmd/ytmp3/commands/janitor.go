package commands

import (
	"context"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/ytmp3/am"
	"github.com/teranos/ytmp3/pulse/janitor"
	"github.com/teranos/ytmp3/sym"
)

// JanitorCmd reclaims expired jobs and artifacts
var JanitorCmd = &cobra.Command{
	Use:         "janitor",
	Short:       sym.Janitor + " Reclaim expired jobs and artifacts",
	Annotations: serviceAnnotations,
	Long: sym.Janitor + ` janitor - Reclaim jobs untouched for longer than janitor.retention.

Artifacts are deleted before their records, in batches of at most 1000.
A batch whose artifact delete fails keeps its records for the next sweep.

Examples:
  ytmp3 janitor                  # Sweep every janitor.interval until Ctrl+C
  ytmp3 janitor --once           # One sweep, then exit
  ytmp3 janitor --once --retention 30m`,
	RunE: runJanitor,
}

var (
	janitorOnce      bool
	janitorRetention string
)

func init() {
	JanitorCmd.Flags().BoolVar(&janitorOnce, "once", false, "Run a single sweep and exit")
	JanitorCmd.Flags().StringVar(&janitorRetention, "retention", "", "Override janitor.retention (e.g. 30m, 2h)")
}

func newJanitor(ctx context.Context, rt *runtime) *janitor.Janitor {
	cfg := janitor.DefaultConfig()
	cfg.Interval = rt.cfg.Janitor.Interval
	cfg.Retention = rt.cfg.Janitor.Retention
	cfg.BatchSize = rt.cfg.Janitor.BatchSize
	cfg.ScanLimit = rt.cfg.Janitor.ScanLimit
	cfg.Naming = rt.naming
	return janitor.New(ctx, rt.store, rt.artifacts, cfg, rt.log)
}

func runJanitor(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	jan := newJanitor(ctx, rt)
	if janitorRetention != "" {
		d, err := parseDurationFlag("retention", janitorRetention)
		if err != nil {
			return err
		}
		jan.SetRetention(d)
	}

	if janitorOnce {
		n, err := jan.Sweep(ctx)
		pterm.Info.Printf("%s Reclaimed %d job(s) older than %s\n", sym.Janitor, n, jan.Retention())
		if err != nil {
			return fmt.Errorf("sweep incomplete: %w", err)
		}
		return nil
	}

	jan.Start()
	watcher := watchConfig(func(cfg *am.Config) error {
		if janitorRetention == "" {
			jan.SetRetention(cfg.Janitor.Retention)
		}
		return nil
	})
	pterm.Info.Printf("%s Sweeping every %s, retention %s, Ctrl+C to stop\n",
		sym.Janitor, rt.cfg.Janitor.Interval, jan.Retention())

	<-ctx.Done()
	if watcher != nil {
		watcher.Stop()
	}
	jan.Stop()
	pterm.Success.Printf("Janitor stopped, %d job(s) reclaimed\n", jan.Reclaimed())
	return nil
}
