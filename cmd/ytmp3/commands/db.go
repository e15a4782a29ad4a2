package commands

import (
	"context"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/ytmp3/db"
	"github.com/teranos/ytmp3/errors"
	"github.com/teranos/ytmp3/pulse/async"
	"github.com/teranos/ytmp3/sym"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: sym.DB + " Inspect job and queue tables",
	Long: sym.DB + ` db - Inspect the ytmp3 database.

Examples:
  ytmp3 db stats                   # Job counts by status and queue depth
  ytmp3 db stats --db-path x.db    # Inspect another database`,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show job and queue statistics",
	RunE:  runDbStats,
}

var dbPathFlag string

func init() {
	DbCmd.AddCommand(dbStatsCmd)
	dbStatsCmd.Flags().StringVar(&dbPathFlag, "db-path", "", "Database path (overrides database.path)")
}

func runDbStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	database, err := openDatabase(cfg, dbPathFlag)
	if err != nil {
		return err
	}
	defer database.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	counts, err := async.NewSQLStore(database).CountByStatus(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to count jobs")
	}
	depth, err := async.NewSQLQueue(database, cfg.Worker.VisibilityTimeout, nil).Depth(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to read queue depth")
	}
	schema, err := db.SchemaVersion(database)
	if err != nil {
		return errors.Wrap(err, "failed to read schema version")
	}

	path := dbPathFlag
	if path == "" {
		path = cfg.GetDatabasePath()
	}
	pterm.DefaultSection.Printf("%s Database Statistics", sym.DB)
	pterm.Printf("Database Path:  %s\n", path)
	pterm.Printf("Schema Version: %s\n\n", schema)

	total := 0
	data := pterm.TableData{{"Status", "Jobs"}}
	for _, status := range []async.JobStatus{async.JobStatusPending, async.JobStatusComplete, async.JobStatusFailed} {
		data = append(data, []string{string(status), strconv.Itoa(counts[status])})
		total += counts[status]
	}
	data = append(data, []string{"total", strconv.Itoa(total)})
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		return errors.Wrap(err, "failed to render table")
	}

	pterm.Println()
	pterm.Printf("Queued messages: %d\n", depth)
	pterm.Printf("Retention:       %s (sweep every %s)\n", cfg.Janitor.Retention, cfg.Janitor.Interval)
	return nil
}
