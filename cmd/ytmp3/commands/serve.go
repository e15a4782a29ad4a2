package commands

import (
	"context"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/ytmp3/am"
	"github.com/teranos/ytmp3/errors"
	"github.com/teranos/ytmp3/logger"
	"github.com/teranos/ytmp3/pulse/async"
	"github.com/teranos/ytmp3/pulse/janitor"
	"github.com/teranos/ytmp3/pulse/watch"
	"github.com/teranos/ytmp3/server"
	"github.com/teranos/ytmp3/sym"
	"github.com/teranos/ytmp3/version"
)

// ServeCmd runs the HTTP API
var ServeCmd = &cobra.Command{
	Use:         "serve",
	Aliases:     []string{"server"},
	Short:       sym.Dispatch + " Run the HTTP API",
	Annotations: serviceAnnotations,
	Long: sym.Dispatch + ` serve - Run the submission and status API.

Endpoints:
  GET|POST /api/mp3/{videoId}   Submit (idempotent) and return the job
  GET      /api/jobs/{videoId}  Current job record
  GET      /api/health          Build info, state, queue depth, host memory
  GET      /ws/watch?key=ID     One frame with the settled job, then close
  GET      /files/{name}        Artifacts, fs backend only

Workers and the janitor can run in the same process (--workers, --janitor)
or separately via "ytmp3 worker" and "ytmp3 janitor".

Changes to the project am.toml are picked up without a restart for
dispatch.max_duration and janitor.retention.`,
	RunE: runServe,
}

var (
	servePort        int
	serveWorkers     int
	serveWithJanitor bool
)

func init() {
	ServeCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (default: server.port)")
	ServeCmd.Flags().IntVar(&serveWorkers, "workers", 0, "In-process queue workers (0 = none)")
	ServeCmd.Flags().BoolVar(&serveWithJanitor, "janitor", true, "Run retention sweeps in-process")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	extractor, err := rt.extractor()
	if err != nil {
		return err
	}

	dispatcher := async.NewDispatcher(rt.store, rt.queue, rt.artifacts, extractor, async.DispatcherConfig{
		MaxDuration: rt.cfg.Dispatch.MaxDuration,
		CallTimeout: rt.cfg.Dispatch.CallTimeout,
		Naming:      rt.naming,
	}, rt.log)

	mux := watch.New(ctx, rt.store, watch.Config{Interval: rt.cfg.Watch.Interval}, rt.log)
	mux.Start()

	var filesDir string
	if rt.cfg.Artifacts.Backend == am.BackendFS {
		filesDir = rt.cfg.Artifacts.Dir
	}
	srv, err := server.New(server.Config{
		Submitter:      dispatcher,
		Jobs:           rt.store,
		Watch:          mux,
		Queue:          rt.queue,
		FilesDir:       filesDir,
		AllowedOrigins: rt.cfg.GetServerAllowedOrigins(),
		CallTimeout:    rt.cfg.Dispatch.CallTimeout * 4,
	}, rt.log)
	if err != nil {
		mux.Stop()
		return err
	}

	var pool *async.WorkerPool
	if serveWorkers > 0 {
		pool = async.NewWorkerPool(ctx, rt.queue, rt.newWorker(extractor), rt.poolConfig(serveWorkers), rt.log)
		pool.Start()
	}

	var jan *janitor.Janitor
	if serveWithJanitor {
		jan = newJanitor(ctx, rt)
		jan.Start()
	}

	watcher := watchConfig(func(cfg *am.Config) error {
		dispatcher.SetMaxDuration(cfg.Dispatch.MaxDuration)
		if jan != nil {
			jan.SetRetention(cfg.Janitor.Retention)
		}
		logger.Infow("Applied reloaded limits",
			"max_duration", cfg.Dispatch.MaxDuration,
			"retention", cfg.Janitor.Retention)
		return nil
	})

	port := servePort
	if port == 0 {
		port = rt.cfg.Server.Port
	}
	if err := srv.Start(port); err != nil {
		mux.Stop()
		return err
	}

	info := version.Get()
	pterm.Success.Printf("ytmp3 %s listening on :%d\n", info.Version, port)
	pterm.Info.Printf("Database: %s, artifacts: %s, workers: %d, janitor: %v\n",
		rt.cfg.GetDatabasePath(), rt.cfg.Artifacts.Backend, serveWorkers, serveWithJanitor)

	<-ctx.Done()
	pterm.Info.Println("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), server.ShutdownTimeout)
	defer cancel()

	// Watch streams end once the multiplexer stops
	mux.Stop()
	var shutdownErr error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		shutdownErr = errors.CombineErrors(shutdownErr, err)
	}
	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			shutdownErr = errors.CombineErrors(shutdownErr, err)
		}
	}
	if pool != nil {
		pool.Stop()
	}
	if jan != nil {
		jan.Stop()
	}

	if shutdownErr != nil {
		return fmt.Errorf("shutdown error: %w", shutdownErr)
	}
	pterm.Success.Println("Server stopped cleanly")
	return nil
}
