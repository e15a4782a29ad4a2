package commands

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/ytmp3/pulse/async"
	"github.com/teranos/ytmp3/sym"
)

// WorkerCmd consumes the job queue
var WorkerCmd = &cobra.Command{
	Use:         "worker",
	Short:       sym.Pulse + " Consume the job queue",
	Annotations: serviceAnnotations,
	Long: sym.Pulse + ` worker - Consume the job queue.

Every delivered message is acknowledged whatever the outcome: failures are
recorded on the job (FAILED with a cool-down), never retried by redelivery.

Examples:
  ytmp3 worker                # Run until Ctrl+C
  ytmp3 worker --workers 4    # Four concurrent extractions
  ytmp3 worker --once         # Handle one batch and exit`,
	RunE: runWorker,
}

var (
	workerCount int
	workerOnce  bool
)

func init() {
	WorkerCmd.Flags().IntVar(&workerCount, "workers", 0, "Concurrent workers (default: worker.workers)")
	WorkerCmd.Flags().BoolVar(&workerOnce, "once", false, "Handle one batch and exit")
}

func runWorker(cmd *cobra.Command, args []string) error {
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

	workers := workerCount
	if workers <= 0 {
		workers = rt.cfg.Worker.Workers
	}
	pool := async.NewWorkerPool(ctx, rt.queue, rt.newWorker(extractor), rt.poolConfig(workers), rt.log)

	if workerOnce {
		n, err := pool.ProcessOnce(ctx)
		if err != nil {
			return fmt.Errorf("worker batch failed after %d deliveries: %w", n, err)
		}
		pterm.Success.Printf("Handled %d deliveries\n", n)
		return nil
	}

	pool.Start()
	pterm.Info.Printf("%s %d worker(s) consuming the queue, Ctrl+C to stop\n", sym.Pulse, workers)

	<-ctx.Done()
	pterm.Info.Println("Finishing in-flight jobs...")
	pool.Stop()
	pterm.Success.Printf("Worker stopped after %d deliveries\n", pool.JobsProcessed())
	return nil
}
