package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/fame/core/internal/analysis"
	"github.com/fame/core/internal/catalog"
	"github.com/fame/core/internal/cleanup"
	"github.com/fame/core/internal/collab"
	"github.com/fame/core/internal/dispatcher"
	"github.com/fame/core/internal/fameconfig"
	"github.com/fame/core/internal/layout"
	"github.com/fame/core/internal/module/builtin"
	"github.com/fame/core/internal/queue"
	"github.com/fame/core/internal/remotefile"
	"github.com/fame/core/internal/store"
	"github.com/fame/core/internal/worker"
)

func workerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker [queues...]",
		Short: "Run a worker against one or more queues",
		RunE:  runWorker,
	}
	cmd.Flags().String("celery_args", "", "accepted for CLI-compatibility with the original deployment; its value is ignored")
	cmd.Flags().Duration("refresh_interval", 30*time.Second, "how often to poll updates.last_update for a catalog refresh")
	cmd.Flags().String("remote_api", "", "base URL of the central orchestrator's HTTP surface; when set, this worker fetches and uploads files over HTTP instead of sharing storage_path")
	cmd.Flags().String("api_key", "", "X-Api-Key credential used against remote_api")
	cmd.Flags().String("remote_cache", "", "on-disk cache directory for remote_api downloads (defaults to <temp_path>/remote_cache)")
	return cmd
}

// runWorker wires a standalone worker process against the configured
// document store. It shares no in-process queue with "serve" -- a real
// multi-process deployment needs a broker-backed queue.Queue behind the
// same interface; InProcess only has the process's own lifetime, so this
// mode is mainly useful paired with "serve --worker" or in tests.
func runWorker(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	refreshInterval, _ := cmd.Flags().GetDuration("refresh_interval")
	remoteAPI, _ := cmd.Flags().GetString("remote_api")
	apiKey, _ := cmd.Flags().GetString("api_key")
	remoteCache, _ := cmd.Flags().GetString("remote_cache")

	queues := args
	if len(queues) == 0 {
		queues = []string{settings.DefaultQueue}
	}
	queues = append(queues, "updates")

	s, err := store.NewFileStore(filepath.Join(settings.StoragePath, ".store"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	c := catalog.New()
	if err := c.Load(s); err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	d := dispatcher.New(c)
	q := queue.NewInProcess()
	e := analysis.NewEngine(s, c, d, q, nil)

	host := collab.NewLocalModuleHost()
	builtin.Register(host)

	w := &worker.Worker{
		Store:   s,
		Catalog: c,
		Engine:  e,
		Host:    host,
		Queue:   q,
		Queues:  queues,
		Files:   workerFileAccess(settings, e, remoteAPI, apiKey, remoteCache),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go pollForUpdates(ctx, s, c, refreshInterval)

	// A local worker also sweeps the shared scratch space once per hour.
	if remoteAPI == "" {
		scheduler := cron.New()
		sweeper := cleanup.NewSweeper(settings.TempPath, settings.ScratchMaxAge)
		if _, err := sweeper.Schedule(scheduler); err != nil {
			return fmt.Errorf("schedule cleanup: %w", err)
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	fmt.Printf("%s worker bound to queues %v\n", cyan("fame"), queues)
	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	fmt.Println(green("worker shut down cleanly"))
	return nil
}

// workerFileAccess builds the worker's FileAccess collaborator: a
// LocalFileAccess sharing storage_path with the API by default, or a
// RemoteFileAccess fetching through remoteAPI's HTTP surface when set --
// the dual local/remote worker deployment, kept selectable with one flag
// rather than a separate binary.
func workerFileAccess(settings fameconfig.Settings, e *analysis.Engine, remoteAPI, apiKey, remoteCache string) collab.FileAccess {
	if remoteAPI == "" {
		return &collab.LocalFileAccess{
			Layout: layout.Layout{StoragePath: settings.StoragePath, TempPath: settings.TempPath},
			Engine: e,
		}
	}
	cacheDir := remoteCache
	if cacheDir == "" {
		cacheDir = filepath.Join(settings.TempPath, "remote_cache")
	}
	return &collab.RemoteFileAccess{
		Cache: &remotefile.Cache{
			BaseURL: remoteAPI,
			APIKey:  apiKey,
			Dir:     cacheDir,
		},
	}
}

// pollForUpdates mirrors "on each refresh interval, poll
// updates.last_update" behavior. The original restarts a task-consumer
// subprocess after reinstalling module dependencies; a single Go binary
// has no separate dependency set to reinstall, so the Go analogue is a
// catalog reload, which picks up any modules a deployment added or
// disabled since the worker started.
func pollForUpdates(ctx context.Context, s store.Store, c *catalog.Catalog, interval time.Duration) {
	var lastSeen string
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var doc struct {
				LastUpdate string `json:"last_update"`
			}
			ok, err := s.Get(store.CollectionInternals, "updates", &doc)
			if err != nil || !ok || doc.LastUpdate == lastSeen {
				continue
			}
			lastSeen = doc.LastUpdate
			if err := c.Load(s); err != nil {
				fmt.Fprintf(os.Stderr, "%s: reload catalog: %v\n", red("error"), err)
				continue
			}
			fmt.Printf("%s catalog reloaded (last_update=%s)\n", cyan("fame"), lastSeen)
		}
	}
}
