package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/fame/core/internal/analysis"
	"github.com/fame/core/internal/catalog"
	"github.com/fame/core/internal/cleanup"
	"github.com/fame/core/internal/collab"
	"github.com/fame/core/internal/dispatcher"
	"github.com/fame/core/internal/httpapi"
	"github.com/fame/core/internal/layout"
	"github.com/fame/core/internal/module/builtin"
	"github.com/fame/core/internal/queue"
	"github.com/fame/core/internal/store"
	"github.com/fame/core/internal/worker"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the central orchestrator HTTP surface",
		RunE:  runServe,
	}
	cmd.Flags().Bool("worker", false, "also run an embedded worker against the default queue, sharing an in-process task bus")
	cmd.Flags().StringSlice("cors-origin", []string{"*"}, "allowed CORS origins for the HTTP surface")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	withWorker, _ := cmd.Flags().GetBool("worker")
	corsOrigins, _ := cmd.Flags().GetStringSlice("cors-origin")

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

	fileLayout := layout.Layout{StoragePath: settings.StoragePath, TempPath: settings.TempPath}

	srv := &httpapi.Server{
		Store:       s,
		Engine:      e,
		Catalog:     c,
		Auth:        collab.StaticAuth{UserID: "local", Groups: []string{"default"}},
		Repository:  collab.NoopRepository{},
		Layout:      fileLayout,
		ModulesRoot: ".",
	}
	handler := httpapi.New(srv, corsOrigins)

	httpSrv := &http.Server{Addr: settings.ListenAddr, Handler: handler}

	scheduler := cron.New()
	sweeper := cleanup.NewSweeper(settings.TempPath, settings.ScratchMaxAge)
	if _, err := sweeper.Schedule(scheduler); err != nil {
		return fmt.Errorf("schedule cleanup: %w", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if withWorker {
		host := collab.NewLocalModuleHost()
		builtin.Register(host)
		w := &worker.Worker{
			Store:   s,
			Catalog: c,
			Engine:  e,
			Host:    host,
			Queue:   q,
			Queues:  []string{settings.DefaultQueue, "updates"},
			Files:   &collab.LocalFileAccess{Layout: fileLayout, Engine: e},
		}
		go func() {
			if err := w.Run(ctx); err != nil && ctx.Err() == nil {
				fmt.Fprintf(os.Stderr, "%s: worker: %v\n", red("error"), err)
			}
		}()
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownGrace)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	fmt.Printf("%s listening on %s\n", cyan("fame"), bold(settings.ListenAddr))
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	fmt.Println(green("shut down cleanly"))
	return nil
}
