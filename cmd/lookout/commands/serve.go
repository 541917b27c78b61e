package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/lookout/am"
	"github.com/teranos/lookout/errors"
	"github.com/teranos/lookout/logger"
	"github.com/teranos/lookout/pipeline"
	"github.com/teranos/lookout/server"
)

// ServeCmd starts the lookout HTTP server
var ServeCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "Start the detection web server",
	Long: `Serve the upload and search forms, run detection in the background and
publish HTML reports. The upload policy hot reloads when the config file changes.`,
	RunE: runServe,
}

var (
	serveHost    string
	servePort    int
	serveNoWatch bool
)

func init() {
	ServeCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (overrides server.host)")
	ServeCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Listen port (overrides server.port)")
	ServeCmd.Flags().BoolVar(&serveNoWatch, "no-watch", false, "Disable config hot reload")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}

	// Server defaults to Info verbosity
	verbosity, err := initLogging(cmd, cfg, logger.VerbosityInfo)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return errors.Wrap(err, "failed to wire lookout")
	}
	defer a.close()

	dispatcher := pipeline.NewDispatcher(ctx, a.executor, a.tracker)
	deps := server.Deps{
		Config:     cfg,
		Policy:     a.policy,
		Validator:  a.validator,
		Admission:  a.admission,
		Dispatcher: dispatcher,
		Search:     a.search,
		Metrics:    a.metrics,
	}
	if a.archive != nil {
		deps.History = a.archive
	}

	srv, err := server.New(deps)
	if err != nil {
		return errors.Wrap(err, "failed to create server")
	}
	if err := srv.Start(ctx); err != nil {
		return err
	}
	printStartupBanner(verbosity, cfg, a, srv.Addr())

	if !serveNoWatch {
		if watcher := watchConfig(cmd, srv); watcher != nil {
			defer watcher.Stop()
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-srv.Err():
		return errors.Wrap(err, "server stopped unexpectedly")
	case <-sigChan:
		pterm.Info.Println("\nShutting down gracefully (press Ctrl+C again to force)...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
		defer shutdownCancel()

		shutdownDone := make(chan error, 1)
		go func() {
			shutdownDone <- srv.Stop(shutdownCtx)
		}()

		select {
		case err := <-shutdownDone:
			if err != nil {
				return errors.Wrap(err, "shutdown error")
			}
			pterm.Success.Println("Server stopped cleanly")
			return nil
		case <-sigChan:
			pterm.Warning.Println("\nForce shutdown - exiting immediately")
			logger.Cleanup()
			os.Exit(1)
			return nil
		}
	}
}

// watchConfig hot reloads from the highest precedence config file that
// exists. Returns nil when there is nothing to watch.
func watchConfig(cmd *cobra.Command, srv *server.Server) *am.ConfigWatcher {
	explicit, _ := cmd.Flags().GetString("config")

	var path string
	for _, src := range am.ConfigSources(explicit) {
		if src.Exists {
			path = src.Path
		}
	}
	if path == "" {
		logger.Debugw("No config file on disk, hot reload disabled")
		return nil
	}

	watcher, err := am.NewConfigWatcher(path, func(string) (*am.Config, error) {
		return am.Load(explicit)
	})
	if err != nil {
		logger.Warnw("Config hot reload unavailable", logger.FieldFile, path, logger.FieldError, err)
		return nil
	}
	watcher.OnReload(srv.ReloadConfig)
	watcher.Start()
	logger.Infow("Watching config for changes", logger.FieldFile, path)
	return watcher
}
