package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/davarch/ci-orchestrator/internal/application"
	"github.com/davarch/ci-orchestrator/internal/infrastructure/config"
	"github.com/davarch/ci-orchestrator/internal/infrastructure/httpapi"
	"github.com/davarch/ci-orchestrator/internal/infrastructure/logging"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept events over HTTP, run triggered workflows and prune artifacts",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		log := logging.New()
		defer func() { _ = log.Sync() }()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			log.Fatal("config", zap.Error(err))
		}
		if serveAddr != "" {
			cfg.Server.Addr = serveAddr
		}

		a, err := newApp(log, cfg)
		if err != nil {
			log.Fatal("init", zap.Error(err))
		}
		defer func() { _ = a.Close() }()

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		reloadOnChange(ctx, log, a)

		janitor := application.NewJanitor(log, a.artifacts, cfg.Artifacts.PruneInterval, cfg.Artifacts.PauseFile)
		go janitor.Run(ctx)

		api := httpapi.New(ctx, log, a.disp, a.history)
		srv := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           api.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		log.Info("start",
			zap.String("version", version),
			zap.String("addr", cfg.Server.Addr),
			zap.Int("workflows", len(a.disp.Workflows())),
			zap.String("workspace", a.cfg.Workspace),
			zap.String("artifacts", cfg.Artifacts.Dir),
			zap.Duration("prune_every", cfg.Artifacts.PruneInterval),
			zap.String("pause_file", cfg.Artifacts.PauseFile),
		)

		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe() }()

		select {
		case <-ctx.Done():
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				log.Error("http server", zap.Error(err))
			}
		}

		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown", zap.Error(err))
		}
		cancel()
		api.Wait()
		log.Info("stopped")
	},
}

// reloadOnChange reloads the workflow set when config.yaml or one of the
// loaded documents changes. A reload that loads nothing keeps the previous
// set.
func reloadOnChange(ctx context.Context, log *zap.Logger, a *app) {
	files, err := workflowPaths(a.cfg)
	if err != nil {
		log.Warn("workflow discovery failed", zap.Error(err))
	}
	if cfgPath != "" {
		files = append(files, cfgPath)
	}

	watchFiles(ctx, log, files, func() {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			log.Warn("config reload failed", zap.Error(err))
			return
		}
		cfg.Workspace = a.cfg.Workspace
		wfs, err := loadWorkflows(cfg)
		if err != nil {
			log.Warn("workflow reload", zap.Error(err))
		}
		if len(wfs) == 0 {
			log.Warn("workflow reload: nothing loaded, keeping previous set")
			return
		}
		a.disp.UpdateWorkflows(wfs)
	})
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
	rootCmd.AddCommand(serveCmd)
}
