package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/3leaps/flowstatus/internal/config"
	"github.com/3leaps/flowstatus/internal/observability"
	"github.com/3leaps/flowstatus/internal/server"
	"github.com/3leaps/flowstatus/internal/server/handlers"
	"github.com/3leaps/flowstatus/pkg/evidence"
	"github.com/3leaps/flowstatus/pkg/passregistry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-only status API",
	Long: `Serve status records, health and metrics over HTTP.

Routes:
  GET /health, /health/live, /health/ready, /health/startup
  GET /version
  GET /v1/runs/{runID}/records[?project=P]
  GET /metrics

With --update-every the server also runs a pass on that interval; the
first pass starts immediately.

Examples:
  flowstatus serve
  flowstatus serve --host 0.0.0.0 --port 9000
  flowstatus serve --update-every 15m`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveHost        string
	servePort        int
	serveUpdateEvery time.Duration
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (default: server.host)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (default: server.port)")
	serveCmd.Flags().DurationVar(&serveUpdateEvery, "update-every", 0, "Run a pass on this interval (0 = never)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := appConfig
	log := observability.CLILogger

	host, port := cfg.Server.Host, cfg.Server.Port
	if cmd.Flags().Changed("host") {
		host = serveHost
	}
	if cmd.Flags().Changed("port") {
		port = servePort
	}
	if serveUpdateEvery < 0 {
		return exitError(foundry.ExitInvalidArgument, "Invalid --update-every value", fmt.Errorf("interval must be >= 0"))
	}

	store, err := openStore(ctx, cfg.StatusDB)
	if err != nil {
		return storeUnavailable(store, err)
	}
	defer func() { _ = store.Close() }()

	metrics := observability.NewMetrics()
	registry := passregistry.NewStore(cfg.Pass.StateDir)

	health := handlers.NewHealthManager(versionInfo.Version)
	health.RegisterChecker("data_dirs", dataDirsHealthChecker{dirs: cfg.DataDirs.ByBrand()})
	if serveUpdateEvery > 0 {
		health.RegisterChecker("passes", passHealthChecker{registry: registry, maxAge: 3 * serveUpdateEvery, started: time.Now()})
	}

	srv := server.New(host, port,
		server.WithStore(store),
		server.WithMetrics(metrics.Handler()),
		server.WithHealth(health),
		server.WithVersion(handlers.VersionInfo{
			Version:   versionInfo.Version,
			Commit:    versionInfo.Commit,
			BuildDate: versionInfo.BuildDate,
		}),
		server.WithLogger(log),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("Shutting down http server")
		return srv.Shutdown(shutdownCtx)
	})
	if serveUpdateEvery > 0 {
		g.Go(func() error {
			periodicPasses(gctx, cfg, store, metrics, serveUpdateEvery, log)
			return nil
		})
	}

	log.Info("Serving status API",
		zap.String("addr", srv.Addr()),
		zap.String("statusdb", store.Endpoint),
		zap.Duration("update_every", serveUpdateEvery))

	if err := g.Wait(); err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "HTTP server failed", err)
	}
	return nil
}

// periodicPasses runs a pass now and then every interval until ctx is done.
// Pass failures are logged; the next tick tries again.
func periodicPasses(ctx context.Context, cfg *config.Config, store *storeHandle, metrics *observability.Metrics, every time.Duration, log *zap.Logger) {
	brands := cfg.DataDirs.Brands()
	if len(brands) == 0 {
		log.Warn("No data_dirs configured; periodic passes disabled")
		return
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		summary, err := executePass(ctx, passEnv{
			cfg:     cfg,
			store:   store,
			metrics: metrics,
			brands:  brands,
			log:     log,
		})
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			log.Error("Pass failed", zap.Error(err))
		default:
			log.Debug("Pass complete", zap.String("pass_id", summary.PassID), zap.String("state", string(summary.State)))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// dataDirsHealthChecker fails when a configured brand has no reachable root.
type dataDirsHealthChecker struct {
	dirs map[evidence.Brand][]string
}

func (c dataDirsHealthChecker) CheckHealth(context.Context) error {
	for _, brand := range evidence.Brands {
		roots := c.dirs[brand]
		if len(roots) == 0 {
			continue
		}
		reachable := false
		for _, root := range roots {
			if fi, err := os.Stat(root); err == nil && fi.IsDir() {
				reachable = true
				break
			}
		}
		if !reachable {
			return fmt.Errorf("no data dir reachable for %s", brand)
		}
	}
	return nil
}

// passHealthChecker fails when no pass has finished within maxAge. A server
// younger than maxAge is healthy while its first pass runs.
type passHealthChecker struct {
	registry *passregistry.Store
	maxAge   time.Duration
	started  time.Time
	now      func() time.Time
}

var errNoRecentPass = errors.New("no pass finished recently")

func (c passHealthChecker) CheckHealth(context.Context) error {
	passes, err := c.registry.List()
	if err != nil {
		return err
	}
	now := time.Now()
	if c.now != nil {
		now = c.now()
	}
	for _, p := range passes {
		if p.EndedAt == nil {
			continue
		}
		if p.State != passregistry.PassStateSuccess && p.State != passregistry.PassStatePartial {
			continue
		}
		if now.Sub(*p.EndedAt) <= c.maxAge {
			return nil
		}
		break
	}
	if !c.started.IsZero() && now.Sub(c.started) <= c.maxAge {
		return nil
	}
	return errNoRecentPass
}
