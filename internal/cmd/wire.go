package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/3leaps/flowstatus/internal/config"
	"github.com/3leaps/flowstatus/pkg/evidence"
	"github.com/3leaps/flowstatus/pkg/lease"
	"github.com/3leaps/flowstatus/pkg/notify"
	"github.com/3leaps/flowstatus/pkg/reconcile"
	"github.com/3leaps/flowstatus/pkg/statusdb"
)

// storeHandle is an open status store plus what commands report about it.
type storeHandle struct {
	statusdb.Store

	// Endpoint names the backend in messages, with credentials masked.
	Endpoint string

	// LIMS serves nanopore loading information; nil unless the backend is
	// CouchDB.
	LIMS evidence.LIMSSource
}

// openStore opens the configured backend and checks it answers.
func openStore(ctx context.Context, cfg config.StatusDBConfig) (*storeHandle, error) {
	switch cfg.Backend {
	case config.BackendCouchDB:
		cc := statusdb.CouchConfig{
			URL:              cfg.URL,
			Username:         cfg.Username,
			Password:         cfg.Password,
			Database:         cfg.Database,
			NanoporeDatabase: cfg.NanoporeDatabase,
			Timeout:          cfg.Timeout,
		}
		h := &storeHandle{Endpoint: cc.Endpoint()}
		s, err := statusdb.OpenCouch(ctx, cc)
		if err != nil {
			return h, err
		}
		h.Store, h.LIMS = s, s
		return h, pingStore(ctx, h)

	case config.BackendSQLite:
		h := &storeHandle{Endpoint: cfg.Path}
		if cfg.URL != "" {
			h.Endpoint = cfg.URL
		}
		s, err := statusdb.OpenSQLite(ctx, statusdb.SQLiteConfig{Path: cfg.Path, URL: cfg.URL, AuthToken: cfg.AuthToken})
		if err != nil {
			return h, err
		}
		h.Store = s
		return h, pingStore(ctx, h)

	case config.BackendMemory:
		return &storeHandle{Store: statusdb.NewMemoryStore(), Endpoint: "memory"}, nil
	}
	return nil, fmt.Errorf("unknown statusdb backend %q", cfg.Backend)
}

func pingStore(ctx context.Context, h *storeHandle) error {
	if err := h.Ping(ctx); err != nil {
		_ = h.Close()
		return err
	}
	return nil
}

// newLocker returns the configured lease backend and its cleanup.
func newLocker(cfg config.LeaseConfig) (lease.Locker, func(), error) {
	switch cfg.Backend {
	case config.LeaseFile:
		l, err := lease.NewFileLocker(cfg.Dir)
		if err != nil {
			return nil, nil, err
		}
		return l, func() {}, nil
	case config.LeaseRedis:
		l := lease.NewRedisLocker(lease.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.TTL,
		})
		return l, func() { _ = l.Close() }, nil
	case config.LeaseNone, "":
		return lease.Nop{}, func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown lease backend %q", cfg.Backend)
}

// newNotifier builds the alert gate. Dry runs and unconfigured mail log
// alerts instead of sending them.
func newNotifier(cfg config.MailConfig, dryRun bool, log *zap.Logger) *notify.Notifier {
	ncfg := notify.Config{Hours: cfg.Hours, MaxPerPass: cfg.MaxPerPass}
	if dryRun || !cfg.Enabled() {
		return notify.New(ncfg, nil, log)
	}
	return notify.New(ncfg, notify.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.Sender, cfg.Recipients), log)
}

func newCollector(cfg *config.Config, lims evidence.LIMSSource, log *zap.Logger) (*evidence.Collector, error) {
	if lims == nil && len(cfg.DataDirs.ONT) > 0 {
		log.Warn("nanopore data dirs configured without a CouchDB backend; nanopore runs will be reported as missing LIMS data")
	}
	return evidence.NewCollector(evidence.Config{
		DataDirs:           cfg.DataDirs.ByBrand(),
		Exclude:            cfg.Exclude,
		Samplesheets:       cfg.Samplesheets,
		ElementTransferLog: cfg.Element.TransferLog,
	}, lims, log)
}

func reconcileConfig(cfg config.ReconcileConfig) reconcile.Config {
	return reconcile.Config{
		ConflictRetries: cfg.ConflictRetries,
		Breaker: reconcile.BreakerConfig{
			Failures: cfg.BreakerFailures,
			Timeout:  cfg.BreakerTimeout,
		},
	}
}
