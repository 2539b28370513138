package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/derpz-discord/math-tavern-bot/internal/backup"
	"github.com/derpz-discord/math-tavern-bot/internal/cogs"
	"github.com/derpz-discord/math-tavern-bot/internal/config"
	"github.com/derpz-discord/math-tavern-bot/internal/configstore"
	"github.com/derpz-discord/math-tavern-bot/internal/events"
	"github.com/derpz-discord/math-tavern-bot/internal/idgen"
	"github.com/derpz-discord/math-tavern-bot/internal/keycodec"
	"github.com/derpz-discord/math-tavern-bot/internal/lifecycle"
	"github.com/derpz-discord/math-tavern-bot/internal/model"
	"github.com/derpz-discord/math-tavern-bot/internal/server"
	"github.com/derpz-discord/math-tavern-bot/internal/store"
	"github.com/derpz-discord/math-tavern-bot/internal/store/cached"
)

var serveTenants []int64

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP admin API and gRPC health server",
	Long: `Start the HTTP admin API and gRPC health server.

Tenants passed with --tenant have the built-in cogs hydrated at startup.
Writes made through the admin API refresh them. With NATS configured,
changes made by other processes refresh them too and evict cached documents.
On shutdown only the configs whose write-through failed are flushed.`,
	GroupID:           "system",
	Args:              cobra.NoArgs,
	PersistentPreRunE: localPreRun,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		logger := newLogger(cfg.LogLevel)
		instanceID := idgen.InstanceID()

		base, err := openStore(cfg, logger)
		if err != nil {
			return err
		}
		kv := base
		var cache *cached.Store
		if cfg.CacheTTL > 0 {
			cache = cached.New(base, cfg.CacheTTL)
			kv = cache
			logger.Info("read cache enabled", "ttl", cfg.CacheTTL)
		}

		// Create event publisher.
		hub := server.NewEventHub()
		var publisher events.Publisher = hub
		if cfg.NATSURL != "" {
			pub, err := events.NewNATSPublisher(cfg.NATSURL)
			if err != nil {
				kv.Close()
				return err
			}
			publisher = events.Fanout(pub, hub)
			logger.Info("events enabled", "nats_url", cfg.NATSURL)
		} else {
			logger.Info("NATS events disabled (COGSTORE_NATS_URL not set)")
		}

		watchCtx, watchCancel := context.WithCancel(context.Background())
		host, err := startCogHost(watchCtx, kv, publisher, instanceID, logger)
		if err != nil {
			watchCancel()
			publisher.Close()
			kv.Close()
			return err
		}
		registry := host.registry

		// Hydrate the built-in cogs for the requested tenants.
		tenants := make([]model.TenantID, len(serveTenants))
		for i, t := range serveTenants {
			tenants[i] = model.TenantID(t)
		}
		attachCtx, attachCancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		if err := registry.AttachAll(attachCtx, tenants); err != nil {
			// Degraded modules are Ready with defaults; keep serving.
			logger.Warn("cog hydration incomplete", "err", err)
		}
		attachCancel()
		logger.Info("cogs attached", "modules", len(registry.Modules()), "tenants", len(tenants))

		// Follow changes made by other processes.
		var subscriber *events.NATSSubscriber
		var watcher *lifecycle.Watcher
		if cfg.NATSURL != "" {
			subscriber, err = events.NewNATSSubscriber(cfg.NATSURL)
			if err != nil {
				logger.Error("failed to create event subscriber", "err", err)
			} else {
				var opts []lifecycle.WatcherOption
				if cache != nil {
					opts = append(opts, lifecycle.WithInvalidate(func(module string, tenant model.TenantID) {
						cache.Invalidate(keycodec.BuildKey(tenant, module))
					}))
				}
				watcher = lifecycle.NewWatcher(subscriber, registry, instanceID, logger, opts...)
				if err := watcher.Start(watchCtx); err != nil {
					logger.Error("failed to start watcher", "err", err)
					watcher = nil
				}
			}
		}

		// Create server components.
		configServer := server.NewConfigServer(host.admin, hub, logger)
		grpcServer, healthServer := server.NewGRPCServer(cfg.AuthToken, "cogstore")

		// Start gRPC listener.
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			watchCancel()
			publisher.Close()
			kv.Close()
			return err
		}

		go func() {
			logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("gRPC server error", "err", err)
			}
		}()

		// Start HTTP server.
		httpServer := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           configServer.NewHTTPHandler(cfg.AuthToken),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server error", "err", err)
			}
		}()

		// Backups read the base store so they never see stale cache entries.
		var scheduler *backup.Scheduler
		if cfg.BackupInterval > 0 && cfg.BackupS3Bucket != "" {
			s3Dest, err := backup.NewS3Destination(
				context.Background(),
				cfg.BackupS3Bucket,
				cfg.BackupS3Key,
				cfg.BackupS3Region,
				cfg.BackupS3Endpoint,
			)
			if err != nil {
				logger.Error("failed to create S3 backup destination", "err", err)
			} else {
				scheduler = backup.NewScheduler(base, []backup.Destination{s3Dest}, cfg.BackupInterval, logger)
				scheduler.Start()
				logger.Info("backup scheduler started", "interval", cfg.BackupInterval, "bucket", cfg.BackupS3Bucket, "key", cfg.BackupS3Key)
			}
		}

		logger.Info("cogstore server started",
			"instance", instanceID,
			"backend", cfg.Backend,
			"grpc_addr", cfg.GRPCAddr,
			"http_addr", cfg.HTTPAddr,
		)

		// Wait for SIGINT or SIGTERM.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)

		// Graceful shutdown.
		healthServer.Shutdown()

		watchCancel()
		if watcher != nil {
			watcher.Wait()
			logger.Info("watcher stopped")
		}
		host.Wait()
		if subscriber != nil {
			subscriber.Close()
		}

		if scheduler != nil {
			scheduler.Stop()
			logger.Info("backup scheduler stopped")
		}

		grpcServer.GracefulStop()
		logger.Info("gRPC server stopped")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")

		if err := registry.DetachAll(shutdownCtx); err != nil {
			logger.Error("failed to flush cogs", "err", err)
		}

		host.local.Close()
		if err := publisher.Close(); err != nil {
			logger.Error("error closing publisher", "err", err)
		}
		if err := kv.Close(); err != nil {
			logger.Error("error closing store", "err", err)
		}

		logger.Info("shutdown complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().Int64SliceVar(&serveTenants, "tenant", nil, "tenant whose cog configs are hydrated at startup (repeatable)")
}

// registerCogs registers a lifecycle module for every built-in cog.
func registerCogs(registry *lifecycle.Registry, cs *configstore.ConfigStore, logger *slog.Logger) error {
	for _, m := range []lifecycle.Managed{
		lifecycle.New(configstore.NewTyped(cs, cogs.AutoPurgeModule, cogs.AutoPurgeCodec), logger),
		lifecycle.New(configstore.NewTyped(cs, cogs.PinModule, cogs.PinCodec), logger),
		lifecycle.New(configstore.NewTyped(cs, cogs.StickyRolesModule, cogs.StickyRolesCodec), logger),
	} {
		if err := registry.Register(m); err != nil {
			return err
		}
	}
	return nil
}

// cogHost ties the built-in cog modules to the admin API. The modules and
// the admin API write through separate config stores over the same
// key-value store. Admin writes are also published on a local bus that
// reloads the affected module tenant, so the module never serves, or
// flushes, a config older than the one the admin API just wrote.
type cogHost struct {
	registry *lifecycle.Registry
	admin    *configstore.ConfigStore
	local    *events.MemoryBus
	watcher  *lifecycle.Watcher
}

// startCogHost registers the built-in cogs and starts the local watcher,
// which runs until ctx is done. The modules are left Unloaded.
func startCogHost(ctx context.Context, kv store.KeyValueStore, publisher events.Publisher, instanceID string, logger *slog.Logger) (*cogHost, error) {
	cs := configstore.New(kv,
		configstore.WithLogger(logger),
		configstore.WithPublisher(publisher, instanceID),
	)
	registry := lifecycle.NewRegistry(logger)
	if err := registerCogs(registry, cs, logger); err != nil {
		return nil, err
	}

	local := events.NewMemoryBus()
	admin := configstore.New(kv,
		configstore.WithLogger(logger),
		configstore.WithPublisher(events.Fanout(publisher, local), instanceID),
	)
	// Only admin writes reach the local bus, so nothing is skipped.
	watcher := lifecycle.NewWatcher(local, registry, "", logger)
	if err := watcher.Start(ctx); err != nil {
		local.Close()
		return nil, err
	}
	return &cogHost{registry: registry, admin: admin, local: local, watcher: watcher}, nil
}

// Wait blocks until the local watcher has stopped.
func (h *cogHost) Wait() {
	h.watcher.Wait()
}
