// Command dicomserver is the reference DICOM server binary: it loads
// configuration, wires the index/cache/metrics backends named in the
// configuration table, and serves DIMSE associations until signalled to
// stop.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/dicomnet/dicomnet/dimse"
	"github.com/dicomnet/dicomnet/index"
	"github.com/dicomnet/dicomnet/internal/blobstore/disk"
	blobpostgres "github.com/dicomnet/dicomnet/internal/blobstore/postgres"
	"github.com/dicomnet/dicomnet/internal/config"
	"github.com/dicomnet/dicomnet/internal/indexstore/postgres"
	"github.com/dicomnet/dicomnet/internal/indexstore/postgres/migrations"
	"github.com/dicomnet/dicomnet/internal/indexstore/sqlite"
	"github.com/dicomnet/dicomnet/internal/metricsexport"
	"github.com/dicomnet/dicomnet/interfaces"
	"github.com/dicomnet/dicomnet/metrics"
	"github.com/dicomnet/dicomnet/pipeline"
	"github.com/dicomnet/dicomnet/querycache"
	"github.com/dicomnet/dicomnet/server"
	"github.com/dicomnet/dicomnet/services"
	"github.com/dicomnet/dicomnet/types"
)

var (
	configFile  string
	metricsAddr string
)

func main() {
	_ = godotenv.Load() // dev convenience; absence is not an error

	root := &cobra.Command{
		Use:   "dicomserver",
		Short: "Reference DIMSE association server",
		RunE:  runServe,
	}
	root.Flags().StringVar(&configFile, "config", "", "path to a config file (yaml/json/toml)")
	root.Flags().String("ae_title", "", "Server AE title")
	root.Flags().String("listen_address", "", "Address to listen on, e.g. :4242")
	root.Flags().String("index_backend", "", "memory, sqlite, or postgres")
	root.Flags().String("index_dsn", "", "DSN for the sqlite/postgres index backend")
	root.Flags().StringVar(&metricsAddr, "metrics_address", ":9090", "Address to serve /metrics on (empty disables)")

	if err := root.Execute(); err != nil {
		slog.Error("dicomserver exited with error", "error", err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	indexStore, err := buildIndexStore(cfg)
	if err != nil {
		return err
	}

	blobStore, err := buildBlobStore(ctx, cfg)
	if err != nil {
		return err
	}

	reg := metrics.NewRegistry()
	promReg := prometheus.NewRegistry()
	if err := promReg.Register(metricsexport.NewCollector(reg)); err != nil {
		return err
	}

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
		metricsSrv := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	cache := querycache.New(cfg.CacheCapacity, cfg.CacheTTL)

	handler := services.NewRegistry()
	handler.RegisterHandler(types.CEchoRQ, services.NewEchoService())
	mpps := services.NewMPPSService(indexStore)
	handler.RegisterHandler(types.NCreateRQ, mpps)
	handler.RegisterHandler(types.NSetRQ, mpps)
	handler.RegisterHandler(types.CFindRQ, services.NewFindService(indexStore, cache, reg))
	handler.RegisterHandler(types.CStoreRQ, services.NewStoreService(indexStore, blobStore, reg))
	handler.RegisterHandler(types.CMoveRQ, services.NewMoveService(indexStore, blobStore, services.StaticAETitleTable(cfg.MoveDestinations), cfg.AETitle, reg))
	handler.RegisterHandler(types.CGetRQ, services.NewGetService(indexStore, blobStore, reg))

	coordinator := pipeline.NewCoordinator(stageConfigFrom(cfg), reg, nil)
	dimse.RegisterPipelineHandlers(coordinator)

	srv := server.New(cfg.AETitle, handler,
		server.WithLogger(logger),
		server.WithIndex(indexStore),
		server.WithCache(cache),
		server.WithMetrics(reg),
		server.WithIdleSweep(cfg.IdleSweepInterval, cfg.IdleSessionTimeout),
		server.WithPipeline(coordinator),
	)

	logger.Info("starting dicomserver", "ae_title", cfg.AETitle, "address", cfg.ListenAddress, "index_backend", cfg.IndexBackend)
	return server.ListenAndServeWith(ctx, cfg.ListenAddress, srv)
}

func buildIndexStore(cfg *config.Config) (index.Store, error) {
	switch cfg.IndexBackend {
	case "", "memory":
		return index.NewMemoryStore(), nil
	case "sqlite":
		return sqlite.Open(cfg.IndexDSN)
	case "postgres":
		if err := migrations.Up(cfg.IndexDSN); err != nil {
			return nil, err
		}
		return postgres.Open(cfg.IndexDSN)
	default:
		return nil, errUnimplementedBackend(cfg.IndexBackend)
	}
}

func buildBlobStore(ctx context.Context, cfg *config.Config) (interfaces.BlobStore, error) {
	switch cfg.BlobBackend {
	case "", "disk":
		return disk.Open(cfg.BlobDSN)
	case "postgres":
		return blobpostgres.Open(ctx, cfg.BlobDSN)
	default:
		return nil, errUnimplementedBackend(cfg.BlobBackend)
	}
}

// stageConfigFrom turns the configuration table's worker_pool_sizes,
// queue_depth, and backpressure_policy into the per-stage map
// pipeline.NewCoordinator expects. The queue depth and backpressure
// policy apply uniformly across all six stages; only worker counts vary
// per stage.
func stageConfigFrom(cfg *config.Config) map[string]pipeline.StageConfig {
	policy := pipeline.BackpressurePolicy(cfg.BackpressurePolicy)
	return map[string]pipeline.StageConfig{
		metrics.StageNetworkReceive: {Workers: cfg.WorkerPoolSizes.NetworkReceive, Capacity: cfg.QueueDepth, Policy: policy},
		metrics.StagePduDecode:      {Workers: cfg.WorkerPoolSizes.PduDecode, Capacity: cfg.QueueDepth, Policy: policy},
		metrics.StageDimseProcess:   {Workers: cfg.WorkerPoolSizes.DimseProcess, Capacity: cfg.QueueDepth, Policy: policy},
		metrics.StageExecute:        {Workers: cfg.WorkerPoolSizes.Execute, Capacity: cfg.QueueDepth, Policy: policy},
		metrics.StageResponseEncode: {Workers: cfg.WorkerPoolSizes.ResponseEncode, Capacity: cfg.QueueDepth, Policy: policy},
		metrics.StageNetworkSend:    {Workers: cfg.WorkerPoolSizes.NetworkSend, Capacity: cfg.QueueDepth, Policy: policy},
	}
}

type errUnimplementedBackend string

func (e errUnimplementedBackend) Error() string {
	return "dicomserver: backend " + string(e) + " not available in this build"
}
