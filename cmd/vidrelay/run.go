package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"vidrelay/internal/core/domain"
	"vidrelay/internal/core/services"
	adminhttp "vidrelay/internal/handlers/http"
	"vidrelay/internal/infrastructure/capture"
	"vidrelay/internal/infrastructure/codec"
	"vidrelay/internal/infrastructure/filters"
	"vidrelay/internal/infrastructure/monitoring"
	"vidrelay/internal/infrastructure/publish"
	"vidrelay/pkg/config"
	pipelineerrors "vidrelay/pkg/errors"
	"vidrelay/pkg/logger"
	"vidrelay/pkg/tracing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, pipelineerrors.Wrap(err, pipelineerrors.ErrCodeConfig, "config", "cannot load configuration")
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if opts.monitoringAddress != "" {
		cfg.Monitoring.Enabled = true
		cfg.Monitoring.Address = opts.monitoringAddress
	}
	if opts.noTransform {
		cfg.Pipeline.EnableTransform = false
	}
	return cfg, nil
}

func runStreamer(ctx context.Context, opts *rootOptions, args []string) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logFile := cfg.Logging.File
	if len(args) > 2 {
		logFile = args[2]
	}
	var files []string
	if logFile != "" {
		files = append(files, logFile)
	}
	zapLogger, err := logger.New(logger.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Files: files})
	if err != nil {
		return pipelineerrors.Wrap(err, pipelineerrors.ErrCodeConfig, "logging", "cannot build logger")
	}
	defer zapLogger.Sync() //nolint:errcheck
	log := zapLogger.Sugar()

	tp, err := tracing.Init(cfg.TracingConfig())
	if err != nil {
		log.Warnw("tracing disabled", "error", err)
		tp = &tracing.TracerProvider{}
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Warnw("tracing shutdown", "error", err)
		}
	}()

	pcfg, err := cfg.Snapshot(args[0], args[1])
	if err != nil {
		return pipelineerrors.Wrap(err, pipelineerrors.ErrCodeConfig, "config", "invalid pipeline")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := services.NewMetricsService(monitoring.NewPrometheusCollector(reg))

	supervisor, err := buildSupervisor(pcfg, metrics, log)
	if err != nil {
		return err
	}

	var srv *http.Server
	if cfg.Monitoring.Enabled {
		srv = startAdminServer(cfg, supervisor, metrics, reg, log)
	}

	if err := supervisor.Start(ctx); err != nil {
		log.Errorw("failed to initialize video streamer", "error", err, "code", pipelineerrors.CodeOf(err))
		shutdownAdmin(cfg, srv, log)
		return err
	}

	<-ctx.Done()
	log.Info("interrupt received, stopping")
	supervisor.Stop()
	shutdownAdmin(cfg, srv, log)

	stats := supervisor.Stats()
	log.Infow("video streamer stopped",
		"frames_captured", stats.FramesCaptured,
		"frames_encoded", stats.FramesEncoded,
		"frames_dropped", stats.FramesDropped,
		"packets_published", stats.PacketsPublished,
		"timestamp_repairs", stats.TimestampRepairs,
	)
	return nil
}

// buildSupervisor resolves the media bindings for pcfg. Unknown locators
// and codecs fail here, before anything is opened.
func buildSupervisor(pcfg domain.PipelineConfig, metrics *services.MetricsService, log *zap.SugaredLogger) (*services.Supervisor, error) {
	source, err := capture.NewSource(pcfg, log.Named("capture"))
	if err != nil {
		return nil, pipelineerrors.Wrap(err, pipelineerrors.ErrCodeConfig, "source", "unsupported source")
	}
	sink, err := publish.NewSink(pcfg, log.Named("publish"))
	if err != nil {
		return nil, pipelineerrors.Wrap(err, pipelineerrors.ErrCodeConfig, "publisher", "unsupported sink")
	}
	enc, err := codec.Lookup(pcfg.Codec, log.Named("codec"))
	if err != nil {
		return nil, pipelineerrors.NewCodecUnavailableError(pcfg.Codec, err)
	}

	return services.NewSupervisor(pcfg, services.Dependencies{
		Source:     source,
		BuildChain: filters.ForPipeline,
		Codec:      enc,
		Sink:       sink,
		Metrics:    metrics,
	}, log), nil
}

func startAdminServer(cfg *config.Config, supervisor *services.Supervisor, metrics *services.MetricsService, reg *prometheus.Registry, log *zap.SugaredLogger) *http.Server {
	health := monitoring.NewHealthChecker()
	health.AddPipelineChecks(supervisor, metrics.SinceLastPacket, cfg.Monitoring.StallThreshold)

	handler := adminhttp.NewAdminHandler(supervisor, health, reg)
	srv := adminhttp.NewServer(cfg, adminhttp.NewRouter(cfg, handler, log.Named("admin")))

	go func() {
		log.Infow("admin server listening", "address", cfg.Monitoring.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("admin server failed", "error", err)
		}
	}()
	return srv
}

func shutdownAdmin(cfg *config.Config, srv *http.Server, log *zap.SugaredLogger) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Monitoring.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorw("error during admin server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing admin server", "error", closeErr)
		}
	}
}
