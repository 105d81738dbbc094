package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriys/strix/internal/config"
	"github.com/oriys/strix/internal/control"
	"github.com/oriys/strix/internal/detect"
	"github.com/oriys/strix/internal/diagnosis"
	"github.com/oriys/strix/internal/drone"
	"github.com/oriys/strix/internal/journal"
	"github.com/oriys/strix/internal/logging"
	"github.com/oriys/strix/internal/marker"
	"github.com/oriys/strix/internal/metrics"
	"github.com/oriys/strix/internal/mission"
	"github.com/oriys/strix/internal/modelstore"
	"github.com/oriys/strix/internal/observability"
	"github.com/oriys/strix/internal/pipeline"
	"github.com/oriys/strix/internal/secrets"
	"github.com/oriys/strix/internal/segment"
	"github.com/oriys/strix/internal/statuscache"
	"github.com/oriys/strix/internal/vlm"
)

func daemonCmd() *cobra.Command {
	var (
		addr     string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the orchestrator daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Control.Addr = addr
			}
			if logLevel != "" {
				cfg.Daemon.LogLevel = logLevel
			}
			logging.SetLevelFromString(cfg.Daemon.LogLevel)
			return runDaemon(cfg)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Control channel listen address")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	return cmd
}

func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configPath != "" {
		loaded, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	config.LoadFromEnv(cfg)
	return cfg, nil
}

func runDaemon(cfg *config.Config) error {
	log := logging.Op("daemon")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := observability.Init(ctx, observability.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Exporter:    cfg.Telemetry.Exporter,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		SampleRate:  cfg.Telemetry.SampleRate,
	}); err != nil {
		return err
	}
	defer observability.Shutdown(context.Background())

	var metricsServer *http.Server
	if cfg.Metrics.Addr != "" {
		metrics.Init(cfg.Metrics.Namespace)
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsServer = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			log.Info("metrics listener starting", "addr", cfg.Metrics.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics listener failed", "error", err)
			}
		}()
	}

	// The in-memory driver stands in until a hardware driver is attached;
	// everything above the drone.Driver seam is identical either way.
	driver := drone.Serialize(drone.NewSim())

	models, err := modelstore.New(resolveDir(cfg.Models.Dir))
	if err != nil {
		return err
	}
	if selected := models.Selected(); selected != "" {
		log.Info("detection model selected", "model", selected)
	}

	object := detect.NewObjectDetector(nil, 0.5)
	mk := marker.New(nil, time.Duration(cfg.Marker.CooldownSeconds)*time.Second)

	segClient := segment.NewClient(segment.ClientOptions{
		Endpoint:        cfg.Segmentation.Endpoint,
		Timeout:         cfg.Segmentation.Timeout,
		MaxRetries:      cfg.Segmentation.MaxRetries,
		MaxConcurrent:   int64(cfg.Segmentation.MaxConcurrent),
		AvailabilityTTL: cfg.Segmentation.AvailabilityTTL,
	})
	segmenter := segment.NewSegmenter(segClient, cfg.Segmentation.EnableFallback, cfg.Pipeline.JPEGQuality)

	workflow := diagnosis.New(segmenter,
		time.Duration(cfg.Diagnosis.CooldownSeconds)*time.Second,
		cfg.Diagnosis.HistorySize)
	applyBootstrapAIConfig(cfg, workflow)

	missionCtrl := mission.New(driver)
	cache := statuscache.New(cfg.StatusCache.MinBroadcastInterval, cfg.StatusCache.TTL, cfg.StatusCache.HistorySize)

	deps := control.Deps{
		Driver:   driver,
		Status:   cache,
		Marker:   mk,
		Workflow: workflow,
		Mission:  missionCtrl,
		Models:   models,
	}

	var eventJournal *journal.Journal
	if cfg.Redis.Enabled {
		eventJournal, err = journal.New(cfg.Redis)
		if err != nil {
			log.Warn("redis journal unavailable, continuing without", "error", err)
		} else {
			deps.Mirror = eventJournal.Mirror
			go eventJournal.Run(ctx)
			defer eventJournal.Close()
		}
	}

	srv := control.New(cfg.Control, deps)
	pipe := pipeline.New(driver.FrameReader(), object, mk, workflow, srv.PipelineEvents(), pipeline.Options{
		TargetFPS:       cfg.Pipeline.TargetFPS,
		SummaryInterval: cfg.Pipeline.SummaryInterval,
		JPEGQuality:     cfg.Pipeline.JPEGQuality,
	})
	srv.SetPipeline(pipe)

	go pipe.Run(ctx)
	go srv.RunStatusSync(ctx, 500*time.Millisecond)

	mux := http.NewServeMux()
	mux.Handle("/ws", srv)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	httpServer := &http.Server{
		Addr:    cfg.Control.Addr,
		Handler: observability.HTTPMiddleware(mux),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("control channel listening", "addr", cfg.Control.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		log.Error("control listener failed", "error", err)
		return err
	}

	cancel()
	missionCtrl.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	if metricsServer != nil {
		metricsServer.Shutdown(shutdownCtx)
	}
	if driver.IsConnected() {
		if err := driver.End(); err != nil {
			log.Warn("driver shutdown failed", "error", err)
		}
	}
	return nil
}

// applyBootstrapAIConfig installs the config-file AI provider, resolving
// $SECRET:/$ENV: references through the keyring when one exists. A bad
// bootstrap config is logged, not fatal: set_ai_config fixes it at runtime.
func applyBootstrapAIConfig(cfg *config.Config, workflow *diagnosis.Workflow) {
	if cfg.VLM.Provider == "" || cfg.VLM.Model == "" {
		return
	}
	log := logging.Op("daemon.ai")

	resolver := secrets.NewResolver(openKeyring())
	apiKey, err := resolver.ResolveValue(cfg.VLM.APIKey)
	if err != nil {
		log.Warn("API key reference did not resolve", "error", err)
		return
	}

	err = workflow.SetAIConfig(vlm.Config{
		Provider: cfg.VLM.Provider,
		Model:    cfg.VLM.Model,
		APIKey:   apiKey,
		APIBase:  cfg.VLM.APIBase,
	})
	if err != nil {
		log.Warn("bootstrap AI config rejected", "error", err)
		return
	}
	log.Info("AI provider configured", "provider", cfg.VLM.Provider, "model", cfg.VLM.Model)
}

// openKeyring loads the data-dir keyring if its key file exists. Without
// one, $ENV: references still resolve.
func openKeyring() *secrets.Keyring {
	keyPath := filepath.Join(dataDir, "keyring.key")
	if _, err := os.Stat(keyPath); err != nil {
		return nil
	}
	cipher, err := secrets.NewCipherFromFile(keyPath)
	if err != nil {
		logging.Op("daemon.keyring").Warn("keyring key unreadable", "error", err)
		return nil
	}
	kr, err := secrets.OpenKeyring(filepath.Join(dataDir, "keyring.json"), cipher)
	if err != nil {
		logging.Op("daemon.keyring").Warn("keyring unreadable", "error", err)
		return nil
	}
	return kr
}

func resolveDir(dir string) string {
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(dataDir, dir)
}
