package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gofrs/flock"

	"videdit/api"
	"videdit/audio"
	"videdit/config"
	"videdit/coordinator"
	"videdit/ffmpeg"
	"videdit/planner"
	"videdit/processors"
	"videdit/registry"
	"videdit/storage"
	"videdit/task"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	log.SetDefault(config.NewLogger(os.Stderr, cfg.LogLevel))

	// 2. One server per data directory
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}
	lock := flock.New(filepath.Join(cfg.DataDir, "videdit.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		log.Fatalf("Failed to acquire data directory lock: %v", err)
	}
	if !locked {
		log.Fatalf("Data directory %s is in use by another server", cfg.DataDir)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			log.Warnf("Failed to release data directory lock: %v", err)
		}
	}()

	// 3. Task store
	var store task.Store
	switch cfg.StoreDriver {
	case "", "memory":
		store = task.NewMemoryStore()
	case "sqlite":
		db, err := storage.Open(cfg.StorePath)
		if err != nil {
			log.Fatalf("Failed to open task store: %v", err)
		}
		defer db.Close()
		store = db
	default:
		log.Fatalf("Unknown store driver %q", cfg.StoreDriver)
	}
	log.Infof("Using %s task store.", cfg.StoreDriver)

	// 4. Engine, analysis and planning
	runner, err := ffmpeg.NewRunner(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize media engine: %v", err)
	}
	analyzer := audio.NewAnalyzer(runner, cfg.AnalysisSampleRate)
	redistribution, err := planner.ParseRedistribution(cfg.PlanRedistribution)
	if err != nil {
		log.Fatalf("Invalid PLAN_REDISTRIBUTION: %v", err)
	}
	env := processors.Env{
		Engine:         runner,
		Planner:        planner.New(analyzer, analyzer),
		VideosDir:      cfg.VideosDir(),
		WorkDir:        cfg.StagingDir(),
		MaxInputSize:   cfg.MaxInputSize,
		Parallelism:    cfg.SplitParallelism,
		Redistribution: redistribution,
	}

	// 5. Capability registry
	reg := registry.New()
	for _, c := range []registry.Capability{
		processors.NewClipProcessor(env),
		processors.NewFilterProcessor(env),
		processors.NewTransitionProcessor(env),
		processors.NewAutoProcessor(env),
	} {
		if err := reg.Register(c, cfg.OperationsFor(c.Name())...); err != nil {
			log.Fatalf("Failed to register processor %s: %v", c.Name(), err)
		}
	}
	reg.Freeze()

	// 6. Lifecycle manager and coordinator
	tasks := task.NewManager(store)
	coord := coordinator.New(cfg, reg, tasks)

	// 7. Router and server
	router := api.SetupRouter(coord, tasks, reg, cfg)
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	coord.Start(ctx)

	go func() {
		log.Infof("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s", err)
		}
	}()

	<-ctx.Done()

	stop()
	log.Info("Shutting down gracefully, press Ctrl+C again to force")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}
	coord.Wait()

	log.Info("Server exiting")
}
