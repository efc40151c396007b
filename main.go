package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/reporun/reporun/api/rest/server"
	"github.com/reporun/reporun/api/rest/v1/routes"
	"github.com/reporun/reporun/internal/cache"
	"github.com/reporun/reporun/internal/config"
	"github.com/reporun/reporun/internal/eventlog"
	"github.com/reporun/reporun/internal/events"
	"github.com/reporun/reporun/internal/health"
	"github.com/reporun/reporun/internal/logstore"
	"github.com/reporun/reporun/internal/models"
	"github.com/reporun/reporun/internal/orchestrator"
	"github.com/reporun/reporun/internal/reaper"
	"github.com/reporun/reporun/internal/repository"
	"github.com/reporun/reporun/internal/runner"
)

func main() {
	cfg := config.GetConfig()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Shared stream client; the cache rides on the same connection pool.
	eventLog := eventlog.NewRedisLog(cfg.RedisAddr)
	runCache := cache.NewRedisCacheFromClient(eventLog.Client())

	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := db.AutoMigrate(&models.Run{}); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
	runs := repository.NewRunRepository(db)

	consumer := consumerIdentity()

	var wg sync.WaitGroup
	var lagGroups []string

	if cfg.HasComponent("orchestrator") {
		orch := orchestrator.New(eventLog, runs, runCache, consumer, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			orch.Run(ctx)
		}()
		lagGroups = append(lagGroups,
			eventlog.GroupName(orchestrator.Service, events.TypeRunRequested),
			eventlog.GroupName(orchestrator.Service, events.TypeBuildSucceeded),
		)
	}

	if cfg.HasComponent("runner") || cfg.HasComponent("reaper") {
		client, err := clusterClient(cfg.Kubeconfig)
		if err != nil {
			log.Fatalf("Failed to create cluster client: %v", err)
		}

		if cfg.HasComponent("runner") {
			run := runner.New(eventLog, runs, client, consumer, logger, runner.Options{
				PreviewDomain:    cfg.PreviewDomain,
				ReadinessTimeout: cfg.ReadinessTimeout,
				ReadinessPoll:    cfg.ReadinessPoll,
			})
			wg.Add(1)
			go func() {
				defer wg.Done()
				run.Run(ctx)
			}()
			lagGroups = append(lagGroups, eventlog.GroupName(runner.Service, events.TypeBuildSucceeded))
		}

		if cfg.HasComponent("reaper") {
			rp := reaper.New(client, runs, cfg.ReapInterval, cfg.ReapGrace, logger)
			wg.Add(1)
			go func() {
				defer wg.Done()
				rp.Run(ctx)
			}()
		}
	}

	if cfg.HasComponent("gateway") {
		logs, err := logstore.NewS3LogStore(logstore.S3Config{
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			BucketName:      cfg.S3Bucket,
			Region:          cfg.S3Region,
		})
		if err != nil {
			log.Fatalf("Failed to create log store: %v", err)
		}

		srv := server.NewServer(cfg.ListenAddr, eventLog, runs, runCache, logs)
		routes.RegisterRoutes(srv)

		go func() {
			log.Printf("Starting Gin HTTP server on %s", cfg.ListenAddr)
			if err := srv.Run(); err != nil {
				log.Fatalf("Failed to start server: %v", err)
			}
		}()
	}

	checks := []health.Check{
		{Name: "database", Probe: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}},
		{Name: "redis", Probe: func(ctx context.Context) error {
			return eventLog.Client().Ping(ctx).Err()
		}},
	}
	if len(lagGroups) > 0 {
		checks = append(checks, health.LagCheck(eventLog, lagGroups, cfg.LagWarn, cfg.LagUnhealthy, logger))
	}
	probes := health.New(cfg.HealthAddr, logger, checks...)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := probes.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("health server stopped", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	wg.Wait()
}

// consumerIdentity names this process inside its consumer groups.
func consumerIdentity() string {
	host, err := os.Hostname()
	if err != nil {
		host = "reporun"
	}
	return host + "-" + uuid.NewString()[:8]
}

// clusterClient builds a Kubernetes client from a kubeconfig path, or
// from the in-cluster service account when the path is empty.
func clusterClient(kubeconfig string) (kubernetes.Interface, error) {
	var restCfg *rest.Config
	var err error
	if kubeconfig != "" {
		restCfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	} else {
		restCfg, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, err
	}
	return kubernetes.NewForConfig(restCfg)
}
