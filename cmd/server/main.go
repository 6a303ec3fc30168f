package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	assetbiz "github.com/timxs/storage-toolkit/internal/asset/biz"
	assetdata "github.com/timxs/storage-toolkit/internal/asset/data"
	"github.com/timxs/storage-toolkit/internal/conf"
	contentbiz "github.com/timxs/storage-toolkit/internal/content/biz"
	contentdata "github.com/timxs/storage-toolkit/internal/content/data"
	dupbiz "github.com/timxs/storage-toolkit/internal/duplicate/biz"
	dupdata "github.com/timxs/storage-toolkit/internal/duplicate/data"
	dupservice "github.com/timxs/storage-toolkit/internal/duplicate/service"
	"github.com/timxs/storage-toolkit/internal/pkg/database"
	"github.com/timxs/storage-toolkit/internal/pkg/fetcher"
	"github.com/timxs/storage-toolkit/internal/pkg/logger"
	"github.com/timxs/storage-toolkit/internal/pkg/minio"
	"github.com/timxs/storage-toolkit/internal/pkg/redis"
	"github.com/timxs/storage-toolkit/internal/recovery"
	refbiz "github.com/timxs/storage-toolkit/internal/reference/biz"
	refdata "github.com/timxs/storage-toolkit/internal/reference/data"
	refservice "github.com/timxs/storage-toolkit/internal/reference/service"
	"github.com/timxs/storage-toolkit/internal/resolver"
	"github.com/timxs/storage-toolkit/internal/server"
	"github.com/timxs/storage-toolkit/internal/settings"
	"github.com/timxs/storage-toolkit/internal/status"
)

var (
	configFile = flag.String("config", "config.yaml", "config file path")
)

func main() {
	flag.Parse()

	// Load configuration
	config, err := conf.LoadConfig(*configFile)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log, err := logger.New(&config.Log)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer log.Sync()

	log.Info("config loaded successfully")

	// Database
	db, err := database.New(&config.Database, log)
	if err != nil {
		log.Fatal("failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	if config.Database.AutoMigrate {
		err = db.AutoMigrate(
			&assetdata.AssetPO{},
			&assetdata.PolicyPO{},
			&assetdata.GroupPO{},
			&contentdata.PostPO{},
			&contentdata.PagePO{},
			&contentdata.CommentPO{},
			&contentdata.ReplyPO{},
			&contentdata.UserPO{},
			&contentdata.ConfigGroupPO{},
			&refdata.RecordPO{},
			&dupdata.GroupPO{},
			&status.StatusPO{},
		)
		if err != nil {
			log.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	// Object storage, optional: without it local assets are fetched over HTTP
	var store *minio.Client
	if config.MinIO.Endpoint != "" {
		store, err = minio.New(&config.MinIO, log)
		if err != nil {
			log.Fatal("failed to initialize object storage", zap.Error(err))
		}
	} else {
		log.Warn("object storage not configured, falling back to http fetch for local assets")
	}

	// Redis, optional: without it resolver lookups skip the cache
	var cache *redis.Client
	if config.Redis.Host != "" {
		cache, err = redis.New(&config.Redis, log)
		if err != nil {
			log.Fatal("failed to initialize redis", zap.Error(err))
		}
		defer cache.Close()
	} else {
		log.Warn("redis not configured, resolver cache disabled")
	}

	// Repositories
	assetRepo := assetdata.NewAssetRepo(db)
	policyRepo := assetdata.NewPolicyRepo(db)
	groupRepo := assetdata.NewGroupRepo(db)
	recordRepo := refdata.NewRecordRepo(db)
	dupGroupRepo := dupdata.NewGroupRepo(db)
	statusStore := status.NewStore(db, log)
	settingsStore := settings.NewStore(db, config.Scan, log)

	// Content traversal providers
	registry := contentbiz.NewRegistry()
	registry.Register(contentdata.NewPostProvider(db, log))
	registry.Register(contentdata.NewPageProvider(db, log))
	registry.Register(contentdata.NewCommentProvider(db, log))
	registry.Register(contentdata.NewUserProvider(db, log))
	registry.Register(contentdata.NewSettingProvider(db, log))
	registry.Register(contentdata.NewMomentProvider(db, log))
	registry.Register(contentdata.NewPhotoProvider(db, log))

	// Use cases
	assetUseCase := assetbiz.NewAssetUseCase(assetRepo, policyRepo, groupRepo, log)
	refUseCase := refbiz.NewReferenceUseCase(
		recordRepo,
		assetUseCase,
		registry,
		statusStore,
		settingsStore,
		config.Scan.ExternalURL,
		log,
	)
	byteFetcher := fetcher.New(store, config.Scan.ExternalURL, log)
	dupUseCase := dupbiz.NewDuplicateUseCase(
		dupGroupRepo,
		assetUseCase,
		refUseCase,
		statusStore,
		settingsStore,
		byteFetcher,
		log,
	)

	// Services
	sourceResolver := resolver.New(db, cache, log)
	referenceService := refservice.NewReferenceService(refUseCase, sourceResolver, log)
	duplicateService := dupservice.NewDuplicateService(dupUseCase, log)

	// Reset scans interrupted by the previous shutdown
	recoveryCtx, cancelRecovery := context.WithCancel(context.Background())
	defer cancelRecovery()
	go recovery.New(statusStore, config.Scan.RecoveryDelay, log).Run(recoveryCtx)

	httpServer := server.NewHTTPServer(config, log.Logger, referenceService, duplicateService)

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatal("http server error", zap.Error(err))
		}
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Stop(shutdownCtx); err != nil {
		log.Error("failed to stop http server gracefully", zap.Error(err))
	}
}
