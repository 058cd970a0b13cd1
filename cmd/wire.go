package cmd

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"craftworker/cache"
	"craftworker/config"
	"craftworker/core/audio"
	"craftworker/core/auth"
	"craftworker/core/catalog"
	"craftworker/core/events"
	"craftworker/core/transcode"
	"craftworker/db"
	"craftworker/logger"
	"craftworker/model"
	"craftworker/repository"
	"craftworker/storage"
)

// worker holds the assembled components of a running instance.
type worker struct {
	cache        *cache.PartCache
	orchestrator *transcode.Orchestrator
	bus          *events.Bus
	verifier     *auth.Verifier

	redis *redis.Client
	gdb   *gorm.DB
}

func buildWorker(ctx context.Context, cfg *config.Config) (*worker, error) {
	w := &worker{}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	authClient := auth.NewClient(httpClient, auth.NewClientCredentials(cfg))

	store, err := buildStore(ctx, cfg, authClient)
	if err != nil {
		return nil, err
	}

	partCache, err := cache.NewPartCache(cfg.CacheDir, cfg.InputDir, store)
	if err != nil {
		return nil, err
	}
	w.cache = partCache

	var recorders []transcode.StateRecorder
	if cfg.RedisEnabled {
		client, err := cache.ConnectRedis(cfg)
		if err != nil {
			return nil, err
		}
		w.redis = client
		recorders = append(recorders, cache.NewRedisJobState(client))
		logger.Info("Redis connected", logger.String("host", cfg.RedisHost))
	}
	if cfg.DBEnabled {
		gdb, err := db.ConnectGormDB(cfg)
		if err != nil {
			w.Close()
			return nil, err
		}
		w.gdb = gdb
		if err := db.AutoMigrateModels(gdb, &model.JobRecord{}); err != nil {
			w.Close()
			return nil, err
		}
		recorders = append(recorders, repository.NewGormJobRepository(gdb))
	}

	merger := audio.NewMerger(
		audio.NewAnalyzer(cfg.FFprobePath, cfg.SupportedCodecs),
		audio.NewExecLauncher(cfg.FFmpegPath),
		audio.MergerConfig{
			ScratchDir: cfg.ScratchDir,
			Codec:      cfg.OutputCodec,
			Bitrate:    cfg.AudioBitrate,
			Ext:        cfg.OutputExt,
		},
	)

	w.orchestrator = transcode.NewOrchestrator(transcode.Deps{
		Tracker:   transcode.NewTracker(recorders...),
		Resolver:  partCache,
		Merger:    merger,
		Uploader:  transcode.NewUploadAdapter(store),
		Registrar: catalog.NewClient(cfg.CatalogServiceURL, authClient),
		Timeout:   cfg.JobTimeout,
	})
	w.bus = events.NewBus(w.redis, w.orchestrator)

	if cfg.JWTSecret != "" {
		w.verifier = auth.NewVerifier(cfg.JWTSecret)
	} else {
		logger.Warn("JWT_SECRET not set, job endpoints are unauthenticated")
	}
	return w, nil
}

func buildStore(ctx context.Context, cfg *config.Config, doer storage.Doer) (storage.Store, error) {
	switch cfg.StorageDriver {
	case "minio":
		client, err := storage.NewMinioClient(cfg)
		if err != nil {
			return nil, err
		}
		store := storage.NewMinioStore(client, cfg.MinioBucket, cfg.MinioRegion)
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		logger.Info("Using MinIO storage", logger.String("endpoint", cfg.MinioEndpoint), logger.String("bucket", cfg.MinioBucket))
		return store, nil
	case "service", "":
		logger.Info("Using storage service", logger.String("url", cfg.StorageServiceURL))
		return storage.NewServiceClient(cfg.StorageServiceURL, doer), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}

// Close releases the external connections.
func (w *worker) Close() {
	if w.redis != nil {
		if err := w.redis.Close(); err != nil {
			logger.Warn("Failed to close Redis", logger.ErrorField(err))
		}
	}
	if err := db.CloseGormDB(w.gdb); err != nil {
		logger.Warn("Failed to close database", logger.ErrorField(err))
	}
}
