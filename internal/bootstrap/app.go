package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	"github.com/gin-gonic/gin"

	"agrimap-backend/internal/history"
	"agrimap-backend/internal/mapanalysis"
	"agrimap-backend/internal/shared/config"
	"agrimap-backend/internal/shared/server"
	"agrimap-backend/internal/shared/storage/db"
	"agrimap-backend/internal/shared/storage/object"
	localstore "agrimap-backend/internal/shared/storage/object/local"
	s3store "agrimap-backend/internal/shared/storage/object/s3"
	"agrimap-backend/internal/vision"
	"agrimap-backend/internal/vision/gemini"
	"agrimap-backend/internal/zones"
)

const (
	analysisWorkers   = 2
	analysisQueueSize = 100
)

// App holds shared dependencies.
type App struct {
	Config   config.Config
	Router   *gin.Engine
	DB       *sql.DB
	Store    object.ObjectStore
	Jobs     mapanalysis.JobStore
	Progress *mapanalysis.ChannelManager
	Pool     *mapanalysis.Pool
	Analyzer vision.Analyzer

	ZonesRepo   zones.Repo
	HistoryRepo history.Repo

	Service *mapanalysis.Service
	Handler *mapanalysis.Handler
	Janitor *mapanalysis.Janitor
}

// Build prepares shared dependencies and wires the router.
func Build(cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.ObjectStoreType) == "" {
		cfg.ObjectStoreType = "local"
	}
	ctx := context.Background()

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var zonesRepo zones.Repo
	var historyRepo history.Repo
	if sqlDB != nil {
		zonesRepo = &zones.PGRepo{DB: sqlDB}
		historyRepo = &history.PGRepo{DB: sqlDB}
	} else {
		zonesRepo = zones.NewMemoryRepo()
		historyRepo = history.NewMemoryRepo()
	}

	analyzer, err := buildAnalyzer(cfg, store)
	if err != nil {
		return nil, err
	}

	jobs := mapanalysis.NewMemoryJobStore()
	progress := mapanalysis.NewChannelManager()
	pool := mapanalysis.NewPool(analysisWorkers, analysisQueueSize)

	svc := &mapanalysis.Service{
		Jobs:     jobs,
		Progress: progress,
		Pool:     pool,
		Store:    store,
		Analyzer: analyzer,
		Zones:    zonesRepo,
		History:  historyRepo,
	}

	uploadDir := ""
	if cfg.ObjectStoreType == "local" {
		uploadDir = cfg.LocalStoreDir
	}

	app := &App{
		Config:      cfg,
		DB:          sqlDB,
		Store:       store,
		Jobs:        jobs,
		Progress:    progress,
		Pool:        pool,
		Analyzer:    analyzer,
		ZonesRepo:   zonesRepo,
		HistoryRepo: historyRepo,
		Service:     svc,
		Handler:     mapanalysis.NewHandler(svc),
		Janitor: &mapanalysis.Janitor{
			Jobs:      jobs,
			Progress:  progress,
			UploadDir: uploadDir,
		},
	}

	app.Router = server.NewRouter(server.RouterDeps{
		Config:      app.Config,
		MapAnalysis: app.Handler,
	})

	return app, nil
}

// Shutdown stops the worker pool and closes open progress streams.
func (a *App) Shutdown() {
	a.Pool.Shutdown()
	a.Progress.CloseAll()
	if a.DB != nil {
		_ = a.DB.Close()
	}
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: DATABASE_URL empty; using in-memory repositories")
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	opts := db.OptionsFromEnv(db.DefaultServerOptions())
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, opts)
	if err != nil {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: database connect failed; using in-memory repositories: %v", err)
			return nil, nil
		}
		return nil, err
	}

	if err := db.RunMigrations(ctx, sqlDB); err != nil {
		_ = sqlDB.Close()
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: migrations failed; using in-memory repositories: %v", err)
			return nil, nil
		}
		return nil, err
	}

	return sqlDB, nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

func buildAnalyzer(cfg config.Config, store object.ObjectStore) (vision.Analyzer, error) {
	if cfg.VisionProvider == "gemini" && strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		return gemini.New(cfg.GeminiAPIKey, cfg.VisionModel, store)
	}
	log.Printf("bootstrap: vision provider not configured; using placeholder analyzer")
	return vision.Placeholder{}, nil
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}
