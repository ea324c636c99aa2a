package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"taskboard/api/internal/app"
	"taskboard/api/internal/blob"
	"taskboard/api/internal/config"
	"taskboard/api/internal/email"
	"taskboard/api/internal/gitrepo"
	"taskboard/api/internal/search"
	"taskboard/api/internal/session"
	"taskboard/api/internal/store"
	"taskboard/api/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var sessions session.Store = session.NewMemoryStore()
	var redisStore *session.RedisStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err = session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		sessions = redisStore
		log.Printf("Using Redis for sessions")
	} else {
		log.Printf("Using in-memory sessions")
	}

	var dataStore store.Store
	var fallback search.Backend
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
		if err != nil {
			log.Fatalf("database connection failed: %v", err)
		}
		defer db.Close()

		migrations, err := store.Migrations(cfg.MigrationsDir)
		if err != nil {
			log.Fatalf("migrations: %v", err)
		}
		if err := store.ApplyMigrations(ctx, db, migrations); err != nil {
			log.Fatalf("migrations failed: %v", err)
		}

		pg := store.NewPostgresStore(db)
		if redisStore != nil {
			if err := pg.UseFeed(ctx, store.NewRedisFeed(redisStore.Client(), "")); err != nil {
				log.Fatalf("change feed: %v", err)
			}
		}
		dataStore = pg
		fallback = search.NewPgFTS(db)
	} else {
		log.Printf("DATABASE_URL not set, keeping data in memory")
		dataStore = store.NewMemoryStore()
	}

	repo := tasks.NewRepository(dataStore)
	report, err := repo.Consolidate(ctx)
	if err != nil {
		log.Fatalf("consolidate legacy tasks failed: %v", err)
	}
	if report.Tasks > 0 {
		log.Printf("Consolidated %d tasks (%d themes, %d groups)", report.Tasks, report.Themes, report.Groups)
	}
	if fallback == nil {
		fallback = search.NewScan(repo)
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, fallback)
	searchService.ReindexAll(ctx, repo)

	if err := os.MkdirAll(cfg.HistoryDir, 0o755); err != nil {
		log.Fatalf("failed to create history dir: %v", err)
	}

	deps := app.Dependencies{
		Store:    dataStore,
		Sessions: sessions,
		History:  gitrepo.New(cfg.HistoryDir),
		Search:   searchService,
		Mailer: email.NewService(email.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		}),
	}
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		materials, err := blob.New(ctx, blob.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatalf("materials storage: %v", err)
		}
		deps.Blobs = materials
	} else {
		log.Printf("MINIO_ENDPOINT not set, material uploads disabled")
	}

	service := app.New(cfg, deps)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	// Task streams stay open, so there is no write timeout. Request contexts
	// derive from ctx so open streams end on shutdown.
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		log.Printf("Taskboard API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
