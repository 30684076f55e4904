package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"pixvault/internal/cache"
	"pixvault/internal/cleanup"
	"pixvault/internal/config"
	"pixvault/internal/handler"
	"pixvault/internal/keylock"
	"pixvault/internal/repository"
	"pixvault/internal/service"
	"pixvault/internal/service/s3"
)

func connectWithRetry(cfg *config.Config, maxAttempts int, delay time.Duration) (*sqlx.DB, error) {
	dsn := cfg.Database.GetDSN()

	// Сначала подключаемся к системной базе postgres, чтобы при
	// первом запуске создать рабочую базу
	pgDSN := strings.Replace(dsn, "dbname="+cfg.Database.Name, "dbname=postgres", 1)
	pgDB, err := sqlx.Connect("postgres", pgDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres database: %v", err)
	}
	defer pgDB.Close()

	var exists bool
	err = pgDB.Get(&exists, "SELECT EXISTS(SELECT datname FROM pg_catalog.pg_database WHERE datname = $1)", cfg.Database.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to check database existence: %v", err)
	}

	if !exists {
		log.Printf("Database %s does not exist, creating...", cfg.Database.Name)
		_, err = pgDB.Exec("CREATE DATABASE " + cfg.Database.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %v", err)
		}
	}

	var db *sqlx.DB
	for i := 0; i < maxAttempts; i++ {
		db, err = sqlx.Connect("postgres", dsn)
		if err == nil {
			return db, nil
		}

		log.Printf("Failed to connect to database (attempt %d/%d): %v", i+1, maxAttempts, err)
		time.Sleep(delay)
	}

	return nil, fmt.Errorf("failed to connect after %d attempts: %v", maxAttempts, err)
}

func runMigrations(cfg *config.Config) error {
	databaseURL := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.Name,
		cfg.Database.SSLMode,
	)

	var m *migrate.Migrate
	var err error

	for i := 0; i < 5; i++ {
		m, err = migrate.New("file://migrations", databaseURL)
		if err == nil {
			break
		}
		log.Printf("Failed to create migrate instance (attempt %d/5): %v", i+1, err)
		time.Sleep(time.Second * 5)
	}

	if err != nil {
		return fmt.Errorf("failed to create migrate instance after retries: %w", err)
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if dirty {
		log.Printf("Found dirty database state at version %d, attempting to force version", version)
		if err := m.Force(int(version)); err != nil {
			return fmt.Errorf("failed to force version: %w", err)
		}
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

func main() {
	// Загружаем конфигурации
	appConfig, err := config.NewConfig(".app.env")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Подключаемся к базе данных
	db, err := connectWithRetry(appConfig, 5, time.Second*5)
	if err != nil {
		log.Fatalf("Failed to connect to database after retries: %v", err)
	}
	defer db.Close()

	if err := runMigrations(appConfig); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	// Инициализация S3 клиента
	s3Config, err := s3.NewConfig(".s3.env")
	if err != nil {
		log.Fatalf("Failed to load S3 config: %v", err)
	}

	s3Client, err := s3.NewClient(s3Config)
	if err != nil {
		log.Fatalf("Failed to create S3 client: %v", err)
	}

	// Подключение к Redis для распределенного кеша списков
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	redisCache, err := cache.NewRedisCache(ctx, appConfig.Redis.Addr, appConfig.Redis.Password, appConfig.Redis.DB)
	cancel()
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer redisCache.Close()

	localCache := cache.NewLocal(cache.DefaultLocalCapacity, cache.DefaultLocalTTL)
	pageCache := cache.NewTiered("pixvault", localCache, redisCache,
		cache.DefaultRemoteBaseTTL, cache.DefaultRemoteJitter)

	// Очередь отложенного удаления объектов из хранилища
	cleanupQueue := cleanup.New(s3Client, 256)

	// Инициализация репозиториев
	quotaLedger := repository.NewQuotaLedger()
	spaceRepo := repository.NewSpaceRepository(db)
	pictureRepo := repository.NewPictureRepository(db, quotaLedger)

	// Инициализация сервисов
	ownerLocks := keylock.New()
	quotaService := service.NewQuotaService(spaceRepo)
	spaceService := service.NewSpaceService(spaceRepo, ownerLocks)
	pictureService := service.NewPictureService(pictureRepo, spaceRepo, quotaService, s3Client, cleanupQueue, pageCache)

	// Инициализация хендлеров
	pictureHandler := handler.NewPictureHandler(pictureService)
	spaceHandler := handler.NewSpaceHandler(spaceService, quotaService)

	// Настройка HTTP роутера
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-Id", "X-User-Role"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// HTTP маршруты
	r.Route("/v1", func(r chi.Router) {
		r.Post("/pictures", pictureHandler.Upload)
		r.Post("/pictures/page", pictureHandler.ListPage)
		r.Post("/pictures/page/cached", pictureHandler.ListPageCached)
		r.Post("/pictures/cache/refresh", pictureHandler.RefreshCache)

		r.Route("/pictures/{id}", func(r chi.Router) {
			r.Get("/", pictureHandler.GetByID)
			r.Put("/", pictureHandler.Edit)
			r.Delete("/", pictureHandler.Delete)
			r.Post("/review", pictureHandler.Review)
		})

		r.Get("/spaces/levels", spaceHandler.Levels)
		r.Get("/spaces/mine", spaceHandler.GetOwn)
		r.Post("/spaces", spaceHandler.Create)

		r.Route("/spaces/{id}", func(r chi.Router) {
			r.Get("/", spaceHandler.GetByID)
			r.Put("/", spaceHandler.Update)
			r.Patch("/", spaceHandler.Edit)
			r.Delete("/", spaceHandler.Delete)
			r.Get("/quota", spaceHandler.QuotaInfo)
		})
	})

	// Создаем HTTP сервер
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%s", appConfig.Server.Port),
		Handler: r,
	}

	// Канал для сигналов завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Запускаем HTTP сервер
	go func() {
		log.Printf("Starting HTTP server on port %s", appConfig.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	// Ожидаем сигнал завершения
	<-quit
	log.Println("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server forced to shutdown: %v", err)
	}

	// Дожидаемся, пока очередь чистки дообработает задачи
	cleanupQueue.Close()

	if err := db.Close(); err != nil {
		log.Printf("Error closing database connection: %v", err)
	}

	log.Println("Server exited properly")
}
