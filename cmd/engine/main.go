package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/kotyk141191/BioMirror-Therapy-sub001/internal/config"
	"github.com/kotyk141191/BioMirror-Therapy-sub001/internal/health"
	"github.com/kotyk141191/BioMirror-Therapy-sub001/internal/ingest"
	"github.com/kotyk141191/BioMirror-Therapy-sub001/internal/session"
	ws "github.com/kotyk141191/BioMirror-Therapy-sub001/internal/websocket"

	_ "github.com/kotyk141191/BioMirror-Therapy-sub001/docs" // Swagger docs
)

// @title BioMirror Emotion Engine API
// @version 1.0
// @description API движка эмоционального инференса и аналитики терапевтических сессий
// @description
// @description ## Описание
// @description Сервис принимает лицевые сигналы и биометрию устройств захвата,
// @description строит эмоциональные состояния, детектирует эпизоды диссоциации
// @description и агрегирует терапевтические метрики сессии.

// @contact.name API Support
// @contact.email support@biomirror.dev

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /
// @schemes http

func main() {
	log.Printf("[INFO] Starting emotion engine...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[FATAL] Failed to load configuration: %v", err)
	}
	log.Printf("[INFO] Configuration loaded: http_port=%s grpc_port=%s tier=%s mode=%s",
		cfg.HTTPPort, cfg.GRPCPort, cfg.SamplingTier, cfg.SessionMode)

	// Redis — горячее хранилище активных сессий
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("[FATAL] Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Printf("[INFO] Connected to Redis at %s", cfg.RedisAddr)

	cache := session.NewRedisStore(redisClient)

	// PostgreSQL — долговременное хранилище сохраненных сессий
	repository, err := session.NewPostgresRepositoryFromDSN(cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("[FATAL] Failed to connect to PostgreSQL: %v", err)
	}
	defer repository.Close()
	log.Printf("[INFO] Connected to PostgreSQL")

	// WebSocket hub для живого потока состояний
	hub := ws.NewHub()
	go hub.Run()

	manager := session.NewManager(cfg, cache, repository, hub)

	httpHandler := session.NewHTTPHandler(manager)
	ingestHandler := ingest.NewHandler(manager)

	router := mux.NewRouter()
	httpHandler.RegisterRoutes(router)
	router.HandleFunc("/ws/ingest", ingestHandler.HandleIngest)
	router.HandleFunc("/ws/live", hub.HandleWebSocket)

	// Swagger UI
	router.PathPrefix("/swagger/").Handler(httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
		httpSwagger.DeepLinking(true),
		httpSwagger.DocExpansion("list"),
		httpSwagger.DomID("swagger-ui"),
	))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","time":%q}`, time.Now().Format(time.RFC3339))
	})

	httpServer := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      enableCORS(router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// gRPC сервер: health протокол для оркестраторов + reflection
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	grpcAddress := fmt.Sprintf(":%s", cfg.GRPCPort)
	listener, err := net.Listen("tcp", grpcAddress)
	if err != nil {
		log.Fatalf("[FATAL] Failed to listen on %s: %v", grpcAddress, err)
	}

	healthServer.SetServing("")
	healthServer.SetServing("biomirror.v1.EmotionEngine")

	serverErrChan := make(chan error, 2)

	go func() {
		log.Printf("[INFO] HTTP server listening on :%s", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	go func() {
		log.Printf("[INFO] gRPC server listening on %s", grpcAddress)
		if err := grpcServer.Serve(listener); err != nil {
			serverErrChan <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrChan:
		log.Printf("[ERROR] Server error: %v", err)

	case sig := <-shutdownChan:
		log.Printf("[INFO] Received signal %v, starting graceful shutdown...", sig)
	}

	healthServer.SetNotServing("")
	healthServer.SetNotServing("biomirror.v1.EmotionEngine")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[WARN] HTTP server shutdown error: %v", err)
	}

	grpcServer.GracefulStop()

	// Завершаем активные сессии, чтобы метрики не потерялись
	manager.Shutdown(shutdownCtx)

	log.Printf("[INFO] Graceful shutdown completed")
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			return
		}

		next.ServeHTTP(w, r)
	})
}
