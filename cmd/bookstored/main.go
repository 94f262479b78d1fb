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

	"github.com/gin-gonic/gin"
	"github.com/ibookstore/bookstore/internal/api"
	"github.com/ibookstore/bookstore/internal/catalog"
	"github.com/ibookstore/bookstore/internal/config"
	"github.com/ibookstore/bookstore/internal/db"
	"github.com/ibookstore/bookstore/internal/events"
	"github.com/ibookstore/bookstore/internal/health"
	"github.com/ibookstore/bookstore/internal/ledger"
	"github.com/ibookstore/bookstore/internal/notify"
	"github.com/ibookstore/bookstore/internal/order"
	"github.com/ibookstore/bookstore/internal/purchase"
	"github.com/ibookstore/bookstore/pkg/logger"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Load configuration
	cfg := config.Load()

	// Initialize logger
	zlog := logger.NewLogger(cfg.ServiceName, cfg.LogLevel)
	defer zlog.Sync()

	zlog.Info("Bookstore core starting")

	// Connect to database
	zlog.Info("Connecting to database...")
	database, err := db.Connect(cfg.PGDSN)
	if err != nil {
		zlog.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	// Run migrations
	zlog.Info("Running database migrations...")
	if err := db.RunMigrations(database); err != nil {
		zlog.Fatal("Failed to run migrations", zap.Error(err))
	}

	// Connect to RabbitMQ. Notifications are best-effort, so a missing broker
	// degrades to log-only notices instead of refusing to start.
	zlog.Info("Connecting to RabbitMQ")
	var notifier notify.Notifier
	publisher, err := events.NewPublisher(cfg.RabbitMQURL, zlog)
	if err != nil {
		zlog.Warn("RabbitMQ unavailable, notifications degrade to log-only", zap.Error(err))
		publisher = nil
		notifier = notify.NewLogNotifier(zlog)
	} else {
		defer publisher.Close()
		notifier = notify.NewEventNotifier(publisher)
	}

	// Wire the core
	catalogStore := catalog.NewStore(database, zlog)
	userLedger := ledger.NewLedger(database, zlog)
	orderEngine := order.NewEngine(database, catalogStore, userLedger, notifier, zlog)
	purchaseEngine := purchase.NewEngine(database, catalogStore, userLedger, notifier, zlog)

	// Notification worker consumes the notices the engines emit post-commit
	if publisher != nil {
		consumer, err := notify.NewConsumer(cfg.RabbitMQURL, cfg.NotifyQueue, notify.NewLogMailer(zlog), zlog)
		if err != nil {
			zlog.Warn("Notification worker unavailable", zap.Error(err))
		} else {
			defer consumer.Close()
			go func() {
				if err := consumer.Start(); err != nil {
					zlog.Error("Notification worker stopped", zap.Error(err))
				}
			}()
		}
	}

	// Create gRPC server with health service
	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(loggingInterceptor(zlog)),
	)
	healthServer := health.NewServer(database, publisher, zlog)
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)

	// Enable reflection for grpcurl/grpcui
	reflection.Register(grpcServer)

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
	if err != nil {
		zlog.Fatal("Failed to listen on gRPC port", zap.Error(err))
	}

	go func() {
		zlog.Info("Starting gRPC server", zap.String("address", grpcListener.Addr().String()))
		if err := grpcServer.Serve(grpcListener); err != nil {
			zlog.Fatal("Failed to serve gRPC", zap.Error(err))
		}
	}()

	// HTTP server: API routes, health check and metrics
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(api.RequestLogger(zlog))

	apiHandler := api.NewHandler(catalogStore, userLedger, orderEngine, purchaseEngine, zlog)
	apiHandler.Register(router)

	router.GET("/healthz", gin.WrapF(healthHandler(database, publisher, zlog)))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		zlog.Info("Starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal("Failed to serve HTTP", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		zlog.Error("HTTP server shutdown error", zap.Error(err))
	}
	grpcServer.GracefulStop()

	zlog.Info("Server stopped")
}

func healthHandler(database *db.DB, publisher *events.Publisher, zlog *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := database.Ping(); err != nil {
			zlog.Error("Database health check failed", zap.Error(err))
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("unhealthy: database connection failed"))
			return
		}

		if publisher != nil && !publisher.IsHealthy() {
			zlog.Error("RabbitMQ health check failed")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("unhealthy: rabbitmq connection failed"))
			return
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	}
}

// loggingInterceptor logs all gRPC requests
func loggingInterceptor(zlog *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)

		if err != nil {
			zlog.Error("gRPC request failed",
				zap.String("method", info.FullMethod),
				zap.Error(err),
			)
		} else {
			zlog.Info("gRPC request completed",
				zap.String("method", info.FullMethod),
			)
		}

		return resp, err
	}
}
