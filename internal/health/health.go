package health

import (
	"context"

	"github.com/ibookstore/bookstore/internal/db"
	"github.com/ibookstore/bookstore/internal/events"
	"go.uber.org/zap"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// Server implements the gRPC health checking protocol over the database and
// event-bus connections. The publisher may be nil when the service started
// with the log-only notifier fallback.
type Server struct {
	grpc_health_v1.UnimplementedHealthServer
	db        *db.DB
	publisher *events.Publisher
	log       *zap.Logger
}

// NewServer creates a new health check server
func NewServer(database *db.DB, publisher *events.Publisher, log *zap.Logger) *Server {
	return &Server{
		db:        database,
		publisher: publisher,
		log:       log,
	}
}

func (h *Server) healthy() bool {
	if err := h.db.Ping(); err != nil {
		h.log.Error("Database health check failed", zap.Error(err))
		return false
	}
	if h.publisher != nil && !h.publisher.IsHealthy() {
		h.log.Error("RabbitMQ health check failed")
		return false
	}
	return true
}

// Check implements the health check
func (h *Server) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	status := grpc_health_v1.HealthCheckResponse_SERVING
	if !h.healthy() {
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	return &grpc_health_v1.HealthCheckResponse{Status: status}, nil
}

// Watch implements health check watching (streaming)
func (h *Server) Watch(req *grpc_health_v1.HealthCheckRequest, server grpc_health_v1.Health_WatchServer) error {
	// Send the current status and close
	status := grpc_health_v1.HealthCheckResponse_SERVING
	if !h.healthy() {
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	return server.Send(&grpc_health_v1.HealthCheckResponse{Status: status})
}
