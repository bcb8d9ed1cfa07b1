package health

import (
	"context"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// Server реализует стандартный gRPC health протокол. Пустое имя сервиса
// отвечает состоянием процесса в целом и всегда SERVING, пока процесс жив.
type Server struct {
	grpc_health_v1.UnimplementedHealthServer

	mu       sync.RWMutex
	statuses map[string]grpc_health_v1.HealthCheckResponse_ServingStatus
}

func NewServer() *Server {
	return &Server{
		statuses: make(map[string]grpc_health_v1.HealthCheckResponse_ServingStatus),
	}
}

func (s *Server) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	if req.GetService() == "" {
		return &grpc_health_v1.HealthCheckResponse{
			Status: grpc_health_v1.HealthCheckResponse_SERVING,
		}, nil
	}

	s.mu.RLock()
	st, ok := s.statuses[req.GetService()]
	s.mu.RUnlock()

	if !ok {
		return nil, status.Error(codes.NotFound, "service not found")
	}

	return &grpc_health_v1.HealthCheckResponse{Status: st}, nil
}

// Watch отдает текущий статус и держит стрим до отмены клиентом.
// Уведомления об изменениях статуса не поддерживаются.
func (s *Server) Watch(req *grpc_health_v1.HealthCheckRequest, stream grpc_health_v1.Health_WatchServer) error {
	response, err := s.Check(stream.Context(), req)
	if err != nil {
		return err
	}

	if err := stream.Send(response); err != nil {
		return err
	}

	<-stream.Context().Done()
	return stream.Context().Err()
}

func (s *Server) SetServing(service string) {
	s.set(service, grpc_health_v1.HealthCheckResponse_SERVING)
}

func (s *Server) SetNotServing(service string) {
	s.set(service, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
}

func (s *Server) set(service string, st grpc_health_v1.HealthCheckResponse_ServingStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[service] = st
}
