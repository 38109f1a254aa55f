package service

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Server 同步端点的 HTTP 服务
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

func NewServer(addr string, handler http.Handler, logger *zap.Logger) *Server {
	s := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		// 单个对象可能带有内嵌照片，请求体较大
		ReadTimeout:  2 * time.Minute,
		WriteTimeout: 2 * time.Minute,
	}
	return &Server{httpServer: s, logger: logger}
}

// Start 阻塞直到服务停止；正常关闭不返回错误
func (s *Server) Start() error {
	s.logger.Info("Starting visit-tracker sync server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping visit-tracker sync server")
	return s.httpServer.Shutdown(ctx)
}
