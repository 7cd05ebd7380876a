package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/fedmesh/node/internal/system"
	"github.com/fedmesh/node/pkg/logger"
)

// Service exposes the node's HTTP route table and fits into the system
// manager lifecycle: Start listens in the background, Stop drains in-flight
// requests before closing.
type Service struct {
	addr   string
	server *http.Server
	log    *logger.Logger
}

// NewService builds the route table from deps and wraps it as a
// lifecycle-managed Service listening on addr.
func NewService(deps Deps, addr string) *Service {
	log := deps.Log
	if log == nil {
		log = logger.NewDefault("http")
	}
	return &Service{
		addr: addr,
		server: &http.Server{
			Addr:         addr,
			Handler:      NewRouter(deps),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		log: log,
	}
}

var _ system.Service = (*Service)(nil)

func (s *Service) Name() string { return "http" }

func (s *Service) Start(ctx context.Context) error {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("http server error")
		}
	}()
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
