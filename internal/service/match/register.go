package match

import (
	"google.golang.org/grpc"

	"github.com/oggyb/studymatch/internal/app"
	"github.com/oggyb/studymatch/internal/rpc/matchrpc"
)

// Registrar ties the Match service into the gRPC server
type Registrar struct {
	service *Service
}

// NewRegistrar creates a new Registrar for the Match service
func NewRegistrar(appCtx *app.AppContext) *Registrar {
	return &Registrar{service: NewMatchService(appCtx)}
}

// Register attaches the Match service implementation to the gRPC server
func (r *Registrar) Register(s *grpc.Server) {
	matchrpc.RegisterMatchServiceServer(s, r.service)
}

// Service exposes the registered implementation, e.g. to wait for refills on shutdown.
func (r *Registrar) Service() *Service {
	return r.service
}
