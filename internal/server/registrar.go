package server

import (
	"github.com/gorilla/mux"
	"google.golang.org/grpc"
)

// Registrar is a common interface for all gRPC service registrars
type Registrar interface {
	Register(s *grpc.Server)
}

// RouteRegistrar is implemented by services that also expose HTTP routes
type RouteRegistrar interface {
	RegisterRoutes(r *mux.Router)
}
