package presence

import (
	"github.com/gorilla/mux"
	"google.golang.org/grpc"

	"github.com/oggyb/studymatch/internal/app"
	"github.com/oggyb/studymatch/internal/rpc/presencerpc"
)

// Registrar ties the Presence service into the gRPC server and the HTTP edge
type Registrar struct {
	appCtx  *app.AppContext
	service *Service
}

func NewRegistrar(appCtx *app.AppContext) *Registrar {
	return &Registrar{appCtx: appCtx, service: NewPresenceService(appCtx)}
}

func (r *Registrar) Register(s *grpc.Server) {
	presencerpc.RegisterPresenceServiceServer(s, r.service)
}

func (r *Registrar) RegisterRoutes(router *mux.Router) {
	r.service.RegisterRoutes(router, r.appCtx.Tokens.Middleware)
}
