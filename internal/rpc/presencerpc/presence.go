// Package presencerpc declares the PresenceService gRPC API.
package presencerpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/oggyb/studymatch/internal/rpc"
)

const (
	ServiceName = "studymatch.presence.v1.PresenceService"

	HeartbeatFullMethodName   = "/" + ServiceName + "/Heartbeat"
	OfflineFullMethodName     = "/" + ServiceName + "/Offline"
	GetStatusesFullMethodName = "/" + ServiceName + "/GetStatuses"
)

const (
	StatusOnline  = "online"
	StatusAway    = "away"
	StatusOffline = "offline"
)

type HeartbeatRequest struct {
	// Status defaults to online.
	Status string `json:"status,omitempty"`
}

type HeartbeatResponse struct {
	LastActiveMs int64 `json:"lastActiveMs"`
}

type OfflineRequest struct{}

type OfflineResponse struct{}

type GetStatusesRequest struct {
	UserIDs []string `json:"userIds"`
}

type UserStatus struct {
	UserID       string `json:"userId"`
	Status       string `json:"status"`
	LastActiveMs int64  `json:"lastActiveMs,omitempty"`
	// Online is true when the last heartbeat is within the online window and
	// the user has not signed off since.
	Online bool `json:"online"`
}

type GetStatusesResponse struct {
	Statuses []*UserStatus `json:"statuses"`
}

type PresenceServiceServer interface {
	Heartbeat(context.Context, *HeartbeatRequest) (*HeartbeatResponse, error)
	Offline(context.Context, *OfflineRequest) (*OfflineResponse, error)
	GetStatuses(context.Context, *GetStatusesRequest) (*GetStatusesResponse, error)
}

type UnimplementedPresenceServiceServer struct{}

func (UnimplementedPresenceServiceServer) Heartbeat(context.Context, *HeartbeatRequest) (*HeartbeatResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Heartbeat not implemented")
}
func (UnimplementedPresenceServiceServer) Offline(context.Context, *OfflineRequest) (*OfflineResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Offline not implemented")
}
func (UnimplementedPresenceServiceServer) GetStatuses(context.Context, *GetStatusesRequest) (*GetStatusesResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetStatuses not implemented")
}

var PresenceServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PresenceServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Heartbeat", Handler: rpc.Unary(HeartbeatFullMethodName, PresenceServiceServer.Heartbeat)},
		{MethodName: "Offline", Handler: rpc.Unary(OfflineFullMethodName, PresenceServiceServer.Offline)},
		{MethodName: "GetStatuses", Handler: rpc.Unary(GetStatusesFullMethodName, PresenceServiceServer.GetStatuses)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "studymatch/presence/v1/presence.json",
}

func RegisterPresenceServiceServer(s grpc.ServiceRegistrar, srv PresenceServiceServer) {
	s.RegisterService(&PresenceServiceDesc, srv)
}

type PresenceServiceClient interface {
	Heartbeat(ctx context.Context, in *HeartbeatRequest, opts ...grpc.CallOption) (*HeartbeatResponse, error)
	Offline(ctx context.Context, in *OfflineRequest, opts ...grpc.CallOption) (*OfflineResponse, error)
	GetStatuses(ctx context.Context, in *GetStatusesRequest, opts ...grpc.CallOption) (*GetStatusesResponse, error)
}

type presenceServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewPresenceServiceClient(cc grpc.ClientConnInterface) PresenceServiceClient {
	return &presenceServiceClient{cc: cc}
}

func (c *presenceServiceClient) Heartbeat(ctx context.Context, in *HeartbeatRequest, opts ...grpc.CallOption) (*HeartbeatResponse, error) {
	return rpc.Invoke[HeartbeatResponse](ctx, c.cc, HeartbeatFullMethodName, in, opts...)
}

func (c *presenceServiceClient) Offline(ctx context.Context, in *OfflineRequest, opts ...grpc.CallOption) (*OfflineResponse, error) {
	return rpc.Invoke[OfflineResponse](ctx, c.cc, OfflineFullMethodName, in, opts...)
}

func (c *presenceServiceClient) GetStatuses(ctx context.Context, in *GetStatusesRequest, opts ...grpc.CallOption) (*GetStatusesResponse, error) {
	return rpc.Invoke[GetStatusesResponse](ctx, c.cc, GetStatusesFullMethodName, in, opts...)
}
