// Package matchrpc declares the MatchService gRPC API.
package matchrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/oggyb/studymatch/internal/rpc"
)

const (
	ServiceName = "studymatch.match.v1.MatchService"

	GetMatchesFullMethodName   = "/" + ServiceName + "/GetMatches"
	PutActionFullMethodName    = "/" + ServiceName + "/PutAction"
	BatchActionsFullMethodName = "/" + ServiceName + "/BatchActions"
	ListMatchesFullMethodName  = "/" + ServiceName + "/ListMatches"
	ResetMatchesFullMethodName = "/" + ServiceName + "/ResetMatches"

	ListNotificationsFullMethodName = "/" + ServiceName + "/ListNotifications"
)

const (
	ActionLike = "LIKE"
	ActionPass = "PASS"
)

// Candidate is a ranked profile served to the swipe deck.
type Candidate struct {
	UserID     string   `json:"userId"`
	Score      int32    `json:"score"`
	Reasoning  string   `json:"reasoning,omitempty"`
	Name       string   `json:"name,omitempty"`
	University string   `json:"university,omitempty"`
	Major      string   `json:"major,omitempty"`
	Year       int32    `json:"year,omitempty"`
	Interests  []string `json:"interests,omitempty"`
	StudyStyle string   `json:"studyStyle,omitempty"`
	Bio        string   `json:"bio,omitempty"`
}

type GetMatchesRequest struct {
	Limit int32 `json:"limit"`
}

type GetMatchesResponse struct {
	Matches   []*Candidate `json:"matches"`
	Remaining int32        `json:"remaining"`
	// Ranking is "cache", "ranked", "partial" or "fallback".
	Ranking string `json:"ranking"`
}

type PutActionRequest struct {
	TargetUserID string `json:"targetUserId"`
	Action       string `json:"action"`
}

type PutActionResponse struct {
	Status  string `json:"status"`
	Matched bool   `json:"matched"`
}

type ActionItem struct {
	TargetUserID string `json:"targetUserId"`
	Action       string `json:"action"`
	EnqueuedAtMs int64  `json:"enqueuedAtMs,omitempty"`
}

type BatchActionsRequest struct {
	BatchID string        `json:"batchId"`
	Actions []*ActionItem `json:"actions"`
}

// ActionResult is the outcome of one batched action. Retryable is set for
// transient failures only.
type ActionResult struct {
	TargetUserID string `json:"targetUserId"`
	Success      bool   `json:"success"`
	Status       string `json:"status,omitempty"`
	Matched      bool   `json:"matched,omitempty"`
	Error        string `json:"error,omitempty"`
	Retryable    bool   `json:"retryable,omitempty"`
}

type BatchActionsResponse struct {
	BatchID string          `json:"batchId"`
	Results []*ActionResult `json:"results"`
}

type ListMatchesRequest struct {
	PaginationToken *string `json:"paginationToken,omitempty"`
	PageSize        int32   `json:"pageSize,omitempty"`
}

type AcceptedMatch struct {
	UserID      string `json:"userId"`
	Name        string `json:"name,omitempty"`
	MatchedAtMs int64  `json:"matchedAtMs"`
}

type ListMatchesResponse struct {
	Matches             []*AcceptedMatch `json:"matches"`
	NextPaginationToken *string          `json:"nextPaginationToken,omitempty"`
}

type ResetMatchesRequest struct{}

type ResetMatchesResponse struct{}

type ListNotificationsRequest struct {
	Limit int32 `json:"limit,omitempty"`
	// MarkSeen flags the returned notifications as read.
	MarkSeen bool `json:"markSeen,omitempty"`
}

type Notification struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	ActorUserID string `json:"actorUserId"`
	Message     string `json:"message"`
	CreatedAtMs int64  `json:"createdAtMs"`
}

type ListNotificationsResponse struct {
	Notifications []*Notification `json:"notifications"`
}

// MatchServiceServer is implemented by the match service.
type MatchServiceServer interface {
	GetMatches(context.Context, *GetMatchesRequest) (*GetMatchesResponse, error)
	PutAction(context.Context, *PutActionRequest) (*PutActionResponse, error)
	BatchActions(context.Context, *BatchActionsRequest) (*BatchActionsResponse, error)
	ListMatches(context.Context, *ListMatchesRequest) (*ListMatchesResponse, error)
	ResetMatches(context.Context, *ResetMatchesRequest) (*ResetMatchesResponse, error)
	ListNotifications(context.Context, *ListNotificationsRequest) (*ListNotificationsResponse, error)
}

// UnimplementedMatchServiceServer can be embedded for forward compatibility.
type UnimplementedMatchServiceServer struct{}

func (UnimplementedMatchServiceServer) GetMatches(context.Context, *GetMatchesRequest) (*GetMatchesResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetMatches not implemented")
}
func (UnimplementedMatchServiceServer) PutAction(context.Context, *PutActionRequest) (*PutActionResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method PutAction not implemented")
}
func (UnimplementedMatchServiceServer) BatchActions(context.Context, *BatchActionsRequest) (*BatchActionsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method BatchActions not implemented")
}
func (UnimplementedMatchServiceServer) ListMatches(context.Context, *ListMatchesRequest) (*ListMatchesResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListMatches not implemented")
}
func (UnimplementedMatchServiceServer) ResetMatches(context.Context, *ResetMatchesRequest) (*ResetMatchesResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ResetMatches not implemented")
}
func (UnimplementedMatchServiceServer) ListNotifications(context.Context, *ListNotificationsRequest) (*ListNotificationsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListNotifications not implemented")
}

var MatchServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MatchServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetMatches", Handler: rpc.Unary(GetMatchesFullMethodName, MatchServiceServer.GetMatches)},
		{MethodName: "PutAction", Handler: rpc.Unary(PutActionFullMethodName, MatchServiceServer.PutAction)},
		{MethodName: "BatchActions", Handler: rpc.Unary(BatchActionsFullMethodName, MatchServiceServer.BatchActions)},
		{MethodName: "ListMatches", Handler: rpc.Unary(ListMatchesFullMethodName, MatchServiceServer.ListMatches)},
		{MethodName: "ResetMatches", Handler: rpc.Unary(ResetMatchesFullMethodName, MatchServiceServer.ResetMatches)},
		{MethodName: "ListNotifications", Handler: rpc.Unary(ListNotificationsFullMethodName, MatchServiceServer.ListNotifications)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "studymatch/match/v1/match.json",
}

func RegisterMatchServiceServer(s grpc.ServiceRegistrar, srv MatchServiceServer) {
	s.RegisterService(&MatchServiceDesc, srv)
}

type MatchServiceClient interface {
	GetMatches(ctx context.Context, in *GetMatchesRequest, opts ...grpc.CallOption) (*GetMatchesResponse, error)
	PutAction(ctx context.Context, in *PutActionRequest, opts ...grpc.CallOption) (*PutActionResponse, error)
	BatchActions(ctx context.Context, in *BatchActionsRequest, opts ...grpc.CallOption) (*BatchActionsResponse, error)
	ListMatches(ctx context.Context, in *ListMatchesRequest, opts ...grpc.CallOption) (*ListMatchesResponse, error)
	ResetMatches(ctx context.Context, in *ResetMatchesRequest, opts ...grpc.CallOption) (*ResetMatchesResponse, error)
	ListNotifications(ctx context.Context, in *ListNotificationsRequest, opts ...grpc.CallOption) (*ListNotificationsResponse, error)
}

type matchServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewMatchServiceClient(cc grpc.ClientConnInterface) MatchServiceClient {
	return &matchServiceClient{cc: cc}
}

func (c *matchServiceClient) GetMatches(ctx context.Context, in *GetMatchesRequest, opts ...grpc.CallOption) (*GetMatchesResponse, error) {
	return rpc.Invoke[GetMatchesResponse](ctx, c.cc, GetMatchesFullMethodName, in, opts...)
}

func (c *matchServiceClient) PutAction(ctx context.Context, in *PutActionRequest, opts ...grpc.CallOption) (*PutActionResponse, error) {
	return rpc.Invoke[PutActionResponse](ctx, c.cc, PutActionFullMethodName, in, opts...)
}

func (c *matchServiceClient) BatchActions(ctx context.Context, in *BatchActionsRequest, opts ...grpc.CallOption) (*BatchActionsResponse, error) {
	return rpc.Invoke[BatchActionsResponse](ctx, c.cc, BatchActionsFullMethodName, in, opts...)
}

func (c *matchServiceClient) ListMatches(ctx context.Context, in *ListMatchesRequest, opts ...grpc.CallOption) (*ListMatchesResponse, error) {
	return rpc.Invoke[ListMatchesResponse](ctx, c.cc, ListMatchesFullMethodName, in, opts...)
}

func (c *matchServiceClient) ResetMatches(ctx context.Context, in *ResetMatchesRequest, opts ...grpc.CallOption) (*ResetMatchesResponse, error) {
	return rpc.Invoke[ResetMatchesResponse](ctx, c.cc, ResetMatchesFullMethodName, in, opts...)
}

func (c *matchServiceClient) ListNotifications(ctx context.Context, in *ListNotificationsRequest, opts ...grpc.CallOption) (*ListNotificationsResponse, error) {
	return rpc.Invoke[ListNotificationsResponse](ctx, c.cc, ListNotificationsFullMethodName, in, opts...)
}
