// Package api connects the client components to the server: a gRPC client
// for matches, actions and presence, and an HTTP beacon for the final
// offline signal.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/oggyb/studymatch/internal/auth"
	"github.com/oggyb/studymatch/internal/client/batcher"
	"github.com/oggyb/studymatch/internal/client/presence"
	"github.com/oggyb/studymatch/internal/logger"
	"github.com/oggyb/studymatch/internal/rpc/matchrpc"
	"github.com/oggyb/studymatch/internal/rpc/presencerpc"
)

type Client struct {
	conn     *grpc.ClientConn
	match    matchrpc.MatchServiceClient
	presence presencerpc.PresenceServiceClient
	log      *slog.Logger
}

// Dial opens a plaintext connection that sends token on every call.
func Dial(addr, token string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithPerRPCCredentials(auth.BearerCredentials{Token: token, Insecure: true}),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return NewClient(conn), nil
}

func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{
		conn:     conn,
		match:    matchrpc.NewMatchServiceClient(conn),
		presence: presencerpc.NewPresenceServiceClient(conn),
		log:      logger.L(),
	}
}

func (c *Client) Close() error { return c.conn.Close() }

// FetchMatches asks for the next limit candidates. Remaining is what the
// server still holds for the viewer after this page.
func (c *Client) FetchMatches(ctx context.Context, limit int) ([]*matchrpc.Candidate, int, error) {
	resp, err := c.match.GetMatches(ctx, &matchrpc.GetMatchesRequest{Limit: int32(limit)})
	if err != nil {
		return nil, 0, err
	}
	c.log.Debug("fetched matches", "count", len(resp.Matches), "remaining", resp.Remaining, "ranking", resp.Ranking)
	return resp.Matches, int(resp.Remaining), nil
}

// Act sends one decision outside of any batch. Semantic failures come back
// as status errors.
func (c *Client) Act(ctx context.Context, targetUserID, action string) (matched bool, err error) {
	resp, err := c.match.PutAction(ctx, &matchrpc.PutActionRequest{TargetUserID: targetUserID, Action: action})
	if err != nil {
		return false, err
	}
	return resp.Matched, nil
}

func (c *Client) Matches(ctx context.Context, token *string) (*matchrpc.ListMatchesResponse, error) {
	return c.match.ListMatches(ctx, &matchrpc.ListMatchesRequest{PaginationToken: token})
}

// Notifications returns unread notifications and marks them read.
func (c *Client) Notifications(ctx context.Context) ([]*matchrpc.Notification, error) {
	resp, err := c.match.ListNotifications(ctx, &matchrpc.ListNotificationsRequest{MarkSeen: true})
	if err != nil {
		return nil, err
	}
	return resp.Notifications, nil
}

func (c *Client) Reset(ctx context.Context) error {
	_, err := c.match.ResetMatches(ctx, &matchrpc.ResetMatchesRequest{})
	return err
}

// Send implements batcher.Sender.
func (c *Client) Send(ctx context.Context, batchID string, actions []batcher.Action) ([]batcher.Result, error) {
	req := &matchrpc.BatchActionsRequest{BatchID: batchID, Actions: make([]*matchrpc.ActionItem, len(actions))}
	for i, a := range actions {
		req.Actions[i] = &matchrpc.ActionItem{
			TargetUserID: a.TargetUserID,
			Action:       a.Action,
			EnqueuedAtMs: a.EnqueuedAt.UnixMilli(),
		}
	}

	resp, err := c.match.BatchActions(ctx, req)
	if err != nil {
		return nil, err
	}
	out := make([]batcher.Result, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r == nil {
			continue
		}
		out = append(out, batcher.Result{
			TargetUserID: r.TargetUserID,
			Success:      r.Success,
			Matched:      r.Matched,
			Retryable:    r.Retryable,
			Error:        r.Error,
		})
	}
	return out, nil
}

// Heartbeat implements presence.Heartbeater.
func (c *Client) Heartbeat(ctx context.Context, status string) error {
	_, err := c.presence.Heartbeat(ctx, &presencerpc.HeartbeatRequest{Status: status})
	return err
}

// Statuses implements presence.StatusFetcher.
func (c *Client) Statuses(ctx context.Context, userIDs []string) ([]presence.Status, error) {
	resp, err := c.presence.GetStatuses(ctx, &presencerpc.GetStatusesRequest{UserIDs: userIDs})
	if err != nil {
		return nil, err
	}
	out := make([]presence.Status, 0, len(resp.Statuses))
	for _, st := range resp.Statuses {
		if st == nil {
			continue
		}
		s := presence.Status{UserID: st.UserID, Status: st.Status}
		if st.LastActiveMs > 0 {
			s.LastActive = time.UnixMilli(st.LastActiveMs)
		}
		out = append(out, s)
	}
	return out, nil
}
