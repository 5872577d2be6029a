package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/oggyb/studymatch/internal/app"
	"github.com/oggyb/studymatch/internal/auth"
	"github.com/oggyb/studymatch/internal/config"
	"github.com/oggyb/studymatch/internal/logger"
	"github.com/oggyb/studymatch/internal/ranking"
	"github.com/oggyb/studymatch/internal/rpc/matchrpc"
	"github.com/oggyb/studymatch/internal/rpc/presencerpc"
	"github.com/oggyb/studymatch/internal/server"
	"github.com/oggyb/studymatch/internal/service/match"
	"github.com/oggyb/studymatch/internal/service/presence"
	"github.com/oggyb/studymatch/internal/testutil"
)

func newAppContext(t *testing.T) *app.AppContext {
	t.Helper()
	gdb := testutil.NewSeededDB(t)
	rc, _ := testutil.NewRedis(t)
	appCtx := app.New(config.New(), gdb, rc, logger.Discard())
	appCtx.Ranker = ranking.HeuristicRanker{}
	return appCtx
}

func dial(t *testing.T, addr string, opts ...grpc.DialOption) *grpc.ClientConn {
	t.Helper()
	opts = append(opts,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	conn, err := grpc.NewClient(addr, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestGRPCServer_EndToEnd(t *testing.T) {
	appCtx := newAppContext(t)
	matchReg := match.NewRegistrar(appCtx)
	t.Cleanup(matchReg.Service().Wait)

	s := server.NewGRPCServer(appCtx, matchReg, presence.NewRegistrar(appCtx))
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	tok, err := appCtx.Tokens.Issue(1)
	require.NoError(t, err)
	conn := dial(t, lis.Addr().String(), grpc.WithPerRPCCredentials(auth.BearerCredentials{Token: tok, Insecure: true}))
	ctx := context.Background()

	mc := matchrpc.NewMatchServiceClient(conn)
	resp, err := mc.GetMatches(ctx, &matchrpc.GetMatchesRequest{Limit: 5})
	require.NoError(t, err)
	require.Len(t, resp.Matches, 1)
	assert.Equal(t, "2", resp.Matches[0].UserID)
	assert.Equal(t, "ranked", resp.Ranking)

	// domain errors keep their status code across the wire
	_, err = mc.PutAction(ctx, &matchrpc.PutActionRequest{TargetUserID: "4", Action: matchrpc.ActionLike})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	batch, err := mc.BatchActions(ctx, &matchrpc.BatchActionsRequest{
		BatchID: "b-1",
		Actions: []*matchrpc.ActionItem{{TargetUserID: "2", Action: matchrpc.ActionLike}},
	})
	require.NoError(t, err)
	require.Len(t, batch.Results, 1)
	assert.True(t, batch.Results[0].Matched)

	pc := presencerpc.NewPresenceServiceClient(conn)
	hb, err := pc.Heartbeat(ctx, &presencerpc.HeartbeatRequest{})
	require.NoError(t, err)
	assert.NotZero(t, hb.LastActiveMs)

	statuses, err := pc.GetStatuses(ctx, &presencerpc.GetStatusesRequest{UserIDs: []string{"1"}})
	require.NoError(t, err)
	assert.True(t, statuses.Statuses[0].Online)

	// health uses the default proto codec and needs no token
	anon := dial(t, lis.Addr().String())
	hc, err := healthpb.NewHealthClient(anon).Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, hc.Status)

	_, err = matchrpc.NewMatchServiceClient(anon).GetMatches(ctx, &matchrpc.GetMatchesRequest{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestHTTPHandler(t *testing.T) {
	appCtx := newAppContext(t)
	h := server.NewHTTPHandler(appCtx, presence.NewRegistrar(appCtx))
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	res, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	var body struct {
		Healthy bool              `json:"healthy"`
		Checks  map[string]string `json:"checks"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.True(t, body.Healthy)

	res, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	raw, _ := io.ReadAll(res.Body)
	res.Body.Close()
	assert.Contains(t, string(raw), "studymatch_match_cache_entries")

	// CORS preflight for the beacon endpoint
	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/presence/offline", nil)
	req.Header.Set("Origin", "https://app.example.edu")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	res, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.NotEmpty(t, res.Header.Get("Access-Control-Allow-Origin"))

	res, err = http.Post(srv.URL+"/api/presence/heartbeat", "application/json", nil)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestHTTPHandler_CORSCredentials(t *testing.T) {
	preflight := func(h http.Handler) http.Header {
		req := httptest.NewRequest(http.MethodOptions, "/api/presence/offline", nil)
		req.Header.Set("Origin", "https://app.example.edu")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Header()
	}

	// wildcard origin: no credentials
	appCtx := newAppContext(t)
	appCtx.Config.HTTP.AllowedOrigins = []string{"*"}
	hdr := preflight(server.NewHTTPHandler(appCtx, presence.NewRegistrar(appCtx)))
	assert.NotEmpty(t, hdr.Get("Access-Control-Allow-Origin"))
	assert.Empty(t, hdr.Get("Access-Control-Allow-Credentials"))

	// explicit origins: credentials allowed, origin echoed
	appCtx.Config.HTTP.AllowedOrigins = []string{"https://app.example.edu"}
	hdr = preflight(server.NewHTTPHandler(appCtx, presence.NewRegistrar(appCtx)))
	assert.Equal(t, "https://app.example.edu", hdr.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", hdr.Get("Access-Control-Allow-Credentials"))
}

func TestHTTPHandler_UnhealthyRedis(t *testing.T) {
	gdb := testutil.NewSeededDB(t)
	rc, mr := testutil.NewRedis(t)
	appCtx := app.New(config.New(), gdb, rc, logger.Discard())
	mr.Close()

	rec := httptest.NewRecorder()
	server.NewHTTPHandler(appCtx).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
