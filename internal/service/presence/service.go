package presence

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/oggyb/studymatch/internal/app"
	"github.com/oggyb/studymatch/internal/auth"
	"github.com/oggyb/studymatch/internal/cache"
	svcErr "github.com/oggyb/studymatch/internal/errors"
	"github.com/oggyb/studymatch/internal/repository"
	"github.com/oggyb/studymatch/internal/rpc/presencerpc"
	"github.com/oggyb/studymatch/internal/telemetry"
)

const maxStatusIDs = 100

// Service implements the Presence gRPC API and its HTTP twin.
// Heartbeats are written to the users table and mirrored into Redis, which
// serves status reads; the table is the fallback on cache misses.
type Service struct {
	appCtx   *app.AppContext
	profiles *repository.ProfileRepository
	redis    *cache.RedisCache
	window   time.Duration
	now      func() time.Time

	presencerpc.UnimplementedPresenceServiceServer
}

func NewPresenceService(appCtx *app.AppContext) *Service {
	window := 5 * time.Minute
	if appCtx.Config != nil && appCtx.Config.Presence.OnlineWindow > 0 {
		window = appCtx.Config.Presence.OnlineWindow
	}
	return &Service{
		appCtx:   appCtx,
		profiles: repository.NewProfileRepository(appCtx.DB),
		redis:    appCtx.RedisCache,
		window:   window,
		now:      time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Heartbeat records that the caller is active now.
//
// Behavior:
//   - Status defaults to "online"; "away" is also accepted.
//   - The users table is authoritative; the Redis copy is best effort.
func (s *Service) Heartbeat(ctx context.Context, req *presencerpc.HeartbeatRequest) (*presencerpc.HeartbeatResponse, error) {
	userID, err := auth.RequireUser(ctx)
	if err != nil {
		return nil, svcErr.Map(err)
	}

	st := strings.ToLower(strings.TrimSpace(req.Status))
	switch st {
	case "":
		st = presencerpc.StatusOnline
	case presencerpc.StatusOnline, presencerpc.StatusAway:
	default:
		return nil, svcErr.InvalidArgument("status must be online or away")
	}

	at := s.now().UTC()
	if err := s.profiles.TouchPresence(ctx, userID, st, at); err != nil {
		s.appCtx.Logger.Error("TouchPresence failed", "user", userID, "err", err)
		return nil, svcErr.Map(err)
	}
	// keep the key a little past the window so reads at the edge still hit
	if err := s.redis.SetLastActive(ctx, userID, at, 2*s.window); err != nil {
		s.appCtx.Logger.Warn("cache heartbeat failed", "user", userID, "err", err)
	}
	telemetry.Heartbeats.WithLabelValues("heartbeat").Inc()

	return &presencerpc.HeartbeatResponse{LastActiveMs: at.UnixMilli()}, nil
}

// Offline marks the caller as signed off. The signal is advisory: if it never
// arrives, the caller simply ages out of the online window.
func (s *Service) Offline(ctx context.Context, _ *presencerpc.OfflineRequest) (*presencerpc.OfflineResponse, error) {
	userID, err := auth.RequireUser(ctx)
	if err != nil {
		return nil, svcErr.Map(err)
	}

	if err := s.profiles.TouchPresence(ctx, userID, presencerpc.StatusOffline, s.now().UTC()); err != nil {
		return nil, svcErr.Map(err)
	}
	if err := s.redis.ClearLastActive(ctx, userID); err != nil {
		s.appCtx.Logger.Warn("clear cached heartbeat failed", "user", userID, "err", err)
	}
	telemetry.Heartbeats.WithLabelValues("offline").Inc()

	return &presencerpc.OfflineResponse{}, nil
}

// GetStatuses reports last activity and online state for up to 100 users.
// Unknown ids are reported offline with no last activity.
func (s *Service) GetStatuses(ctx context.Context, req *presencerpc.GetStatusesRequest) (*presencerpc.GetStatusesResponse, error) {
	if _, err := auth.RequireUser(ctx); err != nil {
		return nil, svcErr.Map(err)
	}
	if len(req.UserIDs) > maxStatusIDs {
		return nil, svcErr.InvalidArgument("too many user ids")
	}

	ids := make([]uint64, 0, len(req.UserIDs))
	for _, raw := range req.UserIDs {
		id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, svcErr.InvalidArgument("user_ids must be valid uint64 values")
		}
		ids = append(ids, id)
	}

	now := s.now()
	statuses := make(map[uint64]*presencerpc.UserStatus, len(ids))

	hits, misses, err := s.redis.GetLastActive(ctx, ids)
	if err != nil {
		s.appCtx.Logger.Warn("cached heartbeat read failed, using db", "err", err)
		hits, misses = nil, ids
	}
	for id, at := range hits {
		statuses[id] = s.status(id, presencerpc.StatusOnline, &at, now)
	}

	if len(misses) > 0 {
		rows, err := s.profiles.Presence(ctx, misses)
		if err != nil {
			return nil, svcErr.Map(err)
		}
		for _, id := range misses {
			row, ok := rows[id]
			if !ok {
				statuses[id] = &presencerpc.UserStatus{UserID: strconv.FormatUint(id, 10), Status: presencerpc.StatusOffline}
				continue
			}
			statuses[id] = s.status(id, row.PresenceStatus, row.LastActiveAt, now)
		}
	}

	resp := &presencerpc.GetStatusesResponse{}
	for _, id := range ids {
		resp.Statuses = append(resp.Statuses, statuses[id])
	}
	return resp, nil
}

func (s *Service) status(id uint64, stored string, lastActive *time.Time, now time.Time) *presencerpc.UserStatus {
	out := &presencerpc.UserStatus{UserID: strconv.FormatUint(id, 10), Status: presencerpc.StatusOffline}
	if lastActive == nil {
		return out
	}
	out.LastActiveMs = lastActive.UnixMilli()
	if stored != presencerpc.StatusOffline && now.Sub(*lastActive) <= s.window {
		out.Online = true
		out.Status = stored
	}
	return out
}
