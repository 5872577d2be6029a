package match

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/oggyb/studymatch/internal/app"
	"github.com/oggyb/studymatch/internal/auth"
	svcErr "github.com/oggyb/studymatch/internal/errors"
	"github.com/oggyb/studymatch/internal/logger"
	"github.com/oggyb/studymatch/internal/matchcache"
	"github.com/oggyb/studymatch/internal/ranking"
	"github.com/oggyb/studymatch/internal/repository"
	"github.com/oggyb/studymatch/internal/rpc/matchrpc"
	"github.com/oggyb/studymatch/internal/telemetry"
	"github.com/oggyb/studymatch/internal/utils/pagination"
)

const (
	defaultLimit    = 10
	defaultPageSize = 20
	maxPageSize     = 100
)

// Service implements the Match gRPC API.
// It serves ranked candidates out of the per-viewer match cache and applies
// swipe actions through the match repository.
type Service struct {
	appCtx   *app.AppContext
	profiles *repository.ProfileRepository
	matches  *repository.MatchRepository
	notes    *repository.NotificationRepository
	cache    *matchcache.Cache
	ranker   ranking.Ranker
	tracer   trace.Tracer

	candidatePool int
	refillTimeout time.Duration
	refills       sync.WaitGroup

	matchrpc.UnimplementedMatchServiceServer
}

// NewMatchService creates a new Match service with dependencies from AppContext.
// Dependencies include:
//   - DB connection (via ProfileRepository and MatchRepository)
//   - the shared match cache and ranker from AppContext
func NewMatchService(appCtx *app.AppContext) *Service {
	s := &Service{
		appCtx:        appCtx,
		profiles:      repository.NewProfileRepository(appCtx.DB),
		matches:       repository.NewMatchRepository(appCtx.DB),
		notes:         repository.NewNotificationRepository(appCtx.DB),
		cache:         appCtx.MatchCache,
		ranker:        appCtx.Ranker,
		tracer:        otel.Tracer("studymatch/match"),
		candidatePool: 90,
		refillTimeout: 45 * time.Second,
	}
	if cfg := appCtx.Config; cfg != nil {
		if cfg.Matching.CandidatePool > 0 {
			s.candidatePool = cfg.Matching.CandidatePool
		}
		if cfg.Matching.RefillTimeout > 0 {
			s.refillTimeout = cfg.Matching.RefillTimeout
		}
	}
	return s
}

// Wait blocks until background refills have finished.
func (s *Service) Wait() {
	s.refills.Wait()
}

// GetMatches returns up to limit unconsumed candidates for the caller.
//
// Behavior:
//   - Cache hit: serves the cached queue without advancing it. When the queue
//     is at the low water mark a single background refill is started.
//   - Cache miss or empty queue: queries a candidate pool, ranks it and caches
//     the top batch before answering.
//   - Ranking failures never fail the request; Ranking reports "fallback".
//
// Example:
//
//	svc.GetMatches(ctx, &matchrpc.GetMatchesRequest{Limit: 10})
func (s *Service) GetMatches(ctx context.Context, req *matchrpc.GetMatchesRequest) (*matchrpc.GetMatchesResponse, error) {
	viewerID, err := auth.RequireUser(ctx)
	if err != nil {
		return nil, svcErr.Map(err)
	}
	limit := int(req.Limit)
	if limit <= 0 {
		limit = defaultLimit
	}

	s.appCtx.Logger.Debug("GetMatches called", "viewer", viewerID, "limit", limit)

	source := "cache"
	cached := s.cache.Get(viewerID)
	if len(cached) == 0 {
		outcome, err := s.populate(ctx, viewerID)
		if err != nil {
			s.appCtx.Logger.Error("populate match cache failed", "viewer", viewerID, "err", err)
			return nil, svcErr.Map(err)
		}
		source = string(outcome)
		cached = s.cache.Get(viewerID)
	} else if s.cache.MarkPrefetch(viewerID) {
		s.startRefill(viewerID)
	}

	resp := &matchrpc.GetMatchesResponse{
		Remaining: int32(len(cached)),
		Ranking:   source,
	}
	for i, m := range cached {
		if i == limit {
			break
		}
		resp.Matches = append(resp.Matches, toCandidate(m))
	}

	s.appCtx.Logger.Debug("GetMatches result", "viewer", viewerID, "served", len(resp.Matches), "remaining", resp.Remaining, "ranking", source)
	return resp, nil
}

// populate ranks a fresh candidate pool and appends the top batch to the
// viewer's cache. Candidates already consumed or still queued are excluded.
func (s *Service) populate(ctx context.Context, viewerID uint64) (ranking.Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "match.populate", trace.WithAttributes(attribute.Int64("viewer.id", int64(viewerID))))
	defer span.End()

	viewer, err := s.profiles.GetByID(ctx, viewerID)
	if err != nil {
		return "", err
	}

	exclude := append(s.cache.ProcessedUserIDs(viewerID), s.cache.CachedUserIDs(viewerID)...)
	users, err := s.profiles.ListCandidates(ctx, viewerID, exclude, s.candidatePool)
	if err != nil {
		return "", err
	}

	candidates := make([]ranking.Profile, len(users))
	byID := make(map[uint64]*ranking.Profile, len(users))
	for i, u := range users {
		candidates[i] = toProfile(u)
		byID[u.ID] = &candidates[i]
	}

	ranked, outcome := ranking.Rank(ctx, s.ranker, s.appCtx.Logger, toProfile(viewer), candidates)

	// another populate may have queued some of these while ranking ran
	queued := make(map[uint64]bool)
	for _, id := range s.cache.CachedUserIDs(viewerID) {
		queued[id] = true
	}
	for _, id := range s.cache.ProcessedUserIDs(viewerID) {
		queued[id] = true
	}

	batch := make([]matchcache.CachedMatch, 0, s.cache.BatchSize())
	for _, r := range ranked {
		if len(batch) == s.cache.BatchSize() {
			break
		}
		if queued[r.UserID] {
			continue
		}
		batch = append(batch, matchcache.CachedMatch{
			UserID:    r.UserID,
			Score:     r.Score,
			Reasoning: r.Reasoning,
			Profile:   byID[r.UserID],
		})
	}
	// append on a missing entry creates it; on an existing one it keeps the
	// consumed prefix and re-arms the prefetch flag
	s.cache.Set(viewerID, batch, true)

	span.SetAttributes(attribute.Int("pool", len(users)), attribute.Int("cached", len(batch)), attribute.String("ranking", string(outcome)))
	return outcome, nil
}

// startRefill appends one more ranked batch in the background. A failed
// refill re-arms the prefetch flag so the next pop can try again.
func (s *Service) startRefill(viewerID uint64) {
	telemetry.PrefetchTriggered.Inc()
	s.refills.Add(1)
	go func() {
		defer s.refills.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.refillTimeout)
		defer cancel()

		outcome, err := s.populate(ctx, viewerID)
		if err != nil {
			s.appCtx.Logger.Warn("background refill failed", "viewer", viewerID, "err", err)
			s.cache.ResetPrefetch(viewerID)
			return
		}
		s.appCtx.Logger.Debug("background refill done", "viewer", viewerID, "ranking", outcome, "remaining", s.cache.RemainingCount(viewerID))
	}()
}

// apply runs one swipe action and advances the viewer's cache past target.
// The candidate is also consumed when the action is rejected for a state
// conflict, since showing it again cannot succeed.
func (s *Service) apply(ctx context.Context, viewerID, targetID uint64, action repository.Action) (repository.ActionResult, error) {
	res, err := s.matches.ApplyAction(ctx, viewerID, targetID, action)

	label := "applied"
	switch {
	case err != nil && svcErr.IsSemantic(err):
		label = "rejected"
	case err != nil:
		label = "failed"
	case res.Accepted:
		label = "accepted"
	}
	telemetry.ActionResults.WithLabelValues(string(action), label).Inc()

	if err == nil || svcErr.IsSemantic(err) {
		if _, prefetch := s.cache.PopFor(viewerID, targetID); prefetch {
			s.startRefill(viewerID)
		}
	}
	return res, err
}

// PutAction applies a single LIKE or PASS. State conflicts are returned to
// the caller as gRPC status errors so they can be shown to the user.
//
// Example:
//
//	svc.PutAction(ctx, &matchrpc.PutActionRequest{TargetUserID: "2", Action: "LIKE"})
func (s *Service) PutAction(ctx context.Context, req *matchrpc.PutActionRequest) (*matchrpc.PutActionResponse, error) {
	viewerID, err := auth.RequireUser(ctx)
	if err != nil {
		return nil, svcErr.Map(err)
	}
	targetID, err := parseUserID("target_user_id", req.TargetUserID)
	if err != nil {
		return nil, err
	}
	action, err := parseAction(req.Action)
	if err != nil {
		return nil, svcErr.Map(err)
	}

	s.appCtx.Logger.Debug("PutAction called", "viewer", viewerID, "target", targetID, "action", action)

	res, err := s.apply(ctx, viewerID, targetID, action)
	if err != nil {
		return nil, svcErr.Map(err)
	}
	return &matchrpc.PutActionResponse{
		Status:  string(res.Match.Status),
		Matched: res.Accepted,
	}, nil
}

// BatchActions applies each action independently and reports a result per
// item. Transient failures are marked retryable; state conflicts are not.
//
// Example:
//
//	svc.BatchActions(ctx, &matchrpc.BatchActionsRequest{Actions: []*matchrpc.ActionItem{{TargetUserID: "2", Action: "LIKE"}}})
func (s *Service) BatchActions(ctx context.Context, req *matchrpc.BatchActionsRequest) (*matchrpc.BatchActionsResponse, error) {
	viewerID, err := auth.RequireUser(ctx)
	if err != nil {
		return nil, svcErr.Map(err)
	}
	batchID := req.BatchID
	if batchID == "" {
		batchID = uuid.NewString()
	}
	telemetry.ActionBatchSize.Observe(float64(len(req.Actions)))
	log := logger.FromContext(ctx, s.appCtx.Logger)

	resp := &matchrpc.BatchActionsResponse{BatchID: batchID}
	failed := 0
	for _, item := range req.Actions {
		if item == nil {
			continue
		}
		r := s.batchItem(ctx, log, viewerID, item)
		if !r.Success {
			failed++
		}
		resp.Results = append(resp.Results, r)
	}

	log.Info("BatchActions applied", "viewer", viewerID, "batch", batchID, "actions", len(resp.Results), "failed", failed)
	return resp, nil
}

func (s *Service) batchItem(ctx context.Context, log *slog.Logger, viewerID uint64, item *matchrpc.ActionItem) *matchrpc.ActionResult {
	out := &matchrpc.ActionResult{TargetUserID: item.TargetUserID}

	targetID, err := strconv.ParseUint(item.TargetUserID, 10, 64)
	if err != nil || targetID == 0 {
		out.Error = "target_user_id must be a valid uint64"
		return out
	}
	action, err := parseAction(item.Action)
	if err != nil {
		out.Error = err.Error()
		return out
	}

	res, err := s.apply(ctx, viewerID, targetID, action)
	if err != nil {
		out.Error = err.Error()
		out.Retryable = !svcErr.IsSemantic(err)
		if out.Retryable {
			log.Warn("batched action failed", "viewer", viewerID, "target", targetID, "err", err)
		}
		return out
	}
	out.Success = true
	out.Status = string(res.Match.Status)
	out.Matched = res.Accepted
	return out
}

// ListMatches returns the caller's accepted matches, newest first.
//
// Behavior:
//   - Cursor-based pagination with paginationToken.
//   - Page size defaults to 20, capped at 100.
func (s *Service) ListMatches(ctx context.Context, req *matchrpc.ListMatchesRequest) (*matchrpc.ListMatchesResponse, error) {
	viewerID, err := auth.RequireUser(ctx)
	if err != nil {
		return nil, svcErr.Map(err)
	}
	size := int(req.PageSize)
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}

	rows, next, err := s.matches.ListAccepted(ctx, viewerID, req.PaginationToken, size)
	if err != nil {
		logger.FromContext(ctx, s.appCtx.Logger).Error("ListAccepted failed", "err", err)
		if errors.Is(err, pagination.ErrInvalidToken) {
			return nil, svcErr.InvalidArgument("invalid pagination token")
		}
		return nil, svcErr.Map(err)
	}

	ids := make([]uint64, len(rows))
	for i, m := range rows {
		ids[i] = m.Other(viewerID)
	}
	users, err := s.profiles.ListByIDs(ctx, ids)
	if err != nil {
		return nil, svcErr.Map(err)
	}
	names := make(map[uint64]string, len(users))
	for _, u := range users {
		names[u.ID] = u.Name
	}

	resp := &matchrpc.ListMatchesResponse{NextPaginationToken: next}
	for i, m := range rows {
		resp.Matches = append(resp.Matches, &matchrpc.AcceptedMatch{
			UserID:      strconv.FormatUint(ids[i], 10),
			Name:        names[ids[i]],
			MatchedAtMs: m.UpdatedAt.UnixMilli(),
		})
	}
	return resp, nil
}

// ResetMatches drops the caller's cached queue; the next GetMatches re-ranks.
func (s *Service) ResetMatches(ctx context.Context, _ *matchrpc.ResetMatchesRequest) (*matchrpc.ResetMatchesResponse, error) {
	viewerID, err := auth.RequireUser(ctx)
	if err != nil {
		return nil, svcErr.Map(err)
	}
	s.cache.Clear(viewerID)
	logger.FromContext(ctx, s.appCtx.Logger).Info("match cache reset", "viewer", viewerID)
	return &matchrpc.ResetMatchesResponse{}, nil
}

// ListNotifications returns the caller's unread notifications, newest first,
// optionally marking them read.
func (s *Service) ListNotifications(ctx context.Context, req *matchrpc.ListNotificationsRequest) (*matchrpc.ListNotificationsResponse, error) {
	viewerID, err := auth.RequireUser(ctx)
	if err != nil {
		return nil, svcErr.Map(err)
	}
	limit := int(req.Limit)
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}

	rows, err := s.notes.ListUnread(ctx, viewerID, limit)
	if err != nil {
		return nil, svcErr.Map(err)
	}

	resp := &matchrpc.ListNotificationsResponse{}
	ids := make([]string, 0, len(rows))
	for _, n := range rows {
		ids = append(ids, n.ID)
		resp.Notifications = append(resp.Notifications, &matchrpc.Notification{
			ID:          n.ID,
			Kind:        n.Kind,
			ActorUserID: strconv.FormatUint(n.ActorID, 10),
			Message:     n.Message,
			CreatedAtMs: n.CreatedAt.UnixMilli(),
		})
	}

	if req.MarkSeen {
		if err := s.notes.MarkSeen(ctx, viewerID, ids); err != nil {
			return nil, svcErr.Map(err)
		}
	}
	return resp, nil
}
