package ranking_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oggyb/studymatch/internal/config"
	"github.com/oggyb/studymatch/internal/logger"
	"github.com/oggyb/studymatch/internal/ranking"
)

type rankerFunc func(ctx context.Context, viewer ranking.Profile, cs []ranking.Profile) ([]ranking.Ranked, error)

func (f rankerFunc) Rank(ctx context.Context, viewer ranking.Profile, cs []ranking.Profile) ([]ranking.Ranked, error) {
	return f(ctx, viewer, cs)
}

func profiles(ids ...uint64) []ranking.Profile {
	out := make([]ranking.Profile, len(ids))
	for i, id := range ids {
		out[i] = ranking.Profile{UserID: id}
	}
	return out
}

func ids(rs []ranking.Ranked) []uint64 {
	out := make([]uint64, len(rs))
	for i, r := range rs {
		out[i] = r.UserID
	}
	return out
}

func TestRank_ErrorUsesFallbackOrder(t *testing.T) {
	failing := rankerFunc(func(context.Context, ranking.Profile, []ranking.Profile) ([]ranking.Ranked, error) {
		return nil, errors.New("quota exceeded")
	})
	cands := profiles(9, 4, 7, 1, 30)

	got, outcome := ranking.Rank(context.Background(), failing, logger.Discard(), ranking.Profile{UserID: 2}, cands)

	assert.Equal(t, ranking.OutcomeFallback, outcome)
	assert.Equal(t, []uint64{9, 4, 7, 1, 30}, ids(got))
	for _, r := range got {
		assert.GreaterOrEqual(t, r.Score, ranking.MinScore)
		assert.LessOrEqual(t, r.Score, ranking.MaxScore)
	}
	assert.Equal(t, 79, got[0].Score)
	assert.Equal(t, 75, got[4].Score)
}

func TestFallback_ClampsLongLists(t *testing.T) {
	cands := make([]ranking.Profile, 90)
	for i := range cands {
		cands[i].UserID = uint64(i + 1)
	}
	got := ranking.Fallback(cands)
	require.Len(t, got, 90)
	assert.Equal(t, ranking.MaxScore, got[0].Score)
	assert.Equal(t, 75, got[89].Score)
	for i := 1; i < len(got); i++ {
		assert.LessOrEqual(t, got[i].Score, got[i-1].Score)
	}
}

func TestRank_MalformedUsesFallback(t *testing.T) {
	junk := rankerFunc(func(context.Context, ranking.Profile, []ranking.Profile) ([]ranking.Ranked, error) {
		return []ranking.Ranked{{UserID: 999, Score: 90}}, nil
	})
	got, outcome := ranking.Rank(context.Background(), junk, logger.Discard(), ranking.Profile{}, profiles(1, 2))
	assert.Equal(t, ranking.OutcomeFallback, outcome)
	assert.Equal(t, []uint64{1, 2}, ids(got))
}

func TestNormalize(t *testing.T) {
	raw := []ranking.Ranked{
		{UserID: 2, Score: 40, Reasoning: "low"},
		{UserID: 3, Score: 120, Reasoning: "high"},
		{UserID: 3, Score: 70, Reasoning: "dup"},
		{UserID: 77, Score: 90, Reasoning: "unknown"},
	}
	got, partial, err := ranking.Normalize(raw, profiles(1, 2, 3, 4))
	require.NoError(t, err)
	assert.True(t, partial)
	assert.Equal(t, []uint64{3, 2, 1, 4}, ids(got))
	assert.Equal(t, 99, got[0].Score)
	assert.Equal(t, "high", got[0].Reasoning)
	assert.Equal(t, 60, got[1].Score)
	assert.Equal(t, 60, got[2].Score)
	assert.Contains(t, got[3].Reasoning, "Not ranked")

	_, _, err = ranking.Normalize(nil, profiles(1))
	assert.ErrorIs(t, err, ranking.ErrMalformed)
}

func TestParseResponse(t *testing.T) {
	fenced := "```json\n[{\"userId\":\"5\",\"score\":88.6,\"reasoning\":\"both like chess\"},{\"userId\":\"x\",\"score\":70}]\n```"
	got, err := ranking.ParseResponse(fenced)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ranking.Ranked{UserID: 5, Score: 89, Reasoning: "both like chess"}, got[0])

	wrapped := `{"rankings":[{"id":6,"score":61,"reasoning":"ok"}]}`
	got, err = ranking.ParseResponse(wrapped)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), got[0].UserID)

	for _, bad := range []string{"", "sorry, I can't help", `{"foo":1}`, `[{"userId":"nope"}]`} {
		_, err := ranking.ParseResponse(bad)
		assert.ErrorIs(t, err, ranking.ErrMalformed, bad)
	}
}

// completionServer answers chat completions with content.
func completionServer(t *testing.T, content string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"), r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"candidates"`)

		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"requests"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1700000000,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIRanker_PartialResponse(t *testing.T) {
	srv := completionServer(t, `[{"userId":"3","score":91,"reasoning":"same major"},{"userId":"1","score":64,"reasoning":"meh"}]`, http.StatusOK)
	r := ranking.NewOpenAIRanker(config.RankingConfig{APIKey: "test", BaseURL: srv.URL, Model: "gpt-4o-mini"})

	got, outcome := ranking.Rank(context.Background(), r, logger.Discard(), ranking.Profile{UserID: 10}, profiles(1, 2, 3))

	assert.Equal(t, ranking.OutcomePartial, outcome)
	assert.Equal(t, []uint64{3, 1, 2}, ids(got))
	assert.Equal(t, ranking.MinScore, got[2].Score)
}

func TestOpenAIRanker_ServerErrorFallsBack(t *testing.T) {
	srv := completionServer(t, "", http.StatusTooManyRequests)
	r := ranking.NewOpenAIRanker(config.RankingConfig{APIKey: "test", BaseURL: srv.URL, Model: "gpt-4o-mini"})

	_, err := r.Rank(context.Background(), ranking.Profile{UserID: 10}, profiles(1, 2))
	assert.Error(t, err)

	got, outcome := ranking.Rank(context.Background(), r, logger.Discard(), ranking.Profile{UserID: 10}, profiles(1, 2))
	assert.Equal(t, ranking.OutcomeFallback, outcome)
	assert.Equal(t, []uint64{1, 2}, ids(got))
}

func TestHeuristicRanker(t *testing.T) {
	viewer := ranking.Profile{UserID: 1, Major: "Biology", University: "Lakeside", Interests: []string{"chess", "jazz"}, Year: 2}
	cands := []ranking.Profile{
		{UserID: 2, Major: "History"},
		{UserID: 3, Major: "Biology", University: "Lakeside", Interests: []string{"Chess"}, Year: 3},
		{UserID: 4, Interests: []string{"jazz"}},
	}
	got, err := ranking.HeuristicRanker{}.Rank(context.Background(), viewer, cands)
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 4, 2}, ids(got))
	assert.Equal(t, 90, got[0].Score)
	assert.Contains(t, got[0].Reasoning, "same major")
	assert.Equal(t, ranking.MinScore, got[2].Score)
}
