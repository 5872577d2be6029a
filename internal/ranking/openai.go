package ranking

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/oggyb/studymatch/internal/config"
)

const systemPrompt = `You rank potential study partners for a university student.
Score each candidate from 60 to 99 for how well they would study together with the viewer,
considering shared interests, major, university, year and study style.
Answer with a JSON array only, one object per candidate, sorted by score descending:
[{"userId":"<id>","score":<int>,"reasoning":"<one short sentence>"}]`

// OpenAIRanker asks a chat completion model to score candidates.
type OpenAIRanker struct {
	client  openai.Client
	model   string
	timeout time.Duration
	limiter *rate.Limiter
	tracer  trace.Tracer
}

func NewOpenAIRanker(cfg config.RankingConfig) *OpenAIRanker {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// Rank falls back instead of retrying
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	limit := rate.Inf
	if cfg.RatePerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RatePerMinute))
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	return &OpenAIRanker{
		client:  openai.NewClient(opts...),
		model:   cfg.Model,
		timeout: timeout,
		limiter: rate.NewLimiter(limit, 1),
		tracer:  otel.Tracer("studymatch/ranking"),
	}
}

func (r *OpenAIRanker) Rank(ctx context.Context, viewer Profile, candidates []Profile) ([]Ranked, error) {
	ctx, span := r.tracer.Start(ctx, "ranking.openai", trace.WithAttributes(
		attribute.Int64("viewer.id", int64(viewer.UserID)),
		attribute.Int("candidates", len(candidates)),
	))
	defer span.End()

	out, err := r.rank(ctx, viewer, candidates)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}

func (r *OpenAIRanker) rank(ctx context.Context, viewer Profile, candidates []Profile) ([]Ranked, error) {
	// quota is checked without waiting: a slow ranking only delays the fallback
	if !r.limiter.Allow() {
		return nil, fmt.Errorf("ranking quota exhausted")
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	prompt, err := buildPrompt(viewer, candidates)
	if err != nil {
		return nil, err
	}

	resp, err := r.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: r.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(0.2),
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", ErrMalformed)
	}
	return ParseResponse(resp.Choices[0].Message.Content)
}

func buildPrompt(viewer Profile, candidates []Profile) (string, error) {
	type candidate struct {
		Profile
		UserID string `json:"userId"`
	}
	cs := make([]candidate, len(candidates))
	for i, c := range candidates {
		cs[i] = candidate{Profile: c, UserID: strconv.FormatUint(c.UserID, 10)}
	}
	body, err := json.Marshal(map[string]any{
		"viewer":     candidate{Profile: viewer, UserID: strconv.FormatUint(viewer.UserID, 10)},
		"candidates": cs,
	})
	if err != nil {
		return "", fmt.Errorf("encode prompt: %w", err)
	}
	return string(body), nil
}

// ParseResponse reads a model answer into Ranked entries. It accepts a bare
// JSON array, an array inside a markdown code fence, or an object holding the
// array under "rankings" or "matches". Entries with an unusable id are skipped.
func ParseResponse(content string) ([]Ranked, error) {
	body := extractJSON(content)
	if body == "" || !gjson.Valid(body) {
		return nil, fmt.Errorf("%w: not json", ErrMalformed)
	}

	list := gjson.Parse(body)
	if list.IsObject() {
		list = list.Get("rankings")
		if !list.Exists() {
			list = gjson.Parse(body).Get("matches")
		}
	}
	if !list.IsArray() {
		return nil, fmt.Errorf("%w: expected array", ErrMalformed)
	}

	var out []Ranked
	list.ForEach(func(_, item gjson.Result) bool {
		idField := item.Get("userId")
		if !idField.Exists() {
			idField = item.Get("id")
		}
		id, err := strconv.ParseUint(strings.TrimSpace(idField.String()), 10, 64)
		if err != nil || id == 0 {
			return true
		}
		out = append(out, Ranked{
			UserID:    id,
			Score:     int(math.Round(item.Get("score").Float())),
			Reasoning: item.Get("reasoning").String(),
		})
		return true
	})

	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no usable entries", ErrMalformed)
	}
	return out, nil
}

func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimPrefix(s, "json")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	return s
}
