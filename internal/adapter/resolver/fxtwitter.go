package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"fxbot/internal/domain"
)

const maxResponseBody = 4 * 1024 * 1024

// Default circuit breaker settings.
const (
	defaultMaxFailures uint32        = 5
	defaultTimeout     time.Duration = 30 * time.Second
	defaultInterval    time.Duration = 60 * time.Second
)

// Config holds the dependencies and behavior knobs for a Resolver.
type Config struct {
	// APIHost is the embed API host substituted into candidate links,
	// e.g. "api.fxtwitter.com".
	APIHost string
	// HTTPClient is the shared process-wide client. If nil,
	// http.DefaultClient is used.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default().
	Logger *slog.Logger
	// UserAgent is sent on every request when non-empty.
	UserAgent string

	// RequestsPerMin and BurstSize bound the request rate against the
	// embed API. Zero values disable the limiter.
	RequestsPerMin int
	BurstSize      int

	// Breaker settings; zero values get defaults.
	BreakerMaxFailures uint32
	BreakerTimeout     time.Duration
	BreakerInterval    time.Duration
}

// Resolver resolves candidate links through the fxtwitter embed API.
// Repeated upstream failures open a circuit breaker so a dead API fails
// fast instead of stalling every message for the full timeout budget.
type Resolver struct {
	apiHost    string
	userAgent  string
	httpClient *http.Client
	logger     *slog.Logger
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[*domain.ResolvedPost]
}

// New creates a Resolver.
func New(cfg Config) (*Resolver, error) {
	if cfg.APIHost == "" {
		return nil, fmt.Errorf("resolver: APIHost is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerMin > 0 {
		burst := cfg.BurstSize
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerMin)/60.0, burst)
	}

	maxFailures := cfg.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = defaultMaxFailures
	}
	timeout := cfg.BreakerTimeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	interval := cfg.BreakerInterval
	if interval == 0 {
		interval = defaultInterval
	}

	r := &Resolver{
		apiHost:    cfg.APIHost,
		userAgent:  cfg.UserAgent,
		httpClient: httpClient,
		logger:     logger,
		limiter:    limiter,
	}
	r.breaker = gobreaker.NewCircuitBreaker[*domain.ResolvedPost](gobreaker.Settings{
		Name:        "resolver:" + cfg.APIHost,
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			// "Nothing to embed" is a valid API answer, not an outage.
			return err == nil || errors.Is(err, domain.ErrNoContent)
		},
	})
	return r, nil
}

// Resolve rewrites the link's host to the API host, fetches it, and
// returns the normalized post.
func (r *Resolver) Resolve(ctx context.Context, link string) (*domain.ResolvedPost, error) {
	u, err := url.Parse(link)
	if err != nil {
		return nil, fmt.Errorf("parse link: %w", err)
	}
	u.Host = r.apiHost

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	return r.breaker.Execute(func() (*domain.ResolvedPost, error) {
		return r.fetch(ctx, u.String())
	})
}

func (r *Resolver) fetch(ctx context.Context, apiURL string) (*domain.ResolvedPost, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s returned %d: %w", apiURL, resp.StatusCode, domain.ErrBadStatus)
	}

	var decoded fxResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("%s: %v: %w", apiURL, err, domain.ErrMalformedPayload)
	}
	if decoded.Tweet == nil {
		return nil, fmt.Errorf("%s (code %d, %q): %w", apiURL, decoded.Code, decoded.Message, domain.ErrNoContent)
	}

	return toDomain(decoded.Tweet), nil
}

func toDomain(t *fxTweet) *domain.ResolvedPost {
	post := &domain.ResolvedPost{
		ID: t.ID,
		Author: domain.Author{
			Name:       t.Author.Name,
			ScreenName: t.Author.ScreenName,
			ID:         t.Author.ID,
			AvatarURL:  t.Author.AvatarURL,
		},
		Text:        t.Text,
		Replies:     t.Replies,
		Reposts:     t.Retweets,
		Likes:       t.Likes,
		Views:       t.Views,
		CreatedAt:   t.CreatedAt,
		CreatedUnix: t.CreatedTimestamp,
	}
	if t.Media == nil {
		return post
	}

	media := &domain.MediaSet{}
	for _, v := range t.Media.Videos {
		media.Videos = append(media.Videos, domain.Video{
			URL:          v.URL,
			ThumbnailURL: v.ThumbnailURL,
			Kind:         v.Type,
			Format:       v.Format,
			Width:        v.Width,
			Height:       v.Height,
			Duration:     v.Duration,
		})
	}
	for _, p := range t.Media.Photos {
		media.Photos = append(media.Photos, domain.Photo{
			URL:    p.URL,
			Width:  p.Width,
			Height: p.Height,
		})
	}
	if t.Media.Mosaic != nil {
		media.Mosaic = &domain.Mosaic{
			JPEGURL: t.Media.Mosaic.Formats.JPEG,
			WebPURL: t.Media.Mosaic.Formats.WebP,
		}
	}
	post.Media = media
	return post
}

// --- fxtwitter API wire types ---

type fxResponse struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Tweet   *fxTweet `json:"tweet"`
}

type fxTweet struct {
	ID               string   `json:"id"`
	Author           fxAuthor `json:"author"`
	Text             string   `json:"text"`
	CreatedAt        string   `json:"created_at"`
	CreatedTimestamp int64    `json:"created_timestamp"`
	Likes            int64    `json:"likes"`
	Retweets         int64    `json:"retweets"`
	Replies          int64    `json:"replies"`
	Views            int64    `json:"views"`
	Media            *fxMedia `json:"media"`
}

type fxAuthor struct {
	Name       string `json:"name"`
	ScreenName string `json:"screen_name"`
	ID         string `json:"id"`
	AvatarURL  string `json:"avatar_url"`
}

type fxMedia struct {
	Videos []fxVideo `json:"videos"`
	Photos []fxPhoto `json:"photos"`
	Mosaic *fxMosaic `json:"mosaic"`
}

type fxVideo struct {
	URL          string  `json:"url"`
	ThumbnailURL string  `json:"thumbnail_url"`
	Type         string  `json:"type"`
	Format       string  `json:"format"`
	Width        int64   `json:"width"`
	Height       int64   `json:"height"`
	Duration     float64 `json:"duration"`
}

type fxPhoto struct {
	URL    string `json:"url"`
	Width  int64  `json:"width"`
	Height int64  `json:"height"`
}

type fxMosaic struct {
	Type    string          `json:"type"`
	Formats fxMosaicFormats `json:"formats"`
}

type fxMosaicFormats struct {
	JPEG string `json:"jpeg"`
	WebP string `json:"webp"`
}
