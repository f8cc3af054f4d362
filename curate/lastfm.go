package curate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/leeineian/bardcast/sys"
	"github.com/samber/lo"
	"golang.org/x/time/rate"
)

const lastfmBaseURL = "https://ws.audioscrobbler.com/2.0/"

type lastfmTag struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type lastfmTopTags struct {
	TopTags *struct {
		Tag []lastfmTag `json:"tag"`
	} `json:"toptags"`
	Error   int    `json:"error"`
	Message string `json:"message"`
}

// LastFM fetches descriptive tags for tracks.
type LastFM struct {
	apiKey  string
	baseURL string
	limit   int
	http    *http.Client
	limiter *rate.Limiter
}

type LastFMOption func(*LastFM)

func WithLastFMBaseURL(u string) LastFMOption {
	return func(l *LastFM) { l.baseURL = u }
}

// WithTagLimit caps how many tags are kept per track.
func WithTagLimit(n int) LastFMOption {
	return func(l *LastFM) {
		if n > 0 {
			l.limit = n
		}
	}
}

// WithRateLimit bounds requests per second. Zero disables limiting.
func WithRateLimit(rps float64) LastFMOption {
	return func(l *LastFM) {
		if rps <= 0 {
			l.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		l.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

func NewLastFM(apiKey string, opts ...LastFMOption) *LastFM {
	l := &LastFM{
		apiKey:  apiKey,
		baseURL: lastfmBaseURL,
		limit:   5,
		http:    http.DefaultClient,
		limiter: rate.NewLimiter(rate.Limit(5), 1),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// TopTags returns the highest ranked tag names for a track.
func (l *LastFM) TopTags(ctx context.Context, artist, track string) ([]string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("method", "track.getTopTags")
	q.Set("artist", artist)
	q.Set("track", track)
	q.Set("api_key", l.apiKey)
	q.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := l.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: lastfm: %v", sys.ErrProvider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: lastfm status %d", sys.ErrProvider, resp.StatusCode)
	}

	var body lastfmTopTags
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: lastfm response: %v", sys.ErrParse, err)
	}
	if body.Error != 0 {
		return nil, fmt.Errorf("%w: lastfm error %d: %s", sys.ErrProvider, body.Error, body.Message)
	}
	if body.TopTags == nil {
		return []string{}, nil
	}

	names := lo.FilterMap(body.TopTags.Tag, func(t lastfmTag, _ int) (string, bool) {
		return t.Name, t.Name != ""
	})
	if len(names) > l.limit {
		names = names[:l.limit]
	}
	return names, nil
}

// HealthCheck queries a track that is always tagged.
func (l *LastFM) HealthCheck(ctx context.Context) error {
	tags, err := l.TopTags(ctx, "Michael Jackson", "Thriller")
	if err != nil {
		return err
	}
	if len(tags) == 0 {
		return fmt.Errorf("%w: lastfm returned no tags for health probe", sys.ErrProvider)
	}
	return nil
}
