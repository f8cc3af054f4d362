// Spotify Web API client for searching and verifying tracks.
package curate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/leeineian/bardcast/sys"
	"github.com/samber/lo"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const spotifyBaseURL = "https://api.spotify.com/v1/"

// Spotify authorizes with the client-credentials grant.
type Spotify struct {
	creds   *clientcredentials.Config
	baseURL string
	base    *http.Client

	mu     sync.RWMutex
	client *spotify.Client
}

type SpotifyOption func(*Spotify)

// WithSpotifyEndpoints points the client at another API and token URL.
// baseURL must end in a slash.
func WithSpotifyEndpoints(baseURL, tokenURL string) SpotifyOption {
	return func(s *Spotify) {
		s.baseURL = baseURL
		s.creds.TokenURL = tokenURL
	}
}

func WithHTTPClient(c *http.Client) SpotifyOption {
	return func(s *Spotify) { s.base = c }
}

func NewSpotify(clientID, clientSecret string, opts ...SpotifyOption) *Spotify {
	s := &Spotify{
		creds: &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     spotifyauth.TokenURL,
		},
		baseURL: spotifyBaseURL,
		base:    http.DefaultClient,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Authorize fetches a fresh token. Earlier tokens are discarded.
func (s *Spotify) Authorize(ctx context.Context) error {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.base)
	tok, err := s.creds.Token(ctx)
	if err != nil {
		return fmt.Errorf("%w: spotify token: %v", sys.ErrProvider, err)
	}

	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(tok))
	client := spotify.New(httpClient, spotify.WithBaseURL(s.baseURL))

	s.mu.Lock()
	s.client = client
	s.mu.Unlock()
	return nil
}

func (s *Spotify) api() (*spotify.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.client == nil {
		return nil, fmt.Errorf("%w: spotify client not authorized", sys.ErrNotInitialized)
	}
	return s.client, nil
}

// SearchTracks returns up to limit candidates for a free-text or field query.
func (s *Spotify) SearchTracks(ctx context.Context, query string, limit int) ([]sys.Track, error) {
	client, err := s.api()
	if err != nil {
		return nil, err
	}
	res, err := client.Search(ctx, query, spotify.SearchTypeTrack, spotify.Limit(limit))
	if err != nil {
		return nil, spotifyError("search "+query, err)
	}
	if res.Tracks == nil || len(res.Tracks.Tracks) == 0 {
		return []sys.Track{}, nil
	}
	return lo.Map(res.Tracks.Tracks, func(t spotify.FullTrack, _ int) sys.Track { return fromFullTrack(t) }), nil
}

// GetTrack fetches the canonical record for a track id.
func (s *Spotify) GetTrack(ctx context.Context, id string) (sys.Track, error) {
	client, err := s.api()
	if err != nil {
		return sys.Track{}, err
	}
	t, err := client.GetTrack(ctx, spotify.ID(id))
	if err != nil {
		return sys.Track{}, spotifyError("track "+id, err)
	}
	return fromFullTrack(*t), nil
}

func fromFullTrack(t spotify.FullTrack) sys.Track {
	pop := int(t.Popularity)
	return sys.Track{
		Name:       t.Name,
		Artists:    lo.Map(t.Artists, func(a spotify.SimpleArtist, _ int) string { return a.Name }),
		URI:        string(t.URI),
		Popularity: &pop,
	}
}

// spotifyError maps API status errors onto the sys sentinels. Anything that
// is neither an API error nor a transport failure is a body the client could
// not decode.
func spotifyError(what string, err error) error {
	var apiErr spotify.Error
	var urlErr *url.Error
	switch {
	case errors.As(err, &apiErr):
		if apiErr.Status == http.StatusNotFound {
			return fmt.Errorf("%w: spotify %s", sys.ErrNotFound, what)
		}
		return fmt.Errorf("%w: spotify %s: %v", sys.ErrProvider, what, apiErr)
	case errors.As(err, &urlErr), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: spotify %s: %v", sys.ErrProvider, what, err)
	default:
		return fmt.Errorf("%w: spotify %s: %v", sys.ErrParse, what, err)
	}
}
