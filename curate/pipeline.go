package curate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/leeineian/bardcast/sys"
	"github.com/samber/lo"
)

// Provider is the metadata source tracks are resolved and verified against.
type Provider interface {
	Authorize(ctx context.Context) error
	SearchTracks(ctx context.Context, query string, limit int) ([]sys.Track, error)
	GetTrack(ctx context.Context, id string) (sys.Track, error)
}

// Tagger supplies descriptive tags for a track.
type Tagger interface {
	TopTags(ctx context.Context, artist, track string) ([]string, error)
}

type Options struct {
	// CapMode is sys.CapEarlyBreak or sys.CapSliceAtEnd.
	CapMode             string
	PopularityThreshold int
	// MinPopularity drops verified tracks below it during curation. 0 keeps all.
	MinPopularity int
	SearchLimit   int
	TagBatchSize  int
	Tags          bool
}

// OptionsFromSettings maps the TOML curation section.
func OptionsFromSettings(s sys.CurationSettings) Options {
	return Options{
		CapMode:             s.CapMode,
		PopularityThreshold: s.PopularityThreshold,
		MinPopularity:       s.MinPopularity,
		SearchLimit:         s.SearchLimit,
		TagBatchSize:        s.TagBatchSize,
		Tags:                s.Tags,
	}
}

type Curator struct {
	provider Provider
	tagger   Tagger
	opts     Options
}

// NewCurator builds the pipeline. A nil tagger skips enrichment.
func NewCurator(p Provider, t Tagger, opts Options) *Curator {
	if opts.CapMode == "" {
		opts.CapMode = sys.CapEarlyBreak
	}
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = 5
	}
	if opts.TagBatchSize <= 0 {
		opts.TagBatchSize = 5
	}
	return &Curator{provider: p, tagger: t, opts: opts}
}

// Curate resolves, dedups, verifies, caps and tags the playlist's tracks.
// maxTracks <= 0 means no cap.
func (c *Curator) Curate(ctx context.Context, pl sys.Playlist, maxTracks int) (sys.Playlist, error) {
	if err := c.provider.Authorize(ctx); err != nil {
		return sys.Playlist{}, fmt.Errorf(sys.MsgCurateAuthorizeFail, err)
	}

	sys.LogCurate(sys.MsgCurateStart, pl.Name, len(pl.Tracks), maxTracks, c.opts.CapMode)

	earlyBreak := c.opts.CapMode == sys.CapEarlyBreak
	seen := make(map[string]struct{}, len(pl.Tracks))
	// resolved caches search results by Track.Key, "" for a miss.
	resolved := make(map[string]string)
	accepted := make([]sys.Track, 0, len(pl.Tracks))

	for _, t := range pl.Tracks {
		if earlyBreak && maxTracks > 0 && len(accepted) >= maxTracks {
			break
		}
		if err := ctx.Err(); err != nil {
			return sys.Playlist{}, err
		}

		if !t.HasCanonicalURI() {
			key := t.Key()
			uri, known := resolved[key]
			if !known {
				if hit, ok := c.resolve(ctx, t); ok {
					uri = hit.URI
				}
				resolved[key] = uri
			}
			if uri == "" {
				sys.LogCurate(sys.MsgCurateUnresolved, t.Query())
				continue
			}
			t.URI = uri
			sys.LogCurate(sys.MsgCurateResolved, t.Query(), t.URI)
		}

		if _, dup := seen[t.URI]; dup {
			sys.LogCurate(sys.MsgCurateDuplicate, t.URI)
			continue
		}
		seen[t.URI] = struct{}{}

		record, err := c.provider.GetTrack(ctx, t.TrackID())
		if err != nil {
			sys.LogCurate(sys.MsgCurateUnavailable, t.URI, err)
			continue
		}
		verified := mergeVerified(t, record)

		if c.opts.MinPopularity > 0 && verified.PopularityOrZero() < c.opts.MinPopularity {
			sys.LogCurate(sys.MsgCurateBelowPop, verified.URI, verified.PopularityOrZero(), c.opts.MinPopularity)
			continue
		}

		accepted = append(accepted, verified)
	}

	if maxTracks > 0 && len(accepted) > maxTracks {
		accepted = accepted[:maxTracks]
	}

	if c.opts.Tags && c.tagger != nil {
		c.enrich(ctx, accepted)
	}

	out := sys.Playlist{Name: pl.Name, Tags: pl.Tags, Tracks: accepted}
	out = out.Normalized()
	sys.LogCurate(sys.MsgCurateDone, out.Name, len(out.Tracks))
	return out, nil
}

// resolve runs one structured search and takes the top hit.
func (c *Curator) resolve(ctx context.Context, t sys.Track) (sys.Track, bool) {
	query := StructuredQuery(t)
	hits, err := c.provider.SearchTracks(ctx, query, 1)
	if err != nil {
		sys.LogCurate(sys.MsgCurateSearchFail, query, err)
		return sys.Track{}, false
	}
	if len(hits) == 0 || !hits[0].HasCanonicalURI() {
		return sys.Track{}, false
	}
	return hits[0], true
}

// StructuredQuery builds a field-filtered provider search for a track.
func StructuredQuery(t sys.Track) string {
	q := "track:" + t.Name
	if len(t.Artists) > 0 {
		q += " artist:" + strings.Join(t.Artists, " ")
	}
	return q
}

// mergeVerified keeps the canonical URI and fills blanks from the provider record.
func mergeVerified(t, record sys.Track) sys.Track {
	if record.Name != "" {
		t.Name = record.Name
	}
	if len(record.Artists) > 0 {
		t.Artists = record.Artists
	}
	if record.Popularity != nil {
		t.Popularity = record.Popularity
	}
	return t
}

// enrich fetches tags in fixed-size batches. Each batch runs concurrently and
// finishes before the next starts. Tracks without tags get an empty list.
func (c *Curator) enrich(ctx context.Context, tracks []sys.Track) {
	tags := make(map[string][]string, len(tracks))
	var mu sync.Mutex

	for _, batch := range lo.Chunk(tracks, c.opts.TagBatchSize) {
		var wg sync.WaitGroup
		for _, t := range batch {
			wg.Add(1)
			go func(t sys.Track) {
				defer wg.Done()
				got := c.fetchTags(ctx, t)
				mu.Lock()
				tags[t.URI] = got
				mu.Unlock()
			}(t)
		}
		wg.Wait()
	}

	for i := range tracks {
		if got, ok := tags[tracks[i].URI]; ok && got != nil {
			tracks[i].Tags = got
		} else {
			tracks[i].Tags = []string{}
		}
	}
}

func (c *Curator) fetchTags(ctx context.Context, t sys.Track) []string {
	if len(t.Artists) == 0 {
		return []string{}
	}
	got, err := c.tagger.TopTags(ctx, t.Artists[0], t.Name)
	if err != nil {
		sys.LogCurate(sys.MsgCurateTagFail, t.URI, err)
		return []string{}
	}
	return got
}

// SearchTracks fetches up to limit candidates and keeps those with
// popularity >= threshold. A missing score counts as 0. limit <= 0 and a
// negative threshold fall back to the configured values.
func (c *Curator) SearchTracks(ctx context.Context, query string, limit, threshold int) ([]sys.Track, error) {
	if limit <= 0 {
		limit = c.opts.SearchLimit
	}
	if threshold < 0 {
		threshold = c.opts.PopularityThreshold
	}
	hits, err := c.provider.SearchTracks(ctx, query, limit)
	if err != nil {
		if errors.Is(err, sys.ErrNotFound) {
			return []sys.Track{}, nil
		}
		return nil, err
	}
	return FilterByPopularity(hits, threshold), nil
}

// FilterByPopularity keeps tracks scoring at least threshold.
func FilterByPopularity(tracks []sys.Track, threshold int) []sys.Track {
	return lo.Filter(tracks, func(t sys.Track, _ int) bool {
		return t.PopularityOrZero() >= threshold
	})
}
