package curate

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"github.com/leeineian/bardcast/sys"
)

func uri(n int) string { return fmt.Sprintf("spotify:track:%022d", n) }

func pop(i int) *int { return &i }

type mockProvider struct {
	mu          sync.Mutex
	authorized  int
	authErr     error
	search      map[string][]sys.Track
	searchErr   error
	records     map[string]sys.Track
	getCalls    []string
	searchCalls []string
}

func (m *mockProvider) Authorize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authorized++
	return m.authErr
}

func (m *mockProvider) SearchTracks(ctx context.Context, query string, limit int) ([]sys.Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searchCalls = append(m.searchCalls, query)
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	hits := m.search[query]
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (m *mockProvider) GetTrack(ctx context.Context, id string) (sys.Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls = append(m.getCalls, id)
	r, ok := m.records["spotify:track:"+id]
	if !ok {
		return sys.Track{}, fmt.Errorf("%w: %s", sys.ErrNotFound, id)
	}
	return r, nil
}

type mockTagger struct {
	mu       sync.Mutex
	tags     map[string][]string
	fail     map[string]bool
	inFlight int
	maxSeen  int
	calls    int
}

func (m *mockTagger) TopTags(ctx context.Context, artist, track string) ([]string, error) {
	m.mu.Lock()
	m.calls++
	m.inFlight++
	if m.inFlight > m.maxSeen {
		m.maxSeen = m.inFlight
	}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if m.fail[track] {
		return nil, errors.New("boom")
	}
	return m.tags[track], nil
}

func records(n int) map[string]sys.Track {
	out := make(map[string]sys.Track, n)
	for i := 1; i <= n; i++ {
		out[uri(i)] = sys.Track{Name: fmt.Sprintf("Song %d", i), Artists: []string{"Artist"}, URI: uri(i), Popularity: pop(50 + i)}
	}
	return out
}

func uris(pl sys.Playlist) []string {
	out := make([]string, len(pl.Tracks))
	for i, t := range pl.Tracks {
		out[i] = t.URI
	}
	return out
}

func TestCurateDedupPreservesOrder(t *testing.T) {
	p := &mockProvider{records: records(5)}
	c := NewCurator(p, nil, Options{})

	in := sys.Playlist{Name: "Mix", Tags: []string{"epic"}, Tracks: []sys.Track{
		{Name: "Song 3", URI: uri(3)},
		{Name: "Song 1", URI: uri(1)},
		{Name: "Song 3 again", URI: uri(3)},
		{Name: "Song 2", URI: uri(2)},
		{Name: "Song 1 again", URI: uri(1)},
	}}

	out, err := c.Curate(context.Background(), in, 0)
	if err != nil {
		t.Fatalf("Curate() error = %v", err)
	}

	want := []string{uri(3), uri(1), uri(2)}
	if !reflect.DeepEqual(uris(out), want) {
		t.Errorf("Curate() uris = %v, want %v", uris(out), want)
	}
	if out.Name != "Mix" || !reflect.DeepEqual(out.Tags, []string{"epic"}) {
		t.Errorf("Curate() lost playlist fields: %+v", out)
	}
	if p.authorized != 1 {
		t.Errorf("Authorize calls = %d, want 1", p.authorized)
	}
	if len(p.getCalls) != 3 {
		t.Errorf("GetTrack calls = %d, want 3 (duplicates skip verification)", len(p.getCalls))
	}
}

func TestCurateResolvesMissingIdentifiers(t *testing.T) {
	p := &mockProvider{
		records: records(3),
		search: map[string][]sys.Track{
			"track:Song 2 artist:Artist":    {{Name: "Song 2", Artists: []string{"Artist"}, URI: uri(2)}},
			"track:Same As 1 artist:Artist": {{Name: "Song 1", Artists: []string{"Artist"}, URI: uri(1)}},
		},
	}
	c := NewCurator(p, nil, Options{})

	in := sys.Playlist{Name: "Mix", Tracks: []sys.Track{
		{Name: "Song 1", Artists: []string{"Artist"}, URI: uri(1)},
		{Name: "Song 2", Artists: []string{"Artist"}},
		{Name: "Lost", Artists: []string{"Nobody"}, URI: "spotify:track:bad"},
		{Name: "Same As 1", Artists: []string{"Artist"}, URI: "not-a-uri"},
	}}

	out, err := c.Curate(context.Background(), in, 0)
	if err != nil {
		t.Fatalf("Curate() error = %v", err)
	}
	want := []string{uri(1), uri(2)}
	if !reflect.DeepEqual(uris(out), want) {
		t.Errorf("Curate() uris = %v, want %v", uris(out), want)
	}
	if len(p.searchCalls) != 3 {
		t.Errorf("search calls = %v, want exactly one per unresolved track", p.searchCalls)
	}
}

func TestCurateSearchesDuplicatesOnce(t *testing.T) {
	p := &mockProvider{
		records: records(2),
		search: map[string][]sys.Track{
			"track:Song 2 artist:Artist": {{Name: "Song 2", Artists: []string{"Artist"}, URI: uri(2)}},
		},
	}
	c := NewCurator(p, nil, Options{})

	in := sys.Playlist{Name: "Mix", Tracks: []sys.Track{
		{Name: "Song 2", Artists: []string{"Artist"}},
		{Name: "song 2", Artists: []string{"artist"}},
		{Name: "Lost", Artists: []string{"Nobody"}},
		{Name: "Lost", Artists: []string{"Nobody"}},
	}}

	out, err := c.Curate(context.Background(), in, 0)
	if err != nil {
		t.Fatalf("Curate() error = %v", err)
	}
	if !reflect.DeepEqual(uris(out), []string{uri(2)}) {
		t.Errorf("Curate() uris = %v", uris(out))
	}
	if len(p.searchCalls) != 2 {
		t.Errorf("search calls = %v, want one per distinct track", p.searchCalls)
	}
}

func TestCurateDropsUnavailable(t *testing.T) {
	recs := records(3)
	delete(recs, uri(2))
	p := &mockProvider{records: recs}
	c := NewCurator(p, nil, Options{})

	in := sys.Playlist{Name: "Mix", Tracks: []sys.Track{{URI: uri(1)}, {URI: uri(2)}, {URI: uri(3)}}}
	out, err := c.Curate(context.Background(), in, 0)
	if err != nil {
		t.Fatalf("Curate() error = %v", err)
	}
	if !reflect.DeepEqual(uris(out), []string{uri(1), uri(3)}) {
		t.Errorf("Curate() uris = %v", uris(out))
	}
	if out.Tracks[0].Name != "Song 1" || out.Tracks[0].PopularityOrZero() != 51 {
		t.Errorf("verified record not merged: %+v", out.Tracks[0])
	}
}

func TestCurateCapModes(t *testing.T) {
	in := sys.Playlist{Name: "Mix"}
	for i := 1; i <= 6; i++ {
		in.Tracks = append(in.Tracks, sys.Track{URI: uri(i)})
	}

	t.Run("early break stops verifying", func(t *testing.T) {
		p := &mockProvider{records: records(6)}
		out, err := NewCurator(p, nil, Options{CapMode: sys.CapEarlyBreak}).Curate(context.Background(), in, 3)
		if err != nil {
			t.Fatalf("Curate() error = %v", err)
		}
		if len(out.Tracks) != 3 {
			t.Fatalf("len = %d, want 3", len(out.Tracks))
		}
		if len(p.getCalls) != 3 {
			t.Errorf("GetTrack calls = %d, want 3", len(p.getCalls))
		}
	})

	t.Run("slice at end verifies all", func(t *testing.T) {
		p := &mockProvider{records: records(6)}
		out, err := NewCurator(p, nil, Options{CapMode: sys.CapSliceAtEnd}).Curate(context.Background(), in, 3)
		if err != nil {
			t.Fatalf("Curate() error = %v", err)
		}
		if !reflect.DeepEqual(uris(out), []string{uri(1), uri(2), uri(3)}) {
			t.Errorf("uris = %v", uris(out))
		}
		if len(p.getCalls) != 6 {
			t.Errorf("GetTrack calls = %d, want 6", len(p.getCalls))
		}
	})

	t.Run("cap always respected", func(t *testing.T) {
		for _, mode := range []string{sys.CapEarlyBreak, sys.CapSliceAtEnd} {
			for max := 1; max <= 7; max++ {
				p := &mockProvider{records: records(6)}
				out, err := NewCurator(p, nil, Options{CapMode: mode}).Curate(context.Background(), in, max)
				if err != nil {
					t.Fatalf("Curate() error = %v", err)
				}
				if len(out.Tracks) > max {
					t.Errorf("%s max=%d: len = %d", mode, max, len(out.Tracks))
				}
			}
		}
	})
}

func TestCurateMinPopularity(t *testing.T) {
	recs := records(3)
	recs[uri(2)] = sys.Track{Name: "Obscure", URI: uri(2)}
	p := &mockProvider{records: recs}

	in := sys.Playlist{Name: "Mix", Tracks: []sys.Track{{URI: uri(1)}, {URI: uri(2)}, {URI: uri(3)}}}
	out, err := NewCurator(p, nil, Options{MinPopularity: 30}).Curate(context.Background(), in, 0)
	if err != nil {
		t.Fatalf("Curate() error = %v", err)
	}
	if !reflect.DeepEqual(uris(out), []string{uri(1), uri(3)}) {
		t.Errorf("uris = %v", uris(out))
	}
}

func TestCurateAuthorizeFailure(t *testing.T) {
	p := &mockProvider{authErr: sys.ErrProvider}
	_, err := NewCurator(p, nil, Options{}).Curate(context.Background(), sys.Playlist{Name: "x"}, 0)
	if !errors.Is(err, sys.ErrProvider) {
		t.Fatalf("Curate() error = %v, want ErrProvider", err)
	}
}

func TestCurateTags(t *testing.T) {
	p := &mockProvider{records: records(7)}
	tg := &mockTagger{
		tags: map[string][]string{"Song 1": {"epic", "orchestral"}, "Song 4": {"dark"}},
		fail: map[string]bool{"Song 2": true},
	}
	c := NewCurator(p, tg, Options{Tags: true, TagBatchSize: 3})

	in := sys.Playlist{Name: "Mix"}
	for i := 1; i <= 7; i++ {
		in.Tracks = append(in.Tracks, sys.Track{URI: uri(i)})
	}
	out, err := c.Curate(context.Background(), in, 0)
	if err != nil {
		t.Fatalf("Curate() error = %v", err)
	}

	if tg.calls != 7 {
		t.Errorf("tag calls = %d, want 7", tg.calls)
	}
	if tg.maxSeen > 3 {
		t.Errorf("max concurrent tag calls = %d, want <= batch size 3", tg.maxSeen)
	}
	if !reflect.DeepEqual(out.Tracks[0].Tags, []string{"epic", "orchestral"}) {
		t.Errorf("track 1 tags = %v", out.Tracks[0].Tags)
	}
	for i, tr := range out.Tracks {
		if tr.Tags == nil {
			t.Errorf("track %d tags nil, want empty list", i)
		}
	}
	if len(out.Tracks[1].Tags) != 0 {
		t.Errorf("failed lookup tags = %v, want empty", out.Tracks[1].Tags)
	}
}

func TestCurateTagsDisabled(t *testing.T) {
	p := &mockProvider{records: records(1)}
	tg := &mockTagger{}
	out, err := NewCurator(p, tg, Options{Tags: false}).Curate(context.Background(), sys.Playlist{Name: "x", Tracks: []sys.Track{{URI: uri(1)}}}, 0)
	if err != nil {
		t.Fatalf("Curate() error = %v", err)
	}
	if tg.calls != 0 {
		t.Errorf("tag calls = %d, want 0", tg.calls)
	}
	if out.Tracks[0].Tags == nil || len(out.Tracks[0].Tags) != 0 {
		t.Errorf("tags = %#v, want empty list", out.Tracks[0].Tags)
	}
	if out.Tags == nil {
		t.Error("playlist tags = nil, want empty list")
	}
}

func TestSearchTracksPopularityFilter(t *testing.T) {
	p := &mockProvider{search: map[string][]sys.Track{
		"battle": {
			{Name: "Loud", URI: uri(1), Popularity: pop(80)},
			{Name: "Edge", URI: uri(2), Popularity: pop(30)},
			{Name: "Quiet", URI: uri(3), Popularity: pop(29)},
			{Name: "Unknown", URI: uri(4)},
		},
	}}
	c := NewCurator(p, nil, Options{})

	got, err := c.SearchTracks(context.Background(), "battle", 5, 30)
	if err != nil {
		t.Fatalf("SearchTracks() error = %v", err)
	}
	names := make([]string, len(got))
	for i, tr := range got {
		names[i] = tr.Name
		if tr.PopularityOrZero() < 30 {
			t.Errorf("track %q popularity %d below threshold", tr.Name, tr.PopularityOrZero())
		}
	}
	if !reflect.DeepEqual(names, []string{"Loud", "Edge"}) {
		t.Errorf("SearchTracks() = %v", names)
	}

	got, err = c.SearchTracks(context.Background(), "battle", 5, 0)
	if err != nil || len(got) != 4 {
		t.Errorf("SearchTracks(threshold 0) = %d tracks, %v", len(got), err)
	}
}

func TestSearchTracksConfiguredDefaults(t *testing.T) {
	p := &mockProvider{search: map[string][]sys.Track{
		"battle": {
			{Name: "Loud", URI: uri(1), Popularity: pop(80)},
			{Name: "Mid", URI: uri(2), Popularity: pop(50)},
			{Name: "Quiet", URI: uri(3), Popularity: pop(10)},
		},
	}}
	c := NewCurator(p, nil, OptionsFromSettings(sys.CurationSettings{PopularityThreshold: 60, SearchLimit: 2}))

	got, err := c.SearchTracks(context.Background(), "battle", 0, -1)
	if err != nil {
		t.Fatalf("SearchTracks() error = %v", err)
	}
	if len(got) != 1 || got[0].Name != "Loud" {
		t.Errorf("SearchTracks() = %v, want only Loud", got)
	}

	got, err = c.SearchTracks(context.Background(), "battle", 5, 0)
	if err != nil || len(got) != 3 {
		t.Errorf("SearchTracks(threshold 0) = %d tracks, %v", len(got), err)
	}
}

func TestSearchTracksEmpty(t *testing.T) {
	c := NewCurator(&mockProvider{}, nil, Options{})
	got, err := c.SearchTracks(context.Background(), "nothing", 5, 30)
	if err != nil {
		t.Fatalf("SearchTracks() error = %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("SearchTracks() = %#v, want empty slice", got)
	}
}

func TestStructuredQuery(t *testing.T) {
	got := StructuredQuery(sys.Track{Name: "Clair de Lune", Artists: []string{"Claude", "Debussy"}})
	if got != "track:Clair de Lune artist:Claude Debussy" {
		t.Errorf("StructuredQuery() = %q", got)
	}
	if got := StructuredQuery(sys.Track{Name: "Solo"}); got != "track:Solo" {
		t.Errorf("StructuredQuery(no artists) = %q", got)
	}
}
