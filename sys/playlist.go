package sys

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/samber/lo"
)

var canonicalURI = regexp.MustCompile(`^spotify:track:[0-9A-Za-z]{22}$`)

// Track is one playlist entry. URI is empty or non-canonical until resolved.
type Track struct {
	Name       string   `json:"name"`
	Artists    []string `json:"artists"`
	URI        string   `json:"uri"`
	Popularity *int     `json:"popularity,omitempty"`
	Tags       []string `json:"tags"`
}

type Playlist struct {
	Name   string   `json:"name"`
	Tracks []Track  `json:"tracks"`
	Tags   []string `json:"tags"`
}

// Normalized returns a copy with nil lists replaced by empty ones, so tags
// encode as [] and a saved playlist loads back unchanged.
func (pl Playlist) Normalized() Playlist {
	if pl.Tags == nil {
		pl.Tags = []string{}
	}
	pl.Tracks = lo.Map(pl.Tracks, func(t Track, _ int) Track {
		if t.Tags == nil {
			t.Tags = []string{}
		}
		if t.Artists == nil {
			t.Artists = []string{}
		}
		return t
	})
	return pl
}

// HasCanonicalURI reports whether the URI is a provider track handle.
func (t Track) HasCanonicalURI() bool {
	return canonicalURI.MatchString(t.URI)
}

// TrackID returns the id part of a canonical URI.
func (t Track) TrackID() string {
	if !t.HasCanonicalURI() {
		return ""
	}
	return strings.TrimPrefix(t.URI, "spotify:track:")
}

// Key is the dedup identity: the URI once resolved, otherwise name and artists.
func (t Track) Key() string {
	if t.HasCanonicalURI() {
		return t.URI
	}
	return strings.ToLower(t.Name + "|" + strings.Join(t.Artists, ","))
}

// Query is the free-text search used to find audio for the track.
func (t Track) Query() string {
	return strings.TrimSpace(t.Name + " " + strings.Join(t.Artists, " "))
}

// PopularityOrZero treats a missing score as 0.
func (t Track) PopularityOrZero() int {
	if t.Popularity == nil {
		return 0
	}
	return *t.Popularity
}

// Label renders "name [tag1, tag2]" for pickers.
func Label(name string, tags []string) string {
	tags = lo.Compact(tags)
	if len(tags) == 0 {
		return name
	}
	return fmt.Sprintf("%s [%s]", name, strings.Join(tags, ", "))
}

// SanitizeFilename replaces path separators and appends .json.
func SanitizeFilename(name string) string {
	r := strings.NewReplacer("/", "_", `\`, "_")
	return r.Replace(name) + ".json"
}

// ParsePlaylist decodes a playlist document and checks the required fields.
func ParsePlaylist(data []byte) (Playlist, error) {
	var raw struct {
		Name   *string          `json:"name"`
		Tracks *json.RawMessage `json:"tracks"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Playlist{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if raw.Name == nil || *raw.Name == "" {
		return Playlist{}, fmt.Errorf("%w: %s", ErrParse, ErrStoreMissingName)
	}
	if raw.Tracks == nil || !strings.HasPrefix(strings.TrimSpace(string(*raw.Tracks)), "[") {
		return Playlist{}, fmt.Errorf("%w: %s", ErrParse, ErrStoreMissingTrack)
	}

	var pl Playlist
	if err := json.Unmarshal(data, &pl); err != nil {
		return Playlist{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return pl.Normalized(), nil
}

// Store keeps one JSON file per playlist in a directory.
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) Dir() string { return s.dir }

// Save writes the playlist, overwriting a file with the same sanitized name.
func (s *Store) Save(pl Playlist) (string, error) {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", err
	}
	pl = pl.Normalized()
	data, err := json.MarshalIndent(pl, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.dir, SanitizeFilename(pl.Name))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	LogStore(MsgStoreSaved, pl.Name, path)
	return path, nil
}

// List returns the .json filenames, creating the directory when it is missing.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if err := os.MkdirAll(s.dir, 0755); err != nil {
				return nil, err
			}
			LogStore(MsgStoreCreatedDir, s.dir)
			return []string{}, nil
		}
		return nil, err
	}

	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			files = append(files, e.Name())
		}
	}
	slices.Sort(files)
	return files, nil
}

// Load reads one playlist by filename.
func (s *Store) Load(filename string) (Playlist, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, filepath.Base(filename)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Playlist{}, fmt.Errorf("%w: playlist %s", ErrNotFound, filename)
		}
		return Playlist{}, err
	}
	return ParsePlaylist(data)
}
