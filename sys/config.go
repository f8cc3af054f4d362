package sys

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/disgoorg/snowflake/v2"
	"github.com/joho/godotenv"
)

const (
	EnvSpotifyClientID     = "SPOTIFY_CLIENT_ID"
	EnvSpotifyClientSecret = "SPOTIFY_CLIENT_SECRET"
	EnvDiscordToken        = "DISCORD_TOKEN"
	EnvVoiceChannelID      = "DISCORD_VOICE_CHANNEL_ID"
	EnvPlaylistFolder      = "PLAYLIST_FOLDER"
	EnvLastFMAPIKey        = "LASTFM_API_KEY"
	EnvTemplatesPath       = "TEMPLATES_PATH"
	EnvCampaignConfig      = "CAMPAIGN_CONFIG"
	EnvDatabasePath        = "DATABASE_PATH"
	EnvYoutubeProxy        = "YOUTUBE_PROXY"
	EnvSilent              = "SILENT"
	EnvSettings            = "BARDCAST_SETTINGS"
)

const (
	CapEarlyBreak = "early_break"
	CapSliceAtEnd = "slice_at_end"

	BackendYtdlp    = "ytdlp"
	BackendYtsearch = "ytsearch"
	BackendYtmusic  = "ytmusic"
)

//go:embed settings.default.toml
var defaultSettings []byte

// Duration decodes TOML strings like "200ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

type CurationSettings struct {
	CapMode             string `toml:"cap_mode"`
	PopularityThreshold int    `toml:"popularity_threshold"`
	MinPopularity       int    `toml:"min_popularity"`
	SearchLimit         int    `toml:"search_limit"`
	TagBatchSize        int    `toml:"tag_batch_size"`
	TagLimit            int    `toml:"tag_limit"`
	Tags                bool   `toml:"tags"`
}

type PlaybackSettings struct {
	PollInterval         Duration `toml:"poll_interval"`
	MaxConsecutiveErrors int      `toml:"max_consecutive_errors"`
	ConnectRetries       int      `toml:"connect_retries"`
}

type ExtractorSettings struct {
	Binary         string   `toml:"binary"`
	Backend        string   `toml:"backend"`
	InterruptGrace Duration `toml:"interrupt_grace"`
	TerminateGrace Duration `toml:"terminate_grace"`
}

type LastFMSettings struct {
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// Settings holds the non-secret tuning knobs read from TOML.
type Settings struct {
	Curation  CurationSettings  `toml:"curation"`
	Playback  PlaybackSettings  `toml:"playback"`
	Extractor ExtractorSettings `toml:"extractor"`
	LastFM    LastFMSettings    `toml:"lastfm"`
}

type Config struct {
	SpotifyClientID     string
	SpotifyClientSecret string
	DiscordToken        string
	VoiceChannelID      string
	LastFMAPIKey        string
	PlaylistDir         string
	TemplatesPath       string
	CampaignPath        string
	DatabasePath        string
	YoutubeProxy        string
	Silent              bool
	Settings            Settings
}

// DefaultSettings returns the embedded defaults.
func DefaultSettings() Settings {
	var s Settings
	if err := toml.Unmarshal(defaultSettings, &s); err != nil {
		panic(fmt.Sprintf("failed to parse embedded settings: %v", err))
	}
	return s
}

// LoadConfig reads .env, the environment and an optional settings file.
// An empty settingsPath falls back to BARDCAST_SETTINGS, then bardcast.toml.
func LoadConfig(settingsPath string) (*Config, error) {
	_ = godotenv.Load()

	cwd, _ := os.Getwd()
	playlistDir := os.Getenv(EnvPlaylistFolder)
	if playlistDir == "" {
		playlistDir = filepath.Join(cwd, "playlists")
	}

	silent, _ := strconv.ParseBool(os.Getenv(EnvSilent))

	cfg := &Config{
		SpotifyClientID:     os.Getenv(EnvSpotifyClientID),
		SpotifyClientSecret: os.Getenv(EnvSpotifyClientSecret),
		DiscordToken:        os.Getenv(EnvDiscordToken),
		VoiceChannelID:      strings.TrimSpace(os.Getenv(EnvVoiceChannelID)),
		LastFMAPIKey:        os.Getenv(EnvLastFMAPIKey),
		PlaylistDir:         playlistDir,
		TemplatesPath:       envOr(EnvTemplatesPath, filepath.Join("templates", "promptTemplates.json")),
		CampaignPath:        envOr(EnvCampaignConfig, filepath.Join("config", "campaign.json")),
		DatabasePath:        envOr(EnvDatabasePath, "bardcast.db"),
		YoutubeProxy:        os.Getenv(EnvYoutubeProxy),
		Silent:              silent,
		Settings:            DefaultSettings(),
	}

	explicit := settingsPath != ""
	if !explicit {
		settingsPath = envOr(EnvSettings, "bardcast.toml")
	}
	if err := cfg.loadSettings(settingsPath, explicit); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadSettings(path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf(MsgConfigSettingsRead, path, err)
	}
	if err := toml.Unmarshal(data, &c.Settings); err != nil {
		return fmt.Errorf(MsgConfigSettingsParse, path, err)
	}
	return nil
}

// Validate checks settings consistency. Credentials are checked by the features using them.
func (c *Config) Validate() error {
	s := c.Settings
	switch s.Curation.CapMode {
	case CapEarlyBreak, CapSliceAtEnd:
	default:
		return fmt.Errorf("invalid curation.cap_mode %q", s.Curation.CapMode)
	}
	switch s.Extractor.Backend {
	case BackendYtdlp, BackendYtsearch, BackendYtmusic:
	default:
		return fmt.Errorf("invalid extractor.backend %q", s.Extractor.Backend)
	}
	if s.Playback.PollInterval.Duration <= 0 {
		return fmt.Errorf("playback.poll_interval must be positive")
	}
	if s.Curation.TagBatchSize <= 0 || s.Curation.SearchLimit <= 0 {
		return fmt.Errorf("curation batch size and search limit must be positive")
	}
	if s.Playback.MaxConsecutiveErrors <= 0 {
		return fmt.Errorf("playback.max_consecutive_errors must be positive")
	}
	if c.VoiceChannelID != "" {
		if _, err := snowflake.Parse(c.VoiceChannelID); err != nil {
			return fmt.Errorf("invalid %s: must be a valid Snowflake", EnvVoiceChannelID)
		}
	}
	return nil
}

// RequireSpotify reports missing Spotify credentials.
func (c *Config) RequireSpotify() error {
	if c.SpotifyClientID == "" || c.SpotifyClientSecret == "" {
		return fmt.Errorf("%w: %s / %s", ErrMissingCredentials, EnvSpotifyClientID, EnvSpotifyClientSecret)
	}
	return nil
}

func (c *Config) RequireDiscord() error {
	if c.DiscordToken == "" || c.VoiceChannelID == "" {
		return fmt.Errorf("%w: %s / %s", ErrMissingCredentials, EnvDiscordToken, EnvVoiceChannelID)
	}
	return nil
}

func (c *Config) RequireLastFM() error {
	if c.LastFMAPIKey == "" {
		return fmt.Errorf("%w: %s", ErrMissingCredentials, EnvLastFMAPIKey)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
