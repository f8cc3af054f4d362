package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/leeineian/bardcast/cmd"
	"github.com/leeineian/bardcast/curate"
	"github.com/leeineian/bardcast/proc"
	"github.com/leeineian/bardcast/sys"
	"github.com/urfave/cli/v3"
)

// teardownTimeout bounds how long the TUI waits for playback to leave the
// voice channel after it exits.
const teardownTimeout = 10 * time.Second

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check credentials, the extractor binary and the campaign config",
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			return cmd.RunChecks(ctx, cmd.HealthChecks(cfg), os.Stdout)
		},
	}
}

func streamCommand() *cli.Command {
	return &cli.Command{
		Name:      "stream",
		Usage:     "Play a saved playlist into the voice channel without the TUI",
		Arguments: []cli.Argument{&cli.StringArg{Name: "file"}},
		Action: func(ctx context.Context, c *cli.Command) error {
			file := c.StringArg("file")
			if file == "" {
				return fmt.Errorf("%w: stream needs a playlist filename", sys.ErrNotFound)
			}
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			pl, err := sys.NewStore(cfg.PlaylistDir).Load(file)
			if err != nil {
				return err
			}

			rec, closeDB := openRecorder(ctx, cfg)
			defer closeDB()

			orch := newPlayer(cfg, rec)
			orch.OnEvent = func(e proc.Event) {
				if e.State == proc.PlayerPlaying && e.Notice != "" {
					sys.LogPlayer("%s", e.Notice)
				}
			}
			return orch.Run(ctx, pl)
		},
	}
}

func promptCommand() *cli.Command {
	flags := make([]cli.Flag, 0, len(sys.PlaylistForm)+1)
	for _, f := range sys.PlaylistForm {
		flags = append(flags, &cli.StringFlag{Name: f.Name, Usage: f.Label, Value: f.Default})
	}
	flags = append(flags, &cli.BoolFlag{Name: "copy", Usage: "Also copy the prompt to the clipboard"})

	return &cli.Command{
		Name:  "prompt",
		Usage: "Render the playlist prompt from flags",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			p, err := sys.LoadPrompter(cfg)
			if err != nil {
				return err
			}

			answers := make(map[string]string, len(sys.PlaylistForm))
			for _, f := range sys.PlaylistForm {
				answers[f.Name] = c.String(f.Name)
			}
			vars, _, err := sys.FormVars(answers)
			if err != nil {
				return err
			}
			text, err := p.Render(sys.CampaignTemplateID, vars)
			if err != nil {
				return err
			}
			fmt.Println(text)

			if c.Bool("copy") {
				if err := clipboard.WriteAll(text); err != nil {
					sys.LogWarn("failed to copy prompt to clipboard: %v", err)
				}
			}
			return nil
		},
	}
}

func curateCommand() *cli.Command {
	return &cli.Command{
		Name:      "curate",
		Usage:     "Resolve, verify and tag a playlist JSON file, then save it",
		Arguments: []cli.Argument{&cli.StringArg{Name: "file"}},
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "max", Usage: "Keep at most this many tracks (0 keeps all)"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if err := cfg.RequireSpotify(); err != nil {
				return err
			}
			data, err := os.ReadFile(c.StringArg("file"))
			if err != nil {
				return err
			}
			pl, err := sys.ParsePlaylist(data)
			if err != nil {
				return err
			}

			out, err := newCurator(cfg).Curate(ctx, pl, int(c.Int("max")))
			if err != nil {
				return err
			}
			if _, err := sys.NewStore(cfg.PlaylistDir).Save(out); err != nil {
				return err
			}
			cmd.RenderTracks(os.Stdout, out.Tracks)
			return nil
		},
	}
}

func searchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Search the metadata provider and keep tracks above a popularity threshold",
		Arguments: []cli.Argument{&cli.StringArg{Name: "query"}},
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Usage: "Maximum candidates to fetch (default curation.search_limit)"},
			&cli.IntFlag{Name: "threshold", Usage: "Minimum popularity (default curation.popularity_threshold)", Value: -1},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if err := cfg.RequireSpotify(); err != nil {
				return err
			}
			spotify := curate.NewSpotify(cfg.SpotifyClientID, cfg.SpotifyClientSecret)
			if err := spotify.Authorize(ctx); err != nil {
				return err
			}

			curator := curate.NewCurator(spotify, nil, curate.OptionsFromSettings(cfg.Settings.Curation))
			tracks, err := curator.SearchTracks(ctx, c.StringArg("query"), int(c.Int("limit")), int(c.Int("threshold")))
			if err != nil {
				return err
			}
			cmd.RenderTracks(os.Stdout, tracks)
			return nil
		},
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Show recently played tracks",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "Number of plays to show", Value: 20},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			db, err := sys.OpenDatabase(ctx, cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer db.Close()

			plays, err := db.RecentPlays(ctx, int(c.Int("limit")))
			if err != nil {
				return err
			}
			cmd.RenderHistory(os.Stdout, plays)
			return nil
		},
	}
}

func runTUI(ctx context.Context, c *cli.Command) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	// The TUI owns the terminal; logs go to a file.
	sys.InitLogger(sys.LogOptions{File: tuiLogFile, Silent: cfg.Silent})

	rec, closeDB := openRecorder(ctx, cfg)
	defer closeDB()

	prompter, perr := sys.LoadPrompter(cfg)
	if perr != nil {
		sys.LogWarn("prompt templates unavailable: %v", perr)
	}

	deps := cmd.Deps{
		Store:       sys.NewStore(cfg.PlaylistDir),
		Prompter:    prompter,
		PrompterErr: perr,
		Curator:     newCurator(cfg),
		NewPlayer:   func() *proc.Orchestrator { return newPlayer(cfg, rec) },
	}

	model := cmd.NewModel(ctx, deps)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	_, runErr := p.Run()
	if !model.Wait(teardownTimeout) {
		sys.LogWarn("playback teardown did not finish within %s", teardownTimeout)
	}
	if runErr != nil && !errors.Is(runErr, tea.ErrProgramKilled) {
		return fmt.Errorf("error running TUI: %w", runErr)
	}
	return nil
}

// newCurator wires Spotify and, when a key is configured, Last.fm tagging.
func newCurator(cfg *sys.Config) *curate.Curator {
	var tagger curate.Tagger
	if cfg.LastFMAPIKey != "" {
		tagger = curate.NewLastFM(cfg.LastFMAPIKey,
			curate.WithTagLimit(cfg.Settings.Curation.TagLimit),
			curate.WithRateLimit(cfg.Settings.LastFM.RequestsPerSecond),
		)
	}
	spotify := curate.NewSpotify(cfg.SpotifyClientID, cfg.SpotifyClientSecret)
	return curate.NewCurator(spotify, tagger, curate.OptionsFromSettings(cfg.Settings.Curation))
}

func newPlayer(cfg *sys.Config, rec proc.Recorder) *proc.Orchestrator {
	return proc.NewOrchestrator(proc.NewDiscordTransport(cfg), proc.NewResolver(cfg), rec, cfg.Settings.Playback)
}

// openRecorder opens play history. Playback still works without it.
func openRecorder(ctx context.Context, cfg *sys.Config) (proc.Recorder, func()) {
	db, err := sys.OpenDatabase(ctx, cfg.DatabasePath)
	if err != nil {
		sys.LogWarn("play history disabled: %v", err)
		return nil, func() {}
	}
	return db, func() { _ = db.Close() }
}
