package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/leeineian/bardcast/curate"
	"github.com/leeineian/bardcast/proc"
	"github.com/leeineian/bardcast/sys"
)

// ErrHealthFailed is returned when at least one check fails.
var ErrHealthFailed = errors.New("health check failed")

const checkTimeout = 45 * time.Second

// Check is one named health probe.
type Check struct {
	Name string
	Run  func(ctx context.Context) error
}

// HealthChecks builds the probes for every external dependency.
func HealthChecks(cfg *sys.Config) []Check {
	return []Check{
		{Name: "Spotify", Run: func(ctx context.Context) error {
			if err := cfg.RequireSpotify(); err != nil {
				return err
			}
			return curate.NewSpotify(cfg.SpotifyClientID, cfg.SpotifyClientSecret).Authorize(ctx)
		}},
		{Name: "Discord", Run: func(ctx context.Context) error {
			t := proc.NewDiscordTransport(cfg)
			defer t.Destroy(context.WithoutCancel(ctx))
			return t.Connect(ctx)
		}},
		{Name: "yt-dlp", Run: proc.NewResolver(cfg).HealthCheck},
		{Name: "Last.fm", Run: func(ctx context.Context) error {
			if err := cfg.RequireLastFM(); err != nil {
				return err
			}
			return curate.NewLastFM(cfg.LastFMAPIKey).HealthCheck(ctx)
		}},
		{Name: "Campaign config", Run: func(ctx context.Context) error {
			_, err := sys.LoadCampaign(cfg.CampaignPath)
			return err
		}},
	}
}

// RunChecks runs every check in order and renders the results as a table.
func RunChecks(ctx context.Context, checks []Check, out io.Writer) error {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Component", "Status", "Detail"})

	failed := 0
	for _, c := range checks {
		sys.LogHealth(sys.MsgHealthChecking, c.Name)
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := c.Run(cctx)
		cancel()

		if err != nil {
			failed++
			sys.LogHealth(sys.MsgHealthFail, c.Name, err)
			t.AppendRow(table.Row{c.Name, "ERROR", sys.Truncate(err.Error(), 80)})
			continue
		}
		sys.LogHealth(sys.MsgHealthOK, c.Name)
		t.AppendRow(table.Row{c.Name, "OK", ""})
	}
	t.Render()

	if failed > 0 {
		return fmt.Errorf("%w: %d of %d checks", ErrHealthFailed, failed, len(checks))
	}
	return nil
}
