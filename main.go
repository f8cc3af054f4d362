package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/leeineian/bardcast/cmd"
	"github.com/leeineian/bardcast/sys"
	"github.com/urfave/cli/v3"
)

const tuiLogFile = "bardcast.log"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "bardcast",
		Usage: "Generate tabletop campaign playlists and stream them into a Discord voice channel",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "settings",
				Aliases: []string{"s"},
				Usage:   "Path to the TOML settings file (default $BARDCAST_SETTINGS or bardcast.toml)",
			},
		},
		Action: runTUI,
		Commands: []*cli.Command{
			healthCommand(),
			streamCommand(),
			promptCommand(),
			curateCommand(),
			searchCommand(),
			historyCommand(),
		},
	}

	err := app.Run(ctx, os.Args)
	sys.CloseLogger()
	switch {
	case err == nil:
	case errors.Is(err, cmd.ErrHealthFailed):
		os.Exit(1)
	case errors.Is(err, context.Canceled):
		sys.LogInfo("Interrupted")
	default:
		sys.LogFatal("%v", err)
	}
}

// loadConfig reads the configuration and applies SILENT to console logging.
func loadConfig(c *cli.Command) (*sys.Config, error) {
	cfg, err := sys.LoadConfig(c.String("settings"))
	if err != nil {
		return nil, fmt.Errorf(sys.MsgConfigFailedToLoad, err)
	}
	if cfg.Silent {
		sys.InitLogger(sys.LogOptions{Silent: true, Console: true})
	}
	return cfg, nil
}
