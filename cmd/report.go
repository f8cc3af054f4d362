package cmd

import (
	"io"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/leeineian/bardcast/sys"
)

// RenderHistory prints recent plays, newest first.
func RenderHistory(out io.Writer, plays []sys.PlayRecord) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"When", "Playlist", "#", "Track", "Artists", "Outcome"})

	for _, p := range plays {
		t.AppendRow(table.Row{
			p.PlayedAt.Local().Format("2006-01-02 15:04"),
			sys.Truncate(p.Playlist, 24),
			strconv.Itoa(p.Position + 1),
			sys.Truncate(p.Name, 40),
			sys.Truncate(p.Artists, 30),
			p.Outcome,
		})
	}
	if len(plays) == 0 {
		t.AppendFooter(table.Row{"", "", "", "no plays recorded yet", "", ""})
	}
	t.Render()
}

// RenderTracks prints a playlist's tracks with their popularity and tags.
func RenderTracks(out io.Writer, tracks []sys.Track) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Track", "Artists", "Popularity", "Tags", "URI"})

	for i, tr := range tracks {
		pop := "-"
		if tr.Popularity != nil {
			pop = strconv.Itoa(*tr.Popularity)
		}
		t.AppendRow(table.Row{
			i + 1,
			sys.Truncate(tr.Name, 40),
			sys.Truncate(strings.Join(tr.Artists, ", "), 30),
			pop,
			sys.Truncate(strings.Join(tr.Tags, ", "), 30),
			tr.URI,
		})
	}
	t.AppendFooter(table.Row{"", countLabel(len(tracks))})
	t.Render()
}
