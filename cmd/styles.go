package cmd

import "github.com/charmbracelet/lipgloss"

var styles = newPalette("#7D56F4", "#04B575", "#FF5F56", "#FFA500", "#626262")

type palette struct {
	title  lipgloss.Style
	cursor lipgloss.Style
	ok     lipgloss.Style
	err    lipgloss.Style
	warn   lipgloss.Style
	muted  lipgloss.Style
	box    lipgloss.Style
}

func newPalette(title, ok, err, warn, muted string) palette {
	fg := func(c string) lipgloss.Style { return lipgloss.NewStyle().Foreground(lipgloss.Color(c)) }
	return palette{
		title:  fg(title).Bold(true).MarginBottom(1),
		cursor: fg(title).Bold(true),
		ok:     fg(ok).Bold(true),
		err:    fg(err).Bold(true),
		warn:   fg(warn),
		muted:  fg(muted).Italic(true),
		box:    lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color(muted)).Padding(0, 1),
	}
}
