package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/openmined/davsync/internal/client/config"
	"github.com/openmined/davsync/internal/client/sync"
)

var (
	// https://github.com/muesli/termenv/blob/master/ansicolors.go
	red    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	green  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	yellow = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	cyan   = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	gray   = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	label  = lipgloss.NewStyle().Foreground(lipgloss.Color("248")).Width(14)
)

func printSummary(w io.Writer, cfg *config.Config, r *sync.SyncReport) {
	var b strings.Builder

	if r.DryRun {
		b.WriteString(cyan.Bold(true).Render("Dry run, nothing was changed"))
	} else {
		b.WriteString(green.Bold(true).Render("Sync complete"))
	}
	b.WriteString("\n")

	row := func(name, value string) {
		b.WriteString(label.Render(name))
		b.WriteString(value)
		b.WriteString("\n")
	}

	row("Downloaded", fmt.Sprintf("%d (%s)", r.Downloads, humanize.Bytes(uint64(r.Bytes))))
	row("Up to date", fmt.Sprint(r.UpToDate))
	row("Deleted", fmt.Sprint(r.Deletes))
	row("Pruned dirs", fmt.Sprint(r.PrunedDirs))
	if r.Ignored > 0 {
		row("Ignored", fmt.Sprint(r.Ignored))
	}
	if r.Collisions > 0 {
		row("Collisions", yellow.Render(fmt.Sprintf("%d (later remote path wins)", r.Collisions)))
	}
	row("Local", cfg.LocalPath)
	row("Lock file", gray.Render(cfg.LockFile))
	row("Took", r.Duration.Round(time.Millisecond).String())

	fmt.Fprint(w, b.String())
}
