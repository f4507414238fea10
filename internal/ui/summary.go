package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
)

// SessionSummary is printed once the user leaves a room.
type SessionSummary struct {
	RoomID     string
	UserID     string
	Duration   time.Duration
	Peers      []PeerRow
	DocVersion uint64
	WatchPath  string
}

// RenderSessionSummary writes the summary table to w.
func RenderSessionSummary(w io.Writer, s SessionSummary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.SetTitle("Session Summary")

	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Room", s.RoomID},
		{"You", s.UserID},
		{"Duration", s.Duration.Round(time.Second).String()},
		{"Peers seen", len(s.Peers)},
	})

	inCall := 0
	for _, p := range s.Peers {
		if p.InCall {
			inCall++
		}
	}
	t.AppendRow(table.Row{"Peers in call", inCall})

	if s.WatchPath != "" {
		t.AppendSeparator()
		t.AppendRow(table.Row{"Synced file", s.WatchPath})
		t.AppendRow(table.Row{"Document version", fmt.Sprintf("v%d", s.DocVersion)})
	}

	t.Render()
}
