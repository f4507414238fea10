package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// PeerRow is one remote participant as shown in the session view.
type PeerRow struct {
	ID          string
	Phase       string
	Connection  string
	ChannelOpen bool
	HasMedia    bool
	InCall      bool
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "-"
}

// PeerTableView renders the peer list.
func PeerTableView(rows []PeerRow) string {
	if len(rows) == 0 {
		return MutedStyle.Render("No peers yet")
	}

	data := make([][]string, 0, len(rows))
	for _, r := range rows {
		data = append(data, []string{
			truncateString(r.ID, 24),
			r.Phase,
			r.Connection,
			yesNo(r.ChannelOpen),
			yesNo(r.HasMedia),
			yesNo(r.InCall),
		})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("Peer", "Phase", "ICE", "Sync", "Media", "Call").
		Rows(data...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}

func truncateString(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 1 {
		return string(r[:max])
	}
	return string(r[:max-1]) + "…"
}
