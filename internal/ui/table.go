package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// PeerRow is one member of a call room.
type PeerRow struct {
	ID   string
	Name string
	Role string
	Self bool
}

// PeerTableView renders the members of a room.
func PeerTableView(room string, peers []PeerRow) string {
	if len(peers) == 0 {
		return MutedStyle.Render(fmt.Sprintf("%s Room %s is empty", IconRoom, room))
	}

	rows := make([][]string, 0, len(peers))
	for _, p := range peers {
		name := p.Name
		if p.Self {
			name += " (you)"
		}
		rows = append(rows, []string{p.ID, truncateString(name, 40), p.Role})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("ID", "Name", "Role").
		Rows(rows...).
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

	return fmt.Sprintf("%s Room %s\n%s", IconRoom, BoldStyle.Render(room), tbl.Render())
}

func RenderPeerTable(room string, peers []PeerRow) {
	fmt.Println(PeerTableView(room, peers))
}

func truncateString(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
