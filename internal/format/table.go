// Package format renders catalog data for terminal output.
package format

import (
	"strings"

	"github.com/nebulaforge/forge/internal/catalog"

	"charm.land/lipgloss/v2"
	"charm.land/lipgloss/v2/table"
)

type TableFormatter struct {
	headerStyle  lipgloss.Style
	cellStyle    lipgloss.Style
	oddRowStyle  lipgloss.Style
	evenRowStyle lipgloss.Style
	borderStyle  lipgloss.Style
}

func NewTableFormatter() *TableFormatter {
	purple := lipgloss.Color("99")
	gray := lipgloss.Color("245")
	lightGray := lipgloss.Color("241")

	return &TableFormatter{
		headerStyle: lipgloss.NewStyle().
			Foreground(purple).
			Bold(true).
			Align(lipgloss.Center).
			Padding(0, 1),
		cellStyle: lipgloss.NewStyle().
			Padding(0, 1).
			Width(20),
		oddRowStyle: lipgloss.NewStyle().
			Foreground(gray).
			Padding(0, 1).
			Width(20),
		evenRowStyle: lipgloss.NewStyle().
			Foreground(lightGray).
			Padding(0, 1).
			Width(20),
		borderStyle: lipgloss.NewStyle().
			Foreground(purple),
	}
}

func (f *TableFormatter) FormatCapabilities(capabilities []catalog.Capability) (string, error) {
	if len(capabilities) == 0 {
		return "No modules found", nil
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(f.borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return f.headerStyle
			case row%2 == 0:
				return f.evenRowStyle
			default:
				return f.oddRowStyle
			}
		}).
		Headers("ID", "Name", "Status", "Tags")

	for _, c := range capabilities {
		t.Row(
			c.ID,
			truncateString(c.Name, 20),
			string(c.Status),
			truncateString(strings.Join(c.Tags, ", "), 25),
		)
	}

	return t.String(), nil
}

func (f *TableFormatter) FormatCapability(c *catalog.Capability) (string, error) {
	if c == nil {
		return "No module found", nil
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(f.borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return f.headerStyle
			}
			return f.cellStyle
		})

	t.Row("ID", c.ID)
	t.Row("Name", c.Name)
	t.Row("Status", string(c.Status))
	t.Row("Description", truncateString(c.Description, 60))
	t.Row("Tags", strings.Join(c.Tags, ", "))

	return t.String(), nil
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
