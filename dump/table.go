package dump

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/root-talis/cassmig/migration"
)

const installedOnLayout = "2006-01-02 15:04:05"

var headers = []string{"Version", "Description", "Type", "Installed on", "State"} // nolint:gochecknoglobals

type styles struct {
	header  lipgloss.Style
	border  lipgloss.Style
	success lipgloss.Style
	pending lipgloss.Style
	failed  lipgloss.Style
	muted   lipgloss.Style
}

// Colors are only emitted when w is a terminal.
func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		header:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("86")),
		border:  r.NewStyle().Foreground(lipgloss.Color("240")),
		success: r.NewStyle().Foreground(lipgloss.Color("42")),
		pending: r.NewStyle().Foreground(lipgloss.Color("75")),
		failed:  r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		muted:   r.NewStyle().Foreground(lipgloss.Color("240")),
	}
}

func (s styles) state(info migration.Info) lipgloss.Style {
	switch {
	case info.Skipped:
		return s.muted
	case info.State == migration.StateApplied, info.State == migration.StateBaseline:
		return s.success
	case info.State == migration.StatePending, info.State == migration.StateOutOfOrder:
		return s.pending
	case info.State == migration.StateFailed:
		return s.failed
	default:
		return s.muted
	}
}

// WriteTable prints infos as a bordered table.
func WriteTable(w io.Writer, infos []migration.Info) error {
	if len(infos) == 0 {
		_, err := fmt.Fprintln(w, "No migrations found")
		return err
	}

	st := newStyles(w)

	rows := make([][]string, 0, len(infos))
	for _, info := range infos {
		installedOn := ""
		if t := info.InstalledOn(); t != nil {
			installedOn = t.UTC().Format(installedOnLayout)
		}
		rows = append(rows, []string{
			info.Version().String(),
			info.Description(),
			string(info.Type()),
			installedOn,
			StateLabel(info),
		})
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	var b strings.Builder
	separator := st.border.Render(separatorLine(widths))

	b.WriteString(separator + "\n")
	writeRow(&b, st, widths, headers, func(int) lipgloss.Style { return st.header })
	b.WriteString(separator + "\n")
	for i, row := range rows {
		info := infos[i]
		writeRow(&b, st, widths, row, func(col int) lipgloss.Style {
			if col == len(headers)-1 {
				return st.state(info)
			}
			return lipgloss.NewStyle()
		})
	}
	b.WriteString(separator + "\n")

	_, err := io.WriteString(w, b.String())
	return err
}

func separatorLine(widths []int) string {
	var b strings.Builder
	b.WriteString("+")
	for _, w := range widths {
		b.WriteString(strings.Repeat("-", w+2))
		b.WriteString("+")
	}
	return b.String()
}

func writeRow(b *strings.Builder, st styles, widths []int, cells []string, style func(col int) lipgloss.Style) {
	bar := st.border.Render("|")

	b.WriteString(bar)
	for i, cell := range cells {
		text := cell
		if cell != "" {
			text = style(i).Render(cell)
		}
		b.WriteString(" ")
		b.WriteString(text)
		b.WriteString(strings.Repeat(" ", widths[i]-lipgloss.Width(text)))
		b.WriteString(" ")
		b.WriteString(bar)
	}
	b.WriteString("\n")
}
