package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/filecove/filecove/pkg/browser"
	"github.com/filecove/filecove/pkg/models"
)

var (
	barStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	folderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	fileStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	cursorStyle = lipgloss.NewStyle().
			Reverse(true)

	markStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("213")).
			Bold(true)

	spinnerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))
)

// View renders the current view.
func (m *Model) View() string {
	if m.mode == modeHelp {
		return m.viewHelp()
	}

	var b strings.Builder
	b.WriteString(m.viewBreadcrumb())
	b.WriteString("\n")
	b.WriteString(m.viewStatusLine())
	b.WriteString("\n")
	if m.layout == layoutGrid {
		b.WriteString(m.viewGrid())
	} else {
		b.WriteString(m.viewList())
	}
	b.WriteString(m.viewFooter())
	return b.String()
}

// viewBreadcrumb renders the path bar with the selection count on the right.
func (m *Model) viewBreadcrumb() string {
	parts := []string{"filecove"}
	for _, c := range m.snap.Crumbs {
		parts = append(parts, c.Name)
	}
	bar := barStyle.Render(strings.Join(parts, " / "))
	if n := len(m.snap.Selected); n > 0 {
		bar += mutedStyle.Render(fmt.Sprintf("  %d selected", n))
	}
	return bar
}

// viewStatusLine shows, in priority order: a transient status message, the
// loading spinner, a listing error, or the entry count.
func (m *Model) viewStatusLine() string {
	if m.status != "" {
		return statusStyle.Render(m.status)
	}
	if m.snap.State == browser.StateLoading {
		return m.spin.View() + mutedStyle.Render(" loading")
	}
	if m.snap.Err != nil {
		return errorStyle.Render("error: " + m.snap.Err.Error())
	}
	line := fmt.Sprintf("%d entries", len(m.snap.Entries))
	if m.snap.Query != "" {
		line = fmt.Sprintf("%d matches for %q", len(m.snap.Entries), m.snap.Query)
	}
	return mutedStyle.Render(line)
}

// viewList renders one entry per row: marker, name, size, and mtime.
func (m *Model) viewList() string {
	entries := m.snap.Entries
	if len(entries) == 0 {
		return mutedStyle.Render("  empty folder") + strings.Repeat("\n", m.bodyHeight())
	}

	nameWidth := m.width - 36
	if nameWidth < 12 {
		nameWidth = 12
	}

	var b strings.Builder
	end := m.offset + m.bodyHeight()
	if end > len(entries) {
		end = len(entries)
	}
	for i := m.offset; i < end; i++ {
		e := entries[i]

		mark := "  "
		if m.isSelected(e.ID) {
			mark = markStyle.Render("✓") + " "
		}

		name := truncate(e.Name, nameWidth)
		size := "-"
		if !e.IsFolder() {
			size = formatSize(e.Size)
		}
		cols := fmt.Sprintf("%-*s %9s  %s", nameWidth, name, size, e.ModTime.Format("2006-01-02 15:04"))

		var line string
		if i == m.cursor {
			line = "> " + mark + cursorStyle.Render(cols)
		} else if e.IsFolder() {
			line = "  " + mark + folderStyle.Render(cols)
		} else {
			line = "  " + mark + fileStyle.Render(cols)
		}

		b.WriteString(line)
		b.WriteString("\n")
	}
	for i := end - m.offset; i < m.bodyHeight(); i++ {
		b.WriteString("\n")
	}
	return b.String()
}

// viewGrid renders entries as fixed-width cells, folders first as the
// server sorts them.
func (m *Model) viewGrid() string {
	entries := m.snap.Entries
	if len(entries) == 0 {
		return mutedStyle.Render("  empty folder") + strings.Repeat("\n", m.bodyHeight())
	}

	cols := m.gridColumns()
	var b strings.Builder
	rowsDrawn := 0
	for start := m.offset; start < len(entries) && rowsDrawn < m.bodyHeight(); start += cols {
		for col := 0; col < cols; col++ {
			i := start + col
			if i >= len(entries) {
				break
			}
			b.WriteString(m.gridCell(entries[i], i == m.cursor))
		}
		b.WriteString("\n")
		rowsDrawn++
	}
	for ; rowsDrawn < m.bodyHeight(); rowsDrawn++ {
		b.WriteString("\n")
	}
	return b.String()
}

func (m *Model) gridCell(e models.FileEntry, atCursor bool) string {
	mark := " "
	if m.isSelected(e.ID) {
		mark = "✓"
	}
	name := e.Name
	if e.IsFolder() {
		name += "/"
	}
	cell := fmt.Sprintf("%s %-*s", mark, gridCellWidth-3, truncate(name, gridCellWidth-3))

	if atCursor {
		return cursorStyle.Render(cell) + " "
	}
	if e.IsFolder() {
		return folderStyle.Render(cell) + " "
	}
	return fileStyle.Render(cell) + " "
}

// viewFooter stacks the upload progress line, the batch-failure line, and
// either the active prompt or the key help.
func (m *Model) viewFooter() string {
	var b strings.Builder

	if line := uploadLine(m.snap.Uploads); line != "" {
		b.WriteString(line)
		b.WriteString("\n")
	}
	if len(m.failures) > 0 {
		b.WriteString(errorStyle.Render(m.failureLine()))
		b.WriteString("\n")
	}

	switch m.mode {
	case modeConfirmDelete:
		b.WriteString(promptStyle.Render(fmt.Sprintf("delete %d selected item(s)? (y/N)", len(m.snap.Selected))))
	case modeRename:
		b.WriteString(promptStyle.Render("rename to: ") + m.input.View())
	case modeMove:
		b.WriteString(promptStyle.Render("move to: ") + m.input.View())
	case modeCopy:
		b.WriteString(promptStyle.Render("copy to: ") + m.input.View())
	case modeUpload:
		b.WriteString(promptStyle.Render("upload file: ") + m.input.View())
	case modeSearch:
		b.WriteString(promptStyle.Render("/ ") + m.input.View())
	default:
		b.WriteString(mutedStyle.Render("space: select • enter: open • v: view • /: search • d: delete • r: rename • m: move • c: copy • u: upload • ?: help • q: quit"))
	}

	return b.String()
}

// uploadLine summarizes transfers still in flight, capped at three names.
func uploadLine(tasks []browser.UploadTask) string {
	var active []string
	failed := 0
	for _, t := range tasks {
		switch t.Status {
		case browser.UploadPending, browser.UploadUploading:
			active = append(active, fmt.Sprintf("%s %d%%", t.Name, t.Progress))
		case browser.UploadError:
			failed++
		}
	}
	if len(active) == 0 && failed == 0 {
		return ""
	}

	var parts []string
	if len(active) > 0 {
		shown := active
		if len(shown) > 3 {
			shown = append(append([]string(nil), active[:3]...), fmt.Sprintf("+%d more", len(active)-3))
		}
		parts = append(parts, statusStyle.Render("↑ "+strings.Join(shown, "  ")))
	}
	if failed > 0 {
		parts = append(parts, errorStyle.Render(fmt.Sprintf("%d upload(s) failed", failed)))
	}
	return strings.Join(parts, "  ")
}

// failureLine names the entries whose last batch operation failed. Ids with
// no matching listing entry render as the raw id.
func (m *Model) failureLine() string {
	names := make([]string, 0, len(m.failures))
	for _, f := range m.failures {
		name := f.ID
		for _, e := range m.snap.Entries {
			if e.ID == f.ID {
				name = e.Name
				break
			}
		}
		names = append(names, name)
	}
	return fmt.Sprintf("%s failed for %d item(s): %s (esc to dismiss)", m.failedVerb, len(names), strings.Join(names, ", "))
}

func (m *Model) viewHelp() string {
	var b strings.Builder
	b.WriteString(barStyle.Render("filecove browser - help"))
	b.WriteString("\n\n")
	b.WriteString(`Navigation:
  ↑/k ↓/j       Move cursor (grid: also ←/h →/l)
  enter         Open folder
  backspace     Parent folder
  g/G           Jump to first/last entry
  pgup/pgdown   Page

View:
  v             Toggle list and grid layout
  /             Incremental search (debounced; esc clears)
  ctrl+r        Refresh listing

Selection and operations:
  space         Toggle selection
  esc           Clear selection, then dismiss failure notices
  d             Delete selected (asks y/N first)
  r             Rename (exactly one selected)
  m             Move selected to a folder
  c             Copy selected to a folder
  u             Upload a local file into this folder

Failed items of a batch stay selected so the operation can be retried.
`)
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render("esc/?: back • q: quit"))
	return b.String()
}

// formatSize renders a byte count in human-readable units.
func formatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}

// truncate shortens a name to max runes, marking the cut with an ellipsis.
func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max == 1 {
		return "…"
	}
	return string(r[:max-1]) + "…"
}
