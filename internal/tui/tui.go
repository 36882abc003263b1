// Package tui renders the interactive terminal file browser. It is a thin
// view over pkg/browser: every state transition goes through the browser,
// and the view only renders snapshots and forwards intents.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/filecove/filecove/pkg/browser"
	"github.com/filecove/filecove/pkg/models"
)

// mode is the active input mode. Prompt modes route keystrokes into the
// text input; browse mode treats them as commands.
type mode int

const (
	modeBrowse mode = iota
	modeSearch
	modeConfirmDelete
	modeRename
	modeMove
	modeCopy
	modeUpload
	modeHelp
)

// layout selects between the detailed list and the compact grid.
type layout int

const (
	layoutList layout = iota
	layoutGrid
)

const (
	gridCellWidth = 22
	statusTTL     = 3 * time.Second
)

// Messages for async operations.

type stateChangedMsg struct{}

type opDoneMsg struct {
	verb   string
	result browser.BatchResult
	err    error
}

type renameDoneMsg struct {
	err error
}

type uploadQueuedMsg struct {
	name string
	err  error
}

// Model is the bubbletea model for the file browser.
type Model struct {
	browser *browser.Browser
	ctx     context.Context
	changes chan struct{}

	snap   browser.Snapshot
	cursor int
	offset int
	mode   mode
	layout layout

	input textinput.Model
	spin  spinner.Model

	width  int
	height int

	status       string
	statusExpiry time.Time
	failures     []browser.ItemOutcome
	failedVerb   string
}

// New creates a model over an already-constructed browser. ctx bounds the
// operations the view starts; cancel it when the program exits.
func New(ctx context.Context, b *browser.Browser) *Model {
	ti := textinput.New()
	ti.CharLimit = 255

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle

	m := &Model{
		browser: b,
		ctx:     ctx,
		changes: make(chan struct{}, 1),
		snap:    b.Snapshot(),
		input:   ti,
		spin:    sp,
		width:   80,
		height:  24,
	}

	// Coalesce change notifications into a single pending wakeup; the
	// update loop re-snapshots, so intermediate states need no delivery.
	b.OnChange(func() {
		select {
		case m.changes <- struct{}{}:
		default:
		}
	})

	return m
}

// Run drives the browser UI until the user quits or ctx is cancelled.
func Run(ctx context.Context, b *browser.Browser) error {
	p := tea.NewProgram(New(ctx, b), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

// Init kicks off the first listing fetch and the change-wakeup loop.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.refreshCmd(), m.waitForChange())
}

// Update handles messages and updates the model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.status != "" && time.Now().After(m.statusExpiry) {
		m.status = ""
	}

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.clampCursor()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case stateChangedMsg:
		m.snap = m.browser.Snapshot()
		m.clampCursor()
		return m, m.waitForChange()

	case opDoneMsg:
		m.snap = m.browser.Snapshot()
		m.clampCursor()
		if msg.err != nil {
			m.setStatus(msg.err.Error())
			return m, nil
		}
		m.failures = msg.result.Failed()
		m.failedVerb = msg.verb
		if len(m.failures) == 0 {
			m.setStatus(fmt.Sprintf("%s %d of %d", msg.verb, len(msg.result), len(msg.result)))
		}
		return m, nil

	case renameDoneMsg:
		m.snap = m.browser.Snapshot()
		if msg.err != nil {
			m.setStatus("rename failed: " + msg.err.Error())
		} else {
			m.setStatus("renamed")
		}
		return m, nil

	case uploadQueuedMsg:
		if msg.err != nil {
			m.setStatus("upload failed: " + msg.err.Error())
		} else {
			m.setStatus("uploading " + msg.name)
		}
		return m, nil

	case tea.KeyMsg:
		switch m.mode {
		case modeBrowse:
			return m.updateBrowse(msg)
		case modeSearch:
			return m.updateSearch(msg)
		case modeConfirmDelete:
			return m.updateConfirmDelete(msg)
		case modeRename, modeMove, modeCopy, modeUpload:
			return m.updatePrompt(msg)
		case modeHelp:
			return m.updateHelp(msg)
		}
	}

	return m, nil
}

// updateBrowse handles command keys in the main browse mode.
func (m *Model) updateBrowse(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit

	case "up", "k":
		m.moveCursor(-m.cursorStep())

	case "down", "j":
		m.moveCursor(m.cursorStep())

	case "left", "h":
		if m.layout == layoutGrid {
			m.moveCursor(-1)
		} else {
			m.navigateUp()
		}

	case "right", "l":
		if m.layout == layoutGrid {
			m.moveCursor(1)
		}

	case "g", "home":
		m.cursor = 0
		m.offset = 0

	case "G", "end":
		if n := len(m.snap.Entries); n > 0 {
			m.cursor = n - 1
			m.scrollToCursor()
		}

	case "pgdown":
		m.moveCursor(m.pageStep())

	case "pgup":
		m.moveCursor(-m.pageStep())

	case "enter":
		if e, ok := m.entryUnderCursor(); ok && e.IsFolder() {
			m.browser.Open(m.ctx, e)
			m.cursor = 0
			m.offset = 0
			m.snap = m.browser.Snapshot()
		}

	case "backspace":
		m.navigateUp()

	case " ":
		if e, ok := m.entryUnderCursor(); ok {
			m.browser.ToggleSelect(e.ID)
			m.snap = m.browser.Snapshot()
		}

	case "esc":
		// First esc clears the selection, second dismisses failures.
		if len(m.snap.Selected) > 0 {
			m.browser.Selection.Clear()
			m.snap = m.browser.Snapshot()
		} else {
			m.failures = nil
		}

	case "v":
		if m.layout == layoutList {
			m.layout = layoutGrid
		} else {
			m.layout = layoutList
		}
		m.offset = 0
		m.scrollToCursor()

	case "/":
		m.mode = modeSearch
		m.input.Placeholder = "search"
		m.input.SetValue(m.snap.Query)
		m.input.CursorEnd()
		m.input.Focus()
		return m, textinput.Blink

	case "d":
		if len(m.snap.Selected) == 0 {
			m.setStatus("nothing selected")
			break
		}
		m.mode = modeConfirmDelete

	case "r":
		if !m.browser.CanRename() {
			m.setStatus("select exactly one entry to rename")
			break
		}
		m.mode = modeRename
		m.input.Placeholder = "new name"
		m.input.SetValue(m.selectedName())
		m.input.CursorEnd()
		m.input.Focus()
		return m, textinput.Blink

	case "m":
		if len(m.snap.Selected) == 0 {
			m.setStatus("nothing selected")
			break
		}
		m.mode = modeMove
		m.input.Placeholder = "destination folder"
		m.input.SetValue("")
		m.input.Focus()
		return m, textinput.Blink

	case "c":
		if len(m.snap.Selected) == 0 {
			m.setStatus("nothing selected")
			break
		}
		m.mode = modeCopy
		m.input.Placeholder = "destination folder"
		m.input.SetValue("")
		m.input.Focus()
		return m, textinput.Blink

	case "u":
		m.mode = modeUpload
		m.input.Placeholder = "local file path"
		m.input.SetValue("")
		m.input.Focus()
		return m, textinput.Blink

	case "ctrl+r":
		m.browser.Refresh(m.ctx)

	case "?":
		m.mode = modeHelp
	}

	return m, nil
}

// updateSearch routes keystrokes into the query input. Every edit goes
// through the debounced search controller; up/down still move the cursor
// so results can be walked while typing.
func (m *Model) updateSearch(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit

	case "esc":
		m.mode = modeBrowse
		m.input.Blur()
		m.input.SetValue("")
		if m.browser.Search.Query() != "" {
			m.browser.Search.SetQuery("")
		}
		return m, nil

	case "enter":
		m.mode = modeBrowse
		m.input.Blur()
		return m, nil

	case "up":
		m.moveCursor(-1)
		return m, nil

	case "down":
		m.moveCursor(1)
		return m, nil

	default:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		m.browser.Search.SetQuery(m.input.Value())
		return m, cmd
	}
}

// updateConfirmDelete waits for an explicit yes before the delete fires.
func (m *Model) updateConfirmDelete(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "y", "Y":
		m.mode = modeBrowse
		return m, m.deleteCmd()
	case "n", "N", "esc", "ctrl+c":
		m.mode = modeBrowse
	}
	return m, nil
}

// updatePrompt handles the rename, move, copy, and upload text prompts.
func (m *Model) updatePrompt(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		m.mode = modeBrowse
		m.input.Blur()
		m.input.SetValue("")
		return m, nil

	case "enter":
		value := strings.TrimSpace(m.input.Value())
		active := m.mode
		m.mode = modeBrowse
		m.input.Blur()
		m.input.SetValue("")
		if value == "" {
			return m, nil
		}
		switch active {
		case modeRename:
			return m, m.renameCmd(value)
		case modeMove:
			return m, m.batchCmd("moved", value, m.browser.MoveSelected)
		case modeCopy:
			return m, m.batchCmd("copied", value, m.browser.CopySelected)
		case modeUpload:
			return m, m.uploadCmd(value)
		}
		return m, nil

	default:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
}

func (m *Model) updateHelp(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "esc", "?", "q":
		m.mode = modeBrowse
	}
	return m, nil
}

// ─── Commands ───────────────────────────────────────────────────────────────

// waitForChange blocks until the browser reports a state change.
func (m *Model) waitForChange() tea.Cmd {
	return func() tea.Msg {
		<-m.changes
		return stateChangedMsg{}
	}
}

func (m *Model) refreshCmd() tea.Cmd {
	return func() tea.Msg {
		m.browser.Refresh(m.ctx)
		return nil
	}
}

func (m *Model) deleteCmd() tea.Cmd {
	return func() tea.Msg {
		result, err := m.browser.DeleteSelected(m.ctx)
		return opDoneMsg{verb: "deleted", result: result, err: err}
	}
}

func (m *Model) batchCmd(verb, dest string, op func(context.Context, string) (browser.BatchResult, error)) tea.Cmd {
	return func() tea.Msg {
		result, err := op(m.ctx, dest)
		return opDoneMsg{verb: verb, result: result, err: err}
	}
}

func (m *Model) renameCmd(name string) tea.Cmd {
	return func() tea.Msg {
		return renameDoneMsg{err: m.browser.RenameSelected(m.ctx, name)}
	}
}

func (m *Model) uploadCmd(path string) tea.Cmd {
	return func() tea.Msg {
		src, err := browser.FileSource(path)
		if err != nil {
			return uploadQueuedMsg{err: err}
		}
		m.browser.UploadFiles(m.ctx, src)
		return uploadQueuedMsg{name: src.Name}
	}
}

// ─── Cursor and scrolling ───────────────────────────────────────────────────

func (m *Model) navigateUp() {
	m.browser.NavigateUp(m.ctx)
	m.cursor = 0
	m.offset = 0
	m.snap = m.browser.Snapshot()
}

// cursorStep is the distance one vertical step covers: a full row of cells
// in the grid, one entry in the list.
func (m *Model) cursorStep() int {
	if m.layout == layoutGrid {
		return m.gridColumns()
	}
	return 1
}

func (m *Model) pageStep() int {
	if m.layout == layoutGrid {
		return m.gridColumns() * m.bodyHeight()
	}
	return m.bodyHeight()
}

func (m *Model) moveCursor(delta int) {
	n := len(m.snap.Entries)
	if n == 0 {
		m.cursor = 0
		m.offset = 0
		return
	}
	m.cursor += delta
	if m.cursor < 0 {
		m.cursor = 0
	}
	if m.cursor >= n {
		m.cursor = n - 1
	}
	m.scrollToCursor()
}

func (m *Model) clampCursor() {
	n := len(m.snap.Entries)
	if n == 0 {
		m.cursor = 0
		m.offset = 0
		return
	}
	if m.cursor >= n {
		m.cursor = n - 1
	}
	m.scrollToCursor()
}

// scrollToCursor adjusts the window so the cursor stays visible. The grid
// keeps the offset aligned to full rows.
func (m *Model) scrollToCursor() {
	rows := m.bodyHeight()
	if m.layout == layoutGrid {
		cols := m.gridColumns()
		curRow := m.cursor / cols
		offRow := m.offset / cols
		if curRow < offRow {
			offRow = curRow
		}
		if curRow >= offRow+rows {
			offRow = curRow - rows + 1
		}
		m.offset = offRow * cols
		return
	}
	if m.cursor < m.offset {
		m.offset = m.cursor
	}
	if m.cursor >= m.offset+rows {
		m.offset = m.cursor - rows + 1
	}
}

// bodyHeight is the entry area height after the header, status, and footer
// lines are taken out.
func (m *Model) bodyHeight() int {
	h := m.height - 6
	if h < 3 {
		h = 3
	}
	return h
}

func (m *Model) gridColumns() int {
	cols := (m.width - 2) / gridCellWidth
	if cols < 1 {
		cols = 1
	}
	return cols
}

// ─── Small helpers ──────────────────────────────────────────────────────────

func (m *Model) entryUnderCursor() (models.FileEntry, bool) {
	if m.cursor < 0 || m.cursor >= len(m.snap.Entries) {
		return models.FileEntry{}, false
	}
	return m.snap.Entries[m.cursor], true
}

// selectedName resolves the single selected id to its display name.
func (m *Model) selectedName() string {
	sel := m.snap.Selected
	if len(sel) != 1 {
		return ""
	}
	for _, e := range m.snap.Entries {
		if e.ID == sel[0] {
			return e.Name
		}
	}
	return ""
}

func (m *Model) isSelected(id string) bool {
	for _, s := range m.snap.Selected {
		if s == id {
			return true
		}
	}
	return false
}

func (m *Model) setStatus(s string) {
	m.status = s
	m.statusExpiry = time.Now().Add(statusTTL)
}
