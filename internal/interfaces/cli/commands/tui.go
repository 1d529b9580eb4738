package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/gowikimark/gowikimark/pkg/gowikimark"
)

// NewTUICommand creates the interactive page browser.
func NewTUICommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tui [files...]",
		Short: "Browse and preview pages interactively",
		Long: `Launch a terminal UI to browse pages, preview their rendered HTML and
switch syntax handlers on and off.

Pages come from --pages-dir, or from the files given as arguments.

Examples:
  gowikimark tui --pages-dir wiki
  gowikimark tui Main.txt Other.txt`,
		Args: cobra.ArbitraryArgs,
		RunE: runTUI,
	}
}

func runTUI(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	engine, err := newEngine(cmd, engineFlags{})
	if err != nil {
		return err
	}
	defer engine.Close(ctx)

	model, err := newTUIModel(ctx, engine, cmd, args)
	if err != nil {
		return fmt.Errorf("failed to initialize TUI: %w", err)
	}
	if _, err := tea.NewProgram(model, tea.WithAltScreen()).Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

type viewType int

const (
	viewPages viewType = iota
	viewPreview
	viewHandlers
	viewHelp
)

type tuiPage struct {
	name    string
	content string
	// loaded pages carry their content; directory pages are read on render.
	loaded bool
}

type tuiModel struct {
	ctx    context.Context
	engine *gowikimark.Engine
	opts   gowikimark.ParseOptions

	pages   []tuiPage
	handles []gowikimark.HandlerDescriptor

	currentView     viewType
	selectedPage    int
	selectedHandler int
	scroll          int
	width           int
	height          int

	preview   string
	rendering bool
	status    string

	styles *tuiStyles
}

type tuiStyles struct {
	header     lipgloss.Style
	subtitle   lipgloss.Style
	status     lipgloss.Style
	selected   lipgloss.Style
	unselected lipgloss.Style
	disabled   lipgloss.Style
	help       lipgloss.Style
	border     lipgloss.Style
}

func newTUIStyles() *tuiStyles {
	return &tuiStyles{
		header: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212")).
			Background(lipgloss.Color("57")).
			Padding(0, 1),
		subtitle: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		status:   lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		selected: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212")).
			Background(lipgloss.Color("57")).
			Padding(0, 1),
		unselected: lipgloss.NewStyle().Foreground(lipgloss.Color("250")).Padding(0, 1),
		disabled:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		help:       lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1),
	}
}

func newTUIModel(ctx context.Context, engine *gowikimark.Engine, cmd *cobra.Command, args []string) (*tuiModel, error) {
	m := &tuiModel{
		ctx:     ctx,
		engine:  engine,
		opts:    parseOptionsFromFlags(cmd),
		handles: engine.Handlers(),
		status:  "Ready",
		styles:  newTUIStyles(),
	}

	if len(args) > 0 {
		inputs, err := collectInputs(cmd, args)
		if err != nil {
			return nil, err
		}
		for _, in := range inputs {
			m.pages = append(m.pages, tuiPage{name: in.page, content: in.content, loaded: true})
		}
		return m, nil
	}

	names, err := engine.Pages(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		m.pages = append(m.pages, tuiPage{name: name})
	}
	return m, nil
}

type renderDoneMsg struct {
	page     string
	html     string
	duration time.Duration
	cacheHit bool
}

type renderErrorMsg struct{ err error }

// Init implements tea.Model.
func (m *tuiModel) Init() tea.Cmd { return nil }

// Update implements tea.Model.
func (m *tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case renderDoneMsg:
		m.rendering = false
		m.preview = msg.html
		m.scroll = 0
		m.status = fmt.Sprintf("Rendered %s in %s (cache hit: %t)", msg.page, msg.duration.Round(time.Microsecond), msg.cacheHit)
		return m, nil

	case renderErrorMsg:
		m.rendering = false
		m.status = fmt.Sprintf("Render error: %v", msg.err)
		return m, nil
	}
	return m, nil
}

// View implements tea.Model.
func (m *tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	var content string
	switch m.currentView {
	case viewPages:
		content = m.renderPages()
	case viewPreview:
		content = m.renderPreview()
	case viewHandlers:
		content = m.renderHandlers()
	case viewHelp:
		content = m.renderHelp()
	}

	header := m.renderHeader()
	status := m.renderStatus()
	help := m.renderQuickHelp()
	room := m.height - lipgloss.Height(header) - lipgloss.Height(status) - lipgloss.Height(help) - 2
	if room > 0 {
		if lines := strings.Split(content, "\n"); len(lines) > room {
			content = strings.Join(lines[:room], "\n")
		}
	}
	return lipgloss.JoinVertical(lipgloss.Left, header, content, status, help)
}

func (m *tuiModel) renderHeader() string {
	title := m.styles.header.Render("gowikimark")
	sub := fmt.Sprintf("%d pages", len(m.pages))
	disabled := 0
	for _, h := range m.handles {
		if !h.Enabled {
			disabled++
		}
	}
	if disabled > 0 {
		sub += fmt.Sprintf(" • %d handlers disabled", disabled)
	}
	return lipgloss.JoinVertical(lipgloss.Left, title, m.styles.subtitle.Render(sub))
}

func (m *tuiModel) renderStatus() string {
	status := m.status
	if m.rendering {
		status = "Rendering..."
	}
	return m.styles.status.Width(m.width).Render(status)
}

func (m *tuiModel) renderQuickHelp() string {
	var help string
	switch m.currentView {
	case viewPages:
		help = "↑/↓: navigate • enter: preview • t: handlers • h: help • q: quit"
	case viewPreview:
		help = "↑/↓: scroll • r: re-render • b: back • q: quit"
	case viewHandlers:
		help = "↑/↓: navigate • space: toggle • b: back • q: quit"
	case viewHelp:
		help = "b: back • q: quit"
	}
	return m.styles.help.Width(m.width).Render(help)
}

func (m *tuiModel) frame(content string) string {
	return m.styles.border.Width(max(m.width-2, 10)).Render(content)
}

func (m *tuiModel) renderPages() string {
	if len(m.pages) == 0 {
		return m.frame("No pages found. Use --pages-dir or pass files.")
	}
	items := make([]string, 0, len(m.pages))
	for i, p := range m.pages {
		style := m.styles.unselected
		if i == m.selectedPage {
			style = m.styles.selected
		}
		items = append(items, style.Render(p.name))
	}
	return m.frame(strings.Join(items, "\n"))
}

func (m *tuiModel) renderPreview() string {
	lines := strings.Split(m.preview, "\n")
	if m.scroll < len(lines) {
		lines = lines[m.scroll:]
	}
	return m.frame(strings.Join(lines, "\n"))
}

func (m *tuiModel) renderHandlers() string {
	items := make([]string, 0, len(m.handles))
	for i, h := range m.handles {
		label := fmt.Sprintf("%-24s %4d  %s", h.ID, h.Priority, enabledLabel(h.Enabled))
		style := m.styles.unselected
		if !h.Enabled {
			style = style.Inherit(m.styles.disabled)
		}
		if i == m.selectedHandler {
			style = m.styles.selected
		}
		items = append(items, style.Render(label))
	}
	return m.frame(strings.Join(items, "\n"))
}

func (m *tuiModel) renderHelp() string {
	return m.frame(`gowikimark TUI

Pages:
  ↑/↓ or j/k    Select a page
  Enter         Render and preview it
  t             Handler list

Preview:
  ↑/↓ or j/k    Scroll
  r             Re-render the page

Handlers:
  Space         Enable or disable the selected handler

General:
  b or Esc      Back
  q or Ctrl+C   Quit`)
}

func (m *tuiModel) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit

	case "h", "?":
		m.currentView = viewHelp

	case "b", "esc":
		m.currentView = viewPages

	case "t":
		if m.currentView == viewPages {
			m.currentView = viewHandlers
		}

	case "enter":
		if m.currentView == viewPages && len(m.pages) > 0 && !m.rendering {
			m.currentView = viewPreview
			return m, m.renderSelected()
		}

	case "r":
		if m.currentView == viewPreview && !m.rendering {
			return m, m.renderSelected()
		}

	case " ", "space":
		if m.currentView == viewHandlers && len(m.handles) > 0 {
			m.toggleHandler()
		}

	case "up", "k":
		m.move(-1)

	case "down", "j":
		m.move(1)
	}
	return m, nil
}

func (m *tuiModel) move(delta int) {
	switch m.currentView {
	case viewPages:
		m.selectedPage = clamp(m.selectedPage+delta, len(m.pages))
	case viewHandlers:
		m.selectedHandler = clamp(m.selectedHandler+delta, len(m.handles))
	case viewPreview:
		m.scroll = clamp(m.scroll+delta, strings.Count(m.preview, "\n")+1)
	}
}

func clamp(i, n int) int {
	if i >= n {
		i = n - 1
	}
	if i < 0 {
		i = 0
	}
	return i
}

func (m *tuiModel) toggleHandler() {
	h := m.handles[m.selectedHandler]
	var err error
	if h.Enabled {
		err = m.engine.DisableHandler(m.ctx, h.ID)
	} else {
		err = m.engine.EnableHandler(m.ctx, h.ID)
	}
	if err != nil {
		m.status = fmt.Sprintf("Toggle failed: %v", err)
		return
	}
	m.handles = m.engine.Handlers()
	m.status = fmt.Sprintf("%s %s", h.ID, enabledLabel(!h.Enabled))
}

func (m *tuiModel) renderSelected() tea.Cmd {
	m.rendering = true
	page := m.pages[m.selectedPage]
	engine, ctx, opts := m.engine, m.ctx, m.opts
	opts.PageName = page.name
	return func() tea.Msg {
		var (
			res *gowikimark.Result
			err error
		)
		if page.loaded {
			res, err = engine.Parse(ctx, page.content, opts)
		} else {
			res, err = engine.ParsePage(ctx, page.name, opts)
		}
		if err != nil {
			return renderErrorMsg{err: err}
		}
		return renderDoneMsg{page: page.name, html: res.HTML, duration: res.Duration, cacheHit: res.CacheHit}
	}
}
