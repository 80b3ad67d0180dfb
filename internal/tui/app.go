// Package tui provides the interactive terminal UI for Weft: a live action
// event feed and a lock browser, both backed by the daemon's HTTP API.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const pollInterval = 2 * time.Second

var (
	// Colors
	primaryColor = lipgloss.Color("#7C3AED")
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
	fgColor      = lipgloss.Color("#F9FAFB")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	inputBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	completedStyle = lipgloss.NewStyle().Foreground(successColor)
	startedStyle   = lipgloss.NewStyle().Foreground(warningColor)
	failedStyle    = lipgloss.NewStyle().Foreground(errorColor)
	blockedStyle   = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	mutedStyle     = lipgloss.NewStyle().Foreground(mutedColor)
)

// App is the main TUI application model.
type App struct {
	client       *Client
	events       []EventItem
	locks        []LockItem
	input        textinput.Model
	viewport     viewport.Model
	width        int
	height       int
	mode         string // "events", "locks"
	message      string
	daemonOnline bool
}

// New creates a new TUI application.
func New(apiAddr string) *App {
	ti := textinput.New()
	ti.Placeholder = "Type: lock <path> | lock -r <folder> | unlock <path>"
	ti.Focus()
	ti.CharLimit = 256
	ti.Width = 80

	vp := viewport.New(80, 20)

	return &App{
		client:   NewClient(apiAddr),
		input:    ti,
		viewport: vp,
		mode:     "events",
	}
}

// Run starts the TUI application.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Messages produced by async commands.
type eventsMsg []EventItem
type locksMsg []LockItem
type healthMsg bool
type errMsg struct{ err error }
type actionDoneMsg string
type tickMsg time.Time

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		a.fetchEvents(),
		a.fetchLocks(),
		a.checkDaemon(),
		tick(),
	)
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return a, tea.Quit

		case "tab":
			if a.mode == "events" {
				a.mode = "locks"
			} else {
				a.mode = "events"
			}
			a.refreshViewport()
			return a, nil

		case "enter":
			cmd := a.handleCommand(strings.TrimSpace(a.input.Value()))
			a.input.SetValue("")
			if cmd != nil {
				return a, cmd
			}
			return a, nil
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.viewport.Width = msg.Width - 4
		a.viewport.Height = msg.Height - 8
		a.input.Width = msg.Width - 6
		a.refreshViewport()

	case eventsMsg:
		a.events = msg
		if a.mode == "events" {
			a.refreshViewport()
		}

	case locksMsg:
		a.locks = msg
		if a.mode == "locks" {
			a.refreshViewport()
		}

	case healthMsg:
		a.daemonOnline = bool(msg)

	case actionDoneMsg:
		a.message = string(msg)
		cmds = append(cmds, a.fetchLocks())

	case errMsg:
		a.message = msg.err.Error()

	case tickMsg:
		cmds = append(cmds, a.fetchEvents(), a.fetchLocks(), a.checkDaemon(), tick())
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	cmds = append(cmds, cmd)

	a.viewport, cmd = a.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return a, tea.Batch(cmds...)
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	daemon := "daemon: offline"
	if a.daemonOnline {
		daemon = "daemon: online"
	}
	tabName := "EVENTS"
	if a.mode == "locks" {
		tabName = "LOCKS"
	}
	b.WriteString(titleStyle.Render("Weft") + "  " + statusBarStyle.Render(fmt.Sprintf("%s | %s | tab to switch", tabName, daemon)))
	b.WriteString("\n\n")

	b.WriteString(a.viewport.View())
	b.WriteString("\n")

	if a.message != "" {
		b.WriteString(helpStyle.Render(a.message))
		b.WriteString("\n")
	}

	b.WriteString(inputBoxStyle.Render(a.input.View()))
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("ctrl+c quit | tab switch view | enter run command"))

	return b.String()
}

// handleCommand interprets the input line.
func (a *App) handleCommand(line string) tea.Cmd {
	if line == "" {
		return nil
	}
	fields := strings.Fields(line)

	switch fields[0] {
	case "lock":
		recursive := false
		args := fields[1:]
		if len(args) > 0 && args[0] == "-r" {
			recursive = true
			args = args[1:]
		}
		if len(args) == 0 {
			a.message = "usage: lock [-r] <path>"
			return nil
		}
		scope := args[0]
		kind := "file"
		if recursive {
			kind = "folder"
		}
		return a.acquireLock(scope, kind, recursive)

	case "unlock":
		if len(fields) < 2 {
			a.message = "usage: unlock <path>"
			return nil
		}
		return a.releaseLock(fields[1])
	}

	a.message = fmt.Sprintf("unknown command: %s", fields[0])
	return nil
}

// refreshViewport re-renders the active list into the viewport.
func (a *App) refreshViewport() {
	var b strings.Builder
	if a.mode == "locks" {
		if len(a.locks) == 0 {
			b.WriteString(mutedStyle.Render("no locks"))
		}
		for _, l := range a.locks {
			flags := l.Mode
			if l.Recursive {
				flags += ", recursive"
			}
			if l.Inherited {
				flags += ", inherited"
			}
			owner := l.OwnerID
			if owner == "" {
				owner = "global"
			}
			fmt.Fprintf(&b, "%s %s  %s\n", l.ScopeKind, l.Scope, mutedStyle.Render(fmt.Sprintf("(%s, %s)", flags, owner)))
		}
	} else {
		if len(a.events) == 0 {
			b.WriteString(mutedStyle.Render("no events yet"))
		}
		for _, ev := range a.events {
			var style lipgloss.Style
			switch ev.Status {
			case "completed":
				style = completedStyle
			case "started":
				style = startedStyle
			case "blocked":
				style = blockedStyle
			default:
				style = failedStyle
			}
			line := fmt.Sprintf("%s  %s  %s", mutedStyle.Render(ev.Timestamp), style.Render(ev.Status), ev.Summary)
			if ev.Detail != "" {
				line += "  " + mutedStyle.Render(ev.Detail)
			}
			b.WriteString(line + "\n")
		}
	}
	a.viewport.SetContent(b.String())
}

// --- Commands ---

func tick() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (a *App) fetchEvents() tea.Cmd {
	return func() tea.Msg {
		events, err := a.client.ListEvents(100)
		if err != nil {
			return errMsg{err}
		}
		return eventsMsg(events)
	}
}

func (a *App) fetchLocks() tea.Cmd {
	return func() tea.Msg {
		locks, err := a.client.ListLocks()
		if err != nil {
			return errMsg{err}
		}
		return locksMsg(locks)
	}
}

func (a *App) checkDaemon() tea.Cmd {
	return func() tea.Msg {
		return healthMsg(a.client.CheckHealth())
	}
}

func (a *App) acquireLock(scope, kind string, recursive bool) tea.Cmd {
	return func() tea.Msg {
		if err := a.client.AcquireLock(scope, kind, "full", "", recursive); err != nil {
			return errMsg{err}
		}
		return actionDoneMsg("locked " + scope)
	}
}

func (a *App) releaseLock(scope string) tea.Cmd {
	return func() tea.Msg {
		if err := a.client.ReleaseLock(scope, ""); err != nil {
			return errMsg{err}
		}
		return actionDoneMsg("unlocked " + scope)
	}
}
