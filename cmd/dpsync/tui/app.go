package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	dpsyncv1 "github.com/vladzaharia/dangerprep-sync/pkg/api/dpsync/v1"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/events"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/logging"
)

// Source is the daemon API the dashboard needs. *client.Client implements it.
type Source interface {
	Status(ctx context.Context, target string) (*dpsyncv1.StatusReply, error)
	Watch(ctx context.Context, target string, kinds ...events.Kind) (<-chan events.Record, error)
	Trigger(ctx context.Context, target string) ([]string, error)
	SetEnabled(ctx context.Context, target string, enabled bool) ([]string, error)
}

// Options configures the dashboard.
type Options struct {
	// Target restricts the dashboard to one target. Empty shows all.
	Target string

	// Refresh is the status poll period.
	Refresh time.Duration
}

// keyMap holds the dashboard key bindings.
type keyMap struct {
	Up      key.Binding
	Down    key.Binding
	Trigger key.Binding
	Toggle  key.Binding
	Refresh key.Binding
	Quit    key.Binding
}

var keys = keyMap{
	Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Trigger: key.NewBinding(key.WithKeys("t"), key.WithHelp("t", "trigger")),
	Toggle:  key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "enable/disable")),
	Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
	Quit:    key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "quit")),
}

// hints renders the help line.
func (k keyMap) hints() string {
	var pairs []string
	for _, b := range []key.Binding{k.Up, k.Down, k.Trigger, k.Toggle, k.Refresh, k.Quit} {
		h := b.Help()
		pairs = append(pairs, h.Key, h.Desc)
	}
	return renderKeyHints(pairs...)
}

// Model is the Bubble Tea model of the watch dashboard.
type Model struct {
	src    Source
	opts   Options
	ctx    context.Context
	cancel context.CancelFunc

	status  *dpsyncv1.StatusReply
	err     error
	cursor  int
	feed    *FeedState
	records <-chan events.Record
	live    bool
	message string
	current map[string]string
	spinner spinner.Model

	width  int
	height int
}

// Messages.
type (
	statusMsg struct {
		reply *dpsyncv1.StatusReply
		err   error
	}
	subscribedMsg struct {
		ch  <-chan events.Record
		err error
	}
	recordMsg     events.Record
	feedClosedMsg struct{}
	tickMsg       struct{}
	actionMsg     struct {
		verb  string
		names []string
		err   error
	}
)

// NewModel returns a dashboard over src.
func NewModel(src Source, opts Options) Model {
	if opts.Refresh <= 0 {
		opts.Refresh = 2 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(accentColor)

	return Model{
		src:     src,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		feed:    NewFeedState(),
		current: make(map[string]string),
		spinner: s,
		width:   100,
		height:  30,
	}
}

// Init starts the status poll and the event subscription.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetchStatus(), m.subscribe(), m.tick(), m.spinner.Tick)
}

func (m Model) fetchStatus() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, 5*time.Second)
		defer cancel()
		r, err := m.src.Status(ctx, m.opts.Target)
		return statusMsg{reply: r, err: err}
	}
}

func (m Model) subscribe() tea.Cmd {
	return func() tea.Msg {
		ch, err := m.src.Watch(m.ctx, m.opts.Target)
		return subscribedMsg{ch: ch, err: err}
	}
}

// listen waits for the next event.
func (m Model) listen() tea.Cmd {
	ch := m.records
	return func() tea.Msg {
		rec, ok := <-ch
		if !ok {
			return feedClosedMsg{}
		}
		return recordMsg(rec)
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.opts.Refresh, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

// selected returns the name of the highlighted target.
func (m Model) selected() string {
	if m.status == nil || m.cursor >= len(m.status.Targets) {
		return ""
	}
	return m.status.Targets[m.cursor].Target
}

func (m Model) trigger(name string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, 5*time.Second)
		defer cancel()
		names, err := m.src.Trigger(ctx, name)
		return actionMsg{verb: "triggered", names: names, err: err}
	}
}

func (m Model) setEnabled(name string, enabled bool) tea.Cmd {
	verb := "disabled"
	if enabled {
		verb = "enabled"
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, 5*time.Second)
		defer cancel()
		names, err := m.src.SetEnabled(ctx, name, enabled)
		return actionMsg{verb: verb, names: names, err: err}
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case statusMsg:
		m.err = msg.err
		if msg.err == nil {
			m.status = msg.reply
			if n := len(m.status.Targets); m.cursor >= n {
				m.cursor = max(n-1, 0)
			}
		}
		return m, nil

	case subscribedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.records = msg.ch
		m.live = true
		return m, m.listen()

	case recordMsg:
		rec := events.Record(msg)
		var cmds []tea.Cmd
		switch rec.Kind {
		case events.KindItemProgress:
			var p events.ItemProgress
			if json.Unmarshal(rec.Data, &p) == nil {
				m.current[p.Target] = p.ItemID
			}
		case events.KindCycleCompleted, events.KindCycleFailed:
			delete(m.current, rec.Target)
			cmds = append(cmds, m.fetchStatus())
		case events.KindTargetAttached, events.KindTargetDetached, events.KindTargetFailed,
			events.KindCycleStarted:
			cmds = append(cmds, m.fetchStatus())
		}
		if e, ok := describe(rec); ok {
			m.feed.Add(e)
		}
		cmds = append(cmds, m.listen())
		return m, tea.Batch(cmds...)

	case feedClosedMsg:
		m.live = false
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.fetchStatus(), m.tick())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case actionMsg:
		switch {
		case msg.err != nil:
			m.message = errorTextStyle.Render(msg.err.Error())
		case len(msg.names) == 0:
			m.message = mutedTextStyle.Render("nothing " + msg.verb)
		default:
			m.message = successTextStyle.Render(msg.verb + " " + strings.Join(msg.names, ", "))
		}
		return m, m.fetchStatus()
	}

	return m, nil
}

// handleKey handles keyboard input.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Quit):
		m.cancel()
		return m, tea.Quit

	case key.Matches(msg, keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil
	case key.Matches(msg, keys.Down):
		if m.status != nil && m.cursor < len(m.status.Targets)-1 {
			m.cursor++
		}
		return m, nil

	case key.Matches(msg, keys.Trigger):
		if name := m.selected(); name != "" {
			return m, m.trigger(name)
		}
		return m, nil
	case key.Matches(msg, keys.Toggle):
		if m.status != nil && m.cursor < len(m.status.Targets) {
			s := m.status.Targets[m.cursor]
			return m, m.setEnabled(s.Target, !s.Enabled)
		}
		return m, nil
	case key.Matches(msg, keys.Refresh):
		return m, m.fetchStatus()
	}

	// Feed pane.
	switch msg.String() {
	case "1":
		m.feed.SetFilterLevel(logging.LevelDebug)
	case "2":
		m.feed.SetFilterLevel(logging.LevelInfo)
	case "3":
		m.feed.SetFilterLevel(logging.LevelWarn)
	case "4":
		m.feed.SetFilterLevel(logging.LevelError)
	case "[":
		m.feed.ScrollUp(m.feedHeight() - 2)
	case "]":
		m.feed.ScrollDown()
	}
	return m, nil
}

func (m Model) syncing() bool {
	if m.status == nil {
		return false
	}
	for _, t := range m.status.Targets {
		if t.Running {
			return true
		}
	}
	return false
}

// feedHeight is what remains below the target table.
func (m Model) feedHeight() int {
	rows := 1
	if m.status != nil {
		rows = len(m.status.Targets)
	}
	// header, divider, column header, rows, divider, message, hints
	return m.height - rows - 6
}

// View renders the dashboard.
func (m Model) View() string {
	now := time.Now()
	var b strings.Builder

	b.WriteString(renderAppHeader(m.status, m.live, now))
	if m.syncing() {
		b.WriteString(" " + m.spinner.View())
	}
	b.WriteString("\n")
	b.WriteString(renderDivider(m.width))
	b.WriteString("\n")

	b.WriteString(renderTargetHeader())
	b.WriteString("\n")
	switch {
	case m.status == nil && m.err != nil:
		b.WriteString(errorTextStyle.Render("  " + m.err.Error()))
		b.WriteString("\n")
	case m.status == nil:
		b.WriteString(mutedTextStyle.Render("  loading..."))
		b.WriteString("\n")
	case len(m.status.Targets) == 0:
		b.WriteString(mutedTextStyle.Render("  no targets configured"))
		b.WriteString("\n")
	default:
		for i, s := range m.status.Targets {
			b.WriteString(renderTargetRow(s, m.current[s.Target], i == m.cursor, m.width, now))
			b.WriteString("\n")
		}
	}

	if h := m.feedHeight(); h >= 3 {
		b.WriteString(renderFeed(m.feed, m.width, h))
		b.WriteString("\n")
	}

	b.WriteString(renderDivider(m.width))
	b.WriteString("\n")
	status := m.message
	if m.status != nil && m.err != nil {
		status = errorTextStyle.Render(fmt.Sprintf("status: %v", m.err))
	}
	b.WriteString(status)
	b.WriteString("\n")
	b.WriteString(keys.hints())
	return b.String()
}
