package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/sevigo/pr-warden/internal/app"
	"github.com/sevigo/pr-warden/internal/core"
	"github.com/sevigo/pr-warden/internal/storage"
)

const (
	banner      = "pr-warden · review runs console"
	defaultRuns = 25
)

const helpText = `
  /runs [n]        List the n most recent review runs (default 25).
  /show [id]       Show one run and the review it posted.
  /sweep           Mark runs stuck in queued or running as failed.
  /help            Show this help message.
  /exit, /quit     Leave the console.`

type model struct {
	styles  styles
	tools   *app.Tools
	cleanup func()

	viewport  viewport.Model
	textarea  textarea.Model
	spinner   spinner.Model
	isLoading bool
	width     int

	history  []string
	lastRuns []storage.RunOverview
}

func initialModel(theme ThemeName) *model {
	styles := GetTheme(theme)
	ta := textarea.New()
	ta.Placeholder = "Enter a command, /help for the list..."
	ta.Focus()
	ta.Prompt = styles.prompt.Render("► ")
	ta.CharLimit = 200
	ta.SetWidth(50)
	ta.SetHeight(1)
	ta.ShowLineNumbers = false

	sp := spinner.New()
	sp.Spinner = spinner.Points
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("51"))

	return &model{
		styles:    styles,
		textarea:  ta,
		spinner:   sp,
		isLoading: true,
		width:     80,
		history:   []string{styles.banner.Render(banner), "", "Connecting to the run store..."},
	}
}

// close releases the database handle once the program exits.
func (m *model) close() {
	if m.cleanup != nil {
		m.cleanup()
	}
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(initializeToolsCmd(), m.spinner.Tick)
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
		spCmd tea.Cmd
	)

	m.textarea, tiCmd = m.textarea.Update(msg)
	m.viewport, vpCmd = m.viewport.Update(msg)
	m.spinner, spCmd = m.spinner.Update(msg)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			input := strings.TrimSpace(m.textarea.Value())
			m.textarea.Reset()
			if input == "" {
				return m, nil
			}
			return m, m.processCommand(input)
		}

	case toolsReadyMsg:
		m.isLoading = false
		if msg.err != nil {
			m.appendLines("", m.styles.error.Render("Could not start: "+msg.err.Error()))
			return m, nil
		}
		m.tools = msg.tools
		m.cleanup = msg.cleanup
		m.appendLines("", m.styles.success.Render("✓ connected ("+msg.tools.Cfg.Database.Driver+")"),
			m.styles.inactive.Render("Type /help for commands."))
		m.isLoading = true
		return m, tea.Batch(m.spinner.Tick, loadRunsCmd(m.tools, defaultRuns))

	case runsLoadedMsg:
		m.isLoading = false
		if msg.err != nil {
			m.appendLines("", m.styles.error.Render("Could not load runs: "+msg.err.Error()))
			return m, nil
		}
		m.lastRuns = msg.runs
		m.appendLines("", m.renderRuns(msg.runs))
		return m, nil

	case runDetailMsg:
		m.isLoading = false
		if msg.err != nil {
			m.appendLines("", m.styles.error.Render("⚠ "+msg.err.Error()))
			return m, nil
		}
		m.appendLines("", m.renderRun(msg.run, msg.comment))
		return m, nil

	case sweptMsg:
		m.isLoading = false
		switch {
		case msg.err != nil:
			m.appendLines("", m.styles.error.Render("Sweep failed: "+msg.err.Error()))
		case msg.count == 0:
			m.appendLines("", m.styles.success.Render("✓ no stale runs"))
		default:
			m.appendLines("", m.styles.prompt.Render(fmt.Sprintf("marked %d stale run(s) as failed", msg.count)))
		}
		return m, nil

	case errorMsg:
		m.isLoading = false
		m.appendLines("", m.styles.error.Render("⚠ "+msg.err.Error()))
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.viewport.Width = msg.Width - 4
		m.viewport.Height = msg.Height - 8
		m.textarea.SetWidth(msg.Width - 10)
		m.viewport.SetContent(strings.Join(m.history, "\n"))
	}

	return m, tea.Batch(tiCmd, vpCmd, spCmd)
}

func (m *model) View() string {
	if m.tools == nil && m.isLoading {
		return fmt.Sprintf("\n  %s connecting...\n\n", m.spinner.View())
	}

	var statusParts []string
	if m.tools != nil {
		cfg := m.tools.Cfg
		statusParts = append(statusParts,
			"DB: "+cfg.Database.Driver,
			fmt.Sprintf("STALE: queued>%s running>%s", cfg.Worker.StaleQueued, cfg.Worker.StaleRunning))
		if cfg.Agent.Model != "" {
			statusParts = append(statusParts, "MODEL: "+cfg.Agent.Model)
		}
	}
	statusParts = append(statusParts, fmt.Sprintf("RUNS SHOWN: %d", len(m.lastRuns)))
	status := m.styles.inactive.Render(strings.Join(statusParts, " │ "))

	var loadingIndicator string
	if m.isLoading {
		loadingIndicator = " " + m.spinner.View() + " " + m.styles.success.Render("WORKING...")
	}

	return m.styles.app.Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.styles.viewport.Render(m.viewport.View()),
			"",
			m.styles.footer.Render(
				lipgloss.JoinHorizontal(lipgloss.Left,
					m.textarea.View(),
					loadingIndicator,
				),
			),
			status,
		),
	)
}

func (m *model) appendLines(lines ...string) {
	m.history = append(m.history, lines...)
	m.viewport.SetContent(strings.Join(m.history, "\n"))
	m.viewport.GotoBottom()
}

func (m *model) processCommand(input string) tea.Cmd {
	m.appendLines(m.styles.prompt.Render("► ") + input)

	command, args := parseCommand(input)
	switch command {
	case "/help", "/h":
		m.appendLines("", m.styles.success.Render("AVAILABLE COMMANDS:")+helpText)
		return nil
	case "/exit", "/quit", "/q":
		return tea.Quit
	}

	if m.tools == nil {
		m.appendLines("", m.styles.error.Render("Not connected to the run store."))
		return nil
	}

	switch command {
	case "/runs", "/ls":
		limit := defaultRuns
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n <= 0 {
				m.appendLines("", m.styles.error.Render("USAGE: /runs [n]"))
				return nil
			}
			limit = n
		}
		m.isLoading = true
		return tea.Batch(m.spinner.Tick, loadRunsCmd(m.tools, limit))

	case "/show":
		id, err := parseRunID(args)
		if err != nil {
			m.appendLines("", m.styles.error.Render("USAGE: /show [run id]"))
			return nil
		}
		m.isLoading = true
		return tea.Batch(m.spinner.Tick, showRunCmd(m.tools, id))

	case "/sweep":
		m.isLoading = true
		m.appendLines(m.styles.command.Render("→ sweeping stale runs..."))
		return tea.Batch(m.spinner.Tick, sweepCmd(m.tools))

	default:
		m.appendLines("", m.styles.error.Render("UNKNOWN COMMAND: "+command), m.styles.inactive.Render("Type /help for assistance."))
		return nil
	}
}

func (m *model) renderRuns(runs []storage.RunOverview) string {
	if len(runs) == 0 {
		return m.styles.inactive.Render("No review runs recorded yet.")
	}
	var b strings.Builder
	b.WriteString(m.styles.heading.Render("RECENT RUNS"))
	for _, r := range runs {
		fmt.Fprintf(&b, "\n  %-6d %-12s %s#%d  %s  %s",
			r.ID,
			m.styles.status(r.Status),
			r.RepoFullName, r.Number,
			m.styles.inactive.Render(shortSHA(r.HeadSHA)),
			m.styles.inactive.Render(humanize.Time(r.CreatedAt)))
		if r.ErrorMessage != "" {
			b.WriteString("\n         " + m.styles.failed.Render(r.ErrorMessage))
		}
	}
	b.WriteString("\n\n" + m.styles.inactive.Render("Use '/show [id]' to read a review."))
	return b.String()
}

func (m *model) renderRun(run *core.ReviewRun, comment *core.ReviewComment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s\n", m.styles.heading.Render(fmt.Sprintf("RUN %d", run.ID)), m.styles.status(run.Status))
	fmt.Fprintf(&b, "  head %s · created %s", shortSHA(run.HeadSHA), humanize.Time(run.CreatedAt))
	if run.StartedAt != nil {
		fmt.Fprintf(&b, " · started %s", humanize.Time(*run.StartedAt))
	}
	if run.FinishedAt != nil {
		fmt.Fprintf(&b, " · finished %s", humanize.Time(*run.FinishedAt))
	}
	if run.ErrorMessage != "" {
		b.WriteString("\n  " + m.styles.failed.Render(run.ErrorMessage))
	}

	body := run.Summary
	if comment != nil && comment.Body != "" {
		body = comment.Body
	}
	if body == "" {
		b.WriteString("\n\n" + m.styles.inactive.Render("No review text recorded."))
		return b.String()
	}
	b.WriteString("\n" + m.renderMarkdown(body))
	return b.String()
}

func (m *model) renderMarkdown(md string) string {
	wrap := m.width - 8
	if wrap < 40 {
		wrap = 40
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStylePath("dark"),
		glamour.WithWordWrap(wrap),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}

func parseCommand(input string) (string, []string) {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return "", nil
	}
	return strings.ToLower(parts[0]), parts[1:]
}

func parseRunID(args []string) (int64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("expected exactly one run id, got %d", len(args))
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(args[0], "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid run id %q", args[0])
	}
	return id, nil
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
