// Package replayui renders backlog push progress in the terminal.
package replayui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/sheiva/sheiva-cloud/internal/backlog"
)

type Config struct {
	QueueURL    string
	BacklogFile string
	Concurrency int
	Total       int
}

type logEntry struct {
	timestamp time.Time
	message   string
	success   bool
}

type model struct {
	config Config

	spinner     spinner.Model
	progress    progress.Model
	sent        int
	succeeded   int
	failed      int
	urls        int
	recentLogs  []logEntry
	errors      []string
	latencies   []time.Duration
	startTime   time.Time
	currentTime time.Time
	isComplete  bool
	pushErr     error
	width       int
}

type tickMsg time.Time
type resultMsg backlog.Result
type completeMsg struct{ err error }

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212")).
			Background(lipgloss.Color("235")).
			Padding(0, 1).
			MarginBottom(1)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	valueStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("111"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2).
			MarginBottom(1)
)

func newModel(cfg Config) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return model{
		config:     cfg,
		spinner:    s,
		progress:   progress.New(progress.WithDefaultGradient()),
		recentLogs: make([]logEntry, 0, 20),
		startTime:  time.Now(),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progress.Width = msg.Width - 4
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		return m, nil

	case tickMsg:
		m.currentTime = time.Time(msg)
		if !m.isComplete {
			return m, tickCmd()
		}
		return m, nil

	case resultMsg:
		m.sent++
		m.latencies = append(m.latencies, msg.Duration)

		entry := logEntry{timestamp: time.Now(), success: msg.Err == nil}
		if msg.Err == nil {
			m.succeeded++
			m.urls += msg.URLs
			entry.message = fmt.Sprintf("Entry %d: %d links -> %s (%v)", msg.Index, msg.URLs, msg.BucketKey, msg.Duration.Round(time.Millisecond))
		} else {
			m.failed++
			entry.message = fmt.Sprintf("Entry %d failed: %v", msg.Index, msg.Err)
			m.errors = append([]string{fmt.Sprintf("[%s] %v", msg.BucketKey, msg.Err)}, m.errors...)
			if len(m.errors) > 5 {
				m.errors = m.errors[:5]
			}
		}
		m.recentLogs = append([]logEntry{entry}, m.recentLogs...)
		if len(m.recentLogs) > 10 {
			m.recentLogs = m.recentLogs[:10]
		}
		return m, nil

	case completeMsg:
		m.isComplete = true
		m.pushErr = msg.err
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m model) fraction() float64 {
	if m.config.Total == 0 {
		return 1
	}
	return float64(m.sent) / float64(m.config.Total)
}

func (m model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Backlog replay") + "\n")

	text := fmt.Sprintf("Progress: %d/%d entries (%.1f%%)", m.sent, m.config.Total, m.fraction()*100)
	if m.isComplete {
		text = "✓ " + text
	} else {
		text = m.spinner.View() + " " + text
	}
	b.WriteString(text + "\n")
	b.WriteString(m.progress.ViewAs(m.fraction()) + "\n\n")

	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, m.renderConfigPanel(), m.renderStatsPanel()) + "\n")
	b.WriteString(m.renderLogPanel() + "\n")

	if len(m.errors) > 0 {
		b.WriteString(m.renderErrorPanel() + "\n")
	}

	switch {
	case m.isComplete && m.pushErr != nil:
		b.WriteString(errorStyle.Render("\n✗ " + m.pushErr.Error() + ". Press 'q' to quit"))
	case m.isComplete:
		b.WriteString(successStyle.Render("\n✓ Replay complete! Press 'q' to quit"))
	default:
		b.WriteString(labelStyle.Render("\nPress 'q' to quit"))
	}
	return b.String()
}

func (m model) renderConfigPanel() string {
	queueURL := m.config.QueueURL
	if len(queueURL) > 30 {
		queueURL = "..." + queueURL[len(queueURL)-27:]
	}

	content := fmt.Sprintf(
		"%s\n  %s %s\n  %s %s\n  %s %s",
		labelStyle.Render("Configuration:"),
		labelStyle.Render("Queue:"),
		valueStyle.Render(queueURL),
		labelStyle.Render("Backlog:"),
		valueStyle.Render(m.config.BacklogFile),
		labelStyle.Render("Workers:"),
		valueStyle.Render(fmt.Sprintf("%d", m.config.Concurrency)),
	)
	return boxStyle.Width(44).Render(content)
}

func (m model) renderStatsPanel() string {
	elapsed := m.currentTime.Sub(m.startTime)
	if elapsed <= 0 {
		elapsed = time.Since(m.startTime)
	}

	content := fmt.Sprintf(
		"%s %s\n%s %s\n%s %s\n%s %s\n\n%s\n%s",
		labelStyle.Render("Succeeded:"),
		successStyle.Render(fmt.Sprintf("%d", m.succeeded)),
		labelStyle.Render("Failed:"),
		errorStyle.Render(fmt.Sprintf("%d", m.failed)),
		labelStyle.Render("Links queued:"),
		valueStyle.Render(fmt.Sprintf("%d", m.urls)),
		labelStyle.Render("Elapsed:"),
		valueStyle.Render(elapsed.Round(time.Second).String()),
		labelStyle.Render("Recent latency:"),
		m.renderLatencySparkline(),
	)
	return boxStyle.Width(40).Render(content)
}

func (m model) renderLatencySparkline() string {
	if len(m.latencies) == 0 {
		return labelStyle.Render("  No data yet...")
	}

	recent := m.latencies[max(0, len(m.latencies)-30):]
	lo, hi := recent[0], recent[0]
	for _, l := range recent {
		lo = min(lo, l)
		hi = max(hi, l)
	}

	bars := []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}
	var sparkline strings.Builder
	sparkline.WriteString("  ")
	for _, l := range recent {
		normalized := 0.5
		if hi > lo {
			normalized = float64(l-lo) / float64(hi-lo)
		}
		idx := min(len(bars)-1, max(0, int(normalized*float64(len(bars)-1))))
		sparkline.WriteRune(bars[idx])
	}
	return valueStyle.Render(sparkline.String())
}

func (m model) renderLogPanel() string {
	var logs strings.Builder
	logs.WriteString(labelStyle.Render("Recent Activity:") + "\n\n")

	if len(m.recentLogs) == 0 {
		logs.WriteString(labelStyle.Render("  No activity yet..."))
	}
	for _, entry := range m.recentLogs {
		style, icon := successStyle, "✓"
		if !entry.success {
			style, icon = errorStyle, "✗"
		}
		logs.WriteString(fmt.Sprintf("  %s %s %s\n",
			labelStyle.Render(entry.timestamp.Format("15:04:05.000")),
			style.Render(icon),
			entry.message,
		))
	}
	return boxStyle.Width(86).Render(logs.String())
}

func (m model) renderErrorPanel() string {
	var list strings.Builder
	list.WriteString(errorStyle.Render("⚠ Recent Errors:") + "\n\n")
	for _, err := range m.errors {
		list.WriteString(fmt.Sprintf("  %s %s\n", errorStyle.Render("•"), err))
	}
	return boxStyle.Width(86).Render(list.String())
}

// Run shows the progress of push until the user quits. push receives the
// callback to report each result through and runs in its own goroutine.
// Quitting the UI early returns an error without waiting for push.
func Run(ctx context.Context, cfg Config, push func(progress func(backlog.Result)) error) error {
	p := tea.NewProgram(newModel(cfg), tea.WithAltScreen(), tea.WithContext(ctx))

	done := make(chan error, 1)
	go func() {
		err := push(func(r backlog.Result) { p.Send(resultMsg(r)) })
		p.Send(completeMsg{err: err})
		done <- err
	}()

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("running replay UI: %w", err)
	}

	select {
	case err := <-done:
		return err
	default:
		return errors.New("replay UI closed before all entries were pushed")
	}
}
