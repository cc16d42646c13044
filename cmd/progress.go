package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// doneMsg carries the run result into the TUI so it can quit cleanly.
type doneMsg struct {
	summary *RunSummary
	err     error
}

var (
	stageStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00D9FF")).
			Bold(true)

	fileStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#C3C3C3"))
)

// progressModel renders the interactive run view: current state, current
// file and an overall progress bar across the matched file list. Debug
// runs skip the TUI entirely and use plain log output.
type progressModel struct {
	spinner   spinner.Model
	bar       progress.Model
	state     State
	file      string
	fileIndex int
	fileCount int
	startTime time.Time
	width     int
	done      bool
	summary   *RunSummary
	err       error
	cancel    context.CancelFunc
}

func newProgressModel(cancel context.CancelFunc) progressModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4"))

	return progressModel{
		spinner:   s,
		bar:       progress.New(progress.WithDefaultGradient()),
		state:     StateInit,
		startTime: time.Now(),
		cancel:    cancel,
	}
}

func (m progressModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = msg.Width - 10
		if m.bar.Width > 60 {
			m.bar.Width = 60
		}
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			m.cancel()
			return m, nil
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progressEvent:
		m.state = msg.state
		m.file = msg.file
		m.fileIndex = msg.fileIndex
		m.fileCount = msg.fileCount
		return m, nil

	case doneMsg:
		m.done = true
		m.summary = msg.summary
		m.err = msg.err
		return m, tea.Quit

	case progress.FrameMsg:
		bar, cmd := m.bar.Update(msg)
		m.bar = bar.(progress.Model)
		return m, cmd
	}

	return m, nil
}

func (m progressModel) View() string {
	if m.done {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("\n")
	sb.WriteString(titleStyle.Render("ETL Pipeline"))
	sb.WriteString("\n\n")

	stage := string(m.state)
	switch m.state {
	case StateFetching, StateExpanding, StateLoading, StateFinalizing:
		stage = fmt.Sprintf("%s %s", m.state, fileStyle.Render(m.file))
	}
	sb.WriteString(fmt.Sprintf("%s %s\n\n", m.spinner.View(), stageStyle.Render(stage)))

	if m.fileCount > 0 {
		percent := float64(m.fileIndex) / float64(m.fileCount)
		sb.WriteString(m.bar.ViewAs(percent))
		sb.WriteString(fmt.Sprintf("  %d/%d files\n", m.fileIndex, m.fileCount))
	}

	sb.WriteString(fileStyle.Render(fmt.Sprintf("\nElapsed: %s\n",
		time.Since(m.startTime).Round(time.Second))))
	return sb.String()
}

// runWithProgressUI drives the pipeline under the bubbletea view. The run
// itself executes on a goroutine and reports back through messages; the
// UI owns the terminal until the run finishes or is cancelled.
func runWithProgressUI(ctx context.Context, pipeline *Pipeline) (*RunSummary, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	program := tea.NewProgram(newProgressModel(cancel))
	pipeline.SetEventSink(func(e progressEvent) {
		program.Send(e)
	})

	go func() {
		summary, err := pipeline.Run(ctx)
		program.Send(doneMsg{summary: summary, err: err})
	}()

	final, uiErr := program.Run()
	if uiErr != nil {
		return nil, fmt.Errorf("progress UI failed: %w", uiErr)
	}

	m := final.(progressModel)
	return m.summary, m.err
}
