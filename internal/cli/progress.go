package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/volley/internal/controller"
	"github.com/volley/internal/stats"
)

const barWidth = 30

// statusSource reports live batch progress.
type statusSource interface {
	Status() controller.Status
}

// progressTickMsg is sent every 100ms while the batch runs
type progressTickMsg time.Time

// batchDoneMsg is sent once the controller returned
type batchDoneMsg struct{}

func progressTick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return progressTickMsg(t)
	})
}

// progressModel renders a one-screen view of a running batch.
type progressModel struct {
	source    statusSource
	total     int64
	interrupt context.CancelFunc
	spinner   spinner.Model
	status    controller.Status
	stopping  bool
	done      bool
}

func newProgressModel(source statusSource, total int64, interrupt context.CancelFunc) progressModel {
	return progressModel{
		source:    source,
		total:     total,
		interrupt: interrupt,
		spinner:   spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(accentStyle)),
	}
}

func (m progressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, progressTick())
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			// The batch cancels its calls and reports back through batchDoneMsg.
			if !m.stopping {
				m.stopping = true
				m.interrupt()
			}
		}
		return m, nil

	case progressTickMsg:
		if m.done {
			return m, nil
		}
		m.status = m.source.Status()
		return m, progressTick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case batchDoneMsg:
		m.status = m.source.Status()
		m.done = true
		return m, tea.Quit
	}

	return m, nil
}

func (m progressModel) View() string {
	var b strings.Builder

	icon := m.spinner.View()
	if m.done {
		icon = successStyle.Render("✓")
	}
	label := "running"
	if m.stopping {
		label = "stopping"
	}

	ratio := 0.0
	if m.total > 0 {
		ratio = float64(m.status.Finished) / float64(m.total)
	}
	filled := int(ratio * barWidth)
	if filled > barWidth {
		filled = barWidth
	}

	fmt.Fprintf(&b, "\n%s %s %s%s %s\n",
		icon,
		labelStyle.Render(label),
		accentStyle.Render(strings.Repeat("█", filled)),
		dimStyle.Render(strings.Repeat("░", barWidth-filled)),
		valueStyle.Render(fmt.Sprintf("%d/%d", m.status.Finished, m.total)))
	fmt.Fprintf(&b, "  %s\n", dimStyle.Render(fmt.Sprintf(
		"submitted %d · workers %d · active %d · queued %d · saturated retries %d",
		m.status.Submitted, m.status.Workers, m.status.ActiveWorkers, m.status.Queued, m.status.SaturatedRetries)))
	return b.String()
}

// runWithProgress runs the batch while a bubbletea program polls its status.
// Pressing ctrl+c or q cancels the batch through interrupt.
func runWithProgress(ctx context.Context, interrupt context.CancelFunc, ctl *controller.Controller, total int64, out io.Writer) (stats.Snapshot, error) {
	prog := tea.NewProgram(newProgressModel(ctl, total, interrupt), tea.WithOutput(out))

	var (
		snap   stats.Snapshot
		runErr error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		snap, runErr = ctl.Run(ctx)
		prog.Send(batchDoneMsg{})
	}()

	if _, err := prog.Run(); err != nil {
		interrupt()
		<-done
		return snap, errors.Join(runErr, fmt.Errorf("progress view: %w", err))
	}
	<-done
	return snap, runErr
}
