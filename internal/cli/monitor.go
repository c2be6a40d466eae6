package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/unklstewy/skycapture/internal/capture"
)

const (
	monitorRefresh  = 2 * time.Second
	monitorLogLines = 8
	progressWidth   = 20
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	activeStyle = lipgloss.NewStyle().Background(lipgloss.Color("237")).Bold(true)
	doneStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	barStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
)

func statusStyle(status string) lipgloss.Style {
	switch status {
	case "Capturing", "Focusing", "Calibrating", "Meridian Flipping":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Bold(true)
	case "Paused", "Suspended":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("226")).Bold(true)
	case "Error", "Aborted":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
}

type (
	tickMsg     time.Time
	snapshotMsg capture.Snapshot
	updateMsg   capture.Update
	streamEnded struct{}
	errMsg      struct{ err error }
)

type snapshotSource interface {
	Snapshot(ctx context.Context) (capture.Snapshot, error)
}

type monitorModel struct {
	source  snapshotSource
	updates <-chan capture.Update

	snap      capture.Snapshot
	haveSnap  bool
	lastImage capture.Update
	guide     capture.Update
	log       []string
	err       error
}

func newMonitorModel(source snapshotSource, updates <-chan capture.Update) monitorModel {
	return monitorModel{source: source, updates: updates}
}

func tick() tea.Cmd {
	return tea.Tick(monitorRefresh, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetchSnapshot(source snapshotSource) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), monitorRefresh)
		defer cancel()
		snap, err := source.Snapshot(ctx)
		if err != nil {
			return errMsg{err}
		}
		return snapshotMsg(snap)
	}
}

func waitForUpdate(updates <-chan capture.Update) tea.Cmd {
	if updates == nil {
		return nil
	}
	return func() tea.Msg {
		u, ok := <-updates
		if !ok {
			return streamEnded{}
		}
		return updateMsg(u)
	}
}

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(fetchSnapshot(m.source), tick(), waitForUpdate(m.updates))
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		case "r":
			return m, fetchSnapshot(m.source)
		}
		return m, nil

	case tickMsg:
		return m, tea.Batch(fetchSnapshot(m.source), tick())

	case snapshotMsg:
		m.snap = capture.Snapshot(msg)
		m.haveSnap = true
		m.err = nil
		return m, nil

	case errMsg:
		m.err = msg.err
		return m, nil

	case updateMsg:
		m.apply(capture.Update(msg))
		return m, waitForUpdate(m.updates)

	case streamEnded:
		m.updates = nil
		m.appendLog("update stream closed")
		return m, nil
	}
	return m, nil
}

func (m *monitorModel) apply(u capture.Update) {
	switch u.Kind {
	case capture.UpdateImage:
		m.lastImage = u
		m.appendLog(fmt.Sprintf("saved %s", u.Path))
	case capture.UpdateGuide:
		m.guide = u
	case capture.UpdateLog:
		m.appendLog(u.Message)
	case capture.UpdateStatus:
		m.snap.Status = u.Status
	}
}

func (m *monitorModel) appendLog(line string) {
	m.log = append(m.log, time.Now().Format("15:04:05")+" "+line)
	if len(m.log) > monitorLogLines {
		m.log = m.log[len(m.log)-monitorLogLines:]
	}
}

func progressBar(completed, count int) string {
	if count <= 0 {
		return strings.Repeat("░", progressWidth)
	}
	filled := completed * progressWidth / count
	return barStyle.Render(strings.Repeat("█", filled)) + strings.Repeat("░", progressWidth-filled)
}

func (m monitorModel) View() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("SKYCAPTURE MONITOR"))
	s.WriteString("\n\n")

	if m.err != nil {
		s.WriteString(errStyle.Render("Error: " + m.err.Error()))
		s.WriteString("\n\n")
	}
	if !m.haveSnap {
		s.WriteString(helpStyle.Render("Waiting for status..."))
		s.WriteString("\n")
		return s.String()
	}

	snap := m.snap
	fmt.Fprintf(&s, "Target: %s   Status: %s   Queue: %s\n",
		headerStyle.Render(snap.Target), statusStyle(snap.Status).Render(snap.Status), snap.Queue)
	fmt.Fprintf(&s, "Progress: %s %.0f%%   Remaining: %s (%s)\n",
		progressBar(int(snap.Progress), 100), snap.Progress, clock(snap.RemainingSeconds), humanDuration(snap.RemainingSeconds))
	if snap.ExposureLeft > 0 {
		fmt.Fprintf(&s, "Exposure left: %.1fs\n", snap.ExposureLeft)
	}
	if snap.FlipStage != "" && snap.FlipStage != "None" {
		fmt.Fprintf(&s, "Meridian flip: %s\n", snap.FlipStage)
	}
	if snap.CalibrationStage != "" && snap.CalibrationStage != "None" {
		fmt.Fprintf(&s, "Calibration: %s\n", snap.CalibrationStage)
	}

	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%-4s %-14s %-9s %-*s %-8s %s", "JOB", "FRAMES", "EXPOSURE", progressWidth, "PROGRESS", "DONE", "STATE")))
	s.WriteString("\n")
	if len(snap.Jobs) == 0 {
		s.WriteString(helpStyle.Render("  Queue is empty"))
		s.WriteString("\n")
	}
	for _, j := range snap.Jobs {
		line := fmt.Sprintf("%-4d %-14s %-9s %s %-8s %s",
			j.ID, jobLabel(j), exposureLabel(j), progressBar(j.Completed, j.Count),
			fmt.Sprintf("%d/%d", j.Completed, j.Count), j.State)
		switch {
		case j.ID == snap.ActiveJobID:
			line = activeStyle.Render(line)
		case j.State == "Complete":
			line = doneStyle.Render(line)
		}
		s.WriteString(line)
		s.WriteString("\n")
	}

	if m.lastImage.Path != "" || m.guide.Kind != "" {
		s.WriteString("\n")
	}
	if m.lastImage.Path != "" {
		fmt.Fprintf(&s, "Last frame: %s  ADU %.0f", m.lastImage.Path, m.lastImage.ADU)
		if m.lastImage.HFR > 0 {
			fmt.Fprintf(&s, "  HFR %.2f", m.lastImage.HFR)
		}
		s.WriteString("\n")
	}
	if m.guide.Kind != "" {
		fmt.Fprintf(&s, "Guiding: RA %.2f\"  DEC %.2f\"  total %.2f\"\n", m.guide.RA, m.guide.Dec, m.guide.Deviation)
	}

	if len(m.log) > 0 {
		s.WriteString("\n")
		s.WriteString(headerStyle.Render("Log"))
		s.WriteString("\n")
		for _, line := range m.log {
			s.WriteString("  " + line + "\n")
		}
	}

	s.WriteString("\n")
	s.WriteString(helpStyle.Render("r: refresh  q: quit"))
	s.WriteString("\n")
	return s.String()
}

func newMonitorCmd(root *Root) *cobra.Command {
	var baseURL string

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Live terminal view of a running capture daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if baseURL == "" {
				cfg, err := root.loadConfig()
				if err != nil {
					return err
				}
				baseURL = localURL(cfg.Server.Port)
			}
			client := newStatusClient(baseURL)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			updates, err := client.Stream(ctx, capture.UpdateImage, capture.UpdateGuide, capture.UpdateLog, capture.UpdateStatus)
			if err != nil {
				// The status poll still works without the stream.
				updates = nil
			}

			p := tea.NewProgram(newMonitorModel(client, updates), tea.WithAltScreen())
			_, err = p.Run()
			return err
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "", "control API base URL (default from config)")
	return cmd
}

func localURL(port string) string {
	if port == "" {
		port = "8080"
	}
	return "http://127.0.0.1:" + port
}
