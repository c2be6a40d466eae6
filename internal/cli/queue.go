package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/spf13/cobra"

	"github.com/unklstewy/skycapture/internal/capture"
)

var queueHeaders = []string{"#", "FRAMES", "EXPOSURE", "DONE", "DELAY", "STATE", "REMAINING"}

func stateColor(state string) tcell.Color {
	switch state {
	case "In Progress":
		return tcell.ColorGreen
	case "Complete":
		return tcell.ColorDarkCyan
	case "Aborted":
		return tcell.ColorYellow
	case "Error":
		return tcell.ColorRed
	}
	return tcell.ColorWhite
}

// fillQueueTable replaces the table contents with one row per job.
func fillQueueTable(table *tview.Table, jobs []capture.JobSnapshot) {
	table.Clear()
	for col, h := range queueHeaders {
		table.SetCell(0, col, tview.NewTableCell(h).
			SetTextColor(tcell.ColorYellow).
			SetSelectable(false).
			SetAttributes(tcell.AttrBold))
	}
	for i, j := range jobs {
		row := i + 1
		delay := ""
		if j.Delay > 0 {
			delay = fmt.Sprintf("%gs", j.Delay)
		}
		cells := []string{
			fmt.Sprintf("%d", j.ID),
			jobLabel(j),
			exposureLabel(j),
			fmt.Sprintf("%d/%d", j.Completed, j.Count),
			delay,
			j.State,
			clock(j.Remaining),
		}
		for col, text := range cells {
			cell := tview.NewTableCell(text)
			if col == 5 {
				cell.SetTextColor(stateColor(j.State))
			}
			if col == 0 || col == 3 || col == 6 {
				cell.SetAlign(tview.AlignRight)
			}
			table.SetCell(row, col, cell)
		}
	}
}

func queueSummary(snap capture.Snapshot) string {
	completed, count := totalFrames(snap.Jobs)
	return fmt.Sprintf("[yellow]Target:[-] %s  [yellow]Status:[-] %s  [yellow]Frames:[-] %d/%d  [yellow]Remaining:[-] %s",
		snap.Target, snap.Status, completed, count, clock(snap.RemainingSeconds))
}

func newQueueCmd(root *Root) *cobra.Command {
	var baseURL string

	cmd := &cobra.Command{
		Use:   "queue [sequence_file]",
		Short: "Browse a capture queue in a table",
		Long: `Show the jobs of a sequence file, or of a running daemon when no file is
given, in a scrollable table. Press r to reload and q to quit.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}

			var load func() (capture.Snapshot, error)
			if len(args) == 1 {
				path := args[0]
				load = func() (capture.Snapshot, error) {
					seq, err := loadPlan(cfg, path)
					if err != nil {
						return capture.Snapshot{}, err
					}
					return seq.Snapshot(), nil
				}
			} else {
				if baseURL == "" {
					baseURL = localURL(cfg.Server.Port)
				}
				client := newStatusClient(baseURL)
				load = func() (capture.Snapshot, error) {
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return client.Snapshot(ctx)
				}
			}

			snap, err := load()
			if err != nil {
				return err
			}
			return runQueueViewer(snap, load)
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "", "control API base URL when no file is given")
	return cmd
}

func runQueueViewer(snap capture.Snapshot, load func() (capture.Snapshot, error)) error {
	app := tview.NewApplication()

	table := tview.NewTable().
		SetBorders(false).
		SetFixed(1, 0).
		SetSelectable(true, false)
	table.SetBorder(true).SetTitle(" Capture Queue ")

	summary := tview.NewTextView().SetDynamicColors(true)
	summary.SetBorder(true).SetTitle(" Sequence ")

	help := tview.NewTextView().
		SetDynamicColors(true).
		SetText("[white]↑/↓[-] select  [white]r[-] reload  [white]q[-] quit")

	show := func(s capture.Snapshot) {
		fillQueueTable(table, s.Jobs)
		summary.SetText(queueSummary(s))
	}
	show(snap)

	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(summary, 3, 0, false).
		AddItem(table, 0, 1, true).
		AddItem(help, 1, 0, false)

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch {
		case event.Key() == tcell.KeyEscape || event.Rune() == 'q':
			app.Stop()
			return nil
		case event.Rune() == 'r':
			if s, err := load(); err == nil {
				show(s)
			} else {
				summary.SetText("[red]" + tview.Escape(err.Error()) + "[-]")
			}
			return nil
		}
		return event
	})

	return app.SetRoot(layout, true).Run()
}
