package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rivo/tview"
	"golang.org/x/crypto/bcrypt"

	"github.com/unklstewy/skycapture/internal/api"
	"github.com/unklstewy/skycapture/internal/capture"
	"github.com/unklstewy/skycapture/pkg/coordinates"
)

const sampleSequence = `version: "1"
target: M42
jobs:
  - frame_type: Light
    filter: Ha
    exposure: 300
    count: 4
    completed: 1
  - frame_type: Dark
    exposure: 300
    count: 2
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

// execute runs the root command with a config path that does not exist, so
// defaults apply.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd("test")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "missing.json")}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.yaml", sampleSequence)
	bad := writeFile(t, dir, "bad.yaml", "jobs:\n  - frame_type: Light\n    exposure: 10\n    count: 0\n")

	out, err := execute(t, "validate", good)
	if err != nil {
		t.Fatalf("Expected valid file, got %v", err)
	}
	if !strings.Contains(out, "OK") || !strings.Contains(out, "2 jobs, 6 frames") {
		t.Errorf("Unexpected output %q", out)
	}

	out, err = execute(t, "validate", good, bad)
	if err == nil {
		t.Fatal("Expected error for invalid file")
	}
	if !strings.Contains(out, "FAIL "+bad) {
		t.Errorf("Expected failure line for %s, got %q", bad, out)
	}
}

func TestEstimateCommand(t *testing.T) {
	path := writeFile(t, t.TempDir(), "m42.yaml", sampleSequence)

	out, err := execute(t, "estimate", path)
	if err != nil {
		t.Fatalf("estimate failed: %v", err)
	}
	for _, want := range []string{"Light Ha", "1/4", "0/2", "Target:    M42", "1 of 6 captured", "Remaining: 0:25:00"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in output:\n%s", want, out)
		}
	}

	if _, err := execute(t, "estimate", filepath.Join(t.TempDir(), "none.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestHashPasswordCommand(t *testing.T) {
	out, err := execute(t, "hash-password", "clear-skies")
	if err != nil {
		t.Fatalf("hash-password failed: %v", err)
	}
	hash := strings.TrimSpace(out)
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte("clear-skies")) != nil {
		t.Errorf("Expected a bcrypt hash, got %q", hash)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.Contains(out, "skycapture test") {
		t.Errorf("Unexpected version output %q", out)
	}
}

func TestDevicesCommand(t *testing.T) {
	alpacaSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPut:
			fmt.Fprint(w, `{"ErrorNumber":0,"ErrorMessage":""}`)
		case r.URL.Path == "/api/v1/camera/0/name":
			fmt.Fprint(w, `{"Value":"Sim Camera","ErrorNumber":0,"ErrorMessage":""}`)
		default:
			fmt.Fprint(w, `{"ErrorNumber":1024,"ErrorMessage":"not implemented"}`)
		}
	}))
	defer alpacaSrv.Close()

	dir := t.TempDir()
	configPath := writeFile(t, dir, "config.json", fmt.Sprintf(`{
  "alpaca": {
    "base_url": %q,
    "camera_device_number": 0,
    "filter_wheel_device_number": -1,
    "telescope_device_number": -1,
    "dome_device_number": -1,
    "cover_calibrator_device_number": -1,
    "focuser_device_number": -1,
    "rotator_device_number": -1,
    "timeout_seconds": 5
  }
}`, alpacaSrv.URL))

	cmd := NewRootCmd("test")
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{"--config", configPath, "devices"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("devices failed: %v\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), "Sim Camera") || !strings.Contains(out.String(), "ok") {
		t.Errorf("Expected camera row in output:\n%s", out.String())
	}
	if strings.Contains(out.String(), "telescope") {
		t.Errorf("Expected unbound roles to be skipped:\n%s", out.String())
	}
}

func TestFormatting(t *testing.T) {
	tests := []struct {
		seconds float64
		clock   string
		human   string
	}{
		{0, "0:00:00", "now"},
		{90, "0:01:30", "1 minute"},
		{3 * 3600, "3:00:00", "3 hours"},
		{3725, "1:02:05", "1 hour"},
	}
	for _, tt := range tests {
		if got := clock(tt.seconds); got != tt.clock {
			t.Errorf("clock(%v): expected %s, got %s", tt.seconds, tt.clock, got)
		}
		if got := humanDuration(tt.seconds); got != tt.human {
			t.Errorf("humanDuration(%v): expected %q, got %q", tt.seconds, tt.human, got)
		}
	}

	if got := exposureLabel(capture.JobSnapshot{FrameType: "Flat"}); got != "auto" {
		t.Errorf("Expected auto exposure for ADU flats, got %s", got)
	}
	if got := exposureLabel(capture.JobSnapshot{FrameType: "Bias"}); got != "0s" {
		t.Errorf("Expected 0s for bias, got %s", got)
	}
}

func TestSkyFlatWindow(t *testing.T) {
	observer := coordinates.NewObserver(40, -105, 1600)
	noon := time.Date(2024, 6, 21, 18, 0, 0, 0, time.UTC)
	if got := skyFlatWindow(observer, noon); !strings.Contains(got, " to ") || !strings.Contains(got, "from now") {
		t.Errorf("Expected an upcoming window, got %q", got)
	}

	pole := coordinates.NewObserver(89.9, 0, 0)
	if got := skyFlatWindow(pole, noon); !strings.Contains(got, "never") {
		t.Errorf("Expected no window at the pole in June, got %q", got)
	}
}

type fakeSource struct {
	snap capture.Snapshot
	err  error
}

func (f fakeSource) Snapshot(ctx context.Context) (capture.Snapshot, error) {
	return f.snap, f.err
}

func TestMonitorModel(t *testing.T) {
	snap := capture.Snapshot{
		Status: "Capturing", Queue: "Running", Target: "M42", ActiveJobID: 1, Progress: 50,
		RemainingSeconds: 600,
		Jobs: []capture.JobSnapshot{
			{ID: 1, State: "In Progress", FrameType: "Light", Filter: "Ha", Exposure: 300, Count: 4, Completed: 2},
			{ID: 2, State: "Idle", FrameType: "Dark", Exposure: 300, Count: 2},
		},
	}
	updates := make(chan capture.Update, 4)
	m := newMonitorModel(fakeSource{snap: snap}, updates)

	if v := m.View(); !strings.Contains(v, "Waiting for status") {
		t.Errorf("Expected waiting view, got %q", v)
	}

	msg := fetchSnapshot(m.source)()
	next, _ := m.Update(msg)
	m = next.(monitorModel)
	view := m.View()
	for _, want := range []string{"M42", "Capturing", "Light Ha", "2/4", "Dark", "0:10:00"} {
		if !strings.Contains(view, want) {
			t.Errorf("Expected %q in view:\n%s", want, view)
		}
	}

	updates <- capture.Update{Kind: capture.UpdateImage, Path: "/data/M42_Light_Ha_003.fits", ADU: 1800, HFR: 2.1}
	next, cmd := m.Update(waitForUpdate(updates)())
	m = next.(monitorModel)
	if cmd == nil {
		t.Error("Expected another wait command after an update")
	}
	if v := m.View(); !strings.Contains(v, "M42_Light_Ha_003.fits") || !strings.Contains(v, "HFR 2.10") {
		t.Errorf("Expected last frame in view:\n%s", v)
	}

	close(updates)
	next, _ = m.Update(waitForUpdate(updates)())
	m = next.(monitorModel)
	if m.updates != nil {
		t.Error("Expected stream to be dropped after close")
	}

	next, _ = m.Update(errMsg{errors.New("connection refused")})
	if v := next.(monitorModel).View(); !strings.Contains(v, "connection refused") {
		t.Errorf("Expected error in view:\n%s", v)
	}

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("Expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("Expected tea.QuitMsg on q")
	}
}

func TestMonitorLogIsBounded(t *testing.T) {
	m := newMonitorModel(fakeSource{}, nil)
	for i := 0; i < monitorLogLines+5; i++ {
		m.apply(capture.Update{Kind: capture.UpdateLog, Message: "line"})
	}
	if len(m.log) != monitorLogLines {
		t.Errorf("Expected %d log lines, got %d", monitorLogLines, len(m.log))
	}
}

func TestFillQueueTable(t *testing.T) {
	table := tview.NewTable()
	fillQueueTable(table, []capture.JobSnapshot{
		{ID: 3, State: "Complete", FrameType: "Flat", Filter: "L", Exposure: 1.5, Count: 20, Completed: 20},
		{ID: 4, State: "Idle", FrameType: "Light", Exposure: 120, Count: 10, Delay: 5, Remaining: 1250},
	})

	if table.GetRowCount() != 3 {
		t.Fatalf("Expected header plus 2 rows, got %d", table.GetRowCount())
	}
	tests := []struct {
		row, col int
		want     string
	}{
		{0, 1, "FRAMES"},
		{1, 0, "3"},
		{1, 1, "Flat L"},
		{1, 3, "20/20"},
		{1, 5, "Complete"},
		{2, 2, "120s"},
		{2, 4, "5s"},
		{2, 6, "0:20:50"},
	}
	for _, tt := range tests {
		if got := table.GetCell(tt.row, tt.col).Text; got != tt.want {
			t.Errorf("Cell (%d,%d): expected %q, got %q", tt.row, tt.col, tt.want, got)
		}
	}

	summary := queueSummary(capture.Snapshot{Target: "M42", Status: "Idle", Jobs: []capture.JobSnapshot{{Count: 10, Completed: 4}}})
	if !strings.Contains(summary, "4/10") || !strings.Contains(summary, "M42") {
		t.Errorf("Unexpected summary %q", summary)
	}
}

func TestStatusClient(t *testing.T) {
	seq := capture.NewSequencer(capture.Options{})
	seq.SetTargetName("NGC 7000")
	srv := api.NewServer(api.Options{Sequencer: seq})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	client := newStatusClient(ts.URL + "/")
	snap, err := client.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snap.Target != "NGC 7000" || snap.Status != "Idle" {
		t.Errorf("Unexpected snapshot %+v", snap)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates, err := client.Stream(ctx, capture.UpdateLog)
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for srv.Hub().ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for stream registration")
		}
		time.Sleep(5 * time.Millisecond)
	}
	srv.Hub().Notify(capture.Update{Kind: capture.UpdateStatus, Status: "Capturing"})
	srv.Hub().Notify(capture.Update{Kind: capture.UpdateLog, Message: "hello"})

	select {
	case u := <-updates:
		if u.Kind != capture.UpdateLog || u.Message != "hello" {
			t.Errorf("Expected filtered log update, got %+v", u)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for update")
	}

	bad := newStatusClient("http://127.0.0.1:1")
	if _, err := bad.Snapshot(context.Background()); err == nil {
		t.Error("Expected error for unreachable server")
	}

	notFound := httptest.NewServer(http.NotFoundHandler())
	defer notFound.Close()
	if _, err := newStatusClient(notFound.URL).Snapshot(context.Background()); err == nil {
		t.Error("Expected error for 404 status")
	}
}

type fakeReloader struct {
	mu     sync.Mutex
	status capture.Status
	loads  []string
	err    error
}

func (f *fakeReloader) Status() capture.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeReloader) LoadSequence(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads = append(f.loads, path)
	return f.err
}

func (f *fakeReloader) loadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.loads)
}

func TestSequenceWatcher(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "m42.yaml", sampleSequence)
	reloader := &fakeReloader{status: capture.StatusIdle}

	w := NewSequenceWatcher(path, reloader, nil)
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, dir, "other.yaml", sampleSequence)
	writeFile(t, dir, "m42.yaml", sampleSequence+"  - frame_type: Bias\n    exposure: 0\n    count: 5\n")

	deadline := time.Now().Add(3 * time.Second)
	for reloader.loadCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for reload")
		}
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)
	if n := reloader.loadCount(); n != 1 {
		t.Errorf("Expected one debounced reload, got %d", n)
	}
	reloader.mu.Lock()
	defer reloader.mu.Unlock()
	if reloader.loads[0] != path {
		t.Errorf("Expected reload of %s, got %s", path, reloader.loads[0])
	}
}

func TestSequenceWatcherSkipsWhileBusy(t *testing.T) {
	reloader := &fakeReloader{status: capture.StatusCapturing}
	w := NewSequenceWatcher("m42.yaml", reloader, nil)

	w.reload()
	if n := reloader.loadCount(); n != 0 {
		t.Errorf("Expected no reload while capturing, got %d", n)
	}

	reloader.status = capture.StatusComplete
	w.reload()
	if n := reloader.loadCount(); n != 1 {
		t.Errorf("Expected reload once complete, got %d", n)
	}
}
