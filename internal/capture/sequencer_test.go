package capture

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

// TestStartRequiresCamera tests that start fails without a camera.
func TestStartRequiresCamera(t *testing.T) {
	seq := NewSequencer(Options{Capture: testCaptureConfig(t), Clock: newFakeClock()})
	if _, err := seq.AddJob(lightJob(10, 1)); err != nil {
		t.Fatalf("Failed to add job: %v", err)
	}

	err := seq.Start()
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Expected ErrDeviceUnavailable, got %v", err)
	}
	if seq.Status() != StatusError {
		t.Errorf("Expected status Error, got %s", seq.Status())
	}
}

// TestStartEmptyQueue tests that start fails with nothing to do.
func TestStartEmptyQueue(t *testing.T) {
	h := newHarness(t, testCaptureConfig(t), Devices{})

	if err := h.seq.Start(); !errors.Is(err, ErrQueueEmpty) {
		t.Errorf("Expected ErrQueueEmpty, got %v", err)
	}
	if h.seq.Status() != StatusError {
		t.Errorf("Expected status Error, got %s", h.seq.Status())
	}
}

// TestSequenceCompletesJob tests a full light job from start to completion.
func TestSequenceCompletesJob(t *testing.T) {
	cfg := testCaptureConfig(t)
	h := newHarness(t, cfg, Devices{})
	id := h.addJob(lightJob(10, 3))

	h.start()
	if h.seq.Status() != StatusCapturing {
		t.Fatalf("Expected status Capturing, got %s", h.seq.Status())
	}

	for i := 0; i < 3; i++ {
		if len(h.camera.requests) != i+1 {
			t.Fatalf("Expected %d exposure requests, got %d", i+1, len(h.camera.requests))
		}
		if h.camera.last().Duration != 10 {
			t.Errorf("Expected 10s exposure, got %v", h.camera.last().Duration)
		}
		h.expose(Image{MeanADU: 1200})
	}

	job := h.job(id)
	if job.State != JobComplete {
		t.Errorf("Expected job Complete, got %s", job.State)
	}
	if job.Completed != 3 {
		t.Errorf("Expected 3 completed frames, got %d", job.Completed)
	}
	if h.seq.Status() != StatusComplete {
		t.Errorf("Expected status Complete, got %s", h.seq.Status())
	}
	if len(h.camera.requests) != 3 {
		t.Errorf("Expected no exposure after completion, got %d requests", len(h.camera.requests))
	}

	want := []string{"Light_001.fits", "Light_002.fits", "Light_003.fits"}
	if len(h.store.paths) != len(want) {
		t.Fatalf("Expected %d saved images, got %d", len(want), len(h.store.paths))
	}
	for i, name := range want {
		if h.store.paths[i] != filepath.Join(cfg.OutputDirectory, name) {
			t.Errorf("Expected %s, got %s", name, h.store.paths[i])
		}
	}
	if len(h.seq.timers) != 0 {
		t.Errorf("Expected no timers after completion, got %d", len(h.seq.timers))
	}
}

// TestFileIndexContinuesHistory tests that existing files are never overwritten.
func TestFileIndexContinuesHistory(t *testing.T) {
	cfg := testCaptureConfig(t)
	for i := 1; i <= 5; i++ {
		name := filepath.Join(cfg.OutputDirectory, "Light_00"+string(rune('0'+i))+".fits")
		if err := os.WriteFile(name, nil, 0644); err != nil {
			t.Fatalf("Failed to create %s: %v", name, err)
		}
	}

	t.Run("Scans directory", func(t *testing.T) {
		h := newHarness(t, cfg, Devices{})
		h.addJob(lightJob(5, 1))
		h.start()
		h.expose(Image{})

		want := filepath.Join(cfg.OutputDirectory, "Light_006.fits")
		if len(h.store.paths) != 1 || h.store.paths[0] != want {
			t.Errorf("Expected %s, got %v", want, h.store.paths)
		}
	})

	t.Run("Ignore history", func(t *testing.T) {
		ignore := cfg
		ignore.IgnoreHistory = true
		h := newHarness(t, ignore, Devices{})
		h.addJob(lightJob(5, 1))
		h.start()
		h.expose(Image{})

		want := filepath.Join(cfg.OutputDirectory, "Light_001.fits")
		if len(h.store.paths) != 1 || h.store.paths[0] != want {
			t.Errorf("Expected %s, got %v", want, h.store.paths)
		}
	})
}

// TestStopAndAbort tests cancellation from the middle of an exposure.
func TestStopAndAbort(t *testing.T) {
	tests := []struct {
		name       string
		abort      bool
		wantJob    JobState
		wantStatus Status
	}{
		{"Stop", false, JobIdle, StatusIdle},
		{"Abort", true, JobAborted, StatusAborted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testCaptureConfig(t), Devices{})
			id := h.addJob(lightJob(30, 5))
			h.start()

			if tt.abort {
				h.seq.Abort()
			} else {
				h.seq.Stop()
			}

			if h.camera.aborts != 1 {
				t.Errorf("Expected exposure to be aborted once, got %d", h.camera.aborts)
			}
			if got := h.job(id).State; got != tt.wantJob {
				t.Errorf("Expected job %s, got %s", tt.wantJob, got)
			}
			if h.seq.Status() != tt.wantStatus {
				t.Errorf("Expected status %s, got %s", tt.wantStatus, h.seq.Status())
			}
			if h.seq.ActiveJobID() != 0 {
				t.Errorf("Expected no active job, got %d", h.seq.ActiveJobID())
			}
			if len(h.seq.timers) != 0 {
				t.Errorf("Expected all timers cancelled, got %d", len(h.seq.timers))
			}

			// Late completion and watchdog must not act after teardown
			h.expose(Image{})
			h.advance(time.Hour)
			if got := h.job(id).Completed; got != 0 {
				t.Errorf("Expected stale image to be ignored, got %d completed", got)
			}
			if len(h.camera.requests) != 1 {
				t.Errorf("Expected no new exposure, got %d requests", len(h.camera.requests))
			}

			// Restart picks the job up again
			h.start()
			if len(h.camera.requests) != 2 {
				t.Errorf("Expected restart to expose, got %d requests", len(h.camera.requests))
			}
		})
	}
}

// TestStopWhenIdle tests that stop is safe with nothing running.
func TestStopWhenIdle(t *testing.T) {
	h := newHarness(t, testCaptureConfig(t), Devices{})
	h.seq.Stop()
	h.seq.Abort()

	if h.seq.Status() != StatusIdle {
		t.Errorf("Expected status Idle, got %s", h.seq.Status())
	}
	if h.camera.aborts != 0 {
		t.Errorf("Expected no abort, got %d", h.camera.aborts)
	}
}

// TestPauseAfterCurrentFrame tests that pause waits for the frame in progress.
func TestPauseAfterCurrentFrame(t *testing.T) {
	h := newHarness(t, testCaptureConfig(t), Devices{})
	id := h.addJob(lightJob(10, 3))
	h.start()

	h.seq.Pause()
	if h.seq.Status() != StatusCapturing {
		t.Errorf("Expected to keep capturing until frame ends, got %s", h.seq.Status())
	}

	h.expose(Image{})
	if h.seq.Status() != StatusPaused {
		t.Fatalf("Expected status Paused, got %s", h.seq.Status())
	}
	if len(h.camera.requests) != 1 {
		t.Errorf("Expected no exposure while paused, got %d requests", len(h.camera.requests))
	}
	if got := h.job(id).Completed; got != 1 {
		t.Errorf("Expected paused frame to be kept, got %d completed", got)
	}

	h.start()
	if h.seq.Status() != StatusCapturing {
		t.Errorf("Expected status Capturing after resume, got %s", h.seq.Status())
	}
	if len(h.camera.requests) != 2 {
		t.Errorf("Expected exposure after resume, got %d requests", len(h.camera.requests))
	}
}

// TestExposureRetries tests bounded retry of failed exposures.
func TestExposureRetries(t *testing.T) {
	t.Run("Recovers", func(t *testing.T) {
		h := newHarness(t, testCaptureConfig(t), Devices{})
		id := h.addJob(lightJob(10, 1))
		h.start()

		h.post(ExposureFailed{Err: errors.New("readout error")})
		if len(h.camera.requests) != 2 {
			t.Fatalf("Expected a retry, got %d requests", len(h.camera.requests))
		}
		h.expose(Image{})
		if got := h.job(id).State; got != JobComplete {
			t.Errorf("Expected job Complete, got %s", got)
		}
	})

	t.Run("Gives up", func(t *testing.T) {
		cfg := testCaptureConfig(t)
		cfg.ExposureRetries = 2
		h := newHarness(t, cfg, Devices{})
		id := h.addJob(lightJob(10, 1))
		h.start()

		for i := 0; i < 3; i++ {
			h.post(ExposureFailed{Err: errors.New("readout error")})
		}
		if len(h.camera.requests) != 3 {
			t.Errorf("Expected 1 exposure plus 2 retries, got %d", len(h.camera.requests))
		}
		if got := h.job(id).State; got != JobError {
			t.Errorf("Expected job Error, got %s", got)
		}
		if h.seq.Status() != StatusError {
			t.Errorf("Expected status Error, got %s", h.seq.Status())
		}
	})

	t.Run("Camera lost", func(t *testing.T) {
		h := newHarness(t, testCaptureConfig(t), Devices{})
		id := h.addJob(lightJob(10, 1))
		h.start()

		h.post(ExposureFailed{Err: errors.New("disconnected"), Fatal: true})
		if len(h.camera.requests) != 1 {
			t.Errorf("Expected no retry after fatal error, got %d requests", len(h.camera.requests))
		}
		if got := h.job(id).State; got != JobError {
			t.Errorf("Expected job Error, got %s", got)
		}
	})
}

// TestExposureWatchdog tests that a lost image counts as a failed exposure.
func TestExposureWatchdog(t *testing.T) {
	h := newHarness(t, testCaptureConfig(t), Devices{})
	h.addJob(lightJob(10, 1))
	h.start()

	h.advance(100 * time.Second)
	if len(h.camera.requests) != 1 {
		t.Fatalf("Expected watchdog to wait for download timeout, got %d requests", len(h.camera.requests))
	}
	h.advance(31 * time.Second)
	if len(h.camera.requests) != 2 {
		t.Errorf("Expected watchdog retry, got %d requests", len(h.camera.requests))
	}
}

// TestFileWriteFailure tests that a storage error halts the sequence.
func TestFileWriteFailure(t *testing.T) {
	h := newHarness(t, testCaptureConfig(t), Devices{})
	h.store.err = errors.New("disk full")
	id := h.addJob(lightJob(10, 2))
	h.start()

	h.expose(Image{})

	job := h.job(id)
	if job.State != JobError {
		t.Errorf("Expected job Error, got %s", job.State)
	}
	if job.Completed != 0 {
		t.Errorf("Expected unsaved frame not to count, got %d", job.Completed)
	}
	if h.seq.Status() != StatusError {
		t.Errorf("Expected status Error, got %s", h.seq.Status())
	}
}

// TestFrameDelay tests the pause between frames.
func TestFrameDelay(t *testing.T) {
	h := newHarness(t, testCaptureConfig(t), Devices{})
	job := lightJob(10, 2)
	job.Delay = 5
	h.addJob(job)
	h.start()

	h.expose(Image{})
	if len(h.camera.requests) != 1 {
		t.Fatalf("Expected delay before next exposure, got %d requests", len(h.camera.requests))
	}
	h.advance(4 * time.Second)
	if len(h.camera.requests) != 1 {
		t.Errorf("Expected delay to still run, got %d requests", len(h.camera.requests))
	}
	h.advance(time.Second)
	if len(h.camera.requests) != 2 {
		t.Errorf("Expected exposure after delay, got %d requests", len(h.camera.requests))
	}
}

// TestJobPreparation tests filter, temperature and rotator setup before capture.
func TestJobPreparation(t *testing.T) {
	wheel := &fakeFilterWheel{names: []string{"L", "R", "G", "B", "Ha"}}
	rotator := &fakeRotator{}
	camera := &fakeCamera{max: 3600, cooler: true}
	h := newHarness(t, testCaptureConfig(t), Devices{Camera: camera, FilterWheel: wheel, Rotator: rotator})

	temp, angle := -10.0, 90.0
	job := lightJob(300, 1)
	job.Filter = "ha"
	job.TargetTemperature = &temp
	job.RotatorAngle = &angle
	h.addJob(job)
	second := lightJob(300, 1)
	second.Filter = "Ha"
	h.addJob(second)
	h.start()

	if len(wheel.slots) != 1 || wheel.slots[0] != 4 {
		t.Fatalf("Expected filter slot 4, got %v", wheel.slots)
	}
	if len(camera.temps) != 1 || camera.temps[0] != -10 {
		t.Errorf("Expected temperature -10, got %v", camera.temps)
	}
	if len(rotator.angles) != 1 || rotator.angles[0] != 90 {
		t.Errorf("Expected rotator angle 90, got %v", rotator.angles)
	}

	h.post(FilterChanged{})
	h.post(TemperatureReached{})
	if len(camera.requests) != 0 {
		t.Fatalf("Expected capture to wait for the rotator, got %d requests", len(camera.requests))
	}
	h.post(RotatorReached{})
	if len(camera.requests) != 1 {
		t.Fatalf("Expected capture after preparation, got %d requests", len(camera.requests))
	}

	// Same filter on the next job needs no wheel move
	h.expose(Image{})
	if len(wheel.slots) != 1 {
		t.Errorf("Expected no filter change for the same filter, got %v", wheel.slots)
	}
	if len(camera.requests) != 2 {
		t.Errorf("Expected second job to expose immediately, got %d requests", len(camera.requests))
	}
}

// TestJobPreparationFailures tests rejected preparation.
func TestJobPreparationFailures(t *testing.T) {
	t.Run("Unknown filter", func(t *testing.T) {
		wheel := &fakeFilterWheel{names: []string{"L", "R"}}
		h := newHarness(t, testCaptureConfig(t), Devices{FilterWheel: wheel})
		job := lightJob(10, 1)
		job.Filter = "OIII"
		id := h.addJob(job)
		h.start()

		if got := h.job(id).State; got != JobError {
			t.Errorf("Expected job Error, got %s", got)
		}
	})

	t.Run("No filter wheel", func(t *testing.T) {
		h := newHarness(t, testCaptureConfig(t), Devices{})
		job := lightJob(10, 1)
		job.Filter = "L"
		id := h.addJob(job)
		h.start()

		if got := h.job(id).State; got != JobError {
			t.Errorf("Expected job Error, got %s", got)
		}
	})

	t.Run("Filter move rejected", func(t *testing.T) {
		wheel := &fakeFilterWheel{names: []string{"L"}}
		h := newHarness(t, testCaptureConfig(t), Devices{FilterWheel: wheel})
		job := lightJob(10, 1)
		job.Filter = "L"
		id := h.addJob(job)
		h.start()
		h.post(FilterChanged{Err: errors.New("wheel jammed")})

		if got := h.job(id).State; got != JobError {
			t.Errorf("Expected job Error, got %s", got)
		}
		if len(h.camera.requests) != 0 {
			t.Errorf("Expected no exposure, got %d", len(h.camera.requests))
		}
	})
}

// TestFrameCache tests reuse of confirmed frame settings.
func TestFrameCache(t *testing.T) {
	roi := FrameSettings{X: 10, Y: 20, Width: 800, Height: 600, BinX: 2, BinY: 2}

	t.Run("Reused by later jobs", func(t *testing.T) {
		h := newHarness(t, testCaptureConfig(t), Devices{})
		first := lightJob(10, 1)
		first.Frame = roi
		h.addJob(first)
		h.addJob(lightJob(10, 1))
		h.start()

		h.expose(Image{})
		if h.camera.last().Frame != roi {
			t.Errorf("Expected cached frame %+v, got %+v", roi, h.camera.last().Frame)
		}
	})

	t.Run("Not updated on failure", func(t *testing.T) {
		h := newHarness(t, testCaptureConfig(t), Devices{})
		job := lightJob(10, 1)
		job.Frame = roi
		h.addJob(job)
		h.start()

		h.post(ExposureFailed{Err: errors.New("gone"), Fatal: true})
		if _, ok := h.seq.frames.lookup(h.camera.ID()); ok {
			t.Error("Expected no cached frame after a failed exposure")
		}
	})
}

// TestRemainingTime tests the time estimates.
func TestRemainingTime(t *testing.T) {
	h := newHarness(t, testCaptureConfig(t), Devices{})
	first := lightJob(60, 10)
	first.Completed = 4
	firstID := h.addJob(first)
	second := lightJob(120, 2)
	second.Delay = 10
	secondID := h.addJob(second)

	got, _ := h.seq.JobRemainingTime(firstID)
	if got != 360 {
		t.Errorf("Expected 360s for first job, got %v", got)
	}
	got, _ = h.seq.JobRemainingTime(secondID)
	if got != 260 {
		t.Errorf("Expected 260s for second job, got %v", got)
	}
	if overall := h.seq.OverallRemainingTime(); overall != 620 {
		t.Errorf("Expected 620s overall, got %v", overall)
	}

	h.start()
	h.advance(20 * time.Second)
	got, _ = h.seq.JobRemainingTime(firstID)
	if math.Abs(got-340) > 1e-9 {
		t.Errorf("Expected in-flight exposure to count, got %v", got)
	}
	left, _ := h.seq.JobExposureProgress(firstID)
	if math.Abs(left-40) > 1e-9 {
		t.Errorf("Expected 40s left on exposure, got %v", left)
	}

	h.seq.Abort()
	if overall := h.seq.OverallRemainingTime(); overall != 260 {
		t.Errorf("Expected aborted job to be excluded, got %v", overall)
	}
}

// TestQueueOrder tests that start picks the first Idle or Aborted job.
func TestQueueOrder(t *testing.T) {
	h := newHarness(t, testCaptureConfig(t), Devices{})
	done := lightJob(10, 2)
	done.Completed = 2
	doneID := h.addJob(done)
	nextID := h.addJob(lightJob(20, 1))
	lastID := h.addJob(lightJob(30, 1))

	if got := h.job(doneID).State; got != JobComplete {
		t.Errorf("Expected fully captured job to load as Complete, got %s", got)
	}

	h.start()
	if h.seq.ActiveJobID() != nextID {
		t.Errorf("Expected job %d active, got %d", nextID, h.seq.ActiveJobID())
	}
	h.expose(Image{})
	if h.seq.ActiveJobID() != lastID {
		t.Errorf("Expected job %d active, got %d", lastID, h.seq.ActiveJobID())
	}
	if h.camera.last().Duration != 30 {
		t.Errorf("Expected 30s exposure, got %v", h.camera.last().Duration)
	}
}

// TestQueueEditing tests job editing rules.
func TestQueueEditing(t *testing.T) {
	h := newHarness(t, testCaptureConfig(t), Devices{})
	a := h.addJob(lightJob(10, 1))
	b := h.addJob(lightJob(20, 1))
	c := h.addJob(lightJob(30, 1))

	if err := h.seq.MoveJob(c, 0); err != nil {
		t.Fatalf("MoveJob failed: %v", err)
	}
	order := []int{}
	for _, job := range h.seq.Jobs() {
		order = append(order, job.ID)
	}
	if len(order) != 3 || order[0] != c || order[1] != a || order[2] != b {
		t.Errorf("Expected order [%d %d %d], got %v", c, a, b, order)
	}

	if _, err := h.seq.AddJob(&SequenceJob{FrameType: FrameLight, Exposure: 10}); !errors.Is(err, ErrInvalidJob) {
		t.Errorf("Expected ErrInvalidJob for zero count, got %v", err)
	}
	if err := h.seq.RemoveJob(99); !errors.Is(err, ErrNoSuchJob) {
		t.Errorf("Expected ErrNoSuchJob, got %v", err)
	}

	h.start()
	if err := h.seq.RemoveJob(c); !errors.Is(err, ErrBusy) {
		t.Errorf("Expected ErrBusy removing the running job, got %v", err)
	}
	if err := h.seq.ClearQueue(); !errors.Is(err, ErrBusy) {
		t.Errorf("Expected ErrBusy clearing a running queue, got %v", err)
	}
	if err := h.seq.RemoveJob(b); err != nil {
		t.Errorf("Expected to remove a waiting job, got %v", err)
	}

	h.seq.Stop()
	if err := h.seq.ResetJobs(); err != nil {
		t.Errorf("ResetJobs failed: %v", err)
	}
	if err := h.seq.ClearQueue(); err != nil {
		t.Errorf("ClearQueue failed: %v", err)
	}
	if h.seq.JobCount() != 0 {
		t.Errorf("Expected empty queue, got %d jobs", h.seq.JobCount())
	}
	if h.seq.QueueStatus() != QueueInvalid {
		t.Errorf("Expected Invalid queue status, got %s", h.seq.QueueStatus())
	}
}

// TestProgressQueries tests the progress and count queries.
func TestProgressQueries(t *testing.T) {
	h := newHarness(t, testCaptureConfig(t), Devices{})
	id := h.addJob(lightJob(10, 2))
	h.addJob(lightJob(10, 2))

	h.start()
	h.expose(Image{})

	if p := h.seq.ProgressPercentage(); p != 25 {
		t.Errorf("Expected 25%% progress, got %v", p)
	}
	if n := h.seq.PendingJobCount(); n != 2 {
		t.Errorf("Expected 2 pending jobs, got %d", n)
	}
	done, count, err := h.seq.JobImageProgress(id)
	if err != nil || done != 1 || count != 2 {
		t.Errorf("Expected 1/2, got %d/%d (%v)", done, count, err)
	}
	if state, _ := h.seq.JobState(id); state != JobInProgress {
		t.Errorf("Expected In Progress, got %s", state)
	}
	if h.seq.QueueStatus() != QueueRunning {
		t.Errorf("Expected Running queue, got %s", h.seq.QueueStatus())
	}

	snap := h.seq.Snapshot()
	if snap.Status != "Capturing" || snap.ActiveJobID != id || len(snap.Jobs) != 2 {
		t.Errorf("Unexpected snapshot: %+v", snap)
	}
}

// TestCoolerControl tests cooler availability checks.
func TestCoolerControl(t *testing.T) {
	h := newHarness(t, testCaptureConfig(t), Devices{})
	if h.seq.HasCoolerControl() {
		t.Error("Expected no cooler control")
	}
	if err := h.seq.SetCoolerEnabled(true); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Expected ErrDeviceUnavailable, got %v", err)
	}

	h.camera.cooler = true
	if err := h.seq.SetCoolerEnabled(true); err != nil {
		t.Errorf("SetCoolerEnabled failed: %v", err)
	}
	if !h.camera.coolerOn {
		t.Error("Expected cooler switched on")
	}
}

// TestUploadLocal tests that remote-only frames are counted without storing.
func TestUploadLocal(t *testing.T) {
	h := newHarness(t, testCaptureConfig(t), Devices{})
	job := lightJob(10, 1)
	job.Upload = UploadLocal
	id := h.addJob(job)
	h.start()

	h.expose(Image{RemotePath: "/remote/Light_001.fits"})
	if len(h.store.paths) != 0 {
		t.Errorf("Expected nothing stored locally, got %v", h.store.paths)
	}
	if got := h.job(id).State; got != JobComplete {
		t.Errorf("Expected job Complete, got %s", got)
	}
}

// TestStopDuringSave tests that a frame still being written when the
// sequence stops keeps its file name and is counted once it lands.
func TestStopDuringSave(t *testing.T) {
	tests := []struct {
		name          string
		abort         bool
		lateErr       error
		wantCompleted int
		wantPaths     []string
	}{
		{"Stop", false, nil, 2, []string{"Light_001.fits", "Light_002.fits"}},
		{"Abort", true, nil, 2, []string{"Light_001.fits", "Light_002.fits"}},
		{"Late save fails", false, errors.New("disk full"), 1, []string{"Light_002.fits"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testCaptureConfig(t)
			h := newHarness(t, cfg, Devices{})
			id := h.addJob(lightJob(10, 3))
			h.start()
			h.deferSpawn()
			h.expose(Image{})

			if tt.abort {
				h.seq.Abort()
			} else {
				h.seq.Stop()
			}
			h.store.err = tt.lateErr
			h.runSpawned()
			h.store.err = nil

			h.start()
			h.expose(Image{})
			h.runSpawned()

			var want []string
			for _, name := range tt.wantPaths {
				want = append(want, filepath.Join(cfg.OutputDirectory, name))
			}
			if !reflect.DeepEqual(h.store.paths, want) {
				t.Errorf("Expected %v, got %v", want, h.store.paths)
			}
			if got := h.job(id).Completed; got != tt.wantCompleted {
				t.Errorf("Expected %d completed, got %d", tt.wantCompleted, got)
			}
		})
	}
}

// TestLateSaveCompletesStoppedJob tests a late save that finishes a job.
func TestLateSaveCompletesStoppedJob(t *testing.T) {
	h := newHarness(t, testCaptureConfig(t), Devices{})
	id := h.addJob(lightJob(10, 1))
	h.start()
	h.deferSpawn()
	h.expose(Image{})
	h.seq.Stop()
	h.runSpawned()

	job := h.job(id)
	if job.Completed != 1 || job.State != JobComplete {
		t.Errorf("Expected job complete with 1 frame, got %d (%s)", job.Completed, job.State)
	}
	if h.seq.Status() != StatusIdle {
		t.Errorf("Expected status Idle, got %s", h.seq.Status())
	}
}

// TestQueueStatusString tests the names and the fallback for unknown values.
func TestQueueStatusString(t *testing.T) {
	tests := []struct {
		status QueueStatus
		want   string
	}{
		{QueueInvalid, "Invalid"},
		{QueueRunning, "Running"},
		{QueueSuspended, "Suspended"},
		{QueueStatus(42), "QueueStatus(42)"},
		{QueueStatus(-3), "QueueStatus(-3)"},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("Expected %q, got %q", tt.want, got)
		}
	}
}
