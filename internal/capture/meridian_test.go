package capture

import (
	"testing"
	"time"

	"github.com/unklstewy/skycapture/pkg/tracking"
)

type flipRig struct {
	*harness
	mount   *fakeMount
	guider  *fakeGuider
	aligner *fakeAligner
}

func newFlipRig(t *testing.T, mutate func(c *flipRig)) *flipRig {
	t.Helper()
	cfg := testCaptureConfig(t)
	cfg.MeridianFlip.Enabled = true
	cfg.MeridianFlip.HourAngle = 0.1
	cfg.MeridianFlip.CheckIntervalSeconds = 60
	cfg.MeridianFlip.StageTimeoutSeconds = 300
	cfg.MeridianFlip.Realign = true

	r := &flipRig{
		mount:   &fakeMount{ha: 0.5, side: tracking.PierWest, coords: Coordinates{RA: 5.5, Dec: 20}},
		guider:  &fakeGuider{guiding: true},
		aligner: &fakeAligner{},
	}
	r.harness = newHarness(t, cfg, Devices{Mount: r.mount, Guider: r.guider, Aligner: r.aligner})
	if mutate != nil {
		mutate(r)
	}
	return r
}

// TestMeridianFlipFullCycle walks every flip stage.
func TestMeridianFlipFullCycle(t *testing.T) {
	r := newFlipRig(t, nil)
	id := r.addJob(lightJob(300, 3))
	r.start()

	r.advance(60 * time.Second)

	if r.seq.MeridianFlipStage() != FlipFlipping {
		t.Fatalf("Expected stage Flipping, got %s", r.seq.MeridianFlipStage())
	}
	if r.seq.Status() != StatusMeridianFlipping {
		t.Errorf("Expected status MeridianFlipping, got %s", r.seq.Status())
	}
	if r.camera.aborts != 1 {
		t.Errorf("Expected in-flight exposure aborted, got %d aborts", r.camera.aborts)
	}
	if r.guider.suspends != 1 {
		t.Errorf("Expected guiding suspended, got %d", r.guider.suspends)
	}
	if len(r.mount.flips) != 1 || r.mount.flips[0] != r.mount.coords {
		t.Fatalf("Expected flip to %+v, got %v", r.mount.coords, r.mount.flips)
	}

	// A late exposure result is not counted.
	r.expose(Image{})
	if got := r.job(id).Completed; got != 0 {
		t.Errorf("Expected 0 frames during flip, got %d", got)
	}

	r.post(MountFlipDone{})
	if r.seq.MeridianFlipStage() != FlipSlewing || len(r.mount.slews) != 1 {
		t.Fatalf("Expected reslew, got stage=%s slews=%d", r.seq.MeridianFlipStage(), len(r.mount.slews))
	}
	r.post(MountSlewDone{})
	if r.seq.MeridianFlipStage() != FlipAligning || len(r.aligner.targets) != 1 {
		t.Fatalf("Expected realignment, got stage=%s", r.seq.MeridianFlipStage())
	}
	r.post(AlignDone{})
	if r.seq.MeridianFlipStage() != FlipGuiding || r.guider.resumes != 1 {
		t.Fatalf("Expected guiding resumed, got stage=%s resumes=%d", r.seq.MeridianFlipStage(), r.guider.resumes)
	}
	if len(r.camera.requests) != 1 {
		t.Fatalf("Expected no exposure before guiding settles, got %d", len(r.camera.requests))
	}
	r.post(GuideResumed{})

	if r.seq.MeridianFlipStage() != FlipNone {
		t.Errorf("Expected stage None, got %s", r.seq.MeridianFlipStage())
	}
	if r.seq.Status() != StatusCapturing {
		t.Errorf("Expected status Capturing, got %s", r.seq.Status())
	}
	if len(r.camera.requests) != 2 || r.camera.last().Duration != 300 {
		t.Errorf("Expected a fresh 300s exposure, got %+v", r.camera.requests)
	}

	want := []string{"Initiated", "Flipping", "Slewing", "Aligning", "Guiding", "None"}
	got := r.rec.stages(UpdateFlip)
	if len(got) != len(want) {
		t.Fatalf("Expected stages %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Stage %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	// The mount is now on the east side, so the next poll does nothing.
	r.mount.side = tracking.PierEast
	r.advance(60 * time.Second)
	if len(r.mount.flips) != 1 {
		t.Errorf("Expected a single flip, got %d", len(r.mount.flips))
	}
}

// TestMeridianFlipWithoutRealignOrGuiding tests the short path.
func TestMeridianFlipWithoutRealignOrGuiding(t *testing.T) {
	r := newFlipRig(t, func(r *flipRig) {
		r.guider.guiding = false
		r.seq.devices.Aligner = nil
	})
	r.addJob(lightJob(300, 3))
	r.start()
	r.advance(60 * time.Second)
	r.post(MountFlipDone{})
	r.post(MountSlewDone{})

	if r.seq.MeridianFlipStage() != FlipNone {
		t.Errorf("Expected flip complete after slew, got %s", r.seq.MeridianFlipStage())
	}
	if r.guider.resumes != 0 || len(r.aligner.targets) != 0 {
		t.Errorf("Expected no guiding or alignment, got resumes=%d aligns=%d", r.guider.resumes, len(r.aligner.targets))
	}
	if len(r.camera.requests) != 2 {
		t.Errorf("Expected capture to restart, got %d requests", len(r.camera.requests))
	}
}

// TestMeridianFlipUnknownPierSide tests that a completed flip is not repeated
// when the mount cannot report its side.
func TestMeridianFlipUnknownPierSide(t *testing.T) {
	r := newFlipRig(t, func(r *flipRig) {
		r.mount.side = tracking.PierUnknown
		r.guider.guiding = false
		r.seq.devices.Aligner = nil
	})
	r.addJob(lightJob(300, 5))
	r.start()
	r.advance(60 * time.Second)
	r.post(MountFlipDone{})
	r.post(MountSlewDone{})

	r.advance(60 * time.Second)
	if len(r.mount.flips) != 1 {
		t.Errorf("Expected a single flip, got %d", len(r.mount.flips))
	}
}

// TestMeridianFlipTimeout tests that a stalled stage halts capture.
func TestMeridianFlipTimeout(t *testing.T) {
	r := newFlipRig(t, nil)
	id := r.addJob(lightJob(300, 3))
	r.start()
	r.advance(60 * time.Second)

	r.advance(300 * time.Second)

	if r.seq.Status() != StatusError {
		t.Fatalf("Expected status Error, got %s", r.seq.Status())
	}
	if r.seq.MeridianFlipStage() != FlipNone {
		t.Errorf("Expected stage None, got %s", r.seq.MeridianFlipStage())
	}
	if r.mount.abortSlews != 1 {
		t.Errorf("Expected slew aborted, got %d", r.mount.abortSlews)
	}
	if got := r.job(id).State; got != JobInProgress {
		t.Errorf("Expected job to stay In Progress, got %s", got)
	}

	// Late completions from the stalled stage are ignored.
	r.post(MountFlipDone{})
	if len(r.mount.slews) != 0 {
		t.Errorf("Expected no slew after timeout, got %d", len(r.mount.slews))
	}

	r.start()
	if r.seq.Status() != StatusCapturing {
		t.Errorf("Expected restart to resume capture, got %s", r.seq.Status())
	}
	if len(r.camera.requests) != 2 {
		t.Errorf("Expected a new exposure after restart, got %d", len(r.camera.requests))
	}
}

// TestMeridianFlipNotRequired tests the polling conditions that skip a flip.
func TestMeridianFlipNotRequired(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *flipRig)
		job    *SequenceJob
	}{
		{"Pier east", func(r *flipRig) { r.mount.side = tracking.PierEast }, lightJob(300, 3)},
		{"Before limit", func(r *flipRig) { r.mount.ha = 0.05 }, lightJob(300, 3)},
		{"Disabled", func(r *flipRig) { r.seq.cfg.MeridianFlip.Enabled = false }, lightJob(300, 3)},
		{"Dark frames", nil, &SequenceJob{FrameType: FrameDark, Exposure: 300, Count: 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newFlipRig(t, tt.mutate)
			r.addJob(tt.job)
			r.start()
			r.advance(60 * time.Second)

			if r.seq.MeridianFlipStage() != FlipNone {
				t.Errorf("Expected no flip, got %s", r.seq.MeridianFlipStage())
			}
			if len(r.mount.flips) != 0 || r.camera.aborts != 0 {
				t.Errorf("Expected capture undisturbed, got flips=%d aborts=%d", len(r.mount.flips), r.camera.aborts)
			}
		})
	}
}

// TestMeridianFlipDeferredWhileFocusing tests that focusing finishes first.
func TestMeridianFlipDeferredWhileFocusing(t *testing.T) {
	focuser := &fakeFocuser{}
	r := newFlipRig(t, func(r *flipRig) {
		r.seq.cfg.InSequenceFocus.Enabled = true
		r.seq.devices.Focuser = focuser
	})
	r.addJob(lightJob(30, 3))
	r.start()
	r.expose(Image{HFR: 2})

	if r.seq.Status() != StatusCalibratingFocus {
		t.Fatalf("Expected focusing, got %s", r.seq.Status())
	}
	r.advance(60 * time.Second)
	if r.seq.MeridianFlipStage() != FlipNone {
		t.Fatalf("Expected flip deferred, got %s", r.seq.MeridianFlipStage())
	}

	r.post(FocusComplete{HFR: 2})
	if r.seq.MeridianFlipStage() != FlipFlipping {
		t.Errorf("Expected flip after focus, got %s", r.seq.MeridianFlipStage())
	}
	if len(r.camera.requests) != 1 {
		t.Errorf("Expected no exposure before the flip, got %d", len(r.camera.requests))
	}
}

// TestStopDuringMeridianFlip tests that stopping aborts the flip.
func TestStopDuringMeridianFlip(t *testing.T) {
	r := newFlipRig(t, nil)
	r.addJob(lightJob(300, 3))
	r.start()
	r.advance(60 * time.Second)

	r.seq.Stop()
	r.drain()

	if r.mount.abortSlews != 1 {
		t.Errorf("Expected slew aborted, got %d", r.mount.abortSlews)
	}
	if r.seq.MeridianFlipStage() != FlipNone {
		t.Errorf("Expected stage None, got %s", r.seq.MeridianFlipStage())
	}
	r.post(MountFlipDone{})
	if len(r.mount.slews) != 0 {
		t.Errorf("Expected stale flip completion ignored, got %d slews", len(r.mount.slews))
	}
}

// TestMountLostDuringFlip tests device loss while flipping.
func TestMountLostDuringFlip(t *testing.T) {
	r := newFlipRig(t, nil)
	r.addJob(lightJob(300, 3))
	r.start()
	r.advance(60 * time.Second)
	r.post(DeviceLost{Role: "mount"})

	if r.seq.Status() != StatusError {
		t.Errorf("Expected status Error, got %s", r.seq.Status())
	}
}

// TestMeridianFlipWaitsForPendingSave tests a flip falling due while a frame
// is still being written.
func TestMeridianFlipWaitsForPendingSave(t *testing.T) {
	t.Run("Last frame", func(t *testing.T) {
		r := newFlipRig(t, nil)
		r.mount.ha = 0
		r.addJob(lightJob(30, 1))
		r.start()
		r.deferSpawn()
		r.expose(Image{})

		r.mount.ha = 0.5
		r.advance(60 * time.Second)
		if r.seq.MeridianFlipStage() != FlipNone || len(r.mount.flips) != 0 {
			t.Fatalf("Expected flip held while saving, got stage %s", r.seq.MeridianFlipStage())
		}

		r.runSpawned()
		if r.seq.Status() != StatusComplete {
			t.Fatalf("Expected status Complete, got %s", r.seq.Status())
		}
		if r.seq.MeridianFlipStage() != FlipNone || len(r.mount.flips) != 0 {
			t.Errorf("Expected no flip after the queue completed, got stage %s flips %d",
				r.seq.MeridianFlipStage(), len(r.mount.flips))
		}

		r.post(MountFlipDone{})
		r.post(MountSlewDone{})
		r.post(GuideResumed{})
		if r.seq.Status() != StatusComplete {
			t.Errorf("Expected stale flip events ignored, got %s", r.seq.Status())
		}
		if len(r.camera.requests) != 1 {
			t.Errorf("Expected no further exposure, got %d", len(r.camera.requests))
		}
	})

	t.Run("More frames", func(t *testing.T) {
		r := newFlipRig(t, nil)
		r.mount.ha = 0
		r.addJob(lightJob(30, 3))
		r.start()
		r.deferSpawn()
		r.expose(Image{})

		r.mount.ha = 0.5
		r.advance(60 * time.Second)
		r.runSpawned()

		if r.seq.MeridianFlipStage() != FlipFlipping {
			t.Fatalf("Expected flip once the frame was stored, got %s", r.seq.MeridianFlipStage())
		}
		if len(r.camera.requests) != 1 {
			t.Errorf("Expected no exposure before the flip, got %d", len(r.camera.requests))
		}
		if len(r.store.paths) != 1 {
			t.Errorf("Expected the pending frame stored, got %v", r.store.paths)
		}

		r.post(MountFlipDone{})
		r.post(MountSlewDone{})
		r.post(AlignDone{})
		r.post(GuideResumed{})
		if r.seq.Status() != StatusCapturing || len(r.camera.requests) != 2 {
			t.Errorf("Expected capture resumed after the flip, got %s with %d requests",
				r.seq.Status(), len(r.camera.requests))
		}
	})
}

// TestFlipCompletionWithoutActiveJob tests that a flip finishing after the
// queue ended leaves the status alone.
func TestFlipCompletionWithoutActiveJob(t *testing.T) {
	r := newFlipRig(t, nil)
	r.addJob(lightJob(30, 1))
	r.start()
	r.advance(60 * time.Second)
	if r.seq.MeridianFlipStage() != FlipFlipping {
		t.Fatalf("Expected flip started, got %s", r.seq.MeridianFlipStage())
	}

	r.seq.mu.Lock()
	r.seq.activeID = 0
	r.seq.completeFlip()
	r.seq.mu.Unlock()

	if r.seq.Status() == StatusCapturing {
		t.Error("Expected status not to return to Capturing without an active job")
	}
	if len(r.camera.requests) != 1 {
		t.Errorf("Expected no new exposure, got %d", len(r.camera.requests))
	}
}
