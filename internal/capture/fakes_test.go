package capture

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/unklstewy/skycapture/pkg/config"
	"github.com/unklstewy/skycapture/pkg/tracking"
)

// fakeClock fires timers only when advanced.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 22, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Advance moves time forward and runs the callbacks of due timers in order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

type fakeCamera struct {
	requests []ExposureRequest
	aborts   int
	startErr error
	min, max float64
	cooler   bool
	coolerOn bool
	temps    []float64
}

func (c *fakeCamera) ID() string { return "camera-0" }

func (c *fakeCamera) StartExposure(req ExposureRequest) error {
	if c.startErr != nil {
		return c.startErr
	}
	c.requests = append(c.requests, req)
	return nil
}

func (c *fakeCamera) AbortExposure() error { c.aborts++; return nil }

func (c *fakeCamera) ExposureLimits() (float64, float64) { return c.min, c.max }

func (c *fakeCamera) HasCooler() bool { return c.cooler }

func (c *fakeCamera) SetCoolerEnabled(enabled bool) error { c.coolerOn = enabled; return nil }

func (c *fakeCamera) SetTemperature(celsius float64) error {
	c.temps = append(c.temps, celsius)
	return nil
}

func (c *fakeCamera) last() ExposureRequest {
	return c.requests[len(c.requests)-1]
}

type fakeFilterWheel struct {
	names []string
	slots []int
}

func (f *fakeFilterWheel) FilterNames() []string { return f.names }

func (f *fakeFilterWheel) SetFilter(slot int) error {
	f.slots = append(f.slots, slot)
	return nil
}

type fakeMount struct {
	ha         float64
	side       tracking.PierSide
	coords     Coordinates
	flips      []Coordinates
	slews      []Coordinates
	altAz      [][2]float64
	parks      int
	abortSlews int
}

func (m *fakeMount) Coordinates() (Coordinates, error)    { return m.coords, nil }
func (m *fakeMount) HourAngle() (float64, error)          { return m.ha, nil }
func (m *fakeMount) PierSide() (tracking.PierSide, error) { return m.side, nil }
func (m *fakeMount) Slew(target Coordinates) error        { m.slews = append(m.slews, target); return nil }
func (m *fakeMount) Flip(target Coordinates) error        { m.flips = append(m.flips, target); return nil }
func (m *fakeMount) Park() error                          { m.parks++; return nil }
func (m *fakeMount) AbortSlew() error                     { m.abortSlews++; return nil }
func (m *fakeMount) SlewAltAz(altitude, azimuth float64) error {
	m.altAz = append(m.altAz, [2]float64{altitude, azimuth})
	return nil
}

type fakeDome struct{ parks int }

func (d *fakeDome) Park() error { d.parks++; return nil }

type fakeDustCap struct {
	parked  bool
	parks   int
	unparks int
}

func (d *fakeDustCap) IsParked() bool { return d.parked }
func (d *fakeDustCap) Park() error    { d.parks++; return nil }
func (d *fakeDustCap) Unpark() error  { d.unparks++; return nil }

type fakeLightBox struct {
	on    bool
	calls []bool
}

func (l *fakeLightBox) IsLightEnabled() bool { return l.on }

func (l *fakeLightBox) SetLightEnabled(enabled bool) error {
	l.calls = append(l.calls, enabled)
	return nil
}

type fakeRotator struct{ angles []float64 }

func (r *fakeRotator) SetAngle(degrees float64) error {
	r.angles = append(r.angles, degrees)
	return nil
}

type fakeFocuser struct {
	limits []float64
	aborts int
	moves  []int
}

func (f *fakeFocuser) RequestAutofocus(hfrLimit float64) error {
	f.limits = append(f.limits, hfrLimit)
	return nil
}

func (f *fakeFocuser) AbortAutofocus() error { f.aborts++; return nil }

func (f *fakeFocuser) MoveRelative(steps int) error {
	f.moves = append(f.moves, steps)
	return nil
}

type fakeGuider struct {
	guiding  bool
	dithers  int
	suspends int
	resumes  int
}

func (g *fakeGuider) IsGuiding() bool { return g.guiding }
func (g *fakeGuider) Dither() error   { g.dithers++; return nil }
func (g *fakeGuider) Suspend() error  { g.suspends++; return nil }
func (g *fakeGuider) Resume() error   { g.resumes++; return nil }

type fakeAligner struct {
	targets []Coordinates
	aborts  int
}

func (a *fakeAligner) Realign(target Coordinates) error {
	a.targets = append(a.targets, target)
	return nil
}

func (a *fakeAligner) Abort() error { a.aborts++; return nil }

// memoryStore records saved paths instead of writing files.
type memoryStore struct {
	paths []string
	err   error
}

func (m *memoryStore) Save(path string, img Image, meta ImageMeta) error {
	if m.err != nil {
		return m.err
	}
	m.paths = append(m.paths, path)
	return nil
}

// fakeScripts records script runs and returns err for each of them.
type fakeScripts struct {
	mu   sync.Mutex
	runs [][]string
	err  error
}

func (f *fakeScripts) Run(ctx context.Context, script string, args ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, append([]string{script}, args...))
	return f.err
}

type recorder struct {
	updates []Update
}

func (r *recorder) Notify(u Update) { r.updates = append(r.updates, u) }

func (r *recorder) stages(kind UpdateKind) []string {
	var out []string
	for _, u := range r.updates {
		if u.Kind == kind {
			out = append(out, u.Stage)
		}
	}
	return out
}

type harness struct {
	t       *testing.T
	seq     *Sequencer
	clock   *fakeClock
	camera  *fakeCamera
	store   *memoryStore
	scripts *fakeScripts
	rec     *recorder

	// spawned holds background work while deferred is set.
	deferred bool
	spawned  []func()
}

func testCaptureConfig(t *testing.T) config.CaptureConfig {
	cfg := config.DefaultConfig().Capture
	cfg.OutputDirectory = t.TempDir()
	cfg.TargetName = ""
	return cfg
}

func newHarness(t *testing.T, cfg config.CaptureConfig, devices Devices) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		clock:   newFakeClock(),
		camera:  &fakeCamera{max: 3600},
		store:   &memoryStore{},
		scripts: &fakeScripts{},
		rec:     &recorder{},
	}
	if devices.Camera == nil {
		devices.Camera = h.camera
	} else if cam, ok := devices.Camera.(*fakeCamera); ok {
		h.camera = cam
	}
	h.seq = NewSequencer(Options{
		Capture:  cfg,
		Devices:  devices,
		Store:    h.store,
		Notifier: h.rec,
		Scripts:  h.scripts,
		Clock:    h.clock,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	h.seq.spawn = func(f func()) {
		if h.deferred {
			h.spawned = append(h.spawned, f)
			return
		}
		f()
	}
	return h
}

// deferSpawn holds image saves and scripts until runSpawned is called.
func (h *harness) deferSpawn() {
	h.deferred = true
}

// runSpawned finishes the held background work and processes its events.
func (h *harness) runSpawned() {
	work := h.spawned
	h.spawned = nil
	for _, f := range work {
		f()
	}
	h.drain()
}

// drain processes queued events until none are left.
func (h *harness) drain() {
	for {
		select {
		case ev := <-h.seq.events:
			h.seq.handle(ev)
		default:
			return
		}
	}
}

func (h *harness) post(ev Event) {
	h.seq.handle(ev)
	h.drain()
}

func (h *harness) advance(d time.Duration) {
	h.clock.Advance(d)
	h.drain()
}

// expose completes the outstanding exposure.
func (h *harness) expose(img Image) {
	h.post(ExposureDone{Image: img})
}

func (h *harness) addJob(job *SequenceJob) int {
	h.t.Helper()
	id, err := h.seq.AddJob(job)
	if err != nil {
		h.t.Fatalf("Failed to add job: %v", err)
	}
	return id
}

func (h *harness) start() {
	h.t.Helper()
	if err := h.seq.Start(); err != nil {
		h.t.Fatalf("Failed to start sequence: %v", err)
	}
	h.drain()
}

func (h *harness) job(id int) *SequenceJob {
	h.t.Helper()
	job, err := h.seq.Job(id)
	if err != nil {
		h.t.Fatalf("Job %d not found: %v", id, err)
	}
	return job
}

func lightJob(exposure float64, count int) *SequenceJob {
	return &SequenceJob{FrameType: FrameLight, Exposure: exposure, Count: count}
}
