package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/unklstewy/skycapture/pkg/config"
)

const eventBuffer = 256

// ImageStore persists a captured image. Save may block; the sequencer never
// calls it from its own loop.
type ImageStore interface {
	Save(path string, img Image, meta ImageMeta) error
}

// ImageMeta describes a stored image.
type ImageMeta struct {
	Target    string
	Observer  string
	FrameType FrameType
	Filter    string
	Exposure  float64
	Time      time.Time
}

// Options configure a Sequencer.
type Options struct {
	Capture  config.CaptureConfig
	Devices  Devices
	Store    ImageStore
	Notifier Notifier
	// Scripts runs post-capture scripts. Defaults to ExecRunner.
	Scripts  ScriptRunner
	Clock    Clock
	Logger   *slog.Logger
	Observer string
}

type prepFlags uint8

const (
	prepFilter prepFlags = 1 << iota
	prepTemperature
	prepRotator
	prepFocusOffset
)

// resumePoint is where the sequence continues once a pending step completes.
type resumePoint int

const (
	resumeNone resumePoint = iota
	resumeNextExposure
	resumeAfterDither
	resumeAfterFocus
	resumeAfterScript
)

// Sequencer runs a queue of capture jobs. All state is owned by a single
// control loop: device completions, timer firings and operator calls are
// applied one at a time under mu.
type Sequencer struct {
	mu sync.Mutex

	cfg      config.CaptureConfig
	devices  Devices
	store    ImageStore
	notifier Notifier
	scripts  ScriptRunner
	clock    Clock
	log      *slog.Logger
	spawn    func(func())

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once

	jobs      []*SequenceJob
	nextJobID int
	activeID  int

	status   Status
	target   string
	observer string
	session  string

	exposing       bool
	exposureStart  time.Time
	exposureLength float64
	lastFrame      FrameSettings
	lastStats      imageStats
	awaitingSave   bool
	savePath       string
	detached       []pendingSave
	scriptRun      uint64
	guideHeld      bool
	focusOffset    int
	retries        int
	pauseRequested bool
	pending        resumePoint
	prep           prepFlags
	filterSlot     int

	cal       calibration
	flip      meridianFlip
	deviation deviationMonitor
	focus     focusState
	dither    ditherState

	frames   frameCache
	timers   map[timerKind]armedTimer
	timerGen uint64
}

// NewSequencer creates a sequencer with an empty queue.
func NewSequencer(opts Options) *Sequencer {
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	scripts := opts.Scripts
	if scripts == nil {
		scripts = ExecRunner{}
	}
	return &Sequencer{
		cfg:        opts.Capture,
		devices:    opts.Devices,
		store:      opts.Store,
		notifier:   opts.Notifier,
		scripts:    scripts,
		clock:      clock,
		log:        logger.With("component", "sequencer"),
		spawn:      func(f func()) { go f() },
		events:     make(chan Event, eventBuffer),
		done:       make(chan struct{}),
		nextJobID:  1,
		target:     opts.Capture.TargetName,
		observer:   opts.Observer,
		filterSlot: -1,
		frames:     make(frameCache),
		timers:     make(map[timerKind]armedTimer),
	}
}

// Post queues an event for the control loop. It never blocks once Run has
// returned.
func (s *Sequencer) Post(ev Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// Run processes events until ctx is cancelled. A running sequence is
// aborted on the way out.
func (s *Sequencer) Run(ctx context.Context) error {
	defer s.closeOnce.Do(func() { close(s.done) })
	for {
		select {
		case <-ctx.Done():
			s.Abort()
			return ctx.Err()
		case ev := <-s.events:
			s.handle(ev)
		}
	}
}

func (s *Sequencer) handle(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatch(ev)
}

func (s *Sequencer) dispatch(ev Event) {
	switch e := ev.(type) {
	case ExposureDone:
		s.onExposureDone(e)
	case ExposureFailed:
		s.onExposureFailed(e.Err, e.Fatal)
	case FileSaved:
		s.onFileSaved(e)
	case ScriptDone:
		s.onScriptDone(e)
	case FocuserMoved:
		s.onPrepared(prepFocusOffset, e.Err)
	case FilterChanged:
		s.onPrepared(prepFilter, e.Err)
	case TemperatureReached:
		s.onPrepared(prepTemperature, e.Err)
	case RotatorReached:
		s.onPrepared(prepRotator, e.Err)
	case DustCapParked:
		s.onDustCapParked(e.Err)
	case DustCapUnparked:
		s.onDustCapUnparked(e.Err)
	case LightBoxChanged:
		s.onLightBoxChanged(e)
	case MountSlewDone:
		if s.flip.stage == FlipSlewing {
			s.onFlipSlewDone(e.Err)
		} else if s.cal.stage == CalSlewing {
			s.onWallSlewDone(e.Err)
		}
	case MountFlipDone:
		s.onMountFlipped(e.Err)
	case MountParked:
		s.onMountParked(e.Err)
	case DomeParked:
		s.onDomeParked(e.Err)
	case GuideDeviation:
		s.onGuideDeviation(e)
	case DitherSettled:
		s.onDitherSettled(e.Err)
	case GuideResumed:
		s.onGuideResumed(e.Err)
	case FocusComplete:
		s.onFocusComplete(e)
	case HFRMeasured:
		if e.HFR > 0 {
			s.focus.lastHFR = e.HFR
		}
	case AlignDone:
		s.onAlignDone(e.Err)
	case DeviceLost:
		s.onDeviceLost(e)
	case timerFired:
		s.onTimer(e)
	default:
		s.log.Warn("ignoring unknown event", "type", fmt.Sprintf("%T", ev))
	}
}

func (s *Sequencer) onTimer(e timerFired) {
	armed, ok := s.timers[e.kind]
	if !ok || armed.gen != e.gen {
		return
	}
	delete(s.timers, e.kind)

	switch e.kind {
	case timerDownload:
		s.holdGuidingForDownload()
	case timerExposureWatchdog:
		s.onExposureFailed(fmt.Errorf("%w: no image within %ds of exposure end", ErrCommandRejected, s.cfg.DownloadTimeoutSeconds), false)
	case timerFrameDelay:
		if s.pending == resumeNextExposure {
			s.pending = resumeNone
			s.captureOne()
		}
	case timerDeviationSettle:
		s.onDeviationWindowElapsed()
	case timerMeridianPoll:
		s.pollMeridian()
	case timerFlipStage:
		s.flipFailed(fmt.Errorf("%w: stage %s", ErrFlipTimeout, s.flip.stage))
	case timerDitherSettle:
		if s.pending == resumeAfterDither {
			s.warn("dither did not settle in time, continuing")
			s.resume(resumeAfterDither)
		}
	}
}

func (s *Sequencer) onDeviceLost(e DeviceLost) {
	s.errorf("device disconnected", "role", e.Role, "error", e.Err)
	if s.activeJob() == nil {
		return
	}
	switch e.Role {
	case "camera":
		s.fail(fmt.Errorf("%w: camera lost: %v", ErrDeviceUnavailable, e.Err))
	case "mount":
		if s.flip.stage != FlipNone {
			s.flipFailed(fmt.Errorf("%w: mount lost during flip", ErrDeviceUnavailable))
		}
	case "guider":
		if s.flip.stage == FlipGuiding {
			s.flipFailed(ErrGuidingLost)
		}
	}
}

// activeJob returns the job being worked on, or nil.
func (s *Sequencer) activeJob() *SequenceJob {
	if s.activeID == 0 {
		return nil
	}
	return s.jobByID(s.activeID)
}

func (s *Sequencer) jobByID(id int) *SequenceJob {
	for _, job := range s.jobs {
		if job.ID == id {
			return job
		}
	}
	return nil
}

func (s *Sequencer) jobIndex(id int) int {
	for i, job := range s.jobs {
		if job.ID == id {
			return i
		}
	}
	return -1
}

// nextRunnable returns the first job in queue order that still has work.
func (s *Sequencer) nextRunnable() *SequenceJob {
	for _, job := range s.jobs {
		if job.runnable() {
			return job
		}
	}
	return nil
}
