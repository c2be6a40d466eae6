package capture

import "time"

// Clock abstracts time so the sequencer can be driven deterministically.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable pending callback.
type Timer interface {
	Stop() bool
}

type systemClock struct{}

// SystemClock returns a Clock backed by the time package.
func SystemClock() Clock { return systemClock{} }

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type timerKind int

const (
	timerExposureWatchdog timerKind = iota
	timerFrameDelay
	timerDeviationSettle
	timerMeridianPoll
	timerFlipStage
	timerDitherSettle
	timerDownload
)

func (k timerKind) String() string {
	switch k {
	case timerExposureWatchdog:
		return "exposure watchdog"
	case timerFrameDelay:
		return "frame delay"
	case timerDeviationSettle:
		return "deviation settle"
	case timerMeridianPoll:
		return "meridian poll"
	case timerFlipStage:
		return "flip stage"
	case timerDitherSettle:
		return "dither settle"
	case timerDownload:
		return "download"
	}
	return "unknown"
}

type armedTimer struct {
	timer Timer
	gen   uint64
}

// armTimer (re)starts the timer of the given kind. A firing whose generation
// no longer matches is ignored, so a stopped timer can never act late.
func (s *Sequencer) armTimer(kind timerKind, d time.Duration) {
	s.cancelTimer(kind)
	s.timerGen++
	gen := s.timerGen
	t := s.clock.AfterFunc(d, func() {
		s.Post(timerFired{kind: kind, gen: gen})
	})
	s.timers[kind] = armedTimer{timer: t, gen: gen}
}

func (s *Sequencer) cancelTimer(kind timerKind) {
	if armed, ok := s.timers[kind]; ok {
		armed.timer.Stop()
		delete(s.timers, kind)
	}
}

func (s *Sequencer) cancelAllTimers() {
	for kind := range s.timers {
		s.cancelTimer(kind)
	}
}

func (s *Sequencer) timerArmed(kind timerKind) bool {
	_, ok := s.timers[kind]
	return ok
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
