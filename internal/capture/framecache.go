package capture

// primaryChip is the only sensor the sequencer drives.
const primaryChip = "primary"

type frameKey struct {
	camera string
	chip   string
}

// frameCache remembers the last frame geometry the camera confirmed, so jobs
// without explicit settings reuse it.
type frameCache map[frameKey]FrameSettings

func (c frameCache) lookup(camera string) (FrameSettings, bool) {
	f, ok := c[frameKey{camera: camera, chip: primaryChip}]
	return f, ok
}

func (c frameCache) store(camera string, f FrameSettings) {
	if f.IsZero() {
		return
	}
	c[frameKey{camera: camera, chip: primaryChip}] = f
}

// frameFor resolves the frame settings for the next exposure of job.
func (s *Sequencer) frameFor(job *SequenceJob) FrameSettings {
	if !job.Frame.IsZero() {
		return job.Frame
	}
	if s.devices.Camera == nil {
		return FrameSettings{}
	}
	f, _ := s.frames.lookup(s.devices.Camera.ID())
	return f
}
