package capture

import "errors"

// Errors returned by the sequencer. Use errors.Is() to check for them.
var (
	// ErrDeviceUnavailable is returned when required hardware is not bound.
	ErrDeviceUnavailable = errors.New("capture: device unavailable")

	// ErrCommandRejected is returned when a device refused or timed out an async command.
	ErrCommandRejected = errors.New("capture: command rejected")

	// ErrCalibrationFailed is returned when ADU convergence exceeds the trial limit.
	ErrCalibrationFailed = errors.New("capture: flat calibration failed")

	// ErrFlipTimeout is returned when a meridian flip stage takes too long.
	ErrFlipTimeout = errors.New("capture: meridian flip timed out")

	// ErrGuidingLost is returned when guiding cannot be re-acquired.
	ErrGuidingLost = errors.New("capture: guiding lost")

	// ErrFileWriteFailed is returned when a captured image cannot be stored.
	ErrFileWriteFailed = errors.New("capture: file write failed")

	// ErrInvalidSequenceFile is returned when a sequence file is malformed.
	ErrInvalidSequenceFile = errors.New("capture: invalid sequence file")

	// ErrQueueEmpty is returned when there is no runnable job.
	ErrQueueEmpty = errors.New("capture: no pending jobs in queue")

	// ErrInvalidJob is returned when a job violates its invariants.
	ErrInvalidJob = errors.New("capture: invalid job")

	// ErrBusy is returned when an operation is not allowed while a sequence runs.
	ErrBusy = errors.New("capture: sequence is running")

	// ErrNoSuchJob is returned when a job ID is not in the queue.
	ErrNoSuchJob = errors.New("capture: no such job")
)
