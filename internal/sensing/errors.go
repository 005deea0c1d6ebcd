package sensing

import "errors"

// Capture-layer errors are returned to the caller and can be checked with
// errors.Is. Analyzer-layer conditions (ErrAnalysisUnavailable,
// ErrInvalidFrame) never escape an analyzer; they select the degraded
// result instead.
var (
	// ErrDeviceUnavailable is returned when no capture backend or hardware is present.
	ErrDeviceUnavailable = errors.New("sensing: device unavailable")

	// ErrDeviceBusy is returned when another session already holds the device.
	ErrDeviceBusy = errors.New("sensing: device busy")

	// ErrStream is returned when the device fails mid-capture.
	ErrStream = errors.New("sensing: stream error")

	// ErrReadTimeout is returned when no frame arrives within the read bound.
	ErrReadTimeout = errors.New("sensing: read timeout")

	// ErrNotListening is returned when frames are pulled outside the Listening state.
	ErrNotListening = errors.New("sensing: session not listening")

	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("sensing: session closed")

	// ErrAnalysisUnavailable is returned by the null spectral capability.
	ErrAnalysisUnavailable = errors.New("sensing: spectral analysis unavailable")

	// ErrInvalidFrame marks empty or undersized analyzer input.
	ErrInvalidFrame = errors.New("sensing: invalid frame")
)
