package analysis

import (
	"sync"

	"github.com/teslashibe/go-echo/internal/dsp"
	"github.com/teslashibe/go-echo/internal/sensing"
)

// Result collects the output of every analyzer for one frame
type Result struct {
	Events         []sensing.SoundEvent         `json:"events"`
	Localization   *sensing.LocalizationEstimate `json:"localization,omitempty"`
	Obstacles      []sensing.ObstacleCandidate   `json:"obstacles"`
	Classification *sensing.SoundClassification  `json:"classification,omitempty"`
}

// Set bundles the four analyzers built from one configuration
type Set struct {
	Detector   *EventDetector
	Direction  *DirectionEstimator
	Echo       *EchoAnalyzer
	Classifier *Classifier
}

// NewSet builds every analyzer around a shared spectral capability
func NewSet(cfg sensing.Config, spectral dsp.Spectral) *Set {
	return &Set{
		Detector:   NewEventDetector(cfg, spectral),
		Direction:  NewDirectionEstimator(cfg, spectral),
		Echo:       NewEchoAnalyzer(cfg),
		Classifier: NewClassifier(cfg, spectral),
	}
}

// Analyze runs the analyzers in parallel on frame and waits for all of them.
// frame is only read.
func (s *Set) Analyze(frame sensing.Frame) Result {
	var (
		wg     sync.WaitGroup
		result Result
	)

	wg.Add(4)

	go func() {
		defer wg.Done()
		result.Events = s.Detector.Detect(frame)
	}()

	go func() {
		defer wg.Done()
		if est, ok := s.Direction.Localize(frame); ok {
			result.Localization = &est
		}
	}()

	go func() {
		defer wg.Done()
		result.Obstacles = s.Echo.Detect(frame)
	}()

	go func() {
		defer wg.Done()
		if cls, ok := s.Classifier.Classify(frame); ok {
			result.Classification = &cls
		}
	}()

	wg.Wait()
	return result
}
