package analysis

import (
	"github.com/teslashibe/go-echo/internal/dsp"
	"github.com/teslashibe/go-echo/internal/sensing"
)

// Centroid band edges used by the classifier, in Hz
const (
	LowCentroidHz  = 1000.0
	HighCentroidHz = 4000.0
)

type score struct {
	label string
	value float64
}

// Score tables in tie-break order: the first listed label wins a tie
var (
	lowBandScores = []score{
		{sensing.LabelSpeech, 0.6},
		{sensing.LabelDoor, 0.3},
		{sensing.LabelAlarm, 0.1},
	}
	highBandScores = []score{
		{sensing.LabelAlarm, 0.7},
		{sensing.LabelDoor, 0.2},
		{sensing.LabelSpeech, 0.1},
	}
	midBandScores = []score{
		{sensing.LabelSpeech, 0.5},
		{sensing.LabelAmbient, 0.3},
		{sensing.LabelOther, 0.2},
	}
	unknownScores = []score{
		{sensing.LabelUnknown, 1.0},
	}
)

// Classifier makes a rough sound-type guess from the spectral centroid
type Classifier struct {
	cfg      sensing.Config
	spectral dsp.Spectral
}

// NewClassifier creates a classifier. A nil spectral capability always
// yields the unknown label.
func NewClassifier(cfg sensing.Config, spectral dsp.Spectral) *Classifier {
	if spectral == nil {
		spectral = dsp.Null{}
	}
	return &Classifier{cfg: cfg, spectral: spectral}
}

// Classify returns false when classification is disabled or the frame is empty
func (c *Classifier) Classify(frame sensing.Frame) (sensing.SoundClassification, bool) {
	if !c.cfg.Classification.Enabled || frame.Empty() {
		return sensing.SoundClassification{}, false
	}

	result := sensing.SoundClassification{
		PowerDB:   PowerDB(frame.Samples),
		Timestamp: frame.Timestamp,
	}

	table := unknownScores

	spectrum, err := c.spectral.STFT(frame.Samples, sampleRate(frame, c.cfg))
	if err == nil {
		centroid := spectrum.Centroid()
		result.SpectralCentroidHz = centroid
		result.ZeroCrossingRate = dsp.ZeroCrossingRate(dsp.FirstWindow(frame.Samples, spectrum.FFTSize))

		switch {
		case centroid < LowCentroidHz:
			table = lowBandScores
		case centroid > HighCentroidHz:
			table = highBandScores
		default:
			table = midBandScores
		}
	}

	result.Scores = make(map[string]float64, len(table))
	best := table[0]
	for _, s := range table {
		result.Scores[s.label] = s.value
		if s.value > best.value {
			best = s
		}
	}

	result.PrimaryLabel = best.label
	result.Confidence = sensing.Clamp(best.value, 0, 1)

	return result, true
}
