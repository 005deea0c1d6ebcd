// Package pipeline drives continuous acoustic sensing: it pulls frames from
// a capture session, runs the analyzers, narrates notable results and
// publishes snapshots to subscribers.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-echo/internal/analysis"
	"github.com/teslashibe/go-echo/internal/capture"
	"github.com/teslashibe/go-echo/internal/dsp"
	"github.com/teslashibe/go-echo/internal/metrics"
	"github.com/teslashibe/go-echo/internal/narration"
	"github.com/teslashibe/go-echo/internal/sensing"
)

// Config configures the sensing pipeline
type Config struct {
	PullTimeout       time.Duration `mapstructure:"pull_timeout" json:"pull_timeout" validate:"gt=0"`
	WindowFrames      int           `mapstructure:"window_frames" json:"window_frames" validate:"gte=1"`
	RestartBackoff    time.Duration `mapstructure:"restart_backoff" json:"restart_backoff" validate:"gt=0"`
	MaxRestartBackoff time.Duration `mapstructure:"max_restart_backoff" json:"max_restart_backoff" validate:"gtefield=RestartBackoff"`
	MergeDistance     float64       `mapstructure:"merge_distance" json:"merge_distance" validate:"gte=0"`
	NarrationCooldown time.Duration `mapstructure:"narration_cooldown" json:"narration_cooldown" validate:"gte=0"`
	SubscriberBuffer  int           `mapstructure:"subscriber_buffer" json:"subscriber_buffer" validate:"gte=1"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		PullTimeout:       time.Second,
		WindowFrames:      4, // Rolling window of chunk_size * 4 samples
		RestartBackoff:    500 * time.Millisecond,
		MaxRestartBackoff: 10 * time.Second,
		MergeDistance:     0.25,
		NarrationCooldown: 2 * time.Second,
		SubscriberBuffer:  10,
	}
}

// Capture is the frame source the pipeline drives. *capture.Session
// implements it.
type Capture interface {
	Start() error
	Stop() error
	PullFrame(ctx context.Context, timeout time.Duration) (sensing.Frame, error)
	Healthy() bool
	State() capture.State
	Config() sensing.Config
	Stats() capture.SessionStats
}

// Snapshot is the outcome of analyzing one frame
type Snapshot struct {
	analysis.Result

	Sequence       uint64    `json:"seq"`
	Timestamp      time.Time `json:"timestamp"`
	PowerDB        float64   `json:"power_db"`
	AveragePowerDB float64   `json:"average_power_db"` // Over the rolling frame window
	Summary        string    `json:"summary"`
	Narrate        bool      `json:"narrate"` // Summary passed the sensitivity gate and cooldown
	LatencyMs      float64   `json:"latency_ms"`
}

// Pipeline runs the analyzers over a capture session
type Pipeline struct {
	capture   Capture
	sensing   sensing.Config
	cfg       Config
	analyzers *analysis.Set
	spectral  dsp.Spectral
	window    *sensing.FrameBuffer
	metrics   *metrics.Metrics
	logger    *slog.Logger

	mu     sync.RWMutex
	latest Snapshot
	ready  bool

	// Narration gate state
	lastNarration   string
	lastNarrationAt time.Time

	// Counters
	frames           uint64
	events           uint64
	obstacleWarnings uint64
	narrations       uint64
	timeouts         uint64
	streamErrors     uint64
	restarts         uint64
	totalLatencyMs   float64

	// Lifecycle
	lifeMu  sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool

	// Subscribers for real-time updates
	subsMu sync.RWMutex
	subs   map[chan Snapshot]struct{}
}

// New creates a pipeline over an opened capture session. A nil spectral
// capability selects dsp.Null; nil metrics get a private registry.
func New(source Capture, spectral dsp.Spectral, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if spectral == nil {
		spectral = dsp.Null{}
	}
	if m == nil {
		m = metrics.New()
	}

	defaults := DefaultConfig()
	if cfg.PullTimeout <= 0 {
		cfg.PullTimeout = defaults.PullTimeout
	}
	if cfg.WindowFrames < 1 {
		cfg.WindowFrames = defaults.WindowFrames
	}
	if cfg.RestartBackoff <= 0 {
		cfg.RestartBackoff = defaults.RestartBackoff
	}
	if cfg.MaxRestartBackoff < cfg.RestartBackoff {
		cfg.MaxRestartBackoff = cfg.RestartBackoff
	}
	if cfg.SubscriberBuffer < 1 {
		cfg.SubscriberBuffer = defaults.SubscriberBuffer
	}

	sensingCfg := source.Config()

	return &Pipeline{
		capture:   source,
		sensing:   sensingCfg,
		cfg:       cfg,
		analyzers: analysis.NewSet(sensingCfg, spectral),
		spectral:  spectral,
		window:    sensing.NewFrameBuffer(cfg.WindowFrames),
		metrics:   m,
		logger:    logger,
		done:      make(chan struct{}),
		subs:      make(map[chan Snapshot]struct{}),
	}
}

// Run starts capture and processes frames until ctx ends or the session is
// closed (blocking, use goroutine).
func (p *Pipeline) Run(ctx context.Context) error {
	p.lifeMu.Lock()
	if p.running {
		p.lifeMu.Unlock()
		return errors.New("pipeline already running")
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.running = true
	p.lifeMu.Unlock()

	defer close(p.done)

	if !p.sensing.Enabled {
		p.logger.Info("sensing disabled, pipeline idle")
		<-ctx.Done()
		return ctx.Err()
	}

	if err := p.capture.Start(); err != nil {
		if !errors.Is(err, sensing.ErrStream) {
			return err
		}
		p.logger.Warn("capture start failed, retrying", "error", err)
		p.recordStreamError()
		if !p.restart(ctx) {
			return ctx.Err()
		}
	}
	p.metrics.SetListening(true)
	defer p.metrics.SetListening(false)

	p.logger.Info("pipeline started",
		"sample_rate", p.sensing.SampleRate,
		"chunk_size", p.sensing.ChunkSize,
		"method", p.sensing.Localization.Method,
		"spectral", p.spectral.Name(),
		"window_frames", p.cfg.WindowFrames,
	)

	frames := make(chan sensing.Frame, 1)
	pullErr := make(chan error, 1)
	go func() {
		pullErr <- p.pullLoop(ctx, frames)
	}()

	for frame := range frames {
		p.process(frame)
	}

	err := <-pullErr
	p.logStopped()
	return err
}

func (p *Pipeline) logStopped() {
	p.mu.RLock()
	defer p.mu.RUnlock()

	p.logger.Info("pipeline stopped",
		"frames", p.frames,
		"timeouts", p.timeouts,
		"stream_errors", p.streamErrors,
		"restarts", p.restarts,
	)
}

// pullLoop feeds frames to the analysis loop and recovers from stream
// failures. It returns when ctx ends or the session is closed.
func (p *Pipeline) pullLoop(ctx context.Context, frames chan<- sensing.Frame) error {
	defer close(frames)

	for {
		frame, err := p.capture.PullFrame(ctx, p.cfg.PullTimeout)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		switch {
		case err == nil:
			select {
			case frames <- frame:
			case <-ctx.Done():
				return ctx.Err()
			}

		case errors.Is(err, sensing.ErrReadTimeout):
			p.mu.Lock()
			p.timeouts++
			p.mu.Unlock()
			p.metrics.RecordReadTimeout()
			p.logger.Debug("no frame within pull timeout", "timeout", p.cfg.PullTimeout)

		case errors.Is(err, sensing.ErrClosed):
			p.logger.Info("capture session closed")
			return err

		default:
			// ErrStream, or the session was stopped underneath us
			p.logger.Warn("capture stream failed", "error", err)
			if errors.Is(err, sensing.ErrStream) {
				p.recordStreamError()
			}
			if !p.restart(ctx) {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return sensing.ErrClosed
			}
		}
	}
}

func (p *Pipeline) recordStreamError() {
	p.mu.Lock()
	p.streamErrors++
	p.mu.Unlock()
	p.metrics.RecordStreamError()
}

// restart cycles the session with exponential backoff until it listens
// again. It returns false when ctx ends or the session is closed.
func (p *Pipeline) restart(ctx context.Context) bool {
	backoff := p.cfg.RestartBackoff

	for attempt := 1; ; attempt++ {
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}

		if err := p.capture.Stop(); err != nil {
			p.logger.Debug("capture stop before restart", "error", err)
		}

		err := p.capture.Start()
		if err == nil {
			p.mu.Lock()
			p.restarts++
			p.mu.Unlock()
			p.metrics.RecordRestart()
			p.window.Reset()

			p.logger.Info("capture restarted", "attempt", attempt)
			return true
		}

		if errors.Is(err, sensing.ErrClosed) {
			return false
		}

		p.logger.Warn("capture restart failed",
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)
		backoff = min(backoff*2, p.cfg.MaxRestartBackoff)
	}
}

// process analyzes one frame and publishes the snapshot
func (p *Pipeline) process(frame sensing.Frame) {
	start := time.Now()

	p.window.Push(frame)

	result := p.analyzers.Analyze(frame)
	result.Obstacles = MergeObstacles(result.Obstacles, p.cfg.MergeDistance)

	snap := Snapshot{
		Result:         result,
		Sequence:       frame.Sequence,
		Timestamp:      frame.Timestamp,
		PowerDB:        analysis.PowerDB(frame.Samples),
		AveragePowerDB: analysis.PowerDB(p.window.Samples()),
		Summary:        narration.Summarize(result),
	}

	warnings := 0
	for _, o := range result.Obstacles {
		p.metrics.RecordObstacle(o.DistanceMeters, o.IsWarning)
		if o.IsWarning {
			warnings++
		}
	}
	for _, e := range result.Events {
		p.metrics.RecordEvent(string(e.Kind))
	}
	if result.Classification != nil {
		p.metrics.RecordClassification(result.Classification.PrimaryLabel)
	}

	p.mu.Lock()
	snap.Narrate = p.gate(snap, start)
	snap.LatencyMs = float64(time.Since(start).Microseconds()) / 1000

	p.frames++
	p.events += uint64(len(result.Events))
	p.obstacleWarnings += uint64(warnings)
	p.totalLatencyMs += snap.LatencyMs
	if snap.Narrate {
		p.narrations++
	}
	p.latest = snap
	p.ready = true
	frames := p.frames
	p.mu.Unlock()

	p.metrics.RecordFrame(time.Since(start).Seconds(), snap.AveragePowerDB)
	if snap.Narrate {
		p.metrics.RecordNarration()
		p.logger.Debug("narration", "seq", snap.Sequence, "text", snap.Summary)
	}

	// Notify subscribers (non-blocking)
	p.notifySubscribers(snap)

	if frames%100 == 0 {
		p.logger.Debug("sensing frames processed",
			"frames", frames,
			"power_db", snap.AveragePowerDB,
			"latency_ms", snap.LatencyMs,
		)
	}
}

// gate decides whether snap is worth speaking. An obstacle warning always
// is; otherwise an event must reach confidence 1 - sound_sensitivity. A
// repeat of the previous line inside the cooldown is suppressed. Caller
// holds p.mu.
func (p *Pipeline) gate(snap Snapshot, now time.Time) bool {
	if !p.notable(snap.Result) {
		return false
	}

	if snap.Summary == p.lastNarration && now.Sub(p.lastNarrationAt) < p.cfg.NarrationCooldown {
		return false
	}

	p.lastNarration = snap.Summary
	p.lastNarrationAt = now
	return true
}

func (p *Pipeline) notable(result analysis.Result) bool {
	if _, ok := NearestWarning(result.Obstacles); ok {
		return true
	}

	threshold := 1 - p.sensing.Detection.SoundSensitivity
	for _, e := range result.Events {
		if e.Confidence >= threshold {
			return true
		}
	}
	return false
}

func (p *Pipeline) notifySubscribers(snap Snapshot) {
	p.subsMu.RLock()
	defer p.subsMu.RUnlock()

	for ch := range p.subs {
		select {
		case ch <- snap:
		default:
			// Drop if subscriber is slow
		}
	}
}

// Subscribe returns a channel that receives snapshots
func (p *Pipeline) Subscribe() chan Snapshot {
	ch := make(chan Snapshot, p.cfg.SubscriberBuffer)

	p.subsMu.Lock()
	p.subs[ch] = struct{}{}
	p.subsMu.Unlock()

	return ch
}

// Unsubscribe removes a subscriber
func (p *Pipeline) Unsubscribe(ch chan Snapshot) {
	p.subsMu.Lock()
	if _, exists := p.subs[ch]; exists {
		delete(p.subs, ch)
		close(ch)
	}
	p.subsMu.Unlock()
}

// Latest returns the most recent snapshot, if any frame was analyzed
func (p *Pipeline) Latest() (Snapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest, p.ready
}

// Healthy returns true while the capture session delivers frames
func (p *Pipeline) Healthy() bool {
	return p.capture.Healthy()
}

// SpectralAvailable reports whether a real spectral capability is wired
func (p *Pipeline) SpectralAvailable() bool {
	return p.spectral.Available()
}

// Config returns the sensing configuration of the session
func (p *Pipeline) Config() sensing.Config {
	return p.sensing
}

// Stats returns pipeline statistics
func (p *Pipeline) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	avgLatency := float64(0)
	if p.frames > 0 {
		avgLatency = p.totalLatencyMs / float64(p.frames)
	}

	p.subsMu.RLock()
	subscribers := len(p.subs)
	p.subsMu.RUnlock()

	return Stats{
		Enabled:             p.sensing.Enabled,
		Method:              p.sensing.Localization.Method,
		SampleRate:          p.sensing.SampleRate,
		ObstacleDetection:   p.sensing.Obstacles.Enabled,
		AudioClassification: p.sensing.Classification.Enabled,
		LibraryAvailable:    p.spectral.Available(),
		BufferSize:          len(p.window.Samples()),
		WindowFull:          p.window.Full(),
		WindowSeconds:       windowSpan(p.window.Frames()).Seconds(),
		CaptureHealthy:      p.capture.Healthy(),
		FramesProcessed:     p.frames,
		EventCount:          p.events,
		ObstacleWarnings:    p.obstacleWarnings,
		Narrations:          p.narrations,
		ReadTimeouts:        p.timeouts,
		StreamErrors:        p.streamErrors,
		Restarts:            p.restarts,
		AvgLatencyMs:        avgLatency,
		SubscriberCount:     subscribers,
		CurrentPowerDB:      p.latest.AveragePowerDB,
		Capture:             p.capture.Stats(),
	}
}

// Stats contains pipeline statistics
type Stats struct {
	Enabled             bool    `json:"enabled"`
	Method              string  `json:"method"`
	SampleRate          int     `json:"sample_rate"`
	ObstacleDetection   bool    `json:"obstacle_detection"`
	AudioClassification bool    `json:"audio_classification"`
	LibraryAvailable    bool    `json:"library_available"`
	BufferSize          int     `json:"buffer_size"` // Samples in the rolling window
	WindowFull          bool    `json:"window_full"`
	WindowSeconds       float64 `json:"window_seconds"`
	CaptureHealthy      bool    `json:"capture_healthy"`
	FramesProcessed     uint64  `json:"frames_processed"`
	EventCount          uint64  `json:"event_count"`
	ObstacleWarnings    uint64  `json:"obstacle_warnings"`
	Narrations          uint64  `json:"narrations"`
	ReadTimeouts        uint64  `json:"read_timeouts"`
	StreamErrors        uint64  `json:"stream_errors"`
	Restarts            uint64  `json:"restarts"`
	AvgLatencyMs        float64 `json:"avg_latency_ms"`
	SubscriberCount     int     `json:"subscriber_count"`
	CurrentPowerDB      float64 `json:"current_power_db"`

	Capture capture.SessionStats `json:"capture"`
}

func windowSpan(frames []sensing.Frame) time.Duration {
	var span time.Duration
	for _, f := range frames {
		span += f.Duration()
	}
	return span
}

// Stop stops the pipeline gracefully and stops capture. The session itself
// stays open; its owner closes it.
func (p *Pipeline) Stop() {
	p.lifeMu.Lock()
	cancel := p.cancel
	running := p.running
	p.lifeMu.Unlock()

	if running && cancel != nil {
		cancel()
		<-p.done
	}

	if err := p.capture.Stop(); err != nil {
		p.logger.Debug("capture stop", "error", err)
	}

	// Close all subscriber channels
	p.subsMu.Lock()
	for ch := range p.subs {
		close(ch)
		delete(p.subs, ch)
	}
	p.subsMu.Unlock()
}
