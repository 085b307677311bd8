package playback

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"prism-server/work/logger"
	"prism-server/work/metrics"
)

// State is the playback session lifecycle position.
type State int32

const (
	StateIdle State = iota
	StateLoading
	StatePlaying
	StatePaused
	StateRecovering
	StateTorndown
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateRecovering:
		return "recovering"
	case StateTorndown:
		return "torndown"
	default:
		return "idle"
	}
}

// Controller owns the lifecycle of a single active media stream on one sink:
// source selection, quality selection, fault classification and bounded
// recovery. At most one session is live per sink at any time, enforced by
// unconditional teardown before attach rather than by locking — source
// changes are serialized through one intent entry point.
//
// Engine events arrive on the engine's event-delivery goroutine while
// intents, fault reports and telemetry can come from relay reads and pool
// workers; state lives in atomics and the session mutex so all of them
// stay safe to call concurrently.
type Controller struct {
	sink          Sink
	engineFactory EngineFactory
	engineConfig  EngineConfig
	now           func() time.Time

	// nativeAdaptive marks sinks that play segmented-adaptive URLs
	// themselves (the Safari case); the engine is skipped for those.
	nativeAdaptive bool

	state   atomic.Int32
	playing atomic.Bool

	mu      sync.Mutex
	engine  Engine
	url     string
	mode    DeliveryMode
	active  bool
	volume  float64
	muted   bool
	ladder  *RecoveryLadder
	seekSeq atomic.Uint64

	telemetryMu sync.Mutex
	currentTime float64
	duration    float64
	buffering   bool
	onTelemetry func(Telemetry)
}

// NewController builds a controller for one sink. The engine factory is
// invoked per adaptive session; pass NewHLSEngineFactory for production or
// a scripted factory for tests.
func NewController(sink Sink, factory EngineFactory, cfg EngineConfig, now func() time.Time) *Controller {
	if now == nil {
		now = time.Now
	}
	return &Controller{
		sink:          sink,
		engineFactory: factory,
		engineConfig:  cfg,
		now:           now,
		volume:        1.0,
		ladder:        NewRecoveryLadder(now),
	}
}

// SetNativeAdaptive marks the sink as natively supporting segmented-adaptive
// playback, which routes adaptive URLs down the direct path.
func (c *Controller) SetNativeAdaptive(native bool) {
	c.nativeAdaptive = native
}

// OnTelemetry registers the callback fired on every sink timing event.
// Consumers must be cheap and non-blocking; events can arrive many times
// per second.
func (c *Controller) OnTelemetry(fn func(Telemetry)) {
	c.telemetryMu.Lock()
	c.onTelemetry = fn
	c.telemetryMu.Unlock()
}

// State returns the session's current lifecycle state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Engine returns the active adaptive engine, nil when none is attached.
func (c *Controller) Engine() Engine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine
}

// LoadSource replaces the active source. Any previously attached adaptive
// engine is fully destroyed first, synchronously and unconditionally, even
// when url is empty. An empty url leaves the session idle.
func (c *Controller) LoadSource(url string, playing bool) State {
	c.teardownEngine()
	c.playing.Store(playing)

	if url == "" {
		c.setState(StateIdle)
		return StateIdle
	}

	mode := ClassifyURL(url)

	c.mu.Lock()
	c.url = url
	c.mode = mode
	c.active = true
	// Recovery timestamps are per-session state; a fresh session starts
	// with both unset.
	c.ladder = NewRecoveryLadder(c.now)
	c.mu.Unlock()

	c.setState(StateLoading)
	metrics.PlaybackSessions.WithLabelValues(mode.String()).Inc()

	if mode == ModeAdaptive && !c.nativeAdaptive {
		engine := c.engineFactory(c.engineConfig, EngineHandlers{
			OnLevelsReady: c.handleLevelsReady,
			OnFatalError:  c.handleFatalError,
		})

		c.mu.Lock()
		c.engine = engine
		c.mu.Unlock()

		engine.AttachMedia(c.sink)
		engine.LoadSource(url)
		return StateLoading
	}

	// Native support or plain progressive media: attach directly.
	c.sink.AttachURL(url)
	c.sink.Load()
	c.applyVolume()
	if playing {
		c.sink.Play()
		c.setState(StatePlaying)
	}
	return c.State()
}

// handleLevelsReady fires when manifest/level metadata becomes available.
// The tier with the greatest vertical resolution wins, ties broken by first
// encountered, and playback is forced onto it.
func (c *Controller) handleLevelsReady(levels []Level) {
	c.mu.Lock()
	engine := c.engine
	c.mu.Unlock()
	if engine == nil {
		return
	}

	if len(levels) > 0 {
		index := SelectMaxQualityLevel(levels)
		logger.Info("{playback - handleLevelsReady} Forcing highest quality: %dp (index %d)", levels[index].Height, index)
		engine.SetCurrentLevel(index)
	}

	c.applyVolume()
	if c.playing.Load() {
		c.sink.Play()
		c.setState(StatePlaying)
	}
}

// handleFatalError walks the recovery ladder for a fatal engine fault and
// executes the resulting action.
func (c *Controller) handleFatalError(fault FaultType, err error) {
	// Faults arrive from the engine loop, pool workers and relay read
	// goroutines at once; the ladder walk is serialized under the session
	// mutex and only the resulting action runs outside it.
	c.mu.Lock()
	engine := c.engine
	var action RecoveryAction
	if engine != nil {
		action = c.ladder.Next(fault)
	}
	c.mu.Unlock()
	if engine == nil {
		return
	}

	metrics.PlaybackRecoveries.WithLabelValues(action.String()).Inc()

	switch action {
	case ActionRestartLoad:
		logger.Info("{playback - handleFatalError} Fatal network error, restarting load: %v", err)
		c.setState(StateRecovering)
		engine.StartLoad()

	case ActionRecoverMedia:
		logger.Info("{playback - handleFatalError} Fatal media error, attempting recovery: %v", err)
		c.setState(StateRecovering)
		engine.RecoverMediaError()

	case ActionSwapCodecAndRecover:
		logger.Warn("{playback - handleFatalError} Repeat media error, swapping audio codec: %v", err)
		c.setState(StateRecovering)
		engine.SwapAudioCodec()
		engine.RecoverMediaError()

	default:
		logger.Error("{playback - handleFatalError} Unrecoverable fault (%s), destroying session: %v", fault, err)
		c.teardownEngine()
		c.setState(StateTorndown)
	}
}

// ReportFault feeds an externally observed fatal fault (a decode error
// surfaced by the attached player) into the recovery ladder.
func (c *Controller) ReportFault(fault FaultType, err error) {
	c.handleFatalError(fault, err)
}

// SetPlaying applies a play/pause intent to the sink.
func (c *Controller) SetPlaying(playing bool) {
	c.playing.Store(playing)
	if c.State() == StateIdle || c.State() == StateTorndown {
		return
	}
	if playing {
		c.sink.Play()
		c.setState(StatePlaying)
	} else {
		c.sink.Pause()
		c.setState(StatePaused)
	}
}

// SetVolume stores the volume and re-applies both volume and mute to the
// sink. Application is idempotent and has no failure mode.
func (c *Controller) SetVolume(volume float64) {
	c.mu.Lock()
	c.volume = volume
	c.mu.Unlock()
	c.applyVolume()
}

// SetMuted stores the mute flag and re-applies both volume and mute.
func (c *Controller) SetMuted(muted bool) {
	c.mu.Lock()
	c.muted = muted
	c.mu.Unlock()
	c.applyVolume()
}

// ToggleMuted flips the mute flag and re-applies both volume and mute.
func (c *Controller) ToggleMuted() {
	c.mu.Lock()
	c.muted = !c.muted
	c.mu.Unlock()
	c.applyVolume()
}

func (c *Controller) applyVolume() {
	c.mu.Lock()
	volume, muted := c.volume, c.muted
	c.mu.Unlock()
	c.sink.SetVolume(volume)
	c.sink.SetMuted(muted)
}

// SeekRelative shifts the play position by delta seconds. The fractional
// part is truncated before applying. Finite durations clamp the result to
// [0, duration]; live content (non-finite duration) applies the delta
// unclamped. Out-of-range deltas clamp silently.
func (c *Controller) SeekRelative(delta float64) {
	delta = math.Trunc(delta)
	c.seekSeq.Add(1)

	current := c.sink.CurrentTime()
	duration := c.sink.Duration()

	if isFinite(duration) && duration > 0 {
		c.sink.SetCurrentTime(clamp(current+delta, 0, duration))
		return
	}
	c.sink.SetCurrentTime(current + delta)
}

// SeekAbsolute moves the play position to pos seconds, clamped to the
// sink's duration when finite. Live content ignores absolute seeks since
// there is no fixed timeline to address.
func (c *Controller) SeekAbsolute(pos float64) {
	c.seekSeq.Add(1)

	duration := c.sink.Duration()
	if !isFinite(duration) || duration <= 0 {
		return
	}
	c.sink.SetCurrentTime(clamp(pos, 0, duration))
}

// SeekCount reports how many seek requests have been applied. Change
// detection is structural: consumers watch this monotonic counter rather
// than comparing seek values.
func (c *Controller) SeekCount() uint64 {
	return c.seekSeq.Load()
}

// HandleTimeUpdate is called by the sink on every timing event.
func (c *Controller) HandleTimeUpdate(seconds float64) {
	c.telemetryMu.Lock()
	c.currentTime = seconds
	c.emitLocked()
	c.telemetryMu.Unlock()
}

// HandleDurationChange is called by the sink when its duration changes.
func (c *Controller) HandleDurationChange(seconds float64) {
	c.telemetryMu.Lock()
	c.duration = seconds
	c.emitLocked()
	c.telemetryMu.Unlock()
}

// HandleBuffering is called by the sink on waiting/canplay transitions.
func (c *Controller) HandleBuffering(buffering bool) {
	c.telemetryMu.Lock()
	c.buffering = buffering
	c.emitLocked()
	c.telemetryMu.Unlock()
}

func (c *Controller) emitLocked() {
	if c.onTelemetry != nil {
		c.onTelemetry(Telemetry{
			CurrentTime: c.currentTime,
			Duration:    c.duration,
			Buffering:   c.buffering,
		})
	}
}

// teardownEngine synchronously destroys any attached adaptive engine and
// detaches the sink. Safe to call with no engine attached.
func (c *Controller) teardownEngine() {
	c.mu.Lock()
	engine := c.engine
	mode := c.mode
	active := c.active
	c.engine = nil
	c.url = ""
	c.active = false
	c.mu.Unlock()

	if active {
		metrics.PlaybackSessions.WithLabelValues(mode.String()).Dec()
	}
	if engine != nil {
		engine.Destroy()
		c.sink.Detach()
		logger.Debug("{playback - teardownEngine} Adaptive engine destroyed")
	}
}

func (c *Controller) setState(s State) {
	c.state.Store(int32(s))
}

func isFinite(f float64) bool {
	return !math.IsInf(f, 0) && !math.IsNaN(f)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}
