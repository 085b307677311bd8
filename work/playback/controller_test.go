package playback

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSink records every call the controller makes against the playback
// surface. Tests run single-threaded because fake engines deliver their
// events synchronously.
type fakeSink struct {
	playCalls   int
	pauseCalls  int
	volume      float64
	muted       bool
	current     float64
	duration    float64
	setTimes    []float64
	attached    []string
	loadCalls   int
	detachCalls int
}

func (s *fakeSink) Play()                          { s.playCalls++ }
func (s *fakeSink) Pause()                         { s.pauseCalls++ }
func (s *fakeSink) SetVolume(volume float64)       { s.volume = volume }
func (s *fakeSink) SetMuted(muted bool)            { s.muted = muted }
func (s *fakeSink) CurrentTime() float64           { return s.current }
func (s *fakeSink) SetCurrentTime(seconds float64) { s.setTimes = append(s.setTimes, seconds) }
func (s *fakeSink) Duration() float64              { return s.duration }
func (s *fakeSink) AttachURL(url string)           { s.attached = append(s.attached, url) }
func (s *fakeSink) Load()                          { s.loadCalls++ }
func (s *fakeSink) Detach()                        { s.detachCalls++ }

// fakeEngine is a scripted Engine: LoadSource synchronously announces the
// configured level set, and every lifecycle call is counted.
type fakeEngine struct {
	handlers EngineHandlers
	levels   []Level

	attachCalls    int
	loadedURL      string
	startLoadCalls int
	recoverCalls   int
	swapCalls      int
	destroyCalls   int
	forcedLevel    int
}

func (e *fakeEngine) AttachMedia(sink Sink) { e.attachCalls++ }

func (e *fakeEngine) LoadSource(url string) {
	e.loadedURL = url
	if e.levels != nil {
		e.handlers.OnLevelsReady(e.levels)
	}
}

func (e *fakeEngine) StartLoad()                { e.startLoadCalls++ }
func (e *fakeEngine) RecoverMediaError()        { e.recoverCalls++ }
func (e *fakeEngine) SwapAudioCodec()           { e.swapCalls++ }
func (e *fakeEngine) SetCurrentLevel(index int) { e.forcedLevel = index }
func (e *fakeEngine) Destroy()                  { e.destroyCalls++ }

type fakeFactory struct {
	levels  []Level
	engines []*fakeEngine
}

func (f *fakeFactory) create(cfg EngineConfig, handlers EngineHandlers) Engine {
	engine := &fakeEngine{handlers: handlers, levels: f.levels}
	f.engines = append(f.engines, engine)
	return engine
}

func (f *fakeFactory) last(t *testing.T) *fakeEngine {
	require.NotEmpty(t, f.engines)
	return f.engines[len(f.engines)-1]
}

func newTestController(levels []Level) (*Controller, *fakeSink, *fakeFactory, *fakeClock) {
	sink := &fakeSink{duration: math.Inf(1)}
	factory := &fakeFactory{levels: levels}
	clock := newFakeClock()
	ctrl := NewController(sink, factory.create, DefaultEngineConfig(), clock.Now)
	return ctrl, sink, factory, clock
}

func TestSelectMaxQualityLevel(t *testing.T) {
	levels := []Level{
		{Name: "480p", Height: 480},
		{Name: "1080p", Height: 1080},
		{Name: "720p", Height: 720},
	}
	assert.Equal(t, 1, SelectMaxQualityLevel(levels))

	// Ties break toward the first tier encountered.
	tied := []Level{
		{Name: "a", Height: 1080},
		{Name: "b", Height: 1080},
	}
	assert.Equal(t, 0, SelectMaxQualityLevel(tied))

	assert.Equal(t, 0, SelectMaxQualityLevel(nil))
}

func TestLoadSourceForcesHighestQuality(t *testing.T) {
	levels := []Level{
		{Name: "480p", Height: 480},
		{Name: "1080p", Height: 1080},
		{Name: "720p", Height: 720},
	}
	ctrl, sink, factory, _ := newTestController(levels)

	state := ctrl.LoadSource("http://example.com/stream.m3u8", true)

	assert.Equal(t, StatePlaying, ctrl.State())
	assert.Equal(t, StateLoading, state)
	engine := factory.last(t)
	assert.Equal(t, 1, engine.forcedLevel)
	assert.Equal(t, 1, engine.attachCalls)
	assert.Equal(t, "http://example.com/stream.m3u8", engine.loadedURL)
	assert.Equal(t, 1, sink.playCalls)
}

func TestLoadSourceDirectSkipsEngine(t *testing.T) {
	ctrl, sink, factory, _ := newTestController(nil)

	state := ctrl.LoadSource("http://example.com/movie.mp4", true)

	assert.Equal(t, StatePlaying, state)
	assert.Empty(t, factory.engines)
	assert.Equal(t, []string{"http://example.com/movie.mp4"}, sink.attached)
	assert.Equal(t, 1, sink.loadCalls)
	assert.Equal(t, 1, sink.playCalls)
}

func TestLoadSourceNativeAdaptiveUsesDirectPath(t *testing.T) {
	ctrl, sink, factory, _ := newTestController(nil)
	ctrl.SetNativeAdaptive(true)

	ctrl.LoadSource("http://example.com/stream.m3u8", false)

	assert.Empty(t, factory.engines)
	assert.Equal(t, []string{"http://example.com/stream.m3u8"}, sink.attached)
	assert.Zero(t, sink.playCalls)
	assert.Equal(t, StateLoading, ctrl.State())
}

func TestLoadSourceReplacesPreviousEngine(t *testing.T) {
	ctrl, _, factory, _ := newTestController([]Level{{Height: 720}})

	ctrl.LoadSource("http://example.com/one.m3u8", true)
	first := factory.last(t)

	ctrl.LoadSource("http://example.com/two.m3u8", true)
	second := factory.last(t)

	assert.Equal(t, 1, first.destroyCalls)
	assert.Zero(t, second.destroyCalls)
	assert.Len(t, factory.engines, 2)
}

func TestLoadSourceEmptyURLTearsDownAndIdles(t *testing.T) {
	ctrl, sink, factory, _ := newTestController([]Level{{Height: 720}})

	ctrl.LoadSource("http://example.com/stream.m3u8", true)
	engine := factory.last(t)

	state := ctrl.LoadSource("", false)
	assert.Equal(t, StateIdle, state)
	assert.Equal(t, 1, engine.destroyCalls)
	assert.Equal(t, 1, sink.detachCalls)

	// Idempotent: clearing an already-idle session does nothing further.
	state = ctrl.LoadSource("", false)
	assert.Equal(t, StateIdle, state)
	assert.Equal(t, 1, engine.destroyCalls)
	assert.Equal(t, 1, sink.detachCalls)
}

func TestNetworkFaultRestartsLoadUnbounded(t *testing.T) {
	ctrl, _, factory, clock := newTestController([]Level{{Height: 720}})

	ctrl.LoadSource("http://example.com/stream.m3u8", true)
	engine := factory.last(t)

	for i := 0; i < 5; i++ {
		ctrl.ReportFault(FaultNetwork, errors.New("manifest timeout"))
		clock.Advance(100 * time.Millisecond)
	}

	assert.Equal(t, 5, engine.startLoadCalls)
	assert.Zero(t, engine.destroyCalls)
	assert.Equal(t, StateRecovering, ctrl.State())
}

func TestMediaFaultsEscalateThroughController(t *testing.T) {
	ctrl, _, factory, clock := newTestController([]Level{{Height: 720}})

	ctrl.LoadSource("http://example.com/stream.m3u8", true)
	engine := factory.last(t)

	ctrl.ReportFault(FaultMedia, errors.New("append error"))
	assert.Equal(t, 1, engine.recoverCalls)
	assert.Zero(t, engine.swapCalls)

	clock.Advance(time.Second)
	ctrl.ReportFault(FaultMedia, errors.New("append error"))
	assert.Equal(t, 2, engine.recoverCalls)
	assert.Equal(t, 1, engine.swapCalls)

	clock.Advance(time.Second)
	ctrl.ReportFault(FaultMedia, errors.New("append error"))
	assert.Equal(t, 1, engine.destroyCalls)
	assert.Equal(t, StateTorndown, ctrl.State())
}

func TestMediaFaultAfterCooldownRecoversInPlaceAgain(t *testing.T) {
	ctrl, _, factory, clock := newTestController([]Level{{Height: 720}})

	ctrl.LoadSource("http://example.com/stream.m3u8", true)
	engine := factory.last(t)

	ctrl.ReportFault(FaultMedia, errors.New("append error"))
	clock.Advance(10 * time.Second)
	ctrl.ReportFault(FaultMedia, errors.New("append error"))

	assert.Equal(t, 2, engine.recoverCalls)
	assert.Zero(t, engine.swapCalls)
	assert.Zero(t, engine.destroyCalls)
}

func TestLadderResetsPerSession(t *testing.T) {
	ctrl, _, factory, _ := newTestController([]Level{{Height: 720}})

	ctrl.LoadSource("http://example.com/stream.m3u8", true)
	ctrl.ReportFault(FaultMedia, errors.New("append error"))
	assert.Equal(t, 1, factory.last(t).recoverCalls)

	// A new session starts the ladder over even inside the old window.
	ctrl.LoadSource("http://example.com/stream.m3u8", true)
	engine := factory.last(t)
	ctrl.ReportFault(FaultMedia, errors.New("append error"))
	assert.Equal(t, 1, engine.recoverCalls)
	assert.Zero(t, engine.swapCalls)
}

func TestSeekRelativeClampsFiniteDuration(t *testing.T) {
	ctrl, sink, _, _ := newTestController(nil)
	sink.duration = 100
	sink.current = 95

	ctrl.SeekRelative(20)
	ctrl.SeekRelative(-1000)

	assert.Equal(t, []float64{100, 0}, sink.setTimes)
}

func TestSeekRelativeTruncatesFraction(t *testing.T) {
	ctrl, sink, _, _ := newTestController(nil)
	sink.duration = 100
	sink.current = 0

	ctrl.SeekRelative(10.7321)
	ctrl.SeekRelative(-3.9)

	assert.Equal(t, []float64{10, 0}, sink.setTimes)
}

func TestSeekRelativeLiveIsUnclamped(t *testing.T) {
	ctrl, sink, _, _ := newTestController(nil)
	sink.duration = math.Inf(1)
	sink.current = 95

	ctrl.SeekRelative(20)

	assert.Equal(t, []float64{115}, sink.setTimes)
}

func TestSeekAbsoluteClampsAndIgnoresLive(t *testing.T) {
	ctrl, sink, _, _ := newTestController(nil)
	sink.duration = 100

	ctrl.SeekAbsolute(250)
	ctrl.SeekAbsolute(-5)
	ctrl.SeekAbsolute(42)
	assert.Equal(t, []float64{100, 0, 42}, sink.setTimes)

	// Live content has no fixed timeline to address.
	sink.duration = math.Inf(1)
	ctrl.SeekAbsolute(42)
	assert.Equal(t, []float64{100, 0, 42}, sink.setTimes)
}

func TestSeekCountIsMonotonic(t *testing.T) {
	ctrl, sink, _, _ := newTestController(nil)
	sink.duration = 100

	assert.Zero(t, ctrl.SeekCount())
	ctrl.SeekRelative(10)
	ctrl.SeekRelative(10)
	ctrl.SeekAbsolute(10)
	assert.Equal(t, uint64(3), ctrl.SeekCount())

	// Absolute seeks on live content still count as requests.
	sink.duration = math.Inf(1)
	ctrl.SeekAbsolute(10)
	assert.Equal(t, uint64(4), ctrl.SeekCount())
}

func TestSetPlayingTogglesSink(t *testing.T) {
	ctrl, sink, _, _ := newTestController(nil)

	ctrl.LoadSource("http://example.com/movie.mp4", true)
	ctrl.SetPlaying(false)
	assert.Equal(t, 1, sink.pauseCalls)
	assert.Equal(t, StatePaused, ctrl.State())

	ctrl.SetPlaying(true)
	assert.Equal(t, 2, sink.playCalls)
	assert.Equal(t, StatePlaying, ctrl.State())
}

func TestSetPlayingIgnoredWhenIdle(t *testing.T) {
	ctrl, sink, _, _ := newTestController(nil)

	ctrl.SetPlaying(true)
	assert.Zero(t, sink.playCalls)
	assert.Equal(t, StateIdle, ctrl.State())
}

func TestVolumeAndMuteReapplyTogether(t *testing.T) {
	ctrl, sink, _, _ := newTestController(nil)

	ctrl.SetVolume(0.5)
	assert.Equal(t, 0.5, sink.volume)
	assert.False(t, sink.muted)

	ctrl.SetMuted(true)
	assert.Equal(t, 0.5, sink.volume)
	assert.True(t, sink.muted)
}

func TestTelemetryEmitsOnSinkEvents(t *testing.T) {
	ctrl, _, _, _ := newTestController(nil)

	var got []Telemetry
	ctrl.OnTelemetry(func(tm Telemetry) { got = append(got, tm) })

	ctrl.HandleDurationChange(120)
	ctrl.HandleTimeUpdate(4.5)
	ctrl.HandleBuffering(true)

	require.Len(t, got, 3)
	assert.Equal(t, Telemetry{Duration: 120}, got[0])
	assert.Equal(t, Telemetry{CurrentTime: 4.5, Duration: 120}, got[1])
	assert.Equal(t, Telemetry{CurrentTime: 4.5, Duration: 120, Buffering: true}, got[2])
}

func TestClassifyURL(t *testing.T) {
	assert.Equal(t, ModeAdaptive, ClassifyURL("http://example.com/live/stream.m3u8"))
	assert.Equal(t, ModeAdaptive, ClassifyURL("http://example.com/playlist.m3u"))
	assert.Equal(t, ModeAdaptive, ClassifyURL("http://example.com/stream.m3u8?token=abc"))
	assert.Equal(t, ModeDirect, ClassifyURL("http://example.com/movie.mp4"))
	assert.Equal(t, ModeDirect, ClassifyURL("http://example.com/clip.webm"))
}

// countingEngine is safe for concurrent lifecycle calls, unlike fakeEngine
// whose plain counters assume single-threaded delivery.
type countingEngine struct {
	startLoads atomic.Int32
	recovers   atomic.Int32
	swaps      atomic.Int32
	destroys   atomic.Int32
}

func (e *countingEngine) AttachMedia(sink Sink)     {}
func (e *countingEngine) LoadSource(url string)     {}
func (e *countingEngine) StartLoad()                { e.startLoads.Add(1) }
func (e *countingEngine) RecoverMediaError()        { e.recovers.Add(1) }
func (e *countingEngine) SwapAudioCodec()           { e.swaps.Add(1) }
func (e *countingEngine) SetCurrentLevel(index int) {}
func (e *countingEngine) Destroy()                  { e.destroys.Add(1) }

func TestConcurrentNetworkFaultsAllRestartLoad(t *testing.T) {
	sink := &fakeSink{duration: math.Inf(1)}
	engine := &countingEngine{}
	factory := func(cfg EngineConfig, handlers EngineHandlers) Engine { return engine }
	clock := newFakeClock()
	ctrl := NewController(sink, factory, DefaultEngineConfig(), clock.Now)
	ctrl.LoadSource("http://example.com/stream.m3u8", true)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				ctrl.ReportFault(FaultNetwork, errors.New("socket reset"))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(400), engine.startLoads.Load())
	assert.Equal(t, StateRecovering, ctrl.State())
}

func TestConcurrentMediaFaultsWalkLadderOnce(t *testing.T) {
	sink := &fakeSink{duration: math.Inf(1)}
	engine := &countingEngine{}
	factory := func(cfg EngineConfig, handlers EngineHandlers) Engine { return engine }
	clock := newFakeClock()
	ctrl := NewController(sink, factory, DefaultEngineConfig(), clock.Now)
	ctrl.LoadSource("http://example.com/stream.m3u8", true)

	// All faults land inside one cooldown window, so the ladder hands out
	// exactly one recover, one codec swap, then teardown regardless of the
	// goroutine interleaving.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctrl.ReportFault(FaultMedia, errors.New("decode stall"))
		}()
	}
	wg.Wait()

	assert.Equal(t, LadderFailed, ctrl.ladder.State())
	assert.Equal(t, int32(2), engine.recovers.Load())
	assert.Equal(t, int32(1), engine.swaps.Load())
	assert.GreaterOrEqual(t, engine.destroys.Load(), int32(1))
}
