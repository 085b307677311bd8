package playback

import "strings"

// DeliveryMode classifies how a source URL is delivered to the sink,
// enabling specialized handling for segmented-adaptive streams versus
// direct progressive playback.
type DeliveryMode int

const (
	ModeDirect   DeliveryMode = iota // Direct attachment for plain HTTP media
	ModeAdaptive                     // Segmented-adaptive delivery via a manifest
)

func (m DeliveryMode) String() string {
	if m == ModeAdaptive {
		return "adaptive"
	}
	return "direct"
}

// ClassifyURL decides the delivery mode from the URL's playlist suffix
// pattern. Anything carrying an ".m3u8"/".m3u" reference is treated as
// segmented-adaptive; everything else plays directly.
func ClassifyURL(url string) DeliveryMode {
	if strings.Contains(url, ".m3u8") || strings.Contains(url, ".m3u") {
		return ModeAdaptive
	}
	return ModeDirect
}

// FaultType categorizes a fatal playback error for the recovery ladder.
type FaultType int

const (
	FaultNetwork FaultType = iota // Transport-level failure while loading manifests or segments
	FaultMedia                    // Decode/append failure in the media pipeline
	FaultOther                    // Anything else fatal
)

func (f FaultType) String() string {
	switch f {
	case FaultNetwork:
		return "network"
	case FaultMedia:
		return "media"
	default:
		return "other"
	}
}

// Sink is the playback surface the controller drives: the media element on
// the attached player. Implementations must tolerate repeated idempotent
// calls (volume, mute, play while playing).
//
// Duration returns the sink's reported duration; live content reports a
// non-finite value, which switches seek handling to unclamped relative
// offsets.
type Sink interface {
	Play()
	Pause()
	SetVolume(volume float64)
	SetMuted(muted bool)
	CurrentTime() float64
	SetCurrentTime(seconds float64)
	Duration() float64
	AttachURL(url string)
	Load()
	Detach()
}

// Level is one quality tier from an adaptive manifest.
type Level struct {
	URI       string
	Name      string
	Height    int // Vertical resolution; the selection criterion
	Bandwidth uint32
}

// SelectMaxQualityLevel returns the index of the tier with the greatest
// vertical resolution, ties broken by first encountered. The product always
// prefers maximum quality over adaptive bitrate matching.
func SelectMaxQualityLevel(levels []Level) int {
	highestIndex := 0
	maxHeight := 0
	for i, level := range levels {
		if level.Height > maxHeight {
			maxHeight = level.Height
			highestIndex = i
		}
	}
	return highestIndex
}

// EngineConfig tunes the adaptive engine for low-latency live playback.
type EngineConfig struct {
	LiveSyncSegments       int  // Target distance from the live edge, in segments
	LiveMaxLatencySegments int  // Catch up when further behind than this
	BackBufferLength       int  // Seconds of played content retained; 0 for live
	StartFragPrefetch      bool // Prefetch the next segment ahead of need
	AppendErrorMaxRetry    int  // Per-fragment append attempts before a media fault
}

// DefaultEngineConfig mirrors the live tuning the client shipped with:
// roughly three segment durations of latency, catch-up past five.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		LiveSyncSegments:       3,
		LiveMaxLatencySegments: 5,
		BackBufferLength:       0,
		StartFragPrefetch:      true,
		AppendErrorMaxRetry:    3,
	}
}

// EngineHandlers carries the event callbacks an Engine fires. Delivery is
// single-threaded from the engine's event loop; handlers must be cheap.
type EngineHandlers struct {
	// OnLevelsReady fires once manifest/level metadata is available.
	OnLevelsReady func(levels []Level)
	// OnFatalError fires for errors the engine cannot continue past.
	OnFatalError func(fault FaultType, err error)
}

// Engine is the adaptive-streaming engine owned by a playback session. The
// controller manages only its lifecycle (create, attach, destroy) and reacts
// to its events; segment scheduling is internal to the engine.
type Engine interface {
	AttachMedia(sink Sink)
	LoadSource(url string)
	// StartLoad restarts loading after a network fault.
	StartLoad()
	// RecoverMediaError attempts in-place recovery from a decode fault.
	RecoverMediaError()
	// SwapAudioCodec switches the audio codec configuration before a retry.
	SwapAudioCodec()
	SetCurrentLevel(index int)
	// Destroy releases the engine's timers, buffers and sink attachment.
	// It is synchronous and safe to call more than once.
	Destroy()
}

// EngineFactory creates a configured engine with its handlers bound. The
// controller takes a factory so tests can swap in a scripted engine.
type EngineFactory func(cfg EngineConfig, handlers EngineHandlers) Engine

// Telemetry is the controller's outward-facing playback state, emitted on
// every sink timing event.
type Telemetry struct {
	CurrentTime float64 `json:"currentTime"`
	Duration    float64 `json:"duration"`
	Buffering   bool    `json:"buffering"`
}
