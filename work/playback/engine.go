package playback

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"prism-server/work/client"
	"prism-server/work/config"
	"prism-server/work/logger"
	"prism-server/work/utils"

	"github.com/grafov/m3u8"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/ratelimit"
)

// HLSEngine is the production adaptive-streaming engine. It loads the
// manifest, surfaces the quality tiers, then follows the live edge of the
// selected media playlist: refreshing the playlist on the segment cadence
// and prefetching upcoming segments through the shared worker pool so they
// are hot when the player asks for them. Outbound requests are paced by a
// rate limiter so a tight refresh loop cannot hammer the upstream.
//
// The engine only reports faults; the controller owns the recovery policy.
type HLSEngine struct {
	cfg        EngineConfig
	handlers   EngineHandlers
	appCfg     *config.Config
	httpClient *client.HeaderSettingClient
	limiter    ratelimit.Limiter
	pool       *ants.Pool

	// rootCtx spans the engine's whole life; loaders block on it instead
	// of the handlers, so Destroy can be called from an event handler.
	rootCtx    context.Context
	rootCancel context.CancelFunc
	events     chan engineEvent

	mu     sync.Mutex
	sink   Sink
	srcURL string
	cancel context.CancelFunc
	wg     sync.WaitGroup

	currentLevel atomic.Int32
	swapAudio    atomic.Bool
	destroyed    atomic.Bool
}

// engineEvent carries one handler invocation from a loader to the
// dispatch goroutine. A nil levels slice marks a fatal fault.
type engineEvent struct {
	levels []Level
	fault  FaultType
	err    error
}

// NewHLSEngineFactory returns an EngineFactory producing HLSEngine
// instances that share the application's HTTP client and worker pool.
func NewHLSEngineFactory(appCfg *config.Config, httpClient *client.HeaderSettingClient, pool *ants.Pool) EngineFactory {
	return func(cfg EngineConfig, handlers EngineHandlers) Engine {
		rootCtx, rootCancel := context.WithCancel(context.Background())
		e := &HLSEngine{
			cfg:        cfg,
			handlers:   handlers,
			appCfg:     appCfg,
			httpClient: httpClient,
			limiter:    ratelimit.New(appCfg.FetchRateLimit),
			pool:       pool,
			rootCtx:    rootCtx,
			rootCancel: rootCancel,
			events:     make(chan engineEvent, 8),
		}
		go e.dispatchEvents()
		return e
	}
}

// AttachMedia binds the engine to its playback sink.
func (e *HLSEngine) AttachMedia(sink Sink) {
	e.mu.Lock()
	e.sink = sink
	e.mu.Unlock()
}

// LoadSource starts the manifest/segment loop for url.
func (e *HLSEngine) LoadSource(srcURL string) {
	e.mu.Lock()
	e.srcURL = srcURL
	e.mu.Unlock()
	e.StartLoad()
}

// StartLoad (re)starts loading from the stored source URL. Any loop already
// running is cancelled first, so a network-fault restart never stacks.
func (e *HLSEngine) StartLoad() {
	e.mu.Lock()
	if e.destroyed.Load() {
		e.mu.Unlock()
		return
	}
	if e.cancel != nil {
		e.cancel()
	}
	ctx, cancel := context.WithCancel(e.rootCtx)
	e.cancel = cancel
	srcURL := e.srcURL
	// Registered under the mutex so Destroy cannot start waiting between
	// the destroyed check and the goroutine launch.
	e.wg.Add(1)
	e.mu.Unlock()

	go e.loadLoop(ctx, srcURL)
}

// RecoverMediaError reinitializes the media pipeline after a decode fault:
// the sink reloads its element and the playlist follow restarts from the
// live edge.
func (e *HLSEngine) RecoverMediaError() {
	if e.destroyed.Load() {
		return
	}

	e.mu.Lock()
	sink := e.sink
	e.mu.Unlock()
	if sink != nil {
		sink.Load()
	}

	logger.Debug("{playback - RecoverMediaError} Restarting playlist follow after decode fault")
	e.StartLoad()
}

// SwapAudioCodec flips the audio codec preference. The next playlist
// follow moves onto a sibling variant at the same height that carries a
// different audio setup, the second-line fix for persistent decode faults.
func (e *HLSEngine) SwapAudioCodec() {
	e.swapAudio.Store(!e.swapAudio.Load())
	logger.Debug("{playback - SwapAudioCodec} Audio codec preference swapped (alt=%v)", e.swapAudio.Load())
}

// SetCurrentLevel forces playback onto the given quality tier. The loop
// picks up the new tier on its next playlist refresh.
func (e *HLSEngine) SetCurrentLevel(index int) {
	e.currentLevel.Store(int32(index))
}

// Destroy releases the engine: loaders are cancelled and awaited, and no
// further events fire. Safe to call more than once, including from inside
// an event handler; only loader goroutines are waited on, and cancelling
// rootCtx unblocks any loader parked on the event channel.
func (e *HLSEngine) Destroy() {
	if !e.destroyed.CompareAndSwap(false, true) {
		return
	}
	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	e.rootCancel()
	e.mu.Unlock()
	e.wg.Wait()
}

// dispatchEvents delivers loader events to the handlers on a dedicated
// goroutine. A handler that reacts by destroying the engine therefore
// never deadlocks against the loader that produced the event.
func (e *HLSEngine) dispatchEvents() {
	for {
		select {
		case <-e.rootCtx.Done():
			return
		case ev := <-e.events:
			if e.destroyed.Load() {
				return
			}
			if ev.levels != nil {
				if e.handlers.OnLevelsReady != nil {
					e.handlers.OnLevelsReady(ev.levels)
				}
			} else if e.handlers.OnFatalError != nil {
				e.handlers.OnFatalError(ev.fault, ev.err)
			}
		}
	}
}

// loadLoop fetches the manifest, emits the level set, then follows the
// selected media playlist's live edge until cancelled.
func (e *HLSEngine) loadLoop(ctx context.Context, srcURL string) {
	defer e.wg.Done()

	base, err := url.Parse(srcURL)
	if err != nil {
		e.emitFatal(FaultOther, fmt.Errorf("invalid source URL: %w", err))
		return
	}

	playlist, listType, err := e.fetchPlaylist(ctx, srcURL)
	if err != nil {
		e.emitFatal(FaultNetwork, err)
		return
	}

	var levels []Level
	var variants []*m3u8.Variant

	switch listType {
	case m3u8.MASTER:
		master := playlist.(*m3u8.MasterPlaylist)
		levels = levelsFromMaster(master)
		// Filtered the same way as the levels so indexes line up.
		variants = presentVariants(master.Variants)
		if len(levels) == 0 {
			e.emitFatal(FaultOther, fmt.Errorf("master playlist has no variants"))
			return
		}
	case m3u8.MEDIA:
		// A bare media playlist is its own single implicit tier.
		levels = []Level{{URI: srcURL, Name: "Direct Stream"}}
	default:
		e.emitFatal(FaultOther, fmt.Errorf("unrecognized playlist type"))
		return
	}

	// The controller's forced tier arrives asynchronously from the
	// levels-ready handler; start from the same max-quality choice and
	// pick up changes on each refresh.
	e.currentLevel.Store(int32(SelectMaxQualityLevel(levels)))
	e.emitLevelsReady(levels)

	e.followLiveEdge(ctx, base, levels, variants)
}

// followLiveEdge polls the media playlist on the segment cadence, keeping
// the configured live-edge distance and prefetching upcoming segments.
func (e *HLSEngine) followLiveEdge(ctx context.Context, base *url.URL, levels []Level, variants []*m3u8.Variant) {
	var lastSeq uint64
	seen := false
	lastIndex := -1
	mediaURL := ""
	interval := 4 * time.Second
	failures := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		index := int(e.currentLevel.Load())
		if index < 0 || index >= len(levels) {
			index = 0
		}
		if index != lastIndex || mediaURL == "" {
			resolved, err := resolveURL(base, e.variantURI(levels, variants, index))
			if err != nil {
				e.emitFatal(FaultOther, fmt.Errorf("invalid variant URI: %w", err))
				return
			}
			mediaURL = resolved
			lastIndex = index
		}

		playlist, listType, err := e.fetchPlaylist(ctx, mediaURL)
		if err != nil {
			failures++
			// One bad refresh on a live playlist is routine; three in a
			// row is a dead upstream.
			if failures >= 3 {
				e.emitFatal(FaultNetwork, fmt.Errorf("media playlist refresh failed: %w", err))
				return
			}
			if !sleepCtx(ctx, interval) {
				return
			}
			continue
		}
		failures = 0

		media, ok := playlist.(*m3u8.MediaPlaylist)
		if !ok || listType != m3u8.MEDIA {
			e.emitFatal(FaultOther, fmt.Errorf("expected media playlist at %s", utils.LogURL(e.appCfg, mediaURL)))
			return
		}

		if media.TargetDuration > 0 {
			interval = time.Duration(media.TargetDuration * float64(time.Second))
		}

		edge := liveEdgeWindow(liveSegments(media), e.cfg.LiveSyncSegments)
		pending, nextSeq, nextSeen := pendingSegments(edge, lastSeq, seen)
		lastSeq, seen = nextSeq, nextSeen

		if e.cfg.StartFragPrefetch {
			for _, seg := range pending {
				segURL, err := resolveURL(base, seg.URI)
				if err != nil {
					continue
				}
				e.prefetchSegment(ctx, segURL)
			}
		}

		if media.Closed {
			// VOD playlist: nothing further to follow.
			return
		}

		if !sleepCtx(ctx, interval) {
			return
		}
	}
}

// variantURI maps the selected tier to a variant playlist. With the audio
// codec preference swapped, a sibling variant at the same resolution with
// a different audio setup takes over.
func (e *HLSEngine) variantURI(levels []Level, variants []*m3u8.Variant, index int) string {
	uri := levels[index].URI
	if e.swapAudio.Load() && index < len(variants) {
		if alt := alternateAudioVariant(variants, index); alt >= 0 {
			uri = variants[alt].URI
		}
	}
	return uri
}

func presentVariants(variants []*m3u8.Variant) []*m3u8.Variant {
	present := make([]*m3u8.Variant, 0, len(variants))
	for _, variant := range variants {
		if variant == nil {
			continue
		}
		present = append(present, variant)
	}
	return present
}

// alternateAudioVariant finds a variant matching the selected one's
// resolution but differing in audio group or codec string; -1 when the
// master carries no such sibling.
func alternateAudioVariant(variants []*m3u8.Variant, index int) int {
	current := variants[index]
	if current == nil {
		return -1
	}
	for i, variant := range variants {
		if i == index || variant == nil {
			continue
		}
		if variant.Resolution != current.Resolution {
			continue
		}
		if variant.Audio != current.Audio || variant.Codecs != current.Codecs {
			return i
		}
	}
	return -1
}

// prefetchSegment warms an upcoming segment through the worker pool with a
// bounded number of attempts. Persistent failures surface as a network
// fault so the controller can restart the load.
func (e *HLSEngine) prefetchSegment(ctx context.Context, segURL string) {
	task := func() {
		var lastErr error
		for attempt := 0; attempt < e.cfg.AppendErrorMaxRetry; attempt++ {
			if ctx.Err() != nil {
				return
			}
			if err := e.fetchAndDiscard(ctx, segURL); err != nil {
				lastErr = err
				continue
			}
			return
		}
		e.emitFatal(FaultNetwork, fmt.Errorf("segment prefetch exhausted retries: %w", lastErr))
	}

	if err := e.pool.Submit(task); err != nil {
		// Pool saturated or released; run inline rather than dropping the
		// live edge.
		task()
	}
}

// fetchPlaylist retrieves and decodes an M3U8 playlist, paced by the
// engine's rate limiter.
func (e *HLSEngine) fetchPlaylist(ctx context.Context, playlistURL string) (m3u8.Playlist, m3u8.ListType, error) {
	e.limiter.Take()

	reqCtx, cancel := context.WithTimeout(ctx, e.appCfg.StreamTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, playlistURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create playlist request: %w", err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch playlist: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("HTTP %d fetching playlist", resp.StatusCode)
	}

	playlist, listType, err := m3u8.DecodeFrom(bufio.NewReader(resp.Body), true)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode playlist: %w", err)
	}
	return playlist, listType, nil
}

func (e *HLSEngine) fetchAndDiscard(ctx context.Context, segURL string) error {
	e.limiter.Take()

	reqCtx, cancel := context.WithTimeout(ctx, e.appCfg.StreamTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, segURL, nil)
	if err != nil {
		return err
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d fetching segment", resp.StatusCode)
	}
	_, err = io.Copy(io.Discard, resp.Body)
	return err
}

func (e *HLSEngine) emitLevelsReady(levels []Level) {
	e.emit(engineEvent{levels: levels})
}

func (e *HLSEngine) emitFatal(fault FaultType, err error) {
	e.emit(engineEvent{fault: fault, err: err})
}

func (e *HLSEngine) emit(ev engineEvent) {
	if e.destroyed.Load() {
		return
	}
	select {
	case e.events <- ev:
	case <-e.rootCtx.Done():
	}
}

// levelsFromMaster maps master playlist variants to quality tiers, parsing
// the vertical resolution out of the "WIDTHxHEIGHT" attribute.
func levelsFromMaster(master *m3u8.MasterPlaylist) []Level {
	var levels []Level
	for _, variant := range master.Variants {
		if variant == nil {
			continue
		}

		name := variant.Name
		if name == "" && variant.Resolution != "" {
			name = fmt.Sprintf("Stream_%s", variant.Resolution)
		} else if name == "" {
			name = fmt.Sprintf("Stream_%d", variant.Bandwidth)
		}

		levels = append(levels, Level{
			URI:       variant.URI,
			Name:      name,
			Height:    parseHeight(variant.Resolution),
			Bandwidth: variant.Bandwidth,
		})
	}
	return levels
}

// parseHeight extracts the vertical component of a "WIDTHxHEIGHT" string,
// returning 0 when the attribute is absent or malformed.
func parseHeight(resolution string) int {
	parts := strings.Split(resolution, "x")
	if len(parts) != 2 {
		return 0
	}
	height, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0
	}
	return height
}

// liveSegments collapses the playlist's nil-padded segment ring into the
// populated entries.
func liveSegments(media *m3u8.MediaPlaylist) []*m3u8.MediaSegment {
	segments := make([]*m3u8.MediaSegment, 0, len(media.Segments))
	for _, seg := range media.Segments {
		if seg == nil {
			continue
		}
		segments = append(segments, seg)
	}
	return segments
}

// liveEdgeWindow keeps the last syncSegments entries: the engine's target
// distance from the live edge.
func liveEdgeWindow(segments []*m3u8.MediaSegment, syncSegments int) []*m3u8.MediaSegment {
	if syncSegments <= 0 || len(segments) <= syncSegments {
		return segments
	}
	return segments[len(segments)-syncSegments:]
}

// pendingSegments returns the edge segments not yet prefetched and the
// advanced sequence cursor. The cursor filters only once a segment has
// actually been seen, so sequence number zero is not a sentinel.
func pendingSegments(segments []*m3u8.MediaSegment, lastSeq uint64, seen bool) ([]*m3u8.MediaSegment, uint64, bool) {
	var pending []*m3u8.MediaSegment
	for _, seg := range segments {
		if seg == nil {
			continue
		}
		if seen && seg.SeqId <= lastSeq {
			continue
		}
		pending = append(pending, seg)
		lastSeq = seg.SeqId
		seen = true
	}
	return pending, lastSeq, seen
}

func resolveURL(base *url.URL, ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(u).String(), nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
