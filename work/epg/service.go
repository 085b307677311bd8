package epg

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"prism-server/work/client"
	"prism-server/work/config"
	"prism-server/work/logger"
	"prism-server/work/metrics"
	"prism-server/work/utils"
)

// FetchFunc retrieves the raw upstream XMLTV document. It is injected so
// tests can exercise TTL and failure behavior without a network.
type FetchFunc func(ctx context.Context) ([]byte, error)

// Service owns the EPG ingestion pipeline: fetch, parse, normalize, cache.
// The cache is a single slot holding the last normalized snapshot; it is
// served verbatim while younger than the TTL and replaced wholesale on
// refresh. A failed refresh never writes the slot, so a still-valid snapshot
// from a prior success is never poisoned.
//
// Concurrent callers during a cache-miss window may each trigger their own
// fetch; each produces a consistent snapshot, so this is an inefficiency
// rather than a correctness hazard.
type Service struct {
	fetch        FetchFunc
	now          func() time.Time
	ttl          time.Duration
	channelLimit int

	mu       sync.RWMutex
	cached   *Schedule
	cachedAt time.Time
}

// New builds the production EPG service from the application config, using
// the shared header-setting HTTP client for upstream fetches.
func New(cfg *config.Config, httpClient *client.HeaderSettingClient) *Service {
	return &Service{
		fetch:        httpFetch(cfg, httpClient),
		now:          time.Now,
		ttl:          cfg.EPGCacheTTL,
		channelLimit: cfg.EPGChannelLimit,
	}
}

// NewWithFetch builds a service with an injected fetch function and clock.
func NewWithFetch(fetch FetchFunc, now func() time.Time, ttl time.Duration, channelLimit int) *Service {
	return &Service{
		fetch:        fetch,
		now:          now,
		ttl:          ttl,
		channelLimit: channelLimit,
	}
}

// httpFetch returns the default FetchFunc: a GET against the configured
// XMLTV URL where any transport-level problem, including a non-2xx status,
// comes back as an error.
func httpFetch(cfg *config.Config, httpClient *client.HeaderSettingClient) FetchFunc {
	return func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.EPGURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create EPG request: %w", err)
		}

		resp, err := httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch XMLTV from %s: %w", utils.LogURL(cfg, cfg.EPGURL), err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, fmt.Errorf("HTTP %d from EPG upstream", resp.StatusCode)
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read EPG response: %w", err)
		}
		return data, nil
	}
}

// GetSchedule returns the normalized guide. Cache hits return the stored
// snapshot with no network I/O. On any fetch or parse failure the caller
// gets an empty schedule, never an error; the cache slot is left untouched.
func (s *Service) GetSchedule(ctx context.Context) *Schedule {
	s.mu.RLock()
	if s.cached != nil && s.now().Sub(s.cachedAt) < s.ttl {
		cached := s.cached
		s.mu.RUnlock()
		metrics.EPGCacheHits.Inc()
		logger.Debug("{epg - GetSchedule} Serving EPG from cache")
		return cached
	}
	s.mu.RUnlock()

	logger.Info("{epg - GetSchedule} Fetching EPG from upstream")

	raw, err := s.fetch(ctx)
	if err != nil {
		metrics.EPGFetches.WithLabelValues("error").Inc()
		logger.Error("{epg - GetSchedule} EPG fetch failed: %v", err)
		return emptySchedule()
	}

	var doc tvDoc
	if err := xml.Unmarshal(raw, &doc); err != nil {
		// A 200 response with garbage markup degrades the same way a
		// transport fault does.
		metrics.EPGFetches.WithLabelValues("error").Inc()
		logger.Error("{epg - GetSchedule} EPG parse failed: %v", err)
		return emptySchedule()
	}

	schedule := s.normalize(&doc)

	s.mu.Lock()
	s.cached = schedule
	s.cachedAt = s.now()
	s.mu.Unlock()

	metrics.EPGFetches.WithLabelValues("ok").Inc()
	logger.Info("{epg - GetSchedule} EPG refreshed: %d channels", len(schedule.Channels))
	return schedule
}

// normalize maps the decoded feed onto the public guide types. All field
// defaulting happens here:
//   - the channel list is truncated to the configured limit in upstream order
//   - display name falls back to "Unknown Channel", logo to ""
//   - programs referencing a channel outside the truncated set are dropped
//   - program ids are {channelId}-{rawStart} for idempotent re-ingestion
//   - compact timestamps become RFC 3339 UTC instants
func (s *Service) normalize(doc *tvDoc) *Schedule {
	channels := make([]Channel, 0, s.channelLimit)
	programs := make(map[string][]Program)

	rawChannels := doc.Channels
	if len(rawChannels) > s.channelLimit {
		rawChannels = rawChannels[:s.channelLimit]
	}

	// Set of valid channel ids for O(1) membership checks during pruning
	validIDs := make(map[string]struct{}, len(rawChannels))

	for _, ch := range rawChannels {
		name := defaultChannelName
		if len(ch.DisplayName) > 0 && ch.DisplayName[0] != "" {
			name = ch.DisplayName[0]
		}

		logo := ""
		if ch.Icon != nil {
			logo = ch.Icon.Src
		}

		channels = append(channels, Channel{
			ID:       ch.ID,
			Name:     name,
			Number:   0,
			Logo:     logo,
			Category: channelCategory,
		})

		validIDs[ch.ID] = struct{}{}
		programs[ch.ID] = []Program{}
	}

	now := s.now()
	dropped := 0

	for _, prog := range doc.Programmes {
		if _, ok := validIDs[prog.Channel]; !ok {
			dropped++
			continue
		}

		title := prog.Title.Value
		if title == "" {
			title = defaultProgramTitle
		}

		programs[prog.Channel] = append(programs[prog.Channel], Program{
			ID:          fmt.Sprintf("%s-%s", prog.Channel, prog.Start),
			ChannelID:   prog.Channel,
			Title:       title,
			Description: prog.Desc,
			StartTime:   ConvertTimestamp(prog.Start, now),
			EndTime:     ConvertTimestamp(prog.Stop, now),
			Category:    programCategory,
		})
	}

	if dropped > 0 {
		logger.Debug("{epg - normalize} Dropped %d programs referencing unknown channels", dropped)
	}

	return &Schedule{Channels: channels, Programs: programs}
}
