package catalog

import (
	"context"
	"fmt"
	"net/http"

	"prism-server/work/client"
	"prism-server/work/config"
	"prism-server/work/database"
	"prism-server/work/filter"
	"prism-server/work/logger"
	"prism-server/work/metrics"
	"prism-server/work/parser"
	"prism-server/work/utils"
)

// Service syncs the channel catalog from an M3U playlist source into the
// database: fetch, parse, filter, then replace the stored set wholesale.
// Channel ids are derived from the stream URL so favorites survive repeat
// syncs of the same playlist.
type Service struct {
	cfg        *config.Config
	httpClient *client.HeaderSettingClient
	db         *database.DB
	filter     *filter.Filter
}

// New builds the catalog service.
func New(cfg *config.Config, httpClient *client.HeaderSettingClient, db *database.DB) *Service {
	return &Service{
		cfg:        cfg,
		httpClient: httpClient,
		db:         db,
		filter:     filter.New(cfg),
	}
}

// Sync fetches the playlist at sourceURL and replaces the catalog with its
// filtered contents, returning how many channels were stored.
func (s *Service) Sync(ctx context.Context, sourceURL string) (int, error) {
	logger.Info("{catalog - Sync} Syncing channel catalog from %s", utils.LogURL(s.cfg, sourceURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		metrics.CatalogSyncs.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("failed to create playlist request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		metrics.CatalogSyncs.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("failed to fetch playlist: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.CatalogSyncs.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("HTTP %d fetching playlist", resp.StatusCode)
	}

	entries := s.filter.Apply(parser.ParseM3U(resp.Body))

	rows := make([]database.ChannelRow, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))

	for _, entry := range entries {
		id := utils.StableID(entry.StreamURL)
		// Duplicate stream URLs collapse to one catalog row
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		rows = append(rows, database.ChannelRow{
			ID:         id,
			Name:       entry.Name,
			GroupTitle: entry.GroupTitle,
			LogoURL:    entry.LogoURL,
			StreamURL:  entry.StreamURL,
		})
	}

	if err := s.db.ReplaceChannels(rows); err != nil {
		metrics.CatalogSyncs.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("failed to store channels: %w", err)
	}

	metrics.CatalogSyncs.WithLabelValues("ok").Inc()
	logger.Info("{catalog - Sync} Catalog synced: %d channels", len(rows))
	return len(rows), nil
}
