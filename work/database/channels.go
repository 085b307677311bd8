package database

import (
	"database/sql"
	"fmt"
)

// ChannelRow represents a catalog channel record from the database
type ChannelRow struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	GroupTitle string `json:"group"`
	LogoURL    string `json:"logo"`
	StreamURL  string `json:"url"`
	IsFavorite bool   `json:"isFavorite"`
}

// ListChannels loads the full catalog ordered by name
func (db *DB) ListChannels() ([]ChannelRow, error) {
	query := `
		SELECT id, name, group_title, logo_url, stream_url, is_favorite
		FROM channels
		ORDER BY name
	`

	rows, err := db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to load channels: %w", err)
	}
	defer rows.Close()

	return scanChannels(rows)
}

// ListFavorites loads the favorited channels ordered by name
func (db *DB) ListFavorites() ([]ChannelRow, error) {
	query := `
		SELECT id, name, group_title, logo_url, stream_url, is_favorite
		FROM channels
		WHERE is_favorite = 1
		ORDER BY name
	`

	rows, err := db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to load favorites: %w", err)
	}
	defer rows.Close()

	return scanChannels(rows)
}

// GetChannel retrieves a single channel by its id
func (db *DB) GetChannel(id string) (*ChannelRow, error) {
	query := `
		SELECT id, name, group_title, logo_url, stream_url, is_favorite
		FROM channels
		WHERE id = ?
	`

	var ch ChannelRow
	err := db.QueryRow(query, id).Scan(
		&ch.ID, &ch.Name, &ch.GroupTitle, &ch.LogoURL, &ch.StreamURL, &ch.IsFavorite,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}

	return &ch, nil
}

// ReplaceChannels swaps the catalog wholesale for the freshly synced set,
// preserving favorite flags for channels that survive the sync
func (db *DB) ReplaceChannels(channels []ChannelRow) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Carry existing favorites across the replace
	favorites := make(map[string]bool)
	rows, err := tx.Query("SELECT id FROM channels WHERE is_favorite = 1")
	if err != nil {
		return fmt.Errorf("failed to load favorites: %w", err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			continue
		}
		favorites[id] = true
	}
	rows.Close()

	if _, err := tx.Exec("DELETE FROM channels"); err != nil {
		return fmt.Errorf("failed to clear channels: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO channels (id, name, group_title, logo_url, stream_url, is_favorite)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, ch := range channels {
		isFavorite := ch.IsFavorite || favorites[ch.ID]
		if _, err := stmt.Exec(ch.ID, ch.Name, ch.GroupTitle, ch.LogoURL, ch.StreamURL, isFavorite); err != nil {
			return fmt.Errorf("failed to insert channel %s: %w", ch.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit channel replace: %w", err)
	}

	return nil
}

// SetFavorite toggles the favorite flag on a channel
func (db *DB) SetFavorite(id string, favorite bool) error {
	result, err := db.Exec(
		"UPDATE channels SET is_favorite = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		favorite, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update favorite: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check favorite update: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("channel not found: %s", id)
	}

	return nil
}

// CountChannels returns the catalog size
func (db *DB) CountChannels() (int, error) {
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM channels").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count channels: %w", err)
	}
	return count, nil
}

func scanChannels(rows *sql.Rows) ([]ChannelRow, error) {
	channels := []ChannelRow{}
	for rows.Next() {
		var ch ChannelRow
		err := rows.Scan(&ch.ID, &ch.Name, &ch.GroupTitle, &ch.LogoURL, &ch.StreamURL, &ch.IsFavorite)
		if err != nil {
			continue
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}
