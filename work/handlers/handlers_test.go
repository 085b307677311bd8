package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"prism-server/work/catalog"
	"prism-server/work/client"
	"prism-server/work/config"
	"prism-server/work/database"
	"prism-server/work/epg"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "prism.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testRouter(db *database.DB, svc *catalog.Service) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/channels", HandleChannels(db)).Methods("GET")
	r.HandleFunc("/api/channels/favorites", HandleFavorites(db)).Methods("GET")
	r.HandleFunc("/api/channels/sync", HandleChannelSync(svc)).Methods("POST")
	r.HandleFunc("/api/channels/{id}/favorite", HandleSetFavorite(db)).Methods("PUT")
	return r
}

func seedChannels(t *testing.T, db *database.DB) {
	t.Helper()
	require.NoError(t, db.ReplaceChannels([]database.ChannelRow{
		{ID: "ch-1", Name: "News 24", GroupTitle: "News", StreamURL: "http://example.com/news.m3u8"},
		{ID: "ch-2", Name: "Alpha Sports", GroupTitle: "Sports", StreamURL: "http://example.com/sports.m3u8"},
	}))
}

func TestHandleChannelsOrderedByName(t *testing.T) {
	db := testDB(t)
	seedChannels(t, db)
	router := testRouter(db, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/channels", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var channels []database.ChannelRow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &channels))
	require.Len(t, channels, 2)
	assert.Equal(t, "Alpha Sports", channels[0].Name)
	assert.Equal(t, "News 24", channels[1].Name)
}

func TestHandleSetFavoriteAndList(t *testing.T) {
	db := testDB(t)
	seedChannels(t, db)
	router := testRouter(db, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(
		"PUT", "/api/channels/ch-1/favorite",
		bytes.NewBufferString(`{"favorite":true}`),
	))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/channels/favorites", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var favorites []database.ChannelRow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &favorites))
	require.Len(t, favorites, 1)
	assert.Equal(t, "ch-1", favorites[0].ID)
	assert.True(t, favorites[0].IsFavorite)
}

func TestHandleSetFavoriteUnknownChannel(t *testing.T) {
	db := testDB(t)
	router := testRouter(db, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(
		"PUT", "/api/channels/nope/favorite",
		bytes.NewBufferString(`{"favorite":true}`),
	))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleChannelSync(t *testing.T) {
	playlist := "#EXTM3U\n" +
		"#EXTINF:-1 tvg-logo=\"http://example.com/news.png\" group-title=\"News\",News 24\n" +
		"http://example.com/live/news.m3u8\n" +
		"#EXTINF:-1,Sports One\n" +
		"http://example.com/live/sports.m3u8\n"

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, playlist)
	}))
	defer upstream.Close()

	db := testDB(t)
	cfg := &config.Config{UserAgent: "test", StreamTimeout: 5 * time.Second}
	svc := catalog.New(cfg, client.NewHeaderSettingClient(cfg), db)
	router := testRouter(db, svc)

	body, _ := json.Marshal(map[string]string{"url": upstream.URL})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/channels/sync", bytes.NewBuffer(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	var result struct {
		Success bool `json:"success"`
		Count   int  `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.Count)

	count, err := db.CountChannels()
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestHandleChannelSyncMissingURL(t *testing.T) {
	router := testRouter(testDB(t), nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/channels/sync", bytes.NewBufferString(`{}`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleEPGWithFailingUpstream(t *testing.T) {
	svc := epg.NewWithFetch(
		func(ctx context.Context) ([]byte, error) { return nil, fmt.Errorf("upstream down") },
		time.Now, time.Hour, 50,
	)

	rec := httptest.NewRecorder()
	HandleEPG(svc)(rec, httptest.NewRequest("GET", "/api/epg", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"channels":[],"programs":{}}`, rec.Body.String())
}
