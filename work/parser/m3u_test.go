package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePlaylist = `#EXTM3U
#EXTINF:-1 tvg-id="news.us" tvg-logo="http://example.com/news.png" group-title="US News",News 24
http://example.com/live/news.m3u8
#EXTINF:-1,Bare Channel
https://example.com/live/bare.m3u8
# a stray comment
#EXTINF:-1 tvg-name="From Attr" group-title="Movies",
http://example.com/live/movies.m3u8
http://example.com/orphan-url-without-extinf.m3u8
`

func TestParseM3U(t *testing.T) {
	entries := ParseM3U(strings.NewReader(samplePlaylist))

	require.Len(t, entries, 3)

	assert.Equal(t, Entry{
		Name:       "News 24",
		GroupTitle: "US News",
		LogoURL:    "http://example.com/news.png",
		TvgID:      "news.us",
		StreamURL:  "http://example.com/live/news.m3u8",
	}, entries[0])

	assert.Equal(t, "Bare Channel", entries[1].Name)
	assert.Empty(t, entries[1].GroupTitle)

	// No display name after the comma: the tvg-name attribute holds.
	assert.Equal(t, "From Attr", entries[2].Name)
	assert.Equal(t, "Movies", entries[2].GroupTitle)
}

func TestParseEXTINF(t *testing.T) {
	attrs := ParseEXTINF(`#EXTINF:-1 tvg-id="a.b" group-title="Long Group, With Comma",Channel Name`)

	assert.Equal(t, "-1", attrs["duration"])
	assert.Equal(t, "a.b", attrs["tvg-id"])
	assert.Equal(t, "Long Group, With Comma", attrs["group-title"])
	assert.Equal(t, "Channel Name", attrs["tvg-name"])
}

func TestParseEXTINFDisplayNameWinsOverAttribute(t *testing.T) {
	attrs := ParseEXTINF(`#EXTINF:-1 tvg-name="Attr Name",Display Name`)

	assert.Equal(t, "Display Name", attrs["tvg-name"])
}

func TestParseEXTINFNoComma(t *testing.T) {
	assert.Empty(t, ParseEXTINF("#EXTINF:-1"))
}
