package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStreamRequest(t *testing.T) {
	req, err := ParseStreamRequest("series", "tt0944947:1:2.json")
	require.NoError(t, err)
	assert.Equal(t, StreamRequest{Kind: RequestSeries, ID: "tt0944947", Season: 1, Episode: 2}, req)
	assert.Equal(t, "Series:tt0944947:1:2", req.CacheKey())

	req, err = ParseStreamRequest("movie", "tt0111161")
	require.NoError(t, err)
	assert.Equal(t, "Movie:tt0111161", req.CacheKey())

	req, err = ParseStreamRequest("channel", "yt_id:UC123")
	require.NoError(t, err)
	assert.Equal(t, "Channel:yt_id:UC123", req.CacheKey())

	req, err = ParseStreamRequest("tv", "tt0000001")
	require.NoError(t, err)
	assert.Equal(t, "Tv:tt0000001", req.CacheKey())
}

func TestParseStreamRequestRejects(t *testing.T) {
	for _, tc := range [][2]string{
		{"series", "tt0944947"},
		{"series", "tt0944947:x:2"},
		{"series", "tt0944947:1:-2"},
		{"movie", "abc"},
		{"podcast", "tt1"},
	} {
		_, err := ParseStreamRequest(tc[0], tc[1])
		assert.True(t, errors.Is(err, ErrInvalidRequest), "%v: %v", tc, err)
	}
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "0 B", FormatBytes(0))
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.50 KB", FormatBytes(1536))
	assert.Equal(t, "1.00 GB", FormatBytes(1<<30))
	assert.Equal(t, "2.00 TB", FormatBytes(2<<40))
}

func TestVideoFiles(t *testing.T) {
	files := []TorrentFile{
		{Path: "Show.S01/Show.S01E01.mkv", Length: 700 << 20, Index: 0},
		{Path: "Show.S01/Sample/sample.mkv", Length: 5 << 20, Index: 1},
		{Path: "Show.S01/Show.S01E02.MP4", Length: 650 << 20, Index: 2},
		{Path: "Show.S01/info.nfo", Length: 1 << 20, Index: 3},
	}
	got := VideoFiles(files, MinVideoFileSize)
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].Index)
	assert.Equal(t, 2, got[1].Index)
	assert.Equal(t, "Show.S01E02.MP4", got[1].Name())
}

func TestSeriesMetaNavigation(t *testing.T) {
	series := SeriesMeta{
		Genres: []string{"Action", "Animation"},
		Videos: []Video{
			{Season: 0, Episode: 1},
			{Season: 1, Episode: 1},
			{Season: 1, Episode: 2},
			{Season: 2, Episode: 1},
		},
	}
	assert.True(t, series.IsAnimation())

	n, ok := series.AbsoluteIndex(2, 1)
	require.True(t, ok)
	assert.Equal(t, 3, n)

	_, ok = series.AbsoluteIndex(1, 1)
	assert.False(t, ok)

	next, ok := series.NextEpisode(1, 2)
	require.True(t, ok)
	assert.Equal(t, 2, next.Season)
	assert.Equal(t, 1, next.Episode)

	_, ok = series.NextEpisode(2, 1)
	assert.False(t, ok)
}
