package search

import (
	"context"
	"iter"
	"net/url"

	"torrentstream/streamservice/internal/domain"
)

// Source lists candidates for a query. The sequence is lazy and each call
// starts a fresh listing. A non-nil error ends the sequence; whatever was
// yielded before it is kept.
type Source interface {
	Name() string
	List(ctx context.Context, query domain.VideoQuery) iter.Seq2[domain.Candidate, error]
}

// QueryFilter is implemented by sources that only understand some query
// kinds. Unsupported pairs are never started.
type QueryFilter interface {
	Supports(query domain.VideoQuery) bool
}

// Embellisher rewrites a stream, possibly into several streams or none.
// An error means "no enrichment" for that stream.
type Embellisher interface {
	Name() string
	Transform(ctx context.Context, stream domain.CandidateStream, baseURL *url.URL) ([]domain.CandidateStream, error)
}

// MetadataProvider resolves titles and episode numbering for canonical ids.
type MetadataProvider interface {
	LookupMovie(ctx context.Context, imdbID string) (domain.MovieMeta, error)
	LookupSeries(ctx context.Context, imdbID string) (domain.SeriesMeta, error)
	LookupEpisode(ctx context.Context, imdbID string, season, episode int) (domain.EpisodeResolution, error)
}

// FileLister returns the file manifest of a torrent.
type FileLister interface {
	Files(ctx context.Context, infoHash string) ([]domain.TorrentFile, error)
}

func supports(src Source, query domain.VideoQuery) bool {
	if f, ok := src.(QueryFilter); ok {
		return f.Supports(query)
	}
	return true
}
