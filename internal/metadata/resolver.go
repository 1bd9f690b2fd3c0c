package metadata

import (
	"context"
	"log/slog"

	"torrentstream/streamservice/internal/domain"
)

// Resolver combines Cinemeta listings with TVDB absolute numbering.
type Resolver struct {
	cinemeta *Cinemeta
	tvdb     *TVDB
}

// NewResolver accepts a nil tvdb; animated episodes then fall back to their
// position in the Cinemeta listing.
func NewResolver(cinemeta *Cinemeta, tvdb *TVDB) *Resolver {
	return &Resolver{cinemeta: cinemeta, tvdb: tvdb}
}

func (r *Resolver) LookupMovie(ctx context.Context, imdbID string) (domain.MovieMeta, error) {
	return r.cinemeta.Movie(ctx, imdbID)
}

func (r *Resolver) LookupSeries(ctx context.Context, imdbID string) (domain.SeriesMeta, error) {
	return r.cinemeta.Series(ctx, imdbID)
}

func (r *Resolver) LookupEpisode(ctx context.Context, imdbID string, season, episode int) (domain.EpisodeResolution, error) {
	series, err := r.cinemeta.Series(ctx, imdbID)
	if err != nil {
		return domain.EpisodeResolution{}, err
	}
	res := domain.EpisodeResolution{
		ImdbID:    series.ImdbID,
		Title:     series.Name,
		Season:    season,
		Episode:   episode,
		Animation: series.IsAnimation(),
	}
	if !res.Animation {
		return res, nil
	}
	res.AbsoluteNumber = r.absoluteNumber(ctx, series, season, episode)
	return res, nil
}

func (r *Resolver) absoluteNumber(ctx context.Context, series domain.SeriesMeta, season, episode int) int {
	if video, ok := series.FindEpisode(season, episode); ok && video.TvdbID > 0 && r.tvdb.Enabled() {
		info, err := r.tvdb.Episode(ctx, video.TvdbID)
		if err == nil && info.AbsoluteNumber > 0 {
			return info.AbsoluteNumber
		}
		if err != nil {
			slog.Debug("tvdb episode unavailable",
				slog.String("imdbId", series.ImdbID),
				slog.Int("tvdbId", video.TvdbID),
				slog.String("error", err.Error()),
			)
		}
	}
	if index, ok := series.AbsoluteIndex(season, episode); ok {
		return index
	}
	return 0
}
