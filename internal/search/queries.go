package search

import (
	"context"
	"log/slog"

	"torrentstream/streamservice/internal/domain"
)

// expandRequest returns the queries that follow from the request alone and,
// when metadata is available, a func producing the title-based queries.
// Metadata failures only drop the title-based queries.
func (e *Engine) expandRequest(req domain.StreamRequest) ([]domain.VideoQuery, func(context.Context) []domain.VideoQuery) {
	switch req.Kind {
	case domain.RequestChannel:
		return []domain.VideoQuery{domain.ChannelQuery(req.ID)}, nil
	case domain.RequestTv:
		return []domain.VideoQuery{domain.ImdbTvQuery(req.ID)}, nil
	case domain.RequestMovie:
		immediate := []domain.VideoQuery{domain.ImdbMovieQuery(req.ID)}
		if e.metadata == nil {
			return immediate, nil
		}
		return immediate, func(ctx context.Context) []domain.VideoQuery {
			movie, err := e.metadata.LookupMovie(ctx, req.ID)
			if err != nil {
				slog.Debug("movie metadata unavailable", slog.String("imdbId", req.ID), slog.String("error", err.Error()))
				return nil
			}
			if movie.Name == "" {
				return nil
			}
			return []domain.VideoQuery{domain.MovieQuery(movie.Name)}
		}
	case domain.RequestSeries:
		immediate := []domain.VideoQuery{
			domain.ImdbSeriesQuery(req.ID, req.Season, req.Episode),
			domain.ImdbSeasonQuery(req.ID, req.Season, req.Episode),
		}
		if e.metadata == nil {
			return immediate, nil
		}
		return immediate, func(ctx context.Context) []domain.VideoQuery {
			resolution, err := e.metadata.LookupEpisode(ctx, req.ID, req.Season, req.Episode)
			if err != nil {
				slog.Debug("episode metadata unavailable",
					slog.String("imdbId", req.ID),
					slog.Int("season", req.Season),
					slog.Int("episode", req.Episode),
					slog.String("error", err.Error()),
				)
				return nil
			}
			return EpisodeQueries(resolution)
		}
	default:
		return nil, nil
	}
}

// EpisodeQueries derives the title-based queries of an episode. Animated
// series with a known absolute number are also searched by that number.
func EpisodeQueries(res domain.EpisodeResolution) []domain.VideoQuery {
	var queries []domain.VideoQuery
	if res.Animation && res.AbsoluteNumber > 0 {
		if res.Title != "" {
			queries = append(queries, domain.AbsoluteSeriesQuery(res.Title, res.AbsoluteNumber))
		}
		if res.ImdbID != "" {
			queries = append(queries, domain.ImdbAbsoluteSeriesQuery(res.ImdbID, res.AbsoluteNumber))
		}
	}
	if res.Title != "" {
		queries = append(queries,
			domain.SeriesQuery(res.Title, res.Season, res.Episode),
			domain.SeasonQuery(res.Title, res.Season, res.Episode),
		)
	}
	return queries
}
