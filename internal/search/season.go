package search

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"torrentstream/streamservice/internal/domain"
	"torrentstream/streamservice/internal/quality"
)

// expandSeason turns a season torrent into one stream per video file. Any
// failure drops the season.
func (e *Engine) expandSeason(ctx context.Context, season domain.CandidateSeason) []domain.CandidateStream {
	if e.files == nil {
		return nil
	}
	ctx, span := e.tracer.Start(ctx, "search.expandSeason", trace.WithAttributes(
		attribute.String("infoHash", season.Hash()),
	))
	defer span.End()

	files, err := e.files.Files(ctx, season.Hash())
	if err != nil {
		slog.Debug("season manifest unavailable",
			slog.String("source", season.Source),
			slog.String("infoHash", season.Hash()),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return SeasonStreams(season, files)
}

// SeasonStreams builds per-file streams from a season's manifest.
func SeasonStreams(season domain.CandidateSeason, files []domain.TorrentFile) []domain.CandidateStream {
	videos := domain.VideoFiles(files, domain.MinVideoFileSize)
	streams := make([]domain.CandidateStream, 0, len(videos))
	for _, file := range videos {
		index := file.Index
		name := file.Name()
		streams = append(streams, domain.CandidateStream{
			Source:    season.Source,
			Title:     name,
			InfoHash:  season.Hash(),
			MagnetURI: season.MagnetURI,
			Quality:   quality.Classify(name),
			Seeds:     season.Seeds,
			Peers:     season.Peers,
			SizeBytes: file.Length,
			FileIndex: &index,
		})
	}
	return streams
}
