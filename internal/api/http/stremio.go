package apihttp

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"torrentstream/streamservice/internal/domain"
	"torrentstream/streamservice/internal/quality"
)

// Manifest describes the addon to players.
type Manifest struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	Catalogs    []any    `json:"catalogs"`
	Resources   []string `json:"resources"`
	Types       []string `json:"types"`
	IDPrefixes  []string `json:"idPrefixes,omitempty"`
}

func DefaultManifest() Manifest {
	return Manifest{
		ID:          "torrentstream.streamservice",
		Name:        "Stream Sources",
		Version:     "1.0.0",
		Description: "Stream results from various torrent sources",
		Catalogs:    []any{},
		Resources:   []string{"stream"},
		Types:       []string{"movie", "series", "tv", "channel"},
	}
}

type streamsResponse struct {
	Streams []stremioStream `json:"streams"`
}

type stremioStream struct {
	Name          string        `json:"name"`
	Title         string        `json:"title"`
	InfoHash      string        `json:"infoHash,omitempty"`
	URL           string        `json:"url,omitempty"`
	FileIdx       *int          `json:"fileIdx,omitempty"`
	BehaviorHints behaviorHints `json:"behaviorHints"`
}

type behaviorHints struct {
	BingeGroup string `json:"bingeGroup"`
}

func toStremioStream(stream domain.CandidateStream) stremioStream {
	name := quality.Formatted(stream.Quality)
	if stream.URL != "" {
		name += " ✨"
	}
	return stremioStream{
		Name:     name,
		Title:    stream.Size() + "  ⬆️ " + strconv.Itoa(stream.Seeds),
		InfoHash: stream.Hash(),
		URL:      stream.URL,
		FileIdx:  stream.FileIndex,
		BehaviorHints: behaviorHints{
			BingeGroup: "stream-sources-" + stream.Quality,
		},
	}
}

func (s *Server) handleManifest(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.manifest)
}

// handleStream always answers 200: a request that cannot be served gets an
// empty stream list, which players treat as "no results".
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	empty := streamsResponse{Streams: []stremioStream{}}
	req, err := domain.ParseStreamRequest(r.PathValue("type"), r.PathValue("id"))
	if err != nil {
		s.logger.Debug("stream request rejected",
			slog.String("type", r.PathValue("type")),
			slog.String("id", r.PathValue("id")),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusOK, empty)
		return
	}
	if s.engine == nil {
		writeJSON(w, http.StatusOK, empty)
		return
	}

	streams, err := s.engine.Aggregate(r.Context(), req, s.requestBaseURL(r))
	if err != nil {
		s.logger.Warn("stream aggregation failed",
			slog.String("request", req.CacheKey()),
			slog.String("requestId", requestIDFrom(r.Context())),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusOK, empty)
		return
	}

	out := make([]stremioStream, 0, len(streams))
	for _, stream := range streams {
		out = append(out, toStremioStream(stream))
	}
	writeJSON(w, http.StatusOK, streamsResponse{Streams: out})
}

func (s *Server) handleRealDebrid(w http.ResponseWriter, r *http.Request) {
	if s.links == nil {
		http.NotFound(w, r)
		return
	}
	target, err := s.links.Resolve(r.Context(), r.PathValue("hash"), r.PathValue("file"))
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRequest) {
			writeError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		s.logger.Warn("real-debrid resolve failed",
			slog.String("hash", r.PathValue("hash")),
			slog.String("file", r.PathValue("file")),
			slog.String("requestId", requestIDFrom(r.Context())),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "upstream_error", "could not resolve download link")
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}
