package domain

import "strings"

type MovieMeta struct {
	ImdbID string   `json:"imdbId"`
	Name   string   `json:"name"`
	Year   string   `json:"year,omitempty"`
	Genres []string `json:"genres,omitempty"`
}

type SeriesMeta struct {
	ImdbID string   `json:"imdbId"`
	Name   string   `json:"name"`
	Genres []string `json:"genres,omitempty"`
	Videos []Video  `json:"videos,omitempty"`
}

// Video is one episode entry of a series. Season 0 holds specials.
type Video struct {
	ID      string `json:"id"`
	Title   string `json:"title,omitempty"`
	Season  int    `json:"season"`
	Episode int    `json:"episode"`
	TvdbID  int    `json:"tvdbId,omitempty"`
}

// EpisodeResolution is what query derivation needs to know about an episode.
// AbsoluteNumber is zero when unknown.
type EpisodeResolution struct {
	ImdbID         string `json:"imdbId"`
	Title          string `json:"title"`
	Season         int    `json:"season"`
	Episode        int    `json:"episode"`
	Animation      bool   `json:"animation"`
	AbsoluteNumber int    `json:"absoluteNumber,omitempty"`
}

func (s SeriesMeta) IsAnimation() bool {
	for _, genre := range s.Genres {
		if strings.EqualFold(strings.TrimSpace(genre), "animation") {
			return true
		}
	}
	return false
}

func (s SeriesMeta) FindEpisode(season, episode int) (Video, bool) {
	for _, v := range s.Videos {
		if v.Season == season && v.Episode == episode {
			return v, true
		}
	}
	return Video{}, false
}

// AbsoluteIndex is the 1-based position of the episode among non-special
// videos, in listing order.
func (s SeriesMeta) AbsoluteIndex(season, episode int) (int, bool) {
	idx := 0
	for _, v := range s.Videos {
		if v.Season <= 0 {
			continue
		}
		if v.Season == season && v.Episode == episode {
			if idx > 0 {
				return idx + 1, true
			}
			return 0, false
		}
		idx++
	}
	return 0, false
}

// NextEpisode finds the episode after (season, episode), rolling over into
// the first episode of the next season.
func (s SeriesMeta) NextEpisode(season, episode int) (Video, bool) {
	if v, ok := s.FindEpisode(season, episode+1); ok {
		return v, true
	}
	return s.FindEpisode(season+1, 1)
}
