package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// QueryKind discriminates the VideoQuery variants.
type QueryKind int

const (
	QuerySeries QueryKind = iota + 1
	QueryAbsoluteSeries
	QueryImdbSeries
	QueryImdbAbsoluteSeries
	QuerySeason
	QueryImdbSeason
	QueryMovie
	QueryImdbMovie
	QueryChannel
	QueryImdbTv
)

func (k QueryKind) String() string {
	switch k {
	case QuerySeries:
		return "Series"
	case QueryAbsoluteSeries:
		return "AbsoluteSeries"
	case QueryImdbSeries:
		return "ImdbSeries"
	case QueryImdbAbsoluteSeries:
		return "ImdbAbsoluteSeries"
	case QuerySeason:
		return "Season"
	case QueryImdbSeason:
		return "ImdbSeason"
	case QueryMovie:
		return "Movie"
	case QueryImdbMovie:
		return "ImdbMovie"
	case QueryChannel:
		return "Channel"
	case QueryImdbTv:
		return "ImdbTv"
	default:
		return "Unknown(" + strconv.Itoa(int(k)) + ")"
	}
}

type QueryCategory string

const (
	CategorySeries QueryCategory = "series"
	CategoryMovie  QueryCategory = "movie"
	CategoryOther  QueryCategory = "other"
)

// VideoQuery is one search a Source can be asked to run. Only the fields
// relevant to Kind are set; use the constructors below.
type VideoQuery struct {
	Kind    QueryKind
	Title   string
	ImdbID  string
	Channel string
	Season  int
	Episode int
	Number  int
}

func SeriesQuery(title string, season, episode int) VideoQuery {
	return VideoQuery{Kind: QuerySeries, Title: title, Season: season, Episode: episode}
}

func AbsoluteSeriesQuery(title string, number int) VideoQuery {
	return VideoQuery{Kind: QueryAbsoluteSeries, Title: title, Number: number}
}

func ImdbSeriesQuery(imdbID string, season, episode int) VideoQuery {
	return VideoQuery{Kind: QueryImdbSeries, ImdbID: imdbID, Season: season, Episode: episode}
}

func ImdbAbsoluteSeriesQuery(imdbID string, number int) VideoQuery {
	return VideoQuery{Kind: QueryImdbAbsoluteSeries, ImdbID: imdbID, Number: number}
}

// SeasonQuery keeps the episode so it can be reduced to its series form.
func SeasonQuery(title string, season, episode int) VideoQuery {
	return VideoQuery{Kind: QuerySeason, Title: title, Season: season, Episode: episode}
}

func ImdbSeasonQuery(imdbID string, season, episode int) VideoQuery {
	return VideoQuery{Kind: QueryImdbSeason, ImdbID: imdbID, Season: season, Episode: episode}
}

func MovieQuery(title string) VideoQuery {
	return VideoQuery{Kind: QueryMovie, Title: title}
}

func ImdbMovieQuery(imdbID string) VideoQuery {
	return VideoQuery{Kind: QueryImdbMovie, ImdbID: imdbID}
}

func ChannelQuery(id string) VideoQuery {
	return VideoQuery{Kind: QueryChannel, Channel: id}
}

func ImdbTvQuery(imdbID string) VideoQuery {
	return VideoQuery{Kind: QueryImdbTv, ImdbID: imdbID}
}

// AsQuery returns the literal search string (or id) sent to a provider.
func (q VideoQuery) AsQuery() string {
	switch q.Kind {
	case QuerySeries:
		return FoldTitle(q.Title) + " " + EpisodeToken(q.Season, q.Episode)
	case QueryAbsoluteSeries:
		return FoldTitle(q.Title) + " " + strconv.Itoa(q.Number)
	case QuerySeason:
		return FoldTitle(q.Title) + " " + SeasonToken(q.Season)
	case QueryMovie:
		return FoldTitle(q.Title)
	case QueryImdbSeries, QueryImdbAbsoluteSeries, QueryImdbSeason, QueryImdbMovie, QueryImdbTv:
		return q.ImdbID
	case QueryChannel:
		return q.Channel
	default:
		return ""
	}
}

// TitleMatcher returns the predicate a candidate title must satisfy, or
// nil when titles from this query are trusted.
func (q VideoQuery) TitleMatcher() *TitleMatcher {
	switch q.Kind {
	case QuerySeries, QueryImdbSeries:
		return NewTitleMatcher(EpisodeToken(q.Season, q.Episode))
	case QueryAbsoluteSeries, QueryImdbAbsoluteSeries:
		return NewTitleMatcher(strconv.Itoa(q.Number))
	case QuerySeason, QueryImdbSeason:
		return NewTitleMatcher(SeasonToken(q.Season))
	case QueryMovie, QueryImdbMovie, QueryChannel, QueryImdbTv:
		return nil
	default:
		return nil
	}
}

// NonSeason reduces season queries to the series query of the requested
// episode. Other variants are returned unchanged.
func (q VideoQuery) NonSeason() VideoQuery {
	switch q.Kind {
	case QuerySeason:
		return SeriesQuery(q.Title, q.Season, q.Episode)
	case QueryImdbSeason:
		return ImdbSeriesQuery(q.ImdbID, q.Season, q.Episode)
	default:
		return q
	}
}

func (q VideoQuery) Category() QueryCategory {
	switch q.Kind {
	case QuerySeries, QueryAbsoluteSeries, QueryImdbSeries, QueryImdbAbsoluteSeries, QuerySeason, QueryImdbSeason:
		return CategorySeries
	case QueryMovie, QueryImdbMovie:
		return CategoryMovie
	default:
		return CategoryOther
	}
}

// IsImdb reports whether the query is keyed by canonical id rather than title.
func (q VideoQuery) IsImdb() bool {
	switch q.Kind {
	case QueryImdbSeries, QueryImdbAbsoluteSeries, QueryImdbSeason, QueryImdbMovie, QueryImdbTv:
		return true
	default:
		return false
	}
}

// Validate rejects queries that no source could run.
func (q VideoQuery) Validate() error {
	switch q.Kind {
	case QuerySeries, QuerySeason:
		if strings.TrimSpace(q.Title) == "" {
			return fmt.Errorf("%w: %s without title", ErrInvalidQuery, q.Kind)
		}
		return validateEpisode(q)
	case QueryAbsoluteSeries:
		if strings.TrimSpace(q.Title) == "" {
			return fmt.Errorf("%w: %s without title", ErrInvalidQuery, q.Kind)
		}
		return validateNumber(q)
	case QueryMovie:
		if strings.TrimSpace(q.Title) == "" {
			return fmt.Errorf("%w: %s without title", ErrInvalidQuery, q.Kind)
		}
		return nil
	case QueryImdbSeries, QueryImdbSeason:
		if !IsImdbID(q.ImdbID) {
			return fmt.Errorf("%w: %s with id %q", ErrInvalidQuery, q.Kind, q.ImdbID)
		}
		return validateEpisode(q)
	case QueryImdbAbsoluteSeries:
		if !IsImdbID(q.ImdbID) {
			return fmt.Errorf("%w: %s with id %q", ErrInvalidQuery, q.Kind, q.ImdbID)
		}
		return validateNumber(q)
	case QueryImdbMovie, QueryImdbTv:
		if !IsImdbID(q.ImdbID) {
			return fmt.Errorf("%w: %s with id %q", ErrInvalidQuery, q.Kind, q.ImdbID)
		}
		return nil
	case QueryChannel:
		if strings.TrimSpace(q.Channel) == "" {
			return fmt.Errorf("%w: channel without id", ErrInvalidQuery)
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrInvalidQuery, q.Kind)
	}
}

func validateEpisode(q VideoQuery) error {
	if q.Season < 0 || q.Episode < 0 {
		return fmt.Errorf("%w: %s with season %d episode %d", ErrInvalidQuery, q.Kind, q.Season, q.Episode)
	}
	return nil
}

func validateNumber(q VideoQuery) error {
	if q.Number <= 0 {
		return fmt.Errorf("%w: %s with number %d", ErrInvalidQuery, q.Kind, q.Number)
	}
	return nil
}

// Key is a stable identity for the query, used in provider cache keys.
func (q VideoQuery) Key() string {
	return fmt.Sprintf("%s|%s|%s|%s|%d|%d|%d", q.Kind, q.Title, q.ImdbID, q.Channel, q.Season, q.Episode, q.Number)
}

func (q VideoQuery) String() string {
	return q.Kind.String() + "(" + q.AsQuery() + ")"
}

func EpisodeToken(season, episode int) string {
	return fmt.Sprintf("S%02dE%02d", season, episode)
}

func SeasonToken(season int) string {
	return fmt.Sprintf("S%02d", season)
}

var imdbIDPattern = regexp.MustCompile(`^tt\d+$`)

func IsImdbID(id string) bool {
	return imdbIDPattern.MatchString(id)
}

// TitleMatcher matches a token that is delimited by the start or end of the
// title or by a character outside [A-Za-z0-9-].
type TitleMatcher struct {
	token string
	re    *regexp.Regexp
}

func NewTitleMatcher(token string) *TitleMatcher {
	return &TitleMatcher{
		token: token,
		re:    regexp.MustCompile(`(?i)(?:^|[^A-Za-z0-9-])` + regexp.QuoteMeta(token) + `(?:$|[^A-Za-z0-9-])`),
	}
}

func (m *TitleMatcher) Token() string {
	return m.token
}

func (m *TitleMatcher) Match(title string) bool {
	if m == nil {
		return true
	}
	return m.re.MatchString(FoldTitle(title))
}
