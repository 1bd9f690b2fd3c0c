package domain

import (
	"fmt"
	"strconv"
	"strings"
)

type RequestKind string

const (
	RequestChannel RequestKind = "channel"
	RequestMovie   RequestKind = "movie"
	RequestSeries  RequestKind = "series"
	RequestTv      RequestKind = "tv"
)

// StreamRequest is the inbound ask: a movie, an episode, a tv entry or a channel.
type StreamRequest struct {
	Kind    RequestKind
	ID      string
	Season  int
	Episode int
}

// ParseStreamRequest interprets the type and id path segments of a stream
// route. Series ids look like "tt0944947:1:2".
func ParseStreamRequest(contentType, id string) (StreamRequest, error) {
	id = strings.TrimSuffix(strings.TrimSpace(id), ".json")
	switch RequestKind(strings.ToLower(strings.TrimSpace(contentType))) {
	case RequestChannel:
		req := StreamRequest{Kind: RequestChannel, ID: id}
		return req, req.Validate()
	case RequestMovie:
		req := StreamRequest{Kind: RequestMovie, ID: id}
		return req, req.Validate()
	case RequestTv:
		req := StreamRequest{Kind: RequestTv, ID: id}
		return req, req.Validate()
	case RequestSeries:
		parts := strings.Split(id, ":")
		if len(parts) != 3 {
			return StreamRequest{}, fmt.Errorf("%w: series id %q", ErrInvalidRequest, id)
		}
		season, err := strconv.Atoi(parts[1])
		if err != nil {
			return StreamRequest{}, fmt.Errorf("%w: season %q", ErrInvalidRequest, parts[1])
		}
		episode, err := strconv.Atoi(parts[2])
		if err != nil {
			return StreamRequest{}, fmt.Errorf("%w: episode %q", ErrInvalidRequest, parts[2])
		}
		req := StreamRequest{Kind: RequestSeries, ID: parts[0], Season: season, Episode: episode}
		return req, req.Validate()
	default:
		return StreamRequest{}, fmt.Errorf("%w: type %q", ErrInvalidRequest, contentType)
	}
}

func (r StreamRequest) Validate() error {
	switch r.Kind {
	case RequestChannel:
		if r.ID == "" {
			return fmt.Errorf("%w: empty channel id", ErrInvalidRequest)
		}
		return nil
	case RequestMovie, RequestTv:
		if !IsImdbID(r.ID) {
			return fmt.Errorf("%w: %s id %q", ErrInvalidRequest, r.Kind, r.ID)
		}
		return nil
	case RequestSeries:
		if !IsImdbID(r.ID) {
			return fmt.Errorf("%w: series id %q", ErrInvalidRequest, r.ID)
		}
		if r.Season < 0 || r.Episode < 0 {
			return fmt.Errorf("%w: season %d episode %d", ErrInvalidRequest, r.Season, r.Episode)
		}
		return nil
	default:
		return fmt.Errorf("%w: kind %q", ErrInvalidRequest, r.Kind)
	}
}

// CacheKey is the deterministic identity of the request.
func (r StreamRequest) CacheKey() string {
	switch r.Kind {
	case RequestChannel:
		return "Channel:" + r.ID
	case RequestMovie:
		return "Movie:" + r.ID
	case RequestSeries:
		return fmt.Sprintf("Series:%s:%d:%d", r.ID, r.Season, r.Episode)
	case RequestTv:
		return "Tv:" + r.ID
	default:
		return "Unknown:" + r.ID
	}
}

func (r StreamRequest) String() string {
	return r.CacheKey()
}
