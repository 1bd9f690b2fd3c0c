package realdebrid

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"torrentstream/streamservice/internal/cache"
	"torrentstream/streamservice/internal/domain"
	"torrentstream/streamservice/internal/providers/common"
)

var infoHashPattern = regexp.MustCompile(`^(?:[0-9a-f]{40}|[a-z2-7]{32})$`)

// Resolver turns (hash, file) into a Real-Debrid download URL by adding
// the magnet, selecting the file and unrestricting the resulting link.
type Resolver struct {
	client *Client
	links  *cache.Cache[string]
}

func NewResolver(client *Client) *Resolver {
	return &Resolver{
		client: client,
		links: cache.New("realdebrid_link", cache.Options[string]{
			Capacity: 1024,
			TTL:      cache.OutcomeTTL[string](time.Hour, 0),
		}),
	}
}

// Resolve returns domain.ErrInvalidRequest for malformed parameters.
func (r *Resolver) Resolve(ctx context.Context, infoHash, file string) (string, error) {
	hash := common.NormalizeInfoHash(infoHash)
	if !infoHashPattern.MatchString(hash) {
		return "", fmt.Errorf("%w: bad info hash %q", domain.ErrInvalidRequest, infoHash)
	}
	if n, err := strconv.Atoi(file); err != nil || n <= 0 {
		return "", fmt.Errorf("%w: bad file id %q", domain.ErrInvalidRequest, file)
	}
	return r.links.Get(ctx, hash+"/"+file, func(ctx context.Context) (string, error) {
		added, err := r.client.AddMagnet(ctx, common.MagnetFromHash(hash))
		if err != nil {
			return "", err
		}
		if err := r.client.SelectFiles(ctx, added.ID, file); err != nil {
			return "", err
		}
		info, err := r.client.TorrentInfo(ctx, added.ID)
		if err != nil {
			return "", err
		}
		if len(info.Links) == 0 {
			return "", errors.New("real-debrid torrent has no links yet")
		}
		link, err := r.client.UnrestrictLink(ctx, info.Links[0])
		if err != nil {
			return "", err
		}
		if link.Download == "" {
			return "", errors.New("real-debrid returned an empty download url")
		}
		return link.Download, nil
	})
}
