// Package torrentmeta downloads .torrent files from a hash-addressed cache
// and exposes their file manifests.
package torrentmeta

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/anacrolix/torrent/metainfo"

	"torrentstream/streamservice/internal/cache"
	"torrentstream/streamservice/internal/domain"
	"torrentstream/streamservice/internal/providers/common"
)

const (
	DefaultBaseURL = "https://itorrents.org/torrent"
	fetchTimeout   = 5 * time.Second
)

var ErrHashMismatch = errors.New("torrent info hash does not match")

type Config struct {
	BaseURL   string
	UserAgent string
	Client    *http.Client
	Store     cache.Store
}

// Manifest is the decoded file list of one torrent.
type Manifest struct {
	Name     string               `json:"name"`
	InfoHash string               `json:"infoHash"`
	Files    []domain.TorrentFile `json:"files"`
}

// VideoFiles keeps video files of at least minSize bytes, in torrent order.
func (m Manifest) VideoFiles(minSize int64) []domain.TorrentFile {
	return domain.VideoFiles(m.Files, minSize)
}

type Fetcher struct {
	baseURL   string
	fetcher   *common.Fetcher
	manifests *cache.Cache[Manifest]
}

func NewFetcher(cfg Config) *Fetcher {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Fetcher{
		baseURL: baseURL,
		fetcher: common.NewFetcher(cfg.Client, cfg.UserAgent),
		manifests: cache.New("torrent_manifest", cache.Options[Manifest]{
			Capacity: 512,
			TTL:      cache.OutcomeTTL[Manifest](72*time.Hour, time.Minute),
			Store:    cfg.Store,
		}),
	}
}

// Files returns every file of the torrent. It satisfies the engine's
// season expansion hook.
func (f *Fetcher) Files(ctx context.Context, infoHash string) ([]domain.TorrentFile, error) {
	manifest, err := f.Manifest(ctx, infoHash)
	if err != nil {
		return nil, err
	}
	return manifest.Files, nil
}

func (f *Fetcher) Manifest(ctx context.Context, infoHash string) (Manifest, error) {
	hash := common.NormalizeInfoHash(infoHash)
	if hash == "" {
		return Manifest{}, fmt.Errorf("%w: empty info hash", domain.ErrInvalidQuery)
	}
	return f.manifests.Get(ctx, hash, func(ctx context.Context) (Manifest, error) {
		ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
		defer cancel()

		uri := f.baseURL + "/" + strings.ToUpper(hash) + ".torrent"
		payload, err := f.fetcher.Get(ctx, uri, "application/x-bittorrent,application/octet-stream,*/*")
		if err != nil {
			return Manifest{}, err
		}
		manifest, err := Decode(payload)
		if err != nil {
			return Manifest{}, err
		}
		if manifest.InfoHash != hash {
			return Manifest{}, fmt.Errorf("%w: want %s, got %s", ErrHashMismatch, hash, manifest.InfoHash)
		}
		return manifest, nil
	})
}

// Decode parses a bencoded .torrent. Multi-file paths are prefixed with
// the torrent name; file indexes follow the info dictionary order.
func Decode(payload []byte) (Manifest, error) {
	mi, err := metainfo.Load(bytes.NewReader(payload))
	if err != nil {
		return Manifest{}, fmt.Errorf("decode torrent: %w", err)
	}
	info, err := mi.UnmarshalInfo()
	if err != nil {
		return Manifest{}, fmt.Errorf("decode torrent info: %w", err)
	}

	manifest := Manifest{
		Name:     info.Name,
		InfoHash: mi.HashInfoBytes().HexString(),
	}
	if len(info.Files) == 0 {
		manifest.Files = []domain.TorrentFile{{Path: info.Name, Length: info.Length, Index: 0}}
		return manifest, nil
	}
	manifest.Files = make([]domain.TorrentFile, 0, len(info.Files))
	for i, file := range info.Files {
		parts := append([]string{info.Name}, file.Path...)
		manifest.Files = append(manifest.Files, domain.TorrentFile{
			Path:   path.Join(parts...),
			Length: file.Length,
			Index:  i,
		})
	}
	return manifest, nil
}
