package domain

import (
	"path"
	"strings"
	"time"
)

// Candidate is a provider result: either a CandidateStream or a CandidateSeason.
type Candidate interface {
	candidate()
	Hash() string
}

// CandidateStream is one playable torrent (or file inside a torrent) found by a source.
type CandidateStream struct {
	Source      string `json:"source"`
	Title       string `json:"title"`
	InfoHash    string `json:"infoHash"`
	MagnetURI   string `json:"magnetUri,omitempty"`
	Quality     string `json:"quality"`
	Seeds       int    `json:"seeds"`
	Peers       int    `json:"peers"`
	SizeBytes   int64  `json:"sizeBytes,omitempty"`
	SizeDisplay string `json:"sizeDisplay,omitempty"`
	URL         string `json:"url,omitempty"`
	Verified    bool   `json:"verified,omitempty"`
	// FileIndex is set for streams expanded from a season torrent and names
	// the file's index inside that torrent.
	FileIndex *int `json:"fileIndex,omitempty"`
}

// CandidateSeason is a whole-season torrent that still has to be expanded
// into per-file streams.
type CandidateSeason struct {
	Source    string `json:"source"`
	Title     string `json:"title"`
	InfoHash  string `json:"infoHash"`
	MagnetURI string `json:"magnetUri,omitempty"`
	Seeds     int    `json:"seeds"`
	Peers     int    `json:"peers"`
	Verified  bool   `json:"verified,omitempty"`
}

func (CandidateStream) candidate() {}
func (CandidateSeason) candidate() {}

func (s CandidateStream) Hash() string { return strings.ToLower(strings.TrimSpace(s.InfoHash)) }
func (s CandidateSeason) Hash() string { return strings.ToLower(strings.TrimSpace(s.InfoHash)) }

// IsSeasonFile reports whether the stream was expanded from a season torrent.
func (s CandidateStream) IsSeasonFile() bool {
	return s.FileIndex != nil
}

// Size renders the size for display, preferring the provider's own text.
func (s CandidateStream) Size() string {
	if s.SizeBytes > 0 {
		return FormatBytes(s.SizeBytes)
	}
	if s.SizeDisplay != "" {
		return s.SizeDisplay
	}
	return "N/A"
}

// TorrentFile is one entry of a torrent's file manifest.
type TorrentFile struct {
	Path   string `json:"path"`
	Length int64  `json:"length"`
	Index  int    `json:"index"`
}

// MinVideoFileSize separates episodes from samples and extras.
const MinVideoFileSize int64 = 10 << 20

var videoExtensions = map[string]struct{}{
	".mp4": {},
	".mkv": {},
	".avi": {},
}

func (f TorrentFile) Name() string {
	return path.Base(strings.ReplaceAll(f.Path, "\\", "/"))
}

func (f TorrentFile) IsVideo() bool {
	_, ok := videoExtensions[strings.ToLower(path.Ext(f.Path))]
	return ok
}

// VideoFiles keeps video files of at least minSize bytes, in manifest order.
func VideoFiles(files []TorrentFile, minSize int64) []TorrentFile {
	out := make([]TorrentFile, 0, len(files))
	for _, f := range files {
		if f.IsVideo() && f.Length >= minSize {
			out = append(out, f)
		}
	}
	return out
}

// SourceDiagnostics is the health snapshot of one source.
type SourceDiagnostics struct {
	Name                string     `json:"name"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	BlockedUntil        *time.Time `json:"blockedUntil,omitempty"`
	LastError           string     `json:"lastError,omitempty"`
	LastSuccessAt       *time.Time `json:"lastSuccessAt,omitempty"`
	LastFailureAt       *time.Time `json:"lastFailureAt,omitempty"`
	LastLatencyMS       int64      `json:"lastLatencyMs,omitempty"`
	LastTimeout         bool       `json:"lastTimeout,omitempty"`
	LastQuery           string     `json:"lastQuery,omitempty"`
	TotalRequests       int64      `json:"totalRequests,omitempty"`
	TotalFailures       int64      `json:"totalFailures,omitempty"`
	TimeoutCount        int64      `json:"timeoutCount,omitempty"`
}
