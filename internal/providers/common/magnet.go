package common

import (
	"net/url"
	"regexp"
	"strings"
)

// NormalizeInfoHash lower-cases a hash and strips an urn:btih: prefix.
func NormalizeInfoHash(raw string) string {
	value := strings.TrimSpace(raw)
	value = strings.TrimPrefix(strings.ToLower(value), "urn:btih:")
	if value == "" {
		return ""
	}
	return value
}

// BuildMagnet returns "" when infoHash is empty.
func BuildMagnet(infoHash, name string, trackers []string) string {
	hash := NormalizeInfoHash(infoHash)
	if hash == "" {
		return ""
	}
	var builder strings.Builder
	builder.WriteString("magnet:?xt=urn:btih:")
	builder.WriteString(hash)
	if strings.TrimSpace(name) != "" {
		builder.WriteString("&dn=")
		builder.WriteString(url.QueryEscape(strings.TrimSpace(name)))
	}
	for _, tracker := range trackers {
		value := strings.TrimSpace(tracker)
		if value == "" {
			continue
		}
		builder.WriteString("&tr=")
		builder.WriteString(url.QueryEscape(value))
	}
	return builder.String()
}

// DefaultTrackers are appended to magnets built from a bare info hash.
var DefaultTrackers = []string{
	"udp://glotorrents.pw:6969/announce",
	"udp://tracker.opentrackr.org:1337/announce",
	"udp://torrent.gresille.org:80/announce",
	"udp://tracker.openbittorrent.com:80",
	"udp://tracker.coppersurfer.tk:6969",
	"udp://tracker.leechers-paradise.org:6969",
	"udp://p4p.arenabg.ch:1337",
	"udp://tracker.internetwarriors.net:1337",
}

// MagnetFromHash builds a magnet for infoHash with the default trackers.
func MagnetFromHash(infoHash string) string {
	return BuildMagnet(infoHash, "", DefaultTrackers)
}

var btihPattern = regexp.MustCompile(`(?i)urn:btih:([^&]+)`)

// InfoHashFromMagnet extracts the lower-cased btih of a magnet URI.
func InfoHashFromMagnet(magnet string) string {
	match := btihPattern.FindStringSubmatch(magnet)
	if match == nil {
		return ""
	}
	return NormalizeInfoHash(match[1])
}
