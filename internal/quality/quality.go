package quality

import (
	"cmp"
	"regexp"
	"slices"
	"strings"

	"github.com/moistari/rls"

	"torrentstream/streamservice/internal/domain"
)

const (
	ThreeD  = "3D"
	UHDHDR  = "2160p HDR"
	UHD     = "2160p"
	FullHD  = "1080p"
	HD      = "720p"
	SD      = "480p"
	Unknown = "N/A"
)

// Ranked lists the known buckets from best to worst. A label's priority is
// the index of the first entry it starts with.
var Ranked = []string{ThreeD, UHDHDR, UHD, FullHD, HD, SD}

var (
	resolutionPattern = regexp.MustCompile(`(?i)\d{3,4}p`)
	hdrPattern        = regexp.MustCompile(`(?i)(?:^|[^a-z0-9])(?:hdr(?:10)?\+?|dv|dovi|dolby[ .]?vision)(?:$|[^a-z0-9])`)
)

// Classify derives a quality label from a free-text release title.
func Classify(title string) string {
	match := resolutionPattern.FindString(title)
	if match == "" {
		return Unknown
	}
	label := strings.ToLower(match)
	if label == UHD && hasHDR(title) {
		return UHDHDR
	}
	return label
}

func hasHDR(title string) bool {
	if len(rls.ParseString(title).HDR) > 0 {
		return true
	}
	return hdrPattern.MatchString(title)
}

// Priority ranks a label, lower is better. Unknown labels sort last.
func Priority(label string) int {
	for i, known := range Ranked {
		if strings.HasPrefix(label, known) {
			return i
		}
	}
	return len(Ranked)
}

// Normalize maps provider labels such as "1080p.x265" onto their bucket.
// Labels with no known prefix are returned unchanged.
func Normalize(label string) string {
	if p := Priority(label); p < len(Ranked) {
		return Ranked[p]
	}
	return label
}

// Excluded reports labels that are never surfaced.
func Excluded(label string) bool {
	return label == "" || label == Unknown || Priority(label) == slices.Index(Ranked, SD)
}

// Formatted is the label shown to players.
func Formatted(label string) string {
	switch Normalize(label) {
	case UHDHDR:
		return "4K HDR"
	case UHD:
		return "4K"
	default:
		return label
	}
}

// Compare orders streams by quality, then by seeds descending.
func Compare(a, b domain.CandidateStream) int {
	if c := cmp.Compare(Priority(a.Quality), Priority(b.Quality)); c != 0 {
		return c
	}
	return cmp.Compare(b.Seeds, a.Seeds)
}

func Sort(streams []domain.CandidateStream) {
	slices.SortStableFunc(streams, Compare)
}
