package quality

import "torrentstream/streamservice/internal/domain"

// PerBucket is how many streams a bucket accepts. The first ones accepted
// are kept; later streams of the same quality are dropped.
const PerBucket = 3

const enoughTotal = 12

// Group folds streams into quality buckets and decides when enough has been
// collected. It is not safe for concurrent use.
type Group struct {
	buckets map[string][]domain.CandidateStream
	order   []string
	total   int
}

func NewGroup() *Group {
	g := &Group{buckets: make(map[string][]domain.CandidateStream, len(Ranked))}
	for _, label := range Ranked {
		g.buckets[label] = nil
		g.order = append(g.order, label)
	}
	return g
}

// Add appends the stream to its bucket if the bucket has room.
func (g *Group) Add(stream domain.CandidateStream) bool {
	label := Normalize(stream.Quality)
	bucket, ok := g.buckets[label]
	if !ok {
		g.order = append(g.order, label)
	}
	if len(bucket) >= PerBucket {
		return false
	}
	g.buckets[label] = append(bucket, stream)
	g.total++
	return true
}

// HasEnough is the early-stop predicate.
func (g *Group) HasEnough() bool {
	return (g.Len(UHDHDR) >= 2 && g.Len(UHD) >= 3 && g.Len(FullHD) >= 3) || g.total >= enoughTotal
}

func (g *Group) Len(label string) int {
	return len(g.buckets[label])
}

func (g *Group) Total() int {
	return g.total
}

// Streams flattens the buckets and sorts them by quality and seeds.
func (g *Group) Streams() []domain.CandidateStream {
	out := make([]domain.CandidateStream, 0, g.total)
	for _, label := range g.order {
		out = append(out, g.buckets[label]...)
	}
	Sort(out)
	return out
}
