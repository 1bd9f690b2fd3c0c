package common

import (
	"context"
	"iter"

	"torrentstream/streamservice/internal/domain"
)

// Lazy adapts a search that returns a whole page into a candidate sequence.
// The search only runs when the sequence is ranged over; its error, if any,
// is the single element yielded.
func Lazy[C domain.Candidate](ctx context.Context, search func(context.Context) ([]C, error)) iter.Seq2[domain.Candidate, error] {
	return func(yield func(domain.Candidate, error) bool) {
		items, err := search(ctx)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, item := range items {
			if !yield(item, nil) {
				return
			}
		}
	}
}

// Pages yields the candidates of consecutive pages until fetch reports the
// last one, an error occurs or the consumer stops.
func Pages(ctx context.Context, fetch func(ctx context.Context, page int) (items []domain.Candidate, last bool, err error)) iter.Seq2[domain.Candidate, error] {
	return func(yield func(domain.Candidate, error) bool) {
		for page := 1; ; page++ {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			items, last, err := fetch(ctx, page)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, item := range items {
				if !yield(item, nil) {
					return
				}
			}
			if last {
				return
			}
		}
	}
}
