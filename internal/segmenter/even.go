package segmenter

import (
	"context"

	"github.com/castreel/api/internal/model"
)

// EvenStrategy cuts the script into equal word runs that fit the clip limit.
type EvenStrategy struct{}

func (EvenStrategy) Name() string { return "even" }

func (EvenStrategy) Split(ctx context.Context, doc *Document, maxClip float64) ([]Span, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := len(doc.Words)
	budget := wordBudget(maxClip)
	k := (n + budget - 1) / budget
	if k < 1 {
		k = 1
	}

	spans := make([]Span, 0, k)
	start := 0
	for i := 0; i < k; i++ {
		size := n / k
		if i < n%k {
			size++
		}
		sp := Span{Start: start, End: start + size, Type: model.SegmentTestimonial}
		switch {
		case k == 1:
		case i == 0:
			sp.Type = model.SegmentHook
		case i == k-1:
			sp.Type = model.SegmentCTA
		}
		spans = append(spans, sp)
		start += size
	}
	return spans, nil
}
