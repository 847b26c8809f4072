package segmenter

import (
	"context"
	"math"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/castreel/api/internal/apperr"
	"github.com/castreel/api/internal/model"
)

const (
	WordsPerSecond         = 2.5
	MaxSegmentChars        = 800
	MinSegmentDuration     = 2.0
	HookMaxChars           = 150
	DefaultMaxClipDuration = 8.0

	// fallbackWindowSeconds sizes the hook and CTA when the script has no usable sentence for them.
	fallbackWindowSeconds = 5.6
	// splitTolerance is how far back from the budget a split may move to land on a sentence end.
	splitTolerance = 0.5
)

// Strategy decides where segment boundaries fall.
type Strategy interface {
	Name() string
	Split(ctx context.Context, doc *Document, maxClip float64) ([]Span, error)
}

// Segmenter turns a script into an ordered segment plan.
type Segmenter struct {
	primary  Strategy
	fallback Strategy
	logger   *zap.Logger
}

// New builds a Segmenter. A nil primary uses the heuristic strategy.
// Whatever the primary produces, an invalid plan is replaced by an even split.
func New(primary Strategy, logger *zap.Logger) *Segmenter {
	if primary == nil {
		primary = HeuristicStrategy{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Segmenter{
		primary:  primary,
		fallback: EvenStrategy{},
		logger:   logger.Named("segmenter"),
	}
}

// Plan is the output of Segment.
type Plan struct {
	Segments []model.Segment
	Strategy string
}

func (p Plan) TotalEstimated() float64 {
	var sum float64
	for _, s := range p.Segments {
		sum += s.EstimatedDuration
	}
	return sum
}

func (p Plan) TotalTarget() float64 {
	var sum float64
	for _, s := range p.Segments {
		sum += s.TargetDuration
	}
	return round2(sum)
}

// Segment splits script into hook, testimonial and CTA segments.
// targetTotal spreads spare time across segments when positive; maxClip caps each segment's duration.
func (s *Segmenter) Segment(ctx context.Context, script string, targetTotal, maxClip float64) (*Plan, error) {
	if maxClip <= 0 {
		maxClip = DefaultMaxClipDuration
	}
	if maxClip < MinSegmentDuration {
		return nil, apperr.Validationf("max clip duration must be at least %.0f seconds", MinSegmentDuration)
	}

	doc := NewDocument(script)
	if len(doc.Words) == 0 {
		return nil, apperr.Validation("script is empty")
	}

	spans, err := s.primary.Split(ctx, doc, maxClip)
	if err == nil {
		if err = checkCoverage(doc, spans); err == nil {
			segs := build(doc, spans, targetTotal, maxClip)
			if err = ValidateWithLimit(segs, maxClip); err == nil {
				return &Plan{Segments: segs, Strategy: s.primary.Name()}, nil
			}
		}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	s.logger.Warn("segmentation rejected, using even split",
		zap.String("strategy", s.primary.Name()),
		zap.Error(err),
	)

	spans, err = s.fallback.Split(ctx, doc, maxClip)
	if err != nil {
		return nil, err
	}
	if err := checkCoverage(doc, spans); err != nil {
		return nil, err
	}
	segs := build(doc, spans, targetTotal, maxClip)
	if err := ValidateWithLimit(segs, maxClip); err != nil {
		return nil, err
	}
	return &Plan{Segments: segs, Strategy: s.fallback.Name()}, nil
}

// checkCoverage requires spans to tile every word exactly once, in order.
func checkCoverage(doc *Document, spans []Span) error {
	if len(spans) == 0 {
		return apperr.Validation("no segments produced")
	}
	next := 0
	for i, sp := range spans {
		if sp.Start != next || sp.End <= sp.Start {
			return apperr.Validationf("segment %d does not continue the script", i)
		}
		next = sp.End
	}
	if next != len(doc.Words) {
		return apperr.Validation("segments do not cover the whole script")
	}
	return nil
}

func build(doc *Document, spans []Span, targetTotal, maxClip float64) []model.Segment {
	segs := make([]model.Segment, len(spans))
	for i, sp := range spans {
		typ := sp.Type
		if typ == "" {
			typ = model.SegmentTestimonial
		}
		segs[i] = model.Segment{
			Type:              typ,
			Content:           doc.Text(sp),
			Order:             i,
			WordCount:         sp.Len(),
			EstimatedDuration: EstimateDuration(sp.Len()),
		}
	}
	allocateTargets(segs, targetTotal, maxClip)
	return segs
}

// allocateTargets gives every segment at least the minimum clip length, then
// spreads any remaining time up to targetTotal evenly without exceeding maxClip.
func allocateTargets(segs []model.Segment, targetTotal, maxClip float64) {
	for i := range segs {
		segs[i].TargetDuration = math.Max(segs[i].EstimatedDuration, MinSegmentDuration)
	}
	if targetTotal > 0 {
		for range segs {
			var sum float64
			var open []int
			for i, s := range segs {
				sum += s.TargetDuration
				if s.TargetDuration < maxClip {
					open = append(open, i)
				}
			}
			slack := targetTotal - sum
			if slack < 0.005 || len(open) == 0 {
				break
			}
			share := slack / float64(len(open))
			for _, i := range open {
				segs[i].TargetDuration = math.Min(maxClip, segs[i].TargetDuration+share)
			}
		}
	}
	for i := range segs {
		segs[i].TargetDuration = math.Max(round2(segs[i].TargetDuration), segs[i].EstimatedDuration)
	}
}

// Validate checks a segment list without a per-clip duration cap.
func Validate(segs []model.Segment) error {
	return ValidateWithLimit(segs, 0)
}

// ValidateWithLimit checks content, order, size and duration of every segment.
// maxClip <= 0 disables the per-clip estimate cap.
func ValidateWithLimit(segs []model.Segment, maxClip float64) error {
	if len(segs) == 0 {
		return apperr.Validation("no segments")
	}
	for i, s := range segs {
		fail := func(msg string) error {
			return apperr.Validationf("segment %d: %s", i, msg)
		}
		if strings.TrimSpace(s.Content) == "" {
			return fail("content is empty")
		}
		if utf8.RuneCountInString(s.Content) > MaxSegmentChars {
			return fail("content exceeds the character limit")
		}
		if s.Order != i {
			return fail("out of order")
		}
		switch s.Type {
		case model.SegmentHook, model.SegmentTestimonial, model.SegmentCTA:
		default:
			return fail("unknown type")
		}
		if s.WordCount != len(strings.Fields(s.Content)) {
			return fail("word count does not match content")
		}
		if math.Abs(s.EstimatedDuration-EstimateDuration(s.WordCount)) > 1e-9 {
			return fail("estimated duration does not match word count")
		}
		if s.TargetDuration < MinSegmentDuration {
			return fail("target duration below minimum")
		}
		if s.TargetDuration < s.EstimatedDuration {
			return fail("target duration shorter than speech")
		}
		if maxClip > 0 && s.EstimatedDuration > maxClip {
			return fail("speech longer than the clip limit")
		}
	}
	return nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// wordBudget is the largest word count that fits in maxClip seconds.
func wordBudget(maxClip float64) int {
	n := int(math.Floor(maxClip*WordsPerSecond + 1e-9))
	if n < 1 {
		n = 1
	}
	return n
}

// splitToBudget cuts a span into pieces that each fit the word budget,
// preferring to cut on the sentence end closest to the budget.
func splitToBudget(doc *Document, sp Span, maxClip float64) []Span {
	budget := wordBudget(maxClip)
	if sp.Len() <= budget {
		return []Span{sp}
	}
	ideal := sp.Start + budget
	cut := ideal
	lowest := ideal - int(math.Ceil(float64(budget)*splitTolerance))
	for i := ideal; i > sp.Start && i >= lowest; i-- {
		if doc.IsSentenceEnd(i - 1) {
			cut = i
			break
		}
	}
	head := Span{Start: sp.Start, End: cut, Type: sp.Type}
	tail := Span{Start: cut, End: sp.End, Type: sp.Type}
	return append([]Span{head}, splitToBudget(doc, tail, maxClip)...)
}
