package segmenter

import (
	"context"
	"math"
	"regexp"
	"strings"

	"github.com/castreel/api/internal/model"
)

var (
	// ctaLeading matches sentences that open with an imperative, optionally after a filler word.
	ctaLeading = regexp.MustCompile(`^(?:(?:so|just|now|go|and|seriously|honestly|you should|you have to|you need to|you've got to|make sure to|be sure to)[,!]?\s+)*` +
		`(?:try|get|grab|buy|shop|order|click|tap|visit|sign up|subscribe|download|join|start|book|call|check|head|use|don't miss|give it a)\b`)
	// ctaPhrase matches unmistakable calls to action anywhere in the sentence.
	ctaPhrase = regexp.MustCompile(`\b(?:link in (?:my |the )?bio|use (?:my |the )?code|shop now|order now|buy now|get yours|sign up|swipe up|click the link|tap the link|learn more|limited time|don't wait)\b`)
)

// IsCallToAction reports whether a sentence reads like a call to action.
func IsCallToAction(sentence string) bool {
	s := strings.ToLower(strings.TrimSpace(sentence))
	s = strings.NewReplacer("’", "'", "“", "", "”", "", "\"", "").Replace(s)
	return ctaLeading.MatchString(s) || ctaPhrase.MatchString(s)
}

// HeuristicStrategy picks the hook from the first short sentence and the CTA
// from a trailing imperative, falling back to fixed word windows.
type HeuristicStrategy struct{}

func (HeuristicStrategy) Name() string { return "heuristic" }

func (HeuristicStrategy) Split(ctx context.Context, doc *Document, maxClip float64) ([]Span, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := len(doc.Words)
	window := int(math.Round(fallbackWindowSeconds * WordsPerSecond))
	sentences := doc.Sentences()

	start, end := 0, n
	var hook, cta *Span

	if len(sentences) >= 2 && doc.CharLen(sentences[0]) <= HookMaxChars {
		h := sentences[0]
		hook = &h
	} else if n > 2*window {
		hook = &Span{Start: 0, End: window}
	}
	if hook != nil {
		hook.Type = model.SegmentHook
		start = hook.End
	}

	if last := sentences[len(sentences)-1]; last.Start >= start && IsCallToAction(doc.Text(last)) {
		cta = &last
	} else if end-start > 2*window {
		cta = &Span{Start: end - window, End: end}
	}
	if cta != nil {
		cta.Type = model.SegmentCTA
		end = cta.Start
	}

	var spans []Span
	if hook != nil {
		spans = append(spans, splitToBudget(doc, *hook, maxClip)...)
	}
	if end > start {
		body := Span{Start: start, End: end, Type: model.SegmentTestimonial}
		spans = append(spans, splitToBudget(doc, body, maxClip)...)
	}
	if cta != nil {
		spans = append(spans, splitToBudget(doc, *cta, maxClip)...)
	}
	return spans, nil
}
