package segmenter

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/castreel/api/internal/apperr"
	"github.com/castreel/api/internal/model"
)

const shortScript = "I love this product. It changed my life. Try it today!"

func joinContents(segs []model.Segment) string {
	parts := make([]string, len(segs))
	for i, s := range segs {
		parts[i] = s.Content
	}
	return strings.Join(parts, " ")
}

func TestSegment_ShortScript(t *testing.T) {
	s := New(nil, nil)
	plan, err := s.Segment(context.Background(), shortScript, 15, 8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []struct {
		typ     model.SegmentType
		content string
	}{
		{model.SegmentHook, "I love this product."},
		{model.SegmentTestimonial, "It changed my life."},
		{model.SegmentCTA, "Try it today!"},
	}
	if len(plan.Segments) != len(want) {
		t.Fatalf("expected %d segments, got %d: %+v", len(want), len(plan.Segments), plan.Segments)
	}
	for i, w := range want {
		got := plan.Segments[i]
		if got.Type != w.typ || got.Content != w.content || got.Order != i {
			t.Errorf("segment %d: expected %s %q, got %s %q (order %d)", i, w.typ, w.content, got.Type, got.Content, got.Order)
		}
	}

	if plan.Strategy != "heuristic" {
		t.Errorf("expected heuristic strategy, got %s", plan.Strategy)
	}
	if total := plan.TotalTarget(); math.Abs(total-15) > 15*0.2 {
		t.Errorf("total target %.2f is not within 20%% of 15", total)
	}
	if got := plan.Segments[0].EstimatedDuration; got != 1.6 {
		t.Errorf("expected 4 words to estimate 1.6s, got %v", got)
	}
	for _, seg := range plan.Segments {
		if seg.TargetDuration < MinSegmentDuration {
			t.Errorf("segment %d target %.2f below minimum", seg.Order, seg.TargetDuration)
		}
	}
}

func TestSegment_ConcatenationReproducesScript(t *testing.T) {
	scripts := []string{
		shortScript,
		"Okay so   I was skeptical at first.\nBut after two weeks my skin looked completely different and my friends kept asking what I changed. " +
			"Honestly I did not expect much from a serum this cheap. It absorbs fast, it does not feel sticky, and the smell is subtle. " +
			"Link in bio, grab yours before the sale ends!",
		strings.Repeat("word ", 60),
		"Single sentence without any call to action",
	}
	s := New(nil, nil)
	for _, script := range scripts {
		plan, err := s.Segment(context.Background(), script, 30, 8)
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", script, err)
		}
		if got, want := joinContents(plan.Segments), strings.Join(strings.Fields(script), " "); got != want {
			t.Errorf("concatenation mismatch:\n got %q\nwant %q", got, want)
		}
		for _, seg := range plan.Segments {
			if seg.EstimatedDuration > 8 {
				t.Errorf("segment %d estimates %.1fs, over the clip limit", seg.Order, seg.EstimatedDuration)
			}
			if seg.TargetDuration > 8 && seg.TargetDuration > seg.EstimatedDuration {
				t.Errorf("segment %d target %.2f stretched past the clip limit", seg.Order, seg.TargetDuration)
			}
		}
	}
}

func TestSegment_LongRunSplitsOnBudget(t *testing.T) {
	plan, err := New(nil, nil).Segment(context.Background(), strings.Repeat("word ", 60), 0, 8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 14-word hook, 32-word body cut at 20 words, 14-word CTA
	wantCounts := []int{14, 20, 12, 14}
	if len(plan.Segments) != len(wantCounts) {
		t.Fatalf("expected %d segments, got %d", len(wantCounts), len(plan.Segments))
	}
	for i, n := range wantCounts {
		if plan.Segments[i].WordCount != n {
			t.Errorf("segment %d: expected %d words, got %d", i, n, plan.Segments[i].WordCount)
		}
	}
	if plan.Segments[0].Type != model.SegmentHook || plan.Segments[3].Type != model.SegmentCTA {
		t.Errorf("unexpected types %s/%s", plan.Segments[0].Type, plan.Segments[3].Type)
	}
}

func TestSegment_SplitPrefersSentenceEnd(t *testing.T) {
	doc := NewDocument(strings.Repeat("a ", 15) + "end. " + strings.Repeat("b ", 10))
	spans := splitToBudget(doc, Span{Start: 0, End: len(doc.Words)}, 8)
	if len(spans) != 2 || spans[0].End != 16 {
		t.Fatalf("expected cut after the sentence end at word 16, got %+v", spans)
	}
}

func TestSegment_EmptyScript(t *testing.T) {
	_, err := New(nil, nil).Segment(context.Background(), "   \n\t", 15, 8)
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSegment_OversizedWordFails(t *testing.T) {
	_, err := New(nil, nil).Segment(context.Background(), strings.Repeat("x", MaxSegmentChars+1), 15, 8)
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

type brokenStrategy struct{ err error }

func (brokenStrategy) Name() string { return "broken" }

func (b brokenStrategy) Split(ctx context.Context, doc *Document, maxClip float64) ([]Span, error) {
	if b.err != nil {
		return nil, b.err
	}
	// leaves a gap after the first word
	return []Span{{Start: 0, End: 1}, {Start: 2, End: len(doc.Words)}}, nil
}

func TestSegment_FallsBackToEvenSplit(t *testing.T) {
	for _, strategy := range []Strategy{brokenStrategy{}, brokenStrategy{err: errors.New("boom")}} {
		plan, err := New(strategy, nil).Segment(context.Background(), shortScript, 15, 8)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if plan.Strategy != "even" {
			t.Errorf("expected even fallback, got %s", plan.Strategy)
		}
		if got := joinContents(plan.Segments); got != shortScript {
			t.Errorf("fallback lost words: %q", got)
		}
	}
}

func TestEvenStrategy_Sizes(t *testing.T) {
	doc := NewDocument(strings.Repeat("w ", 41))
	spans, err := EvenStrategy{}.Split(context.Background(), doc, 8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(spans) != 3 {
		t.Fatalf("expected 3 spans, got %d", len(spans))
	}
	if spans[0].Len() != 14 || spans[1].Len() != 14 || spans[2].Len() != 13 {
		t.Errorf("unexpected sizes %d/%d/%d", spans[0].Len(), spans[1].Len(), spans[2].Len())
	}
	if spans[0].Type != model.SegmentHook || spans[1].Type != model.SegmentTestimonial || spans[2].Type != model.SegmentCTA {
		t.Errorf("unexpected types %+v", spans)
	}
}

func TestValidate(t *testing.T) {
	valid := model.Segment{Type: model.SegmentHook, Content: "Hello there friend", WordCount: 3, EstimatedDuration: 1.2, TargetDuration: 2}

	tests := []struct {
		name   string
		mutate func(*model.Segment)
		ok     bool
	}{
		{"valid", func(s *model.Segment) {}, true},
		{"empty", func(s *model.Segment) { s.Content = " "; s.WordCount = 0; s.EstimatedDuration = 0 }, false},
		{"below minimum", func(s *model.Segment) { s.TargetDuration = 1.5 }, false},
		{"target under speech", func(s *model.Segment) {
			s.Content = strings.Repeat("w ", 10)
			s.WordCount = 10
			s.EstimatedDuration = 4
			s.TargetDuration = 3
		}, false},
		{"too long", func(s *model.Segment) { s.Content = strings.Repeat("y", MaxSegmentChars+1); s.WordCount = 1; s.EstimatedDuration = 0.4 }, false},
		{"bad type", func(s *model.Segment) { s.Type = "intro" }, false},
		{"inconsistent estimate", func(s *model.Segment) { s.EstimatedDuration = 5; s.TargetDuration = 5 }, false},
	}
	for _, tt := range tests {
		seg := valid
		tt.mutate(&seg)
		err := Validate([]model.Segment{seg})
		if (err == nil) != tt.ok {
			t.Errorf("%s: expected ok=%v, got %v", tt.name, tt.ok, err)
		}
	}

	if err := Validate(nil); err == nil {
		t.Error("empty list should be invalid")
	}
	out := []model.Segment{valid, valid}
	if err := Validate(out); err == nil {
		t.Error("duplicate order should be invalid")
	}
}

func TestIsCallToAction(t *testing.T) {
	tests := []struct {
		sentence string
		want     bool
	}{
		{"Try it today!", true},
		{"So just grab one before they sell out.", true},
		{"Link in bio.", true},
		{"Use my code GLOW20 for 20% off.", true},
		{"Don’t miss it!", true},
		{"It changed my life.", false},
		{"I get compliments every day.", false},
	}
	for _, tt := range tests {
		if got := IsCallToAction(tt.sentence); got != tt.want {
			t.Errorf("%q: expected %v, got %v", tt.sentence, tt.want, got)
		}
	}
}

type fakeCompleter struct {
	answer string
	err    error
}

func (f fakeCompleter) CompleteJSON(ctx context.Context, system, user, name string, schema interface{}) (string, error) {
	return f.answer, f.err
}

func (f fakeCompleter) IsConfigured() bool { return true }

func TestLLMStrategy(t *testing.T) {
	tests := []struct {
		name      string
		completer fakeCompleter
		wantHook  string
	}{
		{"exact answer", fakeCompleter{answer: `{"hook":"I love this product. It changed my life.","call_to_action":"Try it today!"}`}, "I love this product. It changed my life."},
		{"paraphrased answer", fakeCompleter{answer: `{"hook":"I adore this product.","call_to_action":"Try it!"}`}, "I love this product."},
		{"bad json", fakeCompleter{answer: `not json`}, "I love this product."},
		{"provider error", fakeCompleter{err: errors.New("503")}, "I love this product."},
	}
	for _, tt := range tests {
		plan, err := New(NewLLMStrategy(tt.completer, nil), nil).Segment(context.Background(), shortScript, 15, 8)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.name, err)
		}
		if plan.Segments[0].Content != tt.wantHook || plan.Segments[0].Type != model.SegmentHook {
			t.Errorf("%s: expected hook %q, got %+v", tt.name, tt.wantHook, plan.Segments[0])
		}
		last := plan.Segments[len(plan.Segments)-1]
		if last.Type != model.SegmentCTA || last.Content != "Try it today!" {
			t.Errorf("%s: expected CTA segment, got %+v", tt.name, last)
		}
	}
}
