package segmenter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"go.uber.org/zap"

	"github.com/castreel/api/internal/model"
)

// Completer returns a JSON document matching schema for the given prompts.
type Completer interface {
	CompleteJSON(ctx context.Context, system, user, schemaName string, schema interface{}) (string, error)
	IsConfigured() bool
}

// HookCTAResponse is the structured output expected from the language model.
type HookCTAResponse struct {
	Hook         string `json:"hook" jsonschema_description:"The opening words of the script, copied verbatim, that grab attention. At most 150 characters."`
	CallToAction string `json:"call_to_action" jsonschema_description:"The closing words of the script, copied verbatim, that ask the viewer to act. Empty if the script has none."`
}

// GenerateSchema reflects a strict JSON schema for T.
func GenerateSchema[T any]() interface{} {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}

var hookCTASchema = GenerateSchema[HookCTAResponse]()

const llmSystemPrompt = `You split short-form video ad scripts into parts. You never rewrite the script.
Return the hook and the call to action exactly as they appear in the script.`

// LLMStrategy asks a language model for the hook and CTA boundaries and splits the body by budget.
// Answers that are not an exact prefix and suffix of the script fall back to the heuristic.
type LLMStrategy struct {
	completer Completer
	heuristic HeuristicStrategy
	logger    *zap.Logger
}

func NewLLMStrategy(completer Completer, logger *zap.Logger) *LLMStrategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMStrategy{completer: completer, logger: logger}
}

func (s *LLMStrategy) Name() string { return "llm" }

func (s *LLMStrategy) Split(ctx context.Context, doc *Document, maxClip float64) ([]Span, error) {
	if s.completer == nil || !s.completer.IsConfigured() {
		return s.heuristic.Split(ctx, doc, maxClip)
	}

	prompt := fmt.Sprintf("Script:\n%s\n\nRespond in JSON with the hook and the call_to_action.", strings.Join(doc.Words, " "))
	raw, err := s.completer.CompleteJSON(ctx, llmSystemPrompt, prompt, "script_parts", hookCTASchema)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("llm segmentation failed, using heuristic", zap.Error(err))
		return s.heuristic.Split(ctx, doc, maxClip)
	}

	var resp HookCTAResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		s.logger.Warn("llm returned invalid JSON, using heuristic", zap.Error(err))
		return s.heuristic.Split(ctx, doc, maxClip)
	}

	spans, ok := spansFromAnswer(doc, resp, maxClip)
	if !ok {
		s.logger.Warn("llm answer does not match the script, using heuristic")
		return s.heuristic.Split(ctx, doc, maxClip)
	}
	return spans, nil
}

func spansFromAnswer(doc *Document, resp HookCTAResponse, maxClip float64) ([]Span, bool) {
	hookWords := strings.Fields(resp.Hook)
	ctaWords := strings.Fields(resp.CallToAction)
	n := len(doc.Words)

	if len(hookWords)+len(ctaWords) > n {
		return nil, false
	}
	for i, w := range hookWords {
		if doc.Words[i] != w {
			return nil, false
		}
	}
	for i, w := range ctaWords {
		if doc.Words[n-len(ctaWords)+i] != w {
			return nil, false
		}
	}
	if len(hookWords) > 0 && utf8Len(hookWords) > HookMaxChars {
		return nil, false
	}

	var spans []Span
	start, end := len(hookWords), n-len(ctaWords)
	if start > 0 {
		spans = append(spans, splitToBudget(doc, Span{Start: 0, End: start, Type: model.SegmentHook}, maxClip)...)
	}
	if end > start {
		spans = append(spans, splitToBudget(doc, Span{Start: start, End: end, Type: model.SegmentTestimonial}, maxClip)...)
	}
	if end < n {
		spans = append(spans, splitToBudget(doc, Span{Start: end, End: n, Type: model.SegmentCTA}, maxClip)...)
	}
	return spans, true
}

func utf8Len(words []string) int {
	return len([]rune(strings.Join(words, " ")))
}
