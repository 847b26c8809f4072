package segmenter

import (
	"strings"
	"unicode/utf8"

	"github.com/castreel/api/internal/model"
)

// Span is a half-open word range [Start, End) of a Document.
type Span struct {
	Start int
	End   int
	Type  model.SegmentType
}

func (s Span) Len() int {
	return s.End - s.Start
}

// Document is a script split into whitespace-separated words with sentence boundaries marked.
type Document struct {
	Words []string
	ends  []bool
}

func NewDocument(script string) *Document {
	words := strings.Fields(script)
	ends := make([]bool, len(words))
	for i, w := range words {
		ends[i] = endsSentence(w)
	}
	if len(ends) > 0 {
		ends[len(ends)-1] = true
	}
	return &Document{Words: words, ends: ends}
}

func endsSentence(word string) bool {
	w := strings.TrimRight(word, "\"'”’)]*_")
	if w == "" {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(w)
	switch r {
	case '.', '!', '?', '…':
		return true
	}
	return false
}

// IsSentenceEnd reports whether word i closes a sentence.
func (d *Document) IsSentenceEnd(i int) bool {
	return i >= 0 && i < len(d.ends) && d.ends[i]
}

// Sentences returns one span per sentence in order.
func (d *Document) Sentences() []Span {
	var out []Span
	start := 0
	for i := range d.Words {
		if d.ends[i] {
			out = append(out, Span{Start: start, End: i + 1})
			start = i + 1
		}
	}
	return out
}

func (d *Document) Text(s Span) string {
	return strings.Join(d.Words[s.Start:s.End], " ")
}

func (d *Document) CharLen(s Span) int {
	return utf8.RuneCountInString(d.Text(s))
}

// EstimateDuration converts a word count into seconds of speech.
func EstimateDuration(words int) float64 {
	return float64(words) / WordsPerSecond
}
