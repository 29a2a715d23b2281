package transcribe

import (
	"fmt"
	"strings"
)

// Word is a single recognized word with its time range in seconds.
type Word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Segment is a time-aligned stretch of recognized text.
type Segment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
	Words []Word  `json:"words,omitempty"`
}

// Result is the canonical transcription schema returned to clients.
//
// Enhancement only rewrites FullText. Segment texts keep the recognizer's
// wording so their time ranges stay valid; RawText holds the unenhanced
// joined text for clients that need to map the two.
type Result struct {
	FullText       string    `json:"text"`
	RawText        string    `json:"raw_text,omitempty"`
	Enhanced       bool      `json:"enhanced"`
	Language       string    `json:"language"`
	Model          ModelSize `json:"model"`
	WordTimestamps bool      `json:"word_timestamps"`
	Segments       []Segment `json:"segments"`
}

// Clone returns a deep copy of r.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	c := *r
	c.Segments = make([]Segment, len(r.Segments))
	for i, s := range r.Segments {
		s.Words = append([]Word(nil), s.Words...)
		c.Segments[i] = s
	}
	return &c
}

// Words returns every word in timeline order.
func (r *Result) Words() []Word {
	var out []Word
	for _, s := range r.Segments {
		out = append(out, s.Words...)
	}
	return out
}

// WordRange returns the time span covering words first through last
// (inclusive, indexes into Words).
func (r *Result) WordRange(first, last int) (start, end float64, err error) {
	words := r.Words()
	if len(words) == 0 {
		return 0, 0, fmt.Errorf("%w: transcript has no word timestamps", ErrWordRange)
	}
	if first < 0 || last >= len(words) || first > last {
		return 0, 0, fmt.Errorf("%w: [%d, %d] of %d words", ErrWordRange, first, last, len(words))
	}
	return words[first].Start, words[last].End, nil
}

// PlainText renders the transcript for download.
func (r *Result) PlainText() string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(r.FullText))
	b.WriteString("\n")
	return b.String()
}
