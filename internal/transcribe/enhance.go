package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Enhancer rewrites transcript text for readability. Implementations only
// see plain text and never timestamps.
type Enhancer interface {
	Enhance(ctx context.Context, text string) (string, error)
}

// Enhance returns a copy of r whose FullText has been rewritten by e.
// Segments are left untouched.
func Enhance(ctx context.Context, e Enhancer, r *Result) (*Result, error) {
	out := r.Clone()
	if strings.TrimSpace(r.FullText) == "" {
		return out, nil
	}
	text, err := e.Enhance(ctx, r.FullText)
	if err != nil {
		return nil, fmt.Errorf("enhance transcript: %w", err)
	}
	out.RawText = r.FullText
	out.FullText = text
	out.Enhanced = true
	return out, nil
}

// RuleEnhancer punctuates Portuguese transcripts with fixed rules: sentence
// breaks before connectors, capitalization, terminal punctuation with
// question detection, and spacing cleanup.
type RuleEnhancer struct{}

var (
	connectorPattern = regexp.MustCompile(`(?i)\s+(porque|portanto|então|assim|contudo|todavia|entretanto|porém|mas|e também|além disso)\s+`)
	sentenceEnd      = regexp.MustCompile(`([.!?])\s+`)
	repeatedDots     = regexp.MustCompile(`\.{2,}`)
	spaceBeforePunct = regexp.MustCompile(`\s+([.,;:!?])`)
	percentDot       = regexp.MustCompile(`%\s*\.`)
	percentDotComma  = regexp.MustCompile(`%\.\s*,`)
	questionWords    = regexp.MustCompile(`(?i)(^|[^\p{L}])(quem|qual|quando|onde|como|por que)([^\p{L}]|$)`)
)

// Enhance implements Enhancer.
func (RuleEnhancer) Enhance(_ context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return text, nil
	}

	text = connectorPattern.ReplaceAllStringFunc(text, func(m string) string {
		return ". " + strings.TrimSpace(m) + " "
	})

	var sentences []string
	for _, s := range splitSentences(text) {
		s = repeatedDots.ReplaceAllString(strings.TrimSpace(s), ".")
		if s == "" || s == "." {
			continue
		}
		s = capitalize(s)
		if last, _ := utf8.DecodeLastRuneInString(s); !strings.ContainsRune(".!?", last) {
			if questionWords.MatchString(s) {
				s += "?"
			} else {
				s += "."
			}
		}
		sentences = append(sentences, s)
	}

	out := strings.Join(sentences, " ")
	out = spaceBeforePunct.ReplaceAllString(out, "$1")
	out = collapsePunctuation(out)
	out = percentDot.ReplaceAllString(out, "%.")
	out = percentDotComma.ReplaceAllString(out, "%, ")
	return out, nil
}

// splitSentences breaks text after terminal punctuation followed by whitespace.
func splitSentences(text string) []string {
	var out []string
	last := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(text, -1) {
		out = append(out, text[last:loc[0]+1])
		last = loc[1]
	}
	return append(out, text[last:])
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}

// collapsePunctuation removes immediate repeats of the same punctuation mark.
func collapsePunctuation(s string) string {
	var b strings.Builder
	var prev rune
	for _, r := range s {
		if r == prev && strings.ContainsRune(".,;:!?", r) {
			continue
		}
		b.WriteRune(r)
		prev = r
	}
	return b.String()
}

const enhancerPrompt = "You fix punctuation and capitalization of speech transcripts. " +
	"Keep the original language and every word in its original order. " +
	"Do not summarize, translate or add content. Reply with the corrected text only."

// ChatEnhancer rewrites text with an OpenAI-compatible chat completions API.
type ChatEnhancer struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewChatEnhancer creates a ChatEnhancer for the server at baseURL.
func NewChatEnhancer(baseURL, apiKey, model string) *ChatEnhancer {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &ChatEnhancer{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Enhance implements Enhancer.
func (c *ChatEnhancer) Enhance(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: enhancerPrompt},
			{Role: "user", Content: text},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code: %d, response: %s", resp.StatusCode, string(respBody))
	}

	var result chatResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", errors.New("no choices in response")
	}
	out := strings.TrimSpace(result.Choices[0].Message.Content)
	if out == "" {
		return "", errors.New("empty completion")
	}
	return out, nil
}

// FallbackEnhancer tries Primary and uses Fallback when it fails.
type FallbackEnhancer struct {
	Primary  Enhancer
	Fallback Enhancer
	Logger   *slog.Logger
}

// Enhance implements Enhancer.
func (f *FallbackEnhancer) Enhance(ctx context.Context, text string) (string, error) {
	out, err := f.Primary.Enhance(ctx, text)
	if err == nil {
		return out, nil
	}
	if f.Logger != nil {
		f.Logger.Warn("primary enhancer failed, using fallback",
			slog.String("error", err.Error()),
		)
	}
	return f.Fallback.Enhance(ctx, text)
}
