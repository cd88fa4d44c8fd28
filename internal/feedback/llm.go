package feedback

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/voxmetra/voxmetra/pkg/types"
)

const phrasingSystemPrompt = `You are a supportive speech coach. You receive
a speaker's session metrics and a list of tips. Rewrite the tips as two or
three short, encouraging sentences addressed directly to the speaker. Keep
every concrete number from the tips. One sentence per line, no bullets, no
preamble.`

// LLMPhraser implements [Phraser] on top of github.com/mozilla-ai/any-llm-go,
// so any of its supported backends (OpenAI, Anthropic, Gemini, Ollama, ...)
// can phrase the feedback.
type LLMPhraser struct {
	backend anyllmlib.Provider
	model   string
}

var _ Phraser = (*LLMPhraser)(nil)

// NewLLMPhraser creates a phraser backed by the named provider.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama",
// "deepseek", "mistral", "groq", "llamacpp", "llamafile". Without an API-key
// option the backend falls back to its usual environment variable.
func NewLLMPhraser(providerName, model string, opts ...anyllmlib.Option) (*LLMPhraser, error) {
	if providerName == "" {
		return nil, fmt.Errorf("feedback: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("feedback: model must not be empty")
	}

	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("feedback: create %q backend: %w", providerName, err)
	}
	return &LLMPhraser{backend: backend, model: model}, nil
}

func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", providerName)
	}
}

// Phrase implements [Phraser].
func (p *LLMPhraser) Phrase(ctx context.Context, metrics types.SpeechMetrics, tips []Tip) ([]string, error) {
	params := anyllmlib.CompletionParams{
		Model: p.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: phrasingSystemPrompt},
			{Role: anyllmlib.RoleUser, Content: buildPrompt(metrics, tips)},
		},
	}
	temperature := 0.7
	params.Temperature = &temperature
	maxTokens := 300
	params.MaxTokens = &maxTokens

	resp, err := p.backend.Completion(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("feedback: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("feedback: empty choices in response")
	}

	sentences := splitSentences(resp.Choices[0].Message.ContentString())
	if len(sentences) == 0 {
		return nil, fmt.Errorf("feedback: empty completion")
	}
	return sentences, nil
}

// buildPrompt renders the session facts and tips for the user message.
func buildPrompt(metrics types.SpeechMetrics, tips []Tip) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session: %d words in %.0f seconds", metrics.WordCount, metrics.DurationSeconds)
	if metrics.WordsPerMinute != nil {
		fmt.Fprintf(&b, ", %.0f words per minute", *metrics.WordsPerMinute)
	}
	fmt.Fprintf(&b, ", clarity %.0f/100.\n\nTips:\n", metrics.ClarityScore)
	for _, tip := range tips {
		fmt.Fprintf(&b, "- %s\n", tip.Message)
	}
	return b.String()
}

// splitSentences turns the completion into one string per non-empty line,
// stripping any bullet or numbering the model added anyway.
func splitSentences(content string) []string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*•0123456789. ")
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
