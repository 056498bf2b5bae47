package translator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"doctrans/internal/glossary"

	"github.com/sashabaranov/go-openai"
)

var translateSystemPrompt = `You are a professional technical translator for engineering standards and manuals. Translate the user's text from English to Simplified Chinese.

Rules:
- Preserve the structure of the input exactly: keep line breaks, "##" heading markers, list markers, "|" table separators and indentation where they appear.
- A MANDATORY TERMINOLOGY list may be provided. Every listed source term MUST be rendered with its listed target term, every time it occurs.
- Do not add explanations, notes, or any text that is not the translation.
- If you encounter a recurring technical term that is NOT in the terminology list, report it in "new_terms".

Respond in this exact JSON format:
{
  "translation": "译文",
  "new_terms": ["term one", "term two"]
}

Leave "new_terms" as an empty array when there is nothing to report.`

// OpenAIEngine performs the remote translation call through the OpenAI chat
// completions API. Clients are cached per credential so key rotation does
// not rebuild transports on every attempt.
type OpenAIEngine struct {
	Model string

	mu      sync.Mutex
	clients map[string]*openai.Client
}

func NewOpenAIEngine(model string) *OpenAIEngine {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIEngine{Model: model, clients: make(map[string]*openai.Client)}
}

func (e *OpenAIEngine) client(apiKey string) *openai.Client {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.clients[apiKey]; ok {
		return c
	}
	c := openai.NewClient(apiKey)
	e.clients[apiKey] = c
	return c
}

func (e *OpenAIEngine) Translate(ctx context.Context, apiKey, text string, terms []glossary.Match) (Result, error) {
	userPrompt := text
	if len(terms) > 0 {
		var b strings.Builder
		b.WriteString("MANDATORY TERMINOLOGY:\n")
		for _, m := range terms {
			fmt.Fprintf(&b, "- %s => %s\n", m.English, m.Chinese)
		}
		b.WriteString("\nTEXT:\n")
		b.WriteString(text)
		userPrompt = b.String()
	}

	resp, err := e.client(apiKey).CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: translateSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		Temperature:    0.1,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		return Result{}, err
	}
	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("openai empty response")
	}

	return parseResult(resp.Choices[0].Message.Content)
}

// parseResult extracts the structured result from the model output. If the
// JSON cannot be parsed, the raw text is taken as the translation so a
// slightly malformed response never fails the chunk.
func parseResult(raw string) (Result, error) {
	raw = strings.TrimPrefix(raw, "```json\n")
	raw = strings.TrimPrefix(raw, "```\n")
	raw = strings.Split(raw, "```")[0]
	raw = strings.TrimSpace(raw)

	var res Result
	if err := json.Unmarshal([]byte(raw), &res); err != nil || strings.TrimSpace(res.Translation) == "" {
		return Result{Translation: raw}, nil
	}
	return res, nil
}
