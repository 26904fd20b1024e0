// Package llmclient wraps anthropic-sdk-go for the Chunker's
// situating-context calls (spec §4.4), exposing just enough surface to
// issue a cacheable system-prefixed completion and report token usage
// for the Rate Governor.
package llmclient

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Usage mirrors the subset of Anthropic's usage block the rate
// governor and cost accounting care about.
type Usage struct {
	InputTokens              int
	OutputTokens             int
	CacheCreationInputTokens int
	CacheReadInputTokens     int
}

// Client issues situating-context completions against a document-level
// cacheable system prompt.
type Client struct {
	api   anthropic.Client
	model anthropic.Model
}

// New builds a Client from an API key and model name.
func New(apiKey string, model anthropic.Model) *Client {
	return &Client{
		api:   anthropic.NewClient(option.WithAPIKey(apiKey)),
		model: model,
	}
}

// SituateChunk asks the model for a 1-2 sentence chunk-situating
// context string, given the whole document as a cacheable system
// block and the chunk as the user turn (spec §4.4, Anthropic's
// contextual retrieval pattern). cacheSystem should be identical
// across calls for the same document so Anthropic's prompt cache is
// hit on every chunk after the first.
func (c *Client) SituateChunk(ctx context.Context, cacheSystem, chunkText string) (string, Usage, error) {
	resp, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 100,
		System: []anthropic.TextBlockParam{
			{
				Text: cacheSystem,
				CacheControl: anthropic.CacheControlEphemeralParam{
					Type: "ephemeral",
				},
			},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(situatingPrompt(chunkText))),
		},
	})
	if err != nil {
		return "", Usage{}, fmt.Errorf("llmclient: situate chunk: %w", err)
	}

	usage := Usage{
		InputTokens:              int(resp.Usage.InputTokens),
		OutputTokens:             int(resp.Usage.OutputTokens),
		CacheCreationInputTokens: int(resp.Usage.CacheCreationInputTokens),
		CacheReadInputTokens:     int(resp.Usage.CacheReadInputTokens),
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return text, usage, nil
}

func situatingPrompt(chunkText string) string {
	return fmt.Sprintf(
		"Here is the chunk we want to situate within the whole document:\n<chunk>\n%s\n</chunk>\n\n"+
			"Please give a short succinct context to situate this chunk within the overall document "+
			"for the purposes of improving search retrieval of the chunk. Answer only with the succinct context and nothing else.",
		chunkText,
	)
}
