package llm

import "context"

// Collect drains a Provider's streamed response into a single text blob and
// any tool calls the model requested. Drivers that don't need per-token
// commentary (plan generation, synthesis, moderator decisions) use this
// instead of consuming the channel themselves.
func Collect(ctx context.Context, p Provider, req *CompletionRequest) (text string, calls []ToolCall, inputTokens, outputTokens int, err error) {
	stream, err := p.Complete(ctx, req)
	if err != nil {
		return "", nil, 0, 0, err
	}

	for chunk := range stream {
		if chunk.Error != nil {
			return text, calls, inputTokens, outputTokens, chunk.Error
		}
		if chunk.Text != "" {
			text += chunk.Text
		}
		if chunk.ToolCall != nil {
			calls = append(calls, *chunk.ToolCall)
		}
		inputTokens += chunk.InputTokens
		outputTokens += chunk.OutputTokens
	}

	return text, calls, inputTokens, outputTokens, nil
}
