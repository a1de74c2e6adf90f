package providers

import (
	"encoding/json"
	"fmt"
)

// --- OpenAI wire types (internal) ---

type openAIResponse struct {
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage *openAIUsage `json:"usage"`
}

type openAIMessage struct {
	Content          string           `json:"content"`
	ReasoningContent string           `json:"reasoning_content,omitempty"`
	ToolCalls        []openAIToolCall `json:"tool_calls,omitempty"`
}

type openAIToolCall struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Function struct {
		Name             string `json:"name"`
		Arguments        string `json:"arguments"`
		ThoughtSignature string `json:"thought_signature,omitempty"`
	} `json:"function"`
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta        openAIMessage `json:"delta"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage *openAIUsage `json:"usage"`
}

type openAIUsage struct {
	PromptTokens        int `json:"prompt_tokens"`
	CompletionTokens    int `json:"completion_tokens"`
	TotalTokens         int `json:"total_tokens"`
	PromptTokensDetails *struct {
		CachedTokens int `json:"cached_tokens"`
	} `json:"prompt_tokens_details,omitempty"`
	CompletionTokensDetails *struct {
		ReasoningTokens int `json:"reasoning_tokens"`
	} `json:"completion_tokens_details,omitempty"`
}

// toolCallAccumulator collects a streamed tool call; arguments arrive as
// JSON fragments across chunks.
type toolCallAccumulator struct {
	ToolCall
	rawArgs    string
	thoughtSig string
}

// collapseToolCallsWithoutSig rewrites assistant tool_call turns that lack a
// thought_signature into plain text turns, folding the paired tool results
// in after them. Gemini rejects tool_calls echoed back without signatures.
func collapseToolCallsWithoutSig(messages []Message) []Message {
	out := make([]Message, 0, len(messages))
	for i := 0; i < len(messages); i++ {
		m := messages[i]
		if m.Role != "assistant" || len(m.ToolCalls) == 0 || allHaveSignatures(m.ToolCalls) {
			out = append(out, m)
			continue
		}

		content := m.Content
		for _, tc := range m.ToolCalls {
			argsJSON, _ := json.Marshal(tc.Arguments)
			content += fmt.Sprintf("\n[called %s(%s)]", tc.Name, string(argsJSON))
		}
		// Fold the tool result messages that answer these calls.
		for i+1 < len(messages) && messages[i+1].Role == "tool" {
			i++
			content += fmt.Sprintf("\n[%s returned: %s]", messages[i].ToolCallID, messages[i].Content)
		}
		out = append(out, Message{Role: "assistant", Content: content})
	}
	return out
}

func allHaveSignatures(calls []ToolCall) bool {
	for _, tc := range calls {
		if tc.Metadata["thought_signature"] == "" {
			return false
		}
	}
	return true
}
