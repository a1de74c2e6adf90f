package executor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// The agent emits one JSON object per stdout line. The parser folds those
// events into typed marker chunks the UI reconstructs tool timelines from.
// Markers:
//
//	@@PROMPT@@\n<task>\n@@END@@\n      the task prompt, written at spawn
//	@@TEXT@@\n<text>\n@@END@@\n        assistant prose
//	@@TOOL:<name>@@\n                  a tool invocation, followed by
//	@@CMD:<arg>@@\n or @@FILE:<path>@@\n depending on the tool
//	@@OUTPUT@@\n<text>\n@@END@@\n      a tool result
//	@@STDERR@@\n<text>                 result stderr, inside OUTPUT

// streamEvent is one NDJSON line from the agent.
type streamEvent struct {
	Type    string `json:"type"`
	Message *struct {
		Content []contentBlock `json:"content"`
	} `json:"message,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Delta  *struct {
		Text string `json:"text"`
	} `json:"delta,omitempty"`
	// Conversation id, present on system/init events; recorded for resume.
	SessionID string `json:"session_id,omitempty"`
}

type contentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	Name  string          `json:"name,omitempty"`
	ID    string          `json:"id,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// resultPayload is the object form of a result event.
type resultPayload struct {
	Stdout  string `json:"stdout"`
	Stderr  string `json:"stderr"`
	Output  string `json:"output"`
	Content string `json:"content"`
}

// Parser accumulates partial lines and converts complete NDJSON events
// into marker chunks. Unparseable lines are logged and dropped.
type Parser struct {
	buf string
	// ConversationID is captured from the first event that carries one.
	ConversationID string
}

// Feed consumes raw stdout bytes and returns the marker chunks produced by
// every newline-terminated event in order.
func (p *Parser) Feed(data string) []string {
	p.buf += data
	var chunks []string
	for {
		line, rest, ok := strings.Cut(p.buf, "\n")
		if !ok {
			break
		}
		p.buf = rest
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if chunk := p.parseLine(line); chunk != "" {
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}

func (p *Parser) parseLine(line string) string {
	var ev streamEvent
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		slog.Debug("dropping unparseable agent line", "error", err, "line", truncate(line, 200))
		return ""
	}
	if ev.SessionID != "" && p.ConversationID == "" {
		p.ConversationID = ev.SessionID
	}

	switch ev.Type {
	case "assistant":
		if ev.Message == nil {
			return ""
		}
		var b strings.Builder
		for _, block := range ev.Message.Content {
			switch block.Type {
			case "text":
				fmt.Fprintf(&b, "@@TEXT@@\n%s\n@@END@@\n", block.Text)
			case "tool_use":
				b.WriteString(toolMarker(block))
			}
		}
		return b.String()

	case "result":
		return resultMarker(ev.Result)

	case "content_block_delta":
		if ev.Delta != nil {
			return ev.Delta.Text
		}
	}
	return ""
}

// toolMarker renders one tool_use block. The argument surfaced depends on
// the tool: commands for Bash, paths for file tools, patterns for search.
func toolMarker(block contentBlock) string {
	var input map[string]any
	if len(block.Input) > 0 {
		json.Unmarshal(block.Input, &input)
	}
	str := func(key string) string {
		s, _ := input[key].(string)
		return s
	}

	switch block.Name {
	case "Bash":
		return fmt.Sprintf("@@TOOL:Bash@@\n@@CMD:%s@@\n", str("command"))
	case "Write", "Edit", "Read":
		return fmt.Sprintf("@@TOOL:%s@@\n@@FILE:%s@@\n", block.Name, str("file_path"))
	case "Glob", "Grep":
		return fmt.Sprintf("@@TOOL:%s@@\n@@CMD:%s@@\n", block.Name, str("pattern"))
	case "WebSearch", "WebFetch", "Task":
		arg := str("query")
		if arg == "" {
			arg = str("url")
		}
		if arg == "" {
			arg = str("description")
		}
		if arg == "" {
			arg = str("prompt")
		}
		return fmt.Sprintf("@@TOOL:%s@@\n@@CMD:%s@@\n", block.Name, truncate(arg, 100))
	default:
		return fmt.Sprintf("@@TOOL:%s@@\n", block.Name)
	}
}

// resultMarker renders a result event. String results pass through;
// object results prefer stdout (with stderr attached), then output, then a
// bounded slice of content.
func resultMarker(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return fmt.Sprintf("@@OUTPUT@@\n%s\n@@END@@\n", asString)
	}

	var payload resultPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ""
	}
	switch {
	case payload.Stdout != "":
		text := payload.Stdout
		if payload.Stderr != "" {
			text += "\n@@STDERR@@\n" + payload.Stderr
		}
		return fmt.Sprintf("@@OUTPUT@@\n%s\n@@END@@\n", text)
	case payload.Output != "":
		return fmt.Sprintf("@@OUTPUT@@\n%s\n@@END@@\n", payload.Output)
	case payload.Content != "":
		text := payload.Content
		if len(text) > 500 {
			text = text[:500] + "... (truncated)"
		}
		return fmt.Sprintf("@@OUTPUT@@\n%s\n@@END@@\n", text)
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// PromptMarker is the chunk written at spawn so the task survives in the
// output stream.
func PromptMarker(task string) string {
	return fmt.Sprintf("@@PROMPT@@\n%s\n@@END@@\n", task)
}
