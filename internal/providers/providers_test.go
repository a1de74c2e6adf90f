package providers

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryDo_StopsOnClientError(t *testing.T) {
	calls := 0
	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	_, err := RetryDo(context.Background(), cfg, func() (string, error) {
		calls++
		return "", &HTTPError{Status: 400, Body: "bad request"}
	})
	if err == nil {
		t.Fatal("want error")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 for non-retryable status", calls)
	}
}

func TestRetryDo_RetriesRateLimitThenSucceeds(t *testing.T) {
	calls := 0
	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	got, err := RetryDo(context.Background(), cfg, func() (string, error) {
		calls++
		if calls < 3 {
			return "", &HTTPError{Status: 429, Body: "slow down"}
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if got != "ok" || calls != 3 {
		t.Fatalf("got %q after %d calls", got, calls)
	}
}

func TestRetryDo_ContextCancelNotRetried(t *testing.T) {
	calls := 0
	cfg := RetryConfig{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	_, err := RetryDo(context.Background(), cfg, func() (int, error) {
		calls++
		return 0, context.Canceled
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		header string
		want   time.Duration
	}{
		{"", 0},
		{"5", 5 * time.Second},
		{"-1", 0},
		{"Wed, 21 Oct 2026 07:28:00 GMT", 0},
	}
	for _, tc := range tests {
		if got := ParseRetryAfter(tc.header); got != tc.want {
			t.Errorf("ParseRetryAfter(%q) = %v, want %v", tc.header, got, tc.want)
		}
	}
}

func TestCleanSchemaForProvider_StripsRecursively(t *testing.T) {
	schema := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]interface{}{
			"name": map[string]interface{}{
				"type":    "string",
				"default": "x",
			},
		},
	}
	got := CleanSchemaForProvider("anthropic", schema)
	if _, ok := got["additionalProperties"]; ok {
		t.Fatal("additionalProperties not stripped")
	}
	inner := got["properties"].(map[string]interface{})["name"].(map[string]interface{})
	if _, ok := inner["default"]; ok {
		t.Fatal("nested default not stripped")
	}
	if inner["type"] != "string" {
		t.Fatalf("inner type = %v", inner["type"])
	}
	// Original untouched.
	if _, ok := schema["additionalProperties"]; !ok {
		t.Fatal("input schema was mutated")
	}
}

func TestCollapseToolCallsWithoutSig(t *testing.T) {
	msgs := []Message{
		{Role: "user", Content: "status?"},
		{Role: "assistant", ToolCalls: []ToolCall{{ID: "c1", Name: "CHECK_STATUS", Arguments: map[string]interface{}{}}}},
		{Role: "tool", ToolCallID: "c1", Content: "all clear"},
	}
	got := collapseToolCallsWithoutSig(msgs)
	if len(got) != 2 {
		t.Fatalf("messages = %d, want tool turn folded", len(got))
	}
	if got[1].Role != "assistant" || len(got[1].ToolCalls) != 0 {
		t.Fatalf("collapsed turn = %+v", got[1])
	}
}

func TestCollapseToolCallsWithSigKept(t *testing.T) {
	msgs := []Message{
		{Role: "assistant", ToolCalls: []ToolCall{{
			ID: "c1", Name: "CHECK_STATUS",
			Metadata: map[string]string{"thought_signature": "sig"},
		}}},
		{Role: "tool", ToolCallID: "c1", Content: "ok"},
	}
	got := collapseToolCallsWithoutSig(msgs)
	if len(got) != 2 || len(got[0].ToolCalls) != 1 {
		t.Fatalf("signed tool calls must pass through, got %+v", got)
	}
}
