package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
)

// EventSink receives the named SSE events the streaming transcoder
// produces, in order. Implementations typically wrap an
// http.ResponseWriter; see internal/server.
type EventSink interface {
	WriteEvent(name string, payload any) error
}

// toolCallEntry mirrors the stream accumulator's per-index tool call
// fragment: an optional id and name plus an accumulating arguments string.
type toolCallEntry struct {
	ID        string
	Name      string
	Arguments string
}

// chatChunk is the subset of a Chat Completions streaming chunk the
// transcoder reads.
type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content   *string `json:"content"`
			ToolCalls []struct {
				Index    *int   `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *chatUsage `json:"usage"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamChatToResponses consumes a Chat Completions SSE body and emits the
// Responses event lifecycle on sink: one response.created, zero-or-more
// output_text.delta bracketed by output_item.added/output_item.done,
// ordered function_call output_item.done events, and exactly one terminal
// response.completed or response.failed.
func StreamChatToResponses(ctx context.Context, body io.Reader, responseID string, sink EventSink) error {
	if err := sink.WriteEvent("response.created", JSON{
		"type":     "response.created",
		"response": JSON{"id": responseID},
	}); err != nil {
		return err
	}

	parser := &SSEParser{}
	toolCalls := map[int]*toolCallEntry{}
	var assistantText string
	var announced bool
	var usage *chatUsage

	buf := make([]byte, 32*1024)

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		n, readErr := body.Read(buf)
		if n > 0 {
			events := parser.Feed(string(buf[:n]))
			for _, payload := range events {
				if payload == "[DONE]" {
					continue
				}
				processed, ok := decodeChatChunk(payload)
				if !ok {
					continue
				}
				if processed.Usage != nil {
					usage = processed.Usage
				}
				for _, choice := range processed.Choices {
					if choice.Delta.Content != nil && *choice.Delta.Content != "" {
						if !announced {
							if err := sink.WriteEvent("response.output_item.added", JSON{
								"type": "response.output_item.added",
								"item": JSON{
									"type": "message",
									"role": "assistant",
									"content": []any{
										JSON{"type": "output_text", "text": ""},
									},
								},
							}); err != nil {
								return err
							}
							announced = true
						}
						assistantText += *choice.Delta.Content
						if err := sink.WriteEvent("response.output_text.delta", JSON{
							"type":  "response.output_text.delta",
							"delta": *choice.Delta.Content,
						}); err != nil {
							return err
						}
					}
					for _, tc := range choice.Delta.ToolCalls {
						index := len(toolCalls)
						if tc.Index != nil {
							index = *tc.Index
						}
						entry, ok := toolCalls[index]
						if !ok {
							entry = &toolCallEntry{}
							toolCalls[index] = entry
						}
						if tc.ID != "" {
							entry.ID = tc.ID
						}
						if tc.Function.Name != "" {
							entry.Name = tc.Function.Name
						}
						if tc.Function.Arguments != "" {
							entry.Arguments += tc.Function.Arguments
						}
					}
				}
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			return sink.WriteEvent("response.failed", JSON{
				"type": "response.failed",
				"response": JSON{
					"id": responseID,
					"error": JSON{
						"code":    string(ErrUpstreamStream),
						"message": readErr.Error(),
					},
				},
			})
		}
	}

	if trailing, ok := parser.Finish(); ok && trailing != "[DONE]" {
		slog.Warn("bridge received trailing SSE payload", "data", trailing)
	}

	if assistantText != "" {
		if err := sink.WriteEvent("response.output_item.done", JSON{
			"type": "response.output_item.done",
			"item": JSON{
				"type": "message",
				"role": "assistant",
				"content": []any{
					JSON{"type": "output_text", "text": assistantText},
				},
			},
		}); err != nil {
			return err
		}
	}

	for _, index := range sortedKeys(toolCalls) {
		entry := toolCalls[index]
		callID := entry.ID
		if callID == "" {
			callID = NewIndexedCallID(index)
		}
		name := entry.Name
		if name == "" {
			name = "unknown_function"
		}
		if err := sink.WriteEvent("response.output_item.done", JSON{
			"type": "response.output_item.done",
			"item": JSON{
				"type":      "function_call",
				"name":      name,
				"arguments": entry.Arguments,
				"call_id":   callID,
			},
		}); err != nil {
			return err
		}
	}

	var usageJSON any
	if usage != nil {
		usageJSON = JSON{
			"input_tokens":         usage.PromptTokens,
			"input_tokens_details": nil,
			"output_tokens":        usage.CompletionTokens,
			"output_tokens_details": nil,
			"total_tokens":         usage.TotalTokens,
		}
	}

	return sink.WriteEvent("response.completed", JSON{
		"type": "response.completed",
		"response": JSON{
			"id":    responseID,
			"usage": usageJSON,
		},
	})
}

// sortedKeys returns the integer keys of m in ascending order, since Go map
// iteration order is unspecified and tool-call emission order is load-
// bearing.
func sortedKeys(m map[int]*toolCallEntry) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

func decodeChatChunk(payload string) (*chatChunk, bool) {
	var c chatChunk
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		slog.Warn("skipping malformed upstream chat chunk", "error", err.Error())
		return nil, false
	}
	return &c, true
}

// StreamResponsesPassthrough forwards upstream Responses SSE bytes
// unchanged. On a read error mid-stream it emits one synthetic
// response.failed event; no response.created is emitted since the
// upstream already produced one.
func StreamResponsesPassthrough(ctx context.Context, body io.Reader, responseID string, w io.Writer, flush func() error) error {
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return err
			}
			if flush != nil {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return nil
			}
			failure := JSON{
				"type": "response.failed",
				"response": JSON{
					"id": responseID,
					"error": JSON{
						"code":    string(ErrUpstreamStream),
						"message": readErr.Error(),
					},
				},
			}
			data, err := json.Marshal(failure)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(w, "event: response.failed\ndata: %s\n\n", data)
			if flush != nil {
				flush()
			}
			return err
		}
	}
}
