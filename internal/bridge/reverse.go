package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// StreamResponsesToChat consumes a Responses-API SSE body and re-emits it
// as Chat Completions SSE chunks, for the combination of a Chat-speaking
// caller against a Responses-speaking upstream. This direction has no
// upstream-native named transcoder in the core three subsystems; it is
// built symmetrically to StreamChatToResponses using the same named-event
// parsing idiom the upstream Responses client uses.
func StreamResponsesToChat(ctx context.Context, body io.Reader, w io.Writer, flush func() error) error {
	parser := &SSEParser{}
	var currentEvent string
	var sawToolCall bool

	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		n, readErr := body.Read(buf)
		if n > 0 {
			for _, line := range splitLines(string(buf[:n]), parser) {
				if name, ok := strings.CutPrefix(line, "event:"); ok {
					currentEvent = strings.TrimSpace(name)
					continue
				}
				if currentEvent == "" {
					continue
				}
				payload := line
				toolCall, err := handleResponsesEvent(currentEvent, payload, sawToolCall, w)
				if err != nil {
					return err
				}
				sawToolCall = sawToolCall || toolCall
				currentEvent = ""
				if flush != nil {
					flush()
				}
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return nil
			}
			finish := chatFinishChunk(sawToolCall, "upstream_stream_error")
			data, _ := json.Marshal(finish)
			fmt.Fprintf(w, "data: %s\n\n", data)
			fmt.Fprint(w, "data: [DONE]\n\n")
			if flush != nil {
				flush()
			}
			return readErr
		}
	}
}

// StreamChatPassthrough forwards upstream Chat Completions SSE bytes
// unchanged, for a Chat-speaking caller against a Chat-speaking upstream.
// On a read error mid-stream it synthesizes a finish-reason chunk plus
// [DONE], since a Chat caller expects the stream to terminate with both
// regardless of how it ended upstream.
func StreamChatPassthrough(ctx context.Context, body io.Reader, w io.Writer, flush func() error) error {
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
			finish := chatFinishChunk(false, "upstream_stream_error")
			data, _ := json.Marshal(finish)
			fmt.Fprintf(w, "data: %s\n\n", data)
			fmt.Fprint(w, "data: [DONE]\n\n")
			if flush != nil {
				flush()
			}
			return readErr
		}
	}
}

// splitLines feeds raw into the event-line splitter shared with the
// outgoing SSE parser, but returns the event/data line text itself rather
// than pre-joined data: payloads, since this caller needs to see "event:"
// lines too.
func splitLines(raw string, p *SSEParser) []string {
	p.buffer.WriteString(raw)
	buf := p.buffer.String()
	p.buffer.Reset()

	var lines []string
	for {
		idx := strings.IndexByte(buf, '\n')
		if idx < 0 {
			break
		}
		l := strings.TrimSuffix(buf[:idx], "\r")
		buf = buf[idx+1:]
		if l == "" {
			continue
		}
		lines = append(lines, l)
	}
	p.buffer.WriteString(buf)
	return lines
}

func handleResponsesEvent(eventName, line string, sawToolCall bool, w io.Writer) (bool, error) {
	data, ok := strings.CutPrefix(line, "data:")
	if !ok {
		return false, nil
	}
	data = strings.TrimPrefix(data, " ")

	switch eventName {
	case "response.output_text.delta":
		var payload struct {
			Delta string `json:"delta"`
		}
		if json.Unmarshal([]byte(data), &payload) != nil {
			return false, nil
		}
		chunk := JSON{
			"choices": []any{
				JSON{"delta": JSON{"content": payload.Delta}},
			},
		}
		b, _ := json.Marshal(chunk)
		_, err := fmt.Fprintf(w, "data: %s\n\n", b)
		return false, err

	case "response.output_item.done":
		var payload struct {
			Item JSON `json:"item"`
		}
		if json.Unmarshal([]byte(data), &payload) != nil {
			return false, nil
		}
		if typ, _ := payload.Item["type"].(string); typ == "function_call" {
			name, _ := payload.Item["name"].(string)
			args, _ := payload.Item["arguments"].(string)
			callID, _ := payload.Item["call_id"].(string)
			chunk := JSON{
				"choices": []any{
					JSON{"delta": JSON{
						"tool_calls": []any{
							JSON{
								"index": 0,
								"id":    callID,
								"type":  "function",
								"function": JSON{
									"name":      name,
									"arguments": args,
								},
							},
						},
					}},
				},
			}
			b, _ := json.Marshal(chunk)
			_, err := fmt.Fprintf(w, "data: %s\n\n", b)
			return true, err
		}
		return false, nil

	case "response.completed":
		var payload struct {
			Response struct {
				Usage *JSON `json:"usage"`
			} `json:"response"`
		}
		json.Unmarshal([]byte(data), &payload)
		chunk := chatFinishChunk(sawToolCall, "stop")
		if payload.Response.Usage != nil {
			chunk["usage"] = chatUsageFromResponses(*payload.Response.Usage)
		}
		b, _ := json.Marshal(chunk)
		if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
			return false, err
		}
		_, err := fmt.Fprint(w, "data: [DONE]\n\n")
		return false, err

	case "response.failed":
		chunk := chatFinishChunk(false, "upstream_error")
		b, _ := json.Marshal(chunk)
		if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
			return false, err
		}
		_, err := fmt.Fprint(w, "data: [DONE]\n\n")
		return false, err
	}
	return false, nil
}

func chatFinishChunk(sawToolCall bool, reason string) JSON {
	finishReason := "stop"
	if sawToolCall {
		finishReason = "tool_calls"
	}
	_ = reason
	return JSON{
		"choices": []any{
			JSON{"delta": JSON{}, "finish_reason": finishReason},
		},
	}
}

func chatUsageFromResponses(usage JSON) JSON {
	return JSON{
		"prompt_tokens":     asInt(usage["input_tokens"]),
		"completion_tokens": asInt(usage["output_tokens"]),
		"total_tokens":      asInt(usage["total_tokens"]),
	}
}

// ResponsesJSONToChat converts a single Responses JSON response document
// into a Chat Completions JSON response document, the unary counterpart of
// StreamResponsesToChat.
func ResponsesJSONToChat(resp JSON) JSON {
	content := ""
	var toolCalls []any

	if output, ok := resp["output"].([]any); ok {
		for _, raw := range output {
			item, ok := raw.(JSON)
			if !ok {
				continue
			}
			switch item["type"] {
			case "message":
				if parts, ok := item["content"].([]any); ok {
					content = flattenContentParts(parts)
				}
			case "function_call":
				name, _ := item["name"].(string)
				args, _ := item["arguments"].(string)
				callID, _ := item["call_id"].(string)
				toolCalls = append(toolCalls, JSON{
					"id":   callID,
					"type": "function",
					"function": JSON{
						"name":      name,
						"arguments": args,
					},
				})
			}
		}
	}

	message := JSON{"role": "assistant", "content": content}
	finishReason := "stop"
	if len(toolCalls) > 0 {
		message["tool_calls"] = toolCalls
		finishReason = "tool_calls"
	}

	out := JSON{
		"choices": []any{
			JSON{
				"index":         0,
				"message":       message,
				"finish_reason": finishReason,
			},
		},
	}
	if usage, ok := resp["usage"].(JSON); ok {
		out["usage"] = chatUsageFromResponses(usage)
	}
	return out
}
