// Package bridge implements the protocol translation between the
// Responses wire schema and the Chat Completions wire schema: a line-
// oriented SSE parser, bidirectional request transcoders operating on
// untyped JSON trees, a streaming transcoder with its own per-request
// accumulator, and a unary transcoder for non-streaming callers.
//
// Request and response bodies are kept as map[string]any / []any rather
// than typed structs because both wire schemas carry forward-compatible
// fields (new content-part types, new tool-output shapes) that must pass
// through untouched; a typed struct would silently drop them on re-encode.
package bridge

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

// JSON is a parsed request or response body. Both wire schemas are
// represented this way at the transcoder boundary so unrecognized fields
// survive a round trip unchanged.
type JSON = map[string]any

// FilterTools drops every tools[] entry whose type is in dropTypes,
// mutating req in place. If the resulting tools sequence is empty, it
// also removes tool_choice, per the empty-tools cleanup invariant.
func FilterTools(req JSON, dropTypes map[string]bool) {
	if len(dropTypes) == 0 {
		return
	}
	rawTools, ok := req["tools"].([]any)
	if !ok {
		return
	}
	kept := rawTools[:0]
	for _, t := range rawTools {
		tool, ok := t.(JSON)
		if !ok {
			kept = append(kept, t)
			continue
		}
		typ, _ := tool["type"].(string)
		if dropTypes[typ] {
			continue
		}
		kept = append(kept, t)
	}
	req["tools"] = kept
	if len(kept) == 0 {
		delete(req, "tools")
		delete(req, "tool_choice")
	}
}

// ResponsesToChat builds a Chat Completions request body from a Responses
// request body. stream is the mode already chosen by the dispatcher for
// this request; it always wins over whatever the caller sent.
func ResponsesToChat(req JSON, stream bool) (JSON, error) {
	model, _ := req["model"].(string)
	if model == "" {
		return nil, NewInvalidRequestError("missing `model`")
	}
	inputItems, ok := req["input"].([]any)
	if !ok {
		return nil, NewInvalidRequestError("missing `input` array")
	}

	messages := []any{}

	if instructions, _ := req["instructions"].(string); trimmed(instructions) != "" {
		messages = append(messages, JSON{"role": "system", "content": instructions})
	}

	for _, raw := range inputItems {
		item, ok := raw.(JSON)
		if !ok {
			continue
		}
		itemType, _ := item["type"].(string)
		switch itemType {
		case "message":
			role, _ := item["role"].(string)
			if role == "" {
				role = "user"
			}
			parts, _ := item["content"].([]any)
			text := flattenContentParts(parts)
			if trimmed(text) == "" {
				continue
			}
			messages = append(messages, JSON{"role": role, "content": text})

		case "function_call":
			name, _ := item["name"].(string)
			if name == "" {
				slog.Warn("skipping function_call input item with empty name")
				continue
			}
			callID, _ := item["call_id"].(string)
			if callID == "" {
				callID = NewCallID()
			}
			args := coerceToArgumentString(item["arguments"])
			messages = append(messages, JSON{
				"role":    "assistant",
				"content": "",
				"tool_calls": []any{
					JSON{
						"id":   callID,
						"type": "function",
						"function": JSON{
							"name":      name,
							"arguments": args,
						},
					},
				},
			})

		case "function_call_output":
			callID, _ := item["call_id"].(string)
			messages = append(messages, JSON{
				"role":         "tool",
				"tool_call_id": callID,
				"content":      flattenOutput(item["output"]),
			})

		case "custom_tool_call_output":
			callID, _ := item["call_id"].(string)
			output, _ := item["output"].(string)
			messages = append(messages, JSON{
				"role":         "tool",
				"tool_call_id": callID,
				"content":      output,
			})

		case "mcp_tool_call_output":
			callID, _ := item["call_id"].(string)
			messages = append(messages, JSON{
				"role":         "tool",
				"tool_call_id": callID,
				"content":      serializeToString(item["result"]),
			})

		default:
			slog.Warn("ignoring unsupported input item type", "type", itemType)
		}
	}

	chatTools := normalizeChatTools(req["tools"])
	chatToolChoice := normalizeToolChoiceToChat(toolChoiceOrDefault(req["tool_choice"]))

	parallelToolCalls := true
	if v, ok := req["parallel_tool_calls"].(bool); ok {
		parallelToolCalls = v
	}

	chat := JSON{
		"model":                model,
		"messages":             messages,
		"stream":               stream,
		"tools":                chatTools,
		"tool_choice":          chatToolChoice,
		"parallel_tool_calls": parallelToolCalls,
	}
	if stream {
		chat["stream_options"] = JSON{"include_usage": true}
	}

	if len(chatTools) == 0 {
		delete(chat, "tools")
		delete(chat, "tool_choice")
	}

	return chat, nil
}

// ChatToResponses builds a Responses request body from a Chat Completions
// request body.
func ChatToResponses(req JSON, stream bool) (JSON, error) {
	model, _ := req["model"].(string)
	if model == "" {
		return nil, NewInvalidRequestError("missing `model`")
	}
	rawMessages, ok := req["messages"].([]any)
	if !ok {
		return nil, NewInvalidRequestError("missing `messages` array")
	}

	input := []any{}
	for _, raw := range rawMessages {
		msg, ok := raw.(JSON)
		if !ok {
			continue
		}
		role, _ := msg["role"].(string)
		if role == "tool" {
			callID, _ := msg["tool_call_id"].(string)
			input = append(input, JSON{
				"type":    "function_call_output",
				"call_id": callID,
				"output":  flattenOutput(msg["content"]),
			})
			continue
		}

		parts := contentToInputTextParts(msg["content"])
		if len(parts) == 0 {
			continue
		}
		input = append(input, JSON{
			"type":    "message",
			"role":    role,
			"content": parts,
		})
	}

	responsesTools := chatToolsToResponses(req["tools"])
	responsesToolChoice := normalizeToolChoiceToResponses(toolChoiceOrDefault(req["tool_choice"]))

	parallelToolCalls := true
	if v, ok := req["parallel_tool_calls"].(bool); ok {
		parallelToolCalls = v
	}

	out := JSON{
		"model":                model,
		"input":                input,
		"stream":               stream,
		"tools":                responsesTools,
		"tool_choice":          responsesToolChoice,
		"parallel_tool_calls": parallelToolCalls,
	}
	if len(responsesTools) == 0 {
		delete(out, "tools")
		delete(out, "tool_choice")
	}
	return out, nil
}

// PassthroughResponses clones a Responses request body, overwriting stream
// to the chosen mode.
func PassthroughResponses(req JSON, stream bool) JSON {
	return clonePassthrough(req, stream)
}

// PassthroughChat clones a Chat request body, overwriting stream to the
// chosen mode.
func PassthroughChat(req JSON, stream bool) JSON {
	return clonePassthrough(req, stream)
}

func clonePassthrough(req JSON, stream bool) JSON {
	out := make(JSON, len(req))
	for k, v := range req {
		out[k] = v
	}
	out["stream"] = stream
	return out
}

// flattenContentParts concatenates the text of input_text/output_text
// content parts, non-empty only, joined by newline.
func flattenContentParts(parts []any) string {
	var joined []string
	for _, raw := range parts {
		part, ok := raw.(JSON)
		if !ok {
			continue
		}
		typ, _ := part["type"].(string)
		if typ != "input_text" && typ != "output_text" {
			continue
		}
		text, _ := part["text"].(string)
		if text == "" {
			continue
		}
		joined = append(joined, text)
	}
	return joinLines(joined)
}

// flattenOutput mirrors flattenContentParts for function_call_output.output:
// a string passes through, an array of content parts is flattened, any
// other JSON value is serialized.
func flattenOutput(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []any:
		return flattenContentParts(val)
	case nil:
		return ""
	default:
		return serializeToString(val)
	}
}

func serializeToString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func coerceToArgumentString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return serializeToString(v)
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}

func trimmed(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// toolChoiceOrDefault returns the incoming tool_choice value, defaulting to
// "auto" when absent.
func toolChoiceOrDefault(v any) any {
	if v == nil {
		return "auto"
	}
	return v
}

// normalizeChatTools wraps Responses-flat function tools into the Chat
// wrapped shape and passes non-function tools and already-wrapped function
// tools through unchanged.
func normalizeChatTools(raw any) []any {
	list, _ := raw.([]any)
	out := make([]any, 0, len(list))
	for _, t := range list {
		tool, ok := t.(JSON)
		if !ok {
			out = append(out, t)
			continue
		}
		if typ, _ := tool["type"].(string); typ != "function" {
			out = append(out, tool)
			continue
		}
		if _, wrapped := tool["function"]; wrapped {
			out = append(out, tool)
			continue
		}
		name, _ := tool["name"].(string)
		if name == "" {
			// A function tool with no name is dropped, not erred.
			continue
		}
		description, _ := tool["description"].(string)
		parameters := tool["parameters"]
		if parameters == nil {
			parameters = JSON{"type": "object", "properties": JSON{}}
		}
		out = append(out, JSON{
			"type": "function",
			"function": JSON{
				"name":        name,
				"description": description,
				"parameters":  parameters,
			},
		})
	}
	return out
}

// chatToolsToResponses is the inverse of normalizeChatTools: it unwraps
// {type:"function", function:{...}} entries into the Responses flat shape
// and passes non-function tools through.
func chatToolsToResponses(raw any) []any {
	list, _ := raw.([]any)
	out := make([]any, 0, len(list))
	for _, t := range list {
		tool, ok := t.(JSON)
		if !ok {
			out = append(out, t)
			continue
		}
		if typ, _ := tool["type"].(string); typ != "function" {
			out = append(out, tool)
			continue
		}
		fn, ok := tool["function"].(JSON)
		if !ok {
			out = append(out, tool)
			continue
		}
		name, _ := fn["name"].(string)
		flat := JSON{
			"type": "function",
			"name": name,
		}
		if desc, ok := fn["description"]; ok {
			flat["description"] = desc
		}
		if params, ok := fn["parameters"]; ok {
			flat["parameters"] = params
		}
		out = append(out, flat)
	}
	return out
}

// normalizeToolChoiceToChat rewraps a bare {type:"function", name} into the
// Chat wrapped {type:"function", function:{name}} shape; passes strings and
// already-wrapped objects through; anything else defaults to "auto".
func normalizeToolChoiceToChat(v any) any {
	if s, ok := v.(string); ok {
		return s
	}
	obj, ok := v.(JSON)
	if !ok {
		return "auto"
	}
	if _, ok := obj["function"]; ok {
		return obj
	}
	if typ, _ := obj["type"].(string); typ == "function" {
		if name, ok := obj["name"].(string); ok {
			return JSON{
				"type":     "function",
				"function": JSON{"name": name},
			}
		}
	}
	return "auto"
}

// normalizeToolChoiceToResponses is the symmetric inverse: a Chat wrapped
// {type:"function", function:{name}} becomes the Responses flat
// {type:"function", name}; everything else passes through verbatim.
func normalizeToolChoiceToResponses(v any) any {
	obj, ok := v.(JSON)
	if !ok {
		return v
	}
	if typ, _ := obj["type"].(string); typ == "function" {
		if fn, ok := obj["function"].(JSON); ok {
			if name, ok := fn["name"].(string); ok {
				return JSON{"type": "function", "name": name}
			}
		}
	}
	return obj
}

// contentToInputTextParts converts a Chat message's content field (string,
// array of typed parts, or any other JSON value) into a sequence of
// Responses input_text parts.
func contentToInputTextParts(content any) []any {
	switch v := content.(type) {
	case string:
		if trimmed(v) == "" {
			return nil
		}
		return []any{JSON{"type": "input_text", "text": v}}
	case []any:
		var out []any
		for _, raw := range v {
			part, ok := raw.(JSON)
			if !ok {
				continue
			}
			text, _ := part["text"].(string)
			if text == "" {
				text, _ = part["content"].(string)
			}
			if text == "" {
				continue
			}
			out = append(out, JSON{"type": "input_text", "text": text})
		}
		return out
	case nil:
		return nil
	default:
		s := serializeToString(v)
		if trimmed(s) == "" {
			return nil
		}
		return []any{JSON{"type": "input_text", "text": s}}
	}
}
