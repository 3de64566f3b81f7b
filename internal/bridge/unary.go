package bridge

// ChatJSONToResponses converts a single Chat Completions JSON response
// document into a Responses JSON response document, for callers that did
// not request streaming against a Chat upstream.
func ChatJSONToResponses(chatResp JSON, responseID string) JSON {
	output := []any{}

	choices, _ := chatResp["choices"].([]any)
	if len(choices) > 0 {
		choice, _ := choices[0].(JSON)
		message, _ := choice["message"].(JSON)

		if text := flattenOutput(message["content"]); trimmed(text) != "" {
			output = append(output, JSON{
				"type": "message",
				"role": "assistant",
				"content": []any{
					JSON{"type": "output_text", "text": text},
				},
			})
		}

		if toolCalls, ok := message["tool_calls"].([]any); ok {
			for _, raw := range toolCalls {
				tc, ok := raw.(JSON)
				if !ok {
					continue
				}
				fn, _ := tc["function"].(JSON)
				name, _ := fn["name"].(string)
				if name == "" {
					name = "unknown_function"
				}
				args := coerceToArgumentString(fn["arguments"])
				if args == "" {
					args = "{}"
				}
				callID, _ := tc["id"].(string)
				if callID == "" {
					callID = NewCallID()
				}
				output = append(output, JSON{
					"type":      "function_call",
					"name":      name,
					"arguments": args,
					"call_id":   callID,
				})
			}
		}
	}

	var usageJSON any
	if rawUsage, ok := chatResp["usage"].(JSON); ok {
		usageJSON = JSON{
			"input_tokens":          asInt(rawUsage["prompt_tokens"]),
			"input_tokens_details":  nil,
			"output_tokens":         asInt(rawUsage["completion_tokens"]),
			"output_tokens_details": nil,
			"total_tokens":          asInt(rawUsage["total_tokens"]),
		}
	}

	return JSON{
		"id":     responseID,
		"object": "response",
		"status": "completed",
		"output": output,
		"usage":  usageJSON,
	}
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}
