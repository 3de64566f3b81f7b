package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatJSONToResponses_TextAndUsage(t *testing.T) {
	chatResp := JSON{
		"choices": []any{
			JSON{"message": JSON{"role": "assistant", "content": "Hi"}},
		},
		"usage": JSON{"prompt_tokens": 1.0, "completion_tokens": 2.0, "total_tokens": 3.0},
	}

	out := ChatJSONToResponses(chatResp, "resp_bridge_test")
	assert.Equal(t, "resp_bridge_test", out["id"])
	assert.Equal(t, "completed", out["status"])

	output := out["output"].([]any)
	require.Len(t, output, 1)
	item := output[0].(JSON)
	assert.Equal(t, "message", item["type"])
	content := item["content"].([]any)
	assert.Equal(t, "Hi", content[0].(JSON)["text"])

	usage := out["usage"].(JSON)
	assert.Equal(t, 1, usage["input_tokens"])
	assert.Equal(t, 2, usage["output_tokens"])
	assert.Equal(t, 3, usage["total_tokens"])
}

func TestChatJSONToResponses_ToolCalls(t *testing.T) {
	chatResp := JSON{
		"choices": []any{
			JSON{"message": JSON{
				"role":    "assistant",
				"content": "",
				"tool_calls": []any{
					JSON{"id": "call_x", "function": JSON{"name": "f", "arguments": `{"a":1}`}},
				},
			}},
		},
	}

	out := ChatJSONToResponses(chatResp, "resp_bridge_test")
	output := out["output"].([]any)
	require.Len(t, output, 1)
	item := output[0].(JSON)
	assert.Equal(t, "function_call", item["type"])
	assert.Equal(t, "f", item["name"])
	assert.Equal(t, "call_x", item["call_id"])
	assert.Equal(t, `{"a":1}`, item["arguments"])
}

func TestChatJSONToResponses_MissingNameDefaults(t *testing.T) {
	chatResp := JSON{
		"choices": []any{
			JSON{"message": JSON{
				"tool_calls": []any{
					JSON{"function": JSON{}},
				},
			}},
		},
	}
	out := ChatJSONToResponses(chatResp, "resp_bridge_test")
	item := out["output"].([]any)[0].(JSON)
	assert.Equal(t, "unknown_function", item["name"])
	assert.Equal(t, "{}", item["arguments"])
}

func TestResponsesJSONToChat_MessageAndFunctionCall(t *testing.T) {
	resp := JSON{
		"output": []any{
			JSON{"type": "message", "content": []any{JSON{"type": "output_text", "text": "hi"}}},
			JSON{"type": "function_call", "name": "f", "arguments": "{}", "call_id": "call_x"},
		},
		"usage": JSON{"input_tokens": 1.0, "output_tokens": 2.0, "total_tokens": 3.0},
	}

	out := ResponsesJSONToChat(resp)
	choice := out["choices"].([]any)[0].(JSON)
	message := choice["message"].(JSON)
	assert.Equal(t, "hi", message["content"])
	assert.Equal(t, "tool_calls", choice["finish_reason"])

	toolCalls := message["tool_calls"].([]any)
	require.Len(t, toolCalls, 1)
	tc := toolCalls[0].(JSON)
	assert.Equal(t, "call_x", tc["id"])

	usage := out["usage"].(JSON)
	assert.Equal(t, 1, usage["prompt_tokens"])
}
