package bridge

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamResponsesToChat_TextDeltaAndCompletion(t *testing.T) {
	upstream := "event: response.output_text.delta\ndata: {\"delta\":\"hi\"}\n\n" +
		"event: response.completed\ndata: {\"response\":{\"usage\":{\"input_tokens\":1,\"output_tokens\":2,\"total_tokens\":3}}}\n\n"

	var out strings.Builder
	err := StreamResponsesToChat(context.Background(), strings.NewReader(upstream), &out, func() error { return nil })
	require.NoError(t, err)

	rendered := out.String()
	assert.Contains(t, rendered, `"content":"hi"`)
	assert.Contains(t, rendered, `"finish_reason":"stop"`)
	assert.Contains(t, rendered, "[DONE]")
}

func TestStreamResponsesToChat_FunctionCall(t *testing.T) {
	upstream := "event: response.output_item.done\ndata: {\"item\":{\"type\":\"function_call\",\"name\":\"f\",\"arguments\":\"{}\",\"call_id\":\"call_x\"}}\n\n" +
		"event: response.completed\ndata: {\"response\":{}}\n\n"

	var out strings.Builder
	err := StreamResponsesToChat(context.Background(), strings.NewReader(upstream), &out, func() error { return nil })
	require.NoError(t, err)

	rendered := out.String()
	assert.Contains(t, rendered, `"tool_calls"`)
	assert.Contains(t, rendered, `"call_x"`)
	assert.Contains(t, rendered, `"finish_reason":"tool_calls"`)
}

func TestStreamChatPassthrough_ForwardsUnchanged(t *testing.T) {
	upstream := "data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\ndata: [DONE]\n\n"
	var out strings.Builder
	err := StreamChatPassthrough(context.Background(), strings.NewReader(upstream), &out, func() error { return nil })
	require.NoError(t, err)
	assert.Equal(t, upstream, out.String())
}
