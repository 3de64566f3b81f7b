package bridge

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedEvent struct {
	name    string
	payload any
}

type fakeSink struct {
	events []recordedEvent
}

func (f *fakeSink) WriteEvent(name string, payload any) error {
	f.events = append(f.events, recordedEvent{name, payload})
	return nil
}

func (f *fakeSink) names() []string {
	out := make([]string, len(f.events))
	for i, e := range f.events {
		out[i] = e.name
	}
	return out
}

// TestStreamChatToResponses_TextDeltas verifies end-to-end scenario 1 from
// spec.md §8: two text-delta chunks produce the created/added/delta/delta/
// done/completed event sequence with round-tripped text.
func TestStreamChatToResponses_TextDeltas(t *testing.T) {
	upstream := "data: {\"choices\":[{\"delta\":{\"content\":\"He\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"llo\"}}]}\n\n" +
		"data: [DONE]\n\n"

	sink := &fakeSink{}
	err := StreamChatToResponses(context.Background(), strings.NewReader(upstream), "resp_bridge_test", sink)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"response.created",
		"response.output_item.added",
		"response.output_text.delta",
		"response.output_text.delta",
		"response.output_item.done",
		"response.completed",
	}, sink.names())

	var deltas string
	var finalText string
	for _, e := range sink.events {
		switch e.name {
		case "response.output_text.delta":
			deltas += e.payload.(JSON)["delta"].(string)
		case "response.output_item.done":
			item := e.payload.(JSON)["item"].(JSON)
			content := item["content"].([]any)
			finalText = content[0].(JSON)["text"].(string)
		}
	}
	assert.Equal(t, "Hello", deltas)
	assert.Equal(t, deltas, finalText, "concatenated deltas must equal the terminal message text")
}

// TestStreamChatToResponses_ToolCallAggregation verifies scenario 4:
// fragmented tool-call deltas accumulate into one terminal function_call.
func TestStreamChatToResponses_ToolCallAggregation(t *testing.T) {
	upstream := `data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_x","function":{"name":"f"}}]}}]}

data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"a\":"}}]}}]}

data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"1}"}}]}}]}

data: [DONE]

`
	sink := &fakeSink{}
	err := StreamChatToResponses(context.Background(), strings.NewReader(upstream), "resp_bridge_test", sink)
	require.NoError(t, err)

	var item JSON
	for _, e := range sink.events {
		if e.name == "response.output_item.done" {
			item = e.payload.(JSON)["item"].(JSON)
		}
	}
	require.NotNil(t, item)
	assert.Equal(t, "function_call", item["type"])
	assert.Equal(t, "f", item["name"])
	assert.Equal(t, `{"a":1}`, item["arguments"])
	assert.Equal(t, "call_x", item["call_id"])
}

// TestStreamChatToResponses_ToolCallOrdering verifies terminal function_call
// items are emitted in ascending index order regardless of arrival order.
func TestStreamChatToResponses_ToolCallOrdering(t *testing.T) {
	upstream := `data: {"choices":[{"delta":{"tool_calls":[{"index":1,"id":"call_b","function":{"name":"second"}}]}}]}

data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_a","function":{"name":"first"}}]}}]}

data: [DONE]

`
	sink := &fakeSink{}
	err := StreamChatToResponses(context.Background(), strings.NewReader(upstream), "resp_bridge_test", sink)
	require.NoError(t, err)

	var names []string
	for _, e := range sink.events {
		if e.name == "response.output_item.done" {
			names = append(names, e.payload.(JSON)["item"].(JSON)["name"].(string))
		}
	}
	assert.Equal(t, []string{"first", "second"}, names)
}

// TestStreamChatToResponses_MalformedChunkSkipped exercises propagation
// policy from spec.md §7: a decode failure is logged and skipped, not
// terminal.
func TestStreamChatToResponses_MalformedChunkSkipped(t *testing.T) {
	upstream := "data: not json\n\ndata: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\ndata: [DONE]\n\n"
	sink := &fakeSink{}
	err := StreamChatToResponses(context.Background(), strings.NewReader(upstream), "resp_bridge_test", sink)
	require.NoError(t, err)
	assert.Contains(t, sink.names(), "response.completed")
}

// TestStreamChatToResponses_NoTextNoAddedEvent verifies the "added precedes
// any delta" invariant in its negative form: no text at all means neither
// output_item.added nor output_item.done(message) is emitted.
func TestStreamChatToResponses_NoTextNoAddedEvent(t *testing.T) {
	upstream := "data: [DONE]\n\n"
	sink := &fakeSink{}
	err := StreamChatToResponses(context.Background(), strings.NewReader(upstream), "resp_bridge_test", sink)
	require.NoError(t, err)
	assert.Equal(t, []string{"response.created", "response.completed"}, sink.names())
}

// TestStreamChatToResponses_Usage verifies the usage record is carried
// through to the terminal response.completed event.
func TestStreamChatToResponses_Usage(t *testing.T) {
	upstream := `data: {"choices":[{"delta":{"content":"hi"}}],"usage":{"prompt_tokens":1,"completion_tokens":2,"total_tokens":3}}

data: [DONE]

`
	sink := &fakeSink{}
	err := StreamChatToResponses(context.Background(), strings.NewReader(upstream), "resp_bridge_test", sink)
	require.NoError(t, err)

	last := sink.events[len(sink.events)-1]
	require.Equal(t, "response.completed", last.name)
	usage := last.payload.(JSON)["response"].(JSON)["usage"].(JSON)
	assert.Equal(t, 1, usage["input_tokens"])
	assert.Equal(t, 2, usage["output_tokens"])
	assert.Equal(t, 3, usage["total_tokens"])
}

type writeRecorder struct {
	strings.Builder
}

func (w *writeRecorder) flush() error { return nil }

func TestStreamResponsesPassthrough_ForwardsBytesUnchanged(t *testing.T) {
	upstream := "event: response.created\ndata: {\"response\":{\"id\":\"x\"}}\n\n"
	var out writeRecorder
	err := StreamResponsesPassthrough(context.Background(), strings.NewReader(upstream), "resp_bridge_test", &out, out.flush)
	require.NoError(t, err)
	assert.Equal(t, upstream, out.String())
}

type erroringReader struct{}

func (erroringReader) Read([]byte) (int, error) { return 0, assertErr }

var assertErr = errTest("boom")

type errTest string

func (e errTest) Error() string { return string(e) }

func TestStreamResponsesPassthrough_MidStreamError(t *testing.T) {
	var out writeRecorder
	_ = StreamResponsesPassthrough(context.Background(), erroringReader{}, "resp_bridge_test", &out, out.flush)
	assert.Contains(t, out.String(), "response.failed")
	assert.Contains(t, out.String(), "boom")
}
