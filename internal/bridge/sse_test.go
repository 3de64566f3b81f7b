package bridge

import (
	"math/rand"
	"testing"
)

func TestSSEParser_Feed_SimpleEvent(t *testing.T) {
	p := &SSEParser{}
	events := p.Feed("data: hello\n\n")
	if len(events) != 1 || events[0] != "hello" {
		t.Fatalf("events = %v, want [hello]", events)
	}
}

func TestSSEParser_Feed_MultiLineData(t *testing.T) {
	p := &SSEParser{}
	events := p.Feed("data: line1\ndata: line2\n\n")
	if len(events) != 1 || events[0] != "line1\nline2" {
		t.Fatalf("events = %v, want [line1\\nline2]", events)
	}
}

func TestSSEParser_Feed_IgnoresOtherLines(t *testing.T) {
	p := &SSEParser{}
	events := p.Feed("event: foo\nid: 1\nretry: 100\ndata: payload\n\n")
	if len(events) != 1 || events[0] != "payload" {
		t.Fatalf("events = %v, want [payload]", events)
	}
}

func TestSSEParser_Feed_NoPendingDataOnBlankLine(t *testing.T) {
	p := &SSEParser{}
	events := p.Feed("\n\n\n")
	if len(events) != 0 {
		t.Fatalf("events = %v, want none", events)
	}
}

func TestSSEParser_Finish_ReturnsPendingData(t *testing.T) {
	p := &SSEParser{}
	p.Feed("data: trailing")
	data, ok := p.Finish()
	if !ok || data != "trailing" {
		t.Fatalf("Finish() = (%q, %v), want (trailing, true)", data, ok)
	}
}

func TestSSEParser_Finish_NoneWhenEmpty(t *testing.T) {
	p := &SSEParser{}
	if _, ok := p.Finish(); ok {
		t.Fatal("Finish() should report no pending payload")
	}
}

func TestSSEParser_CRLF(t *testing.T) {
	p := &SSEParser{}
	events := p.Feed("data: hi\r\n\r\n")
	if len(events) != 1 || events[0] != "hi" {
		t.Fatalf("events = %v, want [hi]", events)
	}
}

// TestSSEParser_Concatenativity verifies spec.md's concatenativity
// invariant: feeding a byte sequence split across any number of chunks
// yields the same events as feeding it in one call.
func TestSSEParser_Concatenativity(t *testing.T) {
	whole := "event: response.created\ndata: {\"a\":1}\n\ndata: part1\ndata: part2\n\ndata: [DONE]\n\n"

	full := (&SSEParser{}).Feed(whole)

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 20; trial++ {
		p := &SSEParser{}
		var got []string
		pos := 0
		for pos < len(whole) {
			remaining := len(whole) - pos
			n := 1 + rng.Intn(remaining)
			got = append(got, p.Feed(whole[pos:pos+n])...)
			pos += n
		}
		if !equalStrings(got, full) {
			t.Fatalf("trial %d: split-feed events = %v, want %v", trial, got, full)
		}
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
