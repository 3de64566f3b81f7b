package bridge

import "strings"

// SSEParser turns arbitrary chunk boundaries of a server-sent-event stream
// into a sequence of completed event payloads. It holds an unbounded text
// buffer for a partial line plus the data: lines pending for the event
// currently being assembled.
//
// Feed is concatenative: feeding a byte sequence split across any number of
// calls yields the same events as feeding it in one call. The parser never
// fails; malformed input simply yields no events.
type SSEParser struct {
	buffer           strings.Builder
	currentDataLines []string
}

// Feed appends chunk to the internal buffer and returns every event payload
// that chunk completed.
func (p *SSEParser) Feed(chunk string) []string {
	p.buffer.WriteString(chunk)
	buf := p.buffer.String()
	p.buffer.Reset()

	var events []string
	for {
		idx := strings.IndexByte(buf, '\n')
		if idx < 0 {
			break
		}
		line := buf[:idx]
		buf = buf[idx+1:]

		line = strings.TrimSuffix(line, "\r")

		if line == "" {
			if len(p.currentDataLines) > 0 {
				events = append(events, strings.Join(p.currentDataLines, "\n"))
				p.currentDataLines = nil
			}
			continue
		}

		if rest, ok := strings.CutPrefix(line, "data:"); ok {
			data := strings.TrimPrefix(rest, " ")
			p.currentDataLines = append(p.currentDataLines, data)
		}
		// Any other non-empty line (event name, id, retry, comment) is ignored.
	}

	p.buffer.WriteString(buf)
	return events
}

// Finish returns the pending data: payload, if any, at end of stream,
// including a final data: line that arrived without a trailing newline. It
// does not clear the buffer — callers invoke it once the upstream body is
// exhausted.
func (p *SSEParser) Finish() (string, bool) {
	pending := append([]string(nil), p.currentDataLines...)
	if rest, ok := strings.CutPrefix(strings.TrimSuffix(p.buffer.String(), "\r"), "data:"); ok {
		pending = append(pending, strings.TrimPrefix(rest, " "))
	}
	if len(pending) == 0 {
		return "", false
	}
	return strings.Join(pending, "\n"), true
}
