package protocol

import "bytes"

var crlfBytes = []byte(CRLF)

// LineQueue reassembles a raw byte stream into complete protocol lines.
// Bytes may arrive split at arbitrary positions, including in the middle of
// the CRLF terminator; a partial frame is retained verbatim until the rest
// of it shows up. Not safe for concurrent use: one queue belongs to exactly
// one connection's receive loop.
type LineQueue struct {
	partial bytes.Buffer
	lines   []string
}

func NewLineQueue() *LineQueue {
	return &LineQueue{}
}

// Enqueue appends received bytes and splits off every complete line.
// Multiple lines delivered in one call all become dequeueable, in order.
func (q *LineQueue) Enqueue(p []byte) {
	q.partial.Write(p)
	for {
		buf := q.partial.Bytes()
		i := bytes.Index(buf, crlfBytes)
		if i < 0 {
			return
		}
		q.lines = append(q.lines, string(buf[:i]))
		q.partial.Next(i + len(crlfBytes))
	}
}

// Dequeue pops and decodes the next complete line, or returns nil when no
// full line is buffered. An empty or garbage line decodes to Unknown.
func (q *LineQueue) Dequeue() Message {
	if len(q.lines) == 0 {
		return nil
	}
	line := q.lines[0]
	q.lines = q.lines[1:]
	return DecodeText(line)
}

// Pending reports how many complete lines are waiting to be dequeued.
func (q *LineQueue) Pending() int {
	return len(q.lines)
}
